// internal/config/config.go
//
// Project settings and the .deliberate directory layout. Values come from
// .deliberate/config.yaml and are then overridden by environment variables.

package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/caarlos0/env/v11"
	"gopkg.in/yaml.v3"
)

const (
	// ProjectDirName is the directory created in each project root.
	ProjectDirName = ".deliberate"

	StoreJSON   = "json"
	StoreSQLite = "sqlite"

	defaultMaxConcurrent = 10
	defaultMaxAttempts   = 3
	defaultBridgeAddr    = "127.0.0.1:8765"
	defaultModel         = "gpt-4o-mini"
)

const defaultProjectConfigYAML = `# deliberate project configuration
version: 1

# Where finished rounds are written: json (one file per session) or sqlite.
store: json

# Upper bound on concurrent participant requests within a session.
max_concurrent: 10

# Replies a participant may give before a request is abandoned.
max_attempts: 3

log_level: info

# Optional prompt overrides layered over the built-in catalogue.
# prompts: prompts.yaml

bridge:
  addr: 127.0.0.1:8765

openai:
  model: gpt-4o-mini
  # base_url: https://api.openai.com/v1
`

// BridgeConfig controls the HTTP results bridge.
type BridgeConfig struct {
	Addr string `yaml:"addr" env:"DELIBERATE_BRIDGE_ADDR"`
}

// OpenAIConfig holds credentials for LLM participants. The key is only
// read from the environment.
type OpenAIConfig struct {
	APIKey  string `yaml:"-" env:"OPENAI_API_KEY"`
	BaseURL string `yaml:"base_url,omitempty" env:"OPENAI_BASE_URL"`
	Model   string `yaml:"model,omitempty" env:"DELIBERATE_MODEL"`
}

// ProjectConfig models .deliberate/config.yaml.
type ProjectConfig struct {
	Version       int          `yaml:"version"`
	Store         string       `yaml:"store" env:"DELIBERATE_STORE"`
	ResultsDir    string       `yaml:"results_dir,omitempty" env:"DELIBERATE_RESULTS_DIR"`
	MaxConcurrent int          `yaml:"max_concurrent" env:"DELIBERATE_MAX_CONCURRENT"`
	MaxAttempts   int          `yaml:"max_attempts" env:"DELIBERATE_MAX_ATTEMPTS"`
	LogLevel      string       `yaml:"log_level" env:"DELIBERATE_LOG_LEVEL"`
	Prompts       string       `yaml:"prompts,omitempty"`
	Bridge        BridgeConfig `yaml:"bridge"`
	OpenAI        OpenAIConfig `yaml:"openai"`
}

// Config holds the runtime configuration for one project.
type Config struct {
	// ProjectDir is the directory deliberate was started from.
	ProjectDir string
	// Root is ProjectDir/.deliberate.
	Root    string
	Project ProjectConfig
}

// InitProjectDir creates the .deliberate layout and a starter config.
//
// .deliberate/
// ├── config.yaml
// ├── logs/     <- deliberate.log and journal.log
// ├── results/  <- Session_*_results.json
// └── state/    <- results.db when store is sqlite
func InitProjectDir(projectDir string) error {
	root := filepath.Join(projectDir, ProjectDirName)
	for _, dir := range []string{
		filepath.Join(root, "logs"),
		filepath.Join(root, "results"),
		filepath.Join(root, "state"),
	} {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("config: ensure %s: %w", dir, err)
		}
	}
	return ensureProjectConfig(filepath.Join(root, "config.yaml"))
}

// NewConfig loads project settings and applies environment overrides.
func NewConfig(projectDir string) (*Config, error) {
	return load(projectDir, env.Options{})
}

func load(projectDir string, opts env.Options) (*Config, error) {
	abs, err := filepath.Abs(projectDir)
	if err != nil {
		return nil, fmt.Errorf("config: resolve %s: %w", projectDir, err)
	}
	cfg := &Config{
		ProjectDir: abs,
		Root:       filepath.Join(abs, ProjectDirName),
		Project:    defaultProjectConfig(),
	}
	if err := cfg.loadProjectConfig(); err != nil {
		return nil, err
	}
	if err := env.ParseWithOptions(&cfg.Project, opts); err != nil {
		return nil, &ConfigurationError{Path: "environment", Err: err}
	}
	cfg.Project.applyDefaults()
	cfg.Project.normalize(abs)
	if err := cfg.Project.validate(); err != nil {
		return nil, &ConfigurationError{Path: cfg.ProjectConfigPath(), Err: err}
	}
	return cfg, nil
}

// LogsDir returns the directory for log files.
func (c *Config) LogsDir() string { return filepath.Join(c.Root, "logs") }

// StateDir returns the directory for local databases.
func (c *Config) StateDir() string { return filepath.Join(c.Root, "state") }

// ResultsDir returns where JSON snapshots are written.
func (c *Config) ResultsDir() string {
	if c.Project.ResultsDir != "" {
		return c.Project.ResultsDir
	}
	return filepath.Join(c.Root, "results")
}

// LogPath is the structured log file.
func (c *Config) LogPath() string { return filepath.Join(c.LogsDir(), "deliberate.log") }

// JournalPath is the human-readable round journal.
func (c *Config) JournalPath() string { return filepath.Join(c.LogsDir(), "journal.log") }

// DatabasePath is the SQLite results database.
func (c *Config) DatabasePath() string { return filepath.Join(c.StateDir(), "results.db") }

// ProjectConfigPath returns the on-disk location for the project config file.
func (c *Config) ProjectConfigPath() string { return filepath.Join(c.Root, "config.yaml") }

// PromptsPath returns the prompt override file, or "" when unset.
func (c *Config) PromptsPath() string { return c.Project.Prompts }

func (c *Config) loadProjectConfig() error {
	path := c.ProjectConfigPath()
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil
		}
		return fmt.Errorf("config: read %s: %w", path, err)
	}
	parsed := defaultProjectConfig()
	if err := yaml.Unmarshal(data, &parsed); err != nil {
		return &ConfigurationError{Path: path, Err: err}
	}
	c.Project = parsed
	return nil
}

func defaultProjectConfig() ProjectConfig {
	return ProjectConfig{
		Version:       1,
		Store:         StoreJSON,
		MaxConcurrent: defaultMaxConcurrent,
		MaxAttempts:   defaultMaxAttempts,
		LogLevel:      "info",
		Bridge:        BridgeConfig{Addr: defaultBridgeAddr},
		OpenAI:        OpenAIConfig{Model: defaultModel},
	}
}

func (pc *ProjectConfig) applyDefaults() {
	if pc.Version == 0 {
		pc.Version = 1
	}
	if pc.MaxConcurrent == 0 {
		pc.MaxConcurrent = defaultMaxConcurrent
	}
	if pc.MaxAttempts == 0 {
		pc.MaxAttempts = defaultMaxAttempts
	}
	if strings.TrimSpace(pc.Bridge.Addr) == "" {
		pc.Bridge.Addr = defaultBridgeAddr
	}
	if strings.TrimSpace(pc.OpenAI.Model) == "" {
		pc.OpenAI.Model = defaultModel
	}
}

func (pc *ProjectConfig) normalize(base string) {
	pc.Store = strings.ToLower(strings.TrimSpace(pc.Store))
	if pc.Store == "" {
		pc.Store = StoreJSON
	}
	pc.LogLevel = strings.ToLower(strings.TrimSpace(pc.LogLevel))
	pc.ResultsDir = resolvePath(base, pc.ResultsDir)
	pc.Prompts = resolvePath(filepath.Join(base, ProjectDirName), pc.Prompts)
}

func (pc *ProjectConfig) validate() error {
	if pc.Version < 1 {
		return fmt.Errorf("version must be >= 1")
	}
	switch pc.Store {
	case StoreJSON, StoreSQLite:
	default:
		return fmt.Errorf("store must be %q or %q", StoreJSON, StoreSQLite)
	}
	if pc.MaxConcurrent < 1 {
		return fmt.Errorf("max_concurrent must be >= 1")
	}
	if pc.MaxAttempts < 1 {
		return fmt.Errorf("max_attempts must be >= 1")
	}
	switch pc.LogLevel {
	case "", "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("log_level %q is not one of debug, info, warn, error", pc.LogLevel)
	}
	return nil
}

func ensureProjectConfig(path string) error {
	if _, err := os.Stat(path); err == nil {
		return nil
	} else if !errors.Is(err, fs.ErrNotExist) {
		return err
	}
	return os.WriteFile(path, []byte(defaultProjectConfigYAML), 0o644)
}

func resolvePath(base, candidate string) string {
	trimmed := strings.TrimSpace(candidate)
	if trimmed == "" {
		return ""
	}
	if filepath.IsAbs(trimmed) {
		return filepath.Clean(trimmed)
	}
	return filepath.Clean(filepath.Join(base, trimmed))
}
