package main

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"time"

	"go.opentelemetry.io/otel"
	"go.uber.org/zap"

	"github.com/kingrea/deliberate/internal/config"
	"github.com/kingrea/deliberate/internal/eventbridge"
	"github.com/kingrea/deliberate/internal/logbook"
	"github.com/kingrea/deliberate/internal/logging"
	"github.com/kingrea/deliberate/internal/metrics"
	"github.com/kingrea/deliberate/internal/participant"
	"github.com/kingrea/deliberate/internal/prompts"
	"github.com/kingrea/deliberate/internal/session"
	"github.com/kingrea/deliberate/internal/store"
	"github.com/kingrea/deliberate/internal/voting"
)

const tracerName = "github.com/kingrea/deliberate"

type runtimeOptions struct {
	// console mirrors log lines to a terminal. Left nil while the TUI owns
	// the screen.
	console io.Writer
}

// runtime bundles everything a command needs from the project directory.
type runtime struct {
	cfg     *config.Config
	logger  *logging.Logger
	journal *logbook.Logbook
	metrics *metrics.Metrics
	store   store.Store
	prompts *prompts.Catalogue
}

func openRuntime(dir string, opts runtimeOptions) (*runtime, error) {
	if err := config.InitProjectDir(dir); err != nil {
		return nil, err
	}
	cfg, err := config.NewConfig(dir)
	if err != nil {
		return nil, err
	}
	logger, err := logging.New(logging.Options{
		Path:    cfg.LogPath(),
		Level:   cfg.Project.LogLevel,
		Console: opts.console,
	})
	if err != nil {
		return nil, err
	}
	journal, err := logbook.New(cfg.JournalPath())
	if err != nil {
		logger.Close()
		return nil, err
	}
	cat, err := prompts.Load(cfg.PromptsPath())
	if err != nil {
		logger.Close()
		return nil, err
	}
	st, err := openStore(cfg)
	if err != nil {
		logger.Close()
		return nil, err
	}
	return &runtime{
		cfg:     cfg,
		logger:  logger,
		journal: journal,
		metrics: metrics.New(),
		store:   st,
		prompts: cat,
	}, nil
}

func openStore(cfg *config.Config) (store.Store, error) {
	switch cfg.Project.Store {
	case config.StoreSQLite:
		return store.OpenSQLite(context.Background(), cfg.DatabasePath())
	default:
		return store.NewFileStore(cfg.ResultsDir())
	}
}

func (rt *runtime) Close() {
	if err := rt.store.Close(); err != nil {
		rt.logger.Warn("close store", zap.Error(err))
	}
	_ = rt.logger.Close()
}

// builder wires registries and session options. emitter may be nil.
func (rt *runtime) builder(emitter *eventbridge.Emitter, dryRun bool) session.Builder {
	return session.Builder{
		Methods:      voting.Builtins(rt.prompts),
		Participants: participant.Builtins(),
		Validators:   session.NewValidatorRegistry(),
		Deps: participant.Deps{
			Prompts:    rt.prompts,
			Logger:     rt.logger.Logger,
			Metrics:    rt.metrics,
			OpenAI:     rt.cfg.Project.OpenAI,
			HTTPClient: &http.Client{Timeout: 2 * time.Minute},
		},
		Options: []session.Option{
			session.WithLogger(rt.logger.Logger),
			session.WithMetrics(rt.metrics),
			session.WithStore(rt.store),
			session.WithEmitter(emitter),
			session.WithJournal(rt.journal),
			session.WithTracer(otel.Tracer(tracerName)),
		},
		DryRun: dryRun,
	}
}

// loadProcess validates path and applies project-level defaults.
func (rt *runtime) loadProcess(path string) (*config.ProcessConfig, error) {
	proc, err := config.LoadProcess(path)
	if err != nil {
		return nil, err
	}
	proc.Inherit(rt.cfg.Project)
	return proc, nil
}

func fprintf(w io.Writer, format string, args ...any) {
	_, _ = fmt.Fprintf(w, format, args...)
}
