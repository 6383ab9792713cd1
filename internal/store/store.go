package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strings"
	"time"
)

// ErrNotFound reports that no stored results match the request.
var ErrNotFound = errors.New("store: results not found")

// Record is one persisted results snapshot.
type Record struct {
	SessionID string
	Name      string
	CreatedAt time.Time
	// Location is where the record lives: a file path or a database ref.
	Location string
	Body     []byte
}

// Store persists results snapshots.
type Store interface {
	Save(ctx context.Context, rec Record) (Record, error)
	Load(ctx context.Context, sessionID string) (Record, error)
	// List returns record metadata, newest first. Bodies are not loaded.
	List(ctx context.Context) ([]Record, error)
	Close() error
}

// Latest returns the newest record in s.
func Latest(ctx context.Context, s Store) (Record, error) {
	records, err := s.List(ctx)
	if err != nil {
		return Record{}, err
	}
	if len(records) == 0 {
		return Record{}, ErrNotFound
	}
	return s.Load(ctx, records[0].SessionID)
}

// FileStore writes one JSON document per session into a directory.
type FileStore struct {
	dir string
	now func() time.Time
}

// FileOption customises a FileStore.
type FileOption func(*FileStore)

// WithClock overrides the clock used for CreatedAt.
func WithClock(clock func() time.Time) FileOption {
	return func(s *FileStore) {
		if clock != nil {
			s.now = clock
		}
	}
}

// NewFileStore creates dir if needed.
func NewFileStore(dir string, opts ...FileOption) (*FileStore, error) {
	if strings.TrimSpace(dir) == "" {
		return nil, fmt.Errorf("store: results directory is required")
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("store: ensure %s: %w", dir, err)
	}
	s := &FileStore{dir: dir, now: time.Now}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

// Dir returns the directory backing the store.
func (s *FileStore) Dir() string { return s.dir }

var unsafeChars = regexp.MustCompile(`[^A-Za-z0-9-]+`)

// FileName returns the results file name for a session.
func FileName(name, sessionID string) string {
	slug := strings.Trim(unsafeChars.ReplaceAllString(name, "-"), "-")
	if slug == "" {
		slug = "session"
	}
	return fmt.Sprintf("Session_%s_%s_results.json", slug, sessionID)
}

// Save writes rec atomically: the body lands in a temp file that is
// renamed into place.
func (s *FileStore) Save(ctx context.Context, rec Record) (Record, error) {
	if err := ctx.Err(); err != nil {
		return Record{}, err
	}
	if rec.SessionID == "" {
		return Record{}, fmt.Errorf("store: session id is required")
	}
	if !json.Valid(rec.Body) {
		return Record{}, fmt.Errorf("store: session %s body is not valid json", rec.SessionID)
	}
	if rec.CreatedAt.IsZero() {
		rec.CreatedAt = s.now()
	}
	path := filepath.Join(s.dir, FileName(rec.Name, rec.SessionID))
	tmp, err := os.CreateTemp(s.dir, ".results-*.tmp")
	if err != nil {
		return Record{}, fmt.Errorf("store: create temp file: %w", err)
	}
	defer os.Remove(tmp.Name())
	if _, err := tmp.Write(rec.Body); err != nil {
		tmp.Close()
		return Record{}, fmt.Errorf("store: write %s: %w", path, err)
	}
	if err := tmp.Close(); err != nil {
		return Record{}, fmt.Errorf("store: write %s: %w", path, err)
	}
	if err := os.Rename(tmp.Name(), path); err != nil {
		return Record{}, fmt.Errorf("store: move into place %s: %w", path, err)
	}
	_ = os.Chtimes(path, rec.CreatedAt, rec.CreatedAt)
	rec.Location = path
	return rec, nil
}

func (s *FileStore) Load(ctx context.Context, sessionID string) (Record, error) {
	if err := ctx.Err(); err != nil {
		return Record{}, err
	}
	matches, err := filepath.Glob(filepath.Join(s.dir, "Session_*_"+sessionID+"_results.json"))
	if err != nil {
		return Record{}, fmt.Errorf("store: search %s: %w", sessionID, err)
	}
	if len(matches) == 0 {
		return Record{}, fmt.Errorf("%w: %s", ErrNotFound, sessionID)
	}
	return ReadFile(matches[0])
}

func (s *FileStore) List(ctx context.Context) ([]Record, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	matches, err := filepath.Glob(filepath.Join(s.dir, "Session_*_results.json"))
	if err != nil {
		return nil, fmt.Errorf("store: list %s: %w", s.dir, err)
	}
	records := make([]Record, 0, len(matches))
	for _, path := range matches {
		rec, err := ReadFile(path)
		if err != nil {
			continue
		}
		rec.Body = nil
		records = append(records, rec)
	}
	sortNewestFirst(records)
	return records, nil
}

func (s *FileStore) Close() error { return nil }

type header struct {
	Session struct {
		ID   string `json:"id"`
		Name string `json:"name"`
	} `json:"session"`
}

// ReadFile loads a results document from any path.
func ReadFile(path string) (Record, error) {
	info, err := os.Stat(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return Record{}, fmt.Errorf("%w: %s", ErrNotFound, path)
		}
		return Record{}, fmt.Errorf("store: stat %s: %w", path, err)
	}
	body, err := os.ReadFile(path)
	if err != nil {
		return Record{}, fmt.Errorf("store: read %s: %w", path, err)
	}
	var h header
	if err := json.Unmarshal(body, &h); err != nil {
		return Record{}, fmt.Errorf("store: decode %s: %w", path, err)
	}
	return Record{
		SessionID: h.Session.ID,
		Name:      h.Session.Name,
		CreatedAt: info.ModTime(),
		Location:  filepath.Clean(path),
		Body:      body,
	}, nil
}

func sortNewestFirst(records []Record) {
	sort.SliceStable(records, func(i, j int) bool {
		return records[i].CreatedAt.After(records[j].CreatedAt)
	})
}
