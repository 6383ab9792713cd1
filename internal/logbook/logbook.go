// Package logbook keeps the session journal: a plain text file that
// records, for people rather than log shippers, what each run did. Every
// line carries a UTC timestamp and a bracketed mark such as [note].
package logbook

import (
	"bufio"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"
)

// Mark tags a journal line.
type Mark string

const (
	// Note records progress: phases, completions and banners.
	Note Mark = "note"
	// Flag records something a participant got wrong that the run absorbed.
	Flag Mark = "flag"
	// Fail records a run that stopped.
	Fail Mark = "fail"
)

// Logbook appends journal lines to one file. A nil *Logbook discards
// everything, so callers can keep it optional.
type Logbook struct {
	path  string
	clock func() time.Time
	mu    sync.Mutex
}

// Option customises a Logbook.
type Option func(*Logbook)

// WithClock overrides the timestamp source.
func WithClock(clock func() time.Time) Option {
	return func(l *Logbook) {
		if clock != nil {
			l.clock = clock
		}
	}
}

// New opens a journal at path, creating its directory.
func New(path string, opts ...Option) (*Logbook, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("logbook: %w", err)
	}
	l := &Logbook{path: path, clock: time.Now}
	for _, opt := range opts {
		opt(l)
	}
	return l, nil
}

func (l *Logbook) Path() string {
	if l == nil {
		return ""
	}
	return l.path
}

// Write appends one line. Write failures are dropped: the journal never
// fails a session.
func (l *Logbook) Write(mark Mark, message string) {
	if l == nil {
		return
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	line := fmt.Sprintf("%s [%s] %s\n",
		l.clock().UTC().Format(time.RFC3339),
		mark,
		strings.TrimSpace(message),
	)
	file, err := os.OpenFile(l.path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return
	}
	defer file.Close()
	_, _ = file.WriteString(line)
}

// Tail returns the last n lines and how many lines the journal holds.
func (l *Logbook) Tail(n int) ([]string, int) {
	if l == nil || n <= 0 {
		return nil, 0
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	file, err := os.Open(l.path)
	if err != nil {
		return nil, 0
	}
	defer file.Close()

	ring := make([]string, 0, n)
	total := 0
	scanner := bufio.NewScanner(file)
	for scanner.Scan() {
		total++
		if len(ring) == n {
			ring = ring[1:]
		}
		ring = append(ring, scanner.Text())
	}
	if len(ring) == 0 {
		return nil, total
	}
	return ring, total
}

// Section opens a new block in the journal, one per session run.
func (l *Logbook) Section(format string, args ...any) {
	l.Write(Note, "## "+fmt.Sprintf(format, args...))
}

func (l *Logbook) Info(format string, args ...any) {
	l.Write(Note, fmt.Sprintf(format, args...))
}

func (l *Logbook) Warn(format string, args ...any) {
	l.Write(Flag, fmt.Sprintf(format, args...))
}

func (l *Logbook) Error(format string, args ...any) {
	l.Write(Fail, fmt.Sprintf(format, args...))
}
