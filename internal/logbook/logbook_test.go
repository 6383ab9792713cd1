package logbook

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func TestTailReturnsRecentLinesAndTotal(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "journey.log")
	book, err := New(path)
	if err != nil {
		t.Fatalf("new logbook: %v", err)
	}
	for i := 0; i < 5; i++ {
		book.Info("entry-%d", i)
	}
	lines, total := book.Tail(3)
	if total != 5 {
		t.Fatalf("total lines = %d, want 5", total)
	}
	if len(lines) != 3 {
		t.Fatalf("len(lines) = %d, want 3", len(lines))
	}
	for idx, want := range []string{"entry-2", "entry-3", "entry-4"} {
		if !strings.Contains(lines[idx], want) {
			t.Fatalf("line %d = %q, missing %s", idx, lines[idx], want)
		}
	}
}

func TestSectionAndMarks(t *testing.T) {
	book, err := New(filepath.Join(t.TempDir(), "logs", "journal.log"))
	if err != nil {
		t.Fatalf("new logbook: %v", err)
	}
	book.Section("session %s", "openings")
	book.Warn("vote rejected for %s", "p2")
	book.Error("participant %s failed", "p3")
	lines, total := book.Tail(10)
	if total != 3 || len(lines) != 3 {
		t.Fatalf("expected 3 entries, got %d/%d", len(lines), total)
	}
	if !strings.Contains(lines[0], "[note] ## session openings") {
		t.Fatalf("section banner missing: %q", lines[0])
	}
	if !strings.Contains(lines[1], "[flag] vote rejected for p2") || !strings.Contains(lines[2], "[fail] participant p3 failed") {
		t.Fatalf("levels not recorded: %v", lines)
	}
}

func TestNilLogbookIsSafe(t *testing.T) {
	var book *Logbook
	book.Info("ignored")
	if lines, total := book.Tail(5); lines != nil || total != 0 {
		t.Fatalf("nil logbook returned data")
	}
}

func TestWriteUsesClockAndMark(t *testing.T) {
	path := filepath.Join(t.TempDir(), "journal.log")
	at := time.Date(2026, 3, 1, 9, 30, 0, 0, time.FixedZone("AEDT", 11*60*60))
	book, err := New(path, WithClock(func() time.Time { return at }))
	if err != nil {
		t.Fatalf("new logbook: %v", err)
	}
	book.Write(Flag, "  padded  ")
	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read journal: %v", err)
	}
	if got, want := string(data), "2026-02-28T22:30:00Z [flag] padded\n"; got != want {
		t.Fatalf("journal = %q, want %q", got, want)
	}
}
