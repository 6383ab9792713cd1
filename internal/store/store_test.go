package store

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func body(id, name string) []byte {
	return []byte(`{"session":{"id":"` + id + `","name":"` + name + `"},"topics":[],"participants":[]}`)
}

func exercise(t *testing.T, s Store) {
	t.Helper()
	ctx := context.Background()
	base := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)

	first, err := s.Save(ctx, Record{SessionID: "aaa", Name: "Opening round", CreatedAt: base, Body: body("aaa", "Opening round")})
	require.NoError(t, err)
	require.NotEmpty(t, first.Location)
	_, err = s.Save(ctx, Record{SessionID: "bbb", Name: "Final", CreatedAt: base.Add(time.Hour), Body: body("bbb", "Final")})
	require.NoError(t, err)

	loaded, err := s.Load(ctx, "aaa")
	require.NoError(t, err)
	require.Equal(t, "Opening round", loaded.Name)
	require.JSONEq(t, string(body("aaa", "Opening round")), string(loaded.Body))

	records, err := s.List(ctx)
	require.NoError(t, err)
	require.Len(t, records, 2)
	require.Equal(t, "bbb", records[0].SessionID)
	require.Nil(t, records[0].Body)

	latest, err := Latest(ctx, s)
	require.NoError(t, err)
	require.Equal(t, "bbb", latest.SessionID)

	_, err = s.Load(ctx, "zzz")
	require.ErrorIs(t, err, ErrNotFound)
}

func TestFileStore(t *testing.T) {
	dir := t.TempDir()
	s, err := NewFileStore(dir)
	require.NoError(t, err)
	exercise(t, s)

	_, err = os.Stat(filepath.Join(dir, "Session_Opening-round_aaa_results.json"))
	require.NoError(t, err)
}

func TestFileStoreRejectsInvalidBody(t *testing.T) {
	s, err := NewFileStore(t.TempDir())
	require.NoError(t, err)
	_, err = s.Save(context.Background(), Record{SessionID: "x", Body: []byte("{")})
	require.Error(t, err)
}

func TestSQLiteStore(t *testing.T) {
	s, err := OpenSQLite(context.Background(), filepath.Join(t.TempDir(), "state", "results.db"))
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	exercise(t, s)
}

func TestLatestOnEmptyStore(t *testing.T) {
	s, err := NewFileStore(t.TempDir())
	require.NoError(t, err)
	_, err = Latest(context.Background(), s)
	require.ErrorIs(t, err, ErrNotFound)
}

func TestFileName(t *testing.T) {
	require.Equal(t, "Session_chess-openings_id1_results.json", FileName("chess openings!", "id1"))
	require.Equal(t, "Session_session_id2_results.json", FileName("", "id2"))
}
