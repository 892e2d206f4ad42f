// Package testutil provides shared test helpers for setting up data roots
// and index databases.
package testutil

import (
	"io"
	"log/slog"
	"os"
	"testing"
	"time"

	"github.com/starford/krecord/internal/index"
	"github.com/starford/krecord/internal/store"
)

// Logger returns a logger that discards everything.
func Logger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// Clock returns a clock starting at start that advances one millisecond
// per call, so generated ids never collide.
func Clock(start time.Time) func() time.Time {
	ms := start.UnixMilli()
	return func() time.Time {
		ms++
		return time.UnixMilli(ms).UTC()
	}
}

// TestDB creates a temporary SQLite database that is automatically cleaned up.
func TestDB(t *testing.T) *index.DB {
	t.Helper()
	dbFile, err := os.CreateTemp("", "krecord-test-*.db")
	if err != nil {
		t.Fatal(err)
	}
	dbFile.Close()
	t.Cleanup(func() { os.Remove(dbFile.Name()) })

	db, err := index.Open(dbFile.Name())
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { db.Close() })
	return db
}

// TestStore opens a store over a fresh temp root with a quiet logger and
// a clock starting at 2024-06-01 UTC. Extra options are applied last.
func TestStore(t *testing.T, opts ...store.Option) *store.Store {
	t.Helper()
	base := []store.Option{
		store.WithLogger(Logger()),
		store.WithClock(Clock(time.Date(2024, 6, 1, 0, 0, 0, 0, time.UTC))),
	}
	st, err := store.Open(t.TempDir(), append(base, opts...)...)
	if err != nil {
		t.Fatal(err)
	}
	return st
}

// WriteFile writes a root-relative file into st, failing the test on error.
func WriteFile(t *testing.T, st *store.Store, rel, content string) {
	t.Helper()
	if err := st.FS().Write(rel, []byte(content)); err != nil {
		t.Fatalf("write %s: %v", rel, err)
	}
}
