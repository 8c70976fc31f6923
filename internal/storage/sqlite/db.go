// Package sqlite implements storage.Store on a local SQLite file.
package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	_ "modernc.org/sqlite" // SQLite driver

	"github.com/ducminhle1904/ema-crossover-bot/internal/storage"
)

const timeLayout = "2006-01-02 15:04:05.000000"

// Store wraps the SQL handle for one unit of work.
type Store struct {
	db *sql.DB
}

var _ storage.Store = (*Store)(nil)

// New opens (and creates if needed) the SQLite database at path.
func New(path string) (*Store, error) {
	if path == "" {
		return nil, errors.New("database path is empty")
	}
	if path != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			return nil, fmt.Errorf("create db directory: %w", err)
		}
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	db.SetMaxOpenConns(1)
	db.SetConnMaxLifetime(time.Hour)

	return &Store{db: db}, nil
}

// DB exposes the raw handle for migrations and tests.
func (s *Store) DB() *sql.DB {
	return s.db
}

// Close releases the underlying DB handle.
func (s *Store) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

// Opener opens a fresh Store per unit of work. Migrations run on first use.
type Opener struct {
	path string

	once       sync.Once
	migrateErr error
}

// NewOpener returns an Opener for the database file at path.
func NewOpener(path string) *Opener {
	return &Opener{path: path}
}

// Path returns the database file path.
func (o *Opener) Path() string {
	return o.path
}

// Open implements storage.Opener.
func (o *Opener) Open(ctx context.Context) (storage.Store, error) {
	st, err := New(o.path)
	if err != nil {
		return nil, err
	}
	if err := st.db.PingContext(ctx); err != nil {
		st.Close()
		return nil, fmt.Errorf("ping sqlite: %w", err)
	}

	o.once.Do(func() {
		o.migrateErr = ApplyMigrations(ctx, st.db)
	})
	if o.migrateErr != nil {
		st.Close()
		return nil, o.migrateErr
	}
	return st, nil
}

func formatTime(t time.Time) string {
	if t.IsZero() {
		t = time.Now()
	}
	return t.UTC().Format(timeLayout)
}

func parseTime(s string) (time.Time, error) {
	for _, layout := range []string{timeLayout, "2006-01-02 15:04:05", time.RFC3339Nano} {
		if t, err := time.Parse(layout, s); err == nil {
			return t, nil
		}
	}
	return time.Time{}, fmt.Errorf("unrecognized timestamp %q", s)
}

func parseNullTime(ns sql.NullString) (*time.Time, error) {
	if !ns.Valid || ns.String == "" {
		return nil, nil
	}
	t, err := parseTime(ns.String)
	if err != nil {
		return nil, err
	}
	return &t, nil
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}

func nullInt(v int64) sql.NullInt64 {
	return sql.NullInt64{Int64: v, Valid: v != 0}
}

func boolInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
