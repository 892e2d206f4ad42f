// Package store wires one data root: its layout, file primitives, relations
// index, repositories and the once-per-store normalization sweep.
package store

import (
	"context"
	"fmt"
	"log/slog"
	"path/filepath"
	"time"

	"github.com/starford/krecord/internal/diary"
	"github.com/starford/krecord/internal/layout"
	"github.com/starford/krecord/internal/migrate"
	"github.com/starford/krecord/internal/relations"
	"github.com/starford/krecord/internal/sheet"
	"github.com/starford/krecord/internal/storage"
)

// RootSource persists which directory is the active data root.
type RootSource interface {
	ReadDataRoot() (string, error)
	WriteDataRoot(root string) error
}

// Store is the per-root context shared by every operation.
type Store struct {
	layout     layout.Layout
	fs         *storage.FS
	state      migrate.State
	relations  *relations.Index
	diaries    *diary.Repository
	sheets     *sheet.Repository
	normalizer *migrate.Normalizer
	logger     *slog.Logger
}

type options struct {
	logger  *slog.Logger
	now     func() time.Time
	locator diary.Locator
}

// Option configures Open.
type Option func(*options)

// WithLogger sets the logger handed to every component.
func WithLogger(l *slog.Logger) Option { return func(o *options) { o.logger = l } }

// WithClock overrides time.Now for ids, file names and defaults.
func WithClock(now func() time.Time) Option { return func(o *options) { o.now = now } }

// WithLocator installs an id→path hint source for diary lookups.
func WithLocator(l diary.Locator) Option { return func(o *options) { o.locator = l } }

// Open builds the store for root. The root must exist; nothing is migrated
// until the first operation or an explicit Prepare.
func Open(root string, opts ...Option) (*Store, error) {
	o := options{logger: slog.Default(), now: time.Now}
	for _, fn := range opts {
		fn(&o)
	}
	abs, err := filepath.Abs(root)
	if err != nil {
		return nil, fmt.Errorf("store: resolve root: %w", err)
	}
	fsys, err := storage.NewFS(abs)
	if err != nil {
		return nil, fmt.Errorf("store: open root: %w", err)
	}
	l := layout.New(abs)
	rel := relations.New(fsys, l.RelationsFile)

	s := &Store{
		layout:    l,
		fs:        fsys,
		relations: rel,
		logger:    o.logger,
	}
	s.normalizer = migrate.New(fsys, l, rel,
		migrate.WithClock(o.now),
		migrate.WithLogger(o.logger.With(slog.String("component", "migrate"))),
	)
	s.diaries = diary.NewRepository(fsys, l, rel,
		diary.WithClock(o.now),
		diary.WithPrepare(s.prepare),
		diary.WithLocator(o.locator),
		diary.WithLogger(o.logger.With(slog.String("component", "diary"))),
	)
	s.sheets = sheet.NewRepository(fsys, l, rel,
		sheet.WithClock(o.now),
		sheet.WithPrepare(s.prepare),
		sheet.WithLogger(o.logger.With(slog.String("component", "sheet"))),
	)
	return s, nil
}

func (s *Store) prepare(ctx context.Context) error {
	_, err := s.Prepare(ctx)
	return err
}

// Prepare runs the legacy migration or placement sweep once per store.
// Later calls return an empty report.
func (s *Store) Prepare(ctx context.Context) (migrate.Report, error) {
	rep, err := s.normalizer.Ensure(ctx, &s.state)
	if err != nil {
		return rep, fmt.Errorf("store: prepare: %w", err)
	}
	return rep, nil
}

// ResetMigration makes the next operation sweep the root again.
func (s *Store) ResetMigration() { s.state.Reset() }

// Sweep forces a full sweep now, regardless of earlier runs.
func (s *Store) Sweep(ctx context.Context) (migrate.Report, error) {
	s.ResetMigration()
	return s.Prepare(ctx)
}

// SetLocator swaps the diary id hint source, e.g. once the index is open.
func (s *Store) SetLocator(l diary.Locator) { s.diaries.SetLocator(l) }

// Root returns the absolute data root.
func (s *Store) Root() string { return s.layout.Root }

// Layout returns the on-disk layout.
func (s *Store) Layout() layout.Layout { return s.layout }

// FS returns the file primitives bound to the root.
func (s *Store) FS() *storage.FS { return s.fs }

// Diaries returns the diary repository.
func (s *Store) Diaries() *diary.Repository { return s.diaries }

// Sheets returns the sheet repository.
func (s *Store) Sheets() *sheet.Repository { return s.sheets }

// Relations returns the relations index.
func (s *Store) Relations() *relations.Index { return s.relations }

// Normalizer returns the migration normalizer.
func (s *Store) Normalizer() *migrate.Normalizer { return s.normalizer }

// Logger returns the store logger.
func (s *Store) Logger() *slog.Logger { return s.logger }

// OpenFromSource opens the root named by src.
func OpenFromSource(src RootSource, opts ...Option) (*Store, error) {
	root, err := src.ReadDataRoot()
	if err != nil {
		return nil, fmt.Errorf("store: read data root: %w", err)
	}
	return Open(root, opts...)
}
