// Package migrate repairs the data root: it lifts pre-layout folders into
// the dated content tree once per store, and re-homes diary files and
// their assets whenever placement has drifted.
package migrate

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/starford/krecord/internal/layout"
	"github.com/starford/krecord/internal/relations"
	"github.com/starford/krecord/internal/storage"
)

// Legacy folder and file names under the data root.
const (
	LegacyDiaryDir      = "dailyReport"
	LegacyAssetDir      = "assets"
	LegacyRelations     = "relations.json"
	LegacyContentPost   = "content/post"
	LegacySheetMetaFile = "table/meta.json"
)

// State memoizes the once-per-store sweep.
type State struct {
	mu   sync.Mutex
	done bool
}

// Done reports whether the sweep has completed.
func (s *State) Done() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.done
}

// Reset forces the next Ensure to sweep again.
func (s *State) Reset() {
	s.mu.Lock()
	s.done = false
	s.mu.Unlock()
}

// Report counts what a sweep did.
type Report struct {
	Legacy    bool `json:"legacy"`
	Moved     int  `json:"moved"`
	Rewritten int  `json:"rewritten"`
	Skipped   int  `json:"skipped"`
	Pruned    int  `json:"pruned"`
	Repaired  int  `json:"repaired"` // asymmetric relation pairs fixed
}

func (r *Report) add(o Report) {
	r.Legacy = r.Legacy || o.Legacy
	r.Moved += o.Moved
	r.Rewritten += o.Rewritten
	r.Skipped += o.Skipped
	r.Pruned += o.Pruned
	r.Repaired += o.Repaired
}

// Normalizer runs the legacy migration and placement repair.
type Normalizer struct {
	fs        *storage.FS
	layout    layout.Layout
	resolver  layout.Resolver
	relations *relations.Index
	now       func() time.Time
	logger    *slog.Logger
}

// Option configures a Normalizer.
type Option func(*Normalizer)

// WithClock overrides time.Now.
func WithClock(now func() time.Time) Option { return func(n *Normalizer) { n.now = now } }

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option { return func(n *Normalizer) { n.logger = l } }

// New builds a Normalizer.
func New(fsys *storage.FS, l layout.Layout, rel *relations.Index, opts ...Option) *Normalizer {
	n := &Normalizer{
		fs:        fsys,
		layout:    l,
		relations: rel,
		now:       time.Now,
		logger:    slog.Default(),
	}
	for _, o := range opts {
		o(n)
	}
	n.resolver = layout.Resolver{Layout: l, FS: fsys, Now: n.now}
	return n
}

// Ensure runs the sweep once per State: the legacy migration when legacy
// markers exist, otherwise one placement pass. Base folders and files are
// created afterwards so legacy registries are not shadowed by empty ones.
func (n *Normalizer) Ensure(ctx context.Context, st *State) (Report, error) {
	st.mu.Lock()
	defer st.mu.Unlock()
	if st.done {
		return Report{}, nil
	}
	var (
		rep Report
		err error
	)
	if n.HasLegacy() {
		rep, err = n.MigrateLegacy(ctx)
	} else {
		rep, err = n.NormalizePlacement(ctx)
	}
	if err != nil {
		return rep, err
	}
	if err := n.ensureBase(); err != nil {
		return rep, err
	}
	repaired, err := n.RepairRelations()
	if err != nil {
		return rep, err
	}
	rep.Repaired = repaired
	st.done = true
	if rep != (Report{}) {
		n.logger.Info("data root normalized",
			slog.Bool("legacy", rep.Legacy),
			slog.Int("moved", rep.Moved),
			slog.Int("rewritten", rep.Rewritten),
			slog.Int("skipped", rep.Skipped),
			slog.Int("pruned", rep.Pruned),
			slog.Int("repaired", rep.Repaired),
		)
	}
	return rep, nil
}

func (n *Normalizer) ensureBase() error {
	for _, dir := range []string{n.layout.ContentDir, n.layout.TableDir, n.layout.RelationsDir} {
		if err := n.fs.MkdirAll(dir); err != nil {
			return err
		}
	}
	if err := n.relations.Ensure(); err != nil {
		return err
	}
	if !n.fs.Exists(n.layout.SheetMetaFile) {
		if err := n.fs.Write(n.layout.SheetMetaFile, []byte("[]\n")); err != nil {
			return err
		}
	}
	return nil
}

// RepairRelations rebuilds the diary side of the relations index when a
// hand edit left it asymmetric, and returns the number of broken pairs.
func (n *Normalizer) RepairRelations() (int, error) {
	m, err := n.relations.Load()
	if err != nil {
		return 0, err
	}
	violations := relations.Check(m)
	if len(violations) == 0 {
		return 0, nil
	}
	n.logger.Warn("relations index asymmetric, rebuilding from rows",
		slog.Int("violations", len(violations)),
		slog.String("first_row", violations[0].RowID),
		slog.String("first_diary", violations[0].DiaryID))
	if err := n.relations.Save(relations.Repair(m)); err != nil {
		return 0, err
	}
	return len(violations), nil
}
