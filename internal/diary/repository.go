// Package diary stores diary entries as markdown files with YAML
// frontmatter under content/<YYYY>/<YYYYMM>/<YYYYMMDD>/.
package diary

import (
	"context"
	"fmt"
	"log/slog"
	"path"
	"sort"
	"strconv"
	"strings"
	"time"

	validation "github.com/go-ozzo/ozzo-validation/v4"

	"github.com/starford/krecord/internal/apperr"
	"github.com/starford/krecord/internal/layout"
	"github.com/starford/krecord/internal/models"
	"github.com/starford/krecord/internal/parser"
	"github.com/starford/krecord/internal/relations"
	"github.com/starford/krecord/internal/storage"
)

// Locator is an optional id→path hint. Hints are verified before use, so a
// stale one only costs a rescan.
type Locator interface {
	Locate(id string) (string, bool)
	Invalidate(id string)
}

// Repository implements diary CRUD. Every call rereads from disk.
type Repository struct {
	fs        *storage.FS
	layout    layout.Layout
	resolver  layout.Resolver
	relations *relations.Index
	now       func() time.Time
	prepare   func(context.Context) error
	locator   Locator
	logger    *slog.Logger
}

// Option configures a Repository.
type Option func(*Repository)

// WithClock overrides time.Now.
func WithClock(now func() time.Time) Option { return func(r *Repository) { r.now = now } }

// WithPrepare installs a hook run before every operation.
func WithPrepare(fn func(context.Context) error) Option {
	return func(r *Repository) { r.prepare = fn }
}

// WithLocator installs an id→path hint source.
func WithLocator(l Locator) Option { return func(r *Repository) { r.locator = l } }

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option { return func(r *Repository) { r.logger = l } }

// NewRepository builds a Repository.
func NewRepository(fsys *storage.FS, l layout.Layout, rel *relations.Index, opts ...Option) *Repository {
	r := &Repository{
		fs:        fsys,
		layout:    l,
		relations: rel,
		now:       time.Now,
		logger:    slog.Default(),
	}
	for _, o := range opts {
		o(r)
	}
	r.resolver = layout.Resolver{Layout: l, FS: fsys, Now: r.now}
	return r
}

// SetLocator swaps the id hint source after construction.
func (r *Repository) SetLocator(l Locator) { r.locator = l }

func (r *Repository) ready(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if r.prepare != nil {
		return r.prepare(ctx)
	}
	return nil
}

// record is one file as read from disk.
type record struct {
	path  string
	fm    parser.Frontmatter
	body  string // raw body, links not rewritten
	entry models.DiaryEntry
}

// Files lists every diary file in canonical positions.
func Files(fsys *storage.FS, l layout.Layout) ([]string, error) {
	all, err := fsys.ListMarkdown(l.ContentDir)
	if err != nil {
		return nil, err
	}
	out := all[:0]
	for _, p := range all {
		if _, ok := layout.EntryLocation(p); ok {
			out = append(out, p)
		}
	}
	return out, nil
}

func (r *Repository) read(p string) (*record, error) {
	data, err := r.fs.Read(p)
	if err != nil {
		return nil, err
	}
	res, err := parser.Parse(data)
	if err != nil {
		return nil, fmt.Errorf("diary: parse %s: %w", p, err)
	}
	fm := parser.Decode(res.Frontmatter)
	return &record{path: p, fm: fm, body: res.Body, entry: Entry(p, fm, res.Body, r.now())}, nil
}

// Entry builds the API view of a file.
func Entry(p string, fm parser.Frontmatter, body string, now time.Time) models.DiaryEntry {
	occurred := layout.ResolveOccurredAt(fm.OccurredAt, p, now, layout.CanonicalChain...)
	id := fm.ID
	if id == "" {
		day, ok := layout.DateFromDayDir(p)
		if !ok {
			day = occurred
		}
		id = layout.DeriveID(p, day)
	}
	title := fm.Title
	if strings.TrimSpace(title) == "" {
		title = strings.TrimSuffix(path.Base(p), ".md")
	}
	e := models.DiaryEntry{
		ID:          id,
		Title:       title,
		Tags:        orEmpty(fm.Tags),
		Attachments: orEmpty(fm.Attachments),
		OccurredAt:  occurred,
		ParentID:    fm.ParentID,
		Cover:       fm.Cover,
		Mood:        fm.Mood,
		Content:     parser.RewriteRelativeLinks(strings.TrimSpace(body), path.Dir(p)),
		Path:        p,
		Extra:       fm.Extra,
	}
	return e
}

func orEmpty(s []string) []string {
	if s == nil {
		return []string{}
	}
	return s
}

func (r *Repository) scan() ([]*record, error) {
	files, err := Files(r.fs, r.layout)
	if err != nil {
		return nil, fmt.Errorf("diary: scan: %w", err)
	}
	out := make([]*record, 0, len(files))
	for _, p := range files {
		rec, err := r.read(p)
		if err != nil {
			// Vanished between listing and reading; skip it.
			r.logger.Warn("diary file unreadable", slog.String("path", p), slog.String("error", err.Error()))
			continue
		}
		out = append(out, rec)
	}
	return out, nil
}

func (r *Repository) find(id string) (*record, error) {
	if r.locator != nil {
		if p, ok := r.locator.Locate(id); ok {
			if rec, err := r.read(p); err == nil && rec.entry.ID == id {
				return rec, nil
			}
			r.locator.Invalidate(id)
		}
	}
	recs, err := r.scan()
	if err != nil {
		return nil, err
	}
	for _, rec := range recs {
		if rec.entry.ID == id {
			return rec, nil
		}
	}
	return nil, apperr.NotFound("diary", id)
}

func (r *Repository) invalidate(id string) {
	if r.locator != nil {
		r.locator.Invalidate(id)
	}
}

// FindByID returns one entry.
func (r *Repository) FindByID(ctx context.Context, id string) (models.DiaryEntry, error) {
	if err := r.ready(ctx); err != nil {
		return models.DiaryEntry{}, err
	}
	rec, err := r.find(id)
	if err != nil {
		return models.DiaryEntry{}, err
	}
	return rec.entry, nil
}

// List returns every entry, newest first, ties broken by id.
func (r *Repository) List(ctx context.Context) ([]models.DiaryEntry, error) {
	if err := r.ready(ctx); err != nil {
		return nil, err
	}
	recs, err := r.scan()
	if err != nil {
		return nil, err
	}
	out := make([]models.DiaryEntry, 0, len(recs))
	for _, rec := range recs {
		out = append(out, rec.entry)
	}
	SortEntries(out)
	return out, nil
}

// SortEntries orders by occurredAt descending, then id ascending.
func SortEntries(entries []models.DiaryEntry) {
	sort.SliceStable(entries, func(i, j int) bool {
		if !entries[i].OccurredAt.Equal(entries[j].OccurredAt) {
			return entries[i].OccurredAt.After(entries[j].OccurredAt)
		}
		return entries[i].ID < entries[j].ID
	})
}

// Children returns the entries whose parentId is parentID.
func (r *Repository) Children(ctx context.Context, parentID string) ([]models.DiaryEntry, error) {
	all, err := r.List(ctx)
	if err != nil {
		return nil, err
	}
	out := []models.DiaryEntry{}
	for _, e := range all {
		if e.ParentID != nil && *e.ParentID == parentID {
			out = append(out, e)
		}
	}
	return out, nil
}

// resolveTime parses a raw occurredAt. Absent means now; unparsable means
// the start of the current day.
func (r *Repository) resolveTime(raw string) time.Time {
	now := r.now().UTC()
	if strings.TrimSpace(raw) == "" {
		return now
	}
	if t, ok := layout.ParseTimestamp(raw); ok {
		return t
	}
	r.logger.Warn("unparsable occurredAt, using start of day", slog.String("value", raw))
	return time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, time.UTC)
}

func validateInput(in models.DiaryInput) error {
	return apperr.Invalid(validation.ValidateStruct(&in,
		validation.Field(&in.Title, validation.Required),
	))
}

// Append writes a new entry at its canonical path.
func (r *Repository) Append(ctx context.Context, in models.DiaryInput) (models.DiaryEntry, error) {
	if err := r.ready(ctx); err != nil {
		return models.DiaryEntry{}, err
	}
	if err := validateInput(in); err != nil {
		return models.DiaryEntry{}, err
	}
	recs, err := r.scan()
	if err != nil {
		return models.DiaryEntry{}, err
	}
	taken := make(map[string]bool, len(recs))
	for _, rec := range recs {
		taken[rec.entry.ID] = true
	}
	id := strings.TrimSpace(in.ID)
	if id != "" && taken[id] {
		return models.DiaryEntry{}, fmt.Errorf("diary: append %q: %w", id, apperr.ErrAlreadyExists)
	}
	if id == "" {
		base := "diary-" + strconv.FormatInt(r.now().UnixMilli(), 10)
		id = base
		for taken[id] {
			id = base + "-" + layout.RandomSuffix()
		}
	}

	occurred := r.resolveTime(in.OccurredAt)
	fm := parser.Frontmatter{
		ID:          id,
		Title:       in.Title,
		Tags:        orEmpty(in.Tags),
		Attachments: orEmpty(in.Attachments),
		OccurredAt:  layout.FormatTimestamp(occurred),
		Cover:       strings.TrimSpace(in.Cover),
		Mood:        strings.TrimSpace(in.Mood),
	}
	if p := strings.TrimSpace(in.ParentID); p != "" {
		fm.ParentID = &p
	}
	p, err := r.resolver.DiaryPath(in.Title, occurred, fm.ParentID != nil, "")
	if err != nil {
		return models.DiaryEntry{}, fmt.Errorf("diary: resolve path: %w", err)
	}
	if err := r.write(p, fm, in.Content); err != nil {
		return models.DiaryEntry{}, err
	}
	r.invalidate(id)
	rec, err := r.read(p)
	if err != nil {
		return models.DiaryEntry{}, err
	}
	return rec.entry, nil
}

func (r *Repository) write(p string, fm parser.Frontmatter, body string) error {
	data, err := parser.Render(fm, body)
	if err != nil {
		return err
	}
	if err := r.fs.Write(p, data); err != nil {
		return fmt.Errorf("diary: write %s: %w", p, err)
	}
	return nil
}

// Update merges patch into an entry, relocating the file when its date or
// child status changed.
func (r *Repository) Update(ctx context.Context, id string, patch models.DiaryPatch) (models.DiaryEntry, error) {
	if err := r.ready(ctx); err != nil {
		return models.DiaryEntry{}, err
	}
	if patch.Title != nil && strings.TrimSpace(*patch.Title) == "" {
		return models.DiaryEntry{}, apperr.Invalid(validation.Errors{"title": validation.ErrRequired})
	}
	cur, err := r.find(id)
	if err != nil {
		return models.DiaryEntry{}, err
	}

	fm := cur.fm
	fm.ID = cur.entry.ID
	if fm.Title == "" {
		fm.Title = cur.entry.Title
	}
	body := cur.body
	occurred := cur.entry.OccurredAt

	if patch.Title != nil {
		fm.Title = *patch.Title
	}
	if patch.Tags != nil {
		fm.Tags = orEmpty(*patch.Tags)
	}
	if patch.Attachments != nil {
		fm.Attachments = orEmpty(*patch.Attachments)
	}
	if patch.OccurredAt != nil {
		occurred = r.resolveTime(*patch.OccurredAt)
	}
	fm.OccurredAt = layout.FormatTimestamp(occurred)
	switch {
	case !patch.ParentID.Set:
	case patch.ParentID.Null || strings.TrimSpace(patch.ParentID.Value) == "":
		fm.ParentID = nil
	default:
		v := strings.TrimSpace(patch.ParentID.Value)
		fm.ParentID = &v
	}
	if patch.Cover != nil {
		fm.Cover = strings.TrimSpace(*patch.Cover)
	}
	if patch.Mood != nil {
		fm.Mood = strings.TrimSpace(*patch.Mood)
	}
	if patch.Content != nil {
		body = *patch.Content
	}

	next, err := r.resolver.DiaryPath(fm.Title, occurred, fm.ParentID != nil, cur.path)
	if err != nil {
		return models.DiaryEntry{}, fmt.Errorf("diary: resolve path: %w", err)
	}
	if next != cur.path && patch.Content == nil {
		body = rebaseLinks(body, path.Dir(cur.path), path.Dir(next))
	}
	if err := r.write(next, fm, body); err != nil {
		return models.DiaryEntry{}, err
	}
	if next != cur.path {
		if err := r.fs.Delete(cur.path); err != nil {
			return models.DiaryEntry{}, fmt.Errorf("diary: remove old file: %w", err)
		}
	}
	r.invalidate(fm.ID)
	rec, err := r.read(next)
	if err != nil {
		return models.DiaryEntry{}, err
	}
	return rec.entry, nil
}

// rebaseLinks makes relative links root-relative when an entry leaves
// oldDir, so they keep pointing at the same files.
func rebaseLinks(body, oldDir, newDir string) string {
	if oldDir == newDir {
		return body
	}
	return parser.RewriteRelativeLinks(body, oldDir)
}

// Delete removes an entry and prunes it from the relations index.
func (r *Repository) Delete(ctx context.Context, id string) error {
	if err := r.ready(ctx); err != nil {
		return err
	}
	rec, err := r.find(id)
	if err != nil {
		return err
	}
	if err := r.fs.Delete(rec.path); err != nil {
		return fmt.Errorf("diary: delete: %w", err)
	}
	r.invalidate(id)
	if err := r.relations.PruneDiary(id); err != nil {
		return fmt.Errorf("diary: prune relations: %w", err)
	}
	return nil
}

// SaveAsset stores an upload in the classified asset folder of the day
// occurredAt falls on, without overwriting existing files.
func (r *Repository) SaveAsset(ctx context.Context, name string, data []byte, occurredAt string) (string, error) {
	if err := r.ready(ctx); err != nil {
		return "", err
	}
	name = path.Base(strings.ReplaceAll(strings.TrimSpace(name), "\\", "/"))
	if name == "" || name == "." || name == ".." || name == "/" {
		return "", apperr.Invalid(validation.Errors{"name": validation.ErrRequired})
	}
	t := r.resolveTime(occurredAt)
	if err := layout.EnsureDayStructure(r.fs, r.layout.DayDir(t)); err != nil {
		return "", fmt.Errorf("diary: day structure: %w", err)
	}
	target := r.fs.UniquePath(r.layout.AssetDir(t, name), name, "")
	if err := r.fs.Write(target, data); err != nil {
		return "", fmt.Errorf("diary: save asset: %w", err)
	}
	return target, nil
}
