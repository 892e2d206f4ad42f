// Package sheet stores tabular sheets as CSV files under table/ with a
// registry in relations/meta.json.
package sheet

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"regexp"
	"strconv"
	"strings"
	"time"

	validation "github.com/go-ozzo/ozzo-validation/v4"

	"github.com/starford/krecord/internal/apperr"
	"github.com/starford/krecord/internal/layout"
	"github.com/starford/krecord/internal/models"
	"github.com/starford/krecord/internal/relations"
	"github.com/starford/krecord/internal/storage"
)

// Repository implements sheet and row operations. It keeps no state
// between calls; every operation rereads the files it needs.
type Repository struct {
	fs        *storage.FS
	layout    layout.Layout
	relations *relations.Index
	now       func() time.Time
	prepare   func(context.Context) error
	logger    *slog.Logger
}

// Option configures a Repository.
type Option func(*Repository)

// WithClock overrides time.Now for generated ids.
func WithClock(now func() time.Time) Option { return func(r *Repository) { r.now = now } }

// WithPrepare installs a hook run before every operation.
func WithPrepare(fn func(context.Context) error) Option {
	return func(r *Repository) { r.prepare = fn }
}

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
	return r
}

func (r *Repository) ready(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if r.prepare != nil {
		return r.prepare(ctx)
	}
	return nil
}

// ListMetas returns the registry, creating missing CSV files for
// registered sheets.
func (r *Repository) ListMetas(ctx context.Context) ([]models.SheetMeta, error) {
	if err := r.ready(ctx); err != nil {
		return nil, err
	}
	return r.loadMetas()
}

func (r *Repository) loadMetas() ([]models.SheetMeta, error) {
	data, err := r.fs.Read(r.layout.SheetMetaFile)
	if errors.Is(err, fs.ErrNotExist) {
		return []models.SheetMeta{}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("sheet: read meta: %w", err)
	}
	metas, err := decodeMetas(data)
	if err != nil {
		r.logger.Warn("sheet registry unreadable, treating as empty", slog.String("error", err.Error()))
		return []models.SheetMeta{}, nil
	}
	for _, m := range metas {
		if err := r.ensureFile(m); err != nil {
			return nil, err
		}
	}
	return metas, nil
}

func (r *Repository) saveMetas(metas []models.SheetMeta) error {
	data, err := json.MarshalIndent(metas, "", "  ")
	if err != nil {
		return fmt.Errorf("sheet: encode meta: %w", err)
	}
	if err := r.fs.Write(r.layout.SheetMetaFile, append(data, '\n')); err != nil {
		return fmt.Errorf("sheet: write meta: %w", err)
	}
	return nil
}

// EnsureRegistry creates an empty meta.json when absent.
func (r *Repository) EnsureRegistry() error {
	if r.fs.Exists(r.layout.SheetMetaFile) {
		return nil
	}
	return r.saveMetas([]models.SheetMeta{})
}

func (r *Repository) ensureFile(m models.SheetMeta) error {
	p := r.layout.SheetFile(m.Key)
	if r.fs.Exists(p) {
		return nil
	}
	data, err := (&table{header: Columns}).encode()
	if err != nil {
		return fmt.Errorf("sheet: encode %s: %w", m.Key, err)
	}
	if err := r.fs.Write(p, data); err != nil {
		return fmt.Errorf("sheet: create %s: %w", m.Key, err)
	}
	return nil
}

func (r *Repository) resolve(metas []models.SheetMeta, id string) (int, error) {
	for i, m := range metas {
		if m.ID == id {
			return i, nil
		}
	}
	return -1, apperr.NotFound("sheet", id)
}

func (r *Repository) readTable(m models.SheetMeta) (*table, error) {
	data, err := r.fs.Read(r.layout.SheetFile(m.Key))
	if errors.Is(err, fs.ErrNotExist) {
		return &table{header: append([]string(nil), Columns...)}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("sheet: read %s: %w", m.Key, err)
	}
	t := parseTable(data)
	for i, rec := range t.records {
		if rec["id"] == "" {
			rec["id"] = m.ID + "-row-" + strconv.Itoa(i+1)
		}
	}
	return t, nil
}

func (r *Repository) writeTable(m models.SheetMeta, t *table) error {
	data, err := t.encode()
	if err != nil {
		return fmt.Errorf("sheet: encode %s: %w", m.Key, err)
	}
	if err := r.fs.Write(r.layout.SheetFile(m.Key), data); err != nil {
		return fmt.Errorf("sheet: write %s: %w", m.Key, err)
	}
	return nil
}

// ReadSheets returns every registered sheet with its rows.
func (r *Repository) ReadSheets(ctx context.Context) ([]models.Sheet, error) {
	if err := r.ready(ctx); err != nil {
		return nil, err
	}
	metas, err := r.loadMetas()
	if err != nil {
		return nil, err
	}
	rel, err := r.relations.Load()
	if err != nil {
		return nil, err
	}
	out := make([]models.Sheet, 0, len(metas))
	for _, m := range metas {
		s, err := r.sheet(m, rel)
		if err != nil {
			return nil, err
		}
		out = append(out, s)
	}
	return out, nil
}

// Get returns one sheet with its rows.
func (r *Repository) Get(ctx context.Context, id string) (models.Sheet, error) {
	if err := r.ready(ctx); err != nil {
		return models.Sheet{}, err
	}
	metas, err := r.loadMetas()
	if err != nil {
		return models.Sheet{}, err
	}
	i, err := r.resolve(metas, id)
	if err != nil {
		return models.Sheet{}, err
	}
	rel, err := r.relations.Load()
	if err != nil {
		return models.Sheet{}, err
	}
	return r.sheet(metas[i], rel)
}

func (r *Repository) sheet(m models.SheetMeta, rel *models.RelationsMap) (models.Sheet, error) {
	t, err := r.readTable(m)
	if err != nil {
		return models.Sheet{}, err
	}
	rows := make([]models.SheetRow, 0, len(t.records))
	for _, rec := range t.records {
		rows = append(rows, rowFromRecord(t, rec, rel))
	}
	return models.Sheet{SheetMeta: m, Rows: rows}, nil
}

var refSplit = regexp.MustCompile(`\s*,\s*`)

func rowFromRecord(t *table, rec map[string]string, rel *models.RelationsMap) models.SheetRow {
	open := parseNumber(rec["open"])
	num := func(col string) float64 {
		if !t.has(col) {
			return open
		}
		return parseNumber(rec[col])
	}
	row := models.SheetRow{
		ID:    rec["id"],
		Date:  rec["date"],
		Open:  open,
		High:  num("high"),
		Low:   num("low"),
		Close: num("close"),
		Note:  rec["note"],
	}
	if refs, ok := rel.SheetRowsToDiaries[row.ID]; ok {
		row.DiaryRefs = append([]string{}, refs...)
	} else {
		row.DiaryRefs = splitRefs(rec["diary_refs"])
	}
	for _, h := range t.header {
		if h != "" && !canonical[h] {
			if row.Extra == nil {
				row.Extra = map[string]string{}
			}
			row.Extra[h] = rec[h]
		}
	}
	return row
}

func splitRefs(s string) []string {
	out := []string{}
	if strings.TrimSpace(s) == "" {
		return out
	}
	for _, p := range refSplit.Split(strings.TrimSpace(s), -1) {
		if p != "" {
			out = append(out, p)
		}
	}
	return out
}

func parseNumber(s string) float64 {
	f, err := strconv.ParseFloat(strings.TrimSpace(s), 64)
	if err != nil {
		return 0
	}
	return f
}

func formatNumber(f float64) string {
	return strconv.FormatFloat(f, 'f', -1, 64)
}

// CreateSheet registers a new sheet and writes its header-only CSV.
func (r *Repository) CreateSheet(ctx context.Context, name, description string) (models.Sheet, error) {
	if err := r.ready(ctx); err != nil {
		return models.Sheet{}, err
	}
	metas, err := r.loadMetas()
	if err != nil {
		return models.Sheet{}, err
	}
	base := Slug(name)
	if base == "" {
		base = "sheet-" + strconv.FormatInt(r.now().UnixMilli(), 36)
	}
	taken := make(map[string]bool, len(metas))
	for _, m := range metas {
		taken[m.Key] = true
	}
	key := base
	for taken[key] || r.fs.Exists(r.layout.SheetFile(key)) {
		key = base + "-" + layout.RandomSuffix()
	}
	name = strings.TrimSpace(name)
	if name == "" {
		name = "Untitled sheet"
	}
	meta := models.SheetMeta{
		ID:          sheetID(key),
		Key:         key,
		Name:        name,
		Description: strings.TrimSpace(description),
	}
	if err := r.saveMetas(append(metas, meta)); err != nil {
		return models.Sheet{}, err
	}
	if err := r.ensureFile(meta); err != nil {
		return models.Sheet{}, err
	}
	return models.Sheet{SheetMeta: meta, Rows: []models.SheetRow{}}, nil
}

// UpdateSheet patches name and/or description.
func (r *Repository) UpdateSheet(ctx context.Context, id string, patch models.SheetPatch) (models.Sheet, error) {
	if err := r.ready(ctx); err != nil {
		return models.Sheet{}, err
	}
	metas, err := r.loadMetas()
	if err != nil {
		return models.Sheet{}, err
	}
	i, err := r.resolve(metas, id)
	if err != nil {
		return models.Sheet{}, err
	}
	if patch.Name != nil && strings.TrimSpace(*patch.Name) != "" {
		metas[i].Name = strings.TrimSpace(*patch.Name)
	}
	if patch.Description != nil {
		metas[i].Description = strings.TrimSpace(*patch.Description)
	}
	if err := r.saveMetas(metas); err != nil {
		return models.Sheet{}, err
	}
	rel, err := r.relations.Load()
	if err != nil {
		return models.Sheet{}, err
	}
	return r.sheet(metas[i], rel)
}

// DeleteSheet removes the CSV and registry entry and drops every row from
// the relations index.
func (r *Repository) DeleteSheet(ctx context.Context, id string) error {
	if err := r.ready(ctx); err != nil {
		return err
	}
	metas, err := r.loadMetas()
	if err != nil {
		return err
	}
	i, err := r.resolve(metas, id)
	if err != nil {
		return err
	}
	meta := metas[i]
	t, err := r.readTable(meta)
	if err != nil {
		return err
	}
	rowIDs := make([]string, 0, len(t.records))
	for _, rec := range t.records {
		rowIDs = append(rowIDs, rec["id"])
	}
	if err := r.fs.Delete(r.layout.SheetFile(meta.Key)); err != nil {
		return fmt.Errorf("sheet: delete %s: %w", meta.Key, err)
	}
	if err := r.saveMetas(append(metas[:i:i], metas[i+1:]...)); err != nil {
		return err
	}
	return r.relations.DropRows(rowIDs)
}

func validateRow(in models.SheetRowInput) error {
	return apperr.Invalid(validation.ValidateStruct(&in,
		validation.Field(&in.Date, validation.Required),
	))
}

func applyInput(rec map[string]string, in models.SheetRowInput, refs []string) {
	rec["date"] = strings.TrimSpace(in.Date)
	rec["open"] = formatNumber(in.Open)
	rec["high"] = formatNumber(in.High)
	rec["low"] = formatNumber(in.Low)
	rec["close"] = formatNumber(in.Close)
	rec["note"] = in.Note
	rec["diary_refs"] = strings.Join(refs, ",")
}

func rowFromInput(id string, in models.SheetRowInput, refs []string, extra map[string]string) models.SheetRow {
	return models.SheetRow{
		ID:        id,
		Date:      strings.TrimSpace(in.Date),
		Open:      in.Open,
		High:      in.High,
		Low:       in.Low,
		Close:     in.Close,
		Note:      in.Note,
		DiaryRefs: refs,
		Extra:     extra,
	}
}

func cleanRefs(in []string) []string {
	out := []string{}
	seen := map[string]bool{}
	for _, s := range in {
		s = strings.TrimSpace(s)
		if s == "" || seen[s] {
			continue
		}
		seen[s] = true
		out = append(out, s)
	}
	return out
}

func (r *Repository) metaFor(id string) (models.SheetMeta, error) {
	metas, err := r.loadMetas()
	if err != nil {
		return models.SheetMeta{}, err
	}
	i, err := r.resolve(metas, id)
	if err != nil {
		return models.SheetMeta{}, err
	}
	return metas[i], nil
}

// AddRow appends a row and links its diary references.
func (r *Repository) AddRow(ctx context.Context, sheetID string, in models.SheetRowInput) (models.SheetRow, error) {
	if err := r.ready(ctx); err != nil {
		return models.SheetRow{}, err
	}
	if err := validateRow(in); err != nil {
		return models.SheetRow{}, err
	}
	meta, err := r.metaFor(sheetID)
	if err != nil {
		return models.SheetRow{}, err
	}
	t, err := r.readTable(meta)
	if err != nil {
		return models.SheetRow{}, err
	}
	exists := func(id string) bool {
		for _, rec := range t.records {
			if rec["id"] == id {
				return true
			}
		}
		return false
	}
	id := strings.TrimSpace(in.ID)
	if id != "" && exists(id) {
		return models.SheetRow{}, fmt.Errorf("sheet: row %q: %w", id, apperr.ErrAlreadyExists)
	}
	if id == "" {
		base := meta.ID + "-row-" + strconv.FormatInt(r.now().UnixMilli(), 10)
		id = base
		for exists(id) {
			id = base + "-" + layout.RandomSuffix()
		}
	}
	refs := cleanRefs(in.DiaryRefs)
	rec := map[string]string{"id": id}
	for _, h := range t.header {
		if _, ok := rec[h]; !ok && h != "" {
			rec[h] = ""
		}
	}
	applyInput(rec, in, refs)
	t.records = append(t.records, rec)
	if err := r.writeTable(meta, t); err != nil {
		return models.SheetRow{}, err
	}
	if _, err := r.relations.SaveRowRelations(id, refs); err != nil {
		return models.SheetRow{}, err
	}
	return rowFromInput(id, in, refs, nil), nil
}

// UpdateRow replaces a row's values. Extra columns are kept.
func (r *Repository) UpdateRow(ctx context.Context, sheetID, rowID string, in models.SheetRowInput) (models.SheetRow, error) {
	if err := r.ready(ctx); err != nil {
		return models.SheetRow{}, err
	}
	if err := validateRow(in); err != nil {
		return models.SheetRow{}, err
	}
	meta, err := r.metaFor(sheetID)
	if err != nil {
		return models.SheetRow{}, err
	}
	t, err := r.readTable(meta)
	if err != nil {
		return models.SheetRow{}, err
	}
	var rec map[string]string
	for _, candidate := range t.records {
		if candidate["id"] == rowID {
			rec = candidate
			break
		}
	}
	if rec == nil {
		return models.SheetRow{}, apperr.NotFound("row", rowID)
	}
	refs := cleanRefs(in.DiaryRefs)
	applyInput(rec, in, refs)
	if err := r.writeTable(meta, t); err != nil {
		return models.SheetRow{}, err
	}
	if _, err := r.relations.SaveRowRelations(rowID, refs); err != nil {
		return models.SheetRow{}, err
	}
	var extra map[string]string
	for _, h := range t.header {
		if h != "" && !canonical[h] {
			if extra == nil {
				extra = map[string]string{}
			}
			extra[h] = rec[h]
		}
	}
	return rowFromInput(rowID, in, refs, extra), nil
}

// DeleteRow removes a row and its relations.
func (r *Repository) DeleteRow(ctx context.Context, sheetID, rowID string) error {
	if err := r.ready(ctx); err != nil {
		return err
	}
	meta, err := r.metaFor(sheetID)
	if err != nil {
		return err
	}
	t, err := r.readTable(meta)
	if err != nil {
		return err
	}
	kept := t.records[:0]
	found := false
	for _, rec := range t.records {
		if rec["id"] == rowID {
			found = true
			continue
		}
		kept = append(kept, rec)
	}
	if !found {
		return apperr.NotFound("row", rowID)
	}
	t.records = kept
	if err := r.writeTable(meta, t); err != nil {
		return err
	}
	return r.relations.DropRows([]string{rowID})
}
