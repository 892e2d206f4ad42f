// Package recordservice coordinates the store and the optional search index
// for the HTTP and MCP front ends.
package recordservice

import (
	"context"
	"log/slog"
	"strings"

	validation "github.com/go-ozzo/ozzo-validation/v4"

	"github.com/starford/krecord/internal/apperr"
	"github.com/starford/krecord/internal/index"
	"github.com/starford/krecord/internal/migrate"
	"github.com/starford/krecord/internal/models"
	"github.com/starford/krecord/internal/store"
)

// ListQuery filters and pages diary listings.
type ListQuery struct {
	Limit    int
	Offset   int
	Tag      string
	ParentID string
}

// Validate implements validation.Validatable.
func (q ListQuery) Validate() error {
	return validation.ValidateStruct(&q,
		validation.Field(&q.Limit, validation.Min(0)),
		validation.Field(&q.Offset, validation.Min(0)),
	)
}

// Service coordinates store and index operations.
type Service struct {
	st     *store.Store
	db     *index.DB // nil when the index is disabled
	logger *slog.Logger
}

// New creates a Service. db may be nil.
func New(st *store.Store, db *index.DB, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{st: st, db: db, logger: logger}
}

// Store returns the underlying store.
func (s *Service) Store() *store.Store { return s.st }

// ListDiaries returns entries newest first, filtered by tag or parent, and
// the total before paging.
func (s *Service) ListDiaries(ctx context.Context, q ListQuery) ([]models.DiaryEntry, int, error) {
	if err := q.Validate(); err != nil {
		return nil, 0, apperr.Invalid(err)
	}
	all, err := s.st.Diaries().List(ctx)
	if err != nil {
		return nil, 0, err
	}
	filtered := all[:0]
	for _, e := range all {
		if q.Tag != "" && !hasTag(e.Tags, q.Tag) {
			continue
		}
		if q.ParentID != "" && (e.ParentID == nil || *e.ParentID != q.ParentID) {
			continue
		}
		filtered = append(filtered, e)
	}
	total := len(filtered)
	if q.Offset >= total {
		return []models.DiaryEntry{}, total, nil
	}
	filtered = filtered[q.Offset:]
	if q.Limit > 0 && q.Limit < len(filtered) {
		filtered = filtered[:q.Limit]
	}
	return filtered, total, nil
}

func hasTag(tags []string, tag string) bool {
	for _, t := range tags {
		if t == tag {
			return true
		}
	}
	return false
}

// GetDiary returns one entry.
func (s *Service) GetDiary(ctx context.Context, id string) (models.DiaryEntry, error) {
	return s.st.Diaries().FindByID(ctx, id)
}

// Children returns the entries whose parentId is id.
func (s *Service) Children(ctx context.Context, id string) ([]models.DiaryEntry, error) {
	if _, err := s.st.Diaries().FindByID(ctx, id); err != nil {
		return nil, err
	}
	return s.st.Diaries().Children(ctx, id)
}

// AppendDiary writes a new entry and indexes it.
func (s *Service) AppendDiary(ctx context.Context, in models.DiaryInput) (models.DiaryEntry, error) {
	e, err := s.st.Diaries().Append(ctx, in)
	if err != nil {
		return e, err
	}
	s.refresh(e.Path)
	return e, nil
}

// UpdateDiary applies a partial update and reindexes the old and new paths.
func (s *Service) UpdateDiary(ctx context.Context, id string, patch models.DiaryPatch) (models.DiaryEntry, error) {
	old, err := s.st.Diaries().FindByID(ctx, id)
	if err != nil {
		return old, err
	}
	e, err := s.st.Diaries().Update(ctx, id, patch)
	if err != nil {
		return e, err
	}
	if old.Path != e.Path {
		s.refresh(old.Path)
	}
	s.refresh(e.Path)
	return e, nil
}

// DeleteDiary removes an entry, its relations and its index row.
func (s *Service) DeleteDiary(ctx context.Context, id string) error {
	old, err := s.st.Diaries().FindByID(ctx, id)
	if err != nil {
		return err
	}
	if err := s.st.Diaries().Delete(ctx, id); err != nil {
		return err
	}
	s.refresh(old.Path)
	return nil
}

// SaveAsset stores an uploaded file under the day of occurredAt.
func (s *Service) SaveAsset(ctx context.Context, name string, data []byte, occurredAt string) (string, error) {
	return s.st.Diaries().SaveAsset(ctx, name, data, occurredAt)
}

// ListSheets returns every sheet with its rows.
func (s *Service) ListSheets(ctx context.Context) ([]models.Sheet, error) {
	return s.st.Sheets().ReadSheets(ctx)
}

// GetSheet returns one sheet.
func (s *Service) GetSheet(ctx context.Context, id string) (models.Sheet, error) {
	return s.st.Sheets().Get(ctx, id)
}

// CreateSheet registers a new sheet.
func (s *Service) CreateSheet(ctx context.Context, name, description string) (models.Sheet, error) {
	return s.st.Sheets().CreateSheet(ctx, name, description)
}

// UpdateSheet renames or re-describes a sheet.
func (s *Service) UpdateSheet(ctx context.Context, id string, patch models.SheetPatch) (models.Sheet, error) {
	return s.st.Sheets().UpdateSheet(ctx, id, patch)
}

// DeleteSheet removes a sheet and its relations.
func (s *Service) DeleteSheet(ctx context.Context, id string) error {
	return s.st.Sheets().DeleteSheet(ctx, id)
}

// AddRow appends a row.
func (s *Service) AddRow(ctx context.Context, sheetID string, in models.SheetRowInput) (models.SheetRow, error) {
	return s.st.Sheets().AddRow(ctx, sheetID, in)
}

// UpdateRow replaces a row.
func (s *Service) UpdateRow(ctx context.Context, sheetID, rowID string, in models.SheetRowInput) (models.SheetRow, error) {
	return s.st.Sheets().UpdateRow(ctx, sheetID, rowID, in)
}

// DeleteRow removes a row.
func (s *Service) DeleteRow(ctx context.Context, sheetID, rowID string) error {
	return s.st.Sheets().DeleteRow(ctx, sheetID, rowID)
}

// Relations returns the relations index after the store is prepared.
func (s *Service) Relations(ctx context.Context) (*models.RelationsMap, error) {
	if _, err := s.st.Prepare(ctx); err != nil {
		return nil, err
	}
	return s.st.Relations().Load()
}

// Search queries the index, or scans entries when it is disabled.
func (s *Service) Search(ctx context.Context, query string, limit int) ([]index.SearchResult, error) {
	if err := validation.Validate(limit, validation.Min(0)); err != nil {
		return nil, apperr.Invalid(validation.Errors{"limit": err})
	}
	if limit == 0 {
		limit = 20
	}
	if s.db != nil {
		if _, err := s.st.Prepare(ctx); err != nil {
			return nil, err
		}
		return s.db.Search(query, limit)
	}
	return s.scanSearch(ctx, query, limit)
}

func (s *Service) scanSearch(ctx context.Context, query string, limit int) ([]index.SearchResult, error) {
	entries, err := s.st.Diaries().List(ctx)
	if err != nil {
		return nil, err
	}
	needle := strings.ToLower(query)
	out := []index.SearchResult{}
	for _, e := range entries {
		hay := strings.ToLower(e.Title + "\n" + e.Content + "\n" + strings.Join(e.Tags, " "))
		if !strings.Contains(hay, needle) {
			continue
		}
		out = append(out, index.SearchResult{
			ID:         e.ID,
			Path:       e.Path,
			Title:      e.Title,
			OccurredAt: e.OccurredAt,
			Snippet:    snippet(e.Content, 200),
		})
		if len(out) == limit {
			break
		}
	}
	return out, nil
}

func snippet(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n])
}

// Normalize runs a full sweep of the data root and resyncs the index.
func (s *Service) Normalize(ctx context.Context) (migrate.Report, error) {
	rep, err := s.st.Sweep(ctx)
	if err != nil {
		return rep, err
	}
	if s.db != nil {
		if err := index.Sync(s.db, s.st, s.logger); err != nil {
			s.logger.Warn("index sync after normalize failed", slog.String("error", err.Error()))
		}
	}
	return rep, nil
}

// refresh keeps the index row of p in step with the file.
func (s *Service) refresh(p string) {
	if s.db == nil || p == "" {
		return
	}
	if err := index.Refresh(s.db, s.st, p); err != nil {
		s.logger.Warn("index refresh failed", slog.String("path", p), slog.String("error", err.Error()))
	}
}
