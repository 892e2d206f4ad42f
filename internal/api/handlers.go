package api

import (
	"log/slog"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/starford/krecord/internal/apperr"
	"github.com/starford/krecord/internal/models"
	"github.com/starford/krecord/internal/recordservice"
)

// Handler holds API route handlers.
type Handler struct {
	svc *recordservice.Service
}

// NewHandler creates a new Handler.
func NewHandler(svc *recordservice.Service) *Handler {
	return &Handler{svc: svc}
}

// intParam parses an optional integer query parameter.
func intParam(r *http.Request, name string) (int, error) {
	raw := r.URL.Query().Get(name)
	if raw == "" {
		return 0, nil
	}
	n, err := strconv.Atoi(raw)
	if err != nil {
		return 0, apperr.Invalid(err)
	}
	return n, nil
}

// ListDiaries handles GET /api/diary.
//
//	@Summary		List diary entries, newest first
//	@Tags			diary
//	@Produce		json
//	@Param			limit		query		int		false	"Page size"
//	@Param			offset		query		int		false	"Page offset"
//	@Param			tag			query		string	false	"Filter by tag"
//	@Param			parentId	query		string	false	"Filter by parent"
//	@Success		200			{object}	DiaryListResponse
//	@Failure		400			{object}	errResponse
//	@Security		BearerAuth
//	@Router			/diary [get]
func (h *Handler) ListDiaries(w http.ResponseWriter, r *http.Request) {
	limit, err := intParam(r, "limit")
	if err != nil {
		writeError(w, err, "list diaries")
		return
	}
	offset, err := intParam(r, "offset")
	if err != nil {
		writeError(w, err, "list diaries")
		return
	}
	q := r.URL.Query()
	items, total, err := h.svc.ListDiaries(r.Context(), recordservice.ListQuery{
		Limit:    limit,
		Offset:   offset,
		Tag:      q.Get("tag"),
		ParentID: q.Get("parentId"),
	})
	if err != nil {
		writeError(w, err, "list diaries")
		return
	}
	writeJSON(w, http.StatusOK, DiaryListResponse{Diaries: items, Total: total})
}

// GetDiary handles GET /api/diary/{id}.
//
//	@Summary		Get one diary entry
//	@Tags			diary
//	@Produce		json
//	@Param			id	path		string	true	"Diary id"
//	@Success		200	{object}	models.DiaryEntry
//	@Failure		404	{object}	errResponse
//	@Security		BearerAuth
//	@Router			/diary/{id} [get]
func (h *Handler) GetDiary(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	e, err := h.svc.GetDiary(r.Context(), id)
	if err != nil {
		writeError(w, err, "get diary", slog.String("id", id))
		return
	}
	writeJSON(w, http.StatusOK, e)
}

// Children handles GET /api/diary/{id}/children.
func (h *Handler) Children(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	items, err := h.svc.Children(r.Context(), id)
	if err != nil {
		writeError(w, err, "list children", slog.String("id", id))
		return
	}
	writeJSON(w, http.StatusOK, DiaryListResponse{Diaries: items, Total: len(items)})
}

// AppendDiary handles POST /api/diary.
//
//	@Summary		Append a diary entry
//	@Tags			diary
//	@Accept			json
//	@Produce		json
//	@Param			body	body		models.DiaryInput	true	"Entry to append"
//	@Success		201		{object}	models.DiaryEntry
//	@Failure		400		{object}	errResponse
//	@Failure		409		{object}	errResponse
//	@Security		BearerAuth
//	@Router			/diary [post]
func (h *Handler) AppendDiary(w http.ResponseWriter, r *http.Request) {
	var in models.DiaryInput
	if !readJSON(w, r, &in) {
		return
	}
	e, err := h.svc.AppendDiary(r.Context(), in)
	if err != nil {
		writeError(w, err, "append diary", slog.String("title", in.Title))
		return
	}
	writeJSON(w, http.StatusCreated, e)
}

// UpdateDiary handles PUT /api/diary/{id}. Absent fields are left as they
// are; "parentId": null detaches the entry from its parent.
//
//	@Summary		Update a diary entry
//	@Tags			diary
//	@Accept			json
//	@Produce		json
//	@Param			id		path		string				true	"Diary id"
//	@Param			body	body		models.DiaryPatch	true	"Fields to change"
//	@Success		200		{object}	models.DiaryEntry
//	@Failure		400		{object}	errResponse
//	@Failure		404		{object}	errResponse
//	@Security		BearerAuth
//	@Router			/diary/{id} [put]
func (h *Handler) UpdateDiary(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	var patch models.DiaryPatch
	if !readJSON(w, r, &patch) {
		return
	}
	e, err := h.svc.UpdateDiary(r.Context(), id, patch)
	if err != nil {
		writeError(w, err, "update diary", slog.String("id", id))
		return
	}
	writeJSON(w, http.StatusOK, e)
}

// DeleteDiary handles DELETE /api/diary/{id}.
//
//	@Summary		Delete a diary entry and unlink it from sheet rows
//	@Tags			diary
//	@Param			id	path	string	true	"Diary id"
//	@Success		204	"Entry deleted"
//	@Failure		404	{object}	errResponse
//	@Security		BearerAuth
//	@Router			/diary/{id} [delete]
func (h *Handler) DeleteDiary(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if err := h.svc.DeleteDiary(r.Context(), id); err != nil {
		writeError(w, err, "delete diary", slog.String("id", id))
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// Search handles GET /api/search.
//
//	@Summary		Full-text search across diary entries
//	@Tags			search
//	@Produce		json
//	@Param			q		query		string	true	"Search query"
//	@Param			limit	query		int		false	"Max results"
//	@Success		200		{object}	SearchResponse
//	@Failure		400		{object}	errResponse
//	@Security		BearerAuth
//	@Router			/search [get]
func (h *Handler) Search(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query().Get("q")
	if q == "" {
		writeJSON(w, http.StatusBadRequest, errorBody("query parameter 'q' is required"))
		return
	}
	limit, err := intParam(r, "limit")
	if err != nil {
		writeError(w, err, "search")
		return
	}
	results, err := h.svc.Search(r.Context(), q, limit)
	if err != nil {
		writeError(w, err, "search", slog.String("query", q))
		return
	}
	writeJSON(w, http.StatusOK, SearchResponse{Results: results})
}

// Normalize handles POST /api/normalize: one full sweep of the data root.
func (h *Handler) Normalize(w http.ResponseWriter, r *http.Request) {
	rep, err := h.svc.Normalize(r.Context())
	if err != nil {
		writeError(w, err, "normalize")
		return
	}
	writeJSON(w, http.StatusOK, rep)
}
