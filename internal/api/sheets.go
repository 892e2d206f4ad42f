package api

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/starford/krecord/internal/models"
)

// ListSheets handles GET /api/sheets.
//
//	@Summary		List sheets with their rows
//	@Tags			sheets
//	@Produce		json
//	@Success		200	{object}	SheetListResponse
//	@Security		BearerAuth
//	@Router			/sheets [get]
func (h *Handler) ListSheets(w http.ResponseWriter, r *http.Request) {
	sheets, err := h.svc.ListSheets(r.Context())
	if err != nil {
		writeError(w, err, "list sheets")
		return
	}
	if sheets == nil {
		sheets = []models.Sheet{}
	}
	writeJSON(w, http.StatusOK, SheetListResponse{Sheets: sheets})
}

// CreateSheet handles POST /api/sheets.
//
//	@Summary		Create a sheet
//	@Tags			sheets
//	@Accept			json
//	@Produce		json
//	@Param			body	body		SheetRequest	true	"Name and description"
//	@Success		201		{object}	models.Sheet
//	@Security		BearerAuth
//	@Router			/sheets [post]
func (h *Handler) CreateSheet(w http.ResponseWriter, r *http.Request) {
	var req SheetRequest
	if !readJSON(w, r, &req) {
		return
	}
	var name, desc string
	if req.Name != nil {
		name = *req.Name
	}
	if req.Description != nil {
		desc = *req.Description
	}
	sh, err := h.svc.CreateSheet(r.Context(), name, desc)
	if err != nil {
		writeError(w, err, "create sheet", slog.String("name", name))
		return
	}
	writeJSON(w, http.StatusCreated, sh)
}

// UpdateSheet handles PATCH /api/sheets/{id}.
func (h *Handler) UpdateSheet(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	var req SheetRequest
	if !readJSON(w, r, &req) {
		return
	}
	sh, err := h.svc.UpdateSheet(r.Context(), id, models.SheetPatch{Name: req.Name, Description: req.Description})
	if err != nil {
		writeError(w, err, "update sheet", slog.String("id", id))
		return
	}
	writeJSON(w, http.StatusOK, sh)
}

// DeleteSheet handles DELETE /api/sheets/{id}.
func (h *Handler) DeleteSheet(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if err := h.svc.DeleteSheet(r.Context(), id); err != nil {
		writeError(w, err, "delete sheet", slog.String("id", id))
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// AddRow handles POST /api/sheets/{id}/rows.
//
//	@Summary		Append a row and link it to diary entries
//	@Tags			sheets
//	@Accept			json
//	@Produce		json
//	@Param			id		path		string					true	"Sheet id"
//	@Param			body	body		models.SheetRowInput	true	"Row"
//	@Success		201		{object}	models.SheetRow
//	@Failure		400		{object}	errResponse
//	@Failure		404		{object}	errResponse
//	@Security		BearerAuth
//	@Router			/sheets/{id}/rows [post]
func (h *Handler) AddRow(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	var in models.SheetRowInput
	if !readJSON(w, r, &in) {
		return
	}
	row, err := h.svc.AddRow(r.Context(), id, in)
	if err != nil {
		writeError(w, err, "add row", slog.String("sheet", id))
		return
	}
	writeJSON(w, http.StatusCreated, row)
}

// UpdateRow handles PUT /api/sheets/{id}/rows/{rowId}.
func (h *Handler) UpdateRow(w http.ResponseWriter, r *http.Request) {
	id, rowID := chi.URLParam(r, "id"), chi.URLParam(r, "rowId")
	var in models.SheetRowInput
	if !readJSON(w, r, &in) {
		return
	}
	row, err := h.svc.UpdateRow(r.Context(), id, rowID, in)
	if err != nil {
		writeError(w, err, "update row", slog.String("sheet", id), slog.String("row", rowID))
		return
	}
	writeJSON(w, http.StatusOK, row)
}

// DeleteRow handles DELETE /api/sheets/{id}/rows/{rowId}.
func (h *Handler) DeleteRow(w http.ResponseWriter, r *http.Request) {
	id, rowID := chi.URLParam(r, "id"), chi.URLParam(r, "rowId")
	if err := h.svc.DeleteRow(r.Context(), id, rowID); err != nil {
		writeError(w, err, "delete row", slog.String("sheet", id), slog.String("row", rowID))
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// Relations handles GET /api/relations.
func (h *Handler) Relations(w http.ResponseWriter, r *http.Request) {
	m, err := h.svc.Relations(r.Context())
	if err != nil {
		writeError(w, err, "relations")
		return
	}
	writeJSON(w, http.StatusOK, m)
}
