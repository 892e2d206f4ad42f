package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/starford/krecord/internal/recordservice"
)

// NewRouter creates a chi router with all API routes mounted.
// authEnabled controls whether Bearer token auth is enforced.
// sseHandler, if non-nil, is mounted at GET /events inside the auth group.
func NewRouter(svc *recordservice.Service, authEnabled bool, token string, sseHandler http.Handler) chi.Router {
	h := NewHandler(svc)
	ah := NewAssetHandler(svc)

	r := chi.NewRouter()
	r.Use(AuthMiddleware(authEnabled, token))

	// Diary CRUD.
	r.Get("/diary", h.ListDiaries)
	r.Post("/diary", h.AppendDiary)
	r.Get("/diary/{id}", h.GetDiary)
	r.Put("/diary/{id}", h.UpdateDiary)
	r.Delete("/diary/{id}", h.DeleteDiary)
	r.Get("/diary/{id}/children", h.Children)

	// Sheets and rows.
	r.Get("/sheets", h.ListSheets)
	r.Post("/sheets", h.CreateSheet)
	r.Patch("/sheets/{id}", h.UpdateSheet)
	r.Delete("/sheets/{id}", h.DeleteSheet)
	r.Post("/sheets/{id}/rows", h.AddRow)
	r.Put("/sheets/{id}/rows/{rowId}", h.UpdateRow)
	r.Delete("/sheets/{id}/rows/{rowId}", h.DeleteRow)
	r.Get("/relations", h.Relations)

	// Search and maintenance.
	r.Get("/search", h.Search)
	r.Post("/normalize", h.Normalize)

	// Assets.
	r.Post("/uploads", ah.Upload)
	r.Get("/assets/*", ah.ServeFile)

	// SSE endpoint (protected by same auth middleware).
	if sseHandler != nil {
		r.Get("/events", sseHandler.ServeHTTP)
	}

	return r
}
