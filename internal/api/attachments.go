package api

import (
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"os"
	"path"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/starford/krecord/internal/layout"
	"github.com/starford/krecord/internal/recordservice"
)

const maxUploadBytes = 50 << 20 // 50 MB

// AssetHandler serves and accepts diary asset files.
type AssetHandler struct {
	svc *recordservice.Service
}

// NewAssetHandler creates a handler over the service's data root.
func NewAssetHandler(svc *recordservice.Service) *AssetHandler {
	return &AssetHandler{svc: svc}
}

// ServeFile handles GET /assets/*. Only files under content/ are served.
func (h *AssetHandler) ServeFile(w http.ResponseWriter, r *http.Request) {
	raw := strings.TrimPrefix(chi.URLParam(r, "*"), "/")
	rel, err := url.PathUnescape(raw)
	if err != nil {
		rel = raw
	}
	rel = path.Clean(rel)
	if rel != layout.ContentDir && !strings.HasPrefix(rel, layout.ContentDir+"/") {
		http.NotFound(w, r)
		return
	}
	fsys := h.svc.Store().FS()
	abs, err := fsys.Abs(rel)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	if info, statErr := os.Stat(abs); statErr != nil || info.IsDir() {
		http.NotFound(w, r)
		return
	}
	http.ServeFile(w, r, abs)
}

// Upload handles POST /api/uploads (multipart/form-data, field "file",
// optional field "occurredAt" choosing the day folder).
//
//	@Summary		Upload an asset into a day folder
//	@Tags			assets
//	@Accept			multipart/form-data
//	@Produce		json
//	@Param			file		formData	file	true	"File"
//	@Param			occurredAt	formData	string	false	"Day the asset belongs to"
//	@Success		201			{object}	UploadResponse
//	@Failure		400			{object}	errResponse
//	@Security		BearerAuth
//	@Router			/uploads [post]
func (h *AssetHandler) Upload(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, maxUploadBytes)

	if err := r.ParseMultipartForm(maxUploadBytes); err != nil {
		writeJSON(w, http.StatusBadRequest, errorBody("file too large or invalid multipart"))
		return
	}

	file, header, err := r.FormFile("file")
	if err != nil {
		writeJSON(w, http.StatusBadRequest, errorBody("missing 'file' field in multipart form"))
		return
	}
	defer file.Close()

	data, err := io.ReadAll(file)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, errorBody("failed to read file"))
		return
	}

	p, err := h.svc.SaveAsset(r.Context(), header.Filename, data, r.FormValue("occurredAt"))
	if err != nil {
		writeError(w, err, "upload", slog.String("filename", header.Filename))
		return
	}

	writeJSON(w, http.StatusCreated, UploadResponse{
		Path: p,
		Size: int64(len(data)),
		URL:  "/assets/" + p,
	})
}
