package api

import (
	"github.com/starford/krecord/internal/index"
	"github.com/starford/krecord/internal/models"
)

// DiaryListResponse wraps paginated diary listings.
type DiaryListResponse struct {
	Diaries []models.DiaryEntry `json:"diaries" validate:"required"`
	Total   int                 `json:"total" example:"42" validate:"required"`
}

// SheetRequest is the body for creating or patching a sheet.
type SheetRequest struct {
	Name        *string `json:"name,omitempty" example:"BTC daily"`
	Description *string `json:"description,omitempty"`
}

// SheetListResponse wraps every sheet with its rows.
type SheetListResponse struct {
	Sheets []models.Sheet `json:"sheets" validate:"required"`
}

// SearchResponse wraps search results.
type SearchResponse struct {
	Results []index.SearchResult `json:"results" validate:"required"`
}

// UploadResponse is returned after a successful upload.
type UploadResponse struct {
	Path string `json:"path" example:"content/2024/202401/20240115/imgs/a.png" validate:"required"`
	Size int64  `json:"size" example:"12345" validate:"required"`
	URL  string `json:"url" example:"/assets/content/2024/202401/20240115/imgs/a.png" validate:"required"`
}
