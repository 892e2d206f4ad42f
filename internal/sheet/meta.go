package sheet

import (
	"encoding/json"
	"fmt"
	"regexp"
	"strconv"
	"strings"

	"github.com/starford/krecord/internal/models"
)

// decodeMetas accepts either a bare array or {"sheets": [...]} and fills
// missing key, name and id fields.
func decodeMetas(data []byte) ([]models.SheetMeta, error) {
	trimmed := strings.TrimSpace(string(data))
	if trimmed == "" {
		return []models.SheetMeta{}, nil
	}
	var raw []models.SheetMeta
	if strings.HasPrefix(trimmed, "{") {
		var wrapped struct {
			Sheets []models.SheetMeta `json:"sheets"`
		}
		if err := json.Unmarshal([]byte(trimmed), &wrapped); err != nil {
			return nil, fmt.Errorf("sheet: decode meta: %w", err)
		}
		raw = wrapped.Sheets
	} else if err := json.Unmarshal([]byte(trimmed), &raw); err != nil {
		return nil, fmt.Errorf("sheet: decode meta: %w", err)
	}
	out := make([]models.SheetMeta, 0, len(raw))
	for i, m := range raw {
		out = append(out, normalizeMeta(m, i))
	}
	return out, nil
}

func normalizeMeta(m models.SheetMeta, idx int) models.SheetMeta {
	key := strings.TrimSpace(m.Key)
	if key == "" {
		key = strings.TrimPrefix(m.ID, "sheet-")
	}
	if key == "" {
		key = "sheet-" + strconv.Itoa(idx)
	}
	m.Key = key
	if strings.TrimSpace(m.Name) == "" {
		m.Name = key
	}
	if m.ID == "" {
		m.ID = "sheet-" + key
	}
	return m
}

var keyStrip = regexp.MustCompile(`[^a-zA-Z0-9\x{4e00}-\x{9fa5}]+`)

// Slug derives a filename-safe sheet key from a display name.
func Slug(name string) string {
	s := keyStrip.ReplaceAllString(strings.TrimSpace(name), "-")
	return strings.ToLower(strings.Trim(s, "-"))
}

// sheetID is sheet-<key> unless the key already carries the prefix.
func sheetID(key string) string {
	if strings.HasPrefix(key, "sheet-") {
		return key
	}
	return "sheet-" + key
}
