// Package relations maintains the symmetric index between sheet rows and
// diary entries, persisted as relations/relations.json.
package relations

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"sort"

	"github.com/starford/krecord/internal/models"
	"github.com/starford/krecord/internal/storage"
)

// Index reads and rewrites the relations file. Every write replaces the
// whole file.
type Index struct {
	fs   *storage.FS
	file string
}

// New returns an Index over file (root-relative).
func New(fsys *storage.FS, file string) *Index {
	return &Index{fs: fsys, file: file}
}

// Load reads the map. A missing file is an empty map.
func (ix *Index) Load() (*models.RelationsMap, error) {
	data, err := ix.fs.Read(ix.file)
	if errors.Is(err, fs.ErrNotExist) {
		return models.NewRelationsMap(), nil
	}
	if err != nil {
		return nil, fmt.Errorf("relations: load: %w", err)
	}
	return Decode(data)
}

// Decode parses relations JSON, filling absent sides.
func Decode(data []byte) (*models.RelationsMap, error) {
	m := models.NewRelationsMap()
	if len(data) == 0 {
		return m, nil
	}
	if err := json.Unmarshal(data, m); err != nil {
		return nil, fmt.Errorf("relations: decode: %w", err)
	}
	if m.SheetRowsToDiaries == nil {
		m.SheetRowsToDiaries = map[string][]string{}
	}
	if m.DiariesToSheets == nil {
		m.DiariesToSheets = map[string][]string{}
	}
	for k, v := range m.SheetRowsToDiaries {
		if v == nil {
			m.SheetRowsToDiaries[k] = []string{}
		}
	}
	return m, nil
}

// Save writes m as indented JSON.
func (ix *Index) Save(m *models.RelationsMap) error {
	data, err := json.MarshalIndent(m, "", "  ")
	if err != nil {
		return fmt.Errorf("relations: encode: %w", err)
	}
	if err := ix.fs.Write(ix.file, append(data, '\n')); err != nil {
		return fmt.Errorf("relations: save: %w", err)
	}
	return nil
}

// Ensure creates an empty relations file if there is none.
func (ix *Index) Ensure() error {
	if ix.fs.Exists(ix.file) {
		return nil
	}
	return ix.Save(models.NewRelationsMap())
}

// SaveRowRelations replaces the diaries linked to rowID and updates the
// reverse side. The row key is kept even when the list becomes empty so it
// keeps superseding the CSV column.
func (ix *Index) SaveRowRelations(rowID string, diaryIDs []string) (*models.RelationsMap, error) {
	m, err := ix.Load()
	if err != nil {
		return nil, err
	}
	SetRow(m, rowID, diaryIDs)
	if err := ix.Save(m); err != nil {
		return nil, err
	}
	return m, nil
}

// PruneDiary removes a diary from both sides. Rows that referenced it keep
// their keys.
func (ix *Index) PruneDiary(diaryID string) error {
	m, err := ix.Load()
	if err != nil {
		return err
	}
	if !RemoveDiary(m, diaryID) {
		return nil
	}
	return ix.Save(m)
}

// DropRows removes rows and every back-reference to them.
func (ix *Index) DropRows(rowIDs []string) error {
	if len(rowIDs) == 0 {
		return nil
	}
	m, err := ix.Load()
	if err != nil {
		return err
	}
	changed := false
	for _, id := range rowIDs {
		if RemoveRow(m, id) {
			changed = true
		}
	}
	if !changed {
		return nil
	}
	return ix.Save(m)
}

// SetRow is the in-memory form of SaveRowRelations.
func SetRow(m *models.RelationsMap, rowID string, diaryIDs []string) {
	next := dedupe(diaryIDs)
	prev := m.SheetRowsToDiaries[rowID]
	m.SheetRowsToDiaries[rowID] = next

	keep := make(map[string]bool, len(next))
	for _, d := range next {
		keep[d] = true
	}
	for _, d := range prev {
		if !keep[d] {
			unlinkDiary(m, d, rowID)
		}
	}
	// Stray back-references the forward list never named.
	for d, rows := range m.DiariesToSheets {
		if !keep[d] && contains(rows, rowID) {
			unlinkDiary(m, d, rowID)
		}
	}
	for _, d := range next {
		if !contains(m.DiariesToSheets[d], rowID) {
			m.DiariesToSheets[d] = append(m.DiariesToSheets[d], rowID)
		}
	}
}

// RemoveDiary drops diaryID from both sides and reports whether m changed.
func RemoveDiary(m *models.RelationsMap, diaryID string) bool {
	changed := false
	if _, ok := m.DiariesToSheets[diaryID]; ok {
		delete(m.DiariesToSheets, diaryID)
		changed = true
	}
	for row, ds := range m.SheetRowsToDiaries {
		if contains(ds, diaryID) {
			m.SheetRowsToDiaries[row] = without(ds, diaryID)
			changed = true
		}
	}
	return changed
}

// RemoveRow drops rowID and its back-references and reports whether m changed.
func RemoveRow(m *models.RelationsMap, rowID string) bool {
	ds, ok := m.SheetRowsToDiaries[rowID]
	delete(m.SheetRowsToDiaries, rowID)
	for _, d := range ds {
		unlinkDiary(m, d, rowID)
	}
	// Stray back-references without a forward key.
	for d, rows := range m.DiariesToSheets {
		if contains(rows, rowID) {
			unlinkDiary(m, d, rowID)
			ok = true
		}
	}
	return ok
}

func unlinkDiary(m *models.RelationsMap, diaryID, rowID string) {
	rest := without(m.DiariesToSheets[diaryID], rowID)
	if len(rest) == 0 {
		delete(m.DiariesToSheets, diaryID)
		return
	}
	m.DiariesToSheets[diaryID] = rest
}

// Merge returns the union of a and b, symmetric by construction.
func Merge(a, b *models.RelationsMap) *models.RelationsMap {
	out := models.NewRelationsMap()
	for _, src := range []*models.RelationsMap{a, b} {
		if src == nil {
			continue
		}
		for row, ds := range src.SheetRowsToDiaries {
			SetRow(out, row, append(append([]string(nil), out.SheetRowsToDiaries[row]...), ds...))
		}
		for d, rows := range src.DiariesToSheets {
			for _, row := range rows {
				SetRow(out, row, append(append([]string(nil), out.SheetRowsToDiaries[row]...), d))
			}
		}
	}
	return out
}

// Violation describes one asymmetric pair.
type Violation struct {
	RowID   string
	DiaryID string
	Missing string // "diariesToSheets" or "sheetRowsToDiaries"
}

// Check lists every pair present on one side only, in a stable order.
func Check(m *models.RelationsMap) []Violation {
	var out []Violation
	for row, ds := range m.SheetRowsToDiaries {
		for _, d := range ds {
			if !contains(m.DiariesToSheets[d], row) {
				out = append(out, Violation{RowID: row, DiaryID: d, Missing: "diariesToSheets"})
			}
		}
	}
	for d, rows := range m.DiariesToSheets {
		for _, row := range rows {
			if !contains(m.SheetRowsToDiaries[row], d) {
				out = append(out, Violation{RowID: row, DiaryID: d, Missing: "sheetRowsToDiaries"})
			}
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].RowID != out[j].RowID {
			return out[i].RowID < out[j].RowID
		}
		return out[i].DiaryID < out[j].DiaryID
	})
	return out
}

// Repair rebuilds diariesToSheets from the row side, which is authoritative.
func Repair(m *models.RelationsMap) *models.RelationsMap {
	out := models.NewRelationsMap()
	rows := make([]string, 0, len(m.SheetRowsToDiaries))
	for row := range m.SheetRowsToDiaries {
		rows = append(rows, row)
	}
	sort.Strings(rows)
	for _, row := range rows {
		SetRow(out, row, m.SheetRowsToDiaries[row])
	}
	return out
}

// RowsFor returns the rows linked to a diary.
func RowsFor(m *models.RelationsMap, diaryID string) []string {
	return append([]string(nil), m.DiariesToSheets[diaryID]...)
}

func dedupe(in []string) []string {
	out := make([]string, 0, len(in))
	seen := make(map[string]bool, len(in))
	for _, s := range in {
		if s == "" || seen[s] {
			continue
		}
		seen[s] = true
		out = append(out, s)
	}
	return out
}

func contains(list []string, s string) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}

func without(list []string, s string) []string {
	out := make([]string, 0, len(list))
	for _, v := range list {
		if v != s {
			out = append(out, v)
		}
	}
	return out
}
