package models

// SheetMeta is one registry entry in relations/meta.json.
type SheetMeta struct {
	ID          string `json:"id"`
	Key         string `json:"key"`
	Name        string `json:"name"`
	Description string `json:"description,omitempty"`
}

// SheetRow is one CSV line.
type SheetRow struct {
	ID        string   `json:"id"`
	Date      string   `json:"date"`
	Open      float64  `json:"open"`
	High      float64  `json:"high"`
	Low       float64  `json:"low"`
	Close     float64  `json:"close"`
	Note      string   `json:"note"`
	DiaryRefs []string `json:"diaryRefs"`

	// Extra holds columns outside the canonical header, by column name.
	Extra map[string]string `json:"extra,omitempty"`
}

// Sheet is a meta record with its rows.
type Sheet struct {
	SheetMeta
	Rows []SheetRow `json:"rows"`
}

// SheetRowInput is the payload for adding or replacing a row.
type SheetRowInput struct {
	ID        string   `json:"id,omitempty"`
	Date      string   `json:"date"`
	Open      float64  `json:"open"`
	High      float64  `json:"high"`
	Low       float64  `json:"low"`
	Close     float64  `json:"close"`
	Note      string   `json:"note"`
	DiaryRefs []string `json:"diaryRefs"`
}

// SheetPatch updates registry fields.
type SheetPatch struct {
	Name        *string `json:"name,omitempty"`
	Description *string `json:"description,omitempty"`
}

// RelationsMap is the symmetric row/diary index.
type RelationsMap struct {
	SheetRowsToDiaries map[string][]string `json:"sheetRowsToDiaries"`
	DiariesToSheets    map[string][]string `json:"diariesToSheets"`
}

// NewRelationsMap returns an empty map with both sides allocated.
func NewRelationsMap() *RelationsMap {
	return &RelationsMap{
		SheetRowsToDiaries: map[string][]string{},
		DiariesToSheets:    map[string][]string{},
	}
}
