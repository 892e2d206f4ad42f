package sheet

import (
	"bytes"
	"encoding/csv"
	"errors"
	"io"
	"strings"
)

// Columns is the canonical CSV header.
var Columns = []string{"id", "date", "open", "high", "low", "close", "note", "diary_refs"}

var canonical = func() map[string]bool {
	m := make(map[string]bool, len(Columns))
	for _, c := range Columns {
		m[c] = true
	}
	return m
}()

// table is a CSV file as header plus records keyed by column name.
type table struct {
	header  []string
	records []map[string]string
}

func (t *table) has(col string) bool {
	for _, h := range t.header {
		if h == col {
			return true
		}
	}
	return false
}

// parseTable reads CSV leniently: stray quotes are accepted, rows may be
// short or long, and a syntax error keeps the rows read so far.
func parseTable(data []byte) *table {
	data = bytes.TrimPrefix(data, []byte("\xef\xbb\xbf"))
	r := csv.NewReader(bytes.NewReader(data))
	r.LazyQuotes = true
	r.FieldsPerRecord = -1

	t := &table{}
	first := true
	for {
		rec, err := r.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			break
		}
		if first {
			first = false
			for _, h := range rec {
				t.header = append(t.header, strings.TrimSpace(h))
			}
			continue
		}
		if len(rec) == 1 && strings.TrimSpace(rec[0]) == "" {
			continue
		}
		row := make(map[string]string, len(t.header))
		for i, h := range t.header {
			if i < len(rec) {
				row[h] = strings.TrimSpace(rec[i])
			} else {
				row[h] = ""
			}
		}
		t.records = append(t.records, row)
	}
	if t.header == nil {
		t.header = append([]string(nil), Columns...)
	}
	return t
}

// outputHeader is the canonical columns followed by any extra columns in
// their original order.
func (t *table) outputHeader() []string {
	out := append([]string(nil), Columns...)
	for _, h := range t.header {
		if h != "" && !canonical[h] {
			out = append(out, h)
		}
	}
	return out
}

// encode writes the header and every record. The header is always present.
func (t *table) encode() ([]byte, error) {
	var buf bytes.Buffer
	w := csv.NewWriter(&buf)
	header := t.outputHeader()
	if err := w.Write(header); err != nil {
		return nil, err
	}
	line := make([]string, len(header))
	for _, rec := range t.records {
		for i, h := range header {
			line[i] = rec[h]
		}
		if err := w.Write(line); err != nil {
			return nil, err
		}
	}
	w.Flush()
	if err := w.Error(); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}
