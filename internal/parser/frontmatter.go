package parser

import (
	"bytes"
	"fmt"
	"sort"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Frontmatter keys in the order they are written.
const (
	KeyID          = "id"
	KeyTitle       = "title"
	KeyTags        = "tags"
	KeyAttachments = "attachments"
	KeyOccurredAt  = "occurredAt"
	KeyParentID    = "parentId"
	KeyCover       = "cover"
	KeyMood        = "mood"
)

var knownKeys = map[string]bool{
	KeyID: true, KeyTitle: true, KeyTags: true, KeyAttachments: true,
	KeyOccurredAt: true, KeyParentID: true, KeyCover: true, KeyMood: true,
}

// Frontmatter is the typed view of a diary file header. Keys the store does
// not know about are kept in Extra and written back untouched.
type Frontmatter struct {
	ID          string
	Title       string
	Tags        []string
	Attachments []string
	OccurredAt  any // raw value; string, time.Time or absent
	ParentID    *string
	Cover       string
	Mood        string
	Extra       map[string]any
}

// Decode reads the recognised keys out of a parsed frontmatter map.
func Decode(fm map[string]any) Frontmatter {
	out := Frontmatter{
		ID:          strings.TrimSpace(scalarString(fm[KeyID])),
		Title:       scalarString(fm[KeyTitle]),
		Tags:        stringList(fm[KeyTags]),
		Attachments: nonEmpty(stringList(fm[KeyAttachments])),
		OccurredAt:  fm[KeyOccurredAt],
		Cover:       strings.TrimSpace(scalarString(fm[KeyCover])),
		Mood:        strings.TrimSpace(scalarString(fm[KeyMood])),
	}
	if p := strings.TrimSpace(scalarString(fm[KeyParentID])); p != "" {
		out.ParentID = &p
	}
	for k, v := range fm {
		if knownKeys[k] {
			continue
		}
		if out.Extra == nil {
			out.Extra = map[string]any{}
		}
		out.Extra[k] = v
	}
	return out
}

// Render writes the frontmatter block followed by body.
func Render(fm Frontmatter, body string) ([]byte, error) {
	doc := &yaml.Node{Kind: yaml.MappingNode}
	add := func(key string, v any) error {
		var vn yaml.Node
		if v == nil {
			vn = yaml.Node{Kind: yaml.ScalarNode, Tag: "!!null", Value: "null"}
		} else if err := vn.Encode(v); err != nil {
			return fmt.Errorf("parser: encode %s: %w", key, err)
		}
		doc.Content = append(doc.Content,
			&yaml.Node{Kind: yaml.ScalarNode, Tag: "!!str", Value: key}, &vn)
		return nil
	}

	var parent any
	if fm.ParentID != nil {
		parent = *fm.ParentID
	}
	var occurred any
	switch v := fm.OccurredAt.(type) {
	case time.Time:
		occurred = v.UTC().Format("2006-01-02T15:04:05.000Z")
	default:
		occurred = v
	}
	fields := []struct {
		key  string
		val  any
		skip bool
	}{
		{KeyID, fm.ID, false},
		{KeyTitle, fm.Title, false},
		{KeyTags, orEmpty(fm.Tags), false},
		{KeyAttachments, orEmpty(fm.Attachments), false},
		{KeyOccurredAt, occurred, occurred == nil},
		{KeyParentID, parent, false},
		{KeyCover, fm.Cover, fm.Cover == ""},
		{KeyMood, fm.Mood, fm.Mood == ""},
	}
	for _, f := range fields {
		if f.skip {
			continue
		}
		if err := add(f.key, f.val); err != nil {
			return nil, err
		}
	}

	keys := make([]string, 0, len(fm.Extra))
	for k := range fm.Extra {
		if !knownKeys[k] {
			keys = append(keys, k)
		}
	}
	sort.Strings(keys)
	for _, k := range keys {
		if err := add(k, fm.Extra[k]); err != nil {
			return nil, err
		}
	}

	var buf bytes.Buffer
	buf.WriteString("---\n")
	enc := yaml.NewEncoder(&buf)
	enc.SetIndent(2)
	if err := enc.Encode(doc); err != nil {
		return nil, fmt.Errorf("parser: render frontmatter: %w", err)
	}
	if err := enc.Close(); err != nil {
		return nil, fmt.Errorf("parser: render frontmatter: %w", err)
	}
	buf.WriteString("---\n")
	buf.WriteString(body)
	if body != "" && !strings.HasSuffix(body, "\n") {
		buf.WriteByte('\n')
	}
	return buf.Bytes(), nil
}

func scalarString(v any) string {
	switch s := v.(type) {
	case nil:
		return ""
	case string:
		return s
	case time.Time:
		return s.UTC().Format("2006-01-02T15:04:05.000Z")
	case []any, map[string]any:
		return ""
	default:
		return fmt.Sprint(s)
	}
}

func stringList(v any) []string {
	switch l := v.(type) {
	case []any:
		out := make([]string, 0, len(l))
		for _, item := range l {
			if item == nil {
				continue
			}
			out = append(out, scalarString(item))
		}
		return out
	case []string:
		return append([]string(nil), l...)
	case string:
		if strings.TrimSpace(l) == "" {
			return []string{}
		}
		return []string{l}
	default:
		return []string{}
	}
}

func nonEmpty(in []string) []string {
	out := in[:0]
	for _, s := range in {
		if strings.TrimSpace(s) != "" {
			out = append(out, s)
		}
	}
	return out
}

func orEmpty(s []string) []string {
	if s == nil {
		return []string{}
	}
	return s
}
