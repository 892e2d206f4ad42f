package parser

import (
	"strings"
	"testing"
	"time"
)

func TestParse_FrontmatterAndBody(t *testing.T) {
	input := []byte("---\ntitle: Hello\ntags:\n  - go\n  - life\n---\n# Hello\nBody text.\n")
	r, err := Parse(input)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if r.Title != "Hello" {
		t.Errorf("title = %q, want %q", r.Title, "Hello")
	}
	if r.Body != "# Hello\nBody text.\n" {
		t.Errorf("body = %q", r.Body)
	}
	fm := Decode(r.Frontmatter)
	if len(fm.Tags) != 2 || fm.Tags[0] != "go" || fm.Tags[1] != "life" {
		t.Errorf("tags = %v, want [go life]", fm.Tags)
	}
}

func TestParse_NoFrontmatter(t *testing.T) {
	input := []byte("# Just a heading\nSome text.\n")
	r, err := Parse(input)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(r.Frontmatter) != 0 {
		t.Errorf("expected empty frontmatter, got %v", r.Frontmatter)
	}
	if r.Body != string(input) {
		t.Errorf("body = %q", r.Body)
	}
	if r.Title != "Just a heading" {
		t.Errorf("title = %q, want %q", r.Title, "Just a heading")
	}
}

func TestParse_InvalidYAMLFallback(t *testing.T) {
	input := []byte("---\n: invalid: yaml: {{{\n---\nBody\n")
	r, err := Parse(input)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	// Invalid YAML falls back to treating everything as body.
	if len(r.Frontmatter) != 0 {
		t.Errorf("expected empty frontmatter on invalid YAML")
	}
	if r.Body != string(input) {
		t.Errorf("body = %q", r.Body)
	}
}

func TestParse_EmptyBlock(t *testing.T) {
	r, _ := Parse([]byte("---\n---\ntext\n"))
	if len(r.Frontmatter) != 0 || r.Body != "text\n" {
		t.Errorf("got fm=%v body=%q", r.Frontmatter, r.Body)
	}
}

func TestDecode(t *testing.T) {
	r, _ := Parse([]byte(strings.Join([]string{
		"---",
		"id: diary-1",
		"title: Trip",
		"tags: [a, a, b]",
		"attachments:",
		"  - content/x.png",
		"  - ''",
		"occurredAt: 2024-01-15T10:30:00.000Z",
		"parentId: '  '",
		"cover: ' c.png '",
		"weather: sunny",
		"rating: 4",
		"---",
		"body",
	}, "\n")))
	fm := Decode(r.Frontmatter)
	if fm.ID != "diary-1" || fm.Title != "Trip" {
		t.Errorf("id/title = %q/%q", fm.ID, fm.Title)
	}
	if len(fm.Tags) != 3 {
		t.Errorf("duplicate tags must be kept: %v", fm.Tags)
	}
	if len(fm.Attachments) != 1 || fm.Attachments[0] != "content/x.png" {
		t.Errorf("attachments = %v", fm.Attachments)
	}
	if fm.ParentID != nil {
		t.Errorf("blank parentId should decode as nil, got %q", *fm.ParentID)
	}
	if fm.Cover != "c.png" {
		t.Errorf("cover = %q", fm.Cover)
	}
	if fm.Extra["weather"] != "sunny" || fm.Extra["rating"] != 4 {
		t.Errorf("extra = %v", fm.Extra)
	}
	if fm.OccurredAt == nil {
		t.Error("occurredAt should be kept raw")
	}
}

func TestRenderRoundTrip(t *testing.T) {
	parent := "diary-0"
	in := Frontmatter{
		ID:          "diary-1",
		Title:       "Trip: day one",
		Tags:        []string{"x", "x"},
		Attachments: nil,
		OccurredAt:  time.Date(2024, 1, 15, 10, 30, 0, 0, time.UTC),
		ParentID:    &parent,
		Mood:        "calm",
		Extra:       map[string]any{"zeta": "z", "alpha": []any{"1", "2"}},
	}
	out, err := Render(in, "Line one\n\n![](./imgs/a.png)")
	if err != nil {
		t.Fatalf("Render: %v", err)
	}
	text := string(out)
	order := []string{"id:", "title:", "tags:", "attachments: []", "occurredAt:", "parentId:", "mood:", "alpha:", "zeta:"}
	pos := -1
	for _, key := range order {
		i := strings.Index(text, key)
		if i <= pos {
			t.Fatalf("key %q out of order in:\n%s", key, text)
		}
		pos = i
	}
	if strings.Contains(text, "cover:") {
		t.Error("empty cover must be omitted")
	}

	r, _ := Parse(out)
	got := Decode(r.Frontmatter)
	if got.ID != in.ID || got.Title != in.Title || got.Mood != "calm" {
		t.Errorf("round trip = %+v", got)
	}
	if got.ParentID == nil || *got.ParentID != parent {
		t.Errorf("parentId = %v", got.ParentID)
	}
	if s, ok := got.OccurredAt.(string); !ok || s != "2024-01-15T10:30:00.000Z" {
		if ts, ok := got.OccurredAt.(time.Time); !ok || !ts.Equal(in.OccurredAt.(time.Time)) {
			t.Errorf("occurredAt = %#v", got.OccurredAt)
		}
	}
	if r.Body != "Line one\n\n![](./imgs/a.png)\n" {
		t.Errorf("body = %q", r.Body)
	}
}

func TestRenderNullParent(t *testing.T) {
	out, err := Render(Frontmatter{ID: "d", Title: "t"}, "")
	if err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(string(out), "parentId: null") {
		t.Errorf("expected explicit null parent:\n%s", out)
	}
}
