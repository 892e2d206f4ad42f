package layout

import (
	"os"
	"path"
	"path/filepath"
	"regexp"
	"strings"
	"testing"
	"time"
)

type dirFS struct{ root string }

func (d dirFS) MkdirAll(rel string) error {
	return os.MkdirAll(filepath.Join(d.root, filepath.FromSlash(rel)), 0o755)
}

func (d dirFS) Exists(rel string) bool {
	_, err := os.Stat(filepath.Join(d.root, filepath.FromSlash(rel)))
	return err == nil
}

func TestDayDir(t *testing.T) {
	l := New("/data")
	ts := time.Date(2024, 1, 5, 23, 30, 0, 0, time.FixedZone("x", -3*3600))
	// 23:30 at -03:00 is the 6th in UTC.
	if got, want := l.DayDir(ts), "content/2024/202401/20240106"; got != want {
		t.Errorf("DayDir = %q, want %q", got, want)
	}
	if got, want := l.EntryDir(ts, true), "content/2024/202401/20240106/children"; got != want {
		t.Errorf("EntryDir = %q, want %q", got, want)
	}
	if got, want := l.AssetDir(ts, "x.MOV"), "content/2024/202401/20240106/video"; got != want {
		t.Errorf("AssetDir = %q, want %q", got, want)
	}
	if l.RelationsFile != "relations/relations.json" || l.SheetMetaFile != "relations/meta.json" {
		t.Errorf("unexpected relations paths: %+v", l)
	}
}

func TestEnsureDayStructureIdempotent(t *testing.T) {
	root := t.TempDir()
	fs := dirFS{root}
	dir := "content/2024/202401/20240115"
	for i := 0; i < 2; i++ {
		if err := EnsureDayStructure(fs, dir); err != nil {
			t.Fatalf("EnsureDayStructure #%d: %v", i, err)
		}
	}
	for _, sub := range []string{"children", "imgs", "video", "files"} {
		if !fs.Exists(path.Join(dir, sub)) {
			t.Errorf("missing %s", sub)
		}
	}
}

func TestParseDayDir(t *testing.T) {
	tests := []struct {
		dir string
		ok  bool
	}{
		{"content/2024/202401/20240115", true},
		{"content/2024/202401/20240115/children", false},
		{"content/2024/202402/20240115", false},
		{"content/2024/202402/20240231", false},
		{"dailyReport/2024/202401/20240115", false},
	}
	for _, tt := range tests {
		if _, ok := ParseDayDir(tt.dir); ok != tt.ok {
			t.Errorf("ParseDayDir(%q) ok = %v, want %v", tt.dir, ok, tt.ok)
		}
	}
}

func TestTitleSlug(t *testing.T) {
	tests := []struct{ in, want string }{
		{"Hello World!", "Hello_World"},
		{"  --  ", "diary"},
		{"", "diary"},
		{"今天 很好", "今天_很好"},
		{"a/b\\c", "a_b_c"},
		{"émigré", "migr"},
	}
	for _, tt := range tests {
		if got := TitleSlug(tt.in); got != tt.want {
			t.Errorf("TitleSlug(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

var slugRe = regexp.MustCompile(`^content/2024/202401/20240115/0x[0-9a-f]{1,6}-Trip\.md$`)

func TestDiaryPath(t *testing.T) {
	root := t.TempDir()
	fs := dirFS{root}
	r := Resolver{Layout: New(root), FS: fs, Now: func() time.Time { return time.UnixMilli(1705312800123) }}
	day := time.Date(2024, 1, 15, 10, 0, 0, 0, time.UTC)

	p, err := r.DiaryPath("Trip", day, false, "")
	if err != nil {
		t.Fatal(err)
	}
	if !slugRe.MatchString(p) {
		t.Fatalf("unexpected path %q", p)
	}
	if !fs.Exists("content/2024/202401/20240115/imgs") {
		t.Error("day structure not created")
	}

	// Occupied by another file: a suffixed name is drawn.
	if err := os.WriteFile(filepath.Join(root, filepath.FromSlash(p)), []byte("x"), 0o644); err != nil {
		t.Fatal(err)
	}
	p2, err := r.DiaryPath("Trip", day, false, "")
	if err != nil {
		t.Fatal(err)
	}
	if p2 == p || !strings.HasPrefix(p2, strings.TrimSuffix(p, ".md")+"-") {
		t.Errorf("collision path = %q (first %q)", p2, p)
	}

	// The file's own path is reused when it already lives in the target dir.
	p3, err := r.DiaryPath("Other title", day, false, p)
	if err != nil {
		t.Fatal(err)
	}
	if p3 != p {
		t.Errorf("reuse: got %q, want %q", p3, p)
	}

	// Becoming a child moves into children/ with the same basename.
	p4, err := r.DiaryPath("Trip", day, true, "content/2024/202401/20240115/children/keep.md")
	if err != nil {
		t.Fatal(err)
	}
	if p4 != "content/2024/202401/20240115/children/keep.md" {
		t.Errorf("child reuse: got %q", p4)
	}
}

func TestRandomSuffix(t *testing.T) {
	for i := 0; i < 50; i++ {
		s := RandomSuffix()
		if len(s) != 2 || strings.Trim(s, base36) != "" {
			t.Fatalf("bad suffix %q", s)
		}
	}
}

func TestEntryLocation(t *testing.T) {
	tests := []struct {
		p         string
		child, ok bool
	}{
		{"content/2024/202401/20240115/a.md", false, true},
		{"content/2024/202401/20240115/children/a.md", true, true},
		{"content/2024/202401/20240115/imgs/a.md", false, false},
		{"content/post/a.md", false, false},
		{"content/2024/202401/20240115/a.txt", false, false},
	}
	for _, tt := range tests {
		child, ok := EntryLocation(tt.p)
		if child != tt.child || ok != tt.ok {
			t.Errorf("EntryLocation(%q) = %v,%v want %v,%v", tt.p, child, ok, tt.child, tt.ok)
		}
	}
}
