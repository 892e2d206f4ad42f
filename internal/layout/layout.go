// Package layout knows where every record lives under the data root.
//
// All paths produced here are root-relative and slash-separated; they are
// handed to storage.FS, which resolves them against the root.
package layout

import (
	"path"
	"strings"
	"time"

	"github.com/starford/krecord/internal/assets"
)

const (
	ContentDir   = "content"
	TableDir     = "table"
	RelationsDir = "relations"
	ChildrenDir  = "children"
)

// Layout describes the on-disk structure of one data root.
type Layout struct {
	Root          string // absolute
	ContentDir    string
	TableDir      string
	RelationsDir  string
	RelationsFile string
	SheetMetaFile string
}

// New returns the canonical layout for root.
func New(root string) Layout {
	return Layout{
		Root:          root,
		ContentDir:    ContentDir,
		TableDir:      TableDir,
		RelationsDir:  RelationsDir,
		RelationsFile: path.Join(RelationsDir, "relations.json"),
		SheetMetaFile: path.Join(RelationsDir, "meta.json"),
	}
}

// DayDir returns content/<YYYY>/<YYYYMM>/<YYYYMMDD> for t in UTC.
func (l Layout) DayDir(t time.Time) string {
	t = t.UTC()
	return path.Join(l.ContentDir, t.Format("2006"), t.Format("200601"), t.Format("20060102"))
}

// EntryDir is DayDir, plus children/ for child entries.
func (l Layout) EntryDir(t time.Time, child bool) string {
	if child {
		return path.Join(l.DayDir(t), ChildrenDir)
	}
	return l.DayDir(t)
}

// AssetDir returns the classified asset folder of t's day for name.
func (l Layout) AssetDir(t time.Time, name string) string {
	return path.Join(l.DayDir(t), string(assets.Classify(name)))
}

// SheetFile returns table/<key>.csv.
func (l Layout) SheetFile(key string) string {
	return path.Join(l.TableDir, key+".csv")
}

// DirMaker creates root-relative directories.
type DirMaker interface {
	MkdirAll(rel string) error
}

// EnsureDayStructure creates dayDir with its children/ and asset folders.
func EnsureDayStructure(fs DirMaker, dayDir string) error {
	if err := fs.MkdirAll(path.Join(dayDir, ChildrenDir)); err != nil {
		return err
	}
	for _, c := range assets.Categories {
		if err := fs.MkdirAll(path.Join(dayDir, string(c))); err != nil {
			return err
		}
	}
	return nil
}

// IsDayDir reports whether dir has the content/<YYYY>/<YYYYMM>/<YYYYMMDD> shape.
func IsDayDir(dir string) bool {
	_, ok := ParseDayDir(dir)
	return ok
}

// ParseDayDir parses a content/<YYYY>/<YYYYMM>/<YYYYMMDD> directory.
func ParseDayDir(dir string) (time.Time, bool) {
	segs := strings.Split(dir, "/")
	if len(segs) != 4 || segs[0] != ContentDir {
		return time.Time{}, false
	}
	year, month, day := segs[1], segs[2], segs[3]
	if len(year) != 4 || len(month) != 6 || len(day) != 8 {
		return time.Time{}, false
	}
	if month[:4] != year || day[:6] != month {
		return time.Time{}, false
	}
	t, err := time.Parse("20060102", day)
	if err != nil {
		return time.Time{}, false
	}
	return t, true
}

// EntryLocation reports whether p is a canonical diary file position
// (a day dir or its children/) and whether it sits under children/.
func EntryLocation(p string) (child bool, ok bool) {
	if !strings.HasSuffix(p, ".md") {
		return false, false
	}
	dir := path.Dir(p)
	if path.Base(dir) == ChildrenDir {
		_, ok := ParseDayDir(path.Dir(dir))
		return ok, ok
	}
	_, ok = ParseDayDir(dir)
	return false, ok
}
