package layout

import (
	"math/rand/v2"
	"path"
	"regexp"
	"strconv"
	"strings"
	"time"
)

// FileSystem is the part of storage.FS the resolver needs.
type FileSystem interface {
	DirMaker
	Exists(rel string) bool
}

// Resolver picks canonical file paths for diary entries.
type Resolver struct {
	Layout Layout
	FS     FileSystem
	Now    func() time.Time
}

// DiaryPath returns the root-relative path an entry should live at and
// makes sure the day skeleton exists. currentPath is kept when it already
// sits in the target directory.
func (r Resolver) DiaryPath(title string, occurredAt time.Time, isChild bool, currentPath string) (string, error) {
	dayDir := r.Layout.DayDir(occurredAt)
	if err := EnsureDayStructure(r.FS, dayDir); err != nil {
		return "", err
	}
	targetDir := r.Layout.EntryDir(occurredAt, isChild)

	var slug string
	if currentPath != "" && path.Dir(currentPath) == targetDir {
		slug = strings.TrimSuffix(path.Base(currentPath), ".md")
	} else {
		slug = r.slug(title)
	}
	candidate := path.Join(targetDir, slug+".md")
	for candidate != currentPath && r.FS.Exists(candidate) {
		candidate = path.Join(targetDir, r.slug(title)+"-"+RandomSuffix()+".md")
	}
	return candidate, nil
}

func (r Resolver) slug(title string) string {
	hex := strconv.FormatInt(r.now().UnixMilli(), 16)
	if len(hex) > 6 {
		hex = hex[len(hex)-6:]
	}
	return "0x" + hex + "-" + TitleSlug(title)
}

func (r Resolver) now() time.Time {
	if r.Now != nil {
		return r.Now()
	}
	return time.Now()
}

var slugStrip = regexp.MustCompile(`[^a-zA-Z0-9\x{4e00}-\x{9fa5}]+`)

// TitleSlug turns a title into a filename fragment; empty titles give "diary".
func TitleSlug(title string) string {
	s := slugStrip.ReplaceAllString(strings.TrimSpace(title), "_")
	s = strings.Trim(s, "_")
	if s == "" {
		return "diary"
	}
	return s
}

const base36 = "0123456789abcdefghijklmnopqrstuvwxyz"

// RandomSuffix returns two random base-36 characters.
func RandomSuffix() string {
	return string([]byte{base36[rand.IntN(36)], base36[rand.IntN(36)]})
}
