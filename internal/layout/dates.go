package layout

import (
	"path"
	"regexp"
	"strings"
	"time"
)

// TimestampLayout is how occurredAt is written back to frontmatter.
const TimestampLayout = "2006-01-02T15:04:05.000Z"

// FormatTimestamp renders t in UTC with millisecond precision.
func FormatTimestamp(t time.Time) string {
	return t.UTC().Format(TimestampLayout)
}

var timestampLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02T15:04:05Z0700",
	"2006-01-02T15:04:05.999999999",
	"2006-01-02T15:04:05",
	"2006-01-02T15:04",
	"2006-01-02 15:04:05",
	"2006-01-02 15:04",
	"2006-01-02",
	"2006/01/02",
	"2006/01/02 15:04:05",
}

// ParseTimestamp accepts a frontmatter value (string, time.Time, epoch ms).
// Values without a zone are read as UTC.
func ParseTimestamp(value any) (time.Time, bool) {
	switch v := value.(type) {
	case time.Time:
		if v.IsZero() {
			return time.Time{}, false
		}
		return v.UTC(), true
	case *time.Time:
		if v == nil {
			return time.Time{}, false
		}
		return ParseTimestamp(*v)
	case string:
		s := strings.TrimSpace(v)
		if s == "" {
			return time.Time{}, false
		}
		for _, l := range timestampLayouts {
			if t, err := time.Parse(l, s); err == nil {
				return t.UTC(), true
			}
		}
		return time.Time{}, false
	case int:
		return time.UnixMilli(int64(v)).UTC(), true
	case int64:
		return time.UnixMilli(v).UTC(), true
	case float64:
		return time.UnixMilli(int64(v)).UTC(), true
	default:
		return time.Time{}, false
	}
}

var dayDirRe = regexp.MustCompile(`^\d{8}$`)

// DateFromDayDir returns the date of the deepest YYYYMMDD directory in p.
func DateFromDayDir(p string) (time.Time, bool) {
	segs := strings.Split(path.Dir(strings.ReplaceAll(p, "\\", "/")), "/")
	for i := len(segs) - 1; i >= 0; i-- {
		if !dayDirRe.MatchString(segs[i]) {
			continue
		}
		if t, err := time.Parse("20060102", segs[i]); err == nil {
			return t, true
		}
	}
	return time.Time{}, false
}

var legacyDateRe = regexp.MustCompile(`(\d{4})[-/]?(\d{2})[-/]?(\d{2})`)

// DateFromLegacyPath returns the first valid YYYY[-/]MM[-/]DD run in p.
func DateFromLegacyPath(p string) (time.Time, bool) {
	p = strings.ReplaceAll(p, "\\", "/")
	for _, m := range legacyDateRe.FindAllStringSubmatch(p, -1) {
		if t, err := time.Parse("2006-01-02", m[1]+"-"+m[2]+"-"+m[3]); err == nil {
			return t, true
		}
	}
	return time.Time{}, false
}

// DateSource resolves an occurredAt from a frontmatter value and/or path.
type DateSource func(value any, p string) (time.Time, bool)

func fromValue(value any, _ string) (time.Time, bool) { return ParseTimestamp(value) }
func fromDayDir(_ any, p string) (time.Time, bool)    { return DateFromDayDir(p) }
func fromLegacy(_ any, p string) (time.Time, bool)    { return DateFromLegacyPath(p) }

var (
	// CanonicalChain serves files already under content/.
	CanonicalChain = []DateSource{fromValue, fromDayDir}
	// LegacyChain serves files found in pre-layout folders.
	LegacyChain = []DateSource{fromValue, fromLegacy}
)

// ResolveOccurredAt walks chain in order and falls back to now.
func ResolveOccurredAt(value any, p string, now time.Time, chain ...DateSource) time.Time {
	for _, src := range chain {
		if t, ok := src(value, p); ok {
			return t
		}
	}
	return now.UTC()
}

// DeriveID builds diary-<YYYYMMDD>-<basename> for files without an id.
func DeriveID(p string, date time.Time) string {
	base := strings.TrimSuffix(path.Base(strings.ReplaceAll(p, "\\", "/")), ".md")
	return "diary-" + date.UTC().Format("20060102") + "-" + base
}
