package parser

import (
	"path"
	"regexp"
	"sort"
	"strings"
)

var (
	markdownLinkRe = regexp.MustCompile(`(!?\[[^\]]*\]\()(\.{1,2}/[^)]+)(\))`)
	htmlSrcRe      = regexp.MustCompile(`(?i)(<(?:img|video|audio|source)[^>]*\ssrc=["'])(\.{1,2}/[^"']+)(["'])`)
	htmlHrefRe     = regexp.MustCompile(`(?i)(<a[^>]*\shref=["'])(\.{1,2}/[^"']+)(["'])`)
	bareMediaRe    = regexp.MustCompile(`(?i)[A-Za-z0-9_.-]+\.(?:png|jpg|jpeg|gif|webp|svg|avif|mp4|mov|webm|m4v|avi|mkv)`)

	anyTargetRes = []*regexp.Regexp{
		regexp.MustCompile(`(!?\[[^\]]*\]\()([^)\s]+)(\))`),
		regexp.MustCompile(`(?i)(<(?:img|video|audio|source)[^>]*\ssrc=["'])([^"']+)(["'])`),
		regexp.MustCompile(`(?i)(<a[^>]*\shref=["'])([^"']+)(["'])`),
	}
)

// RewriteRelativeLinks turns ./ and ../ link targets into root-relative
// paths, resolved against fileDir (itself root-relative). Targets that would
// leave the root are kept as written.
func RewriteRelativeLinks(content, fileDir string) string {
	if !strings.Contains(content, "./") {
		return content
	}
	resolve := func(rel string) string {
		joined := path.Join(fileDir, rel)
		if joined == "." || joined == ".." || strings.HasPrefix(joined, "../") {
			return rel
		}
		return joined
	}
	for _, re := range []*regexp.Regexp{markdownLinkRe, htmlSrcRe, htmlHrefRe} {
		content = re.ReplaceAllStringFunc(content, func(m string) string {
			sub := re.FindStringSubmatch(m)
			return sub[1] + resolve(sub[2]) + sub[3]
		})
	}
	return content
}

// isPathChar reports whether c can be part of a path next to a media name.
func isPathChar(c byte) bool {
	return c >= 'a' && c <= 'z' || c >= 'A' && c <= 'Z' || c >= '0' && c <= '9' ||
		c == '_' || c == '/' || c == '.' || c == '-'
}

// bareSpans returns the byte ranges of media filenames written without any
// directory component.
func bareSpans(content string) [][]int {
	var out [][]int
	for _, loc := range bareMediaRe.FindAllStringIndex(content, -1) {
		if loc[0] > 0 && isPathChar(content[loc[0]-1]) {
			continue
		}
		if loc[1] < len(content) && isPathChar(content[loc[1]]) {
			continue
		}
		out = append(out, loc)
	}
	return out
}

// BareMediaNames lists, sorted and deduplicated, the media filenames that
// appear in content without a path.
func BareMediaNames(content string) []string {
	seen := map[string]bool{}
	var out []string
	for _, loc := range bareSpans(content) {
		name := content[loc[0]:loc[1]]
		if !seen[name] {
			seen[name] = true
			out = append(out, name)
		}
	}
	sort.Strings(out)
	return out
}

// ReplaceBareName replaces every bare occurrence of name with repl.
// It reports whether anything changed.
func ReplaceBareName(content, name, repl string) (string, bool) {
	var b strings.Builder
	last := 0
	changed := false
	for _, loc := range bareSpans(content) {
		if content[loc[0]:loc[1]] != name {
			continue
		}
		b.WriteString(content[last:loc[0]])
		b.WriteString(repl)
		last = loc[1]
		changed = true
	}
	if !changed {
		return content, false
	}
	b.WriteString(content[last:])
	return b.String(), true
}

// ReplaceLinkTargets swaps every link or src target that repl maps to a new
// path. Targets are compared without a leading slash.
func ReplaceLinkTargets(content string, repl map[string]string) string {
	if len(repl) == 0 {
		return content
	}
	for _, re := range anyTargetRes {
		content = re.ReplaceAllStringFunc(content, func(m string) string {
			sub := re.FindStringSubmatch(m)
			if next, ok := repl[strings.TrimLeft(sub[2], "/")]; ok {
				return sub[1] + next + sub[3]
			}
			return m
		})
	}
	return content
}
