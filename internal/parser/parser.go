// Package parser splits and renders the YAML frontmatter of diary files and
// rewrites the asset links inside their bodies.
package parser

import (
	"bytes"
	"strings"

	"gopkg.in/yaml.v3"
)

// Result holds the output of parsing a Markdown file.
type Result struct {
	Frontmatter map[string]any
	Body        string
	Title       string
}

// Parse extracts frontmatter, body and a display title from raw Markdown bytes.
// Missing or invalid frontmatter yields an empty map and the whole text as body.
func Parse(data []byte) (*Result, error) {
	fm, body := splitFrontmatter(data)
	if fm == nil {
		fm = map[string]any{}
	}
	return &Result{
		Frontmatter: fm,
		Body:        body,
		Title:       deriveTitle(fm, body),
	}, nil
}

// splitFrontmatter separates YAML frontmatter (between leading --- delimiters)
// from the Markdown body. If no frontmatter is found the entire content is body.
func splitFrontmatter(data []byte) (map[string]any, string) {
	const delim = "---"
	trimmed := bytes.TrimLeft(data, "\n\r")
	// BOM-prefixed files come from some desktop editors.
	trimmed = bytes.TrimPrefix(trimmed, []byte("\xef\xbb\xbf"))

	if !bytes.HasPrefix(trimmed, []byte(delim)) {
		return nil, string(data)
	}

	rest := trimmed[len(delim):]
	var yamlBlock, afterDelim []byte
	if bytes.HasPrefix(bytes.TrimLeft(rest, "\r\n"), []byte(delim)) {
		// Empty block: "---\n---".
		rest = bytes.TrimLeft(rest, "\r\n")
		afterDelim = rest[len(delim):]
	} else {
		idx := bytes.Index(rest, []byte("\n"+delim))
		if idx < 0 {
			// No closing delimiter, treat everything as body.
			return nil, string(data)
		}
		yamlBlock = rest[:idx]
		afterDelim = rest[idx+1+len(delim):]
	}
	body := strings.TrimLeft(string(afterDelim), "\n\r")

	fm := map[string]any{}
	if len(bytes.TrimSpace(yamlBlock)) > 0 {
		if err := yaml.Unmarshal(yamlBlock, &fm); err != nil {
			return nil, string(data)
		}
		if fm == nil {
			fm = map[string]any{}
		}
	}
	return fm, body
}

// deriveTitle returns the frontmatter "title" if present, otherwise the first
// H1 heading, otherwise empty string.
func deriveTitle(fm map[string]any, body string) string {
	if s, ok := fm["title"].(string); ok && strings.TrimSpace(s) != "" {
		return s
	}
	for _, line := range strings.Split(body, "\n") {
		trimmed := strings.TrimSpace(line)
		if strings.HasPrefix(trimmed, "# ") {
			return strings.TrimSpace(trimmed[2:])
		}
	}
	return ""
}
