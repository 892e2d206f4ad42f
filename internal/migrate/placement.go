package migrate

import (
	"context"
	"fmt"
	"io/fs"
	"log/slog"
	"path"
	"strings"
	"time"

	"github.com/starford/krecord/internal/assets"
	"github.com/starford/krecord/internal/diary"
	"github.com/starford/krecord/internal/layout"
	"github.com/starford/krecord/internal/parser"
)

// NormalizePlacement moves every diary file to the directory its
// frontmatter implies, pulls its assets into that day, resolves bare media
// names and prunes empty day folders. Running it twice moves nothing the
// second time.
func (n *Normalizer) NormalizePlacement(ctx context.Context) (Report, error) {
	var rep Report
	files, err := diary.Files(n.fs, n.layout)
	if err != nil {
		return rep, fmt.Errorf("migrate: list diaries: %w", err)
	}
	for _, p := range files {
		if err := ctx.Err(); err != nil {
			return rep, err
		}
		if err := n.place(p, &rep); err != nil {
			rep.Skipped++
			n.logger.Warn("placement skipped", slog.String("path", p), slog.String("error", err.Error()))
		}
	}
	pruned, err := n.pruneDays()
	rep.Pruned += pruned
	if err != nil {
		n.logger.Warn("prune empty days failed", slog.String("error", err.Error()))
	}
	return rep, nil
}

func (n *Normalizer) place(p string, rep *Report) error {
	data, err := n.fs.Read(p)
	if err != nil {
		return err
	}
	res, err := parser.Parse(data)
	if err != nil {
		return err
	}
	fm := parser.Decode(res.Frontmatter)
	occurred := layout.ResolveOccurredAt(fm.OccurredAt, p, n.now(), layout.CanonicalChain...)
	child := fm.ParentID != nil
	if err := layout.EnsureDayStructure(n.fs, n.layout.DayDir(occurred)); err != nil {
		return err
	}
	expectedDir := n.layout.EntryDir(occurred, child)
	target := n.fs.UniquePath(expectedDir, path.Base(p), p)

	moved := map[string]string{}
	changed := n.relocateRefs(&fm, occurred, moved)
	src := res.Body
	if path.Dir(target) != path.Dir(p) {
		// Relative links only resolve from the directory they were written in.
		src = parser.RewriteRelativeLinks(src, path.Dir(p))
	}
	src = parser.ReplaceLinkTargets(src, moved)
	body, rewrote := n.resolveBareNames(src, expectedDir, occurred)
	changed = changed || rewrote || src != res.Body
	if fm.ID == "" && (changed || target != p) {
		// Pin the path-derived id before the path changes.
		day, ok := layout.DateFromDayDir(p)
		if !ok {
			day = occurred
		}
		fm.ID = layout.DeriveID(p, day)
		changed = true
	}

	if changed {
		if fm.Title == "" {
			fm.Title = strings.TrimSuffix(path.Base(p), ".md")
		}
		out, err := parser.Render(fm, body)
		if err != nil {
			return err
		}
		if err := n.fs.Write(target, out); err != nil {
			return err
		}
		rep.Rewritten++
		if target != p {
			if err := n.fs.Delete(p); err != nil {
				return err
			}
			rep.Moved++
		}
		return nil
	}
	if target != p {
		if err := n.fs.Move(p, target); err != nil {
			return err
		}
		rep.Moved++
	}
	return nil
}

// relocateRefs moves attachments and the cover into the day's asset
// folders and rewrites their paths. Each rewritten ref is recorded in moved,
// keyed by its normalized old path. It reports whether fm changed.
func (n *Normalizer) relocateRefs(fm *parser.Frontmatter, occurred time.Time, moved map[string]string) bool {
	changed := false
	for i, att := range fm.Attachments {
		if np, ok := n.relocateAsset(att, occurred); ok {
			fm.Attachments[i] = np
			recordMove(moved, att, np)
			changed = true
		}
	}
	if fm.Cover != "" {
		if np, ok := n.relocateAsset(fm.Cover, occurred); ok {
			recordMove(moved, fm.Cover, np)
			fm.Cover = np
			changed = true
		}
	}
	return changed
}

func recordMove(moved map[string]string, ref, np string) {
	if key, ok := normalizeRef(ref); ok && key != np {
		moved[key] = np
	}
}

// normalizeRef cleans a local ref into a root-relative slash path.
func normalizeRef(ref string) (string, bool) {
	norm := strings.TrimLeft(strings.ReplaceAll(strings.TrimSpace(ref), "\\", "/"), "/")
	norm = strings.TrimPrefix(path.Clean(norm), "./")
	if norm == "" || norm == "." || strings.HasPrefix(norm, "../") {
		return "", false
	}
	return norm, true
}

// relocateAsset returns the new root-relative path of ref and true when it
// changed. Assets already in some day's asset folder stay where they are.
func (n *Normalizer) relocateAsset(ref string, occurred time.Time) (string, bool) {
	if isExternal(ref) {
		return ref, false
	}
	norm, ok := normalizeRef(ref)
	if !ok {
		return ref, false
	}
	src := norm
	if !n.isFile(src) {
		found, ok := n.findAsset(path.Base(norm))
		if !ok {
			return ref, false
		}
		src = found
	}
	if isCanonicalAsset(src) {
		return src, src != ref
	}
	name := path.Base(src)
	np, err := n.fs.MoveUnique(src, n.layout.AssetDir(occurred, name), name)
	if err != nil {
		n.logger.Warn("asset move failed", slog.String("asset", src), slog.String("error", err.Error()))
		return ref, false
	}
	return np, np != ref
}

// resolveBareNames finds media written without a path, pulls each file
// into the entry's day and replaces the name with a path relative to dir.
func (n *Normalizer) resolveBareNames(body, dir string, occurred time.Time) (string, bool) {
	changed := false
	for _, name := range parser.BareMediaNames(body) {
		found, ok := n.findAsset(name)
		if !ok {
			continue
		}
		dest := found
		if !isCanonicalAsset(found) {
			moved, err := n.fs.MoveUnique(found, n.layout.AssetDir(occurred, name), name)
			if err != nil {
				n.logger.Warn("asset move failed", slog.String("asset", found), slog.String("error", err.Error()))
				continue
			}
			dest = moved
		}
		next, ok := parser.ReplaceBareName(body, name, relativeTo(dir, dest))
		if ok {
			body = next
			changed = true
		}
	}
	return body, changed
}

// findAsset looks for a file by basename: at the root, in assets/, directly
// under content/, then anywhere in the content and legacy trees.
func (n *Normalizer) findAsset(name string) (string, bool) {
	if name == "" || name == "." || name == "/" {
		return "", false
	}
	for _, cand := range []string{name, path.Join(LegacyAssetDir, name), path.Join(n.layout.ContentDir, name)} {
		if n.isFile(cand) {
			return cand, true
		}
	}
	for _, dir := range []string{n.layout.ContentDir, LegacyAssetDir, LegacyDiaryDir} {
		var hit string
		err := n.fs.Walk(dir, func(rel string, d fs.DirEntry) error {
			if !d.IsDir() && d.Name() == name {
				hit = rel
				return fs.SkipAll
			}
			return nil
		})
		if hit != "" {
			return hit, true
		}
		if err != nil {
			n.logger.Warn("asset search failed", slog.String("dir", dir), slog.String("error", err.Error()))
		}
	}
	return "", false
}

func (n *Normalizer) isFile(p string) bool {
	return n.fs.Exists(p) && !n.fs.IsDir(p)
}

// pruneDays removes day folders that hold no files at all, then empty
// month and year folders.
func (n *Normalizer) pruneDays() (int, error) {
	pruned := 0
	years, err := n.fs.ReadDir(n.layout.ContentDir)
	if err != nil {
		return 0, err
	}
	for _, y := range years {
		if !y.IsDir() {
			continue
		}
		yearDir := path.Join(n.layout.ContentDir, y.Name())
		months, err := n.fs.ReadDir(yearDir)
		if err != nil {
			return pruned, err
		}
		for _, m := range months {
			if !m.IsDir() {
				continue
			}
			monthDir := path.Join(yearDir, m.Name())
			days, err := n.fs.ReadDir(monthDir)
			if err != nil {
				return pruned, err
			}
			for _, d := range days {
				dayDir := path.Join(monthDir, d.Name())
				if !d.IsDir() || !layout.IsDayDir(dayDir) || n.hasFiles(dayDir) {
					continue
				}
				if _, err := n.fs.RemoveEmptyDirs(dayDir); err != nil {
					return pruned, err
				}
				if ok, err := n.fs.RemoveIfEmpty(dayDir); err != nil {
					return pruned, err
				} else if ok {
					pruned++
				}
			}
			if ok, err := n.fs.RemoveIfEmpty(monthDir); err != nil {
				return pruned, err
			} else if ok {
				pruned++
			}
		}
		if ok, err := n.fs.RemoveIfEmpty(yearDir); err != nil {
			return pruned, err
		} else if ok {
			pruned++
		}
	}
	return pruned, nil
}

func (n *Normalizer) hasFiles(dir string) bool {
	found := false
	_ = n.fs.Walk(dir, func(_ string, d fs.DirEntry) error {
		if !d.IsDir() {
			found = true
			return fs.SkipAll
		}
		return nil
	})
	return found
}

// isCanonicalAsset reports whether p sits in imgs/, video/ or files/ of a
// day folder.
func isCanonicalAsset(p string) bool {
	dir := path.Dir(p)
	if !assets.IsAssetDir(path.Base(dir)) {
		return false
	}
	return layout.IsDayDir(path.Dir(dir))
}

func isExternal(ref string) bool {
	r := strings.ToLower(strings.TrimSpace(ref))
	return r == "" || strings.HasPrefix(r, "http:") || strings.HasPrefix(r, "https:") ||
		strings.HasPrefix(r, "data:") || strings.HasPrefix(r, "file:")
}

// relativeTo returns target relative to dir, always starting with ./ or ../.
func relativeTo(dir, target string) string {
	from := strings.Split(dir, "/")
	to := strings.Split(target, "/")
	i := 0
	for i < len(from) && i < len(to)-1 && from[i] == to[i] {
		i++
	}
	var parts []string
	for range from[i:] {
		parts = append(parts, "..")
	}
	parts = append(parts, to[i:]...)
	rel := strings.Join(parts, "/")
	if !strings.HasPrefix(rel, "../") {
		rel = "./" + rel
	}
	return rel
}
