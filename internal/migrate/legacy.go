package migrate

import (
	"context"
	"fmt"
	"log/slog"
	"path"
	"sort"
	"strings"
	"time"

	"github.com/starford/krecord/internal/assets"
	"github.com/starford/krecord/internal/diary"
	"github.com/starford/krecord/internal/layout"
	"github.com/starford/krecord/internal/parser"
	"github.com/starford/krecord/internal/relations"
)

// HasLegacy reports whether any pre-layout marker exists under the root.
func (n *Normalizer) HasLegacy() bool {
	for _, p := range []string{LegacyDiaryDir, LegacyAssetDir, LegacyRelations, LegacyContentPost, LegacySheetMetaFile} {
		if n.fs.Exists(p) {
			return true
		}
	}
	return len(n.looseMedia()) > 0
}

// looseMedia lists image and video files sitting directly in the root.
func (n *Normalizer) looseMedia() []string {
	entries, err := n.fs.ReadDir("")
	if err != nil {
		return nil
	}
	var out []string
	for _, e := range entries {
		if e.Type().IsRegular() && assets.IsMedia(e.Name()) {
			out = append(out, e.Name())
		}
	}
	return out
}

// MigrateLegacy lifts every legacy marker into the current layout and runs
// a placement pass. Per-file failures are logged and skipped.
func (n *Normalizer) MigrateLegacy(ctx context.Context) (Report, error) {
	rep := Report{Legacy: true}

	if n.fs.Exists(LegacyRelations) {
		if err := n.migrateRelations(); err != nil {
			rep.Skipped++
			n.logger.Warn("legacy relations not migrated", slog.String("error", err.Error()))
		}
	}
	if n.fs.Exists(LegacySheetMetaFile) {
		if err := n.migrateSheetMeta(); err != nil {
			rep.Skipped++
			n.logger.Warn("legacy sheet registry not migrated", slog.String("error", err.Error()))
		}
	}

	var dates []time.Time
	for _, dir := range []string{LegacyDiaryDir, LegacyContentPost} {
		files, err := n.fs.ListMarkdown(dir)
		if err != nil {
			return rep, fmt.Errorf("migrate: list %s: %w", dir, err)
		}
		for _, p := range files {
			if err := ctx.Err(); err != nil {
				return rep, err
			}
			occurred, err := n.migrateEntry(p)
			if err != nil {
				rep.Skipped++
				n.logger.Warn("legacy entry skipped", slog.String("path", p), slog.String("error", err.Error()))
				continue
			}
			rep.Moved++
			dates = append(dates, occurred)
		}
	}

	placed, err := n.NormalizePlacement(ctx)
	rep.add(placed)
	if err != nil {
		return rep, err
	}

	rep.Moved += n.moveLooseMedia(n.fallbackDate(dates))

	for _, dir := range []string{LegacyDiaryDir, LegacyAssetDir, LegacyContentPost} {
		if !n.fs.Exists(dir) {
			continue
		}
		removed, err := n.fs.RemoveEmptyDirs(dir)
		rep.Pruned += len(removed)
		if err == nil {
			var ok bool
			ok, err = n.fs.RemoveIfEmpty(dir)
			if ok {
				rep.Pruned++
				continue
			}
		}
		if err != nil {
			n.logger.Warn("legacy folder not pruned", slog.String("dir", dir), slog.String("error", err.Error()))
			continue
		}
		n.logger.Warn("legacy folder left in place, not empty", slog.String("dir", dir))
	}
	return rep, nil
}

// migrateRelations unions root/relations.json into relations/relations.json.
func (n *Normalizer) migrateRelations() error {
	data, err := n.fs.Read(LegacyRelations)
	if err != nil {
		return err
	}
	legacy, err := relations.Decode(data)
	if err != nil {
		return err
	}
	current, err := n.relations.Load()
	if err != nil {
		return err
	}
	if err := n.relations.Save(relations.Merge(current, legacy)); err != nil {
		return err
	}
	return n.fs.Delete(LegacyRelations)
}

// migrateSheetMeta moves table/meta.json to relations/meta.json unless a
// registry already exists there, in which case the legacy file is dropped.
func (n *Normalizer) migrateSheetMeta() error {
	if n.fs.Exists(n.layout.SheetMetaFile) {
		return n.fs.Delete(LegacySheetMetaFile)
	}
	return n.fs.Move(LegacySheetMetaFile, n.layout.SheetMetaFile)
}

// migrateEntry rewrites one legacy markdown file at its canonical path and
// returns its date.
func (n *Normalizer) migrateEntry(p string) (time.Time, error) {
	data, err := n.fs.Read(p)
	if err != nil {
		return time.Time{}, err
	}
	res, err := parser.Parse(data)
	if err != nil {
		return time.Time{}, err
	}
	fm := parser.Decode(res.Frontmatter)
	occurred := layout.ResolveOccurredAt(fm.OccurredAt, p, n.now(), layout.LegacyChain...)
	if fm.Title == "" {
		fm.Title = res.Title
	}
	if fm.Title == "" {
		fm.Title = strings.TrimSuffix(path.Base(p), ".md")
	}

	dest, err := n.resolver.DiaryPath(fm.Title, occurred, fm.ParentID != nil, "")
	if err != nil {
		return time.Time{}, err
	}
	if fm.ID == "" {
		fm.ID = layout.DeriveID(dest, occurred)
	}
	fm.OccurredAt = layout.FormatTimestamp(occurred)
	moved := map[string]string{}
	n.relocateRefs(&fm, occurred, moved)
	body := parser.RewriteRelativeLinks(res.Body, path.Dir(p))
	body = parser.ReplaceLinkTargets(body, moved)

	out, err := parser.Render(fm, body)
	if err != nil {
		return time.Time{}, err
	}
	if err := n.fs.Write(dest, out); err != nil {
		return time.Time{}, err
	}
	if err := n.fs.Delete(p); err != nil {
		return time.Time{}, err
	}
	return occurred, nil
}

// fallbackDate is the earliest migrated date, else the first existing
// entry's day, else today.
func (n *Normalizer) fallbackDate(migrated []time.Time) time.Time {
	if len(migrated) > 0 {
		sort.Slice(migrated, func(i, j int) bool { return migrated[i].Before(migrated[j]) })
		return migrated[0]
	}
	if files, err := diary.Files(n.fs, n.layout); err == nil && len(files) > 0 {
		if t, ok := layout.DateFromDayDir(files[0]); ok {
			return t
		}
	}
	return n.now().UTC()
}

// moveLooseMedia files root-level images and videos under day.
func (n *Normalizer) moveLooseMedia(day time.Time) int {
	moved := 0
	names := n.looseMedia()
	if len(names) == 0 {
		return 0
	}
	if err := layout.EnsureDayStructure(n.fs, n.layout.DayDir(day)); err != nil {
		n.logger.Warn("day structure failed", slog.String("error", err.Error()))
		return 0
	}
	for _, name := range names {
		if _, err := n.fs.MoveUnique(name, n.layout.AssetDir(day, name), name); err != nil {
			n.logger.Warn("loose media not moved", slog.String("file", name), slog.String("error", err.Error()))
			continue
		}
		moved++
	}
	return moved
}

