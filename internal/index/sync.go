package index

import (
	"log/slog"
	"time"

	"github.com/starford/krecord/internal/checksum"
	"github.com/starford/krecord/internal/diary"
	"github.com/starford/krecord/internal/parser"
	"github.com/starford/krecord/internal/store"
)

// Sync walks the store's diary files and brings the index up to date:
//   - new/changed files are parsed and upserted
//   - files removed from disk are deleted from the index
func Sync(db *DB, st *store.Store, logger *slog.Logger) error {
	files, err := diary.Files(st.FS(), st.Layout())
	if err != nil {
		return err
	}

	checksums, err := db.AllChecksums()
	if err != nil {
		return err
	}

	disk := make(map[string]struct{}, len(files))
	for _, p := range files {
		disk[p] = struct{}{}

		data, err := st.FS().Read(p)
		if err != nil {
			logger.Warn("sync: read failed", slog.String("path", p), slog.String("error", err.Error()))
			continue
		}
		if checksum.Matches(checksums[p], data) {
			continue
		}
		if err := indexFile(db, p, data); err != nil {
			logger.Warn("sync: index failed", slog.String("path", p), slog.String("error", err.Error()))
		} else {
			logger.Debug("sync: indexed", slog.String("path", p))
		}
	}

	// Remove stale entries.
	for p := range checksums {
		if _, ok := disk[p]; !ok {
			if err := db.DeleteDiary(p); err != nil {
				logger.Warn("sync: delete failed", slog.String("path", p), slog.String("error", err.Error()))
			} else {
				logger.Debug("sync: removed stale", slog.String("path", p))
			}
		}
	}
	return nil
}

// Refresh re-reads one diary file, dropping its row when the file is gone.
func Refresh(db *DB, st *store.Store, p string) error {
	if !st.FS().Exists(p) {
		return db.DeleteDiary(p)
	}
	data, err := st.FS().Read(p)
	if err != nil {
		return err
	}
	return indexFile(db, p, data)
}

// indexFile parses data and upserts it into the DB.
func indexFile(db *DB, p string, data []byte) error {
	res, err := parser.Parse(data)
	if err != nil {
		return err
	}
	e := diary.Entry(p, parser.Decode(res.Frontmatter), res.Body, time.Now())
	row := DiaryRow{
		Path:       p,
		ID:         e.ID,
		Title:      e.Title,
		OccurredAt: e.OccurredAt,
		Tags:       e.Tags,
		Checksum:   checksum.Sum(data),
	}
	return db.UpsertDiary(row, e.Content)
}
