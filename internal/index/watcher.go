package index

import (
	"context"
	"io/fs"
	"log/slog"
	"os"
	"path"
	"path/filepath"
	"strings"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/starford/krecord/internal/checksum"
	"github.com/starford/krecord/internal/diary"
	"github.com/starford/krecord/internal/layout"
	"github.com/starford/krecord/internal/store"
)

// Event kinds passed to EventCallback.
const (
	KindCreated = "created"
	KindUpdated = "updated"
	KindDeleted = "deleted"
	KindSheets  = "sheets"
)

// EventCallback is called after a watcher-driven index change, and for any
// change to sheet or relations files (kind "sheets").
type EventCallback func(kind string, path string)

// WatchOptions tunes the watcher.
type WatchOptions struct {
	// Normalize schedules a placement sweep after diary files change, so
	// entries whose date was edited by hand move to the right folder.
	Normalize bool
	// Debounce delays that sweep until changes settle. Defaults to 2s.
	Debounce time.Duration
}

const reconcileDelay = 200 * time.Millisecond

// Watch starts an fsnotify watcher on the data root and processes file
// change events until ctx is cancelled. It calls cb (if non-nil) after
// each successful index mutation.
//
// New directories created at runtime are automatically added to the watch
// list. Rename events trigger a reconciliation pass that removes stale
// index entries whose files no longer exist on disk.
func Watch(ctx context.Context, db *DB, st *store.Store, logger *slog.Logger, cb EventCallback, opts WatchOptions) error {
	if opts.Debounce <= 0 {
		opts.Debounce = 2 * time.Second
	}
	root := st.Root()
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	defer w.Close()

	if err := addDirsRecursive(w, root); err != nil {
		return err
	}

	logger.Info("watcher: started", slog.String("root", root), slog.Bool("normalize", opts.Normalize))

	notify := func(kind, rel string) {
		if cb != nil {
			cb(kind, rel)
		}
	}

	reconcile := newDebounce(reconcileDelay)
	normalize := newDebounce(opts.Debounce)
	defer reconcile.stop()
	defer normalize.stop()

	changed := func() {
		if opts.Normalize {
			normalize.schedule()
		}
	}

	for {
		select {
		case <-ctx.Done():
			logger.Info("watcher: stopped")
			return nil

		case <-reconcile.C():
			reconcile.fired()
			reconcileAfterRename(db, st, logger, notify)

		case <-normalize.C():
			normalize.fired()
			rep, err := st.Normalizer().NormalizePlacement(ctx)
			if err != nil {
				logger.Warn("watcher: normalize failed", slog.String("error", err.Error()))
				continue
			}
			if rep.Moved+rep.Rewritten > 0 {
				logger.Info("watcher: placement repaired",
					slog.Int("moved", rep.Moved),
					slog.Int("rewritten", rep.Rewritten))
			}

		case ev, ok := <-w.Events:
			if !ok {
				return nil
			}

			absPath := ev.Name

			// New directories: add to watcher.
			if ev.Op&fsnotify.Create != 0 {
				if info, statErr := os.Stat(absPath); statErr == nil && info.IsDir() {
					if addErr := addDirsRecursive(w, absPath); addErr != nil {
						logger.Warn("watcher: add new dir failed",
							slog.String("path", absPath),
							slog.String("error", addErr.Error()))
					} else {
						logger.Debug("watcher: watching new dir", slog.String("path", absPath))
					}
					// Index any diary files already in the new directory.
					if indexNewDir(db, st, absPath, logger, notify) {
						changed()
					}
					continue
				}
			}

			rel, relErr := st.FS().Rel(absPath)
			if relErr != nil {
				continue
			}

			if isSheetFile(st.Layout(), rel) {
				notify(KindSheets, rel)
				continue
			}
			if _, ok := layout.EntryLocation(rel); !ok {
				continue
			}

			switch {
			case ev.Op&(fsnotify.Create|fsnotify.Write) != 0:
				data, readErr := st.FS().Read(rel)
				if readErr != nil {
					logger.Warn("watcher: read failed", slog.String("path", rel), slog.String("error", readErr.Error()))
					continue
				}
				if idxErr := indexFile(db, rel, data); idxErr != nil {
					logger.Warn("watcher: index failed", slog.String("path", rel), slog.String("error", idxErr.Error()))
					continue
				}
				kind := KindUpdated
				if ev.Op&fsnotify.Create != 0 {
					kind = KindCreated
				}
				logger.Debug("watcher: indexed", slog.String("path", rel), slog.String("op", kind))
				notify(kind, rel)
				changed()

			case ev.Op&fsnotify.Remove != 0:
				if delErr := db.DeleteDiary(rel); delErr != nil {
					logger.Warn("watcher: delete failed", slog.String("path", rel), slog.String("error", delErr.Error()))
					continue
				}
				logger.Debug("watcher: deleted", slog.String("path", rel))
				notify(KindDeleted, rel)

			case ev.Op&fsnotify.Rename != 0:
				// fsnotify fires Rename on the OLD path only. The new
				// path arrives as a separate Create event when it stays
				// within a watched dir; a short reconciliation pass
				// catches the rest.
				if delErr := db.DeleteDiary(rel); delErr != nil {
					logger.Warn("watcher: rename delete failed", slog.String("path", rel), slog.String("error", delErr.Error()))
				} else {
					logger.Debug("watcher: rename old deleted", slog.String("path", rel))
					notify(KindDeleted, rel)
				}
				reconcile.schedule()
			}

		case watchErr, ok := <-w.Errors:
			if !ok {
				return nil
			}
			logger.Error("watcher: error", slog.String("error", watchErr.Error()))
		}
	}
}

// isSheetFile reports whether rel is a sheet CSV or one of the relations files.
func isSheetFile(l layout.Layout, rel string) bool {
	switch path.Dir(rel) {
	case l.TableDir:
		return strings.HasSuffix(rel, ".csv")
	case l.RelationsDir:
		return strings.HasSuffix(rel, ".json")
	}
	return false
}

// reconcileAfterRename removes index entries without a file on disk and
// indexes diary files the index has not seen or has stale.
func reconcileAfterRename(db *DB, st *store.Store, logger *slog.Logger, notify EventCallback) {
	checksums, err := db.AllChecksums()
	if err != nil {
		logger.Warn("reconcile: all checksums failed", slog.String("error", err.Error()))
		return
	}

	files, err := diary.Files(st.FS(), st.Layout())
	if err != nil {
		logger.Warn("reconcile: list failed", slog.String("error", err.Error()))
		return
	}

	disk := make(map[string]struct{}, len(files))
	for _, p := range files {
		disk[p] = struct{}{}
	}

	for p := range checksums {
		if _, ok := disk[p]; !ok {
			if delErr := db.DeleteDiary(p); delErr == nil {
				logger.Debug("reconcile: removed stale", slog.String("path", p))
				notify(KindDeleted, p)
			}
		}
	}

	for _, p := range files {
		data, readErr := st.FS().Read(p)
		if readErr != nil {
			continue
		}
		if checksum.Matches(checksums[p], data) {
			continue
		}
		if idxErr := indexFile(db, p, data); idxErr == nil {
			logger.Debug("reconcile: indexed new", slog.String("path", p))
			notify(KindCreated, p)
		}
	}
}

// indexNewDir indexes diary files found in a newly created directory and
// reports whether any were found.
func indexNewDir(db *DB, st *store.Store, dirPath string, logger *slog.Logger, notify EventCallback) bool {
	found := false
	_ = filepath.WalkDir(dirPath, func(p string, d fs.DirEntry, err error) error {
		if err != nil || d.IsDir() || !strings.HasSuffix(p, ".md") {
			return nil
		}
		rel, relErr := st.FS().Rel(p)
		if relErr != nil {
			return nil
		}
		if _, ok := layout.EntryLocation(rel); !ok {
			return nil
		}
		data, readErr := st.FS().Read(rel)
		if readErr != nil {
			return nil
		}
		if idxErr := indexFile(db, rel, data); idxErr == nil {
			found = true
			logger.Debug("watcher: indexed from new dir", slog.String("path", rel))
			notify(KindCreated, rel)
		}
		return nil
	})
	return found
}

// addDirsRecursive adds root and all its subdirectories to the watcher.
func addDirsRecursive(w *fsnotify.Watcher, root string) error {
	return filepath.WalkDir(root, func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			return w.Add(p)
		}
		return nil
	})
}

// debounce is a resettable timer whose channel is nil while idle.
type debounce struct {
	delay time.Duration
	timer *time.Timer
	armed bool
}

func newDebounce(d time.Duration) *debounce { return &debounce{delay: d} }

func (d *debounce) schedule() {
	if d.timer == nil {
		d.timer = time.NewTimer(d.delay)
	} else {
		d.timer.Reset(d.delay)
	}
	d.armed = true
}

func (d *debounce) C() <-chan time.Time {
	if !d.armed {
		return nil
	}
	return d.timer.C
}

func (d *debounce) fired() { d.armed = false }

func (d *debounce) stop() {
	if d.timer != nil {
		d.timer.Stop()
	}
}
