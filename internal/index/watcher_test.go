package index

import (
	"context"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/starford/krecord/internal/store"
)

const testDay = "content/2024/202401/20240115"

// watcherTestEnv sets up a data root with one day folder, a store and a DB.
func watcherTestEnv(t *testing.T) (string, *store.Store, *DB) {
	t.Helper()
	st := testStore(t)
	root := st.Root()
	if err := os.MkdirAll(filepath.Join(root, filepath.FromSlash(testDay)), 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.MkdirAll(filepath.Join(root, "table"), 0o755); err != nil {
		t.Fatal(err)
	}
	return root, st, testDB(t)
}

// eventually polls fn every tick until it returns true or timeout elapses.
func eventually(t *testing.T, timeout, tick time.Duration, fn func() bool, msg string) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if fn() {
			return
		}
		time.Sleep(tick)
	}
	t.Error(msg)
}

type recorder struct {
	mu     sync.Mutex
	events []string
}

func (r *recorder) record(kind, path string) {
	r.mu.Lock()
	r.events = append(r.events, kind+":"+path)
	r.mu.Unlock()
}

func (r *recorder) has(event string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, e := range r.events {
		if e == event {
			return true
		}
	}
	return false
}

func TestWatcher_NewFileIndexed(t *testing.T) {
	root, st, db := watcherTestEnv(t)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	rec := &recorder{}
	go Watch(ctx, db, st, quietLogger(), rec.record, WatchOptions{})

	time.Sleep(100 * time.Millisecond)

	rel := testDay + "/new.md"
	writeFile(t, root, rel, "# New")

	eventually(t, 5*time.Second, 50*time.Millisecond, func() bool {
		cs, _ := db.GetChecksum(rel)
		return cs != ""
	}, "new file not indexed by watcher")

	eventually(t, 2*time.Second, 50*time.Millisecond, func() bool {
		return rec.has(KindCreated+":"+rel) || rec.has(KindUpdated+":"+rel)
	}, "expected a callback for the new file")
}

func TestWatcher_IgnoresNonDiaryMarkdown(t *testing.T) {
	root, st, db := watcherTestEnv(t)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	go Watch(ctx, db, st, quietLogger(), nil, WatchOptions{})
	time.Sleep(100 * time.Millisecond)

	writeFile(t, root, "content/readme.md", "# Readme")
	writeFile(t, root, testDay+"/marker.md", "# Marker")

	eventually(t, 5*time.Second, 50*time.Millisecond, func() bool {
		cs, _ := db.GetChecksum(testDay + "/marker.md")
		return cs != ""
	}, "diary file not indexed")
	if cs, _ := db.GetChecksum("content/readme.md"); cs != "" {
		t.Error("markdown outside day folders must not be indexed")
	}
}

func TestWatcher_NewDirWatched(t *testing.T) {
	root, st, db := watcherTestEnv(t)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	go Watch(ctx, db, st, quietLogger(), nil, WatchOptions{})
	time.Sleep(100 * time.Millisecond)

	dayDir := filepath.Join(root, "content", "2024", "202403", "20240305")
	_ = os.MkdirAll(dayDir, 0o755)
	time.Sleep(200 * time.Millisecond)

	_ = os.WriteFile(filepath.Join(dayDir, "deep.md"), []byte("# Deep"), 0o644)

	eventually(t, 5*time.Second, 50*time.Millisecond, func() bool {
		cs, _ := db.GetChecksum("content/2024/202403/20240305/deep.md")
		return cs != ""
	}, "file in new day folder not indexed by watcher")
}

func TestWatcher_DeleteRemovesFromIndex(t *testing.T) {
	root, st, db := watcherTestEnv(t)

	rel := testDay + "/del.md"
	writeFile(t, root, rel, "# Delete Me")
	if err := Sync(db, st, quietLogger()); err != nil {
		t.Fatal(err)
	}

	cs, _ := db.GetChecksum(rel)
	if cs == "" {
		t.Fatal("precondition: file should be indexed")
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	go Watch(ctx, db, st, quietLogger(), nil, WatchOptions{})
	time.Sleep(100 * time.Millisecond)

	_ = os.Remove(filepath.Join(root, filepath.FromSlash(rel)))

	eventually(t, 5*time.Second, 50*time.Millisecond, func() bool {
		cs, _ := db.GetChecksum(rel)
		return cs == ""
	}, "deleted file still in index")
}

func TestWatcher_RenameReconciles(t *testing.T) {
	root, st, db := watcherTestEnv(t)

	oldRel, newRel := testDay+"/old.md", testDay+"/renamed.md"
	writeFile(t, root, oldRel, "# Rename")
	if err := Sync(db, st, quietLogger()); err != nil {
		t.Fatal(err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	go Watch(ctx, db, st, quietLogger(), nil, WatchOptions{})
	time.Sleep(100 * time.Millisecond)

	_ = os.Rename(filepath.Join(root, filepath.FromSlash(oldRel)), filepath.Join(root, filepath.FromSlash(newRel)))

	eventually(t, 5*time.Second, 50*time.Millisecond, func() bool {
		oldCS, _ := db.GetChecksum(oldRel)
		newCS, _ := db.GetChecksum(newRel)
		return oldCS == "" && newCS != ""
	}, "rename reconciliation failed: old path should be removed and new path indexed")
}

func TestWatcher_SheetChangesNotify(t *testing.T) {
	root, st, db := watcherTestEnv(t)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	rec := &recorder{}
	go Watch(ctx, db, st, quietLogger(), rec.record, WatchOptions{})
	time.Sleep(100 * time.Millisecond)

	writeFile(t, root, "table/prices.csv", "id,date\n")

	eventually(t, 5*time.Second, 50*time.Millisecond, func() bool {
		return rec.has(KindSheets + ":table/prices.csv")
	}, "expected a sheets event for the csv change")
}

func TestWatcher_NormalizeMovesHandEditedEntry(t *testing.T) {
	root, st, db := watcherTestEnv(t)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	go Watch(ctx, db, st, quietLogger(), nil, WatchOptions{Normalize: true, Debounce: 100 * time.Millisecond})
	time.Sleep(100 * time.Millisecond)

	writeFile(t, root, testDay+"/late.md",
		"---\nid: diary-late\ntitle: Late\noccurredAt: 2024-02-01T09:00:00.000Z\n---\nbody\n")

	want := filepath.Join(root, "content", "2024", "202402", "20240201", "late.md")
	eventually(t, 5*time.Second, 50*time.Millisecond, func() bool {
		_, err := os.Stat(want)
		return err == nil
	}, "entry should be moved to the day of its occurredAt")
	eventually(t, 5*time.Second, 50*time.Millisecond, func() bool {
		p, ok := db.Locate("diary-late")
		return ok && p == "content/2024/202402/20240201/late.md"
	}, "index should follow the moved file")
}
