package storage

import (
	"errors"
	"io/fs"
	"os"
	"path/filepath"
	"syscall"
	"testing"
)

func tempRoot(t *testing.T) *FS {
	t.Helper()
	dir := t.TempDir()
	fs, err := NewFS(dir)
	if err != nil {
		t.Fatalf("NewFS: %v", err)
	}
	return fs
}

func TestWriteAndRead(t *testing.T) {
	s := tempRoot(t)
	content := []byte("# Hello\nWorld\n")
	if err := s.Write("note.md", content); err != nil {
		t.Fatalf("Write: %v", err)
	}
	got, err := s.Read("note.md")
	if err != nil {
		t.Fatalf("Read: %v", err)
	}
	if string(got) != string(content) {
		t.Errorf("content mismatch: got %q", got)
	}
}

func TestWriteCreatesSubdirs(t *testing.T) {
	s := tempRoot(t)
	if err := s.Write("a/b/c.md", []byte("deep")); err != nil {
		t.Fatalf("Write: %v", err)
	}
	got, err := s.Read("a/b/c.md")
	if err != nil {
		t.Fatalf("Read: %v", err)
	}
	if string(got) != "deep" {
		t.Errorf("content = %q", got)
	}
}

func TestDelete(t *testing.T) {
	s := tempRoot(t)
	_ = s.Write("del.md", []byte("bye"))
	if err := s.Delete("del.md"); err != nil {
		t.Fatalf("Delete: %v", err)
	}
	if _, err := s.Read("del.md"); err == nil {
		t.Error("expected error reading deleted file")
	}
}

func TestMove(t *testing.T) {
	s := tempRoot(t)
	_ = s.Write("old.md", []byte("data"))
	if err := s.Move("old.md", "sub/new.md"); err != nil {
		t.Fatalf("Move: %v", err)
	}
	got, err := s.Read("sub/new.md")
	if err != nil {
		t.Fatalf("Read after move: %v", err)
	}
	if string(got) != "data" {
		t.Errorf("content = %q", got)
	}
	if _, err := s.Read("old.md"); err == nil {
		t.Error("old path should not exist")
	}
}

func TestListMarkdown(t *testing.T) {
	s := tempRoot(t)
	_ = s.Write("content/b.md", []byte("b"))
	_ = s.Write("content/sub/a.md", []byte("a"))
	_ = s.Write("content/readme.txt", []byte("not md"))

	items, err := s.ListMarkdown("content")
	if err != nil {
		t.Fatalf("ListMarkdown: %v", err)
	}
	if len(items) != 2 || items[0] != "content/b.md" || items[1] != "content/sub/a.md" {
		t.Errorf("items = %v", items)
	}

	missing, err := s.ListMarkdown("nope")
	if err != nil || len(missing) != 0 {
		t.Errorf("missing dir: %v, %v", missing, err)
	}
}

func TestTraversalBlocked(t *testing.T) {
	s := tempRoot(t)

	cases := []string{
		"../../etc/passwd",
		"../outside.md",
		"/etc/shadow",
	}
	for _, p := range cases {
		if _, err := s.Read(p); err == nil {
			t.Errorf("expected error for path %q", p)
		}
		if err := s.Write(p, []byte("x")); err == nil {
			t.Errorf("expected error for write to %q", p)
		}
	}
}

func TestAtomicWriteNoCorruption(t *testing.T) {
	// Verify that if we read during a write the old content is intact
	// (the rename is atomic on POSIX).
	s := tempRoot(t)
	original := []byte("original content")
	_ = s.Write("atomic.md", original)

	// Overwrite with new content.
	updated := []byte("updated content")
	if err := s.Write("atomic.md", updated); err != nil {
		t.Fatalf("Write: %v", err)
	}
	got, _ := s.Read("atomic.md")
	if string(got) != string(updated) {
		t.Errorf("expected updated content, got %q", got)
	}

	// Confirm no leftover temp files.
	matches, _ := filepath.Glob(filepath.Join(s.root, ".krecord-tmp-*"))
	if len(matches) != 0 {
		t.Errorf("leftover temp files: %v", matches)
	}
}

func TestNewFS_NonExistentDir(t *testing.T) {
	_, err := NewFS("/tmp/krecord-does-not-exist-" + t.Name())
	if err == nil {
		t.Error("expected error for non-existent dir")
	}
}

func TestNewFS_FileNotDir(t *testing.T) {
	f, _ := os.CreateTemp("", "krecord-test-*")
	_ = f.Close()
	defer os.Remove(f.Name())
	_, err := NewFS(f.Name())
	if err == nil {
		t.Error("expected error when root is a file")
	}
}

func TestMoveFallsBackToCopy(t *testing.T) {
	s := tempRoot(t)
	s.rename = func(string, string) error {
		return &os.LinkError{Op: "rename", Err: syscall.EXDEV}
	}
	_ = s.Write("a/img.png", []byte("pixels"))
	if err := s.Move("a/img.png", "b/img.png"); err != nil {
		t.Fatalf("Move: %v", err)
	}
	got, err := s.Read("b/img.png")
	if err != nil || string(got) != "pixels" {
		t.Fatalf("target = %q, %v", got, err)
	}
	if s.Exists("a/img.png") {
		t.Error("source should be removed after copy")
	}
}

func TestMoveCopyFailureKeepsSource(t *testing.T) {
	s := tempRoot(t)
	s.rename = func(string, string) error { return errors.New("rename refused") }
	s.copyFile = func(_, dst string) error {
		_ = os.WriteFile(dst, []byte("par"), 0o644)
		return errors.New("disk full")
	}
	_ = s.Write("a/img.png", []byte("pixels"))
	if err := s.Move("a/img.png", "b/img.png"); err == nil {
		t.Fatal("expected error")
	}
	if s.Exists("b/img.png") {
		t.Error("partial target should be removed")
	}
	got, err := s.Read("a/img.png")
	if err != nil || string(got) != "pixels" {
		t.Errorf("source = %q, %v", got, err)
	}
}

func TestMoveFallbackKeepsExistingTarget(t *testing.T) {
	s := tempRoot(t)
	s.rename = func(string, string) error { return errors.New("rename refused") }
	s.copyFile = func(_, dst string) error {
		_ = os.WriteFile(dst, []byte("par"), 0o644)
		return errors.New("disk full")
	}
	_ = s.Write("a/img.png", []byte("pixels"))
	_ = s.Write("b/img.png", []byte("keep me"))
	err := s.Move("a/img.png", "b/img.png")
	if !errors.Is(err, fs.ErrExist) {
		t.Fatalf("err = %v, want ErrExist", err)
	}
	if got, err := s.Read("b/img.png"); err != nil || string(got) != "keep me" {
		t.Errorf("target = %q, %v", got, err)
	}
	if got, err := s.Read("a/img.png"); err != nil || string(got) != "pixels" {
		t.Errorf("source = %q, %v", got, err)
	}
}

func TestMoveUnique(t *testing.T) {
	s := tempRoot(t)
	_ = s.Write("dst/x.md", []byte("taken"))
	_ = s.Write("dst/x-1.md", []byte("taken too"))
	_ = s.Write("src/x.md", []byte("mine"))

	got, err := s.MoveUnique("src/x.md", "dst", "x.md")
	if err != nil {
		t.Fatalf("MoveUnique: %v", err)
	}
	if got != "dst/x-2.md" {
		t.Errorf("path = %q, want dst/x-2.md", got)
	}

	// Already in place: no-op.
	same, err := s.MoveUnique("dst/x.md", "dst", "x.md")
	if err != nil || same != "dst/x.md" {
		t.Errorf("in place: %q, %v", same, err)
	}
}

func TestRemoveEmptyDirs(t *testing.T) {
	s := tempRoot(t)
	_ = s.MkdirAll("content/2024/202401/20240101/imgs")
	_ = s.Write("content/2024/202402/20240202/a.md", []byte("a"))

	removed, err := s.RemoveEmptyDirs("content")
	if err != nil {
		t.Fatalf("RemoveEmptyDirs: %v", err)
	}
	if len(removed) != 3 {
		t.Errorf("removed = %v", removed)
	}
	if s.Exists("content/2024/202401") {
		t.Error("empty month should be gone")
	}
	if !s.Exists("content/2024/202402/20240202/a.md") || !s.IsDir("content") {
		t.Error("non-empty tree must stay")
	}
}

func TestDeleteMissingIsNotAnError(t *testing.T) {
	s := tempRoot(t)
	if err := s.Delete("never.md"); err != nil {
		t.Errorf("Delete: %v", err)
	}
}
