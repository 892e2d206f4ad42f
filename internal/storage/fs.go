// Package storage provides root-confined file primitives for the data root.
//
// Every path accepted or returned by FS is relative to the root and
// slash-separated.
package storage

import (
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
)

// FS is the local file system under one data root.
type FS struct {
	root string // absolute path to the data root

	// rename and copyFile are swapped in tests to exercise the Move fallback.
	rename   func(oldpath, newpath string) error
	copyFile func(src, dst string) error
}

// NewFS creates a new FS rooted at the given directory.
// The directory must already exist.
func NewFS(root string) (*FS, error) {
	abs, err := filepath.Abs(root)
	if err != nil {
		return nil, fmt.Errorf("storage: resolve root: %w", err)
	}
	info, err := os.Stat(abs)
	if err != nil {
		return nil, fmt.Errorf("storage: stat root: %w", err)
	}
	if !info.IsDir() {
		return nil, fmt.Errorf("storage: root is not a directory: %s", abs)
	}
	return &FS{root: abs, rename: os.Rename, copyFile: copyFile}, nil
}

// Root returns the absolute root directory.
func (f *FS) Root() string { return f.root }

// Abs resolves a relative path against the root and rejects any result
// that escapes it (directory traversal).
func (f *FS) Abs(rel string) (string, error) {
	if rel == "" || rel == "." {
		return f.root, nil
	}
	cleaned := filepath.Clean(filepath.FromSlash(rel))
	if filepath.IsAbs(cleaned) {
		return "", fmt.Errorf("storage: absolute paths not allowed: %s", rel)
	}
	abs, err := filepath.Abs(filepath.Join(f.root, cleaned))
	if err != nil {
		return "", fmt.Errorf("storage: resolve path: %w", err)
	}
	if !strings.HasPrefix(abs, f.root+string(os.PathSeparator)) && abs != f.root {
		return "", fmt.Errorf("storage: path escapes data root: %s", rel)
	}
	return abs, nil
}

// Rel converts an absolute path under the root back to a relative one.
func (f *FS) Rel(abs string) (string, error) {
	rel, err := filepath.Rel(f.root, abs)
	if err != nil {
		return "", fmt.Errorf("storage: rel: %w", err)
	}
	if rel == ".." || strings.HasPrefix(rel, ".."+string(os.PathSeparator)) {
		return "", fmt.Errorf("storage: path escapes data root: %s", abs)
	}
	return filepath.ToSlash(rel), nil
}

// Read returns the raw bytes of a file.
func (f *FS) Read(p string) ([]byte, error) {
	abs, err := f.Abs(p)
	if err != nil {
		return nil, err
	}
	data, err := os.ReadFile(abs)
	if err != nil {
		return nil, fmt.Errorf("storage: read %s: %w", p, err)
	}
	return data, nil
}

// Write atomically writes content: tmp file → fsync → rename.
func (f *FS) Write(p string, content []byte) error {
	abs, err := f.Abs(p)
	if err != nil {
		return err
	}
	dir := filepath.Dir(abs)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("storage: mkdir: %w", err)
	}

	tmp, err := os.CreateTemp(dir, ".krecord-tmp-*")
	if err != nil {
		return fmt.Errorf("storage: create temp: %w", err)
	}
	tmpName := tmp.Name()

	// Clean up on any failure path.
	success := false
	defer func() {
		if !success {
			_ = tmp.Close()
			_ = os.Remove(tmpName)
		}
	}()

	if _, err := tmp.Write(content); err != nil {
		return fmt.Errorf("storage: write temp: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		return fmt.Errorf("storage: fsync: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("storage: close temp: %w", err)
	}
	if err := os.Rename(tmpName, abs); err != nil {
		return fmt.Errorf("storage: rename: %w", err)
	}
	success = true
	return nil
}

// Delete removes a file. A missing file is not an error.
func (f *FS) Delete(p string) error {
	abs, err := f.Abs(p)
	if err != nil {
		return err
	}
	if err := os.Remove(abs); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("storage: delete %s: %w", p, err)
	}
	return nil
}

// Exists reports whether p exists (file or directory).
func (f *FS) Exists(p string) bool {
	abs, err := f.Abs(p)
	if err != nil {
		return false
	}
	_, err = os.Stat(abs)
	return err == nil
}

// IsDir reports whether p is an existing directory.
func (f *FS) IsDir(p string) bool {
	abs, err := f.Abs(p)
	if err != nil {
		return false
	}
	info, err := os.Stat(abs)
	return err == nil && info.IsDir()
}

// MkdirAll creates p and any missing parents.
func (f *FS) MkdirAll(p string) error {
	abs, err := f.Abs(p)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(abs, 0o755); err != nil {
		return fmt.Errorf("storage: mkdir %s: %w", p, err)
	}
	return nil
}

// ReadDir lists the direct children of dir. A missing dir yields nil.
func (f *FS) ReadDir(dir string) ([]fs.DirEntry, error) {
	abs, err := f.Abs(dir)
	if err != nil {
		return nil, err
	}
	entries, err := os.ReadDir(abs)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("storage: readdir %s: %w", dir, err)
	}
	return entries, nil
}

// Walk visits every entry below dir in lexical order. A missing dir is
// walked as empty.
func (f *FS) Walk(dir string, fn func(rel string, d fs.DirEntry) error) error {
	base, err := f.Abs(dir)
	if err != nil {
		return err
	}
	if _, err := os.Stat(base); errors.Is(err, fs.ErrNotExist) {
		return nil
	}
	err = filepath.WalkDir(base, func(p string, d fs.DirEntry, walkErr error) error {
		if walkErr != nil {
			return walkErr
		}
		if p == base {
			return nil
		}
		rel, err := f.Rel(p)
		if err != nil {
			return err
		}
		return fn(rel, d)
	})
	if err != nil {
		return fmt.Errorf("storage: walk %s: %w", dir, err)
	}
	return nil
}

// ListMarkdown returns every .md file below dir, sorted.
func (f *FS) ListMarkdown(dir string) ([]string, error) {
	var out []string
	err := f.Walk(dir, func(rel string, d fs.DirEntry) error {
		if !d.IsDir() && strings.HasSuffix(d.Name(), ".md") {
			out = append(out, rel)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	sort.Strings(out)
	return out, nil
}

// RemoveEmptyDirs removes every empty directory below dir, deepest first.
// dir itself is kept. It returns the removed directories.
func (f *FS) RemoveEmptyDirs(dir string) ([]string, error) {
	var dirs []string
	err := f.Walk(dir, func(rel string, d fs.DirEntry) error {
		if d.IsDir() {
			dirs = append(dirs, rel)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	var removed []string
	for i := len(dirs) - 1; i >= 0; i-- {
		if ok, err := f.RemoveIfEmpty(dirs[i]); err != nil {
			return removed, err
		} else if ok {
			removed = append(removed, dirs[i])
		}
	}
	return removed, nil
}

// RemoveIfEmpty removes dir when it has no entries.
func (f *FS) RemoveIfEmpty(dir string) (bool, error) {
	abs, err := f.Abs(dir)
	if err != nil {
		return false, err
	}
	entries, err := os.ReadDir(abs)
	if errors.Is(err, fs.ErrNotExist) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("storage: readdir %s: %w", dir, err)
	}
	if len(entries) > 0 {
		return false, nil
	}
	if err := os.Remove(abs); err != nil {
		return false, fmt.Errorf("storage: rmdir %s: %w", dir, err)
	}
	return true, nil
}

// Move relocates a file, creating the target's parents. It renames first
// and falls back to copy+delete (e.g. across devices). The fallback refuses
// an existing target with fs.ErrExist. If the copy fails the partial target
// is removed and the source is left intact.
func (f *FS) Move(oldPath, newPath string) error {
	absOld, err := f.Abs(oldPath)
	if err != nil {
		return err
	}
	absNew, err := f.Abs(newPath)
	if err != nil {
		return err
	}
	if absOld == absNew {
		return nil
	}
	if err := os.MkdirAll(filepath.Dir(absNew), 0o755); err != nil {
		return fmt.Errorf("storage: mkdir for move: %w", err)
	}
	renameErr := f.rename(absOld, absNew)
	if renameErr == nil {
		return nil
	}
	if _, err := os.Stat(absOld); err != nil {
		return fmt.Errorf("storage: move %s: %w", oldPath, renameErr)
	}
	if _, err := os.Lstat(absNew); err == nil {
		return fmt.Errorf("storage: move %s: copy fallback: %s: %w", oldPath, newPath, fs.ErrExist)
	}
	if err := f.copyFile(absOld, absNew); err != nil {
		_ = os.Remove(absNew)
		return fmt.Errorf("storage: move %s: copy fallback: %w", oldPath, err)
	}
	if err := os.Remove(absOld); err != nil {
		return fmt.Errorf("storage: move %s: remove source: %w", oldPath, err)
	}
	return nil
}

// MoveUnique moves oldPath into dir as name, or name-1.ext, name-2.ext…
// when the target is taken. It returns the path actually used.
func (f *FS) MoveUnique(oldPath, dir, name string) (string, error) {
	target := f.UniquePath(dir, name, oldPath)
	if target == oldPath {
		return oldPath, nil
	}
	if err := f.Move(oldPath, target); err != nil {
		return "", err
	}
	return target, nil
}

// UniquePath returns dir/name, or the first free numeric variant. self is
// treated as free so a file never collides with itself.
func (f *FS) UniquePath(dir, name, self string) string {
	ext := path.Ext(name)
	stem := strings.TrimSuffix(name, ext)
	candidate := path.Join(dir, name)
	for i := 1; candidate != self && f.Exists(candidate); i++ {
		candidate = path.Join(dir, stem+"-"+strconv.Itoa(i)+ext)
	}
	return candidate
}

func copyFile(src, dst string) error {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()
	out, err := os.OpenFile(dst, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o644)
	if err != nil {
		return err
	}
	if _, err := io.Copy(out, in); err != nil {
		_ = out.Close()
		return err
	}
	if err := out.Sync(); err != nil {
		_ = out.Close()
		return err
	}
	return out.Close()
}
