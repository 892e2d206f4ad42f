package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
)

// DefaultRootDir is the data root used when none is configured, relative
// to the directory of the root file.
const DefaultRootDir = "content-demo"

// RootFile persists the active data root in a small JSON file:
//
//	{"dataRoot": "/abs/path"}
//
// A missing file, an unreadable one, or a root that no longer exists all
// fall back to DefaultRootDir next to the file, which is then written back.
type RootFile struct {
	Path string
}

type rootDoc struct {
	DataRoot string `json:"dataRoot"`
}

// NewRootFile returns a RootFile for path.
func NewRootFile(path string) *RootFile {
	return &RootFile{Path: path}
}

// DefaultRoot returns the fallback data root.
func (f *RootFile) DefaultRoot() string {
	return filepath.Join(filepath.Dir(f.Path), DefaultRootDir)
}

// ReadDataRoot returns the configured root as an absolute path.
func (f *RootFile) ReadDataRoot() (string, error) {
	if _, err := os.Stat(f.Path); err != nil {
		return f.fallback()
	}
	data, err := os.ReadFile(f.Path)
	if err != nil {
		return f.fallback()
	}
	var doc rootDoc
	if err := json.Unmarshal(data, &doc); err != nil || doc.DataRoot == "" {
		return f.fallback()
	}
	root := f.resolve(doc.DataRoot)
	if info, err := os.Stat(root); err != nil || !info.IsDir() {
		return f.fallback()
	}
	return root, nil
}

// WriteDataRoot stores root, resolved against the file's directory.
func (f *RootFile) WriteDataRoot(root string) error {
	out, err := json.MarshalIndent(rootDoc{DataRoot: f.resolve(root)}, "", "  ")
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(f.Path), 0o755); err != nil {
		return fmt.Errorf("create config dir: %w", err)
	}
	if err := os.WriteFile(f.Path, out, 0o644); err != nil {
		return fmt.Errorf("write %s: %w", f.Path, err)
	}
	return nil
}

func (f *RootFile) resolve(root string) string {
	if filepath.IsAbs(root) {
		return filepath.Clean(root)
	}
	abs, err := filepath.Abs(filepath.Join(filepath.Dir(f.Path), root))
	if err != nil {
		return filepath.Join(filepath.Dir(f.Path), root)
	}
	return abs
}

func (f *RootFile) fallback() (string, error) {
	root := f.resolve(f.DefaultRoot())
	if err := os.MkdirAll(root, 0o755); err != nil {
		return "", fmt.Errorf("create default root: %w", err)
	}
	if err := f.WriteDataRoot(root); err != nil {
		return "", err
	}
	return root, nil
}
