// Package local archives produced Markdown on the local filesystem.
package local

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/JakeFAU/pdfmarkd/internal/converter"
)

// MetadataSuffix names the JSON sidecar written next to each document.
const MetadataSuffix = ".meta.json"

// Config captures the parameters for the local archive.
type Config struct {
	// BaseDir is the root directory of the archive.
	BaseDir string `mapstructure:"base_dir" yaml:"base_dir"`
}

// Archive writes each document and its metadata sidecar with write-then-rename, so readers never
// observe a partial file.
type Archive struct {
	dir string
}

// New creates the archive directory if needed and checks that it is writable.
func New(cfg Config) (*Archive, error) {
	dir := strings.TrimSpace(cfg.BaseDir)
	if dir == "" {
		return nil, fmt.Errorf("archive directory is required")
	}
	dir, err := filepath.Abs(dir)
	if err != nil {
		return nil, fmt.Errorf("resolve archive directory: %w", err)
	}
	if err := os.MkdirAll(dir, 0o750); err != nil {
		return nil, fmt.Errorf("create archive directory: %w", err)
	}
	f, err := os.CreateTemp(dir, ".writable-*")
	if err != nil {
		return nil, fmt.Errorf("archive directory is not writable: %w", err)
	}
	if err := errors.Join(f.Close(), os.Remove(f.Name())); err != nil {
		return nil, fmt.Errorf("clean up writability check: %w", err)
	}
	return &Archive{dir: dir}, nil
}

// Store writes doc.Markdown to key and doc.Metadata() to key+MetadataSuffix, returning a file:// URI.
func (a *Archive) Store(_ context.Context, key string, doc converter.Document) (string, error) {
	target, err := a.resolve(key)
	if err != nil {
		return "", err
	}
	if err := os.MkdirAll(filepath.Dir(target), 0o750); err != nil {
		return "", fmt.Errorf("create parent directories: %w", err)
	}
	meta, err := json.MarshalIndent(doc.Metadata(), "", "  ")
	if err != nil {
		return "", fmt.Errorf("encode metadata: %w", err)
	}
	if err := writeAtomic(target, []byte(doc.Markdown)); err != nil {
		return "", err
	}
	if err := writeAtomic(target+MetadataSuffix, meta); err != nil {
		return "", err
	}
	return "file://" + target, nil
}

// resolve maps key inside the archive directory, rejecting keys that escape it.
func (a *Archive) resolve(key string) (string, error) {
	if strings.TrimSpace(key) == "" {
		return "", fmt.Errorf("archive key is required")
	}
	target := filepath.Join(a.dir, filepath.FromSlash(key))
	rel, err := filepath.Rel(a.dir, target)
	if err != nil || rel == "." || rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
		return "", fmt.Errorf("archive key %q escapes the archive directory", key)
	}
	return target, nil
}

func writeAtomic(target string, data []byte) error {
	tmp, err := os.CreateTemp(filepath.Dir(target), "."+filepath.Base(target)+".tmp-*")
	if err != nil {
		return fmt.Errorf("create temp file: %w", err)
	}
	if _, err := tmp.Write(data); err != nil {
		return errors.Join(fmt.Errorf("write %s: %w", target, err), tmp.Close(), os.Remove(tmp.Name()))
	}
	if err := tmp.Close(); err != nil {
		return errors.Join(fmt.Errorf("close %s: %w", target, err), os.Remove(tmp.Name()))
	}
	if err := os.Rename(tmp.Name(), target); err != nil {
		return errors.Join(fmt.Errorf("rename into %s: %w", target, err), os.Remove(tmp.Name()))
	}
	return nil
}
