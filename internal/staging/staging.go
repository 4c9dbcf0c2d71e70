// Package staging materializes inbound PDF bytes as uniquely named temporary files that the
// conversion engine can open by path, and guarantees each file is removed exactly once.
package staging

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"

	"go.uber.org/zap"

	"github.com/JakeFAU/pdfmarkd/internal/converter"
)

// Config captures the parameters for the staging area.
type Config struct {
	// Dir is the parent directory for the staging root. Empty means the OS temp directory.
	Dir string `mapstructure:"dir"`
	// Prefix names staged files; it must not contain a path separator.
	Prefix string `mapstructure:"prefix"`
}

type namer interface {
	NewName(prefix string) (string, error)
}

// Area is a scoped staging root. Every Area owns a private directory that Close removes.
type Area struct {
	root   string
	prefix string
	names  namer
	live   atomic.Int64
	logger *zap.Logger
}

// New creates a private staging root under cfg.Dir.
func New(cfg Config, names namer, logger *zap.Logger) (*Area, error) {
	if names == nil {
		return nil, errors.New("name generator is required")
	}
	if strings.ContainsRune(cfg.Prefix, filepath.Separator) {
		return nil, fmt.Errorf("staging prefix %q must not contain a path separator", cfg.Prefix)
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.Dir != "" {
		if err := os.MkdirAll(cfg.Dir, 0o750); err != nil {
			return nil, fmt.Errorf("create staging parent: %w", err)
		}
	}
	root, err := os.MkdirTemp(cfg.Dir, "pdfmarkd-staging-*")
	if err != nil {
		return nil, fmt.Errorf("create staging root: %w", err)
	}
	prefix := cfg.Prefix
	if prefix == "" {
		prefix = "payload"
	}
	return &Area{root: root, prefix: prefix, names: names, logger: logger}, nil
}

// Root returns the private staging directory.
func (a *Area) Root() string {
	return a.root
}

// Live returns the number of staged payloads not yet released.
func (a *Area) Live() int64 {
	return a.live.Load()
}

// Stage writes data to a new exclusively created file and returns its handle.
func (a *Area) Stage(ctx context.Context, data []byte) (converter.Staged, error) {
	if err := ctx.Err(); err != nil {
		return nil, fmt.Errorf("stage payload: %w", err)
	}
	name, err := a.names.NewName(a.prefix)
	if err != nil {
		return nil, fmt.Errorf("name payload: %w", err)
	}
	path := filepath.Join(a.root, name+".pdf")

	// O_EXCL guarantees two requests can never share a file even if names collided.
	f, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o600)
	if err != nil {
		return nil, fmt.Errorf("create staged file: %w", err)
	}
	if _, err := f.Write(data); err != nil {
		closeErr := f.Close()
		removeErr := os.Remove(path)
		return nil, fmt.Errorf("write staged file: %w", errors.Join(err, closeErr, removeErr))
	}
	if err := f.Close(); err != nil {
		removeErr := os.Remove(path)
		return nil, fmt.Errorf("close staged file: %w", errors.Join(err, removeErr))
	}

	a.live.Add(1)
	a.logger.Debug("payload staged", zap.String("name", name), zap.Int("bytes", len(data)))
	return &payload{area: a, name: name, path: path, size: int64(len(data))}, nil
}

// Close removes the staging root and anything left in it.
func (a *Area) Close() error {
	if n := a.live.Load(); n > 0 {
		a.logger.Warn("closing staging area with live payloads", zap.Int64("live", n))
	}
	if err := os.RemoveAll(a.root); err != nil {
		return fmt.Errorf("remove staging root: %w", err)
	}
	return nil
}

type payload struct {
	area *Area
	name string
	path string
	size int64

	once sync.Once
}

func (p *payload) Name() string { return p.name }

func (p *payload) Path() string { return p.path }

func (p *payload) Size() int64 { return p.size }

func (p *payload) Open() (io.ReadSeekCloser, error) {
	f, err := os.Open(p.path)
	if err != nil {
		return nil, fmt.Errorf("open staged file: %w", err)
	}
	return f, nil
}

// Release removes the file on the first call. A file that is already gone still counts as released.
func (p *payload) Release() error {
	err := converter.ErrReleased
	p.once.Do(func() {
		p.area.live.Add(-1)
		err = nil
		if rmErr := os.Remove(p.path); rmErr != nil {
			err = fmt.Errorf("remove staged file %s: %w", p.name, rmErr)
		}
	})
	return err
}
