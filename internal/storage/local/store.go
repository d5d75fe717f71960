// Package local writes output files to the local filesystem.
package local

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
)

// Config captures the parameters for the local filesystem store.
type Config struct {
	// BaseDir is the root directory output files are created under.
	BaseDir string `mapstructure:"base_dir" yaml:"base_dir"`
}

// Store creates files below a base directory.
type Store struct {
	baseDir string
}

// New creates a local store, creating BaseDir when it does not exist.
func New(cfg Config) (*Store, error) {
	if strings.TrimSpace(cfg.BaseDir) == "" {
		return nil, errors.New("base directory is required")
	}
	info, err := os.Stat(cfg.BaseDir)
	switch {
	case errors.Is(err, os.ErrNotExist):
		if mkErr := os.MkdirAll(cfg.BaseDir, 0o750); mkErr != nil {
			return nil, fmt.Errorf("create base directory: %w", mkErr)
		}
	case err != nil:
		return nil, fmt.Errorf("stat base directory: %w", err)
	case !info.IsDir():
		return nil, fmt.Errorf("base directory %q is not a directory", cfg.BaseDir)
	}
	return &Store{baseDir: cfg.BaseDir}, nil
}

// Create truncates or creates name below the base directory, making parent
// directories as needed.
func (s *Store) Create(_ context.Context, name string) (io.WriteCloser, error) {
	if strings.TrimSpace(name) == "" {
		return nil, errors.New("path is required")
	}
	fullPath := filepath.Join(s.baseDir, name)

	cleanBaseDir := filepath.Clean(s.baseDir)
	if !strings.HasPrefix(filepath.Clean(fullPath), cleanBaseDir+string(filepath.Separator)) {
		return nil, fmt.Errorf("path %q escapes %q", name, s.baseDir)
	}
	if err := os.MkdirAll(filepath.Dir(fullPath), 0o750); err != nil {
		return nil, fmt.Errorf("create parent directories: %w", err)
	}
	f, err := os.Create(fullPath) //nolint:gosec // output path chosen by the operator
	if err != nil {
		return nil, fmt.Errorf("create file: %w", err)
	}
	return f, nil
}
