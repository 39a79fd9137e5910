// Package local implements the local filesystem archive backend. Intended
// for development and single-node deployments; multiple instances would
// need a shared filesystem.
package local

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/nonprofit-dossier/nonprofit-dossier/internal/archive"
	"github.com/nonprofit-dossier/nonprofit-dossier/internal/config"
)

func init() {
	// Register local archive backend
	archive.Register("local", func(cfg *config.Config) (archive.Archive, error) {
		return New(&cfg.Archive.Local)
	})
}

// LocalArchive implements the Archive interface on the local filesystem
type LocalArchive struct {
	basePath string
}

// New creates a local filesystem archive rooted at cfg.BasePath
func New(cfg *config.LocalArchiveConfig) (*LocalArchive, error) {
	if err := os.MkdirAll(cfg.BasePath, 0750); err != nil {
		return nil, fmt.Errorf("failed to create archive directory: %w", err)
	}

	return &LocalArchive{basePath: cfg.BasePath}, nil
}

// Store writes a document under key, creating parent directories as needed
func (a *LocalArchive) Store(ctx context.Context, key string, data []byte) error {
	fullPath, err := a.resolve(key)
	if err != nil {
		return err
	}

	if err := os.MkdirAll(filepath.Dir(fullPath), 0750); err != nil {
		return fmt.Errorf("failed to create directory: %w", err)
	}

	// Write to a temp file then rename so readers never see a partial
	// document.
	tmp, err := os.CreateTemp(filepath.Dir(fullPath), ".archive-*")
	if err != nil {
		return fmt.Errorf("failed to create temp file: %w", err)
	}
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		_ = os.Remove(tmp.Name())
		return fmt.Errorf("failed to write document: %w", err)
	}
	if err := tmp.Close(); err != nil {
		_ = os.Remove(tmp.Name())
		return fmt.Errorf("failed to close temp file: %w", err)
	}
	if err := os.Rename(tmp.Name(), fullPath); err != nil {
		_ = os.Remove(tmp.Name())
		return fmt.Errorf("failed to store document: %w", err)
	}
	return nil
}

// Load retrieves a stored document
func (a *LocalArchive) Load(ctx context.Context, key string) ([]byte, error) {
	fullPath, err := a.resolve(key)
	if err != nil {
		return nil, err
	}

	data, err := os.ReadFile(fullPath)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("document not found: %s", key)
		}
		return nil, fmt.Errorf("failed to read document: %w", err)
	}
	return data, nil
}

// Exists checks whether a document is stored under key
func (a *LocalArchive) Exists(ctx context.Context, key string) (bool, error) {
	fullPath, err := a.resolve(key)
	if err != nil {
		return false, err
	}

	_, err = os.Stat(fullPath)
	if err != nil {
		if os.IsNotExist(err) {
			return false, nil
		}
		return false, fmt.Errorf("failed to check document existence: %w", err)
	}
	return true, nil
}

// resolve maps a key onto the base path, rejecting keys that would escape it.
func (a *LocalArchive) resolve(key string) (string, error) {
	cleaned := filepath.Clean(filepath.FromSlash(key))
	if cleaned == "." || filepath.IsAbs(cleaned) || strings.HasPrefix(cleaned, "..") {
		return "", fmt.Errorf("invalid archive key: %s", key)
	}
	return filepath.Join(a.basePath, cleaned), nil
}
