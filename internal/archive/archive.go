// Package archive defines the document archive interface and the backend
// registry.
//
// New backends are added by implementing the Archive interface and
// registering with the factory via an init() function in the backend's own
// package:
//
//	func init() {
//	    archive.Register("mybackend", func(cfg *config.Config) (Archive, error) {
//	        return NewMyBackend(cfg)
//	    })
//	}
//
// The main package imports each backend with a blank import to trigger
// init(), so adding a backend requires no changes to the factory or the
// main package beyond the import line.
package archive

import (
	"context"
	"fmt"

	"github.com/nonprofit-dossier/nonprofit-dossier/internal/config"
)

// Archive stores fetched dossier documents keyed by a slash-separated path
// (EIN-scoped, e.g. "133456789/form990_2023.pdf").
type Archive interface {
	// Store writes a document under key, overwriting any previous copy.
	Store(ctx context.Context, key string, data []byte) error

	// Load retrieves a previously stored document.
	Load(ctx context.Context, key string) ([]byte, error)

	// Exists reports whether a document is stored under key.
	Exists(ctx context.Context, key string) (bool, error)
}

// FactoryFunc creates an archive backend from the application config.
type FactoryFunc func(*config.Config) (Archive, error)

var factories = make(map[string]FactoryFunc)

// Register registers an archive backend factory
func Register(name string, factory FactoryFunc) {
	factories[name] = factory
}

// NewArchive creates the configured archive backend
func NewArchive(cfg *config.Config) (Archive, error) {
	factory, ok := factories[cfg.Archive.Backend]
	if !ok {
		return nil, fmt.Errorf("unsupported archive backend: %s (must be 'local', 's3', or 'gcs')", cfg.Archive.Backend)
	}

	return factory(cfg)
}
