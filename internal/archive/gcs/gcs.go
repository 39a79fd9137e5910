// Package gcs implements the Google Cloud Storage archive backend. A
// service account key file is used when configured; otherwise Application
// Default Credentials apply (GOOGLE_APPLICATION_CREDENTIALS, GKE metadata
// service, gcloud auth application-default login).
package gcs

import (
	"context"
	"errors"
	"fmt"
	"io"

	gstorage "cloud.google.com/go/storage"
	"google.golang.org/api/option"

	"github.com/nonprofit-dossier/nonprofit-dossier/internal/archive"
	"github.com/nonprofit-dossier/nonprofit-dossier/internal/config"
)

func init() {
	// Register GCS archive backend
	archive.Register("gcs", func(cfg *config.Config) (archive.Archive, error) {
		return New(&cfg.Archive.GCS)
	})
}

// GCSArchive implements the Archive interface for Google Cloud Storage
type GCSArchive struct {
	client *gstorage.Client
	bucket string
}

// New creates a new Google Cloud Storage archive backend
func New(cfg *config.GCSArchiveConfig) (*GCSArchive, error) {
	if cfg.Bucket == "" {
		return nil, fmt.Errorf("gcs bucket name is required")
	}

	ctx := context.Background()
	var opts []option.ClientOption

	// Custom endpoint for emulators
	if cfg.Endpoint != "" {
		opts = append(opts, option.WithEndpoint(cfg.Endpoint))
	}
	if cfg.CredentialsFile != "" {
		opts = append(opts, option.WithCredentialsFile(cfg.CredentialsFile))
	}

	client, err := gstorage.NewClient(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to create GCS client: %w", err)
	}

	return &GCSArchive{client: client, bucket: cfg.Bucket}, nil
}

// Close closes the GCS client
func (a *GCSArchive) Close() error {
	return a.client.Close()
}

// Store uploads a document to the bucket
func (a *GCSArchive) Store(ctx context.Context, key string, data []byte) error {
	w := a.client.Bucket(a.bucket).Object(key).NewWriter(ctx)
	w.ContentType = "application/pdf"

	if _, err := w.Write(data); err != nil {
		_ = w.Close()
		return fmt.Errorf("failed to store document in gcs: %w", err)
	}
	if err := w.Close(); err != nil {
		return fmt.Errorf("failed to finalize gcs upload: %w", err)
	}
	return nil
}

// Load downloads a document from the bucket
func (a *GCSArchive) Load(ctx context.Context, key string) ([]byte, error) {
	r, err := a.client.Bucket(a.bucket).Object(key).NewReader(ctx)
	if err != nil {
		if errors.Is(err, gstorage.ErrObjectNotExist) {
			return nil, fmt.Errorf("document not found: %s", key)
		}
		return nil, fmt.Errorf("failed to load document from gcs: %w", err)
	}
	defer r.Close()

	data, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("failed to read document body: %w", err)
	}
	return data, nil
}

// Exists checks whether a document is stored under key
func (a *GCSArchive) Exists(ctx context.Context, key string) (bool, error) {
	_, err := a.client.Bucket(a.bucket).Object(key).Attrs(ctx)
	if err != nil {
		if errors.Is(err, gstorage.ErrObjectNotExist) {
			return false, nil
		}
		return false, fmt.Errorf("failed to check document existence: %w", err)
	}
	return true, nil
}
