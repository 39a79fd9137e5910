package archive_test

import (
	"context"
	"strings"
	"testing"

	"github.com/nonprofit-dossier/nonprofit-dossier/internal/archive"
	"github.com/nonprofit-dossier/nonprofit-dossier/internal/config"
)

// ---------------------------------------------------------------------------
// Minimal mock Archive implementation for Register tests
// ---------------------------------------------------------------------------

type mockArchive struct{}

func (m *mockArchive) Store(_ context.Context, _ string, _ []byte) error { return nil }
func (m *mockArchive) Load(_ context.Context, _ string) ([]byte, error)  { return nil, nil }
func (m *mockArchive) Exists(_ context.Context, _ string) (bool, error)  { return false, nil }

// ---------------------------------------------------------------------------
// Register / NewArchive
// ---------------------------------------------------------------------------

func TestRegister_AddsFactory(t *testing.T) {
	archive.Register("test-backend", func(_ *config.Config) (archive.Archive, error) {
		return &mockArchive{}, nil
	})

	cfg := &config.Config{}
	cfg.Archive.Backend = "test-backend"

	a, err := archive.NewArchive(cfg)
	if err != nil {
		t.Fatalf("NewArchive() error: %v", err)
	}
	if a == nil {
		t.Fatal("NewArchive() returned nil")
	}
}

func TestNewArchive_UnknownBackend(t *testing.T) {
	cfg := &config.Config{}
	cfg.Archive.Backend = "completely-unknown-backend"

	_, err := archive.NewArchive(cfg)
	if err == nil {
		t.Fatal("NewArchive() expected error for unknown backend")
	}
	if !strings.Contains(err.Error(), "unsupported archive backend") {
		t.Errorf("error = %q, want mention of unsupported backend", err)
	}
}
