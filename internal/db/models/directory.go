// Package models - directory.go defines the persisted forms of directory
// snapshots and their provider entries.
package models

import (
	"time"

	"github.com/google/uuid"
)

// DirectorySnapshot is one persisted refresh of the provider directory
type DirectorySnapshot struct {
	ID            uuid.UUID `db:"id"`
	BuiltAt       time.Time `db:"built_at"`
	TownCount     int       `db:"town_count"`
	ProviderCount int       `db:"provider_count"`
	CreatedAt     time.Time `db:"created_at"`
}

// DirectoryProvider is one directory entry within a snapshot. Position
// preserves roster order within a town.
type DirectoryProvider struct {
	ID         uuid.UUID `db:"id"`
	SnapshotID uuid.UUID `db:"snapshot_id"`
	Name       string    `db:"name"`
	ProfileURL string    `db:"profile_url"`
	Town       string    `db:"town"`
	Position   int       `db:"position"`
}
