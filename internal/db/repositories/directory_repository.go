// directory_repository.go implements DirectoryRepository, persisting
// directory snapshots so the provider index survives restarts and the
// scrape history stays queryable.
package repositories

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"github.com/nonprofit-dossier/nonprofit-dossier/internal/db/models"
	"github.com/nonprofit-dossier/nonprofit-dossier/internal/directory"
)

// DirectoryRepository handles database operations for directory snapshots
type DirectoryRepository struct {
	db *sqlx.DB
}

// NewDirectoryRepository creates a new directory repository
func NewDirectoryRepository(db *sqlx.DB) *DirectoryRepository {
	return &DirectoryRepository{db: db}
}

// SaveSnapshot persists one directory snapshot and all its entries in a
// single transaction.
func (r *DirectoryRepository) SaveSnapshot(ctx context.Context, snapshot *directory.Snapshot) (uuid.UUID, error) {
	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return uuid.Nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	id := uuid.New()
	providers := snapshot.AllProviders()

	_, err = tx.ExecContext(ctx, `
		INSERT INTO directory_snapshots (id, built_at, town_count, provider_count)
		VALUES ($1, $2, $3, $4)
	`, id, snapshot.BuiltAt, len(snapshot.Towns), len(providers))
	if err != nil {
		return uuid.Nil, fmt.Errorf("failed to insert snapshot: %w", err)
	}

	positions := make(map[string]int)
	for _, p := range providers {
		pos := positions[p.Town]
		positions[p.Town] = pos + 1

		_, err = tx.ExecContext(ctx, `
			INSERT INTO directory_providers (id, snapshot_id, name, profile_url, town, position)
			VALUES ($1, $2, $3, $4, $5, $6)
		`, uuid.New(), id, p.Name, p.ProfileURL, p.Town, pos)
		if err != nil {
			return uuid.Nil, fmt.Errorf("failed to insert provider entry: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return uuid.Nil, fmt.Errorf("failed to commit snapshot: %w", err)
	}
	return id, nil
}

// LatestSnapshot retrieves the most recent snapshot header, or nil when
// nothing has been persisted yet.
func (r *DirectoryRepository) LatestSnapshot(ctx context.Context) (*models.DirectorySnapshot, error) {
	query := `
		SELECT id, built_at, town_count, provider_count, created_at
		FROM directory_snapshots
		ORDER BY built_at DESC
		LIMIT 1
	`

	var snapshot models.DirectorySnapshot
	err := r.db.GetContext(ctx, &snapshot, query)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get latest snapshot: %w", err)
	}

	return &snapshot, nil
}

// LoadSnapshot reconstructs an in-memory snapshot from its persisted
// entries, preserving roster order.
func (r *DirectoryRepository) LoadSnapshot(ctx context.Context, id uuid.UUID) (*directory.Snapshot, error) {
	query := `
		SELECT id, snapshot_id, name, profile_url, town, position
		FROM directory_providers
		WHERE snapshot_id = $1
		ORDER BY town, position
	`

	var rows []models.DirectoryProvider
	if err := r.db.SelectContext(ctx, &rows, query, id); err != nil {
		return nil, fmt.Errorf("failed to load snapshot entries: %w", err)
	}

	byTown := make(map[string][]directory.Provider)
	var towns []directory.Town
	for _, row := range rows {
		if _, seen := byTown[row.Town]; !seen {
			towns = append(towns, directory.Town{Name: row.Town})
		}
		byTown[row.Town] = append(byTown[row.Town], directory.Provider{
			Name:       row.Name,
			ProfileURL: row.ProfileURL,
			Town:       row.Town,
		})
	}

	return directory.NewSnapshot(towns, byTown), nil
}

// PruneSnapshots deletes snapshots older than the retention window,
// always keeping the most recent one.
func (r *DirectoryRepository) PruneSnapshots(ctx context.Context, olderThan time.Duration) (int64, error) {
	query := `
		DELETE FROM directory_snapshots
		WHERE built_at < $1
		AND id != (SELECT id FROM directory_snapshots ORDER BY built_at DESC LIMIT 1)
	`

	res, err := r.db.ExecContext(ctx, query, time.Now().Add(-olderThan))
	if err != nil {
		return 0, fmt.Errorf("failed to prune snapshots: %w", err)
	}

	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("failed to count pruned snapshots: %w", err)
	}
	return n, nil
}
