// dossier_repository.go implements DossierRepository, recording one audit
// row per bundle request.
package repositories

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"

	"github.com/nonprofit-dossier/nonprofit-dossier/internal/db/models"
)

// DossierRepository handles database operations for the dossier fetch log
type DossierRepository struct {
	db *sqlx.DB
}

// NewDossierRepository creates a new dossier repository
func NewDossierRepository(db *sqlx.DB) *DossierRepository {
	return &DossierRepository{db: db}
}

// RecordFetch inserts one fetch-log row
func (r *DossierRepository) RecordFetch(ctx context.Context, fetch *models.DossierFetch) error {
	if fetch.ID == uuid.Nil {
		fetch.ID = uuid.New()
	}
	if fetch.Errors == nil {
		fetch.Errors = pq.StringArray{}
	}

	query := `
		INSERT INTO dossier_fetches (id, ein, org_name, complete, errors, match_confidence)
		VALUES ($1, $2, $3, $4, $5, $6)
		RETURNING created_at
	`

	err := r.db.QueryRowContext(ctx, query,
		fetch.ID,
		fetch.EIN,
		fetch.OrgName,
		fetch.Complete,
		fetch.Errors,
		fetch.MatchConfidence,
	).Scan(&fetch.CreatedAt)
	if err != nil {
		return fmt.Errorf("failed to record dossier fetch: %w", err)
	}

	return nil
}

// RecentFetches lists the most recent fetch-log rows for one organization
func (r *DossierRepository) RecentFetches(ctx context.Context, ein string, limit int) ([]models.DossierFetch, error) {
	if limit <= 0 {
		limit = 20
	}

	query := `
		SELECT id, ein, org_name, complete, errors, match_confidence, created_at
		FROM dossier_fetches
		WHERE ein = $1
		ORDER BY created_at DESC
		LIMIT $2
	`

	var fetches []models.DossierFetch
	if err := r.db.SelectContext(ctx, &fetches, query, ein, limit); err != nil {
		return nil, fmt.Errorf("failed to list dossier fetches: %w", err)
	}

	return fetches, nil
}
