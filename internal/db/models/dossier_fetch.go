package models

import (
	"time"

	"github.com/google/uuid"
	"github.com/lib/pq"
)

// DossierFetch is the audit record of one bundle request
type DossierFetch struct {
	ID              uuid.UUID      `db:"id" json:"id"`
	EIN             string         `db:"ein" json:"ein"`
	OrgName         string         `db:"org_name" json:"org_name"`
	Complete        bool           `db:"complete" json:"complete"`
	Errors          pq.StringArray `db:"errors" json:"errors"`
	MatchConfidence string         `db:"match_confidence" json:"match_confidence"`
	CreatedAt       time.Time      `db:"created_at" json:"created_at"`
}
