// Package analysis produces narrative summaries of a dossier bundle via a
// generative model. The model is treated as a black box: the package owns
// prompt construction and transport, never the content of the narrative.
package analysis

import (
	"context"
	"time"
)

// Request carries everything the analyzer may draw on for one
// organization. Documents are optional individually, but callers must not
// submit a request without a filing document.
type Request struct {
	OrgName string
	EIN     string
	// FinancialSummary is the pre-formatted multi-year financial table.
	FinancialSummary string
	// Form990 is the filing document (PDF). Required.
	Form990 []byte
	// ProviderProfile and QualityReport are optional supporting documents.
	ProviderProfile []byte
	QualityReport   []byte
}

// Report is the analyzer's output.
type Report struct {
	Narrative   string    `json:"narrative"`
	Model       string    `json:"model"`
	GeneratedAt time.Time `json:"generated_at"`
}

// Analyzer generates a narrative report for one organization.
type Analyzer interface {
	Analyze(ctx context.Context, req Request) (*Report, error)
}
