// Package dossier assembles per-organization document bundles from the
// financial-disclosure source and the provider directory. The orchestrator
// runs independent fetches concurrently and records per-document failures
// as data inside the bundle instead of failing the whole operation; only a
// malformed identifier rejects a request outright.
package dossier

import (
	"fmt"

	"github.com/nonprofit-dossier/nonprofit-dossier/internal/match"
)

// Error categories surfaced in a bundle's error list. Partial failures are
// communicated as these strings, never as Go errors.
const (
	ErrSourceUnreachable    = "source-unreachable"
	ErrIdentifierNotFound   = "identifier-not-found"
	ErrProfileURLUnresolved = "profile-url-unresolvable"
	ErrDocumentFetchTimeout = "document-fetch-timeout"
	ErrMalformedDocument    = "malformed-document-response"
)

// Document names used as error prefixes and archive keys.
const (
	docForm990         = "form990"
	docProviderProfile = "provider_profile"
	docQualityReport   = "quality_report"
)

// Bundle is the central output contract: one per dossier-generation
// request, with independently optional documents. A nil document slice
// means "absent"; an empty non-nil slice means "present but empty" — the
// distinction survives JSON round-trips (null vs "").
type Bundle struct {
	Form990         []byte `json:"form990"`
	Form990Year     *int   `json:"form990_year"`
	ProviderProfile []byte `json:"provider_profile"`
	QualityReport   []byte `json:"quality_report"`
	OrgName         string `json:"org_name"`
	// Match records how the provider profile was resolved; confidence
	// "none" with matched=false when no directory entry was found.
	Match match.Result `json:"match"`
	// Errors holds one entry per failed fetch, in document order:
	// form990 first, then provider profile, then quality report.
	Errors []string `json:"errors"`
}

// Complete reports whether every attempted fetch succeeded. A bundle with
// no provider match and no errors is complete: absence is not a failure.
func (b *Bundle) Complete() bool {
	return len(b.Errors) == 0
}

// HasFiling reports whether the tax filing document was fetched. Callers
// treat a missing filing as the one condition that blocks narrative
// analysis.
func (b *Bundle) HasFiling() bool {
	return b.Form990 != nil
}

// bundleError renders a taxonomy entry for one document, with optional detail.
func bundleError(doc, category, detail string) string {
	if detail == "" {
		return fmt.Sprintf("%s: %s", doc, category)
	}
	return fmt.Sprintf("%s: %s: %s", doc, category, detail)
}
