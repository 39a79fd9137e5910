package match

import (
	"strings"

	"github.com/nonprofit-dossier/nonprofit-dossier/internal/directory"
)

// Confidence names the basis on which a match was made.
type Confidence string

const (
	// ConfidenceExact means the normalized names are equal.
	ConfidenceExact Confidence = "exact-name"
	// ConfidenceNormalized means one normalized name contains the other;
	// a heuristic, lower-confidence basis that can false-positive on
	// similar names.
	ConfidenceNormalized Confidence = "normalized-name"
	// ConfidenceNone means no candidate matched.
	ConfidenceNone Confidence = "none"
)

// Result is the outcome of one matching attempt. Absence of a match is a
// normal, representable outcome, never an error.
type Result struct {
	Matched    bool                `json:"matched"`
	Provider   *directory.Provider `json:"provider"`
	Confidence Confidence          `json:"confidence"`
	// Pinned is true when the match came from the overrides file rather
	// than the name heuristic.
	Pinned bool `json:"pinned,omitempty"`
}

// NoMatch is the canonical empty result.
func NoMatch() Result {
	return Result{Matched: false, Provider: nil, Confidence: ConfidenceNone}
}

// Matcher finds directory entries for organizations named by the
// disclosure source. It reads the live directory snapshot on every call;
// it holds no state of its own beyond the optional overrides.
type Matcher struct {
	index     *directory.Index
	overrides *Overrides
}

// NewMatcher creates a matcher over the given index. overrides may be nil.
func NewMatcher(index *directory.Index, overrides *Overrides) *Matcher {
	return &Matcher{index: index, overrides: overrides}
}

// MatchEIN consults the overrides file before falling back to the name
// heuristic. An operator pin always wins over a heuristic match.
func (m *Matcher) MatchEIN(ein, name, city string) Result {
	if m.overrides != nil {
		if provider, ok := m.overrides.Lookup(ein); ok {
			return Result{Matched: true, Provider: provider, Confidence: ConfidenceExact, Pinned: true}
		}
	}
	return m.Match(name, city)
}

// Match finds the best directory candidate for an organization name and
// optional city.
//
// When the city names a known town, candidates are restricted to that
// town's roster; an unknown or empty city widens to the full directory.
// Exact normalized-name equality is tried first; on failure, containment
// in either direction is accepted as a lower-confidence fallback, taking
// the first candidate in directory order when several qualify.
func (m *Matcher) Match(name, city string) Result {
	snapshot := m.index.Snapshot()

	candidates := snapshot.AllProviders()
	if city != "" && snapshot.HasTown(city) {
		candidates = snapshot.ProvidersForTown(city)
	}
	return matchAgainst(name, candidates)
}

func matchAgainst(name string, candidates []directory.Provider) Result {
	query := NormalizeName(name)
	if query == "" {
		return NoMatch()
	}

	for i := range candidates {
		if NormalizeName(candidates[i].Name) == query {
			return Result{Matched: true, Provider: &candidates[i], Confidence: ConfidenceExact}
		}
	}

	for i := range candidates {
		candidate := NormalizeName(candidates[i].Name)
		if candidate == "" {
			continue
		}
		if strings.Contains(candidate, query) || strings.Contains(query, candidate) {
			return Result{Matched: true, Provider: &candidates[i], Confidence: ConfidenceNormalized}
		}
	}
	return NoMatch()
}
