package dossier

import (
	"context"
	"strings"
	"unicode/utf8"

	"github.com/nonprofit-dossier/nonprofit-dossier/internal/filings"
	"github.com/nonprofit-dossier/nonprofit-dossier/internal/match"
)

// SearchSource is the slice of the filings client used by unified search.
type SearchSource interface {
	Search(ctx context.Context, query, state string) ([]filings.SearchResult, error)
}

// SearchHit is one unified-search row: a filings hit enriched with the
// directory match for that organization.
type SearchHit struct {
	EIN        string `json:"ein"`
	Name       string `json:"name"`
	City       string `json:"city"`
	State      string `json:"state"`
	NTEECode   string `json:"ntee_code,omitempty"`
	HasForm990 bool   `json:"has_form990"`

	DDSProvider *ProviderRef     `json:"dds_provider"`
	Confidence  match.Confidence `json:"match_confidence"`
}

// ProviderRef is the directory entry attached to a search hit.
type ProviderRef struct {
	Name       string `json:"name"`
	ProfileURL string `json:"profile_url"`
	Town       string `json:"town,omitempty"`
}

// Searcher resolves unified-search queries against the filings source and
// the provider directory.
type Searcher struct {
	source  SearchSource
	matcher *match.Matcher
	state   string
}

func NewSearcher(source SearchSource, m *match.Matcher, state string) *Searcher {
	return &Searcher{source: source, matcher: m, state: state}
}

// UnifiedSearch runs a name search against the filings source and attaches
// a directory match to each hit. Queries shorter than two runes return an
// empty result without touching the upstream.
func (s *Searcher) UnifiedSearch(ctx context.Context, query string) ([]SearchHit, error) {
	query = strings.TrimSpace(query)
	if utf8.RuneCountInString(query) < 2 {
		return []SearchHit{}, nil
	}

	results, err := s.source.Search(ctx, query, s.state)
	if err != nil {
		return nil, err
	}

	hits := make([]SearchHit, 0, len(results))
	for _, r := range results {
		hit := SearchHit{
			EIN:        r.EIN,
			Name:       r.Name,
			City:       r.City,
			State:      r.State,
			NTEECode:   r.NTEECode,
			HasForm990: r.HasFiling,
			Confidence: match.ConfidenceNone,
		}
		m := s.matcher.MatchEIN(r.EIN, r.Name, r.City)
		if m.Matched && m.Provider != nil {
			hit.DDSProvider = &ProviderRef{
				Name:       m.Provider.Name,
				ProfileURL: m.Provider.ProfileURL,
				Town:       m.Provider.Town,
			}
			hit.Confidence = m.Confidence
		}
		hits = append(hits, hit)
	}
	return hits, nil
}
