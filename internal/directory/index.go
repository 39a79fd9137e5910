// Package directory maintains the licensed-provider directory: a scraper that
// rebuilds the town → provider mapping from the state portal, and an in-memory
// index serving read queries against an immutable snapshot.
//
// The index is rebuilt wholesale each refresh cycle. A new snapshot is
// assembled completely off to the side and installed with a single atomic
// pointer swap, so concurrent readers always observe either the previous
// complete snapshot or the new complete one, never a partial rebuild.
package directory

import (
	"regexp"
	"sort"
	"strings"
	"sync/atomic"
	"time"
)

// Town is one municipality with a roster document on the portal.
type Town struct {
	Name      string `json:"name"`
	RosterURL string `json:"roster_url"`
}

// Provider is one directory entry: a licensed provider and its profile
// document URL, tagged with the town whose roster listed it.
type Provider struct {
	Name       string `json:"name"`
	ProfileURL string `json:"url"`
	Town       string `json:"town"`
}

// Snapshot is an immutable view of the directory at one refresh instant.
type Snapshot struct {
	Towns     []Town
	BuiltAt   time.Time
	byTown    map[string][]Provider
	townNames map[string]string // normalized → display name
	flat      []Provider
}

var whitespaceRun = regexp.MustCompile(`\s+`)

// normalizeTown lowercases and collapses whitespace so "New  Haven " and
// "new haven" key the same roster.
func normalizeTown(name string) string {
	return whitespaceRun.ReplaceAllString(strings.TrimSpace(strings.ToLower(name)), " ")
}

// NewSnapshot builds a snapshot from a town → provider mapping. Towns are
// sorted by name; provider order within a town is preserved as scraped,
// because fallback matching picks the first candidate in directory order.
func NewSnapshot(towns []Town, providersByTown map[string][]Provider) *Snapshot {
	s := &Snapshot{
		Towns:     make([]Town, len(towns)),
		BuiltAt:   time.Now(),
		byTown:    make(map[string][]Provider, len(providersByTown)),
		townNames: make(map[string]string, len(towns)),
	}
	copy(s.Towns, towns)
	sort.Slice(s.Towns, func(i, j int) bool {
		return strings.ToLower(s.Towns[i].Name) < strings.ToLower(s.Towns[j].Name)
	})

	for _, t := range s.Towns {
		key := normalizeTown(t.Name)
		s.townNames[key] = t.Name
		providers := providersByTown[t.Name]
		entries := make([]Provider, 0, len(providers))
		for _, p := range providers {
			p.Town = t.Name
			entries = append(entries, p)
		}
		s.byTown[key] = entries
		s.flat = append(s.flat, entries...)
	}
	return s
}

// ProvidersForTown returns the providers listed under the given town,
// matched case-insensitively with collapsed whitespace. Nil when the town
// is unknown.
func (s *Snapshot) ProvidersForTown(town string) []Provider {
	return s.byTown[normalizeTown(town)]
}

// HasTown reports whether the snapshot carries a roster for the given town.
func (s *Snapshot) HasTown(town string) bool {
	_, ok := s.byTown[normalizeTown(town)]
	return ok
}

// AllProviders returns every provider across all towns, in town order then
// roster order. Callers must not mutate the returned slice.
func (s *Snapshot) AllProviders() []Provider {
	return s.flat
}

// ProviderCount returns the total number of entries in the snapshot.
func (s *Snapshot) ProviderCount() int {
	return len(s.flat)
}

// Index is the process-wide directory handle. The zero value is not usable;
// use NewIndex.
type Index struct {
	snapshot atomic.Pointer[Snapshot]
}

// NewIndex creates an index holding an empty snapshot, so readers never
// have to nil-check before the first refresh completes.
func NewIndex() *Index {
	idx := &Index{}
	idx.snapshot.Store(NewSnapshot(nil, nil))
	return idx
}

// Snapshot returns the current complete snapshot.
func (i *Index) Snapshot() *Snapshot {
	return i.snapshot.Load()
}

// Swap atomically installs a new snapshot and returns the previous one.
func (i *Index) Swap(s *Snapshot) *Snapshot {
	return i.snapshot.Swap(s)
}
