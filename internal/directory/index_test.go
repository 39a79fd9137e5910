package directory

import (
	"sync"
	"testing"
)

func testSnapshot() *Snapshot {
	towns := []Town{
		{Name: "New Haven", RosterURL: "https://portal.ct.gov/dds/provider_town/new_haven.pdf"},
		{Name: "Hartford", RosterURL: "https://portal.ct.gov/dds/provider_town/hartford.pdf"},
	}
	providers := map[string][]Provider{
		"Hartford": {
			{Name: "Example Services Inc", ProfileURL: "https://portal.ct.gov/dds/provider_alpha/example.pdf"},
			{Name: "Acme Community Care", ProfileURL: "https://portal.ct.gov/dds/provider_alpha/acme.pdf"},
		},
		"New Haven": {
			{Name: "Harbor House", ProfileURL: "https://portal.ct.gov/dds/provider_alpha/harbor.pdf"},
		},
	}
	return NewSnapshot(towns, providers)
}

func TestNewSnapshot_SortsTownsPreservesProviderOrder(t *testing.T) {
	s := testSnapshot()

	if len(s.Towns) != 2 {
		t.Fatalf("len(Towns) = %d, want 2", len(s.Towns))
	}
	if s.Towns[0].Name != "Hartford" || s.Towns[1].Name != "New Haven" {
		t.Errorf("towns not sorted by name: %v", s.Towns)
	}

	hartford := s.ProvidersForTown("Hartford")
	if len(hartford) != 2 {
		t.Fatalf("Hartford providers = %d, want 2", len(hartford))
	}
	// Roster order must survive: fallback matching picks the first entry.
	if hartford[0].Name != "Example Services Inc" {
		t.Errorf("first Hartford provider = %q, want Example Services Inc", hartford[0].Name)
	}
	// Town is stamped onto every entry.
	for _, p := range hartford {
		if p.Town != "Hartford" {
			t.Errorf("provider %q has town %q, want Hartford", p.Name, p.Town)
		}
	}
}

func TestSnapshot_TownLookupIsNormalized(t *testing.T) {
	s := testSnapshot()
	for _, variant := range []string{"hartford", "HARTFORD", "  Hartford  ", "new   haven"} {
		if got := s.ProvidersForTown(variant); got == nil {
			t.Errorf("ProvidersForTown(%q) = nil, want entries", variant)
		}
	}
	if got := s.ProvidersForTown("Bridgeport"); got != nil {
		t.Errorf("ProvidersForTown(unknown town) = %v, want nil", got)
	}
	if !s.HasTown("hartford") {
		t.Error("HasTown(hartford) = false, want true")
	}
	if s.HasTown("Bridgeport") {
		t.Error("HasTown(Bridgeport) = true, want false")
	}
}

func TestSnapshot_AllProviders(t *testing.T) {
	s := testSnapshot()
	all := s.AllProviders()
	if len(all) != 3 {
		t.Fatalf("AllProviders() = %d entries, want 3", len(all))
	}
	if s.ProviderCount() != 3 {
		t.Errorf("ProviderCount() = %d, want 3", s.ProviderCount())
	}
	// Town order (sorted) then roster order.
	if all[0].Town != "Hartford" || all[2].Town != "New Haven" {
		t.Errorf("AllProviders() order wrong: %v", all)
	}
}

func TestIndex_StartsEmptyAndSwapsAtomically(t *testing.T) {
	idx := NewIndex()

	initial := idx.Snapshot()
	if initial == nil {
		t.Fatal("Snapshot() = nil before first refresh, want empty snapshot")
	}
	if initial.ProviderCount() != 0 {
		t.Errorf("initial ProviderCount() = %d, want 0", initial.ProviderCount())
	}

	next := testSnapshot()
	prev := idx.Swap(next)
	if prev != initial {
		t.Error("Swap() did not return the previous snapshot")
	}
	if idx.Snapshot() != next {
		t.Error("Snapshot() after Swap() is not the new snapshot")
	}
}

func TestIndex_ConcurrentReadersDuringSwap(t *testing.T) {
	idx := NewIndex()
	idx.Swap(testSnapshot())

	var wg sync.WaitGroup
	stop := make(chan struct{})

	// Readers must always see a complete snapshot: either 3 providers
	// (old) or 1 provider (new), never anything in between.
	for i := 0; i < 4; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for {
				select {
				case <-stop:
					return
				default:
				}
				n := idx.Snapshot().ProviderCount()
				if n != 3 && n != 1 {
					t.Errorf("reader saw partial snapshot with %d providers", n)
					return
				}
			}
		}()
	}

	replacement := NewSnapshot(
		[]Town{{Name: "Hartford", RosterURL: "u"}},
		map[string][]Provider{"Hartford": {{Name: "Only One", ProfileURL: "p"}}},
	)
	for i := 0; i < 100; i++ {
		idx.Swap(replacement)
		idx.Swap(testSnapshot())
	}
	idx.Swap(replacement)
	close(stop)
	wg.Wait()
}
