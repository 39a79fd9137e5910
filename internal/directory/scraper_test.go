package directory

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/nonprofit-dossier/nonprofit-dossier/internal/config"
)

func newTestScraper(t *testing.T, handler http.Handler) (*httptest.Server, *Scraper) {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)

	s := NewScraper(config.DirectoryConfig{
		IndexURL:             srv.URL + "/dds/provider-by-town",
		AllowedHosts:         []string{"127.0.0.1"},
		AllowedPathFragments: []string{"/provider_town/", "/provider_alpha/", "/qsr/", "/dds/"},
		UserAgent:            "test-scraper/1.0",
		RequestTimeout:       5 * time.Second,
		DocumentTimeout:      5 * time.Second,
	})
	return srv, s
}

// plainTextExtractor stands in for PDF text extraction so roster fixtures
// can be served as plain text.
type plainTextExtractor struct {
	err error
}

func (e plainTextExtractor) ExtractText(data []byte) (string, error) {
	if e.err != nil {
		return "", e.err
	}
	return string(data), nil
}

const indexPageHTML = `<html><body>
<nav><a href="/dmv/renew">Renew a license</a></nav>
<ul>
  <li><a href="/dds/provider_town/hartford_pp.pdf">Hartford</a></li>
  <li><a href="/dds/provider_town/new_haven_pp.pdf"><span>New Haven</span></a></li>
  <li><a href="/dds/provider_town/hartford_pp.pdf">Hartford (duplicate)</a></li>
  <li><a href="/dds/other/annual_report.pdf">Annual report</a></li>
  <li><a href="/dds/provider_town/andover_pp.pdf"></a></li>
</ul>
</body></html>`

func TestFetchTowns(t *testing.T) {
	_, s := newTestScraper(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/dds/provider-by-town" {
			w.Header().Set("Content-Type", "text/html")
			w.Write([]byte(indexPageHTML))
			return
		}
		http.NotFound(w, r)
	}))

	towns, err := s.FetchTowns(context.Background())
	if err != nil {
		t.Fatalf("FetchTowns() error: %v", err)
	}
	// Three distinct roster links: hartford, new_haven, andover. The nav link,
	// the non-roster PDF, and the duplicate must all be skipped.
	if len(towns) != 3 {
		t.Fatalf("FetchTowns() returned %d towns, want 3: %v", len(towns), towns)
	}

	byName := make(map[string]Town)
	for _, town := range towns {
		byName[town.Name] = town
	}
	if _, ok := byName["Hartford"]; !ok {
		t.Errorf("missing Hartford in %v", towns)
	}
	if _, ok := byName["New Haven"]; !ok {
		t.Errorf("anchor text inside child elements not collected: %v", towns)
	}
	// Empty anchor text falls back to the filename.
	if _, ok := byName["Andover"]; !ok {
		t.Errorf("missing Andover (name inferred from URL): %v", towns)
	}
	if !strings.HasSuffix(byName["Hartford"].RosterURL, "/dds/provider_town/hartford_pp.pdf") {
		t.Errorf("Hartford roster URL = %q", byName["Hartford"].RosterURL)
	}
}

func TestFetchDocument_EnforcesAllowList(t *testing.T) {
	srv, s := newTestScraper(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("document bytes"))
	}))

	t.Run("allowed path succeeds", func(t *testing.T) {
		data, err := s.FetchDocument(context.Background(), srv.URL+"/dds/provider_alpha/example.pdf")
		if err != nil {
			t.Fatalf("FetchDocument() error: %v", err)
		}
		if string(data) != "document bytes" {
			t.Errorf("FetchDocument() = %q", data)
		}
	})

	t.Run("disallowed host rejected without fetch", func(t *testing.T) {
		_, err := s.FetchDocument(context.Background(), "https://evil.example.com/dds/provider_alpha/x.pdf")
		if err == nil {
			t.Error("FetchDocument() expected allow-list error, got nil")
		}
	})

	t.Run("disallowed path rejected", func(t *testing.T) {
		_, err := s.FetchDocument(context.Background(), srv.URL+"/dmv/records.pdf")
		if err == nil {
			t.Error("FetchDocument() expected path-fragment error, got nil")
		}
	})
}

func TestRefresh(t *testing.T) {
	hartfordDown := false
	srv, s := newTestScraper(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/dds/provider-by-town":
			w.Write([]byte(`<a href="/dds/provider_town/hartford_pp.pdf">Hartford</a>
				<a href="/dds/provider_town/new_haven_pp.pdf">New Haven</a>`))
		case "/dds/provider_town/hartford_pp.pdf":
			if hartfordDown {
				http.Error(w, "unavailable", http.StatusServiceUnavailable)
				return
			}
			w.Write([]byte("Example Services Inc https://portal.ct.gov/dds/provider_alpha/example.pdf"))
		case "/dds/provider_town/new_haven_pp.pdf":
			w.Write([]byte("Harbor House https://portal.ct.gov/dds/provider_alpha/harbor.pdf"))
		default:
			http.NotFound(w, r)
		}
	}))
	_ = srv
	s.Extractor = plainTextExtractor{}

	idx := NewIndex()
	if err := s.Refresh(context.Background(), idx); err != nil {
		t.Fatalf("Refresh() error: %v", err)
	}

	snap := idx.Snapshot()
	if snap.ProviderCount() != 2 {
		t.Fatalf("ProviderCount() = %d, want 2", snap.ProviderCount())
	}
	hartford := snap.ProvidersForTown("Hartford")
	if len(hartford) != 1 || hartford[0].Name != "Example Services Inc" {
		t.Errorf("Hartford providers = %v", hartford)
	}

	// Second refresh with the Hartford roster unreachable: entries from the
	// previous snapshot must be carried over, not dropped.
	hartfordDown = true
	if err := s.Refresh(context.Background(), idx); err != nil {
		t.Fatalf("Refresh() with one town down error: %v", err)
	}
	snap = idx.Snapshot()
	hartford = snap.ProvidersForTown("Hartford")
	if len(hartford) != 1 || hartford[0].Name != "Example Services Inc" {
		t.Errorf("Hartford providers after failed roster fetch = %v, want carried-over entry", hartford)
	}
	if got := snap.ProvidersForTown("New Haven"); len(got) != 1 {
		t.Errorf("New Haven providers = %v, want 1", got)
	}
}

func TestRefresh_ExtractionFailureCarriesPrevious(t *testing.T) {
	_, s := newTestScraper(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/dds/provider-by-town":
			w.Write([]byte(`<a href="/dds/provider_town/hartford_pp.pdf">Hartford</a>`))
		case "/dds/provider_town/hartford_pp.pdf":
			w.Write([]byte("Example Services Inc https://portal.ct.gov/dds/provider_alpha/example.pdf"))
		default:
			http.NotFound(w, r)
		}
	}))
	s.Extractor = plainTextExtractor{}

	idx := NewIndex()
	if err := s.Refresh(context.Background(), idx); err != nil {
		t.Fatalf("Refresh() error: %v", err)
	}
	if idx.Snapshot().ProviderCount() != 1 {
		t.Fatalf("ProviderCount() = %d, want 1", idx.Snapshot().ProviderCount())
	}

	// A roster that downloads but cannot be extracted must carry the
	// previous entries, same as a failed fetch.
	s.Extractor = plainTextExtractor{err: errors.New("garbled document")}
	if err := s.Refresh(context.Background(), idx); err != nil {
		t.Fatalf("Refresh() with extraction failure error: %v", err)
	}
	hartford := idx.Snapshot().ProvidersForTown("Hartford")
	if len(hartford) != 1 || hartford[0].Name != "Example Services Inc" {
		t.Errorf("Hartford providers after extraction failure = %v, want carried-over entry", hartford)
	}
}

func TestRefresh_IndexPageUnreachable(t *testing.T) {
	_, s := newTestScraper(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "down", http.StatusBadGateway)
	}))

	idx := NewIndex()
	idx.Swap(testSnapshot())

	if err := s.Refresh(context.Background(), idx); err == nil {
		t.Fatal("Refresh() expected error when index page unreachable, got nil")
	}
	// The previous snapshot must remain installed untouched.
	if idx.Snapshot().ProviderCount() != 3 {
		t.Errorf("ProviderCount() = %d after failed refresh, want previous snapshot's 3", idx.Snapshot().ProviderCount())
	}
}
