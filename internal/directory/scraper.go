package directory

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"regexp"
	"strings"
	"time"

	"golang.org/x/net/html"
	"golang.org/x/text/cases"
	"golang.org/x/text/language"

	"github.com/nonprofit-dossier/nonprofit-dossier/internal/config"
	"github.com/nonprofit-dossier/nonprofit-dossier/internal/telemetry"
	"github.com/nonprofit-dossier/nonprofit-dossier/internal/validation"
)

// RosterParser extracts provider entries from a town roster document.
// Rosters are published as PDFs; the TextExtractor turns the download into
// plain text first, so this contract covers only the line heuristic that
// turns text into entries.
type RosterParser interface {
	ParseRoster(text, town string) []Provider
}

// Scraper fetches the portal index page and town roster documents.
// Two HTTP clients with different timeouts mirror the filings client: the
// index page should answer fast, roster and profile PDFs take longer.
type Scraper struct {
	IndexURL             string
	UserAgent            string
	AllowedHosts         []string
	AllowedPathFragments []string
	HTTPClient           *http.Client
	DownloadClient       *http.Client
	Extractor            TextExtractor
	Parser               RosterParser
}

// NewScraper creates a scraper from directory configuration.
func NewScraper(cfg config.DirectoryConfig) *Scraper {
	return &Scraper{
		IndexURL:             cfg.IndexURL,
		UserAgent:            cfg.UserAgent,
		AllowedHosts:         cfg.AllowedHosts,
		AllowedPathFragments: cfg.AllowedPathFragments,
		HTTPClient:           &http.Client{Timeout: cfg.RequestTimeout},
		DownloadClient:       &http.Client{Timeout: cfg.DocumentTimeout},
		Extractor:            PDFTextExtractor{},
		Parser:               &LineRosterParser{},
	}
}

func (s *Scraper) get(ctx context.Context, client *http.Client, rawURL string) ([]byte, error) {
	start := time.Now()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("User-Agent", s.UserAgent)

	resp, err := client.Do(req)
	if err != nil {
		telemetry.UpstreamFetchTotal.WithLabelValues("directory", "error").Inc()
		return nil, fmt.Errorf("portal request failed: %w", err)
	}
	defer resp.Body.Close()
	telemetry.UpstreamFetchDuration.WithLabelValues("directory").Observe(time.Since(start).Seconds())

	if resp.StatusCode == http.StatusNotFound {
		telemetry.UpstreamFetchTotal.WithLabelValues("directory", "not_found").Inc()
		return nil, fmt.Errorf("portal returned 404 for %s", rawURL)
	}
	if resp.StatusCode != http.StatusOK {
		telemetry.UpstreamFetchTotal.WithLabelValues("directory", "error").Inc()
		return nil, fmt.Errorf("portal returned status %d for %s", resp.StatusCode, rawURL)
	}

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		telemetry.UpstreamFetchTotal.WithLabelValues("directory", "error").Inc()
		return nil, fmt.Errorf("failed to read portal response: %w", err)
	}
	telemetry.UpstreamFetchTotal.WithLabelValues("directory", "ok").Inc()
	return data, nil
}

// FetchTowns retrieves and parses the portal index page, returning one Town
// per roster link found, sorted by name. Links qualify when their href
// contains both a town-roster path segment and a .pdf suffix; everything
// else on the page (navigation, unrelated documents) is ignored.
func (s *Scraper) FetchTowns(ctx context.Context) ([]Town, error) {
	body, err := s.get(ctx, s.HTTPClient, s.IndexURL)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch town index: %w", err)
	}

	base, err := url.Parse(s.IndexURL)
	if err != nil {
		return nil, fmt.Errorf("invalid index URL: %w", err)
	}

	doc, err := html.Parse(strings.NewReader(string(body)))
	if err != nil {
		return nil, fmt.Errorf("failed to parse town index page: %w", err)
	}

	var towns []Town
	seen := make(map[string]bool)
	for n := range doc.Descendants() {
		if n.Type != html.ElementNode || n.Data != "a" {
			continue
		}
		href := strings.TrimSpace(attrValue(n, "href"))
		if href == "" {
			continue
		}
		lower := strings.ToLower(href)
		if !strings.Contains(lower, "provider_town") || !strings.Contains(lower, ".pdf") {
			continue
		}
		ref, err := url.Parse(href)
		if err != nil {
			continue
		}
		fullURL := base.ResolveReference(ref).String()
		if seen[fullURL] {
			continue
		}
		seen[fullURL] = true

		name := strings.TrimSpace(anchorText(n))
		if name == "" {
			name = inferNameFromURL(fullURL)
		}
		towns = append(towns, Town{Name: name, RosterURL: fullURL})
	}
	return towns, nil
}

// FetchDocument downloads a roster, profile, or quality-review document after
// checking the URL against the host and path allow lists. The scraper never
// fetches a URL outside the portal's document space.
func (s *Scraper) FetchDocument(ctx context.Context, rawURL string) ([]byte, error) {
	if err := validation.ValidateDocumentURL(rawURL, s.AllowedHosts, s.AllowedPathFragments); err != nil {
		return nil, err
	}
	return s.get(ctx, s.DownloadClient, rawURL)
}

// Refresh rebuilds the directory index: one index-page fetch, one roster
// fetch per town, then a single atomic snapshot swap. A town whose roster
// cannot be fetched keeps its entries from the previous snapshot so a
// transient portal hiccup does not drop whole towns from the directory.
// Only an unreachable index page fails the refresh outright.
func (s *Scraper) Refresh(ctx context.Context, idx *Index) error {
	start := time.Now()

	towns, err := s.FetchTowns(ctx)
	if err != nil {
		telemetry.DirectoryRefreshErrorsTotal.Inc()
		return err
	}

	previous := idx.Snapshot()
	providersByTown := make(map[string][]Provider, len(towns))
	carried := 0
	for _, town := range towns {
		data, err := s.FetchDocument(ctx, town.RosterURL)
		if err != nil {
			if prev := previous.ProvidersForTown(town.Name); prev != nil {
				providersByTown[town.Name] = prev
				carried++
			}
			slog.Warn("roster fetch failed, carrying previous entries",
				"town", town.Name, "error", err)
			continue
		}
		text, err := s.Extractor.ExtractText(data)
		if err != nil {
			if prev := previous.ProvidersForTown(town.Name); prev != nil {
				providersByTown[town.Name] = prev
				carried++
			}
			slog.Warn("roster extraction failed, carrying previous entries",
				"town", town.Name, "error", err)
			continue
		}
		providersByTown[town.Name] = s.Parser.ParseRoster(text, town.Name)
	}

	next := NewSnapshot(towns, providersByTown)
	idx.Swap(next)

	telemetry.DirectoryRefreshDuration.Observe(time.Since(start).Seconds())
	telemetry.DirectoryRefreshLastSuccess.Set(float64(time.Now().Unix()))
	telemetry.DirectoryProviders.Set(float64(next.ProviderCount()))

	slog.Info("directory refresh complete",
		"towns", len(towns),
		"providers", next.ProviderCount(),
		"carried_towns", carried,
		"duration", time.Since(start).Round(time.Millisecond))
	return nil
}

func attrValue(n *html.Node, key string) string {
	for _, a := range n.Attr {
		if a.Key == key {
			return a.Val
		}
	}
	return ""
}

func anchorText(n *html.Node) string {
	var b strings.Builder
	for c := range n.Descendants() {
		if c.Type == html.TextNode {
			b.WriteString(c.Data)
		}
	}
	return whitespaceRun.ReplaceAllString(b.String(), " ")
}

var pdfSuffix = regexp.MustCompile(`(?i)\.pdf$`)

// inferNameFromURL derives a display name from a document filename when the
// index page anchor has no text, e.g. ".../hartford_pp.pdf" → "Hartford".
func inferNameFromURL(rawURL string) string {
	name := rawURL[strings.LastIndex(rawURL, "/")+1:]
	name = pdfSuffix.ReplaceAllString(name, "")
	name = strings.ReplaceAll(name, "_pp", "")
	name = strings.ReplaceAll(name, "-", " ")
	name = strings.ReplaceAll(name, "_", " ")
	name = strings.TrimSpace(name)
	if name == "" {
		return "provider"
	}
	return cases.Title(language.AmericanEnglish).String(name)
}
