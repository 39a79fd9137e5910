package api

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"path"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/lib/pq"
	"github.com/nonprofit-dossier/nonprofit-dossier/internal/analysis"
	"github.com/nonprofit-dossier/nonprofit-dossier/internal/config"
	"github.com/nonprofit-dossier/nonprofit-dossier/internal/db/models"
	"github.com/nonprofit-dossier/nonprofit-dossier/internal/db/repositories"
	"github.com/nonprofit-dossier/nonprofit-dossier/internal/directory"
	"github.com/nonprofit-dossier/nonprofit-dossier/internal/dossier"
	"github.com/nonprofit-dossier/nonprofit-dossier/internal/filings"
	"github.com/nonprofit-dossier/nonprofit-dossier/internal/finance"
	"github.com/nonprofit-dossier/nonprofit-dossier/internal/safego"
	"github.com/nonprofit-dossier/nonprofit-dossier/internal/validation"
)

// Handlers carries the wired services for the /api/v1 routes.
type Handlers struct {
	cfg          *config.Config
	index        *directory.Index
	scraper      *directory.Scraper
	filings      *filings.Client
	searcher     *dossier.Searcher
	orchestrator *dossier.Orchestrator
	analyzer     analysis.Analyzer
	dossierRepo  *repositories.DossierRepository
}

// NewHandlers wires the route handlers. analyzer and dossierRepo may be nil;
// the analyze endpoint then returns 503 and fetch audit logging is skipped.
func NewHandlers(
	cfg *config.Config,
	index *directory.Index,
	scraper *directory.Scraper,
	filingsClient *filings.Client,
	searcher *dossier.Searcher,
	orchestrator *dossier.Orchestrator,
	analyzer analysis.Analyzer,
	dossierRepo *repositories.DossierRepository,
) *Handlers {
	return &Handlers{
		cfg:          cfg,
		index:        index,
		scraper:      scraper,
		filings:      filingsClient,
		searcher:     searcher,
		orchestrator: orchestrator,
		analyzer:     analyzer,
		dossierRepo:  dossierRepo,
	}
}

// ---------------------------------------------------------------------------
// Directory browsing
// ---------------------------------------------------------------------------

// ListTowns returns the towns in the current directory snapshot.
func (h *Handlers) ListTowns(c *gin.Context) {
	snapshot := h.index.Snapshot()
	c.JSON(http.StatusOK, gin.H{
		"towns":    snapshot.Towns,
		"count":    len(snapshot.Towns),
		"built_at": snapshot.BuiltAt,
	})
}

// ListTownProviders returns the roster for one town, in roster order.
func (h *Handlers) ListTownProviders(c *gin.Context) {
	town := c.Param("town")
	snapshot := h.index.Snapshot()
	if !snapshot.HasTown(town) {
		c.JSON(http.StatusNotFound, gin.H{"error": fmt.Sprintf("unknown town: %s", town)})
		return
	}
	providers := snapshot.ProvidersForTown(town)
	c.JSON(http.StatusOK, gin.H{
		"town":      town,
		"providers": providers,
		"count":     len(providers),
	})
}

// ---------------------------------------------------------------------------
// Search and organization metadata
// ---------------------------------------------------------------------------

// UnifiedSearch runs a name search against the filings source and attaches
// directory matches. Queries under two characters return an empty result.
func (h *Handlers) UnifiedSearch(c *gin.Context) {
	query := c.Query("q")
	hits, err := h.searcher.UnifiedSearch(c.Request.Context(), query)
	if err != nil {
		c.JSON(http.StatusBadGateway, gin.H{"error": "search upstream unavailable"})
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"query":   strings.TrimSpace(query),
		"results": hits,
		"count":   len(hits),
	})
}

// GetOrganization returns the filings metadata for one organization.
func (h *Handlers) GetOrganization(c *gin.Context) {
	ein, err := validation.NormalizeEIN(c.Param("ein"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	details, err := h.filings.GetOrganization(c.Request.Context(), ein)
	if err != nil {
		if errors.Is(err, filings.ErrNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "organization not found"})
			return
		}
		c.JSON(http.StatusBadGateway, gin.H{"error": "filings upstream unavailable"})
		return
	}

	c.JSON(http.StatusOK, details)
}

// GetFinancials returns the normalized multi-year financial history for one
// organization. The years parameter defaults to 5 and is capped at 10.
func (h *Handlers) GetFinancials(c *gin.Context) {
	ein, err := validation.NormalizeEIN(c.Param("ein"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	years := 5
	if raw := c.Query("years"); raw != "" {
		parsed, parseErr := strconv.Atoi(raw)
		if parseErr != nil || parsed < 1 {
			c.JSON(http.StatusBadRequest, gin.H{"error": "years must be a positive integer"})
			return
		}
		years = parsed
	}
	if years > 10 {
		years = 10
	}

	details, err := h.filings.GetOrganization(c.Request.Context(), ein)
	if err != nil {
		if errors.Is(err, filings.ErrNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "organization not found"})
			return
		}
		c.JSON(http.StatusBadGateway, gin.H{"error": "filings upstream unavailable"})
		return
	}

	records, metrics := finance.Normalize(details.Filings, years)
	c.JSON(http.StatusOK, gin.H{
		"ein":     validation.FormatEIN(ein),
		"name":    details.Name,
		"years":   records,
		"metrics": metrics,
	})
}

// ListFetches returns the recent dossier fetch audit entries for one
// organization.
func (h *Handlers) ListFetches(c *gin.Context) {
	ein, err := validation.NormalizeEIN(c.Param("ein"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if h.dossierRepo == nil {
		c.JSON(http.StatusOK, gin.H{"fetches": []models.DossierFetch{}, "count": 0})
		return
	}

	limit := 0
	if raw := c.Query("limit"); raw != "" {
		limit, _ = strconv.Atoi(raw)
	}
	fetches, err := h.dossierRepo.RecentFetches(c.Request.Context(), ein, limit)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to load fetch history"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"fetches": fetches, "count": len(fetches)})
}

// ---------------------------------------------------------------------------
// Document fetching
// ---------------------------------------------------------------------------

// fetchDocsRequest is the body for POST /organizations/fetch-docs and the
// optional body for POST /organizations/:ein/analyze.
type fetchDocsRequest struct {
	EIN         string `json:"ein"`
	OrgName     string `json:"org_name"`
	City        string `json:"city"`
	ProviderURL string `json:"provider_url"`
	Year        int    `json:"year"`
}

// FetchDocuments assembles the document bundle for one organization. Partial
// failures are reported inside the bundle; only a malformed EIN fails the
// request outright.
func (h *Handlers) FetchDocuments(c *gin.Context) {
	var req fetchDocsRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body"})
		return
	}

	bundle, err := h.orchestrator.FetchBundle(c.Request.Context(), dossier.FetchRequest{
		EIN:                req.EIN,
		Name:               req.OrgName,
		City:               req.City,
		ProfileURLOverride: req.ProviderURL,
		Year:               req.Year,
	})
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	h.recordFetch(req.EIN, bundle)
	c.JSON(http.StatusOK, bundle)
}

// recordFetch writes the audit entry without blocking the response.
func (h *Handlers) recordFetch(rawEIN string, bundle *dossier.Bundle) {
	if h.dossierRepo == nil {
		return
	}
	ein, err := validation.NormalizeEIN(rawEIN)
	if err != nil {
		return
	}
	safego.Go(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		fetch := &models.DossierFetch{
			EIN:             ein,
			OrgName:         bundle.OrgName,
			Complete:        bundle.Complete(),
			Errors:          pq.StringArray(bundle.Errors),
			MatchConfidence: string(bundle.Match.Confidence),
		}
		if err := h.dossierRepo.RecordFetch(ctx, fetch); err != nil {
			slog.Warn("failed to record dossier fetch", "ein", ein, "error", err)
		}
	})
}

// ProxyDocument downloads one allow-listed portal document and returns it as
// an attachment. The URL is validated against the configured host and path
// allow lists before any request is made.
func (h *Handlers) ProxyDocument(c *gin.Context) {
	rawURL := c.Query("url")
	if rawURL == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "url parameter is required"})
		return
	}
	if err := validation.ValidateDocumentURL(rawURL, h.cfg.Directory.AllowedHosts, h.cfg.Directory.AllowedPathFragments); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	data, err := h.scraper.FetchDocument(c.Request.Context(), rawURL)
	if err != nil {
		c.JSON(http.StatusBadGateway, gin.H{"error": "document fetch failed"})
		return
	}

	name := path.Base(c.DefaultQuery("name", "document.pdf"))
	c.Header("Content-Disposition", fmt.Sprintf("attachment; filename=%q", name))
	c.Data(http.StatusOK, "application/pdf", data)
}

// ---------------------------------------------------------------------------
// Narrative analysis
// ---------------------------------------------------------------------------

// Analyze assembles the bundle for one organization and runs it through the
// narrative analyzer. An organization without a tax filing cannot be
// analyzed and returns 422 with the bundle's fetch errors.
func (h *Handlers) Analyze(c *gin.Context) {
	if h.analyzer == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "analysis is not enabled"})
		return
	}

	ein := c.Param("ein")
	var req fetchDocsRequest
	if c.Request.ContentLength > 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body"})
			return
		}
	}

	bundle, err := h.orchestrator.FetchBundle(c.Request.Context(), dossier.FetchRequest{
		EIN:                ein,
		Name:               req.OrgName,
		City:               req.City,
		ProfileURLOverride: req.ProviderURL,
		Year:               req.Year,
	})
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if !bundle.HasFiling() {
		c.JSON(http.StatusUnprocessableEntity, gin.H{
			"error":  "no tax filing available for analysis",
			"errors": bundle.Errors,
		})
		return
	}

	report, err := h.analyzer.Analyze(c.Request.Context(), analysis.Request{
		OrgName:          bundle.OrgName,
		EIN:              ein,
		FinancialSummary: h.financialSummary(c.Request.Context(), ein),
		Form990:          bundle.Form990,
		ProviderProfile:  bundle.ProviderProfile,
		QualityReport:    bundle.QualityReport,
	})
	if err != nil {
		c.JSON(http.StatusBadGateway, gin.H{"error": "analysis failed"})
		return
	}

	c.JSON(http.StatusOK, gin.H{"report": report, "bundle_errors": bundle.Errors})
}

// financialSummary renders the normalized history as prompt text. A lookup
// failure yields an empty summary rather than failing the analysis.
func (h *Handlers) financialSummary(ctx context.Context, rawEIN string) string {
	ein, err := validation.NormalizeEIN(rawEIN)
	if err != nil {
		return ""
	}
	details, err := h.filings.GetOrganization(ctx, ein)
	if err != nil {
		return ""
	}

	records, metrics := finance.Normalize(details.Filings, 5)
	var b strings.Builder
	for _, r := range records {
		fmt.Fprintf(&b, "%d: revenue %s, expenses %s, net income %s, net assets %s\n",
			r.Year, r.Revenue, r.Expenses, r.NetIncome, r.NetAssets)
	}
	fmt.Fprintf(&b, "Monthly burn: %s, runway: %s\n", metrics.MonthlyBurnDisplay, metrics.RunwayDisplay)
	return b.String()
}
