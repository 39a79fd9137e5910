// Package filings implements a client for the public nonprofit financial-disclosure
// API (ProPublica Nonprofit Explorer v2). It supports free-text organization search,
// organization detail lookup with filing history, and Form 990 PDF download.
//
// Two separate HTTP clients are used — one for JSON API calls (30-second timeout) and
// one for PDF downloads (60-second timeout). The timeout difference is intentional:
// metadata calls should fail quickly if the upstream is unreachable, while a multi-page
// Form 990 scan legitimately takes longer to transfer on slow links.
//
// All requests are paced client-side: a minimum interval is enforced between
// consecutive upstream calls so the backend stays well inside the public API's
// rate limits regardless of how many dossier requests arrive concurrently.
package filings

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/nonprofit-dossier/nonprofit-dossier/internal/telemetry"
)

// ErrNotFound indicates the upstream source has no record for the requested EIN.
var ErrNotFound = fmt.Errorf("organization not found")

// Client is a paced HTTP client for the financial-disclosure API.
type Client struct {
	BaseURL        string
	UserAgent      string
	DefaultState   string
	HTTPClient     *http.Client // For API requests (short timeout)
	DownloadClient *http.Client // For PDF downloads (longer timeout)

	mu          sync.Mutex
	minInterval time.Duration
	lastRequest time.Time
}

// Option customises a Client beyond its defaults.
type Option func(*Client)

// WithTimeouts overrides the API and download client timeouts.
func WithTimeouts(request, download time.Duration) Option {
	return func(c *Client) {
		c.HTTPClient.Timeout = request
		c.DownloadClient.Timeout = download
	}
}

// WithMinInterval overrides the client-side pacing between upstream calls.
func WithMinInterval(d time.Duration) Option {
	return func(c *Client) { c.minInterval = d }
}

// WithUserAgent overrides the User-Agent header sent upstream.
func WithUserAgent(ua string) Option {
	return func(c *Client) { c.UserAgent = ua }
}

// WithDefaultState sets the region code applied to searches that do not
// supply one.
func WithDefaultState(state string) Option {
	return func(c *Client) { c.DefaultState = state }
}

// NewClient creates a new filings API client.
func NewClient(baseURL string, opts ...Option) *Client {
	c := &Client{
		BaseURL:      strings.TrimRight(baseURL, "/"),
		UserAgent:    "nonprofit-dossier/1.0",
		DefaultState: "CT",
		HTTPClient: &http.Client{
			Timeout: 30 * time.Second,
		},
		DownloadClient: &http.Client{
			Timeout: 60 * time.Second, // Longer timeout for multi-page filing scans
		},
		minInterval: 500 * time.Millisecond,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// SearchResult is one organization returned by free-text search.
type SearchResult struct {
	EIN            string `json:"ein"`
	Name           string `json:"name"`
	City           string `json:"city"`
	State          string `json:"state"`
	NTEECode       string `json:"ntee_code,omitempty"`
	SubsectionCode string `json:"subsection_code,omitempty"`
	// HasFiling reports whether the source holds disclosure data for this hit.
	// Every search hit from this source is backed by at least one filing.
	HasFiling bool `json:"has_filing"`
}

// Filing is one annual disclosure record for an organization.
//
// All numeric fields are pointers: the source omits fields it does not have,
// and "absent" must stay distinguishable from zero all the way to the caller.
type Filing struct {
	// Year is the tax period year, e.g. 2023.
	Year int `json:"year"`
	// PDFURL points at the scanned filing document; nil when the source has
	// extracted data but no document for the year.
	PDFURL        *string `json:"pdf_url"`
	TotalRevenue  *int64  `json:"total_revenue"`
	TotalExpenses *int64  `json:"total_expenses"`
	TotalAssets   *int64  `json:"total_assets"`
	NetAssets     *int64  `json:"net_assets"`
}

// OrganizationDetails is the full detail record for one organization,
// including its filing history ordered most recent year first.
type OrganizationDetails struct {
	EIN      string   `json:"ein"`
	Name     string   `json:"name"`
	City     string   `json:"city"`
	State    string   `json:"state"`
	NTEECode string   `json:"ntee_code,omitempty"`
	Filings  []Filing `json:"filings"`
}

// LatestFiling returns the most recent filing, or nil when the organization
// has no filing history.
func (d *OrganizationDetails) LatestFiling() *Filing {
	if len(d.Filings) == 0 {
		return nil
	}
	return &d.Filings[0]
}

// Wire types. The upstream API uses abbreviated IRS extract column names;
// they are confined to this file and never leak past the client boundary.

type searchResponse struct {
	Organizations []searchOrganization `json:"organizations"`
	TotalResults  int                  `json:"total_results"`
}

type searchOrganization struct {
	EIN            int64   `json:"ein"`
	Name           string  `json:"name"`
	City           string  `json:"city"`
	State          string  `json:"state"`
	NTEECode       *string `json:"ntee_code"`
	SubsectionCode *int    `json:"subsection_code"`
}

type organizationResponse struct {
	Organization    organizationRecord `json:"organization"`
	FilingsWithData []filingRecord     `json:"filings_with_data"`
}

type organizationRecord struct {
	EIN           int64   `json:"ein"`
	Name          string  `json:"name"`
	City          string  `json:"city"`
	State         string  `json:"state"`
	NTEECode      *string `json:"ntee_code"`
	TaxPeriod     string  `json:"tax_period"`
	RevenueAmount *int64  `json:"revenue_amount"`
	AssetAmount   *int64  `json:"asset_amount"`
	IncomeAmount  *int64  `json:"income_amount"`
}

type filingRecord struct {
	TaxPeriodYear   int     `json:"tax_prd_yr"`
	TotalRevenue    *int64  `json:"totrevenue"`
	TotalFuncExpns  *int64  `json:"totfuncexpns"`
	TotalAssetsEnd  *int64  `json:"totassetsend"`
	NetAssetsEnd    *int64  `json:"totnetassetsend"`
	TotalLiabEnd    *int64  `json:"totliabend"`
	PDFURL          *string `json:"pdf_url"`
	FormType        *int    `json:"formtype"`
	TaxPeriodEnding *string `json:"tax_prd"`
}

// pace blocks until at least minInterval has elapsed since the previous
// upstream request, or until ctx is cancelled.
func (c *Client) pace(ctx context.Context) error {
	c.mu.Lock()
	now := time.Now()
	wait := c.minInterval - now.Sub(c.lastRequest)
	if wait <= 0 {
		c.lastRequest = now
		c.mu.Unlock()
		return nil
	}
	c.lastRequest = now.Add(wait)
	c.mu.Unlock()
	timer := time.NewTimer(wait)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

// getJSON performs a paced GET and decodes the JSON body into out.
// A 404 returns ErrNotFound so callers can distinguish "no such record"
// from transport failures.
func (c *Client) getJSON(ctx context.Context, requestURL string, out any) error {
	if err := c.pace(ctx); err != nil {
		return err
	}

	start := time.Now()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, requestURL, nil)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("User-Agent", c.UserAgent)
	req.Header.Set("Accept", "application/json")

	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		telemetry.UpstreamFetchTotal.WithLabelValues("filings", "error").Inc()
		return fmt.Errorf("filings API request failed: %w", err)
	}
	defer resp.Body.Close()
	telemetry.UpstreamFetchDuration.WithLabelValues("filings").Observe(time.Since(start).Seconds())

	if resp.StatusCode == http.StatusNotFound {
		telemetry.UpstreamFetchTotal.WithLabelValues("filings", "not_found").Inc()
		return ErrNotFound
	}
	if resp.StatusCode != http.StatusOK {
		telemetry.UpstreamFetchTotal.WithLabelValues("filings", "error").Inc()
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return fmt.Errorf("filings API returned status %d: %s", resp.StatusCode, string(body))
	}

	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		telemetry.UpstreamFetchTotal.WithLabelValues("filings", "error").Inc()
		return fmt.Errorf("failed to decode filings response: %w", err)
	}
	telemetry.UpstreamFetchTotal.WithLabelValues("filings", "ok").Inc()
	return nil
}

// Search performs a free-text organization search restricted to a region code.
// An empty state falls back to the client's default. The upstream ranking is
// preserved; results are not re-ordered.
func (c *Client) Search(ctx context.Context, query, state string) ([]SearchResult, error) {
	if state == "" {
		state = c.DefaultState
	}

	params := url.Values{}
	params.Set("q", query)
	params.Set("state[id]", state)
	searchURL := fmt.Sprintf("%s/search.json?%s", c.BaseURL, params.Encode())

	var resp searchResponse
	if err := c.getJSON(ctx, searchURL, &resp); err != nil {
		return nil, err
	}

	results := make([]SearchResult, 0, len(resp.Organizations))
	for _, org := range resp.Organizations {
		r := SearchResult{
			EIN:       formatWireEIN(org.EIN),
			Name:      org.Name,
			City:      org.City,
			State:     org.State,
			HasFiling: true,
		}
		if org.NTEECode != nil {
			r.NTEECode = *org.NTEECode
		}
		if org.SubsectionCode != nil {
			r.SubsectionCode = strconv.Itoa(*org.SubsectionCode)
		}
		results = append(results, r)
	}
	return results, nil
}

// GetOrganization fetches the detail record and filing history for an EIN.
// The ein must already be normalized to nine digits. Returns ErrNotFound when
// the source has no record.
//
// The organization summary object sometimes carries a tax period newer than
// anything in the filing list (the source publishes summary figures before the
// full extract). When that happens a synthetic leading filing is added with
// the summary's revenue and asset figures; expenses and net assets stay nil
// because the summary does not carry them.
func (c *Client) GetOrganization(ctx context.Context, ein string) (*OrganizationDetails, error) {
	orgURL := fmt.Sprintf("%s/organizations/%s.json", c.BaseURL, ein)

	var resp organizationResponse
	if err := c.getJSON(ctx, orgURL, &resp); err != nil {
		return nil, err
	}

	filings := make([]Filing, 0, len(resp.FilingsWithData)+1)

	if synthetic := syntheticLatestFiling(resp.Organization, resp.FilingsWithData); synthetic != nil {
		filings = append(filings, *synthetic)
	}

	for _, rec := range resp.FilingsWithData {
		filings = append(filings, Filing{
			Year:          rec.TaxPeriodYear,
			PDFURL:        rec.PDFURL,
			TotalRevenue:  rec.TotalRevenue,
			TotalExpenses: rec.TotalFuncExpns,
			TotalAssets:   rec.TotalAssetsEnd,
			NetAssets:     rec.NetAssetsEnd,
		})
	}

	details := &OrganizationDetails{
		EIN:     formatWireEIN(resp.Organization.EIN),
		Name:    resp.Organization.Name,
		City:    resp.Organization.City,
		State:   resp.Organization.State,
		Filings: filings,
	}
	if details.EIN == "000000000" {
		details.EIN = ein
	}
	if resp.Organization.NTEECode != nil {
		details.NTEECode = *resp.Organization.NTEECode
	}
	return details, nil
}

// syntheticLatestFiling returns a filing built from the organization summary
// when its tax period is newer than the newest real filing, else nil.
func syntheticLatestFiling(org organizationRecord, records []filingRecord) *Filing {
	if org.TaxPeriod == "" || org.RevenueAmount == nil {
		return nil
	}
	// tax_period format: "2024-06-01"
	yearPart, _, _ := strings.Cut(org.TaxPeriod, "-")
	orgYear, err := strconv.Atoi(yearPart)
	if err != nil {
		return nil
	}

	newestFilingYear := 0
	if len(records) > 0 {
		newestFilingYear = records[0].TaxPeriodYear
	}
	if orgYear <= newestFilingYear {
		return nil
	}

	return &Filing{
		Year:         orgYear,
		TotalRevenue: org.RevenueAmount,
		TotalAssets:  org.AssetAmount,
		// Expenses and net assets are absent from the summary object.
	}
}

// DownloadFiling downloads the filing document at pdfURL using the
// long-timeout client. The caller obtains pdfURL from a Filing returned by
// GetOrganization; arbitrary URLs are not accepted elsewhere in the API.
func (c *Client) DownloadFiling(ctx context.Context, pdfURL string) ([]byte, error) {
	if err := c.pace(ctx); err != nil {
		return nil, err
	}

	start := time.Now()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, pdfURL, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create download request: %w", err)
	}
	req.Header.Set("User-Agent", c.UserAgent)

	resp, err := c.DownloadClient.Do(req)
	if err != nil {
		telemetry.UpstreamFetchTotal.WithLabelValues("filings", "error").Inc()
		return nil, fmt.Errorf("filing download failed: %w", err)
	}
	defer resp.Body.Close()
	telemetry.UpstreamFetchDuration.WithLabelValues("filings").Observe(time.Since(start).Seconds())

	if resp.StatusCode == http.StatusNotFound {
		telemetry.UpstreamFetchTotal.WithLabelValues("filings", "not_found").Inc()
		return nil, ErrNotFound
	}
	if resp.StatusCode != http.StatusOK {
		telemetry.UpstreamFetchTotal.WithLabelValues("filings", "error").Inc()
		return nil, fmt.Errorf("filing download returned status %d", resp.StatusCode)
	}

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		telemetry.UpstreamFetchTotal.WithLabelValues("filings", "error").Inc()
		return nil, fmt.Errorf("failed to read filing document: %w", err)
	}
	telemetry.UpstreamFetchTotal.WithLabelValues("filings", "ok").Inc()
	return data, nil
}

// formatWireEIN renders the numeric EIN from the wire as the canonical
// nine-digit string, preserving leading zeros that JSON numbers drop.
func formatWireEIN(ein int64) string {
	return fmt.Sprintf("%09d", ein)
}
