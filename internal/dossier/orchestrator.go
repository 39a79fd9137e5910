package dossier

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"strconv"
	"strings"
	"time"

	"github.com/nonprofit-dossier/nonprofit-dossier/internal/archive"
	"github.com/nonprofit-dossier/nonprofit-dossier/internal/directory"
	"github.com/nonprofit-dossier/nonprofit-dossier/internal/filings"
	"github.com/nonprofit-dossier/nonprofit-dossier/internal/match"
	"github.com/nonprofit-dossier/nonprofit-dossier/internal/safego"
	"github.com/nonprofit-dossier/nonprofit-dossier/internal/telemetry"
	"github.com/nonprofit-dossier/nonprofit-dossier/internal/validation"
)

// FilingSource is the slice of the filings client the orchestrator needs.
type FilingSource interface {
	GetOrganization(ctx context.Context, ein string) (*filings.OrganizationDetails, error)
	DownloadFiling(ctx context.Context, pdfURL string) ([]byte, error)
}

// DocumentSource fetches allow-listed documents from the provider portal.
type DocumentSource interface {
	FetchDocument(ctx context.Context, url string) ([]byte, error)
}

// Orchestrator issues the per-document fetches for one dossier request and
// folds the outcomes into a Bundle.
type Orchestrator struct {
	filings  FilingSource
	docs     DocumentSource
	matcher  *match.Matcher
	archiver archive.Archive // nil disables archival
}

// NewOrchestrator wires an orchestrator. archiver may be nil.
func NewOrchestrator(f FilingSource, docs DocumentSource, m *match.Matcher, archiver archive.Archive) *Orchestrator {
	return &Orchestrator{filings: f, docs: docs, matcher: m, archiver: archiver}
}

// FetchRequest identifies the organization whose dossier is assembled.
type FetchRequest struct {
	// EIN in any accepted form; normalized before use. A malformed EIN is
	// the one total failure of FetchBundle.
	EIN  string
	Name string
	City string
	// ProfileURLOverride skips the matcher entirely when set: an explicit
	// profile choice takes precedence over a heuristic one.
	ProfileURLOverride string
	// Year selects a specific filing year; zero means the most recent
	// filing that has a document.
	Year int
}

// chainResult is the tagged outcome of one fetch chain. Folding these in
// fixed document order makes bundle assembly a single pass.
type chainResult struct {
	doc    []byte
	year   *int
	name   string
	errs   []string
	second []byte // quality report, produced by the profile chain
}

// FetchBundle assembles the document bundle for one organization. The
// filing chain and the provider chain run concurrently; within the
// provider chain the quality-review fetch follows the profile fetch (its
// URL is discovered inside the profile document). Every per-document
// failure is recorded in Bundle.Errors; FetchBundle itself fails only on
// a malformed EIN.
func (o *Orchestrator) FetchBundle(ctx context.Context, req FetchRequest) (*Bundle, error) {
	ein, err := validation.NormalizeEIN(req.EIN)
	if err != nil {
		return nil, err
	}

	filingCh := make(chan chainResult, 1)
	profileCh := make(chan chainResult, 1)

	safego.Go(func() {
		filingCh <- o.fetchFilingChain(ctx, ein, req.Year)
	})

	matchResult := o.resolveProvider(ein, req)
	safego.Go(func() {
		profileCh <- o.fetchProfileChain(ctx, matchResult)
	})

	filing := <-filingCh
	profile := <-profileCh

	bundle := &Bundle{
		Form990:         filing.doc,
		Form990Year:     filing.year,
		ProviderProfile: profile.doc,
		QualityReport:   profile.second,
		OrgName:         filing.name,
		Match:           matchResult,
	}
	if bundle.OrgName == "" {
		bundle.OrgName = req.Name
	}
	bundle.Errors = append(bundle.Errors, filing.errs...)
	bundle.Errors = append(bundle.Errors, profile.errs...)

	telemetry.DossierBundlesTotal.WithLabelValues(strconv.FormatBool(bundle.Complete())).Inc()

	if o.archiver != nil {
		o.archiveBundle(ein, bundle)
	}
	return bundle, nil
}

// resolveProvider picks the provider profile source: an explicit override
// wins, otherwise the matcher runs with name and city.
func (o *Orchestrator) resolveProvider(ein string, req FetchRequest) match.Result {
	if req.ProfileURLOverride != "" {
		return match.Result{
			Matched:    true,
			Provider:   &directory.Provider{Name: req.Name, ProfileURL: req.ProfileURLOverride, Town: req.City},
			Confidence: match.ConfidenceExact,
			Pinned:     true,
		}
	}
	return o.matcher.MatchEIN(ein, req.Name, req.City)
}

// fetchFilingChain looks up the organization and downloads its filing
// document. The metadata lookup and the download are one chain: the
// download URL only exists inside the lookup response.
func (o *Orchestrator) fetchFilingChain(ctx context.Context, ein string, year int) chainResult {
	details, err := o.filings.GetOrganization(ctx, ein)
	if err != nil {
		return chainResult{errs: []string{bundleError(docForm990, classifyError(err), "")}}
	}

	result := chainResult{name: details.Name}

	filing := selectFiling(details.Filings, year)
	if filing == nil {
		// An organization with no downloadable filing is reported with the
		// not-found category; the lookup itself succeeded.
		return chainResult{
			name: details.Name,
			errs: []string{bundleError(docForm990, ErrIdentifierNotFound, "no filing document available")},
		}
	}

	data, err := o.filings.DownloadFiling(ctx, *filing.PDFURL)
	if err != nil {
		result.errs = []string{bundleError(docForm990, classifyError(err), "")}
		return result
	}
	y := filing.Year
	result.doc = data
	result.year = &y
	return result
}

// selectFiling returns the filing to download: the requested year when set,
// else the most recent filing carrying a document URL.
func selectFiling(history []filings.Filing, year int) *filings.Filing {
	for i := range history {
		f := &history[i]
		if f.PDFURL == nil {
			continue
		}
		if year == 0 || f.Year == year {
			return f
		}
	}
	return nil
}

// fetchProfileChain downloads the matched provider profile and, when the
// profile links a quality review, fetches that as an independent second
// operation whose failure never taints the profile already in hand.
func (o *Orchestrator) fetchProfileChain(ctx context.Context, m match.Result) chainResult {
	if !m.Matched || m.Provider == nil || m.Provider.ProfileURL == "" {
		// No provider is a normal outcome, not an error.
		return chainResult{}
	}

	profile, err := o.docs.FetchDocument(ctx, m.Provider.ProfileURL)
	if err != nil {
		return chainResult{errs: []string{bundleError(docProviderProfile, classifyError(err), "")}}
	}
	result := chainResult{doc: profile}

	qualityURL := validation.FindQualityReviewLink(profile, m.Provider.ProfileURL)
	if qualityURL == "" {
		return result
	}
	quality, err := o.docs.FetchDocument(ctx, qualityURL)
	if err != nil {
		result.errs = append(result.errs, bundleError(docQualityReport, classifyError(err), ""))
		return result
	}
	result.second = quality
	return result
}

// classifyError maps a fetch error onto the bundle taxonomy.
func classifyError(err error) string {
	switch {
	case errors.Is(err, filings.ErrNotFound):
		return ErrIdentifierNotFound
	case errors.Is(err, context.DeadlineExceeded):
		return ErrDocumentFetchTimeout
	case isTimeout(err):
		return ErrDocumentFetchTimeout
	case strings.Contains(err.Error(), "allow list"),
		strings.Contains(err.Error(), "allowed fragment"),
		strings.Contains(err.Error(), "invalid document URL"):
		return ErrProfileURLUnresolved
	case strings.Contains(err.Error(), "failed to decode"),
		strings.Contains(err.Error(), "failed to parse"):
		return ErrMalformedDocument
	default:
		return ErrSourceUnreachable
	}
}

func isTimeout(err error) bool {
	var netErr net.Error
	return errors.As(err, &netErr) && netErr.Timeout()
}

// archiveBundle stores the fetched documents in the background. Archival
// is best effort: a storage failure is logged, never surfaced into the
// bundle, and never delays the response.
func (o *Orchestrator) archiveBundle(ein string, bundle *Bundle) {
	docs := map[string][]byte{}
	if bundle.Form990 != nil {
		year := 0
		if bundle.Form990Year != nil {
			year = *bundle.Form990Year
		}
		docs[fmt.Sprintf("%s/%s_%d.pdf", ein, docForm990, year)] = bundle.Form990
	}
	if bundle.ProviderProfile != nil {
		docs[fmt.Sprintf("%s/%s.pdf", ein, docProviderProfile)] = bundle.ProviderProfile
	}
	if bundle.QualityReport != nil {
		docs[fmt.Sprintf("%s/%s.pdf", ein, docQualityReport)] = bundle.QualityReport
	}
	if len(docs) == 0 {
		return
	}

	safego.Go(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
		defer cancel()
		for key, data := range docs {
			if err := o.archiver.Store(ctx, key, data); err != nil {
				slog.Warn("bundle archival failed", "key", key, "error", err)
			}
		}
	})
}
