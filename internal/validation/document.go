package validation

import (
	"fmt"
	"net/url"
	"regexp"
	"strings"
)

// qualityLinkPattern matches hrefs pointing at quality service review PDFs
// inside a provider profile document. The portal names these files
// inconsistently ("qsr_...", "...QualityReport...") so both stems are accepted.
var qualityLinkPattern = regexp.MustCompile(`(?i)(?:href=["']?)?([^"'<>\s]*(?:qsr|quality)[^"'<>\s]*\.pdf)`)

// ValidateDocumentURL checks that a document URL is safe to fetch through the
// proxy: http(s) scheme, a host on the allow list, and a path containing at
// least one allowed fragment. The server never fetches arbitrary caller-supplied
// URLs; this is the guard that enforces it.
func ValidateDocumentURL(raw string, allowedHosts, allowedFragments []string) error {
	parsed, err := url.Parse(raw)
	if err != nil {
		return fmt.Errorf("invalid document URL: %w", err)
	}
	if parsed.Scheme != "http" && parsed.Scheme != "https" {
		return fmt.Errorf("document URL must use http or https: %q", raw)
	}

	host := strings.ToLower(parsed.Hostname())
	hostOK := false
	for _, allowed := range allowedHosts {
		if host == strings.ToLower(allowed) {
			hostOK = true
			break
		}
	}
	if !hostOK {
		return fmt.Errorf("document host %q is not on the allow list", host)
	}

	lowerPath := strings.ToLower(parsed.Path)
	for _, fragment := range allowedFragments {
		if strings.Contains(lowerPath, strings.ToLower(fragment)) {
			return nil
		}
	}
	return fmt.Errorf("document path %q does not match any allowed fragment", parsed.Path)
}

// FindQualityReviewLink scans a fetched profile document for a link to a
// quality service review PDF and returns it resolved against baseURL.
// Returns empty string when no such link exists.
func FindQualityReviewLink(document []byte, baseURL string) string {
	match := qualityLinkPattern.FindSubmatch(document)
	if match == nil {
		return ""
	}
	link := string(match[1])

	base, err := url.Parse(baseURL)
	if err != nil {
		return link
	}
	ref, err := url.Parse(link)
	if err != nil {
		return ""
	}
	return base.ResolveReference(ref).String()
}
