// Package validation provides input validation for the dossier backend. Each validator
// checks a specific aspect of incoming requests: employer identification number format,
// allowed document URL hosts and paths, and quality-review link detection inside fetched
// profile documents. Validators run before any upstream fetch so malformed requests are
// rejected early without consuming upstream quota.
package validation

import (
	"fmt"
	"regexp"
	"strings"
)

var einDigits = regexp.MustCompile(`^\d{9}$`)

// NormalizeEIN strips hyphens from an employer identification number and
// verifies the result is exactly nine digits. The returned string contains
// digits only; it is the canonical form used on upstream API paths.
func NormalizeEIN(raw string) (string, error) {
	cleaned := strings.ReplaceAll(strings.TrimSpace(raw), "-", "")
	if !einDigits.MatchString(cleaned) {
		return "", fmt.Errorf("invalid EIN format: %q (expected 9 digits, e.g. 06-1234567)", raw)
	}
	return cleaned, nil
}

// FormatEIN renders a canonical nine-digit EIN in the conventional
// XX-XXXXXXX display form. The input must already be normalized.
func FormatEIN(ein string) string {
	if len(ein) != 9 {
		return ein
	}
	return ein[:2] + "-" + ein[2:]
}
