// Package match resolves organizations named by the financial-disclosure
// source to entries in the provider directory. The two sources are keyed
// independently (numeric identifier vs. name/town), so resolution is a
// heuristic over normalized names, with an operator-maintained overrides
// file for the cases the heuristic gets wrong.
package match

import (
	"regexp"
	"strings"
)

// Corporate suffixes carry no identity: "Example Services Inc" and
// "Example Services, Incorporated" are the same organization.
var suffixPatterns = []*regexp.Regexp{
	regexp.MustCompile(`\binc\.?\b`),
	regexp.MustCompile(`\bincorporated\b`),
	regexp.MustCompile(`\bllc\b`),
	regexp.MustCompile(`\bcorp\.?\b`),
	regexp.MustCompile(`\bcorporation\b`),
	regexp.MustCompile(`\bltd\.?\b`),
	regexp.MustCompile(`\bco\.?\b`),
	regexp.MustCompile(`\bfoundation\b`),
}

var (
	nonWordPattern    = regexp.MustCompile(`[^\w\s]`)
	whitespacePattern = regexp.MustCompile(`\s+`)
)

// NormalizeName lowercases an organization name, strips corporate suffixes
// and punctuation, and collapses whitespace. Two names normalize equal when
// the matcher should treat them as the same organization.
func NormalizeName(name string) string {
	name = strings.ToLower(name)
	for _, p := range suffixPatterns {
		name = p.ReplaceAllString(name, "")
	}
	name = nonWordPattern.ReplaceAllString(name, "")
	name = whitespacePattern.ReplaceAllString(name, " ")
	return strings.TrimSpace(name)
}
