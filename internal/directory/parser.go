package directory

import (
	"regexp"
	"strings"
)

var (
	documentURLPattern = regexp.MustCompile(`(?i)https?://\S+?\.pdf`)
	datePattern        = regexp.MustCompile(`\b\d{1,2}/\d{1,2}/\d{2,4}\b`)
)

// rosterHeadings are section labels that appear on every roster and must
// never be mistaken for provider names.
var rosterHeadings = map[string]bool{
	"PROVIDER":           true,
	"PROVIDERS":          true,
	"PROVIDER PROFILE":   true,
	"PROVIDER PROFILES":  true,
	"TOWN":               true,
	"PAGE":               true,
	"LAST UPDATED":       true,
	"PROVIDERS BY TOWN":  true,
	"QUALITY":            true,
	"DEPARTMENT OF":      true,
	"DEVELOPMENTAL":      true,
	"SERVICES":           true,
	"PROVIDER DIRECTORY": true,
}

// LineRosterParser extracts provider entries from roster text using a line
// heuristic: a provider's profile URL appears on (or just after) the line
// carrying its display name. Headings, dates, page numbers, and the town's
// own name are rejected as name candidates.
type LineRosterParser struct{}

// ParseRoster scans the roster text and returns one Provider per distinct
// profile URL, in document order. A continuation line wrapped in parentheses
// ("(Channel 3 Kids Camp)") is appended to the previous entry's name. When
// no usable name line is found, the name is inferred from the URL filename.
func (p *LineRosterParser) ParseRoster(text, town string) []Provider {
	var providers []Provider
	seenURLs := make(map[string]bool)
	lastName := ""

	for _, raw := range strings.Split(text, "\n") {
		line := whitespaceRun.ReplaceAllString(strings.TrimSpace(raw), " ")
		if line == "" {
			continue
		}

		if strings.HasPrefix(line, "(") && len(providers) > 0 {
			providers[len(providers)-1].Name = strings.TrimSpace(providers[len(providers)-1].Name + " " + line)
			continue
		}

		loc := documentURLPattern.FindStringIndex(line)
		if loc != nil {
			docURL := line[loc[0]:loc[1]]
			if seenURLs[docURL] {
				continue
			}
			seenURLs[docURL] = true

			name := ""
			if namePart := strings.TrimSpace(line[:loc[0]]); isCandidateName(namePart, town) {
				name = namePart
			} else if isCandidateName(lastName, town) {
				name = lastName
			}
			if name == "" {
				name = inferNameFromURL(docURL)
			} else {
				lastName = name
			}
			providers = append(providers, Provider{Name: name, ProfileURL: docURL})
			continue
		}

		// Track potential name lines for cases where the URL is on the next line.
		if isCandidateName(line, town) {
			lastName = line
		}
	}
	return providers
}

func isCandidateName(line, town string) bool {
	if line == "" {
		return false
	}
	if strings.Contains(line, "http://") || strings.Contains(line, "https://") {
		return false
	}
	upper := strings.ToUpper(line)
	if rosterHeadings[upper] {
		return false
	}
	if datePattern.MatchString(line) {
		return false
	}
	if isAllDigits(line) {
		return false
	}
	if town != "" && upper == strings.ToUpper(town) {
		return false
	}
	return len(line) > 2
}

func isAllDigits(s string) bool {
	for _, r := range s {
		if r < '0' || r > '9' {
			return false
		}
	}
	return len(s) > 0
}
