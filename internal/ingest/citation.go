package ingest

import (
	"fmt"
	"regexp"
	"strings"
)

// Citation holds the parsed identity components of a neutral citation such
// as "[2026] SGHC 21".
type Citation struct {
	Year  int
	Court string
	// Number stays a string because some citations use suffixed numbers.
	Number string
}

// String renders the canonical citation form.
func (c Citation) String() string {
	return fmt.Sprintf("[%d] %s %s", c.Year, c.Court, c.Number)
}

var (
	citationExactRE = regexp.MustCompile(`^\[(\d{4})\]\s+([A-Z]+(?:\([A-Z]\))?)\s+(\d+[A-Za-z]*)$`)
	citationScanRE  = regexp.MustCompile(`\[(\d{4})\]\s+([A-Z]+(?:\([A-Z]\))?)\s+(\d+[A-Za-z]*)`)
	// Portal URLs carry the citation as a path segment with '+' for spaces,
	// e.g. .../citation/[2026]+SGHC+21?ref=recent.
	urlCitationRE = regexp.MustCompile(`citation/(\[[^/?#]+)`)
)

// ParseCitation parses a full citation string into its components.
func ParseCitation(s string) (Citation, error) {
	m := citationExactRE.FindStringSubmatch(strings.TrimSpace(s))
	if m == nil {
		return Citation{}, fmt.Errorf("citation %q does not match [YYYY] COURT N", s)
	}
	return newCitation(m), nil
}

// FindCitation scans free text for the first neutral citation.
func FindCitation(text string) (Citation, bool) {
	m := citationScanRE.FindStringSubmatch(text)
	if m == nil {
		return Citation{}, false
	}
	return newCitation(m), true
}

func newCitation(m []string) Citation {
	var year int
	fmt.Sscanf(m[1], "%d", &year) //nolint:errcheck // \d{4} always scans
	return Citation{Year: year, Court: m[2], Number: m[3]}
}

// NormalizeReference resolves a citation-or-URL input into the canonical
// reference (the dedup key) and the request URL. Citation-form inputs that
// do not parse fail with ExtractMalformedCitation before any network call.
// URL inputs without a recognizable citation segment keep the URL itself as
// the dedup key, matching how the portal links are shared.
func NormalizeReference(refOrURL, baseURL string) (reference, sourceURL string, err error) {
	s := strings.TrimSpace(refOrURL)
	if s == "" {
		return "", "", &ExtractionError{Kind: ExtractMalformedCitation, URL: refOrURL}
	}

	if strings.HasPrefix(s, "http://") || strings.HasPrefix(s, "https://") {
		if m := urlCitationRE.FindStringSubmatch(s); m != nil {
			raw := strings.ReplaceAll(m[1], "+", " ")
			if c, perr := ParseCitation(raw); perr == nil {
				return c.String(), s, nil
			}
		}
		return s, s, nil
	}

	c, perr := ParseCitation(s)
	if perr != nil {
		return "", "", &ExtractionError{Kind: ExtractMalformedCitation, URL: s, Err: perr}
	}
	u := strings.TrimRight(baseURL, "/") + "/citation/" + strings.ReplaceAll(c.String(), " ", "+")
	return c.String(), u, nil
}
