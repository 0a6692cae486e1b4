package ingest

import (
	"bytes"
	"regexp"
	"strings"

	"github.com/PuerkitoBio/goquery"
)

// JudgmentExtractor implements Extractor for the portal's judgment
// templates. Every metadata field is independently optional; only a missing
// judgment body is fatal. The extractor is a pure function of the page so
// fixed sample pages yield deterministic results.
type JudgmentExtractor struct{}

// NewJudgmentExtractor returns a stateless extractor.
func NewJudgmentExtractor() *JudgmentExtractor { return &JudgmentExtractor{} }

var (
	coramRE = regexp.MustCompile(`(?i)\b(?:Coram|Before)\s*:?\s+(.+?)(?:\s+(?:Counsel|Representation|Parties|Judgment|Introduction|Background|\[))`)

	counselSectionRE = regexp.MustCompile(`(?i)\b(?:Counsel|Representation)\s*:?\s+(.+?)(?:\s+(?:Judgment|Introduction|Background|Reasons)\b|$)`)
	counselRoleRE    = regexp.MustCompile(`(?i)\s+(?:appearing\s+)?for\s+the\s+(plaintiffs?|appellants?|claimants?|defendants?|respondents?|prosecution|accused)\b`)

	decisionDateRE = regexp.MustCompile(`(?i)Decision\s+Date\s*:?\s*(\d{1,2}\s+[A-Za-z]+\s+\d{4})`)
	catchwordsRE   = regexp.MustCompile(`(?i)Catchwords\s*:?\s+(.+?)(?:\s+(?:Case\b|Citation\b|Decision\b|Headnote\b)|$)`)

	judgeSplitRE = regexp.MustCompile(`\s*(?:;|,|\band\b)\s*`)
)

// Selectors tried in order for the judgment body. Older templates wrap the
// judgment in #divJudgement, newer ones in .judgment or an article element.
var bodySelectors = []string{".judgment", "#divJudgement", ".judg-body", "article", "main"}

// Selectors stripped before body extraction.
const boilerplateSelector = "script, style, noscript, nav, header, footer, form, iframe, " +
	".navbar, .breadcrumb, .header, .footer, .sidebar, .toolbar, .no-print"

// Extract parses a raw judgment page into a CaseRecord. A page with no
// locatable body text fails with ExtractNoBodyText; missing optional fields
// clear ExtractionComplete but still yield a usable record.
func (e *JudgmentExtractor) Extract(page RawPage) (CaseRecord, error) {
	sourceURL := page.FinalURL
	if sourceURL == "" {
		sourceURL = page.URL
	}

	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(page.Body))
	if err != nil {
		return CaseRecord{}, &ExtractionError{Kind: ExtractNoBodyText, URL: sourceURL, Err: err}
	}
	flat := normalizeSpace(doc.Text())

	rec := CaseRecord{SourceURL: sourceURL}

	cit, ok := FindCitation(flat)
	if !ok {
		cit, ok = citationFromURL(sourceURL)
	}
	if !ok {
		return CaseRecord{}, &ExtractionError{Kind: ExtractMalformedCitation, URL: sourceURL}
	}
	rec.Reference = cit.String()
	rec.Court = cit.Court
	rec.Year = cit.Year
	rec.CaseNumber = cit.Number

	rec.FullText = e.bodyText(page.Body)
	if rec.FullText == "" {
		return CaseRecord{}, &ExtractionError{Kind: ExtractNoBodyText, URL: sourceURL}
	}

	rec.CaseName, rec.Plaintiff, rec.Defendant = e.caseName(doc)
	rec.Coram = e.coram(flat)
	rec.Counsel = e.counsel(flat)
	rec.Outcome = e.outcome(doc, rec.FullText)
	rec.DecisionDate = e.decisionDate(flat)
	rec.AreaOfLaw = e.areaOfLaw(doc, flat)

	rec.ExtractionComplete = len(rec.Coram) > 0 && len(rec.Counsel) > 0 && rec.Outcome != ""
	return rec, nil
}

func citationFromURL(rawURL string) (Citation, bool) {
	m := urlCitationRE.FindStringSubmatch(rawURL)
	if m == nil {
		return Citation{}, false
	}
	c, err := ParseCitation(strings.ReplaceAll(m[1], "+", " "))
	if err != nil {
		return Citation{}, false
	}
	return c, true
}

// bodyText re-parses the page so boilerplate removal cannot disturb the
// metadata selectors above.
func (e *JudgmentExtractor) bodyText(body []byte) string {
	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(body))
	if err != nil {
		return ""
	}
	doc.Find(boilerplateSelector).Remove()

	for _, sel := range bodySelectors {
		s := doc.Find(sel)
		if s.Length() == 0 {
			continue
		}
		if txt := normalizeText(s.Text()); txt != "" {
			return txt
		}
	}
	return normalizeText(doc.Find("body").Text())
}

func (e *JudgmentExtractor) caseName(doc *goquery.Document) (name, plaintiff, defendant string) {
	for _, sel := range []string{"h1", ".caseTitle", ".title"} {
		if txt := normalizeSpace(doc.Find(sel).First().Text()); txt != "" {
			name = txt
			break
		}
	}
	if name == "" {
		return "", "", ""
	}
	if parts := strings.SplitN(name, " v ", 2); len(parts) == 2 {
		plaintiff = strings.TrimSpace(parts[0])
		defendant = strings.TrimSpace(parts[1])
	}
	return name, plaintiff, defendant
}

// coram returns the ordered judge panel; absence yields an empty slice,
// not a failure.
func (e *JudgmentExtractor) coram(flat string) []string {
	m := coramRE.FindStringSubmatch(flat)
	if m == nil {
		return nil
	}
	parts := judgeSplitRE.Split(m[1], -1)
	judges := make([]string, 0, len(parts))
	for _, p := range parts {
		p = strings.Trim(strings.TrimSpace(p), ",;")
		if p != "" {
			judges = append(judges, p)
		}
	}
	return judges
}

// counsel maps party role to representation, e.g.
// "Ms Lee (Firm A) for the plaintiff; Mr Tan for the defendant".
func (e *JudgmentExtractor) counsel(flat string) map[string]string {
	section := flat
	if m := counselSectionRE.FindStringSubmatch(flat); m != nil {
		section = m[1]
	} else if len(section) > 5000 {
		section = section[:5000]
	}

	// Entries are semicolon-delimited: "Ms Lee (Firm A) for the plaintiff;
	// Mr Tan for the defendant". Honorifics carry periods, so chunks split
	// on semicolons only.
	out := make(map[string]string)
	for _, chunk := range strings.Split(section, ";") {
		loc := counselRoleRE.FindStringSubmatchIndex(chunk)
		if loc == nil {
			continue
		}
		role := strings.ToLower(strings.TrimSuffix(chunk[loc[2]:loc[3]], "s"))
		nm := strings.Trim(strings.TrimSpace(chunk[:loc[0]]), ",.")
		nm = strings.TrimSpace(strings.TrimPrefix(nm, "and "))
		if nm == "" {
			continue
		}
		if existing, ok := out[role]; ok {
			out[role] = existing + "; " + nm
			continue
		}
		out[role] = nm
	}
	if len(out) == 0 {
		return nil
	}
	return out
}

// outcome checks the headnote first, then the closing paragraphs where the
// disposition is pronounced.
func (e *JudgmentExtractor) outcome(doc *goquery.Document, fullText string) string {
	if hn := strings.ToLower(doc.Find(".headnote").Text()); hn != "" {
		if o := outcomeFromKeywords(hn); o != "" {
			return o
		}
	}
	tail := fullText
	if len(tail) > 2000 {
		tail = tail[len(tail)-2000:]
	}
	return outcomeFromKeywords(strings.ToLower(tail))
}

func outcomeFromKeywords(text string) string {
	switch {
	case strings.Contains(text, "dismissed"):
		return "Dismissed"
	case strings.Contains(text, "allowed"), strings.Contains(text, "granted"):
		return "Allowed"
	default:
		return ""
	}
}

func (e *JudgmentExtractor) decisionDate(flat string) string {
	if m := decisionDateRE.FindStringSubmatch(flat); m != nil {
		return m[1]
	}
	return ""
}

// areaOfLaw prefers the structured legal-topics spans and falls back to
// the Catchwords line.
func (e *JudgmentExtractor) areaOfLaw(doc *goquery.Document, flat string) string {
	topics := make([]string, 0, 10)
	seen := make(map[string]struct{})
	doc.Find(".lr_cw").Each(func(_ int, s *goquery.Selection) {
		t := normalizeSpace(s.Text())
		if t == "" {
			return
		}
		if _, ok := seen[t]; ok {
			return
		}
		seen[t] = struct{}{}
		topics = append(topics, t)
	})
	if len(topics) > 10 {
		topics = topics[:10]
	}
	if len(topics) > 0 {
		return strings.Join(topics, "; ")
	}

	if m := catchwordsRE.FindStringSubmatch(flat); m != nil {
		cw := strings.TrimSpace(m[1])
		if i := strings.Index(cw, " - "); i > 0 {
			cw = cw[:i]
		}
		if len(cw) > 100 {
			cw = strings.TrimSpace(cw[:100])
		}
		return cw
	}
	return ""
}

// normalizeSpace collapses all whitespace runs into single spaces.
func normalizeSpace(s string) string {
	return strings.Join(strings.Fields(s), " ")
}

// normalizeText collapses horizontal whitespace per line while preserving
// single paragraph breaks.
func normalizeText(s string) string {
	lines := strings.Split(s, "\n")
	out := make([]string, 0, len(lines))
	blank := false
	for _, ln := range lines {
		ln = strings.Join(strings.Fields(ln), " ")
		if ln == "" {
			if !blank && len(out) > 0 {
				out = append(out, "")
				blank = true
			}
			continue
		}
		out = append(out, ln)
		blank = false
	}
	for len(out) > 0 && out[len(out)-1] == "" {
		out = out[:len(out)-1]
	}
	return strings.Join(out, "\n")
}
