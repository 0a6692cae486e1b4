package ingest

import (
	"strconv"
	"time"
)

// RawPage is the result of fetching one judgment page.
type RawPage struct {
	// URL is the canonical request URL resolved from the reference.
	URL string
	// FinalURL is the URL after redirects.
	FinalURL string
	// StatusCode is the HTTP status of the final response.
	StatusCode int
	// Body is the raw page content.
	Body []byte
	// Rendered indicates the page went through the headless renderer.
	Rendered bool
	// Duration measures the fetch, including any render pass.
	Duration time.Duration
}

// CaseRecord is the canonical structured representation of one judgment.
// Reference is the sole identity of a case; optional metadata fields may be
// empty on a degraded extraction, flagged via ExtractionComplete.
type CaseRecord struct {
	Reference  string `json:"reference"`
	Court      string `json:"court"`
	Year       int    `json:"year"`
	CaseNumber string `json:"case_number"`

	CaseName  string `json:"case_name,omitempty"`
	Plaintiff string `json:"plaintiff,omitempty"`
	Defendant string `json:"defendant,omitempty"`

	// Coram is the ordered panel of judges; empty when unparsable.
	Coram []string `json:"coram"`
	// Counsel maps party role (plaintiff, defendant, ...) to representation.
	Counsel map[string]string `json:"counsel"`

	Outcome      string `json:"outcome,omitempty"`
	AreaOfLaw    string `json:"area_of_law,omitempty"`
	DecisionDate string `json:"decision_date,omitempty"`

	// FullText is never empty for a persisted record.
	FullText string `json:"full_text"`

	FetchedAt time.Time `json:"fetched_at"`
	SourceURL string    `json:"source_url"`

	// ExtractionComplete is false when coram, counsel, or outcome
	// could not be located.
	ExtractionComplete bool `json:"extraction_complete"`
}

// CaseNumberInt returns the case number as an integer when it is purely
// numeric. Some citations use suffixed numbers, which stay strings.
func (r CaseRecord) CaseNumberInt() (int, bool) {
	n, err := strconv.Atoi(r.CaseNumber)
	if err != nil {
		return 0, false
	}
	return n, true
}

// Outcome reports how a pipeline invocation ended.
type Outcome string

// Pipeline invocation outcomes.
const (
	OutcomeCreated     Outcome = "created"
	OutcomeOverwritten Outcome = "overwritten"
	OutcomeSkipped     Outcome = "skipped"
	OutcomeFailed      Outcome = "failed"
)

// Result is the structured outcome of one pipeline invocation.
type Result struct {
	RunID     string
	Reference string
	Outcome   Outcome
	// Complete mirrors the stored record's ExtractionComplete flag.
	Complete bool
	Err      error
}

// Failed reports whether the invocation ended in the FAILED state.
func (r Result) Failed() bool {
	return r.Outcome == OutcomeFailed
}

// CaseStats aggregates store counts for downstream readers.
type CaseStats struct {
	Total    int `json:"total"`
	Complete int `json:"complete"`
	Degraded int `json:"degraded"`
}
