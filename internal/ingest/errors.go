package ingest

import (
	"errors"
	"fmt"
)

// FetchErrorKind distinguishes fetch failures; the pipeline's retry and
// report policy differs per kind.
type FetchErrorKind string

// Fetch failure kinds.
const (
	FetchUnreachable FetchErrorKind = "unreachable"
	FetchNotFound    FetchErrorKind = "not_found"
	FetchForbidden   FetchErrorKind = "forbidden"
	FetchTimeout     FetchErrorKind = "timeout"
)

// FetchError wraps a failed page retrieval with its kind and URL.
type FetchError struct {
	Kind       FetchErrorKind
	URL        string
	StatusCode int
	Err        error
}

func (e *FetchError) Error() string {
	if e.StatusCode > 0 {
		return fmt.Sprintf("fetch %s: %s (status %d)", e.URL, e.Kind, e.StatusCode)
	}
	return fmt.Sprintf("fetch %s: %s: %v", e.URL, e.Kind, e.Err)
}

func (e *FetchError) Unwrap() error { return e.Err }

// Transient reports whether the failure is worth retrying.
// Timeouts and server-side errors are transient; a missing or forbidden
// page will not improve on retry.
func (e *FetchError) Transient() bool {
	return e.Kind == FetchTimeout || e.Kind == FetchUnreachable
}

// ExtractionErrorKind distinguishes fatal extraction failures. Missing
// optional metadata is not an error, only a completeness downgrade.
type ExtractionErrorKind string

// Extraction failure kinds.
const (
	ExtractNoBodyText        ExtractionErrorKind = "no_body_text"
	ExtractMalformedCitation ExtractionErrorKind = "malformed_citation"
)

// ExtractionError is returned when a page cannot yield a usable record.
type ExtractionError struct {
	Kind ExtractionErrorKind
	URL  string
	Err  error
}

func (e *ExtractionError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("extract %s: %s: %v", e.URL, e.Kind, e.Err)
	}
	return fmt.Sprintf("extract %s: %s", e.URL, e.Kind)
}

func (e *ExtractionError) Unwrap() error { return e.Err }

// StoreErrorKind distinguishes persistence failures.
type StoreErrorKind string

// Store failure kinds.
const (
	StoreIOFailure           StoreErrorKind = "io_failure"
	StoreConstraintViolation StoreErrorKind = "constraint_violation"
)

// StoreError wraps a persistence failure with its kind and the reference
// involved. A constraint violation (two records racing to insert the same
// reference) is reported, never silently merged.
type StoreError struct {
	Kind      StoreErrorKind
	Reference string
	Err       error
}

func (e *StoreError) Error() string {
	return fmt.Sprintf("store %q: %s: %v", e.Reference, e.Kind, e.Err)
}

func (e *StoreError) Unwrap() error { return e.Err }

// ErrNotFound is returned by CaseStore.Get when no record exists for the
// reference.
var ErrNotFound = errors.New("case not found")

// FailureKind names the originating error kind for a failed Result, making
// force re-runs actionable for the caller.
func FailureKind(err error) string {
	var fe *FetchError
	if errors.As(err, &fe) {
		return "fetch:" + string(fe.Kind)
	}
	var ee *ExtractionError
	if errors.As(err, &ee) {
		return "extract:" + string(ee.Kind)
	}
	var se *StoreError
	if errors.As(err, &se) {
		return "store:" + string(se.Kind)
	}
	if err != nil {
		return "unknown"
	}
	return ""
}
