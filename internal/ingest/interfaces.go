package ingest

import (
	"context"
	"time"
)

// Fetcher retrieves one judgment page for a resolved URL.
type Fetcher interface {
	Fetch(ctx context.Context, rawURL string) (RawPage, error)
}

// Renderer executes a page with JavaScript enabled and returns the DOM
// snapshot. Used when the fast fetch returns a JS shell.
type Renderer interface {
	Render(ctx context.Context, rawURL string) (RawPage, error)
	Close(ctx context.Context) error
}

// Detector decides whether a fetched page needs a render pass.
type Detector interface {
	NeedsJS(ctx context.Context, page RawPage) bool
}

// Extractor turns a raw page into a structured case record. It is a pure
// transformation with no hidden state; the same page always yields the
// same record.
type Extractor interface {
	Extract(page RawPage) (CaseRecord, error)
}

// Archive persists raw page snapshots for later re-parsing without a
// re-fetch. Archiving is best-effort and never blocks the pipeline.
type Archive interface {
	SavePage(ctx context.Context, reference string, page RawPage) (string, error)
}

// CaseStore is the durable keyed persistence boundary. Writes for the same
// reference are serialized by the store's own transaction discipline, not
// by the caller.
type CaseStore interface {
	// Exists checks for a record by reference without loading it.
	Exists(ctx context.Context, reference string) (bool, error)
	// Get returns the full record or ErrNotFound.
	Get(ctx context.Context, reference string) (CaseRecord, error)
	// Upsert writes the record as a single atomic unit of work. When a
	// record already exists and force is false it returns UpsertSkipped
	// with no write performed.
	Upsert(ctx context.Context, rec CaseRecord, force bool) (UpsertStatus, error)
	// Recent lists the newest records for downstream readers.
	Recent(ctx context.Context, limit int) ([]CaseRecord, error)
	// Stats aggregates record counts.
	Stats(ctx context.Context) (CaseStats, error)
	Close() error
}

// UpsertStatus reports what an Upsert call did.
type UpsertStatus string

// Upsert results.
const (
	UpsertCreated     UpsertStatus = "created"
	UpsertOverwritten UpsertStatus = "overwritten"
	UpsertSkipped     UpsertStatus = "skipped"
)

// RetryPolicy bounds the fetch retry loop.
type RetryPolicy interface {
	ShouldRetry(err error, attempt int) bool
	Backoff(attempt int) time.Duration
}

// Clock returns the current time (useful for testing).
type Clock interface {
	Now() time.Time
}

// SystemClock implements Clock with the wall clock.
type SystemClock struct{}

// Now returns the current UTC time.
func (SystemClock) Now() time.Time { return time.Now().UTC() }
