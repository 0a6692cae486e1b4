package ingest

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type stubFetcher struct {
	mu    sync.Mutex
	calls int
	pages []RawPage
	errs  []error
}

func (f *stubFetcher) Fetch(_ context.Context, _ string) (RawPage, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	i := f.calls
	f.calls++
	if i < len(f.errs) && f.errs[i] != nil {
		return RawPage{}, f.errs[i]
	}
	if i < len(f.pages) {
		return f.pages[i], nil
	}
	if len(f.pages) > 0 {
		return f.pages[len(f.pages)-1], nil
	}
	return RawPage{}, errors.New("no fetch scripted")
}

func (f *stubFetcher) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

// memStore is an in-memory CaseStore with the same upsert contract as the
// SQL-backed implementations.
type memStore struct {
	mu      sync.Mutex
	records map[string]CaseRecord
	failOn  error
}

func newMemStore() *memStore {
	return &memStore{records: make(map[string]CaseRecord)}
}

func (s *memStore) Exists(_ context.Context, reference string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.failOn != nil {
		return false, s.failOn
	}
	_, ok := s.records[reference]
	return ok, nil
}

func (s *memStore) Get(_ context.Context, reference string) (CaseRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok := s.records[reference]
	if !ok {
		return CaseRecord{}, ErrNotFound
	}
	return rec, nil
}

func (s *memStore) Upsert(_ context.Context, rec CaseRecord, force bool) (UpsertStatus, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.failOn != nil {
		return "", s.failOn
	}
	if _, ok := s.records[rec.Reference]; ok {
		if !force {
			return UpsertSkipped, nil
		}
		s.records[rec.Reference] = rec
		return UpsertOverwritten, nil
	}
	s.records[rec.Reference] = rec
	return UpsertCreated, nil
}

func (s *memStore) Recent(_ context.Context, limit int) ([]CaseRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]CaseRecord, 0, len(s.records))
	for _, rec := range s.records {
		out = append(out, rec)
	}
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (s *memStore) Stats(_ context.Context) (CaseStats, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	stats := CaseStats{Total: len(s.records)}
	for _, rec := range s.records {
		if rec.ExtractionComplete {
			stats.Complete++
		} else {
			stats.Degraded++
		}
	}
	return stats, nil
}

func (s *memStore) Close() error { return nil }

func (s *memStore) record(reference string) (CaseRecord, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok := s.records[reference]
	return rec, ok
}

type fixedClock struct{ t time.Time }

func (c fixedClock) Now() time.Time { return c.t }

// noRetry keeps pipeline tests fast and deterministic.
type noRetry struct{}

func (noRetry) ShouldRetry(error, int) bool { return false }
func (noRetry) Backoff(int) time.Duration   { return 0 }

func newTestPipeline(store CaseStore, fetcher Fetcher, retry RetryPolicy) *Pipeline {
	if retry == nil {
		retry = noRetry{}
	}
	return NewPipeline(
		PipelineConfig{BaseURL: "https://www.lawnet.sg"},
		store,
		fetcher,
		NewJudgmentExtractor(),
		retry,
		nil,
		fixedClock{t: time.Date(2026, 2, 1, 9, 0, 0, 0, time.UTC)},
		zap.NewNop(),
	)
}

func completePage() RawPage {
	return RawPage{
		URL:        "https://www.lawnet.sg/citation/[2026]+SGHC+21",
		FinalURL:   "https://www.lawnet.sg/citation/[2026]+SGHC+21",
		StatusCode: 200,
		Body:       []byte(completeJudgmentHTML),
		Duration:   120 * time.Millisecond,
	}
}

func TestPipelineCreatesNewRecord(t *testing.T) {
	t.Parallel()

	store := newMemStore()
	fetcher := &stubFetcher{pages: []RawPage{completePage()}}
	p := newTestPipeline(store, fetcher, nil)

	res := p.Run(context.Background(), "[2026] SGHC 21", false)

	require.False(t, res.Failed(), "run failed: %v", res.Err)
	assert.Equal(t, OutcomeCreated, res.Outcome)
	assert.Equal(t, "[2026] SGHC 21", res.Reference)
	assert.True(t, res.Complete)
	assert.NotEmpty(t, res.RunID)

	rec, ok := store.record("[2026] SGHC 21")
	require.True(t, ok)
	assert.Equal(t, "SGHC", rec.Court)
	assert.Equal(t, 2026, rec.Year)
	assert.Equal(t, "21", rec.CaseNumber)
	assert.Equal(t, []string{"Justice Tan"}, rec.Coram)
	assert.Contains(t, rec.Counsel["plaintiff"], "Ms. Lee")
	assert.Equal(t, "Dismissed", rec.Outcome)
	assert.Equal(t, time.Date(2026, 2, 1, 9, 0, 0, 0, time.UTC), rec.FetchedAt)
}

func TestPipelineSkipsExistingWithoutFetching(t *testing.T) {
	t.Parallel()

	store := newMemStore()
	fetcher := &stubFetcher{pages: []RawPage{completePage()}}
	p := newTestPipeline(store, fetcher, nil)

	first := p.Run(context.Background(), "[2026] SGHC 21", false)
	require.Equal(t, OutcomeCreated, first.Outcome)
	require.Equal(t, 1, fetcher.callCount())

	second := p.Run(context.Background(), "[2026] SGHC 21", false)
	assert.Equal(t, OutcomeSkipped, second.Outcome)
	assert.Equal(t, 1, fetcher.callCount(), "skip must not hit the network")
	assert.NoError(t, second.Err)
}

func TestPipelineForceOverwritesWholeRecord(t *testing.T) {
	t.Parallel()

	store := newMemStore()
	fetcher := &stubFetcher{pages: []RawPage{completePage()}}
	p := newTestPipeline(store, fetcher, nil)

	require.Equal(t, OutcomeCreated, p.Run(context.Background(), "[2026] SGHC 21", false).Outcome)

	// The portal corrected the page between runs.
	fixed := completePage()
	fixed.Body = []byte(
		strings.Replace(completeJudgmentHTML, "Coram : Justice Tan", "Coram : Justice Ong", 1))
	fetcher2 := &stubFetcher{pages: []RawPage{fixed}}
	p2 := newTestPipeline(store, fetcher2, nil)

	res := p2.Run(context.Background(), "[2026] SGHC 21", true)
	assert.Equal(t, OutcomeOverwritten, res.Outcome)
	assert.Equal(t, 1, fetcher2.callCount(), "force must bypass the existence check")

	rec, ok := store.record("[2026] SGHC 21")
	require.True(t, ok)
	assert.Equal(t, []string{"Justice Ong"}, rec.Coram)
}

func TestPipelineNotFoundFailsWithoutWrite(t *testing.T) {
	t.Parallel()

	store := newMemStore()
	fetcher := &stubFetcher{errs: []error{&FetchError{Kind: FetchNotFound, StatusCode: 404}}}
	p := newTestPipeline(store, fetcher, nil)

	res := p.Run(context.Background(), "[2026] SGHC 999", false)

	assert.Equal(t, OutcomeFailed, res.Outcome)
	assert.Equal(t, "fetch:not_found", FailureKind(res.Err))
	assert.Equal(t, 1, fetcher.callCount(), "not found must not be retried")
	_, ok := store.record("[2026] SGHC 999")
	assert.False(t, ok)
}

func TestPipelineRetriesTransientFailure(t *testing.T) {
	t.Parallel()

	store := newMemStore()
	fetcher := &stubFetcher{
		errs:  []error{&FetchError{Kind: FetchTimeout}, &FetchError{Kind: FetchUnreachable, StatusCode: 503}},
		pages: []RawPage{{}, {}, completePage()},
	}
	p := newTestPipeline(store, fetcher, NewExponentialRetryPolicyWith(3, time.Millisecond, 2*time.Millisecond))

	res := p.Run(context.Background(), "[2026] SGHC 21", false)

	require.False(t, res.Failed(), "run failed: %v", res.Err)
	assert.Equal(t, OutcomeCreated, res.Outcome)
	assert.Equal(t, 3, fetcher.callCount())
}

func TestPipelineExhaustedRetriesFail(t *testing.T) {
	t.Parallel()

	store := newMemStore()
	fetcher := &stubFetcher{errs: []error{
		&FetchError{Kind: FetchTimeout},
		&FetchError{Kind: FetchTimeout},
		&FetchError{Kind: FetchTimeout},
	}}
	p := newTestPipeline(store, fetcher, NewExponentialRetryPolicyWith(2, time.Millisecond, 2*time.Millisecond))

	res := p.Run(context.Background(), "[2026] SGHC 21", false)

	assert.Equal(t, OutcomeFailed, res.Outcome)
	assert.Equal(t, "fetch:timeout", FailureKind(res.Err))
	assert.Equal(t, 3, fetcher.callCount())
}

func TestPipelineNoBodyTextLeavesStoreUntouched(t *testing.T) {
	t.Parallel()

	store := newMemStore()
	shell := completePage()
	shell.Body = []byte(shellHTML)
	fetcher := &stubFetcher{pages: []RawPage{shell}}
	p := newTestPipeline(store, fetcher, nil)

	res := p.Run(context.Background(), "[2026] SGHC 21", false)

	assert.Equal(t, OutcomeFailed, res.Outcome)
	assert.Equal(t, "extract:no_body_text", FailureKind(res.Err))
	_, ok := store.record("[2026] SGHC 21")
	assert.False(t, ok)
}

func TestPipelineStoresDegradedRecord(t *testing.T) {
	t.Parallel()

	store := newMemStore()
	page := completePage()
	page.URL = "https://www.lawnet.sg/citation/[2024]+SGHCF+12"
	page.FinalURL = page.URL
	page.Body = []byte(degradedJudgmentHTML)
	fetcher := &stubFetcher{pages: []RawPage{page}}
	p := newTestPipeline(store, fetcher, nil)

	res := p.Run(context.Background(), "[2024] SGHCF 12", false)

	require.False(t, res.Failed(), "run failed: %v", res.Err)
	assert.Equal(t, OutcomeCreated, res.Outcome)
	assert.False(t, res.Complete)

	rec, ok := store.record("[2024] SGHCF 12")
	require.True(t, ok)
	assert.False(t, rec.ExtractionComplete)
	assert.Empty(t, rec.Coram)
	assert.NotEmpty(t, rec.FullText)
}

func TestPipelineKeepsRequestedReferenceOnDivergingPage(t *testing.T) {
	t.Parallel()

	store := newMemStore()
	fetcher := &stubFetcher{pages: []RawPage{completePage()}}
	p := newTestPipeline(store, fetcher, nil)

	// The page carries [2026] SGHC 21 but the caller asked for a different
	// citation; the dedup key stays with the request.
	res := p.Run(context.Background(), "[2026] SGHC 22", false)

	require.False(t, res.Failed(), "run failed: %v", res.Err)
	assert.Equal(t, "[2026] SGHC 22", res.Reference)
	_, ok := store.record("[2026] SGHC 22")
	assert.True(t, ok)
	_, ok = store.record("[2026] SGHC 21")
	assert.False(t, ok)
}

func TestPipelineMalformedReferenceFailsBeforeFetch(t *testing.T) {
	t.Parallel()

	store := newMemStore()
	fetcher := &stubFetcher{}
	p := newTestPipeline(store, fetcher, nil)

	res := p.Run(context.Background(), "[20XX] SGHC 21", false)

	assert.Equal(t, OutcomeFailed, res.Outcome)
	assert.Equal(t, "extract:malformed_citation", FailureKind(res.Err))
	assert.Zero(t, fetcher.callCount())
}

func TestPipelineStoreErrorSurfaces(t *testing.T) {
	t.Parallel()

	store := newMemStore()
	store.failOn = &StoreError{Kind: StoreIOFailure, Err: errors.New("disk full")}
	fetcher := &stubFetcher{pages: []RawPage{completePage()}}
	p := newTestPipeline(store, fetcher, nil)

	res := p.Run(context.Background(), "[2026] SGHC 21", false)

	assert.Equal(t, OutcomeFailed, res.Outcome)
	assert.Equal(t, "store:io_failure", FailureKind(res.Err))
}
