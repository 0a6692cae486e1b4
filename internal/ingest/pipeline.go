package ingest

import (
	"context"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// PipelineConfig carries the orchestration knobs.
type PipelineConfig struct {
	// BaseURL is the portal root used to resolve citation-form references.
	BaseURL string
}

// Pipeline sequences Fetch → Extract → Persist for one case reference,
// enforcing the skip-if-exists / force-rescrape contract. One case per
// invocation; callers may run invocations for distinct references
// concurrently because the store serializes writes per reference.
type Pipeline struct {
	cfg       PipelineConfig
	store     CaseStore
	fetcher   Fetcher
	extractor Extractor
	retry     RetryPolicy
	archive   Archive
	clock     Clock
	logger    *zap.Logger
}

// NewPipeline constructs a Pipeline. archive may be nil to disable raw-page
// snapshots; clock may be nil to use the system clock.
func NewPipeline(
	cfg PipelineConfig,
	store CaseStore,
	fetcher Fetcher,
	extractor Extractor,
	retry RetryPolicy,
	archive Archive,
	clock Clock,
	logger *zap.Logger,
) *Pipeline {
	if clock == nil {
		clock = SystemClock{}
	}
	return &Pipeline{
		cfg:       cfg,
		store:     store,
		fetcher:   fetcher,
		extractor: extractor,
		retry:     retry,
		archive:   archive,
		clock:     clock,
		logger:    logger,
	}
}

// Run executes the pipeline for one reference. The returned Result carries
// the terminal outcome; Err is set only when Outcome is OutcomeFailed.
func (p *Pipeline) Run(ctx context.Context, refOrURL string, force bool) Result {
	runID := uuid.NewString()
	log := p.logger.With(zap.String("run_id", runID))

	reference, srcURL, err := NormalizeReference(refOrURL, p.cfg.BaseURL)
	if err != nil {
		return p.fail(log, runID, refOrURL, err)
	}
	log = log.With(zap.String("reference", reference))

	// CHECK_EXISTING: the store is the single source of truth, queried
	// fresh per invocation so re-runs stay correct across process
	// restarts and concurrent invocations.
	if !force {
		exists, eerr := p.store.Exists(ctx, reference)
		if eerr != nil {
			return p.fail(log, runID, reference, eerr)
		}
		if exists {
			log.Info("Reference already present; skipping")
			pipelineOutcomes.WithLabelValues(string(OutcomeSkipped)).Inc()
			return Result{RunID: runID, Reference: reference, Outcome: OutcomeSkipped}
		}
	}

	page, err := p.fetch(ctx, log, srcURL)
	if err != nil {
		return p.fail(log, runID, reference, err)
	}
	fetchDuration.Observe(page.Duration.Seconds())

	if p.archive != nil {
		if _, aerr := p.archive.SavePage(ctx, reference, page); aerr != nil {
			log.Warn("Failed to archive page", zap.Error(aerr))
		}
	}

	rec, err := p.extractor.Extract(page)
	if err != nil {
		return p.fail(log, runID, reference, err)
	}
	rec.FetchedAt = p.clock.Now()
	if rec.Reference != reference {
		// Identity is fixed at CHECK_EXISTING time; a diverging page
		// citation must not bypass the dedup contract.
		log.Warn("Extracted citation differs from requested reference",
			zap.String("extracted", rec.Reference))
		rec.Reference = reference
	}
	if !rec.ExtractionComplete {
		degradedExtractions.Inc()
		log.Warn("Degraded extraction; stored for manual review",
			zap.Int("coram", len(rec.Coram)),
			zap.Int("counsel", len(rec.Counsel)),
			zap.String("outcome", rec.Outcome),
		)
	}

	status, err := p.store.Upsert(ctx, rec, force)
	if err != nil {
		return p.fail(log, runID, reference, err)
	}

	outcome := OutcomeSkipped
	switch status {
	case UpsertCreated:
		outcome = OutcomeCreated
	case UpsertOverwritten:
		outcome = OutcomeOverwritten
	}
	pipelineOutcomes.WithLabelValues(string(outcome)).Inc()
	log.Info("Pipeline finished",
		zap.String("outcome", string(outcome)),
		zap.Bool("extraction_complete", rec.ExtractionComplete),
	)
	return Result{
		RunID:     runID,
		Reference: reference,
		Outcome:   outcome,
		Complete:  rec.ExtractionComplete,
	}
}

// fetch runs the bounded retry loop. Only transient errors loop; the policy
// decides, the pipeline just sleeps.
func (p *Pipeline) fetch(ctx context.Context, log *zap.Logger, srcURL string) (RawPage, error) {
	attempt := 0
	for {
		page, err := p.fetcher.Fetch(ctx, srcURL)
		if err == nil {
			return page, nil
		}
		if !p.retry.ShouldRetry(err, attempt) {
			return RawPage{}, err
		}
		fetchRetries.Inc()
		delay := p.retry.Backoff(attempt)
		log.Warn("Retrying fetch",
			zap.Int("attempt", attempt+1),
			zap.Duration("backoff", delay),
			zap.Error(err),
		)
		select {
		case <-ctx.Done():
			return RawPage{}, &FetchError{Kind: FetchTimeout, URL: srcURL, Err: ctx.Err()}
		case <-time.After(delay):
		}
		attempt++
	}
}

func (p *Pipeline) fail(log *zap.Logger, runID, reference string, err error) Result {
	pipelineOutcomes.WithLabelValues(string(OutcomeFailed)).Inc()
	log.Error("Pipeline failed",
		zap.String("reference", reference),
		zap.String("kind", FailureKind(err)),
		zap.Error(err),
	)
	return Result{RunID: runID, Reference: reference, Outcome: OutcomeFailed, Err: err}
}
