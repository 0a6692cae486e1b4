package cmd

import (
	"context"
	"errors"
	"fmt"

	"github.com/fatih/color"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/jurisdata/lawnet-ingest/internal/config"
	"github.com/jurisdata/lawnet-ingest/internal/ingest"
)

// ingestConcurrency caps concurrent case pipelines in one run. Each case is
// independent; the store serializes writes per reference.
const ingestConcurrency = 4

// newIngestCmd creates the 'ingest' subcommand, which runs the full
// fetch → extract → persist pipeline for each given reference.
func newIngestCmd() *cobra.Command {
	var force bool

	cmd := &cobra.Command{
		Use:   "ingest [flags] REFERENCE...",
		Short: "Fetches, extracts, and stores one or more judgments",
		Long: `Runs the ingestion pipeline for each given case reference. A reference
may be a neutral citation like "[2026] SGHC 21" or a direct portal URL.
Cases already in the store are skipped unless --force is given.`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runIngest(cmd, args, force)
		},
	}

	cmd.Flags().BoolVar(&force, "force", false, "re-scrape and replace already stored cases wholesale")
	return cmd
}

func runIngest(cmd *cobra.Command, refs []string, force bool) error {
	appInstance, err := resolveApp(cmd.Context())
	if err != nil {
		return err
	}

	pipeline, cleanup, err := buildPipeline(appInstance)
	if err != nil {
		return err
	}
	defer cleanup(cmd.Context())

	results := make([]ingest.Result, len(refs))
	g, ctx := errgroup.WithContext(cmd.Context())
	g.SetLimit(ingestConcurrency)
	for i, ref := range refs {
		g.Go(func() error {
			results[i] = pipeline.Run(ctx, ref, force)
			return nil
		})
	}
	_ = g.Wait() //nolint:errcheck // workers never return errors

	failed := 0
	for _, res := range results {
		printResult(cmd, res)
		if res.Failed() {
			failed++
		}
	}
	if failed > 0 {
		return fmt.Errorf("%d of %d references failed", failed, len(refs))
	}
	return nil
}

func buildPipeline(appInstance *App) (*ingest.Pipeline, func(context.Context), error) {
	cfg := appInstance.Config
	logger := appInstance.Logger

	fast, err := ingest.NewCollyFetcher(ingest.CollyFetcherConfig{
		UserAgent:      cfg.Portal.UserAgent,
		RequestTimeout: cfg.Portal.RequestTimeout,
		MaxBodyBytes:   cfg.Portal.MaxBodyBytes,
	}, logger)
	if err != nil {
		return nil, nil, fmt.Errorf("init fetcher: %w", err)
	}

	detector := ingest.NewHeuristicDetector(
		cfg.Detector.MinHTMLBytes,
		cfg.Detector.Selectors,
		cfg.Detector.Keywords,
	)

	renderer, err := buildRenderer(cfg, logger)
	if err != nil {
		return nil, nil, err
	}

	fetcher := ingest.NewEscalatingFetcher(fast, detector, renderer, logger)

	var archive ingest.Archive
	if cfg.Archive.Enabled {
		fsArchive, aerr := ingest.NewFileSystemArchive(cfg.Archive.Dir, logger)
		if aerr != nil {
			return nil, nil, fmt.Errorf("init archive: %w", aerr)
		}
		archive = fsArchive
	}

	retry := ingest.NewExponentialRetryPolicyWith(
		cfg.Retry.MaxAttempts,
		cfg.Retry.BaseDelay,
		cfg.Retry.MaxDelay,
	)

	pipeline := ingest.NewPipeline(
		ingest.PipelineConfig{BaseURL: cfg.Portal.BaseURL},
		appInstance.Store,
		fetcher,
		ingest.NewJudgmentExtractor(),
		retry,
		archive,
		nil,
		logger,
	)

	cleanup := func(ctx context.Context) {
		if renderer != nil {
			if cerr := renderer.Close(ctx); cerr != nil {
				logger.Warn("Failed to close renderer", zap.Error(cerr))
			}
		}
	}
	return pipeline, cleanup, nil
}

func buildRenderer(cfg config.Config, logger *zap.Logger) (ingest.Renderer, error) {
	if !cfg.Render.Enabled {
		return nil, nil
	}
	renderer, err := ingest.NewChromedpRenderer(ingest.RendererConfig{
		UserAgent:      cfg.Portal.UserAgent,
		Timeout:        cfg.Render.Timeout,
		MaxConcurrency: cfg.Render.MaxConcurrency,
		QPS:            cfg.Render.QPS,
	}, logger)
	switch {
	case err == nil:
		return renderer, nil
	case errors.Is(err, ingest.ErrRendererDisabled):
		logger.Warn("Renderer disabled despite render.enabled; falling back to fast path")
		return nil, nil
	default:
		return nil, fmt.Errorf("init renderer: %w", err)
	}
}

var (
	createdColor     = color.New(color.FgGreen)
	overwrittenColor = color.New(color.FgCyan)
	skippedColor     = color.New(color.FgYellow)
	failedColor      = color.New(color.FgRed)
)

func printResult(cmd *cobra.Command, res ingest.Result) {
	out := cmd.OutOrStdout()
	switch res.Outcome {
	case ingest.OutcomeCreated:
		createdColor.Fprintf(out, "created      %s (complete=%t)\n", res.Reference, res.Complete)
	case ingest.OutcomeOverwritten:
		overwrittenColor.Fprintf(out, "overwritten  %s (complete=%t)\n", res.Reference, res.Complete)
	case ingest.OutcomeSkipped:
		skippedColor.Fprintf(out, "skipped      %s (already present)\n", res.Reference)
	default:
		failedColor.Fprintf(out, "failed       %s: %s: %v\n", res.Reference, ingest.FailureKind(res.Err), res.Err)
	}
}
