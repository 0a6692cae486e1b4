package ingest

import (
	"context"

	"go.uber.org/zap"
)

// EscalatingFetcher wraps a fast Fetcher with a Detector/Renderer pair.
// The fast path is always tried first; the render pass runs only when the
// response looks like a JS shell.
type EscalatingFetcher struct {
	fast     Fetcher
	detector Detector
	renderer Renderer
	logger   *zap.Logger
}

// NewEscalatingFetcher builds the composed fetcher. renderer may be nil,
// in which case the fast result is returned as-is.
func NewEscalatingFetcher(fast Fetcher, detector Detector, renderer Renderer, logger *zap.Logger) *EscalatingFetcher {
	return &EscalatingFetcher{
		fast:     fast,
		detector: detector,
		renderer: renderer,
		logger:   logger,
	}
}

// Fetch retrieves the page, escalating to headless rendering when needed.
func (f *EscalatingFetcher) Fetch(ctx context.Context, rawURL string) (RawPage, error) {
	page, err := f.fast.Fetch(ctx, rawURL)
	if err != nil {
		return RawPage{}, err
	}
	if f.renderer == nil || f.detector == nil || !f.detector.NeedsJS(ctx, page) {
		return page, nil
	}

	f.logger.Info("Escalating to headless render", zap.String("url", rawURL))
	rendered, rerr := f.renderer.Render(ctx, rawURL)
	if rerr != nil {
		// Keep the probe result when rendering fails; the extractor will
		// decide whether the body is usable.
		f.logger.Warn("Headless render failed; using probe response",
			zap.String("url", rawURL),
			zap.Error(rerr),
		)
		return page, nil
	}
	rendered.Duration += page.Duration
	return rendered, nil
}
