package ingest

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"sync"
	"time"

	"github.com/chromedp/chromedp"
	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

// ErrRendererDisabled indicates rendering has been disabled via configuration.
var ErrRendererDisabled = errors.New("renderer disabled")

// ChromedpRenderer renders pages using headless Chrome via chromedp. The
// portal binds judgment bodies client-side on some templates, so the fast
// fetch occasionally needs this fallback.
type ChromedpRenderer struct {
	allocatorCancel context.CancelFunc
	browserCtx      context.Context
	browserCancel   context.CancelFunc
	logger          *zap.Logger
	sem             chan struct{}
	timeout         time.Duration
	domainQPS       float64
	domainLimiters  sync.Map
}

// RendererConfig carries headless rendering knobs.
type RendererConfig struct {
	UserAgent      string
	Timeout        time.Duration
	MaxConcurrency int
	QPS            float64
}

// NewChromedpRenderer creates a renderer using the provided configuration.
func NewChromedpRenderer(cfg RendererConfig, logger *zap.Logger) (*ChromedpRenderer, error) {
	if cfg.MaxConcurrency <= 0 {
		return nil, ErrRendererDisabled
	}

	opts := chromedp.DefaultExecAllocatorOptions[:]
	opts = append(opts,
		chromedp.Flag("headless", true),
		chromedp.Flag("disable-gpu", true),
		chromedp.UserAgent(cfg.UserAgent),
	)
	allocatorCtx, allocatorCancel := chromedp.NewExecAllocator(context.Background(), opts...)
	browserCtx, browserCancel := chromedp.NewContext(allocatorCtx)
	if err := chromedp.Run(browserCtx); err != nil {
		allocatorCancel()
		browserCancel()
		return nil, fmt.Errorf("chromedp warmup: %w", err)
	}

	return &ChromedpRenderer{
		allocatorCancel: allocatorCancel,
		browserCtx:      browserCtx,
		browserCancel:   browserCancel,
		logger:          logger,
		sem:             make(chan struct{}, cfg.MaxConcurrency),
		timeout:         cfg.Timeout,
		domainQPS:       cfg.QPS,
	}, nil
}

// Close tears down the chromedp allocator and browser contexts.
func (r *ChromedpRenderer) Close(_ context.Context) error {
	if r == nil {
		return nil
	}
	r.browserCancel()
	r.allocatorCancel()
	return nil
}

// Render executes the page with JavaScript enabled and returns the DOM snapshot.
func (r *ChromedpRenderer) Render(ctx context.Context, rawURL string) (RawPage, error) {
	if r == nil {
		return RawPage{}, ErrRendererDisabled
	}
	start := time.Now()

	release, err := r.acquireSlot(ctx)
	if err != nil {
		return RawPage{}, &FetchError{Kind: FetchTimeout, URL: rawURL, Err: err}
	}
	defer release()

	if err := r.waitDomain(ctx, rawURL); err != nil {
		return RawPage{}, &FetchError{Kind: FetchTimeout, URL: rawURL, Err: err}
	}

	tabCtx, tabCancel := chromedp.NewContext(r.browserCtx)
	defer tabCancel()
	runCtx, runCancel := context.WithTimeout(tabCtx, r.timeout)
	defer runCancel()

	// Cancel the tab when the caller's context ends so an aborted render
	// leaves no side effect.
	stop := context.AfterFunc(ctx, tabCancel)
	defer stop()

	var html string
	err = chromedp.Run(runCtx,
		chromedp.Navigate(rawURL),
		chromedp.WaitReady("body"),
		chromedp.OuterHTML("html", &html),
	)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) || ctx.Err() != nil {
			return RawPage{}, &FetchError{Kind: FetchTimeout, URL: rawURL, Err: err}
		}
		return RawPage{}, &FetchError{Kind: FetchUnreachable, URL: rawURL, Err: err}
	}

	r.logger.Debug("Rendered page",
		zap.String("url", rawURL),
		zap.Duration("duration", time.Since(start)),
	)
	return RawPage{
		URL:      rawURL,
		FinalURL: rawURL,
		// chromedp does not surface the navigation status; a rendered DOM
		// is treated as a successful retrieval.
		StatusCode: 200,
		Body:       []byte(html),
		Rendered:   true,
		Duration:   time.Since(start),
	}, nil
}

func (r *ChromedpRenderer) acquireSlot(ctx context.Context) (func(), error) {
	select {
	case r.sem <- struct{}{}:
		return func() { <-r.sem }, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (r *ChromedpRenderer) waitDomain(ctx context.Context, rawURL string) error {
	if r.domainQPS <= 0 {
		return nil
	}
	u, err := url.Parse(rawURL)
	if err != nil {
		return nil
	}
	limiter, _ := r.domainLimiters.LoadOrStore(u.Host, rate.NewLimiter(rate.Limit(r.domainQPS), 1))
	return limiter.(*rate.Limiter).Wait(ctx)
}
