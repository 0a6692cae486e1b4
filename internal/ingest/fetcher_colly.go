package ingest

import (
	"context"
	"errors"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/gocolly/colly/v2"
	"go.uber.org/zap"
)

// CollyFetcher implements Fetcher using the Colly collector. It performs a
// plain HTTP fetch with no JS execution; a Detector/Renderer pair upgrades
// the result when the portal serves a script shell.
type CollyFetcher struct {
	baseCollector *colly.Collector
	maxBodyBytes  int64
	logger        *zap.Logger
}

// CollyFetcherConfig carries the knobs that shape outbound requests.
type CollyFetcherConfig struct {
	UserAgent      string
	RequestTimeout time.Duration
	MaxBodyBytes   int64
}

// NewCollyFetcher constructs a configured Colly-based Fetcher.
func NewCollyFetcher(cfg CollyFetcherConfig, logger *zap.Logger) (*CollyFetcher, error) {
	base := colly.NewCollector(
		colly.UserAgent(cfg.UserAgent),
	)
	base.AllowURLRevisit = true
	base.WithTransport(&http.Transport{
		Proxy:                 http.ProxyFromEnvironment,
		MaxIdleConns:          16,
		MaxIdleConnsPerHost:   4,
		IdleConnTimeout:       30 * time.Second,
		TLSHandshakeTimeout:   10 * time.Second,
		ResponseHeaderTimeout: cfg.RequestTimeout,
		ForceAttemptHTTP2:     true,
	})
	base.SetRequestTimeout(cfg.RequestTimeout)

	return &CollyFetcher{
		baseCollector: base,
		maxBodyBytes:  cfg.MaxBodyBytes,
		logger:        logger,
	}, nil
}

type collyResult struct {
	page       RawPage
	statusCode int
	err        error
}

// Fetch retrieves a page via the configured Colly collector and maps the
// response onto the fetch error taxonomy.
func (f *CollyFetcher) Fetch(ctx context.Context, rawURL string) (RawPage, error) {
	start := time.Now()
	collector := f.baseCollector.Clone()
	resultCh := make(chan collyResult, 1)
	var once sync.Once
	send := func(res collyResult) {
		once.Do(func() {
			resultCh <- res
		})
	}

	collector.OnResponse(func(r *colly.Response) {
		page := RawPage{
			URL:        rawURL,
			FinalURL:   r.Request.URL.String(),
			StatusCode: r.StatusCode,
			Body:       append([]byte{}, r.Body...),
		}
		send(collyResult{page: page, statusCode: r.StatusCode})
	})

	collector.OnError(func(r *colly.Response, err error) {
		status := 0
		if r != nil {
			status = r.StatusCode
		}
		if err == nil {
			err = errors.New("unknown colly error")
		}
		send(collyResult{statusCode: status, err: err})
	})

	if err := collector.Visit(rawURL); err != nil {
		return RawPage{}, classifyFetchError(rawURL, 0, err)
	}
	collector.Wait()

	select {
	case res := <-resultCh:
		if err := ctx.Err(); err != nil {
			return RawPage{}, &FetchError{Kind: FetchTimeout, URL: rawURL, Err: err}
		}
		if res.err != nil || res.statusCode >= 400 {
			return RawPage{}, classifyFetchError(rawURL, res.statusCode, res.err)
		}
		if f.maxBodyBytes > 0 && int64(len(res.page.Body)) > f.maxBodyBytes {
			f.logger.Warn("Truncating oversized page",
				zap.String("url", rawURL),
				zap.Int("bytes", len(res.page.Body)),
			)
			res.page.Body = res.page.Body[:f.maxBodyBytes]
		}
		res.page.Duration = time.Since(start)
		return res.page, nil
	default:
		return RawPage{}, &FetchError{
			Kind: FetchUnreachable,
			URL:  rawURL,
			Err:  errors.New("colly fetch produced no result"),
		}
	}
}

// classifyFetchError maps a status code and transport error onto the
// FetchError taxonomy.
func classifyFetchError(rawURL string, status int, err error) error {
	switch {
	case status == http.StatusNotFound || status == http.StatusGone:
		return &FetchError{Kind: FetchNotFound, URL: rawURL, StatusCode: status, Err: err}
	case status == http.StatusUnauthorized || status == http.StatusForbidden:
		return &FetchError{Kind: FetchForbidden, URL: rawURL, StatusCode: status, Err: err}
	case status == http.StatusTooManyRequests || status >= 500:
		return &FetchError{Kind: FetchUnreachable, URL: rawURL, StatusCode: status, Err: err}
	case status >= 400:
		return &FetchError{Kind: FetchNotFound, URL: rawURL, StatusCode: status, Err: err}
	}

	if errors.Is(err, context.DeadlineExceeded) {
		return &FetchError{Kind: FetchTimeout, URL: rawURL, Err: err}
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return &FetchError{Kind: FetchTimeout, URL: rawURL, Err: err}
	}
	return &FetchError{Kind: FetchUnreachable, URL: rawURL, Err: err}
}
