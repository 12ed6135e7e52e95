package verify

import (
	"context"
	"fmt"
	"time"

	"github.com/gocolly/colly/v2"

	"github.com/chairwatch/chairwatch/internal/catalog"
)

// FetcherConfig controls the verification page fetcher.
type FetcherConfig struct {
	UserAgent string
	Timeout   time.Duration
}

// CollyFetcher implements catalog.PageFetcher with a Colly collector.
type CollyFetcher struct {
	cfg  FetcherConfig
	base *colly.Collector
}

// NewCollyFetcher builds a fetcher for single-page verification GETs.
func NewCollyFetcher(cfg FetcherConfig) *CollyFetcher {
	if cfg.Timeout == 0 {
		cfg.Timeout = 15 * time.Second
	}
	c := colly.NewCollector(colly.AllowURLRevisit())
	c.IgnoreRobotsTxt = true
	return &CollyFetcher{cfg: cfg, base: c}
}

// FetchPage fetches one URL. HTTP error statuses are returned in the
// result; only transport-level failures produce an error.
func (f *CollyFetcher) FetchPage(ctx context.Context, url string) (catalog.PageResult, error) {
	collector := f.base.Clone()
	if f.cfg.UserAgent != "" {
		collector.UserAgent = f.cfg.UserAgent
	}
	collector.SetRequestTimeout(f.cfg.Timeout)

	var result catalog.PageResult
	collector.OnResponse(func(r *colly.Response) {
		result.StatusCode = r.StatusCode
		result.HTML = string(r.Body)
	})
	var transportErr error
	collector.OnError(func(r *colly.Response, err error) {
		if r != nil && r.StatusCode > 0 {
			result.StatusCode = r.StatusCode
			result.HTML = string(r.Body)
			return
		}
		transportErr = err
	})

	done := make(chan error, 1)
	go func() {
		done <- collector.Visit(url)
	}()
	select {
	case <-ctx.Done():
		return catalog.PageResult{}, fmt.Errorf("%w: %s: %v", catalog.ErrFetch, url, ctx.Err())
	case err := <-done:
		if err != nil && result.StatusCode == 0 && transportErr == nil {
			transportErr = err
		}
	}
	collector.Wait()

	if transportErr != nil {
		return catalog.PageResult{}, fmt.Errorf("%w: %s: %v", catalog.ErrFetch, url, transportErr)
	}
	if result.StatusCode == 0 {
		return catalog.PageResult{}, fmt.Errorf("%w: %s: no response", catalog.ErrFetch, url)
	}
	result.Text = ExtractText(result.HTML)
	return result, nil
}
