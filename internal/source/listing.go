package source

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/gocolly/colly/v2"
	"go.uber.org/zap"

	"github.com/chairwatch/chairwatch/internal/catalog"
	"github.com/chairwatch/chairwatch/internal/ratelimit"
)

// ListingConfig describes one scraped listing page. Selectors follow
// goquery syntax; Link and Title are required, the rest default to
// empty fields on the raw posting.
type ListingConfig struct {
	ID          string
	URL         string
	Language    string
	UserAgent   string
	Timeout     time.Duration
	MaxPages    int
	Institution string

	ItemSelector        string
	TitleSelector       string
	LinkSelector        string
	InstitutionSelector string
	DepartmentSelector  string
	LocationSelector    string
	ClosingSelector     string
	NextPageSelector    string
}

// ListingAdapter scrapes a paginated listing into raw postings.
type ListingAdapter struct {
	cfg     ListingConfig
	limiter *ratelimit.Limiter
	clock   catalog.Clock
	log     *zap.Logger
}

// NewListingAdapter builds a listing adapter.
func NewListingAdapter(cfg ListingConfig, limiter *ratelimit.Limiter, clock catalog.Clock, log *zap.Logger) (*ListingAdapter, error) {
	if cfg.ID == "" || cfg.URL == "" {
		return nil, fmt.Errorf("listing source needs id and url")
	}
	if cfg.ItemSelector == "" || cfg.TitleSelector == "" || cfg.LinkSelector == "" {
		return nil, fmt.Errorf("listing source %s needs item, title and link selectors", cfg.ID)
	}
	if cfg.Timeout == 0 {
		cfg.Timeout = 30 * time.Second
	}
	if cfg.MaxPages <= 0 {
		cfg.MaxPages = 10
	}
	return &ListingAdapter{cfg: cfg, limiter: limiter, clock: clock, log: log}, nil
}

// SourceID identifies the source in posting provenance and run errors.
func (a *ListingAdapter) SourceID() string { return a.cfg.ID }

// Collect scrapes the listing and returns its raw postings. Any failure
// to reach the listing wraps catalog.ErrSourceUnavailable so the
// pipeline records it and moves on to the next source.
func (a *ListingAdapter) Collect(ctx context.Context) ([]catalog.RawPosting, error) {
	collector := colly.NewCollector(colly.AllowURLRevisit())
	collector.IgnoreRobotsTxt = true
	collector.SetRequestTimeout(a.cfg.Timeout)
	if a.cfg.UserAgent != "" {
		collector.UserAgent = a.cfg.UserAgent
	}

	var (
		postings []catalog.RawPosting
		pages    int
		fetchErr error
	)
	observedAt := a.clock.Now()

	collector.OnHTML(a.cfg.ItemSelector, func(e *colly.HTMLElement) {
		link := strings.TrimSpace(e.ChildAttr(a.cfg.LinkSelector, "href"))
		title := strings.TrimSpace(e.ChildText(a.cfg.TitleSelector))
		if link == "" || title == "" {
			return
		}

		raw := catalog.RawPosting{
			URL:        e.Request.AbsoluteURL(link),
			Title:      title,
			SourceID:   a.cfg.ID,
			Language:   a.cfg.Language,
			ObservedAt: observedAt,
			Text:       strings.Join(strings.Fields(e.Text), " "),
		}
		raw.Institution = a.cfg.Institution
		if a.cfg.InstitutionSelector != "" {
			if v := strings.TrimSpace(e.ChildText(a.cfg.InstitutionSelector)); v != "" {
				raw.Institution = v
			}
		}
		if a.cfg.DepartmentSelector != "" {
			raw.Department = strings.TrimSpace(e.ChildText(a.cfg.DepartmentSelector))
		}
		if a.cfg.LocationSelector != "" {
			raw.Location = strings.TrimSpace(e.ChildText(a.cfg.LocationSelector))
		}
		if a.cfg.ClosingSelector != "" {
			raw.ClosingDate = strings.TrimSpace(e.ChildText(a.cfg.ClosingSelector))
		}
		postings = append(postings, raw)
	})

	if a.cfg.NextPageSelector != "" {
		collector.OnHTML(a.cfg.NextPageSelector, func(e *colly.HTMLElement) {
			if pages >= a.cfg.MaxPages {
				return
			}
			next := e.Request.AbsoluteURL(e.Attr("href"))
			if next == "" {
				return
			}
			pages++
			if err := a.limiter.WaitHost(ctx, next); err != nil {
				return
			}
			if err := e.Request.Visit(next); err != nil {
				a.log.Debug("pagination visit failed",
					zap.String("source", a.cfg.ID),
					zap.String("url", next),
					zap.Error(err))
			}
		})
	}

	collector.OnError(func(r *colly.Response, err error) {
		if fetchErr == nil {
			fetchErr = err
		}
	})

	if err := a.limiter.WaitHost(ctx, a.cfg.URL); err != nil {
		return nil, err
	}

	done := make(chan error, 1)
	go func() {
		err := collector.Visit(a.cfg.URL)
		collector.Wait()
		done <- err
	}()
	select {
	case <-ctx.Done():
		return nil, fmt.Errorf("%w: %s: %v", catalog.ErrSourceUnavailable, a.cfg.ID, ctx.Err())
	case err := <-done:
		if err != nil && fetchErr == nil {
			fetchErr = err
		}
	}

	if fetchErr != nil && len(postings) == 0 {
		return nil, fmt.Errorf("%w: %s: %v", catalog.ErrSourceUnavailable, a.cfg.ID, fetchErr)
	}
	a.log.Info("source collected",
		zap.String("source", a.cfg.ID),
		zap.Int("postings", len(postings)))
	return postings, nil
}
