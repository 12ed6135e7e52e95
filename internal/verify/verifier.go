package verify

import (
	"context"
	"net/http"
	"sort"
	"sync"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/chairwatch/chairwatch/internal/catalog"
	"github.com/chairwatch/chairwatch/internal/fingerprint"
	"github.com/chairwatch/chairwatch/internal/metrics"
	"github.com/chairwatch/chairwatch/internal/ratelimit"
	"github.com/chairwatch/chairwatch/internal/retry"
)

// Config controls verification behaviour.
type Config struct {
	// FailureThreshold is the number of consecutive failed fetches after
	// which a posting is considered closed.
	FailureThreshold int

	// Concurrency bounds the number of in-flight verification fetches.
	Concurrency int
}

// Assessment is the result of verifying one posting.
type Assessment struct {
	Posting  catalog.Posting
	Outcome  Outcome
	Snapshot *catalog.Snapshot

	// Observed is true when the page was actually fetched this run.
	Observed bool

	// Text is the extracted page text when the fetch succeeded.
	Text string
}

// FingerprintSource is the slice of the store the verifier needs to
// decide whether page content drifted since the last snapshot.
type FingerprintSource interface {
	LatestFingerprint(ctx context.Context, postingID string) (string, error)
}

// Verifier re-checks the liveness of postings already in the catalogue
// that were not re-observed by any source this run.
type Verifier struct {
	fetcher catalog.PageFetcher
	store   FingerprintSource
	clock   catalog.Clock
	limiter *ratelimit.Limiter
	policy  retry.Policy
	log     *zap.Logger
	cfg     Config
}

// NewVerifier builds a Verifier.
func NewVerifier(fetcher catalog.PageFetcher, store FingerprintSource, clock catalog.Clock, limiter *ratelimit.Limiter, policy retry.Policy, log *zap.Logger, cfg Config) *Verifier {
	if cfg.FailureThreshold <= 0 {
		cfg.FailureThreshold = 3
	}
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = 4
	}
	return &Verifier{
		fetcher: fetcher,
		store:   store,
		clock:   clock,
		limiter: limiter,
		policy:  policy,
		log:     log,
		cfg:     cfg,
	}
}

// VerifyPosting fetches a posting's canonical page and applies the
// liveness state machine. Fetch failures are folded into the assessment
// rather than returned; only context cancellation surfaces as an error.
func (v *Verifier) VerifyPosting(ctx context.Context, posting catalog.Posting) (Assessment, error) {
	if err := v.limiter.WaitHost(ctx, posting.CanonicalURL); err != nil {
		return Assessment{}, err
	}

	var page catalog.PageResult
	fetchErr := v.policy.Do(ctx, func(ctx context.Context) error {
		var err error
		page, err = v.fetcher.FetchPage(ctx, posting.CanonicalURL)
		return err
	})
	if ctx.Err() != nil {
		return Assessment{}, ctx.Err()
	}

	now := v.clock.Now()
	assessment := Assessment{Posting: posting}

	if fetchErr != nil || page.StatusCode >= http.StatusBadRequest {
		if fetchErr != nil {
			v.log.Debug("verification fetch failed",
				zap.String("posting_id", posting.ID),
				zap.String("url", posting.CanonicalURL),
				zap.Error(fetchErr))
		} else {
			v.log.Debug("verification fetch returned error status",
				zap.String("posting_id", posting.ID),
				zap.Int("status", page.StatusCode))
		}
		assessment.Outcome = OutcomeFailed
		assessment.Posting.OpenStatus, assessment.Posting.VerifyFailures =
			Transition(posting.OpenStatus, posting.VerifyFailures, OutcomeFailed, v.cfg.FailureThreshold)
		metrics.ObserveVerifyFetch("failed")
		return assessment, nil
	}

	assessment.Observed = true
	assessment.Text = page.Text
	assessment.Posting.LastSeenAt = now

	if date := ExtractClosingDate(page.Text); date != "" {
		assessment.Posting.ClosingDate = date
	}

	fp := fingerprint.Content(page.Text)
	latest, err := v.store.LatestFingerprint(ctx, posting.ID)
	if err != nil {
		return Assessment{}, err
	}
	if fp != latest {
		assessment.Snapshot = &catalog.Snapshot{
			PostingID:   posting.ID,
			Text:        page.Text,
			HTML:        page.HTML,
			Fingerprint: fp,
			FetchedAt:   now,
		}
	}

	outcome := OutcomeLive
	if IndicatesClosed(page.Text) || ClosingDatePassed(assessment.Posting.ClosingDate, now) {
		outcome = OutcomeClosed
	}
	assessment.Outcome = outcome
	assessment.Posting.OpenStatus, assessment.Posting.VerifyFailures =
		Transition(posting.OpenStatus, posting.VerifyFailures, outcome, v.cfg.FailureThreshold)

	switch outcome {
	case OutcomeClosed:
		metrics.ObserveVerifyFetch("closed")
	default:
		metrics.ObserveVerifyFetch("live")
	}
	return assessment, nil
}

// VerifyAll verifies a set of postings with bounded concurrency and
// returns the assessments sorted by posting id for deterministic
// downstream processing.
func (v *Verifier) VerifyAll(ctx context.Context, postings []catalog.Posting) ([]Assessment, error) {
	var (
		mu          sync.Mutex
		assessments []Assessment
	)

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(v.cfg.Concurrency)
	for _, posting := range postings {
		g.Go(func() error {
			assessment, err := v.VerifyPosting(gctx, posting)
			if err != nil {
				return err
			}
			mu.Lock()
			assessments = append(assessments, assessment)
			mu.Unlock()
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	sort.Slice(assessments, func(i, j int) bool {
		return assessments[i].Posting.ID < assessments[j].Posting.ID
	})
	return assessments, nil
}
