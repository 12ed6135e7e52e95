// Package run orchestrates one end-to-end aggregation pass: collect,
// canonicalise, deduplicate, verify, enrich, reconcile, notify.
package run

import (
	"context"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/chairwatch/chairwatch/internal/canonical"
	"github.com/chairwatch/chairwatch/internal/catalog"
	"github.com/chairwatch/chairwatch/internal/dedup"
	"github.com/chairwatch/chairwatch/internal/enrich"
	"github.com/chairwatch/chairwatch/internal/fingerprint"
	"github.com/chairwatch/chairwatch/internal/ledger"
	"github.com/chairwatch/chairwatch/internal/metrics"
	"github.com/chairwatch/chairwatch/internal/reconcile"
	"github.com/chairwatch/chairwatch/internal/source"
	"github.com/chairwatch/chairwatch/internal/verify"
)

// Pipeline wires the aggregation stages together. Stages before the
// reconciler only build in-memory state; the reconciler performs the
// run's single catalogue write.
type Pipeline struct {
	sources    *source.Registry
	canon      *canonical.Canonicalizer
	dedup      *dedup.Deduplicator
	verifier   *verify.Verifier
	enricher   *enrich.Enricher
	cache      *enrich.ResultCache
	reconciler *reconcile.Reconciler
	notifier   catalog.Notifier
	store      catalog.Store
	clock      catalog.Clock
	log        *zap.Logger
}

// New builds a Pipeline.
func New(
	sources *source.Registry,
	canon *canonical.Canonicalizer,
	dd *dedup.Deduplicator,
	verifier *verify.Verifier,
	enricher *enrich.Enricher,
	cache *enrich.ResultCache,
	reconciler *reconcile.Reconciler,
	notifier catalog.Notifier,
	store catalog.Store,
	clock catalog.Clock,
	log *zap.Logger,
) *Pipeline {
	return &Pipeline{
		sources:    sources,
		canon:      canon,
		dedup:      dd,
		verifier:   verifier,
		enricher:   enricher,
		cache:      cache,
		reconciler: reconciler,
		notifier:   notifier,
		store:      store,
		clock:      clock,
		log:        log,
	}
}

// Execute performs one run. Source, verification, enrichment and
// notification failures are recorded against the run and do not abort
// it; only a failed reconciliation marks the run failed.
func (p *Pipeline) Execute(ctx context.Context) (catalog.RunCounters, error) {
	started := p.clock.Now()
	led, err := ledger.Begin(ctx, p.store, p.clock, p.log)
	if err != nil {
		return catalog.RunCounters{}, err
	}

	var counters catalog.RunCounters

	// Collect. Sources run sequentially; each already paces itself per
	// host. One broken board must not cost the run.
	var raws []catalog.RawPosting
	for _, adapter := range p.sources.Adapters() {
		collected, err := adapter.Collect(ctx)
		if err != nil {
			led.RecordError("collect", adapter.SourceID(), err)
			metrics.ObserveSourceError(adapter.SourceID())
			continue
		}
		raws = append(raws, collected...)
	}
	counters.Found = len(raws)

	candidates := p.canonicalise(raws, led)
	candidates = p.dedup.Merge(candidates)

	// Only candidates actually observed this run shield a posting from
	// verification; absence from a scrape alone never changes status.
	scraped := make(map[string]struct{}, len(candidates))
	for _, cand := range candidates {
		if cand.Observed {
			scraped[cand.Posting.ID] = struct{}{}
		}
	}

	working := make([]*catalog.Candidate, 0, len(candidates))
	for i := range candidates {
		working = append(working, &candidates[i])
	}
	p.snapshotScraped(ctx, working)

	// Verify everything open or unknown that no source re-observed.
	verifiable, err := p.store.ListVerifiable(ctx)
	if err != nil {
		led.RecordError("verify", "", err)
	} else {
		var unseen []catalog.Posting
		for _, posting := range verifiable {
			if _, ok := scraped[posting.ID]; !ok {
				unseen = append(unseen, posting)
			}
		}
		assessments, err := p.verifier.VerifyAll(ctx, unseen)
		if err != nil {
			led.RecordError("verify", "", err)
		} else {
			for _, a := range assessments {
				cand := &catalog.Candidate{
					Posting:  a.Posting,
					Text:     a.Text,
					Observed: a.Observed,
				}
				if a.Snapshot != nil {
					cand.Snapshots = append(cand.Snapshots, *a.Snapshot)
				}
				working = append(working, cand)
			}
		}
	}

	enriched, enrichErrs := p.enricher.EnrichAll(ctx, working)
	led.AddErrors(enrichErrs)
	counters.Enriched = enriched

	result, err := p.reconciler.Reconcile(ctx, working, p.cache.Pending())
	if err != nil {
		led.RecordError("reconcile", "", err)
		if finishErr := led.Finish(ctx, catalog.RunStatusFailed, counters); finishErr != nil {
			p.log.Error("failed to close run record", zap.Error(finishErr))
		}
		metrics.ObserveRun(string(catalog.RunStatusFailed), p.clock.Now().Sub(started).Seconds())
		return counters, fmt.Errorf("run %s: %w", led.RunID(), err)
	}
	p.cache.Clear()
	counters.New = result.Inserted
	counters.Updated = result.Updated

	counters.Notified = p.notify(ctx, result.Postings, led)

	if err := led.Finish(ctx, catalog.RunStatusCompleted, counters); err != nil {
		return counters, err
	}
	metrics.ObserveRun(string(catalog.RunStatusCompleted), p.clock.Now().Sub(started).Seconds())
	metrics.ObservePostings(counters.Found, counters.New, counters.Updated)
	return counters, nil
}

// canonicalise assigns identities to raw postings. Malformed URLs are
// recorded and dropped; they can never enter the catalogue.
func (p *Pipeline) canonicalise(raws []catalog.RawPosting, led *ledger.Ledger) []catalog.Candidate {
	now := p.clock.Now()
	out := make([]catalog.Candidate, 0, len(raws))
	for _, raw := range raws {
		canonicalURL, id, err := p.canon.Identify(raw.URL)
		if err != nil {
			led.RecordError("canonicalize", raw.URL, err)
			continue
		}

		observedAt := raw.ObservedAt
		if observedAt.IsZero() {
			observedAt = now
		}
		city, country := splitLocation(raw.Location)
		out = append(out, catalog.Candidate{
			Posting: catalog.Posting{
				ID:           id,
				CanonicalURL: canonicalURL,
				OriginalURL:  raw.URL,
				SourceID:     raw.SourceID,
				Title:        raw.Title,
				Institution:  raw.Institution,
				Department:   raw.Department,
				City:         city,
				Country:      country,
				Language:     raw.Language,
				ClosingDate:  raw.ClosingDate,
				OpenStatus:   catalog.StatusOpen,
				FirstSeenAt:  observedAt,
				LastSeenAt:   observedAt,
			},
			Text:     raw.Text,
			Sources:  []string{raw.SourceID},
			Observed: true,
		})
	}
	return out
}

// snapshotScraped captures a snapshot for every scraped candidate whose
// content fingerprint moved since the last stored snapshot. First
// sightings snapshot unconditionally; only known postings need a
// fingerprint comparison.
func (p *Pipeline) snapshotScraped(ctx context.Context, working []*catalog.Candidate) {
	now := p.clock.Now()
	known, knownErr := p.store.ListPostingIDs(ctx)
	if knownErr != nil {
		p.log.Warn("posting id listing failed", zap.Error(knownErr))
	}
	for _, cand := range working {
		if strings.TrimSpace(cand.Text) == "" {
			continue
		}
		fp := fingerprint.Content(cand.Text)
		if _, seen := known[cand.Posting.ID]; seen || knownErr != nil {
			latest, err := p.store.LatestFingerprint(ctx, cand.Posting.ID)
			if err != nil {
				p.log.Warn("fingerprint lookup failed",
					zap.String("posting_id", cand.Posting.ID),
					zap.Error(err))
				continue
			}
			if fp == latest {
				continue
			}
		}
		cand.Snapshots = append(cand.Snapshots, catalog.Snapshot{
			PostingID:   cand.Posting.ID,
			Text:        cand.Text,
			HTML:        "",
			Fingerprint: fp,
			FetchedAt:   now,
		})
	}
}

// notify delivers the digest and stamps delivered postings. Postings
// are only marked emailed after the notifier reports success, and only
// stamped postings count as notified: an unstamped posting reappears
// in the next digest, so the run record must not claim it.
func (p *Pipeline) notify(ctx context.Context, postings []catalog.Posting, led *ledger.Ledger) int {
	eligible := p.reconciler.Eligible(postings)
	if len(eligible) == 0 {
		return 0
	}
	if err := p.notifier.Notify(ctx, eligible); err != nil {
		led.RecordError("notify", "", err)
		return 0
	}

	ids := make([]string, 0, len(eligible))
	for _, posting := range eligible {
		ids = append(ids, posting.ID)
	}
	if err := p.store.MarkEmailed(ctx, ids, p.clock.Now()); err != nil {
		led.RecordError("notify", "", err)
		p.log.Error("digest delivered but postings could not be stamped; they will be renotified next run",
			zap.Strings("posting_ids", ids),
			zap.Error(err))
		return 0
	}
	return len(eligible)
}

// splitLocation separates "City, Country" style locations. A value
// without a comma is treated as a city.
func splitLocation(location string) (city, country string) {
	location = strings.TrimSpace(location)
	if location == "" {
		return "", ""
	}
	parts := strings.SplitN(location, ",", 2)
	if len(parts) == 1 {
		return strings.TrimSpace(parts[0]), ""
	}
	return strings.TrimSpace(parts[0]), strings.TrimSpace(parts[1])
}

// Cleanup prunes old snapshots and expires long-closed postings.
func Cleanup(ctx context.Context, store catalog.Store, clock catalog.Clock, retention time.Duration, log *zap.Logger) (catalog.CleanupStats, error) {
	pruned, err := store.PruneSnapshots(ctx)
	if err != nil {
		return catalog.CleanupStats{}, err
	}

	cutoff := clock.Now().Add(-retention)
	stats, err := store.ExpireClosed(ctx, cutoff)
	if err != nil {
		return catalog.CleanupStats{}, err
	}
	stats.SnapshotsPruned += pruned
	log.Info("cleanup finished",
		zap.Int64("snapshots_pruned", stats.SnapshotsPruned),
		zap.Int64("postings_expired", stats.PostingsExpired))
	return stats, nil
}
