// Package reconcile turns a run's candidate set into one atomic
// catalogue write and selects the postings worth notifying about.
package reconcile

import (
	"context"
	"fmt"
	"sort"

	"go.uber.org/zap"

	"github.com/chairwatch/chairwatch/internal/catalog"
)

// BatchApplier is the slice of the store the reconciler writes through.
type BatchApplier interface {
	ApplyBatch(ctx context.Context, batch catalog.Batch) (catalog.BatchResult, error)
}

// Config controls notification eligibility.
type Config struct {
	// MinRelevance is the lowest relevance score a posting needs to be
	// notified about.
	MinRelevance float64

	// MaxNotify caps the postings in one digest. Zero means no cap.
	MaxNotify int
}

// Reconciler owns all posting and enrichment writes. Everything a run
// produced lands in a single batch so a crash mid-run leaves no partial
// state visible.
type Reconciler struct {
	store BatchApplier
	log   *zap.Logger
	cfg   Config
}

// New builds a Reconciler.
func New(store BatchApplier, log *zap.Logger, cfg Config) *Reconciler {
	return &Reconciler{store: store, log: log, cfg: cfg}
}

// Reconcile assembles the write set from the run's candidates and the
// enrichments computed this run, then applies it atomically.
func (r *Reconciler) Reconcile(ctx context.Context, candidates []*catalog.Candidate, enrichments []catalog.Enrichment) (catalog.BatchResult, error) {
	batch := catalog.Batch{Enrichments: enrichments}
	for _, cand := range candidates {
		batch.Postings = append(batch.Postings, cand.Posting)
		batch.Snapshots = append(batch.Snapshots, cand.Snapshots...)
	}
	sort.Slice(batch.Postings, func(i, j int) bool {
		return batch.Postings[i].ID < batch.Postings[j].ID
	})
	sort.Slice(batch.Snapshots, func(i, j int) bool {
		if batch.Snapshots[i].PostingID != batch.Snapshots[j].PostingID {
			return batch.Snapshots[i].PostingID < batch.Snapshots[j].PostingID
		}
		return batch.Snapshots[i].FetchedAt.Before(batch.Snapshots[j].FetchedAt)
	})

	result, err := r.store.ApplyBatch(ctx, batch)
	if err != nil {
		return catalog.BatchResult{}, fmt.Errorf("%w: %v", catalog.ErrReconciliation, err)
	}
	r.log.Info("batch applied",
		zap.Int("postings", len(batch.Postings)),
		zap.Int("snapshots", len(batch.Snapshots)),
		zap.Int("enrichments", len(batch.Enrichments)),
		zap.Int("inserted", result.Inserted),
		zap.Int("updated", result.Updated))
	return result, nil
}

// Eligible filters the batch's persisted postings down to the ones the
// digest should contain: open, seniority-matched, scored at or above
// the relevance floor, and never emailed before. Results are sorted by
// score descending, ties broken by id for a stable digest order.
func (r *Reconciler) Eligible(postings []catalog.Posting) []catalog.Posting {
	var eligible []catalog.Posting
	for _, p := range postings {
		if p.EmailedAt != nil {
			continue
		}
		if p.OpenStatus != catalog.StatusOpen {
			continue
		}
		if !p.SeniorityMatch {
			continue
		}
		if p.RelevanceScore == nil || *p.RelevanceScore < r.cfg.MinRelevance {
			continue
		}
		eligible = append(eligible, p)
	}

	sort.Slice(eligible, func(i, j int) bool {
		if *eligible[i].RelevanceScore != *eligible[j].RelevanceScore {
			return *eligible[i].RelevanceScore > *eligible[j].RelevanceScore
		}
		return eligible[i].ID < eligible[j].ID
	})

	if r.cfg.MaxNotify > 0 && len(eligible) > r.cfg.MaxNotify {
		eligible = eligible[:r.cfg.MaxNotify]
	}
	return eligible
}
