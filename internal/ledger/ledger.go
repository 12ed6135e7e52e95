// Package ledger maintains the per-run audit trail: one record per
// pipeline execution with counters and the non-fatal errors it hit.
package ledger

import (
	"context"
	"fmt"
	"sync"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/chairwatch/chairwatch/internal/catalog"
)

// RunStore is the slice of the store the ledger writes through.
type RunStore interface {
	BeginRun(ctx context.Context, rec catalog.RunRecord) error
	FinishRun(ctx context.Context, rec catalog.RunRecord) error
}

// Ledger tracks one pipeline run from begin to finish. A finished
// record is never mutated again.
type Ledger struct {
	store RunStore
	clock catalog.Clock
	log   *zap.Logger

	mu       sync.Mutex
	rec      catalog.RunRecord
	finished bool
}

// Begin opens a new run record in running state and persists it, so an
// operator can see in-flight runs and crashed ones stay visible as
// running forever.
func Begin(ctx context.Context, store RunStore, clock catalog.Clock, log *zap.Logger) (*Ledger, error) {
	rec := catalog.RunRecord{
		ID:        uuid.NewString(),
		StartedAt: clock.Now(),
		Status:    catalog.RunStatusRunning,
	}
	if err := store.BeginRun(ctx, rec); err != nil {
		return nil, fmt.Errorf("begin run: %w", err)
	}
	log.Info("run started", zap.String("run_id", rec.ID))
	return &Ledger{store: store, clock: clock, log: log, rec: rec}, nil
}

// RunID returns the run's identity.
func (l *Ledger) RunID() string {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.rec.ID
}

// RecordError appends one non-fatal error to the run.
func (l *Ledger) RecordError(stage, subject string, err error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.rec.Errors = append(l.rec.Errors, catalog.RunError{
		Stage:   stage,
		Subject: subject,
		Message: err.Error(),
	})
}

// AddErrors appends a batch of collected errors.
func (l *Ledger) AddErrors(errs []catalog.RunError) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.rec.Errors = append(l.rec.Errors, errs...)
}

// Errors returns a copy of the errors recorded so far.
func (l *Ledger) Errors() []catalog.RunError {
	l.mu.Lock()
	defer l.mu.Unlock()
	out := make([]catalog.RunError, len(l.rec.Errors))
	copy(out, l.rec.Errors)
	return out
}

// Finish closes the record with the given status and counters. Calling
// it more than once is an error.
func (l *Ledger) Finish(ctx context.Context, status catalog.RunStatus, counters catalog.RunCounters) error {
	l.mu.Lock()
	if l.finished {
		l.mu.Unlock()
		return fmt.Errorf("run %s already finished", l.rec.ID)
	}
	l.finished = true
	now := l.clock.Now()
	l.rec.FinishedAt = &now
	l.rec.Status = status
	l.rec.Counters = counters
	rec := l.rec
	l.mu.Unlock()

	if err := l.store.FinishRun(ctx, rec); err != nil {
		return fmt.Errorf("finish run %s: %w", rec.ID, err)
	}
	l.log.Info("run finished",
		zap.String("run_id", rec.ID),
		zap.String("status", string(status)),
		zap.Int("found", counters.Found),
		zap.Int("new", counters.New),
		zap.Int("updated", counters.Updated),
		zap.Int("enriched", counters.Enriched),
		zap.Int("notified", counters.Notified),
		zap.Int("errors", len(rec.Errors)))
	return nil
}
