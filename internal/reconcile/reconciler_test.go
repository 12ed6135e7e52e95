package reconcile

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/chairwatch/chairwatch/internal/catalog"
)

type fakeApplier struct {
	batch  catalog.Batch
	result catalog.BatchResult
	err    error
}

func (f *fakeApplier) ApplyBatch(_ context.Context, batch catalog.Batch) (catalog.BatchResult, error) {
	f.batch = batch
	if f.err != nil {
		return catalog.BatchResult{}, f.err
	}
	return f.result, nil
}

func scored(id string, score float64, match bool) catalog.Posting {
	return catalog.Posting{
		ID:             id,
		OpenStatus:     catalog.StatusOpen,
		SeniorityMatch: match,
		RelevanceScore: &score,
	}
}

func TestReconcileAssemblesSortedBatch(t *testing.T) {
	t.Parallel()

	applier := &fakeApplier{result: catalog.BatchResult{Inserted: 1, Updated: 1}}
	r := New(applier, zap.NewNop(), Config{})

	now := time.Date(2025, 6, 1, 0, 0, 0, 0, time.UTC)
	candidates := []*catalog.Candidate{
		{
			Posting:   catalog.Posting{ID: "zz"},
			Snapshots: []catalog.Snapshot{{PostingID: "zz", Fingerprint: "f2", FetchedAt: now}},
		},
		{
			Posting:   catalog.Posting{ID: "aa"},
			Snapshots: []catalog.Snapshot{{PostingID: "aa", Fingerprint: "f1", FetchedAt: now}},
		},
	}
	enrichments := []catalog.Enrichment{{PostingID: "aa", Task: catalog.TaskRelevance}}

	result, err := r.Reconcile(context.Background(), candidates, enrichments)
	require.NoError(t, err)
	require.Equal(t, 1, result.Inserted)
	require.Equal(t, 1, result.Updated)

	require.Equal(t, "aa", applier.batch.Postings[0].ID)
	require.Equal(t, "zz", applier.batch.Postings[1].ID)
	require.Equal(t, "aa", applier.batch.Snapshots[0].PostingID)
	require.Len(t, applier.batch.Enrichments, 1)
}

func TestReconcileWrapsStoreErrors(t *testing.T) {
	t.Parallel()

	applier := &fakeApplier{err: errors.New("deadlock detected")}
	r := New(applier, zap.NewNop(), Config{})

	_, err := r.Reconcile(context.Background(), nil, nil)
	require.ErrorIs(t, err, catalog.ErrReconciliation)
	require.Contains(t, err.Error(), "deadlock detected")
}

func TestEligibleFiltersAndSorts(t *testing.T) {
	t.Parallel()

	r := New(&fakeApplier{}, zap.NewNop(), Config{MinRelevance: 0.5})

	emailed := scored("e1", 0.9, true)
	at := time.Now()
	emailed.EmailedAt = &at

	closed := scored("c1", 0.9, true)
	closed.OpenStatus = catalog.StatusClosed

	lowScore := scored("l1", 0.4, true)
	noMatch := scored("n1", 0.9, false)
	unscored := catalog.Posting{ID: "u1", OpenStatus: catalog.StatusOpen, SeniorityMatch: true}

	keep1 := scored("b2", 0.7, true)
	keep2 := scored("b1", 0.7, true)
	keep3 := scored("a1", 0.95, true)

	eligible := r.Eligible([]catalog.Posting{
		emailed, closed, lowScore, noMatch, unscored, keep1, keep2, keep3,
	})

	require.Len(t, eligible, 3)
	require.Equal(t, "a1", eligible[0].ID, "highest score first")
	require.Equal(t, "b1", eligible[1].ID, "score tie broken by id")
	require.Equal(t, "b2", eligible[2].ID)
}

func TestEligibleNeverRenotifies(t *testing.T) {
	t.Parallel()

	r := New(&fakeApplier{}, zap.NewNop(), Config{MinRelevance: 0.5})

	p := scored("p1", 0.9, true)
	require.Len(t, r.Eligible([]catalog.Posting{p}), 1)

	at := time.Now()
	p.EmailedAt = &at
	require.Empty(t, r.Eligible([]catalog.Posting{p}), "an emailed posting stays out of later digests")
}

func TestEligibleRespectsCap(t *testing.T) {
	t.Parallel()

	r := New(&fakeApplier{}, zap.NewNop(), Config{MinRelevance: 0.1, MaxNotify: 2})

	eligible := r.Eligible([]catalog.Posting{
		scored("a", 0.9, true),
		scored("b", 0.8, true),
		scored("c", 0.7, true),
	})
	require.Len(t, eligible, 2)
	require.Equal(t, "a", eligible[0].ID)
	require.Equal(t, "b", eligible[1].ID)
}
