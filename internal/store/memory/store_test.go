package memory

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/chairwatch/chairwatch/internal/catalog"
)

type stepClock struct{ at time.Time }

func (c *stepClock) Now() time.Time {
	c.at = c.at.Add(time.Minute)
	return c.at
}

func newStore() (*Store, *stepClock) {
	clock := &stepClock{at: time.Date(2025, 6, 1, 0, 0, 0, 0, time.UTC)}
	return New(clock), clock
}

func TestApplyBatchInsertThenUpdate(t *testing.T) {
	t.Parallel()

	store, _ := newStore()
	ctx := context.Background()

	first := catalog.Batch{Postings: []catalog.Posting{{
		ID:           "p1",
		CanonicalURL: "https://uni.example/job/1",
		Title:        "Professor of Statistics",
		OpenStatus:   catalog.StatusOpen,
	}}}
	result, err := store.ApplyBatch(ctx, first)
	require.NoError(t, err)
	require.Equal(t, 1, result.Inserted)
	require.Zero(t, result.Updated)

	stored, ok, err := store.GetPosting(ctx, "p1")
	require.NoError(t, err)
	require.True(t, ok)
	require.False(t, stored.FirstSeenAt.IsZero())
	firstSeen := stored.FirstSeenAt

	second := catalog.Batch{Postings: []catalog.Posting{{
		ID:          "p1",
		Title:       "Professor of Statistics and Data Science",
		Institution: "Leiden University",
		OpenStatus:  catalog.StatusOpen,
		LastSeenAt:  time.Date(2025, 6, 2, 0, 0, 0, 0, time.UTC),
	}}}
	result, err = store.ApplyBatch(ctx, second)
	require.NoError(t, err)
	require.Zero(t, result.Inserted)
	require.Equal(t, 1, result.Updated)

	stored, _, err = store.GetPosting(ctx, "p1")
	require.NoError(t, err)
	require.Equal(t, firstSeen, stored.FirstSeenAt, "updates never move first seen")
	require.Equal(t, "Professor of Statistics and Data Science", stored.Title)
	require.Equal(t, "Leiden University", stored.Institution)
}

func TestApplyBatchPreservesEmailedAt(t *testing.T) {
	t.Parallel()

	store, _ := newStore()
	ctx := context.Background()

	_, err := store.ApplyBatch(ctx, catalog.Batch{Postings: []catalog.Posting{{ID: "p1", OpenStatus: catalog.StatusOpen}}})
	require.NoError(t, err)

	emailedAt := time.Date(2025, 6, 3, 9, 0, 0, 0, time.UTC)
	require.NoError(t, store.MarkEmailed(ctx, []string{"p1"}, emailedAt))

	_, err = store.ApplyBatch(ctx, catalog.Batch{Postings: []catalog.Posting{{ID: "p1", Title: "Updated", OpenStatus: catalog.StatusOpen}}})
	require.NoError(t, err)

	stored, _, err := store.GetPosting(ctx, "p1")
	require.NoError(t, err)
	require.NotNil(t, stored.EmailedAt)
	require.Equal(t, emailedAt, *stored.EmailedAt)
}

func TestMarkEmailedIsIdempotent(t *testing.T) {
	t.Parallel()

	store, _ := newStore()
	ctx := context.Background()

	_, err := store.ApplyBatch(ctx, catalog.Batch{Postings: []catalog.Posting{{ID: "p1", OpenStatus: catalog.StatusOpen}}})
	require.NoError(t, err)

	first := time.Date(2025, 6, 3, 9, 0, 0, 0, time.UTC)
	require.NoError(t, store.MarkEmailed(ctx, []string{"p1"}, first))
	require.NoError(t, store.MarkEmailed(ctx, []string{"p1"}, first.Add(time.Hour)))

	stored, _, err := store.GetPosting(ctx, "p1")
	require.NoError(t, err)
	require.Equal(t, first, *stored.EmailedAt, "a second delivery never restamps")
}

func TestListVerifiableExcludesClosed(t *testing.T) {
	t.Parallel()

	store, _ := newStore()
	ctx := context.Background()

	_, err := store.ApplyBatch(ctx, catalog.Batch{Postings: []catalog.Posting{
		{ID: "a", OpenStatus: catalog.StatusOpen},
		{ID: "b", OpenStatus: catalog.StatusUnknown},
		{ID: "c", OpenStatus: catalog.StatusClosed},
	}})
	require.NoError(t, err)

	verifiable, err := store.ListVerifiable(ctx)
	require.NoError(t, err)
	require.Len(t, verifiable, 2)
	require.Equal(t, "a", verifiable[0].ID)
	require.Equal(t, "b", verifiable[1].ID)
}

func TestSnapshotsAndLatestFingerprint(t *testing.T) {
	t.Parallel()

	store, _ := newStore()
	ctx := context.Background()

	fp, err := store.LatestFingerprint(ctx, "p1")
	require.NoError(t, err)
	require.Empty(t, fp)

	base := time.Date(2025, 6, 1, 0, 0, 0, 0, time.UTC)
	_, err = store.ApplyBatch(ctx, catalog.Batch{
		Postings: []catalog.Posting{{ID: "p1", OpenStatus: catalog.StatusOpen}},
		Snapshots: []catalog.Snapshot{
			{PostingID: "p1", Fingerprint: "old", FetchedAt: base},
			{PostingID: "p1", Fingerprint: "new", FetchedAt: base.Add(time.Hour)},
		},
	})
	require.NoError(t, err)

	fp, err = store.LatestFingerprint(ctx, "p1")
	require.NoError(t, err)
	require.Equal(t, "new", fp)

	pruned, err := store.PruneSnapshots(ctx)
	require.NoError(t, err)
	require.Equal(t, int64(1), pruned)

	fp, err = store.LatestFingerprint(ctx, "p1")
	require.NoError(t, err)
	require.Equal(t, "new", fp, "pruning keeps the newest snapshot")
}

func TestEnrichmentsNeverOverwrite(t *testing.T) {
	t.Parallel()

	store, _ := newStore()
	ctx := context.Background()

	original := catalog.Enrichment{PostingID: "p1", Task: catalog.TaskSynopsis, InputKey: "k1", ModelID: "m1"}
	_, err := store.ApplyBatch(ctx, catalog.Batch{Enrichments: []catalog.Enrichment{original}})
	require.NoError(t, err)

	conflict := original
	conflict.ModelID = "m2"
	_, err = store.ApplyBatch(ctx, catalog.Batch{Enrichments: []catalog.Enrichment{conflict}})
	require.NoError(t, err)

	stored, ok, err := store.GetEnrichment(ctx, "p1", catalog.TaskSynopsis, "k1")
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, "m1", stored.ModelID)
}

func TestExpireClosedRemovesChildRows(t *testing.T) {
	t.Parallel()

	store, clock := newStore()
	ctx := context.Background()

	_, err := store.ApplyBatch(ctx, catalog.Batch{
		Postings: []catalog.Posting{
			{ID: "stale", OpenStatus: catalog.StatusClosed},
			{ID: "fresh", OpenStatus: catalog.StatusOpen},
		},
		Snapshots: []catalog.Snapshot{
			{PostingID: "stale", Fingerprint: "f1", FetchedAt: clock.at},
		},
		Enrichments: []catalog.Enrichment{
			{PostingID: "stale", Task: catalog.TaskRelevance, InputKey: "k"},
		},
	})
	require.NoError(t, err)

	stats, err := store.ExpireClosed(ctx, clock.at.Add(24*time.Hour))
	require.NoError(t, err)
	require.Equal(t, int64(1), stats.PostingsExpired)
	require.Equal(t, int64(1), stats.SnapshotsPruned)

	_, ok, err := store.GetPosting(ctx, "stale")
	require.NoError(t, err)
	require.False(t, ok)
	_, ok, err = store.GetEnrichment(ctx, "stale", catalog.TaskRelevance, "k")
	require.NoError(t, err)
	require.False(t, ok)

	_, ok, err = store.GetPosting(ctx, "fresh")
	require.NoError(t, err)
	require.True(t, ok, "open postings survive expiry")
}

func TestRunRecords(t *testing.T) {
	t.Parallel()

	store, _ := newStore()
	ctx := context.Background()

	rec := catalog.RunRecord{ID: "r1", Status: catalog.RunStatusRunning}
	require.NoError(t, store.BeginRun(ctx, rec))

	finished := rec
	finished.Status = catalog.RunStatusCompleted
	require.NoError(t, store.FinishRun(ctx, finished))

	stored, ok, err := store.GetRun(ctx, "r1")
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, catalog.RunStatusCompleted, stored.Status)
}
