package enrich

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/chairwatch/chairwatch/internal/catalog"
	"github.com/chairwatch/chairwatch/internal/fingerprint"
)

type fakeLookup struct {
	entries map[string]catalog.Enrichment
	calls   int
}

func (f *fakeLookup) GetEnrichment(_ context.Context, postingID string, task catalog.TaskType, inputKey string) (catalog.Enrichment, bool, error) {
	f.calls++
	entry, ok := f.entries[cacheKey(postingID, task, inputKey)]
	return entry, ok, nil
}

type tickClock struct{ at time.Time }

func (c tickClock) Now() time.Time { return c.at }

func TestResolveComputesOnceAndBuffersPending(t *testing.T) {
	t.Parallel()

	cache := NewResultCache(&fakeLookup{}, tickClock{at: time.Unix(1700000000, 0).UTC()})
	key := fingerprint.EnrichmentKey("v1", fingerprint.Content("some advert text"))

	computes := 0
	compute := func(context.Context) (json.RawMessage, error) {
		computes++
		return json.RawMessage(`{"synopsis":"short"}`), nil
	}

	out, hit, err := cache.Resolve(context.Background(), "p1", catalog.TaskSynopsis, "v1", "model-x", key, compute)
	require.NoError(t, err)
	require.False(t, hit)
	require.JSONEq(t, `{"synopsis":"short"}`, string(out))

	// Second resolve within the run is served from the pending buffer.
	out, hit, err = cache.Resolve(context.Background(), "p1", catalog.TaskSynopsis, "v1", "model-x", key, compute)
	require.NoError(t, err)
	require.True(t, hit)
	require.JSONEq(t, `{"synopsis":"short"}`, string(out))
	require.Equal(t, 1, computes)

	pending := cache.Pending()
	require.Len(t, pending, 1)
	require.Equal(t, "p1", pending[0].PostingID)
	require.Equal(t, catalog.TaskSynopsis, pending[0].Task)
	require.Equal(t, "v1", pending[0].PromptVersion)
	require.Equal(t, "model-x", pending[0].ModelID)
	require.Equal(t, key, pending[0].InputKey)
}

func TestResolveHitsPersistentCache(t *testing.T) {
	t.Parallel()

	key := fingerprint.EnrichmentKey("v1", fingerprint.Content("text"))
	lookup := &fakeLookup{entries: map[string]catalog.Enrichment{
		cacheKey("p1", catalog.TaskRelevance, key): {
			PostingID: "p1",
			Task:      catalog.TaskRelevance,
			InputKey:  key,
			Output:    json.RawMessage(`{"relevance_score":0.9,"seniority_match":true,"rationale":"chair"}`),
		},
	}}
	cache := NewResultCache(lookup, tickClock{at: time.Now()})

	out, hit, err := cache.Resolve(context.Background(), "p1", catalog.TaskRelevance, "v1", "model-x", key,
		func(context.Context) (json.RawMessage, error) {
			t.Fatal("compute must not run on a cache hit")
			return nil, nil
		})
	require.NoError(t, err)
	require.True(t, hit)
	require.Contains(t, string(out), "chair")
	require.Empty(t, cache.Pending())
}

func TestResolvePromptVersionBumpMisses(t *testing.T) {
	t.Parallel()

	content := fingerprint.Content("text")
	oldKey := fingerprint.EnrichmentKey("v1", content)
	lookup := &fakeLookup{entries: map[string]catalog.Enrichment{
		cacheKey("p1", catalog.TaskSynopsis, oldKey): {Output: json.RawMessage(`{"synopsis":"old"}`)},
	}}
	cache := NewResultCache(lookup, tickClock{at: time.Now()})

	newKey := fingerprint.EnrichmentKey("v2", content)
	out, hit, err := cache.Resolve(context.Background(), "p1", catalog.TaskSynopsis, "v2", "model-x", newKey,
		func(context.Context) (json.RawMessage, error) {
			return json.RawMessage(`{"synopsis":"new"}`), nil
		})
	require.NoError(t, err)
	require.False(t, hit, "a bumped prompt version must not reuse old results")
	require.JSONEq(t, `{"synopsis":"new"}`, string(out))
}

func TestResolveFailureLeavesNoEntry(t *testing.T) {
	t.Parallel()

	cache := NewResultCache(&fakeLookup{}, tickClock{at: time.Now()})
	boom := errors.New("model unavailable")

	_, _, err := cache.Resolve(context.Background(), "p1", catalog.TaskExtraction, "v1", "model-x", "k1",
		func(context.Context) (json.RawMessage, error) { return nil, boom })
	require.ErrorIs(t, err, boom)
	require.Empty(t, cache.Pending())

	// The next resolve retries the computation.
	out, hit, err := cache.Resolve(context.Background(), "p1", catalog.TaskExtraction, "v1", "model-x", "k1",
		func(context.Context) (json.RawMessage, error) {
			return json.RawMessage(`{"city":"Aarhus"}`), nil
		})
	require.NoError(t, err)
	require.False(t, hit)
	require.JSONEq(t, `{"city":"Aarhus"}`, string(out))
}

func TestResolveRejectsInvalidJSON(t *testing.T) {
	t.Parallel()

	cache := NewResultCache(&fakeLookup{}, tickClock{at: time.Now()})
	_, _, err := cache.Resolve(context.Background(), "p1", catalog.TaskSynopsis, "v1", "model-x", "k1",
		func(context.Context) (json.RawMessage, error) {
			return json.RawMessage(`not json`), nil
		})
	require.ErrorIs(t, err, catalog.ErrClassification)
	require.Empty(t, cache.Pending())
}

func TestPendingIsSorted(t *testing.T) {
	t.Parallel()

	cache := NewResultCache(&fakeLookup{}, tickClock{at: time.Now()})
	for _, id := range []string{"zz", "aa", "mm"} {
		_, _, err := cache.Resolve(context.Background(), id, catalog.TaskRelevance, "v1", "m", "k",
			func(context.Context) (json.RawMessage, error) {
				return json.RawMessage(`{}`), nil
			})
		require.NoError(t, err)
	}

	pending := cache.Pending()
	require.Len(t, pending, 3)
	require.Equal(t, "aa", pending[0].PostingID)
	require.Equal(t, "mm", pending[1].PostingID)
	require.Equal(t, "zz", pending[2].PostingID)
}
