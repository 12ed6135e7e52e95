// Package enrich classifies postings with an external model, caching
// every result so a given text and prompt version is paid for once.
package enrich

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"sync"

	"golang.org/x/sync/singleflight"

	"github.com/chairwatch/chairwatch/internal/catalog"
	"github.com/chairwatch/chairwatch/internal/metrics"
)

// EnrichmentLookup is the slice of the store the cache reads from.
type EnrichmentLookup interface {
	GetEnrichment(ctx context.Context, postingID string, task catalog.TaskType, inputKey string) (catalog.Enrichment, bool, error)
}

// cacheKey uniquely identifies one cached result.
func cacheKey(postingID string, task catalog.TaskType, inputKey string) string {
	return postingID + "|" + string(task) + "|" + inputKey
}

// ResultCache resolves classification results through a persistent
// cache. Misses invoke the compute function exactly once per key within
// a run and are buffered as pending rows; the reconciler persists them
// together with the rest of the run's write set.
type ResultCache struct {
	lookup EnrichmentLookup
	clock  catalog.Clock

	group   singleflight.Group
	mu      sync.Mutex
	pending map[string]catalog.Enrichment
}

// NewResultCache builds a cache backed by the given store lookup.
func NewResultCache(lookup EnrichmentLookup, clock catalog.Clock) *ResultCache {
	return &ResultCache{
		lookup:  lookup,
		clock:   clock,
		pending: make(map[string]catalog.Enrichment),
	}
}

// Resolve returns the cached output for (postingID, task, inputKey) or
// computes it. The boolean reports whether the result came from cache.
// Compute failures are returned without creating any cache entry, so
// the next run retries.
func (c *ResultCache) Resolve(ctx context.Context, postingID string, task catalog.TaskType, promptVersion, modelID, inputKey string, compute func(ctx context.Context) (json.RawMessage, error)) (json.RawMessage, bool, error) {
	key := cacheKey(postingID, task, inputKey)

	c.mu.Lock()
	if entry, ok := c.pending[key]; ok {
		c.mu.Unlock()
		metrics.ObserveEnrichCache(string(task), "hit")
		return entry.Output, true, nil
	}
	c.mu.Unlock()

	if entry, ok, err := c.lookup.GetEnrichment(ctx, postingID, task, inputKey); err != nil {
		return nil, false, fmt.Errorf("enrichment lookup %s/%s: %w", postingID, task, err)
	} else if ok {
		metrics.ObserveEnrichCache(string(task), "hit")
		return entry.Output, true, nil
	}

	out, err, _ := c.group.Do(key, func() (any, error) {
		output, err := compute(ctx)
		if err != nil {
			return nil, err
		}
		if !json.Valid(output) {
			return nil, fmt.Errorf("%w: task %s returned invalid json", catalog.ErrClassification, task)
		}
		entry := catalog.Enrichment{
			PostingID:     postingID,
			Task:          task,
			PromptVersion: promptVersion,
			ModelID:       modelID,
			InputKey:      inputKey,
			Output:        output,
			CreatedAt:     c.clock.Now(),
		}
		c.mu.Lock()
		c.pending[key] = entry
		c.mu.Unlock()
		return output, nil
	})
	if err != nil {
		metrics.ObserveEnrichCache(string(task), "miss")
		return nil, false, err
	}
	metrics.ObserveEnrichCache(string(task), "miss")
	return out.(json.RawMessage), false, nil
}

// Clear drops the pending buffer once its entries have been persisted.
func (c *ResultCache) Clear() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.pending = make(map[string]catalog.Enrichment)
}

// Pending returns the enrichments computed this run, sorted for
// deterministic batch application.
func (c *ResultCache) Pending() []catalog.Enrichment {
	c.mu.Lock()
	defer c.mu.Unlock()

	out := make([]catalog.Enrichment, 0, len(c.pending))
	for _, entry := range c.pending {
		out = append(out, entry)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].PostingID != out[j].PostingID {
			return out[i].PostingID < out[j].PostingID
		}
		if out[i].Task != out[j].Task {
			return out[i].Task < out[j].Task
		}
		return out[i].InputKey < out[j].InputKey
	})
	return out
}
