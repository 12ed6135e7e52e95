// Package memory implements the catalogue store in process memory. It
// backs tests and dry runs where no database is available.
package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/chairwatch/chairwatch/internal/catalog"
)

// Store is an in-memory catalog.Store. Safe for concurrent use.
type Store struct {
	clock catalog.Clock

	mu          sync.RWMutex
	postings    map[string]catalog.Posting
	snapshots   map[string][]catalog.Snapshot
	enrichments map[string]catalog.Enrichment
	runs        map[string]catalog.RunRecord
}

// New builds an empty in-memory store.
func New(clock catalog.Clock) *Store {
	return &Store{
		clock:       clock,
		postings:    make(map[string]catalog.Posting),
		snapshots:   make(map[string][]catalog.Snapshot),
		enrichments: make(map[string]catalog.Enrichment),
		runs:        make(map[string]catalog.RunRecord),
	}
}

func enrichmentKey(postingID string, task catalog.TaskType, inputKey string) string {
	return postingID + "|" + string(task) + "|" + inputKey
}

// GetPosting returns a posting by identity.
func (s *Store) GetPosting(_ context.Context, id string) (catalog.Posting, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	p, ok := s.postings[id]
	return p, ok, nil
}

// ListPostingIDs returns every identity in the catalogue.
func (s *Store) ListPostingIDs(_ context.Context) (map[string]struct{}, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make(map[string]struct{}, len(s.postings))
	for id := range s.postings {
		out[id] = struct{}{}
	}
	return out, nil
}

// ListVerifiable returns open and unknown postings sorted by identity.
func (s *Store) ListVerifiable(_ context.Context) ([]catalog.Posting, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []catalog.Posting
	for _, p := range s.postings {
		if p.OpenStatus == catalog.StatusOpen || p.OpenStatus == catalog.StatusUnknown {
			out = append(out, p)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

// LatestFingerprint returns the newest snapshot fingerprint for a
// posting, or "" when it has no snapshots.
func (s *Store) LatestFingerprint(_ context.Context, postingID string) (string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	snaps := s.snapshots[postingID]
	if len(snaps) == 0 {
		return "", nil
	}
	latest := snaps[0]
	for _, snap := range snaps[1:] {
		if snap.FetchedAt.After(latest.FetchedAt) {
			latest = snap
		}
	}
	return latest.Fingerprint, nil
}

// GetEnrichment looks up one cached classification result.
func (s *Store) GetEnrichment(_ context.Context, postingID string, task catalog.TaskType, inputKey string) (catalog.Enrichment, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	entry, ok := s.enrichments[enrichmentKey(postingID, task, inputKey)]
	return entry, ok, nil
}

// ApplyBatch upserts a run's write set. Insertions stamp FirstSeenAt and
// CreatedAt; updates merge through the shared posting merge rules, which
// preserve FirstSeenAt and EmailedAt. Enrichments never overwrite.
func (s *Store) ApplyBatch(_ context.Context, batch catalog.Batch) (catalog.BatchResult, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.clock.Now()
	var result catalog.BatchResult
	for _, incoming := range batch.Postings {
		existing, ok := s.postings[incoming.ID]
		if !ok {
			if incoming.FirstSeenAt.IsZero() {
				incoming.FirstSeenAt = now
			}
			if incoming.LastSeenAt.IsZero() {
				incoming.LastSeenAt = incoming.FirstSeenAt
			}
			if incoming.OpenStatus == "" {
				incoming.OpenStatus = catalog.StatusOpen
			}
			incoming.CreatedAt = now
			incoming.UpdatedAt = now
			s.postings[incoming.ID] = incoming
			result.Inserted++
			result.Postings = append(result.Postings, incoming)
			continue
		}
		merged := catalog.MergePosting(existing, incoming, now)
		s.postings[merged.ID] = merged
		result.Updated++
		result.Postings = append(result.Postings, merged)
	}

	for _, snap := range batch.Snapshots {
		s.snapshots[snap.PostingID] = append(s.snapshots[snap.PostingID], snap)
	}
	for _, entry := range batch.Enrichments {
		key := enrichmentKey(entry.PostingID, entry.Task, entry.InputKey)
		if _, ok := s.enrichments[key]; !ok {
			s.enrichments[key] = entry
		}
	}
	return result, nil
}

// MarkEmailed stamps EmailedAt on postings that have not been emailed.
func (s *Store) MarkEmailed(_ context.Context, ids []string, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, id := range ids {
		p, ok := s.postings[id]
		if !ok || p.EmailedAt != nil {
			continue
		}
		p.EmailedAt = &at
		p.UpdatedAt = at
		s.postings[id] = p
	}
	return nil
}

// BeginRun records a run in running state.
func (s *Store) BeginRun(_ context.Context, rec catalog.RunRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.runs[rec.ID] = rec
	return nil
}

// FinishRun overwrites the run record with its final state.
func (s *Store) FinishRun(_ context.Context, rec catalog.RunRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.runs[rec.ID] = rec
	return nil
}

// GetRun returns a run record by id.
func (s *Store) GetRun(_ context.Context, id string) (catalog.RunRecord, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	rec, ok := s.runs[id]
	return rec, ok, nil
}

// PruneSnapshots keeps only the newest snapshot per posting.
func (s *Store) PruneSnapshots(_ context.Context) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var pruned int64
	for id, snaps := range s.snapshots {
		if len(snaps) <= 1 {
			continue
		}
		latest := snaps[0]
		for _, snap := range snaps[1:] {
			if snap.FetchedAt.After(latest.FetchedAt) {
				latest = snap
			}
		}
		pruned += int64(len(snaps) - 1)
		s.snapshots[id] = []catalog.Snapshot{latest}
	}
	return pruned, nil
}

// ExpireClosed removes postings closed since before the cutoff together
// with their snapshots and enrichments.
func (s *Store) ExpireClosed(_ context.Context, cutoff time.Time) (catalog.CleanupStats, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var stats catalog.CleanupStats
	for id, p := range s.postings {
		if p.OpenStatus != catalog.StatusClosed || !p.UpdatedAt.Before(cutoff) {
			continue
		}
		stats.PostingsExpired++
		stats.SnapshotsPruned += int64(len(s.snapshots[id]))
		delete(s.postings, id)
		delete(s.snapshots, id)
		for key, entry := range s.enrichments {
			if entry.PostingID == id {
				delete(s.enrichments, key)
			}
		}
	}
	return stats, nil
}

// Close is a no-op for the in-memory store.
func (s *Store) Close() {}
