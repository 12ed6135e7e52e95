package catalog

import (
	"context"
	"encoding/json"
	"time"
)

// SourceAdapter produces raw postings for one configured source.
type SourceAdapter interface {
	SourceID() string
	Collect(ctx context.Context) ([]RawPosting, error)
}

// PageFetcher retrieves a posting's authoritative page for verification.
// Transport-level failures return an error; HTTP error statuses come back
// in PageResult and are interpreted by the caller.
type PageFetcher interface {
	FetchPage(ctx context.Context, url string) (PageResult, error)
}

// Classifier is the external classification capability. Input text plus a
// prompt version go in, structured JSON comes out.
type Classifier interface {
	Classify(ctx context.Context, task TaskType, promptVersion, input string) (json.RawMessage, error)
	ModelID() string
}

// Clock abstracts time for deterministic tests.
type Clock interface {
	Now() time.Time
}

// Notifier delivers a digest of newly eligible postings. Implementations
// must report an error when delivery did not happen; the pipeline marks
// postings emailed only after a nil return.
type Notifier interface {
	Notify(ctx context.Context, postings []Posting) error
}

// Store is the durable catalogue. The reconciler is the only component
// that writes posting or enrichment rows, and it does so through
// ApplyBatch in a single transaction-scoped pass.
type Store interface {
	// GetPosting returns a posting by identity, reporting existence.
	GetPosting(ctx context.Context, id string) (Posting, bool, error)

	// ListPostingIDs returns the identities already in the catalogue.
	ListPostingIDs(ctx context.Context) (map[string]struct{}, error)

	// ListVerifiable returns postings whose liveness should be re-checked
	// this run: everything open or unknown.
	ListVerifiable(ctx context.Context) ([]Posting, error)

	// LatestFingerprint returns the fingerprint of the newest snapshot for
	// a posting, or "" when none exists.
	LatestFingerprint(ctx context.Context, postingID string) (string, error)

	// GetEnrichment looks up a cached classification result by key.
	GetEnrichment(ctx context.Context, postingID string, task TaskType, inputKey string) (Enrichment, bool, error)

	// ApplyBatch atomically upserts a run's candidate set. Insertions set
	// FirstSeenAt; updates preserve FirstSeenAt and EmailedAt.
	ApplyBatch(ctx context.Context, batch Batch) (BatchResult, error)

	// MarkEmailed stamps EmailedAt on delivered postings. Called on behalf
	// of the notification capability, never by the reconciler.
	MarkEmailed(ctx context.Context, ids []string, at time.Time) error

	// BeginRun inserts a run record in running state.
	BeginRun(ctx context.Context, rec RunRecord) error

	// FinishRun closes a run record. The record is never mutated after.
	FinishRun(ctx context.Context, rec RunRecord) error

	// PruneSnapshots keeps only the newest snapshot per posting.
	PruneSnapshots(ctx context.Context) (int64, error)

	// ExpireClosed removes postings closed before the cutoff together with
	// their child rows.
	ExpireClosed(ctx context.Context, cutoff time.Time) (CleanupStats, error)

	Close()
}
