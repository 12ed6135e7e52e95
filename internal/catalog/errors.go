package catalog

import "errors"

// Error taxonomy. Per-record and per-source errors are caught at their
// boundary and logged into the run record; only ErrReconciliation is fatal
// to a run.
var (
	// ErrMalformedSource marks a record an adapter produced that cannot be
	// given an identity. The record is skipped.
	ErrMalformedSource = errors.New("malformed source record")

	// ErrSourceUnavailable marks a whole source as failed for this run.
	ErrSourceUnavailable = errors.New("source unavailable")

	// ErrFetch marks a failed verification re-fetch. Status degrades via
	// unknown and the fetch is retried next run.
	ErrFetch = errors.New("verification fetch failed")

	// ErrClassification marks a failed or unparsable classification call.
	// No cache entry is written so the call is retried next run.
	ErrClassification = errors.New("classification failed")

	// ErrReconciliation marks a failure during the final upsert. The run
	// aborts before any partial commit.
	ErrReconciliation = errors.New("reconciliation failed")
)
