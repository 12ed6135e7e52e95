// Package catalog defines the domain types shared across the pipeline:
// postings, snapshots, enrichments, run records, the capability
// interfaces consumed by the batch engine, and the error taxonomy.
package catalog
