package catalog

import (
	"encoding/json"
	"time"
)

// OpenStatus is the liveness state of a posting.
type OpenStatus string

// Liveness states persisted in the catalogue.
const (
	StatusOpen    OpenStatus = "open"
	StatusClosed  OpenStatus = "closed"
	StatusUnknown OpenStatus = "unknown"
)

// RankBucket is a normalised academic seniority classification.
type RankBucket string

// Standardised rank buckets.
const (
	RankProfessor          RankBucket = "professor"
	RankAssociateProfessor RankBucket = "associate_professor"
	RankAssistantProfessor RankBucket = "assistant_professor"
	RankResearchFellow     RankBucket = "research_fellow"
	RankPostdoc            RankBucket = "postdoc"
	RankOther              RankBucket = "other"
)

// RankSource records whether a rank bucket was assigned by the rule table
// or by the classification capability.
type RankSource string

// Rank provenance values.
const (
	RankSourceRule  RankSource = "rule"
	RankSourceModel RankSource = "model"
)

// TaskType identifies one classification task.
type TaskType string

// Classification task types.
const (
	TaskRelevance    TaskType = "relevance"
	TaskExtraction   TaskType = "extraction"
	TaskSynopsis     TaskType = "synopsis"
	TaskRankFallback TaskType = "rank_fallback"
)

// RunStatus is the lifecycle state of a pipeline run.
type RunStatus string

// Run status values.
const (
	RunStatusRunning   RunStatus = "running"
	RunStatusCompleted RunStatus = "completed"
	RunStatusFailed    RunStatus = "failed"
)

// RawPosting is a posting as reported by a source adapter, before identity
// assignment. Core fields are typed; source-specific extras travel in Extra.
type RawPosting struct {
	URL         string
	Title       string
	Institution string
	Department  string
	Location    string
	Text        string
	HTML        string
	SourceID    string
	ClosingDate string
	Language    string
	ObservedAt  time.Time
	Extra       map[string]string
}

// Posting is the canonical catalogue record for one advertised position.
// ID is a pure function of CanonicalURL, so repeated runs can never mint a
// second identity for the same posting.
type Posting struct {
	ID           string
	CanonicalURL string
	OriginalURL  string
	SourceID     string

	Title         string
	Institution   string
	Department    string
	City          string
	Country       string
	Language      string
	ContractType  string
	FTE           *float64
	SalaryMin     *float64
	SalaryMax     *float64
	Currency      string
	ClosingDate   string
	InterviewDate string
	TopicTags     []string

	RankBucket RankBucket
	RankSource RankSource

	RelevanceScore     *float64
	SeniorityMatch     bool
	RelevanceRationale string
	Synopsis           string

	OpenStatus     OpenStatus
	VerifyFailures int

	FirstSeenAt time.Time
	LastSeenAt  time.Time
	EmailedAt   *time.Time
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

// Snapshot is an immutable capture of a posting's content, taken at most
// once per run per posting and only when the fingerprint changed.
type Snapshot struct {
	PostingID   string
	Text        string
	HTML        string
	Fingerprint string
	FetchedAt   time.Time
}

// Enrichment is one cached classification result. The triple
// (PostingID, Task, InputKey) is unique; distinct prompt versions or
// changed content produce distinct rows rather than overwrites.
type Enrichment struct {
	PostingID     string
	Task          TaskType
	PromptVersion string
	ModelID       string
	InputKey      string
	Output        json.RawMessage
	CreatedAt     time.Time
}

// RunError is one non-fatal error recorded against a run.
type RunError struct {
	Stage   string `json:"stage"`
	Subject string `json:"subject,omitempty"`
	Message string `json:"message"`
}

// RunCounters aggregates per-run outcome counts. They are derived from the
// run's candidate set, never incremented ad hoc.
type RunCounters struct {
	Found    int `json:"found"`
	New      int `json:"new"`
	Updated  int `json:"updated"`
	Enriched int `json:"enriched"`
	Notified int `json:"notified"`
}

// RunRecord is the audit row for one pipeline execution.
type RunRecord struct {
	ID         string
	StartedAt  time.Time
	FinishedAt *time.Time
	Status     RunStatus
	Counters   RunCounters
	Errors     []RunError
}

// Candidate is the in-memory working state for one posting during a run.
// Candidates are scoped to a single run; only the reconciler persists them.
type Candidate struct {
	Posting   Posting
	Snapshots []Snapshot

	// Text is the latest advert text available this run, used for
	// fingerprinting and enrichment input.
	Text string

	// Sources lists every source id that contributed to this candidate
	// after merging.
	Sources []string

	// Observed is true when the posting was actually re-observed this run,
	// via scraping or a successful verification fetch.
	Observed bool
}

// PageResult is the outcome of an authoritative page fetch.
type PageResult struct {
	StatusCode int
	Text       string
	HTML       string
}

// Batch is the write set the reconciler hands to the store. It is applied
// atomically: a crash mid-run leaves no partial state visible.
type Batch struct {
	Postings    []Posting
	Snapshots   []Snapshot
	Enrichments []Enrichment
}

// BatchResult reports what an applied batch did, including the final
// persisted state of every touched posting.
type BatchResult struct {
	Inserted int
	Updated  int
	Postings []Posting
}

// CleanupStats counts the rows affected by catalogue maintenance.
type CleanupStats struct {
	SnapshotsPruned int64
	PostingsExpired int64
}
