// Package postgres implements the catalogue store on PostgreSQL.
package postgres

import (
	"context"
	_ "embed"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/chairwatch/chairwatch/internal/catalog"
)

//go:embed schema.sql
var schema string

// Config controls the Postgres connection pool.
type Config struct {
	DSN             string
	MaxConns        int32
	MinConns        int32
	MaxConnLifetime time.Duration
}

type dbPool interface {
	Begin(ctx context.Context) (pgx.Tx, error)
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Close()
}

// Store is the Postgres-backed catalog.Store.
type Store struct {
	pool  dbPool
	clock catalog.Clock
}

// New creates a Store with its own connection pool.
func New(ctx context.Context, cfg Config, clock catalog.Clock) (*Store, error) {
	if cfg.DSN == "" {
		return nil, fmt.Errorf("database.dsn is required")
	}
	poolCfg, err := pgxpool.ParseConfig(cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("parse dsn: %w", err)
	}
	if cfg.MaxConns > 0 {
		poolCfg.MaxConns = cfg.MaxConns
	}
	if cfg.MinConns > 0 {
		poolCfg.MinConns = cfg.MinConns
	}
	if cfg.MaxConnLifetime > 0 {
		poolCfg.MaxConnLifetime = cfg.MaxConnLifetime
	}
	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("create connection pool: %w", err)
	}
	return &Store{pool: pool, clock: clock}, nil
}

// NewWithPool creates a Store on an existing pool. Used by tests.
func NewWithPool(pool dbPool, clock catalog.Clock) *Store {
	return &Store{pool: pool, clock: clock}
}

// EnsureSchema creates the catalogue tables when they do not exist.
func (s *Store) EnsureSchema(ctx context.Context) error {
	if _, err := s.pool.Exec(ctx, schema); err != nil {
		return fmt.Errorf("ensure schema: %w", err)
	}
	return nil
}

// Close closes the underlying connection pool.
func (s *Store) Close() {
	s.pool.Close()
}

const postingColumns = `id, canonical_url, original_url, source_id, title, institution,
	department, city, country, language, contract_type, fte, salary_min, salary_max,
	currency, closing_date, interview_date, topic_tags, rank_bucket, rank_source,
	relevance_score, seniority_match, relevance_rationale, synopsis, open_status,
	verify_failures, first_seen_at, last_seen_at, emailed_at, created_at, updated_at`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanPosting(row rowScanner) (catalog.Posting, error) {
	var p catalog.Posting
	err := row.Scan(
		&p.ID, &p.CanonicalURL, &p.OriginalURL, &p.SourceID, &p.Title, &p.Institution,
		&p.Department, &p.City, &p.Country, &p.Language, &p.ContractType, &p.FTE,
		&p.SalaryMin, &p.SalaryMax, &p.Currency, &p.ClosingDate, &p.InterviewDate,
		&p.TopicTags, &p.RankBucket, &p.RankSource, &p.RelevanceScore, &p.SeniorityMatch,
		&p.RelevanceRationale, &p.Synopsis, &p.OpenStatus, &p.VerifyFailures,
		&p.FirstSeenAt, &p.LastSeenAt, &p.EmailedAt, &p.CreatedAt, &p.UpdatedAt,
	)
	return p, err
}

func postingArgs(p catalog.Posting) []any {
	return []any{
		p.ID, p.CanonicalURL, p.OriginalURL, p.SourceID, p.Title, p.Institution,
		p.Department, p.City, p.Country, p.Language, p.ContractType, p.FTE,
		p.SalaryMin, p.SalaryMax, p.Currency, p.ClosingDate, p.InterviewDate,
		p.TopicTags, p.RankBucket, p.RankSource, p.RelevanceScore, p.SeniorityMatch,
		p.RelevanceRationale, p.Synopsis, p.OpenStatus, p.VerifyFailures,
		p.FirstSeenAt, p.LastSeenAt, p.EmailedAt, p.CreatedAt, p.UpdatedAt,
	}
}

// GetPosting returns a posting by identity.
func (s *Store) GetPosting(ctx context.Context, id string) (catalog.Posting, bool, error) {
	row := s.pool.QueryRow(ctx, `SELECT `+postingColumns+` FROM postings WHERE id = $1`, id)
	p, err := scanPosting(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return catalog.Posting{}, false, nil
	}
	if err != nil {
		return catalog.Posting{}, false, fmt.Errorf("get posting %s: %w", id, err)
	}
	return p, true, nil
}

// ListPostingIDs returns every posting identity in the catalogue.
func (s *Store) ListPostingIDs(ctx context.Context) (map[string]struct{}, error) {
	rows, err := s.pool.Query(ctx, `SELECT id FROM postings`)
	if err != nil {
		return nil, fmt.Errorf("list posting ids: %w", err)
	}
	defer rows.Close()

	out := make(map[string]struct{})
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("scan posting id: %w", err)
		}
		out[id] = struct{}{}
	}
	return out, rows.Err()
}

// ListVerifiable returns open and unknown postings ordered by identity.
func (s *Store) ListVerifiable(ctx context.Context) ([]catalog.Posting, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT `+postingColumns+` FROM postings WHERE open_status IN ('open', 'unknown') ORDER BY id`)
	if err != nil {
		return nil, fmt.Errorf("list verifiable: %w", err)
	}
	defer rows.Close()

	var out []catalog.Posting
	for rows.Next() {
		p, err := scanPosting(rows)
		if err != nil {
			return nil, fmt.Errorf("scan posting: %w", err)
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

// LatestFingerprint returns the newest snapshot fingerprint for a posting.
func (s *Store) LatestFingerprint(ctx context.Context, postingID string) (string, error) {
	var fp string
	err := s.pool.QueryRow(ctx,
		`SELECT fingerprint FROM snapshots WHERE posting_id = $1 ORDER BY fetched_at DESC LIMIT 1`,
		postingID).Scan(&fp)
	if errors.Is(err, pgx.ErrNoRows) {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("latest fingerprint %s: %w", postingID, err)
	}
	return fp, nil
}

// GetEnrichment looks up one cached classification result.
func (s *Store) GetEnrichment(ctx context.Context, postingID string, task catalog.TaskType, inputKey string) (catalog.Enrichment, bool, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT posting_id, task, input_key, prompt_version, model_id, output, created_at
		 FROM enrichments WHERE posting_id = $1 AND task = $2 AND input_key = $3`,
		postingID, task, inputKey)

	var e catalog.Enrichment
	err := row.Scan(&e.PostingID, &e.Task, &e.InputKey, &e.PromptVersion, &e.ModelID, &e.Output, &e.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return catalog.Enrichment{}, false, nil
	}
	if err != nil {
		return catalog.Enrichment{}, false, fmt.Errorf("get enrichment %s/%s: %w", postingID, task, err)
	}
	return e, true, nil
}

// ApplyBatch applies a run's write set in one transaction. Existing rows
// are locked, merged through the shared merge rules and updated in
// place, so FirstSeenAt and EmailedAt survive every update.
func (s *Store) ApplyBatch(ctx context.Context, batch catalog.Batch) (catalog.BatchResult, error) {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return catalog.BatchResult{}, fmt.Errorf("begin batch: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	now := s.clock.Now()
	var result catalog.BatchResult
	for _, incoming := range batch.Postings {
		row := tx.QueryRow(ctx,
			`SELECT `+postingColumns+` FROM postings WHERE id = $1 FOR UPDATE`, incoming.ID)
		existing, scanErr := scanPosting(row)
		switch {
		case errors.Is(scanErr, pgx.ErrNoRows):
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
			if _, err := tx.Exec(ctx, insertPostingSQL, postingArgs(incoming)...); err != nil {
				return catalog.BatchResult{}, fmt.Errorf("insert posting %s: %w", incoming.ID, err)
			}
			result.Inserted++
			result.Postings = append(result.Postings, incoming)
		case scanErr != nil:
			return catalog.BatchResult{}, fmt.Errorf("lock posting %s: %w", incoming.ID, scanErr)
		default:
			merged := catalog.MergePosting(existing, incoming, now)
			if _, err := tx.Exec(ctx, updatePostingSQL, postingArgs(merged)...); err != nil {
				return catalog.BatchResult{}, fmt.Errorf("update posting %s: %w", merged.ID, err)
			}
			result.Updated++
			result.Postings = append(result.Postings, merged)
		}
	}

	for _, snap := range batch.Snapshots {
		if _, err := tx.Exec(ctx,
			`INSERT INTO snapshots (posting_id, text, html, fingerprint, fetched_at)
			 VALUES ($1, $2, $3, $4, $5)`,
			snap.PostingID, snap.Text, snap.HTML, snap.Fingerprint, snap.FetchedAt); err != nil {
			return catalog.BatchResult{}, fmt.Errorf("insert snapshot for %s: %w", snap.PostingID, err)
		}
	}

	for _, e := range batch.Enrichments {
		if _, err := tx.Exec(ctx,
			`INSERT INTO enrichments (posting_id, task, input_key, prompt_version, model_id, output, created_at)
			 VALUES ($1, $2, $3, $4, $5, $6, $7)
			 ON CONFLICT (posting_id, task, input_key) DO NOTHING`,
			e.PostingID, e.Task, e.InputKey, e.PromptVersion, e.ModelID, e.Output, e.CreatedAt); err != nil {
			return catalog.BatchResult{}, fmt.Errorf("insert enrichment %s/%s: %w", e.PostingID, e.Task, err)
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return catalog.BatchResult{}, fmt.Errorf("commit batch: %w", err)
	}
	return result, nil
}

var insertPostingSQL = `INSERT INTO postings (` + postingColumns + `) VALUES
	($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17,
	 $18, $19, $20, $21, $22, $23, $24, $25, $26, $27, $28, $29, $30, $31)`

var updatePostingSQL = `UPDATE postings SET
	canonical_url = $2, original_url = $3, source_id = $4, title = $5, institution = $6,
	department = $7, city = $8, country = $9, language = $10, contract_type = $11,
	fte = $12, salary_min = $13, salary_max = $14, currency = $15, closing_date = $16,
	interview_date = $17, topic_tags = $18, rank_bucket = $19, rank_source = $20,
	relevance_score = $21, seniority_match = $22, relevance_rationale = $23,
	synopsis = $24, open_status = $25, verify_failures = $26, first_seen_at = $27,
	last_seen_at = $28, emailed_at = $29, created_at = $30, updated_at = $31
	WHERE id = $1`

// MarkEmailed stamps EmailedAt on delivered postings that have not been
// emailed before.
func (s *Store) MarkEmailed(ctx context.Context, ids []string, at time.Time) error {
	if len(ids) == 0 {
		return nil
	}
	_, err := s.pool.Exec(ctx,
		`UPDATE postings SET emailed_at = $1, updated_at = $1
		 WHERE id = ANY($2) AND emailed_at IS NULL`, at, ids)
	if err != nil {
		return fmt.Errorf("mark emailed: %w", err)
	}
	return nil
}

// BeginRun inserts a run record in running state.
func (s *Store) BeginRun(ctx context.Context, rec catalog.RunRecord) error {
	counters, errs, err := marshalRun(rec)
	if err != nil {
		return err
	}
	_, err = s.pool.Exec(ctx,
		`INSERT INTO pipeline_runs (id, started_at, finished_at, status, counters, errors)
		 VALUES ($1, $2, $3, $4, $5, $6)`,
		rec.ID, rec.StartedAt, rec.FinishedAt, rec.Status, counters, errs)
	if err != nil {
		return fmt.Errorf("begin run %s: %w", rec.ID, err)
	}
	return nil
}

// FinishRun closes a run record.
func (s *Store) FinishRun(ctx context.Context, rec catalog.RunRecord) error {
	counters, errs, err := marshalRun(rec)
	if err != nil {
		return err
	}
	_, err = s.pool.Exec(ctx,
		`UPDATE pipeline_runs SET finished_at = $2, status = $3, counters = $4, errors = $5
		 WHERE id = $1`,
		rec.ID, rec.FinishedAt, rec.Status, counters, errs)
	if err != nil {
		return fmt.Errorf("finish run %s: %w", rec.ID, err)
	}
	return nil
}

func marshalRun(rec catalog.RunRecord) ([]byte, []byte, error) {
	counters, err := json.Marshal(rec.Counters)
	if err != nil {
		return nil, nil, fmt.Errorf("marshal run counters: %w", err)
	}
	runErrs := rec.Errors
	if runErrs == nil {
		runErrs = []catalog.RunError{}
	}
	errs, err := json.Marshal(runErrs)
	if err != nil {
		return nil, nil, fmt.Errorf("marshal run errors: %w", err)
	}
	return counters, errs, nil
}

// PruneSnapshots deletes everything but the newest snapshot per posting.
func (s *Store) PruneSnapshots(ctx context.Context) (int64, error) {
	tag, err := s.pool.Exec(ctx,
		`DELETE FROM snapshots WHERE id NOT IN (
			SELECT DISTINCT ON (posting_id) id FROM snapshots
			ORDER BY posting_id, fetched_at DESC
		)`)
	if err != nil {
		return 0, fmt.Errorf("prune snapshots: %w", err)
	}
	return tag.RowsAffected(), nil
}

// ExpireClosed removes postings closed before the cutoff. Snapshot and
// enrichment rows go with them via cascading deletes.
func (s *Store) ExpireClosed(ctx context.Context, cutoff time.Time) (catalog.CleanupStats, error) {
	var stats catalog.CleanupStats
	err := s.pool.QueryRow(ctx,
		`SELECT COUNT(*) FROM snapshots WHERE posting_id IN (
			SELECT id FROM postings WHERE open_status = 'closed' AND updated_at < $1
		)`, cutoff).Scan(&stats.SnapshotsPruned)
	if err != nil {
		return catalog.CleanupStats{}, fmt.Errorf("count expirable snapshots: %w", err)
	}

	tag, err := s.pool.Exec(ctx,
		`DELETE FROM postings WHERE open_status = 'closed' AND updated_at < $1`, cutoff)
	if err != nil {
		return catalog.CleanupStats{}, fmt.Errorf("expire closed postings: %w", err)
	}
	stats.PostingsExpired = tag.RowsAffected()
	return stats, nil
}
