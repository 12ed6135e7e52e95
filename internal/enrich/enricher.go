package enrich

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/chairwatch/chairwatch/internal/catalog"
	"github.com/chairwatch/chairwatch/internal/fingerprint"
	"github.com/chairwatch/chairwatch/internal/metrics"
	"github.com/chairwatch/chairwatch/internal/ratelimit"
)

// Config controls the enrichment pass.
type Config struct {
	// PromptVersions maps each task to its active prompt version. Bumping
	// a version invalidates that task's cached results only.
	PromptVersions map[catalog.TaskType]string

	// MaxCalls caps classifier invocations per run. Zero means unlimited.
	MaxCalls int

	// Concurrency bounds in-flight candidate enrichment.
	Concurrency int
}

// DefaultPromptVersions is the active prompt version per task.
func DefaultPromptVersions() map[catalog.TaskType]string {
	return map[catalog.TaskType]string{
		catalog.TaskRelevance:    "v1",
		catalog.TaskExtraction:   "v1",
		catalog.TaskSynopsis:     "v1",
		catalog.TaskRankFallback: "v1",
	}
}

type relevanceOutput struct {
	RelevanceScore float64 `json:"relevance_score"`
	SeniorityMatch bool    `json:"seniority_match"`
	Rationale      string  `json:"rationale"`
}

type extractionOutput struct {
	City          string   `json:"city"`
	Country       string   `json:"country"`
	Language      string   `json:"language"`
	ContractType  string   `json:"contract_type"`
	FTE           *float64 `json:"fte"`
	SalaryMin     *float64 `json:"salary_min"`
	SalaryMax     *float64 `json:"salary_max"`
	Currency      string   `json:"currency"`
	InterviewDate string   `json:"interview_date"`
	TopicTags     []string `json:"topic_tags"`
}

type synopsisOutput struct {
	Synopsis string `json:"synopsis"`
}

type rankOutput struct {
	RankBucket string `json:"rank_bucket"`
}

// Enricher runs the classification tasks for a run's candidates. All
// model access goes through the cache, and a per-run call budget stops
// runaway spend when a source floods the pipeline with new postings.
type Enricher struct {
	classifier catalog.Classifier
	cache      *ResultCache
	ranks      *RankTable
	limiter    *ratelimit.Limiter
	log        *zap.Logger
	cfg        Config

	calls atomic.Int64
}

// NewEnricher builds an Enricher.
func NewEnricher(classifier catalog.Classifier, cache *ResultCache, ranks *RankTable, limiter *ratelimit.Limiter, log *zap.Logger, cfg Config) *Enricher {
	if cfg.PromptVersions == nil {
		cfg.PromptVersions = DefaultPromptVersions()
	}
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = 2
	}
	return &Enricher{
		classifier: classifier,
		cache:      cache,
		ranks:      ranks,
		limiter:    limiter,
		log:        log,
		cfg:        cfg,
	}
}

// EnrichAll enriches every candidate that carries text. Per-candidate
// failures are collected, not fatal: a failed task leaves whatever the
// posting already had. The int reports how many candidates had at least
// one fresh classification.
func (e *Enricher) EnrichAll(ctx context.Context, candidates []*catalog.Candidate) (int, []catalog.RunError) {
	var (
		mu       sync.Mutex
		enriched int
		runErrs  []catalog.RunError
	)

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(e.cfg.Concurrency)
	for _, cand := range candidates {
		g.Go(func() error {
			fresh, errs := e.enrichCandidate(gctx, cand)
			mu.Lock()
			if fresh {
				enriched++
			}
			runErrs = append(runErrs, errs...)
			mu.Unlock()
			return nil
		})
	}
	_ = g.Wait()
	return enriched, runErrs
}

// enrichCandidate runs rank, relevance, extraction and synopsis for one
// candidate. It reports whether any classifier call actually happened
// (as opposed to everything resolving from cache).
func (e *Enricher) enrichCandidate(ctx context.Context, cand *catalog.Candidate) (bool, []catalog.RunError) {
	if strings.TrimSpace(cand.Text) == "" {
		return false, nil
	}

	var errs []catalog.RunError
	fresh := false
	contentFP := fingerprint.Content(cand.Text)

	record := func(task catalog.TaskType, err error) {
		e.log.Warn("classification task failed",
			zap.String("posting_id", cand.Posting.ID),
			zap.String("task", string(task)),
			zap.Error(err))
		errs = append(errs, catalog.RunError{
			Stage:   "enrich",
			Subject: cand.Posting.ID,
			Message: fmt.Sprintf("%s: %v", task, err),
		})
	}

	// Rank resolution prefers the rule table and only falls back to the
	// model when no rule matches the title.
	if bucket, ok := e.ranks.Classify(cand.Posting.Title); ok {
		cand.Posting.RankBucket = bucket
		cand.Posting.RankSource = catalog.RankSourceRule
	} else {
		out, hit, err := e.resolve(ctx, cand, catalog.TaskRankFallback, contentFP)
		switch {
		case err != nil:
			// No rank is written on failure; the merge keeps whatever
			// rank the catalogue already holds.
			record(catalog.TaskRankFallback, err)
		default:
			fresh = fresh || !hit
			var parsed rankOutput
			if jsonErr := json.Unmarshal(out, &parsed); jsonErr != nil {
				record(catalog.TaskRankFallback, jsonErr)
			} else {
				cand.Posting.RankBucket = normaliseBucket(parsed.RankBucket)
				cand.Posting.RankSource = catalog.RankSourceModel
			}
		}
	}

	if out, hit, err := e.resolve(ctx, cand, catalog.TaskRelevance, contentFP); err != nil {
		record(catalog.TaskRelevance, err)
	} else {
		fresh = fresh || !hit
		var parsed relevanceOutput
		if jsonErr := json.Unmarshal(out, &parsed); jsonErr != nil {
			record(catalog.TaskRelevance, jsonErr)
		} else {
			score := parsed.RelevanceScore
			cand.Posting.RelevanceScore = &score
			cand.Posting.SeniorityMatch = parsed.SeniorityMatch
			cand.Posting.RelevanceRationale = parsed.Rationale
		}
	}

	if out, hit, err := e.resolve(ctx, cand, catalog.TaskExtraction, contentFP); err != nil {
		record(catalog.TaskExtraction, err)
	} else {
		fresh = fresh || !hit
		var parsed extractionOutput
		if jsonErr := json.Unmarshal(out, &parsed); jsonErr != nil {
			record(catalog.TaskExtraction, jsonErr)
		} else {
			applyExtraction(&cand.Posting, parsed)
		}
	}

	// Synopsis is only produced for postings not already in English.
	if needsSynopsis(cand.Posting.Language) {
		if out, hit, err := e.resolve(ctx, cand, catalog.TaskSynopsis, contentFP); err != nil {
			record(catalog.TaskSynopsis, err)
		} else {
			fresh = fresh || !hit
			var parsed synopsisOutput
			if jsonErr := json.Unmarshal(out, &parsed); jsonErr != nil {
				record(catalog.TaskSynopsis, jsonErr)
			} else if parsed.Synopsis != "" {
				cand.Posting.Synopsis = parsed.Synopsis
			}
		}
	}

	return fresh, errs
}

// resolve goes through the cache, charging the call budget only when a
// real classifier invocation is needed.
func (e *Enricher) resolve(ctx context.Context, cand *catalog.Candidate, task catalog.TaskType, contentFP string) (json.RawMessage, bool, error) {
	version := e.cfg.PromptVersions[task]
	inputKey := fingerprint.EnrichmentKey(version, contentFP)

	return e.cache.Resolve(ctx, cand.Posting.ID, task, version, e.classifier.ModelID(), inputKey,
		func(ctx context.Context) (json.RawMessage, error) {
			if e.cfg.MaxCalls > 0 && e.calls.Add(1) > int64(e.cfg.MaxCalls) {
				e.calls.Add(-1)
				metrics.ObserveClassifierCall(string(task), "budget_exhausted")
				return nil, fmt.Errorf("%w: call budget of %d exhausted", catalog.ErrClassification, e.cfg.MaxCalls)
			}
			if err := e.limiter.Wait(ctx, "classifier"); err != nil {
				return nil, err
			}
			out, err := e.classifier.Classify(ctx, task, version, cand.Text)
			if err != nil {
				metrics.ObserveClassifierCall(string(task), "error")
				return nil, fmt.Errorf("%w: %v", catalog.ErrClassification, err)
			}
			metrics.ObserveClassifierCall(string(task), "ok")
			return out, nil
		})
}

func applyExtraction(p *catalog.Posting, out extractionOutput) {
	if out.City != "" {
		p.City = out.City
	}
	if out.Country != "" {
		p.Country = out.Country
	}
	if out.Language != "" {
		p.Language = out.Language
	}
	if out.ContractType != "" {
		p.ContractType = out.ContractType
	}
	if out.FTE != nil {
		p.FTE = out.FTE
	}
	if out.SalaryMin != nil {
		p.SalaryMin = out.SalaryMin
	}
	if out.SalaryMax != nil {
		p.SalaryMax = out.SalaryMax
	}
	if out.Currency != "" {
		p.Currency = out.Currency
	}
	if out.InterviewDate != "" {
		p.InterviewDate = out.InterviewDate
	}
	if len(out.TopicTags) > 0 {
		p.TopicTags = out.TopicTags
	}
}

func needsSynopsis(language string) bool {
	switch strings.ToLower(strings.TrimSpace(language)) {
	case "", "en", "eng", "english":
		return false
	}
	return true
}

func normaliseBucket(raw string) catalog.RankBucket {
	bucket := catalog.RankBucket(strings.ToLower(strings.TrimSpace(raw)))
	switch bucket {
	case catalog.RankProfessor, catalog.RankAssociateProfessor, catalog.RankAssistantProfessor,
		catalog.RankResearchFellow, catalog.RankPostdoc:
		return bucket
	}
	return catalog.RankOther
}
