package enrich

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/chairwatch/chairwatch/internal/catalog"
	"github.com/chairwatch/chairwatch/internal/ratelimit"
)

type fakeClassifier struct {
	mu      sync.Mutex
	outputs map[catalog.TaskType]json.RawMessage
	errs    map[catalog.TaskType]error
	calls   map[catalog.TaskType]int
}

func newFakeClassifier() *fakeClassifier {
	return &fakeClassifier{
		outputs: map[catalog.TaskType]json.RawMessage{
			catalog.TaskRelevance:    json.RawMessage(`{"relevance_score":0.8,"seniority_match":true,"rationale":"permanent chair"}`),
			catalog.TaskExtraction:   json.RawMessage(`{"city":"Leiden","country":"NL","language":"en","contract_type":"permanent","fte":1.0,"salary_min":null,"salary_max":null,"currency":"EUR","interview_date":"","topic_tags":["statistics"]}`),
			catalog.TaskSynopsis:     json.RawMessage(`{"synopsis":"A professorship in statistics."}`),
			catalog.TaskRankFallback: json.RawMessage(`{"rank_bucket":"research_fellow"}`),
		},
		calls: make(map[catalog.TaskType]int),
	}
}

func (f *fakeClassifier) Classify(_ context.Context, task catalog.TaskType, _, _ string) (json.RawMessage, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls[task]++
	if err := f.errs[task]; err != nil {
		return nil, err
	}
	return f.outputs[task], nil
}

func (f *fakeClassifier) ModelID() string { return "fake-model" }

func (f *fakeClassifier) callCount(task catalog.TaskType) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls[task]
}

func newTestEnricher(t *testing.T, classifier catalog.Classifier, cfg Config) *Enricher {
	t.Helper()
	table, err := NewRankTable()
	require.NoError(t, err)
	cache := NewResultCache(&fakeLookup{}, tickClock{at: time.Unix(1700000000, 0).UTC()})
	return NewEnricher(classifier, cache, table, ratelimit.New(ratelimit.Config{}), zap.NewNop(), cfg)
}

func candidate(id, title, text string) *catalog.Candidate {
	return &catalog.Candidate{
		Posting: catalog.Posting{ID: id, Title: title},
		Text:    text,
	}
}

func TestEnrichCandidateRuleRankSkipsModelFallback(t *testing.T) {
	t.Parallel()

	classifier := newFakeClassifier()
	e := newTestEnricher(t, classifier, Config{})

	cand := candidate("p1", "Professor of Statistics", "A professorship in statistics at Leiden.")
	enriched, errs := e.EnrichAll(context.Background(), []*catalog.Candidate{cand})
	require.Empty(t, errs)
	require.Equal(t, 1, enriched)

	require.Equal(t, catalog.RankProfessor, cand.Posting.RankBucket)
	require.Equal(t, catalog.RankSourceRule, cand.Posting.RankSource)
	require.Zero(t, classifier.callCount(catalog.TaskRankFallback))

	require.NotNil(t, cand.Posting.RelevanceScore)
	require.InDelta(t, 0.8, *cand.Posting.RelevanceScore, 1e-9)
	require.True(t, cand.Posting.SeniorityMatch)
	require.Equal(t, "Leiden", cand.Posting.City)
	require.Equal(t, "NL", cand.Posting.Country)
	require.NotNil(t, cand.Posting.FTE)
	require.Equal(t, []string{"statistics"}, cand.Posting.TopicTags)
}

func TestEnrichCandidateModelFallbackForUnmatchedTitle(t *testing.T) {
	t.Parallel()

	classifier := newFakeClassifier()
	e := newTestEnricher(t, classifier, Config{})

	cand := candidate("p2", "Wissenschaftlicher Mitarbeiter", "Eine Forschungsstelle.")
	e.EnrichAll(context.Background(), []*catalog.Candidate{cand})

	require.Equal(t, catalog.RankResearchFellow, cand.Posting.RankBucket)
	require.Equal(t, catalog.RankSourceModel, cand.Posting.RankSource)
	require.Equal(t, 1, classifier.callCount(catalog.TaskRankFallback))
}

func TestEnrichCandidateRankFallbackFailureWritesNoRank(t *testing.T) {
	t.Parallel()

	classifier := newFakeClassifier()
	classifier.errs = map[catalog.TaskType]error{
		catalog.TaskRankFallback: errors.New("model unavailable"),
	}
	e := newTestEnricher(t, classifier, Config{})

	cand := candidate("p10", "Wissenschaftlicher Mitarbeiter", "Eine Forschungsstelle.")
	_, errs := e.EnrichAll(context.Background(), []*catalog.Candidate{cand})
	require.NotEmpty(t, errs)
	require.Empty(t, cand.Posting.RankBucket)
	require.Empty(t, cand.Posting.RankSource)

	// A rank the model assigned on an earlier run survives the merge.
	existing := catalog.Posting{
		ID:         "p10",
		RankBucket: catalog.RankProfessor,
		RankSource: catalog.RankSourceModel,
	}
	merged := catalog.MergePosting(existing, cand.Posting, time.Unix(1700000100, 0).UTC())
	require.Equal(t, catalog.RankProfessor, merged.RankBucket)
	require.Equal(t, catalog.RankSourceModel, merged.RankSource)
}

func TestEnrichCandidateSynopsisOnlyForNonEnglish(t *testing.T) {
	t.Parallel()

	classifier := newFakeClassifier()
	e := newTestEnricher(t, classifier, Config{})

	english := candidate("p3", "Professor of History", "An English advert.")
	english.Posting.Language = "en"
	danish := candidate("p4", "Professor i historie", "En dansk annonce.")
	danish.Posting.Language = "da"

	e.EnrichAll(context.Background(), []*catalog.Candidate{english, danish})

	require.Empty(t, english.Posting.Synopsis)
	require.Equal(t, "A professorship in statistics.", danish.Posting.Synopsis)
	require.Equal(t, 1, classifier.callCount(catalog.TaskSynopsis))
}

func TestEnrichCandidateFailureKeepsPriorValues(t *testing.T) {
	t.Parallel()

	classifier := newFakeClassifier()
	classifier.errs = map[catalog.TaskType]error{
		catalog.TaskRelevance: errors.New("model unavailable"),
	}
	e := newTestEnricher(t, classifier, Config{})

	prior := 0.7
	cand := candidate("p5", "Professor of Physics", "A physics chair.")
	cand.Posting.RelevanceScore = &prior
	cand.Posting.RelevanceRationale = "carried over"

	_, errs := e.EnrichAll(context.Background(), []*catalog.Candidate{cand})
	require.Len(t, errs, 1)
	require.Equal(t, "enrich", errs[0].Stage)
	require.Equal(t, "p5", errs[0].Subject)

	require.NotNil(t, cand.Posting.RelevanceScore)
	require.InDelta(t, 0.7, *cand.Posting.RelevanceScore, 1e-9)
	require.Equal(t, "carried over", cand.Posting.RelevanceRationale)

	// The other tasks still ran.
	require.Equal(t, "Leiden", cand.Posting.City)
}

func TestEnrichCandidateSkipsTextlessCandidates(t *testing.T) {
	t.Parallel()

	classifier := newFakeClassifier()
	e := newTestEnricher(t, classifier, Config{})

	cand := candidate("p6", "Professor of Chemistry", "")
	enriched, errs := e.EnrichAll(context.Background(), []*catalog.Candidate{cand})
	require.Zero(t, enriched)
	require.Empty(t, errs)
	require.Zero(t, classifier.callCount(catalog.TaskRelevance))
}

func TestEnrichCallBudgetStopsFurtherCalls(t *testing.T) {
	t.Parallel()

	classifier := newFakeClassifier()
	// Budget of one allows a single classifier call across the run.
	e := newTestEnricher(t, classifier, Config{MaxCalls: 1, Concurrency: 1})

	cands := []*catalog.Candidate{
		candidate("p7", "Professor of Mathematics", "First advert."),
		candidate("p8", "Professor of Philosophy", "Second advert."),
	}
	_, errs := e.EnrichAll(context.Background(), cands)

	total := classifier.callCount(catalog.TaskRelevance) +
		classifier.callCount(catalog.TaskExtraction) +
		classifier.callCount(catalog.TaskSynopsis) +
		classifier.callCount(catalog.TaskRankFallback)
	require.Equal(t, 1, total)
	require.NotEmpty(t, errs)
	for _, runErr := range errs {
		require.Equal(t, "enrich", runErr.Stage)
	}
}

func TestEnrichIdenticalTextSharesCachedResults(t *testing.T) {
	t.Parallel()

	classifier := newFakeClassifier()
	e := newTestEnricher(t, classifier, Config{Concurrency: 1})

	// Same posting enriched twice in a run resolves from the pending
	// buffer the second time.
	cand := candidate("p9", "Professor of Biology", "Identical advert text.")
	e.EnrichAll(context.Background(), []*catalog.Candidate{cand})
	first := classifier.callCount(catalog.TaskRelevance)

	e.EnrichAll(context.Background(), []*catalog.Candidate{cand})
	require.Equal(t, first, classifier.callCount(catalog.TaskRelevance))
}
