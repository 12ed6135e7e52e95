// Package dedup collapses records that describe the same real-world
// posting, first by canonical URL and then by fuzzy similarity across
// sources.
package dedup

import (
	"sort"
	"strings"
	"unicode"

	"github.com/adrg/strutil"
	strmetrics "github.com/adrg/strutil/metrics"
	"go.uber.org/zap"

	"github.com/chairwatch/chairwatch/internal/catalog"
	"github.com/chairwatch/chairwatch/internal/metrics"
)

// Config exposes the fuzzy-match policy as named, auditable knobs rather
// than magic numbers.
type Config struct {
	// Threshold is the combined weighted similarity above which a pair is
	// merged.
	Threshold float64
	// InstitutionThreshold is the stricter sub-threshold the institution
	// similarity alone must clear, preventing false merges of same-titled
	// roles at different institutions.
	InstitutionThreshold float64

	TitleWeight       float64
	InstitutionWeight float64
	LocationWeight    float64

	// SourcePriority ranks sources by historical verification reliability;
	// earlier entries win tie-breaks. Unlisted sources rank last.
	SourcePriority []string
}

// DefaultConfig returns the tuned policy defaults.
func DefaultConfig() Config {
	return Config{
		Threshold:            0.85,
		InstitutionThreshold: 0.90,
		TitleWeight:          0.55,
		InstitutionWeight:    0.35,
		LocationWeight:       0.10,
	}
}

// Deduplicator merges candidates within a run batch. It is deterministic:
// the same input always produces the same merged set.
type Deduplicator struct {
	cfg      Config
	priority map[string]int
	metric   *strmetrics.SorensenDice
	logger   *zap.Logger
}

// New builds a Deduplicator.
func New(cfg Config, logger *zap.Logger) *Deduplicator {
	if cfg.Threshold == 0 {
		cfg = DefaultConfig()
	}
	priority := make(map[string]int, len(cfg.SourcePriority))
	for i, src := range cfg.SourcePriority {
		priority[src] = i
	}
	return &Deduplicator{
		cfg:      cfg,
		priority: priority,
		metric:   strmetrics.NewSorensenDice(),
		logger:   logger,
	}
}

// Merge collapses duplicates and returns the surviving candidates sorted
// by canonical URL. Applying Merge to its own output yields the same set.
func (d *Deduplicator) Merge(cands []catalog.Candidate) []catalog.Candidate {
	in := len(cands)

	exact := d.exactPhase(cands)
	merged := d.fuzzyPhase(exact)

	sort.Slice(merged, func(i, j int) bool {
		return merged[i].Posting.CanonicalURL < merged[j].Posting.CanonicalURL
	})

	cross := 0
	for _, c := range merged {
		if len(c.Sources) > 1 {
			cross++
		}
	}
	if cross > 0 {
		metrics.ObserveCrossSourceMerges(cross)
	}
	if d.logger != nil {
		d.logger.Info("deduplicated batch",
			zap.Int("input", in),
			zap.Int("unique", len(merged)),
			zap.Int("removed", in-len(merged)),
			zap.Int("cross_source", cross),
		)
	}
	return merged
}

// exactPhase groups candidates sharing a posting identity. Records with the
// same canonical URL are the same posting regardless of source.
func (d *Deduplicator) exactPhase(cands []catalog.Candidate) []catalog.Candidate {
	order := make([]string, 0, len(cands))
	groups := make(map[string][]catalog.Candidate, len(cands))
	for _, c := range cands {
		id := c.Posting.ID
		if _, seen := groups[id]; !seen {
			order = append(order, id)
		}
		groups[id] = append(groups[id], c)
	}

	out := make([]catalog.Candidate, 0, len(order))
	for _, id := range order {
		group := groups[id]
		d.sortByPreference(group)
		survivor := group[0]
		for _, other := range group[1:] {
			survivor = absorb(survivor, other)
		}
		out = append(out, survivor)
	}
	return out
}

// fuzzyPhase merges remaining candidates across sources by weighted
// similarity over title, institution and location.
func (d *Deduplicator) fuzzyPhase(cands []catalog.Candidate) []catalog.Candidate {
	d.sortByPreference(cands)

	consumed := make([]bool, len(cands))
	out := make([]catalog.Candidate, 0, len(cands))
	for i := range cands {
		if consumed[i] {
			continue
		}
		survivor := cands[i]
		for j := i + 1; j < len(cands); j++ {
			if consumed[j] {
				continue
			}
			if survivor.Posting.SourceID == cands[j].Posting.SourceID {
				continue
			}
			if d.isDuplicate(survivor.Posting, cands[j].Posting) {
				survivor = absorb(survivor, cands[j])
				consumed[j] = true
			}
		}
		out = append(out, survivor)
	}
	return out
}

// isDuplicate applies the weighted similarity policy to a cross-source pair.
func (d *Deduplicator) isDuplicate(a, b catalog.Posting) bool {
	instA, instB := normalizeField(a.Institution), normalizeField(b.Institution)
	if instA == "" || instB == "" {
		return false
	}
	instSim := strutil.Similarity(instA, instB, d.metric)
	if instSim < d.cfg.InstitutionThreshold {
		return false
	}

	total := d.cfg.InstitutionWeight
	combined := d.cfg.InstitutionWeight * instSim

	titleA, titleB := normalizeField(a.Title), normalizeField(b.Title)
	if titleA == "" || titleB == "" {
		return false
	}
	total += d.cfg.TitleWeight
	combined += d.cfg.TitleWeight * strutil.Similarity(titleA, titleB, d.metric)

	locA, locB := normalizeField(location(a)), normalizeField(location(b))
	if locA != "" && locB != "" {
		total += d.cfg.LocationWeight
		combined += d.cfg.LocationWeight * strutil.Similarity(locA, locB, d.metric)
	}

	return combined/total >= d.cfg.Threshold
}

// sortByPreference orders candidates so the preferred survivor comes
// first: source reliability, then earliest first-seen, then canonical URL.
func (d *Deduplicator) sortByPreference(cands []catalog.Candidate) {
	sort.SliceStable(cands, func(i, j int) bool {
		pi, pj := d.sourceRank(cands[i].Posting.SourceID), d.sourceRank(cands[j].Posting.SourceID)
		if pi != pj {
			return pi < pj
		}
		if !cands[i].Posting.FirstSeenAt.Equal(cands[j].Posting.FirstSeenAt) {
			return cands[i].Posting.FirstSeenAt.Before(cands[j].Posting.FirstSeenAt)
		}
		return cands[i].Posting.CanonicalURL < cands[j].Posting.CanonicalURL
	})
}

func (d *Deduplicator) sourceRank(sourceID string) int {
	if rank, ok := d.priority[sourceID]; ok {
		return rank
	}
	return len(d.priority)
}

// absorb merges other into survivor. The survivor keeps its own non-empty
// fields, gains the other's where empty, keeps the earliest first-seen and
// latest last-seen, and retains every contributing snapshot.
func absorb(survivor, other catalog.Candidate) catalog.Candidate {
	s, o := survivor.Posting, other.Posting

	s.OriginalURL = fill(s.OriginalURL, o.OriginalURL)
	s.Title = fill(s.Title, o.Title)
	s.Institution = fill(s.Institution, o.Institution)
	s.Department = fill(s.Department, o.Department)
	s.City = fill(s.City, o.City)
	s.Country = fill(s.Country, o.Country)
	s.Language = fill(s.Language, o.Language)
	s.ClosingDate = fill(s.ClosingDate, o.ClosingDate)

	if !o.FirstSeenAt.IsZero() && (s.FirstSeenAt.IsZero() || o.FirstSeenAt.Before(s.FirstSeenAt)) {
		s.FirstSeenAt = o.FirstSeenAt
	}
	if o.LastSeenAt.After(s.LastSeenAt) {
		s.LastSeenAt = o.LastSeenAt
	}

	survivor.Posting = s
	survivor.Snapshots = append(survivor.Snapshots, other.Snapshots...)
	survivor.Text = fill(survivor.Text, other.Text)
	survivor.Observed = survivor.Observed || other.Observed
	for _, src := range other.Sources {
		if !contains(survivor.Sources, src) {
			survivor.Sources = append(survivor.Sources, src)
		}
	}
	return survivor
}

func fill(current, candidate string) string {
	if current != "" {
		return current
	}
	return candidate
}

func contains(list []string, v string) bool {
	for _, item := range list {
		if item == v {
			return true
		}
	}
	return false
}

func location(p catalog.Posting) string {
	if p.City != "" && p.Country != "" {
		return p.City + " " + p.Country
	}
	return p.City + p.Country
}

// normalizeField lowercases, strips punctuation and token-sorts a field so
// word order and styling differences do not defeat the similarity metric.
func normalizeField(s string) string {
	var b strings.Builder
	for _, r := range strings.ToLower(s) {
		switch {
		case unicode.IsLetter(r) || unicode.IsDigit(r):
			b.WriteRune(r)
		default:
			b.WriteRune(' ')
		}
	}
	tokens := strings.Fields(b.String())
	sort.Strings(tokens)
	return strings.Join(tokens, " ")
}
