// Package notify delivers digests of newly eligible postings.
package notify

import (
	"fmt"
	"strings"

	"github.com/chairwatch/chairwatch/internal/catalog"
)

// Digest is the serialisable payload of one notification.
type Digest struct {
	Count    int           `json:"count"`
	Postings []DigestEntry `json:"postings"`
}

// DigestEntry is one posting in a digest.
type DigestEntry struct {
	ID           string  `json:"id"`
	Title        string  `json:"title"`
	Institution  string  `json:"institution"`
	CanonicalURL string  `json:"canonical_url"`
	RankBucket   string  `json:"rank_bucket"`
	Score        float64 `json:"score"`
	ClosingDate  string  `json:"closing_date,omitempty"`
	Synopsis     string  `json:"synopsis,omitempty"`
}

// BuildDigest converts eligible postings into a digest payload.
func BuildDigest(postings []catalog.Posting) Digest {
	digest := Digest{Count: len(postings)}
	for _, p := range postings {
		entry := DigestEntry{
			ID:           p.ID,
			Title:        p.Title,
			Institution:  p.Institution,
			CanonicalURL: p.CanonicalURL,
			RankBucket:   string(p.RankBucket),
			ClosingDate:  p.ClosingDate,
			Synopsis:     p.Synopsis,
		}
		if p.RelevanceScore != nil {
			entry.Score = *p.RelevanceScore
		}
		digest.Postings = append(digest.Postings, entry)
	}
	return digest
}

// Summary renders a one-line-per-posting text form of the digest.
func (d Digest) Summary() string {
	var b strings.Builder
	fmt.Fprintf(&b, "%d new postings\n", d.Count)
	for _, entry := range d.Postings {
		fmt.Fprintf(&b, "- [%.2f] %s, %s (%s) %s\n",
			entry.Score, entry.Title, entry.Institution, entry.RankBucket, entry.CanonicalURL)
	}
	return b.String()
}
