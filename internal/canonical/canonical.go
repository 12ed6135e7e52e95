// Package canonical normalises source URLs into durable posting identities.
package canonical

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"net/url"
	"strings"

	"github.com/chairwatch/chairwatch/internal/catalog"
)

// Tracking parameters stripped during canonicalisation. Comparisons are
// case-insensitive.
var defaultStripParams = map[string]struct{}{
	"utm_source":   {},
	"utm_medium":   {},
	"utm_campaign": {},
	"utm_content":  {},
	"utm_term":     {},
	"ref":          {},
	"fbclid":       {},
	"gclid":        {},
	"mc_cid":       {},
	"mc_eid":       {},
}

// Canonicalizer produces canonical URLs and derived posting identities.
type Canonicalizer struct {
	strip map[string]struct{}
}

// New builds a Canonicalizer. Extra tracking parameter names extend the
// default strip set.
func New(extraStripParams ...string) *Canonicalizer {
	strip := make(map[string]struct{}, len(defaultStripParams)+len(extraStripParams))
	for p := range defaultStripParams {
		strip[p] = struct{}{}
	}
	for _, p := range extraStripParams {
		strip[strings.ToLower(p)] = struct{}{}
	}
	return &Canonicalizer{strip: strip}
}

// CanonicalURL normalises a raw URL for identity comparison. It lowercases
// the scheme and host, strips default ports, fragments and tracking
// parameters, sorts remaining query parameters, and removes trailing
// slashes except at the root. Malformed input returns ErrMalformedSource.
func (c *Canonicalizer) CanonicalURL(raw string) (string, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return "", fmt.Errorf("%w: empty url", catalog.ErrMalformedSource)
	}
	u, err := url.Parse(raw)
	if err != nil {
		return "", fmt.Errorf("%w: parse %q: %v", catalog.ErrMalformedSource, raw, err)
	}

	u.Scheme = strings.ToLower(u.Scheme)
	u.Host = strings.ToLower(u.Host)
	if u.Scheme != "http" && u.Scheme != "https" {
		return "", fmt.Errorf("%w: unsupported scheme %q", catalog.ErrMalformedSource, u.Scheme)
	}
	if u.Hostname() == "" {
		return "", fmt.Errorf("%w: missing host in %q", catalog.ErrMalformedSource, raw)
	}

	if u.Scheme == "http" {
		u.Host = strings.TrimSuffix(u.Host, ":80")
	}
	if u.Scheme == "https" {
		u.Host = strings.TrimSuffix(u.Host, ":443")
	}

	u.Fragment = ""

	// url.Values.Encode sorts keys, giving a deterministic parameter order.
	q := u.Query()
	for key := range q {
		if _, strip := c.strip[strings.ToLower(key)]; strip {
			q.Del(key)
		}
	}
	u.RawQuery = q.Encode()

	if u.Path != "/" {
		u.Path = strings.TrimRight(u.Path, "/")
	}

	return u.String(), nil
}

// PostingID derives the stable identifier for a canonical URL: the first
// 16 hex characters of its SHA-256 digest. Any correct implementation in
// any language produces the identical identifier for the identical URL.
func PostingID(canonicalURL string) string {
	sum := sha256.Sum256([]byte(canonicalURL))
	return hex.EncodeToString(sum[:])[:16]
}

// Identify canonicalises a raw URL and returns both the canonical form and
// the derived identifier.
func (c *Canonicalizer) Identify(raw string) (canonicalURL, id string, err error) {
	canonicalURL, err = c.CanonicalURL(raw)
	if err != nil {
		return "", "", err
	}
	return canonicalURL, PostingID(canonicalURL), nil
}
