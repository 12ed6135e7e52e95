// Package fingerprint derives deterministic content digests used for
// snapshot change detection and enrichment cache keys.
package fingerprint

import (
	"crypto/sha256"
	"encoding/hex"
	"strings"
)

// Content fingerprints normalised posting text: whitespace runs collapse to
// single spaces so markup reflows do not register as content drift.
func Content(text string) string {
	normalised := strings.Join(strings.Fields(text), " ")
	sum := sha256.Sum256([]byte(normalised))
	return hex.EncodeToString(sum[:])
}

// EnrichmentKey combines a task's prompt version with a content fingerprint
// into the cache input key. Bumping the prompt version invalidates every
// prior cached result for that task without touching other tasks.
func EnrichmentKey(promptVersion, contentFingerprint string) string {
	sum := sha256.Sum256([]byte(promptVersion + ":" + contentFingerprint))
	return hex.EncodeToString(sum[:])
}
