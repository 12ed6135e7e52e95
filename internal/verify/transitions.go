// Package verify tracks posting liveness across runs: it re-fetches
// authoritative pages, interprets closure signals, and drives the
// open/closed/unknown state machine.
package verify

import "github.com/chairwatch/chairwatch/internal/catalog"

// Outcome is the result of one verification attempt.
type Outcome int

// Verification outcomes.
const (
	// OutcomeLive means the page was fetched and still advertises the post.
	OutcomeLive Outcome = iota
	// OutcomeClosed means the page was fetched and indicates closure.
	OutcomeClosed
	// OutcomeFailed means the fetch failed (transport error, timeout, or
	// an HTTP error status).
	OutcomeFailed
)

// Transition applies one verification outcome to a posting's state.
// It returns the next status and the updated consecutive-failure count.
//
// Failures never close a posting directly: an open posting degrades to
// unknown and only reaches closed after threshold consecutive failures,
// so transient source outages do not flap liveness. A later successful
// fetch that finds the post advertised reopens it.
func Transition(status catalog.OpenStatus, failures int, outcome Outcome, threshold int) (catalog.OpenStatus, int) {
	if threshold <= 0 {
		threshold = 3
	}
	switch outcome {
	case OutcomeLive:
		return catalog.StatusOpen, 0
	case OutcomeClosed:
		return catalog.StatusClosed, 0
	default:
		if status == catalog.StatusClosed {
			return catalog.StatusClosed, failures
		}
		failures++
		if failures >= threshold {
			return catalog.StatusClosed, failures
		}
		return catalog.StatusUnknown, failures
	}
}
