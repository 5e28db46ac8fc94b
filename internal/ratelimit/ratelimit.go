// Package ratelimit enforces the per-agent per-post rate limit from
// SPEC_FULL.md §4.1 (10 requests / 60s window, keyed by agent). Unlike
// legator's shared/ratelimit (a bespoke mutex+slice limiter holding its own
// history), this limiter is a thin adapter over the kv.KV capability so the
// counting backend can be swapped (in-process, or a shared cache) without
// touching call sites.
package ratelimit

import (
	"fmt"
	"time"

	"github.com/marcus-qen/agentverify/internal/kv"
)

// Decision is the outcome of a rate-limit check.
type Decision struct {
	Allowed     bool
	Remaining   int
	ResetInSecs int
}

// Limiter enforces a fixed window-count limit per key over a KV backend.
type Limiter struct {
	store  kv.KV
	window time.Duration
	limit  int
}

// New creates a Limiter backed by store, allowing limit attempts per window.
func New(store kv.KV, window time.Duration, limit int) *Limiter {
	return &Limiter{store: store, window: window, limit: limit}
}

// Allow increments the counter for agentID's post-submission window and
// reports whether this attempt is within the allowed rate.
func (l *Limiter) Allow(agentID string) Decision {
	key := windowKey(agentID)
	r := l.store.IncrWindow(key, l.limit, l.window)
	resetIn := int(time.Until(r.ResetAt).Seconds())
	if resetIn < 0 {
		resetIn = 0
	}
	return Decision{
		Allowed:     r.Allowed,
		Remaining:   r.Remaining,
		ResetInSecs: resetIn,
	}
}

func windowKey(agentID string) string {
	return fmt.Sprintf("verification-burst:%s", agentID)
}
