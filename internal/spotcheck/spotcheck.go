// Package spotcheck implements the continuous spot-check sampling and the
// rolling-window revocation rule (SPEC_FULL.md §4.4, §4.5). Spot checks are
// single-challenge bursts dispatched to already-verified agents; their
// outcomes both feed the trust-tier streak (via tier.RecordChallengeOutcome)
// and a separate 30-day rolling window that can revoke verification outright.
package spotcheck

import (
	"math/rand/v2"
	"time"

	"github.com/marcus-qen/agentverify/internal/config"
	"github.com/marcus-qen/agentverify/internal/tier"
)

const revocationWindow = 30 * 24 * time.Hour

// Record is one spot-check outcome kept in the rolling window.
type Record struct {
	At     time.Time
	Passed bool
}

// Window is the per-agent rolling spot-check history.
type Window struct {
	Records []Record
}

// Append adds rec to the window and prunes entries older than 30 days
// relative to now.
func (w *Window) Append(rec Record, now time.Time) {
	w.Records = append(w.Records, rec)
	w.prune(now)
}

func (w *Window) prune(now time.Time) {
	cutoff := now.Add(-revocationWindow)
	kept := w.Records[:0]
	for _, r := range w.Records {
		if !r.At.Before(cutoff) {
			kept = append(kept, r)
		}
	}
	w.Records = kept
}

// ShouldRevoke reports whether the current window crosses the revocation
// thresholds configured in cfg: failed_in_window >= RevocationMinFailed, or
// total_in_window >= RevocationMinTotal AND failed/total > RevocationMaxRate.
func (w *Window) ShouldRevoke(cfg config.TierConfig) bool {
	total := len(w.Records)
	failed := 0
	for _, r := range w.Records {
		if !r.Passed {
			failed++
		}
	}
	if failed >= cfg.RevocationMinFailed {
		return true
	}
	if total >= cfg.RevocationMinTotal && float64(failed)/float64(total) > cfg.RevocationMaxRate {
		return true
	}
	return false
}

// Sampler decides, per tick, whether a verified agent receives a spot check
// this pass. Resolves the §11 Open Question as a per-tier Bernoulli draw at
// a configured probability, rather than a fixed calendar schedule.
type Sampler struct {
	cfg config.SpotCheckConfig
}

// New builds a Sampler over the configured per-tier probabilities.
func New(cfg config.SpotCheckConfig) *Sampler {
	return &Sampler{cfg: cfg}
}

// Due reports whether a spot check should fire this tick for an agent
// currently at tierName.
func (s *Sampler) Due(t tier.Tier) bool {
	p, ok := s.cfg.ProbabilityPerTick[tierKey(t)]
	if !ok || p <= 0 {
		return false
	}
	return rand.Float64() < p
}

func tierKey(t tier.Tier) string {
	switch t {
	case tier.I:
		return "I"
	case tier.II:
		return "II"
	case tier.III:
		return "III"
	default:
		return ""
	}
}
