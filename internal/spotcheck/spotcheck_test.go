package spotcheck

import (
	"testing"
	"time"

	"github.com/marcus-qen/agentverify/internal/config"
	"github.com/marcus-qen/agentverify/internal/tier"
)

func testTierConfig() config.TierConfig {
	return config.TierConfig{
		RevocationMinFailed: 10,
		RevocationMinTotal:  10,
		RevocationMaxRate:   0.25,
	}
}

func TestWindowPrunesOldRecords(t *testing.T) {
	w := &Window{}
	now := time.Date(2026, 6, 1, 0, 0, 0, 0, time.UTC)
	w.Append(Record{At: now.Add(-40 * 24 * time.Hour), Passed: true}, now)
	w.Append(Record{At: now.Add(-1 * time.Hour), Passed: true}, now)

	if len(w.Records) != 1 {
		t.Fatalf("expected the 40-day-old record to be pruned, got %d records", len(w.Records))
	}
}

func TestShouldRevokeOnAbsoluteFailures(t *testing.T) {
	w := &Window{}
	now := time.Now()
	for i := 0; i < 10; i++ {
		w.Append(Record{At: now, Passed: false}, now)
	}
	if !w.ShouldRevoke(testTierConfig()) {
		t.Fatalf("expected 10 failures to trigger revocation")
	}
}

func TestShouldRevokeOnFailureRate(t *testing.T) {
	w := &Window{}
	now := time.Now()
	for i := 0; i < 7; i++ {
		w.Append(Record{At: now, Passed: false}, now)
	}
	for i := 0; i < 3; i++ {
		w.Append(Record{At: now, Passed: true}, now)
	}
	if !w.ShouldRevoke(testTierConfig()) {
		t.Fatalf("expected a 70%% failure rate over 10 samples to trigger revocation")
	}
}

func TestShouldNotRevokeBelowThresholds(t *testing.T) {
	w := &Window{}
	now := time.Now()
	for i := 0; i < 3; i++ {
		w.Append(Record{At: now, Passed: false}, now)
	}
	if w.ShouldRevoke(testTierConfig()) {
		t.Fatalf("expected too few samples to not trigger revocation")
	}
}

func TestSamplerDueRespectsZeroProbability(t *testing.T) {
	s := New(config.SpotCheckConfig{ProbabilityPerTick: map[string]float64{"I": 0}})
	for i := 0; i < 20; i++ {
		if s.Due(tier.I) {
			t.Fatalf("expected a zero probability to never fire")
		}
	}
}

func TestSamplerDueFiresAtCertainty(t *testing.T) {
	s := New(config.SpotCheckConfig{ProbabilityPerTick: map[string]float64{"III": 1.0}})
	if !s.Due(tier.III) {
		t.Fatalf("expected probability 1.0 to always fire")
	}
}

func TestSamplerDueUnknownTierNeverFires(t *testing.T) {
	s := New(config.SpotCheckConfig{ProbabilityPerTick: map[string]float64{"I": 1.0}})
	if s.Due(tier.Spawn) {
		t.Fatalf("expected the spawn tier (not in the map) to never fire")
	}
}
