package session

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/go-logr/logr"

	"github.com/marcus-qen/agentverify/internal/challenge"
	"github.com/marcus-qen/agentverify/internal/clock"
	"github.com/marcus-qen/agentverify/internal/config"
	"github.com/marcus-qen/agentverify/internal/events"
	"github.com/marcus-qen/agentverify/internal/fingerprint"
	"github.com/marcus-qen/agentverify/internal/spotcheck"
	"github.com/marcus-qen/agentverify/internal/store"
	"github.com/marcus-qen/agentverify/internal/tier"
	"github.com/marcus-qen/agentverify/internal/webhook"
)

func testGauntletCfg() config.GauntletConfig {
	return config.GauntletConfig{
		BurstSize:           3,
		BurstTimeout:        2 * time.Second,
		ResponseTimeout:      time.Second,
		ChallengesPerDayMin:  3,
		ChallengesPerDayMax:  5,
		MinNightChallenges:   2,
		GauntletDays:         3,
		AttemptRateMin:       0.6,
		PassRateMin:          0.8,
	}
}

func testTierCfg() config.TierConfig {
	return config.TierConfig{
		SkipsAllowedPerDay:  1,
		DaysForTierI:        1,
		DaysForTierII:       3,
		DaysForTierIII:      7,
		RevocationMinFailed: 3,
		RevocationMinTotal:  4,
		RevocationMaxRate:   0.5,
	}
}

func newTestController(t *testing.T, clk clock.Clock, dispatcher *webhook.Dispatcher, tpls []challenge.Template) *Controller {
	t.Helper()
	bus := events.NewBus(8)
	lib := challenge.New(tpls)
	return New(Deps{
		Library:       lib,
		Dispatcher:    dispatcher,
		Records:       store.NewMemory(""),
		TierMachine:   tier.New(testTierCfg(), bus),
		Sampler:       spotcheck.New(config.SpotCheckConfig{ProbabilityPerTick: map[string]float64{"I": 1, "II": 1, "III": 1}}),
		Bus:           bus,
		Clock:         clk,
		Fingerprinter: fingerprint.NewLexicalStub(),
		Profiler:      fingerprint.NewAveragingProfiler(),
		Gauntlet:      testGauntletCfg(),
		Tier:          testTierCfg(),
		Log:           logr.Discard(),
	})
}

func newDispatcher(t *testing.T, handler http.HandlerFunc) (*webhook.Dispatcher, *httptest.Server) {
	t.Helper()
	srv := httptest.NewServer(handler)
	lib := challenge.New(nil)
	d := webhook.New(srv.Client(), lib, nil, logr.Discard())
	return d, srv
}

func TestStartSessionPlacesMinNightBursts(t *testing.T) {
	clk := clock.NewMock(time.Date(2026, 3, 10, 15, 0, 0, 0, time.UTC))
	d, srv := newDispatcher(t, func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"response":"unused"}`))
	})
	defer srv.Close()

	c := newTestController(t, clk, d, nil)
	sess, err := c.StartSession(context.Background(), "agent-1", srv.URL)
	if err != nil {
		t.Fatalf("StartSession: %v", err)
	}

	nightCount := 0
	for _, inst := range sess.Instances {
		if inst.ScheduledFor.Before(sess.StartedAt) || !inst.ScheduledFor.Before(sess.EndsAt) {
			t.Errorf("instance %s scheduled_for %v outside [started_at, ends_at) = [%v, %v)", inst.ID, inst.ScheduledFor, sess.StartedAt, sess.EndsAt)
		}
		wantDayIndex := int(inst.ScheduledFor.Sub(sess.StartedAt) / (24 * time.Hour))
		if wantDayIndex >= testGauntletCfg().GauntletDays {
			wantDayIndex = testGauntletCfg().GauntletDays - 1
		}
		if inst.DayIndex != wantDayIndex {
			t.Errorf("instance %s has DayIndex %d, want %d (elapsed %v)", inst.ID, inst.DayIndex, wantDayIndex, inst.ScheduledFor.Sub(sess.StartedAt))
		}
		if inst.IsNightChallenge {
			nightCount++
			hour := inst.ScheduledFor.UTC().Hour()
			if hour < 1 || hour >= 6 {
				t.Errorf("expected night challenge hour in [1,6) UTC, got %d", hour)
			}
		}
	}
	if nightCount < testGauntletCfg().MinNightChallenges {
		t.Errorf("expected at least %d night-flagged instances, got %d", testGauntletCfg().MinNightChallenges, nightCount)
	}

	if len(sess.Instances) == 0 {
		t.Fatal("expected at least one scheduled instance")
	}
	if sess.Status != StatusPending {
		t.Errorf("expected a fresh session to start pending, got %v", sess.Status)
	}
}

// TestNightBurstNeverPrecedesSessionStart exercises the case the mock clock
// in TestStartSessionPlacesMinNightBursts already covers incidentally
// (a session started well after 06:00 UTC): day 0's night burst must still
// land at or after started_at, not at that calendar day's already-past
// [01:00, 06:00) UTC window.
func TestNightBurstNeverPrecedesSessionStart(t *testing.T) {
	clk := clock.NewMock(time.Date(2026, 3, 10, 20, 0, 0, 0, time.UTC))
	d, srv := newDispatcher(t, func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"response":"unused"}`))
	})
	defer srv.Close()

	c := newTestController(t, clk, d, nil)
	sess, err := c.StartSession(context.Background(), "agent-1", srv.URL)
	if err != nil {
		t.Fatalf("StartSession: %v", err)
	}

	for _, inst := range sess.Instances {
		if inst.IsNightChallenge && inst.DayIndex == 0 && inst.ScheduledFor.Before(sess.StartedAt) {
			t.Errorf("day-0 night burst %v precedes started_at %v", inst.ScheduledFor, sess.StartedAt)
		}
	}
}

func TestTickDispatchesDueBurstsAndFinalizesPassingSession(t *testing.T) {
	clk := clock.NewMock(time.Date(2026, 3, 10, 15, 0, 0, 0, time.UTC))
	d, srv := newDispatcher(t, func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]string{
			"response": "Step one, first consider the input, then therefore compute the total result here.",
		})
	})
	defer srv.Close()

	tpls := []challenge.Template{{
		TemplateID: "reasoning-basic",
		Category:   challenge.CategoryReasoningTrace,
		Prompt:     "Explain your reasoning.",
	}}
	cfg := testGauntletCfg()
	cfg.GauntletDays = 1
	cfg.ChallengesPerDayMin = 1
	cfg.ChallengesPerDayMax = 1
	cfg.MinNightChallenges = 0
	cfg.BurstSize = 1

	bus := events.NewBus(8)
	lib := challenge.New(tpls)
	// The dispatcher must validate against the same library the controller
	// draws templates from, as main wires them.
	d = webhook.New(srv.Client(), lib, nil, logr.Discard())
	c := New(Deps{
		Library:       lib,
		Dispatcher:    d,
		Records:       store.NewMemory(""),
		TierMachine:   tier.New(testTierCfg(), bus),
		Sampler:       spotcheck.New(config.SpotCheckConfig{}),
		Bus:           bus,
		Clock:         clk,
		Fingerprinter: fingerprint.NewLexicalStub(),
		Profiler:      fingerprint.NewAveragingProfiler(),
		Gauntlet:      cfg,
		Tier:          testTierCfg(),
		Log:           logr.Discard(),
	})

	sess, err := c.StartSession(context.Background(), "agent-2", srv.URL)
	if err != nil {
		t.Fatalf("StartSession: %v", err)
	}

	// Advance past the full gauntlet window so every burst is due.
	clk.Advance(time.Duration(cfg.GauntletDays)*24*time.Hour + time.Minute)

	if err := c.Tick(context.Background()); err != nil {
		t.Fatalf("Tick: %v", err)
	}

	got, ok := c.Session(sess.ID)
	if !ok {
		t.Fatal("expected session to still be tracked after Tick")
	}
	if got.Status != StatusPassed {
		t.Fatalf("expected session to pass, got status=%v reason=%q", got.Status, got.FailureReason)
	}

	agent, ok, err := c.records.GetAgent(context.Background(), "agent-2")
	if err != nil || !ok {
		t.Fatalf("expected agent record to be created on pass, ok=%v err=%v", ok, err)
	}
	if !agent.Verified {
		t.Error("expected agent to be marked verified after a passing gauntlet")
	}
}

func TestFinalizeIsIdempotentOnATerminalSession(t *testing.T) {
	clk := clock.NewMock(time.Now().UTC())
	d, srv := newDispatcher(t, func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"response":"irrelevant"}`))
	})
	defer srv.Close()

	c := newTestController(t, clk, d, nil)
	sess := &Session{
		ID:        "sess-1",
		AgentID:   "agent-3",
		Status:    StatusFailed,
		StartedAt: clk.Now(),
		EndsAt:    clk.Now(),
	}
	sess.FailureReason = "original reason"

	c.finalize(context.Background(), sess, clk.Now())

	if sess.FailureReason != "original reason" {
		t.Errorf("expected re-finalizing a terminal session to be a no-op, failure reason changed to %q", sess.FailureReason)
	}
}

func TestRescheduleNextBurstForTestingMovesTheEarliestPendingBurst(t *testing.T) {
	clk := clock.NewMock(time.Date(2026, 3, 10, 15, 0, 0, 0, time.UTC))
	d, srv := newDispatcher(t, func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"response":"irrelevant"}`))
	})
	defer srv.Close()

	c := newTestController(t, clk, d, nil)
	sess, err := c.StartSession(context.Background(), "agent-4", srv.URL)
	if err != nil {
		t.Fatalf("StartSession: %v", err)
	}

	if err := c.RescheduleNextBurstForTesting(sess.ID); err != nil {
		t.Fatalf("RescheduleNextBurstForTesting: %v", err)
	}

	due := sess.dueInstances(clk.Now().Add(2 * time.Second))
	if len(due) == 0 {
		t.Error("expected at least one burst to be due shortly after rescheduling")
	}
}
