package scoring

import (
	"testing"
	"time"

	"github.com/marcus-qen/agentverify/internal/config"
)

func testGauntletConfig() config.GauntletConfig {
	return config.GauntletConfig{
		AttemptRateMin: 0.6,
		PassRateMin:    0.8,
	}
}

func happyPathInstances() []Instance {
	var instances []Instance
	for day := 0; day < 3; day++ {
		for n := 0; n < 3; n++ {
			night := day < 2 && n == 0
			hour := 14
			if night {
				hour = 2
			}
			instances = append(instances, Instance{
				DayIndex:         day,
				Status:           Passed,
				ResponseTimeMS:   500,
				IsNightChallenge: night,
				SentAt:           time.Date(2026, 1, 1+day, hour, 0, 0, 0, time.UTC),
			})
		}
	}
	return instances
}

func TestFinalizeHappyPath(t *testing.T) {
	result := Finalize(happyPathInstances(), 3, 1, testGauntletConfig(), false)
	if !result.Passed {
		t.Fatalf("expected the happy-path gauntlet to pass, got reason %q", result.FailureReason)
	}
	if result.ConsecutiveDays != 3 {
		t.Fatalf("expected 3 consecutive qualifying days, got %d", result.ConsecutiveDays)
	}
}

func TestFinalizeFailsOnLowAttemptRate(t *testing.T) {
	var instances []Instance
	for i := 0; i < 3; i++ {
		instances = append(instances, Instance{Status: Passed, ResponseTimeMS: 500, DayIndex: 0})
	}
	for i := 0; i < 6; i++ {
		instances = append(instances, Instance{Status: Skipped, DayIndex: 1})
	}
	result := Finalize(instances, 3, 1, testGauntletConfig(), false)
	if result.Passed {
		t.Fatalf("expected a low attempt rate to fail Finalize")
	}
}

func TestFinalizeFailsOnMissingDayPass(t *testing.T) {
	instances := happyPathInstances()
	// Flip every day-1 pass to a failure so day 1 has zero passes.
	for i := range instances {
		if instances[i].DayIndex == 1 {
			instances[i].Status = Failed
		}
	}
	result := Finalize(instances, 3, 1, testGauntletConfig(), false)
	if result.Passed {
		t.Fatalf("expected a day with zero passes to fail Finalize")
	}
}

func TestFinalizeWaivesDayPassInTestMode(t *testing.T) {
	instances := happyPathInstances()
	// Day 1 is skipped rather than failed so the attempt rate (6/9) and pass
	// rate (6/6) still clear their thresholds; only the day-pass check trips.
	for i := range instances {
		if instances[i].DayIndex == 1 {
			instances[i].Status = Skipped
		}
	}
	result := Finalize(instances, 3, 1, testGauntletConfig(), true)
	if !result.Passed {
		t.Fatalf("expected the day-pass check to be waived in test mode, got reason %q", result.FailureReason)
	}
}

func TestFinalizeFailsOnLowPassRate(t *testing.T) {
	var instances []Instance
	for day := 0; day < 3; day++ {
		instances = append(instances, Instance{DayIndex: day, Status: Passed, ResponseTimeMS: 500})
		instances = append(instances, Instance{DayIndex: day, Status: Failed})
		instances = append(instances, Instance{DayIndex: day, Status: Failed})
	}
	result := Finalize(instances, 3, 1, testGauntletConfig(), false)
	if result.Passed {
		t.Fatalf("expected a 1/3 pass rate to fail Finalize")
	}
}

func TestFinalizeIsIdempotentShapeForTerminalSessions(t *testing.T) {
	// Finalize itself is a pure function; idempotence against an
	// already-terminal session is the caller's responsibility (session
	// package reloads and returns without re-invoking Finalize). This test
	// only pins down that calling Finalize twice on the same input is
	// side-effect-free and returns the same result both times.
	instances := happyPathInstances()
	first := Finalize(instances, 3, 1, testGauntletConfig(), false)
	second := Finalize(instances, 3, 1, testGauntletConfig(), false)
	if first.Passed != second.Passed || first.ConsecutiveDays != second.ConsecutiveDays {
		t.Fatalf("expected Finalize to be a pure function of its inputs")
	}
}
