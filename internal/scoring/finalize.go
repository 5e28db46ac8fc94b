package scoring

import (
	"fmt"
	"sort"

	"github.com/marcus-qen/agentverify/internal/config"
)

// FinalizeResult is the outcome of running the four ordered Finalize checks
// over a completed (or test-mode-accelerated) gauntlet session.
type FinalizeResult struct {
	Passed          bool
	FailureReason   string
	AttemptRate     float64
	PassRate        float64
	Autonomy        AutonomyResult
	ConsecutiveDays int
}

// Finalize runs the four ordered checks from SPEC_FULL.md §4.6. The first
// check to reject sets Passed=false with the quoted reason; passing all
// four sets Passed=true. testMode waives the per-day-pass and autonomy
// checks (and is forced on by the caller whenever elapsed session time is
// under an hour, per §4.4's test-mode override).
func Finalize(instances []Instance, gauntletDays, skipsAllowedPerDay int, cfg config.GauntletConfig, testMode bool) FinalizeResult {
	attempted := 0
	passed := 0
	for _, i := range instances {
		if i.Attempted() {
			attempted++
			if i.Status == Passed {
				passed++
			}
		}
	}

	total := len(instances)
	attemptRate := rate(attempted, total)

	if attemptRate < cfg.AttemptRateMin {
		return FinalizeResult{
			Passed:        false,
			FailureReason: "Too few challenge responses to assess autonomy.",
			AttemptRate:   attemptRate,
		}
	}

	if !testMode {
		if missing := daysMissingAPass(instances, gauntletDays); len(missing) > 0 {
			return FinalizeResult{
				Passed:        false,
				FailureReason: fmt.Sprintf("Missing successful responses on day(s): %v.", missing),
				AttemptRate:   attemptRate,
			}
		}
	}

	passRate := rate(passed, attempted)
	if passRate < cfg.PassRateMin {
		return FinalizeResult{
			Passed:        false,
			FailureReason: fmt.Sprintf("Passed %d/%d attempted challenges, below the required rate.", passed, attempted),
			AttemptRate:   attemptRate,
			PassRate:      passRate,
		}
	}

	autonomy := AnalyzeAutonomy(instances)
	if !testMode && autonomy.Verdict == LikelyHumanDirected {
		return FinalizeResult{
			Passed:        false,
			FailureReason: autonomyFailureReason(autonomy),
			AttemptRate:   attemptRate,
			PassRate:      passRate,
			Autonomy:      autonomy,
		}
	}

	return FinalizeResult{
		Passed:          true,
		AttemptRate:     attemptRate,
		PassRate:        passRate,
		Autonomy:        autonomy,
		ConsecutiveDays: consecutiveQualifyingDays(instances, gauntletDays, skipsAllowedPerDay),
	}
}

func rate(numerator, denominator int) float64 {
	if denominator == 0 {
		return 0
	}
	return float64(numerator) / float64(denominator)
}

func daysMissingAPass(instances []Instance, gauntletDays int) []int {
	passesByDay := make(map[int]int, gauntletDays)
	for _, i := range instances {
		if i.Status == Passed {
			passesByDay[i.DayIndex]++
		}
	}
	var missing []int
	for d := 0; d < gauntletDays; d++ {
		if passesByDay[d] == 0 {
			missing = append(missing, d)
		}
	}
	return missing
}

// consecutiveQualifyingDays counts gauntlet days, from day 0, whose
// skipped-count is within the daily grace allowance and that contain at
// least one instance — stopping at the first day that fails this, per the
// "On pass" procedure in SPEC_FULL.md §4.6.
func consecutiveQualifyingDays(instances []Instance, gauntletDays, skipsAllowedPerDay int) int {
	byDay := make(map[int][]Instance, gauntletDays)
	for _, i := range instances {
		byDay[i.DayIndex] = append(byDay[i.DayIndex], i)
	}

	days := make([]int, 0, len(byDay))
	for d := range byDay {
		days = append(days, d)
	}
	sort.Ints(days)

	streak := 0
	for d := 0; d < gauntletDays; d++ {
		dayInstances, ok := byDay[d]
		if !ok || len(dayInstances) == 0 {
			break
		}
		skips := 0
		for _, i := range dayInstances {
			if i.Status == Skipped {
				skips++
			}
		}
		if skips > skipsAllowedPerDay {
			break
		}
		streak++
	}
	return streak
}

func autonomyFailureReason(a AutonomyResult) string {
	if len(a.Reasons) == 0 {
		return "Autonomy analysis indicates likely human direction."
	}
	reason := "Autonomy analysis indicates likely human direction: "
	for i, r := range a.Reasons {
		if i > 0 {
			reason += "; "
		}
		reason += r
	}
	return reason
}
