package scoring

import (
	"testing"
	"time"
)

func nightInstance(rt int64, status InstanceStatus, sentHour int) Instance {
	return Instance{
		Status:           status,
		ResponseTimeMS:   rt,
		IsNightChallenge: true,
		SentAt:           time.Date(2026, 1, 1, sentHour, 0, 0, 0, time.UTC),
	}
}

func dayInstance(rt int64, status InstanceStatus, sentHour int) Instance {
	return Instance{
		Status:         status,
		ResponseTimeMS: rt,
		SentAt:         time.Date(2026, 1, 1, sentHour, 0, 0, 0, time.UTC),
	}
}

func TestAnalyzeAutonomyHappyPath(t *testing.T) {
	var instances []Instance
	for i := 0; i < 7; i++ {
		instances = append(instances, dayInstance(500, Passed, 14))
	}
	instances = append(instances, nightInstance(480, Passed, 1))
	instances = append(instances, nightInstance(520, Passed, 4))

	result := AnalyzeAutonomy(instances)
	if result.Verdict != Autonomous {
		t.Fatalf("expected autonomous verdict for consistent fast responses, got %v (score %v)", result.Verdict, result.Score)
	}
}

func TestAnalyzeAutonomyPenalizesSleepingOperator(t *testing.T) {
	var instances []Instance
	for i := 0; i < 6; i++ {
		instances = append(instances, dayInstance(800, Passed, 14))
	}
	// All three night challenges skipped at night hours.
	instances = append(instances, nightInstance(0, Skipped, 2))
	instances = append(instances, nightInstance(0, Skipped, 3))
	instances = append(instances, nightInstance(0, Skipped, 4))

	result := AnalyzeAutonomy(instances)
	var nightScore float64
	for _, s := range result.Signals {
		if s.Name == "night_hour_performance" {
			nightScore = s.Score
		}
	}
	if nightScore != 20 {
		t.Fatalf("expected a low night-hour-performance score when all night challenges are skipped, got %v", nightScore)
	}
}

func TestAnalyzeAutonomyHighVarianceLowersScore(t *testing.T) {
	instances := []Instance{
		dayInstance(100, Passed, 14),
		dayInstance(5000, Passed, 14),
		dayInstance(200, Passed, 14),
	}
	result := AnalyzeAutonomy(instances)
	var varianceScore float64
	for _, s := range result.Signals {
		if s.Name == "response_time_variance" {
			varianceScore = s.Score
		}
	}
	if varianceScore != 30 {
		t.Fatalf("expected high response-time variance to score 30, got %v", varianceScore)
	}
}

func TestAnalyzeAutonomyLowResponseRatePreventsAutonomousVerdict(t *testing.T) {
	var instances []Instance
	for i := 0; i < 2; i++ {
		instances = append(instances, dayInstance(500, Passed, 14))
	}
	for i := 0; i < 6; i++ {
		instances = append(instances, dayInstance(0, Skipped, 14))
	}
	for i := 0; i < 2; i++ {
		instances = append(instances, nightInstance(0, Skipped, 3))
	}
	result := AnalyzeAutonomy(instances)
	if result.Verdict == Autonomous {
		t.Fatalf("expected a low overall and night-hour response rate to prevent an autonomous verdict, got score %v", result.Score)
	}
}
