package scoring

import (
	"time"

	"github.com/marcus-qen/agentverify/internal/challenge"
)

// InstanceStatus is a challenge instance's lifecycle state (SPEC_FULL.md §4:
// "mutated exactly twice — once on send, once on response or deadline").
type InstanceStatus string

const (
	Pending InstanceStatus = "pending"
	Passed  InstanceStatus = "passed"
	Failed  InstanceStatus = "failed"
	Skipped InstanceStatus = "skipped"
)

// Instance is the scoring-relevant projection of a Challenge Instance.
// Session owns the full record (prompt, parsed data, etc.); scoring only
// needs the fields that feed the quality gate, Finalize, and the autonomy
// analysis.
type Instance struct {
	ID               string
	TemplateID       string
	Category         challenge.Category
	ScheduledFor     time.Time
	SentAt           time.Time
	Status           InstanceStatus
	FailureReason    string
	ResponseTimeMS   int64
	IsNightChallenge bool
	DayIndex         int // 0, 1, or 2 — which gauntlet day this instance belongs to
}

// Attempted reports whether the instance counts toward the attempt rate
// (passed ∪ failed, excluding skipped).
func (i Instance) Attempted() bool {
	return i.Status == Passed || i.Status == Failed
}
