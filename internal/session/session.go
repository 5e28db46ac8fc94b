// Package session implements the Session & Spot-Check Controller
// (SPEC_FULL.md §2): it owns the per-agent gauntlet session state
// machine, builds and persists the 3-day burst schedule, runs the
// periodic tick that dispatches due bursts and spot checks, and invokes
// Finalize when a session completes.
//
// Per §9's "Module-level mutable state" design note, there is no
// package-level mutable state here: everything the controller mutates —
// sessions, per-agent tier state, per-agent spot-check windows — is
// reached only through a Controller instance, itself backed by the
// store.Store port. Per §9's "cyclic session ↔ challenge ownership" note,
// a Session owns its instances in a flat, ID-keyed arena rather than a
// tree of back-pointers; the scheduler finds due work by scanning that
// arena for scheduled_for <= now, grouped by timestamp into bursts.
package session

import (
	"sort"
	"time"

	"github.com/marcus-qen/agentverify/internal/challenge"
	"github.com/marcus-qen/agentverify/internal/scoring"
)

// Status is a Verification Session's lifecycle state (SPEC_FULL.md §3).
type Status string

const (
	StatusPending    Status = "pending"
	StatusInProgress Status = "in_progress"
	StatusPassed     Status = "passed"
	StatusFailed     Status = "failed"
)

// ChallengeInstance is the full Challenge Instance record (SPEC_FULL.md
// §3): created when scheduled, mutated exactly twice (send, then
// response-or-deadline), never deleted while its session exists.
type ChallengeInstance struct {
	ID                string
	TemplateID        string
	Category          string
	Subcategory       string
	Prompt            string
	ExpectedFormat    string
	GroundTruthExists bool

	ScheduledFor     time.Time
	SentAt           time.Time
	RespondedAt      time.Time
	ResponseText     string
	ParsedData       string
	Status           scoring.InstanceStatus
	FailureReason    string
	ResponseTimeMS   int64
	IsNightChallenge bool
	DayIndex         int
}

// toScoringInstance projects the fields the Scoring Engine needs.
func (ci *ChallengeInstance) toScoringInstance() scoring.Instance {
	return scoring.Instance{
		ID:               ci.ID,
		TemplateID:       ci.TemplateID,
		Category:         challenge.Category(ci.Category),
		ScheduledFor:     ci.ScheduledFor,
		SentAt:           ci.SentAt,
		Status:           ci.Status,
		FailureReason:    ci.FailureReason,
		ResponseTimeMS:   ci.ResponseTimeMS,
		IsNightChallenge: ci.IsNightChallenge,
		DayIndex:         ci.DayIndex,
	}
}

// DayGroup is one of a session's three per-day challenge groups.
type DayGroup struct {
	Index           int
	BurstTimestamps []time.Time
	InstanceIDs     []string
}

// Session is the full Verification Session record.
type Session struct {
	ID          string
	AgentID     string
	WebhookURL  string
	Status      Status
	StartedAt   time.Time
	EndsAt      time.Time
	CompletedAt *time.Time

	FailureReason string

	DailyChallenges []DayGroup
	Instances       map[string]*ChallengeInstance // arena, keyed by instance ID

	AutonomyResult scoring.AutonomyResult

	// ModelDetectionScores is the opaque JSON blob combining the model
	// fingerprinting and personality profiling collaborators' output
	// (SPEC_FULL.md §4.6, §10.6), set only on a passing Finalize.
	ModelDetectionScores string
}

// dueInstances returns every pending instance whose scheduled_for has
// passed, grouped by its exact scheduled_for timestamp (one group per
// burst).
func (s *Session) dueInstances(now time.Time) map[time.Time][]*ChallengeInstance {
	due := make(map[time.Time][]*ChallengeInstance)
	for _, inst := range s.Instances {
		if inst.Status == scoring.Pending && !inst.ScheduledFor.After(now) {
			due[inst.ScheduledFor] = append(due[inst.ScheduledFor], inst)
		}
	}
	return due
}

// hasPendingInstances reports whether any instance is still awaiting an
// outcome.
func (s *Session) hasPendingInstances() bool {
	for _, inst := range s.Instances {
		if inst.Status == scoring.Pending {
			return true
		}
	}
	return false
}

// scoringInstances projects every instance in the session for the
// Scoring Engine, in schedule order.
func (s *Session) scoringInstances() []scoring.Instance {
	ordered := make([]*ChallengeInstance, 0, len(s.Instances))
	for _, inst := range s.Instances {
		ordered = append(ordered, inst)
	}
	sortInstancesBySchedule(ordered)

	out := make([]scoring.Instance, len(ordered))
	for i, inst := range ordered {
		out[i] = inst.toScoringInstance()
	}
	return out
}

func sortInstancesBySchedule(instances []*ChallengeInstance) {
	sort.Slice(instances, func(i, j int) bool {
		return instances[i].ScheduledFor.Before(instances[j].ScheduledFor)
	})
}

// passingResponses returns the response text of every passed instance,
// in schedule order, for the model-fingerprinting and
// personality-profiling collaborators (§4.6).
func (s *Session) passingResponses() []string {
	ordered := make([]*ChallengeInstance, 0, len(s.Instances))
	for _, inst := range s.Instances {
		ordered = append(ordered, inst)
	}
	sortInstancesBySchedule(ordered)

	var out []string
	for _, inst := range ordered {
		if inst.Status == scoring.Passed {
			out = append(out, inst.ResponseText)
		}
	}
	return out
}
