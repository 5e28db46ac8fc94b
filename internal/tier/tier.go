// Package tier implements the trust-tier state machine (SPEC_FULL.md §4.5):
// a per-agent consecutive-days-online counter with a one-skip-per-day grace
// allowance, monotone tier promotion, and a permanent Tier III.
package tier

import (
	"time"

	"github.com/marcus-qen/agentverify/internal/config"
	"github.com/marcus-qen/agentverify/internal/events"
)

// Tier is the agent's current trust level.
type Tier string

const (
	Spawn Tier = "spawn"
	I     Tier = "autonomous-I"
	II    Tier = "autonomous-II"
	III   Tier = "autonomous-III"
)

// Change records one tier transition for tier_history.
type Change struct {
	Tier Tier      `json:"tier"`
	At   time.Time `json:"at"`
}

// State is the per-agent bookkeeping RecordChallengeOutcome mutates.
type State struct {
	AgentID               string
	ConsecutiveDaysOnline int
	CurrentDayStart       time.Time
	CurrentDaySkips       int
	EverAchievedIII       bool
	Current               Tier
	History               []Change
}

// NewState initializes a fresh tier.State for a newly-verified agent.
func NewState(agentID string, now time.Time) *State {
	return &State{
		AgentID:         agentID,
		CurrentDayStart: now,
		Current:         Spawn,
		History:         []Change{{Tier: Spawn, At: now}},
	}
}

// Machine applies tier transitions and publishes them to the event bus.
type Machine struct {
	cfg  config.TierConfig
	bus  *events.Bus
}

// New builds a tier Machine.
func New(cfg config.TierConfig, bus *events.Bus) *Machine {
	return &Machine{cfg: cfg, bus: bus}
}

// RecordChallengeOutcome applies one challenge outcome (answered or not) to
// s at time now, per SPEC_FULL.md §4.5's three-step procedure. Returns
// whether the tier changed.
func (m *Machine) RecordChallengeOutcome(s *State, answered bool, now time.Time) bool {
	if now.Sub(s.CurrentDayStart) >= 24*time.Hour {
		if s.CurrentDaySkips <= m.cfg.SkipsAllowedPerDay {
			s.ConsecutiveDaysOnline++
		} else {
			s.ConsecutiveDaysOnline = 0
		}
		s.CurrentDayStart = now
		if answered {
			s.CurrentDaySkips = 0
		} else {
			s.CurrentDaySkips = 1
		}
	} else {
		if !answered {
			s.CurrentDaySkips++
			if s.CurrentDaySkips > m.cfg.SkipsAllowedPerDay {
				s.ConsecutiveDaysOnline = 0
			}
		}
	}

	next := m.tierFrom(s.ConsecutiveDaysOnline)
	if next == III {
		s.EverAchievedIII = true
	}
	if s.EverAchievedIII {
		next = III
	}

	if next == s.Current {
		return false
	}

	s.Current = next
	s.History = append(s.History, Change{Tier: next, At: now})
	if m.bus != nil {
		m.bus.Publish(events.Event{
			Type:      events.TierChanged,
			AgentID:   s.AgentID,
			Summary:   "tier changed to " + string(next),
			Timestamp: now,
		})
	}
	return true
}

// tierFrom maps a consecutive-days-online count to a tier per the day
// thresholds in TierConfig.
func (m *Machine) tierFrom(consecutiveDays int) Tier {
	return TierFrom(m.cfg, consecutiveDays)
}

// TierFrom maps a consecutive-days count to a tier per cfg's day thresholds,
// usable by callers (e.g. gauntlet Finalize) that only need the pure
// lookup, not a full Machine.
func TierFrom(cfg config.TierConfig, consecutiveDays int) Tier {
	switch {
	case consecutiveDays >= cfg.DaysForTierIII:
		return III
	case consecutiveDays >= cfg.DaysForTierII:
		return II
	case consecutiveDays >= cfg.DaysForTierI:
		return I
	default:
		return Spawn
	}
}
