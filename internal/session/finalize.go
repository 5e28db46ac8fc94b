package session

import (
	"context"
	"encoding/json"
	"time"

	"github.com/marcus-qen/agentverify/internal/events"
	"github.com/marcus-qen/agentverify/internal/scoring"
	"github.com/marcus-qen/agentverify/internal/store"
	"github.com/marcus-qen/agentverify/internal/telemetry"
	"github.com/marcus-qen/agentverify/internal/tier"
)

// finalize runs the Scoring Engine's four ordered checks and, on a pass,
// builds the agent's initial verified record. Re-entering finalize on an
// already-terminal session is a no-op (P2): the session's recorded
// verdict never changes after it is set.
func (c *Controller) finalize(ctx context.Context, sess *Session, now time.Time) {
	if sess.Status == StatusPassed || sess.Status == StatusFailed {
		return
	}

	ctx, span := telemetry.StartFinalizeSpan(ctx, sess.ID, sess.AgentID)
	defer span.End()

	elapsed := now.Sub(sess.StartedAt)
	testMode := elapsed < time.Hour

	result := scoring.Finalize(sess.scoringInstances(), c.gauntletCfg.GauntletDays, c.tierCfg.SkipsAllowedPerDay, c.gauntletCfg, testMode)

	sess.AutonomyResult = result.Autonomy
	completedAt := now
	sess.CompletedAt = &completedAt

	if result.Passed {
		sess.Status = StatusPassed
	} else {
		sess.Status = StatusFailed
		sess.FailureReason = result.FailureReason
	}
	telemetry.EndFinalizeSpan(span, result.Passed, result.FailureReason)

	if result.Passed {
		c.onSessionPassed(ctx, sess, result, testMode, now)
	}

	_ = c.persistSession(ctx, sess)

	if c.metrics != nil {
		outcome := "failed"
		if result.Passed {
			outcome = "passed"
		}
		c.metrics.RecordSessionFinalized(outcome)
	}

	c.bus.Publish(events.Event{
		Type:      events.SessionFinalized,
		AgentID:   sess.AgentID,
		SessionID: sess.ID,
		Summary:   string(sess.Status),
		Detail:    sess.FailureReason,
		Timestamp: now,
	})
}

func (c *Controller) onSessionPassed(ctx context.Context, sess *Session, result scoring.FinalizeResult, testMode bool, now time.Time) {
	responses := sess.passingResponses()

	model, confidence, _ := c.fingerprinter.DetectModel(ctx, responses)
	personality, _ := c.profiler.Profile(ctx, responses)

	trustTier := tier.Spawn
	if !testMode {
		trustTier = tier.TierFrom(c.tierCfg, result.ConsecutiveDays)
	}

	existing, found, _ := c.records.GetAgent(ctx, sess.AgentID)
	agent := store.Agent{
		ID:              sess.AgentID,
		Verified:        true,
		TrustTier:       string(trustTier),
		DetectedModel:   model,
		ModelConfidence: confidence,
		WebhookURL:      sess.WebhookURL,
	}
	if found {
		agent.ClaimedModel = existing.ClaimedModel
	}
	_ = c.records.UpsertAgent(ctx, agent)

	state := tier.NewState(sess.AgentID, now)
	state.ConsecutiveDaysOnline = result.ConsecutiveDays
	state.Current = trustTier
	if trustTier == tier.III {
		state.EverAchievedIII = true
	}
	state.History = append(state.History, tier.Change{Tier: trustTier, At: now})

	c.mu.Lock()
	c.tierStates[sess.AgentID] = state
	c.mu.Unlock()

	_ = c.records.AppendTierHistory(ctx, store.TierHistoryEntry{AgentID: sess.AgentID, Tier: string(trustTier), AchievedAt: now})
	if c.metrics != nil {
		c.metrics.RecordTierTransition(string(trustTier))
	}

	sess.ModelDetectionScores = detectionBlob(model, confidence, agent.ClaimedModel, personality)
}

type detectionResult struct {
	DetectedModel      string  `json:"detected_model"`
	ModelConfidence    float64 `json:"model_confidence"`
	ClaimedModel       string  `json:"claimed_model,omitempty"`
	MatchesClaim       bool    `json:"matches_claim"`
	PersonalityProfile string  `json:"personality_profile,omitempty"`
}

// detectionBlob packs both external collaborators' output (model
// fingerprinting and personality profiling) into the single opaque
// model_detection_scores column the persistence layout names for
// session-level collaborator output (SPEC_FULL.md §6).
func detectionBlob(model string, confidence float64, claimed, personality string) string {
	blob := detectionResult{
		DetectedModel:      model,
		ModelConfidence:    confidence,
		ClaimedModel:       claimed,
		MatchesClaim:       claimed != "" && claimed == model,
		PersonalityProfile: personality,
	}
	data, err := json.Marshal(blob)
	if err != nil {
		return ""
	}
	return string(data)
}
