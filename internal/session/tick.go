package session

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/marcus-qen/agentverify/internal/challenge"
	"github.com/marcus-qen/agentverify/internal/events"
	"github.com/marcus-qen/agentverify/internal/scoring"
	"github.com/marcus-qen/agentverify/internal/spotcheck"
	"github.com/marcus-qen/agentverify/internal/store"
	"github.com/marcus-qen/agentverify/internal/telemetry"
	"github.com/marcus-qen/agentverify/internal/tier"
	"github.com/marcus-qen/agentverify/internal/webhook"
)

// Tick runs one scheduler pass, per SPEC_FULL.md §4.4: it dispatches every
// due gauntlet burst across every active session, runs the per-tier
// spot-check sample, and finalizes any session that has run out of
// pending instances or time.
func (c *Controller) Tick(ctx context.Context) error {
	now := c.clk.Now()

	c.mu.Lock()
	sessions := make([]*Session, 0, len(c.sessions))
	for _, s := range c.sessions {
		if s.Status == StatusPending || s.Status == StatusInProgress {
			sessions = append(sessions, s)
		}
	}
	c.mu.Unlock()

	active := 0
	for _, sess := range sessions {
		if sess.Status == StatusInProgress {
			active++
		}
		if err := c.tickSession(ctx, sess, now); err != nil {
			return fmt.Errorf("tick session %s: %w", sess.ID, err)
		}
	}
	if c.metrics != nil {
		c.metrics.SetActiveSessions(active)
	}

	c.tickSpotChecks(ctx, now)
	return nil
}

func (c *Controller) tickSession(ctx context.Context, sess *Session, now time.Time) error {
	due := sess.dueInstances(now)
	if len(due) > 0 && sess.Status == StatusPending {
		sess.Status = StatusInProgress
	}

	for burstTime, instances := range due {
		c.dispatchBurst(ctx, sess, burstTime, instances, now)
	}

	if len(due) > 0 {
		if err := c.persistSession(ctx, sess); err != nil {
			return err
		}
	}

	if !sess.hasPendingInstances() || !now.Before(sess.EndsAt) {
		c.finalize(ctx, sess, now)
	}
	return nil
}

func (c *Controller) dispatchBurst(ctx context.Context, sess *Session, burstTime time.Time, instances []*ChallengeInstance, now time.Time) {
	ctx, span := telemetry.StartBurstDispatchSpan(ctx, sess.ID, sess.AgentID, len(instances))
	defer span.End()

	reqs := make([]webhook.Request, len(instances))
	for i, inst := range instances {
		inst.SentAt = now
		reqs[i] = webhook.Request{
			ChallengeID:          inst.ID,
			TemplateID:           inst.TemplateID,
			Prompt:               inst.Prompt,
			Category:             challenge.Category(inst.Category),
			Subcategory:          inst.Subcategory,
			ExpectedFormat:       inst.ExpectedFormat,
			SessionID:            sess.ID,
			IsSpotCheck:          false,
			GroundTruthExists:    inst.GroundTruthExists,
			RespondWithinSeconds: int(c.gauntletCfg.ResponseTimeout.Seconds()),
		}
	}

	outcomes := c.dispatcher.DeliverBurst(ctx, sess.WebhookURL, sess.ID, reqs, c.gauntletCfg.BurstTimeout, c.gauntletCfg.ResponseTimeout)

	byID := make(map[string]*ChallengeInstance, len(instances))
	for _, inst := range instances {
		byID[inst.ID] = inst
	}

	for _, outcome := range outcomes {
		inst, ok := byID[outcome.ChallengeID]
		if !ok {
			continue
		}
		applyOutcome(inst, outcome, now)

		if c.metrics != nil {
			c.metrics.RecordChallengeOutcome(string(inst.Status))
		}
		_ = c.records.AppendChallengeResponse(ctx, store.ChallengeResponse{
			SessionID:      sess.ID,
			AgentID:        sess.AgentID,
			ChallengeID:    inst.ID,
			Category:       inst.Category,
			Prompt:         inst.Prompt,
			Response:       inst.ResponseText,
			ResponseTimeMS: inst.ResponseTimeMS,
			Status:         string(inst.Status),
			Reason:         inst.FailureReason,
			ParsedData:     inst.ParsedData,
			IsSpotCheck:    false,
			SentAt:         inst.SentAt,
		})
	}

	if c.metrics != nil {
		c.metrics.RecordBurstDispatched(burstSizeBucket(len(instances)))
	}
	c.bus.Publish(events.Event{
		Type:      events.BurstDispatched,
		AgentID:   sess.AgentID,
		SessionID: sess.ID,
		Summary:   fmt.Sprintf("dispatched burst of %d challenges", len(instances)),
		Timestamp: now,
	})
}

func applyOutcome(inst *ChallengeInstance, outcome webhook.Outcome, now time.Time) {
	inst.RespondedAt = now
	inst.ResponseText = outcome.ResponseText
	inst.ParsedData = outcome.ParsedData
	inst.ResponseTimeMS = outcome.ResponseTimeMS
	inst.FailureReason = outcome.Reason

	switch outcome.Status {
	case webhook.StatusPassed:
		inst.Status = scoring.Passed
	case webhook.StatusFailed:
		inst.Status = scoring.Failed
	default:
		inst.Status = scoring.Skipped
	}
}

func burstSizeBucket(n int) string {
	switch {
	case n <= 1:
		return "1"
	case n <= 3:
		return "2-3"
	default:
		return "4+"
	}
}

// tickSpotChecks runs the per-tier Bernoulli sample over every
// already-verified agent this Controller is tracking tier state for.
func (c *Controller) tickSpotChecks(ctx context.Context, now time.Time) {
	c.mu.Lock()
	agentIDs := make([]string, 0, len(c.tierStates))
	for id := range c.tierStates {
		agentIDs = append(agentIDs, id)
	}
	c.mu.Unlock()

	for _, agentID := range agentIDs {
		c.mu.Lock()
		state := c.tierStates[agentID]
		c.mu.Unlock()
		if state == nil || state.Current == tier.Spawn {
			continue
		}
		if !c.sampler.Due(state.Current) {
			continue
		}
		c.runSpotCheck(ctx, agentID, state, now)
	}
}

func (c *Controller) runSpotCheck(ctx context.Context, agentID string, state *tier.State, now time.Time) {
	agent, ok, err := c.records.GetAgent(ctx, agentID)
	if err != nil || !ok {
		return
	}

	tpl := c.library.GenerateSpotCheck()
	challengeID := uuid.NewString()
	req := webhook.Request{
		ChallengeID:          challengeID,
		TemplateID:           tpl.TemplateID,
		Prompt:               tpl.Prompt,
		Category:             tpl.Category,
		Subcategory:          tpl.Subcategory,
		ExpectedFormat:       tpl.ExpectedFormat,
		IsSpotCheck:          true,
		GroundTruthExists:    tpl.GroundTruth.Exists,
		RespondWithinSeconds: int(c.gauntletCfg.ResponseTimeout.Seconds()),
	}

	outcomes := c.dispatcher.DeliverBurst(ctx, agent.WebhookURL, "", []webhook.Request{req}, c.gauntletCfg.BurstTimeout, c.gauntletCfg.ResponseTimeout)
	outcome := outcomes[0]
	passed := outcome.Status == webhook.StatusPassed

	_ = c.records.AppendSpotCheck(ctx, store.SpotCheck{
		ID:             challengeID,
		AgentID:        agentID,
		Passed:         passed,
		Skipped:        outcome.Status == webhook.StatusSkipped,
		ResponseTimeMS: outcome.ResponseTimeMS,
		Error:          outcome.Reason,
		Response:       outcome.ResponseText,
		At:             now,
	})
	if c.metrics != nil {
		c.metrics.RecordSpotCheck(string(outcome.Status))
	}

	c.mu.Lock()
	window := c.spotWindows[agentID]
	if window == nil {
		window = &spotcheck.Window{}
		c.spotWindows[agentID] = window
	}
	window.Append(spotcheck.Record{At: now, Passed: passed}, now)
	revoke := window.ShouldRevoke(c.tierCfg)
	c.mu.Unlock()

	changed := c.tierMachine.RecordChallengeOutcome(state, outcome.Attempted, now)
	if changed && c.metrics != nil {
		c.metrics.RecordTierTransition(string(state.Current))
	}
	if changed {
		_ = c.records.AppendTierHistory(ctx, store.TierHistoryEntry{AgentID: agentID, Tier: string(state.Current), AchievedAt: now})
	}

	c.bus.Publish(events.Event{
		Type:      events.SpotCheckCompleted,
		AgentID:   agentID,
		Summary:   "spot check completed",
		Detail:    string(outcome.Status),
		Timestamp: now,
	})

	if revoke {
		c.revokeAgent(ctx, agent, state, now)
	}
}

// revokeAgent applies the rolling-window revocation rule: the agent is
// flipped back to unverified and its consecutive-days streak resets. A
// previously-permanent Tier III agent keeps its tier (EverAchievedIII is
// sticky) but loses its verified status all the same.
func (c *Controller) revokeAgent(ctx context.Context, agent store.Agent, state *tier.State, now time.Time) {
	agent.Verified = false
	_ = c.records.UpsertAgent(ctx, agent)

	c.mu.Lock()
	state.ConsecutiveDaysOnline = 0
	next := tier.TierFrom(c.tierCfg, 0)
	if state.EverAchievedIII {
		next = tier.III
	}
	changed := next != state.Current
	if changed {
		state.Current = next
		state.History = append(state.History, tier.Change{Tier: next, At: now})
	}
	c.mu.Unlock()

	if changed {
		if c.metrics != nil {
			c.metrics.RecordTierTransition(string(next))
		}
		_ = c.records.AppendTierHistory(ctx, store.TierHistoryEntry{AgentID: agent.ID, Tier: string(next), AchievedAt: now})
	}

	c.bus.Publish(events.Event{
		Type:      events.TierChanged,
		AgentID:   agent.ID,
		Summary:   "verification revoked",
		Detail:    "rolling spot-check window crossed the revocation threshold",
		Timestamp: now,
	})
}
