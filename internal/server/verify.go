package server

import (
	"encoding/json"
	"net/http"
	"sort"

	"github.com/marcus-qen/agentverify/internal/apierr"
	"github.com/marcus-qen/agentverify/internal/session"
)

// startVerificationRequest is the POST /verify-agent request body.
type startVerificationRequest struct {
	AgentID    string `json:"agent_id"`
	WebhookURL string `json:"webhook_url"`
}

// startVerificationResponse is returned once a gauntlet session has been
// scheduled.
type startVerificationResponse struct {
	SessionID       string `json:"session_id"`
	EndsAt          string `json:"ends_at"`
	TotalChallenges int    `json:"total_challenges"`
	Instructions    string `json:"instructions"`
}

const verificationInstructions = "Your webhook will receive POST requests shaped like " +
	"{challenge_id, template_id, category, prompt, expected_format, respond_within_seconds}. " +
	"Respond with a 2xx JSON body containing a \"response\" field within the stated deadline."

// handleStartVerification begins a new 3-day gauntlet for the given
// agent. The supplied webhook URL is SSRF-guarded before anything is
// persisted: a blocked URL never results in a session (SPEC_FULL.md §6
// scenario 6).
func (s *Server) handleStartVerification(w http.ResponseWriter, r *http.Request) {
	if _, ok := s.requireAdmin(w, r); !ok {
		return
	}

	var body startVerificationRequest
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		apierr.WriteJSON(w, apierr.Validation("invalid request body", map[string]string{"body": err.Error()}), s.cfg.Production())
		return
	}
	if body.AgentID == "" || body.WebhookURL == "" {
		apierr.WriteJSON(w, apierr.Validation("missing required fields", map[string]string{
			"agent_id":    "required",
			"webhook_url": "required",
		}), s.cfg.Production())
		return
	}

	if _, err := s.ssrfGuard.Validate(r.Context(), body.WebhookURL); err != nil {
		apierr.WriteJSON(w, apierr.SSRFBlocked(err.Error()), s.cfg.Production())
		return
	}

	sess, err := s.sessions.StartSession(r.Context(), body.AgentID, body.WebhookURL)
	if err != nil {
		apierr.WriteJSON(w, apierr.New(apierr.KindInternal, apierr.CodeInternal, err.Error()), s.cfg.Production())
		return
	}

	writeJSON(w, http.StatusCreated, startVerificationResponse{
		SessionID:       sess.ID,
		EndsAt:          sess.EndsAt.UTC().Format(rfc3339),
		TotalChallenges: len(sess.Instances),
		Instructions:    verificationInstructions,
	})
}

// dayTally summarizes one gauntlet day's instance outcomes.
type dayTally struct {
	Day     int `json:"day"`
	Pending int `json:"pending"`
	Passed  int `json:"passed"`
	Failed  int `json:"failed"`
	Skipped int `json:"skipped"`
}

// challengeSummary is the redacted, caller-facing view of one instance:
// it omits the prompt, response text, and parsed data, since a status
// snapshot is for operators tracking progress, not for replaying content.
type challengeSummary struct {
	ID               string `json:"id"`
	Category         string `json:"category"`
	Status           string `json:"status"`
	ScheduledFor     string `json:"scheduled_for"`
	IsNightChallenge bool   `json:"is_night_challenge"`
	DayIndex         int    `json:"day_index"`
}

// verificationSnapshot is the GET /verify-agent response shape.
type verificationSnapshot struct {
	SessionID     string             `json:"session_id"`
	AgentID       string             `json:"agent_id"`
	Status        string             `json:"status"`
	StartedAt     string             `json:"started_at"`
	EndsAt        string             `json:"ends_at"`
	CompletedAt   string             `json:"completed_at,omitempty"`
	FailureReason string             `json:"failure_reason,omitempty"`
	DailyTallies  []dayTally         `json:"daily_tallies"`
	Challenges    []challengeSummary `json:"challenges"`
}

// handleGetVerification reports a gauntlet session's current progress.
func (s *Server) handleGetVerification(w http.ResponseWriter, r *http.Request) {
	if _, ok := s.requireAdmin(w, r); !ok {
		return
	}

	sessionID := r.URL.Query().Get("session_id")
	if sessionID == "" {
		apierr.WriteJSON(w, apierr.Validation("missing required fields", map[string]string{"session_id": "required"}), s.cfg.Production())
		return
	}

	sess, ok := s.sessions.Session(sessionID)
	if !ok {
		apierr.WriteJSON(w, apierr.New(apierr.KindNotFound, apierr.CodeNotFound, "session not found"), s.cfg.Production())
		return
	}

	writeJSON(w, http.StatusOK, buildSnapshot(sess))
}

func buildSnapshot(sess *session.Session) verificationSnapshot {
	snap := verificationSnapshot{
		SessionID:     sess.ID,
		AgentID:       sess.AgentID,
		Status:        string(sess.Status),
		StartedAt:     sess.StartedAt.UTC().Format(rfc3339),
		EndsAt:        sess.EndsAt.UTC().Format(rfc3339),
		FailureReason: sess.FailureReason,
	}
	if sess.CompletedAt != nil {
		snap.CompletedAt = sess.CompletedAt.UTC().Format(rfc3339)
	}

	tallies := make(map[int]*dayTally)
	for _, day := range sess.DailyChallenges {
		tallies[day.Index] = &dayTally{Day: day.Index}
	}

	summaries := make([]challengeSummary, 0, len(sess.Instances))
	for _, inst := range sess.Instances {
		t, ok := tallies[inst.DayIndex]
		if !ok {
			t = &dayTally{Day: inst.DayIndex}
			tallies[inst.DayIndex] = t
		}
		switch inst.Status {
		case "pending":
			t.Pending++
		case "passed":
			t.Passed++
		case "failed":
			t.Failed++
		case "skipped":
			t.Skipped++
		}

		summaries = append(summaries, challengeSummary{
			ID:               inst.ID,
			Category:         inst.Category,
			Status:           string(inst.Status),
			ScheduledFor:     inst.ScheduledFor.UTC().Format(rfc3339),
			IsNightChallenge: inst.IsNightChallenge,
			DayIndex:         inst.DayIndex,
		})
	}
	sort.Slice(summaries, func(i, j int) bool { return summaries[i].ScheduledFor < summaries[j].ScheduledFor })

	for _, t := range tallies {
		snap.DailyTallies = append(snap.DailyTallies, *t)
	}
	sort.Slice(snap.DailyTallies, func(i, j int) bool { return snap.DailyTallies[i].Day < snap.DailyTallies[j].Day })
	snap.Challenges = summaries

	return snap
}

// handleRunVerification advances a single burst synchronously, for
// local/test-mode exercising of the gauntlet without waiting out the
// real schedule: it pulls the earliest pending burst forward to "now"
// and runs one tick.
func (s *Server) handleRunVerification(w http.ResponseWriter, r *http.Request) {
	if _, ok := s.requireAdmin(w, r); !ok {
		return
	}

	sessionID := r.URL.Query().Get("session_id")
	if sessionID == "" {
		apierr.WriteJSON(w, apierr.Validation("missing required fields", map[string]string{"session_id": "required"}), s.cfg.Production())
		return
	}

	if _, ok := s.sessions.Session(sessionID); !ok {
		apierr.WriteJSON(w, apierr.New(apierr.KindNotFound, apierr.CodeNotFound, "session not found"), s.cfg.Production())
		return
	}

	if err := s.sessions.RescheduleNextBurstForTesting(sessionID); err != nil {
		apierr.WriteJSON(w, apierr.New(apierr.KindValidation, apierr.CodeValidation, err.Error()), s.cfg.Production())
		return
	}
	if err := s.sessions.Tick(r.Context()); err != nil {
		apierr.WriteJSON(w, apierr.New(apierr.KindInternal, apierr.CodeInternal, err.Error()), s.cfg.Production())
		return
	}

	sess, _ := s.sessions.Session(sessionID)
	writeJSON(w, http.StatusOK, buildSnapshot(sess))
}
