package server

import (
	"encoding/json"
	"net/http"

	"github.com/marcus-qen/agentverify/internal/apierr"
)

// challengeResponse is the GET /challenge wire shape (SPEC_FULL.md §6).
type challengeResponse struct {
	ChallengeID string `json:"challenge_id"`
	Prompt      string `json:"prompt"`
	Nonce       string `json:"nonce"`
	ExpiresIn   int    `json:"expires_in"`
}

// handleChallenge issues a fresh per-post challenge ticket to the
// authenticated agent.
func (s *Server) handleChallenge(w http.ResponseWriter, r *http.Request) {
	agentID, authErr := s.authenticateAgent(r)
	if authErr != nil {
		apierr.WriteJSON(w, authErr, s.cfg.Production())
		return
	}

	issued, deny := s.tickets.IssueChallenge(agentID)
	if deny != nil {
		apierr.WriteJSON(w, apierr.RateLimited(deny.ResetInSecs), s.cfg.Production())
		return
	}

	writeJSON(w, http.StatusOK, challengeResponse{
		ChallengeID: issued.ChallengeID,
		Prompt:      issued.Prompt,
		Nonce:       issued.Nonce,
		ExpiresIn:   issued.ExpiresIn,
	})
}

// postRequest is the POST /posts request body.
type postRequest struct {
	Content         string `json:"content"`
	ChallengeID     string `json:"challenge_id"`
	ChallengeAnswer string `json:"challenge_answer"`
	Nonce           string `json:"nonce"`
	AgentDigest     string `json:"agent_digest,omitempty"`
}

// postResponse is returned on a successfully verified post.
type postResponse struct {
	Status            string `json:"status"`
	ChallengeReceivedAt string `json:"challenge_received_at"`
	ParsedData         string `json:"parsed_data,omitempty"`
}

// handlePost consumes the per-post challenge ticket the agent was issued
// by GET /challenge, exactly once, then accepts or rejects the post.
func (s *Server) handlePost(w http.ResponseWriter, r *http.Request) {
	agentID, authErr := s.authenticateAgent(r)
	if authErr != nil {
		apierr.WriteJSON(w, authErr, s.cfg.Production())
		return
	}

	var body postRequest
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		apierr.WriteJSON(w, apierr.Validation("invalid request body", map[string]string{"body": err.Error()}), s.cfg.Production())
		return
	}
	if body.ChallengeID == "" || body.ChallengeAnswer == "" || body.Nonce == "" {
		apierr.WriteJSON(w, apierr.Validation("missing required fields", map[string]string{
			"challenge_id":     "required",
			"challenge_answer": "required",
			"nonce":            "required",
		}), s.cfg.Production())
		return
	}

	receivedAt := nowRFC3339()
	result := s.tickets.VerifyChallenge(body.ChallengeID, agentID, body.Nonce, body.ChallengeAnswer, body.AgentDigest)
	if !result.OK {
		apierr.WriteJSON(w, denyError(result.Code), s.cfg.Production())
		return
	}

	writeJSON(w, http.StatusOK, postResponse{
		Status:              "accepted",
		ChallengeReceivedAt: receivedAt,
		ParsedData:          result.ParsedData,
	})
}

// denyError maps a ticket.VerifyResult code to the typed error SPEC_FULL.md
// §7 says it renders as: every per-post challenge denial is a 403.
func denyError(code string) *apierr.Error {
	switch code {
	case "CHALLENGE_EXPIRED":
		return apierr.New(apierr.KindForbidden, apierr.CodeChallengeExpired, "challenge expired or already consumed")
	case "BAD_NONCE":
		return apierr.New(apierr.KindForbidden, apierr.CodeBadNonce, "nonce does not match the issued challenge")
	case "WRONG_ANSWER":
		return apierr.New(apierr.KindForbidden, apierr.CodeWrongAnswer, "challenge answer did not validate")
	case "CHALLENGE_WRONG_AGENT":
		return apierr.New(apierr.KindForbidden, apierr.CodeWrongAgent, "challenge was not issued to this agent")
	default:
		return apierr.New(apierr.KindForbidden, apierr.CodeChallengeExpired, "challenge denied")
	}
}
