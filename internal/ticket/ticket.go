// Package ticket implements the per-post Challenge Ticket protocol
// (SPEC_FULL.md §4.1): GET /challenge issues a single-use, short-TTL
// challenge bound to the requesting agent; POST /posts consumes it exactly
// once. Tickets live in their own namespace, independent of gauntlet
// sessions.
package ticket

import (
	"crypto/rand"
	"encoding/json"
	"fmt"
	"time"

	"github.com/marcus-qen/agentverify/internal/challenge"
	"github.com/marcus-qen/agentverify/internal/kv"
	"github.com/marcus-qen/agentverify/internal/ratelimit"
	"github.com/marcus-qen/agentverify/internal/signing"
)

const (
	// ticketTTL is the maximum lifetime of an issued ticket (§4.1).
	ticketTTL = 60 * time.Second
	// challengeExpiresIn is advertised to the caller as the window in which
	// they must respond (a tighter, caller-facing subset of ticketTTL).
	challengeExpiresIn = 30 * time.Second
	keyPrefix          = "ticket:"
	fallbackCapacity   = 10000
)

// Ticket is the persisted record backing one outstanding challenge.
type Ticket struct {
	ChallengeID    string    `json:"challenge_id"`
	AgentID        string    `json:"agent_id"`
	Prompt         string    `json:"prompt"`
	Nonce          string    `json:"nonce"`
	CreatedAt      time.Time `json:"created_at"`
	TemplateID     string    `json:"template_id"`
	TemplateIndex  int       `json:"template_index"`
}

// Issued is what IssueChallenge hands back to the caller.
type Issued struct {
	ChallengeID string
	Prompt      string
	Nonce       string
	ExpiresIn   int // seconds
}

// Deny describes why IssueChallenge refused to issue a ticket.
type Deny struct {
	Reason      string
	ResetInSecs int
}

// Service issues and consumes per-post challenge tickets.
type Service struct {
	library *challenge.Library
	store   kv.KV
	// fallback is a same-process map, capped at fallbackCapacity entries,
	// written alongside store so a ticket can still be found if the
	// primary cache backend (when store is itself a kv.Fallback) is
	// unreachable (§4.1: "also to a same-process fallback map").
	fallback *kv.InProcess
	limiter  *ratelimit.Limiter
	signer   *signing.Signer
}

// New builds a ticket Service. store backs both the ticket cache and (via
// ratelimit.New) the rate limiter; fallback is a dedicated in-process map.
func New(library *challenge.Library, store kv.KV, limiter *ratelimit.Limiter, signer *signing.Signer) *Service {
	return &Service{
		library:  library,
		store:    store,
		fallback: kv.NewInProcess(fallbackCapacity),
		limiter:  limiter,
		signer:   signer,
	}
}

// IssueChallenge draws a fresh template and nonce for agentID, persists the
// ticket, and returns the caller-facing fields. Returns (nil, deny) if the
// agent's rate limit is exceeded.
func (s *Service) IssueChallenge(agentID string) (*Issued, *Deny) {
	if d := s.limiter.Allow(agentID); !d.Allowed {
		return nil, &Deny{Reason: "rate_limited", ResetInSecs: d.ResetInSecs}
	}

	challengeID, err := randomHex(16) // 128 bits
	if err != nil {
		return nil, &Deny{Reason: "internal"}
	}
	nonce, err := randomHex(8) // 64 bits
	if err != nil {
		return nil, &Deny{Reason: "internal"}
	}

	tpl := s.library.RandomTemplate()
	tk := Ticket{
		ChallengeID: challengeID,
		AgentID:     agentID,
		Prompt:      tpl.Prompt,
		Nonce:       nonce,
		CreatedAt:   time.Now().UTC(),
		TemplateID:  tpl.TemplateID,
	}

	data, err := json.Marshal(tk)
	if err != nil {
		return nil, &Deny{Reason: "internal"}
	}

	s.store.Set(keyPrefix+challengeID, data, ticketTTL)
	s.fallback.Set(keyPrefix+challengeID, data, ticketTTL)

	return &Issued{
		ChallengeID: challengeID,
		Prompt:      tpl.Prompt,
		Nonce:       nonce,
		ExpiresIn:   int(challengeExpiresIn.Seconds()),
	}, nil
}

// VerifyResult is the outcome of consuming a ticket via VerifyChallenge.
type VerifyResult struct {
	OK         bool
	Code       string // CHALLENGE_EXPIRED | BAD_NONCE | WRONG_ANSWER | CHALLENGE_WRONG_AGENT
	ParsedData string
}

// VerifyChallenge checks a response against the ticket for (challengeID,
// agentID). The ticket is consumed — deleted from both the primary store
// and the fallback map — only on success; a failed attempt (bad nonce,
// wrong answer, wrong agent) leaves it intact so a legitimate retry can
// still succeed before it expires (§4.1: "the ticket is not consumed on
// failure so legitimate retries are possible until expiry").
func (s *Service) VerifyChallenge(challengeID, agentID, nonce, responseText, agentDigest string) VerifyResult {
	key := keyPrefix + challengeID
	data, ok := s.store.Get(key)
	if !ok {
		data, ok = s.fallback.Get(key)
	}
	if !ok {
		return VerifyResult{OK: false, Code: "CHALLENGE_EXPIRED"}
	}

	var tk Ticket
	if err := json.Unmarshal(data, &tk); err != nil {
		return VerifyResult{OK: false, Code: "CHALLENGE_EXPIRED"}
	}

	if tk.AgentID != agentID {
		return VerifyResult{OK: false, Code: "CHALLENGE_WRONG_AGENT"}
	}
	if agentDigest != "" && s.signer.HasKey() && !s.signer.VerifyAgent(challengeID, agentID, agentDigest) {
		return VerifyResult{OK: false, Code: "CHALLENGE_WRONG_AGENT"}
	}
	if time.Since(tk.CreatedAt) > challengeExpiresIn {
		return VerifyResult{OK: false, Code: "CHALLENGE_EXPIRED"}
	}
	if !signing.ConstantTimeEqual(tk.Nonce, nonce) {
		return VerifyResult{OK: false, Code: "BAD_NONCE"}
	}
	if !s.library.Validate(tk.TemplateID, responseText) {
		return VerifyResult{OK: false, Code: "WRONG_ANSWER"}
	}

	// Exactly-once: only a successful verification consumes the ticket.
	s.store.Del(key)
	s.fallback.Del(key)

	return VerifyResult{
		OK:         true,
		ParsedData: s.library.ExtractData(tk.TemplateID, responseText),
	}
}

func randomHex(n int) (string, error) {
	b := make([]byte, n)
	if _, err := rand.Read(b); err != nil {
		return "", fmt.Errorf("read random bytes: %w", err)
	}
	return fmt.Sprintf("%x", b), nil
}
