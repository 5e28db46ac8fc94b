package ticket

import (
	"testing"
	"time"

	"github.com/marcus-qen/agentverify/internal/challenge"
	"github.com/marcus-qen/agentverify/internal/kv"
	"github.com/marcus-qen/agentverify/internal/ratelimit"
	"github.com/marcus-qen/agentverify/internal/signing"
)

func newTestService(t *testing.T) *Service {
	t.Helper()
	lib := challenge.New([]challenge.Template{
		{TemplateID: "r1", Category: challenge.CategoryReasoningTrace},
	})
	store := kv.NewInProcess(0)
	limiter := ratelimit.New(store, time.Minute, 10)
	signer := signing.NewSigner([]byte("test-key-aaaaaaaaaaaaaaaaaaaaaaaa"))
	return New(lib, store, limiter, signer)
}

func TestIssueThenVerifySucceeds(t *testing.T) {
	s := newTestService(t)
	issued, deny := s.IssueChallenge("agent-1")
	if deny != nil {
		t.Fatalf("unexpected deny: %+v", deny)
	}

	result := s.VerifyChallenge(issued.ChallengeID, "agent-1", issued.Nonce, "First, step one is 1+1=2.", "")
	if !result.OK {
		t.Fatalf("expected verification to succeed, got code %q", result.Code)
	}
}

func TestVerifyIsExactlyOnce(t *testing.T) {
	s := newTestService(t)
	issued, _ := s.IssueChallenge("agent-1")

	first := s.VerifyChallenge(issued.ChallengeID, "agent-1", issued.Nonce, "First, step one is 1+1=2.", "")
	if !first.OK {
		t.Fatalf("expected first verification to succeed")
	}

	second := s.VerifyChallenge(issued.ChallengeID, "agent-1", issued.Nonce, "First, step one is 1+1=2.", "")
	if second.OK || second.Code != "CHALLENGE_EXPIRED" {
		t.Fatalf("expected second attempt to see not-found, got %+v", second)
	}
}

func TestVerifyRejectsWrongAgent(t *testing.T) {
	s := newTestService(t)
	issued, _ := s.IssueChallenge("agent-1")

	result := s.VerifyChallenge(issued.ChallengeID, "agent-2", issued.Nonce, "First, step one is 1+1=2.", "")
	if result.OK || result.Code != "CHALLENGE_WRONG_AGENT" {
		t.Fatalf("expected CHALLENGE_WRONG_AGENT, got %+v", result)
	}
}

func TestVerifyRejectsBadNonce(t *testing.T) {
	s := newTestService(t)
	issued, _ := s.IssueChallenge("agent-1")

	result := s.VerifyChallenge(issued.ChallengeID, "agent-1", "wrong-nonce", "First, step one is 1+1=2.", "")
	if result.OK || result.Code != "BAD_NONCE" {
		t.Fatalf("expected BAD_NONCE, got %+v", result)
	}
}

func TestVerifyRejectsWrongAnswer(t *testing.T) {
	s := newTestService(t)
	issued, _ := s.IssueChallenge("agent-1")

	result := s.VerifyChallenge(issued.ChallengeID, "agent-1", issued.Nonce, "no markers here", "")
	if result.OK || result.Code != "WRONG_ANSWER" {
		t.Fatalf("expected WRONG_ANSWER, got %+v", result)
	}
}

// TestVerifyFailureLeavesTicketForRetry exercises §4.1's retry semantics: a
// wrong answer must not consume the ticket, so a legitimate retry with the
// correct answer still succeeds before the ticket expires.
func TestVerifyFailureLeavesTicketForRetry(t *testing.T) {
	s := newTestService(t)
	issued, _ := s.IssueChallenge("agent-1")

	first := s.VerifyChallenge(issued.ChallengeID, "agent-1", issued.Nonce, "no markers here", "")
	if first.OK || first.Code != "WRONG_ANSWER" {
		t.Fatalf("expected first attempt to fail with WRONG_ANSWER, got %+v", first)
	}

	retry := s.VerifyChallenge(issued.ChallengeID, "agent-1", issued.Nonce, "First, step one is 1+1=2.", "")
	if !retry.OK {
		t.Fatalf("expected retry with a correct answer to succeed after a wrong one, got %+v", retry)
	}

	third := s.VerifyChallenge(issued.ChallengeID, "agent-1", issued.Nonce, "First, step one is 1+1=2.", "")
	if third.OK || third.Code != "CHALLENGE_EXPIRED" {
		t.Fatalf("expected the ticket to be consumed after the successful retry, got %+v", third)
	}
}

func TestVerifyUnknownChallengeIsExpired(t *testing.T) {
	s := newTestService(t)
	result := s.VerifyChallenge("does-not-exist", "agent-1", "nonce", "anything", "")
	if result.OK || result.Code != "CHALLENGE_EXPIRED" {
		t.Fatalf("expected CHALLENGE_EXPIRED, got %+v", result)
	}
}

func TestIssueChallengeDeniesOverRateLimit(t *testing.T) {
	lib := challenge.New(nil)
	store := kv.NewInProcess(0)
	limiter := ratelimit.New(store, time.Minute, 1)
	signer := signing.NewSigner([]byte("test-key-aaaaaaaaaaaaaaaaaaaaaaaa"))
	s := New(lib, store, limiter, signer)

	if _, deny := s.IssueChallenge("agent-1"); deny != nil {
		t.Fatalf("expected first issuance to succeed, got deny %+v", deny)
	}
	_, deny := s.IssueChallenge("agent-1")
	if deny == nil {
		t.Fatalf("expected second issuance to be rate limited")
	}
}
