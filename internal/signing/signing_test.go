package signing

import "testing"

func TestBindAndVerifyAgent(t *testing.T) {
	s := NewSigner([]byte("test-key-aaaaaaaaaaaaaaaaaaaaaaaa"))

	digest, err := s.BindAgent("chal-1", "agent-1")
	if err != nil {
		t.Fatalf("BindAgent: %v", err)
	}
	if !s.VerifyAgent("chal-1", "agent-1", digest) {
		t.Fatalf("expected VerifyAgent to accept its own digest")
	}
}

func TestVerifyAgentRejectsWrongAgent(t *testing.T) {
	s := NewSigner([]byte("test-key-aaaaaaaaaaaaaaaaaaaaaaaa"))

	digest, err := s.BindAgent("chal-1", "agent-1")
	if err != nil {
		t.Fatalf("BindAgent: %v", err)
	}
	if s.VerifyAgent("chal-1", "agent-2", digest) {
		t.Fatalf("expected VerifyAgent to reject mismatched agent")
	}
}

func TestVerifyAgentRejectsTampered(t *testing.T) {
	s := NewSigner([]byte("test-key-aaaaaaaaaaaaaaaaaaaaaaaa"))

	digest, err := s.BindAgent("chal-1", "agent-1")
	if err != nil {
		t.Fatalf("BindAgent: %v", err)
	}
	tampered := "00" + digest[2:]
	if s.VerifyAgent("chal-1", "agent-1", tampered) {
		t.Fatalf("expected VerifyAgent to reject a tampered digest")
	}
}

func TestNoKeyFailsClosed(t *testing.T) {
	s := NewSigner(nil)
	if s.HasKey() {
		t.Fatalf("expected HasKey to be false for an empty key")
	}
	if _, err := s.BindAgent("chal-1", "agent-1"); err != ErrNoKey {
		t.Fatalf("expected ErrNoKey, got %v", err)
	}
	if s.VerifyAgent("chal-1", "agent-1", "deadbeef") {
		t.Fatalf("expected VerifyAgent to fail closed with no key")
	}
}

func TestConstantTimeEqual(t *testing.T) {
	if !ConstantTimeEqual("abc123", "abc123") {
		t.Fatalf("expected equal nonces to match")
	}
	if ConstantTimeEqual("abc123", "abc124") {
		t.Fatalf("expected differing nonces to not match")
	}
	if ConstantTimeEqual("abc", "abcd") {
		t.Fatalf("expected differing-length nonces to not match")
	}
}
