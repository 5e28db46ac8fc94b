// Package signing provides the HMAC-SHA256 agent-binding digest used by the
// per-post challenge protocol (SPEC_FULL.md §4.1). A ticket's challenge_id is
// bound to the issuing agent_id via a keyed digest; VerifyChallenge recomputes
// the digest and compares it in constant time so a mismatched agent cannot be
// detected by timing.
package signing

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"errors"
)

// ErrNoKey is returned by BindAgent when no signing key is configured. The
// caller is expected to fail closed rather than skip the check (SPEC_FULL.md §9).
var ErrNoKey = errors.New("signing: no key configured")

// Signer computes and verifies HMAC-SHA256 agent-binding digests.
type Signer struct {
	key []byte
}

// NewSigner creates a signer over the given shared secret. An empty key is
// accepted here; callers must consult HasKey before relying on fail-closed
// behavior (see VerifyAgent).
func NewSigner(key []byte) *Signer {
	return &Signer{key: key}
}

// HasKey reports whether a non-empty key is configured.
func (s *Signer) HasKey() bool {
	return s != nil && len(s.key) > 0
}

// BindAgent computes the agent-binding digest for (challengeID, agentID).
func (s *Signer) BindAgent(challengeID, agentID string) (string, error) {
	if !s.HasKey() {
		return "", ErrNoKey
	}
	mac := hmac.New(sha256.New, s.key)
	mac.Write([]byte(challengeID))
	mac.Write([]byte{'|'})
	mac.Write([]byte(agentID))
	return hex.EncodeToString(mac.Sum(nil)), nil
}

// VerifyAgent recomputes the agent-binding digest and compares it against
// expectedDigest in constant time. Fails closed: returns false if no key is
// configured, never falling back to a plaintext comparison.
func (s *Signer) VerifyAgent(challengeID, agentID, expectedDigest string) bool {
	digest, err := s.BindAgent(challengeID, agentID)
	if err != nil {
		return false
	}
	want, err := hex.DecodeString(expectedDigest)
	if err != nil {
		return false
	}
	got, err := hex.DecodeString(digest)
	if err != nil {
		return false
	}
	return hmac.Equal(got, want)
}

// ConstantTimeEqual compares two opaque nonce strings in constant time,
// independent of the signing key (used for nonce matching, which does not
// involve the HMAC key but must still avoid a timing side-channel).
func ConstantTimeEqual(a, b string) bool {
	if len(a) != len(b) {
		// Still run a dummy comparison of matching-length buffers so the
		// early return doesn't introduce an observable length-based timing
		// difference beyond what the lengths themselves already reveal.
		_ = hmac.Equal([]byte(a), []byte(a))
		return false
	}
	return hmac.Equal([]byte(a), []byte(b))
}
