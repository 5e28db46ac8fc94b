// Package authkeys authenticates the two external callers named in
// SPEC_FULL.md §6/§10.5: the operator-facing admin surface (bcrypt-hashed
// keys, checked the way the reference control plane checks operator
// keys) and agents calling GET /challenge / POST /posts (opaque
// pre-shared tokens, compared with crypto/subtle since agents are not
// interactively authenticating humans and have nothing to hash).
package authkeys

import (
	"crypto/rand"
	"crypto/subtle"
	"encoding/hex"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/crypto/bcrypt"
)

// AdminKey is a stored, bcrypt-hashed operator credential.
type AdminKey struct {
	ID         string
	Name       string
	KeyHash    string
	KeyPrefix  string
	CreatedAt  time.Time
	LastUsedAt *time.Time
	Enabled    bool
}

// AdminKeyStore manages operator admin keys in process memory. Unlike
// the reference control plane's SQLite-backed KeyStore, this service
// has no per-operator persistence requirement beyond the process
// lifetime (admin keys are added through Create; the binary starts with
// an empty store and loads none from config), so no database dependency
// is introduced here.
type AdminKeyStore struct {
	mu   sync.RWMutex
	keys map[string]*AdminKey // by key_prefix
}

// NewAdminKeyStore builds an empty admin key store.
func NewAdminKeyStore() *AdminKeyStore {
	return &AdminKeyStore{keys: make(map[string]*AdminKey)}
}

// Create generates a new admin key, stores its bcrypt hash, and returns
// the plaintext once.
func (s *AdminKeyStore) Create(name string) (*AdminKey, string, error) {
	raw := make([]byte, 32)
	if _, err := rand.Read(raw); err != nil {
		return nil, "", fmt.Errorf("generate key: %w", err)
	}
	plainKey := "avk_" + hex.EncodeToString(raw)

	hash, err := bcrypt.GenerateFromPassword([]byte(plainKey), bcrypt.DefaultCost)
	if err != nil {
		return nil, "", fmt.Errorf("hash key: %w", err)
	}

	key := &AdminKey{
		ID:        uuid.NewString(),
		Name:      name,
		KeyHash:   string(hash),
		KeyPrefix: plainKey[:12],
		CreatedAt: time.Now().UTC(),
		Enabled:   true,
	}

	s.mu.Lock()
	s.keys[key.KeyPrefix] = key
	s.mu.Unlock()

	return key, plainKey, nil
}

// Validate checks a plaintext admin key, returning the matching AdminKey
// if it is valid, enabled, and its bcrypt hash matches.
func (s *AdminKeyStore) Validate(plainKey string) (*AdminKey, error) {
	if len(plainKey) < 12 {
		return nil, fmt.Errorf("invalid key format")
	}
	prefix := plainKey[:12]

	s.mu.RLock()
	key, ok := s.keys[prefix]
	s.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("key not found")
	}
	if !key.Enabled {
		return nil, fmt.Errorf("key disabled")
	}
	if err := bcrypt.CompareHashAndPassword([]byte(key.KeyHash), []byte(plainKey)); err != nil {
		return nil, fmt.Errorf("invalid key")
	}

	now := time.Now().UTC()
	s.mu.Lock()
	key.LastUsedAt = &now
	s.mu.Unlock()

	return key, nil
}

// Revoke disables an admin key by ID.
func (s *AdminKeyStore) Revoke(id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, key := range s.keys {
		if key.ID == id {
			key.Enabled = false
			return nil
		}
	}
	return fmt.Errorf("key not found: %s", id)
}

// AgentTokens holds the opaque, pre-shared bearer tokens agents present
// on GET /challenge and POST /posts. These are not hashed: an agent's
// token is a capability handed out at registration time, not a
// human-memorable secret, so a constant-time byte comparison is the
// right check, matching how the reference corpus distinguishes
// interactive-human credentials (bcrypt) from machine-to-machine
// pre-shared tokens (subtle comparison) elsewhere in its auth code.
type AgentTokens struct {
	mu      sync.RWMutex
	tokens  map[string]string // agent_id -> token
	byToken map[string]string // token -> agent_id, for inbound bearer-auth lookup
}

// NewAgentTokens builds an empty agent token registry.
func NewAgentTokens() *AgentTokens {
	return &AgentTokens{tokens: make(map[string]string), byToken: make(map[string]string)}
}

// Issue generates and stores a new opaque token for agentID, returning
// it once.
func (a *AgentTokens) Issue(agentID string) (string, error) {
	raw := make([]byte, 24)
	if _, err := rand.Read(raw); err != nil {
		return "", fmt.Errorf("generate token: %w", err)
	}
	token := "avt_" + hex.EncodeToString(raw)

	a.mu.Lock()
	if old, ok := a.tokens[agentID]; ok {
		delete(a.byToken, old)
	}
	a.tokens[agentID] = token
	a.byToken[token] = agentID
	a.mu.Unlock()

	return token, nil
}

// Authenticate resolves an inbound bearer token to its owning agent ID,
// for handlers (GET /challenge, POST /posts) that only see the token on
// the wire and must recover "who is the subject" from it.
func (a *AgentTokens) Authenticate(token string) (string, bool) {
	a.mu.RLock()
	defer a.mu.RUnlock()
	agentID, ok := a.byToken[token]
	return agentID, ok
}

// Verify reports whether token is the current token for agentID, using
// a constant-time comparison to avoid leaking a byte-by-byte timing
// oracle.
func (a *AgentTokens) Verify(agentID, token string) bool {
	a.mu.RLock()
	want, ok := a.tokens[agentID]
	a.mu.RUnlock()
	if !ok {
		return false
	}
	return subtle.ConstantTimeCompare([]byte(want), []byte(token)) == 1
}
