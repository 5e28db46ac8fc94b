// Package store is the record-store port named in SPEC_FULL.md §6: the
// core only ever calls through the Store interface, which is backed either
// by a SQL database (internal/store's SQL implementation) or, for
// single-process deployments, an in-memory store with a JSON snapshot
// writer (§6's "process-local state files").
package store

import (
	"context"
	"time"
)

// Agent is the agents(...) record.
type Agent struct {
	ID              string
	Verified        bool
	TrustTier       string
	DetectedModel   string
	ModelConfidence float64
	WebhookURL      string
	ClaimedModel    string
	CreatedAt       time.Time
	UpdatedAt       time.Time
}

// Session is the verification_sessions(...) record.
type Session struct {
	ID                   string
	AgentID              string
	Status               string
	StartedAt            time.Time
	EndsAt               time.Time
	CompletedAt          *time.Time
	FailureReason        string
	AttemptRate          float64
	PassRate             float64
	AutonomyScore        float64
	AutonomyVerdict      string
	ModelDetectionScores string // opaque JSON blob
}

// ChallengeResponse is the challenge_responses(...) record.
type ChallengeResponse struct {
	SessionID      string // empty for per-post / spot-check challenges
	AgentID        string
	ChallengeID    string
	Category       string
	Prompt         string
	Response       string
	ResponseTimeMS int64
	Status         string
	Reason         string
	ParsedData     string
	IsSpotCheck    bool
	SentAt         time.Time
}

// SpotCheck is the spot_checks(...) record.
type SpotCheck struct {
	ID             string
	AgentID        string
	Passed         bool
	Skipped        bool
	ResponseTimeMS int64
	Error          string
	Response       string
	At             time.Time
}

// TierHistoryEntry is one trust_tier_history(...) row.
type TierHistoryEntry struct {
	AgentID    string
	Tier       string
	AchievedAt time.Time
}

// Store is the persistence port every core component depends on.
type Store interface {
	UpsertAgent(ctx context.Context, a Agent) error
	GetAgent(ctx context.Context, id string) (Agent, bool, error)

	PutSession(ctx context.Context, s Session) error
	GetSession(ctx context.Context, id string) (Session, bool, error)

	AppendChallengeResponse(ctx context.Context, r ChallengeResponse) error
	ListChallengeResponses(ctx context.Context, sessionID string) ([]ChallengeResponse, error)

	AppendSpotCheck(ctx context.Context, s SpotCheck) error
	ListSpotChecks(ctx context.Context, agentID string, since time.Time) ([]SpotCheck, error)

	AppendTierHistory(ctx context.Context, e TierHistoryEntry) error

	// Ping reports whether the store is reachable, for GET /readyz.
	Ping(ctx context.Context) error
}
