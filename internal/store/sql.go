package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	_ "github.com/go-sql-driver/mysql" // selectable secondary driver
	_ "github.com/jackc/pgx/v5/stdlib" // primary driver
)

// SQL is a database/sql-backed Store, authoritative whenever
// Config.HasDatabase() is true. No ORM is used — schema is managed with
// inline CREATE TABLE IF NOT EXISTS statements, matching the teacher's
// store files (e.g. internal/controlplane/jobs/store.go).
type SQL struct {
	db     *sql.DB
	driver string // "postgres" or "mysql"
}

// OpenSQL opens driver ("postgres" or "mysql") against dsn and ensures the
// schema exists.
func OpenSQL(ctx context.Context, driver, dsn string) (*SQL, error) {
	sqlDriverName := driver
	if driver == "postgres" || driver == "" {
		sqlDriverName = "pgx"
		driver = "postgres"
	}

	db, err := sql.Open(sqlDriverName, dsn)
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", driver, err)
	}
	if err := db.PingContext(ctx); err != nil {
		return nil, fmt.Errorf("ping %s: %w", driver, err)
	}

	s := &SQL{db: db, driver: driver}
	if err := s.migrate(ctx); err != nil {
		return nil, fmt.Errorf("migrate: %w", err)
	}
	return s, nil
}

func (s *SQL) migrate(ctx context.Context) error {
	for _, stmt := range s.schemaStatements() {
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("exec schema statement: %w", err)
		}
	}
	return nil
}

func (s *SQL) schemaStatements() []string {
	textType := "TEXT"
	boolType := "BOOLEAN"
	tsType := "TIMESTAMP"
	if s.driver == "mysql" {
		textType = "TEXT"
		boolType = "BOOLEAN"
		tsType = "DATETIME"
	}

	return []string{
		fmt.Sprintf(`CREATE TABLE IF NOT EXISTS agents (
			id %s PRIMARY KEY,
			verified %s NOT NULL DEFAULT FALSE,
			trust_tier %s NOT NULL,
			detected_model %s,
			model_confidence DOUBLE PRECISION NOT NULL DEFAULT 0,
			webhook_url %s NOT NULL,
			claimed_model %s,
			created_at %s NOT NULL,
			updated_at %s NOT NULL
		)`, pkType(s.driver), boolType, textType, textType, textType, textType, tsType, tsType),

		fmt.Sprintf(`CREATE TABLE IF NOT EXISTS verification_sessions (
			id %s PRIMARY KEY,
			agent_id %s NOT NULL,
			status %s NOT NULL,
			started_at %s NOT NULL,
			ends_at %s NOT NULL,
			completed_at %s,
			failure_reason %s,
			attempt_rate DOUBLE PRECISION NOT NULL DEFAULT 0,
			pass_rate DOUBLE PRECISION NOT NULL DEFAULT 0,
			autonomy_score DOUBLE PRECISION NOT NULL DEFAULT 0,
			autonomy_verdict %s,
			model_detection_scores %s
		)`, pkType(s.driver), textType, textType, tsType, tsType, tsType, textType, textType, textType),

		fmt.Sprintf(`CREATE TABLE IF NOT EXISTS challenge_responses (
			session_id %s NOT NULL DEFAULT '',
			agent_id %s NOT NULL,
			challenge_id %s NOT NULL,
			category %s,
			prompt %s,
			response %s,
			response_time_ms BIGINT NOT NULL DEFAULT 0,
			status %s NOT NULL,
			reason %s,
			parsed_data %s,
			is_spot_check %s NOT NULL DEFAULT FALSE,
			sent_at %s NOT NULL
		)`, textType, textType, textType, textType, textType, textType, textType, textType, textType, boolType, tsType),

		fmt.Sprintf(`CREATE TABLE IF NOT EXISTS spot_checks (
			id %s PRIMARY KEY,
			agent_id %s NOT NULL,
			passed %s NOT NULL DEFAULT FALSE,
			skipped %s NOT NULL DEFAULT FALSE,
			response_time_ms BIGINT NOT NULL DEFAULT 0,
			error %s,
			response %s,
			at %s NOT NULL
		)`, pkType(s.driver), textType, boolType, boolType, textType, textType, tsType),

		fmt.Sprintf(`CREATE TABLE IF NOT EXISTS trust_tier_history (
			agent_id %s NOT NULL,
			tier %s NOT NULL,
			achieved_at %s NOT NULL
		)`, textType, textType, tsType),
	}
}

func pkType(driver string) string {
	if driver == "mysql" {
		return "VARCHAR(64)"
	}
	return "TEXT"
}

func (s *SQL) UpsertAgent(ctx context.Context, a Agent) error {
	now := time.Now().UTC()
	a.UpdatedAt = now
	var upsert string
	if s.driver == "mysql" {
		upsert = `INSERT INTO agents (id, verified, trust_tier, detected_model, model_confidence, webhook_url, claimed_model, created_at, updated_at)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
			ON DUPLICATE KEY UPDATE verified=VALUES(verified), trust_tier=VALUES(trust_tier),
			detected_model=VALUES(detected_model), model_confidence=VALUES(model_confidence),
			webhook_url=VALUES(webhook_url), claimed_model=VALUES(claimed_model), updated_at=VALUES(updated_at)`
	} else {
		upsert = `INSERT INTO agents (id, verified, trust_tier, detected_model, model_confidence, webhook_url, claimed_model, created_at, updated_at)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
			ON CONFLICT (id) DO UPDATE SET verified=$2, trust_tier=$3, detected_model=$4,
			model_confidence=$5, webhook_url=$6, claimed_model=$7, updated_at=$9`
	}
	_, err := s.db.ExecContext(ctx, rebind(s.driver, upsert),
		a.ID, a.Verified, a.TrustTier, a.DetectedModel, a.ModelConfidence, a.WebhookURL, a.ClaimedModel, now, now)
	return err
}

func (s *SQL) GetAgent(ctx context.Context, id string) (Agent, bool, error) {
	row := s.db.QueryRowContext(ctx, rebind(s.driver,
		`SELECT id, verified, trust_tier, detected_model, model_confidence, webhook_url, claimed_model, created_at, updated_at FROM agents WHERE id = $1`), id)

	var a Agent
	err := row.Scan(&a.ID, &a.Verified, &a.TrustTier, &a.DetectedModel, &a.ModelConfidence, &a.WebhookURL, &a.ClaimedModel, &a.CreatedAt, &a.UpdatedAt)
	if err == sql.ErrNoRows {
		return Agent{}, false, nil
	}
	if err != nil {
		return Agent{}, false, err
	}
	return a, true, nil
}

func (s *SQL) PutSession(ctx context.Context, sess Session) error {
	var upsert string
	if s.driver == "mysql" {
		upsert = `INSERT INTO verification_sessions (id, agent_id, status, started_at, ends_at, completed_at, failure_reason, attempt_rate, pass_rate, autonomy_score, autonomy_verdict, model_detection_scores)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
			ON DUPLICATE KEY UPDATE status=VALUES(status), completed_at=VALUES(completed_at), failure_reason=VALUES(failure_reason),
			attempt_rate=VALUES(attempt_rate), pass_rate=VALUES(pass_rate), autonomy_score=VALUES(autonomy_score),
			autonomy_verdict=VALUES(autonomy_verdict), model_detection_scores=VALUES(model_detection_scores)`
	} else {
		upsert = `INSERT INTO verification_sessions (id, agent_id, status, started_at, ends_at, completed_at, failure_reason, attempt_rate, pass_rate, autonomy_score, autonomy_verdict, model_detection_scores)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
			ON CONFLICT (id) DO UPDATE SET status=$3, completed_at=$6, failure_reason=$7, attempt_rate=$8, pass_rate=$9, autonomy_score=$10, autonomy_verdict=$11, model_detection_scores=$12`
	}
	_, err := s.db.ExecContext(ctx, rebind(s.driver, upsert),
		sess.ID, sess.AgentID, sess.Status, sess.StartedAt, sess.EndsAt, sess.CompletedAt, sess.FailureReason,
		sess.AttemptRate, sess.PassRate, sess.AutonomyScore, sess.AutonomyVerdict, sess.ModelDetectionScores)
	return err
}

func (s *SQL) GetSession(ctx context.Context, id string) (Session, bool, error) {
	row := s.db.QueryRowContext(ctx, rebind(s.driver,
		`SELECT id, agent_id, status, started_at, ends_at, completed_at, failure_reason, attempt_rate, pass_rate, autonomy_score, autonomy_verdict, model_detection_scores
		 FROM verification_sessions WHERE id = $1`), id)

	var sess Session
	err := row.Scan(&sess.ID, &sess.AgentID, &sess.Status, &sess.StartedAt, &sess.EndsAt, &sess.CompletedAt, &sess.FailureReason,
		&sess.AttemptRate, &sess.PassRate, &sess.AutonomyScore, &sess.AutonomyVerdict, &sess.ModelDetectionScores)
	if err == sql.ErrNoRows {
		return Session{}, false, nil
	}
	if err != nil {
		return Session{}, false, err
	}
	return sess, true, nil
}

func (s *SQL) AppendChallengeResponse(ctx context.Context, r ChallengeResponse) error {
	_, err := s.db.ExecContext(ctx, rebind(s.driver,
		`INSERT INTO challenge_responses (session_id, agent_id, challenge_id, category, prompt, response, response_time_ms, status, reason, parsed_data, is_spot_check, sent_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)`),
		r.SessionID, r.AgentID, r.ChallengeID, r.Category, r.Prompt, r.Response, r.ResponseTimeMS, r.Status, r.Reason, r.ParsedData, r.IsSpotCheck, r.SentAt)
	return err
}

func (s *SQL) ListChallengeResponses(ctx context.Context, sessionID string) ([]ChallengeResponse, error) {
	rows, err := s.db.QueryContext(ctx, rebind(s.driver,
		`SELECT session_id, agent_id, challenge_id, category, prompt, response, response_time_ms, status, reason, parsed_data, is_spot_check, sent_at
		 FROM challenge_responses WHERE session_id = $1 ORDER BY sent_at ASC`), sessionID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []ChallengeResponse
	for rows.Next() {
		var r ChallengeResponse
		if err := rows.Scan(&r.SessionID, &r.AgentID, &r.ChallengeID, &r.Category, &r.Prompt, &r.Response, &r.ResponseTimeMS, &r.Status, &r.Reason, &r.ParsedData, &r.IsSpotCheck, &r.SentAt); err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

func (s *SQL) AppendSpotCheck(ctx context.Context, sc SpotCheck) error {
	_, err := s.db.ExecContext(ctx, rebind(s.driver,
		`INSERT INTO spot_checks (id, agent_id, passed, skipped, response_time_ms, error, response, at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`),
		sc.ID, sc.AgentID, sc.Passed, sc.Skipped, sc.ResponseTimeMS, sc.Error, sc.Response, sc.At)
	return err
}

func (s *SQL) ListSpotChecks(ctx context.Context, agentID string, since time.Time) ([]SpotCheck, error) {
	rows, err := s.db.QueryContext(ctx, rebind(s.driver,
		`SELECT id, agent_id, passed, skipped, response_time_ms, error, response, at
		 FROM spot_checks WHERE agent_id = $1 AND at > $2 ORDER BY at ASC`), agentID, since)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []SpotCheck
	for rows.Next() {
		var sc SpotCheck
		if err := rows.Scan(&sc.ID, &sc.AgentID, &sc.Passed, &sc.Skipped, &sc.ResponseTimeMS, &sc.Error, &sc.Response, &sc.At); err != nil {
			return nil, err
		}
		out = append(out, sc)
	}
	return out, rows.Err()
}

func (s *SQL) AppendTierHistory(ctx context.Context, e TierHistoryEntry) error {
	_, err := s.db.ExecContext(ctx, rebind(s.driver,
		`INSERT INTO trust_tier_history (agent_id, tier, achieved_at) VALUES ($1, $2, $3)`),
		e.AgentID, e.Tier, e.AchievedAt)
	return err
}

func (s *SQL) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

func (s *SQL) Close() error {
	return s.db.Close()
}
