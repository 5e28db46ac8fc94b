// Package config provides configuration loading for the verification service.
// Configuration sources (in priority order): env vars > config file > defaults.
package config

import (
	"encoding/json"
	"fmt"
	"os"
	"strconv"
	"time"
)

// Config holds all service configuration, including the gauntlet constants
// that govern burst scheduling, tiering and scoring.
type Config struct {
	// Listen address (default ":8080")
	ListenAddr string `json:"listen_addr"`
	// Data directory for the in-process snapshot writer (default "/var/lib/agentverify")
	DataDir string `json:"data_dir"`

	// TLS settings
	TLSCert string `json:"tls_cert,omitempty"`
	TLSKey  string `json:"tls_key,omitempty"`

	// DatabaseURL, when set, selects the SQL-backed record store and disables
	// the in-process JSON snapshot writer (snapshot is a single-instance dev aid only).
	DatabaseURL    string `json:"database_url,omitempty"`
	DatabaseDriver string `json:"database_driver,omitempty"` // "postgres" (default) or "mysql"

	// SigningKey is the HMAC key used for per-post agent-binding digests (§4.1).
	// Fail-closed: main refuses to start when Production() is true and this
	// is empty.
	SigningKey string `json:"signing_key,omitempty"`

	// Environment selects "production" (fail-closed signing, strict checks) or
	// "development"/"test" (permits TestMode conveniences).
	Environment string `json:"environment"`

	// TestMode is loaded from the config file and environment, but Finalize
	// does not read it: Finalize waives the per-day-pass and autonomy-verdict
	// checks only when a session's elapsed time at finalize is under an hour.
	TestMode bool `json:"test_mode"`

	// LogLevel (debug, info, warn, error)
	LogLevel string `json:"log_level"`

	// ExternalURL advertises this service's public base URL (e.g. for instructions payloads).
	ExternalURL string `json:"external_url,omitempty"`

	// OTelEndpoint, when set, enables OTLP gRPC span export.
	OTelEndpoint string `json:"otel_endpoint,omitempty"`

	Gauntlet   GauntletConfig   `json:"gauntlet"`
	RateLimit  RateLimitConfig  `json:"rate_limit"`
	Tier       TierConfig       `json:"tier"`
	SpotCheck  SpotCheckConfig  `json:"spot_check"`
	TemplatesPath string        `json:"templates_path,omitempty"`
}

// GauntletConfig holds the burst-scheduling and dispatch constants from §4.3-4.4.
type GauntletConfig struct {
	BurstSize             int           `json:"burst_size"`
	BurstTimeout          time.Duration `json:"burst_timeout"`
	ResponseTimeout       time.Duration `json:"response_timeout"`
	PauseBetweenBursts    time.Duration `json:"pause_between_bursts"`
	ChallengesPerDayMin   int           `json:"challenges_per_day_min"`
	ChallengesPerDayMax   int           `json:"challenges_per_day_max"`
	MinNightChallenges    int           `json:"min_night_challenges"`
	GauntletDays          int           `json:"gauntlet_days"`
	AttemptRateMin        float64       `json:"attempt_rate_min"`
	PassRateMin           float64       `json:"pass_rate_min"`
	// TickCron drives the session controller's background tick, in
	// robfig/cron syntax (standard 5-field crontab, or a "@every
	// <duration>" descriptor for the common fixed-interval case).
	TickCron string `json:"tick_cron"`
}

// RateLimitConfig configures the per-agent per-post rate limit (§4.1).
type RateLimitConfig struct {
	Window time.Duration `json:"window"`
	Limit  int           `json:"limit"`
}

// TierConfig configures the trust-tier state machine (§4.5).
type TierConfig struct {
	SkipsAllowedPerDay int `json:"skips_allowed_per_day"`
	DaysForTierI       int `json:"days_for_tier_i"`
	DaysForTierII      int `json:"days_for_tier_ii"`
	DaysForTierIII     int `json:"days_for_tier_iii"`
	RevocationWindow   time.Duration `json:"revocation_window"`
	RevocationMinFailed int `json:"revocation_min_failed"`
	RevocationMinTotal  int `json:"revocation_min_total"`
	RevocationMaxRate   float64 `json:"revocation_max_rate"`
}

// SpotCheckConfig configures the per-tier Poisson sampling rate used by the
// tick to decide whether a verified agent receives a spot check this pass
// (resolves the Open Question in SPEC_FULL.md §11 in favor of a single,
// explicit mechanism).
type SpotCheckConfig struct {
	// ProbabilityPerTick is keyed by tier name ("I", "II", "III").
	ProbabilityPerTick map[string]float64 `json:"probability_per_tick"`
}

// Default returns configuration with sensible defaults matching SPEC_FULL.md.
func Default() Config {
	return Config{
		ListenAddr:  ":8080",
		DataDir:     "/var/lib/agentverify",
		Environment: "production",
		LogLevel:    "info",
		Gauntlet: GauntletConfig{
			BurstSize:           3,
			BurstTimeout:        20 * time.Second,
			ResponseTimeout:     15 * time.Second,
			PauseBetweenBursts:  3 * time.Second,
			ChallengesPerDayMin: 3,
			ChallengesPerDayMax: 5,
			MinNightChallenges:  2,
			GauntletDays:        3,
			AttemptRateMin:      0.6,
			PassRateMin:         0.8,
			TickCron:            "@every 10s",
		},
		RateLimit: RateLimitConfig{
			Window: 60 * time.Second,
			Limit:  10,
		},
		Tier: TierConfig{
			SkipsAllowedPerDay:  1,
			DaysForTierI:        1,
			DaysForTierII:       3,
			DaysForTierIII:      7,
			RevocationWindow:    30 * 24 * time.Hour,
			RevocationMinFailed: 10,
			RevocationMinTotal:  10,
			RevocationMaxRate:   0.25,
		},
		SpotCheck: SpotCheckConfig{
			ProbabilityPerTick: map[string]float64{
				"I":   0.03,
				"II":  0.05,
				"III": 0.08,
			},
		},
	}
}

// Load reads configuration from a file, then overlays environment variables.
func Load(path string) (Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return cfg, fmt.Errorf("read config: %w", err)
		}
		if err := json.Unmarshal(data, &cfg); err != nil {
			return cfg, fmt.Errorf("parse config: %w", err)
		}
	}

	if v := os.Getenv("VERIFIER_LISTEN_ADDR"); v != "" {
		cfg.ListenAddr = v
	}
	if v := os.Getenv("VERIFIER_DATA_DIR"); v != "" {
		cfg.DataDir = v
	}
	if v := os.Getenv("VERIFIER_TLS_CERT"); v != "" {
		cfg.TLSCert = v
	}
	if v := os.Getenv("VERIFIER_TLS_KEY"); v != "" {
		cfg.TLSKey = v
	}
	if v := os.Getenv("VERIFIER_DATABASE_URL"); v != "" {
		cfg.DatabaseURL = v
	}
	if v := os.Getenv("VERIFIER_DATABASE_DRIVER"); v != "" {
		cfg.DatabaseDriver = v
	}
	if v := os.Getenv("VERIFIER_SIGNING_KEY"); v != "" {
		cfg.SigningKey = v
	}
	if v := os.Getenv("VERIFIER_ENVIRONMENT"); v != "" {
		cfg.Environment = v
	}
	if v := os.Getenv("VERIFIER_TEST_MODE"); v != "" {
		cfg.TestMode = v == "true" || v == "1"
	}
	if v := os.Getenv("VERIFIER_LOG_LEVEL"); v != "" {
		cfg.LogLevel = v
	}
	if v := os.Getenv("VERIFIER_EXTERNAL_URL"); v != "" {
		cfg.ExternalURL = v
	}
	if v := os.Getenv("VERIFIER_OTEL_ENDPOINT"); v != "" {
		cfg.OTelEndpoint = v
	}
	if v := os.Getenv("VERIFIER_TEMPLATES_PATH"); v != "" {
		cfg.TemplatesPath = v
	}
	if v := os.Getenv("VERIFIER_RATE_LIMIT"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.RateLimit.Limit = n
		}
	}

	return cfg, nil
}

// LoadFromEnv loads configuration from environment variables only.
func LoadFromEnv() Config {
	cfg, _ := Load("")
	return cfg
}

// Save writes configuration to a file.
func (c Config) Save(path string) error {
	data, err := json.MarshalIndent(c, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0640)
}

// HasTLS returns true if TLS is configured.
func (c Config) HasTLS() bool {
	return c.TLSCert != "" && c.TLSKey != ""
}

// HasDatabase returns true if a record-store backend is configured. When false,
// the in-process StateStore with JSON snapshot writer is authoritative instead.
func (c Config) HasDatabase() bool {
	return c.DatabaseURL != ""
}

// Production reports whether fail-closed production checks apply (§9: signing
// comparisons must fail if no key is configured in production).
func (c Config) Production() bool {
	return c.Environment != "development" && c.Environment != "test"
}
