// Command agentverify runs the autonomous agent verification service: the
// HTTP surface, the burst-scheduling session controller, and the
// background tick loop that drives gauntlets and spot-checks to
// completion.
package main

import (
	"context"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/go-logr/zapr"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/marcus-qen/agentverify/internal/authkeys"
	"github.com/marcus-qen/agentverify/internal/challenge"
	"github.com/marcus-qen/agentverify/internal/clock"
	"github.com/marcus-qen/agentverify/internal/config"
	"github.com/marcus-qen/agentverify/internal/events"
	"github.com/marcus-qen/agentverify/internal/fingerprint"
	"github.com/marcus-qen/agentverify/internal/kv"
	"github.com/marcus-qen/agentverify/internal/metrics"
	"github.com/marcus-qen/agentverify/internal/ratelimit"
	"github.com/marcus-qen/agentverify/internal/server"
	"github.com/marcus-qen/agentverify/internal/session"
	"github.com/marcus-qen/agentverify/internal/signing"
	"github.com/marcus-qen/agentverify/internal/spotcheck"
	"github.com/marcus-qen/agentverify/internal/ssrf"
	"github.com/marcus-qen/agentverify/internal/store"
	"github.com/marcus-qen/agentverify/internal/telemetry"
	"github.com/marcus-qen/agentverify/internal/tier"
	"github.com/marcus-qen/agentverify/internal/ticket"
	"github.com/marcus-qen/agentverify/internal/webhook"
)

func main() {
	configPath := flag.String("config", "", "path to a JSON config file (overlaid by VERIFIER_* env vars)")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "load config: %v\n", err)
		os.Exit(1)
	}

	zapLog := newZapLogger(cfg.LogLevel)
	defer zapLog.Sync()
	log := zapr.NewLogger(zapLog)

	if cfg.Production() && cfg.SigningKey == "" {
		log.Error(nil, "SIGNING_KEY must be set in production")
		os.Exit(1)
	}

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	shutdownTracing, err := telemetry.InitTraceProvider(ctx, cfg.OTelEndpoint, server.Version)
	if err != nil {
		log.Error(err, "init trace provider")
		os.Exit(1)
	}
	defer shutdownTracing(context.Background())

	records, closeRecords, err := openStore(ctx, cfg)
	if err != nil {
		log.Error(err, "open store")
		os.Exit(1)
	}
	if closeRecords != nil {
		defer closeRecords()
	}

	templates, err := loadTemplates(cfg.TemplatesPath)
	if err != nil {
		log.Error(err, "load challenge templates")
		os.Exit(1)
	}

	lib := challenge.New(templates)
	bus := events.NewBus(64)
	metricsReg := metrics.New()
	dispatcher := webhook.New(&http.Client{}, lib, nil, log.WithName("webhook"))

	sessions := session.New(session.Deps{
		Library:       lib,
		Dispatcher:    dispatcher,
		Records:       records,
		TierMachine:   tier.New(cfg.Tier, bus),
		Sampler:       spotcheck.New(cfg.SpotCheck),
		Bus:           bus,
		Clock:         clock.Real{},
		Fingerprinter: fingerprint.NewLexicalStub(),
		Profiler:      fingerprint.NewAveragingProfiler(),
		Gauntlet:      cfg.Gauntlet,
		Tier:          cfg.Tier,
		Metrics:       metricsReg,
		Log:           log.WithName("session"),
	})

	kvStore := kv.NewInProcess(100_000)
	limiter := ratelimit.New(kvStore, cfg.RateLimit.Window, cfg.RateLimit.Limit)
	signer := signing.NewSigner([]byte(cfg.SigningKey))
	tickets := ticket.New(lib, kvStore, limiter, signer)

	srv := server.New(cfg, server.Deps{
		Sessions:    sessions,
		Tickets:     tickets,
		AdminKeys:   authkeys.NewAdminKeyStore(),
		AgentTokens: authkeys.NewAgentTokens(),
		SSRFGuard:   ssrf.New(),
		Records:     records,
		Metrics:     metricsReg,
		Log:         log.WithName("server"),
	})

	if err := srv.Run(ctx); err != nil {
		log.Error(err, "server exited with error")
		os.Exit(1)
	}
}

// openStore selects the SQL-backed store when a database URL is
// configured, falling back to the in-memory store (with disk snapshots
// under DataDir) otherwise. The returned close func is nil for the
// in-memory store, which owns no external connection.
func openStore(ctx context.Context, cfg config.Config) (store.Store, func(), error) {
	if cfg.HasDatabase() {
		sql, err := store.OpenSQL(ctx, cfg.DatabaseDriver, cfg.DatabaseURL)
		if err != nil {
			return nil, nil, fmt.Errorf("open sql store: %w", err)
		}
		return sql, func() { sql.Close() }, nil
	}

	snapshotPath := ""
	if cfg.DataDir != "" {
		snapshotPath = cfg.DataDir + "/snapshot.json"
	}
	return store.NewMemory(snapshotPath), nil, nil
}

func loadTemplates(path string) ([]challenge.Template, error) {
	if path == "" {
		return nil, nil
	}
	return challenge.LoadYAML(path)
}

func newZapLogger(level string) *zap.Logger {
	zapCfg := zap.NewProductionConfig()
	if lvl, err := zapcore.ParseLevel(level); err == nil {
		zapCfg.Level = zap.NewAtomicLevelAt(lvl)
	}
	logger, err := zapCfg.Build()
	if err != nil {
		logger = zap.NewNop()
	}
	return logger
}
