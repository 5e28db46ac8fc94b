// Package server wires the HTTP surface described in SPEC_FULL.md §6 onto
// the rest of the service: agent-facing challenge/post endpoints, the
// operator-facing verification lifecycle endpoints, and the ambient
// health/version/metrics endpoints. Like the reference control plane's
// server package, main() builds a Server and calls Run, done.
package server

import (
	"context"
	"net/http"
	"time"

	"github.com/go-logr/logr"
	"github.com/robfig/cron/v3"

	"github.com/marcus-qen/agentverify/internal/authkeys"
	"github.com/marcus-qen/agentverify/internal/config"
	"github.com/marcus-qen/agentverify/internal/metrics"
	"github.com/marcus-qen/agentverify/internal/session"
	"github.com/marcus-qen/agentverify/internal/ssrf"
	"github.com/marcus-qen/agentverify/internal/store"
	"github.com/marcus-qen/agentverify/internal/ticket"
)

// Version info, injected at build time via -ldflags.
var (
	Version = "dev"
	Commit  = "none"
	Date    = "unknown"
)

// Deps bundles a Server's collaborators.
type Deps struct {
	Sessions    *session.Controller
	Tickets     *ticket.Service
	AdminKeys   *authkeys.AdminKeyStore
	AgentTokens *authkeys.AgentTokens
	SSRFGuard   *ssrf.Guard
	Records     store.Store
	Metrics     *metrics.Metrics
	Log         logr.Logger
}

// Server is the assembled HTTP surface for the verification service.
type Server struct {
	cfg config.Config
	log logr.Logger

	sessions    *session.Controller
	tickets     *ticket.Service
	adminKeys   *authkeys.AdminKeyStore
	agentTokens *authkeys.AgentTokens
	ssrfGuard   *ssrf.Guard
	records     store.Store
	metrics     *metrics.Metrics

	httpServer *http.Server
}

// New builds a fully-wired Server from cfg and its collaborators.
func New(cfg config.Config, d Deps) *Server {
	s := &Server{
		cfg:         cfg,
		log:         d.Log,
		sessions:    d.Sessions,
		tickets:     d.Tickets,
		adminKeys:   d.AdminKeys,
		agentTokens: d.AgentTokens,
		ssrfGuard:   d.SSRFGuard,
		records:     d.Records,
		metrics:     d.Metrics,
	}

	mux := http.NewServeMux()
	s.registerRoutes(mux)

	s.httpServer = &http.Server{
		Addr:         cfg.ListenAddr,
		Handler:      mux,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  120 * time.Second,
	}

	return s
}

// Run starts the HTTP server and the background tick loop, and blocks
// until ctx is cancelled, at which point it shuts the server down
// gracefully.
func (s *Server) Run(ctx context.Context) error {
	go s.tickLoop(ctx)

	s.log.Info("starting agentverify", "addr", s.cfg.ListenAddr, "version", Version)

	errCh := make(chan error, 1)
	go func() {
		if s.cfg.HasTLS() {
			if err := s.httpServer.ListenAndServeTLS(s.cfg.TLSCert, s.cfg.TLSKey); err != nil && err != http.ErrServerClosed {
				errCh <- err
			}
			return
		}
		if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	s.log.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return s.httpServer.Shutdown(shutdownCtx)
}

// tickLoop runs the session controller's Tick on an operator-configurable
// cron schedule (Gauntlet.TickCron) until ctx is cancelled. SkipIfStillRunning
// keeps only one tick in flight at a time (SPEC_FULL.md §5): a schedule that
// fires again before a slow tick returns simply skips that firing rather
// than overlapping it.
func (s *Server) tickLoop(ctx context.Context) {
	spec := s.cfg.Gauntlet.TickCron
	if spec == "" {
		spec = "@every 10s"
	}

	c := cron.New(
		cron.WithLogger(s.log),
		cron.WithChain(cron.SkipIfStillRunning(s.log)),
	)
	if _, err := c.AddFunc(spec, func() {
		if err := s.sessions.Tick(ctx); err != nil {
			s.log.Error(err, "tick failed")
		}
	}); err != nil {
		s.log.Error(err, "invalid gauntlet tick_cron schedule, ticks disabled", "spec", spec)
		return
	}

	c.Start()
	<-ctx.Done()
	<-c.Stop().Done()
}
