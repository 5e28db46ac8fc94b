package server

import "net/http"

// registerRoutes wires every endpoint named in SPEC_FULL.md §6 onto mux,
// following the reference control plane's method+path registration
// style (Go 1.22+ http.ServeMux patterns, no third-party router).
func (s *Server) registerRoutes(mux *http.ServeMux) {
	// Agent-facing per-post challenge protocol.
	mux.HandleFunc("GET /challenge", s.handleChallenge)
	mux.HandleFunc("POST /posts", s.handlePost)

	// Operator-facing gauntlet lifecycle.
	mux.HandleFunc("POST /verify-agent", s.handleStartVerification)
	mux.HandleFunc("GET /verify-agent", s.handleGetVerification)
	mux.HandleFunc("POST /verify-agent/run", s.handleRunVerification)

	// Ambient operational surface.
	mux.HandleFunc("GET /healthz", s.handleHealthz)
	mux.HandleFunc("GET /readyz", s.handleReadyz)
	mux.HandleFunc("GET /version", s.handleVersion)
	mux.Handle("GET /metrics", s.metrics.Handler())
}
