package server

import (
	"net/http"
	"strings"

	"github.com/marcus-qen/agentverify/internal/apierr"
	"github.com/marcus-qen/agentverify/internal/authkeys"
)

// bearerToken extracts the token from an "Authorization: Bearer <token>"
// header, or "" if absent/malformed.
func bearerToken(r *http.Request) string {
	h := r.Header.Get("Authorization")
	const prefix = "Bearer "
	if !strings.HasPrefix(h, prefix) {
		return ""
	}
	return strings.TrimSpace(strings.TrimPrefix(h, prefix))
}

// authenticateAgent resolves the calling agent's identity from its
// bearer token, for GET /challenge and POST /posts.
func (s *Server) authenticateAgent(r *http.Request) (string, *apierr.Error) {
	token := bearerToken(r)
	if token == "" {
		return "", apierr.New(apierr.KindUnauthorized, apierr.CodeUnauthorized, "missing bearer token")
	}
	agentID, ok := s.agentTokens.Authenticate(token)
	if !ok {
		return "", apierr.New(apierr.KindUnauthorized, apierr.CodeUnauthorized, "invalid agent token")
	}
	return agentID, nil
}

// requireAdmin validates the calling operator's admin key, writing a
// typed error response and returning false if it does not check out.
func (s *Server) requireAdmin(w http.ResponseWriter, r *http.Request) (*authkeys.AdminKey, bool) {
	token := bearerToken(r)
	if token == "" {
		apierr.WriteJSON(w, apierr.New(apierr.KindUnauthorized, apierr.CodeUnauthorized, "missing bearer token"), s.cfg.Production())
		return nil, false
	}
	key, err := s.adminKeys.Validate(token)
	if err != nil {
		apierr.WriteJSON(w, apierr.New(apierr.KindUnauthorized, apierr.CodeUnauthorized, "invalid admin key"), s.cfg.Production())
		return nil, false
	}
	return key, true
}
