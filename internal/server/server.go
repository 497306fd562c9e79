package server

import (
	"encoding/json"
	"errors"
	"net/http"
	"strings"

	"bundlechat/internal/app"
	"bundlechat/internal/ratelimit"
	"bundlechat/internal/usertoken"
	"bundlechat/internal/util"
)

// Config wires required dependencies for the HTTP server.
type Config struct {
	App           *app.App
	TokenVerifier *usertoken.Verifier
	Limiter       *ratelimit.FixedWindowLimiter
}

// Server exposes the messaging API over HTTP plus SSE for live queries.
type Server struct {
	app           *app.App
	tokenVerifier *usertoken.Verifier
	limiter       *ratelimit.FixedWindowLimiter
	mux           *http.ServeMux
}

// New constructs the server with routes configured.
func New(cfg Config) *Server {
	s := &Server{
		app:           cfg.App,
		tokenVerifier: cfg.TokenVerifier,
		limiter:       cfg.Limiter,
		mux:           http.NewServeMux(),
	}
	s.routes()
	return s
}

// Router returns the configured handler.
func (s *Server) Router() http.Handler {
	handler := util.WithRequestLog(s.mux)
	handler = util.WithRequestID(handler)
	handler = util.WithSecurityHeaders(handler)
	return util.WithCORS(handler)
}

func (s *Server) routes() {
	s.mux.HandleFunc("/healthz", s.handleHealth)
	s.mux.Handle("/users/sync", s.withIdentity(s.handleUserSync))
	s.mux.Handle("/users/offline", s.withIdentity(s.handleUserOffline))
	s.mux.Handle("/users/me", s.withIdentity(s.handleUserMe))
	s.mux.Handle("/users", s.withIdentity(s.handleUsers))
	s.mux.Handle("/contacts", s.withIdentity(s.handleContacts))
	s.mux.Handle("/workspaces", s.withIdentity(s.handleWorkspaces))
	s.mux.Handle("/workspaces/members", s.withIdentity(s.handleMembers))
	s.mux.Handle("/conversations", s.withIdentity(s.handleConversations))
	s.mux.Handle("/conversations/clear", s.withIdentity(s.handleConversationClear))
	s.mux.Handle("/messages", s.withIdentity(s.handleMessages))
	s.mux.Handle("/messages/edit", s.withIdentity(s.handleMessageEdit))
	s.mux.Handle("/messages/delete", s.withIdentity(s.handleMessageDelete))
	s.mux.Handle("/messages/read", s.withIdentity(s.handleMarkAsRead))
	s.mux.Handle("/typing", s.withIdentity(s.handleTyping))
	s.mux.Handle("/uploads", s.withIdentity(s.handleUploadSlot))
	s.mux.Handle("/subscribe", s.withIdentity(s.handleSubscribe))
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

type identityHandler func(http.ResponseWriter, *http.Request, usertoken.Identity)

// withIdentity extracts and verifies the bearer token. A missing or invalid
// token is not rejected here: handlers get a zero identity, mutations fail
// with Unauthenticated downstream, and queries return empty results, per
// the boundary contract.
func (s *Server) withIdentity(next identityHandler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var identity usertoken.Identity
		if token, ok := bearerToken(r); ok && s.tokenVerifier != nil {
			if verified, err := s.tokenVerifier.Verify(token); err == nil {
				identity = verified
			}
		}
		next(w, r, identity)
	})
}

// allowMutation applies the per-caller rate limit when one is configured.
// Unauthenticated callers bypass it: their mutations fail with 401
// downstream, and they must not share one anonymous bucket.
func (s *Server) allowMutation(identity usertoken.Identity) bool {
	if s.limiter == nil {
		return true
	}
	if identity.Subject == "" {
		return true
	}
	return s.limiter.Allow(identity.Subject)
}

func bearerToken(r *http.Request) (string, bool) {
	authHeader := r.Header.Get("Authorization")
	if !strings.HasPrefix(authHeader, "Bearer ") {
		return "", false
	}
	token := strings.TrimSpace(strings.TrimPrefix(authHeader, "Bearer "))
	if token == "" {
		return "", false
	}
	return token, true
}

func methodNotAllowed(w http.ResponseWriter) {
	writeError(w, http.StatusMethodNotAllowed, "method not allowed")
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

// writeAppError maps the app error taxonomy onto HTTP statuses.
func writeAppError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, app.ErrUnauthenticated):
		writeError(w, http.StatusUnauthorized, "not authenticated")
	case errors.Is(err, app.ErrUnauthorized):
		writeError(w, http.StatusForbidden, "unauthorized")
	case errors.Is(err, app.ErrNotFound):
		writeError(w, http.StatusNotFound, "not found")
	case errors.Is(err, app.ErrUploadsDisabled):
		writeError(w, http.StatusServiceUnavailable, "uploads disabled")
	default:
		writeError(w, http.StatusInternalServerError, "internal error")
	}
}
