// Package apisrv implements the relay's admin HTTP surface: health/stats,
// Prometheus exposition, and the shared-secret admin operations mirrored
// from the WebSocket path, routed through a gorilla/mux REST server.
package apisrv

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/ocx/agentchat-relay/internal/admin"
	"github.com/ocx/agentchat-relay/internal/middleware"
)

// World is the subset of relay state the admin surface reports on and acts
// upon; implemented by websocket.Relay.
type World interface {
	Stats() map[string]interface{}
	Kick(agentID string) error
	Ban(agentID string) error
	Unban(agentID string) error
}

// Server is the admin REST server.
type Server struct {
	world   World
	adminKey string
	limiter *middleware.RateLimiter
	log     *slog.Logger
}

// NewServer builds the admin server bound to world, enforcing adminKey on
// mutating routes.
func NewServer(world World, adminKey string, log *slog.Logger) *Server {
	return &Server{
		world:    world,
		adminKey: adminKey,
		limiter:  middleware.NewRateLimiter(middleware.RateLimitConfig{MaxCallsPerMinute: 120}),
		log:      log,
	}
}

// Router builds the mux.Router serving every admin route.
func (s *Server) Router() http.Handler {
	r := mux.NewRouter()
	r.Use(func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.Header().Set("Access-Control-Allow-Origin", "*")
			w.Header().Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
			w.Header().Set("Access-Control-Allow-Headers", "Content-Type, X-Admin-Key")
			if r.Method == http.MethodOptions {
				w.WriteHeader(http.StatusOK)
				return
			}
			next.ServeHTTP(w, r)
		})
	})
	r.Use(s.limiter.Middleware)

	r.HandleFunc("/healthz", s.handleHealthz).Methods(http.MethodGet)
	r.HandleFunc("/stats", s.handleStats).Methods(http.MethodGet)
	r.Handle("/metrics", promhttp.Handler()).Methods(http.MethodGet)
	r.HandleFunc("/admin/kick", s.requireAdminKey(s.handleKick)).Methods(http.MethodPost)
	r.HandleFunc("/admin/ban", s.requireAdminKey(s.handleBan)).Methods(http.MethodPost)
	r.HandleFunc("/admin/unban", s.requireAdminKey(s.handleUnban)).Methods(http.MethodPost)

	return r
}

func (s *Server) requireAdminKey(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if !admin.KeyMatches(s.adminKey, r.Header.Get("X-Admin-Key")) {
			writeJSON(w, http.StatusForbidden, map[string]string{"error": "invalid admin key"})
			return
		}
		next(w, r)
	}
}

func (s *Server) handleHealthz(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleStats(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.world.Stats())
}

type agentRequest struct {
	Agent string `json:"agent"`
}

func (s *Server) handleKick(w http.ResponseWriter, r *http.Request) {
	var req agentRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Agent == "" {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "missing agent"})
		return
	}
	if err := s.world.Kick(req.Agent); err != nil {
		writeJSON(w, http.StatusNotFound, map[string]string{"error": err.Error()})
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "kicked"})
}

func (s *Server) handleBan(w http.ResponseWriter, r *http.Request) {
	var req agentRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Agent == "" {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "missing agent"})
		return
	}
	if err := s.world.Ban(req.Agent); err != nil {
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": err.Error()})
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "banned"})
}

func (s *Server) handleUnban(w http.ResponseWriter, r *http.Request) {
	var req agentRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Agent == "" {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "missing agent"})
		return
	}
	if err := s.world.Unban(req.Agent); err != nil {
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": err.Error()})
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "unbanned"})
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		fmt.Fprintf(w, `{"error":"encode failure"}`)
	}
}
