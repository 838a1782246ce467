// Package api exposes the chat service over HTTP and MCP.
package api

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/kalambet/rolechat/internal/auth"
	"github.com/kalambet/rolechat/internal/metrics"
	"github.com/kalambet/rolechat/internal/pipeline"
	"github.com/kalambet/rolechat/internal/retrieval"
	"github.com/kalambet/rolechat/internal/roles"
	"github.com/kalambet/rolechat/internal/session"
	"github.com/kalambet/rolechat/internal/storage"
)

const maxRequestBodySize = 1 << 20 // 1MB

// Answerer is the query path used by /chat and the MCP tools.
// *pipeline.Answerer implements it.
type Answerer interface {
	Answer(ctx context.Context, req pipeline.Request) (pipeline.Result, error)
	Search(ctx context.Context, role roles.Role, query string, limit int) ([]retrieval.Scored, error)
}

// IndexStatus reports which role indexes can be served.
// *retrieval.Retriever implements it.
type IndexStatus interface {
	Available() map[roles.Role]bool
}

// Deps holds the dependencies of the HTTP handler.
type Deps struct {
	Directory   auth.Directory
	Logins      *auth.Sessions
	Answerer    Answerer
	Transcripts session.Store
	Indexes     IndexStatus
	Store       *storage.Store // optional; management routes need it
	AdminToken  string         // management routes are mounted only when set
}

// NewHandler returns the HTTP API.
func NewHandler(deps Deps) http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)

	r.Get("/health", handleHealth)
	r.Get("/roles", handleRoles(deps))
	r.Method(http.MethodGet, "/metrics", metrics.Handler())
	r.Post("/login", handleLogin(deps))
	r.Post("/logout", handleLogout(deps))
	r.Post("/chat", handleChat(deps))

	if deps.AdminToken != "" && deps.Store != nil {
		r.Route("/admin", func(r chi.Router) {
			r.Use(BearerAuth(deps.AdminToken))
			r.Get("/interactions", handleListInteractions(deps))
			r.Get("/interactions/{id}", handleGetInteraction(deps))
			r.Delete("/sessions/{id}", handleDeleteSession(deps))
		})
	}

	return r
}

func handleHealth(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.Write([]byte(`{"status":"ok"}`))
}

type roleStatus struct {
	Role    roles.Role `json:"role"`
	Indexed bool       `json:"indexed"`
}

func handleRoles(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var avail map[roles.Role]bool
		if deps.Indexes != nil {
			avail = deps.Indexes.Available()
		}
		out := make([]roleStatus, 0, len(roles.All()))
		for _, role := range roles.All() {
			out = append(out, roleStatus{Role: role, Indexed: avail[role]})
		}
		writeJSON(w, http.StatusOK, map[string]any{"roles": out})
	}
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(v)
}

func httpError(w http.ResponseWriter, code int, errType string, format string, args ...any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	msg := fmt.Sprintf(format, args...)
	json.NewEncoder(w).Encode(map[string]any{
		"error": map[string]any{
			"message": msg,
			"type":    errType,
		},
	})
}
