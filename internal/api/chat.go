package api

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strings"

	"github.com/kalambet/rolechat/internal/auth"
	"github.com/kalambet/rolechat/internal/metrics"
	"github.com/kalambet/rolechat/internal/pipeline"
	"github.com/kalambet/rolechat/internal/retrieval"
	"github.com/kalambet/rolechat/internal/roles"
)

// LoginRequest is the body of POST /login.
type LoginRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
	Role     string `json:"role"`
}

// LoginResponse is returned by a successful POST /login.
type LoginResponse struct {
	Message   string `json:"message"`
	SessionID string `json:"session_id"`
}

// ChatRequest is the body of POST /chat.
type ChatRequest struct {
	Query     string `json:"query"`
	Role      string `json:"role"`
	SessionID string `json:"session_id"`
}

// ChatResponse is returned by POST /chat.
type ChatResponse struct {
	Response string            `json:"response"`
	Sources  []pipeline.Source `json:"sources,omitempty"`
}

// LogoutRequest is the body of POST /logout.
type LogoutRequest struct {
	SessionID string `json:"session_id"`
}

func decodeBody(w http.ResponseWriter, r *http.Request, v any) bool {
	r.Body = http.MaxBytesReader(w, r.Body, maxRequestBodySize)
	defer r.Body.Close()
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		httpError(w, http.StatusBadRequest, "invalid_request_error", "invalid request body: %v", err)
		return false
	}
	return true
}

func handleLogin(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req LoginRequest
		if !decodeBody(w, r, &req) {
			return
		}
		if req.Username == "" || req.Password == "" || req.Role == "" {
			httpError(w, http.StatusBadRequest, "invalid_request_error", "username, password and role are required")
			return
		}
		role, err := roles.Parse(req.Role)
		if err != nil {
			httpError(w, http.StatusBadRequest, "invalid_request_error", "%v", err)
			return
		}

		cred, err := auth.Authenticate(deps.Directory, req.Username, req.Password, role)
		switch {
		case errors.Is(err, auth.ErrInvalidCredentials), errors.Is(err, auth.ErrRoleMismatch):
			slog.Info("login rejected", "username", req.Username, "role", role, "reason", err)
			httpError(w, http.StatusUnauthorized, "authentication_error", "%v", err)
			return
		case err != nil:
			httpError(w, http.StatusInternalServerError, "api_error", "login failed: %v", err)
			return
		}

		id := deps.Logins.Issue(cred.Username, cred.Role)
		slog.Info("login", "username", cred.Username, "role", cred.Role)
		writeJSON(w, http.StatusOK, LoginResponse{Message: "Login successful", SessionID: id})
	}
}

func handleLogout(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req LogoutRequest
		if !decodeBody(w, r, &req) {
			return
		}
		if req.SessionID == "" {
			httpError(w, http.StatusBadRequest, "invalid_request_error", "session_id is required")
			return
		}
		if !deps.Logins.Revoke(req.SessionID) {
			httpError(w, http.StatusUnauthorized, "authentication_error", "unknown session")
			return
		}
		if deps.Transcripts != nil {
			deps.Transcripts.Evict(req.SessionID)
		}
		writeJSON(w, http.StatusOK, map[string]string{"message": "Logged out"})
	}
}

func handleChat(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req ChatRequest
		if !decodeBody(w, r, &req) {
			metrics.ChatRequest("", metrics.OutcomeBadRequest)
			return
		}
		if strings.TrimSpace(req.Query) == "" {
			metrics.ChatRequest(req.Role, metrics.OutcomeBadRequest)
			httpError(w, http.StatusBadRequest, "invalid_request_error", "query is required and must not be empty")
			return
		}
		role, err := roles.Parse(req.Role)
		if err != nil {
			metrics.ChatRequest("", metrics.OutcomeBadRequest)
			httpError(w, http.StatusBadRequest, "invalid_request_error", "%v", err)
			return
		}
		if req.SessionID == "" {
			metrics.ChatRequest(string(role), metrics.OutcomeBadRequest)
			httpError(w, http.StatusBadRequest, "invalid_request_error", "session_id is required; obtain one from /login")
			return
		}
		principal, ok := deps.Logins.Resolve(req.SessionID)
		if !ok {
			metrics.ChatRequest(string(role), metrics.OutcomeUnauthorized)
			httpError(w, http.StatusUnauthorized, "authentication_error", "unknown session")
			return
		}
		if principal.Role != role {
			metrics.ChatRequest(string(role), metrics.OutcomeUnauthorized)
			httpError(w, http.StatusUnauthorized, "authentication_error", "%v: session is bound to role %s", auth.ErrRoleMismatch, principal.Role)
			return
		}

		res, err := deps.Answerer.Answer(r.Context(), pipeline.Request{
			Query:     req.Query,
			Role:      role,
			SessionID: req.SessionID,
			Username:  principal.Username,
		})
		if err != nil {
			writeAnswerError(w, role, err)
			return
		}
		writeJSON(w, http.StatusOK, ChatResponse{Response: res.Answer, Sources: res.Sources})
	}
}

// writeAnswerError maps query path failures to status codes.
func writeAnswerError(w http.ResponseWriter, role roles.Role, err error) {
	switch {
	case errors.Is(err, retrieval.ErrIndexNotFound):
		httpError(w, http.StatusNotFound, "not_found", "role index unavailable for %s; run ingestion first", role)
	case errors.Is(err, pipeline.ErrEmptyQuery), errors.Is(err, roles.ErrUnknownRole):
		httpError(w, http.StatusBadRequest, "invalid_request_error", "%v", err)
	case errors.Is(err, pipeline.ErrEmbedding):
		slog.Error("query embedding failed", "role", role, "error", err)
		httpError(w, http.StatusInternalServerError, "api_error", "%v", err)
	default:
		slog.Error("chat failed", "role", role, "error", err)
		httpError(w, http.StatusInternalServerError, "api_error", "%v", err)
	}
}
