package api

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/kalambet/rolechat/internal/storage"
)

func handleListInteractions(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		limit := parseIntParam(r, "limit", 20, 100)
		offset := parseIntParam(r, "offset", 0, 0)

		interactions, err := deps.Store.ListInteractions(limit, offset)
		if err != nil {
			httpError(w, http.StatusInternalServerError, "api_error", "failed to list interactions: %v", err)
			return
		}

		if interactions == nil {
			interactions = []storage.Interaction{}
		}
		writeJSON(w, http.StatusOK, interactions)
	}
}

func handleGetInteraction(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id := chi.URLParam(r, "id")

		interaction, err := deps.Store.GetInteraction(id)
		if errors.Is(err, storage.ErrNotFound) {
			httpError(w, http.StatusNotFound, "not_found", "interaction not found")
			return
		}
		if err != nil {
			httpError(w, http.StatusInternalServerError, "api_error", "failed to get interaction: %v", err)
			return
		}
		writeJSON(w, http.StatusOK, interaction)
	}
}

// handleDeleteSession forgets everything tied to a session: the login, the
// in-memory transcript and the logged interactions.
func handleDeleteSession(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id := chi.URLParam(r, "id")

		revoked := deps.Logins.Revoke(id)
		if deps.Transcripts != nil {
			deps.Transcripts.Evict(id)
		}
		deleted, err := deps.Store.DeleteSessionInteractions(id)
		if err != nil {
			httpError(w, http.StatusInternalServerError, "api_error", "failed to delete interactions: %v", err)
			return
		}
		if !revoked && deleted == 0 {
			httpError(w, http.StatusNotFound, "not_found", "session not found")
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{
			"session_id":           id,
			"interactions_deleted": deleted,
		})
	}
}

func parseIntParam(r *http.Request, key string, defaultVal, maxVal int) int {
	s := r.URL.Query().Get(key)
	if s == "" {
		return defaultVal
	}
	v, err := strconv.Atoi(s)
	if err != nil || v < 0 {
		return defaultVal
	}
	if maxVal > 0 && v > maxVal {
		return maxVal
	}
	return v
}
