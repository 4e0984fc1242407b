package activity

import (
	"encoding/json"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/tides-platform/console/internal/shared/errors"
	"github.com/tides-platform/console/internal/shared/logger"
)

// Handler serves the activity log. Callers mount it behind the
// activity_logs permission guard.
type Handler struct {
	log Log
}

func NewHandler(l Log) *Handler {
	return &Handler{log: l}
}

func (h *Handler) Routes() chi.Router {
	r := chi.NewRouter()
	r.Get("/", h.List)
	return r
}

// List returns recent entries.
// Query: actor_id, action, since, until (RFC3339), limit
func (h *Handler) List(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	filter := Filter{
		ActorID: q.Get("actor_id"),
		Action:  q.Get("action"),
	}

	for key, dst := range map[string]**time.Time{"since": &filter.Since, "until": &filter.Until} {
		if v := q.Get(key); v != "" {
			t, err := time.Parse(time.RFC3339, v)
			if err != nil {
				writeError(w, errors.Validation("invalid time", map[string]string{key: "must be RFC3339"}))
				return
			}
			*dst = &t
		}
	}

	if v := q.Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			writeError(w, errors.Validation("invalid limit", map[string]string{"limit": "must be a positive integer"}))
			return
		}
		filter.Limit = n
	}

	entries, err := h.log.List(r.Context(), filter)
	if err != nil {
		logger.From(r.Context()).Error("failed to list activity", logger.Err(err))
		writeError(w, errors.Internal(err))
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"entries": entries,
		"count":   len(entries),
	})
}

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

func writeError(w http.ResponseWriter, err error) {
	appErr, ok := errors.As(err)
	if !ok {
		appErr = errors.Internal(err)
	}
	writeJSON(w, appErr.HTTPStatus, map[string]any{
		"error":   appErr.Message,
		"code":    appErr.Code,
		"details": appErr.Details,
	})
}
