package api

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/google/uuid"

	"github.com/phrazzld/recur-api/internal/api/shared"
	"github.com/phrazzld/recur-api/internal/dlq"
)

// DLQHandler exposes operator endpoints for inspecting and retrying dead
// letter queue entries.
type DLQHandler struct {
	service *dlq.Service
	logger  *slog.Logger
}

// NewDLQHandler creates a DLQHandler with the given service.
func NewDLQHandler(service *dlq.Service, logger *slog.Logger) *DLQHandler {
	return &DLQHandler{
		service: service,
		logger:  logger.With("component", "dlq_handler"),
	}
}

// RetryRequest is the payload for retrying a DLQ entry.
type RetryRequest struct {
	EntryID string `json:"entry_id"`
}

// RetryResponse reports the outcome of a manual DLQ retry.
type RetryResponse struct {
	EntryID      string `json:"entry_id"`
	RetryEventID string `json:"retry_event_id"`
	Topic        string `json:"topic"`
}

// ListEntries handles GET /admin/dlq. Supports optional topic and limit
// query parameters.
func (h *DLQHandler) ListEntries(w http.ResponseWriter, r *http.Request) {
	topic := r.URL.Query().Get("topic")

	limit := 0
	if raw := r.URL.Query().Get("limit"); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil || parsed < 1 {
			shared.RespondWithError(w, r, http.StatusBadRequest, "limit must be a positive integer")
			return
		}
		limit = parsed
	}

	entries, err := h.service.List(r.Context(), topic, limit)
	if err != nil {
		shared.RespondWithErrorAndLog(w, r,
			MapErrorToStatusCode(err), GetSafeErrorMessage(err), err)
		return
	}

	shared.RespondWithJSON(w, r, http.StatusOK, map[string]interface{}{
		"entries": entries,
		"count":   len(entries),
	})
}

// RetryEntry handles POST /admin/dlq/retry. The entry's event is republished
// to its source topic under a fresh event ID and the entry is marked retried.
func (h *DLQHandler) RetryEntry(w http.ResponseWriter, r *http.Request) {
	var req RetryRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		shared.RespondWithError(w, r, http.StatusBadRequest, "Invalid request body")
		return
	}

	entryID, err := uuid.Parse(req.EntryID)
	if err != nil {
		shared.RespondWithError(w, r, http.StatusBadRequest, "entry_id must be a valid UUID")
		return
	}

	actor := shared.Subject(r.Context())
	entry, err := h.service.Retry(r.Context(), entryID, actor)
	if err != nil {
		shared.RespondWithErrorAndLog(w, r,
			MapErrorToStatusCode(err), GetSafeErrorMessage(err), err)
		return
	}

	h.logger.Info("DLQ entry retried",
		"entry_id", entryID,
		"retry_event_id", entry.RetryEventID,
		"topic", entry.SourceTopic,
		"actor", actor)

	shared.RespondWithJSON(w, r, http.StatusOK, RetryResponse{
		EntryID:      entry.ID.String(),
		RetryEventID: entry.RetryEventID.String(),
		Topic:        entry.SourceTopic,
	})
}

// Stats handles GET /admin/dlq/stats, returning per-topic entry counts and
// oldest-entry timestamps.
func (h *DLQHandler) Stats(w http.ResponseWriter, r *http.Request) {
	stats, err := h.service.Stats(r.Context())
	if err != nil {
		shared.RespondWithErrorAndLog(w, r,
			MapErrorToStatusCode(err), GetSafeErrorMessage(err), err)
		return
	}

	shared.RespondWithJSON(w, r, http.StatusOK, map[string]interface{}{"topics": stats})
}
