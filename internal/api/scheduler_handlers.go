package api

import (
	"encoding/json"
	"log/slog"
	"net/http"

	"github.com/phrazzld/recur-api/internal/api/shared"
	"github.com/phrazzld/recur-api/internal/scheduler"
)

// SchedulerHandler exposes operator endpoints over the job scheduler.
type SchedulerHandler struct {
	scheduler *scheduler.Scheduler
	logger    *slog.Logger
}

// NewSchedulerHandler creates a SchedulerHandler.
func NewSchedulerHandler(sched *scheduler.Scheduler, logger *slog.Logger) *SchedulerHandler {
	return &SchedulerHandler{
		scheduler: sched,
		logger:    logger.With("component", "scheduler_handler"),
	}
}

// TriggerRequest is the payload for firing a scheduled job immediately.
type TriggerRequest struct {
	JobID string `json:"job_id"`
}

// TriggerJob handles POST /admin/jobs/trigger. The named job is fired now
// rather than at its scheduled time, mainly for manual testing.
func (h *SchedulerHandler) TriggerJob(w http.ResponseWriter, r *http.Request) {
	var req TriggerRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		shared.RespondWithError(w, r, http.StatusBadRequest, "Invalid request body")
		return
	}
	if req.JobID == "" {
		shared.RespondWithError(w, r, http.StatusBadRequest, "job_id is required")
		return
	}

	if err := h.scheduler.TriggerNow(r.Context(), req.JobID); err != nil {
		shared.RespondWithErrorAndLog(w, r,
			MapErrorToStatusCode(err), GetSafeErrorMessage(err), err)
		return
	}

	h.logger.Info("job triggered manually",
		"job_id", req.JobID,
		"actor", shared.Subject(r.Context()))

	shared.RespondWithJSON(w, r, http.StatusAccepted, map[string]string{
		"job_id": req.JobID,
		"status": "triggered",
	})
}

// PendingJobs handles GET /admin/jobs, reporting the queued job count.
func (h *SchedulerHandler) PendingJobs(w http.ResponseWriter, r *http.Request) {
	shared.RespondWithJSON(w, r, http.StatusOK, map[string]int{
		"pending": h.scheduler.PendingCount(),
	})
}
