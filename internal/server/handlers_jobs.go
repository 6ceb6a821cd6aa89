package server

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/skaldhq/skald/internal/common"
	"github.com/skaldhq/skald/internal/models"
)

// handleJobsRoot handles /v2/transcriptions/jobs (collection).
func (s *Server) handleJobsRoot(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodPost:
		s.handleJobSubmit(w, r)
	case http.MethodGet:
		s.handleJobList(w, r)
	default:
		RequireMethod(w, r, http.MethodPost, http.MethodGet)
	}
}

// handleJobSubmit handles POST /v2/transcriptions/jobs.
func (s *Server) handleJobSubmit(w http.ResponseWriter, r *http.Request) {
	userID := common.ResolveUserID(r.Context())
	if userID == "" {
		WriteError(w, http.StatusUnauthorized, "authentication required")
		return
	}

	var req models.SubmitRequest
	if !DecodeJSON(w, r, &req) {
		return
	}

	job, err := s.submit.Submit(r.Context(), userID, req)
	if err != nil {
		WriteDomainError(w, err)
		return
	}

	WriteJSON(w, http.StatusCreated, job)
}

// handleJobList handles GET /v2/transcriptions/jobs?limit=&offset=.
func (s *Server) handleJobList(w http.ResponseWriter, r *http.Request) {
	userID := common.ResolveUserID(r.Context())
	if userID == "" {
		WriteError(w, http.StatusUnauthorized, "authentication required")
		return
	}

	limit := queryInt(r, "limit", 50)
	offset := queryInt(r, "offset", 0)

	jobs, err := s.jobs.ListByUser(r.Context(), userID, limit, offset)
	if err != nil {
		s.logger.Error().Err(err).Str("user_id", userID).Msg("Failed to list jobs")
		WriteError(w, http.StatusInternalServerError, "Internal server error")
		return
	}

	WriteJSON(w, http.StatusOK, map[string]interface{}{
		"jobs":   jobs,
		"limit":  limit,
		"offset": offset,
	})
}

// routeJob dispatches /v2/transcriptions/jobs/{id}.
func (s *Server) routeJob(w http.ResponseWriter, r *http.Request) {
	jobID := PathParam(r, "/v2/transcriptions/jobs/", "")
	if jobID == "" {
		WriteError(w, http.StatusBadRequest, "job id is required in path")
		return
	}

	switch r.Method {
	case http.MethodGet:
		s.handleJobGet(w, r, jobID)
	case http.MethodDelete:
		s.handleJobCancel(w, r, jobID)
	default:
		RequireMethod(w, r, http.MethodGet, http.MethodDelete)
	}
}

// handleJobGet handles GET /v2/transcriptions/jobs/{id}.
// Reads are owner-scoped, so one user can never see another's job.
func (s *Server) handleJobGet(w http.ResponseWriter, r *http.Request, jobID string) {
	userID := common.ResolveUserID(r.Context())
	if userID == "" {
		WriteError(w, http.StatusUnauthorized, "authentication required")
		return
	}

	job, err := s.jobs.GetByID(r.Context(), jobID, userID)
	if err != nil {
		var notFound *models.JobNotFoundError
		if errors.As(err, &notFound) {
			WriteDomainError(w, err)
			return
		}
		s.logger.Error().Err(err).Str("job_id", jobID).Msg("Failed to get job")
		WriteError(w, http.StatusInternalServerError, "Internal server error")
		return
	}

	WriteJSON(w, http.StatusOK, job)
}

// handleJobCancel handles DELETE /v2/transcriptions/jobs/{id}.
// Only QUEUED jobs can be cancelled; anything already running or finished
// reports a conflict.
func (s *Server) handleJobCancel(w http.ResponseWriter, r *http.Request, jobID string) {
	userID := common.ResolveUserID(r.Context())
	if userID == "" {
		WriteError(w, http.StatusUnauthorized, "authentication required")
		return
	}

	cancelled, err := s.jobs.Cancel(r.Context(), jobID, userID)
	if err != nil {
		s.logger.Error().Err(err).Str("job_id", jobID).Msg("Failed to cancel job")
		WriteError(w, http.StatusInternalServerError, "Internal server error")
		return
	}
	if !cancelled {
		// Distinguish a missing job from one past the point of cancellation.
		if _, getErr := s.jobs.GetByID(r.Context(), jobID, userID); getErr != nil {
			var notFound *models.JobNotFoundError
			if errors.As(getErr, &notFound) {
				WriteDomainError(w, getErr)
				return
			}
		}
		WriteErrorWithCode(w, http.StatusConflict, "job is no longer cancellable", "not_cancellable")
		return
	}

	WriteJSON(w, http.StatusOK, map[string]interface{}{
		"job_id": jobID,
		"status": models.JobStatusCancelled,
	})
}

// handleQuota handles GET /v2/transcriptions/quota.
func (s *Server) handleQuota(w http.ResponseWriter, r *http.Request) {
	if !RequireMethod(w, r, http.MethodGet) {
		return
	}
	userID := common.ResolveUserID(r.Context())
	if userID == "" {
		WriteError(w, http.StatusUnauthorized, "authentication required")
		return
	}

	usage, err := s.quota.GetUsage(r.Context(), userID)
	if err != nil {
		s.logger.Error().Err(err).Str("user_id", userID).Msg("Failed to get quota usage")
		WriteError(w, http.StatusInternalServerError, "Internal server error")
		return
	}
	remaining, err := s.quota.RemainingMinutes(r.Context(), userID)
	if err != nil {
		s.logger.Error().Err(err).Str("user_id", userID).Msg("Failed to get remaining minutes")
		WriteError(w, http.StatusInternalServerError, "Internal server error")
		return
	}

	WriteJSON(w, http.StatusOK, map[string]interface{}{
		"date":              usage.Date,
		"minutes_used":      usage.MinutesUsed,
		"minutes_remaining": remaining,
		"daily_limit":       s.config.Quota.DailyLimitMinutes,
		"jobs_count":        usage.JobsCount,
	})
}

// queryInt parses an integer query parameter with a default.
func queryInt(r *http.Request, name string, def int) int {
	v := r.URL.Query().Get(name)
	if v == "" {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil || n < 0 {
		return def
	}
	return n
}
