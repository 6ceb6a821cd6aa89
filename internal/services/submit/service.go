// Package submit validates and enqueues transcription jobs.
package submit

import (
	"context"
	"fmt"

	"github.com/skaldhq/skald/internal/common"
	"github.com/skaldhq/skald/internal/interfaces"
	"github.com/skaldhq/skald/internal/models"
)

const (
	// MaxEstimatedDurationSec caps client estimates at two hours.
	MaxEstimatedDurationSec = 7200

	// MaxPriority bounds the priority range accepted at submission.
	MaxPriority = 10
)

// Service implements interfaces.SubmitService.
type Service struct {
	jobs    interfaces.JobStore
	quota   interfaces.QuotaService
	objects interfaces.ObjectStore
	logger  *common.Logger
}

// NewService creates a submit service. objects may be nil, which skips the
// upload existence probe.
func NewService(jobs interfaces.JobStore, quota interfaces.QuotaService, objects interfaces.ObjectStore, logger *common.Logger) *Service {
	return &Service{
		jobs:    jobs,
		quota:   quota,
		objects: objects,
		logger:  logger,
	}
}

// Submit validates the request, reserves quota for the estimated duration and
// enqueues the job. Ownership violations, validation failures and quota
// exhaustion come back as typed errors so the transport layer can map them to
// the right status codes.
func (s *Service) Submit(ctx context.Context, userID string, req models.SubmitRequest) (*models.TranscriptionJob, error) {
	if err := models.ValidateObjectKey(req.ObjectKey, userID); err != nil {
		return nil, err
	}
	if req.EstimatedDurationSec < 0 || req.EstimatedDurationSec > MaxEstimatedDurationSec {
		return nil, &models.ValidationError{
			Field:   "estimated_duration_sec",
			Message: fmt.Sprintf("must be between 1 and %d seconds", MaxEstimatedDurationSec),
		}
	}
	if req.Priority < 0 || req.Priority > MaxPriority {
		return nil, &models.ValidationError{
			Field:   "priority",
			Message: fmt.Sprintf("must be between 0 and %d", MaxPriority),
		}
	}

	if s.objects != nil {
		exists, err := s.objects.ObjectExists(ctx, req.ObjectKey)
		if err != nil {
			// Object store outage must not block submission; the worker will
			// surface a missing object as a permanent failure later.
			s.logger.Warn().
				Err(err).
				Str("object_key", req.ObjectKey).
				Msg("Object existence check unavailable, continuing")
		} else if !exists {
			return nil, &models.ValidationError{
				Field:   "object_key",
				Message: "object has not been uploaded",
			}
		}
	}

	estimatedMinutes := models.QuotaMinutes(req.EstimatedDurationSec)
	check, err := s.quota.Reserve(ctx, userID, estimatedMinutes)
	if err != nil {
		return nil, err
	}
	if !check.Allowed {
		return nil, &models.QuotaExceededError{
			Message:          check.Reason,
			MinutesRemaining: check.MinutesRemaining,
		}
	}

	job := &models.TranscriptionJob{
		UserID:               userID,
		ObjectKey:            req.ObjectKey,
		RecipeID:             req.RecipeID,
		Priority:             req.Priority,
		EstimatedDurationSec: req.EstimatedDurationSec,
	}
	if err := s.jobs.Enqueue(ctx, job); err != nil {
		// The reservation has already been taken; give the minutes back so a
		// store failure does not silently burn quota.
		if rerr := s.quota.Reconcile(ctx, userID, estimatedMinutes, 0); rerr != nil {
			s.logger.Error().
				Err(rerr).
				Str("user_id", userID).
				Msg("Failed to release quota after enqueue error")
		}
		return nil, err
	}

	s.logger.Info().
		Str("job_id", job.ID).
		Str("user_id", userID).
		Str("object_key", req.ObjectKey).
		Int("priority", job.Priority).
		Int("estimated_minutes", estimatedMinutes).
		Msg("Transcription job submitted")

	return job, nil
}

// Compile-time check
var _ interfaces.SubmitService = (*Service)(nil)
