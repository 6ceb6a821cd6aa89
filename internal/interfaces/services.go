package interfaces

import (
	"context"

	"github.com/skaldhq/skald/internal/models"
)

// QuotaService manages daily transcription minute limits.
type QuotaService interface {
	// Reserve atomically reserves minutes against today's quota. When the
	// store is unreachable the reservation is allowed with a reason set, so
	// a quota outage never blocks submission.
	Reserve(ctx context.Context, userID string, minutes int) (*models.QuotaCheck, error)

	// Reconcile settles estimated vs actual minutes after a job completes.
	Reconcile(ctx context.Context, userID string, estimatedMinutes, actualMinutes int) error

	// GetUsage returns today's usage for the user.
	GetUsage(ctx context.Context, userID string) (*models.UsageDaily, error)

	// RemainingMinutes returns today's remaining minutes, never negative.
	RemainingMinutes(ctx context.Context, userID string) (int, error)
}

// SubmitService validates and enqueues transcription jobs.
type SubmitService interface {
	Submit(ctx context.Context, userID string, req models.SubmitRequest) (*models.TranscriptionJob, error)
}
