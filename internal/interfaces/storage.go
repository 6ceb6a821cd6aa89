// Package interfaces defines service contracts for Skald
package interfaces

import (
	"context"
	"time"

	"github.com/skaldhq/skald/internal/models"
)

// StorageManager provides access to all stores backed by the shared database.
type StorageManager interface {
	JobStore() JobStore
	UsageStore() UsageStore
	Close() error
}

// JobStore is the durable transcription job repository. All mutations are
// single atomic statements on the store; see LeaseNext for the claim protocol.
type JobStore interface {
	// Enqueue persists a new QUEUED job. Fills ID, status, stage, timestamps
	// and the attempt budget when unset.
	Enqueue(ctx context.Context, job *models.TranscriptionJob) error

	// LeaseNext atomically claims the oldest eligible queued job for workerID,
	// honoring priority ordering and retry backoff. Returns nil when no job is
	// eligible. The claim is conditional on the job still being QUEUED, so
	// concurrent workers can never lease the same job twice.
	LeaseNext(ctx context.Context, workerID string, now time.Time) (*models.TranscriptionJob, error)

	// MarkDone finalizes a job with its transcription result. Unconditional on
	// the job id (last-writer-wins) and idempotent; returns JobNotFoundError
	// if the row does not exist.
	MarkDone(ctx context.Context, jobID string, result *models.TranscriptionResult) error

	// MarkFailed records a failure. Permanent failures and exhausted attempt
	// budgets go to FAILED; otherwise the job is re-queued with exponential
	// backoff. Guarded by a compare-and-set on attempt_count so a concurrent
	// sweep or worker cannot double-apply.
	MarkFailed(ctx context.Context, jobID, message string, permanent bool) error

	// UpdateProgress applies a partial stage/progress/heartbeat update.
	UpdateProgress(ctx context.Context, jobID string, update models.ProgressUpdate) error

	// Cancel moves a QUEUED job owned by userID to CANCELLED. Returns false
	// when the job was not cancellable (not queued, or not owned).
	Cancel(ctx context.Context, jobID, userID string) (bool, error)

	// ReleaseStaleLocks re-queues or fails RUNNING jobs whose lock is older
	// than ttl, returning the number of jobs released.
	ReleaseStaleLocks(ctx context.Context, ttl time.Duration) (int, error)

	// GetByID returns a job. A non-empty userID scopes the read to that owner;
	// an empty userID is a system read.
	GetByID(ctx context.Context, jobID, userID string) (*models.TranscriptionJob, error)

	// ListByUser returns a user's jobs, most recent first.
	ListByUser(ctx context.Context, userID string, limit, offset int) ([]*models.TranscriptionJob, error)

	// CountByStatus counts jobs in the given status across all users.
	CountByStatus(ctx context.Context, status models.JobStatus) (int, error)
}

// UsageStore is the daily quota ledger. ReserveQuota is atomic on the store:
// the check and the increment happen in one conditional statement.
type UsageStore interface {
	ReserveQuota(ctx context.Context, userID, date string, minutes, limit int) (*models.QuotaCheck, error)

	// AdjustUsage applies a signed delta to minutes_used, clamped at zero.
	AdjustUsage(ctx context.Context, userID, date string, delta int) error

	GetUsage(ctx context.Context, userID, date string) (*models.UsageDaily, error)
}
