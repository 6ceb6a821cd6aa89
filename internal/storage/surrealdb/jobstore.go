package surrealdb

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/skaldhq/skald/internal/common"
	"github.com/skaldhq/skald/internal/interfaces"
	"github.com/skaldhq/skald/internal/models"
	"github.com/surrealdb/surrealdb.go"
	surrealmodels "github.com/surrealdb/surrealdb.go/pkg/models"
)

// jobSelectFields lists the fields to select from transcription_jobs,
// aliasing job_id to id for struct mapping.
const jobSelectFields = "job_id AS id, user_id, object_key, recipe_id, status, stage, priority, progress, " +
	"attempt_count, max_attempts, next_attempt_at, locked_by, locked_at, last_heartbeat_at, " +
	"estimated_duration_sec, duration_sec, language, transcript_text, segments, model_version, " +
	"error_message, created_at, started_at, finished_at"

// claimAttempts bounds the candidate-select/claim loop when racing other workers.
const claimAttempts = 3

// JobStore implements interfaces.JobStore using SurrealDB.
//
// Every statement in SurrealDB runs as its own transaction, so each mutation
// here is a single conditional UPDATE: the WHERE clause is the lock.
type JobStore struct {
	db     *surrealdb.DB
	logger *common.Logger
}

// NewJobStore creates a new JobStore.
func NewJobStore(db *surrealdb.DB, logger *common.Logger) *JobStore {
	return &JobStore{db: db, logger: logger}
}

func (s *JobStore) Enqueue(ctx context.Context, job *models.TranscriptionJob) error {
	if job.ID == "" {
		job.ID = uuid.New().String()
	}
	if job.Status == "" {
		job.Status = models.JobStatusQueued
	}
	if job.Stage == "" {
		job.Stage = models.StageQueued
	}
	if job.CreatedAt.IsZero() {
		job.CreatedAt = time.Now().UTC()
	}
	if job.MaxAttempts == 0 {
		job.MaxAttempts = models.DefaultMaxAttempts
	}

	sql := `UPSERT $rid SET
		job_id = $job_id, user_id = $user_id, object_key = $object_key, recipe_id = $recipe_id,
		status = $status, stage = $stage, priority = $priority, progress = $progress,
		attempt_count = $attempt_count, max_attempts = $max_attempts, next_attempt_at = $next_attempt_at,
		locked_by = $locked_by, locked_at = $locked_at, last_heartbeat_at = $last_heartbeat_at,
		estimated_duration_sec = $estimated_duration_sec, duration_sec = $duration_sec,
		language = $language, transcript_text = $transcript_text, segments = $segments,
		model_version = $model_version, error_message = $error_message,
		created_at = $created_at, started_at = $started_at, finished_at = $finished_at`
	vars := map[string]any{
		"rid":                    surrealmodels.NewRecordID("transcription_jobs", job.ID),
		"job_id":                 job.ID,
		"user_id":                job.UserID,
		"object_key":             job.ObjectKey,
		"recipe_id":              job.RecipeID,
		"status":                 job.Status,
		"stage":                  job.Stage,
		"priority":               job.Priority,
		"progress":               job.Progress,
		"attempt_count":          job.AttemptCount,
		"max_attempts":           job.MaxAttempts,
		"next_attempt_at":        job.NextAttemptAt,
		"locked_by":              job.LockedBy,
		"locked_at":              job.LockedAt,
		"last_heartbeat_at":      job.LastHeartbeatAt,
		"estimated_duration_sec": job.EstimatedDurationSec,
		"duration_sec":           job.DurationSec,
		"language":               job.Language,
		"transcript_text":        job.TranscriptText,
		"segments":               job.Segments,
		"model_version":          job.ModelVersion,
		"error_message":          job.ErrorMessage,
		"created_at":             job.CreatedAt,
		"started_at":             job.StartedAt,
		"finished_at":            job.FinishedAt,
	}

	if _, err := surrealdb.Query[any](ctx, s.db, sql, vars); err != nil {
		return &models.RepositoryError{Op: "enqueue", Err: err}
	}
	return nil
}

// LeaseNext claims the next eligible queued job for workerID.
//
// Two-step claim: SELECT the best candidate, then a conditional UPDATE that
// only fires while the job is still QUEUED and eligible. An empty update
// result means another worker won the race; the loop moves to the next
// candidate. This is the skip-locking equivalent for a store without
// SELECT ... FOR UPDATE.
func (s *JobStore) LeaseNext(ctx context.Context, workerID string, now time.Time) (*models.TranscriptionJob, error) {
	selectSQL := "SELECT " + jobSelectFields + " FROM transcription_jobs " +
		"WHERE status = $queued AND (next_attempt_at = NONE OR next_attempt_at <= $now) " +
		"ORDER BY priority DESC, created_at ASC, job_id ASC LIMIT 1"

	claimSQL := `UPDATE $rid SET
		status = $running, stage = $downloading, progress = 0,
		locked_by = $worker, locked_at = $now, started_at = $now, last_heartbeat_at = $now,
		attempt_count += 1, error_message = $empty
		WHERE status = $queued AND (next_attempt_at = NONE OR next_attempt_at <= $now)
		RETURN VALUE attempt_count`

	for attempt := 0; attempt < claimAttempts; attempt++ {
		vars := map[string]any{
			"queued": models.JobStatusQueued,
			"now":    now,
		}
		candidates, err := surrealdb.Query[[]models.TranscriptionJob](ctx, s.db, selectSQL, vars)
		if err != nil {
			return nil, &models.RepositoryError{Op: "lease_select", Err: err}
		}
		if candidates == nil || len(*candidates) == 0 || len((*candidates)[0].Result) == 0 {
			return nil, nil
		}
		candidate := (*candidates)[0].Result[0]

		claimVars := map[string]any{
			"rid":         surrealmodels.NewRecordID("transcription_jobs", candidate.ID),
			"running":     models.JobStatusRunning,
			"downloading": models.StageDownloading,
			"queued":      models.JobStatusQueued,
			"worker":      workerID,
			"now":         now,
			"empty":       "",
		}
		claimed, err := surrealdb.Query[[]int](ctx, s.db, claimSQL, claimVars)
		if err != nil {
			return nil, &models.RepositoryError{Op: "lease_claim", Err: err}
		}
		if claimed == nil || len(*claimed) == 0 || len((*claimed)[0].Result) == 0 {
			// Lost the race; try the next candidate.
			continue
		}

		candidate.Status = models.JobStatusRunning
		candidate.Stage = models.StageDownloading
		candidate.Progress = 0
		candidate.LockedBy = workerID
		candidate.LockedAt = now
		candidate.StartedAt = now
		candidate.LastHeartbeatAt = now
		candidate.AttemptCount = (*claimed)[0].Result[0]
		candidate.ErrorMessage = ""
		return &candidate, nil
	}

	return nil, nil
}

// MarkDone finalizes a job with its result. Unconditional on the job id:
// a re-leased job that still produced a full transcript wins over a retry.
func (s *JobStore) MarkDone(ctx context.Context, jobID string, result *models.TranscriptionResult) error {
	sql := `UPDATE $rid SET
		status = $done, stage = $done_stage, progress = 100, finished_at = $now,
		transcript_text = $text, segments = $segments, language = $language,
		duration_sec = $duration, model_version = $model,
		locked_by = NONE, locked_at = NONE, error_message = NONE
		RETURN VALUE job_id`
	vars := map[string]any{
		"rid":        surrealmodels.NewRecordID("transcription_jobs", jobID),
		"done":       models.JobStatusDone,
		"done_stage": models.StageDone,
		"now":        time.Now().UTC(),
		"text":       result.Text,
		"segments":   result.Segments,
		"language":   result.Language,
		"duration":   result.DurationSec,
		"model":      result.ModelVersion,
	}

	updated, err := surrealdb.Query[[]string](ctx, s.db, sql, vars)
	if err != nil {
		return &models.RepositoryError{Op: "mark_done", Err: err}
	}
	if updated == nil || len(*updated) == 0 || len((*updated)[0].Result) == 0 {
		return &models.JobNotFoundError{ID: jobID}
	}
	return nil
}

// MarkFailed records a failure outcome for a job. Retryable failures under
// the attempt budget go back to QUEUED with exponential backoff; permanent
// failures and exhausted budgets go to FAILED. The write is guarded by a
// compare-and-set on attempt_count so a concurrent sweep and worker cannot
// both apply an outcome for the same attempt.
func (s *JobStore) MarkFailed(ctx context.Context, jobID, message string, permanent bool) error {
	type attemptRow struct {
		AttemptCount int `json:"attempt_count"`
		MaxAttempts  int `json:"max_attempts"`
	}

	for attempt := 0; attempt < claimAttempts; attempt++ {
		selectSQL := "SELECT attempt_count, max_attempts FROM $rid"
		rows, err := surrealdb.Query[[]attemptRow](ctx, s.db, selectSQL, map[string]any{
			"rid": surrealmodels.NewRecordID("transcription_jobs", jobID),
		})
		if err != nil {
			return &models.RepositoryError{Op: "mark_failed_read", Err: err}
		}
		if rows == nil || len(*rows) == 0 || len((*rows)[0].Result) == 0 {
			return &models.JobNotFoundError{ID: jobID}
		}
		row := (*rows)[0].Result[0]

		now := time.Now().UTC()
		var (
			sql  string
			vars map[string]any
		)
		if permanent || row.AttemptCount >= row.MaxAttempts {
			sql = `UPDATE $rid SET
				status = $failed, stage = $failed_stage, finished_at = $now,
				error_message = $message, locked_by = NONE, locked_at = NONE
				WHERE attempt_count = $seen RETURN VALUE job_id`
			vars = map[string]any{
				"rid":          surrealmodels.NewRecordID("transcription_jobs", jobID),
				"failed":       models.JobStatusFailed,
				"failed_stage": models.StageFailed,
				"now":          now,
				"message":      message,
				"seen":         row.AttemptCount,
			}
		} else {
			sql = `UPDATE $rid SET
				status = $queued, stage = $queued_stage, progress = 0,
				error_message = $message, next_attempt_at = $retry_at,
				locked_by = NONE, locked_at = NONE
				WHERE attempt_count = $seen RETURN VALUE job_id`
			vars = map[string]any{
				"rid":          surrealmodels.NewRecordID("transcription_jobs", jobID),
				"queued":       models.JobStatusQueued,
				"queued_stage": models.StageQueued,
				"message":      message,
				"retry_at":     now.Add(BackoffDelay(row.AttemptCount)),
				"seen":         row.AttemptCount,
			}
		}

		updated, err := surrealdb.Query[[]string](ctx, s.db, sql, vars)
		if err != nil {
			return &models.RepositoryError{Op: "mark_failed", Err: err}
		}
		if updated != nil && len(*updated) > 0 && len((*updated)[0].Result) > 0 {
			return nil
		}
		// attempt_count moved underneath us; re-read and retry.
	}

	return &models.RepositoryError{Op: "mark_failed", Err: fmt.Errorf("job %s: concurrent attempt_count churn", jobID)}
}

// BackoffDelay returns the retry delay after the given attempt: 1, 2, 4, 8
// minutes for attempts 1 through 4.
func BackoffDelay(attemptCount int) time.Duration {
	n := attemptCount - 1
	if n < 0 {
		n = 0
	}
	if n > 6 {
		n = 6
	}
	return time.Duration(1<<n) * time.Minute
}

func (s *JobStore) UpdateProgress(ctx context.Context, jobID string, update models.ProgressUpdate) error {
	sets := ""
	vars := map[string]any{
		"rid": surrealmodels.NewRecordID("transcription_jobs", jobID),
	}
	if update.Stage != nil {
		sets += "stage = $stage, "
		vars["stage"] = *update.Stage
	}
	if update.Progress != nil {
		sets += "progress = $progress, "
		vars["progress"] = *update.Progress
	}
	if update.Heartbeat {
		sets += "last_heartbeat_at = $hb, "
		vars["hb"] = time.Now().UTC()
	}
	if sets == "" {
		return nil
	}
	sql := "UPDATE $rid SET " + sets[:len(sets)-2]

	if _, err := surrealdb.Query[any](ctx, s.db, sql, vars); err != nil {
		return &models.RepositoryError{Op: "update_progress", Err: err}
	}
	return nil
}

// Cancel moves a QUEUED job owned by userID to CANCELLED. A job already
// leased keeps running; a finished job stays finished.
func (s *JobStore) Cancel(ctx context.Context, jobID, userID string) (bool, error) {
	sql := `UPDATE $rid SET status = $cancelled, finished_at = $now
		WHERE user_id = $user AND status = $queued RETURN VALUE job_id`
	vars := map[string]any{
		"rid":       surrealmodels.NewRecordID("transcription_jobs", jobID),
		"cancelled": models.JobStatusCancelled,
		"now":       time.Now().UTC(),
		"user":      userID,
		"queued":    models.JobStatusQueued,
	}

	updated, err := surrealdb.Query[[]string](ctx, s.db, sql, vars)
	if err != nil {
		return false, &models.RepositoryError{Op: "cancel", Err: err}
	}
	return updated != nil && len(*updated) > 0 && len((*updated)[0].Result) > 0, nil
}

// ReleaseStaleLocks recovers RUNNING jobs whose lock is older than ttl —
// workers that died without releasing. Jobs with budget left are re-queued
// with backoff (attempt_count unchanged; the next lease increments it);
// exhausted jobs go to FAILED. Each release is guarded so a job that moved
// since the scan is skipped, which makes concurrent sweeps safe.
func (s *JobStore) ReleaseStaleLocks(ctx context.Context, ttl time.Duration) (int, error) {
	cutoff := time.Now().UTC().Add(-ttl)

	selectSQL := "SELECT " + jobSelectFields + " FROM transcription_jobs " +
		"WHERE status = $running AND locked_at != NONE AND locked_at < $cutoff"
	stale, err := surrealdb.Query[[]models.TranscriptionJob](ctx, s.db, selectSQL, map[string]any{
		"running": models.JobStatusRunning,
		"cutoff":  cutoff,
	})
	if err != nil {
		return 0, &models.RepositoryError{Op: "stale_select", Err: err}
	}
	if stale == nil || len(*stale) == 0 {
		return 0, nil
	}

	released := 0
	for _, job := range (*stale)[0].Result {
		now := time.Now().UTC()
		var (
			sql  string
			vars map[string]any
		)
		if job.AttemptCount >= job.MaxAttempts {
			sql = `UPDATE $rid SET
				status = $failed, stage = $failed_stage, finished_at = $now,
				error_message = $message, locked_by = NONE, locked_at = NONE
				WHERE status = $running AND locked_at < $cutoff RETURN VALUE job_id`
			vars = map[string]any{
				"rid":          surrealmodels.NewRecordID("transcription_jobs", job.ID),
				"failed":       models.JobStatusFailed,
				"failed_stage": models.StageFailed,
				"now":          now,
				"message":      "lock timed out",
				"running":      models.JobStatusRunning,
				"cutoff":       cutoff,
			}
		} else {
			sql = `UPDATE $rid SET
				status = $queued, stage = $queued_stage, progress = 0,
				error_message = $message, next_attempt_at = $retry_at,
				locked_by = NONE, locked_at = NONE
				WHERE status = $running AND locked_at < $cutoff RETURN VALUE job_id`
			vars = map[string]any{
				"rid":          surrealmodels.NewRecordID("transcription_jobs", job.ID),
				"queued":       models.JobStatusQueued,
				"queued_stage": models.StageQueued,
				"message":      "lock timed out",
				"retry_at":     now.Add(BackoffDelay(job.AttemptCount)),
				"running":      models.JobStatusRunning,
				"cutoff":       cutoff,
			}
		}

		updated, err := surrealdb.Query[[]string](ctx, s.db, sql, vars)
		if err != nil {
			return released, &models.RepositoryError{Op: "stale_release", Err: err}
		}
		if updated != nil && len(*updated) > 0 && len((*updated)[0].Result) > 0 {
			released++
			s.logger.Warn().
				Str("job_id", job.ID).
				Str("locked_by", job.LockedBy).
				Int("attempt_count", job.AttemptCount).
				Msg("Released stale job lock")
		}
	}
	return released, nil
}

func (s *JobStore) GetByID(ctx context.Context, jobID, userID string) (*models.TranscriptionJob, error) {
	sql := "SELECT " + jobSelectFields + " FROM $rid"
	vars := map[string]any{
		"rid": surrealmodels.NewRecordID("transcription_jobs", jobID),
	}
	if userID != "" {
		sql += " WHERE user_id = $user"
		vars["user"] = userID
	}

	results, err := surrealdb.Query[[]models.TranscriptionJob](ctx, s.db, sql, vars)
	if err != nil {
		return nil, &models.RepositoryError{Op: "get_by_id", Err: err}
	}
	if results == nil || len(*results) == 0 || len((*results)[0].Result) == 0 {
		return nil, &models.JobNotFoundError{ID: jobID}
	}
	job := (*results)[0].Result[0]
	return &job, nil
}

func (s *JobStore) ListByUser(ctx context.Context, userID string, limit, offset int) ([]*models.TranscriptionJob, error) {
	if limit <= 0 {
		limit = 50
	}
	if offset < 0 {
		offset = 0
	}
	sql := "SELECT " + jobSelectFields + " FROM transcription_jobs " +
		"WHERE user_id = $user ORDER BY created_at DESC LIMIT $limit START $start"
	vars := map[string]any{
		"user":  userID,
		"limit": limit,
		"start": offset,
	}

	results, err := surrealdb.Query[[]models.TranscriptionJob](ctx, s.db, sql, vars)
	if err != nil {
		return nil, &models.RepositoryError{Op: "list_by_user", Err: err}
	}

	var jobs []*models.TranscriptionJob
	if results != nil && len(*results) > 0 {
		for i := range (*results)[0].Result {
			jobs = append(jobs, &(*results)[0].Result[i])
		}
	}
	return jobs, nil
}

func (s *JobStore) CountByStatus(ctx context.Context, status models.JobStatus) (int, error) {
	sql := "SELECT count() AS cnt FROM transcription_jobs WHERE status = $status GROUP ALL"
	vars := map[string]any{"status": status}

	type countResult struct {
		Cnt int `json:"cnt"`
	}

	results, err := surrealdb.Query[[]countResult](ctx, s.db, sql, vars)
	if err != nil {
		return 0, &models.RepositoryError{Op: "count_by_status", Err: err}
	}

	if results != nil && len(*results) > 0 && len((*results)[0].Result) > 0 {
		return (*results)[0].Result[0].Cnt, nil
	}
	return 0, nil
}

// Compile-time check
var _ interfaces.JobStore = (*JobStore)(nil)
