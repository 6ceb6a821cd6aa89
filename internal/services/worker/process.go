package worker

import (
	"context"
	"errors"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"time"

	"github.com/skaldhq/skald/internal/models"
)

// fallbackDurationSec applies when neither the client estimate, the media
// probe, nor the size heuristic yields a total duration.
const fallbackDurationSec = 300.0

// processJob runs one leased job through the pipeline and records the
// outcome. The job context is detached from the run-loop context so an
// in-flight job survives a shutdown signal; each stage carries its own
// timeout instead.
func (w *Worker) processJob(ctx context.Context, job *models.TranscriptionJob) {
	jobCtx := context.WithoutCancel(ctx)
	start := w.now()

	w.logger.Info().
		Str("job_id", job.ID).
		Str("user_id", job.UserID).
		Str("object_key", job.ObjectKey).
		Int("attempt", job.AttemptCount).
		Int("max_attempts", job.MaxAttempts).
		Msg("Processing job")

	hbCtx, stopHeartbeat := context.WithCancel(jobCtx)
	defer stopHeartbeat()
	w.safeGo("heartbeat-"+job.ID, func() { w.heartbeatLoop(hbCtx, job.ID) })

	result, err := w.runPipeline(jobCtx, job)
	durationMS := w.now().Sub(start).Milliseconds()

	if err != nil {
		permanent := isPermanent(err)
		w.logger.Warn().
			Str("job_id", job.ID).
			Int("attempt", job.AttemptCount).
			Bool("permanent", permanent).
			Int64("duration_ms", durationMS).
			Err(err).
			Msg("Job failed")
		if markErr := w.jobs.MarkFailed(jobCtx, job.ID, err.Error(), permanent); markErr != nil {
			w.logger.Error().Str("job_id", job.ID).Err(markErr).Msg("Failed to record job failure")
		}
		return
	}

	if markErr := w.jobs.MarkDone(jobCtx, job.ID, result); markErr != nil {
		w.logger.Error().Str("job_id", job.ID).Err(markErr).Msg("Failed to record job completion")
		return
	}

	w.reconcileQuota(jobCtx, job, result)

	w.logger.Info().
		Str("job_id", job.ID).
		Float64("media_duration_sec", result.DurationSec).
		Int("segments", len(result.Segments)).
		Int64("duration_ms", durationMS).
		Msg("Job completed")
}

// runPipeline executes download, transcription and finalization for one job.
func (w *Worker) runPipeline(ctx context.Context, job *models.TranscriptionJob) (*models.TranscriptionResult, error) {
	// Keys are validated at submission; re-check before touching the
	// filesystem in case a job was enqueued through another path.
	if err := models.ValidateObjectKey(job.ObjectKey, job.UserID); err != nil {
		return nil, err
	}

	w.setStage(ctx, job.ID, models.StageDownloading, 0)

	tmpDir, err := os.MkdirTemp(w.config.TempDir, "skald-job-")
	if err != nil {
		return nil, fmt.Errorf("create temp dir: %w", err)
	}
	defer os.RemoveAll(tmpDir)
	localPath := filepath.Join(tmpDir, filepath.Base(job.ObjectKey))

	dlCtx, cancelDL := context.WithTimeout(ctx, w.config.GetDownloadTimeout())
	defer cancelDL()
	byteCount, err := w.objects.DownloadToPath(dlCtx, job.ObjectKey, localPath)
	if err != nil {
		return nil, err
	}

	totalSec := w.estimateTotalSeconds(ctx, job, localPath, byteCount)

	w.setStage(ctx, job.ID, models.StageTranscribing, 0)
	reporter := w.newProgressReporter(job.ID, totalSec)

	engCtx, cancelEng := context.WithTimeout(ctx, w.engineTimeout)
	defer cancelEng()
	result, err := w.engine.Transcribe(engCtx, localPath, reporter.onProgress)
	if err != nil {
		return nil, err
	}

	w.setStage(ctx, job.ID, models.StageFinalizing, 99)
	return result, nil
}

// estimateTotalSeconds picks the best available total duration for progress
// math: the client estimate, then a media probe, then a size heuristic of one
// minute per megabyte, then a flat fallback.
func (w *Worker) estimateTotalSeconds(ctx context.Context, job *models.TranscriptionJob, localPath string, byteCount int64) float64 {
	if job.EstimatedDurationSec > 0 {
		return float64(job.EstimatedDurationSec)
	}

	if w.probe != nil {
		probeCtx, cancel := context.WithTimeout(ctx, 30*time.Second)
		defer cancel()
		if sec, err := w.probe(probeCtx, localPath); err == nil && sec > 0 {
			return sec
		} else if err != nil {
			w.logger.Debug().Str("job_id", job.ID).Err(err).Msg("Duration probe failed, using size heuristic")
		}
	}

	if byteCount > 0 {
		sec := float64(byteCount) / (1 << 20) * 60
		if sec < 60 {
			sec = 60
		}
		return sec
	}

	return fallbackDurationSec
}

// setStage writes a stage transition, tolerating update failures.
func (w *Worker) setStage(ctx context.Context, jobID string, stage models.JobStage, progress int) {
	update := models.ProgressUpdate{Stage: &stage, Progress: &progress, Heartbeat: true}
	if err := w.jobs.UpdateProgress(ctx, jobID, update); err != nil {
		w.logger.Warn().Str("job_id", jobID).Str("stage", string(stage)).Err(err).Msg("Failed to update job stage")
	}
}

// heartbeatLoop refreshes last_heartbeat_at until the job finishes, keeping
// the lock from going stale on long transcriptions.
func (w *Worker) heartbeatLoop(ctx context.Context, jobID string) {
	ticker := time.NewTicker(w.config.GetHeartbeatInterval())
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			beatCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 10*time.Second)
			err := w.jobs.UpdateProgress(beatCtx, jobID, models.ProgressUpdate{Heartbeat: true})
			cancel()
			if err != nil {
				w.logger.Warn().Str("job_id", jobID).Err(err).Msg("Heartbeat write failed")
			}
		}
	}
}

// reconcileQuota settles the submission-time reservation against the actual
// media duration.
func (w *Worker) reconcileQuota(ctx context.Context, job *models.TranscriptionJob, result *models.TranscriptionResult) {
	estimated := models.QuotaMinutes(job.EstimatedDurationSec)
	actual := int(math.Ceil(result.DurationSec / 60))
	if actual < 1 {
		actual = 1
	}
	if err := w.quota.Reconcile(ctx, job.UserID, estimated, actual); err != nil {
		w.logger.Warn().
			Str("job_id", job.ID).
			Str("user_id", job.UserID).
			Int("estimated_minutes", estimated).
			Int("actual_minutes", actual).
			Err(err).
			Msg("Quota reconciliation failed")
	}
}

// isPermanent reports whether a pipeline error should exhaust the job
// immediately instead of being retried.
func isPermanent(err error) bool {
	var keyErr *models.InvalidObjectKeyError
	if errors.As(err, &keyErr) {
		return true
	}
	var mediaErr *models.InvalidMediaError
	if errors.As(err, &mediaErr) {
		return true
	}
	var dlErr *models.DownloadError
	if errors.As(err, &dlErr) {
		return dlErr.Reason == models.DownloadNotFound
	}
	var engErr *models.EngineError
	if errors.As(err, &engErr) {
		return !engErr.Retryable
	}
	return false
}
