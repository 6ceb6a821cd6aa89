package worker

import (
	"context"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/skaldhq/skald/internal/models"
)

// progressReporter turns engine progress callbacks into throttled store
// writes. Progress is monotone non-decreasing and capped at 99; only MarkDone
// reports 100.
type progressReporter struct {
	w        *Worker
	jobID    string
	totalSec float64
	limiter  *rate.Limiter

	mu      sync.Mutex
	lastPct int
}

func (w *Worker) newProgressReporter(jobID string, totalSec float64) *progressReporter {
	return &progressReporter{
		w:        w,
		jobID:    jobID,
		totalSec: totalSec,
		limiter:  rate.NewLimiter(rate.Every(w.config.GetProgressInterval()), 1),
		lastPct:  -1,
	}
}

// onProgress is invoked by the engine as transcribed spans complete.
func (r *progressReporter) onProgress(processedSec float64) {
	pct := 0
	if r.totalSec > 0 {
		pct = int(processedSec / r.totalSec * 100)
	}
	if pct > 99 {
		pct = 99
	}

	r.mu.Lock()
	if pct <= r.lastPct || !r.limiter.Allow() {
		r.mu.Unlock()
		return
	}
	r.lastPct = pct
	r.mu.Unlock()

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	update := models.ProgressUpdate{Progress: &pct, Heartbeat: true}
	if err := r.w.jobs.UpdateProgress(ctx, r.jobID, update); err != nil {
		r.w.logger.Debug().Str("job_id", r.jobID).Int("progress", pct).Err(err).Msg("Progress write failed")
	}
}
