// Package worker leases transcription jobs and runs them through the
// download / transcribe / finalize pipeline.
package worker

import (
	"context"
	"fmt"
	"runtime/debug"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/skaldhq/skald/internal/common"
	"github.com/skaldhq/skald/internal/interfaces"
	"github.com/skaldhq/skald/internal/media"
)

// Worker is a single-job-at-a-time processor. Multiple workers may run
// against the same store; the lease protocol keeps them from colliding.
type Worker struct {
	id            string
	jobs          interfaces.JobStore
	quota         interfaces.QuotaService
	objects       interfaces.ObjectStore
	engine        interfaces.TranscriptionEngine
	logger        *common.Logger
	config        common.WorkerConfig
	engineTimeout time.Duration

	// probe and now are swappable for tests.
	probe func(ctx context.Context, path string) (float64, error)
	now   func() time.Time

	wg sync.WaitGroup
}

// New creates a worker. An empty config ID gets a generated one so lock
// ownership is attributable even for ad-hoc workers.
func New(
	jobs interfaces.JobStore,
	quota interfaces.QuotaService,
	objects interfaces.ObjectStore,
	engine interfaces.TranscriptionEngine,
	logger *common.Logger,
	config common.WorkerConfig,
	engineTimeout time.Duration,
) *Worker {
	id := config.ID
	if id == "" {
		id = "worker-" + uuid.NewString()[:8]
	}
	if engineTimeout <= 0 {
		engineTimeout = 2 * time.Hour
	}
	return &Worker{
		id:            id,
		jobs:          jobs,
		quota:         quota,
		objects:       objects,
		engine:        engine,
		logger:        logger,
		config:        config,
		engineTimeout: engineTimeout,
		probe:         media.ProbeDuration,
		now:           time.Now,
	}
}

// ID returns the worker's lock-owner identity.
func (w *Worker) ID() string {
	return w.id
}

// safeGo launches a goroutine with panic recovery and logging.
func (w *Worker) safeGo(name string, fn func()) {
	w.wg.Add(1)
	go func() {
		defer w.wg.Done()
		defer func() {
			if r := recover(); r != nil {
				w.logger.Error().
					Str("goroutine", name).
					Str("panic", fmt.Sprintf("%v", r)).
					Str("stack", string(debug.Stack())).
					Msg("Recovered from panic in worker goroutine")
			}
		}()
		fn()
	}()
}

// Run is the worker main loop: lease, process, repeat. It returns when the
// context is cancelled, when the per-run job cap is reached, or when
// shutdown-on-empty triggers. A job already in flight finishes before Run
// returns.
func (w *Worker) Run(ctx context.Context) error {
	defer w.wg.Wait()

	poll := w.config.GetPollInterval()
	maxPoll := w.config.GetMaxPollInterval()
	lastJob := w.now()
	processed := 0

	// Release locks orphaned by a previous crash before the first lease.
	w.sweepStaleLocks(ctx)
	staleTicker := time.NewTicker(w.config.GetStaleCheckInterval())
	defer staleTicker.Stop()

	w.logger.Info().
		Str("worker_id", w.id).
		Dur("poll_interval", poll).
		Dur("lock_ttl", w.config.GetLockTTL()).
		Msg("Worker started")

	for {
		select {
		case <-ctx.Done():
			w.logger.Info().Str("worker_id", w.id).Msg("Worker stopping")
			return nil
		case <-staleTicker.C:
			w.sweepStaleLocks(ctx)
			continue
		default:
		}

		job, err := w.jobs.LeaseNext(ctx, w.id, w.now())
		if err != nil {
			w.logger.Warn().Err(err).Msg("Lease attempt failed")
			if !w.sleep(ctx, poll) {
				return nil
			}
			continue
		}

		if job == nil {
			if w.config.ShutdownOnEmpty && w.now().Sub(lastJob) >= w.emptyShutdownWindow() {
				w.logger.Info().
					Str("worker_id", w.id).
					Int("processed", processed).
					Msg("Queue empty, shutting down")
				return nil
			}
			if !w.sleep(ctx, poll) {
				return nil
			}
			poll = nextPoll(poll, maxPoll)
			continue
		}

		poll = w.config.GetPollInterval()
		lastJob = w.now()
		w.processJob(ctx, job)
		processed++

		if w.config.MaxJobsPerRun > 0 && processed >= w.config.MaxJobsPerRun {
			w.logger.Info().
				Str("worker_id", w.id).
				Int("processed", processed).
				Msg("Per-run job cap reached, shutting down")
			return nil
		}
	}
}

// sweepStaleLocks re-queues jobs whose worker stopped heartbeating.
func (w *Worker) sweepStaleLocks(ctx context.Context) {
	released, err := w.jobs.ReleaseStaleLocks(ctx, w.config.GetLockTTL())
	if err != nil {
		w.logger.Warn().Err(err).Msg("Stale lock sweep failed")
		return
	}
	if released > 0 {
		w.logger.Info().Int("released", released).Msg("Released stale job locks")
	}
}

// sleep waits for d or until the context is cancelled. Returns false on
// cancellation.
func (w *Worker) sleep(ctx context.Context, d time.Duration) bool {
	select {
	case <-ctx.Done():
		return false
	case <-time.After(d):
		return true
	}
}

func (w *Worker) emptyShutdownWindow() time.Duration {
	minutes := w.config.EmptyShutdownMinutes
	if minutes <= 0 {
		minutes = 10
	}
	return time.Duration(minutes) * time.Minute
}

// nextPoll grows the empty-queue backoff by half, capped at max.
func nextPoll(current, max time.Duration) time.Duration {
	next := current + current/2
	if next > max {
		return max
	}
	return next
}
