package worker

import (
	"context"
	"errors"
	"os"
	"sync"
	"testing"
	"time"

	"github.com/skaldhq/skald/internal/common"
	"github.com/skaldhq/skald/internal/interfaces"
	"github.com/skaldhq/skald/internal/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeJobStore hands out queued jobs and records outcome calls. Guarded by a
// mutex because the heartbeat goroutine writes concurrently with the loop.
type fakeJobStore struct {
	interfaces.JobStore

	mu        sync.Mutex
	queue     []*models.TranscriptionJob
	done      map[string]*models.TranscriptionResult
	failed    map[string]string
	permanent map[string]bool
	progress  []models.ProgressUpdate
	released  int
	leaseErr  error
}

func newFakeJobStore(jobs ...*models.TranscriptionJob) *fakeJobStore {
	return &fakeJobStore{
		queue:     jobs,
		done:      make(map[string]*models.TranscriptionResult),
		failed:    make(map[string]string),
		permanent: make(map[string]bool),
	}
}

func (f *fakeJobStore) LeaseNext(_ context.Context, workerID string, _ time.Time) (*models.TranscriptionJob, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.leaseErr != nil {
		return nil, f.leaseErr
	}
	if len(f.queue) == 0 {
		return nil, nil
	}
	job := f.queue[0]
	f.queue = f.queue[1:]
	job.Status = models.JobStatusRunning
	job.LockedBy = workerID
	job.AttemptCount++
	return job, nil
}

func (f *fakeJobStore) MarkDone(_ context.Context, jobID string, result *models.TranscriptionResult) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.done[jobID] = result
	return nil
}

func (f *fakeJobStore) MarkFailed(_ context.Context, jobID, message string, permanent bool) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.failed[jobID] = message
	f.permanent[jobID] = permanent
	return nil
}

func (f *fakeJobStore) UpdateProgress(_ context.Context, _ string, update models.ProgressUpdate) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.progress = append(f.progress, update)
	return nil
}

func (f *fakeJobStore) ReleaseStaleLocks(_ context.Context, _ time.Duration) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.released++
	return 0, nil
}

func (f *fakeJobStore) progressValues() []int {
	f.mu.Lock()
	defer f.mu.Unlock()
	var values []int
	for _, u := range f.progress {
		if u.Progress != nil {
			values = append(values, *u.Progress)
		}
	}
	return values
}

type fakeQuota struct {
	interfaces.QuotaService

	mu         sync.Mutex
	reconciles [][2]int
}

func (f *fakeQuota) Reconcile(_ context.Context, _ string, estimated, actual int) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.reconciles = append(f.reconciles, [2]int{estimated, actual})
	return nil
}

type fakeObjects struct {
	interfaces.ObjectStore
	content     []byte
	downloadErr error
}

func (f *fakeObjects) DownloadToPath(_ context.Context, _, localPath string) (int64, error) {
	if f.downloadErr != nil {
		return 0, f.downloadErr
	}
	if err := os.WriteFile(localPath, f.content, 0o644); err != nil {
		return 0, err
	}
	return int64(len(f.content)), nil
}

type fakeEngine struct {
	result   *models.TranscriptionResult
	err      error
	progress []float64
}

func (f *fakeEngine) Transcribe(_ context.Context, _ string, onProgress interfaces.ProgressFunc) (*models.TranscriptionResult, error) {
	if f.err != nil {
		return nil, f.err
	}
	if onProgress != nil {
		for _, sec := range f.progress {
			onProgress(sec)
		}
	}
	return f.result, nil
}

func (f *fakeEngine) ModelVersion() string { return "fake-v1" }

func testConfig(t *testing.T) common.WorkerConfig {
	return common.WorkerConfig{
		ID:                "worker-test",
		PollInterval:      "1ms",
		MaxPollInterval:   "10ms",
		MaxJobsPerRun:     1,
		LockTTLMinutes:    30,
		StaleCheckMinutes: 60,
		TempDir:           t.TempDir(),
		DownloadTimeout:   "10s",
		HeartbeatInterval: "1h",
		ProgressInterval:  "1ns",
	}
}

func testJob() *models.TranscriptionJob {
	return &models.TranscriptionJob{
		ID:                   "job-1",
		UserID:               "user-1",
		ObjectKey:            "users/user-1/media/abc_talk.mp3",
		Status:               models.JobStatusQueued,
		MaxAttempts:          3,
		EstimatedDurationSec: 600,
	}
}

func newTestWorker(t *testing.T, jobs *fakeJobStore, quota *fakeQuota, objects *fakeObjects, engine *fakeEngine) *Worker {
	w := New(jobs, quota, objects, engine, common.NewSilentLogger(), testConfig(t), time.Minute)
	w.probe = nil
	return w
}

func TestWorker_ProcessesJobToCompletion(t *testing.T) {
	jobs := newFakeJobStore(testJob())
	quota := &fakeQuota{}
	engine := &fakeEngine{
		result: &models.TranscriptionResult{
			Text:        "hello world",
			DurationSec: 83,
			Segments:    []models.TranscriptionSegment{{Start: 0, End: 83, Text: "hello world"}},
		},
	}
	w := newTestWorker(t, jobs, quota, &fakeObjects{content: []byte("media")}, engine)

	require.NoError(t, w.Run(context.Background()))

	result, ok := jobs.done["job-1"]
	require.True(t, ok, "job must be marked done")
	assert.Equal(t, "hello world", result.Text)
	assert.Empty(t, jobs.failed)

	// 600s estimate = 10 minutes reserved, 83s actual = 2 minutes charged.
	assert.Equal(t, [][2]int{{10, 2}}, quota.reconciles)
}

func TestWorker_RetryableEngineFailure(t *testing.T) {
	jobs := newFakeJobStore(testJob())
	engine := &fakeEngine{err: &models.EngineError{Message: "crashed", Retryable: true}}
	w := newTestWorker(t, jobs, &fakeQuota{}, &fakeObjects{content: []byte("media")}, engine)

	require.NoError(t, w.Run(context.Background()))

	require.Contains(t, jobs.failed, "job-1")
	assert.False(t, jobs.permanent["job-1"], "retryable failure must not be permanent")
	assert.Empty(t, jobs.done)
}

func TestWorker_InvalidMediaIsPermanent(t *testing.T) {
	jobs := newFakeJobStore(testJob())
	engine := &fakeEngine{err: &models.InvalidMediaError{Message: "unreadable media"}}
	w := newTestWorker(t, jobs, &fakeQuota{}, &fakeObjects{content: []byte("media")}, engine)

	require.NoError(t, w.Run(context.Background()))

	require.Contains(t, jobs.failed, "job-1")
	assert.True(t, jobs.permanent["job-1"])
}

func TestWorker_MissingObjectIsPermanent(t *testing.T) {
	jobs := newFakeJobStore(testJob())
	objects := &fakeObjects{downloadErr: &models.DownloadError{
		Key:    "users/user-1/media/abc_talk.mp3",
		Reason: models.DownloadNotFound,
		Err:    errors.New("no such key"),
	}}
	w := newTestWorker(t, jobs, &fakeQuota{}, objects, &fakeEngine{})

	require.NoError(t, w.Run(context.Background()))

	require.Contains(t, jobs.failed, "job-1")
	assert.True(t, jobs.permanent["job-1"])
}

func TestWorker_DownloadTimeoutIsRetryable(t *testing.T) {
	jobs := newFakeJobStore(testJob())
	objects := &fakeObjects{downloadErr: &models.DownloadError{
		Key:    "users/user-1/media/abc_talk.mp3",
		Reason: models.DownloadTimeout,
		Err:    context.DeadlineExceeded,
	}}
	w := newTestWorker(t, jobs, &fakeQuota{}, objects, &fakeEngine{})

	require.NoError(t, w.Run(context.Background()))

	require.Contains(t, jobs.failed, "job-1")
	assert.False(t, jobs.permanent["job-1"])
}

func TestWorker_ForeignKeyFailsBeforeDownload(t *testing.T) {
	job := testJob()
	job.ObjectKey = "users/user-2/media/talk.mp3"
	jobs := newFakeJobStore(job)
	objects := &fakeObjects{downloadErr: errors.New("must not be reached")}
	w := newTestWorker(t, jobs, &fakeQuota{}, objects, &fakeEngine{})

	require.NoError(t, w.Run(context.Background()))

	require.Contains(t, jobs.failed, "job-1")
	assert.True(t, jobs.permanent["job-1"])
}

func TestWorker_ProgressIsMonotoneAndCapped(t *testing.T) {
	job := testJob()
	job.EstimatedDurationSec = 100
	jobs := newFakeJobStore(job)
	engine := &fakeEngine{
		result:   &models.TranscriptionResult{Text: "x", DurationSec: 100},
		progress: []float64{10, 5, 30, 30, 150},
	}
	w := newTestWorker(t, jobs, &fakeQuota{}, &fakeObjects{content: []byte("media")}, engine)

	require.NoError(t, w.Run(context.Background()))

	values := jobs.progressValues()
	last := -1
	for _, v := range values {
		assert.GreaterOrEqual(t, v, last, "progress must not decrease")
		assert.LessOrEqual(t, v, 99, "progress is capped until completion")
		last = v
	}
	assert.Contains(t, values, 99, "overshoot past total clamps to 99")
}

func TestWorker_ShutdownOnEmpty(t *testing.T) {
	jobs := newFakeJobStore()
	w := newTestWorker(t, jobs, &fakeQuota{}, &fakeObjects{}, &fakeEngine{})
	w.config.ShutdownOnEmpty = true
	w.config.EmptyShutdownMinutes = 1
	w.config.MaxJobsPerRun = 0

	// Stepped clock: every call advances 30s, so the empty window elapses
	// after a few polls.
	base := time.Now()
	var calls int
	w.now = func() time.Time {
		calls++
		return base.Add(time.Duration(calls) * 30 * time.Second)
	}

	done := make(chan error, 1)
	go func() { done <- w.Run(context.Background()) }()

	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("worker did not shut down on empty queue")
	}
}

func TestWorker_ContextCancelStopsLoop(t *testing.T) {
	jobs := newFakeJobStore()
	w := newTestWorker(t, jobs, &fakeQuota{}, &fakeObjects{}, &fakeEngine{})
	w.config.MaxJobsPerRun = 0

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- w.Run(ctx) }()

	time.Sleep(20 * time.Millisecond)
	cancel()

	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("worker did not stop on context cancel")
	}
}

func TestWorker_SweepsStaleLocksOnStart(t *testing.T) {
	jobs := newFakeJobStore(testJob())
	engine := &fakeEngine{result: &models.TranscriptionResult{Text: "x", DurationSec: 10}}
	w := newTestWorker(t, jobs, &fakeQuota{}, &fakeObjects{content: []byte("media")}, engine)

	require.NoError(t, w.Run(context.Background()))
	assert.GreaterOrEqual(t, jobs.released, 1, "startup sweep must run before first lease")
}

func TestEstimateTotalSeconds(t *testing.T) {
	w := newTestWorker(t, newFakeJobStore(), &fakeQuota{}, &fakeObjects{}, &fakeEngine{})
	ctx := context.Background()

	withEstimate := &models.TranscriptionJob{EstimatedDurationSec: 300}
	assert.Equal(t, 300.0, w.estimateTotalSeconds(ctx, withEstimate, "", 0))

	// Probe wins over the size heuristic.
	w.probe = func(context.Context, string) (float64, error) { return 123, nil }
	assert.Equal(t, 123.0, w.estimateTotalSeconds(ctx, &models.TranscriptionJob{}, "", 1<<20))

	// Probe failure falls back to one minute per megabyte.
	w.probe = func(context.Context, string) (float64, error) { return 0, errors.New("no ffprobe") }
	assert.Equal(t, 180.0, w.estimateTotalSeconds(ctx, &models.TranscriptionJob{}, "", 3<<20))

	// Tiny files still get a full minute.
	assert.Equal(t, 60.0, w.estimateTotalSeconds(ctx, &models.TranscriptionJob{}, "", 1000))

	// Nothing to go on: flat fallback.
	assert.Equal(t, fallbackDurationSec, w.estimateTotalSeconds(ctx, &models.TranscriptionJob{}, "", 0))
}

func TestIsPermanent(t *testing.T) {
	cases := []struct {
		name string
		err  error
		want bool
	}{
		{"invalid key", &models.InvalidObjectKeyError{Key: "x", Reason: "bad"}, true},
		{"invalid media", &models.InvalidMediaError{Message: "empty file"}, true},
		{"download not found", &models.DownloadError{Reason: models.DownloadNotFound}, true},
		{"download timeout", &models.DownloadError{Reason: models.DownloadTimeout}, false},
		{"engine retryable", &models.EngineError{Retryable: true}, false},
		{"engine deterministic", &models.EngineError{Retryable: false}, true},
		{"plain error", errors.New("boom"), false},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.want, isPermanent(tc.err))
		})
	}
}

func TestNextPoll(t *testing.T) {
	assert.Equal(t, 7500*time.Millisecond, nextPoll(5*time.Second, time.Minute))
	assert.Equal(t, time.Minute, nextPoll(50*time.Second, time.Minute))
	assert.Equal(t, time.Minute, nextPoll(time.Minute, time.Minute))
}
