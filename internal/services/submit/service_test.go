package submit

import (
	"context"
	"errors"
	"testing"

	"github.com/skaldhq/skald/internal/common"
	"github.com/skaldhq/skald/internal/interfaces"
	"github.com/skaldhq/skald/internal/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeJobStore records enqueued jobs. Unused JobStore methods panic via the
// embedded nil interface.
type fakeJobStore struct {
	interfaces.JobStore
	enqueued   []*models.TranscriptionJob
	enqueueErr error
}

func (f *fakeJobStore) Enqueue(_ context.Context, job *models.TranscriptionJob) error {
	if f.enqueueErr != nil {
		return f.enqueueErr
	}
	job.ID = "job-1"
	job.Status = models.JobStatusQueued
	f.enqueued = append(f.enqueued, job)
	return nil
}

type fakeQuota struct {
	interfaces.QuotaService
	reserved   []int
	reconciles [][2]int
	deny       bool
	remaining  int
}

func (f *fakeQuota) Reserve(_ context.Context, _ string, minutes int) (*models.QuotaCheck, error) {
	f.reserved = append(f.reserved, minutes)
	if f.deny {
		return &models.QuotaCheck{
			Allowed:          false,
			MinutesRemaining: f.remaining,
			Reason:           "daily quota exceeded",
		}, nil
	}
	return &models.QuotaCheck{Allowed: true, MinutesRemaining: f.remaining}, nil
}

func (f *fakeQuota) Reconcile(_ context.Context, _ string, estimated, actual int) error {
	f.reconciles = append(f.reconciles, [2]int{estimated, actual})
	return nil
}

type fakeObjects struct {
	interfaces.ObjectStore
	exists   bool
	probeErr error
}

func (f *fakeObjects) ObjectExists(_ context.Context, _ string) (bool, error) {
	if f.probeErr != nil {
		return false, f.probeErr
	}
	return f.exists, nil
}

func newTestService(jobs *fakeJobStore, quota *fakeQuota, objects interfaces.ObjectStore) *Service {
	return NewService(jobs, quota, objects, common.NewSilentLogger())
}

func TestSubmit_Success(t *testing.T) {
	jobs := &fakeJobStore{}
	quota := &fakeQuota{remaining: 50}
	svc := newTestService(jobs, quota, &fakeObjects{exists: true})

	job, err := svc.Submit(context.Background(), "user-1", models.SubmitRequest{
		ObjectKey:            "users/user-1/media/abc_talk.mp3",
		EstimatedDurationSec: 600,
		Priority:             3,
	})
	require.NoError(t, err)
	assert.Equal(t, "job-1", job.ID)
	assert.Equal(t, models.JobStatusQueued, job.Status)
	assert.Equal(t, 3, job.Priority)
	assert.Equal(t, []int{10}, quota.reserved, "600s reserves 10 minutes")
	require.Len(t, jobs.enqueued, 1)
}

func TestSubmit_ForeignKeyRejected(t *testing.T) {
	jobs := &fakeJobStore{}
	quota := &fakeQuota{}
	svc := newTestService(jobs, quota, nil)

	_, err := svc.Submit(context.Background(), "user-1", models.SubmitRequest{
		ObjectKey: "users/user-2/media/abc_talk.mp3",
	})
	var keyErr *models.InvalidObjectKeyError
	require.ErrorAs(t, err, &keyErr)
	assert.Empty(t, quota.reserved, "rejected submission must not touch quota")
	assert.Empty(t, jobs.enqueued)
}

func TestSubmit_TraversalKeyRejected(t *testing.T) {
	svc := newTestService(&fakeJobStore{}, &fakeQuota{}, nil)

	_, err := svc.Submit(context.Background(), "user-1", models.SubmitRequest{
		ObjectKey: "users/user-1/../user-2/media/talk.mp3",
	})
	var keyErr *models.InvalidObjectKeyError
	require.ErrorAs(t, err, &keyErr)
}

func TestSubmit_ValidationErrors(t *testing.T) {
	svc := newTestService(&fakeJobStore{}, &fakeQuota{}, nil)
	ctx := context.Background()

	cases := []struct {
		name  string
		req   models.SubmitRequest
		field string
	}{
		{
			name:  "estimate too long",
			req:   models.SubmitRequest{ObjectKey: "users/user-1/media/a.mp3", EstimatedDurationSec: 7201},
			field: "estimated_duration_sec",
		},
		{
			name:  "negative estimate",
			req:   models.SubmitRequest{ObjectKey: "users/user-1/media/a.mp3", EstimatedDurationSec: -1},
			field: "estimated_duration_sec",
		},
		{
			name:  "priority out of range",
			req:   models.SubmitRequest{ObjectKey: "users/user-1/media/a.mp3", Priority: 11},
			field: "priority",
		},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := svc.Submit(ctx, "user-1", tc.req)
			var valErr *models.ValidationError
			require.ErrorAs(t, err, &valErr)
			assert.Equal(t, tc.field, valErr.Field)
		})
	}
}

func TestSubmit_QuotaExceeded(t *testing.T) {
	jobs := &fakeJobStore{}
	quota := &fakeQuota{deny: true, remaining: 2}
	svc := newTestService(jobs, quota, nil)

	_, err := svc.Submit(context.Background(), "user-1", models.SubmitRequest{
		ObjectKey:            "users/user-1/media/a.mp3",
		EstimatedDurationSec: 600,
	})
	var quotaErr *models.QuotaExceededError
	require.ErrorAs(t, err, &quotaErr)
	assert.Equal(t, 2, quotaErr.MinutesRemaining)
	assert.Empty(t, jobs.enqueued, "denied quota must not enqueue")
}

func TestSubmit_MissingObjectRejected(t *testing.T) {
	quota := &fakeQuota{}
	svc := newTestService(&fakeJobStore{}, quota, &fakeObjects{exists: false})

	_, err := svc.Submit(context.Background(), "user-1", models.SubmitRequest{
		ObjectKey: "users/user-1/media/a.mp3",
	})
	var valErr *models.ValidationError
	require.ErrorAs(t, err, &valErr)
	assert.Equal(t, "object_key", valErr.Field)
	assert.Empty(t, quota.reserved)
}

func TestSubmit_ProbeOutageTolerated(t *testing.T) {
	jobs := &fakeJobStore{}
	svc := newTestService(jobs, &fakeQuota{}, &fakeObjects{probeErr: errors.New("r2 down")})

	_, err := svc.Submit(context.Background(), "user-1", models.SubmitRequest{
		ObjectKey: "users/user-1/media/a.mp3",
	})
	require.NoError(t, err, "object store outage must not block submission")
	require.Len(t, jobs.enqueued, 1)
}

func TestSubmit_NoEstimateUsesFallback(t *testing.T) {
	quota := &fakeQuota{}
	svc := newTestService(&fakeJobStore{}, quota, nil)

	_, err := svc.Submit(context.Background(), "user-1", models.SubmitRequest{
		ObjectKey: "users/user-1/media/a.mp3",
	})
	require.NoError(t, err)
	assert.Equal(t, []int{models.FallbackQuotaMinutes}, quota.reserved)
}

func TestSubmit_EnqueueFailureReleasesQuota(t *testing.T) {
	jobs := &fakeJobStore{enqueueErr: errors.New("db down")}
	quota := &fakeQuota{}
	svc := newTestService(jobs, quota, nil)

	_, err := svc.Submit(context.Background(), "user-1", models.SubmitRequest{
		ObjectKey:            "users/user-1/media/a.mp3",
		EstimatedDurationSec: 120,
	})
	require.Error(t, err)
	assert.Equal(t, [][2]int{{2, 0}}, quota.reconciles, "reservation is released on enqueue failure")
}
