package quota

import (
	"context"
	"errors"
	"testing"

	"github.com/skaldhq/skald/internal/common"
	"github.com/skaldhq/skald/internal/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeUsageStore is an in-memory UsageStore for service tests.
type fakeUsageStore struct {
	usage   map[string]*models.UsageDaily // key: user_id + "_" + date
	failAll bool
	adjusts []int
}

func newFakeUsageStore() *fakeUsageStore {
	return &fakeUsageStore{usage: make(map[string]*models.UsageDaily)}
}

func (f *fakeUsageStore) row(userID, date string) *models.UsageDaily {
	key := userID + "_" + date
	if _, ok := f.usage[key]; !ok {
		f.usage[key] = &models.UsageDaily{UserID: userID, Date: date}
	}
	return f.usage[key]
}

func (f *fakeUsageStore) ReserveQuota(_ context.Context, userID, date string, minutes, limit int) (*models.QuotaCheck, error) {
	if f.failAll {
		return nil, errors.New("store down")
	}
	row := f.row(userID, date)
	if row.MinutesUsed+minutes > limit {
		remaining := limit - row.MinutesUsed
		if remaining < 0 {
			remaining = 0
		}
		return &models.QuotaCheck{
			Allowed:          false,
			MinutesUsed:      row.MinutesUsed,
			MinutesRemaining: remaining,
			DailyLimit:       limit,
			Reason:           "daily quota exceeded",
		}, nil
	}
	row.MinutesUsed += minutes
	row.JobsCount++
	return &models.QuotaCheck{
		Allowed:          true,
		MinutesUsed:      row.MinutesUsed,
		MinutesRemaining: limit - row.MinutesUsed,
		DailyLimit:       limit,
	}, nil
}

func (f *fakeUsageStore) AdjustUsage(_ context.Context, userID, date string, delta int) error {
	if f.failAll {
		return errors.New("store down")
	}
	f.adjusts = append(f.adjusts, delta)
	row := f.row(userID, date)
	row.MinutesUsed += delta
	if row.MinutesUsed < 0 {
		row.MinutesUsed = 0
	}
	return nil
}

func (f *fakeUsageStore) GetUsage(_ context.Context, userID, date string) (*models.UsageDaily, error) {
	if f.failAll {
		return nil, errors.New("store down")
	}
	return f.row(userID, date), nil
}

func TestReserve_Allowed(t *testing.T) {
	store := newFakeUsageStore()
	svc := NewService(store, 60, common.NewSilentLogger())

	check, err := svc.Reserve(context.Background(), "user-1", 15)
	require.NoError(t, err)
	assert.True(t, check.Allowed)
	assert.Equal(t, 45, check.MinutesRemaining)
}

func TestReserve_Denied(t *testing.T) {
	store := newFakeUsageStore()
	svc := NewService(store, 60, common.NewSilentLogger())
	ctx := context.Background()

	_, err := svc.Reserve(ctx, "user-1", 60)
	require.NoError(t, err)

	check, err := svc.Reserve(ctx, "user-1", 1)
	require.NoError(t, err)
	assert.False(t, check.Allowed)
	assert.Equal(t, 0, check.MinutesRemaining)
	assert.NotEmpty(t, check.Reason)
}

func TestReserve_FailsOpenOnStoreOutage(t *testing.T) {
	store := newFakeUsageStore()
	store.failAll = true
	svc := NewService(store, 60, common.NewSilentLogger())

	check, err := svc.Reserve(context.Background(), "user-1", 15)
	require.NoError(t, err, "store outage must not surface as an error")
	assert.True(t, check.Allowed, "degraded mode allows the reservation")
	assert.Contains(t, check.Reason, "unavailable")
}

func TestReconcile_ReturnsUnusedMinutes(t *testing.T) {
	store := newFakeUsageStore()
	svc := NewService(store, 60, common.NewSilentLogger())
	ctx := context.Background()

	_, err := svc.Reserve(ctx, "user-1", 30)
	require.NoError(t, err)

	// Estimated 30, actually used 12: 18 minutes come back.
	require.NoError(t, svc.Reconcile(ctx, "user-1", 30, 12))
	assert.Equal(t, []int{-18}, store.adjusts)

	remaining, err := svc.RemainingMinutes(ctx, "user-1")
	require.NoError(t, err)
	assert.Equal(t, 48, remaining)
}

func TestReconcile_ChargesOverrun(t *testing.T) {
	store := newFakeUsageStore()
	svc := NewService(store, 60, common.NewSilentLogger())
	ctx := context.Background()

	_, err := svc.Reserve(ctx, "user-1", 10)
	require.NoError(t, err)

	require.NoError(t, svc.Reconcile(ctx, "user-1", 10, 25))
	assert.Equal(t, []int{15}, store.adjusts)
}

func TestReconcile_NoOpWhenExact(t *testing.T) {
	store := newFakeUsageStore()
	svc := NewService(store, 60, common.NewSilentLogger())

	require.NoError(t, svc.Reconcile(context.Background(), "user-1", 10, 10))
	assert.Empty(t, store.adjusts, "exact estimates need no adjustment")
}

func TestRemainingMinutes_NeverNegative(t *testing.T) {
	store := newFakeUsageStore()
	svc := NewService(store, 60, common.NewSilentLogger())
	ctx := context.Background()

	_, err := svc.Reserve(ctx, "user-1", 55)
	require.NoError(t, err)
	// Overrun pushes usage past the limit.
	require.NoError(t, svc.Reconcile(ctx, "user-1", 55, 70))

	remaining, err := svc.RemainingMinutes(ctx, "user-1")
	require.NoError(t, err)
	assert.Equal(t, 0, remaining)
}

func TestNewService_DefaultLimit(t *testing.T) {
	svc := NewService(newFakeUsageStore(), 0, common.NewSilentLogger())
	assert.Equal(t, DefaultDailyLimitMinutes, svc.DailyLimit())
}
