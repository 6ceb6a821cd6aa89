package surrealdb

import (
	"context"
	"time"

	"github.com/skaldhq/skald/internal/common"
	"github.com/skaldhq/skald/internal/interfaces"
	"github.com/skaldhq/skald/internal/models"
	"github.com/surrealdb/surrealdb.go"
	surrealmodels "github.com/surrealdb/surrealdb.go/pkg/models"
)

// UsageStore implements interfaces.UsageStore using SurrealDB.
//
// One record per user per UTC day, keyed user_id + date, so concurrent
// reservations serialize on the record and the conditional increment admits
// at most one caller at the quota boundary.
type UsageStore struct {
	db     *surrealdb.DB
	logger *common.Logger
}

// NewUsageStore creates a new UsageStore.
func NewUsageStore(db *surrealdb.DB, logger *common.Logger) *UsageStore {
	return &UsageStore{db: db, logger: logger}
}

func usageRecordID(userID, date string) surrealmodels.RecordID {
	return surrealmodels.NewRecordID("usage_daily", userID+"_"+date)
}

// ReserveQuota atomically reserves minutes against the user's daily limit.
// The day row is upserted idempotently, then a single conditional UPDATE
// performs the check and the increment together.
func (s *UsageStore) ReserveQuota(ctx context.Context, userID, date string, minutes, limit int) (*models.QuotaCheck, error) {
	now := time.Now().UTC()
	rid := usageRecordID(userID, date)

	ensureSQL := `UPSERT $rid SET user_id = $user_id, date = $date,
		minutes_used += 0, jobs_count += 0, updated_at = $now`
	if _, err := surrealdb.Query[any](ctx, s.db, ensureSQL, map[string]any{
		"rid":     rid,
		"user_id": userID,
		"date":    date,
		"now":     now,
	}); err != nil {
		return nil, &models.RepositoryError{Op: "quota_ensure", Err: err}
	}

	reserveSQL := `UPDATE $rid SET minutes_used += $minutes, jobs_count += 1, updated_at = $now
		WHERE minutes_used + $minutes <= $limit RETURN VALUE minutes_used`
	reserved, err := surrealdb.Query[[]int](ctx, s.db, reserveSQL, map[string]any{
		"rid":     rid,
		"minutes": minutes,
		"limit":   limit,
		"now":     now,
	})
	if err != nil {
		return nil, &models.RepositoryError{Op: "quota_reserve", Err: err}
	}

	if reserved != nil && len(*reserved) > 0 && len((*reserved)[0].Result) > 0 {
		used := (*reserved)[0].Result[0]
		return &models.QuotaCheck{
			Allowed:          true,
			MinutesUsed:      used,
			MinutesRemaining: limit - used,
			DailyLimit:       limit,
		}, nil
	}

	// Guard rejected the increment; report current usage.
	usage, err := s.GetUsage(ctx, userID, date)
	if err != nil {
		return nil, err
	}
	remaining := limit - usage.MinutesUsed
	if remaining < 0 {
		remaining = 0
	}
	return &models.QuotaCheck{
		Allowed:          false,
		MinutesUsed:      usage.MinutesUsed,
		MinutesRemaining: remaining,
		DailyLimit:       limit,
		Reason:           "daily quota exceeded",
	}, nil
}

// AdjustUsage applies a signed delta to minutes_used, clamped at zero. Upsert
// semantics cover the degraded-reserve case where no day row exists yet.
func (s *UsageStore) AdjustUsage(ctx context.Context, userID, date string, delta int) error {
	sql := `UPSERT $rid SET user_id = $user_id, date = $date,
		minutes_used = math::max((minutes_used ?? 0) + $delta, 0),
		jobs_count = (jobs_count ?? 0), updated_at = $now`
	vars := map[string]any{
		"rid":     usageRecordID(userID, date),
		"user_id": userID,
		"date":    date,
		"delta":   delta,
		"now":     time.Now().UTC(),
	}

	if _, err := surrealdb.Query[any](ctx, s.db, sql, vars); err != nil {
		return &models.RepositoryError{Op: "quota_adjust", Err: err}
	}
	return nil
}

func (s *UsageStore) GetUsage(ctx context.Context, userID, date string) (*models.UsageDaily, error) {
	sql := "SELECT user_id, date, minutes_used, jobs_count, updated_at FROM $rid"
	vars := map[string]any{
		"rid": usageRecordID(userID, date),
	}

	results, err := surrealdb.Query[[]models.UsageDaily](ctx, s.db, sql, vars)
	if err != nil {
		return nil, &models.RepositoryError{Op: "quota_get", Err: err}
	}

	if results != nil && len(*results) > 0 && len((*results)[0].Result) > 0 {
		usage := (*results)[0].Result[0]
		return &usage, nil
	}
	// No activity today yet.
	return &models.UsageDaily{UserID: userID, Date: date}, nil
}

// Compile-time check
var _ interfaces.UsageStore = (*UsageStore)(nil)
