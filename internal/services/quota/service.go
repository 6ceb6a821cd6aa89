// Package quota manages daily transcription minute limits.
package quota

import (
	"context"
	"time"

	"github.com/skaldhq/skald/internal/common"
	"github.com/skaldhq/skald/internal/interfaces"
	"github.com/skaldhq/skald/internal/models"
)

// DefaultDailyLimitMinutes applies when no limit is configured.
const DefaultDailyLimitMinutes = 60

// Service implements interfaces.QuotaService over a UsageStore.
type Service struct {
	store      interfaces.UsageStore
	dailyLimit int
	logger     *common.Logger
	now        func() time.Time
}

// NewService creates a quota service with the given daily limit in minutes.
func NewService(store interfaces.UsageStore, dailyLimit int, logger *common.Logger) *Service {
	if dailyLimit <= 0 {
		dailyLimit = DefaultDailyLimitMinutes
	}
	return &Service{
		store:      store,
		dailyLimit: dailyLimit,
		logger:     logger,
		now:        time.Now,
	}
}

// today returns the current UTC date key. Days roll over at midnight UTC.
func (s *Service) today() string {
	return s.now().UTC().Format("2006-01-02")
}

// Reserve atomically reserves minutes against today's quota. A store outage
// degrades to allowing the reservation with a reason set, so quota
// enforcement can never take submission down with it.
func (s *Service) Reserve(ctx context.Context, userID string, minutes int) (*models.QuotaCheck, error) {
	check, err := s.store.ReserveQuota(ctx, userID, s.today(), minutes, s.dailyLimit)
	if err != nil {
		s.logger.Warn().
			Err(err).
			Str("user_id", userID).
			Int("minutes", minutes).
			Msg("Quota store unavailable, allowing reservation")
		return &models.QuotaCheck{
			Allowed:          true,
			MinutesRemaining: s.dailyLimit,
			DailyLimit:       s.dailyLimit,
			Reason:           "quota check unavailable, allowing by default",
		}, nil
	}
	return check, nil
}

// Reconcile settles estimated vs actual minutes after a job completes.
// Shorter-than-estimated jobs return minutes to the user; longer jobs
// consume the difference.
func (s *Service) Reconcile(ctx context.Context, userID string, estimatedMinutes, actualMinutes int) error {
	delta := actualMinutes - estimatedMinutes
	if delta == 0 {
		return nil
	}
	if err := s.store.AdjustUsage(ctx, userID, s.today(), delta); err != nil {
		return err
	}
	s.logger.Info().
		Str("user_id", userID).
		Int("estimated_minutes", estimatedMinutes).
		Int("actual_minutes", actualMinutes).
		Int("delta", delta).
		Msg("Quota reconciled")
	return nil
}

// GetUsage returns today's usage for the user.
func (s *Service) GetUsage(ctx context.Context, userID string) (*models.UsageDaily, error) {
	return s.store.GetUsage(ctx, userID, s.today())
}

// RemainingMinutes returns today's remaining minutes, never negative.
func (s *Service) RemainingMinutes(ctx context.Context, userID string) (int, error) {
	usage, err := s.GetUsage(ctx, userID)
	if err != nil {
		return 0, err
	}
	remaining := s.dailyLimit - usage.MinutesUsed
	if remaining < 0 {
		remaining = 0
	}
	return remaining, nil
}

// DailyLimit returns the configured daily limit in minutes.
func (s *Service) DailyLimit() int {
	return s.dailyLimit
}

// Compile-time check
var _ interfaces.QuotaService = (*Service)(nil)
