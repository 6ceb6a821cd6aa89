package models

import "time"

// UsageDaily tracks one user's transcription usage for one UTC day.
// minutes_used never goes below zero.
type UsageDaily struct {
	UserID      string    `json:"user_id"`
	Date        string    `json:"date"` // "2006-01-02", UTC
	MinutesUsed int       `json:"minutes_used"`
	JobsCount   int       `json:"jobs_count"`
	UpdatedAt   time.Time `json:"updated_at"`
}

// FallbackQuotaMinutes is reserved when a job carries no duration estimate.
// The reservation is reconciled against the actual duration after the run.
const FallbackQuotaMinutes = 5

// QuotaMinutes converts a duration estimate in seconds to whole quota
// minutes: max(1, seconds/60). Submission and post-run reconciliation both
// use this for the estimated side, so the reserve and the settle always
// agree; only the final reconcile of measured duration rounds up.
func QuotaMinutes(durationSec int) int {
	if durationSec <= 0 {
		return FallbackQuotaMinutes
	}
	minutes := durationSec / 60
	if minutes < 1 {
		minutes = 1
	}
	return minutes
}

// QuotaCheck is the outcome of a quota reservation or check.
type QuotaCheck struct {
	Allowed          bool   `json:"allowed"`
	MinutesUsed      int    `json:"minutes_used"`
	MinutesRemaining int    `json:"minutes_remaining"`
	DailyLimit       int    `json:"daily_limit"`
	Reason           string `json:"reason,omitempty"`
}

// SignedUpload is a presigned PUT URL for direct client upload.
type SignedUpload struct {
	ObjectKey    string    `json:"object_key"`
	UploadURL    string    `json:"upload_url"`
	ExpiresAt    time.Time `json:"expires_at"`
	MaxSizeBytes int64     `json:"max_size_bytes"`
}
