package models

import "time"

// JobStatus is the lifecycle state of a transcription job.
type JobStatus string

// Job status constants
const (
	JobStatusQueued    JobStatus = "queued"
	JobStatusRunning   JobStatus = "running"
	JobStatusDone      JobStatus = "done"
	JobStatusFailed    JobStatus = "failed"
	JobStatusCancelled JobStatus = "cancelled"
)

// IsTerminal reports whether the status admits no further transitions.
func (s JobStatus) IsTerminal() bool {
	return s == JobStatusDone || s == JobStatusFailed || s == JobStatusCancelled
}

// JobStage is the pipeline position of a job, refined within RUNNING.
type JobStage string

// Job stage constants
const (
	StageQueued       JobStage = "queued"
	StageDownloading  JobStage = "downloading"
	StageTranscribing JobStage = "transcribing"
	StageFinalizing   JobStage = "finalizing"
	StageDone         JobStage = "done"
	StageFailed       JobStage = "failed"
)

// DefaultMaxAttempts is the per-job attempt budget applied at enqueue time.
const DefaultMaxAttempts = 3

// TranscriptionJob represents one media file owned by one user moving
// through the pipeline. Zero time values stand for "not set".
type TranscriptionJob struct {
	ID        string    `json:"id"`
	UserID    string    `json:"user_id"`
	ObjectKey string    `json:"object_key"`
	RecipeID  string    `json:"recipe_id,omitempty"`
	Status    JobStatus `json:"status"`
	Stage     JobStage  `json:"stage"`
	Priority  int       `json:"priority"`
	Progress  int       `json:"progress"` // 0..100

	AttemptCount  int       `json:"attempt_count"`
	MaxAttempts   int       `json:"max_attempts"`
	NextAttemptAt time.Time `json:"next_attempt_at"`

	LockedBy        string    `json:"locked_by,omitempty"`
	LockedAt        time.Time `json:"locked_at"`
	LastHeartbeatAt time.Time `json:"last_heartbeat_at"`

	// Client-supplied estimate used for quota reservation, in seconds.
	EstimatedDurationSec int `json:"estimated_duration_sec,omitempty"`

	// Terminal result fields, populated on DONE.
	DurationSec    float64                `json:"duration_sec,omitempty"`
	Language       string                 `json:"language,omitempty"`
	TranscriptText string                 `json:"transcript_text,omitempty"`
	Segments       []TranscriptionSegment `json:"segments,omitempty"`
	ModelVersion   string                 `json:"model_version,omitempty"`

	ErrorMessage string `json:"error_message,omitempty"`

	CreatedAt  time.Time `json:"created_at"`
	StartedAt  time.Time `json:"started_at"`
	FinishedAt time.Time `json:"finished_at"`
}

// TranscriptionSegment is one timed span of transcript text.
// Segments are ordered by start time and never overlap.
type TranscriptionSegment struct {
	Start float64 `json:"start"` // seconds from media start
	End   float64 `json:"end"`
	Text  string  `json:"text"`
}

// TranscriptionResult is what an engine produces for one media file.
type TranscriptionResult struct {
	Text         string                 `json:"text"`
	Segments     []TranscriptionSegment `json:"segments"`
	Language     string                 `json:"language"`
	DurationSec  float64                `json:"duration_sec"`
	ModelVersion string                 `json:"model_version"`
}

// ProgressUpdate carries a partial job update. Nil fields are left untouched;
// Heartbeat refreshes last_heartbeat_at on its own.
type ProgressUpdate struct {
	Stage     *JobStage
	Progress  *int
	Heartbeat bool
}

// SubmitRequest is the input to job submission.
type SubmitRequest struct {
	ObjectKey            string `json:"object_key"`
	RecipeID             string `json:"recipe_id,omitempty"`
	EstimatedDurationSec int    `json:"estimated_duration_sec,omitempty"`
	Priority             int    `json:"priority,omitempty"`
}
