package models

import "fmt"

// QuotaExceededError is returned when a reservation would push a user past
// their daily minute limit.
type QuotaExceededError struct {
	Message          string
	MinutesRemaining int
}

func (e *QuotaExceededError) Error() string {
	if e.Message != "" {
		return e.Message
	}
	return fmt.Sprintf("daily quota exceeded (%d minutes remaining)", e.MinutesRemaining)
}

// InvalidObjectKeyError marks an object key that fails validation or does not
// belong to the requesting user. Always a permanent failure.
type InvalidObjectKeyError struct {
	Key    string
	Reason string
}

func (e *InvalidObjectKeyError) Error() string {
	return fmt.Sprintf("invalid object key %q: %s", e.Key, e.Reason)
}

// InvalidMediaError marks media the engine cannot process (missing, empty,
// unreadable, unsupported format). Always a permanent failure.
type InvalidMediaError struct {
	Message string
}

func (e *InvalidMediaError) Error() string {
	return e.Message
}

// EngineError is a transcription engine failure. Retryable distinguishes
// transient faults (timeouts, crashes) from deterministic ones.
type EngineError struct {
	Message   string
	Retryable bool
	Err       error
}

func (e *EngineError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("engine error: %s: %v", e.Message, e.Err)
	}
	return "engine error: " + e.Message
}

func (e *EngineError) Unwrap() error { return e.Err }

// DownloadReason classifies object-store download failures.
type DownloadReason string

// Download failure reasons
const (
	DownloadNotFound DownloadReason = "not_found"
	DownloadTimeout  DownloadReason = "timeout"
	DownloadOther    DownloadReason = "other"
)

// DownloadError is a failure fetching media from the object store.
// not_found is permanent; timeout and other are retryable.
type DownloadError struct {
	Key    string
	Reason DownloadReason
	Err    error
}

func (e *DownloadError) Error() string {
	return fmt.Sprintf("download %q failed (%s): %v", e.Key, e.Reason, e.Err)
}

func (e *DownloadError) Unwrap() error { return e.Err }

// JobNotFoundError is returned for reads and terminal writes against a job id
// that does not exist (or is not visible to the requesting user).
type JobNotFoundError struct {
	ID string
}

func (e *JobNotFoundError) Error() string {
	return fmt.Sprintf("job %s not found", e.ID)
}

// ValidationError marks a request field outside its allowed range.
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}

// RepositoryError wraps storage failures so callers can distinguish
// infrastructure faults from domain outcomes.
type RepositoryError struct {
	Op  string
	Err error
}

func (e *RepositoryError) Error() string {
	return fmt.Sprintf("repository %s: %v", e.Op, e.Err)
}

func (e *RepositoryError) Unwrap() error { return e.Err }
