package interfaces

import (
	"context"
	"time"

	"github.com/skaldhq/skald/internal/models"
)

// ObjectMetadata describes a stored object.
type ObjectMetadata struct {
	ContentType   string
	ContentLength int64
	LastModified  time.Time
	ETag          string
}

// ObjectStore provides access to the media object store (R2/S3).
type ObjectStore interface {
	// GenerateObjectKey builds a user-scoped storage key for an upload.
	GenerateObjectKey(userID, filename string) string

	// GenerateSignedPutURL returns a presigned PUT URL for direct upload.
	GenerateSignedPutURL(ctx context.Context, objectKey, contentType string, expires time.Duration) (*models.SignedUpload, error)

	// GenerateSignedGetURL returns a presigned GET URL for download.
	GenerateSignedGetURL(ctx context.Context, objectKey string, expires time.Duration) (string, error)

	// ObjectExists checks whether the object is present.
	ObjectExists(ctx context.Context, objectKey string) (bool, error)

	// GetMetadata returns object metadata via a HEAD request.
	GetMetadata(ctx context.Context, objectKey string) (*ObjectMetadata, error)

	// DownloadToPath streams the object to a local file and returns the byte
	// count. Failures carry a models.DownloadError classification.
	DownloadToPath(ctx context.Context, objectKey, localPath string) (int64, error)

	// DeleteObject removes the object. Missing objects are not an error.
	DeleteObject(ctx context.Context, objectKey string) error
}

// ProgressFunc receives the end timestamp (seconds from media start) of each
// transcribed span as the engine advances through the file.
type ProgressFunc func(processedSec float64)

// TranscriptionEngine turns a local media file into a transcript.
type TranscriptionEngine interface {
	// Transcribe processes the media file at path, invoking onProgress (which
	// may be nil) as spans complete. The context bounds the whole run.
	Transcribe(ctx context.Context, path string, onProgress ProgressFunc) (*models.TranscriptionResult, error)

	// ModelVersion identifies the model used, recorded on finished jobs.
	ModelVersion() string
}
