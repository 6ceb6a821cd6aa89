// Package r2 provides a Cloudflare R2 object store client over the
// S3-compatible API.
package r2

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	s3types "github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/aws/smithy-go"
	"github.com/google/uuid"

	"github.com/skaldhq/skald/internal/common"
	"github.com/skaldhq/skald/internal/interfaces"
	"github.com/skaldhq/skald/internal/models"
)

// MaxUploadBytes caps direct uploads at 500MB.
const MaxUploadBytes int64 = 500 << 20

// Client implements the ObjectStore interface against R2.
type Client struct {
	s3        *s3.Client
	presigner *s3.PresignClient
	bucket    string
	logger    *common.Logger
}

// ClientOption configures the client
type ClientOption func(*Client)

// WithLogger sets the logger
func WithLogger(logger *common.Logger) ClientOption {
	return func(c *Client) {
		c.logger = logger
	}
}

// NewClient creates an R2 client. R2 ignores the region, the SDK requires
// one; "auto" is the documented value.
func NewClient(ctx context.Context, cfg common.ObjectStoreConfig, opts ...ClientOption) (*Client, error) {
	if cfg.Bucket == "" {
		return nil, fmt.Errorf("object store bucket is required")
	}

	awsCfg, err := awsconfig.LoadDefaultConfig(ctx,
		awsconfig.WithRegion("auto"),
		awsconfig.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(cfg.AccessKeyID, cfg.SecretAccessKey, ""),
		),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to load object store config: %w", err)
	}

	endpoint := cfg.ResolveEndpoint()
	s3Client := s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		o.BaseEndpoint = aws.String(endpoint)
	})

	c := &Client{
		s3:        s3Client,
		presigner: s3.NewPresignClient(s3Client),
		bucket:    cfg.Bucket,
		logger:    common.NewSilentLogger(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

// GenerateObjectKey builds a user-scoped key for a new upload. The random
// prefix keeps repeated uploads of the same filename from colliding.
func (c *Client) GenerateObjectKey(userID, filename string) string {
	return fmt.Sprintf("users/%s/media/%s_%s", userID, uuid.NewString(), sanitizeFilename(filename))
}

// sanitizeFilename reduces a client-supplied filename to a safe key
// component.
func sanitizeFilename(filename string) string {
	name := filepath.Base(strings.ReplaceAll(filename, "\\", "/"))
	name = strings.TrimLeft(name, ".")
	name = strings.Map(func(r rune) rune {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9':
			return r
		case r == '-' || r == '_' || r == '.':
			return r
		}
		return '_'
	}, name)
	if name == "" {
		return "upload"
	}
	return name
}

// GenerateSignedPutURL returns a presigned PUT URL for direct client upload.
func (c *Client) GenerateSignedPutURL(ctx context.Context, objectKey, contentType string, expires time.Duration) (*models.SignedUpload, error) {
	req, err := c.presigner.PresignPutObject(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(c.bucket),
		Key:         aws.String(objectKey),
		ContentType: aws.String(contentType),
	}, s3.WithPresignExpires(expires))
	if err != nil {
		return nil, fmt.Errorf("failed to presign upload for %s: %w", objectKey, err)
	}

	return &models.SignedUpload{
		ObjectKey:    objectKey,
		UploadURL:    req.URL,
		ExpiresAt:    time.Now().UTC().Add(expires),
		MaxSizeBytes: MaxUploadBytes,
	}, nil
}

// GenerateSignedGetURL returns a presigned GET URL for download.
func (c *Client) GenerateSignedGetURL(ctx context.Context, objectKey string, expires time.Duration) (string, error) {
	req, err := c.presigner.PresignGetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(c.bucket),
		Key:    aws.String(objectKey),
	}, s3.WithPresignExpires(expires))
	if err != nil {
		return "", fmt.Errorf("failed to presign download for %s: %w", objectKey, err)
	}
	return req.URL, nil
}

// ObjectExists checks presence via a HEAD request.
func (c *Client) ObjectExists(ctx context.Context, objectKey string) (bool, error) {
	_, err := c.s3.HeadObject(ctx, &s3.HeadObjectInput{
		Bucket: aws.String(c.bucket),
		Key:    aws.String(objectKey),
	})
	if err != nil {
		if isNotFound(err) {
			return false, nil
		}
		return false, fmt.Errorf("failed to check object %s: %w", objectKey, err)
	}
	return true, nil
}

// GetMetadata returns object metadata via a HEAD request.
func (c *Client) GetMetadata(ctx context.Context, objectKey string) (*interfaces.ObjectMetadata, error) {
	head, err := c.s3.HeadObject(ctx, &s3.HeadObjectInput{
		Bucket: aws.String(c.bucket),
		Key:    aws.String(objectKey),
	})
	if err != nil {
		return nil, classifyDownload(objectKey, err)
	}

	meta := &interfaces.ObjectMetadata{
		ContentType:   aws.ToString(head.ContentType),
		ContentLength: aws.ToInt64(head.ContentLength),
		ETag:          aws.ToString(head.ETag),
	}
	if head.LastModified != nil {
		meta.LastModified = *head.LastModified
	}
	return meta, nil
}

// DownloadToPath streams the object to a local file, returning the byte
// count. Failures carry a DownloadError classification for retry decisions.
func (c *Client) DownloadToPath(ctx context.Context, objectKey, localPath string) (int64, error) {
	out, err := c.s3.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(c.bucket),
		Key:    aws.String(objectKey),
	})
	if err != nil {
		return 0, classifyDownload(objectKey, err)
	}
	defer out.Body.Close()

	file, err := createLocalFile(localPath)
	if err != nil {
		return 0, &models.DownloadError{Key: objectKey, Reason: models.DownloadOther, Err: err}
	}
	defer file.Close()

	n, err := io.Copy(file, out.Body)
	if err != nil {
		return n, classifyDownload(objectKey, err)
	}

	c.logger.Debug().
		Str("object_key", objectKey).
		Int64("bytes", n).
		Msg("Downloaded object")
	return n, nil
}

// createLocalFile opens localPath for writing, creating missing parent
// directories first.
func createLocalFile(localPath string) (*os.File, error) {
	if dir := filepath.Dir(localPath); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, err
		}
	}
	return os.Create(localPath)
}

// DeleteObject removes the object. S3 deletes are idempotent, so a missing
// object is not an error.
func (c *Client) DeleteObject(ctx context.Context, objectKey string) error {
	_, err := c.s3.DeleteObject(ctx, &s3.DeleteObjectInput{
		Bucket: aws.String(c.bucket),
		Key:    aws.String(objectKey),
	})
	if err != nil {
		return fmt.Errorf("failed to delete object %s: %w", objectKey, err)
	}
	return nil
}

// isNotFound reports whether an S3 error means the object does not exist.
func isNotFound(err error) bool {
	var noKey *s3types.NoSuchKey
	var notFound *s3types.NotFound
	if errors.As(err, &noKey) || errors.As(err, &notFound) {
		return true
	}
	var apiErr smithy.APIError
	if errors.As(err, &apiErr) {
		switch apiErr.ErrorCode() {
		case "NoSuchKey", "NotFound":
			return true
		}
	}
	return false
}

// classifyDownload wraps an object fetch failure with a retry classification.
func classifyDownload(objectKey string, err error) error {
	reason := models.DownloadOther
	switch {
	case isNotFound(err):
		reason = models.DownloadNotFound
	case errors.Is(err, context.DeadlineExceeded):
		reason = models.DownloadTimeout
	}
	return &models.DownloadError{Key: objectKey, Reason: reason, Err: err}
}

// Compile-time check
var _ interfaces.ObjectStore = (*Client)(nil)
