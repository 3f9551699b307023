// Package artifact publishes finished reports to durable storage.
package artifact

import (
	"context"
	"errors"
	"fmt"

	"carbon-reports/internal/config"
)

// ErrPublish marks any failure to store an artifact. Callers treat it as final
// for the current attempt; retries happen by re-running the job.
var ErrPublish = errors.New("publish artifact")

// Publisher uploads a body under key, replacing any previous object, and
// returns the key it was stored under.
type Publisher interface {
	Publish(ctx context.Context, key string, body []byte) (string, error)
}

// Linker turns a stored key into a URL a client can download from.
type Linker interface {
	URL(ctx context.Context, key string) (string, error)
}

// Store is a Publisher that can also hand out download links.
type Store interface {
	Publisher
	Linker
}

// Key returns the stable object key for a period's report.
func Key(year, month int, ext string) string {
	return fmt.Sprintf("reports/%04d-%02d.%s", year, month, ext)
}

// New picks S3 when a bucket is configured and the local filesystem otherwise.
func New(ctx context.Context, cfg config.Config) (Store, error) {
	if cfg.S3Bucket == "" {
		return NewLocalPublisher(cfg.ArtifactDir), nil
	}
	client, err := NewS3Client(ctx, cfg)
	if err != nil {
		return nil, err
	}
	return NewS3Publisher(client, S3Options{
		Bucket:     cfg.S3Bucket,
		PublicRead: cfg.S3PublicRead,
		PresignTTL: cfg.PresignTTL,
		Timeout:    cfg.UploadTimeout,
	}), nil
}
