package artifact

import (
	"bytes"
	"context"
	"fmt"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"

	"carbon-reports/internal/config"
)

// NewS3Client builds an S3 client from the default AWS credential chain.
// S3Endpoint points it at MinIO or LocalStack.
func NewS3Client(ctx context.Context, cfg config.Config) (*s3.Client, error) {
	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, awsconfig.WithRegion(cfg.S3Region))
	if err != nil {
		return nil, fmt.Errorf("load aws config: %w", err)
	}
	return s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		if cfg.S3Endpoint != "" {
			o.BaseEndpoint = aws.String(cfg.S3Endpoint)
		}
		o.UsePathStyle = cfg.S3PathStyle
	}), nil
}

// S3Options tunes an S3Publisher.
type S3Options struct {
	Bucket     string
	PublicRead bool
	PresignTTL time.Duration
	// Timeout bounds a single PutObject call; zero leaves it to the caller's context.
	Timeout time.Duration
}

// S3Publisher stores reports in an S3 bucket.
type S3Publisher struct {
	client  *s3.Client
	presign *s3.PresignClient
	opts    S3Options
}

func NewS3Publisher(client *s3.Client, opts S3Options) *S3Publisher {
	if opts.PresignTTL <= 0 {
		opts.PresignTTL = 15 * time.Minute
	}
	return &S3Publisher{
		client:  client,
		presign: s3.NewPresignClient(client),
		opts:    opts,
	}
}

// Publish puts body at key. S3 PUT replaces an existing object atomically.
func (p *S3Publisher) Publish(ctx context.Context, key string, body []byte) (string, error) {
	if p.opts.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, p.opts.Timeout)
		defer cancel()
	}

	input := &s3.PutObjectInput{
		Bucket:      aws.String(p.opts.Bucket),
		Key:         aws.String(key),
		Body:        bytes.NewReader(body),
		ContentType: aws.String(contentTypeFor(key)),
	}
	if p.opts.PublicRead {
		input.ACL = types.ObjectCannedACLPublicRead
	}
	if _, err := p.client.PutObject(ctx, input); err != nil {
		return "", fmt.Errorf("%w: put s3://%s/%s: %w", ErrPublish, p.opts.Bucket, key, err)
	}
	return key, nil
}

// URL returns a time-limited presigned GET link for key.
func (p *S3Publisher) URL(ctx context.Context, key string) (string, error) {
	req, err := p.presign.PresignGetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(p.opts.Bucket),
		Key:    aws.String(key),
	}, s3.WithPresignExpires(p.opts.PresignTTL))
	if err != nil {
		return "", fmt.Errorf("presign s3://%s/%s: %w", p.opts.Bucket, key, err)
	}
	return req.URL, nil
}
