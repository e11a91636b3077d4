package storage

import (
	"context"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/smithy-go"

	"tasvid/internal/circuitbreaker"
	appconfig "tasvid/internal/config"
	"tasvid/internal/metrics"
)

// S3 error codes that will not succeed on retry
var permanentS3Codes = map[string]bool{
	"AccessDenied":          true,
	"InvalidAccessKeyId":    true,
	"SignatureDoesNotMatch": true,
	"NoSuchBucket":          true,
	"InvalidBucketName":     true,
	"EntityTooLarge":        true,
}

// S3Provider uploads to S3-compatible storage
type S3Provider struct {
	client         *s3.Client
	bucket         string
	circuitBreaker *circuitbreaker.Breaker
	metrics        *metrics.Metrics
	timeout        time.Duration
	maxRetries     int
	retryDelay     time.Duration
}

// NewS3Provider creates a new S3-compatible storage provider
func NewS3Provider(ctx context.Context, cfg *appconfig.Config, m *metrics.Metrics, cb *circuitbreaker.Breaker) (*S3Provider, error) {
	region := cfg.S3Region
	if region == "" {
		region = "us-east-1"
	}

	cfgOpts := []func(*config.LoadOptions) error{
		config.WithRegion(region),
	}

	// Static credentials (typical for MinIO and many S3-compatible providers)
	if cfg.S3AccessKeyID != "" && cfg.S3SecretAccessKey != "" {
		cfgOpts = append(cfgOpts, config.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(
				cfg.S3AccessKeyID,
				cfg.S3SecretAccessKey,
				"",
			),
		))
	}

	awsCfg, err := config.LoadDefaultConfig(ctx, cfgOpts...)
	if err != nil {
		return nil, err
	}

	client := s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		o.UsePathStyle = cfg.S3UsePathStyle
		// Custom endpoint (MinIO, R2, Wasabi, etc.)
		if cfg.S3Endpoint != "" {
			o.BaseEndpoint = aws.String(cfg.S3Endpoint)
		}
	})

	timeout := cfg.StorageTimeout
	if timeout <= 0 {
		timeout = 10 * time.Minute
	}

	return &S3Provider{
		client:         client,
		bucket:         cfg.UploadBucket,
		circuitBreaker: cb,
		metrics:        m,
		timeout:        timeout,
		maxRetries:     cfg.StorageMaxRetries,
		retryDelay:     cfg.StorageRetryDelay,
	}, nil
}

// PutObject uploads body to the configured bucket
func (s *S3Provider) PutObject(ctx context.Context, key string, body io.ReadSeeker, size int64) (string, error) {
	start := time.Now()
	resultLabel := "error"
	defer func() {
		s.metrics.StorageDuration.WithLabelValues("s3", resultLabel).Observe(time.Since(start).Seconds())
		s.metrics.UploadsTotal.WithLabelValues(resultLabel).Inc()
	}()

	_, err := s.circuitBreaker.Execute(func() (interface{}, error) {
		var lastErr error
		for attempt := 0; attempt <= s.maxRetries; attempt++ {
			if attempt > 0 {
				if err := backoff(ctx, s.retryDelay, attempt); err != nil {
					return nil, err
				}
			}

			if _, err := body.Seek(0, io.SeekStart); err != nil {
				return nil, fmt.Errorf("rewind upload body: %w", err)
			}

			err := s.put(ctx, key, body, size)
			if err == nil {
				return nil, nil
			}

			lastErr = err
			if !isRetryableError(err) {
				break
			}
		}
		return nil, lastErr
	})
	if err != nil {
		return "", err
	}

	resultLabel = "success"
	return fmt.Sprintf("s3://%s/%s", s.bucket, key), nil
}

func (s *S3Provider) put(ctx context.Context, key string, body io.Reader, size int64) error {
	putCtx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	input := &s3.PutObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(key),
		Body:   body,
	}
	if size > 0 {
		input.ContentLength = aws.Int64(size)
	}

	_, err := s.client.PutObject(putCtx, input)
	return err
}

// isRetryableError determines if an error should trigger a retry
func isRetryableError(err error) bool {
	if err == nil {
		return false
	}

	if errors.Is(err, context.Canceled) {
		return false
	}

	var apiErr smithy.APIError
	if errors.As(err, &apiErr) {
		if permanentS3Codes[apiErr.ErrorCode()] {
			return false
		}
		return apiErr.ErrorFault() != smithy.FaultClient || apiErr.ErrorCode() == "SlowDown" || apiErr.ErrorCode() == "RequestTimeout"
	}

	// network issues, per-attempt timeouts
	return true
}

// HealthCheck verifies the bucket is reachable
func (s *S3Provider) HealthCheck(ctx context.Context) error {
	checkCtx, cancel := context.WithTimeout(ctx, 3*time.Second)
	defer cancel()

	_, err := s.client.HeadBucket(checkCtx, &s3.HeadBucketInput{Bucket: aws.String(s.bucket)})
	if err != nil {
		return fmt.Errorf("s3 connectivity check failed: %w", err)
	}
	return nil
}
