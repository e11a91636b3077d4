package storage

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/aws/smithy-go"

	"tasvid/internal/circuitbreaker"
	appconfig "tasvid/internal/config"
)

func baseS3TestConfig() *appconfig.Config {
	return &appconfig.Config{
		S3Endpoint:                "http://example.com", // we won't actually call it
		S3Region:                  "us-east-1",
		S3AccessKeyID:             "test-access-key",
		S3SecretAccessKey:         "test-secret-key",
		S3UsePathStyle:            true,
		UploadBucket:              "media",
		StorageTimeout:            2 * time.Second,
		StorageMaxRetries:         1,
		StorageRetryDelay:         10 * time.Millisecond,
		CircuitBreakerThreshold:   1,
		CircuitBreakerTimeout:     time.Second,
		CircuitBreakerMaxRequests: 1,
	}
}

func TestNewS3Provider_Options(t *testing.T) {
	for _, pathStyle := range []bool{true, false} {
		cfg := baseS3TestConfig()
		cfg.S3UsePathStyle = pathStyle
		cb := circuitbreaker.New("storage", cfg, sharedMetrics)

		provider, err := NewS3Provider(context.Background(), cfg, sharedMetrics, cb)
		if err != nil {
			t.Fatalf("NewS3Provider returned error: %v", err)
		}

		opts := provider.client.Options()
		if opts.UsePathStyle != pathStyle {
			t.Errorf("UsePathStyle = %v, want %v", opts.UsePathStyle, pathStyle)
		}
		if opts.BaseEndpoint == nil || *opts.BaseEndpoint != "http://example.com" {
			t.Errorf("expected custom endpoint, got %v", opts.BaseEndpoint)
		}
		if provider.bucket != "media" {
			t.Errorf("bucket = %q, want media", provider.bucket)
		}
	}
}

func TestIsRetryableError(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want bool
	}{
		{name: "nil", err: nil, want: false},
		{name: "cancelled", err: context.Canceled, want: false},
		{name: "network", err: errors.New("connection reset by peer"), want: true},
		{name: "access denied", err: &smithy.GenericAPIError{Code: "AccessDenied", Fault: smithy.FaultClient}, want: false},
		{name: "no such bucket", err: &smithy.GenericAPIError{Code: "NoSuchBucket", Fault: smithy.FaultClient}, want: false},
		{name: "slow down", err: &smithy.GenericAPIError{Code: "SlowDown", Fault: smithy.FaultClient}, want: true},
		{name: "other client fault", err: &smithy.GenericAPIError{Code: "InvalidArgument", Fault: smithy.FaultClient}, want: false},
		{name: "server fault", err: &smithy.GenericAPIError{Code: "InternalError", Fault: smithy.FaultServer}, want: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := isRetryableError(tt.err); got != tt.want {
				t.Errorf("isRetryableError(%v) = %v, want %v", tt.err, got, tt.want)
			}
		})
	}
}
