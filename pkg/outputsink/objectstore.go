package outputsink

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"syscall"
	"time"

	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/feature/s3/manager"
	"github.com/aws/aws-sdk-go-v2/service/s3"

	"github.com/docker/pdfraster/pkg/encode"
	"github.com/docker/pdfraster/pkg/logging"
)

// objectStoreConcurrency is the default upload concurrency cap.
const objectStoreConcurrency = 6

// objectStoreMaxRetries and objectStoreRetryBase implement the per-item
// exponential backoff: base 1s, doubling, 3 attempts.
const (
	objectStoreMaxRetries = 3
	objectStoreRetryBase  = time.Second
)

// ObjectStoreConfig names the destination bucket and credentials for
// ObjectStore-mode delivery.
type ObjectStoreConfig struct {
	Bucket          string
	Region          string
	Endpoint        string // optional custom endpoint (e.g. S3-compatible store)
	AccessKeyID     string
	SecretAccessKey string
	SessionToken    string
}

type objectStoreSink struct {
	client    *s3.Client
	uploader  *manager.Uploader
	keyPrefix string
	bucket    string
	log       logging.Logger
}

func newS3ObjectStore(cfg ObjectStoreConfig, keyPrefix string, log logging.Logger) (*objectStoreSink, error) {
	if cfg.Bucket == "" {
		return nil, fmt.Errorf("object store config requires a bucket")
	}

	var optFns []func(*awsconfig.LoadOptions) error
	if cfg.Region != "" {
		optFns = append(optFns, awsconfig.WithRegion(cfg.Region))
	}
	if cfg.AccessKeyID != "" {
		optFns = append(optFns, awsconfig.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(cfg.AccessKeyID, cfg.SecretAccessKey, cfg.SessionToken)))
	}

	awsCfg, err := awsconfig.LoadDefaultConfig(context.Background(), optFns...)
	if err != nil {
		return nil, fmt.Errorf("loading AWS config: %w", err)
	}

	client := s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		// One SDK attempt per call: DeliverOne's own loop owns the retry
		// budget, so the SDK retryer must not multiply it.
		o.RetryMaxAttempts = 1
		if cfg.Endpoint != "" {
			o.BaseEndpoint = &cfg.Endpoint
			o.UsePathStyle = true
		}
	})

	return &objectStoreSink{
		client:    client,
		uploader:  manager.NewUploader(client),
		bucket:    cfg.Bucket,
		keyPrefix: keyPrefix,
		log:       log,
	}, nil
}

func (s *objectStoreSink) Concurrency() int { return objectStoreConcurrency }

func (s *objectStoreSink) DeliverOne(ctx context.Context, page encode.EncodedPage, ext, contentType string) DeliveryResult {
	result := DeliveryResult{PageIndex: page.PageIndex, WidthPx: page.WidthPx, HeightPx: page.HeightPx}
	if !page.Success {
		result.Error = &OutputError{PageIndex: page.PageIndex, Err: fmt.Errorf("page did not render/encode successfully")}
		return result
	}

	key := pageObjectKey(s.keyPrefix, page.PageIndex, ext)
	digestStr := digestOf(page.EncodedBytes)

	var lastErr error
	for attempt := 0; attempt < objectStoreMaxRetries; attempt++ {
		if attempt > 0 {
			delay := objectStoreRetryBase * time.Duration(1<<uint(attempt-1))
			select {
			case <-time.After(delay):
			case <-ctx.Done():
				result.Error = &OutputError{PageIndex: page.PageIndex, Err: ctx.Err()}
				return result
			}
		}

		_, err := s.uploader.Upload(ctx, &s3.PutObjectInput{
			Bucket:      &s.bucket,
			Key:         &key,
			Body:        bytes.NewReader(page.EncodedBytes),
			ContentType: &contentType,
		})
		if err == nil {
			result.Success = true
			result.SinkRef = key
			result.Digest = digestStr
			if s.log != nil {
				s.log.WithField("page", page.PageIndex).Debugf("Uploaded s3://%s/%s (digest %s)", s.bucket, key, digestStr)
			}
			return result
		}

		lastErr = err
		if !isRetryableUploadError(err) {
			break
		}
	}

	result.Error = &OutputError{PageIndex: page.PageIndex, Err: lastErr}
	return result
}

// isRetryableUploadError matches the retryable error kinds: connection
// reset, timeout, 5xx, broken pipe.
func isRetryableUploadError(err error) bool {
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return true
	}
	var respErr interface{ HTTPStatusCode() int }
	if errors.As(err, &respErr) && respErr.HTTPStatusCode() >= http.StatusInternalServerError {
		return true
	}
	return errors.Is(err, net.ErrClosed) || errors.Is(err, syscall.ECONNRESET) || errors.Is(err, syscall.EPIPE)
}
