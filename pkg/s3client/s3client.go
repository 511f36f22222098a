// Package s3client wraps outbound calls to an S3-compatible store for one
// remote: request signing, typed errors and bounded retry on transient
// failures.
package s3client

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/cenkalti/backoff/v4"

	"github.com/sgaunet/s3browse/pkg/config"
)

const (
	// defaultMaxRetries bounds retries of a transient failure, so at most
	// defaultMaxRetries+1 attempts per call.
	defaultMaxRetries     = 2
	defaultInitialBackoff = 200 * time.Millisecond
	defaultMaxBackoff     = 5 * time.Second
)

// Client is the signed request client for one remote profile.
type Client struct {
	profile        config.RemoteProfile
	api            *s3.Client
	log            *slog.Logger
	maxRetries     uint64
	initialBackoff time.Duration
	maxBackoff     time.Duration
}

// New builds a client for the given profile. Malformed static credentials
// fail fast with KindInvalidCredentials before any network call.
func New(ctx context.Context, profile config.RemoteProfile) (*Client, error) {
	var awsCfg aws.Config
	var err error

	switch {
	case profile.AccessKeyID != "":
		if err = validateStaticCredentials(profile); err != nil {
			return nil, err
		}
		awsCfg = aws.Config{
			Region: profile.Region,
			Credentials: credentials.NewStaticCredentialsProvider(
				profile.AccessKeyID, profile.SecretAccessKey, ""),
		}
	case profile.AwsProfile != "":
		awsCfg, err = awsconfig.LoadDefaultConfig(ctx,
			awsconfig.WithSharedConfigProfile(profile.AwsProfile))
		if err != nil {
			return nil, &Error{Kind: KindInvalidCredentials, Op: "New",
				Err: fmt.Errorf("error loading shared profile: %w", err)}
		}
	default:
		awsCfg, err = awsconfig.LoadDefaultConfig(ctx,
			awsconfig.WithRegion(profile.Region))
		if err != nil {
			return nil, &Error{Kind: KindInvalidCredentials, Op: "New",
				Err: fmt.Errorf("error loading default config: %w", err)}
		}
	}

	// The client owns the retry policy; disable the SDK's.
	awsCfg.Retryer = func() aws.Retryer { return aws.NopRetryer{} }

	api := s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		if profile.Endpoint != "" {
			o.BaseEndpoint = aws.String(profile.Endpoint)
			// Required for MinIO and most endpoint-style stores.
			o.UsePathStyle = true
		}
	})

	return &Client{
		profile:        profile,
		api:            api,
		log:            slog.New(slog.DiscardHandler),
		maxRetries:     defaultMaxRetries,
		initialBackoff: defaultInitialBackoff,
		maxBackoff:     defaultMaxBackoff,
	}, nil
}

// SetLogger sets the logger.
func (c *Client) SetLogger(log *slog.Logger) {
	c.log = log
}

// Remote returns the remote name this client serves.
func (c *Client) Remote() string {
	return c.profile.Name
}

// validateStaticCredentials rejects credentials the signer could never
// serialize into a valid Authorization header.
func validateStaticCredentials(p config.RemoteProfile) error {
	for _, cred := range []string{p.AccessKeyID, p.SecretAccessKey} {
		for _, r := range cred {
			if r < 0x21 || r > 0x7e {
				return &Error{Kind: KindInvalidCredentials, Op: "New",
					Err: fmt.Errorf("credentials for remote %q contain unsignable characters", p.Name)}
			}
		}
	}
	return nil
}

// withRetry runs fn, retrying transient failures with bounded exponential
// backoff. Non-transient errors are surfaced immediately.
func (c *Client) withRetry(ctx context.Context, op string, fn func() error) error {
	operation := func() error {
		err := fn()
		if err == nil {
			return nil
		}
		cerr := Classify(op, err)
		if IsTransient(cerr) {
			c.log.Debug("retrying transient failure",
				slog.String("op", op),
				slog.String("remote", c.profile.Name),
				slog.String("error", cerr.Error()))
			return cerr
		}
		return backoff.Permanent(cerr)
	}

	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = c.initialBackoff
	bo.MaxInterval = c.maxBackoff

	err := backoff.Retry(operation,
		backoff.WithContext(backoff.WithMaxRetries(bo, c.maxRetries), ctx))
	if err != nil {
		return Classify(op, err)
	}
	return nil
}

// GetObject opens a read stream for the object. A non-zero offset requests
// a Range read from that byte onward; the returned size is the full object
// size in both cases.
func (c *Client) GetObject(ctx context.Context, key string, offset int64) (io.ReadCloser, int64, error) {
	input := &s3.GetObjectInput{
		Bucket: &c.profile.BucketName,
		Key:    &key,
	}
	if offset > 0 {
		input.Range = aws.String(fmt.Sprintf("bytes=%d-", offset))
	}

	var body io.ReadCloser
	var size int64
	err := c.withRetry(ctx, "GetObject", func() error {
		o, err := c.api.GetObject(ctx, input)
		if err != nil {
			return err
		}
		body = o.Body
		size = offset + aws.ToInt64(o.ContentLength)
		return nil
	})
	if err != nil {
		return nil, 0, fmt.Errorf("GetObject: error getting %q: %w", key, err)
	}
	return body, size, nil
}

// PutObject uploads a single object in one request. The call is not
// retried internally because body cannot be rewound; the caller retries by
// reopening the source.
func (c *Client) PutObject(ctx context.Context, key string, body io.Reader, size int64) error {
	input := &s3.PutObjectInput{
		Bucket:        &c.profile.BucketName,
		Key:           &key,
		Body:          body,
		ContentLength: aws.Int64(size),
	}
	if _, err := c.api.PutObject(ctx, input); err != nil {
		return fmt.Errorf("PutObject: error uploading %q: %w", key, Classify("PutObject", err))
	}
	c.log.Debug("PutObject completed",
		slog.String("key", key),
		slog.Int64("size", size))
	return nil
}

// DeleteObject deletes a single object.
func (c *Client) DeleteObject(ctx context.Context, key string) error {
	err := c.withRetry(ctx, "DeleteObject", func() error {
		_, err := c.api.DeleteObject(ctx, &s3.DeleteObjectInput{
			Bucket: &c.profile.BucketName,
			Key:    &key,
		})
		return err
	})
	if err != nil {
		return fmt.Errorf("DeleteObject: error deleting %q: %w", key, err)
	}
	c.log.Debug("DeleteObject completed", slog.String("key", key))
	return nil
}
