package s3client

import (
	"context"
	"fmt"
	"io"
	"log/slog"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
)

// CreateMultipartUpload starts a multipart upload and returns its id.
func (c *Client) CreateMultipartUpload(ctx context.Context, key string) (string, error) {
	var uploadID string
	err := c.withRetry(ctx, "CreateMultipartUpload", func() error {
		o, err := c.api.CreateMultipartUpload(ctx, &s3.CreateMultipartUploadInput{
			Bucket: &c.profile.BucketName,
			Key:    &key,
		})
		if err != nil {
			return err
		}
		uploadID = aws.ToString(o.UploadId)
		return nil
	})
	if err != nil {
		return "", fmt.Errorf("CreateMultipartUpload: error starting upload for %q: %w", key, err)
	}
	return uploadID, nil
}

// UploadPart uploads one part. body must be seekable so transient failures
// can rewind and resend the same part.
func (c *Client) UploadPart(ctx context.Context, key, uploadID string, partNumber int32, body io.ReadSeeker, size int64) (string, error) {
	var etag string
	err := c.withRetry(ctx, "UploadPart", func() error {
		if _, err := body.Seek(0, io.SeekStart); err != nil {
			return fmt.Errorf("rewinding part body: %w", err)
		}
		o, err := c.api.UploadPart(ctx, &s3.UploadPartInput{
			Bucket:        &c.profile.BucketName,
			Key:           &key,
			UploadId:      &uploadID,
			PartNumber:    aws.Int32(partNumber),
			Body:          body,
			ContentLength: aws.Int64(size),
		})
		if err != nil {
			return err
		}
		etag = aws.ToString(o.ETag)
		return nil
	})
	if err != nil {
		return "", fmt.Errorf("UploadPart: error uploading part %d of %q: %w", partNumber, key, err)
	}
	return etag, nil
}

// CompleteMultipartUpload finishes the upload from the ordered part etags.
func (c *Client) CompleteMultipartUpload(ctx context.Context, key, uploadID string, etags []string) error {
	parts := make([]types.CompletedPart, len(etags))
	for i, etag := range etags {
		etagCopy := etag
		parts[i] = types.CompletedPart{
			ETag:       &etagCopy,
			PartNumber: aws.Int32(int32(i + 1)),
		}
	}
	err := c.withRetry(ctx, "CompleteMultipartUpload", func() error {
		_, err := c.api.CompleteMultipartUpload(ctx, &s3.CompleteMultipartUploadInput{
			Bucket:   &c.profile.BucketName,
			Key:      &key,
			UploadId: &uploadID,
			MultipartUpload: &types.CompletedMultipartUpload{
				Parts: parts,
			},
		})
		return err
	})
	if err != nil {
		return fmt.Errorf("CompleteMultipartUpload: error completing %q: %w", key, err)
	}
	c.log.Debug("CompleteMultipartUpload completed",
		slog.String("key", key),
		slog.Int("parts", len(parts)))
	return nil
}

// AbortMultipartUpload cancels the upload server-side. Best effort: the
// store reclaims parts on its own schedule if the abort itself fails.
func (c *Client) AbortMultipartUpload(ctx context.Context, key, uploadID string) error {
	err := c.withRetry(ctx, "AbortMultipartUpload", func() error {
		_, err := c.api.AbortMultipartUpload(ctx, &s3.AbortMultipartUploadInput{
			Bucket:   &c.profile.BucketName,
			Key:      &key,
			UploadId: &uploadID,
		})
		return err
	})
	if err != nil {
		return fmt.Errorf("AbortMultipartUpload: error aborting %q: %w", key, err)
	}
	return nil
}
