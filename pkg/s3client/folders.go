package s3client

import (
	"bytes"
	"context"
	"crypto/md5" //nolint:gosec // MD5 required by S3 API for Content-MD5 header, not for cryptographic security
	"encoding/base64"
	"encoding/xml"
	"fmt"
	"log/slog"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/aws/smithy-go/middleware"
	smithyhttp "github.com/aws/smithy-go/transport/http"
)

// folderMarkerFile is the placeholder object that keeps an otherwise empty
// virtual folder listable. Hidden from listings.
const folderMarkerFile = "fd.dat"

// MaxDeleteBatch is the S3 DeleteObjects per-request limit.
const MaxDeleteBatch = 1000

// CreateFolder materializes an empty virtual folder by uploading a marker
// object under the prefix.
func (c *Client) CreateFolder(ctx context.Context, prefix string) error {
	prefix = strings.Trim(prefix, "/")
	if prefix == "" {
		return &Error{Kind: KindNotFound, Op: "CreateFolder",
			Err: fmt.Errorf("empty folder prefix")}
	}
	key := prefix + "/" + folderMarkerFile
	marker := []byte("fd")

	err := c.withRetry(ctx, "CreateFolder", func() error {
		_, err := c.api.PutObject(ctx, &s3.PutObjectInput{
			Bucket:        &c.profile.BucketName,
			Key:           &key,
			Body:          bytes.NewReader(marker),
			ContentLength: aws.Int64(int64(len(marker))),
		})
		return err
	})
	if err != nil {
		return fmt.Errorf("CreateFolder: error creating %q: %w", prefix, err)
	}
	c.log.Debug("CreateFolder completed", slog.String("prefix", prefix))
	return nil
}

// deletePayload represents the XML structure for DeleteObjects request
// body, used to compute the Content-MD5 header required by some
// S3-compatible services.
type deletePayload struct {
	XMLName xml.Name       `xml:"Delete"`
	Objects []deleteObject `xml:"Object"`
	Quiet   bool           `xml:"Quiet"`
}

type deleteObject struct {
	Key string `xml:"Key"`
}

// computeDeleteContentMD5 computes the MD5 hash of the DeleteObjects
// request body. Required by MinIO and some S3-compatible services.
func computeDeleteContentMD5(objects []types.ObjectIdentifier, quiet bool) (string, error) {
	payload := deletePayload{
		Objects: make([]deleteObject, len(objects)),
		Quiet:   quiet,
	}
	for i, obj := range objects {
		payload.Objects[i] = deleteObject{Key: *obj.Key}
	}

	xmlBytes, err := xml.Marshal(payload)
	if err != nil {
		return "", fmt.Errorf("failed to marshal delete payload: %w", err)
	}

	hash := md5.Sum(xmlBytes) //nolint:gosec // MD5 required by S3 API for Content-MD5 header
	return base64.StdEncoding.EncodeToString(hash[:]), nil
}

// addContentMD5Middleware creates a middleware that adds the Content-MD5
// header to the request.
func addContentMD5Middleware(contentMD5 string) func(*s3.Options) {
	return func(o *s3.Options) {
		o.APIOptions = append(o.APIOptions, func(stack *middleware.Stack) error {
			return stack.Finalize.Add(
				middleware.FinalizeMiddlewareFunc(
					"AddContentMD5",
					func(
						ctx context.Context,
						in middleware.FinalizeInput,
						next middleware.FinalizeHandler,
					) (middleware.FinalizeOutput, middleware.Metadata, error) {
						req, ok := in.Request.(*smithyhttp.Request)
						if ok {
							req.Header.Set("Content-MD5", contentMD5)
						}
						return next.HandleFinalize(ctx, in)
					},
				),
				middleware.Before,
			)
		})
	}
}

// DeleteObjects deletes up to MaxDeleteBatch objects in one batch request.
func (c *Client) DeleteObjects(ctx context.Context, keys []string) error {
	if len(keys) == 0 {
		return nil
	}
	if len(keys) > MaxDeleteBatch {
		//nolint:err113 // Dynamic error provides useful context about batch size violation
		return fmt.Errorf("DeleteObjects: too many keys (%d), maximum is %d", len(keys), MaxDeleteBatch)
	}

	objects := make([]types.ObjectIdentifier, len(keys))
	for i, key := range keys {
		keyCopy := key
		objects[i] = types.ObjectIdentifier{
			Key: &keyCopy,
		}
	}

	quiet := false
	input := &s3.DeleteObjectsInput{
		Bucket: &c.profile.BucketName,
		Delete: &types.Delete{
			Objects: objects,
			Quiet:   aws.Bool(quiet),
		},
	}

	contentMD5, err := computeDeleteContentMD5(objects, quiet)
	if err != nil {
		return fmt.Errorf("DeleteObjects: failed to compute Content-MD5: %w", err)
	}

	var output *s3.DeleteObjectsOutput
	err = c.withRetry(ctx, "DeleteObjects", func() error {
		o, err := c.api.DeleteObjects(ctx, input, addContentMD5Middleware(contentMD5))
		if err != nil {
			return err
		}
		output = o
		return nil
	})
	if err != nil {
		return fmt.Errorf("DeleteObjects: error deleting batch: %w", err)
	}

	if len(output.Errors) > 0 {
		for _, deleteError := range output.Errors {
			c.log.Error("failed to delete object",
				slog.String("key", aws.ToString(deleteError.Key)),
				slog.String("code", aws.ToString(deleteError.Code)),
				slog.String("message", aws.ToString(deleteError.Message)))
		}
		return &Error{Kind: KindPartialFailure, Op: "DeleteObjects",
			Err: fmt.Errorf("%d of %d objects failed to delete", len(output.Errors), len(keys))}
	}

	c.log.Debug("DeleteObjects completed",
		slog.Int("count", len(keys)),
		slog.Int("deleted", len(output.Deleted)))
	return nil
}
