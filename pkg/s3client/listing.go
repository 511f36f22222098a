package s3client

import (
	"context"
	"fmt"
	"path"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"

	"github.com/sgaunet/s3browse/pkg/dto"
)

// Delimiter is the conventional folder delimiter for bucket browsing.
const Delimiter = "/"

// ListObjectsPage fetches one page of the delimited listing under prefix.
// Entry order within the page is the store's: common prefixes first, then
// objects, each lexicographic. The client does not re-sort.
func (c *Client) ListObjectsPage(ctx context.Context, prefix, delimiter, continuationToken string) (dto.ListingPage, error) {
	input := &s3.ListObjectsV2Input{
		Bucket:    &c.profile.BucketName,
		Prefix:    aws.String(prefix),
		Delimiter: aws.String(delimiter),
	}
	if continuationToken != "" {
		input.ContinuationToken = aws.String(continuationToken)
	}

	var page dto.ListingPage
	err := c.withRetry(ctx, "ListObjectsPage", func() error {
		o, err := c.api.ListObjectsV2(ctx, input)
		if err != nil {
			return err
		}
		page = dto.ListingPage{
			NextContinuationToken: aws.ToString(o.NextContinuationToken),
			IsTruncated:           aws.ToBool(o.IsTruncated),
		}
		page.Entries = make([]dto.ListingEntry, 0, len(o.CommonPrefixes)+len(o.Contents))
		for _, cp := range o.CommonPrefixes {
			page.Entries = append(page.Entries, dto.ListingEntry{
				Key:      aws.ToString(cp.Prefix),
				IsPrefix: true,
			})
		}
		for _, obj := range o.Contents {
			key := aws.ToString(obj.Key)
			if hiddenKey(key, prefix) {
				continue
			}
			page.Entries = append(page.Entries, dto.ListingEntry{
				Key:          key,
				Size:         aws.ToInt64(obj.Size),
				LastModified: aws.ToTime(obj.LastModified),
				ETag:         aws.ToString(obj.ETag),
			})
		}
		return nil
	})
	if err != nil {
		return dto.ListingPage{}, fmt.Errorf("ListObjectsPage: error listing %q: %w", prefix, err)
	}
	return page, nil
}

// hiddenKey filters keys that only exist to emulate folders: the queried
// prefix itself, directory marker keys and folder marker files.
func hiddenKey(key, prefix string) bool {
	if key == prefix {
		return true
	}
	if len(key) > 0 && key[len(key)-1] == '/' {
		return true
	}
	return path.Base(key) == folderMarkerFile
}

// StatObject returns metadata for one key.
func (c *Client) StatObject(ctx context.Context, key string) (dto.ListingEntry, error) {
	var entry dto.ListingEntry
	err := c.withRetry(ctx, "StatObject", func() error {
		o, err := c.api.HeadObject(ctx, &s3.HeadObjectInput{
			Bucket: &c.profile.BucketName,
			Key:    &key,
		})
		if err != nil {
			return err
		}
		entry = dto.ListingEntry{
			Key:          key,
			Size:         aws.ToInt64(o.ContentLength),
			LastModified: aws.ToTime(o.LastModified),
			ETag:         aws.ToString(o.ETag),
		}
		return nil
	})
	if err != nil {
		return dto.ListingEntry{}, fmt.Errorf("StatObject: error heading %q: %w", key, err)
	}
	return entry, nil
}

// ListAllKeys returns every key under prefix, without delimiter, across
// all pages. Used for recursive folder deletes.
func (c *Client) ListAllKeys(ctx context.Context, prefix string) ([]string, error) {
	var keys []string
	token := ""
	for {
		input := &s3.ListObjectsV2Input{
			Bucket: &c.profile.BucketName,
			Prefix: aws.String(prefix),
		}
		if token != "" {
			input.ContinuationToken = aws.String(token)
		}

		var out *s3.ListObjectsV2Output
		err := c.withRetry(ctx, "ListAllKeys", func() error {
			o, err := c.api.ListObjectsV2(ctx, input)
			if err != nil {
				return err
			}
			out = o
			return nil
		})
		if err != nil {
			return nil, fmt.Errorf("ListAllKeys: error listing %q: %w", prefix, err)
		}
		for _, obj := range out.Contents {
			keys = append(keys, aws.ToString(obj.Key))
		}
		if !aws.ToBool(out.IsTruncated) {
			break
		}
		token = aws.ToString(out.NextContinuationToken)
	}
	return keys, nil
}
