package s3blob

import (
	"context"
	"fmt"
	"io"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"

	"github.com/arbiterlabs/flasharb/internal/domain"
)

// Writer implements domain.BlobWriter on an S3-compatible backend.
type Writer struct {
	client *s3.Client
	bucket string
}

// NewWriter creates a Writer that uploads to the client's configured bucket.
func NewWriter(c *Client) *Writer {
	return &Writer{
		client: c.S3(),
		bucket: c.Bucket(),
	}
}

// Write uploads the body as a single PutObject request. Archive pages are far
// below the multipart threshold, so one-shot uploads are sufficient.
func (w *Writer) Write(ctx context.Context, path string, contentType string, body io.Reader) (domain.BlobInfo, error) {
	_, err := w.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(w.bucket),
		Key:         aws.String(path),
		Body:        body,
		ContentType: aws.String(contentType),
	})
	if err != nil {
		return domain.BlobInfo{}, fmt.Errorf("s3blob: put object %s: %w", path, err)
	}

	info := domain.BlobInfo{
		Path:         path,
		ContentType:  contentType,
		LastModified: time.Now().UTC(),
	}
	head, err := w.client.HeadObject(ctx, &s3.HeadObjectInput{
		Bucket: aws.String(w.bucket),
		Key:    aws.String(path),
	})
	if err == nil {
		info.Size = aws.ToInt64(head.ContentLength)
		if head.LastModified != nil {
			info.LastModified = *head.LastModified
		}
	}
	return info, nil
}

// Compile-time interface check.
var _ domain.BlobWriter = (*Writer)(nil)
