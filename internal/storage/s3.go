// Package storage implements the storage gateway on S3 multipart
// primitives.
package storage

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/aws/smithy-go"

	"github.com/fileinsights/uploads/internal/upload"
)

// S3Gateway issues presigned part URLs against a single shared bucket and
// drives the bucket's multipart lifecycle.
type S3Gateway struct {
	client        *s3.Client
	presignClient *s3.PresignClient
	bucket        string
	presignTTL    time.Duration
	logger        *slog.Logger
}

// NewS3Gateway creates a gateway over the given client and bucket.
func NewS3Gateway(client *s3.Client, bucket string, presignTTL time.Duration, logger *slog.Logger) *S3Gateway {
	return &S3Gateway{
		client:        client,
		presignClient: s3.NewPresignClient(client),
		bucket:        bucket,
		presignTTL:    presignTTL,
		logger:        logger,
	}
}

// CreateMultipartUpload obtains a multipart handle for the object key.
func (g *S3Gateway) CreateMultipartUpload(ctx context.Context, objectKey, contentType string) (string, error) {
	resp, err := g.client.CreateMultipartUpload(ctx, &s3.CreateMultipartUploadInput{
		Bucket:               aws.String(g.bucket),
		Key:                  aws.String(objectKey),
		ContentType:          aws.String(contentType),
		ServerSideEncryption: types.ServerSideEncryptionAes256,
	})
	if err != nil {
		return "", classify(err, fmt.Sprintf("create multipart upload for %s", objectKey))
	}
	return aws.ToString(resp.UploadId), nil
}

// PresignPartURL issues a time-limited URL for uploading one part
// directly to the bucket.
func (g *S3Gateway) PresignPartURL(ctx context.Context, objectKey, uploadToken string, partNumber int) (string, error) {
	req, err := g.presignClient.PresignUploadPart(ctx, &s3.UploadPartInput{
		Bucket:     aws.String(g.bucket),
		Key:        aws.String(objectKey),
		UploadId:   aws.String(uploadToken),
		PartNumber: aws.Int32(int32(partNumber)),
	}, func(opts *s3.PresignOptions) {
		opts.Expires = g.presignTTL
	})
	if err != nil {
		return "", classify(err, fmt.Sprintf("presign part %d of %s", partNumber, objectKey))
	}
	return req.URL, nil
}

// CompleteMultipartUpload finalizes the object from the ordered part
// list. A handle the backend already garbage-collected surfaces as a
// rejection, not a transient failure.
func (g *S3Gateway) CompleteMultipartUpload(ctx context.Context, objectKey, uploadToken string, parts []upload.Part) error {
	completed := make([]types.CompletedPart, len(parts))
	for i, p := range parts {
		completed[i] = types.CompletedPart{
			ETag:       aws.String(p.ETag),
			PartNumber: aws.Int32(int32(p.Number)),
		}
	}

	_, err := g.client.CompleteMultipartUpload(ctx, &s3.CompleteMultipartUploadInput{
		Bucket:   aws.String(g.bucket),
		Key:      aws.String(objectKey),
		UploadId: aws.String(uploadToken),
		MultipartUpload: &types.CompletedMultipartUpload{
			Parts: completed,
		},
	})
	if err != nil {
		return classify(err, fmt.Sprintf("complete multipart upload for %s", objectKey))
	}
	return nil
}

// AbortMultipartUpload releases the handle. An already-released handle is
// not an error.
func (g *S3Gateway) AbortMultipartUpload(ctx context.Context, objectKey, uploadToken string) error {
	_, err := g.client.AbortMultipartUpload(ctx, &s3.AbortMultipartUploadInput{
		Bucket:   aws.String(g.bucket),
		Key:      aws.String(objectKey),
		UploadId: aws.String(uploadToken),
	})
	if err != nil {
		var apiErr smithy.APIError
		if errors.As(err, &apiErr) && apiErr.ErrorCode() == "NoSuchUpload" {
			g.logger.Info("multipart handle already released", "object_key", objectKey)
			return nil
		}
		return classify(err, fmt.Sprintf("abort multipart upload for %s", objectKey))
	}
	return nil
}

// classify maps S3 failures onto the lifecycle error taxonomy: structural
// refusals the client must correct become rejections, everything else is
// treated as transient.
func classify(err error, op string) error {
	var apiErr smithy.APIError
	if errors.As(err, &apiErr) {
		switch apiErr.ErrorCode() {
		case "InvalidPart", "InvalidPartOrder", "EntityTooSmall", "NoSuchUpload", "NoSuchBucket", "AccessDenied", "InvalidRequest":
			return upload.WrapError(upload.KindBackendRejected, err, op)
		}
	}
	return upload.WrapError(upload.KindBackendUnavailable, err, op)
}
