package awsinfra

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	s3types "github.com/aws/aws-sdk-go-v2/service/s3/types"

	"github.com/vietddude/lambdakit/internal/reliability/retry"
)

const (
	// MinPartSize is the smallest part S3 accepts, except for the last part.
	MinPartSize int64 = 5 << 20
	// DefaultPartSize is the part size used by Upload.
	DefaultPartSize int64 = 8 << 20

	abortTimeout = 5 * time.Second
)

// PutObject writes body to dst in a single request.
func (s *ObjectStore) PutObject(ctx context.Context, dst S3Object, body []byte, contentType string) error {
	_, err := retry.Execute(ctx, s.exec, "s3.PutObject", retry.OperationFunc[*s3.PutObjectOutput](
		func(ctx context.Context) (*s3.PutObjectOutput, error) {
			input := &s3.PutObjectInput{
				Bucket:        aws.String(dst.Bucket),
				Key:           aws.String(dst.Key),
				Body:          bytes.NewReader(body),
				ContentLength: aws.Int64(int64(len(body))),
			}
			if contentType != "" {
				input.ContentType = aws.String(contentType)
			}
			return s.api.PutObject(ctx, input)
		}))
	if err != nil {
		return fmt.Errorf("put %s: %w", dst, err)
	}
	return nil
}

// Upload streams r to dst. Input that fits in one part is written with PutObject,
// anything larger goes through a multipart upload that is aborted on failure.
// One part is buffered at a time and every request is retried on its own.
func (s *ObjectStore) Upload(ctx context.Context, dst S3Object, r io.Reader, contentType string) error {
	buf := make([]byte, s.partSize)
	n, err := io.ReadFull(r, buf)
	switch {
	case errors.Is(err, io.EOF), errors.Is(err, io.ErrUnexpectedEOF):
		return s.PutObject(ctx, dst, buf[:n], contentType)
	case err != nil:
		return fmt.Errorf("read upload body for %s: %w", dst, err)
	}

	uploadID, err := s.createUpload(ctx, dst, contentType)
	if err != nil {
		return err
	}

	var parts []s3types.CompletedPart
	for part := int32(1); ; part++ {
		etag, err := s.uploadPart(ctx, dst, uploadID, part, buf[:n])
		if err != nil {
			return s.abort(ctx, dst, uploadID, err)
		}
		parts = append(parts, s3types.CompletedPart{ETag: etag, PartNumber: aws.Int32(part)})

		if n < len(buf) {
			break
		}
		n, err = io.ReadFull(r, buf)
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil && !errors.Is(err, io.ErrUnexpectedEOF) {
			return s.abort(ctx, dst, uploadID, fmt.Errorf("read upload body for %s: %w", dst, err))
		}
	}

	_, err = retry.Execute(ctx, s.exec, "s3.CompleteMultipartUpload", retry.OperationFunc[*s3.CompleteMultipartUploadOutput](
		func(ctx context.Context) (*s3.CompleteMultipartUploadOutput, error) {
			return s.api.CompleteMultipartUpload(ctx, &s3.CompleteMultipartUploadInput{
				Bucket:          aws.String(dst.Bucket),
				Key:             aws.String(dst.Key),
				UploadId:        aws.String(uploadID),
				MultipartUpload: &s3types.CompletedMultipartUpload{Parts: parts},
			})
		}))
	if err != nil {
		return s.abort(ctx, dst, uploadID, fmt.Errorf("complete upload %s: %w", dst, err))
	}
	return nil
}

func (s *ObjectStore) createUpload(ctx context.Context, dst S3Object, contentType string) (string, error) {
	out, err := retry.Execute(ctx, s.exec, "s3.CreateMultipartUpload", retry.OperationFunc[*s3.CreateMultipartUploadOutput](
		func(ctx context.Context) (*s3.CreateMultipartUploadOutput, error) {
			input := &s3.CreateMultipartUploadInput{
				Bucket: aws.String(dst.Bucket),
				Key:    aws.String(dst.Key),
			}
			if contentType != "" {
				input.ContentType = aws.String(contentType)
			}
			return s.api.CreateMultipartUpload(ctx, input)
		}))
	if err != nil {
		return "", fmt.Errorf("create upload %s: %w", dst, err)
	}
	return aws.ToString(out.UploadId), nil
}

func (s *ObjectStore) uploadPart(ctx context.Context, dst S3Object, uploadID string, part int32, data []byte) (*string, error) {
	out, err := retry.Execute(ctx, s.exec, "s3.UploadPart", retry.OperationFunc[*s3.UploadPartOutput](
		func(ctx context.Context) (*s3.UploadPartOutput, error) {
			return s.api.UploadPart(ctx, &s3.UploadPartInput{
				Bucket:        aws.String(dst.Bucket),
				Key:           aws.String(dst.Key),
				UploadId:      aws.String(uploadID),
				PartNumber:    aws.Int32(part),
				Body:          bytes.NewReader(data),
				ContentLength: aws.Int64(int64(len(data))),
			})
		}))
	if err != nil {
		return nil, fmt.Errorf("upload part %d of %s: %w", part, dst, err)
	}
	return out.ETag, nil
}

// abort discards the parts of a failed upload. It runs even when ctx is done.
func (s *ObjectStore) abort(ctx context.Context, dst S3Object, uploadID string, cause error) error {
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), abortTimeout)
	defer cancel()

	_, err := s.api.AbortMultipartUpload(ctx, &s3.AbortMultipartUploadInput{
		Bucket:   aws.String(dst.Bucket),
		Key:      aws.String(dst.Key),
		UploadId: aws.String(uploadID),
	})
	if err != nil {
		return errors.Join(cause, fmt.Errorf("abort upload %s: %w", dst, err))
	}
	return cause
}
