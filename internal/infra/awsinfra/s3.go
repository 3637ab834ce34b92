package awsinfra

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"

	"github.com/vietddude/lambdakit/internal/reliability/retry"
)

// S3API is the subset of the S3 client used by ObjectStore.
type S3API interface {
	ListObjectsV2(ctx context.Context, params *s3.ListObjectsV2Input, optFns ...func(*s3.Options)) (*s3.ListObjectsV2Output, error)
	GetObject(ctx context.Context, params *s3.GetObjectInput, optFns ...func(*s3.Options)) (*s3.GetObjectOutput, error)
	PutObject(ctx context.Context, params *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error)
	CreateMultipartUpload(ctx context.Context, params *s3.CreateMultipartUploadInput, optFns ...func(*s3.Options)) (*s3.CreateMultipartUploadOutput, error)
	UploadPart(ctx context.Context, params *s3.UploadPartInput, optFns ...func(*s3.Options)) (*s3.UploadPartOutput, error)
	CompleteMultipartUpload(ctx context.Context, params *s3.CompleteMultipartUploadInput, optFns ...func(*s3.Options)) (*s3.CompleteMultipartUploadOutput, error)
	AbortMultipartUpload(ctx context.Context, params *s3.AbortMultipartUploadInput, optFns ...func(*s3.Options)) (*s3.AbortMultipartUploadOutput, error)
}

// ObjectInfo describes one listed object.
type ObjectInfo struct {
	Key          string
	Size         int64
	ETag         string
	LastModified time.Time
}

// Object is a fetched object. The body is buffered and must be closed.
type Object struct {
	Key         string
	ContentType string
	Size        int64

	r    *bufio.Reader
	body io.ReadCloser
}

// NewObject wraps body in a buffered Object.
func NewObject(key, contentType string, size int64, body io.ReadCloser) *Object {
	return &Object{
		Key:         key,
		ContentType: contentType,
		Size:        size,
		r:           bufio.NewReader(body),
		body:        body,
	}
}

func (o *Object) Read(p []byte) (int, error) {
	return o.r.Read(p)
}

// Close releases the underlying connection.
func (o *Object) Close() error {
	return o.body.Close()
}

// ObjectStore reads and writes S3 objects with every request driven by the retry executor.
type ObjectStore struct {
	api      S3API
	exec     *retry.Executor
	partSize int64
}

// ObjectStoreOption customises an ObjectStore.
type ObjectStoreOption func(s *ObjectStore)

// WithPartSize sets the multipart part size used by Upload. S3 rejects parts
// below MinPartSize except the last one.
func WithPartSize(n int64) ObjectStoreOption {
	return func(s *ObjectStore) {
		if n > 0 {
			s.partSize = n
		}
	}
}

// NewObjectStore creates an ObjectStore.
func NewObjectStore(api S3API, exec *retry.Executor, opts ...ObjectStoreOption) *ObjectStore {
	s := &ObjectStore{api: api, exec: exec, partSize: DefaultPartSize}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// With returns a copy of s with opts applied.
func (s *ObjectStore) With(opts ...ObjectStoreOption) *ObjectStore {
	c := *s
	for _, opt := range opts {
		opt(&c)
	}
	return &c
}

// ListObjects returns every object in bucket under prefix, following all pages.
func (s *ObjectStore) ListObjects(ctx context.Context, bucket, prefix string) ([]ObjectInfo, error) {
	input := &s3.ListObjectsV2Input{Bucket: aws.String(bucket)}
	if prefix != "" {
		input.Prefix = aws.String(prefix)
	}

	var objects []ObjectInfo
	pager := s3.NewListObjectsV2Paginator(s.api, input)
	for pager.HasMorePages() {
		// A failed page leaves the continuation token untouched, so the page can be re-fetched
		page, err := retry.Execute(ctx, s.exec, "s3.ListObjectsV2", retry.OperationFunc[*s3.ListObjectsV2Output](
			func(ctx context.Context) (*s3.ListObjectsV2Output, error) {
				return pager.NextPage(ctx)
			}))
		if err != nil {
			return nil, fmt.Errorf("list s3://%s/%s: %w", bucket, prefix, err)
		}
		for _, obj := range page.Contents {
			objects = append(objects, ObjectInfo{
				Key:          aws.ToString(obj.Key),
				Size:         aws.ToInt64(obj.Size),
				ETag:         aws.ToString(obj.ETag),
				LastModified: aws.ToTime(obj.LastModified),
			})
		}
	}
	return objects, nil
}

// GetObject opens bucket/key for reading.
func (s *ObjectStore) GetObject(ctx context.Context, bucket, key string) (*Object, error) {
	out, err := retry.Execute(ctx, s.exec, "s3.GetObject", retry.OperationFunc[*s3.GetObjectOutput](
		func(ctx context.Context) (*s3.GetObjectOutput, error) {
			return s.api.GetObject(ctx, &s3.GetObjectInput{
				Bucket: aws.String(bucket),
				Key:    aws.String(key),
			})
		}))
	if err != nil {
		return nil, fmt.Errorf("get s3://%s/%s: %w", bucket, key, err)
	}

	return NewObject(key, aws.ToString(out.ContentType), aws.ToInt64(out.ContentLength), out.Body), nil
}
