package awsinfra

import (
	"errors"
	"fmt"
	"strings"
)

// ErrInvalidS3URI is returned for locations that are not s3://bucket/key.
var ErrInvalidS3URI = errors.New("invalid s3 uri")

// S3Object is the location of one object.
type S3Object struct {
	Bucket string
	Key    string
}

// ParseS3Object parses s3://bucket/key. The key may contain slashes.
func ParseS3Object(uri string) (S3Object, error) {
	rest, ok := strings.CutPrefix(uri, "s3://")
	if !ok {
		return S3Object{}, fmt.Errorf("%w: %q: missing s3:// scheme", ErrInvalidS3URI, uri)
	}
	bucket, key, _ := strings.Cut(rest, "/")
	if bucket == "" || key == "" {
		return S3Object{}, fmt.Errorf("%w: %q: bucket and key are required", ErrInvalidS3URI, uri)
	}
	return S3Object{Bucket: bucket, Key: key}, nil
}

func (o S3Object) String() string {
	return "s3://" + o.Bucket + "/" + o.Key
}
