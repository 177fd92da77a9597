// Copyright 2025 James Ross
package archive

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"strings"

	"github.com/aws/aws-sdk-go/aws"
	"github.com/aws/aws-sdk-go/aws/session"
	"github.com/aws/aws-sdk-go/service/s3"
)

const refPrefix = "s3://"

// S3Archiver implements ResultArchiver against an S3-compatible bucket.
type S3Archiver struct {
	client *s3.S3
	bucket string
	prefix string
}

// NewS3Archiver builds an archiver for the given bucket/prefix/region
// using the default AWS credential chain.
func NewS3Archiver(bucket, prefix, region string) (*S3Archiver, error) {
	sess, err := session.NewSession(&aws.Config{Region: aws.String(region)})
	if err != nil {
		return nil, fmt.Errorf("new aws session: %w", err)
	}
	return &S3Archiver{client: s3.New(sess), bucket: bucket, prefix: strings.Trim(prefix, "/")}, nil
}

func (a *S3Archiver) key(jobID string) string {
	if a.prefix == "" {
		return jobID
	}
	return a.prefix + "/" + jobID
}

func (a *S3Archiver) Store(ctx context.Context, jobID string, data []byte) (string, error) {
	key := a.key(jobID)
	_, err := a.client.PutObjectWithContext(ctx, &s3.PutObjectInput{
		Bucket: aws.String(a.bucket),
		Key:    aws.String(key),
		Body:   bytes.NewReader(data),
	})
	if err != nil {
		return "", fmt.Errorf("put object: %w", err)
	}
	return fmt.Sprintf("%s%s/%s", refPrefix, a.bucket, key), nil
}

func (a *S3Archiver) Fetch(ctx context.Context, ref string) ([]byte, error) {
	bucket, key, ok := parseRef(ref)
	if !ok {
		return nil, fmt.Errorf("not an s3 ref: %s", ref)
	}
	out, err := a.client.GetObjectWithContext(ctx, &s3.GetObjectInput{
		Bucket: aws.String(bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		return nil, fmt.Errorf("get object: %w", err)
	}
	defer out.Body.Close()
	return io.ReadAll(out.Body)
}

func (a *S3Archiver) IsRef(value []byte) bool {
	_, _, ok := parseRef(string(value))
	return ok
}

func parseRef(ref string) (bucket, key string, ok bool) {
	if !strings.HasPrefix(ref, refPrefix) {
		return "", "", false
	}
	rest := strings.TrimPrefix(ref, refPrefix)
	parts := strings.SplitN(rest, "/", 2)
	if len(parts) != 2 {
		return "", "", false
	}
	return parts[0], parts[1], true
}
