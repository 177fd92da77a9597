// Copyright 2025 James Ross
package archive

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestParseRef(t *testing.T) {
	bucket, key, ok := parseRef("s3://my-bucket/results/job-1")
	require.True(t, ok)
	require.Equal(t, "my-bucket", bucket)
	require.Equal(t, "results/job-1", key)
}

func TestParseRefRejectsNonS3(t *testing.T) {
	_, _, ok := parseRef(`{"completed":true}`)
	require.False(t, ok)
}

func TestParseRefRejectsMissingKey(t *testing.T) {
	_, _, ok := parseRef("s3://bucket-only")
	require.False(t, ok)
}

func TestS3ArchiverIsRef(t *testing.T) {
	a := &S3Archiver{bucket: "b", prefix: "p"}
	require.True(t, a.IsRef([]byte("s3://b/p/job-1")))
	require.False(t, a.IsRef([]byte(`{"value":1}`)))
}

func TestS3ArchiverKeyWithAndWithoutPrefix(t *testing.T) {
	a := &S3Archiver{bucket: "b", prefix: "results"}
	require.Equal(t, "results/job-1", a.key("job-1"))

	a2 := &S3Archiver{bucket: "b"}
	require.Equal(t, "job-1", a2.key("job-1"))
}
