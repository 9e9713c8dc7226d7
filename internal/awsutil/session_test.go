package awsutil

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseS3URI(t *testing.T) {
	bucket, key, err := ParseS3URI("s3://models/cvr/run-1/output/model.tar.gz")
	require.NoError(t, err)
	assert.Equal(t, "models", bucket)
	assert.Equal(t, "cvr/run-1/output/model.tar.gz", key)

	for _, bad := range []string{"https://models/x", "s3:///x", "/local/path"} {
		_, _, err := ParseS3URI(bad)
		assert.Error(t, err, bad)
	}
}

func TestS3URI(t *testing.T) {
	assert.Equal(t, "s3://b/a/c.csv", S3URI("b", "/a/c.csv"))
	assert.True(t, IsS3URI(S3URI("b", "k")))
	assert.False(t, IsS3URI("data/rows.csv"))
}
