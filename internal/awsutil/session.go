// Package awsutil builds AWS SDK sessions shared by the S3 and SageMaker clients.
package awsutil

import (
	"fmt"
	"net/http"
	"net/url"
	"strings"

	"github.com/aws/aws-sdk-go/aws"
	"github.com/aws/aws-sdk-go/aws/session"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
)

// NewSession creates a session for region whose HTTP calls are traced.
// Credentials come from the default provider chain.
func NewSession(region string) (*session.Session, error) {
	cfg := aws.NewConfig().
		WithRegion(region).
		WithHTTPClient(&http.Client{Transport: otelhttp.NewTransport(http.DefaultTransport)})
	sess, err := session.NewSession(cfg)
	if err != nil {
		return nil, fmt.Errorf("aws session: %w", err)
	}
	return sess, nil
}

// IsS3URI returns true if the path is an s3 uri.
func IsS3URI(path string) bool {
	return strings.HasPrefix(path, "s3://")
}

// ParseS3URI splits s3://bucket/key into its bucket and key.
func ParseS3URI(uri string) (bucket, key string, err error) {
	u, err := url.Parse(uri)
	if err != nil {
		return "", "", fmt.Errorf("parse %q: %w", uri, err)
	}
	if u.Scheme != "s3" || u.Host == "" {
		return "", "", fmt.Errorf("%q is not an s3 uri", uri)
	}
	return u.Host, strings.TrimPrefix(u.Path, "/"), nil
}

// S3URI joins bucket and key into an s3 uri.
func S3URI(bucket, key string) string {
	return "s3://" + bucket + "/" + strings.TrimPrefix(key, "/")
}
