package storage

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"sort"
	"strings"
	"sync"

	"github.com/aws/aws-sdk-go/aws"
	"github.com/aws/aws-sdk-go/aws/awserr"
	"github.com/aws/aws-sdk-go/aws/session"
	"github.com/aws/aws-sdk-go/service/s3"
	"github.com/aws/aws-sdk-go/service/s3/s3manager"

	"github.com/galinamarkova/beeswax-api/internal/awsutil"
)

// ErrNotFound is returned when an object does not exist.
var ErrNotFound = errors.New("object not found")

// BlobStore is the remote object store the pipeline exports to and reads
// model artifacts from. Keys are relative to the store's bucket; Open takes
// a full URI so artifacts written elsewhere can be read too.
type BlobStore interface {
	Put(ctx context.Context, key string, body io.Reader, contentType string) (string, error)
	Open(ctx context.Context, uri string) (io.ReadCloser, error)
	URI(key string) string
}

// S3Store implements BlobStore on Amazon S3.
type S3Store struct {
	Bucket   string
	client   *s3.S3
	uploader *s3manager.Uploader
}

// NewS3Store creates a store for bucket using sess.
func NewS3Store(sess *session.Session, bucket string) *S3Store {
	client := s3.New(sess)
	return &S3Store{
		Bucket:   bucket,
		client:   client,
		uploader: s3manager.NewUploaderWithClient(client),
	}
}

// Put uploads body under key and returns its URI.
func (s *S3Store) Put(ctx context.Context, key string, body io.Reader, contentType string) (string, error) {
	input := &s3manager.UploadInput{
		Bucket: aws.String(s.Bucket),
		Key:    aws.String(key),
		Body:   body,
	}
	if contentType != "" {
		input.ContentType = aws.String(contentType)
	}
	if _, err := s.uploader.UploadWithContext(ctx, input); err != nil {
		return "", fmt.Errorf("upload %s: %w", key, err)
	}
	return s.URI(key), nil
}

// Open streams the object at uri.
func (s *S3Store) Open(ctx context.Context, uri string) (io.ReadCloser, error) {
	bucket, key, err := awsutil.ParseS3URI(uri)
	if err != nil {
		return nil, err
	}
	out, err := s.client.GetObjectWithContext(ctx, &s3.GetObjectInput{
		Bucket: aws.String(bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		var aerr awserr.Error
		if errors.As(err, &aerr) && aerr.Code() == s3.ErrCodeNoSuchKey {
			return nil, fmt.Errorf("%w: %s", ErrNotFound, uri)
		}
		return nil, fmt.Errorf("get %s: %w", uri, err)
	}
	return out.Body, nil
}

// URI returns the s3 uri of key in the store's bucket.
func (s *S3Store) URI(key string) string {
	return awsutil.S3URI(s.Bucket, key)
}

// MemoryStore is an in-process BlobStore used by tests and dry runs.
type MemoryStore struct {
	Bucket string

	mu      sync.RWMutex
	objects map[string][]byte
	types   map[string]string
}

// NewMemoryStore creates an empty store whose URIs use bucket.
func NewMemoryStore(bucket string) *MemoryStore {
	return &MemoryStore{
		Bucket:  bucket,
		objects: make(map[string][]byte),
		types:   make(map[string]string),
	}
}

func (m *MemoryStore) Put(ctx context.Context, key string, body io.Reader, contentType string) (string, error) {
	data, err := io.ReadAll(body)
	if err != nil {
		return "", fmt.Errorf("read body: %w", err)
	}
	uri := m.URI(key)
	m.mu.Lock()
	m.objects[uri] = data
	m.types[uri] = contentType
	m.mu.Unlock()
	return uri, nil
}

func (m *MemoryStore) Open(ctx context.Context, uri string) (io.ReadCloser, error) {
	m.mu.RLock()
	data, ok := m.objects[uri]
	m.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, uri)
	}
	return io.NopCloser(bytes.NewReader(data)), nil
}

func (m *MemoryStore) URI(key string) string {
	return awsutil.S3URI(m.Bucket, key)
}

// Object returns the stored bytes and content type for uri.
func (m *MemoryStore) Object(uri string) ([]byte, string, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	data, ok := m.objects[uri]
	return data, m.types[uri], ok
}

// Keys lists stored URIs with the given prefix, sorted.
func (m *MemoryStore) Keys(prefix string) []string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []string
	for uri := range m.objects {
		if strings.HasPrefix(uri, prefix) {
			out = append(out, uri)
		}
	}
	sort.Strings(out)
	return out
}
