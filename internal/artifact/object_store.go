package artifact

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net"
	"net/http"
	"sync/atomic"
	"time"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"

	"github.com/spherical-ai/finsight/internal/domain"
)

// ObjectConfig configures the MinIO-backed store.
type ObjectConfig struct {
	Endpoint  string
	AccessKey string
	SecretKey string
	Bucket    string
	Region    string
	Prefix    string
	UseSSL    bool
}

// Validate checks required fields.
func (c ObjectConfig) Validate() error {
	if c.Endpoint == "" {
		return fmt.Errorf("object store endpoint is required")
	}
	if c.AccessKey == "" || c.SecretKey == "" {
		return fmt.Errorf("object store credentials are required")
	}
	if c.Bucket == "" {
		return fmt.Errorf("object store bucket is required")
	}
	return nil
}

// NewMinIOClient builds a MinIO client from cfg.
func NewMinIOClient(cfg ObjectConfig) (*minio.Client, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return minio.New(cfg.Endpoint, &minio.Options{
		Creds:     credentials.NewStaticV4(cfg.AccessKey, cfg.SecretKey, ""),
		Secure:    cfg.UseSSL,
		Region:    cfg.Region,
		Transport: newTransport(),
	})
}

// ObjectStore keeps artifacts as objects in a bucket.
type ObjectStore struct {
	client *minio.Client
	bucket string
	prefix string
}

// NewObjectStore wraps client and makes sure the bucket exists.
func NewObjectStore(ctx context.Context, client *minio.Client, cfg ObjectConfig) (*ObjectStore, error) {
	if client == nil {
		return nil, fmt.Errorf("minio client is required")
	}
	if err := ensureBucket(ctx, client, cfg.Bucket, cfg.Region); err != nil {
		return nil, fmt.Errorf("ensure artifact bucket: %w", err)
	}
	return &ObjectStore{client: client, bucket: cfg.Bucket, prefix: cfg.Prefix}, nil
}

// Key derives the object key for a run.
func (s *ObjectStore) Key(runID, filename string) string {
	return s.prefix + runID + "/" + BaseName(filename)
}

type objectHandle struct {
	store    *ObjectStore
	name     string
	key      string
	filename string
	size     int64
	released atomic.Bool
}

func (h *objectHandle) Name() string     { return h.name }
func (h *objectHandle) Filename() string { return h.filename }
func (h *objectHandle) Size() int64      { return h.size }

func (h *objectHandle) Bytes(ctx context.Context) ([]byte, error) {
	if h.released.Load() {
		return nil, ErrAlreadyReleased
	}
	obj, err := h.store.client.GetObject(ctx, h.store.bucket, h.key, minio.GetObjectOptions{})
	if err != nil {
		return nil, fmt.Errorf("get object %s: %w", h.key, err)
	}
	defer obj.Close()

	data, err := io.ReadAll(obj)
	if err != nil {
		return nil, fmt.Errorf("read object %s: %w", h.key, err)
	}
	return data, nil
}

// Materialize decodes the submission and uploads it.
func (s *ObjectStore) Materialize(ctx context.Context, runID string, sub domain.Submission) (Handle, error) {
	data, err := Decode(sub.Content)
	if err != nil {
		return nil, err
	}

	contentType := sub.MimeType
	if contentType == "" {
		contentType = "application/octet-stream"
	}

	key := s.Key(runID, sub.Filename)
	_, err = s.client.PutObject(ctx, s.bucket, key, bytes.NewReader(data), int64(len(data)),
		minio.PutObjectOptions{ContentType: contentType})
	if err != nil {
		return nil, domain.InternalError("upload artifact", err)
	}

	return &objectHandle{
		store:    s,
		name:     Name(runID, sub.Filename),
		key:      key,
		filename: sub.Filename,
		size:     int64(len(data)),
	}, nil
}

// Release removes the object.
func (s *ObjectStore) Release(ctx context.Context, h Handle) error {
	oh, ok := h.(*objectHandle)
	if !ok || oh.store != s {
		return ErrForeignHandle
	}
	if !oh.released.CompareAndSwap(false, true) {
		return ErrAlreadyReleased
	}
	if err := s.client.RemoveObject(ctx, s.bucket, oh.key, minio.RemoveObjectOptions{}); err != nil {
		return fmt.Errorf("remove object %s: %w", oh.key, err)
	}
	return nil
}

// Ping checks that the bucket is reachable.
func (s *ObjectStore) Ping(ctx context.Context) error {
	exists, err := s.client.BucketExists(ctx, s.bucket)
	if err != nil {
		return fmt.Errorf("artifact bucket exists: %w", err)
	}
	if !exists {
		return fmt.Errorf("artifact bucket missing: %s", s.bucket)
	}
	return nil
}

func ensureBucket(ctx context.Context, client *minio.Client, bucket, region string) error {
	exists, err := client.BucketExists(ctx, bucket)
	if err != nil {
		return err
	}
	if exists {
		return nil
	}
	return client.MakeBucket(ctx, bucket, minio.MakeBucketOptions{Region: region})
}

func newTransport() *http.Transport {
	dialer := &net.Dialer{
		Timeout:   5 * time.Second,
		KeepAlive: 30 * time.Second,
	}
	return &http.Transport{
		Proxy:                 http.ProxyFromEnvironment,
		DialContext:           dialer.DialContext,
		ForceAttemptHTTP2:     true,
		MaxIdleConns:          100,
		IdleConnTimeout:       90 * time.Second,
		TLSHandshakeTimeout:   5 * time.Second,
		ExpectContinueTimeout: 1 * time.Second,
	}
}
