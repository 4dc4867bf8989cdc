// Package upload stores user files in an S3-compatible bucket.
package upload

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"math/rand/v2"
	"path/filepath"
	"strings"
	"time"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
)

// MaxSize caps a single upload.
const MaxSize = 10 << 20

var ErrEmptyFile = errors.New("upload is empty")

// ObjectStore is the subset of bucket operations uploads need.
type ObjectStore interface {
	Put(ctx context.Context, name string, body io.Reader, size int64, contentType string) error
}

type MinioConfig struct {
	Endpoint  string
	AccessKey string
	SecretKey string
	Bucket    string
	UseSSL    bool
}

// MinioStore writes objects to one bucket.
type MinioStore struct {
	client *minio.Client
	bucket string
}

// NewMinioStore connects to the endpoint and makes sure the bucket exists.
func NewMinioStore(ctx context.Context, cfg MinioConfig) (*MinioStore, error) {
	client, err := minio.New(cfg.Endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(cfg.AccessKey, cfg.SecretKey, ""),
		Secure: cfg.UseSSL,
	})
	if err != nil {
		return nil, fmt.Errorf("create minio client: %w", err)
	}
	store := &MinioStore{client: client, bucket: cfg.Bucket}
	if err := store.ensureBucket(ctx); err != nil {
		return nil, err
	}
	return store, nil
}

func (m *MinioStore) ensureBucket(ctx context.Context) error {
	exists, err := m.client.BucketExists(ctx, m.bucket)
	if err != nil {
		return fmt.Errorf("check bucket %s: %w", m.bucket, err)
	}
	if exists {
		return nil
	}
	if err := m.client.MakeBucket(ctx, m.bucket, minio.MakeBucketOptions{}); err != nil {
		return fmt.Errorf("create bucket %s: %w", m.bucket, err)
	}
	return nil
}

func (m *MinioStore) Put(ctx context.Context, name string, body io.Reader, size int64, contentType string) error {
	_, err := m.client.PutObject(ctx, m.bucket, name, body, size, minio.PutObjectOptions{ContentType: contentType})
	if err != nil {
		return fmt.Errorf("put object %s: %w", name, err)
	}
	return nil
}

// Service names uploads and turns them into public URLs.
type Service struct {
	store     ObjectStore
	publicURL string
	logger    *slog.Logger
	now       func() time.Time
	randN     func() int64
}

func NewService(store ObjectStore, publicURL string, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{
		store:     store,
		publicURL: strings.TrimRight(publicURL, "/"),
		logger:    logger,
		now:       time.Now,
		randN:     func() int64 { return rand.Int64N(1e9) },
	}
}

// Save stores body under a generated name and returns its public URL.
func (s *Service) Save(ctx context.Context, filename string, body io.Reader, size int64, contentType string) (string, error) {
	if size == 0 {
		return "", ErrEmptyFile
	}
	if contentType == "" {
		contentType = "application/octet-stream"
	}
	name := ObjectName(s.now(), s.randN(), filename)
	if err := s.store.Put(ctx, name, body, size, contentType); err != nil {
		return "", err
	}
	s.logger.Info("file uploaded", "object", name, "size", size, "content_type", contentType)
	return s.publicURL + "/" + name, nil
}

// ObjectName is `<unix millis>-<n><ext>`, keeping the original extension.
func ObjectName(now time.Time, n int64, filename string) string {
	return fmt.Sprintf("%d-%d%s", now.UnixMilli(), n, strings.ToLower(filepath.Ext(filename)))
}
