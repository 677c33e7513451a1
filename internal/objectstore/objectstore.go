// Package objectstore fetches problem bundles from object storage. It is
// trimmed from internal/common/storage's ObjectStorage interface down to
// the two read-only operations the judging core needs: the write-side
// (multipart upload, presigned PUT) belongs to the problem-management
// service, not the judging core, and is dropped.
package objectstore

import (
	"context"
	"fmt"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
)

// ObjectReader is a streaming reader for a fetched bundle.
type ObjectReader interface {
	Read(p []byte) (int, error)
	Close() error
}

// ObjectStat carries the metadata internal/bundlecache uses to decide
// whether a cached copy is stale.
type ObjectStat struct {
	SizeBytes int64
	ETag      string
}

// Config holds MinIO connection settings.
type Config struct {
	Endpoint  string
	AccessKey string
	SecretKey string
	UseSSL    bool
}

// Store fetches problem bundle objects from a MinIO-compatible backend.
type Store struct {
	core *minio.Core
}

func New(cfg Config) (*Store, error) {
	if cfg.Endpoint == "" {
		return nil, fmt.Errorf("objectstore: endpoint is required")
	}
	if cfg.AccessKey == "" || cfg.SecretKey == "" {
		return nil, fmt.Errorf("objectstore: accessKey and secretKey are required")
	}
	core, err := minio.NewCore(cfg.Endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(cfg.AccessKey, cfg.SecretKey, ""),
		Secure: cfg.UseSSL,
	})
	if err != nil {
		return nil, fmt.Errorf("objectstore: create minio core: %w", err)
	}
	return &Store{core: core}, nil
}

// GetObject opens a reader for a bundle object. The caller must close it.
func (s *Store) GetObject(ctx context.Context, bucket, objectKey string) (ObjectReader, error) {
	obj, _, _, err := s.core.GetObject(ctx, bucket, objectKey, minio.GetObjectOptions{})
	if err != nil {
		return nil, fmt.Errorf("objectstore: get object: %w", err)
	}
	return obj, nil
}

// StatObject returns an object's size and ETag without downloading it, so
// internal/bundlecache can validate a local copy against the backing
// store before deciding to re-fetch.
func (s *Store) StatObject(ctx context.Context, bucket, objectKey string) (ObjectStat, error) {
	info, err := s.core.StatObject(ctx, bucket, objectKey, minio.StatObjectOptions{})
	if err != nil {
		return ObjectStat{}, fmt.Errorf("objectstore: stat object: %w", err)
	}
	return ObjectStat{SizeBytes: info.Size, ETag: info.ETag}, nil
}
