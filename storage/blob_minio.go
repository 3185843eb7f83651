package storage

import (
	"bytes"
	"context"
	"fmt"
	"strings"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
)

// MinioConfig addresses the bucket images are mirrored into.
type MinioConfig struct {
	Endpoint  string
	AccessKey string
	SecretKey string
	Bucket    string
	UseSSL    bool
	// URLPrefix is prepended to object keys to form public URLs. Empty
	// prefixes fall back to <endpoint>/<bucket>.
	URLPrefix string
}

// MinioBlobStore writes image bytes to an S3-compatible bucket.
type MinioBlobStore struct {
	client    *minio.Client
	bucket    string
	urlPrefix string
}

// NewMinioBlobStore connects to the endpoint and creates the bucket when it
// does not exist yet.
func NewMinioBlobStore(ctx context.Context, cfg MinioConfig) (*MinioBlobStore, error) {
	client, err := minio.New(cfg.Endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(cfg.AccessKey, cfg.SecretKey, ""),
		Secure: cfg.UseSSL,
	})
	if err != nil {
		return nil, fmt.Errorf("minio: create client: %w", err)
	}

	exists, err := client.BucketExists(ctx, cfg.Bucket)
	if err != nil {
		return nil, fmt.Errorf("minio: check bucket %s: %w", cfg.Bucket, err)
	}
	if !exists {
		if err := client.MakeBucket(ctx, cfg.Bucket, minio.MakeBucketOptions{}); err != nil {
			return nil, fmt.Errorf("minio: create bucket %s: %w", cfg.Bucket, err)
		}
	}

	prefix := strings.TrimRight(cfg.URLPrefix, "/")
	if prefix == "" {
		prefix = strings.TrimRight(client.EndpointURL().String(), "/") + "/" + cfg.Bucket
	}
	return &MinioBlobStore{client: client, bucket: cfg.Bucket, urlPrefix: prefix}, nil
}

func (s *MinioBlobStore) Put(ctx context.Context, key string, data []byte, contentType string) (string, string, error) {
	key = strings.TrimLeft(key, "/")
	_, err := s.client.PutObject(ctx, s.bucket, key, bytes.NewReader(data), int64(len(data)),
		minio.PutObjectOptions{ContentType: contentType})
	if err != nil {
		return "", "", fmt.Errorf("minio: put %s: %w", key, err)
	}
	return s.bucket + "/" + key, s.urlPrefix + "/" + key, nil
}
