package content

import (
	"context"
	"fmt"
	"io"
	"strings"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"

	"github.com/starford/galleria/internal/apperr"
)

// ObjectStore is the subset of the minio client S3Source uses.
type ObjectStore interface {
	ListObjects(ctx context.Context, bucketName string, opts minio.ListObjectsOptions) <-chan minio.ObjectInfo
	GetObject(ctx context.Context, bucketName, objectName string, opts minio.GetObjectOptions) (*minio.Object, error)
}

// S3Config addresses a bucket on an S3-compatible service.
type S3Config struct {
	Endpoint  string
	AccessKey string
	SecretKey string
	Bucket    string
	Prefix    string // key prefix inside the bucket
	UseSSL    bool
}

// S3Source serves images stored in an object-storage bucket.
type S3Source struct {
	client    ObjectStore
	bucket    string
	keyPrefix string
	prefix    string
}

// NewS3Source connects to the bucket described by cfg.
func NewS3Source(cfg S3Config, prefix string) (*S3Source, error) {
	client, err := minio.New(cfg.Endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(cfg.AccessKey, cfg.SecretKey, ""),
		Secure: cfg.UseSSL,
	})
	if err != nil {
		return nil, fmt.Errorf("content: s3 client: %w", err)
	}
	return NewS3SourceWithClient(client, cfg.Bucket, cfg.Prefix, prefix), nil
}

// NewS3SourceWithClient wraps an existing client.
func NewS3SourceWithClient(client ObjectStore, bucket, keyPrefix, prefix string) *S3Source {
	if prefix == "" {
		prefix = DefaultPrefix
	}
	if keyPrefix != "" && !strings.HasSuffix(keyPrefix, "/") {
		keyPrefix += "/"
	}
	return &S3Source{client: client, bucket: bucket, keyPrefix: keyPrefix, prefix: prefix}
}

// Discover lists supported images under the key prefix in key order.
func (s *S3Source) Discover(ctx context.Context) ([]string, error) {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	var out []string
	for obj := range s.client.ListObjects(ctx, s.bucket, minio.ListObjectsOptions{
		Prefix:    s.keyPrefix,
		Recursive: true,
	}) {
		if obj.Err != nil {
			return nil, fmt.Errorf("content: list %s: %w", s.bucket, obj.Err)
		}
		if strings.HasSuffix(obj.Key, "/") || !IsSupported(obj.Key) {
			continue
		}
		out = append(out, PublicPath(s.prefix, strings.TrimPrefix(obj.Key, s.keyPrefix)))
	}
	return out, nil
}

// Open returns the object for rel.
func (s *S3Source) Open(ctx context.Context, rel string) (io.ReadCloser, error) {
	key := s.keyPrefix + strings.TrimPrefix(rel, "/")
	obj, err := s.client.GetObject(ctx, s.bucket, key, minio.GetObjectOptions{})
	if err != nil {
		return nil, s.classify(rel, err)
	}
	if _, err := obj.Stat(); err != nil {
		obj.Close()
		return nil, s.classify(rel, err)
	}
	return obj, nil
}

func (s *S3Source) classify(rel string, err error) error {
	if minio.ToErrorResponse(err).Code == "NoSuchKey" {
		return fmt.Errorf("content: %s: %w", rel, apperr.ErrNotFound)
	}
	return fmt.Errorf("content: open %s: %w", rel, err)
}

var _ Source = (*S3Source)(nil)
