// Package blob is the content-store adapter: opaque file bodies keyed by id,
// tagged with uploader and folder so operators can audit the bucket without
// the metadata database.
package blob

import (
	"context"
	"errors"
	"fmt"
	"io"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
)

// ErrNotReady is returned by every operation when no blob backend is
// configured. Callers surface it instead of panicking on a nil handle.
var ErrNotReady = errors.New("blob store not configured")

// Store is the minimal contract the rest of the system depends on.
type Store interface {
	Put(ctx context.Context, id string, body io.Reader, size int64, contentType, uploaderID, folderID string) error
	Get(ctx context.Context, id string) (io.ReadCloser, error)
	Delete(ctx context.Context, id string) error
}

// MinioStore keeps file bodies in a single MinIO/S3 bucket, one object per
// file id.
type MinioStore struct {
	client *minio.Client
	bucket string
}

type Options struct {
	Endpoint  string
	AccessKey string
	SecretKey string
	Bucket    string
	UseSSL    bool
}

// NewMinioStore connects and ensures the bucket exists.
func NewMinioStore(ctx context.Context, opts Options) (*MinioStore, error) {
	client, err := minio.New(opts.Endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(opts.AccessKey, opts.SecretKey, ""),
		Secure: opts.UseSSL,
	})
	if err != nil {
		return nil, fmt.Errorf("minio client: %w", err)
	}

	exists, err := client.BucketExists(ctx, opts.Bucket)
	if err != nil {
		return nil, fmt.Errorf("check bucket: %w", err)
	}
	if !exists {
		if err := client.MakeBucket(ctx, opts.Bucket, minio.MakeBucketOptions{}); err != nil {
			return nil, fmt.Errorf("make bucket: %w", err)
		}
	}

	return &MinioStore{client: client, bucket: opts.Bucket}, nil
}

func (s *MinioStore) Put(ctx context.Context, id string, body io.Reader, size int64, contentType, uploaderID, folderID string) error {
	meta := map[string]string{"uploader": uploaderID}
	if folderID != "" {
		meta["folder"] = folderID
	}
	_, err := s.client.PutObject(ctx, s.bucket, id, body, size, minio.PutObjectOptions{
		ContentType:  contentType,
		UserMetadata: meta,
	})
	if err != nil {
		return fmt.Errorf("put blob %s: %w", id, err)
	}
	return nil
}

func (s *MinioStore) Get(ctx context.Context, id string) (io.ReadCloser, error) {
	object, err := s.client.GetObject(ctx, s.bucket, id, minio.GetObjectOptions{})
	if err != nil {
		return nil, fmt.Errorf("get blob %s: %w", id, err)
	}
	return object, nil
}

func (s *MinioStore) Delete(ctx context.Context, id string) error {
	if err := s.client.RemoveObject(ctx, s.bucket, id, minio.RemoveObjectOptions{}); err != nil {
		return fmt.Errorf("delete blob %s: %w", id, err)
	}
	return nil
}

// NotReadyStore is the placeholder used when MinIO is not configured.
type NotReadyStore struct{}

func (NotReadyStore) Put(context.Context, string, io.Reader, int64, string, string, string) error {
	return ErrNotReady
}

func (NotReadyStore) Get(context.Context, string) (io.ReadCloser, error) {
	return nil, ErrNotReady
}

func (NotReadyStore) Delete(context.Context, string) error {
	return ErrNotReady
}
