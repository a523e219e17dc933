// Package storage shares transcoded artifacts between instances through an
// S3-compatible object store.
package storage

import (
	"context"
	"fmt"
	"time"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
	"go.uber.org/zap"

	"groovecast/internal/core"
)

const (
	objectPrefix = "artifacts/"
	objectExt    = ".opus"
	contentType  = "audio/ogg"
)

// objectStore is the subset of *minio.Client used by the tier.
type objectStore interface {
	StatObject(ctx context.Context, bucket, object string, opts minio.StatObjectOptions) (minio.ObjectInfo, error)
	FGetObject(ctx context.Context, bucket, object, filePath string, opts minio.GetObjectOptions) error
	FPutObject(ctx context.Context, bucket, object, filePath string, opts minio.PutObjectOptions) (minio.UploadInfo, error)
}

// MinioTier is a cache.Tier backed by a MinIO bucket.
type MinioTier struct {
	client objectStore
	bucket string
	logger *zap.Logger
}

// NewMinioTier connects to the configured endpoint and creates the bucket if it is missing.
func NewMinioTier(ctx context.Context, config core.StorageConfig, logger *zap.Logger) (*MinioTier, error) {
	client, err := minio.New(config.Endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(config.AccessKey, config.SecretKey, ""),
		Secure: config.UseSSL,
		Region: config.Region,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create object storage client: %w", err)
	}

	checkCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	exists, err := client.BucketExists(checkCtx, config.Bucket)
	if err != nil {
		return nil, fmt.Errorf("failed to check bucket %s: %w", config.Bucket, err)
	}
	if !exists {
		if err := client.MakeBucket(checkCtx, config.Bucket, minio.MakeBucketOptions{Region: config.Region}); err != nil {
			return nil, fmt.Errorf("failed to create bucket %s: %w", config.Bucket, err)
		}
		logger.Info("Created artifact bucket", zap.String("bucket", config.Bucket))
	}

	return newMinioTier(client, config.Bucket, logger), nil
}

func newMinioTier(client objectStore, bucket string, logger *zap.Logger) *MinioTier {
	return &MinioTier{client: client, bucket: bucket, logger: logger}
}

func objectName(fingerprint string) string {
	return objectPrefix + fingerprint + objectExt
}

// Get downloads the artifact into dest. A missing object is reported as (false, nil).
func (t *MinioTier) Get(ctx context.Context, fingerprint, dest string) (bool, error) {
	name := objectName(fingerprint)
	if _, err := t.client.StatObject(ctx, t.bucket, name, minio.StatObjectOptions{}); err != nil {
		if isNotFound(err) {
			return false, nil
		}
		return false, fmt.Errorf("failed to stat %s: %w", name, err)
	}

	if err := t.client.FGetObject(ctx, t.bucket, name, dest, minio.GetObjectOptions{}); err != nil {
		return false, fmt.Errorf("failed to download %s: %w", name, err)
	}
	t.logger.Debug("Artifact fetched from shared storage", zap.String("fingerprint", fingerprint))
	return true, nil
}

func (t *MinioTier) Put(ctx context.Context, fingerprint, path string) error {
	name := objectName(fingerprint)
	info, err := t.client.FPutObject(ctx, t.bucket, name, path, minio.PutObjectOptions{ContentType: contentType})
	if err != nil {
		return fmt.Errorf("failed to upload %s: %w", name, err)
	}
	t.logger.Debug("Artifact uploaded to shared storage",
		zap.String("fingerprint", fingerprint),
		zap.Int64("size", info.Size))
	return nil
}

func isNotFound(err error) bool {
	switch minio.ToErrorResponse(err).Code {
	case "NoSuchKey", "NoSuchObject", "NotFound":
		return true
	}
	return false
}
