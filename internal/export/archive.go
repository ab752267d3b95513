package export

import (
	"bytes"
	"context"
	"fmt"
	"path"
	"time"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
)

// Archiver stores finished exports.
type Archiver interface {
	Archive(ctx context.Context, result *Result) (string, error)
}

// MinioArchiver uploads exports to an S3-compatible bucket.
type MinioArchiver struct {
	client *minio.Client
	bucket string
	now    func() time.Time
}

func NewMinioArchiver(endpoint, accessKey, secretKey, bucket string, useSSL bool) (*MinioArchiver, error) {
	client, err := minio.New(endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(accessKey, secretKey, ""),
		Secure: useSSL,
	})
	if err != nil {
		return nil, fmt.Errorf("create object storage client: %w", err)
	}
	return &MinioArchiver{client: client, bucket: bucket, now: time.Now}, nil
}

// EnsureBucket creates the bucket when it does not exist.
func (a *MinioArchiver) EnsureBucket(ctx context.Context) error {
	exists, err := a.client.BucketExists(ctx, a.bucket)
	if err != nil {
		return fmt.Errorf("check bucket %s: %w", a.bucket, err)
	}
	if exists {
		return nil
	}
	if err := a.client.MakeBucket(ctx, a.bucket, minio.MakeBucketOptions{}); err != nil {
		return fmt.Errorf("create bucket %s: %w", a.bucket, err)
	}
	return nil
}

// Archive uploads result under exports/<date>/<time>-<filename> and
// returns the object key.
func (a *MinioArchiver) Archive(ctx context.Context, result *Result) (string, error) {
	key := archiveKey(a.now(), result.Filename)
	_, err := a.client.PutObject(ctx, a.bucket, key, bytes.NewReader(result.Data), int64(len(result.Data)), minio.PutObjectOptions{
		ContentType: result.MimeType,
	})
	if err != nil {
		return "", fmt.Errorf("upload export %s: %w", key, err)
	}
	return key, nil
}

func archiveKey(now time.Time, filename string) string {
	now = now.UTC()
	return path.Join("exports", now.Format("2006-01-02"), now.Format("150405")+"-"+filename)
}
