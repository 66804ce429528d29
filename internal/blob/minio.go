package blob

import (
	"bytes"
	"context"
	"io"
	"net/http"
	"path"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"

	"docpipe/internal/services"
)

// MinIOBackend stores objects in an S3-compatible bucket.
type MinIOBackend struct {
	client *minio.Client
	bucket string
	prefix string
}

// MinIOOptions configures the S3 connection.
type MinIOOptions struct {
	Endpoint  string
	AccessKey string
	SecretKey string
	UseSSL    bool
	Bucket    string
	Prefix    string
}

// NewMinIOBackend connects and creates the bucket if it doesn't exist.
func NewMinIOBackend(ctx context.Context, opts MinIOOptions) (*MinIOBackend, error) {
	client, err := minio.New(opts.Endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(opts.AccessKey, opts.SecretKey, ""),
		Secure: opts.UseSSL,
	})
	if err != nil {
		return nil, services.Wrap(services.ErrConfiguration, "blob", "minio", "create client", err)
	}
	b := &MinIOBackend{client: client, bucket: opts.Bucket, prefix: opts.Prefix}
	if err := b.ensureBucket(ctx); err != nil {
		return nil, err
	}
	return b, nil
}

func (b *MinIOBackend) ensureBucket(ctx context.Context) error {
	exists, err := b.client.BucketExists(ctx, b.bucket)
	if err != nil {
		return services.Wrap(services.ErrConfiguration, "blob", "minio", "check bucket", err)
	}
	if !exists {
		if err := b.client.MakeBucket(ctx, b.bucket, minio.MakeBucketOptions{}); err != nil {
			return services.Wrap(services.ErrConfiguration, "blob", "minio", "create bucket", err)
		}
	}
	return nil
}

func (b *MinIOBackend) Name() string { return "minio" }

func (b *MinIOBackend) key(key string) string { return path.Join(b.prefix, key) }

func (b *MinIOBackend) Write(ctx context.Context, key string, data []byte) error {
	_, err := b.client.PutObject(ctx, b.bucket, b.key(key), bytes.NewReader(data), int64(len(data)),
		minio.PutObjectOptions{ContentType: "application/pdf"})
	return classifyMinIO(err)
}

// WriteOnce checks for the object before writing. Two writers racing on the
// same key can both pass the check; the stage keys written once are only
// written by the single worker holding the document's claim.
func (b *MinIOBackend) WriteOnce(ctx context.Context, key string, data []byte) (bool, error) {
	exists, err := b.Exists(ctx, key)
	if err != nil {
		return false, err
	}
	if exists {
		return false, nil
	}
	if err := b.Write(ctx, key, data); err != nil {
		return false, err
	}
	return true, nil
}

func (b *MinIOBackend) Read(ctx context.Context, key string) ([]byte, error) {
	obj, err := b.client.GetObject(ctx, b.bucket, b.key(key), minio.GetObjectOptions{})
	if err != nil {
		return nil, classifyMinIO(err)
	}
	defer obj.Close()
	data, err := io.ReadAll(obj)
	if err != nil {
		if isNoSuchKey(err) {
			return nil, services.Wrap(services.ErrNotFound, "blob", "read", key, nil)
		}
		return nil, classifyMinIO(err)
	}
	return data, nil
}

func (b *MinIOBackend) Exists(ctx context.Context, key string) (bool, error) {
	_, err := b.client.StatObject(ctx, b.bucket, b.key(key), minio.StatObjectOptions{})
	if err == nil {
		return true, nil
	}
	if isNoSuchKey(err) {
		return false, nil
	}
	return false, classifyMinIO(err)
}

func isNoSuchKey(err error) bool {
	return minio.ToErrorResponse(err).Code == "NoSuchKey"
}

func classifyMinIO(err error) error {
	if err == nil {
		return nil
	}
	resp := minio.ToErrorResponse(err)
	if resp.StatusCode >= 400 && resp.StatusCode < 500 &&
		resp.StatusCode != http.StatusRequestTimeout && resp.StatusCode != http.StatusTooManyRequests {
		return services.Wrap(services.ErrConfiguration, "blob", "minio", resp.Code, err)
	}
	return err
}
