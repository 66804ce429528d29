package blob

import (
	"bytes"
	"context"
	"errors"
	"io"
	"net/http"
	"path"

	"cloud.google.com/go/storage"
	"google.golang.org/api/googleapi"
	"google.golang.org/api/option"

	"docpipe/internal/services"
)

// GCSBackend stores objects in a Google Cloud Storage bucket.
type GCSBackend struct {
	client *storage.Client
	bucket *storage.BucketHandle
	prefix string
}

// NewGCSBackend connects to bucket. An empty credentialsFile uses
// application default credentials.
func NewGCSBackend(ctx context.Context, bucket, prefix, credentialsFile string) (*GCSBackend, error) {
	var opts []option.ClientOption
	if credentialsFile != "" {
		opts = append(opts, option.WithCredentialsFile(credentialsFile))
	}
	client, err := storage.NewClient(ctx, opts...)
	if err != nil {
		return nil, services.Wrap(services.ErrConfiguration, "blob", "gcs", "create storage client", err)
	}
	return &GCSBackend{client: client, bucket: client.Bucket(bucket), prefix: prefix}, nil
}

func (b *GCSBackend) Name() string { return "gcs" }

// Close releases the storage client.
func (b *GCSBackend) Close() error { return b.client.Close() }

func (b *GCSBackend) object(key string) *storage.ObjectHandle {
	return b.bucket.Object(path.Join(b.prefix, key))
}

func (b *GCSBackend) Write(ctx context.Context, key string, data []byte) error {
	return b.put(ctx, b.object(key).NewWriter(ctx), data)
}

func (b *GCSBackend) WriteOnce(ctx context.Context, key string, data []byte) (bool, error) {
	w := b.object(key).If(storage.Conditions{DoesNotExist: true}).NewWriter(ctx)
	err := b.put(ctx, w, data)
	if isPreconditionFailed(err) {
		return false, nil
	}
	return err == nil, err
}

func (b *GCSBackend) put(_ context.Context, w *storage.Writer, data []byte) error {
	w.ContentType = "application/pdf"
	if _, err := io.Copy(w, bytes.NewReader(data)); err != nil {
		_ = w.Close()
		return classifyGCS(err)
	}
	if err := w.Close(); err != nil {
		return classifyGCS(err)
	}
	return nil
}

func (b *GCSBackend) Read(ctx context.Context, key string) ([]byte, error) {
	r, err := b.object(key).NewReader(ctx)
	if err != nil {
		if errors.Is(err, storage.ErrObjectNotExist) {
			return nil, services.Wrap(services.ErrNotFound, "blob", "read", key, nil)
		}
		return nil, classifyGCS(err)
	}
	defer r.Close()
	data, err := io.ReadAll(r)
	if err != nil {
		return nil, classifyGCS(err)
	}
	return data, nil
}

func (b *GCSBackend) Exists(ctx context.Context, key string) (bool, error) {
	_, err := b.object(key).Attrs(ctx)
	if errors.Is(err, storage.ErrObjectNotExist) {
		return false, nil
	}
	if err != nil {
		return false, classifyGCS(err)
	}
	return true, nil
}

func isPreconditionFailed(err error) bool {
	var gerr *googleapi.Error
	return errors.As(err, &gerr) && gerr.Code == http.StatusPreconditionFailed
}

// classifyGCS marks client errors that a retry cannot fix as configuration
// problems. Everything else is left for the manager to retry.
func classifyGCS(err error) error {
	var gerr *googleapi.Error
	if errors.As(err, &gerr) && gerr.Code >= 400 && gerr.Code < 500 &&
		gerr.Code != http.StatusRequestTimeout && gerr.Code != http.StatusTooManyRequests &&
		gerr.Code != http.StatusPreconditionFailed {
		return services.Wrap(services.ErrConfiguration, "blob", "gcs", gerr.Message, err)
	}
	return err
}
