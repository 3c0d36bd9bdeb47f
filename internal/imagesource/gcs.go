package imagesource

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync"
	"time"

	"cloud.google.com/go/storage"

	"github.com/dvloznov/receipt-assistant/internal/domain"
)

// Ensure GCSObjectStore implements ObjectStore
var _ ObjectStore = (*GCSObjectStore)(nil)

// GCSObjectStore is the Google Cloud Storage implementation of ObjectStore.
// The client is created on first use with Application Default Credentials.
type GCSObjectStore struct {
	timeout time.Duration

	mu     sync.Mutex
	client *storage.Client
}

// NewGCSObjectStore creates a store whose operations are bounded by timeout.
func NewGCSObjectStore(timeout time.Duration) *GCSObjectStore {
	if timeout <= 0 {
		timeout = 2 * time.Minute
	}
	return &GCSObjectStore{timeout: timeout}
}

func (g *GCSObjectStore) storageClient(ctx context.Context) (*storage.Client, error) {
	g.mu.Lock()
	defer g.mu.Unlock()

	if g.client != nil {
		return g.client, nil
	}
	client, err := storage.NewClient(ctx)
	if err != nil {
		return nil, fmt.Errorf("create storage client: %w", err)
	}
	g.client = client
	return client, nil
}

// Read implements ObjectStore.
func (g *GCSObjectStore) Read(ctx context.Context, bucket, object string) ([]byte, error) {
	client, err := g.storageClient(ctx)
	if err != nil {
		return nil, err
	}

	ctx, cancel := context.WithTimeout(ctx, g.timeout)
	defer cancel()

	rc, err := client.Bucket(bucket).Object(object).NewReader(ctx)
	if err != nil {
		if errors.Is(err, storage.ErrObjectNotExist) || errors.Is(err, storage.ErrBucketNotExist) {
			return nil, fmt.Errorf("reading object %s/%s: %w", bucket, object, domain.ErrNotFound)
		}
		return nil, fmt.Errorf("reading object %s/%s: %w", bucket, object, err)
	}
	defer rc.Close()

	data, err := io.ReadAll(io.LimitReader(rc, MaxImageBytes+1))
	if err != nil {
		return nil, fmt.Errorf("reading bytes: %w", err)
	}
	return data, nil
}

// Write implements ObjectStore.
func (g *GCSObjectStore) Write(ctx context.Context, bucket, object, contentType string, r io.Reader) error {
	client, err := g.storageClient(ctx)
	if err != nil {
		return err
	}

	ctx, cancel := context.WithTimeout(ctx, g.timeout)
	defer cancel()

	w := client.Bucket(bucket).Object(object).NewWriter(ctx)
	if contentType != "" {
		w.ContentType = contentType
	}

	if _, err := io.Copy(w, r); err != nil {
		_ = w.Close()
		return fmt.Errorf("copy file to GCS writer: %w", err)
	}

	// Close finalizes the upload.
	if err := w.Close(); err != nil {
		return fmt.Errorf("finalize upload: %w", err)
	}
	return nil
}

// Close releases the storage client if one was created.
func (g *GCSObjectStore) Close() error {
	g.mu.Lock()
	defer g.mu.Unlock()

	if g.client == nil {
		return nil
	}
	err := g.client.Close()
	g.client = nil
	return err
}
