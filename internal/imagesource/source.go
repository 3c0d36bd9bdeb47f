// Package imagesource loads receipt images from Google Cloud Storage or local disk.
package imagesource

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"mime"
	"net/http"
	"os"
	"path"
	"path/filepath"
	"strings"

	"github.com/dvloznov/receipt-assistant/internal/domain"
)

// MaxImageBytes caps the size of a single receipt image.
const MaxImageBytes = 20 << 20

// Image is a loaded receipt image.
type Image struct {
	Name     string
	MIMEType string
	Data     []byte
}

// Loader resolves an image reference into bytes.
type Loader interface {
	Load(ctx context.Context, ref string) (*Image, error)
}

// ObjectStore provides an interface for cloud storage operations.
// This interface enables mocking and testing of storage functionality.
type ObjectStore interface {
	// Read returns the bytes of bucket/object.
	Read(ctx context.Context, bucket, object string) ([]byte, error)

	// Write stores r under bucket/object.
	Write(ctx context.Context, bucket, object, contentType string, r io.Reader) error
}

// Ensure Source implements Loader
var _ Loader = (*Source)(nil)

// Source loads gs:// references through an ObjectStore and everything else from disk.
type Source struct {
	objects ObjectStore
}

// New creates a Source. objects may be nil, in which case gs:// references fail.
func New(objects ObjectStore) *Source {
	return &Source{objects: objects}
}

// Load implements Loader. Missing images wrap domain.ErrNotFound; storage
// failures wrap domain.ErrExternalService.
func (s *Source) Load(ctx context.Context, ref string) (*Image, error) {
	ref = strings.TrimSpace(ref)
	if ref == "" {
		return nil, fmt.Errorf("Load: empty image reference")
	}

	var (
		data []byte
		err  error
	)
	if strings.HasPrefix(ref, "gs://") {
		data, err = s.loadObject(ctx, ref)
	} else {
		data, err = loadFile(ref)
	}
	if err != nil {
		return nil, err
	}

	return &Image{
		Name:     FilenameFromRef(ref),
		MIMEType: DetectMIMEType(ref, data),
		Data:     data,
	}, nil
}

// Upload copies a local file to bucket/object and returns its gs:// URI.
func (s *Source) Upload(ctx context.Context, bucket, object, filePath string) (string, error) {
	if s.objects == nil {
		return "", fmt.Errorf("Upload: no object store configured: %w", domain.ErrExternalService)
	}

	f, err := os.Open(filePath)
	if err != nil {
		return "", fmt.Errorf("Upload: open file %q: %w", filePath, err)
	}
	defer f.Close()

	if object == "" {
		object = filepath.Base(filePath)
	}
	contentType := mime.TypeByExtension(strings.ToLower(filepath.Ext(filePath)))

	if err := s.objects.Write(ctx, bucket, object, contentType, f); err != nil {
		return "", fmt.Errorf("Upload: %w: %w", domain.ErrExternalService, err)
	}
	return "gs://" + bucket + "/" + object, nil
}

func (s *Source) loadObject(ctx context.Context, uri string) ([]byte, error) {
	bucket, object, err := ParseGCSURI(uri)
	if err != nil {
		return nil, fmt.Errorf("Load: %w", err)
	}
	if s.objects == nil {
		return nil, fmt.Errorf("Load: no object store configured for %s: %w", uri, domain.ErrExternalService)
	}

	data, err := s.objects.Read(ctx, bucket, object)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			return nil, fmt.Errorf("Load: %s: %w", uri, err)
		}
		return nil, fmt.Errorf("Load: %s: %w: %w", uri, domain.ErrExternalService, err)
	}
	if len(data) > MaxImageBytes {
		return nil, fmt.Errorf("Load: %s is larger than %d bytes", uri, MaxImageBytes)
	}
	return data, nil
}

func loadFile(p string) ([]byte, error) {
	info, err := os.Stat(p)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("Load: %s: %w", p, domain.ErrNotFound)
		}
		return nil, fmt.Errorf("Load: stat %s: %w", p, err)
	}
	if info.IsDir() {
		return nil, fmt.Errorf("Load: %s is a directory", p)
	}
	if info.Size() > MaxImageBytes {
		return nil, fmt.Errorf("Load: %s is larger than %d bytes", p, MaxImageBytes)
	}

	data, err := os.ReadFile(p)
	if err != nil {
		return nil, fmt.Errorf("Load: reading %s: %w", p, err)
	}
	return data, nil
}

// ParseGCSURI splits gs://bucket/path/to/object into its bucket and object.
func ParseGCSURI(uri string) (bucket, object string, err error) {
	if !strings.HasPrefix(uri, "gs://") {
		return "", "", fmt.Errorf("invalid GCS URI: %s", uri)
	}

	parts := strings.SplitN(strings.TrimPrefix(uri, "gs://"), "/", 2)
	if len(parts) != 2 || parts[0] == "" || parts[1] == "" {
		return "", "", fmt.Errorf("invalid GCS URI (no object path): %s", uri)
	}
	return parts[0], parts[1], nil
}

// FilenameFromRef returns the last path element of a gs:// URI or local path.
// e.g., "gs://bucket/folder/receipt.jpg" → "receipt.jpg"
func FilenameFromRef(ref string) string {
	if strings.HasPrefix(ref, "gs://") {
		trimmed := strings.TrimPrefix(ref, "gs://")
		parts := strings.SplitN(trimmed, "/", 2)
		if len(parts) < 2 {
			return trimmed
		}
		return path.Base(parts[1])
	}
	return filepath.Base(ref)
}

// DetectMIMEType sniffs data, falling back to the file extension.
func DetectMIMEType(name string, data []byte) string {
	sniffed := http.DetectContentType(data)
	if sniffed != "application/octet-stream" && !strings.HasPrefix(sniffed, "text/plain") {
		return strings.SplitN(sniffed, ";", 2)[0]
	}
	if byExt := mime.TypeByExtension(strings.ToLower(path.Ext(name))); byExt != "" {
		return strings.SplitN(byExt, ";", 2)[0]
	}
	return "application/octet-stream"
}
