// Package gcs implements converter.BlobFetcher for Cloud Storage objects addressed as "bucket/object".
// Each fetch authenticates with the caller's Authorization header instead of service credentials.
package gcs

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"cloud.google.com/go/storage"
	"google.golang.org/api/option"

	"github.com/JakeFAU/pdfmarkd/internal/converter"
	"github.com/JakeFAU/pdfmarkd/internal/fetcher"
)

// Config controls the storage client.
type Config struct {
	// Endpoint overrides the storage API endpoint; empty uses the default.
	Endpoint string
	Timeout  time.Duration
	// MaxBytes caps object size; 0 disables the cap.
	MaxBytes int64
}

// Fetcher reads objects with a per-call client bound to the forwarded credential.
type Fetcher struct {
	endpoint string
	timeout  time.Duration
	maxBytes int64
	base     http.RoundTripper
}

// New builds a Fetcher.
func New(cfg Config) *Fetcher {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 60 * time.Second
	}
	return &Fetcher{
		endpoint: cfg.Endpoint,
		timeout:  timeout,
		maxBytes: cfg.MaxBytes,
		base:     fetcher.NewTransport(),
	}
}

// Fetch downloads blobID ("bucket/object").
func (f *Fetcher) Fetch(ctx context.Context, blobID, credential string) ([]byte, error) {
	if blobID == "" {
		return nil, converter.ErrEmptyBlobID
	}
	if credential == "" {
		return nil, converter.ErrEmptyCredential
	}
	bucket, object, err := splitBlobID(blobID)
	if err != nil {
		return nil, err
	}

	opts := []option.ClientOption{option.WithHTTPClient(fetcher.Client(f.base, credential, f.timeout))}
	if f.endpoint != "" {
		opts = append(opts, option.WithEndpoint(f.endpoint))
	}
	client, err := storage.NewClient(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("create storage client: %w", err)
	}
	defer client.Close()

	reader, err := client.Bucket(bucket).Object(object).NewReader(ctx)
	if err != nil {
		if errors.Is(err, storage.ErrObjectNotExist) {
			return nil, fmt.Errorf("object %s not found: %w", blobID, err)
		}
		return nil, fmt.Errorf("open object: %w", err)
	}
	defer reader.Close()

	if err := fetcher.CheckSize(reader.Attrs.Size, f.maxBytes); err != nil {
		return nil, fmt.Errorf("object %s: %w", blobID, err)
	}
	data, err := fetcher.ReadAll(reader, f.maxBytes)
	if err != nil {
		return nil, fmt.Errorf("read object: %w", err)
	}
	return data, nil
}

func splitBlobID(blobID string) (string, string, error) {
	bucket, object, ok := strings.Cut(strings.TrimPrefix(blobID, "gs://"), "/")
	if !ok || bucket == "" || object == "" {
		return "", "", fmt.Errorf("blob id %q must be bucket/object", blobID)
	}
	return bucket, object, nil
}
