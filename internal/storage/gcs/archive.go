// Package gcs archives produced Markdown as Cloud Storage objects.
package gcs

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"

	"cloud.google.com/go/storage"
	"google.golang.org/api/googleapi"

	"github.com/JakeFAU/pdfmarkd/internal/converter"
)

// Config captures the parameters required to connect to GCS.
type Config struct {
	Bucket string
}

// Archive writes each document once; objects are never overwritten.
type Archive struct {
	client *storage.Client
	bucket string
}

// New creates a GCS-backed Archive.
func New(client *storage.Client, cfg Config) (*Archive, error) {
	if client == nil {
		return nil, fmt.Errorf("storage client is required")
	}
	if cfg.Bucket == "" {
		return nil, fmt.Errorf("bucket name is required")
	}
	return &Archive{client: client, bucket: cfg.Bucket}, nil
}

// Store uploads doc.Markdown to key with a Markdown content type and the document metadata, and
// returns its gs:// URI. It fails if the object already exists.
func (a *Archive) Store(ctx context.Context, key string, doc converter.Document) (string, error) {
	if strings.TrimSpace(key) == "" {
		return "", fmt.Errorf("archive key is required")
	}
	obj := a.client.Bucket(a.bucket).Object(key).If(storage.Conditions{DoesNotExist: true})
	w := obj.NewWriter(ctx)
	w.ContentType = converter.MarkdownContentType
	w.Metadata = doc.Metadata()

	if _, err := io.WriteString(w, doc.Markdown); err != nil {
		return "", errors.Join(fmt.Errorf("write %s: %w", key, err), w.Close())
	}
	if err := w.Close(); err != nil {
		var apiErr *googleapi.Error
		if errors.As(err, &apiErr) && apiErr.Code == http.StatusPreconditionFailed {
			return "", fmt.Errorf("archive object %s already exists: %w", key, err)
		}
		return "", fmt.Errorf("upload %s: %w", key, err)
	}
	return fmt.Sprintf("gs://%s/%s", a.bucket, key), nil
}
