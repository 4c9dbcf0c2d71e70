// Package drive implements converter.BlobFetcher against the Google Drive v3 files API.
package drive

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	drivev3 "google.golang.org/api/drive/v3"
	"google.golang.org/api/googleapi"
	"google.golang.org/api/option"

	"github.com/JakeFAU/pdfmarkd/internal/converter"
	"github.com/JakeFAU/pdfmarkd/internal/fetcher"
)

// DefaultBaseURL is the public Drive API host.
const DefaultBaseURL = "https://www.googleapis.com"

const snippetLimit = 512

// Config controls the Drive client.
type Config struct {
	BaseURL string
	Timeout time.Duration
	// MaxBytes caps downloaded file size; 0 disables the cap.
	MaxBytes int64
}

// Fetcher downloads file content with the caller's bearer credential. It makes one attempt per call.
type Fetcher struct {
	baseURL  string
	timeout  time.Duration
	maxBytes int64
	base     http.RoundTripper
}

// New builds a Fetcher.
func New(cfg Config) *Fetcher {
	base := strings.TrimRight(cfg.BaseURL, "/")
	if base == "" {
		base = DefaultBaseURL
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 60 * time.Second
	}
	return &Fetcher{
		baseURL:  base,
		timeout:  timeout,
		maxBytes: cfg.MaxBytes,
		base:     fetcher.NewTransport(),
	}
}

// Fetch downloads the media of file blobID with Authorization set to credential.
func (f *Fetcher) Fetch(ctx context.Context, blobID, credential string) ([]byte, error) {
	if blobID == "" {
		return nil, converter.ErrEmptyBlobID
	}
	if credential == "" {
		return nil, converter.ErrEmptyCredential
	}

	svc, err := drivev3.NewService(ctx,
		option.WithHTTPClient(fetcher.Client(f.base, credential, f.timeout)),
		option.WithEndpoint(f.baseURL+"/drive/v3/"),
	)
	if err != nil {
		return nil, fmt.Errorf("create drive service: %w", err)
	}

	resp, err := svc.Files.Get(blobID).Context(ctx).Download()
	if err != nil {
		var apiErr *googleapi.Error
		if errors.As(err, &apiErr) {
			return nil, fmt.Errorf("drive returned %d: %s", apiErr.Code, snippet(apiErr.Body))
		}
		return nil, fmt.Errorf("get file: %w", err)
	}
	defer resp.Body.Close()

	if err := fetcher.CheckSize(resp.ContentLength, f.maxBytes); err != nil {
		return nil, fmt.Errorf("file %s: %w", blobID, err)
	}
	body, err := fetcher.ReadAll(resp.Body, f.maxBytes)
	if err != nil {
		return nil, fmt.Errorf("read file %s: %w", blobID, err)
	}
	return body, nil
}

func snippet(body string) string {
	body = strings.TrimSpace(body)
	if len(body) > snippetLimit {
		body = body[:snippetLimit]
	}
	return body
}
