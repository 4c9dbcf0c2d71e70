package gcs

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"cloud.google.com/go/storage"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/api/option"

	"github.com/JakeFAU/pdfmarkd/internal/converter"
)

func newTestArchive(t *testing.T, handler http.Handler) *Archive {
	t.Helper()

	server := httptest.NewServer(handler)
	t.Cleanup(server.Close)

	client, err := storage.NewClient(context.Background(), option.WithEndpoint(server.URL), option.WithoutAuthentication())
	require.NoError(t, err)
	t.Cleanup(func() { _ = client.Close() })

	archive, err := New(client, Config{Bucket: "md-archive"})
	require.NoError(t, err)
	return archive
}

func testDocument() converter.Document {
	return converter.Document{
		ConversionID: "conv-1",
		Source:       converter.SourceDirectUpload,
		ContentHash:  "deadbeef",
		Pages:        2,
		Markdown:     "# Converted\n",
	}
}

func TestStoreUploadsMarkdownWithMetadata(t *testing.T) {
	t.Parallel()

	handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Contains(t, r.URL.Path, "/upload/storage/v1/b/md-archive/o")
		assert.Equal(t, "markdown/conv-1.md", r.URL.Query().Get("name"))
		assert.Equal(t, "0", r.URL.Query().Get("ifGenerationMatch"))

		body, err := io.ReadAll(r.Body)
		assert.NoError(t, err)
		assert.Contains(t, string(body), "# Converted")
		assert.Contains(t, string(body), `"contentType":"text/markdown; charset=utf-8"`)
		assert.Contains(t, string(body), `"conversion_id":"conv-1"`)
		assert.Contains(t, string(body), `"content_sha256":"deadbeef"`)

		fmt.Fprintln(w, `{"bucket":"md-archive","name":"markdown/conv-1.md"}`)
	})

	archive := newTestArchive(t, handler)
	uri, err := archive.Store(context.Background(), "markdown/conv-1.md", testDocument())
	require.NoError(t, err)
	require.Equal(t, "gs://md-archive/markdown/conv-1.md", uri)
}

func TestStoreExistingObject(t *testing.T) {
	t.Parallel()

	archive := newTestArchive(t, http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusPreconditionFailed)
		fmt.Fprintln(w, `{"error":{"code":412,"message":"At least one of the pre-conditions you specified did not hold."}}`)
	}))
	_, err := archive.Store(context.Background(), "markdown/conv-1.md", testDocument())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "412")
}

func TestStoreServerError(t *testing.T) {
	t.Parallel()

	archive := newTestArchive(t, http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusForbidden)
	}))
	_, err := archive.Store(context.Background(), "markdown/x.md", testDocument())
	require.ErrorContains(t, err, "upload markdown/x.md")
}

func TestNewValidates(t *testing.T) {
	t.Parallel()

	_, err := New(nil, Config{Bucket: "b"})
	require.Error(t, err)

	client, err := storage.NewClient(context.Background(), option.WithoutAuthentication())
	require.NoError(t, err)
	defer client.Close()
	_, err = New(client, Config{})
	require.ErrorContains(t, err, "bucket name is required")
}

func TestStoreEmptyKey(t *testing.T) {
	t.Parallel()

	archive := newTestArchive(t, http.NotFoundHandler())
	_, err := archive.Store(context.Background(), "  ", testDocument())
	require.ErrorContains(t, err, "archive key is required")
}
