// Package converter defines core types shared across the conversion pipeline.
package converter

import (
	"strconv"
	"time"
)

// Source identifies how a request supplies its PDF.
type Source string

// Request sources accepted by the service.
const (
	SourceRemoteBlob   Source = "remote_blob"
	SourceDirectUpload Source = "direct_upload"
)

// Request is one inbound conversion. It is built per HTTP request and never mutated.
type Request struct {
	Source Source
	// BlobID and Credential are set for SourceRemoteBlob.
	BlobID     string
	Credential string
	// Body is set for SourceDirectUpload.
	Body []byte
}

// Result is the successful outcome of a conversion.
type Result struct {
	ConversionID string `json:"-"`
	Markdown     string `json:"markdown"`
	Pages        int    `json:"-"`
}

// Output is what an Engine produces from one staged payload.
type Output struct {
	Markdown string
	Pages    int
}

// ConversionStatus labels a conversion record.
type ConversionStatus string

// Conversion record status values.
const (
	ConversionSucceeded ConversionStatus = "succeeded"
	ConversionFailed    ConversionStatus = "failed"
)

// ConversionRecord is the audit row written after every conversion attempt that reached the engine
// or the fetcher.
type ConversionRecord struct {
	ID            string           `json:"id"`
	Source        Source           `json:"source"`
	BlobID        string           `json:"blob_id,omitempty"`
	Status        ConversionStatus `json:"status"`
	ErrorKind     ErrorKind        `json:"error_kind,omitempty"`
	ErrorText     string           `json:"error_text,omitempty"`
	ContentHash   string           `json:"content_hash,omitempty"`
	InputBytes    int              `json:"input_bytes"`
	MarkdownBytes int              `json:"markdown_bytes"`
	Pages         int              `json:"pages"`
	ArchiveURI    string           `json:"archive_uri,omitempty"`
	StartedAt     time.Time        `json:"started_at"`
	FinishedAt    time.Time        `json:"finished_at"`
}

// MarkdownContentType is the media type of archived documents.
const MarkdownContentType = "text/markdown; charset=utf-8"

// Document is one produced Markdown document and the facts archived alongside it.
type Document struct {
	ConversionID string
	Source       Source
	BlobID       string
	ContentHash  string
	Pages        int
	Markdown     string
}

// Metadata returns the descriptive key/value pairs stored next to the Markdown.
func (d Document) Metadata() map[string]string {
	md := map[string]string{
		"conversion_id": d.ConversionID,
		"source":        string(d.Source),
		"pages":         strconv.Itoa(d.Pages),
	}
	if d.BlobID != "" {
		md["blob_id"] = d.BlobID
	}
	if d.ContentHash != "" {
		md["content_sha256"] = d.ContentHash
	}
	return md
}

// CompletedEvent is published after a successful conversion.
type CompletedEvent struct {
	ConversionID  string `json:"conversion_id"`
	Source        Source `json:"source"`
	BlobID        string `json:"blob_id,omitempty"`
	ContentHash   string `json:"sha256"`
	Pages         int    `json:"pages"`
	InputBytes    int    `json:"bytes"`
	MarkdownBytes int    `json:"markdown_bytes"`
	ArchiveURI    string `json:"archive_uri,omitempty"`
}

// Attributes returns Pub/Sub message attributes for routing without decoding the body.
func (e CompletedEvent) Attributes() map[string]string {
	return map[string]string{
		"conversion_id": e.ConversionID,
		"source":        string(e.Source),
	}
}
