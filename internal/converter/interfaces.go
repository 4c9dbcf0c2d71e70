package converter

import (
	"context"
	"io"
	"time"
)

// BlobFetcher retrieves raw bytes for an opaque identifier from a remote store. The credential is
// forwarded verbatim; implementations must not alter or log it.
type BlobFetcher interface {
	Fetch(ctx context.Context, blobID, credential string) ([]byte, error)
}

// Engine turns a staged PDF into Markdown. Whether concurrent calls are safe is reported through
// ConcurrencyReporter; callers must assume they are not when an engine does not implement it.
type Engine interface {
	Convert(ctx context.Context, payload Staged) (Output, error)
}

// ConcurrencyReporter is implemented by engines that document concurrent Convert calls as safe.
type ConcurrencyReporter interface {
	ConcurrencySafe() bool
}

// Staged is the handle of one materialized payload. It is owned by exactly one request.
type Staged interface {
	// Name is unique across all live handles.
	Name() string
	// Path is the addressable location of the payload.
	Path() string
	Size() int64
	Open() (io.ReadSeekCloser, error)
	// Release frees the payload. Only the first call does any work; later calls return ErrReleased.
	Release() error
}

// Stager materializes inbound bytes into Staged handles.
type Stager interface {
	Stage(ctx context.Context, data []byte) (Staged, error)
}

// Gate reports engine readiness.
type Gate interface {
	Status() EngineState
	Reason() string
}

// Archive keeps produced Markdown under key and returns a URI for it.
type Archive interface {
	Store(ctx context.Context, key string, doc Document) (string, error)
}

// RecordStore persists conversion audit records.
type RecordStore interface {
	StoreConversion(ctx context.Context, record ConversionRecord) error
}

// Publisher pushes completion events to Pub/Sub (or similar).
type Publisher interface {
	Publish(ctx context.Context, payload any) (string, error)
}

// Hasher computes content digests.
type Hasher interface {
	Hash(data []byte) (string, error)
}

// Clock returns the current time (useful for testing).
type Clock interface {
	Now() time.Time
}

// IDGenerator produces conversion IDs (UUIDs).
type IDGenerator interface {
	NewID() (string, error)
}
