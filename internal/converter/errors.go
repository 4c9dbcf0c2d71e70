package converter

import (
	"errors"
	"fmt"
)

// ErrorKind classifies a failed request at the service boundary.
type ErrorKind string

// Error kinds, one per response class.
const (
	KindClientInput     ErrorKind = "client_input"
	KindServiceNotReady ErrorKind = "service_not_ready"
	KindUpstreamFetch   ErrorKind = "upstream_fetch"
	KindConversion      ErrorKind = "conversion"
)

// ConversionReason refines KindConversion when the engine can tell input faults from its own.
type ConversionReason string

// Conversion reasons.
const (
	ReasonMalformedInput ConversionReason = "malformed_input"
	ReasonInternal       ConversionReason = "internal"
)

var (
	// ErrReleased is returned by Staged.Release after the first call.
	ErrReleased = errors.New("staged payload already released")
	// ErrEmptyBlobID is returned by fetchers given an empty identifier.
	ErrEmptyBlobID = errors.New("blob id is required")
	// ErrEmptyCredential is returned by fetchers given an empty credential.
	ErrEmptyCredential = errors.New("credential is required")
	// ErrBlobTooLarge is returned by fetchers when a remote object exceeds the configured size limit.
	ErrBlobTooLarge = errors.New("remote object exceeds size limit")
)

// Error is the single error type crossing the service boundary.
type Error struct {
	Kind    ErrorKind
	Reason  ConversionReason
	Message string
	Cause   error
	// ReleaseErr is a secondary failure from releasing the staged payload.
	ReleaseErr error
}

func (e *Error) Error() string {
	if e.Cause == nil {
		return e.Message
	}
	return fmt.Sprintf("%s: %v", e.Message, e.Cause)
}

func (e *Error) Unwrap() error {
	return e.Cause
}

// NewClientInputError reports a missing or invalid request field.
func NewClientInputError(msg string) *Error {
	return &Error{Kind: KindClientInput, Message: msg}
}

// NewNotReadyError reports that the engine cannot accept work in the given state.
func NewNotReadyError(state EngineState) *Error {
	msg := "Converter not ready: engine is loading"
	if state == StateFailed {
		msg = "Converter not ready: engine failed to initialize"
	}
	return &Error{Kind: KindServiceNotReady, Message: msg}
}

// NewFetchError wraps a BlobFetcher failure.
func NewFetchError(cause error) *Error {
	return &Error{Kind: KindUpstreamFetch, Message: "Failed to fetch file", Cause: cause}
}

// NewConversionError wraps an engine or staging failure.
func NewConversionError(reason ConversionReason, cause error) *Error {
	return &Error{Kind: KindConversion, Reason: reason, Message: "Conversion error", Cause: cause}
}

// MalformedInput marks err as a document the engine rejected as structurally invalid.
func MalformedInput(err error) error {
	return &Error{Kind: KindConversion, Reason: ReasonMalformedInput, Message: "malformed PDF", Cause: err}
}

// KindOf returns the kind of err, treating unclassified errors as conversion failures.
func KindOf(err error) ErrorKind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindConversion
}

// ReasonOf returns the conversion reason of err, defaulting to ReasonInternal.
func ReasonOf(err error) ConversionReason {
	var e *Error
	if errors.As(err, &e) && e.Reason != "" {
		return e.Reason
	}
	return ReasonInternal
}
