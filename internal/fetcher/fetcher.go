// Package fetcher holds the HTTP plumbing shared by the remote blob fetchers.
package fetcher

import (
	"fmt"
	"io"
	"net"
	"net/http"
	"time"

	"github.com/JakeFAU/pdfmarkd/internal/converter"
)

// NewTransport returns the transport used for remote object downloads.
func NewTransport() *http.Transport {
	return &http.Transport{
		Proxy: http.ProxyFromEnvironment,
		DialContext: (&net.Dialer{
			Timeout:   10 * time.Second,
			KeepAlive: 30 * time.Second,
		}).DialContext,
		TLSHandshakeTimeout:   15 * time.Second,
		ResponseHeaderTimeout: 30 * time.Second,
		MaxIdleConns:          100,
		IdleConnTimeout:       90 * time.Second,
	}
}

// Client returns an HTTP client whose every request carries credential as its Authorization header.
func Client(base http.RoundTripper, credential string, timeout time.Duration) *http.Client {
	return &http.Client{
		Transport: CredentialTransport{Credential: credential, Base: base},
		Timeout:   timeout,
	}
}

// CredentialTransport overwrites Authorization with the caller's value, unchanged.
type CredentialTransport struct {
	Credential string
	Base       http.RoundTripper
}

// RoundTrip implements http.RoundTripper.
func (t CredentialTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	base := t.Base
	if base == nil {
		base = http.DefaultTransport
	}
	clone := req.Clone(req.Context())
	clone.Header.Set("Authorization", t.Credential)
	resp, err := base.RoundTrip(clone)
	if err != nil {
		return nil, fmt.Errorf("round trip: %w", err)
	}
	return resp, nil
}

// CheckSize fails with converter.ErrBlobTooLarge when a declared size exceeds limit.
// Unknown sizes (< 0) and limit <= 0 pass.
func CheckSize(size, limit int64) error {
	if limit > 0 && size > limit {
		return fmt.Errorf("%w: %d bytes, limit is %d", converter.ErrBlobTooLarge, size, limit)
	}
	return nil
}

// ReadAll reads r, failing with converter.ErrBlobTooLarge once more than limit bytes arrive.
// limit <= 0 disables the cap.
func ReadAll(r io.Reader, limit int64) ([]byte, error) {
	if limit <= 0 {
		return io.ReadAll(r)
	}
	data, err := io.ReadAll(io.LimitReader(r, limit+1))
	if err != nil {
		return nil, err
	}
	if int64(len(data)) > limit {
		return nil, fmt.Errorf("%w: more than %d bytes", converter.ErrBlobTooLarge, limit)
	}
	return data, nil
}
