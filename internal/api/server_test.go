package api

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/JakeFAU/pdfmarkd/internal/clock/system"
	"github.com/JakeFAU/pdfmarkd/internal/converter"
	"github.com/JakeFAU/pdfmarkd/internal/engine"
	"github.com/JakeFAU/pdfmarkd/internal/fetcher/drive"
	"github.com/JakeFAU/pdfmarkd/internal/hash/sha256"
	"github.com/JakeFAU/pdfmarkd/internal/id/uuid"
	"github.com/JakeFAU/pdfmarkd/internal/policy/ratelimit"
	"github.com/JakeFAU/pdfmarkd/internal/readiness"
	"github.com/JakeFAU/pdfmarkd/internal/service"
	"github.com/JakeFAU/pdfmarkd/internal/staging"
	"github.com/JakeFAU/pdfmarkd/internal/testsupport"
)

type stack struct {
	server *Server
	gate   *readiness.Gate
	area   *staging.Area
	drive  *httptest.Server
}

// newStack wires the real service, engine, staging area, and a Drive fetcher pointed at a local
// stand-in for the Drive API. The gate is left Initializing.
func newStack(t *testing.T, opts Options) *stack {
	t.Helper()

	driveSrv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Authorization") != "Bearer good" {
			http.Error(w, "unauthorized", http.StatusUnauthorized)
			return
		}
		if strings.HasSuffix(r.URL.Path, "/files/report") {
			_, _ = w.Write(testsupport.PDF([]testsupport.Line{{Text: "Remote report", Size: 12, X: 72, Y: 700}}))
			return
		}
		http.Error(w, "File not found: "+r.URL.Path, http.StatusNotFound)
	}))
	t.Cleanup(driveSrv.Close)

	area, err := staging.New(staging.Config{Dir: t.TempDir()}, uuid.New(), zap.NewNop())
	require.NoError(t, err)
	t.Cleanup(func() { _ = area.Close() })

	eng := engine.New(engine.Options{DisableProgressOutput: true}, nil, zap.NewNop())
	require.NoError(t, eng.Load(context.Background()))

	gate := readiness.New(nil)
	require.NoError(t, gate.MarkInitializing())

	svc, err := service.New(service.Config{}, service.Dependencies{
		Gate:    gate,
		Fetcher: drive.New(drive.Config{BaseURL: driveSrv.URL}),
		Stager:  area,
		Engine:  eng,
		IDs:     uuid.New(),
		Clock:   system.New(),
		Hasher:  sha256.New(),
		Logger:  zap.NewNop(),
	})
	require.NoError(t, err)

	return &stack{
		server: NewServer(svc, gate, opts, zap.NewNop()),
		gate:   gate,
		area:   area,
		drive:  driveSrv,
	}
}

func (s *stack) ready(t *testing.T) *stack {
	t.Helper()
	require.NoError(t, s.gate.MarkReady())
	return s
}

func (s *stack) do(req *http.Request) *httptest.ResponseRecorder {
	rec := httptest.NewRecorder()
	s.server.Handler().ServeHTTP(rec, req)
	return rec
}

func decode(t *testing.T, rec *httptest.ResponseRecorder) map[string]string {
	t.Helper()
	require.Equal(t, "application/json", rec.Header().Get("Content-Type"))
	var body map[string]string
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	return body
}

func TestConvertUploadSucceeds(t *testing.T) {
	t.Parallel()
	s := newStack(t, Options{}).ready(t)

	doc := testsupport.PDF([]testsupport.Line{
		{Text: "Annual Summary", Size: 24, X: 72, Y: 720},
		{Text: "All systems nominal.", Size: 12, X: 72, Y: 680},
	})
	rec := s.do(httptest.NewRequest(http.MethodPost, "/convert", bytes.NewReader(doc)))

	require.Equal(t, http.StatusOK, rec.Code)
	body := decode(t, rec)
	require.NotEmpty(t, body["markdown"])
	require.Contains(t, body["markdown"], "# Annual Summary")
	require.Contains(t, body["markdown"], "All systems nominal.")
	require.NotEmpty(t, rec.Header().Get("X-Conversion-ID"))
	require.Zero(t, s.area.Live())
}

func TestConvertWhileInitializingIsUnavailable(t *testing.T) {
	t.Parallel()
	s := newStack(t, Options{})

	req := httptest.NewRequest(http.MethodGet, "/convert?file_id=abc", nil)
	req.Header.Set("Authorization", "Bearer good")
	rec := s.do(req)

	require.Equal(t, http.StatusServiceUnavailable, rec.Code)
	require.Contains(t, decode(t, rec)["error"], "not ready")
}

func TestConvertRemoteMissingAuthorization(t *testing.T) {
	t.Parallel()
	s := newStack(t, Options{}).ready(t)

	rec := s.do(httptest.NewRequest(http.MethodGet, "/convert?file_id=abc", nil))

	require.Equal(t, http.StatusBadRequest, rec.Code)
	require.Equal(t, "Missing file_id or Authorization header", decode(t, rec)["error"])
}

func TestConvertRemoteMissingFileID(t *testing.T) {
	t.Parallel()
	s := newStack(t, Options{}).ready(t)

	req := httptest.NewRequest(http.MethodGet, "/convert", nil)
	req.Header.Set("Authorization", "Bearer good")
	rec := s.do(req)

	require.Equal(t, http.StatusBadRequest, rec.Code)
	require.Equal(t, "Missing file_id or Authorization header", decode(t, rec)["error"])
}

func TestConvertRemoteFetchFailure(t *testing.T) {
	t.Parallel()
	s := newStack(t, Options{}).ready(t)

	req := httptest.NewRequest(http.MethodGet, "/convert?file_id=bad", nil)
	req.Header.Set("Authorization", "Bearer good")
	rec := s.do(req)

	require.Equal(t, http.StatusInternalServerError, rec.Code)
	msg := decode(t, rec)["error"]
	require.True(t, strings.HasPrefix(msg, "Failed to fetch file: "), msg)
	require.Contains(t, msg, "404")
}

func TestConvertRemoteSucceeds(t *testing.T) {
	t.Parallel()
	s := newStack(t, Options{}).ready(t)

	req := httptest.NewRequest(http.MethodGet, "/convert?file_id=report", nil)
	req.Header.Set("Authorization", "Bearer good")
	rec := s.do(req)

	require.Equal(t, http.StatusOK, rec.Code)
	require.Contains(t, decode(t, rec)["markdown"], "Remote report")
}

func TestConvertCorruptUploadIsConversionError(t *testing.T) {
	t.Parallel()
	s := newStack(t, Options{}).ready(t)

	rec := s.do(httptest.NewRequest(http.MethodPost, "/convert", strings.NewReader("definitely not a pdf")))

	require.Equal(t, http.StatusInternalServerError, rec.Code)
	msg := decode(t, rec)["error"]
	require.True(t, strings.HasPrefix(msg, "Conversion error: "), msg)
	require.Zero(t, s.area.Live())
}

func TestConvertEmptyUpload(t *testing.T) {
	t.Parallel()
	s := newStack(t, Options{}).ready(t)

	rec := s.do(httptest.NewRequest(http.MethodPost, "/convert", http.NoBody))

	require.Equal(t, http.StatusBadRequest, rec.Code)
	require.Equal(t, "Empty request body", decode(t, rec)["error"])
}

func TestConvertUploadTooLarge(t *testing.T) {
	t.Parallel()
	s := newStack(t, Options{MaxUploadBytes: 8}).ready(t)

	rec := s.do(httptest.NewRequest(http.MethodPost, "/convert", strings.NewReader("0123456789abcdef")))

	require.Equal(t, http.StatusBadRequest, rec.Code)
	require.Equal(t, "Request body exceeds 8 bytes", decode(t, rec)["error"])
}

func TestHealthTracksReadiness(t *testing.T) {
	t.Parallel()
	s := newStack(t, Options{})

	rec := s.do(httptest.NewRequest(http.MethodGet, "/health", nil))
	require.Equal(t, http.StatusServiceUnavailable, rec.Code)
	require.Equal(t, map[string]string{"status": "loading"}, decode(t, rec))

	s.ready(t)
	rec = s.do(httptest.NewRequest(http.MethodGet, "/health", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	require.Equal(t, map[string]string{"status": "healthy"}, decode(t, rec))
}

func TestHealthReportsFailedInitialization(t *testing.T) {
	t.Parallel()
	s := newStack(t, Options{})
	require.NoError(t, s.gate.MarkFailed("model weights missing"))

	rec := s.do(httptest.NewRequest(http.MethodGet, "/health", nil))
	require.Equal(t, http.StatusInternalServerError, rec.Code)
	require.Equal(t, map[string]string{"status": "unhealthy", "error": "model weights missing"}, decode(t, rec))

	rec = s.do(httptest.NewRequest(http.MethodPost, "/convert", strings.NewReader("%PDF")))
	require.Equal(t, http.StatusServiceUnavailable, rec.Code)
	require.Contains(t, decode(t, rec)["error"], "failed to initialize")
}

func TestRateLimitRejectsBurst(t *testing.T) {
	t.Parallel()
	s := newStack(t, Options{Limiter: ratelimit.New(ratelimit.Config{Enabled: true, RPS: 0.001, Burst: 1})}).ready(t)

	first := httptest.NewRequest(http.MethodGet, "/convert", nil)
	require.Equal(t, http.StatusBadRequest, s.do(first).Code)

	second := httptest.NewRequest(http.MethodGet, "/convert", nil)
	rec := s.do(second)
	require.Equal(t, http.StatusTooManyRequests, rec.Code)
	require.Equal(t, "rate limit exceeded", decode(t, rec)["error"])

	// Health checks are never limited.
	require.Equal(t, http.StatusOK, s.do(httptest.NewRequest(http.MethodGet, "/health", nil)).Code)
}

func TestMetricsEndpoint(t *testing.T) {
	t.Parallel()
	s := newStack(t, Options{}).ready(t)
	s.do(httptest.NewRequest(http.MethodGet, "/health", nil))

	rec := s.do(httptest.NewRequest(http.MethodGet, "/metrics", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	require.Contains(t, rec.Body.String(), "http_requests_total")
}

type panicConverter struct{}

func (panicConverter) Convert(context.Context, converter.Request) (converter.Result, error) {
	panic("engine exploded")
}

type stubGate struct{}

func (stubGate) Status() converter.EngineState { return converter.StateReady }
func (stubGate) Reason() string                { return "" }

func TestRecoverMiddlewareReturnsJSON(t *testing.T) {
	t.Parallel()
	server := NewServer(panicConverter{}, stubGate{}, Options{}, zap.NewNop())

	rec := httptest.NewRecorder()
	server.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/convert", strings.NewReader("%PDF")))

	require.Equal(t, http.StatusInternalServerError, rec.Code)
	require.Contains(t, rec.Body.String(), "internal server error")
}

func TestStatusFor(t *testing.T) {
	t.Parallel()

	require.Equal(t, http.StatusBadRequest, statusFor(converter.NewClientInputError("x")))
	require.Equal(t, http.StatusServiceUnavailable, statusFor(converter.NewNotReadyError(converter.StateInitializing)))
	require.Equal(t, http.StatusInternalServerError, statusFor(converter.NewFetchError(fmt.Errorf("x"))))
	require.Equal(t, http.StatusInternalServerError, statusFor(converter.NewConversionError(converter.ReasonInternal, nil)))
}

func TestRequestIDMiddlewareSetsHeader(t *testing.T) {
	t.Parallel()

	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	NewServer(panicConverter{}, stubGate{}, Options{}, nil).Handler().ServeHTTP(rec, req)

	require.NotEmpty(t, rec.Header().Get("X-Request-ID"))
}

func TestResponseWriterHijackBehavior(t *testing.T) {
	t.Parallel()

	rw := &responseWriter{ResponseWriter: httptest.NewRecorder()}
	if _, _, err := rw.Hijack(); err == nil || err.Error() != "hijacker not supported" {
		t.Fatalf("expected unsupported hijacker error, got %v", err)
	}

	h := &hijackableRecorder{ResponseRecorder: httptest.NewRecorder()}
	rw = &responseWriter{ResponseWriter: h}
	conn, buf, err := rw.Hijack()
	if err != nil {
		t.Fatalf("expected successful hijack, got %v", err)
	}
	if err := conn.Close(); err != nil {
		t.Fatalf("close hijacked conn: %v", err)
	}
	if err := h.CloseClient(); err != nil {
		t.Fatalf("close hijacked client: %v", err)
	}
	if buf == nil {
		t.Fatal("expected buf to be non-nil")
	}
}

type hijackableRecorder struct {
	*httptest.ResponseRecorder
	client net.Conn
}

func (h *hijackableRecorder) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	server, client := net.Pipe()
	h.client = client
	return server, bufio.NewReadWriter(bufio.NewReader(client), bufio.NewWriter(client)), nil
}

func (h *hijackableRecorder) CloseClient() error {
	if h.client != nil {
		if err := h.client.Close(); err != nil {
			return fmt.Errorf("close hijacker client: %w", err)
		}
	}
	return nil
}
