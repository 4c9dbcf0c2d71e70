package api

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/JakeFAU/pdfmarkd/internal/converter"
	"github.com/JakeFAU/pdfmarkd/internal/metrics"
	"github.com/JakeFAU/pdfmarkd/internal/policy/ratelimit"
)

// Converter runs one conversion request.
type Converter interface {
	Convert(ctx context.Context, req converter.Request) (converter.Result, error)
}

// Options tune the HTTP surface.
type Options struct {
	// MaxUploadBytes caps POST /convert bodies. 0 disables the cap.
	MaxUploadBytes int64
	// ProbeTimeout bounds /health and /metrics; /convert is never cut short.
	ProbeTimeout time.Duration
	// Limiter, when non-nil, rate limits /convert per client.
	Limiter *ratelimit.Limiter
}

// Server wires HTTP handlers to the conversion service and readiness gate.
type Server struct {
	router chi.Router
	svc    Converter
	gate   converter.Gate
	opts   Options
	logger *zap.Logger
}

// NewServer constructs a Server with middleware and routes.
func NewServer(svc Converter, gate converter.Gate, opts Options, logger *zap.Logger) *Server {
	if logger == nil {
		logger = zap.NewNop()
	}
	if opts.ProbeTimeout <= 0 {
		opts.ProbeTimeout = 10 * time.Second
	}
	s := &Server{
		svc:    svc,
		gate:   gate,
		opts:   opts,
		logger: logger,
	}
	r := chi.NewRouter()
	r.Use(requestIDMiddleware)
	r.Use(loggingMiddleware(logger))
	r.Use(recoverMiddleware(logger))
	r.Use(metrics.Middleware)

	r.Group(func(r chi.Router) {
		r.Use(timeoutMiddleware(opts.ProbeTimeout))
		r.Get("/health", s.health)
		r.Method(http.MethodGet, "/metrics", metrics.Handler())
	})

	r.Group(func(r chi.Router) {
		if opts.Limiter != nil {
			r.Use(rateLimitMiddleware(opts.Limiter))
		}
		r.Get("/convert", s.convertRemote)
		r.Post("/convert", s.convertUpload)
	})

	s.router = r
	return s
}

// Handler returns the Router for use with http.Server.
func (s *Server) Handler() http.Handler {
	return s.router
}

func (s *Server) health(w http.ResponseWriter, _ *http.Request) {
	switch s.gate.Status() {
	case converter.StateReady:
		writeJSON(w, http.StatusOK, map[string]string{"status": "healthy"})
	case converter.StateFailed:
		writeJSON(w, http.StatusInternalServerError, map[string]string{
			"status": "unhealthy",
			"error":  s.gate.Reason(),
		})
	default:
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "loading"})
	}
}

func (s *Server) convertRemote(w http.ResponseWriter, r *http.Request) {
	s.convert(w, r, converter.Request{
		Source:     converter.SourceRemoteBlob,
		BlobID:     r.URL.Query().Get("file_id"),
		Credential: r.Header.Get("Authorization"),
	})
}

func (s *Server) convertUpload(w http.ResponseWriter, r *http.Request) {
	body := r.Body
	if s.opts.MaxUploadBytes > 0 {
		body = http.MaxBytesReader(w, r.Body, s.opts.MaxUploadBytes)
	}
	data, err := io.ReadAll(body)
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			writeError(w, http.StatusBadRequest, fmt.Sprintf("Request body exceeds %d bytes", tooLarge.Limit))
			return
		}
		writeError(w, http.StatusBadRequest, "Failed to read request body")
		return
	}
	s.convert(w, r, converter.Request{Source: converter.SourceDirectUpload, Body: data})
}

func (s *Server) convert(w http.ResponseWriter, r *http.Request, req converter.Request) {
	res, err := s.svc.Convert(r.Context(), req)
	if err != nil {
		writeError(w, statusFor(err), err.Error())
		return
	}
	if res.ConversionID != "" {
		w.Header().Set("X-Conversion-ID", res.ConversionID)
	}
	writeJSON(w, http.StatusOK, res)
}

func statusFor(err error) int {
	switch converter.KindOf(err) {
	case converter.KindClientInput:
		return http.StatusBadRequest
	case converter.KindServiceNotReady:
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

func requestIDMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		reqID := uuid.NewString()
		ctx := context.WithValue(r.Context(), requestIDKey{}, reqID)
		w.Header().Set("X-Request-ID", reqID)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// RequestID returns the request ID assigned by the server, or "".
func RequestID(ctx context.Context) string {
	id, _ := ctx.Value(requestIDKey{}).(string)
	return id
}

func loggingMiddleware(logger *zap.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			ww := &responseWriter{ResponseWriter: w, status: http.StatusOK}
			next.ServeHTTP(ww, r)
			logger.Info("request completed",
				zap.String("request_id", RequestID(r.Context())),
				zap.String("method", r.Method),
				zap.String("path", r.URL.Path),
				zap.Int("status", ww.status),
				zap.Int64("duration_ms", time.Since(start).Milliseconds()),
			)
		})
	}
}

func recoverMiddleware(logger *zap.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			defer func() {
				if rec := recover(); rec != nil {
					logger.Error("panic recovered",
						zap.String("request_id", RequestID(r.Context())),
						zap.Any("error", rec),
					)
					writeError(w, http.StatusInternalServerError, "internal server error")
				}
			}()
			next.ServeHTTP(w, r)
		})
	}
}

func timeoutMiddleware(d time.Duration) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.TimeoutHandler(next, d, "request timed out")
	}
}

func rateLimitMiddleware(limiter *ratelimit.Limiter) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if !limiter.Allow(ratelimit.ClientKey(r)) {
				metrics.ObserveRateLimited()
				writeError(w, http.StatusTooManyRequests, "rate limit exceeded")
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

type responseWriter struct {
	http.ResponseWriter
	status int
}

func (rw *responseWriter) WriteHeader(code int) {
	rw.status = code
	rw.ResponseWriter.WriteHeader(code)
}

func (rw *responseWriter) Write(b []byte) (int, error) {
	n, err := rw.ResponseWriter.Write(b)
	if err != nil {
		return n, fmt.Errorf("write response: %w", err)
	}
	return n, nil
}

func (rw *responseWriter) Flush() {
	if f, ok := rw.ResponseWriter.(http.Flusher); ok {
		f.Flush()
	}
}

func (rw *responseWriter) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	if h, ok := rw.ResponseWriter.(http.Hijacker); ok {
		conn, buf, err := h.Hijack()
		if err != nil {
			return nil, nil, fmt.Errorf("hijack connection: %w", err)
		}
		return conn, buf, nil
	}
	return nil, nil, errors.New("hijacker not supported")
}

type requestIDKey struct{}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		zap.L().Error("write JSON failed", zap.Error(err))
	}
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
