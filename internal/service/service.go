// Package service runs the per-request conversion state machine independently of any transport.
//
// A request moves Received -> Validated -> (Fetching) -> Staged -> Converting -> Completed|Failed.
// Readiness is checked before input validation, so a request that arrives while the engine is
// loading is rejected with a not-ready error even when its fields are also missing. Every staged
// payload is released exactly once before Convert returns, whatever the outcome.
package service

import (
	"context"
	"errors"
	"fmt"
	"path"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/semaphore"

	"github.com/JakeFAU/pdfmarkd/internal/converter"
	"github.com/JakeFAU/pdfmarkd/internal/metrics"
)

// Client-facing validation messages.
const (
	MsgMissingRemoteFields = "Missing file_id or Authorization header"
	MsgEmptyBody           = "Empty request body"
)

// Config tunes engine admission and the optional sinks.
type Config struct {
	// Exclusive serializes Convert calls even when the engine reports concurrency safety.
	Exclusive bool
	// MaxConcurrent bounds parallel Convert calls on a concurrency-safe engine. 0 means unbounded.
	MaxConcurrent int
	// ArchivePrefix is the object prefix for archived Markdown.
	ArchivePrefix string
	// SinkTimeout bounds each archive, record, and publish call.
	SinkTimeout time.Duration
}

// Dependencies are the collaborators of a Service. Archive, Records, and Publisher are optional.
type Dependencies struct {
	Gate      converter.Gate
	Fetcher   converter.BlobFetcher
	Stager    converter.Stager
	Engine    converter.Engine
	Archive   converter.Archive
	Records   converter.RecordStore
	Publisher converter.Publisher
	IDs       converter.IDGenerator
	Clock     converter.Clock
	Hasher    converter.Hasher
	Logger    *zap.Logger
}

// Service converts requests. It is safe for concurrent use.
type Service struct {
	cfg  Config
	deps Dependencies
	sem  *semaphore.Weighted
	log  *zap.Logger
}

// New validates dependencies and builds a Service.
func New(cfg Config, deps Dependencies) (*Service, error) {
	switch {
	case deps.Gate == nil:
		return nil, errors.New("readiness gate is required")
	case deps.Fetcher == nil:
		return nil, errors.New("blob fetcher is required")
	case deps.Stager == nil:
		return nil, errors.New("stager is required")
	case deps.Engine == nil:
		return nil, errors.New("engine is required")
	case deps.IDs == nil:
		return nil, errors.New("id generator is required")
	case deps.Clock == nil:
		return nil, errors.New("clock is required")
	case deps.Hasher == nil:
		return nil, errors.New("hasher is required")
	}
	if cfg.MaxConcurrent < 0 {
		return nil, fmt.Errorf("max concurrent must be >= 0, got %d", cfg.MaxConcurrent)
	}
	if cfg.ArchivePrefix == "" {
		cfg.ArchivePrefix = "markdown"
	}
	if cfg.SinkTimeout <= 0 {
		cfg.SinkTimeout = 10 * time.Second
	}
	logger := deps.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Service{
		cfg:  cfg,
		deps: deps,
		sem:  admission(cfg, deps.Engine),
		log:  logger,
	}, nil
}

// Serialized reports whether engine calls run one at a time.
func (s *Service) Serialized() bool {
	return s.cfg.Exclusive || !concurrencySafe(s.deps.Engine)
}

func admission(cfg Config, engine converter.Engine) *semaphore.Weighted {
	if cfg.Exclusive || !concurrencySafe(engine) {
		return semaphore.NewWeighted(1)
	}
	if cfg.MaxConcurrent > 0 {
		return semaphore.NewWeighted(int64(cfg.MaxConcurrent))
	}
	return nil
}

func concurrencySafe(engine converter.Engine) bool {
	r, ok := engine.(converter.ConcurrencyReporter)
	return ok && r.ConcurrencySafe()
}

// attempt carries the mutable bookkeeping of one request.
type attempt struct {
	id      string
	req     converter.Request
	started time.Time
	input   []byte
	hash    string
	log     *zap.Logger
}

// Convert runs one request through the state machine. Errors are always *converter.Error.
func (s *Service) Convert(ctx context.Context, req converter.Request) (converter.Result, error) {
	started := s.deps.Clock.Now()

	if state := s.deps.Gate.Status(); state != converter.StateReady {
		s.observe(req.Source, string(converter.KindServiceNotReady), 0, started)
		return converter.Result{}, converter.NewNotReadyError(state)
	}
	if err := validate(req); err != nil {
		s.observe(req.Source, string(converter.KindClientInput), 0, started)
		return converter.Result{}, err
	}

	id, err := s.deps.IDs.NewID()
	if err != nil {
		s.observe(req.Source, string(converter.KindConversion), 0, started)
		return converter.Result{}, converter.NewConversionError(converter.ReasonInternal, fmt.Errorf("generate conversion id: %w", err))
	}
	a := &attempt{
		id:      id,
		req:     req,
		started: started,
		log:     s.log.With(zap.String("conversion_id", id), zap.String("source", string(req.Source))),
	}

	// Work continues if the client goes away; only admission waits honor ctx.
	work := context.WithoutCancel(ctx)

	a.input = req.Body
	if req.Source == converter.SourceRemoteBlob {
		data, err := s.deps.Fetcher.Fetch(work, req.BlobID, req.Credential)
		if err != nil {
			metrics.ObserveFetch("error")
			return s.fail(work, a, converter.NewFetchError(err), 0)
		}
		metrics.ObserveFetch("success")
		a.input = data
	}
	if a.hash, err = s.deps.Hasher.Hash(a.input); err != nil {
		a.log.Warn("hash input failed", zap.Error(err))
	}

	out, err := s.stageAndConvert(ctx, work, a)
	if err != nil {
		return s.fail(work, a, err, out.Pages)
	}
	return s.complete(work, a, out), nil
}

func validate(req converter.Request) error {
	switch req.Source {
	case converter.SourceRemoteBlob:
		if req.BlobID == "" || req.Credential == "" {
			return converter.NewClientInputError(MsgMissingRemoteFields)
		}
	case converter.SourceDirectUpload:
		if len(req.Body) == 0 {
			return converter.NewClientInputError(MsgEmptyBody)
		}
	default:
		return converter.NewClientInputError(fmt.Sprintf("unsupported request source %q", req.Source))
	}
	return nil
}

// stageAndConvert owns the staged payload from creation to release.
func (s *Service) stageAndConvert(ctx, work context.Context, a *attempt) (out converter.Output, err error) {
	staged, err := s.deps.Stager.Stage(work, a.input)
	if err != nil {
		return converter.Output{}, converter.NewConversionError(converter.ReasonInternal, fmt.Errorf("stage payload: %w", err))
	}
	metrics.IncInFlight()
	defer func() {
		metrics.DecInFlight()
		relErr := staged.Release()
		if relErr == nil {
			return
		}
		metrics.ObserveReleaseError()
		if err == nil {
			a.log.Error("release staged payload failed", zap.String("payload", staged.Name()), zap.Error(relErr))
			return
		}
		a.log.Warn("release staged payload failed after conversion failure",
			zap.String("payload", staged.Name()), zap.Error(relErr))
		var cerr *converter.Error
		if errors.As(err, &cerr) {
			cerr.ReleaseErr = relErr
		}
	}()

	if s.sem != nil {
		if err := s.sem.Acquire(ctx, 1); err != nil {
			return converter.Output{}, converter.NewConversionError(converter.ReasonInternal, fmt.Errorf("conversion aborted: %w", err))
		}
		defer s.sem.Release(1)
	}

	convStart := time.Now()
	out, err = s.deps.Engine.Convert(work, staged)
	if err != nil {
		return out, converter.NewConversionError(converter.ReasonOf(err), err)
	}
	a.log.Debug("engine finished",
		zap.String("payload", staged.Name()),
		zap.Int64("bytes", staged.Size()),
		zap.Int("pages", out.Pages),
		zap.Duration("engine_duration", time.Since(convStart)),
	)
	return out, nil
}

func (s *Service) fail(ctx context.Context, a *attempt, cause error, pages int) (converter.Result, error) {
	err := asError(cause)
	a.log.Warn("conversion failed",
		zap.String("kind", string(err.Kind)),
		zap.String("reason", string(err.Reason)),
		zap.Int("bytes", len(a.input)),
		zap.Error(err),
	)
	s.record(ctx, a, converter.ConversionRecord{
		Status:    converter.ConversionFailed,
		ErrorKind: err.Kind,
		ErrorText: err.Error(),
		Pages:     pages,
	})
	s.observe(a.req.Source, string(err.Kind), 0, a.started)
	return converter.Result{}, err
}

func (s *Service) complete(ctx context.Context, a *attempt, out converter.Output) converter.Result {
	uri := s.archive(ctx, a, out)
	s.record(ctx, a, converter.ConversionRecord{
		Status:        converter.ConversionSucceeded,
		MarkdownBytes: len(out.Markdown),
		Pages:         out.Pages,
		ArchiveURI:    uri,
	})
	s.publish(ctx, converter.CompletedEvent{
		ConversionID:  a.id,
		Source:        a.req.Source,
		BlobID:        a.req.BlobID,
		ContentHash:   a.hash,
		Pages:         out.Pages,
		InputBytes:    len(a.input),
		MarkdownBytes: len(out.Markdown),
		ArchiveURI:    uri,
	}, a.log)
	s.observe(a.req.Source, "success", out.Pages, a.started)
	a.log.Info("conversion completed",
		zap.Int("bytes", len(a.input)),
		zap.Int("pages", out.Pages),
		zap.Int("markdown_bytes", len(out.Markdown)),
	)
	return converter.Result{ConversionID: a.id, Markdown: out.Markdown, Pages: out.Pages}
}

func (s *Service) archive(ctx context.Context, a *attempt, out converter.Output) string {
	if s.deps.Archive == nil {
		return ""
	}
	ctx, cancel := context.WithTimeout(ctx, s.cfg.SinkTimeout)
	defer cancel()
	uri, err := s.deps.Archive.Store(ctx, path.Join(s.cfg.ArchivePrefix, a.id+".md"), converter.Document{
		ConversionID: a.id,
		Source:       a.req.Source,
		BlobID:       a.req.BlobID,
		ContentHash:  a.hash,
		Pages:        out.Pages,
		Markdown:     out.Markdown,
	})
	if err != nil {
		a.log.Warn("archive markdown failed", zap.Error(err))
		return ""
	}
	return uri
}

func (s *Service) record(ctx context.Context, a *attempt, rec converter.ConversionRecord) {
	if s.deps.Records == nil {
		return
	}
	rec.ID = a.id
	rec.Source = a.req.Source
	rec.BlobID = a.req.BlobID
	rec.ContentHash = a.hash
	rec.InputBytes = len(a.input)
	rec.StartedAt = a.started
	rec.FinishedAt = s.deps.Clock.Now()
	ctx, cancel := context.WithTimeout(ctx, s.cfg.SinkTimeout)
	defer cancel()
	if err := s.deps.Records.StoreConversion(ctx, rec); err != nil {
		a.log.Warn("store conversion record failed", zap.Error(err))
	}
}

func (s *Service) publish(ctx context.Context, event converter.CompletedEvent, log *zap.Logger) {
	if s.deps.Publisher == nil {
		return
	}
	ctx, cancel := context.WithTimeout(ctx, s.cfg.SinkTimeout)
	defer cancel()
	if _, err := s.deps.Publisher.Publish(ctx, event); err != nil {
		log.Warn("publish completion event failed", zap.Error(err))
	}
}

func asError(err error) *converter.Error {
	var cerr *converter.Error
	if errors.As(err, &cerr) {
		return cerr
	}
	return converter.NewConversionError(converter.ReasonOf(err), err)
}

func (s *Service) observe(source converter.Source, outcome string, pages int, started time.Time) {
	metrics.ObserveConversion(string(source), outcome, pages, s.deps.Clock.Now().Sub(started))
}
