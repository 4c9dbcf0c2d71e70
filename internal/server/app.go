// Package server assembles the conversion service and runs it until shutdown.
package server

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"cloud.google.com/go/pubsub"
	"cloud.google.com/go/storage"
	"go.uber.org/zap"

	"github.com/JakeFAU/pdfmarkd/internal/api"
	"github.com/JakeFAU/pdfmarkd/internal/clock/system"
	"github.com/JakeFAU/pdfmarkd/internal/config"
	"github.com/JakeFAU/pdfmarkd/internal/converter"
	"github.com/JakeFAU/pdfmarkd/internal/engine"
	"github.com/JakeFAU/pdfmarkd/internal/fetcher/drive"
	gcsfetcher "github.com/JakeFAU/pdfmarkd/internal/fetcher/gcs"
	"github.com/JakeFAU/pdfmarkd/internal/hash/sha256"
	"github.com/JakeFAU/pdfmarkd/internal/id/uuid"
	"github.com/JakeFAU/pdfmarkd/internal/logging"
	"github.com/JakeFAU/pdfmarkd/internal/metrics"
	"github.com/JakeFAU/pdfmarkd/internal/policy/ratelimit"
	gcppublisher "github.com/JakeFAU/pdfmarkd/internal/publisher/pubsub"
	"github.com/JakeFAU/pdfmarkd/internal/readiness"
	"github.com/JakeFAU/pdfmarkd/internal/service"
	"github.com/JakeFAU/pdfmarkd/internal/staging"
	gcsstorage "github.com/JakeFAU/pdfmarkd/internal/storage/gcs"
	localstorage "github.com/JakeFAU/pdfmarkd/internal/storage/local"
	memoryStorage "github.com/JakeFAU/pdfmarkd/internal/storage/memory"
	pgstore "github.com/JakeFAU/pdfmarkd/internal/storage/postgres"
)

// App contains the application's dependencies.
type App struct {
	cfg             *config.Config
	logger          *zap.Logger
	gate            *readiness.Gate
	engine          *engine.Engine
	staging         *staging.Area
	apiServer       *api.Server
	pubsubClient    *pubsub.Client
	publisher       *gcppublisher.Publisher
	storage         *storage.Client
	conversionStore *pgstore.ConversionStore
}

// Build creates the application's dependencies. The engine is constructed but not loaded.
func Build(ctx context.Context, cfg *config.Config) (*App, error) {
	logger, err := logging.New(cfg.Logging.Development, cfg.Logging.Level)
	if err != nil {
		return nil, fmt.Errorf("logger init failed: %w", err)
	}
	zap.ReplaceGlobals(logger)
	metrics.Init()

	app := &App{cfg: cfg, logger: logger}
	logger.Info("building application dependencies",
		zap.Int("server_port", cfg.Server.Port),
		zap.String("fetcher", cfg.Fetcher.Backend),
		zap.String("archive", cfg.Archive.Backend),
	)
	ok := false
	defer func() {
		if !ok {
			app.closeInfrastructure()
		}
	}()

	app.gate = readiness.New(func(state converter.EngineState) {
		metrics.SetEngineState(int(state))
		logger.Info("engine state changed", zap.String("state", state.String()))
	})

	engineLog := logger.Named("engine")
	app.engine = engine.New(cfg.Engine.Options(), func(payload string, page, total int) {
		engineLog.Debug("conversion progress", zap.String("payload", payload), zap.Int("page", page), zap.Int("total", total))
	}, engineLog)

	app.staging, err = staging.New(cfg.Staging, uuid.New(), logger.Named("staging"))
	if err != nil {
		return nil, fmt.Errorf("staging init failed: %w", err)
	}
	logger.Info("staging area ready", zap.String("root", app.staging.Root()))

	archive, err := setupArchive(ctx, app)
	if err != nil {
		return nil, err
	}
	if err = setupDatabase(ctx, app); err != nil {
		return nil, err
	}
	if err = setupPublisher(ctx, app); err != nil {
		return nil, err
	}

	deps := service.Dependencies{
		Gate:    app.gate,
		Fetcher: setupFetcher(app),
		Stager:  app.staging,
		Engine:  app.engine,
		Archive: archive,
		IDs:     uuid.New(),
		Clock:   system.New(),
		Hasher:  sha256.New(),
		Logger:  logger.Named("service"),
	}
	if app.conversionStore != nil {
		deps.Records = app.conversionStore
	}
	if app.publisher != nil {
		deps.Publisher = app.publisher
	}
	svc, err := service.New(service.Config{
		Exclusive:     cfg.Engine.Exclusive,
		MaxConcurrent: cfg.Engine.MaxConcurrent,
		ArchivePrefix: cfg.Archive.Prefix,
	}, deps)
	if err != nil {
		return nil, fmt.Errorf("service init failed: %w", err)
	}
	logger.Info("engine admission", zap.Bool("serialized", svc.Serialized()), zap.Int("max_concurrent", cfg.Engine.MaxConcurrent))

	opts := api.Options{
		MaxUploadBytes: cfg.Server.MaxUploadBytes,
		ProbeTimeout:   cfg.Server.RequestTimeout,
	}
	if cfg.RateLimit.Enabled {
		opts.Limiter = ratelimit.New(cfg.RateLimit)
		logger.Info("rate limiter enabled",
			zap.Float64("rps", cfg.RateLimit.RPS),
			zap.Int("burst", cfg.RateLimit.Burst),
		)
	}
	app.apiServer = api.NewServer(svc, app.gate, opts, logger.Named("api"))

	ok = true
	return app, nil
}

// Handler returns the HTTP handler.
func (a *App) Handler() http.Handler {
	return a.apiServer.Handler()
}

// Gate returns the readiness gate.
func (a *App) Gate() *readiness.Gate {
	return a.gate
}

// Run listens on the configured port and blocks until SIGINT/SIGTERM or ctx cancellation.
func (a *App) Run(ctx context.Context) error {
	ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	ln, err := net.Listen("tcp", fmt.Sprintf(":%d", a.cfg.Server.Port))
	if err != nil {
		return fmt.Errorf("listen: %w", err)
	}
	return a.Serve(ctx, ln)
}

// Serve starts engine initialization in the background and serves HTTP on ln until ctx is done.
// A failed initialization leaves the process serving so /health can report it.
func (a *App) Serve(ctx context.Context, ln net.Listener) error {
	ctx, stop := context.WithCancel(ctx)
	defer stop()

	if err := a.gate.MarkInitializing(); err != nil {
		return fmt.Errorf("start initialization: %w", err)
	}
	go a.initializeEngine(ctx)

	srv := &http.Server{
		Handler:           a.Handler(),
		ReadHeaderTimeout: a.cfg.Server.ReadHeaderTimeout,
	}

	serveErr := make(chan error, 1)
	go func() {
		a.logger.Info("http server started", zap.String("addr", ln.Addr().String()))
		if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			a.logger.Error("http server error", zap.Error(err))
			serveErr <- err
			stop()
		}
		close(serveErr)
	}()

	<-ctx.Done()
	a.logger.Info("shutdown initiated")

	timeout := a.cfg.Server.ShutdownTimeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	shutdownCtx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		a.logger.Error("server shutdown error", zap.Error(err))
	}
	err := <-serveErr
	a.Close()
	return err
}

func (a *App) initializeEngine(ctx context.Context) {
	start := time.Now()
	if err := a.engine.Load(ctx); err != nil {
		a.logger.Error("engine initialization failed", zap.Error(err))
		if markErr := a.gate.MarkFailed(err.Error()); markErr != nil {
			a.logger.Warn("mark engine failed", zap.Error(markErr))
		}
		return
	}
	if err := a.gate.MarkReady(); err != nil {
		a.logger.Warn("mark engine ready", zap.Error(err))
		return
	}
	a.logger.Info("engine ready", zap.Duration("load_duration", time.Since(start)))
}

// Close releases infrastructure clients and removes the staging root.
func (a *App) Close() {
	a.closeInfrastructure()
	if err := a.logger.Sync(); err != nil {
		a.logger.Debug("logger sync failed", zap.Error(err))
	}
	a.logger.Info("shutdown complete")
}

func (a *App) closeInfrastructure() {
	if a.publisher != nil {
		if err := a.publisher.Close(); err != nil {
			a.logger.Warn("pubsub publisher close failed", zap.Error(err))
		}
	}
	if a.pubsubClient != nil {
		if err := a.pubsubClient.Close(); err != nil {
			a.logger.Warn("pubsub client close failed", zap.Error(err))
		}
	}
	if a.storage != nil {
		if err := a.storage.Close(); err != nil {
			a.logger.Warn("gcs client close failed", zap.Error(err))
		}
	}
	if a.conversionStore != nil {
		a.conversionStore.Close()
	}
	if a.staging != nil {
		if err := a.staging.Close(); err != nil {
			a.logger.Warn("staging close failed", zap.Error(err))
		}
	}
}

func setupFetcher(app *App) converter.BlobFetcher {
	cfg := app.cfg.Fetcher
	// Remote objects obey the same size cap as direct uploads.
	maxBytes := app.cfg.Server.MaxUploadBytes
	if cfg.Backend == config.FetcherGCS {
		app.logger.Info("using GCS blob fetcher", zap.Int64("max_bytes", maxBytes))
		return gcsfetcher.New(gcsfetcher.Config{Endpoint: cfg.BaseURL, Timeout: cfg.Timeout, MaxBytes: maxBytes})
	}
	app.logger.Info("using Drive blob fetcher", zap.Int64("max_bytes", maxBytes))
	return drive.New(drive.Config{BaseURL: cfg.BaseURL, Timeout: cfg.Timeout, MaxBytes: maxBytes})
}

func setupArchive(ctx context.Context, app *App) (converter.Archive, error) {
	cfg := app.cfg.Archive
	switch cfg.Backend {
	case config.ArchiveGCS:
		app.logger.Info("using GCS archive", zap.String("bucket", cfg.Bucket))
		var err error
		app.storage, err = storage.NewClient(ctx)
		if err != nil {
			return nil, fmt.Errorf("gcs client init failed: %w", err)
		}
		store, err := gcsstorage.New(app.storage, gcsstorage.Config{Bucket: cfg.Bucket})
		if err != nil {
			return nil, fmt.Errorf("gcs archive init failed: %w", err)
		}
		return store, nil
	case config.ArchiveLocal:
		app.logger.Info("using local archive", zap.String("path", cfg.LocalDir))
		store, err := localstorage.New(localstorage.Config{BaseDir: cfg.LocalDir})
		if err != nil {
			return nil, fmt.Errorf("local archive init failed: %w", err)
		}
		return store, nil
	case config.ArchiveMemory:
		app.logger.Info("using in-memory archive")
		return memoryStorage.New(), nil
	default:
		app.logger.Info("markdown archive disabled")
		return nil, nil
	}
}

func setupDatabase(ctx context.Context, app *App) error {
	if app.cfg.DB.DSN == "" {
		app.logger.Info("no DSN specified for database, skipping conversion records")
		return nil
	}
	var err error
	app.conversionStore, err = pgstore.NewConversionStore(ctx, pgstore.Config{
		DSN:      app.cfg.DB.DSN,
		Table:    app.cfg.DB.Table,
		MaxConns: app.cfg.DB.MaxConns,
	})
	if err != nil {
		return fmt.Errorf("conversion store init failed: %w", err)
	}
	app.logger.Info("conversion store initialized", zap.String("table", app.cfg.DB.Table))
	return nil
}

func setupPublisher(ctx context.Context, app *App) error {
	if app.cfg.PubSub.Topic == "" || app.cfg.PubSub.ProjectID == "" {
		app.logger.Info("no Pub/Sub topic configured, completion events disabled")
		return nil
	}
	var err error
	app.pubsubClient, err = pubsub.NewClient(ctx, app.cfg.PubSub.ProjectID)
	if err != nil {
		return fmt.Errorf("pubsub client init failed: %w", err)
	}
	app.publisher = gcppublisher.New(app.pubsubClient.Topic(app.cfg.PubSub.Topic))
	app.logger.Info("Pub/Sub publisher initialized",
		zap.String("project", app.cfg.PubSub.ProjectID),
		zap.String("topic", app.cfg.PubSub.Topic),
	)
	return nil
}
