// Package app wires configuration into a running docextract instance.
package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/joseph-ayodele/docextract/internal/async"
	"github.com/joseph-ayodele/docextract/internal/common"
	"github.com/joseph-ayodele/docextract/internal/document"
	"github.com/joseph-ayodele/docextract/internal/export"
	"github.com/joseph-ayodele/docextract/internal/extraction"
	"github.com/joseph-ayodele/docextract/internal/httpapi"
	"github.com/joseph-ayodele/docextract/internal/ingest"
	"github.com/joseph-ayodele/docextract/internal/llm"
	"github.com/joseph-ayodele/docextract/internal/llm/backend"
	"github.com/joseph-ayodele/docextract/internal/metrics"
	"github.com/joseph-ayodele/docextract/internal/repository"
	"github.com/joseph-ayodele/docextract/internal/server"
)

// App holds every long-lived component built from a Config.
type App struct {
	Config     *common.Config
	Logger     *slog.Logger
	DB         *repository.DB
	Extractors repository.ExtractorRepository
	Examples   repository.ExampleRepository
	Runs       repository.RunRepository
	Loader     *document.Loader
	Service    *extraction.Service
	Export     *export.Service
	Metrics    *metrics.Collector

	closers []func() error
}

// NewLogger returns the JSON slog logger used by the binaries.
func NewLogger(level slog.Level) *slog.Logger {
	return slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{Level: level}))
}

// New opens the database, migrates it when configured to, and builds the
// model backend and the extraction service.
func New(ctx context.Context, cfg *common.Config, logger *slog.Logger) (*App, error) {
	if logger == nil {
		logger = slog.Default()
	}
	a := &App{Config: cfg, Logger: logger, Metrics: metrics.NewCollector()}

	db, err := repository.Open(ctx, cfg.Database, logger)
	if err != nil {
		return nil, err
	}
	a.DB = db
	a.closers = append(a.closers, func() error { db.Close(); return nil })

	if err := db.HealthCheck(ctx, 5*time.Second, 3); err != nil {
		a.Close()
		return nil, fmt.Errorf("database health: %w", err)
	}
	if cfg.Database.AutoMigrate {
		if err := db.Migrate(ctx); err != nil {
			a.Close()
			return nil, err
		}
	}

	a.Extractors = repository.NewExtractorRepository(db, logger)
	a.Examples = repository.NewExampleRepository(db, logger)
	a.Runs = repository.NewRunRepository(db, logger)
	a.Export = export.NewService(a.Runs, logger)
	a.Loader = document.NewLoader(document.Config{
		Pdftotext: cfg.Document.Pdftotext,
		MaxPages:  cfg.Document.MaxPages,
		MaxBytes:  cfg.Document.MaxBytes,
	}, logger)

	invOpts := []llm.InvokerOption{llm.WithMetrics(a.Metrics)}
	if cfg.Cache.RedisAddr != "" {
		cache := llm.NewRedisCache(cfg.Cache.RedisAddr, cfg.Cache.TTL)
		if err := cache.Ping(ctx); err != nil {
			logger.Warn("llm cache unavailable, continuing without it", "addr", cfg.Cache.RedisAddr, "error", err)
			_ = cache.Close()
		} else {
			invOpts = append(invOpts, llm.WithCache(cache))
			a.closers = append(a.closers, cache.Close)
		}
	}
	invoker, closeBackend, err := backend.NewInvoker(ctx, cfg.LLM, logger, invOpts...)
	if err != nil {
		a.Close()
		return nil, err
	}
	a.closers = append(a.closers, closeBackend)

	// A configured 0 means no repairs; extraction.Config reads 0 as the default.
	repairs := cfg.Extraction.MaxRepairAttempts
	if repairs == 0 {
		repairs = -1
	}
	opts := []extraction.Option{extraction.WithMetrics(a.Metrics)}
	if cfg.Extraction.RecordRuns {
		opts = append(opts, extraction.WithRunRecorder(a.Runs))
	}
	a.Service = extraction.NewService(extraction.Config{
		RequestTimeout:    cfg.Extraction.RequestTimeout,
		MaxRepairAttempts: repairs,
		ChunkSize:         cfg.Extraction.ChunkSize,
		ChunkOverlap:      cfg.Extraction.ChunkOverlap,
		MaxConcurrency:    cfg.Extraction.MaxConcurrency,
	}, a.Extractors, a.Examples, a.Loader, invoker, logger, opts...)
	return a, nil
}

// Close releases everything New opened, newest first.
func (a *App) Close() {
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](); err != nil {
			a.Logger.Warn("close failed", "error", err)
		}
	}
	a.closers = nil
}

// Router returns the REST API handler.
func (a *App) Router() *gin.Engine {
	return httpapi.NewRouter(httpapi.Deps{
		Pipeline:   a.Service,
		Extractors: a.Extractors,
		Examples:   a.Examples,
		Runs:       a.Runs,
		Exporter:   a.Export,
		Metrics:    a.Metrics,
		Ping:       func(ctx context.Context) error { return a.DB.HealthCheck(ctx, 2*time.Second, 1) },
		MaxBytes:   a.Config.Document.MaxBytes,
		Logger:     a.Logger,
	})
}

// Serve runs the gRPC and REST servers on their configured addresses until
// ctx is done, then stops both gracefully.
func (a *App) Serve(ctx context.Context) error {
	g, ctx := errgroup.WithContext(ctx)
	cfg := a.Config.Server

	if cfg.GRPCAddr != "" {
		lis, err := net.Listen("tcp", cfg.GRPCAddr)
		if err != nil {
			return fmt.Errorf("listen %s: %w", cfg.GRPCAddr, err)
		}
		gs, hs := server.New(server.NewExtractionServer(a.Service, a.Extractors, a.Examples, a.Logger), a.Logger)
		g.Go(func() error {
			a.Logger.Info("grpc.listening", "addr", lis.Addr().String())
			return gs.Serve(lis)
		})
		g.Go(func() error {
			<-ctx.Done()
			hs.Shutdown()
			gs.GracefulStop()
			return nil
		})
	}

	if cfg.HTTPAddr != "" {
		srv := &http.Server{Addr: cfg.HTTPAddr, Handler: a.Router(), ReadHeaderTimeout: 10 * time.Second}
		g.Go(func() error {
			a.Logger.Info("http.listening", "addr", cfg.HTTPAddr)
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return err
			}
			return nil
		})
		g.Go(func() error {
			<-ctx.Done()
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
			defer cancel()
			return srv.Shutdown(shutdownCtx)
		})
	}
	return g.Wait()
}

// Watch extracts every new file under the configured watch directory with
// the configured extractor until ctx is done.
func (a *App) Watch(ctx context.Context) error {
	cfg := a.Config.Ingest
	v := common.NewValidator().
		Field("WATCH_DIR", cfg.WatchDir, common.Required).
		Field("WATCH_EXTRACTOR_ID", cfg.ExtractorID, common.UUID)
	if v.HasErrors() {
		return common.NewAppError("CONFIG_ERROR", v.ErrorMessage(), common.ErrInvalidInput)
	}
	id := uuid.MustParse(cfg.ExtractorID)
	if _, err := a.Extractors.Get(ctx, id); err != nil {
		return err
	}

	proc := ingest.NewProcessor(a.Service, id, cfg.OutputDir, a.Logger)
	queue := async.NewWorkerPool(proc.Handle, a.Logger,
		async.WithWorkers(cfg.Workers),
		async.WithQueueSize(cfg.QueueSize),
		async.WithProcessTimeout(a.Config.Extraction.RequestTimeout),
	)
	events, errs, err := ingest.StartWatcher(ctx, ingest.WatchConfig{
		Roots:       []string{cfg.WatchDir},
		InitialScan: true,
		Debounce:    cfg.Debounce,
	}, a.Logger)
	if err != nil {
		queue.Shutdown(context.Background())
		return err
	}
	go func() {
		for err := range errs {
			a.Logger.Warn("watch.error", "error", err)
		}
	}()

	a.Logger.Info("watch.start", "dir", cfg.WatchDir, "extractor_id", id, "output_dir", cfg.OutputDir)
	n := ingest.Feed(ctx, events, queue, a.Logger)

	drainCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	queue.Shutdown(drainCtx)
	a.Logger.Info("watch.stop", "queued", n)
	return nil
}
