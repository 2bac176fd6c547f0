// Package server wires the crawler components together and runs them.
package server

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/JakeFAU/polite-crawler/internal/api"
	"github.com/JakeFAU/polite-crawler/internal/backend"
	badgerbackend "github.com/JakeFAU/polite-crawler/internal/backend/badger"
	memorybackend "github.com/JakeFAU/polite-crawler/internal/backend/memory"
	redisbackend "github.com/JakeFAU/polite-crawler/internal/backend/redis"
	"github.com/JakeFAU/polite-crawler/internal/config"
	"github.com/JakeFAU/polite-crawler/internal/crawler"
	"github.com/JakeFAU/polite-crawler/internal/export"
	"github.com/JakeFAU/polite-crawler/internal/extract"
	collyfetcher "github.com/JakeFAU/polite-crawler/internal/fetcher/colly"
	"github.com/JakeFAU/polite-crawler/internal/hash/sha256"
	"github.com/JakeFAU/polite-crawler/internal/id/uuid"
	"github.com/JakeFAU/polite-crawler/internal/logging"
	"github.com/JakeFAU/polite-crawler/internal/resource"
	"github.com/JakeFAU/polite-crawler/internal/storage"
	memorystorage "github.com/JakeFAU/polite-crawler/internal/storage/memory"
	pgstore "github.com/JakeFAU/polite-crawler/internal/storage/postgres"
)

// ResultStore is a sink whose rows can be exported.
type ResultStore interface {
	crawler.ResultSink
	storage.RowSource
	io.Closer
}

// App contains the application's dependencies.
type App struct {
	cfg       *config.Config
	logger    *zap.Logger
	runID     string
	store     backend.Store
	results   ResultStore
	engine    *crawler.Engine
	apiServer *api.Server
	listener  net.Listener
}

// Build creates the application's dependencies. Backend and storage
// failures are fatal.
func Build(ctx context.Context, cfg *config.Config) (*App, error) {
	base, err := logging.New(logging.Options{Development: cfg.Logging.Development, Level: cfg.Logging.Level})
	if err != nil {
		return nil, fmt.Errorf("logger init failed: %w", err)
	}
	runID, err := uuid.NewRunID()
	if err != nil {
		return nil, err
	}
	logger := logging.ForRun(base, runID)
	zap.ReplaceGlobals(logger)

	app := &App{cfg: cfg, logger: logger, runID: runID}
	logger.Info("building application",
		zap.String("backend", cfg.Backend),
		zap.Int("server_port", cfg.Server.Port),
		zap.Strings("domains", cfg.Targets.Domains),
	)

	app.store, err = openBackend(ctx, cfg, logger)
	if err != nil {
		return nil, fmt.Errorf("backend init failed: %w", err)
	}
	app.results, err = OpenResultStore(ctx, cfg, logger)
	if err != nil {
		app.closeStore()
		return nil, fmt.Errorf("storage init failed: %w", err)
	}

	app.engine, err = buildEngine(cfg, runID, app.store, app.results, logger)
	if err != nil {
		app.closeInfrastructure()
		return nil, err
	}
	app.apiServer = api.NewServer(app.engine, api.Options{
		APIKey:         cfg.Server.APIKey,
		RequestTimeout: cfg.Server.RequestTimeout,
	}, logger)
	return app, nil
}

func openBackend(ctx context.Context, cfg *config.Config, logger *zap.Logger) (backend.Store, error) {
	switch cfg.Backend {
	case config.BackendRedis:
		logger.Info("using redis backend", zap.String("addr", cfg.Redis.Addr))
		return redisbackend.New(ctx, redisbackend.Config{
			Addr:        cfg.Redis.Addr,
			Password:    cfg.Redis.Password,
			DB:          cfg.Redis.DB,
			PoolSize:    cfg.Redis.PoolSize,
			DialTimeout: cfg.Redis.DialTimeout,
			FrontierKey: cfg.Redis.FrontierKey,
		})
	case config.BackendBadger:
		logger.Info("using badger backend", zap.String("dir", cfg.Badger.Dir), zap.Bool("in_memory", cfg.Badger.InMemory))
		return badgerbackend.New(badgerbackend.Config{Dir: cfg.Badger.Dir, InMemory: cfg.Badger.InMemory}, logger)
	case config.BackendMemory:
		logger.Warn("using in-memory backend; the frontier will not survive a restart")
		return memorybackend.NewStore(), nil
	default:
		return nil, fmt.Errorf("unknown backend %q", cfg.Backend)
	}
}

// OpenResultStore returns the Postgres store when a DSN is configured and
// an in-memory store otherwise.
func OpenResultStore(ctx context.Context, cfg *config.Config, logger *zap.Logger) (ResultStore, error) {
	if cfg.Database.DSN == "" {
		logger.Warn("no database.dsn configured; results are kept in memory")
		return memorystorage.NewResultStore(), nil
	}
	store, err := pgstore.NewResultStore(ctx, pgstore.Config{
		DSN:             cfg.Database.DSN,
		MaxConns:        cfg.Database.MaxConns,
		MinConns:        cfg.Database.MinConns,
		MaxConnLifetime: cfg.Database.MaxConnLifetime,
	}, logger)
	if err != nil {
		return nil, err
	}
	if cfg.Database.EnsureSchema {
		if err := store.EnsureSchema(ctx); err != nil {
			_ = store.Close()
			return nil, err
		}
	}
	logger.Info("postgres result store initialized")
	return store, nil
}

func buildEngine(
	cfg *config.Config,
	runID string,
	store backend.Store,
	results crawler.ResultSink,
	logger *zap.Logger,
) (*crawler.Engine, error) {
	clock := crawler.SystemClock{}
	monitor := resource.New(resource.Config{
		MaxMemoryMB:   cfg.Resources.MaxMemoryMB,
		MaxCPUPercent: cfg.Resources.MaxCPUPercent,
		HighWater:     cfg.Resources.HighWater,
		LowWater:      cfg.Resources.LowWater,
	}, logger.Named("resource"))

	transport := collyfetcher.NewTransport(cfg.Crawler.MaxConnections, cfg.Crawler.MaxConnsPerHost)
	robotsClient := &http.Client{
		Transport: collyfetcher.NewRobotsTransport(transport),
		Timeout:   cfg.Robots.FetchTimeout,
	}
	robots := crawler.NewRobotsCache(crawler.RobotsConfig{
		Respect:      cfg.Robots.Respect,
		UserAgent:    cfg.Crawler.UserAgent,
		CacheTTL:     cfg.Robots.CacheTTL,
		ErrorTTL:     cfg.Robots.ErrorTTL,
		FetchTimeout: cfg.Robots.FetchTimeout,
		MaxBytes:     cfg.Robots.MaxBytes,
	}, robotsClient, store, clock, logger.Named("robots"))

	scheduler := crawler.NewHostScheduler(store, cfg.Crawler.DefaultDelay, robots, clock, logger.Named("scheduler"))
	frontier := crawler.NewFrontier(crawler.FrontierConfig{
		MaxDepth:      cfg.Crawler.MaxDepth,
		SeenTTL:       cfg.Crawler.SeenTTL,
		SeenCacheMode: cfg.Crawler.SeenCacheMode,
		SeenCacheSize: cfg.Crawler.SeenCacheSize,
	}, store, sha256.New(), clock, logger.Named("frontier"))
	concurrency := crawler.NewConcurrencyController(crawler.ConcurrencyConfig{
		Min:     cfg.Concurrency.Min,
		Max:     cfg.Concurrency.Max,
		Initial: cfg.Concurrency.Initial,
		Step:    cfg.Concurrency.Step,
	}, monitor, logger.Named("concurrency"))

	fetcher := collyfetcher.New(collyfetcher.Config{
		UserAgent:    cfg.Crawler.UserAgent,
		Timeout:      cfg.Crawler.RequestTimeout,
		MaxBodyBytes: cfg.Crawler.MaxContentLength,
		MaxRedirects: cfg.Crawler.MaxRedirects,
		Transport:    transport,
	})

	engine, err := crawler.NewEngine(crawler.EngineConfig{
		RunID:             runID,
		MaxPages:          cfg.Crawler.MaxPages,
		MaxPagesPerDomain: cfg.Crawler.MaxPagesPerDomain,
		MaxLinksPerPage:   cfg.Crawler.MaxLinksPerPage,
		Workers:           cfg.Concurrency.Max,
		AdjustEvery:       cfg.Concurrency.AdjustEvery,
		CleanupEvery:      cfg.Resources.CleanupEvery,
		HealthInterval:    cfg.Resources.HealthInterval,
		GlobalQPS:         cfg.Crawler.GlobalQPS,
	}, crawler.EngineDeps{
		Frontier:    frontier,
		Scheduler:   scheduler,
		Robots:      robots,
		Concurrency: concurrency,
		Monitor:     monitor,
		Fetcher:     fetcher,
		Extractor:   extract.New(nil, logger.Named("extract")),
		Sink:        results,
		Domains:     crawler.NewDomainAllowList(cfg.Targets.Domains),
		Store:       store,
		Clock:       clock,
		Retry:       crawler.NewExponentialRetryPolicy(),
		Logger:      logger.Named("engine"),
	})
	if err != nil {
		return nil, fmt.Errorf("engine init failed: %w", err)
	}
	return engine, nil
}

// Engine exposes the crawl engine.
func (a *App) Engine() *crawler.Engine { return a.engine }

// Results exposes the result store.
func (a *App) Results() ResultStore { return a.results }

// Run seeds the frontier, serves HTTP and crawls until ctx is cancelled,
// a signal arrives or the page budget is spent.
func (a *App) Run(ctx context.Context) error {
	ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	lis, err := net.Listen("tcp", fmt.Sprintf(":%d", a.cfg.Server.Port))
	if err != nil {
		a.closeInfrastructure()
		return fmt.Errorf("listen: %w", err)
	}
	a.listener = lis
	srv := &http.Server{
		Handler:           a.apiServer.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
	}
	go func() {
		a.logger.Info("http server started", zap.String("addr", lis.Addr().String()))
		if err := srv.Serve(lis); err != nil && !errors.Is(err, http.ErrServerClosed) {
			a.logger.Error("http server error", zap.Error(err))
			stop()
		}
	}()

	seeds := append(crawler.SeedURLs(a.cfg.Targets.Domains), a.cfg.Targets.Seeds...)
	var runErr error
	if _, err := a.engine.Seed(ctx, seeds); err != nil {
		runErr = fmt.Errorf("seed frontier: %w", err)
	} else if err := a.engine.Run(ctx); err != nil {
		runErr = err
	}
	a.logger.Info("shutdown initiated")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), a.cfg.Server.ShutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		a.logger.Error("server shutdown error", zap.Error(err))
	}

	if a.cfg.Export.OnShutdown {
		if _, err := a.Export(shutdownCtx); err != nil {
			a.logger.Error("export on shutdown failed", zap.Error(err))
		}
	}
	a.Close()
	return runErr
}

// Addr reports the HTTP listen address once Run has started listening.
func (a *App) Addr() net.Addr {
	if a.listener == nil {
		return nil
	}
	return a.listener.Addr()
}

// Export writes the CSV export to the configured destination.
func (a *App) Export(ctx context.Context) (export.Result, error) {
	return runExport(ctx, a.cfg, a.results, a.logger)
}

// ExportOnce opens the configured result store, exports it and closes it.
func ExportOnce(ctx context.Context, cfg *config.Config) (export.Result, error) {
	logger, err := logging.New(logging.Options{Development: cfg.Logging.Development, Level: cfg.Logging.Level})
	if err != nil {
		return export.Result{}, fmt.Errorf("logger init failed: %w", err)
	}
	defer func() { _ = logger.Sync() }()
	if cfg.Database.DSN == "" {
		return export.Result{}, fmt.Errorf("export requires database.dsn")
	}
	results, err := OpenResultStore(ctx, cfg, logger)
	if err != nil {
		return export.Result{}, fmt.Errorf("storage init failed: %w", err)
	}
	defer func() {
		if err := results.Close(); err != nil {
			logger.Warn("result store close failed", zap.Error(err))
		}
	}()
	return runExport(ctx, cfg, results, logger)
}

func runExport(ctx context.Context, cfg *config.Config, source storage.RowSource, logger *zap.Logger) (export.Result, error) {
	dest, err := export.OpenDestination(ctx, cfg.Export.Destination)
	if err != nil {
		return export.Result{}, err
	}
	defer func() {
		if err := dest.Close(); err != nil {
			logger.Warn("export destination close failed", zap.Error(err))
		}
	}()
	return export.New(source, dest.Store, cfg.Export.Limit, logger).Export(ctx)
}

// Close releases infrastructure, logging close errors.
func (a *App) Close() {
	a.closeInfrastructure()
	if err := a.logger.Sync(); err != nil {
		a.logger.Debug("logger sync failed", zap.Error(err))
	}
	a.logger.Info("shutdown complete")
}

func (a *App) closeInfrastructure() {
	if a.results != nil {
		if err := a.results.Close(); err != nil {
			a.logger.Warn("result store close failed", zap.Error(err))
		}
		a.results = nil
	}
	a.closeStore()
}

func (a *App) closeStore() {
	if a.store != nil {
		if err := a.store.Close(); err != nil {
			a.logger.Warn("backend close failed", zap.Error(err))
		}
		a.store = nil
	}
}
