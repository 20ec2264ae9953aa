// Package server builds the scraper's dependency graph from configuration and
// runs the HTTP server until shutdown.
package server

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"cloud.google.com/go/pubsub"
	"cloud.google.com/go/storage"
	"go.uber.org/zap"

	"github.com/JakeFAU/marketplace-search-scraper/internal/api"
	"github.com/JakeFAU/marketplace-search-scraper/internal/cache"
	"github.com/JakeFAU/marketplace-search-scraper/internal/clock/system"
	"github.com/JakeFAU/marketplace-search-scraper/internal/config"
	"github.com/JakeFAU/marketplace-search-scraper/internal/extract"
	collyfetcher "github.com/JakeFAU/marketplace-search-scraper/internal/fetcher/colly"
	headlessfetcher "github.com/JakeFAU/marketplace-search-scraper/internal/fetcher/headless"
	"github.com/JakeFAU/marketplace-search-scraper/internal/hash/sha256"
	"github.com/JakeFAU/marketplace-search-scraper/internal/id/uuid"
	"github.com/JakeFAU/marketplace-search-scraper/internal/metrics"
	"github.com/JakeFAU/marketplace-search-scraper/internal/policy/ratelimit"
	"github.com/JakeFAU/marketplace-search-scraper/internal/policy/window"
	memorypublisher "github.com/JakeFAU/marketplace-search-scraper/internal/publisher/memory"
	gcppublisher "github.com/JakeFAU/marketplace-search-scraper/internal/publisher/pubsub"
	"github.com/JakeFAU/marketplace-search-scraper/internal/scraper"
	gcsstorage "github.com/JakeFAU/marketplace-search-scraper/internal/storage/gcs"
	localstorage "github.com/JakeFAU/marketplace-search-scraper/internal/storage/local"
	memorystorage "github.com/JakeFAU/marketplace-search-scraper/internal/storage/memory"
	pgstore "github.com/JakeFAU/marketplace-search-scraper/internal/storage/postgres"
)

// App contains the application's dependencies.
type App struct {
	cfg         config.Config
	logger      *zap.Logger
	collector   *metrics.Collector
	coordinator *scraper.Coordinator
	apiServer   *api.Server

	headless        *headlessfetcher.Fetcher
	storage         *storage.Client
	history         *pgstore.HistoryStore
	pubsubClient    *pubsub.Client
	pubsubPublisher *gcppublisher.Publisher
}

// Build creates the application's dependencies.
func Build(ctx context.Context, cfg config.Config, logger *zap.Logger) (*App, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	app := &App{cfg: cfg, logger: logger}
	logger.Info("building application dependencies",
		zap.Int("port", cfg.Server.Port),
		zap.String("engine", cfg.Fetcher.Engine),
		zap.String("marketplace", cfg.Marketplace.BaseURL),
	)

	clock := system.New()
	app.collector = metrics.New()

	limiter, err := window.New(window.Config{
		Max:        cfg.RateLimit.Max,
		Window:     cfg.RateLimitWindow(),
		MaxClients: cfg.RateLimit.MaxClients,
	}, clock)
	if err != nil {
		return nil, fmt.Errorf("rate limiter init failed: %w", err)
	}
	resultCache, err := cache.New(cfg.Cache.MaxEntries, cfg.CacheTTL(), clock)
	if err != nil {
		return nil, fmt.Errorf("cache init failed: %w", err)
	}

	fetcher := app.setupFetcher()
	extractor := extract.New(cfg.Marketplace.BaseURL, extract.Currency{
		Symbol:    cfg.Extract.CurrencySymbol,
		Thousands: cfg.Extract.CurrencyThousands,
		Decimal:   cfg.Extract.CurrencyDecimal,
	}, logger.Named("extract"))

	recorders, err := app.setupRecorders(ctx)
	if err != nil {
		app.closeInfrastructure()
		return nil, err
	}

	throttle := ratelimit.New(ratelimit.Config{
		DefaultRPS:   cfg.Fetcher.UpstreamRPS,
		DefaultBurst: cfg.Fetcher.UpstreamBurst,
		Observer:     app.collector.ObserveThrottleDelay,
	})

	app.coordinator = scraper.NewCoordinator(
		scraper.Config{
			Target: scraper.SearchTarget{
				BaseURL:        cfg.Marketplace.BaseURL,
				SearchPath:     cfg.Marketplace.SearchPath,
				QueryParam:     cfg.Marketplace.QueryParam,
				AcceptLanguage: cfg.Marketplace.AcceptLanguage,
				UserAgent:      cfg.Fetcher.UserAgent,
			},
			CacheTTL:       cfg.CacheTTL(),
			SnapshotPrefix: cfg.Snapshots.Prefix,
			Topic:          cfg.PubSub.TopicName,
		},
		limiter,
		resultCache,
		fetcher,
		extractor,
		app.collector,
		clock,
		logger.Named("coordinator"),
	).WithThrottle(throttle).WithRecorders(recorders)

	app.apiServer = api.NewServer(app.coordinator, app.collector, clock, logger, api.Options{
		RequestTimeout: cfg.RequestTimeout(),
	})
	return app, nil
}

// Handler returns the HTTP handler serving the API.
func (a *App) Handler() http.Handler {
	return a.apiServer.Handler()
}

// Run starts the HTTP server and blocks until ctx is canceled or a
// termination signal arrives.
func (a *App) Run(ctx context.Context) error {
	ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", a.cfg.Server.Port),
		Handler:           a.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
	}

	serveErr := make(chan error, 1)
	go func() {
		a.logger.Info("http server started", zap.Int("port", a.cfg.Server.Port))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			a.logger.Error("http server error", zap.Error(err))
			serveErr <- err
			stop()
		}
	}()

	<-ctx.Done()
	a.logger.Info("shutdown initiated")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), a.cfg.ShutdownGrace())
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		a.logger.Warn("graceful shutdown expired, closing connections", zap.Error(err))
		if closeErr := srv.Close(); closeErr != nil {
			a.logger.Error("server close error", zap.Error(closeErr))
		}
	}

	a.Close()

	select {
	case err := <-serveErr:
		return fmt.Errorf("serve: %w", err)
	default:
		return nil
	}
}

// Close stops new recorder runs, waits for the ones in flight and releases
// external clients. Handlers left running after a forced shutdown still get
// responses but no longer reach the recorders.
func (a *App) Close() {
	if a.coordinator != nil {
		a.coordinator.Close()
	}
	a.closeInfrastructure()
	a.logger.Info("shutdown complete")
}

func (a *App) closeInfrastructure() {
	if a.headless != nil {
		a.headless.Close()
	}
	if a.pubsubPublisher != nil {
		a.pubsubPublisher.Stop()
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
	if a.history != nil {
		a.history.Close()
	}
}

func (a *App) setupFetcher() scraper.Fetcher {
	cfg := a.cfg
	if cfg.Fetcher.Engine == config.EngineHeadless {
		fetcher, err := headlessfetcher.NewChromedp(headlessfetcher.Config{
			MaxParallel:       cfg.Headless.MaxParallel,
			UserAgent:         cfg.Fetcher.UserAgent,
			NavigationTimeout: time.Duration(cfg.Headless.NavTimeoutSec) * time.Second,
		})
		if err == nil {
			a.headless = fetcher
			a.logger.Info("using headless fetcher", zap.Int("max_parallel", cfg.Headless.MaxParallel))
			return fetcher
		}
		a.logger.Warn("headless fetcher init failed, falling back to colly", zap.Error(err))
	}
	return collyfetcher.New(collyfetcher.Config{
		UserAgent:    cfg.Fetcher.UserAgent,
		Timeout:      cfg.FetchTimeout(),
		MaxBodyBytes: cfg.Fetcher.MaxBodyBytes,
	})
}

func (a *App) setupRecorders(ctx context.Context) (scraper.Recorders, error) {
	recorders := scraper.Recorders{Hasher: sha256.New(), IDs: uuid.New()}

	snapshots, err := a.setupSnapshots(ctx)
	if err != nil {
		return recorders, err
	}
	recorders.Snapshots = snapshots

	if err := a.setupDatabase(ctx); err != nil {
		return recorders, err
	}
	if a.history != nil {
		recorders.History = a.history
	}

	publisher, err := a.setupPublisher(ctx)
	if err != nil {
		return recorders, err
	}
	recorders.Publisher = publisher
	return recorders, nil
}

func (a *App) setupSnapshots(ctx context.Context) (scraper.BlobStore, error) {
	cfg := a.cfg.Snapshots
	switch cfg.Provider {
	case config.SnapshotsGCS:
		client, err := storage.NewClient(ctx)
		if err != nil {
			return nil, fmt.Errorf("gcs client init failed: %w", err)
		}
		a.storage = client
		store, err := gcsstorage.New(client, gcsstorage.Config{Bucket: cfg.GCSBucket})
		if err != nil {
			return nil, fmt.Errorf("gcs blob store init failed: %w", err)
		}
		a.logger.Info("archiving snapshots to GCS", zap.String("bucket", cfg.GCSBucket))
		return store, nil
	case config.SnapshotsLocal:
		store, err := localstorage.New(localstorage.Config{BaseDir: cfg.BaseDir})
		if err != nil {
			return nil, fmt.Errorf("local blob store init failed: %w", err)
		}
		a.logger.Info("archiving snapshots locally", zap.String("path", cfg.BaseDir))
		return store, nil
	case config.SnapshotsMemory:
		a.logger.Info("archiving snapshots in memory")
		return memorystorage.NewBlobStore(), nil
	default:
		a.logger.Debug("snapshot archive disabled")
		return nil, nil
	}
}

func (a *App) setupDatabase(ctx context.Context) error {
	if a.cfg.DB.DSN == "" {
		a.logger.Debug("no DSN specified, scrape history disabled")
		return nil
	}
	history, err := pgstore.NewHistoryStore(ctx, pgstore.Config{
		DSN:             a.cfg.DB.DSN,
		Table:           a.cfg.DB.Table,
		MaxConns:        a.cfg.DB.MaxConns,
		MinConns:        a.cfg.DB.MinConns,
		MaxConnLifetime: a.cfg.DBMaxConnLifetime(),
	})
	if err != nil {
		return fmt.Errorf("history store init failed: %w", err)
	}
	a.history = history
	if err := history.EnsureSchema(ctx); err != nil {
		return fmt.Errorf("history schema init failed: %w", err)
	}
	a.logger.Info("scrape history enabled", zap.String("table", a.cfg.DB.Table))
	return nil
}

func (a *App) setupPublisher(ctx context.Context) (scraper.Publisher, error) {
	cfg := a.cfg.PubSub
	switch {
	case cfg.TopicName == "":
		a.logger.Debug("no topic configured, scrape events disabled")
		return nil, nil
	case cfg.ProjectID == "":
		a.logger.Warn("no Pub/Sub project configured, using in-memory publisher", zap.String("topic", cfg.TopicName))
		return memorypublisher.New(), nil
	}
	client, err := pubsub.NewClient(ctx, cfg.ProjectID)
	if err != nil {
		return nil, fmt.Errorf("pubsub client init failed: %w", err)
	}
	a.pubsubClient = client
	a.pubsubPublisher = gcppublisher.New(client)
	a.logger.Info("Pub/Sub publisher initialized",
		zap.String("project", cfg.ProjectID),
		zap.String("topic", cfg.TopicName),
	)
	return a.pubsubPublisher, nil
}
