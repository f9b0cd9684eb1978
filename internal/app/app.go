// Package app builds the digest service's dependency graph and runs it.
package app

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	pubsub "cloud.google.com/go/pubsub/v2"
	"cloud.google.com/go/storage"
	"go.uber.org/zap"

	"github.com/JakeFAU/esg-news-digest/internal/api"
	"github.com/JakeFAU/esg-news-digest/internal/clock/system"
	"github.com/JakeFAU/esg-news-digest/internal/config"
	"github.com/JakeFAU/esg-news-digest/internal/digest"
	"github.com/JakeFAU/esg-news-digest/internal/discovery"
	"github.com/JakeFAU/esg-news-digest/internal/dispatcher"
	"github.com/JakeFAU/esg-news-digest/internal/eventlog"
	"github.com/JakeFAU/esg-news-digest/internal/extract"
	collyfetcher "github.com/JakeFAU/esg-news-digest/internal/fetcher/colly"
	"github.com/JakeFAU/esg-news-digest/internal/fetcher/headless"
	"github.com/JakeFAU/esg-news-digest/internal/fetcher/polite"
	"github.com/JakeFAU/esg-news-digest/internal/id/uuid"
	"github.com/JakeFAU/esg-news-digest/internal/llm"
	"github.com/JakeFAU/esg-news-digest/internal/news"
	"github.com/JakeFAU/esg-news-digest/internal/pipeline"
	"github.com/JakeFAU/esg-news-digest/internal/policy/ratelimit"
	memorypublisher "github.com/JakeFAU/esg-news-digest/internal/publisher/memory"
	gcppublisher "github.com/JakeFAU/esg-news-digest/internal/publisher/pubsub"
	gcsstorage "github.com/JakeFAU/esg-news-digest/internal/storage/gcs"
	localstorage "github.com/JakeFAU/esg-news-digest/internal/storage/local"
	memorystorage "github.com/JakeFAU/esg-news-digest/internal/storage/memory"
	pgstore "github.com/JakeFAU/esg-news-digest/internal/storage/postgres"
	"github.com/JakeFAU/esg-news-digest/internal/taxonomy"
	"github.com/JakeFAU/esg-news-digest/internal/worker"
)

const shutdownTimeout = 10 * time.Second

// App contains the application's dependencies.
type App struct {
	cfg    config.Config
	logger *zap.Logger

	store        news.Store
	pgStore      *pgstore.Store
	orchestrator *pipeline.Orchestrator
	digests      *digest.Builder
	dispatch     *dispatcher.Dispatcher
	apiServer    *api.Server

	pubsubClient    *pubsub.Client
	pubsubPublisher *pubsub.Publisher
	notices         *memorypublisher.Publisher
	storage         *storage.Client
	browser         *headless.Fetcher
}

// Build creates the application's dependencies.
func Build(ctx context.Context, cfg config.Config, logger *zap.Logger) (*App, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	app := &App{cfg: cfg, logger: logger}
	logger.Info("building application dependencies",
		zap.Int("server_port", cfg.Server.Port),
		zap.String("storage_backend", cfg.Storage.Backend),
		zap.String("llm_provider", cfg.LLM.Provider),
		zap.Bool("postgres", cfg.Database.DSN != ""),
	)

	ok := false
	defer func() {
		if !ok {
			app.closeInfrastructure()
		}
	}()

	if err := setupDatabase(ctx, app); err != nil {
		return nil, err
	}
	if err := seedTaxonomy(ctx, app); err != nil {
		return nil, err
	}
	blobStore, err := setupStorage(ctx, app)
	if err != nil {
		return nil, err
	}
	publisher, err := setupPublisher(ctx, app)
	if err != nil {
		return nil, err
	}

	clock := system.New()
	events := eventlog.New(app.store, clock, eventlog.Config{
		PageSize:       cfg.Events.PageSize,
		StreamInterval: time.Duration(cfg.Events.StreamIntervalMs) * time.Millisecond,
	}, logger.Named("events"))
	app.orchestrator, err = setupPipeline(app, events, clock)
	if err != nil {
		return nil, err
	}
	app.digests = digest.NewBuilder(app.store, blobStore, clock, digest.Config{
		Prefix: cfg.Storage.Prefix,
	}, logger.Named("digest"))
	app.dispatch = setupDispatcher(app, publisher, clock)

	app.apiServer = api.NewServer(api.Dependencies{
		Runs:    app.orchestrator,
		Store:   app.store,
		Events:  events,
		Digests: app.digests,
	}, api.Config{
		DigestWindow: cfg.DigestWindow(),
	}, logger.Named("api"))

	ok = true
	return app, nil
}

// Orchestrator exposes run submission and execution.
func (a *App) Orchestrator() *pipeline.Orchestrator { return a.orchestrator }

// Digests exposes digest assembly and publication.
func (a *App) Digests() *digest.Builder { return a.digests }

// Handler returns the HTTP API handler.
func (a *App) Handler() http.Handler { return a.apiServer.Handler() }

// Run serves the HTTP API and the worker pool until the context is canceled
// or the process receives SIGINT/SIGTERM.
func (a *App) Run(ctx context.Context) error {
	a.logger.Info("application started")
	ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	dispatchDone := make(chan struct{})
	go func() {
		defer close(dispatchDone)
		a.logger.Info("dispatcher started", zap.Int("workers", a.dispatch.Size()))
		a.dispatch.Run(ctx)
	}()

	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", a.cfg.Server.Port),
		Handler:           a.apiServer.Handler(),
		ReadHeaderTimeout: a.readHeaderTimeout(),
	}

	go func() {
		a.logger.Info("http server started", zap.Int("port", a.cfg.Server.Port))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			a.logger.Error("http server error", zap.Error(err))
			stop()
		}
	}()

	<-ctx.Done()
	a.logger.Info("shutdown initiated")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		a.logger.Error("server shutdown error", zap.Error(err))
	}
	<-dispatchDone
	a.Close()
	return nil
}

// RunWorkers runs only the worker pool, for deployments that split the API
// from execution.
func (a *App) RunWorkers(ctx context.Context) error {
	ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()
	a.logger.Info("dispatcher started", zap.Int("workers", a.dispatch.Size()))
	a.dispatch.Run(ctx)
	a.Close()
	return nil
}

// Close releases external clients.
func (a *App) Close() {
	a.closeInfrastructure()
	if err := a.logger.Sync(); err != nil {
		a.logger.Debug("logger sync failed", zap.Error(err))
	}
	a.logger.Info("shutdown complete")
}

func (a *App) closeInfrastructure() {
	if a.pubsubPublisher != nil {
		a.pubsubPublisher.Stop()
		a.pubsubPublisher = nil
	}
	if a.pubsubClient != nil {
		if err := a.pubsubClient.Close(); err != nil {
			a.logger.Warn("pubsub client close failed", zap.Error(err))
		}
		a.pubsubClient = nil
	}
	if a.storage != nil {
		if err := a.storage.Close(); err != nil {
			a.logger.Warn("gcs client close failed", zap.Error(err))
		}
		a.storage = nil
	}
	if a.browser != nil {
		a.browser.Close()
		a.browser = nil
	}
	if a.pgStore != nil {
		a.pgStore.Close()
		a.pgStore = nil
	}
}

func (a *App) readHeaderTimeout() time.Duration {
	if a.cfg.Server.ReadHeaderTimeoutSeconds <= 0 {
		return 5 * time.Second
	}
	return time.Duration(a.cfg.Server.ReadHeaderTimeoutSeconds) * time.Second
}

// Migrate applies the Postgres schema without building the rest of the app.
func Migrate(ctx context.Context, cfg config.Config, logger *zap.Logger) error {
	store, err := openPostgres(ctx, cfg)
	if err != nil {
		return err
	}
	defer store.Close()
	if err := store.Migrate(ctx); err != nil {
		return fmt.Errorf("migrate: %w", err)
	}
	logger.Info("database schema migrated")
	return nil
}

func openPostgres(ctx context.Context, cfg config.Config) (*pgstore.Store, error) {
	store, err := pgstore.New(ctx, pgstore.Config{
		DSN:             cfg.Database.DSN,
		MaxConns:        cfg.Database.MaxConns,
		MinConns:        cfg.Database.MinConns,
		MaxConnLifetime: cfg.Database.MaxConnLifetime,
	})
	if err != nil {
		return nil, fmt.Errorf("postgres store init failed: %w", err)
	}
	return store, nil
}

func setupDatabase(ctx context.Context, app *App) error {
	if app.cfg.Database.DSN == "" {
		app.logger.Warn("No DSN specified for database, using in-memory record store")
		app.store = memorystorage.NewStore()
		return nil
	}
	store, err := openPostgres(ctx, app.cfg)
	if err != nil {
		return err
	}
	app.pgStore = store
	app.store = store
	if app.cfg.Database.AutoMigrate {
		if err := store.Migrate(ctx); err != nil {
			return fmt.Errorf("migrate: %w", err)
		}
		app.logger.Info("database schema migrated")
	}
	return nil
}

func seedTaxonomy(ctx context.Context, app *App) error {
	var file taxonomy.SeedFile
	if path := app.cfg.Taxonomy.File; path != "" {
		var err error
		file, err = taxonomy.LoadFile(path)
		if err != nil {
			return fmt.Errorf("taxonomy: %w", err)
		}
		app.logger.Info("taxonomy file loaded",
			zap.String("path", path),
			zap.Int("topics", len(file.Topics)),
			zap.Int("sources", len(file.Sources)),
		)
	}
	if err := taxonomy.Seed(ctx, app.store, file, app.logger.Named("taxonomy")); err != nil {
		return fmt.Errorf("seed taxonomy: %w", err)
	}
	return nil
}

func setupStorage(ctx context.Context, app *App) (news.BlobStore, error) {
	switch app.cfg.Storage.Backend {
	case config.StorageGCS:
		app.logger.Info("using GCS storage backend")
		client, err := storage.NewClient(ctx)
		if err != nil {
			return nil, fmt.Errorf("gcs client init failed: %w", err)
		}
		app.storage = client
		blobStore, err := gcsstorage.New(client, gcsstorage.Config{Bucket: app.cfg.Storage.Bucket})
		if err != nil {
			return nil, fmt.Errorf("gcs blob store init failed: %w", err)
		}
		app.logger.Debug("GCS storage backend", zap.String("bucket", app.cfg.Storage.Bucket))
		return blobStore, nil
	case config.StorageLocal:
		app.logger.Info("using local storage backend")
		blobStore, err := localstorage.New(localstorage.Config{BaseDir: app.cfg.Storage.Local.BaseDir})
		if err != nil {
			return nil, fmt.Errorf("local blob store init failed: %w", err)
		}
		app.logger.Debug("local storage backend", zap.String("path", app.cfg.Storage.Local.BaseDir))
		return blobStore, nil
	default:
		app.logger.Info("using in-memory storage backend")
		return memorystorage.NewBlobStore(), nil
	}
}

func setupPublisher(ctx context.Context, app *App) (news.Publisher, error) {
	if app.cfg.PubSub.TopicName == "" || app.cfg.PubSub.ProjectID == "" {
		app.logger.Warn("No Pub/Sub topic configured, using in-memory publisher")
		app.notices = memorypublisher.New()
		return app.notices, nil
	}
	var err error
	app.pubsubClient, err = pubsub.NewClient(ctx, app.cfg.PubSub.ProjectID)
	if err != nil {
		return nil, fmt.Errorf("pubsub client init failed: %w", err)
	}
	app.pubsubPublisher = app.pubsubClient.Publisher(app.cfg.PubSub.TopicName)
	app.logger.Info(
		"Pub/Sub publisher initialized",
		zap.String("project", app.cfg.PubSub.ProjectID),
		zap.String("topic", app.cfg.PubSub.TopicName),
	)
	return gcppublisher.New(app.pubsubPublisher), nil
}

func setupPipeline(app *App, events *eventlog.Log, clock news.Clock) (*pipeline.Orchestrator, error) {
	cfg := app.cfg
	var base news.Fetcher = collyfetcher.New(collyfetcher.Config{
		UserAgent:     cfg.Fetcher.UserAgent,
		RespectRobots: cfg.Fetcher.RespectRobots,
		Timeout:       cfg.FetchTimeout(),
		MaxBodyBytes:  cfg.Fetcher.MaxBodyBytes,
	})
	if hc := cfg.Fetcher.Headless; hc.Enabled {
		browser, err := headless.NewChromedp(headless.Config{
			MaxParallel:       hc.MaxParallel,
			UserAgent:         cfg.Fetcher.UserAgent,
			NavigationTimeout: time.Duration(hc.NavTimeoutSeconds) * time.Second,
		})
		if err != nil {
			return nil, fmt.Errorf("headless fetcher init failed: %w", err)
		}
		app.browser = browser
		base = headless.NewPromoting(base, browser, headless.NewHeuristic(hc.PromotionThreshold), app.logger.Named("headless"))
		app.logger.Info("headless render fallback enabled",
			zap.Int("max_parallel", hc.MaxParallel),
			zap.Int("promotion_threshold", hc.PromotionThreshold),
		)
	}
	hosts := ratelimit.New(ratelimit.Config{Interval: cfg.HostInterval()})
	fetcher := polite.New(base, hosts, polite.Config{MaxConcurrent: cfg.Fetcher.MaxConcurrent}, app.logger.Named("fetcher"))
	app.logger.Info("fetcher configured",
		zap.String("user_agent", cfg.Fetcher.UserAgent),
		zap.Bool("respect_robots", cfg.Fetcher.RespectRobots),
		zap.Int("max_concurrent", cfg.Fetcher.MaxConcurrent),
		zap.Duration("host_interval", cfg.HostInterval()),
	)

	var live news.Classifier
	if cfg.LLM.Provider == config.ProviderOllama {
		live = llm.NewOllamaClient(llm.OllamaConfig{
			BaseURL:       cfg.LLM.BaseURL,
			Model:         cfg.LLM.Model,
			Timeout:       time.Duration(cfg.LLM.TimeoutSeconds) * time.Second,
			ProbeTimeout:  time.Duration(cfg.LLM.ProbeTimeoutSeconds) * time.Second,
			MaxInputChars: cfg.LLM.MaxInputChars,
			Temperature:   cfg.LLM.Temperature,
			MaxTokens:     cfg.LLM.MaxTokens,
		}, app.logger.Named("llm"))
		app.logger.Info("ollama classifier configured",
			zap.String("base_url", cfg.LLM.BaseURL),
			zap.String("model", cfg.LLM.Model),
		)
	}

	return pipeline.New(pipeline.Dependencies{
		Store:       app.store,
		Discoverer:  discovery.New(fetcher, app.logger.Named("discovery")),
		Fetcher:     fetcher,
		Extractor:   extract.New(),
		Classifiers: llm.NewSelector(live, app.logger.Named("llm")),
		Events:      events,
		IDs:         uuid.New(),
		Clock:       clock,
	}, pipeline.Config{
		ItemConcurrency: cfg.Pipeline.ItemConcurrency,
	}, app.logger.Named("pipeline")), nil
}

func setupDispatcher(app *App, publisher news.Publisher, clock news.Clock) *dispatcher.Dispatcher {
	workerCfg := worker.Config{
		PollInterval: app.cfg.PollInterval(),
		Topic:        app.cfg.PubSub.TopicName,
	}
	if app.notices != nil && workerCfg.Topic == "" {
		workerCfg.Topic = memorypublisher.DefaultTopic
	}
	app.logger.Info("worker config",
		zap.Int("count", app.cfg.Worker.Count),
		zap.Duration("poll_interval", workerCfg.PollInterval),
		zap.String("topic", workerCfg.Topic),
	)
	workers := make([]*worker.Worker, 0, app.cfg.Worker.Count)
	for i := 0; i < app.cfg.Worker.Count; i++ {
		workers = append(workers, worker.New(
			app.orchestrator,
			publisher,
			clock,
			workerCfg,
			app.logger.Named("worker").With(zap.Int("index", i)),
		))
	}
	return dispatcher.New(workers)
}
