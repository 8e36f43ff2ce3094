package container

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/sirupsen/logrus"

	"go-image-filter/internal/backend"
	"go-image-filter/internal/cache"
	"go-image-filter/internal/config"
	"go-image-filter/internal/logger"
	"go-image-filter/internal/observer"
	"go-image-filter/internal/processing"
	"go-image-filter/internal/repository"
	"go-image-filter/internal/service"
	"go-image-filter/internal/session"
	"go-image-filter/internal/storage"
	"go-image-filter/internal/transport"
)

const (
	memoryCacheSize = 128
	sweepInterval   = time.Minute
)

// Container holds all application dependencies
type Container struct {
	config        *config.Config
	backend       *backend.Client
	filterService *service.FilterService
	events        *observer.EventPublisher
	metrics       *observer.MetricsObserver
	hub           *observer.Hub
	sessions      *session.Manager
	handler       http.Handler

	redis *redis.Client
	sqlDB interface{ Close() error }
}

// NewContainer creates a new dependency injection container
func NewContainer(ctx context.Context, cfg *config.Config) (*Container, error) {
	c := &Container{config: cfg}

	// Build dependency graph
	c.backend = backend.NewClient(cfg.BackendURL, cfg.BackendTimeout)
	orchestrator := processing.NewOrchestrator(c.backend)

	opts := []service.Option{service.WithCache(c.buildCache(ctx), cfg.CacheTTL)}

	if cfg.HistoryDSN != "" {
		history, err := c.buildHistory(ctx)
		if err != nil {
			c.Close()
			return nil, err
		}
		opts = append(opts, service.WithHistory(history))
	}
	c.filterService = service.NewFilterService(orchestrator, opts...)

	c.events = observer.NewEventPublisher()
	c.metrics = observer.NewMetricsObserver()
	c.hub = observer.NewHub()
	c.events.Subscribe(observer.NewLoggingObserver(logger.Logger))
	c.events.Subscribe(c.metrics)
	c.events.Subscribe(c.hub)

	c.sessions = session.NewManager(c.filterService, c.events, cfg.SessionTTL)

	sources, sink, err := buildStorage(cfg)
	if err != nil {
		c.Close()
		return nil, err
	}

	deps := transport.Dependencies{
		Sessions: c.sessions,
		Sources:  sources,
		Sink:     sink,
		Backend:  c.backend,
		Hub:      c.hub,
		Metrics:  c.metrics,
	}
	if cfg.HistoryDSN != "" {
		deps.History = c.filterService
	}
	c.handler = transport.NewHandler(deps, cfg)

	return c, nil
}

// buildCache prefers Redis and falls back to an in-process cache
func (c *Container) buildCache(ctx context.Context) cache.Cache {
	if c.config.RedisAddr == "" {
		return cache.NewMemoryCache(memoryCacheSize)
	}
	client, err := cache.DialRedis(ctx, c.config.RedisAddr)
	if err != nil {
		logger.WithError(err).WithField("addr", c.config.RedisAddr).Warn("Redis unavailable, using in-memory cache")
		return cache.NewMemoryCache(memoryCacheSize)
	}
	c.redis = client
	return cache.NewRedisCache(client)
}

func (c *Container) buildHistory(ctx context.Context) (*repository.HistoryRepository, error) {
	db, err := repository.OpenDatabase(c.config.HistoryDSN)
	if err != nil {
		return nil, fmt.Errorf("failed to open history database: %w", err)
	}
	sqlDB, err := db.DB()
	if err != nil {
		return nil, fmt.Errorf("failed to access history database: %w", err)
	}
	c.sqlDB = sqlDB

	history := repository.NewHistoryRepository(db)
	if err := history.AutoMigrate(ctx); err != nil {
		return nil, fmt.Errorf("failed to migrate history database: %w", err)
	}
	return history, nil
}

// buildStorage wires source fetchers and the result sink. Local paths are not
// accepted as sources over HTTP, and neither are private hosts unless allowed.
func buildStorage(cfg *config.Config) (repository.ImageRepository, storage.ResultSink, error) {
	httpFetcher := storage.NewPublicHTTPImageFetcher(cfg.MaxUploadSize)
	if cfg.AllowPrivateSources {
		httpFetcher = storage.NewHTTPImageFetcher(cfg.MaxUploadSize)
	}
	newSources := func(blob storage.ImageFetcher) *repository.SourceImageRepository {
		repo := repository.NewSourceImageRepository(httpFetcher, blob, nil, cfg.MaxUploadSize)
		if cfg.AllowPrivateSources {
			return repo
		}
		return repo.PublicOnly()
	}

	if cfg.AzureEnabled() {
		blob, err := storage.NewAzureStorage(cfg.AzureAccount, cfg.AzureKey, cfg.AzureContainer, cfg.MaxUploadSize)
		if err != nil {
			return nil, nil, fmt.Errorf("failed to create azure storage: %w", err)
		}
		logger.WithFields(logrus.Fields{
			"account":   cfg.AzureAccount,
			"container": cfg.AzureContainer,
		}).Info("Azure blob storage enabled")
		return newSources(blob), blob, nil
	}

	local := storage.NewLocalStorage(cfg.OutputDir, cfg.MaxUploadSize)
	return newSources(nil), local, nil
}

// Start runs the background workers until ctx is done
func (c *Container) Start(ctx context.Context) {
	go c.hub.Run(ctx)
	go c.sessions.Run(ctx, sweepInterval)
}

// Handler returns the HTTP handler
func (c *Container) Handler() http.Handler {
	return c.handler
}

// Config returns the configuration
func (c *Container) Config() *config.Config {
	return c.config
}

// Close releases external connections
func (c *Container) Close() {
	if c.redis != nil {
		if err := c.redis.Close(); err != nil {
			logger.WithError(err).Warn("Failed to close redis client")
		}
	}
	if c.sqlDB != nil {
		if err := c.sqlDB.Close(); err != nil {
			logger.WithError(err).Warn("Failed to close history database")
		}
	}
}
