package container

import (
	"fmt"
	"net/http"

	"go-imfit/internal/calibration"
	"go-imfit/internal/config"
	"go-imfit/internal/fit"
	"go-imfit/internal/logger"
	"go-imfit/internal/observer"
	"go-imfit/internal/repository"
	"go-imfit/internal/service"
	"go-imfit/internal/storage"
	"go-imfit/internal/transport"
	"go-imfit/pkg/models"
)

// Container holds all application dependencies
type Container struct {
	config        *config.Config
	frameStore    *storage.CachedFrameStore
	shots         repository.ShotRepository
	pool          *fit.WorkerPool
	metrics       *observer.MetricsObserver
	notifier      *observer.ChannelObserver
	notifications chan observer.FitEvent
	fitService    service.FitService
	handler       http.Handler
}

// Option overrides a default dependency
type Option func(*options)

type options struct {
	frameStore storage.FrameStore
	shots      repository.ShotRepository
}

// WithFrameStore replaces the frame store selected by FRAME_SOURCE
func WithFrameStore(s storage.FrameStore) Option {
	return func(o *options) {
		o.frameStore = s
	}
}

// WithShotRepository replaces the in-memory shot repository
func WithShotRepository(r repository.ShotRepository) Option {
	return func(o *options) {
		o.shots = r
	}
}

// NewContainer builds the dependency graph from cfg
func NewContainer(cfg *config.Config, opts ...Option) (*Container, error) {
	var o options
	for _, opt := range opts {
		opt(&o)
	}

	backend := o.frameStore
	if backend == nil {
		var err error
		if backend, err = newFrameStore(cfg); err != nil {
			return nil, err
		}
	}
	// a shared fetch outlives its first caller; leave room for the HTTP
	// store's retries and backoff
	frameStore := storage.NewCachedFrameStore(backend, cfg.FrameCacheSize,
		storage.WithFetchTimeout(4*cfg.FrameFetchTimeout))

	shots := o.shots
	if shots == nil {
		shots = repository.NewMemoryShotRepository()
	}

	defaults, err := loadDefaults(cfg)
	if err != nil {
		return nil, err
	}

	var archive repository.ReportArchive
	if cfg.ReportArchiveDir != "" {
		pa, err := repository.NewParquetArchive(cfg.ReportArchiveDir)
		if err != nil {
			return nil, err
		}
		archive = pa
	}

	pool := fit.NewWorkerPool(cfg.FitWorkers)
	pool.Start()

	notifications := make(chan observer.FitEvent, cfg.NotifyBuffer)
	metrics := observer.NewMetricsObserver()
	notifier := observer.NewChannelObserver(notifications)
	publisher := observer.NewEventPublisher()
	publisher.Subscribe(observer.NewLoggingObserver(logger.Logger))
	publisher.Subscribe(metrics)
	publisher.Subscribe(notifier)

	fitService := service.NewFitService(
		shots,
		repository.NewImageLoader(frameStore),
		fit.NewEngine(nil),
		pool,
		publisher,
		archive,
		defaults,
		service.Options{
			PartialResults: cfg.PartialResults,
			WatchTimeout:   cfg.FitTimeout,
		},
	)

	c := &Container{
		config:        cfg,
		frameStore:    frameStore,
		shots:         shots,
		pool:          pool,
		metrics:       metrics,
		notifier:      notifier,
		notifications: notifications,
		fitService:    fitService,
	}
	c.handler = transport.NewHandler(fitService, c.Metrics, cfg)
	return c, nil
}

func newFrameStore(cfg *config.Config) (storage.FrameStore, error) {
	switch cfg.FrameSource {
	case config.FrameSourceHTTP:
		return storage.NewHTTPFrameStore(cfg.FrameBaseURL, cfg.FrameFetchTimeout), nil
	case config.FrameSourceAzure:
		return storage.NewAzureFrameStore(cfg.AzureStorageAccount, cfg.AzureStorageKey, cfg.AzureStorageContainer)
	case config.FrameSourceMemory, "":
		return storage.NewMemoryFrameStore(), nil
	default:
		return nil, fmt.Errorf("unknown frame source %q", cfg.FrameSource)
	}
}

func loadDefaults(cfg *config.Config) (map[string]models.FitConfig, error) {
	if cfg.FitConfigPath == "" {
		return calibration.Defaults(), nil
	}
	defaults, err := calibration.LoadConfigs(cfg.FitConfigPath)
	if err != nil {
		return nil, fmt.Errorf("failed to load fit configs: %w", err)
	}
	return defaults, nil
}

// Metrics merges fit, pool and cache counters for /metrics
func (c *Container) Metrics() map[string]interface{} {
	m := c.metrics.GetMetrics()
	m["worker_pool"] = c.pool.GetStats()
	m["frame_cache"] = c.frameStore.Stats()
	m["notifications_dropped"] = c.notifier.Dropped()
	return m
}

// Handler returns the HTTP handler
func (c *Container) Handler() http.Handler {
	return c.handler
}

func (c *Container) Config() *config.Config {
	return c.config
}

func (c *Container) FitService() service.FitService {
	return c.fitService
}

func (c *Container) Shots() repository.ShotRepository {
	return c.shots
}

// Notifications delivers results_available events to their single consumer
func (c *Container) Notifications() <-chan observer.FitEvent {
	return c.notifications
}

// Close stops the fit workers. Queued fits still finish.
func (c *Container) Close() {
	c.pool.Close()
}
