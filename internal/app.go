// Package internal contains core application functionality
package internal

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/redis/go-redis/v9"

	"viewmill/internal/aggregates"
	"viewmill/internal/clock"
	"viewmill/internal/config"
	"viewmill/internal/database"
	"viewmill/internal/http"
	"viewmill/internal/jobs"
	"viewmill/internal/logging"
	"viewmill/internal/metrics"
	"viewmill/internal/pipeline"
	"viewmill/internal/pkg/countries"
	"viewmill/internal/pkg/geoip"
	"viewmill/internal/pkg/useragent"
	"viewmill/internal/queue"
	"viewmill/internal/sessions"
	"viewmill/internal/visitors"
)

// Application owns every long-lived component of the worker and their
// shutdown order.
type Application struct {
	Config    *config.Config
	Logger    *slog.Logger
	DBManager *database.Manager

	redis     *redis.Client
	geo       *geoip.Resolver
	consumer  *queue.Consumer
	processor *pipeline.Processor
	scheduler *jobs.Scheduler
	admin     *http.Server

	runCancel context.CancelFunc
	consumed  chan error
}

// NewApp builds the application from environment configuration. Nothing is
// started; callers run migrations and then StartAsync.
func NewApp() (*Application, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, err
	}
	return NewAppWithConfig(cfg)
}

// NewAppWithConfig wires every component against the given configuration.
func NewAppWithConfig(cfg *config.Config) (*Application, error) {
	logger := logging.New(cfg)

	dbManager := database.NewManager(database.Config{
		DSN:          cfg.DatabaseURL,
		MaxOpenConns: cfg.DatabaseMaxOpenConns,
		MaxIdleConns: cfg.DatabaseMaxIdleConns,
	}, logger)
	db, err := dbManager.Connect()
	if err != nil {
		return nil, fmt.Errorf("failed to initialize database: %w", err)
	}

	redisClient := redis.NewClient(&redis.Options{
		Addr:     cfg.RedisAddr,
		Password: cfg.RedisPassword,
		DB:       cfg.RedisDB,
	})

	registry := prometheus.NewRegistry()
	registry.MustRegister(collectors.NewGoCollector())
	sink := metrics.NewPrometheusSink(registry)

	classifier, err := useragent.NewClassifier()
	if err != nil {
		return nil, fmt.Errorf("failed to build user agent classifier: %w", err)
	}

	geo, err := geoip.Open(cfg.GeoDBPath, logger)
	if err != nil {
		return nil, fmt.Errorf("failed to open geo database: %w", err)
	}

	tracker := visitors.NewRedisTracker(redisClient, logger, visitors.DefaultTimeout)
	aggStore := aggregates.NewStore(db, logger)
	sessionStore := sessions.NewStore(db, logger,
		time.Duration(cfg.SessionIdleTimeoutSeconds)*time.Second)

	pipelineCfg := pipeline.Config{
		Tracker:    tracker,
		Aggregates: aggStore,
		Sessions:   sessionStore,
		Classifier: classifier,
		Countries:  countries.NewNormalizer(),
		Clock:      clock.System{},
		Metrics:    sink,
		Logger:     logger,
	}
	if geo != nil {
		pipelineCfg.Geo = geo
	}
	processor := pipeline.NewProcessor(pipelineCfg)

	consumer, err := queue.NewConsumer(queue.Config{
		URL:      cfg.QueueURL,
		Queue:    cfg.QueueName,
		Prefetch: cfg.QueuePrefetch,
		Metrics:  sink,
		Logger:   logger,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to build consumer: %w", err)
	}

	scheduler := jobs.NewScheduler(
		time.Duration(cfg.JobIntervalSeconds)*time.Second,
		logger,
		jobs.NewSessionSweeper(sessionStore, sink, logger),
	)

	admin := http.NewServer(cfg.AdminPort, registry, map[string]http.Pinger{
		"database": http.PingerFunc(dbManager.Ping),
		"redis": http.PingerFunc(func(ctx context.Context) error {
			return redisClient.Ping(ctx).Err()
		}),
		"broker": http.PingerFunc(func(ctx context.Context) error {
			return consumer.Ping()
		}),
	}, logger)

	return &Application{
		Config:    cfg,
		Logger:    logger,
		DBManager: dbManager,
		redis:     redisClient,
		geo:       geo,
		consumer:  consumer,
		processor: processor,
		scheduler: scheduler,
		admin:     admin,
	}, nil
}

// StartAsync connects to the broker and launches the consumer loop, the
// background jobs, and the admin server.
func (a *Application) StartAsync() error {
	if err := a.consumer.Connect(); err != nil {
		return fmt.Errorf("failed to connect consumer: %w", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	a.runCancel = cancel
	a.consumed = make(chan error, 1)
	go func() {
		a.consumed <- a.consumer.Run(ctx, a.processor)
	}()

	a.scheduler.Start()

	go func() {
		if err := a.admin.Listen(); err != nil {
			a.Logger.Error("Admin server stopped", slog.Any("error", err))
		}
	}()

	a.Logger.Info("Worker started",
		slog.String("queue", a.Config.QueueName),
		slog.String("environment", a.Config.Environment))
	return nil
}

// Shutdown stops intake first, drains in-flight events, then tears down the
// remaining components.
func (a *Application) Shutdown(ctx context.Context) error {
	a.Logger.Info("Shutting down worker...")

	if a.runCancel != nil {
		a.runCancel()
		select {
		case <-a.consumed:
		case <-ctx.Done():
			a.Logger.Warn("Shutdown deadline reached before consumer drained")
		}
	}

	a.scheduler.Stop()

	if err := a.admin.Shutdown(5 * time.Second); err != nil {
		a.Logger.Error("Admin server shutdown failed", slog.Any("error", err))
	}

	var first error
	if err := a.consumer.Close(); err != nil && first == nil {
		first = err
	}
	if a.geo != nil {
		if err := a.geo.Close(); err != nil && first == nil {
			first = err
		}
	}
	if err := a.redis.Close(); err != nil && first == nil {
		first = err
	}
	if err := a.DBManager.Close(); err != nil && first == nil {
		first = err
	}

	a.Logger.Info("Worker shutdown complete")
	return first
}
