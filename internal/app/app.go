// Package app assembles the post store, search client, optional event
// publisher and ingestion pipeline from configuration. The web server and
// the CLI both start from here.
package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/postvault/postvault/internal/ingestion"
	"github.com/postvault/postvault/internal/ingestion/pipeline"
	"github.com/postvault/postvault/internal/ingestion/publisher"
	"github.com/postvault/postvault/internal/ingestion/validator"
	"github.com/postvault/postvault/internal/searchapi"
	"github.com/postvault/postvault/internal/store"
	"github.com/postvault/postvault/internal/store/redisstore"
	"github.com/postvault/postvault/pkg/config"
	"github.com/postvault/postvault/pkg/health"
	"github.com/postvault/postvault/pkg/kafka"
	"github.com/postvault/postvault/pkg/logger"
	"github.com/postvault/postvault/pkg/metrics"
	"github.com/postvault/postvault/pkg/postgres"
	"github.com/postvault/postvault/pkg/redis"
	"github.com/postvault/postvault/pkg/resilience"
	"github.com/postvault/postvault/pkg/sqlite"
)

// App holds the wired components. Close releases them in reverse order of
// creation.
type App struct {
	Config   *config.Config
	Metrics  *metrics.Metrics
	Store    ingestion.PostStore
	Search   *searchapi.Client
	Pipeline *pipeline.Pipeline
	Health   *health.Checker

	closers []func() error
	logger  *slog.Logger
}

// New builds an App from cfg and registers its collectors with reg.
func New(ctx context.Context, cfg *config.Config, reg prometheus.Registerer) (*App, error) {
	a := &App{
		Config:  cfg,
		Metrics: metrics.New(reg),
		logger:  logger.WithComponent("app"),
	}

	s, err := a.openStore(ctx)
	if err != nil {
		a.Close()
		return nil, err
	}
	a.Store = s

	var notifier ingestion.Notifier
	if cfg.Kafka.Enabled {
		producer := kafka.NewProducer(cfg.Kafka, cfg.Kafka.Topics.PostIngested)
		a.closers = append(a.closers, producer.Close)
		notifier = publisher.New(producer)
		a.logger.Info("kafka publisher enabled", "topic", cfg.Kafka.Topics.PostIngested, "brokers", cfg.Kafka.Brokers)
	}

	a.Search = searchapi.New(cfg.Search, a.Metrics)
	a.Pipeline = pipeline.New(a.Search, a.Store, notifier, a.Metrics, validator.Bounds{
		Min: cfg.Search.MinResults,
		Max: cfg.Search.MaxResults,
	})

	a.Health = health.NewChecker(3 * time.Second)
	a.Health.Register("store", a.Store.Ping)
	a.Health.RegisterOptional("search-api", func(context.Context) error {
		if st := a.Search.BreakerState(); st == resilience.StateOpen {
			return fmt.Errorf("circuit %s", st)
		}
		return nil
	})
	return a, nil
}

func (a *App) openStore(ctx context.Context) (ingestion.PostStore, error) {
	cfg := a.Config
	switch cfg.Store.Driver {
	case config.DriverSQLite:
		client, err := sqlite.New(cfg.SQLite)
		if err != nil {
			return nil, fmt.Errorf("opening sqlite: %w", err)
		}
		a.closers = append(a.closers, client.Close)
		a.logger.Info("using sqlite post store", "path", client.Path())
		return store.NewSQLite(ctx, client)
	case config.DriverPostgres:
		client, err := postgres.New(ctx, cfg.Postgres)
		if err != nil {
			return nil, fmt.Errorf("connecting to postgres: %w", err)
		}
		a.closers = append(a.closers, client.Close)
		a.logger.Info("using postgres post store", "host", cfg.Postgres.Host, "database", cfg.Postgres.Database)
		return store.NewPostgres(ctx, client)
	case config.DriverRedis:
		client, err := redis.NewClient(cfg.Redis)
		if err != nil {
			return nil, fmt.Errorf("connecting to redis: %w", err)
		}
		a.closers = append(a.closers, client.Close)
		a.logger.Info("using redis post store", "addr", cfg.Redis.Addr, "prefix", cfg.Redis.KeyPrefix)
		return redisstore.New(client, cfg.Redis.KeyPrefix), nil
	default:
		return nil, fmt.Errorf("unknown store driver %q", cfg.Store.Driver)
	}
}

// Ingest runs one pipeline call. It exists so callers need only the App.
func (a *App) Ingest(ctx context.Context, req ingestion.QueryRequest) (ingestion.IngestResult, error) {
	return a.Pipeline.Ingest(ctx, req)
}

// Close releases every opened resource and joins their errors.
func (a *App) Close() error {
	var errs []error
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](); err != nil {
			errs = append(errs, err)
		}
	}
	a.closers = nil
	return errors.Join(errs...)
}
