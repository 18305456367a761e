package database

import (
	"context"
	"fmt"
	"time"

	"agranova/config"
	"agranova/metrics"

	"github.com/cenkalti/backoff/v4"
	"github.com/sirupsen/logrus"
)

// Retention applied when running on the demo-mode memory fallback
const (
	MemoryLogRetention     = 100
	MemoryReadingRetention = 10000
)

// Open connects the configured backend and wraps it in a Gateway. When the
// durable backend cannot be reached after the configured retries, it logs a
// warning and falls back to an in-memory store (demo mode).
func Open(ctx context.Context, cfg *config.Config, log logrus.FieldLogger, m *metrics.Metrics) *Gateway {
	dbCfg := cfg.Database
	opts := GatewayOptions{
		Retention: Retention{
			Logs:     dbCfg.LogRetention,
			Readings: dbCfg.ReadingRetention,
		},
		Timeout:         dbCfg.OpTimeout,
		BreakerFailures: dbCfg.BreakerFailures,
		BreakerOpenFor:  dbCfg.BreakerOpenFor,
	}

	if dbCfg.Type == "memory" {
		log.Info("using in-memory store")
		return NewGateway(NewMemoryStore(), opts, log, m)
	}

	store, err := connectWithRetry(ctx, cfg, log)
	if err != nil {
		log.WithError(err).WithField("backend", dbCfg.Type).
			Warn("durable store unreachable, running in demo mode with in-memory storage")
		opts.Degraded = true
		opts.Retention = Retention{Logs: MemoryLogRetention, Readings: MemoryReadingRetention}
		return NewGateway(NewMemoryStore(), opts, log, m)
	}

	log.WithField("backend", store.Type()).Info("store connected")
	return NewGateway(store, opts, log, m)
}

func connectWithRetry(ctx context.Context, cfg *config.Config, log logrus.FieldLogger) (Store, error) {
	retries := cfg.Database.ConnectRetries
	if retries < 1 {
		retries = 1
	}

	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = 500 * time.Millisecond
	bo.MaxElapsedTime = 30 * time.Second

	var store Store
	attempt := 0
	err := backoff.Retry(func() error {
		attempt++
		s, err := connect(ctx, cfg)
		if err != nil {
			log.WithError(err).WithField("attempt", attempt).Warn("store connection failed")
			return err
		}
		store = s
		return nil
	}, backoff.WithContext(backoff.WithMaxRetries(bo, uint64(retries-1)), ctx))
	if err != nil {
		return nil, fmt.Errorf("could not connect %s store after %d attempts: %w", cfg.Database.Type, attempt, err)
	}
	return store, nil
}

func connect(ctx context.Context, cfg *config.Config) (Store, error) {
	switch cfg.Database.Type {
	case "mongo":
		return NewMongoStore(ctx, cfg.Database.MongoURI, cfg.Database.MongoDatabase, cfg.Database.ConnectTimeout)
	case "postgres":
		ctx, cancel := context.WithTimeout(ctx, cfg.Database.ConnectTimeout)
		defer cancel()
		return NewPostgresStore(ctx, cfg.GetPostgresURL())
	default:
		return nil, backoff.Permanent(fmt.Errorf("unsupported database type: %s", cfg.Database.Type))
	}
}
