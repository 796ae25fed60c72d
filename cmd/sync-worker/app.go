package main

import (
	"context"
	"fmt"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/BearBump/ShipSync/config"
	"github.com/BearBump/ShipSync/internal/broker/kafka"
	"github.com/BearBump/ShipSync/internal/cache/rediscache"
	"github.com/BearBump/ShipSync/internal/integrations/supplier"
	"github.com/BearBump/ShipSync/internal/integrations/supplier/carrierxml"
	"github.com/BearBump/ShipSync/internal/integrations/supplier/fake"
	"github.com/BearBump/ShipSync/internal/metrics"
	"github.com/BearBump/ShipSync/internal/services/refresher"
	"github.com/BearBump/ShipSync/internal/storage/pgshipping"
)

type workerFactories struct {
	newStorage       func(cfg *config.Config) (repo refresher.Repository, closeFn func(), err error)
	newProducer      func(cfg *config.Config) refresher.Producer
	newRateLimiter   func(cfg *config.Config) refresher.RateLimiter
	newCarrierClient func(cfg *config.Config) supplier.TrackingClient
}

func defaultWorkerFactories() workerFactories {
	return workerFactories{
		newStorage: func(cfg *config.Config) (refresher.Repository, func(), error) {
			sslMode := cfg.Database.SSLMode
			if sslMode == "" {
				sslMode = "disable"
			}
			connString := fmt.Sprintf("postgres://%s:%s@%s:%d/%s?sslmode=%s",
				cfg.Database.Username, cfg.Database.Password, cfg.Database.Host, cfg.Database.Port, cfg.Database.DBName, sslMode)
			st, err := pgshipping.New(connString)
			if err != nil {
				return nil, nil, err
			}
			return st, st.Close, nil
		},
		newProducer: func(cfg *config.Config) refresher.Producer {
			brokers := []string{fmt.Sprintf("%s:%d", cfg.Kafka.Host, cfg.Kafka.Port)}
			return kafka.NewProducer(brokers)
		},
		newRateLimiter: func(cfg *config.Config) refresher.RateLimiter {
			redisAddr := fmt.Sprintf("%s:%d", cfg.Redis.Host, cfg.Redis.Port)
			return rediscache.NewRateLimiter(redisAddr)
		},
		newCarrierClient: func(cfg *config.Config) supplier.TrackingClient {
			// Без base_url — локальный fake, удобно для демо без перевозчика.
			if cfg.ShipSync.CarrierBaseURL == "" {
				return fake.NewCarrier()
			}
			return carrierxml.New(cfg.ShipSync.CarrierBaseURL, cfg.ShipSync.CarrierAPIKey)
		},
	}
}

func plannerConfigFrom(cfg *config.Config) refresher.PlannerConfig {
	return refresher.PlannerConfig{
		InTransitMinDelay: time.Duration(cfg.ShipSync.WorkerNextCheckInTransitMinSeconds) * time.Second,
		InTransitMaxDelay: time.Duration(cfg.ShipSync.WorkerNextCheckInTransitMaxSeconds) * time.Second,
		UnknownDelay:      time.Duration(cfg.ShipSync.WorkerNextCheckUnknownSeconds) * time.Second,
		Backoff1:          time.Duration(cfg.ShipSync.WorkerBackoff1Seconds) * time.Second,
		Backoff2:          time.Duration(cfg.ShipSync.WorkerBackoff2Seconds) * time.Second,
		Backoff3:          time.Duration(cfg.ShipSync.WorkerBackoff3Seconds) * time.Second,
		Backoff4:          time.Duration(cfg.ShipSync.WorkerBackoff4Seconds) * time.Second,
	}
}

func RunSyncWorker(ctx context.Context, cfg *config.Config, f workerFactories, m *metrics.Metrics) error {
	topic := cfg.Kafka.TrackingFetchedTopicName
	if topic == "" {
		topic = "tracking.fetched"
	}

	pollInterval := time.Duration(cfg.ShipSync.WorkerPollIntervalSeconds) * time.Second
	if pollInterval <= 0 {
		pollInterval = 2 * time.Second
	}
	batchSize := cfg.ShipSync.WorkerBatchSize
	if batchSize <= 0 {
		batchSize = 100
	}
	concurrency := cfg.ShipSync.WorkerConcurrency
	if concurrency <= 0 {
		concurrency = 10
	}
	lease := time.Duration(cfg.ShipSync.WorkerLeaseSeconds) * time.Second
	if lease <= 0 {
		lease = 120 * time.Second
	}
	rlPerMin := int64(cfg.ShipSync.WorkerRateLimitPerMinute)
	if rlPerMin <= 0 {
		rlPerMin = 120
	}

	repo, closeFn, err := f.newStorage(cfg)
	if err != nil {
		return err
	}
	if closeFn != nil {
		defer closeFn()
	}

	producer := f.newProducer(cfg)
	rl := f.newRateLimiter(cfg)
	carrierClient := f.newCarrierClient(cfg)

	r := refresher.New(repo, carrierClient, producer, rl, topic).
		WithSettings(pollInterval, batchSize, concurrency, lease, rlPerMin).
		WithPlanner(plannerConfigFrom(cfg)).
		WithMetrics(m)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return r.Run(gctx)
	})
	g.Go(func() error {
		return runWorkerHTTPServer(gctx, workerHTTPOpts{
			httpAddr:    cfg.ShipSync.WorkerHTTPAddr,
			swaggerPath: swaggerPathFromEnv(),
			refresher:   r,
			cfg:         cfg,
		})
	})
	return g.Wait()
}
