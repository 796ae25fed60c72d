package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/BearBump/ShipSync/config"
	"github.com/BearBump/ShipSync/internal/api/syncapi"
	"github.com/BearBump/ShipSync/internal/broker/kafka"
	"github.com/BearBump/ShipSync/internal/cache/rediscache"
	"github.com/BearBump/ShipSync/internal/integrations/supplier"
	"github.com/BearBump/ShipSync/internal/integrations/supplier/carrierxml"
	"github.com/BearBump/ShipSync/internal/integrations/supplier/fake"
	"github.com/BearBump/ShipSync/internal/integrations/supplier/magayasoap"
	"github.com/BearBump/ShipSync/internal/matching"
	"github.com/BearBump/ShipSync/internal/metrics"
	"github.com/BearBump/ShipSync/internal/services/reconcile"
	"github.com/BearBump/ShipSync/internal/services/sessions"
	"github.com/BearBump/ShipSync/internal/services/syncjob"
	"github.com/BearBump/ShipSync/internal/storage/pgshipping"
)

type syncAPIApp struct {
	ctx      context.Context
	cancel   context.CancelFunc
	opts     syncAPIOpts
	api      *syncapi.API
	applier  *reconcile.TrackingApplier
	consumer *kafka.Consumer
	closeDB  func()
}

func mustBootstrapSyncAPI() *syncAPIApp {
	cfgPath := os.Getenv("configPath")
	if cfgPath == "" {
		panic("configPath env var is required")
	}
	swaggerPath := os.Getenv("swaggerPath")
	if swaggerPath == "" {
		panic("swaggerPath env var is required")
	}

	cfg, err := config.LoadConfig(cfgPath)
	if err != nil {
		panic(fmt.Sprintf("ошибка парсинга конфига, %v", err))
	}

	httpAddr := cfg.ShipSync.HTTPAddr
	if httpAddr == "" {
		httpAddr = ":8080"
	}
	consumerGroup := cfg.ShipSync.KafkaConsumerGroup
	if consumerGroup == "" {
		consumerGroup = "sync-api"
	}
	topic := cfg.Kafka.TrackingFetchedTopicName
	if topic == "" {
		topic = "tracking.fetched"
	}
	syncedTopic := cfg.Kafka.PackageSyncedTopicName
	if syncedTopic == "" {
		syncedTopic = "package.synced"
	}
	cacheTTL := time.Duration(cfg.ShipSync.SessionCacheTTLSeconds) * time.Second
	if cacheTTL <= 0 {
		cacheTTL = 30 * time.Second
	}
	shipmentTimeout := time.Duration(cfg.ShipSync.ShipmentTimeoutSeconds) * time.Second
	if shipmentTimeout <= 0 {
		shipmentTimeout = 30 * time.Second
	}

	st := mustOpenPostgresWithRetry(postgresConnString(cfg), 60*time.Second)

	redisAddr := fmt.Sprintf("%s:%d", cfg.Redis.Host, cfg.Redis.Port)
	rc := rediscache.New(redisAddr)

	m := metrics.New()
	log := slog.Default()

	brokers := []string{fmt.Sprintf("%s:%d", cfg.Kafka.Host, cfg.Kafka.Port)}
	producer := kafka.NewProducer(brokers)
	consumer := kafka.NewConsumer(brokers, topic, consumerGroup)

	matcher := matching.New(matching.Config{
		NameThreshold:    cfg.ShipSync.MatchingNameThreshold,
		AddressThreshold: cfg.ShipSync.MatchingAddressThreshold,
	})
	engine := reconcile.New(st, matcher, producer, syncedTopic, m, log)
	applier := reconcile.NewTrackingApplier(st, m, log)
	tracker := sessions.New(st, rc, cacheTTL)

	runner := syncjob.New(st, supplierClients(cfg), carrierClient(cfg), engine, applier, tracker, shipmentTimeout, m, log)

	api := syncapi.New(runner, tracker, st)

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)

	return &syncAPIApp{
		ctx:    ctx,
		cancel: cancel,
		opts: syncAPIOpts{
			httpAddr:      httpAddr,
			swaggerPath:   swaggerPath,
			topic:         topic,
			consumerGroup: consumerGroup,
		},
		api:      api,
		applier:  applier,
		consumer: consumer,
		closeDB:  st.Close,
	}
}

// supplierClients собирает клиентов по конфигу; пустой endpoint означает
// локальный fake (демо без реального шлюза).
func supplierClients(cfg *config.Config) map[string]supplier.Client {
	out := make(map[string]supplier.Client, len(cfg.ShipSync.Suppliers))
	for _, s := range cfg.ShipSync.Suppliers {
		if s.Name == "" {
			continue
		}
		if s.Endpoint == "" {
			out[s.Name] = fake.NewSupplier(s.Name)
			continue
		}
		out[s.Name] = magayasoap.New(s.Endpoint, supplier.Credentials{
			NetworkID: s.NetworkID,
			Username:  s.Username,
			Password:  s.Password,
		})
	}
	return out
}

func carrierClient(cfg *config.Config) supplier.TrackingClient {
	if cfg.ShipSync.CarrierBaseURL == "" {
		return fake.NewCarrier()
	}
	return carrierxml.New(cfg.ShipSync.CarrierBaseURL, cfg.ShipSync.CarrierAPIKey)
}

func postgresConnString(cfg *config.Config) string {
	sslMode := cfg.Database.SSLMode
	if sslMode == "" {
		sslMode = "disable"
	}
	return fmt.Sprintf("postgres://%s:%s@%s:%d/%s?sslmode=%s",
		cfg.Database.Username, cfg.Database.Password, cfg.Database.Host, cfg.Database.Port, cfg.Database.DBName, sslMode)
}

func mustOpenPostgresWithRetry(connString string, wait time.Duration) *pgshipping.Storage {
	deadline := time.Now().Add(wait)
	var lastErr error
	for time.Now().Before(deadline) {
		st, err := pgshipping.New(connString)
		if err == nil {
			return st
		}
		lastErr = err
		time.Sleep(1 * time.Second)
	}
	panic(fmt.Sprintf("postgres is not ready after %s: %v", wait, lastErr))
}

func (a *syncAPIApp) Close() {
	if a.cancel != nil {
		a.cancel()
	}
	if a.consumer != nil {
		_ = a.consumer.Close()
	}
	if a.closeDB != nil {
		a.closeDB()
	}
}

func (a *syncAPIApp) Run() error {
	return runSyncAPI(a.ctx, a.opts, a.api, a.applier, a.consumer)
}
