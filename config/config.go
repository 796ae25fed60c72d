package config

import (
	"fmt"
	"os"

	"go.yaml.in/yaml/v4"
)

type Config struct {
	Database DatabaseConfig `yaml:"database"`
	Kafka    KafkaConfig    `yaml:"kafka"`
	Redis    RedisConfig    `yaml:"redis"`
	ShipSync ShipSyncConfig `yaml:"shipsync"`
}

type DatabaseConfig struct {
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	Username string `yaml:"username"`
	Password string `yaml:"password"`
	DBName   string `yaml:"name"`
	SSLMode  string `yaml:"ssl_mode"`
}

type KafkaConfig struct {
	Host                     string `yaml:"host"`
	Port                     int    `yaml:"port"`
	TrackingFetchedTopicName string `yaml:"tracking_fetched_topic_name"`
	PackageSyncedTopicName   string `yaml:"package_synced_topic_name"`
}

type RedisConfig struct {
	Host string `yaml:"host"`
	Port int    `yaml:"port"`
}

// SupplierConfig — один внешний источник отгрузок (SOAP/XML шлюз).
type SupplierConfig struct {
	Name      string `yaml:"name"`
	Endpoint  string `yaml:"endpoint"`
	NetworkID string `yaml:"network_id"`
	Username  string `yaml:"username"`
	Password  string `yaml:"password"`
}

type ShipSyncConfig struct {
	HTTPAddr           string `yaml:"http_addr"`
	KafkaConsumerGroup string `yaml:"kafka_consumer_group"`

	SessionCacheTTLSeconds int `yaml:"session_cache_ttl_seconds"`

	Suppliers []SupplierConfig `yaml:"suppliers"`

	// Источник трекинга перевозчика (REST+XML). Пустой base_url => fake.
	CarrierBaseURL string `yaml:"carrier_base_url"`
	CarrierAPIKey  string `yaml:"carrier_api_key"`

	// Пороги похожести для сопоставления получателя с клиентом.
	// Эвристика из исходной системы; настраиваемая, не "чинить" молча.
	MatchingNameThreshold    float64 `yaml:"matching_name_threshold"`
	MatchingAddressThreshold float64 `yaml:"matching_address_threshold"`

	ShipmentTimeoutSeconds int `yaml:"shipment_timeout_seconds"`

	WorkerHTTPAddr string `yaml:"worker_http_addr"`

	WorkerPollIntervalSeconds int `yaml:"worker_poll_interval_seconds"`
	WorkerBatchSize           int `yaml:"worker_batch_size"`
	WorkerConcurrency         int `yaml:"worker_concurrency"`
	WorkerLeaseSeconds        int `yaml:"worker_lease_seconds"`
	WorkerRateLimitPerMinute  int `yaml:"worker_rate_limit_per_minute"`

	// Worker scheduling (optional). If not set, defaults are "prod-like":
	// IN_TRANSIT: 30..120 minutes, UNKNOWN: 90 minutes, backoff: 5/15/30/60 minutes.
	WorkerNextCheckInTransitMinSeconds int `yaml:"worker_next_check_in_transit_min_seconds"`
	WorkerNextCheckInTransitMaxSeconds int `yaml:"worker_next_check_in_transit_max_seconds"`
	WorkerNextCheckUnknownSeconds      int `yaml:"worker_next_check_unknown_seconds"`
	WorkerBackoff1Seconds              int `yaml:"worker_backoff_1_seconds"`
	WorkerBackoff2Seconds              int `yaml:"worker_backoff_2_seconds"`
	WorkerBackoff3Seconds              int `yaml:"worker_backoff_3_seconds"`
	WorkerBackoff4Seconds              int `yaml:"worker_backoff_4_seconds"`
}

func LoadConfig(filename string) (*Config, error) {
	data, err := os.ReadFile(filename)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	var config Config
	err = yaml.Unmarshal(data, &config)
	if err != nil {
		return nil, fmt.Errorf("failed to unmarshal YAML: %w", err)
	}

	return &config, nil
}
