package config

import (
	"fmt"
	"os"

	"github.com/pkg/errors"
	"go.yaml.in/yaml/v4"
)

type Config struct {
	Database    DatabaseConfig    `yaml:"database"`
	Kafka       KafkaConfig       `yaml:"kafka"`
	Redis       RedisConfig       `yaml:"redis"`
	FreightDesk FreightDeskConfig `yaml:"freightdesk"`
}

type DatabaseConfig struct {
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	Username string `yaml:"username"`
	Password string `yaml:"password"`
	DBName   string `yaml:"name"`
	SSLMode  string `yaml:"ssl_mode"`
}

// ConnString builds the pgx connection string; sslmode defaults to disable.
func (d DatabaseConfig) ConnString() string {
	sslMode := d.SSLMode
	if sslMode == "" {
		sslMode = "disable"
	}
	return fmt.Sprintf("postgres://%s:%s@%s:%d/%s?sslmode=%s",
		d.Username, d.Password, d.Host, d.Port, d.DBName, sslMode)
}

type KafkaConfig struct {
	Host                   string `yaml:"host"`
	Port                   int    `yaml:"port"`
	TripAuditTopicName     string `yaml:"trip_audit_topic_name"`
	WaybillStatusTopicName string `yaml:"waybill_status_topic_name"`
}

func (k KafkaConfig) Brokers() []string {
	return []string{fmt.Sprintf("%s:%d", k.Host, k.Port)}
}

type RedisConfig struct {
	Host string `yaml:"host"`
	Port int    `yaml:"port"`
}

func (r RedisConfig) Addr() string {
	return fmt.Sprintf("%s:%d", r.Host, r.Port)
}

type EmitterConfig struct {
	TaxID      string `yaml:"tax_id"`
	Name       string `yaml:"name"`
	TaxRegime  string `yaml:"tax_regime"`
	PostalCode string `yaml:"postal_code"`
}

type FreightDeskConfig struct {
	HTTPAddr           string `yaml:"http_addr"`
	KafkaConsumerGroup string `yaml:"kafka_consumer_group"`

	// BillableServiceTypes get a pre-invoice. Default: ["paid-freight"].
	BillableServiceTypes []string `yaml:"billable_service_types"`
	TaxTransferRate      float64  `yaml:"tax_transfer_rate"`
	TaxWithholdingRate   float64  `yaml:"tax_withholding_rate"`
	Currency             string   `yaml:"currency"`

	// ClassificationRulesPath overrides the embedded cargo ruleset.
	ClassificationRulesPath string `yaml:"classification_rules_path"`

	DraftCacheTTLSeconds         int `yaml:"draft_cache_ttl_seconds"`
	IdempotencyTTLSeconds        int `yaml:"idempotency_ttl_seconds"`
	CreateTripRateLimitPerMinute int `yaml:"create_trip_rate_limit_per_minute"`

	// Emitter is the fiscal identity stamped on pre-invoices and waybills.
	Emitter EmitterConfig `yaml:"emitter"`

	NotifierWebhookURL     string `yaml:"notifier_webhook_url"`
	NotifierWebhookSecret  string `yaml:"notifier_webhook_secret"`
	NotifierTimeoutSeconds int    `yaml:"notifier_timeout_seconds"`

	WorkerHTTPAddr            string `yaml:"worker_http_addr"`
	WorkerPollIntervalSeconds int    `yaml:"worker_poll_interval_seconds"`
	WorkerBatchSize           int    `yaml:"worker_batch_size"`
	WorkerConcurrency         int    `yaml:"worker_concurrency"`
	WorkerLeaseSeconds        int    `yaml:"worker_lease_seconds"`
	WorkerNotifyPerMinute     int    `yaml:"worker_notify_per_minute"`

	// Relay retry schedule (optional). Defaults: 5s / 30s / 2m / 10m, no jitter.
	WorkerBackoff1Seconds  int `yaml:"worker_backoff_1_seconds"`
	WorkerBackoff2Seconds  int `yaml:"worker_backoff_2_seconds"`
	WorkerBackoff3Seconds  int `yaml:"worker_backoff_3_seconds"`
	WorkerBackoff4Seconds  int `yaml:"worker_backoff_4_seconds"`
	WorkerMaxJitterSeconds int `yaml:"worker_max_jitter_seconds"`
}

func LoadConfig(filename string) (*Config, error) {
	data, err := os.ReadFile(filename)
	if err != nil {
		return nil, errors.Wrap(err, "failed to read config file")
	}

	var config Config
	if err := yaml.Unmarshal(data, &config); err != nil {
		return nil, errors.Wrap(err, "failed to unmarshal YAML")
	}

	return &config, nil
}
