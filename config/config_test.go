package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestLoadConfig(t *testing.T) {
	dir := t.TempDir()
	p := filepath.Join(dir, "cfg.yaml")
	require.NoError(t, os.WriteFile(p, []byte(`
database:
  host: "localhost"
  port: 5432
  username: "u"
  password: "p"
  name: "freightdesk"
kafka:
  host: "localhost"
  port: 9092
  trip_audit_topic_name: "trip.audit"
  waybill_status_topic_name: "waybill.status"
redis:
  host: "localhost"
  port: 6379
freightdesk:
  http_addr: ":8080"
  kafka_consumer_group: "trip-api"
  billable_service_types: ["paid-freight", "dedicated"]
  tax_transfer_rate: 0.16
  draft_cache_ttl_seconds: 600
  emitter:
    tax_id: "FDE010101AAA"
    name: "Fletes del Este"
  worker_backoff_1_seconds: 10
`), 0o600))

	cfg, err := LoadConfig(p)
	require.NoError(t, err)
	require.Equal(t, "u", cfg.Database.Username)
	require.Equal(t, "postgres://u:p@localhost:5432/freightdesk?sslmode=disable", cfg.Database.ConnString())
	require.Equal(t, "waybill.status", cfg.Kafka.WaybillStatusTopicName)
	require.Equal(t, []string{"localhost:9092"}, cfg.Kafka.Brokers())
	require.Equal(t, "localhost:6379", cfg.Redis.Addr())
	require.Equal(t, ":8080", cfg.FreightDesk.HTTPAddr)
	require.Equal(t, []string{"paid-freight", "dedicated"}, cfg.FreightDesk.BillableServiceTypes)
	require.InDelta(t, 0.16, cfg.FreightDesk.TaxTransferRate, 1e-9)
	require.Equal(t, "FDE010101AAA", cfg.FreightDesk.Emitter.TaxID)
	require.Equal(t, 10, cfg.FreightDesk.WorkerBackoff1Seconds)
}

func TestLoadConfig_MissingFile(t *testing.T) {
	_, err := LoadConfig(filepath.Join(t.TempDir(), "nope.yaml"))
	require.Error(t, err)
	require.Contains(t, err.Error(), "failed to read config file")
}
