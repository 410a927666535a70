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
  name: "db"
kafka:
  host: "localhost"
  port: 9092
  allocation_events_topic_name: "trackpool.allocation"
redis:
  host: "localhost"
  port: 6379
auth:
  jwt_secret: "s3cr3t"
trackpool:
  http_addr: ":8080"
  log_level: "debug"
  stats_cache_ttl_seconds: 30
  label_rate_limit_per_minute: 20
  max_upload_bytes: 1048576
  worker_http_addr: ":8082"
  worker_reconcile_interval_seconds: 60
`), 0o600))

	cfg, err := LoadConfig(p)
	require.NoError(t, err)
	require.Equal(t, "u", cfg.Database.Username)
	require.Equal(t, "trackpool.allocation", cfg.Kafka.AllocationEventsTopicName)
	require.Equal(t, 6379, cfg.Redis.Port)
	require.Equal(t, "s3cr3t", cfg.Auth.JWTSecret)
	require.Equal(t, ":8080", cfg.TrackPool.HTTPAddr)
	require.Equal(t, 30, cfg.TrackPool.StatsCacheTTLSeconds)
	require.Equal(t, int64(1048576), cfg.TrackPool.MaxUploadBytes)
	require.Equal(t, 60, cfg.TrackPool.WorkerReconcileIntervalSeconds)
}

func TestLoadConfig_Errors(t *testing.T) {
	_, err := LoadConfig(filepath.Join(t.TempDir(), "missing.yaml"))
	require.Error(t, err)

	p := filepath.Join(t.TempDir(), "bad.yaml")
	require.NoError(t, os.WriteFile(p, []byte("database: [oops"), 0o600))
	_, err = LoadConfig(p)
	require.Error(t, err)
}

func TestConfigHelpers(t *testing.T) {
	db := DatabaseConfig{Host: "h", Port: 5432, Username: "u", Password: "p", DBName: "d"}
	require.Equal(t, "postgres://u:p@h:5432/d?sslmode=disable", db.ConnString())

	db.SSLMode = "require"
	require.Equal(t, "postgres://u:p@h:5432/d?sslmode=require", db.ConnString())

	require.Equal(t, []string{"k:9092"}, KafkaConfig{Host: "k", Port: 9092}.Brokers())
	require.Equal(t, "r:6379", RedisConfig{Host: "r", Port: 6379}.Addr())
}
