package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o644))
	return path
}

func TestLoadDefaults(t *testing.T) {
	cfg, err := LoadConfig("")
	require.NoError(t, err)

	assert.Equal(t, 8080, cfg.Server.Port)
	assert.Equal(t, []int{514}, cfg.Syslog.Ports)
	assert.Equal(t, 1000, cfg.Bulk.ChunkSize)
	assert.Equal(t, time.Second, cfg.Bulk.ProgressInterval)
	assert.Equal(t, 30*time.Second, cfg.Server.ReadTimeoutSeconds)
	assert.Empty(t, cfg.Broker.Type)
	assert.False(t, cfg.Database.Postgres.Enabled)
}

func TestLoadFile(t *testing.T) {
	path := writeConfig(t, `
server:
  port: 9090
  timezone: "+09:00"
syslog:
  ports: [1514, 1515]
  timezone: "+09:00"
  timezones:
    "192_0_2_1": UTC
  listener: 'severity == "crit"'
index:
  path: /var/lib/logsift/records.db
bulk:
  chunk_size: 250
`)
	cfg, err := LoadConfig(path)
	require.NoError(t, err)

	assert.Equal(t, 9090, cfg.Server.Port)
	assert.Equal(t, []int{1514, 1515}, cfg.Syslog.Ports)
	assert.Equal(t, 250, cfg.Bulk.ChunkSize)
	assert.Equal(t, `severity == "crit"`, cfg.Syslog.Listener)

	_, offset := time.Date(2024, 1, 1, 0, 0, 0, 0, cfg.ServerZone()).Zone()
	assert.Equal(t, 9*60*60, offset)

	def, byAddr, err := cfg.SyslogZones()
	require.NoError(t, err)
	assert.Equal(t, "+09:00", def.String())
	assert.Equal(t, time.UTC, byAddr["192.0.2.1"])

	settings := cfg.Settings()
	assert.Equal(t, "1514,1515", settings["syslog.port"])
}

func TestEnvOverrides(t *testing.T) {
	t.Setenv("SYSLOG_PORT", "5514, 5515")
	t.Setenv("WEB_PORT", "8181")
	t.Setenv("BROKER_TYPE", "kafka")
	t.Setenv("BROKER_KAFKA_BROKERS", "k1:9092, k2:9092")

	cfg, err := LoadConfig("")
	require.NoError(t, err)
	assert.Equal(t, []int{5514, 5515}, cfg.Syslog.Ports)
	assert.Equal(t, 8181, cfg.Server.Port)
	assert.Equal(t, []string{"k1:9092", "k2:9092"}, cfg.Broker.Kafka.Brokers)
}

func TestValidateStatic(t *testing.T) {
	valid := func() *Config {
		return &Config{
			Server: ServerConfig{Port: 8080, ReadTimeoutSeconds: time.Second, WriteTimeoutSeconds: time.Second},
			Syslog: SyslogConfig{Ports: []int{514}},
			Index:  IndexConfig{Path: "records.db"},
			Bulk:   BulkConfig{WorkDir: "work", ChunkSize: 1000},
		}
	}

	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr string
	}{
		{name: "valid", mutate: func(*Config) {}},
		{name: "no syslog ports", mutate: func(c *Config) { c.Syslog.Ports = nil }, wantErr: "syslog.ports"},
		{name: "duplicate port", mutate: func(c *Config) { c.Syslog.Ports = []int{514, 514} }, wantErr: "listed twice"},
		{name: "bad zone", mutate: func(c *Config) { c.Syslog.Timezone = "Mars/Olympus" }, wantErr: "syslog.timezone"},
		{name: "zero chunk", mutate: func(c *Config) { c.Bulk.ChunkSize = 0 }, wantErr: "bulk.chunk_size"},
		{name: "unknown broker", mutate: func(c *Config) { c.Broker.Type = "rabbitmq" }, wantErr: "broker.type"},
		{name: "kafka without brokers", mutate: func(c *Config) { c.Broker.Type = "kafka" }, wantErr: "broker.kafka.brokers"},
		{
			name: "postgres without host",
			mutate: func(c *Config) {
				c.Database.Postgres = PostgresConfig{Enabled: true, Port: 5432, User: "u", DBName: "d", Table: "syslog"}
			},
			wantErr: "database.postgres.host",
		},
		{
			name:    "redis without channel",
			mutate:  func(c *Config) { c.Database.Redis = RedisConfig{Enabled: true, Host: "localhost", Port: 6379} },
			wantErr: "database.redis.channel",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := valid()
			tt.mutate(cfg)
			err := ValidateStatic(cfg)
			if tt.wantErr == "" {
				assert.NoError(t, err)
				return
			}
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}

func TestParseZone(t *testing.T) {
	loc, err := ParseZone("-05:30")
	require.NoError(t, err)
	_, offset := time.Now().In(loc).Zone()
	assert.Equal(t, -(5*60+30)*60, offset)

	_, err = ParseZone("nowhere")
	assert.Error(t, err)
}
