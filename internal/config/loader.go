package config

import (
	"fmt"
	"strings"

	"github.com/spf13/viper"
)

// LoadConfig reads configFile, if given, over the built-in defaults and then
// applies environment overrides.
func LoadConfig(configFile string) (*Config, error) {
	viper.Reset()

	viper.SetConfigType("yaml")
	setDefaults()

	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	viper.AutomaticEnv()

	bindEnvVariables()

	if configFile != "" {
		viper.SetConfigFile(configFile)
		if err := viper.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("failed to read config file %s: %w", configFile, err)
		}
	}

	var cfg Config
	if err := viper.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	if err := applyEnvOverrides(&cfg); err != nil {
		return nil, fmt.Errorf("failed to apply environment overrides: %w", err)
	}

	if err := ValidateStatic(&cfg); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}

	return &cfg, nil
}

func setDefaults() {
	viper.SetDefault("server.port", 8080)
	viper.SetDefault("server.read_timeout_seconds", "30s")
	viper.SetDefault("server.write_timeout_seconds", "5m")

	viper.SetDefault("syslog.bind", "")
	viper.SetDefault("syslog.ports", []int{514})

	viper.SetDefault("index.path", "index/records.db")

	viper.SetDefault("bulk.work_dir", "work")
	viper.SetDefault("bulk.chunk_size", 1000)
	viper.SetDefault("bulk.progress_interval", "1s")

	viper.SetDefault("database.postgres.port", 5432)
	viper.SetDefault("database.postgres.sslmode", "disable")
	viper.SetDefault("database.postgres.table", "syslog")
	viper.SetDefault("database.redis.port", 6379)
	viper.SetDefault("database.redis.ttl_seconds", 86400)
	viper.SetDefault("database.redis.channel", "logsift:jobs")
	viper.SetDefault("database.redis.key_prefix", "logsift:job:")

	viper.SetDefault("broker.kafka.group_id", "logsift")
	viper.SetDefault("broker.kafka.output_topic", "syslog_records")
	viper.SetDefault("broker.kafka.retry.max_attempts", 3)
	viper.SetDefault("broker.kafka.retry.initial_interval", "200ms")
	viper.SetDefault("broker.kafka.retry.max_interval", "5s")
	viper.SetDefault("broker.kafka.retry.multiplier", 2.0)

	viper.SetDefault("logging.level", "info")
	viper.SetDefault("logging.format", "json")

	viper.SetDefault("circuit_breaker.enabled", true)
	viper.SetDefault("circuit_breaker.max_requests", 3)
	viper.SetDefault("circuit_breaker.interval", "60s")
	viper.SetDefault("circuit_breaker.timeout", "30s")
	viper.SetDefault("circuit_breaker.failure_ratio", 0.6)
	viper.SetDefault("circuit_breaker.min_requests", 3)

	viper.SetDefault("rate_limit.enabled", true)
	viper.SetDefault("rate_limit.rps", 20.0)
	viper.SetDefault("rate_limit.burst", 40)
	viper.SetDefault("rate_limit.cleanup_interval", 60)
	viper.SetDefault("rate_limit.max_age", 300)
}

func bindEnvVariables() {
	viper.BindEnv("server.port", "WEB_PORT", "SERVER_PORT")
	viper.BindEnv("server.timezone", "SYSTEM_TIMEZONE", "SERVER_TIMEZONE")
	viper.BindEnv("server.read_timeout_seconds", "SERVER_READ_TIMEOUT_SECONDS")
	viper.BindEnv("server.write_timeout_seconds", "SERVER_WRITE_TIMEOUT_SECONDS")

	viper.BindEnv("syslog.bind", "SYSLOG_BIND")
	viper.BindEnv("syslog.timezone", "SYSLOG_TIMEZONE")
	viper.BindEnv("syslog.listener", "SYSLOG_LISTENER")

	viper.BindEnv("index.path", "INDEX_PATH")

	viper.BindEnv("bulk.work_dir", "BULK_WORK_DIR")
	viper.BindEnv("bulk.chunk_size", "BULK_CHUNK_SIZE")

	viper.BindEnv("broker.type", "BROKER_TYPE")
	viper.BindEnv("broker.kafka.brokers", "BROKER_KAFKA_BROKERS")
	viper.BindEnv("broker.kafka.group_id", "BROKER_KAFKA_GROUP_ID")
	viper.BindEnv("broker.kafka.input_topic", "BROKER_KAFKA_INPUT_TOPIC")
	viper.BindEnv("broker.kafka.output_topic", "BROKER_KAFKA_OUTPUT_TOPIC")

	viper.BindEnv("database.postgres.enabled", "DATABASE_POSTGRES_ENABLED")
	viper.BindEnv("database.postgres.host", "DATABASE_POSTGRES_HOST")
	viper.BindEnv("database.postgres.port", "DATABASE_POSTGRES_PORT")
	viper.BindEnv("database.postgres.user", "DATABASE_POSTGRES_USER")
	viper.BindEnv("database.postgres.password", "DATABASE_POSTGRES_PASSWORD")
	viper.BindEnv("database.postgres.dbname", "DATABASE_POSTGRES_DBNAME")
	viper.BindEnv("database.postgres.sslmode", "DATABASE_POSTGRES_SSLMODE")

	viper.BindEnv("database.redis.enabled", "DATABASE_REDIS_ENABLED")
	viper.BindEnv("database.redis.host", "DATABASE_REDIS_HOST")
	viper.BindEnv("database.redis.port", "DATABASE_REDIS_PORT")
	viper.BindEnv("database.redis.password", "DATABASE_REDIS_PASSWORD")
	viper.BindEnv("database.redis.db", "DATABASE_REDIS_DB")

	viper.BindEnv("logging.level", "LOGGING_LEVEL")
	viper.BindEnv("logging.format", "LOGGING_FORMAT")
}

func applyEnvOverrides(cfg *Config) error {
	if brokersEnv := viper.GetString("BROKER_KAFKA_BROKERS"); brokersEnv != "" {
		cfg.Broker.Kafka.Brokers = splitList(brokersEnv)
	}

	if portsEnv := viper.GetString("SYSLOG_PORT"); portsEnv != "" {
		var ports []int
		for _, p := range splitList(portsEnv) {
			var port int
			if _, err := fmt.Sscanf(p, "%d", &port); err != nil {
				return fmt.Errorf("SYSLOG_PORT: invalid port %q", p)
			}
			ports = append(ports, port)
		}
		cfg.Syslog.Ports = ports
	}

	return nil
}

func splitList(s string) []string {
	parts := strings.Split(s, ",")
	out := parts[:0]
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}
