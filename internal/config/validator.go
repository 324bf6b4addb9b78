package config

import (
	"fmt"
	"strings"
)

type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("validation error for field '%s': %s", e.Field, e.Message)
}

func ValidateStatic(cfg *Config) error {
	var errors []error

	if err := validateServer(cfg.Server); err != nil {
		errors = append(errors, err)
	}

	if err := validateSyslog(cfg.Syslog); err != nil {
		errors = append(errors, err)
	}

	if err := validateIndex(cfg.Index, cfg.Bulk); err != nil {
		errors = append(errors, err)
	}

	if err := validateBroker(cfg.Broker); err != nil {
		errors = append(errors, err)
	}

	if err := validateDatabase(cfg.Database); err != nil {
		errors = append(errors, err)
	}

	if len(errors) > 0 {
		return fmt.Errorf("configuration validation failed: %v", errors)
	}

	return nil
}

func validatePort(field string, port int) error {
	if port < 1 || port > 65535 {
		return &ValidationError{
			Field:   field,
			Message: fmt.Sprintf("port must be between 1 and 65535, got %d", port),
		}
	}
	return nil
}

func validateServer(cfg ServerConfig) error {
	if err := validatePort("server.port", cfg.Port); err != nil {
		return err
	}

	if cfg.ReadTimeoutSeconds <= 0 {
		return &ValidationError{
			Field:   "server.read_timeout_seconds",
			Message: "read timeout must be positive",
		}
	}

	if cfg.WriteTimeoutSeconds <= 0 {
		return &ValidationError{
			Field:   "server.write_timeout_seconds",
			Message: "write timeout must be positive",
		}
	}

	if _, err := ParseZone(cfg.Timezone); err != nil {
		return &ValidationError{Field: "server.timezone", Message: err.Error()}
	}

	return nil
}

func validateSyslog(cfg SyslogConfig) error {
	if len(cfg.Ports) == 0 {
		return &ValidationError{
			Field:   "syslog.ports",
			Message: "at least one syslog port is required",
		}
	}

	seen := make(map[int]bool, len(cfg.Ports))
	for i, port := range cfg.Ports {
		if err := validatePort(fmt.Sprintf("syslog.ports[%d]", i), port); err != nil {
			return err
		}
		if seen[port] {
			return &ValidationError{
				Field:   fmt.Sprintf("syslog.ports[%d]", i),
				Message: fmt.Sprintf("port %d is listed twice", port),
			}
		}
		seen[port] = true
	}

	if _, err := ParseZone(cfg.Timezone); err != nil {
		return &ValidationError{Field: "syslog.timezone", Message: err.Error()}
	}
	for addr, zone := range cfg.Timezones {
		if _, err := ParseZone(zone); err != nil {
			return &ValidationError{Field: "syslog.timezones." + addr, Message: err.Error()}
		}
	}

	return nil
}

func validateIndex(index IndexConfig, bulk BulkConfig) error {
	if index.Path == "" {
		return &ValidationError{
			Field:   "index.path",
			Message: "index path is required",
		}
	}

	if bulk.WorkDir == "" {
		return &ValidationError{
			Field:   "bulk.work_dir",
			Message: "work directory is required",
		}
	}

	if bulk.ChunkSize <= 0 {
		return &ValidationError{
			Field:   "bulk.chunk_size",
			Message: "chunk size must be positive",
		}
	}

	if bulk.ProgressInterval < 0 {
		return &ValidationError{
			Field:   "bulk.progress_interval",
			Message: "progress interval must be non-negative",
		}
	}

	return nil
}

func validateBroker(cfg BrokerConfig) error {
	switch cfg.Type {
	case "":
		return nil
	case "kafka":
		return validateKafka(cfg.Kafka)
	default:
		return &ValidationError{
			Field:   "broker.type",
			Message: fmt.Sprintf("unknown broker type: %s (supported: kafka)", cfg.Type),
		}
	}
}

func validateKafka(cfg KafkaConfig) error {
	if len(cfg.Brokers) == 0 {
		return &ValidationError{
			Field:   "broker.kafka.brokers",
			Message: "at least one Kafka broker is required",
		}
	}

	for i, broker := range cfg.Brokers {
		if broker == "" {
			return &ValidationError{
				Field:   fmt.Sprintf("broker.kafka.brokers[%d]", i),
				Message: "broker address cannot be empty",
			}
		}
	}

	if cfg.OutputTopic == "" {
		return &ValidationError{
			Field:   "broker.kafka.output_topic",
			Message: "output topic is required",
		}
	}

	if cfg.InputTopic != "" && cfg.GroupID == "" {
		return &ValidationError{
			Field:   "broker.kafka.group_id",
			Message: "Kafka consumer group ID is required when input_topic is set",
		}
	}

	if cfg.InputTopic != "" && cfg.InputTopic == cfg.OutputTopic {
		return &ValidationError{
			Field:   "broker.kafka.input_topic",
			Message: "input_topic must differ from output_topic",
		}
	}

	if cfg.Retry.MaxAttempts < 0 {
		return &ValidationError{
			Field:   "broker.kafka.retry.max_attempts",
			Message: "max_attempts must be non-negative",
		}
	}

	if cfg.Retry.MaxInterval > 0 && cfg.Retry.InitialInterval > 0 && cfg.Retry.MaxInterval < cfg.Retry.InitialInterval {
		return &ValidationError{
			Field:   "broker.kafka.retry.max_interval",
			Message: "max_interval must be greater than or equal to initial_interval",
		}
	}

	if cfg.Retry.Multiplier <= 0 {
		return &ValidationError{
			Field:   "broker.kafka.retry.multiplier",
			Message: "multiplier must be positive",
		}
	}

	return nil
}

func validateDatabase(cfg DatabaseConfig) error {
	if cfg.Postgres.Enabled {
		if err := validatePostgres(cfg.Postgres); err != nil {
			return err
		}
	}

	if cfg.Redis.Enabled {
		if err := validateRedis(cfg.Redis); err != nil {
			return err
		}
	}

	return nil
}

func validatePostgres(cfg PostgresConfig) error {
	if cfg.Host == "" {
		return &ValidationError{
			Field:   "database.postgres.host",
			Message: "PostgreSQL host is required",
		}
	}

	if err := validatePort("database.postgres.port", cfg.Port); err != nil {
		return err
	}

	if cfg.User == "" {
		return &ValidationError{
			Field:   "database.postgres.user",
			Message: "PostgreSQL user is required",
		}
	}

	if cfg.DBName == "" {
		return &ValidationError{
			Field:   "database.postgres.dbname",
			Message: "PostgreSQL database name is required",
		}
	}

	if cfg.Table == "" || strings.ContainsAny(cfg.Table, " \t\"';") {
		return &ValidationError{
			Field:   "database.postgres.table",
			Message: fmt.Sprintf("invalid export table name: %q", cfg.Table),
		}
	}

	validSSLModes := map[string]bool{
		"disable": true, "allow": true, "prefer": true,
		"require": true, "verify-ca": true, "verify-full": true,
	}
	if cfg.SSLMode != "" && !validSSLModes[strings.ToLower(cfg.SSLMode)] {
		return &ValidationError{
			Field:   "database.postgres.sslmode",
			Message: fmt.Sprintf("invalid SSL mode: %s (valid: disable, allow, prefer, require, verify-ca, verify-full)", cfg.SSLMode),
		}
	}

	return nil
}

func validateRedis(cfg RedisConfig) error {
	if cfg.Host == "" {
		return &ValidationError{
			Field:   "database.redis.host",
			Message: "Redis host is required",
		}
	}

	if err := validatePort("database.redis.port", cfg.Port); err != nil {
		return err
	}

	if cfg.TTLSeconds < 0 {
		return &ValidationError{
			Field:   "database.redis.ttl_seconds",
			Message: "TTL must be non-negative",
		}
	}

	if cfg.Channel == "" {
		return &ValidationError{
			Field:   "database.redis.channel",
			Message: "job event channel is required",
		}
	}

	return nil
}
