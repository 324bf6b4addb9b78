package config

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

type Config struct {
	Server         ServerConfig
	Syslog         SyslogConfig
	Index          IndexConfig
	Bulk           BulkConfig
	Database       DatabaseConfig
	Broker         BrokerConfig
	Logging        LoggingConfig
	CircuitBreaker CircuitBreakerConfig `mapstructure:"circuit_breaker"`
	RateLimit      RateLimitConfig      `mapstructure:"rate_limit"`
}

type ServerConfig struct {
	Port                int           `mapstructure:"port"`
	ReadTimeoutSeconds  time.Duration `mapstructure:"read_timeout_seconds"`
	WriteTimeoutSeconds time.Duration `mapstructure:"write_timeout_seconds"`
	// Timezone is the zone requests without an X-Tz-Offset are answered in.
	Timezone string `mapstructure:"timezone"`
}

type SyslogConfig struct {
	Bind  string `mapstructure:"bind"`
	Ports []int  `mapstructure:"ports"`
	// Timezone is the zone legacy timestamps are assumed to be written in.
	Timezone string `mapstructure:"timezone"`
	// Timezones overrides Timezone per source address.
	Timezones map[string]string `mapstructure:"timezones"`
	// Listener is an expression evaluated once per ingested record.
	Listener string `mapstructure:"listener"`
}

type IndexConfig struct {
	Path string `mapstructure:"path"`
}

type BulkConfig struct {
	WorkDir          string        `mapstructure:"work_dir"`
	ChunkSize        int           `mapstructure:"chunk_size"`
	ProgressInterval time.Duration `mapstructure:"progress_interval"`
}

type DatabaseConfig struct {
	Postgres PostgresConfig
	Redis    RedisConfig
}

type PostgresConfig struct {
	Enabled  bool   `mapstructure:"enabled"`
	Host     string `mapstructure:"host"`
	Port     int    `mapstructure:"port"`
	User     string `mapstructure:"user"`
	Password string `mapstructure:"password"`
	DBName   string `mapstructure:"dbname"`
	SSLMode  string `mapstructure:"sslmode"`
	Table    string `mapstructure:"table"`
}

func (c PostgresConfig) DSN() string {
	return fmt.Sprintf("host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		c.Host, c.Port, c.User, c.Password, c.DBName, c.SSLMode)
}

type RedisConfig struct {
	Enabled    bool   `mapstructure:"enabled"`
	Host       string `mapstructure:"host"`
	Port       int    `mapstructure:"port"`
	Password   string `mapstructure:"password"`
	DB         int    `mapstructure:"db"`
	TTLSeconds int    `mapstructure:"ttl_seconds"`
	Channel    string `mapstructure:"channel"`
	KeyPrefix  string `mapstructure:"key_prefix"`
}

func (c RedisConfig) Addr() string {
	return c.Host + ":" + strconv.Itoa(c.Port)
}

type BrokerConfig struct {
	// Type is empty when records are not forwarded.
	Type  string      `mapstructure:"type"`
	Kafka KafkaConfig `mapstructure:"kafka"`
}

type KafkaConfig struct {
	Brokers     []string    `mapstructure:"brokers"`
	GroupID     string      `mapstructure:"group_id"`
	InputTopic  string      `mapstructure:"input_topic"`
	OutputTopic string      `mapstructure:"output_topic"`
	Retry       RetryConfig `mapstructure:"retry"`
}

type RetryConfig struct {
	MaxAttempts     int           `mapstructure:"max_attempts"`
	InitialInterval time.Duration `mapstructure:"initial_interval"`
	MaxInterval     time.Duration `mapstructure:"max_interval"`
	Multiplier      float64       `mapstructure:"multiplier"`
	MaxElapsedTime  time.Duration `mapstructure:"max_elapsed_time"`
}

type LoggingConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

type RateLimitConfig struct {
	Enabled         bool    `mapstructure:"enabled"`
	RPS             float64 `mapstructure:"rps"`
	Burst           int     `mapstructure:"burst"`
	CleanupInterval int     `mapstructure:"cleanup_interval"`
	MaxAge          int     `mapstructure:"max_age"`
}

type CircuitBreakerConfig struct {
	Enabled      bool          `mapstructure:"enabled"`
	MaxRequests  uint32        `mapstructure:"max_requests"`
	Interval     time.Duration `mapstructure:"interval"`
	Timeout      time.Duration `mapstructure:"timeout"`
	FailureRatio float64       `mapstructure:"failure_ratio"`
	MinRequests  uint32        `mapstructure:"min_requests"`
}

func Load(configFile string) (*Config, error) {
	return LoadConfig(configFile)
}

// ParseZone reads an IANA zone name, "Local", "UTC" or a fixed offset such
// as "+09:00".
func ParseZone(name string) (*time.Location, error) {
	switch name {
	case "", "Local":
		return time.Local, nil
	case "UTC", "Z":
		return time.UTC, nil
	}
	if name[0] == '+' || name[0] == '-' {
		t, err := time.Parse("-07:00", name)
		if err != nil {
			return nil, fmt.Errorf("invalid zone offset %q: %w", name, err)
		}
		_, offset := t.Zone()
		return time.FixedZone(name, offset), nil
	}
	loc, err := time.LoadLocation(name)
	if err != nil {
		return nil, fmt.Errorf("invalid zone %q: %w", name, err)
	}
	return loc, nil
}

// ServerZone is the zone requests default to.
func (c *Config) ServerZone() *time.Location {
	loc, err := ParseZone(c.Server.Timezone)
	if err != nil {
		return time.Local
	}
	return loc
}

// SyslogZones resolves the default legacy-timestamp zone and the per
// address overrides. Keys are matched against the packet's source address.
func (c *Config) SyslogZones() (*time.Location, map[string]*time.Location, error) {
	name := c.Syslog.Timezone
	if name == "" {
		name = c.Server.Timezone
	}
	def, err := ParseZone(name)
	if err != nil {
		return nil, nil, err
	}

	byAddr := make(map[string]*time.Location, len(c.Syslog.Timezones))
	for addr, zone := range c.Syslog.Timezones {
		loc, err := ParseZone(zone)
		if err != nil {
			return nil, nil, fmt.Errorf("syslog.timezones[%s]: %w", addr, err)
		}
		byAddr[normalizeAddr(addr)] = loc
	}
	return def, byAddr, nil
}

// viper lower-cases map keys and cannot hold dots in them, so addresses
// may be written with underscores.
func normalizeAddr(addr string) string {
	if strings.Count(addr, "_") == 3 && !strings.ContainsAny(addr, ".:") {
		return strings.ReplaceAll(addr, "_", ".")
	}
	return addr
}

// Settings is the flat view of the effective configuration shown to
// operators.
func (c *Config) Settings() map[string]string {
	ports := make([]string, len(c.Syslog.Ports))
	for i, p := range c.Syslog.Ports {
		ports[i] = strconv.Itoa(p)
	}
	return map[string]string{
		"syslog.port":      strings.Join(ports, ","),
		"syslog.timezone":  c.Syslog.Timezone,
		"syslog.listener":  c.Syslog.Listener,
		"web.port":         strconv.Itoa(c.Server.Port),
		"index.path":       c.Index.Path,
		"system.timezone":  c.ServerZone().String(),
		"bulk.chunk_size":  strconv.Itoa(c.Bulk.ChunkSize),
		"broker.type":      c.Broker.Type,
		"postgres.enabled": strconv.FormatBool(c.Database.Postgres.Enabled),
		"redis.enabled":    strconv.FormatBool(c.Database.Redis.Enabled),
	}
}
