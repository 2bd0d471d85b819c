// Package config provides configuration management for the application.
// Values come from an optional YAML file and environment variables, with
// environment taking precedence. A .env file is loaded when present.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// Config holds the application configuration
type Config struct {
	Server  ServerConfig  `yaml:"server"`
	Logging LogConfig     `yaml:"logging"`
	Storage StorageConfig `yaml:"storage"`
	Metrics MetricsConfig `yaml:"metrics"`
}

// ServerConfig holds HTTP server configuration
type ServerConfig struct {
	Port string `yaml:"port"`

	// BodySizeLimit is the max accepted request body size in bytes
	BodySizeLimit int64 `yaml:"body_size_limit"`
}

// LogConfig holds the log pipeline configuration
type LogConfig struct {
	// SinkEnabled turns on buffered, batched delivery to the durable sink
	SinkEnabled bool `yaml:"sink_enabled"`

	// DispatchEnabled turns on synchronous fan-out to subscribers
	DispatchEnabled bool `yaml:"dispatch_enabled"`

	// QueueCapacity is the bounded buffer size (must be > 0)
	QueueCapacity int `yaml:"queue_capacity"`

	// FlushInterval is the timer flush period in seconds (must be > 0)
	FlushInterval int `yaml:"flush_interval"`

	// SinkTarget is the logical bulk-insert target name
	SinkTarget string `yaml:"sink_target"`

	// AutoProvision creates the sink target schema at startup. With it
	// off, a missing target is a fatal error instructing the operator
	// to provision the sink.
	AutoProvision bool `yaml:"auto_provision"`

	// RetentionDays is how long to keep records (0 = forever)
	RetentionDays int `yaml:"retention_days"`

	// RedactionKeys extends the default sensitive key set
	// (password, token, access, refresh)
	RedactionKeys []string `yaml:"redaction_keys"`

	// ContentTypes extends the default capturable response content types
	ContentTypes []string `yaml:"content_types"`

	// MaxRequestBodySize / MaxResponseBodySize in bytes, -1 = unlimited
	MaxRequestBodySize  int64 `yaml:"max_request_body_size"`
	MaxResponseBodySize int64 `yaml:"max_response_body_size"`

	// PathType is ABSOLUTE, FULL_PATH or RAW_URI
	PathType string `yaml:"path_type"`

	// Tracing configuration
	TracingEnabled bool   `yaml:"tracing_enabled"`
	TracingHeader  string `yaml:"tracing_header"`

	// Skip lists and allow lists
	SkipRouteNames []string `yaml:"skip_route_names"`
	SkipNamespaces []string `yaml:"skip_namespaces"`
	Methods        []string `yaml:"methods"`
	StatusCodes    []int    `yaml:"status_codes"`
	StaticPrefixes []string `yaml:"static_prefixes"`
}

// StorageConfig holds durable sink storage configuration
type StorageConfig struct {
	// Type is one of sqlite, postgresql, mongodb, redis
	Type string `yaml:"type"`

	SQLite     SQLiteConfig     `yaml:"sqlite"`
	PostgreSQL PostgreSQLConfig `yaml:"postgresql"`
	MongoDB    MongoDBConfig    `yaml:"mongodb"`
	Redis      RedisConfig      `yaml:"redis"`
}

// SQLiteConfig holds SQLite-specific configuration
type SQLiteConfig struct {
	Path string `yaml:"path"`
}

// PostgreSQLConfig holds PostgreSQL-specific configuration
type PostgreSQLConfig struct {
	URL      string `yaml:"url"`
	MaxConns int    `yaml:"max_conns"`
}

// MongoDBConfig holds MongoDB-specific configuration
type MongoDBConfig struct {
	URL      string `yaml:"url"`
	Database string `yaml:"database"`
}

// RedisConfig holds Redis-specific configuration
type RedisConfig struct {
	URL string `yaml:"url"`
}

// MetricsConfig holds Prometheus metrics configuration
type MetricsConfig struct {
	Enabled  bool   `yaml:"enabled"`
	Endpoint string `yaml:"endpoint"`
}

// Default returns a Config with sensible defaults.
func Default() *Config {
	return &Config{
		Server: ServerConfig{
			Port:          "8080",
			BodySizeLimit: 10 * 1024 * 1024,
		},
		Logging: LogConfig{
			QueueCapacity:       50,
			FlushInterval:       10,
			SinkTarget:          "default",
			AutoProvision:       true,
			MaxRequestBodySize:  -1,
			MaxResponseBodySize: -1,
			PathType:            "ABSOLUTE",
		},
		Storage: StorageConfig{
			Type: "sqlite",
			SQLite: SQLiteConfig{
				Path: ".cache/apilogger.db",
			},
			PostgreSQL: PostgreSQLConfig{
				MaxConns: 10,
			},
			MongoDB: MongoDBConfig{
				Database: "apilogger",
			},
		},
		Metrics: MetricsConfig{
			Endpoint: "/metrics",
		},
	}
}

// Load reads configuration from an optional YAML file (APILOGGER_CONFIG)
// and the environment, environment winning. A .env file in the working
// directory is loaded first when present.
func Load() (*Config, error) {
	_ = godotenv.Load() // optional, ignore missing file

	cfg := Default()

	if path := os.Getenv("APILOGGER_CONFIG"); path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("failed to read config file %s: %w", path, err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("failed to parse config file %s: %w", path, err)
		}
	}

	applyEnv(cfg)

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks constraints that must fail fast at startup.
func (c *Config) Validate() error {
	if c.Logging.QueueCapacity <= 0 {
		return fmt.Errorf("queue_capacity must be greater than 0, got %d", c.Logging.QueueCapacity)
	}
	if c.Logging.FlushInterval <= 0 {
		return fmt.Errorf("flush_interval must be greater than 0, got %d", c.Logging.FlushInterval)
	}
	switch c.Logging.PathType {
	case "ABSOLUTE", "FULL_PATH", "RAW_URI":
	default:
		return fmt.Errorf("path_type must be ABSOLUTE, FULL_PATH or RAW_URI, got %q", c.Logging.PathType)
	}
	switch c.Storage.Type {
	case "sqlite", "postgresql", "mongodb", "redis":
	default:
		return fmt.Errorf("storage type must be sqlite, postgresql, mongodb or redis, got %q", c.Storage.Type)
	}
	return nil
}

// applyEnv overlays environment variables onto cfg.
func applyEnv(c *Config) {
	setString(&c.Server.Port, "APILOGGER_PORT")
	setInt64(&c.Server.BodySizeLimit, "APILOGGER_BODY_SIZE_LIMIT")

	setBool(&c.Logging.SinkEnabled, "APILOGGER_DATABASE")
	setBool(&c.Logging.DispatchEnabled, "APILOGGER_SIGNAL")
	setInt(&c.Logging.QueueCapacity, "APILOGGER_QUEUE_MAX_SIZE")
	setInt(&c.Logging.FlushInterval, "APILOGGER_INTERVAL")
	setString(&c.Logging.SinkTarget, "APILOGGER_DEFAULT_DATABASE")
	setBool(&c.Logging.AutoProvision, "APILOGGER_AUTO_PROVISION")
	setInt(&c.Logging.RetentionDays, "APILOGGER_RETENTION_DAYS")
	setList(&c.Logging.RedactionKeys, "APILOGGER_EXCLUDE_KEYS")
	setList(&c.Logging.ContentTypes, "APILOGGER_CONTENT_TYPES")
	setInt64(&c.Logging.MaxRequestBodySize, "APILOGGER_MAX_REQUEST_BODY_SIZE")
	setInt64(&c.Logging.MaxResponseBodySize, "APILOGGER_MAX_RESPONSE_BODY_SIZE")
	setString(&c.Logging.PathType, "APILOGGER_PATH_TYPE")
	setBool(&c.Logging.TracingEnabled, "APILOGGER_ENABLE_TRACING")
	setString(&c.Logging.TracingHeader, "APILOGGER_TRACING_ID_HEADER_NAME")
	setList(&c.Logging.SkipRouteNames, "APILOGGER_SKIP_URL_NAME")
	setList(&c.Logging.SkipNamespaces, "APILOGGER_SKIP_NAMESPACE")
	setList(&c.Logging.Methods, "APILOGGER_METHODS")
	setIntList(&c.Logging.StatusCodes, "APILOGGER_STATUS_CODES")
	setList(&c.Logging.StaticPrefixes, "APILOGGER_STATIC_PREFIXES")

	setString(&c.Storage.Type, "APILOGGER_STORAGE_TYPE")
	setString(&c.Storage.SQLite.Path, "APILOGGER_SQLITE_PATH")
	setString(&c.Storage.PostgreSQL.URL, "APILOGGER_POSTGRESQL_URL")
	setInt(&c.Storage.PostgreSQL.MaxConns, "APILOGGER_POSTGRESQL_MAX_CONNS")
	setString(&c.Storage.MongoDB.URL, "APILOGGER_MONGODB_URL")
	setString(&c.Storage.MongoDB.Database, "APILOGGER_MONGODB_DATABASE")
	setString(&c.Storage.Redis.URL, "APILOGGER_REDIS_URL")

	setBool(&c.Metrics.Enabled, "APILOGGER_METRICS_ENABLED")
	setString(&c.Metrics.Endpoint, "APILOGGER_METRICS_ENDPOINT")
}

func setString(dst *string, key string) {
	if v, ok := os.LookupEnv(key); ok && v != "" {
		*dst = v
	}
}

func setBool(dst *bool, key string) {
	if v, ok := os.LookupEnv(key); ok && v != "" {
		if parsed, err := strconv.ParseBool(v); err == nil {
			*dst = parsed
		}
	}
}

func setInt(dst *int, key string) {
	if v, ok := os.LookupEnv(key); ok && v != "" {
		if parsed, err := strconv.Atoi(v); err == nil {
			*dst = parsed
		}
	}
}

func setInt64(dst *int64, key string) {
	if v, ok := os.LookupEnv(key); ok && v != "" {
		if parsed, err := strconv.ParseInt(v, 10, 64); err == nil {
			*dst = parsed
		}
	}
}

func setList(dst *[]string, key string) {
	if v, ok := os.LookupEnv(key); ok && v != "" {
		parts := strings.Split(v, ",")
		out := make([]string, 0, len(parts))
		for _, p := range parts {
			if trimmed := strings.TrimSpace(p); trimmed != "" {
				out = append(out, trimmed)
			}
		}
		*dst = out
	}
}

func setIntList(dst *[]int, key string) {
	if v, ok := os.LookupEnv(key); ok && v != "" {
		parts := strings.Split(v, ",")
		out := make([]int, 0, len(parts))
		for _, p := range parts {
			if parsed, err := strconv.Atoi(strings.TrimSpace(p)); err == nil {
				out = append(out, parsed)
			}
		}
		*dst = out
	}
}
