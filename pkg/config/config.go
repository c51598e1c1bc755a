// Package config loads and validates service configuration from a YAML file
// with environment-variable overrides. It provides typed structs for every
// subsystem (Server, Upstream, Refresh, Search, Redis, Kafka, Postgres,
// Logging, Metrics).
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the top-level service configuration.
type Config struct {
	Server   ServerConfig   `yaml:"server"`
	Upstream UpstreamConfig `yaml:"upstream"`
	Refresh  RefreshConfig  `yaml:"refresh"`
	Search   SearchConfig   `yaml:"search"`
	Redis    RedisConfig    `yaml:"redis"`
	Kafka    KafkaConfig    `yaml:"kafka"`
	Postgres PostgresConfig `yaml:"postgres"`
	Logging  LoggingConfig  `yaml:"logging"`
	Metrics  MetricsConfig  `yaml:"metrics"`
}

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	Port            int           `yaml:"port"`
	ReadTimeout     time.Duration `yaml:"readTimeout"`
	WriteTimeout    time.Duration `yaml:"writeTimeout"`
	ShutdownTimeout time.Duration `yaml:"shutdownTimeout"`
	RateLimitRPS    float64       `yaml:"rateLimitRps"`
	RateLimitBurst  int           `yaml:"rateLimitBurst"`
}

// UpstreamConfig holds the messages API endpoint and fetch behaviour.
type UpstreamConfig struct {
	BaseURL      string        `yaml:"baseUrl"`
	FetchTimeout time.Duration `yaml:"fetchTimeout"`
	PageSize     int           `yaml:"pageSize"`
	MaxRetries   int           `yaml:"maxRetries"`
}

// RefreshConfig controls the background index refresh loop.
type RefreshConfig struct {
	Interval  time.Duration `yaml:"interval"`
	OnStartup bool          `yaml:"onStartup"`
	// Timeout bounds one whole fetch step so a hung upstream cannot starve
	// future refresh attempts.
	Timeout time.Duration `yaml:"timeout"`
}

// SearchConfig controls query execution limits and ranking behaviour.
type SearchConfig struct {
	MaxPageSize       int  `yaml:"maxPageSize"`
	DefaultPageSize   int  `yaml:"defaultPageSize"`
	SubstringFallback bool `yaml:"substringFallback"`
}

// RedisConfig holds the optional query-cache connection parameters.
type RedisConfig struct {
	Enabled  bool          `yaml:"enabled"`
	Addr     string        `yaml:"addr"`
	Password string        `yaml:"password"`
	DB       int           `yaml:"db"`
	PoolSize int           `yaml:"poolSize"`
	CacheTTL time.Duration `yaml:"cacheTTL"`
}

// KafkaConfig holds the optional analytics event topic settings.
type KafkaConfig struct {
	Enabled        bool          `yaml:"enabled"`
	Brokers        []string      `yaml:"brokers"`
	AnalyticsTopic string        `yaml:"analyticsTopic"`
	BatchSize      int           `yaml:"batchSize"`
	FlushInterval  time.Duration `yaml:"flushInterval"`
}

// PostgresConfig holds the optional refresh-audit database parameters.
type PostgresConfig struct {
	Enabled         bool          `yaml:"enabled"`
	Host            string        `yaml:"host"`
	Port            int           `yaml:"port"`
	Database        string        `yaml:"database"`
	User            string        `yaml:"user"`
	Password        string        `yaml:"password"`
	SSLMode         string        `yaml:"sslMode"`
	MaxOpenConns    int           `yaml:"maxOpenConns"`
	MaxIdleConns    int           `yaml:"maxIdleConns"`
	ConnMaxLifetime time.Duration `yaml:"connMaxLifetime"`
}

// DSN returns a lib/pq-compatible data source name.
func (p PostgresConfig) DSN() string {
	return fmt.Sprintf(
		"host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		p.Host, p.Port, p.User, p.Password, p.Database, p.SSLMode,
	)
}

// LoggingConfig controls structured logging level and output format.
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// MetricsConfig controls the Prometheus metrics server.
type MetricsConfig struct {
	Enabled bool `yaml:"enabled"`
	Port    int  `yaml:"port"`
}

// Load reads a YAML config file (if provided) and applies environment-variable
// overrides. It returns a Config populated with documented defaults for any
// missing values.
func Load(path string) (*Config, error) {
	cfg := defaultConfig()
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("reading config file %s: %w", path, err)
		}
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return nil, fmt.Errorf("parsing config file %s: %w", path, err)
		}
	}
	applyEnvOverrides(cfg)
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) validate() error {
	if c.Upstream.BaseURL == "" {
		return fmt.Errorf("upstream.baseUrl must be set")
	}
	if c.Search.MaxPageSize < 1 {
		return fmt.Errorf("search.maxPageSize must be >= 1, got %d", c.Search.MaxPageSize)
	}
	if c.Refresh.Interval <= 0 {
		return fmt.Errorf("refresh.interval must be positive, got %v", c.Refresh.Interval)
	}
	return nil
}

// defaultConfig returns a Config with sensible defaults for local development.
func defaultConfig() *Config {
	return &Config{
		Server: ServerConfig{
			Port:            8080,
			ReadTimeout:     30 * time.Second,
			WriteTimeout:    30 * time.Second,
			ShutdownTimeout: 15 * time.Second,
			RateLimitRPS:    50,
			RateLimitBurst:  100,
		},
		Upstream: UpstreamConfig{
			BaseURL:      "https://november7-730026606190.europe-west1.run.app",
			FetchTimeout: 10 * time.Second,
			PageSize:     100,
			MaxRetries:   3,
		},
		Refresh: RefreshConfig{
			Interval:  5 * time.Minute,
			OnStartup: true,
			Timeout:   2 * time.Minute,
		},
		Search: SearchConfig{
			MaxPageSize:       100,
			DefaultPageSize:   10,
			SubstringFallback: true,
		},
		Redis: RedisConfig{
			Enabled:  false,
			Addr:     "localhost:6379",
			DB:       0,
			PoolSize: 10,
			CacheTTL: 60 * time.Second,
		},
		Kafka: KafkaConfig{
			Enabled:        false,
			Brokers:        []string{"localhost:9092"},
			AnalyticsTopic: "search-events",
			BatchSize:      100,
			FlushInterval:  5 * time.Second,
		},
		Postgres: PostgresConfig{
			Enabled:         false,
			Host:            "localhost",
			Port:            5432,
			Database:        "messagesearch",
			User:            "messagesearch",
			Password:        "localdev",
			SSLMode:         "disable",
			MaxOpenConns:    10,
			MaxIdleConns:    2,
			ConnMaxLifetime: 5 * time.Minute,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
		},
		Metrics: MetricsConfig{
			Enabled: true,
			Port:    9090,
		},
	}
}

// applyEnvOverrides reads MS_* environment variables and overrides the
// corresponding config fields.
func applyEnvOverrides(cfg *Config) {
	if v := os.Getenv("MS_SERVER_PORT"); v != "" {
		if port, err := strconv.Atoi(v); err == nil {
			cfg.Server.Port = port
		}
	}
	if v := os.Getenv("MS_UPSTREAM_BASE_URL"); v != "" {
		cfg.Upstream.BaseURL = v
	}
	if v := os.Getenv("MS_UPSTREAM_FETCH_TIMEOUT"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			cfg.Upstream.FetchTimeout = d
		}
	}
	if v := os.Getenv("MS_REFRESH_INTERVAL"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			cfg.Refresh.Interval = d
		}
	}
	if v := os.Getenv("MAX_PAGE_SIZE"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.Search.MaxPageSize = n
		}
	}
	if v := os.Getenv("MS_REDIS_ADDR"); v != "" {
		cfg.Redis.Addr = v
		cfg.Redis.Enabled = true
	}
	if v := os.Getenv("MS_REDIS_PASSWORD"); v != "" {
		cfg.Redis.Password = v
	}
	if v := os.Getenv("MS_KAFKA_BROKERS"); v != "" {
		cfg.Kafka.Brokers = strings.Split(v, ",")
		cfg.Kafka.Enabled = true
	}
	if v := os.Getenv("MS_POSTGRES_HOST"); v != "" {
		cfg.Postgres.Host = v
		cfg.Postgres.Enabled = true
	}
	if v := os.Getenv("MS_POSTGRES_PASSWORD"); v != "" {
		cfg.Postgres.Password = v
	}
	if v := os.Getenv("MS_LOGGING_LEVEL"); v != "" {
		cfg.Logging.Level = v
	}
	if v := os.Getenv("MS_LOGGING_FORMAT"); v != "" {
		cfg.Logging.Format = v
	}
	if v := os.Getenv("MS_METRICS_PORT"); v != "" {
		if port, err := strconv.Atoi(v); err == nil {
			cfg.Metrics.Port = port
		}
	}
}
