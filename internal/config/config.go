// Package config loads the service configuration from defaults, an optional
// YAML file and environment variables, in that order of precedence.
package config

import (
	"errors"
	"fmt"
	"net"
	"net/url"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"
)

// Backend names accepted for the cache and the queue.
const (
	BackendRedis  = "redis"
	BackendNATS   = "nats"
	BackendMemory = "memory"
)

// ErrInvalidConfig is wrapped by every validation failure.
var ErrInvalidConfig = errors.New("invalid configuration")

// Config holds all configuration for the API server and the analytics worker.
type Config struct {
	HTTP      HTTP      `yaml:"http"`
	Database  Database  `yaml:"database"`
	Redis     Redis     `yaml:"redis"`
	NATS      NATS      `yaml:"nats"`
	Cache     Cache     `yaml:"cache"`
	Queue     Queue     `yaml:"queue"`
	Analytics Analytics `yaml:"analytics"`
	Memory    Memory    `yaml:"memory"`
	Log       Log       `yaml:"log"`
}

type HTTP struct {
	Port            string        `yaml:"port"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`
}

type Database struct {
	Host        string `yaml:"host"`
	Port        string `yaml:"port"`
	Name        string `yaml:"name"`
	User        string `yaml:"user"`
	Password    string `yaml:"password"`
	SSLMode     string `yaml:"sslmode"`
	MaxConns    int32  `yaml:"max_conns"`
	AutoMigrate bool   `yaml:"auto_migrate"`
}

type Redis struct {
	Host     string `yaml:"host"`
	Port     string `yaml:"port"`
	Password string `yaml:"password"`
	DB       int    `yaml:"db"`
}

type NATS struct {
	URL    string `yaml:"url"`
	Bucket string `yaml:"bucket"`
}

// Cache configures the read-through cache. TTL applies to every key.
type Cache struct {
	Backend string        `yaml:"backend"`
	TTL     time.Duration `yaml:"ttl"`
}

// Queue configures the analytics event channel.
type Queue struct {
	Backend     string        `yaml:"backend"`
	Name        string        `yaml:"name"`
	PopTimeout  time.Duration `yaml:"pop_timeout"`
	DeadLetter  string        `yaml:"dead_letter"`
	PushTimeout time.Duration `yaml:"push_timeout"`
}

// Analytics configures the producer buffer and the consumer loop.
type Analytics struct {
	Buffer         int           `yaml:"buffer"`
	Backoff        time.Duration `yaml:"backoff"`
	EmbeddedWorker bool          `yaml:"embedded_worker"`
}

// Memory configures the in-process engine used by the memory backends.
type Memory struct {
	DataDir string `yaml:"data_dir"`
}

type Log struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// Default returns the configuration used when nothing is overridden.
func Default() *Config {
	return &Config{
		HTTP: HTTP{Port: "8000", ShutdownTimeout: 10 * time.Second},
		Database: Database{
			Host:        "postgres-service",
			Port:        "5432",
			Name:        "invasions_db",
			User:        "postgres",
			Password:    "postgres",
			SSLMode:     "disable",
			MaxConns:    10,
			AutoMigrate: true,
		},
		Redis:     Redis{Host: "redis-service", Port: "6379"},
		NATS:      NATS{URL: "nats://nats-service:4222", Bucket: "invasions-cache"},
		Cache:     Cache{Backend: BackendRedis, TTL: 300 * time.Second},
		Queue:     Queue{Backend: BackendRedis, Name: "analytics:events", PopTimeout: 5 * time.Second, PushTimeout: 2 * time.Second},
		Analytics: Analytics{Buffer: 1024, Backoff: 5 * time.Second},
		Memory:    Memory{DataDir: "./data"},
		Log:       Log{Level: "info", Format: "json"},
	}
}

// Load builds the configuration. path may be empty, in which case no file is read.
func Load(path string) (*Config, error) {
	cfg := Default()

	if path != "" {
		file, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read config file: %w", err)
		}
		if err := yaml.Unmarshal(file, cfg); err != nil {
			return nil, fmt.Errorf("parse config file %s: %w", path, err)
		}
	}

	cfg.applyEnv()

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) applyEnv() {
	c.HTTP.Port = getEnv("INVASIONS_PORT", c.HTTP.Port)
	c.HTTP.ShutdownTimeout = getEnvDuration("INVASIONS_SHUTDOWN_TIMEOUT", c.HTTP.ShutdownTimeout)

	c.Database.Host = getEnv("DB_HOST", c.Database.Host)
	c.Database.Port = getEnv("DB_PORT", c.Database.Port)
	c.Database.Name = getEnv("DB_NAME", c.Database.Name)
	c.Database.User = getEnv("DB_USER", c.Database.User)
	c.Database.Password = getEnv("DB_PASSWORD", c.Database.Password)
	c.Database.SSLMode = getEnv("DB_SSLMODE", c.Database.SSLMode)
	c.Database.MaxConns = int32(getEnvInt("DB_MAX_CONNS", int(c.Database.MaxConns)))
	c.Database.AutoMigrate = getEnvBool("DB_AUTO_MIGRATE", c.Database.AutoMigrate)

	c.Redis.Host = getEnv("REDIS_HOST", c.Redis.Host)
	c.Redis.Port = getEnv("REDIS_PORT", c.Redis.Port)
	c.Redis.Password = getEnv("REDIS_PASSWORD", c.Redis.Password)
	c.Redis.DB = getEnvInt("REDIS_DB", c.Redis.DB)

	c.NATS.URL = getEnv("NATS_URL", c.NATS.URL)
	c.NATS.Bucket = getEnv("NATS_CACHE_BUCKET", c.NATS.Bucket)

	c.Cache.Backend = getEnv("INVASIONS_CACHE_BACKEND", c.Cache.Backend)
	c.Cache.TTL = getEnvDuration("INVASIONS_CACHE_TTL", c.Cache.TTL)

	c.Queue.Backend = getEnv("INVASIONS_QUEUE_BACKEND", c.Queue.Backend)
	c.Queue.Name = getEnv("INVASIONS_QUEUE_NAME", c.Queue.Name)
	c.Queue.PopTimeout = getEnvDuration("INVASIONS_QUEUE_POP_TIMEOUT", c.Queue.PopTimeout)
	c.Queue.PushTimeout = getEnvDuration("INVASIONS_QUEUE_PUSH_TIMEOUT", c.Queue.PushTimeout)
	c.Queue.DeadLetter = getEnv("INVASIONS_QUEUE_DEAD_LETTER", c.Queue.DeadLetter)

	c.Analytics.Buffer = getEnvInt("INVASIONS_ANALYTICS_BUFFER", c.Analytics.Buffer)
	c.Analytics.Backoff = getEnvDuration("INVASIONS_ANALYTICS_BACKOFF", c.Analytics.Backoff)
	c.Analytics.EmbeddedWorker = getEnvBool("INVASIONS_EMBEDDED_WORKER", c.Analytics.EmbeddedWorker)

	c.Memory.DataDir = getEnv("INVASIONS_DATA_DIR", c.Memory.DataDir)

	c.Log.Level = getEnv("INVASIONS_LOG_LEVEL", c.Log.Level)
	c.Log.Format = getEnv("INVASIONS_LOG_FORMAT", c.Log.Format)
}

// Validate checks backend names and that every duration and size is positive.
func (c *Config) Validate() error {
	switch c.Cache.Backend {
	case BackendRedis, BackendNATS, BackendMemory:
	default:
		return fmt.Errorf("%w: unknown cache backend %q", ErrInvalidConfig, c.Cache.Backend)
	}
	switch c.Queue.Backend {
	case BackendRedis, BackendMemory:
	default:
		return fmt.Errorf("%w: unknown queue backend %q", ErrInvalidConfig, c.Queue.Backend)
	}
	if c.Queue.Name == "" {
		return fmt.Errorf("%w: queue name is required", ErrInvalidConfig)
	}
	if c.Queue.DeadLetter != "" && c.Queue.DeadLetter == c.Queue.Name {
		return fmt.Errorf("%w: dead letter queue must differ from %q", ErrInvalidConfig, c.Queue.Name)
	}

	durations := map[string]time.Duration{
		"cache.ttl":             c.Cache.TTL,
		"queue.pop_timeout":     c.Queue.PopTimeout,
		"queue.push_timeout":    c.Queue.PushTimeout,
		"analytics.backoff":     c.Analytics.Backoff,
		"http.shutdown_timeout": c.HTTP.ShutdownTimeout,
	}
	for name, d := range durations {
		if d <= 0 {
			return fmt.Errorf("%w: %s must be positive, got %s", ErrInvalidConfig, name, d)
		}
	}
	if c.Queue.PopTimeout < time.Second {
		return fmt.Errorf("%w: queue.pop_timeout must be at least 1s", ErrInvalidConfig)
	}
	if c.Analytics.Buffer <= 0 {
		return fmt.Errorf("%w: analytics.buffer must be positive", ErrInvalidConfig)
	}
	if c.Database.MaxConns <= 0 {
		return fmt.Errorf("%w: database.max_conns must be positive", ErrInvalidConfig)
	}
	return nil
}

// DatabaseURL renders the Postgres connection URL.
func (c *Config) DatabaseURL() string {
	u := url.URL{
		Scheme:   "postgres",
		User:     url.UserPassword(c.Database.User, c.Database.Password),
		Host:     net.JoinHostPort(c.Database.Host, c.Database.Port),
		Path:     "/" + c.Database.Name,
		RawQuery: url.Values{"sslmode": {c.Database.SSLMode}}.Encode(),
	}
	return u.String()
}

// RedisAddr returns host:port for the Redis server.
func (c *Config) RedisAddr() string {
	return net.JoinHostPort(c.Redis.Host, c.Redis.Port)
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if parsed, err := strconv.ParseBool(value); err == nil {
			return parsed
		}
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if parsed, err := strconv.Atoi(value); err == nil {
			return parsed
		}
	}
	return defaultValue
}

// getEnvDuration accepts Go durations ("300s", "5m") or a bare number of seconds.
func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	if d, err := time.ParseDuration(value); err == nil {
		return d
	}
	if secs, err := strconv.Atoi(value); err == nil {
		return time.Duration(secs) * time.Second
	}
	return defaultValue
}
