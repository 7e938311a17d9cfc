package config

import (
	"fmt"
	"time"

	"github.com/caarlos0/env/v10"
)

// Modes
const (
	ModeRun   = "run"
	ModeServe = "serve"
)

// Backends
const (
	BackendMemory = "memory"
	BackendRedis  = "redis"
)

// Config holds all configuration for the Maestro orchestrator
type Config struct {
	// Process mode: run executes one definition file and exits, serve
	// starts the HTTP, WebSocket and gRPC servers
	Mode           string `env:"MAESTRO_MODE" envDefault:"serve"`
	DefinitionFile string `env:"MAESTRO_DEFINITION_FILE"`
	OutputFile     string `env:"MAESTRO_OUTPUT_FILE"`

	// Server configuration
	HTTPPort int    `env:"MAESTRO_HTTP_PORT" envDefault:"8080"`
	GRPCPort int    `env:"MAESTRO_GRPC_PORT" envDefault:"9090"`
	LogLevel string `env:"LOG_LEVEL" envDefault:"info"`
	APIToken string `env:"MAESTRO_API_TOKEN"`

	// Background runs
	Workers       int `env:"MAESTRO_WORKERS" envDefault:"4"`
	WorkerBacklog int `env:"MAESTRO_WORKER_BACKLOG" envDefault:"64"`

	// Backends
	StoreBackend  string `env:"MAESTRO_STORE_BACKEND" envDefault:"memory"`
	EventsBackend string `env:"MAESTRO_EVENTS_BACKEND" envDefault:"memory"`

	// Redis configuration
	Redis RedisConfig

	// Pool configuration
	Pool PoolConfig

	// Timeouts
	Timeouts TimeoutConfig

	HealthCheckInterval time.Duration `env:"MAESTRO_HEALTH_CHECK_INTERVAL" envDefault:"30s"`
}

// RedisConfig holds Redis connection configuration
type RedisConfig struct {
	Addr     string `env:"REDIS_ADDR" envDefault:"localhost:6379"`
	Password string `env:"REDIS_PASS"`
	DB       int    `env:"REDIS_DB" envDefault:"0"`

	// Connection pool settings
	PoolSize     int           `env:"REDIS_POOL_SIZE" envDefault:"10"`
	MinIdleConns int           `env:"REDIS_MIN_IDLE_CONNS" envDefault:"2"`
	MaxRetries   int           `env:"REDIS_MAX_RETRIES" envDefault:"3"`
	DialTimeout  time.Duration `env:"REDIS_DIAL_TIMEOUT" envDefault:"5s"`
	ReadTimeout  time.Duration `env:"REDIS_READ_TIMEOUT" envDefault:"3s"`
	WriteTimeout time.Duration `env:"REDIS_WRITE_TIMEOUT" envDefault:"3s"`

	// Streams
	ConsumerGroup string `env:"REDIS_CONSUMER_GROUP" envDefault:"maestro"`
	ConsumerName  string `env:"REDIS_CONSUMER_NAME" envDefault:"maestro-1"`
	StreamMaxLen  int64  `env:"REDIS_STREAM_MAXLEN" envDefault:"10000"`

	DefinitionTTL time.Duration `env:"REDIS_DEFINITION_TTL" envDefault:"0s"`
}

// PoolConfig holds the defaults of pools built from grouped jobs
type PoolConfig struct {
	Mode       string `env:"MAESTRO_POOL_MODE" envDefault:"concurrent"`
	MaxWorkers int    `env:"MAESTRO_POOL_MAX_WORKERS" envDefault:"0"`
}

// TimeoutConfig holds various timeout configurations
type TimeoutConfig struct {
	RunTimeout      time.Duration `env:"TIMEOUT_RUN" envDefault:"0s"` // 0 disables
	ShutdownTimeout time.Duration `env:"TIMEOUT_SHUTDOWN" envDefault:"30s"`
}

// Load reads configuration from environment variables
func Load() (*Config, error) {
	cfg := &Config{}
	if err := env.Parse(cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	return cfg, nil
}

// Validate checks if the configuration is valid
func (c *Config) Validate() error {
	switch c.Mode {
	case ModeRun:
		if c.DefinitionFile == "" {
			return fmt.Errorf("definition file is required in run mode")
		}
	case ModeServe:
		if c.HTTPPort < 1 || c.HTTPPort > 65535 {
			return fmt.Errorf("invalid HTTP port: %d", c.HTTPPort)
		}
		if c.GRPCPort < 1 || c.GRPCPort > 65535 {
			return fmt.Errorf("invalid gRPC port: %d", c.GRPCPort)
		}
	default:
		return fmt.Errorf("invalid mode: %s (must be run or serve)", c.Mode)
	}

	validBackends := map[string]bool{BackendMemory: true, BackendRedis: true}
	if !validBackends[c.StoreBackend] {
		return fmt.Errorf("invalid store backend: %s (must be memory or redis)", c.StoreBackend)
	}
	if !validBackends[c.EventsBackend] {
		return fmt.Errorf("invalid events backend: %s (must be memory or redis)", c.EventsBackend)
	}

	// Validate Redis config
	if c.UsesRedis() && c.Redis.Addr == "" {
		return fmt.Errorf("redis address is required")
	}

	// Validate pool config
	if c.Pool.Mode != "concurrent" && c.Pool.Mode != "as_submitted" {
		return fmt.Errorf("invalid pool mode: %s (must be concurrent or as_submitted)", c.Pool.Mode)
	}
	if c.Pool.MaxWorkers < 0 {
		return fmt.Errorf("pool max workers must not be negative")
	}

	if c.Workers < 1 {
		return fmt.Errorf("workers must be at least 1")
	}
	if c.WorkerBacklog < 0 {
		return fmt.Errorf("worker backlog must not be negative")
	}

	if c.Timeouts.RunTimeout < 0 {
		return fmt.Errorf("run timeout must not be negative")
	}
	if c.HealthCheckInterval <= 0 {
		return fmt.Errorf("health check interval must be positive")
	}

	// Validate log level
	validLogLevels := map[string]bool{
		"debug": true,
		"info":  true,
		"warn":  true,
		"error": true,
	}
	if !validLogLevels[c.LogLevel] {
		return fmt.Errorf("invalid log level: %s (must be debug, info, warn, or error)", c.LogLevel)
	}

	return nil
}

// UsesRedis reports whether any backend needs a Redis connection
func (c *Config) UsesRedis() bool {
	return c.StoreBackend == BackendRedis || c.EventsBackend == BackendRedis
}

// GetHTTPAddr returns the HTTP server address
func (c *Config) GetHTTPAddr() string {
	return fmt.Sprintf(":%d", c.HTTPPort)
}

// GetGRPCAddr returns the gRPC server address
func (c *Config) GetGRPCAddr() string {
	return fmt.Sprintf(":%d", c.GRPCPort)
}
