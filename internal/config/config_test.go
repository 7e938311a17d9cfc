package config

import (
	"strings"
	"testing"
	"time"
)

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}

	if cfg.Mode != ModeServe {
		t.Errorf("expected serve mode, got %s", cfg.Mode)
	}
	if cfg.GetHTTPAddr() != ":8080" || cfg.GetGRPCAddr() != ":9090" {
		t.Errorf("unexpected addresses %s %s", cfg.GetHTTPAddr(), cfg.GetGRPCAddr())
	}
	if cfg.StoreBackend != BackendMemory || cfg.EventsBackend != BackendMemory || cfg.UsesRedis() {
		t.Errorf("expected memory backends, got %s %s", cfg.StoreBackend, cfg.EventsBackend)
	}
	if cfg.Pool.Mode != "concurrent" || cfg.Pool.MaxWorkers != 0 {
		t.Errorf("unexpected pool defaults %+v", cfg.Pool)
	}
	if cfg.Workers != 4 || cfg.WorkerBacklog != 64 {
		t.Errorf("unexpected worker defaults %d %d", cfg.Workers, cfg.WorkerBacklog)
	}
	if cfg.Timeouts.ShutdownTimeout != 30*time.Second || cfg.Timeouts.RunTimeout != 0 {
		t.Errorf("unexpected timeouts %+v", cfg.Timeouts)
	}
}

func TestLoadFromEnvironment(t *testing.T) {
	t.Setenv("MAESTRO_MODE", "run")
	t.Setenv("MAESTRO_DEFINITION_FILE", "jobs.json")
	t.Setenv("MAESTRO_POOL_MODE", "as_submitted")
	t.Setenv("MAESTRO_POOL_MAX_WORKERS", "4")
	t.Setenv("MAESTRO_STORE_BACKEND", "redis")
	t.Setenv("REDIS_ADDR", "redis:6379")
	t.Setenv("TIMEOUT_RUN", "90s")
	t.Setenv("LOG_LEVEL", "debug")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Mode != ModeRun || cfg.DefinitionFile != "jobs.json" {
		t.Errorf("unexpected mode settings %s %s", cfg.Mode, cfg.DefinitionFile)
	}
	if cfg.Pool.Mode != "as_submitted" || cfg.Pool.MaxWorkers != 4 {
		t.Errorf("unexpected pool settings %+v", cfg.Pool)
	}
	if !cfg.UsesRedis() || cfg.Redis.Addr != "redis:6379" {
		t.Errorf("expected redis store at redis:6379, got %+v", cfg.Redis)
	}
	if cfg.Timeouts.RunTimeout != 90*time.Second {
		t.Errorf("expected 90s run timeout, got %s", cfg.Timeouts.RunTimeout)
	}
}

func TestValidate(t *testing.T) {
	valid := func() *Config {
		return &Config{
			Mode:                ModeServe,
			HTTPPort:            8080,
			GRPCPort:            9090,
			LogLevel:            "info",
			StoreBackend:        BackendMemory,
			EventsBackend:       BackendMemory,
			Pool:                PoolConfig{Mode: "concurrent"},
			HealthCheckInterval: time.Second,
			Workers:             1,
		}
	}

	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr string
	}{
		{"valid", func(c *Config) {}, ""},
		{"bad mode", func(c *Config) { c.Mode = "batch" }, "invalid mode"},
		{"run without file", func(c *Config) { c.Mode = ModeRun }, "definition file is required"},
		{"run ignores ports", func(c *Config) { c.Mode = ModeRun; c.DefinitionFile = "x.json"; c.HTTPPort = 0 }, ""},
		{"bad http port", func(c *Config) { c.HTTPPort = 70000 }, "invalid HTTP port"},
		{"bad grpc port", func(c *Config) { c.GRPCPort = 0 }, "invalid gRPC port"},
		{"bad store", func(c *Config) { c.StoreBackend = "s3" }, "invalid store backend"},
		{"bad events", func(c *Config) { c.EventsBackend = "kafka" }, "invalid events backend"},
		{"redis without addr", func(c *Config) { c.EventsBackend = BackendRedis }, "redis address is required"},
		{"bad pool mode", func(c *Config) { c.Pool.Mode = "random" }, "invalid pool mode"},
		{"negative workers", func(c *Config) { c.Pool.MaxWorkers = -1 }, "max workers"},
		{"no workers", func(c *Config) { c.Workers = 0 }, "workers must be at least 1"},
		{"negative backlog", func(c *Config) { c.WorkerBacklog = -1 }, "worker backlog"},
		{"negative timeout", func(c *Config) { c.Timeouts.RunTimeout = -time.Second }, "run timeout"},
		{"zero health interval", func(c *Config) { c.HealthCheckInterval = 0 }, "health check interval"},
		{"bad log level", func(c *Config) { c.LogLevel = "trace" }, "invalid log level"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := valid()
			tt.mutate(cfg)
			err := cfg.Validate()
			if tt.wantErr == "" {
				if err != nil {
					t.Errorf("unexpected error: %v", err)
				}
				return
			}
			if err == nil || !strings.Contains(err.Error(), tt.wantErr) {
				t.Errorf("expected error containing %q, got %v", tt.wantErr, err)
			}
		})
	}
}
