// ============================================================================
// Judge Engine Configuration
// ============================================================================
//
// Package: internal/config
// File: config.go
// Purpose: Load the YAML configuration, fill defaults, apply environment overrides
//
// Resolution order (later wins):
//   1. Built-in defaults (Default())
//   2. YAML file (missing file is not an error)
//   3. .env file loaded into the process environment by the CLI
//   4. Environment variables (EXECUTION_PORT, MAX_CONCURRENT, ...)
//
// ============================================================================

package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the complete engine configuration.
type Config struct {
	Server       ServerConfig       `yaml:"server"`
	GRPC         GRPCConfig         `yaml:"grpc"`
	Execution    ExecutionConfig    `yaml:"execution"`
	Toolchains   ToolchainConfig    `yaml:"toolchains"`
	Pool         PoolConfig         `yaml:"pool"`
	StartupProbe StartupProbeConfig `yaml:"startup_probe"`
	Metrics      MetricsConfig      `yaml:"metrics"`
	Discovery    DiscoveryConfig    `yaml:"discovery"`
	Logging      LoggingConfig      `yaml:"logging"`
	Tracker      TrackerConfig      `yaml:"tracker"`
}

// ServerConfig configures the HTTP boundary.
type ServerConfig struct {
	Port        int             `yaml:"port"`
	Environment string          `yaml:"environment"` // "production" disables /test
	Secret      string          `yaml:"secret"`      // empty disables the shared-secret check
	MaxCodeSize int             `yaml:"max_code_size"`
	RateLimit   RateLimitConfig `yaml:"rate_limit"`
}

// RateLimitConfig configures per-client throttling of /execute. RPS 0 disables it.
type RateLimitConfig struct {
	RPS   float64 `yaml:"rps"`
	Burst int     `yaml:"burst"`
}

// GRPCConfig configures the optional gRPC boundary.
type GRPCConfig struct {
	Enabled bool `yaml:"enabled"`
	Port    int  `yaml:"port"`
}

// ExecutionConfig configures admission and per-test execution.
type ExecutionConfig struct {
	MaxConcurrent    int           `yaml:"max_concurrent"`
	DefaultTimeLimit int64         `yaml:"default_time_limit_ms"`
	MaxTimeLimit     int64         `yaml:"max_time_limit_ms"`
	CompileTimeout   time.Duration `yaml:"compile_timeout"`
	KillGrace        time.Duration `yaml:"kill_grace"`
	MaxOutputBytes   int64         `yaml:"max_output_bytes"`
	TempDir          string        `yaml:"temp_dir"`
}

// ToolchainConfig holds paths to compilers and interpreters.
type ToolchainConfig struct {
	Python string `yaml:"python"`
	GCC    string `yaml:"gcc"`
	Java   string `yaml:"java"`
	Javac  string `yaml:"javac"`
}

// PoolConfig configures the warm JVM worker pool.
type PoolConfig struct {
	Enabled       bool          `yaml:"enabled"`
	Size          int           `yaml:"size"`
	Dir           string        `yaml:"dir"` // where the resident worker is compiled; empty = temp dir
	ReadyTimeout  time.Duration `yaml:"ready_timeout"`
	ResponseSlack time.Duration `yaml:"response_slack"`
	DoneTimeout   time.Duration `yaml:"done_timeout"`
	ShutdownGrace time.Duration `yaml:"shutdown_grace"`
}

// Startup probe policies.
const (
	ProbeCached        = "cached"
	ProbePerSubmission = "per_submission"
)

// StartupProbeConfig configures interpreter-startup compensation on the pool fallback path.
type StartupProbeConfig struct {
	Policy  string        `yaml:"policy"`
	TTL     time.Duration `yaml:"ttl"`
	Margin  time.Duration `yaml:"margin"`
	Command []string      `yaml:"command"` // empty = "<java> -Xshare:auto -version"
}

// MetricsConfig configures the Prometheus listener.
type MetricsConfig struct {
	Enabled bool `yaml:"enabled"`
	Port    int  `yaml:"port"`
}

// DiscoveryConfig configures the optional Redis heartbeat.
type DiscoveryConfig struct {
	Enabled     bool          `yaml:"enabled"`
	RedisAddr   string        `yaml:"redis_addr"`
	ServiceName string        `yaml:"service_name"`
	Interval    time.Duration `yaml:"interval"`
}

// LoggingConfig configures slog output.
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"` // text | json
}

// TrackerConfig configures the in-memory submission tracker.
type TrackerConfig struct {
	Retention int `yaml:"retention"`
}

// Default returns the built-in configuration.
func Default() *Config {
	return &Config{
		Server: ServerConfig{
			Port:        6001,
			Environment: "development",
			MaxCodeSize: 50000,
		},
		GRPC: GRPCConfig{Port: 6002},
		Execution: ExecutionConfig{
			MaxConcurrent:    2,
			DefaultTimeLimit: 2000,
			MaxTimeLimit:     10000,
			CompileTimeout:   30 * time.Second,
			KillGrace:        500 * time.Millisecond,
			MaxOutputBytes:   16 << 20,
		},
		Toolchains: ToolchainConfig{
			Python: "python3",
			GCC:    "gcc",
			Java:   "java",
			Javac:  "javac",
		},
		Pool: PoolConfig{
			Enabled:       true,
			Size:          2,
			ReadyTimeout:  15 * time.Second,
			ResponseSlack: 5 * time.Second,
			DoneTimeout:   3 * time.Second,
			ShutdownGrace: 2 * time.Second,
		},
		StartupProbe: StartupProbeConfig{
			Policy: ProbeCached,
			TTL:    5 * time.Minute,
			Margin: time.Second,
		},
		Metrics: MetricsConfig{Port: 9090},
		Discovery: DiscoveryConfig{
			RedisAddr:   "localhost:6379",
			ServiceName: "judge",
			Interval:    5 * time.Second,
		},
		Logging: LoggingConfig{Level: "info", Format: "text"},
		Tracker: TrackerConfig{Retention: 1000},
	}
}

// Load reads path on top of the defaults and applies environment overrides.
// A missing file yields the defaults.
func Load(path string) (*Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		switch {
		case errors.Is(err, fs.ErrNotExist):
		case err != nil:
			return nil, fmt.Errorf("failed to read config file: %w", err)
		default:
			if err := yaml.Unmarshal(data, cfg); err != nil {
				return nil, fmt.Errorf("failed to parse config YAML: %w", err)
			}
		}
	}

	if err := cfg.ApplyEnv(os.LookupEnv); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate rejects configurations the engine cannot run with.
func (c *Config) Validate() error {
	switch {
	case c.Execution.MaxConcurrent <= 0:
		return fmt.Errorf("execution.max_concurrent must be positive, got %d", c.Execution.MaxConcurrent)
	case c.Execution.DefaultTimeLimit <= 0:
		return fmt.Errorf("execution.default_time_limit_ms must be positive, got %d", c.Execution.DefaultTimeLimit)
	case c.Execution.MaxTimeLimit < c.Execution.DefaultTimeLimit:
		return fmt.Errorf("execution.max_time_limit_ms (%d) is below the default time limit (%d)",
			c.Execution.MaxTimeLimit, c.Execution.DefaultTimeLimit)
	case c.Server.MaxCodeSize <= 0:
		return fmt.Errorf("server.max_code_size must be positive, got %d", c.Server.MaxCodeSize)
	case c.Pool.Enabled && c.Pool.Size <= 0:
		return fmt.Errorf("pool.size must be positive, got %d", c.Pool.Size)
	case c.StartupProbe.Policy != ProbeCached && c.StartupProbe.Policy != ProbePerSubmission:
		return fmt.Errorf("startup_probe.policy must be %q or %q, got %q",
			ProbeCached, ProbePerSubmission, c.StartupProbe.Policy)
	}
	return nil
}
