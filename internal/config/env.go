package config

import (
	"fmt"
	"strconv"
	"strings"
)

// LookupFunc matches os.LookupEnv.
type LookupFunc func(key string) (string, bool)

// ApplyEnv overrides fields from the environment variables understood by the execution server.
func (c *Config) ApplyEnv(lookup LookupFunc) error {
	ints := []struct {
		key string
		dst *int
	}{
		{"EXECUTION_PORT", &c.Server.Port},
		{"MAX_CODE_SIZE", &c.Server.MaxCodeSize},
		{"MAX_CONCURRENT", &c.Execution.MaxConcurrent},
		{"JVM_POOL_SIZE", &c.Pool.Size},
	}
	for _, e := range ints {
		v, ok := lookup(e.key)
		if !ok || strings.TrimSpace(v) == "" {
			continue
		}
		n, err := strconv.Atoi(strings.TrimSpace(v))
		if err != nil {
			return fmt.Errorf("invalid %s=%q: %w", e.key, v, err)
		}
		*e.dst = n
	}

	int64s := []struct {
		key string
		dst *int64
	}{
		{"DEFAULT_TIME_LIMIT", &c.Execution.DefaultTimeLimit},
		{"MAX_TIME_LIMIT", &c.Execution.MaxTimeLimit},
	}
	for _, e := range int64s {
		v, ok := lookup(e.key)
		if !ok || strings.TrimSpace(v) == "" {
			continue
		}
		n, err := strconv.ParseInt(strings.TrimSpace(v), 10, 64)
		if err != nil {
			return fmt.Errorf("invalid %s=%q: %w", e.key, v, err)
		}
		*e.dst = n
	}

	strs := []struct {
		key string
		dst *string
	}{
		{"EXECUTION_SECRET", &c.Server.Secret},
		{"JUDGE_ENV", &c.Server.Environment},
		{"PYTHON_PATH", &c.Toolchains.Python},
		{"GCC_PATH", &c.Toolchains.GCC},
		{"JAVA_PATH", &c.Toolchains.Java},
		{"JAVAC_PATH", &c.Toolchains.Javac},
		{"REDIS_ADDR", &c.Discovery.RedisAddr},
	}
	for _, e := range strs {
		if v, ok := lookup(e.key); ok && v != "" {
			*e.dst = v
		}
	}
	return nil
}

// Production reports whether the server runs in production mode.
func (c *Config) Production() bool {
	return strings.EqualFold(c.Server.Environment, "production")
}
