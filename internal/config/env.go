package config

import (
	"os"
	"strconv"
)

// FromEnv overlays JOBSTREAM_* environment variables onto cfg.
func FromEnv(cfg *Config) {
	if v := os.Getenv("JOBSTREAM_REDIS_ADDR"); v != "" {
		cfg.Redis.Addr = v
	}
	if v := os.Getenv("JOBSTREAM_REDIS_PASSWORD"); v != "" {
		cfg.Redis.Password = v
	}
	if v := os.Getenv("JOBSTREAM_REDIS_DB"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.Redis.DB = n
		}
	}
	if v := os.Getenv("JOBSTREAM_WORKER_CONSUMERS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.Worker.Consumers = n
		}
	}
	if v := os.Getenv("JOBSTREAM_WORKER_POOL_SIZE"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.Worker.PoolSize = n
		}
	}
	if v := os.Getenv("JOBSTREAM_RETRY_MAX_ATTEMPTS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.Retry.MaxAttempts = n
		}
	}
	if v := os.Getenv("JOBSTREAM_STREAM_LEASE_LIMIT"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.Stream.LeaseLimit = n
		}
	}
	if v := os.Getenv("JOBSTREAM_STREAM_LEASE_TTL_SEC"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.Stream.LeaseTTLSec = n
		}
	}
	if v := os.Getenv("JOBSTREAM_STREAM_MIRROR_DIR"); v != "" {
		cfg.Stream.MirrorDir = v
	}
	if v := os.Getenv("JOBSTREAM_HTTP_ADDR"); v != "" {
		cfg.HTTP.Addr = v
	}
}
