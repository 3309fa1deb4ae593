package config

import (
	"encoding/json"
	"os"
	"time"
)

// Config is the top-level configuration loaded from file/env.
type Config struct {
	Redis  RedisConfig  `json:"redis"`
	Worker WorkerConfig `json:"worker"`
	Retry  RetryConfig  `json:"retry"`
	Status StatusConfig `json:"status"`
	Stream StreamConfig `json:"stream"`
	HTTP   HTTPConfig   `json:"http"`
}

// RedisConfig locates the broker.
type RedisConfig struct {
	Addr     string `json:"addr"`
	Password string `json:"password"`
	DB       int    `json:"db"`
}

// WorkerConfig tunes the consumer side.
type WorkerConfig struct {
	Consumers        int `json:"consumers"`        // concurrent consumer loops
	PoolSize         int `json:"poolSize"`         // blocking-work goroutines
	PoolQueueDepth   int `json:"poolQueueDepth"`   // pending blocking submissions
	WorkTimeoutSec   int `json:"workTimeoutSec"`   // per-attempt execution budget
	ScanIntervalMs   int `json:"scanIntervalMs"`   // idle delay between scans
	ErrorBackoffMs   int `json:"errorBackoffMs"`   // delay after a broker error
	SubmitTimeoutMs  int `json:"submitTimeoutMs"`  // blocking-pool admission budget
	ShutdownGraceSec int `json:"shutdownGraceSec"` // wait for in-flight work on stop
}

// RetryConfig supplies queue-wide retry defaults; per-enqueue options override.
type RetryConfig struct {
	MaxAttempts  int       `json:"maxAttempts"`
	Delays       []float64 `json:"delays"` // seconds per attempt; empty = exponential
	BaseDelaySec float64   `json:"baseDelaySec"`
	MaxDelaySec  float64   `json:"maxDelaySec"`
}

// StatusConfig tunes the job status projection.
type StatusConfig struct {
	TTLHours int `json:"ttlHours"`
}

// StreamConfig tunes stream leases and the event bus.
type StreamConfig struct {
	LeaseLimit      int    `json:"leaseLimit"` // concurrent streams per user
	LeaseTTLSec     int    `json:"leaseTtlSec"`
	LeaseGraceSec   int    `json:"leaseGraceSec"`
	PingIntervalSec int    `json:"pingIntervalSec"`
	IdleTimeoutSec  int    `json:"idleTimeoutSec"`
	MirrorDir       string `json:"mirrorDir"` // empty disables the durable mirror
}

// HTTPConfig locates the HTTP surface.
type HTTPConfig struct {
	Addr string `json:"addr"`
}

// Default returns built-in defaults.
func Default() Config {
	return Config{
		Redis: RedisConfig{Addr: "127.0.0.1:6379"},
		Worker: WorkerConfig{
			Consumers:        4,
			PoolSize:         8,
			PoolQueueDepth:   16,
			WorkTimeoutSec:   300,
			ScanIntervalMs:   250,
			ErrorBackoffMs:   1000,
			SubmitTimeoutMs:  100,
			ShutdownGraceSec: 10,
		},
		Retry: RetryConfig{
			MaxAttempts:  3,
			BaseDelaySec: 1,
			MaxDelaySec:  300,
		},
		Status: StatusConfig{TTLHours: 24},
		Stream: StreamConfig{
			LeaseLimit:      5,
			LeaseTTLSec:     300,
			LeaseGraceSec:   60,
			PingIntervalSec: 15,
			IdleTimeoutSec:  600,
		},
		HTTP: HTTPConfig{Addr: ":8080"},
	}
}

// Load reads configuration from a JSON file. If path is empty, returns
// defaults. Env overlays are applied by the caller via FromEnv.
func Load(path string) (Config, error) {
	if path == "" {
		return Default(), nil
	}
	b, err := os.ReadFile(path)
	if err != nil {
		return Config{}, err
	}
	cfg := Default()
	if err := json.Unmarshal(b, &cfg); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// WorkTimeout returns the per-attempt budget as a duration.
func (w WorkerConfig) WorkTimeout() time.Duration {
	return time.Duration(w.WorkTimeoutSec) * time.Second
}

// ScanInterval returns the idle scan delay as a duration.
func (w WorkerConfig) ScanInterval() time.Duration {
	return time.Duration(w.ScanIntervalMs) * time.Millisecond
}

// ErrorBackoff returns the broker-error backoff as a duration.
func (w WorkerConfig) ErrorBackoff() time.Duration {
	return time.Duration(w.ErrorBackoffMs) * time.Millisecond
}

// SubmitTimeout returns the blocking-pool admission budget as a duration.
func (w WorkerConfig) SubmitTimeout() time.Duration {
	return time.Duration(w.SubmitTimeoutMs) * time.Millisecond
}

// ShutdownGrace returns the in-flight grace period as a duration.
func (w WorkerConfig) ShutdownGrace() time.Duration {
	return time.Duration(w.ShutdownGraceSec) * time.Second
}

// TTL returns the status record lifetime as a duration.
func (s StatusConfig) TTL() time.Duration {
	return time.Duration(s.TTLHours) * time.Hour
}

// LeaseTTL returns the lease lifetime as a duration.
func (s StreamConfig) LeaseTTL() time.Duration {
	return time.Duration(s.LeaseTTLSec) * time.Second
}

// LeaseGrace returns the extra key-level expiry slack as a duration.
func (s StreamConfig) LeaseGrace() time.Duration {
	return time.Duration(s.LeaseGraceSec) * time.Second
}

// PingInterval returns the keepalive interval as a duration.
func (s StreamConfig) PingInterval() time.Duration {
	return time.Duration(s.PingIntervalSec) * time.Second
}

// IdleTimeout returns the subscription idle budget as a duration.
func (s StreamConfig) IdleTimeout() time.Duration {
	return time.Duration(s.IdleTimeoutSec) * time.Second
}
