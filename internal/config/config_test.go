package config

import (
	"os"
	"path/filepath"
	"testing"
)

func TestDefault(t *testing.T) {
	cfg := Default()
	if cfg.Redis.Addr != "127.0.0.1:6379" {
		t.Fatalf("redis addr default")
	}
	if cfg.Worker.Consumers != 4 {
		t.Fatalf("consumers default")
	}
	if cfg.Retry.MaxAttempts != 3 {
		t.Fatalf("max attempts default")
	}
	if cfg.Stream.LeaseLimit != 5 {
		t.Fatalf("lease limit default")
	}
	if cfg.Status.TTLHours != 24 {
		t.Fatalf("status ttl default")
	}
}

func TestLoadJSON(t *testing.T) {
	dir := t.TempDir()
	file := filepath.Join(dir, "jobstream.json")
	data := []byte(`{"redis":{"addr":"10.0.0.1:6379","db":2},"worker":{"consumers":8},"retry":{"maxAttempts":5,"delays":[1,2,4]}}`)
	if err := os.WriteFile(file, data, 0644); err != nil {
		t.Fatalf("write: %v", err)
	}
	cfg, err := Load(file)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Redis.Addr != "10.0.0.1:6379" || cfg.Redis.DB != 2 {
		t.Fatalf("redis override")
	}
	if cfg.Worker.Consumers != 8 {
		t.Fatalf("worker override")
	}
	if len(cfg.Retry.Delays) != 3 || cfg.Retry.Delays[2] != 4 {
		t.Fatalf("delays override")
	}
	// untouched fields keep defaults
	if cfg.Worker.PoolSize != 8 {
		t.Fatalf("pool size should keep default")
	}
}

func TestFromEnv(t *testing.T) {
	cfg := Default()
	os.Setenv("JOBSTREAM_REDIS_ADDR", "redis:6379")
	os.Setenv("JOBSTREAM_WORKER_CONSUMERS", "16")
	os.Setenv("JOBSTREAM_STREAM_LEASE_LIMIT", "2")
	t.Cleanup(func() {
		os.Unsetenv("JOBSTREAM_REDIS_ADDR")
		os.Unsetenv("JOBSTREAM_WORKER_CONSUMERS")
		os.Unsetenv("JOBSTREAM_STREAM_LEASE_LIMIT")
	})
	FromEnv(&cfg)
	if cfg.Redis.Addr != "redis:6379" {
		t.Fatalf("env redis addr")
	}
	if cfg.Worker.Consumers != 16 {
		t.Fatalf("env consumers")
	}
	if cfg.Stream.LeaseLimit != 2 {
		t.Fatalf("env lease limit")
	}
}
