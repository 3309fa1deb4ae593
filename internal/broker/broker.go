package broker

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/rzbill/jobstream/internal/config"
)

// Broker holds the shared Redis connection.
type Broker struct {
	client *redis.Client
}

// Open connects to Redis and verifies the connection with a ping.
func Open(ctx context.Context, cfg config.RedisConfig) (*Broker, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})
	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("broker: connect %s: %w", cfg.Addr, err)
	}
	return &Broker{client: client}, nil
}

// Client returns the underlying Redis client.
func (b *Broker) Client() *redis.Client { return b.client }

// Close releases the connection pool.
func (b *Broker) Close() error { return b.client.Close() }
