package streaming

import (
	"github.com/redis/go-redis/v9"

	"github.com/rzbill/jobstream/pkg/log"
)

// Factory builds publishers that share the process's Redis client, durable
// mirror, and logger. Processors hold a Factory and open one Publisher per
// stream context they receive.
type Factory struct {
	rdb    *redis.Client
	mirror Mirror
	logger log.Logger
}

// NewFactory wires a publisher factory. mirror may be nil to disable the
// durable event mirror.
func NewFactory(rdb *redis.Client, mirror Mirror, logger log.Logger) *Factory {
	return &Factory{rdb: rdb, mirror: mirror, logger: logger}
}

// Publisher opens the publishing end of sctx's channel.
func (f *Factory) Publisher(sctx StreamContext) *Publisher {
	return NewPublisher(f.rdb, sctx, f.mirror, f.logger)
}
