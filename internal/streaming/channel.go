package streaming

import (
	"context"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/rzbill/jobstream/internal/config"
	"github.com/rzbill/jobstream/pkg/log"
)

// Publisher is the worker-side end of a stream channel. It serializes
// events onto the pub/sub channel named from the stream context and, when a
// mirror is attached, records each event durably as well.
//
// Once Complete is called the publisher is closed: further emissions are
// dropped, except that Complete itself stays idempotent.
type Publisher struct {
	rdb       *redis.Client
	sctx      StreamContext
	mirror    Mirror
	logger    log.Logger
	completed atomic.Bool
}

// NewPublisher builds a publisher for one stream. mirror may be nil.
func NewPublisher(rdb *redis.Client, sctx StreamContext, mirror Mirror, logger log.Logger) *Publisher {
	return &Publisher{
		rdb:    rdb,
		sctx:   sctx,
		mirror: mirror,
		logger: logger.With(log.Component("stream-publisher"), log.Str("channel_id", sctx.ChannelID)),
	}
}

// Publish emits one event. Events after completion are dropped silently
// except done, which remains a no-op success for idempotency.
func (p *Publisher) Publish(ctx context.Context, event Event) error {
	if p.completed.Load() {
		if event.Type == EventDone {
			return nil
		}
		p.logger.Debug("event dropped after completion", log.Str("type", event.Type))
		return nil
	}
	if event.Type == EventDone {
		p.completed.Store(true)
	}
	event.ChannelID = p.sctx.ChannelID
	event.Context = mergeContext(event.Context, p.sctx.Dimensions())
	data, err := event.Encode()
	if err != nil {
		return err
	}
	if err := p.rdb.Publish(ctx, ChannelKey(p.sctx.ChannelID), data).Err(); err != nil {
		return fmt.Errorf("streaming: publish to %s: %w", p.sctx.ChannelID, err)
	}
	if p.mirror != nil {
		if err := p.mirror.Append(event); err != nil {
			// the live channel already has the event; the mirror is best-effort
			p.logger.Warn("mirror append failed", log.Err(err))
		}
	}
	return nil
}

// mergeContext overlays stream dimensions onto an event context. Explicit
// event keys win.
func mergeContext(eventCtx, dims map[string]string) map[string]string {
	if dims == nil {
		return eventCtx
	}
	if eventCtx == nil {
		return dims
	}
	for k, v := range dims {
		if _, ok := eventCtx[k]; !ok {
			eventCtx[k] = v
		}
	}
	return eventCtx
}

// Log emits a log event.
func (p *Publisher) Log(ctx context.Context, message string) error {
	return p.Publish(ctx, NewEvent(EventLog, p.sctx.ChannelID, map[string]interface{}{"message": message}))
}

// Progress emits a progress event with a 0..1 fraction and optional step.
func (p *Publisher) Progress(ctx context.Context, fraction float64, step string) error {
	data := map[string]interface{}{"progress": fraction}
	if step != "" {
		data["step"] = step
	}
	return p.Publish(ctx, NewEvent(EventProgress, p.sctx.ChannelID, data))
}

// Data emits a data event.
func (p *Publisher) Data(ctx context.Context, payload map[string]interface{}) error {
	return p.Publish(ctx, NewEvent(EventData, p.sctx.ChannelID, payload))
}

// Error emits a non-terminal error event.
func (p *Publisher) Error(ctx context.Context, message string) error {
	return p.Publish(ctx, NewEvent(EventError, p.sctx.ChannelID, map[string]interface{}{"error": message}))
}

// Complete emits the terminal done event and closes the publisher.
func (p *Publisher) Complete(ctx context.Context, result map[string]interface{}) error {
	data := map[string]interface{}{"success": true}
	for k, v := range result {
		data[k] = v
	}
	return p.Publish(ctx, NewEvent(EventDone, p.sctx.ChannelID, data))
}

// Subscriber is the client-side end of a stream channel.
type Subscriber struct {
	rdb          *redis.Client
	pingInterval time.Duration
	idleTimeout  time.Duration
	logger       log.Logger
}

// NewSubscriber builds a subscriber with the configured keepalive and idle
// behavior.
func NewSubscriber(rdb *redis.Client, cfg config.StreamConfig, logger log.Logger) *Subscriber {
	return &Subscriber{
		rdb:          rdb,
		pingInterval: cfg.PingInterval(),
		idleTimeout:  cfg.IdleTimeout(),
		logger:       logger.With(log.Component("stream-subscriber")),
	}
}

// Subscribe delivers the channel's events until a done event arrives, the
// idle timeout elapses, or ctx is cancelled. Synthetic ping events keep
// intermediaries alive; an idle timeout emits a synthetic failed done so
// the consumer always sees exactly one terminal event. The returned channel
// closes after the terminal event.
func (s *Subscriber) Subscribe(ctx context.Context, channelID string) (<-chan Event, error) {
	sub := s.rdb.Subscribe(ctx, ChannelKey(channelID))
	// force the subscription onto the wire before the caller assumes
	// events will be seen
	if _, err := sub.Receive(ctx); err != nil {
		_ = sub.Close()
		return nil, fmt.Errorf("streaming: subscribe %s: %w", channelID, err)
	}

	out := make(chan Event, 16)
	go s.relay(ctx, channelID, sub, out)
	return out, nil
}

func (s *Subscriber) relay(ctx context.Context, channelID string, sub *redis.PubSub, out chan<- Event) {
	defer close(out)
	defer sub.Close()

	logger := s.logger.With(log.Str("channel_id", channelID))
	msgs := sub.Channel()
	ping := time.NewTicker(s.pingInterval)
	defer ping.Stop()
	idle := time.NewTimer(s.idleTimeout)
	defer idle.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ping.C:
			select {
			case out <- NewEvent(EventPing, channelID, nil):
			case <-ctx.Done():
				return
			}
		case <-idle.C:
			logger.Debug("stream idle timeout")
			done := NewEvent(EventDone, channelID, map[string]interface{}{
				"success": false,
				"error":   "stream idle timeout",
			})
			select {
			case out <- done:
			case <-ctx.Done():
			}
			return
		case msg, ok := <-msgs:
			if !ok {
				return
			}
			event, err := DecodeEvent([]byte(msg.Payload))
			if err != nil {
				logger.Warn("undecodable stream event", log.Err(err))
				continue
			}
			if !idle.Stop() {
				select {
				case <-idle.C:
				default:
				}
			}
			idle.Reset(s.idleTimeout)
			select {
			case out <- event:
			case <-ctx.Done():
				return
			}
			if event.Terminal() {
				return
			}
		}
	}
}
