package redis

import (
	"context"
	"encoding/json"
	"fmt"

	goredis "github.com/redis/go-redis/v9"

	"github.com/yungbote/rewatch-backend/internal/platform/envutil"
	"github.com/yungbote/rewatch-backend/internal/platform/logger"
	"github.com/yungbote/rewatch-backend/internal/sse"
)

// SSEBus fans SSE messages out across processes: the API pod publishes,
// every pod's forwarder feeds its local hub. A single-process deployment
// can skip the bus and emit straight into the hub.
type SSEBus interface {
	Publish(ctx context.Context, msg sse.SSEMessage) error
	StartForwarder(ctx context.Context, onMsg func(m sse.SSEMessage)) error
	Close() error
}

type sseBus struct {
	log     *logger.Logger
	client  *goredis.Client
	channel string
}

func NewSSEBus(log *logger.Logger) (SSEBus, error) {
	if log == nil {
		return nil, fmt.Errorf("logger required")
	}
	client, err := connect()
	if err != nil {
		return nil, err
	}
	return &sseBus{log: log.With("service", "RedisSSEBus"), client: client, channel: envutil.String("REDIS_CHANNEL", "sse")}, nil
}

func (b *sseBus) Publish(ctx context.Context, msg sse.SSEMessage) error {
	if b == nil || b.client == nil {
		return fmt.Errorf("redis SSE bus not initialized")
	}
	payload, err := json.Marshal(msg)
	if err != nil {
		return err
	}
	return b.client.Publish(ctx, b.channel, payload).Err()
}

func (b *sseBus) StartForwarder(ctx context.Context, onMsg func(m sse.SSEMessage)) error {
	if b == nil || b.client == nil {
		return fmt.Errorf("redis SSE bus not initialized")
	}
	if onMsg == nil {
		return fmt.Errorf("onMsg callback required")
	}

	sub := b.client.Subscribe(ctx, b.channel)

	// Receive confirms the SUBSCRIBE round-trip before reporting success.
	if _, err := sub.Receive(ctx); err != nil {
		_ = sub.Close()
		return fmt.Errorf("redis subscribe: %w", err)
	}

	go b.pump(ctx, sub, onMsg)
	return nil
}

// pump drains the subscription into the callback until the context ends or
// the subscription channel closes.
func (b *sseBus) pump(ctx context.Context, sub *goredis.PubSub, onMsg func(m sse.SSEMessage)) {
	defer sub.Close()
	in := sub.Channel()
	for {
		select {
		case <-ctx.Done():
			return
		case m, ok := <-in:
			if !ok || m == nil {
				return
			}
			var msg sse.SSEMessage
			if err := json.Unmarshal([]byte(m.Payload), &msg); err != nil {
				b.log.Warn("bad redis SSE payload", "error", err)
				continue
			}
			onMsg(msg)
		}
	}
}

func (b *sseBus) Close() error {
	if b == nil || b.client == nil {
		return nil
	}
	return b.client.Close()
}
