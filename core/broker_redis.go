package core

import (
	"context"
	"fmt"
	"strings"

	"github.com/redis/go-redis/v9"
)

// RedisBroker shares groups between processes through redis pub/sub.
// Every group maps onto the channel <prefix><group>.
type RedisBroker struct {
	client *redis.Client
	prefix string
}

var _ Broker = (*RedisBroker)(nil)

func NewRedisBroker(client *redis.Client, prefix string) *RedisBroker {
	if prefix == "" {
		prefix = "pharmadesk:"
	}
	return &RedisBroker{client: client, prefix: prefix}
}

func (b *RedisBroker) Publish(ctx context.Context, group string, payload []byte) error {
	if err := b.client.Publish(ctx, b.prefix+group, payload).Err(); err != nil {
		return fmt.Errorf("redis publish(%s): %w", group, err)
	}
	return nil
}

func (b *RedisBroker) Subscribe(ctx context.Context) (<-chan BrokerMessage, error) {
	pubsub := b.client.PSubscribe(ctx, b.prefix+"*")
	// wait for the subscription to be confirmed so nothing published after
	// Subscribe returns is missed
	if _, err := pubsub.Receive(ctx); err != nil {
		pubsub.Close()
		return nil, fmt.Errorf("redis psubscribe: %w", err)
	}

	out := make(chan BrokerMessage, 256)
	go func() {
		defer close(out)
		defer pubsub.Close()
		ch := pubsub.Channel()
		for {
			select {
			case <-ctx.Done():
				return
			case msg, ok := <-ch:
				if !ok {
					return
				}
				select {
				case out <- BrokerMessage{
					Group:   strings.TrimPrefix(msg.Channel, b.prefix),
					Payload: []byte(msg.Payload),
				}:
				case <-ctx.Done():
					return
				}
			}
		}
	}()

	return out, nil
}

// Close is a no-op: the redis client is owned by the caller.
func (b *RedisBroker) Close() error {
	return nil
}
