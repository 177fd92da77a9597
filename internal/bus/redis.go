// Copyright 2025 James Ross
package bus

import (
	"context"
	"fmt"

	"github.com/redis/go-redis/v9"
)

// Redis adapts go-redis PUBLISH/SUBSCRIBE to the Bus contract, for
// deployments that already run Redis for other purposes and don't want
// to add NATS just for progress events.
type Redis struct {
	client *redis.Client
}

func NewRedis(addr string) *Redis {
	return &Redis{client: redis.NewClient(&redis.Options{Addr: addr})}
}

func (b *Redis) Send(ctx context.Context, msg Message) error {
	if err := b.client.Publish(ctx, msg.Channel, msg.Payload).Err(); err != nil {
		return fmt.Errorf("publish %s: %w", msg.Channel, err)
	}
	return nil
}

func (b *Redis) Subscribe(ctx context.Context, channel string, fn func(Message)) (func(), error) {
	sub := b.client.Subscribe(ctx, channel)
	ch := sub.Channel()
	done := make(chan struct{})
	go func() {
		for {
			select {
			case <-done:
				return
			case m, ok := <-ch:
				if !ok {
					return
				}
				fn(Message{Channel: m.Channel, Payload: []byte(m.Payload), Broadcast: true})
			}
		}
	}()
	return func() {
		close(done)
		_ = sub.Close()
	}, nil
}

func (b *Redis) Close() error {
	return b.client.Close()
}
