// Copyright 2025 James Ross
package bus

import (
	"context"
	"fmt"

	"github.com/nats-io/nats.go"
)

// NATS adapts core pub/sub (no JetStream durability) to the Bus contract,
// for deployments that already run a NATS cluster for other event
// traffic.
type NATS struct {
	conn *nats.Conn
}

func NewNATS(url string) (*NATS, error) {
	conn, err := nats.Connect(url)
	if err != nil {
		return nil, fmt.Errorf("connect nats: %w", err)
	}
	return &NATS{conn: conn}, nil
}

func (b *NATS) Send(ctx context.Context, msg Message) error {
	subject := msg.Channel
	if !msg.Broadcast && msg.Target != "" {
		subject = msg.Channel + "." + msg.Target
	}
	return b.conn.Publish(subject, msg.Payload)
}

func (b *NATS) Subscribe(ctx context.Context, channel string, fn func(Message)) (func(), error) {
	sub, err := b.conn.Subscribe(channel, func(m *nats.Msg) {
		fn(Message{Channel: channel, Payload: m.Data, Broadcast: true})
	})
	if err != nil {
		return nil, fmt.Errorf("subscribe %s: %w", channel, err)
	}
	return func() { _ = sub.Unsubscribe() }, nil
}

func (b *NATS) Close() error {
	b.conn.Close()
	return nil
}
