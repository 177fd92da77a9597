// Copyright 2025 James Ross
package bus

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestInProcessSendDeliversToSubscribers(t *testing.T) {
	b := NewInProcess()
	received := make(chan Message, 1)
	_, err := b.Subscribe(context.Background(), "job-progress", func(m Message) {
		received <- m
	})
	require.NoError(t, err)

	err = b.Send(context.Background(), Message{Channel: "job-progress", Payload: []byte("hello"), Broadcast: true})
	require.NoError(t, err)

	select {
	case m := <-received:
		require.Equal(t, []byte("hello"), m.Payload)
	default:
		t.Fatal("expected message to be delivered synchronously")
	}
}

func TestInProcessSendIgnoresOtherChannels(t *testing.T) {
	b := NewInProcess()
	called := false
	_, err := b.Subscribe(context.Background(), "other-channel", func(m Message) { called = true })
	require.NoError(t, err)

	require.NoError(t, b.Send(context.Background(), Message{Channel: "job-progress", Payload: []byte("x")}))
	require.False(t, called)
}

func TestInProcessUnsubscribeStopsDelivery(t *testing.T) {
	b := NewInProcess()
	count := 0
	unsub, err := b.Subscribe(context.Background(), "job-progress", func(m Message) { count++ })
	require.NoError(t, err)

	require.NoError(t, b.Send(context.Background(), Message{Channel: "job-progress"}))
	unsub()
	require.NoError(t, b.Send(context.Background(), Message{Channel: "job-progress"}))

	require.Equal(t, 1, count)
}
