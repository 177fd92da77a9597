// Copyright 2025 James Ross
// Package bus defines the message bus abstraction the Progress Monitor
// broadcasts job and batch lifecycle events through, plus three
// interchangeable adapters.
package bus

import "context"

// Message is one envelope sent over the bus.
type Message struct {
	Channel       string
	Payload       []byte // caller-serialized JSON
	Sender        string
	Target        string // optional; empty when Broadcast is true
	CorrelationID string
	Broadcast     bool
}

// Bus is the narrow contract the monitor depends on; adapters (in-process
// channel, NATS, Redis) are interchangeable.
type Bus interface {
	Send(ctx context.Context, msg Message) error

	// Subscribe registers fn to be called for every message published on
	// channel. Returns an unsubscribe function.
	Subscribe(ctx context.Context, channel string, fn func(Message)) (func(), error)

	Close() error
}

// ProgressChannel is the channel name the core uses for job/batch
// lifecycle events.
const ProgressChannel = "job-progress"

// ProgressSender is the senderId the Progress Monitor stamps on every
// event it sends.
const ProgressSender = "job-progress-monitor"
