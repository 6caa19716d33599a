package notify

import (
	"context"
	"encoding/json"
)

// DefaultChannel is the pub/sub channel used by the Redis and Postgres
// transports when none is configured.
const DefaultChannel = "periodic_wake"

// Client broadcasts wake signals to peer schedulers.
type Client interface {
	// BroadcastWake asks every peer to re-evaluate its next due task.
	// peers holds the HTTP base addresses of live instances; pub/sub
	// transports ignore it.
	BroadcastWake(ctx context.Context, peers []string) error
}

// Listener receives wake signals from peers.
type Listener interface {
	// Listen calls onWake for every wake received from another process.
	// It blocks until ctx is done and returns nil in that case.
	Listen(ctx context.Context, onWake func()) error
}

// ClientFunc adapts a function to Client.
type ClientFunc func(ctx context.Context, peers []string) error

// BroadcastWake calls f.
func (f ClientFunc) BroadcastWake(ctx context.Context, peers []string) error {
	return f(ctx, peers)
}

// Noop is a Client that drops every broadcast. It is the default for
// single-process deployments.
type Noop struct{}

// BroadcastWake does nothing.
func (Noop) BroadcastWake(context.Context, []string) error { return nil }

// message is the payload published by the pub/sub transports. Sender lets a
// process drop its own broadcast.
type message struct {
	Sender string `json:"sender"`
}

func encodeMessage(sender string) (string, error) {
	b, err := json.Marshal(message{Sender: sender})
	if err != nil {
		return "", err
	}
	return string(b), nil
}

// fromSelf reports whether payload was published by sender. Payloads that
// fail to decode are treated as foreign so they still trigger a wake.
func fromSelf(payload, sender string) bool {
	if sender == "" {
		return false
	}
	var m message
	if err := json.Unmarshal([]byte(payload), &m); err != nil {
		return false
	}
	return m.Sender == sender
}
