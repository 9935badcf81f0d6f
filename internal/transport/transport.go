// QLStats Feeder - Quake Live Match Statistics Ingestion
// Copyright 2026 QLStats contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/qlstats/feeder

// Package transport abstracts one pub/sub subscription to a game
// server's stats endpoint.
//
// The feed state machine consumes connection lifecycle callbacks and
// raw message bytes through the Events interface; the production
// implementation is the ZeroMQ subscriber in zmq.go, tests substitute
// an in-memory Dialer.
package transport

// Events receives lifecycle notifications and messages for one
// subscription. Callbacks may be invoked from the subscriber's own
// goroutines; implementations must serialize internally.
type Events interface {
	// OnConnect fires when the underlying socket reports a successful
	// connection.
	OnConnect()

	// OnConnectRetry fires on every delayed or retried connection
	// attempt while the endpoint is unreachable. It can fire many
	// times per second; receivers must not log each occurrence.
	OnConnectRetry()

	// OnMessage delivers one raw published message. Messages on a
	// single subscription arrive in publish order.
	OnMessage(data []byte)

	// OnDisconnect fires when an established connection drops.
	OnDisconnect()

	// OnMonitorError fires when connection-state monitoring itself
	// fails; the subscription can no longer report lifecycle changes
	// reliably.
	OnMonitorError(err error)
}

// Subscriber is a live subscription. Close is idempotent and initiates
// teardown without blocking: a callback already in flight may still be
// delivered after Close returns, so consumers must carry their own
// staleness guard. Close is safe to call from within an Events
// callback.
type Subscriber interface {
	Close() error
}

// Dialer opens subscriptions. addr is "ip:port"; password is the
// server's stats password, empty for open servers.
type Dialer interface {
	Dial(addr, password string, ev Events) (Subscriber, error)
}
