// QLStats Feeder - Quake Live Match Statistics Ingestion
// Copyright 2026 QLStats contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/qlstats/feeder

package transport

import (
	"fmt"
	"sync"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/google/uuid"
	zmq "github.com/pebbe/zmq4"

	"github.com/qlstats/feeder/internal/logging"
)

// plainUsername is the fixed PLAIN-auth username Quake Live servers
// expect on their stats socket.
const plainUsername = "stats"

// pollInterval bounds how long the receive and monitor loops block
// before re-checking for shutdown. ZeroMQ sockets are not safe for
// cross-goroutine Close, so each loop owns its socket and polls.
const pollInterval = 250 * time.Millisecond

// ZMQDialer opens ZeroMQ SUB subscriptions to game servers.
type ZMQDialer struct{}

// NewZMQDialer returns the production dialer.
func NewZMQDialer() *ZMQDialer {
	return &ZMQDialer{}
}

// Dial connects a SUB socket to tcp://addr, subscribes to all topics
// and starts the receive and monitor loops. Lifecycle callbacks are
// delivered on ev until Close.
func (d *ZMQDialer) Dial(addr, password string, ev Events) (Subscriber, error) {
	sub := &zmqSubscriber{addr: addr, events: ev}
	if err := sub.open(password); err != nil {
		// The loops never started, so the sockets are still owned here.
		sub.closed.Store(true)
		sub.closeSocket(sub.sock)
		sub.closeSocket(sub.mon)
		return nil, err
	}
	return sub, nil
}

type zmqSubscriber struct {
	addr   string
	events Events

	sock *zmq.Socket
	mon  *zmq.Socket

	closed    atomic.Bool
	wg        sync.WaitGroup
	closeOnce sync.Once
}

func (s *zmqSubscriber) open(password string) error {
	sock, err := zmq.NewSocket(zmq.SUB)
	if err != nil {
		return fmt.Errorf("create sub socket: %w", err)
	}
	s.sock = sock

	if err := sock.SetLinger(0); err != nil {
		return fmt.Errorf("set linger: %w", err)
	}
	if err := sock.SetRcvtimeo(pollInterval); err != nil {
		return fmt.Errorf("set receive timeout: %w", err)
	}
	if password != "" {
		if err := sock.SetPlainUsername(plainUsername); err != nil {
			return fmt.Errorf("set plain username: %w", err)
		}
		if err := sock.SetPlainPassword(password); err != nil {
			return fmt.Errorf("set plain password: %w", err)
		}
	}

	// Each subscriber gets its own inproc monitor endpoint; endpoints
	// are process-global in ZeroMQ and must not collide on reconnect.
	monAddr := "inproc://monitor-" + s.addr + "-" + uuid.NewString()
	monMask := zmq.EVENT_CONNECTED | zmq.EVENT_CONNECT_DELAYED | zmq.EVENT_CONNECT_RETRIED |
		zmq.EVENT_DISCONNECTED | zmq.EVENT_MONITOR_STOPPED
	if err := sock.Monitor(monAddr, monMask); err != nil {
		return fmt.Errorf("start socket monitor: %w", err)
	}

	mon, err := zmq.NewSocket(zmq.PAIR)
	if err != nil {
		return fmt.Errorf("create monitor socket: %w", err)
	}
	s.mon = mon
	if err := mon.SetRcvtimeo(pollInterval); err != nil {
		return fmt.Errorf("set monitor receive timeout: %w", err)
	}
	if err := mon.Connect(monAddr); err != nil {
		return fmt.Errorf("connect monitor socket: %w", err)
	}

	if err := sock.Connect("tcp://" + s.addr); err != nil {
		return fmt.Errorf("connect tcp://%s: %w", s.addr, err)
	}
	if err := sock.SetSubscribe(""); err != nil {
		return fmt.Errorf("subscribe: %w", err)
	}

	s.wg.Add(2)
	go s.recvLoop()
	go s.monitorLoop()
	return nil
}

func (s *zmqSubscriber) recvLoop() {
	defer s.wg.Done()
	defer s.closeSocket(s.sock)

	for !s.closed.Load() {
		data, err := s.sock.RecvBytes(0)
		if err != nil {
			if isTimeout(err) {
				continue
			}
			if s.closed.Load() {
				return
			}
			logging.Debug().Err(err).Str("addr", s.addr).Msg("zmq receive failed")
			return
		}
		s.events.OnMessage(data)
	}
}

func (s *zmqSubscriber) monitorLoop() {
	defer s.wg.Done()
	defer s.closeSocket(s.mon)

	for !s.closed.Load() {
		eventType, _, _, err := s.mon.RecvEvent(0)
		if err != nil {
			if isTimeout(err) {
				continue
			}
			if s.closed.Load() {
				return
			}
			s.events.OnMonitorError(err)
			return
		}

		switch eventType {
		case zmq.EVENT_CONNECTED:
			s.events.OnConnect()
		case zmq.EVENT_CONNECT_DELAYED, zmq.EVENT_CONNECT_RETRIED:
			s.events.OnConnectRetry()
		case zmq.EVENT_DISCONNECTED:
			s.events.OnDisconnect()
		case zmq.EVENT_MONITOR_STOPPED:
			return
		}
	}
}

// Close signals both loops to stop; each loop releases its own socket
// on its next poll tick since ZeroMQ sockets must not be closed from a
// foreign goroutine. Non-blocking so it is safe to call from within an
// Events callback.
func (s *zmqSubscriber) Close() error {
	s.closeOnce.Do(func() {
		s.closed.Store(true)
	})
	return nil
}

func (s *zmqSubscriber) closeSocket(sock *zmq.Socket) {
	if sock == nil {
		return
	}
	if err := sock.Close(); err != nil {
		logging.Debug().Err(err).Str("addr", s.addr).Msg("zmq socket close failed")
	}
}

// isTimeout reports whether err is the EAGAIN a receive with RCVTIMEO
// returns when no message arrived within the timeout.
func isTimeout(err error) bool {
	return zmq.AsErrno(err) == zmq.Errno(syscall.EAGAIN)
}
