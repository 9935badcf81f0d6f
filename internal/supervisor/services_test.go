// QLStats Feeder - Quake Live Match Statistics Ingestion
// Copyright 2026 QLStats contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/qlstats/feeder

package supervisor

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"
)

type mockHTTPServer struct {
	listenErr error
	block     chan struct{}
	shutdowns atomic.Int64
}

func (m *mockHTTPServer) ListenAndServe() error {
	if m.listenErr != nil {
		return m.listenErr
	}
	<-m.block
	return nil
}

func (m *mockHTTPServer) Shutdown(ctx context.Context) error {
	m.shutdowns.Add(1)
	close(m.block)
	return nil
}

func TestHTTPServerServiceShutdownOnCancel(t *testing.T) {
	t.Parallel()

	server := &mockHTTPServer{block: make(chan struct{})}
	svc := NewHTTPServerService(server, time.Second)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- svc.Serve(ctx) }()

	cancel()
	select {
	case err := <-done:
		if !errors.Is(err, context.Canceled) {
			t.Errorf("Serve() = %v, want context.Canceled", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Serve() did not return after cancel")
	}
	if server.shutdowns.Load() != 1 {
		t.Errorf("shutdowns = %d, want 1", server.shutdowns.Load())
	}
}

func TestHTTPServerServicePropagatesListenError(t *testing.T) {
	t.Parallel()

	listenErr := errors.New("address in use")
	svc := NewHTTPServerService(&mockHTTPServer{listenErr: listenErr}, time.Second)

	err := svc.Serve(context.Background())
	if !errors.Is(err, listenErr) {
		t.Errorf("Serve() = %v, want listen error", err)
	}
}

func TestRunFuncAdapter(t *testing.T) {
	t.Parallel()

	wantErr := errors.New("worker failed")
	svc := RunFunc{
		Name: "worker",
		Run:  func(context.Context) error { return wantErr },
	}
	if svc.String() != "worker" {
		t.Errorf("String() = %q, want worker", svc.String())
	}
	if err := svc.Serve(context.Background()); !errors.Is(err, wantErr) {
		t.Errorf("Serve() = %v, want worker error", err)
	}
}

func TestTickerServiceInvokesAndStops(t *testing.T) {
	t.Parallel()

	var ticks atomic.Int64
	svc := TickerService{
		Name:     "ticker",
		Interval: 10 * time.Millisecond,
		Fn:       func(context.Context) { ticks.Add(1) },
	}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- svc.Serve(ctx) }()

	deadline := time.Now().Add(2 * time.Second)
	for ticks.Load() < 3 {
		if time.Now().After(deadline) {
			t.Fatalf("only %d ticks", ticks.Load())
		}
		time.Sleep(5 * time.Millisecond)
	}

	cancel()
	select {
	case err := <-done:
		if !errors.Is(err, context.Canceled) {
			t.Errorf("Serve() = %v, want context.Canceled", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Serve() did not return after cancel")
	}
}
