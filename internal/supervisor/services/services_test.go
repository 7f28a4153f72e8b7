// Cinecohort - Film Cohort Sync and Ranking
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/cinecohort

package services

import (
	"context"
	"errors"
	"net/http"
	"sync/atomic"
	"testing"
	"time"

	"github.com/thejerf/suture/v4"
)

var (
	_ suture.Service = (*HTTPServerService)(nil)
	_ suture.Service = (*CoordinatorService)(nil)
	_ suture.Service = (*RunnerService)(nil)
)

type mockHTTPServer struct {
	listenErr   error
	shutdownErr error
	started     chan struct{}
	stop        chan struct{}
	shutdowns   atomic.Int32
}

func newMockHTTPServer() *mockHTTPServer {
	return &mockHTTPServer{started: make(chan struct{}, 1), stop: make(chan struct{})}
}

func (m *mockHTTPServer) ListenAndServe() error {
	m.started <- struct{}{}
	if m.listenErr != nil {
		return m.listenErr
	}
	<-m.stop
	return http.ErrServerClosed
}

func (m *mockHTTPServer) Shutdown(context.Context) error {
	m.shutdowns.Add(1)
	close(m.stop)
	return m.shutdownErr
}

func serveAsync(ctx context.Context, svc suture.Service) <-chan error {
	errCh := make(chan error, 1)
	go func() { errCh <- svc.Serve(ctx) }()
	return errCh
}

func await(t *testing.T, errCh <-chan error) error {
	t.Helper()
	select {
	case err := <-errCh:
		return err
	case <-time.After(2 * time.Second):
		t.Fatal("Serve did not return")
		return nil
	}
}

func TestHTTPServerService(t *testing.T) {
	t.Run("graceful shutdown on cancel", func(t *testing.T) {
		server := newMockHTTPServer()
		svc := NewHTTPServerService(server, time.Second)
		ctx, cancel := context.WithCancel(context.Background())
		errCh := serveAsync(ctx, svc)
		<-server.started
		cancel()
		if err := await(t, errCh); !errors.Is(err, context.Canceled) {
			t.Errorf("Serve() = %v, want context.Canceled", err)
		}
		if server.shutdowns.Load() != 1 {
			t.Errorf("shutdowns = %d, want 1", server.shutdowns.Load())
		}
	})

	t.Run("startup failure", func(t *testing.T) {
		bind := errors.New("bind: address already in use")
		server := newMockHTTPServer()
		server.listenErr = bind
		if err := NewHTTPServerService(server, time.Second).Serve(context.Background()); !errors.Is(err, bind) {
			t.Errorf("Serve() = %v, want %v", err, bind)
		}
	})

	t.Run("shutdown failure", func(t *testing.T) {
		server := newMockHTTPServer()
		server.shutdownErr = errors.New("shutdown timeout")
		ctx, cancel := context.WithCancel(context.Background())
		errCh := serveAsync(ctx, NewHTTPServerService(server, time.Second))
		<-server.started
		cancel()
		if err := await(t, errCh); !errors.Is(err, server.shutdownErr) {
			t.Errorf("Serve() = %v, want shutdown error", err)
		}
	})

	t.Run("default timeout", func(t *testing.T) {
		if svc := NewHTTPServerService(newMockHTTPServer(), -time.Second); svc.shutdownTimeout != 10*time.Second {
			t.Errorf("shutdownTimeout = %v", svc.shutdownTimeout)
		}
	})
}

type fakeCoordinator struct {
	recoverErr error
	recovered  atomic.Int32
	shutdowns  atomic.Int32
}

func (f *fakeCoordinator) Recover(context.Context) (int, error) {
	f.recovered.Add(1)
	return 2, f.recoverErr
}

func (f *fakeCoordinator) Shutdown() { f.shutdowns.Add(1) }

func TestCoordinatorService(t *testing.T) {
	t.Parallel()

	c := &fakeCoordinator{}
	ctx, cancel := context.WithCancel(context.Background())
	errCh := serveAsync(ctx, NewCoordinatorService(c))
	cancel()
	if err := await(t, errCh); !errors.Is(err, context.Canceled) {
		t.Errorf("Serve() = %v", err)
	}
	if c.recovered.Load() != 1 || c.shutdowns.Load() != 1 {
		t.Errorf("recovered = %d shutdowns = %d, want 1 and 1", c.recovered.Load(), c.shutdowns.Load())
	}

	failing := &fakeCoordinator{recoverErr: errors.New("database locked")}
	if err := NewCoordinatorService(failing).Serve(context.Background()); err == nil {
		t.Error("Serve() with failing Recover = nil")
	}
	if failing.shutdowns.Load() != 0 {
		t.Error("Shutdown called after failed Recover")
	}
}

type runnerFunc func(ctx context.Context) error

func (f runnerFunc) Run(ctx context.Context) error { return f(ctx) }

func TestRunnerService(t *testing.T) {
	t.Parallel()

	blocking := NewRunnerService("scheduler", runnerFunc(func(ctx context.Context) error {
		<-ctx.Done()
		return nil
	}))
	if blocking.String() != "scheduler" {
		t.Errorf("String() = %q", blocking.String())
	}
	ctx, cancel := context.WithCancel(context.Background())
	errCh := serveAsync(ctx, blocking)
	cancel()
	if err := await(t, errCh); !errors.Is(err, context.Canceled) {
		t.Errorf("Serve() after cancel = %v, want context.Canceled", err)
	}

	early := NewRunnerService("bus", runnerFunc(func(context.Context) error { return nil }))
	if err := early.Serve(context.Background()); err == nil {
		t.Error("Serve() of a runner that returned early = nil, want error")
	}

	boom := errors.New("router closed")
	failing := NewRunnerService("bus", runnerFunc(func(context.Context) error { return boom }))
	if err := failing.Serve(context.Background()); !errors.Is(err, boom) {
		t.Errorf("Serve() = %v, want wrapped %v", err, boom)
	}
}
