// Cinecohort - Film Cohort Sync and Ranking
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/cinecohort

package commands

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/tomtom215/cinecohort/internal/config"
	"github.com/tomtom215/cinecohort/internal/logging"
	"github.com/tomtom215/cinecohort/internal/models"
	"github.com/tomtom215/cinecohort/internal/recompute"
	syncer "github.com/tomtom215/cinecohort/internal/sync"
)

type call struct {
	kind     Type
	cohortID int64
	runID    int64
	req      models.SyncRequest
}

type fakeServices struct {
	mu           sync.Mutex
	calls        []call
	seen         chan call
	recomputeErr error
	startErr     error
}

func newFakeServices() *fakeServices {
	return &fakeServices{seen: make(chan call, 32)}
}

func (f *fakeServices) record(c call) {
	f.mu.Lock()
	f.calls = append(f.calls, c)
	f.mu.Unlock()
	f.seen <- c
}

func (f *fakeServices) count(kind Type) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	n := 0
	for _, c := range f.calls {
		if c.kind == kind {
			n++
		}
	}
	return n
}

func (f *fakeServices) Start(_ context.Context, cohortID int64, req models.SyncRequest) (*models.SyncRun, error) {
	f.record(call{kind: TypeSync, cohortID: cohortID, req: req})
	if f.startErr != nil {
		return nil, f.startErr
	}
	return &models.SyncRun{ID: 7, CohortID: cohortID}, nil
}

func (f *fakeServices) Cancel(runID int64) error {
	f.record(call{kind: TypeCancelRun, runID: runID})
	return nil
}

func (f *fakeServices) Refresh(_ context.Context, cohortID int64) (*models.MembershipDiff, error) {
	f.record(call{kind: TypeRefreshMembership, cohortID: cohortID})
	return &models.MembershipDiff{Added: []string{"bob"}}, nil
}

func (f *fakeServices) All(_ context.Context, cohortID int64) (*recompute.Summary, error) {
	f.record(call{kind: TypeRecompute, cohortID: cohortID})
	if f.recomputeErr != nil {
		return nil, f.recomputeErr
	}
	return &recompute.Summary{CohortID: cohortID, Stats: &models.StatsSnapshotInfo{Films: 3}}, nil
}

func (f *fakeServices) wait(t *testing.T, kind Type) call {
	t.Helper()
	deadline := time.After(5 * time.Second)
	for {
		select {
		case c := <-f.seen:
			if c.kind == kind {
				return c
			}
		case <-deadline:
			t.Fatalf("timed out waiting for %s", kind)
		}
	}
}

func eventually(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatalf("timed out waiting for %s", what)
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func fastOptions() RouterOptions {
	return RouterOptions{
		CloseTimeout:    time.Second,
		MaxRetries:      2,
		InitialInterval: time.Millisecond,
		MaxInterval:     5 * time.Millisecond,
	}
}

func startBus(t *testing.T, cfg config.MessagingConfig, h *Handler) *Bus {
	t.Helper()
	bus, err := New(cfg, h, fastOptions())
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		_ = bus.Run(ctx)
	}()
	t.Cleanup(func() {
		cancel()
		_ = bus.Close()
		<-done
	})
	select {
	case <-bus.Running():
	case <-time.After(10 * time.Second):
		t.Fatal("router did not start")
	}
	if err := bus.Ready(ctx); err != nil {
		t.Fatalf("Ready() = %v", err)
	}
	return bus
}

func TestCommand_Validate(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		cmd  Command
		ok   bool
	}{
		{"sync", SyncCohort(1, models.SyncRequest{Mode: models.SyncModeFull}), true},
		{"sync default mode", SyncCohort(1, models.SyncRequest{}), true},
		{"sync bad mode", SyncCohort(1, models.SyncRequest{Mode: "partial"}), false},
		{"refresh", RefreshMembership(2), true},
		{"recompute without cohort", Recompute(0), false},
		{"cancel", CancelRun(3), true},
		{"cancel without run", CancelRun(0), false},
		{"unknown type", Command{Type: "explode", CohortID: 1}, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			err := tt.cmd.Validate()
			if tt.ok && err != nil {
				t.Errorf("Validate() error = %v", err)
			}
			if !tt.ok && !errors.Is(err, ErrInvalidCommand) {
				t.Errorf("Validate() error = %v, want ErrInvalidCommand", err)
			}
		})
	}
}

func TestEncodeDecode(t *testing.T) {
	t.Parallel()

	msg, err := encode(SyncCohort(4, models.SyncRequest{ForceFull: true}), "corr-1")
	if err != nil {
		t.Fatal(err)
	}
	if msg.UUID == "" || msg.Metadata.Get(metaType) != string(TypeSync) || msg.Metadata.Get(metaCorrelationID) != "corr-1" {
		t.Errorf("message = %s %v", msg.UUID, msg.Metadata)
	}
	cmd, err := decode(msg)
	if err != nil {
		t.Fatal(err)
	}
	if cmd.ID != msg.UUID || cmd.CohortID != 4 || cmd.Sync == nil || !cmd.Sync.ForceFull {
		t.Errorf("decoded = %+v", cmd)
	}

	msg.Payload = []byte("{not json")
	if _, err := decode(msg); !errors.Is(err, ErrInvalidCommand) {
		t.Errorf("decode(garbage) error = %v", err)
	}
}

func TestHandler_ExecuteDefaultsToIncremental(t *testing.T) {
	t.Parallel()
	f := newFakeServices()
	h := NewHandler(f, f, f, nil)

	if err := h.Execute(context.Background(), Command{Type: TypeSync, CohortID: 9}); err != nil {
		t.Fatal(err)
	}
	c := f.wait(t, TypeSync)
	if c.req.Mode != models.SyncModeIncremental {
		t.Errorf("mode = %s, want incremental", c.req.Mode)
	}
}

func TestBus_MemoryRoutesCommands(t *testing.T) {
	f := newFakeServices()
	var (
		mu      sync.Mutex
		changed []int64
	)
	h := NewHandler(f, f, f, func(id int64) {
		mu.Lock()
		changed = append(changed, id)
		mu.Unlock()
	})
	bus := startBus(t, config.MessagingConfig{Backend: BackendMemory}, h)

	ctx := logging.ContextWithCorrelationID(context.Background(), "corr-bus")
	if _, err := bus.Publish(ctx, SyncCohort(1, models.SyncRequest{Mode: models.SyncModeFull})); err != nil {
		t.Fatalf("Publish() error = %v", err)
	}
	if c := f.wait(t, TypeSync); c.cohortID != 1 || c.req.Mode != models.SyncModeFull {
		t.Errorf("sync call = %+v", c)
	}

	if _, err := bus.Publish(ctx, RefreshMembership(2)); err != nil {
		t.Fatal(err)
	}
	f.wait(t, TypeRefreshMembership)
	if _, err := bus.Publish(ctx, Recompute(2)); err != nil {
		t.Fatal(err)
	}
	f.wait(t, TypeRecompute)
	if _, err := bus.Publish(ctx, CancelRun(7)); err != nil {
		t.Fatal(err)
	}
	if c := f.wait(t, TypeCancelRun); c.runID != 7 {
		t.Errorf("cancel run = %d", c.runID)
	}

	eventually(t, "onChange calls", func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(changed) == 2 && changed[0] == 2 && changed[1] == 2
	})
}

func TestBus_RejectedCommandIsNotRetried(t *testing.T) {
	f := newFakeServices()
	f.recomputeErr = recompute.ErrRecomputeInProgress
	f.startErr = syncer.ErrRunInProgress
	bus := startBus(t, config.MessagingConfig{}, NewHandler(f, f, f, nil))
	ctx := context.Background()

	if _, err := bus.Publish(ctx, Recompute(1)); err != nil {
		t.Fatal(err)
	}
	if _, err := bus.Publish(ctx, SyncCohort(1, models.SyncRequest{})); err != nil {
		t.Fatal(err)
	}
	eventually(t, "both commands", func() bool {
		return f.count(TypeRecompute) >= 1 && f.count(TypeSync) >= 1
	})
	// A retry would land well within the router's retry interval.
	time.Sleep(50 * time.Millisecond)

	if n := f.count(TypeRecompute); n != 1 {
		t.Errorf("recompute calls = %d, want 1", n)
	}
	if n := f.count(TypeSync); n != 1 {
		t.Errorf("sync calls = %d, want 1", n)
	}
}

func TestBus_TransientFailureRetriedThenDropped(t *testing.T) {
	f := newFakeServices()
	f.recomputeErr = errors.New("database is locked")
	bus := startBus(t, config.MessagingConfig{}, NewHandler(f, f, f, nil))
	ctx := context.Background()

	if _, err := bus.Publish(ctx, Recompute(1)); err != nil {
		t.Fatal(err)
	}
	// One attempt plus MaxRetries, then the message is acked.
	eventually(t, "retries", func() bool { return f.count(TypeRecompute) >= 3 })

	// The dropped message does not block the topic.
	if _, err := bus.Publish(ctx, RefreshMembership(1)); err != nil {
		t.Fatal(err)
	}
	eventually(t, "refresh", func() bool { return f.count(TypeRefreshMembership) == 1 })
	if n := f.count(TypeRecompute); n != 3 {
		t.Errorf("recompute calls = %d, want 3", n)
	}
}

func TestBus_PublishValidatesAndRejectsAfterClose(t *testing.T) {
	f := newFakeServices()
	bus, err := New(config.MessagingConfig{}, NewHandler(f, f, f, nil), fastOptions())
	if err != nil {
		t.Fatal(err)
	}
	if _, err := bus.Publish(context.Background(), Recompute(0)); !errors.Is(err, ErrInvalidCommand) {
		t.Errorf("Publish(invalid) error = %v", err)
	}
	if err := bus.Ready(context.Background()); err == nil {
		t.Error("Ready() before Run = nil, want error")
	}
	if err := bus.Close(); err != nil {
		t.Fatalf("Close() error = %v", err)
	}
	if err := bus.Ready(context.Background()); !errors.Is(err, ErrBusClosed) {
		t.Errorf("Ready() after Close = %v, want ErrBusClosed", err)
	}
	if _, err := bus.Publish(context.Background(), Recompute(1)); !errors.Is(err, ErrBusClosed) {
		t.Errorf("Publish after Close error = %v, want ErrBusClosed", err)
	}
	if err := bus.Close(); err != nil {
		t.Errorf("second Close() error = %v", err)
	}
}

func TestBus_CloseBeforeRunReturnsPromptly(t *testing.T) {
	f := newFakeServices()
	bus, err := New(config.MessagingConfig{}, NewHandler(f, f, f, nil), DefaultRouterOptions())
	if err != nil {
		t.Fatal(err)
	}
	started := time.Now()
	if err := bus.Close(); err != nil {
		t.Fatalf("Close() error = %v", err)
	}
	if elapsed := time.Since(started); elapsed > 5*time.Second {
		t.Errorf("Close() took %v on a bus that never ran", elapsed)
	}
	if err := bus.Run(context.Background()); !errors.Is(err, ErrBusClosed) {
		t.Errorf("Run() after Close = %v, want ErrBusClosed", err)
	}
}

func TestNew_UnknownBackend(t *testing.T) {
	t.Parallel()
	if _, err := New(config.MessagingConfig{Backend: "kafka"}, NewHandler(nil, nil, nil, nil), fastOptions()); err == nil {
		t.Error("New() with unknown backend succeeded")
	}
	if _, err := New(config.MessagingConfig{Backend: BackendNATS}, NewHandler(nil, nil, nil, nil), fastOptions()); err == nil {
		t.Error("New() with nats backend and no URL succeeded")
	}
}

func TestBus_EmbeddedNATS(t *testing.T) {
	if testing.Short() {
		t.Skip("starts an embedded NATS server")
	}
	f := newFakeServices()
	cfg := config.MessagingConfig{
		Backend:      BackendNATS,
		EmbeddedNATS: true,
		NATSHost:     "127.0.0.1",
		NATSPort:     -1,
		StoreDir:     t.TempDir(),
	}
	bus := startBus(t, cfg, NewHandler(f, f, f, nil))

	if _, err := bus.Publish(context.Background(), RefreshMembership(5)); err != nil {
		t.Fatalf("Publish() error = %v", err)
	}
	if c := f.wait(t, TypeRefreshMembership); c.cohortID != 5 {
		t.Errorf("cohort = %d, want 5", c.cohortID)
	}
}
