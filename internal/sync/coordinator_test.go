// Cinecohort - Film Cohort Sync and Ranking
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/cinecohort

package sync

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/tomtom215/cinecohort/internal/config"
	"github.com/tomtom215/cinecohort/internal/database"
	"github.com/tomtom215/cinecohort/internal/models"
	"github.com/tomtom215/cinecohort/internal/source"
)

func newTestCoordinator(db *database.DB, src source.Source) *Coordinator {
	return NewCoordinator(db, newTestEngine(db, src), config.SyncConfig{FullConcurrency: 2, IncrementalConcurrency: 4})
}

func memberModes(t *testing.T, c *Coordinator, runID int64) map[string]models.SyncMode {
	t.Helper()
	p, err := c.Progress(context.Background(), runID)
	if err != nil {
		t.Fatalf("Progress() error = %v", err)
	}
	out := make(map[string]models.SyncMode, len(p.Members))
	for _, m := range p.Members {
		out[m.Username] = m.Mode
	}
	return out
}

func TestCoordinator_NewMembersRunFullThenIncremental(t *testing.T) {
	db := setupTestDB(t)
	ctx := context.Background()
	src := source.NewMemory()
	src.SetActivity("seed", pages("s", 2, 2)...)
	src.SetActivity("bob", pages("b", 1, 3)...)
	cohort := cohortWith(t, db, "seed", "bob")
	coord := newTestCoordinator(db, src)

	run, err := coord.Run(ctx, cohort.ID, models.SyncRequest{})
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	if run.Status != models.RunStatusSucceeded || run.Mode != models.SyncModeIncremental {
		t.Errorf("run = %s/%s, want succeeded incremental", run.Status, run.Mode)
	}
	for user, mode := range memberModes(t, coord, run.ID) {
		if mode != models.SyncModeFull {
			t.Errorf("%s mode = %s, want full on first sync", user, mode)
		}
	}

	acct, err := db.GetAccountByUsername(ctx, "bob")
	if err != nil {
		t.Fatal(err)
	}
	if acct.LastFullSyncAt == nil {
		t.Error("LastFullSyncAt not stamped after full sync")
	}

	second, err := coord.Run(ctx, cohort.ID, models.SyncRequest{})
	if err != nil {
		t.Fatal(err)
	}
	for user, mode := range memberModes(t, coord, second.ID) {
		if mode != models.SyncModeIncremental {
			t.Errorf("%s mode = %s, want incremental once synced", user, mode)
		}
	}

	forced, err := coord.Run(ctx, cohort.ID, models.SyncRequest{ForceFull: true})
	if err != nil {
		t.Fatal(err)
	}
	if modes := memberModes(t, coord, forced.ID); modes["bob"] != models.SyncModeFull {
		t.Errorf("force_full bob mode = %s, want full", modes["bob"])
	}
}

func TestCoordinator_PartialOnMemberFailure(t *testing.T) {
	db := setupTestDB(t)
	src := source.NewMemory()
	src.SetActivity("seed", pages("s", 1, 2)...)
	src.SetActivity("bob", pages("b", 1, 2)...)
	src.FailActivity("bob", 1, errors.New("connection refused"))
	cohort := cohortWith(t, db, "seed", "bob")
	coord := newTestCoordinator(db, src)

	run, err := coord.Run(context.Background(), cohort.ID, models.SyncRequest{})
	if err != nil {
		t.Fatal(err)
	}
	if run.Status != models.RunStatusPartial {
		t.Errorf("Status = %s, want partial", run.Status)
	}

	p, err := coord.Progress(context.Background(), run.ID)
	if err != nil {
		t.Fatal(err)
	}
	if p.Counts.Succeeded != 1 || p.Counts.Failed != 1 {
		t.Errorf("counts = %+v, want 1 succeeded 1 failed", p.Counts)
	}
	for _, m := range p.Members {
		if m.Username == "bob" && (m.ErrorClass != models.ErrorClassTransient || m.Error == "") {
			t.Errorf("bob = %+v, want transient failure with message", m)
		}
	}
}

func TestCoordinator_AllMembersFailedIsPartial(t *testing.T) {
	db := setupTestDB(t)
	src := source.NewMemory()
	src.SetActivity("seed", pages("s", 1, 2)...)
	src.SetActivity("bob", pages("b", 1, 2)...)
	src.FailActivity("seed", 1, errors.New("connection refused"))
	src.FailActivity("bob", 1, errors.New("connection refused"))
	cohort := cohortWith(t, db, "seed", "bob")
	coord := newTestCoordinator(db, src)

	run, err := coord.Run(context.Background(), cohort.ID, models.SyncRequest{})
	if err != nil {
		t.Fatal(err)
	}
	if run.Status != models.RunStatusPartial {
		t.Errorf("Status = %s, want partial", run.Status)
	}
	p, err := coord.Progress(context.Background(), run.ID)
	if err != nil {
		t.Fatal(err)
	}
	if p.Counts.Failed != 2 || p.Counts.Succeeded != 0 {
		t.Errorf("counts = %+v, want 2 failed", p.Counts)
	}
}

func TestCoordinator_RejectsConcurrentRun(t *testing.T) {
	db := setupTestDB(t)
	src := source.NewMemory()
	src.SetActivity("seed", pages("s", 1, 2)...)
	cohort := cohortWith(t, db, "seed")

	entered := make(chan struct{}, 1)
	release := make(chan struct{})
	src.OnActivity = func(string, int) {
		select {
		case entered <- struct{}{}:
		default:
		}
		<-release
	}
	coord := newTestCoordinator(db, src)

	run, err := coord.Start(context.Background(), cohort.ID, models.SyncRequest{})
	if err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	if run.Status != models.RunStatusRunning {
		t.Errorf("Status = %s, want running", run.Status)
	}
	<-entered

	if _, err := coord.Start(context.Background(), cohort.ID, models.SyncRequest{}); !errors.Is(err, ErrRunInProgress) {
		t.Errorf("second Start() error = %v, want ErrRunInProgress", err)
	}

	close(release)
	coord.Wait()

	final, err := db.GetRun(context.Background(), run.ID)
	if err != nil {
		t.Fatal(err)
	}
	if final.Status != models.RunStatusSucceeded {
		t.Errorf("final Status = %s, want succeeded", final.Status)
	}
}

func TestCoordinator_MissingCohort(t *testing.T) {
	db := setupTestDB(t)
	coord := newTestCoordinator(db, source.NewMemory())

	if _, err := coord.Start(context.Background(), 999, models.SyncRequest{}); !errors.Is(err, ErrCohortNotFound) {
		t.Errorf("Start() error = %v, want ErrCohortNotFound", err)
	}
	if err := coord.Cancel(999); !errors.Is(err, ErrRunNotActive) {
		t.Errorf("Cancel() error = %v, want ErrRunNotActive", err)
	}
}

func TestCoordinator_CancelStopsAtPageBoundary(t *testing.T) {
	db := setupTestDB(t)
	ctx := context.Background()
	src := source.NewMemory()
	src.SetActivity("seed", pages("s", 3, 2)...)
	cohort := cohortWith(t, db, "seed")

	atPage2 := make(chan struct{})
	release := make(chan struct{})
	src.OnActivity = func(_ string, page int) {
		if page == 2 {
			close(atPage2)
			<-release
		}
	}
	coord := newTestCoordinator(db, src)

	run, err := coord.Start(ctx, cohort.ID, models.SyncRequest{})
	if err != nil {
		t.Fatal(err)
	}
	select {
	case <-atPage2:
	case <-time.After(10 * time.Second):
		t.Fatal("member never reached page 2")
	}
	if err := coord.Cancel(run.ID); err != nil {
		t.Fatalf("Cancel() error = %v", err)
	}
	close(release)
	coord.Wait()

	p, err := coord.Progress(ctx, run.ID)
	if err != nil {
		t.Fatal(err)
	}
	if p.Run.Status != models.RunStatusPartial {
		t.Errorf("run Status = %s, want partial", p.Run.Status)
	}
	if len(p.Members) != 1 || p.Members[0].Status != models.MemberCancelled {
		t.Fatalf("members = %+v, want one cancelled", p.Members)
	}

	acct, _ := db.GetAccountByUsername(ctx, "seed")
	cp, err := db.GetCheckpoint(ctx, acct.ID)
	if err != nil {
		t.Fatal(err)
	}
	if cp.Status != models.CheckpointInProgress || cp.LastPage != 1 {
		t.Errorf("checkpoint = %+v, want in_progress at page 1", cp)
	}
	if acct.LastFullSyncAt != nil {
		t.Error("cancelled member was stamped as synced")
	}
}

func TestRunStatus(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name   string
		counts models.RunCounts
		want   models.RunStatus
	}{
		{"all ok", models.RunCounts{Succeeded: 3, Total: 3}, models.RunStatusSucceeded},
		{"empty cohort", models.RunCounts{}, models.RunStatusSucceeded},
		{"one failed", models.RunCounts{Succeeded: 2, Failed: 1, Total: 3}, models.RunStatusPartial},
		{"cancelled", models.RunCounts{Cancelled: 1, Total: 1}, models.RunStatusPartial},
		{"all failed", models.RunCounts{Failed: 2, Total: 2}, models.RunStatusPartial},
		{"failed and cancelled", models.RunCounts{Failed: 1, Cancelled: 1, Total: 2}, models.RunStatusPartial},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			if got, _ := runStatus(tt.counts); got != tt.want {
				t.Errorf("runStatus(%+v) = %s, want %s", tt.counts, got, tt.want)
			}
		})
	}
}
