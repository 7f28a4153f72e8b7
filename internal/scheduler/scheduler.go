// Cinecohort - Film Cohort Sync and Ranking
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/cinecohort

// Package scheduler drives periodic cohort work from cron schedules.
//
// Cron jobs fan out over every cohort and publish commands to the bus:
// membership refresh, incremental sync and recompute each have their own
// schedule. The RSS poller runs on a fixed interval, applies feeds
// directly and requests a recompute for cohorts whose ratings changed.
package scheduler

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog"

	"github.com/tomtom215/cinecohort/internal/commands"
	"github.com/tomtom215/cinecohort/internal/config"
	"github.com/tomtom215/cinecohort/internal/logging"
	"github.com/tomtom215/cinecohort/internal/models"
	syncer "github.com/tomtom215/cinecohort/internal/sync"
)

// DefaultJobTimeout bounds a single job invocation.
const DefaultJobTimeout = 30 * time.Minute

// Job is a scheduled task.
type Job func(ctx context.Context) error

// Publisher sends commands to the bus.
type Publisher interface {
	Publish(ctx context.Context, cmd commands.Command) (string, error)
}

// CohortLister lists the cohorts jobs fan out over.
type CohortLister interface {
	ListCohorts(ctx context.Context) ([]models.Cohort, error)
}

// FeedUpdater applies RSS feeds for a cohort.
type FeedUpdater interface {
	UpdateCohort(ctx context.Context, cohortID int64) (*syncer.FeedResult, error)
}

// JobInfo describes a registered job.
type JobInfo struct {
	Name     string    `json:"name"`
	Schedule string    `json:"schedule"`
	NextRun  time.Time `json:"next_run"`
	LastRun  time.Time `json:"last_run"`
}

type job struct {
	id       cron.EntryID
	schedule string
}

// Scheduler manages periodic jobs.
type Scheduler struct {
	cron     *cron.Cron
	timezone *time.Location
	timeout  time.Duration
	logger   zerolog.Logger

	mu   sync.Mutex
	jobs map[string]job
	base context.Context
}

// New creates a scheduler evaluating schedules in timezone. Overlapping
// invocations of the same job are skipped and panics are recovered.
func New(timezone string) (*Scheduler, error) {
	if timezone == "" {
		timezone = "UTC"
	}
	loc, err := time.LoadLocation(timezone)
	if err != nil {
		return nil, fmt.Errorf("invalid timezone %s: %w", timezone, err)
	}
	logger := logging.WithComponent("scheduler")
	cl := cronLogger{logger: logger}
	c := cron.New(
		cron.WithLocation(loc),
		cron.WithLogger(cl),
		cron.WithChain(cron.Recover(cl), cron.SkipIfStillRunning(cl)),
	)
	return &Scheduler{
		cron:     c,
		timezone: loc,
		timeout:  DefaultJobTimeout,
		logger:   logger,
		jobs:     make(map[string]job),
		base:     context.Background(),
	}, nil
}

// AddJob registers job under name with a standard five-field cron
// schedule or a descriptor such as "@every 1h".
func (s *Scheduler) AddJob(name, schedule string, j Job) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.jobs[name]; exists {
		return fmt.Errorf("job %s already registered", name)
	}

	id, err := s.cron.AddFunc(schedule, func() { s.invoke(name, j) })
	if err != nil {
		return fmt.Errorf("failed to schedule job %s: %w", name, err)
	}
	s.jobs[name] = job{id: id, schedule: schedule}
	s.logger.Info().Str("job", name).Str("schedule", schedule).Msg("Job added")
	return nil
}

func (s *Scheduler) invoke(name string, j Job) {
	s.mu.Lock()
	base := s.base
	s.mu.Unlock()

	ctx, cancel := context.WithTimeout(logging.ContextWithNewCorrelationID(base), s.timeout)
	defer cancel()

	start := time.Now()
	s.logger.Info().Str("job", name).Msg("Job starting")
	if err := j(ctx); err != nil {
		s.logger.Error().Err(err).Str("job", name).Dur("duration", time.Since(start)).Msg("Job failed")
		return
	}
	s.logger.Info().Str("job", name).Dur("duration", time.Since(start)).Msg("Job completed")
}

// RemoveJob unregisters a job.
func (s *Scheduler) RemoveJob(name string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if j, ok := s.jobs[name]; ok {
		s.cron.Remove(j.id)
		delete(s.jobs, name)
		s.logger.Info().Str("job", name).Msg("Job removed")
	}
}

// Run starts the cron loop and blocks until ctx is done, then waits for
// running jobs to finish. Jobs inherit ctx cancellation.
func (s *Scheduler) Run(ctx context.Context) error {
	s.mu.Lock()
	s.base = ctx
	s.mu.Unlock()

	s.cron.Start()
	s.logger.Info().Int("jobs", len(s.Jobs())).Str("timezone", s.timezone.String()).Msg("Scheduler started")
	<-ctx.Done()

	<-s.cron.Stop().Done()
	s.logger.Info().Msg("Scheduler stopped")
	return ctx.Err()
}

// RunNow executes the named job immediately, outside the cron loop.
func (s *Scheduler) RunNow(ctx context.Context, name string, j Job) error {
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()
	s.logger.Info().Str("job", name).Msg("Running job now")
	return j(ctx)
}

// Jobs lists registered jobs sorted by name.
func (s *Scheduler) Jobs() []JobInfo {
	s.mu.Lock()
	defer s.mu.Unlock()

	infos := make([]JobInfo, 0, len(s.jobs))
	for name, j := range s.jobs {
		e := s.cron.Entry(j.id)
		infos = append(infos, JobInfo{Name: name, Schedule: j.schedule, NextRun: e.Next, LastRun: e.Prev})
	}
	sort.Slice(infos, func(a, b int) bool { return infos[a].Name < infos[b].Name })
	return infos
}

type namedJob struct {
	name     string
	schedule string
	job      Job
}

// Register adds the configured cohort jobs. Empty schedules are skipped;
// the RSS poller is added when feeds is non-nil and rss is enabled.
func (s *Scheduler) Register(cfg config.SchedulerConfig, rss config.RSSConfig, cohorts CohortLister, pub Publisher, feeds FeedUpdater) error {
	incremental := models.SyncRequest{Mode: models.SyncModeIncremental}
	jobs := []namedJob{
		{"membership_refresh", cfg.MembershipCron, ForEachCohort(cohorts, func(ctx context.Context, c models.Cohort) error {
			_, err := pub.Publish(ctx, commands.RefreshMembership(c.ID))
			return err
		})},
		{"incremental_sync", cfg.IncrementalCron, ForEachCohort(cohorts, func(ctx context.Context, c models.Cohort) error {
			_, err := pub.Publish(ctx, commands.SyncCohort(c.ID, incremental))
			return err
		})},
		{"recompute", cfg.RecomputeCron, ForEachCohort(cohorts, func(ctx context.Context, c models.Cohort) error {
			_, err := pub.Publish(ctx, commands.Recompute(c.ID))
			return err
		})},
	}
	if feeds != nil && rss.Enabled && rss.PollInterval > 0 {
		jobs = append(jobs, namedJob{"rss_poll", "@every " + rss.PollInterval.String(), PollFeeds(cohorts, feeds, pub)})
	}

	for _, j := range jobs {
		if j.schedule == "" {
			continue
		}
		if err := s.AddJob(j.name, j.schedule, j.job); err != nil {
			return err
		}
	}
	return nil
}

// ForEachCohort returns a job applying fn to every cohort. A failing
// cohort is logged and the others still run; the job reports the first
// error.
func ForEachCohort(cohorts CohortLister, fn func(ctx context.Context, c models.Cohort) error) Job {
	return func(ctx context.Context) error {
		list, err := cohorts.ListCohorts(ctx)
		if err != nil {
			return fmt.Errorf("list cohorts: %w", err)
		}
		var first error
		for _, c := range list {
			if err := ctx.Err(); err != nil {
				return err
			}
			if err := fn(ctx, c); err != nil {
				logging.Ctx(ctx).Warn().Err(err).Int64("cohort_id", c.ID).Msg("Scheduled cohort job failed")
				if first == nil {
					first = fmt.Errorf("cohort %d: %w", c.ID, err)
				}
			}
		}
		return first
	}
}

// PollFeeds returns a job applying RSS feeds to every cohort and requesting
// a recompute where ratings changed.
func PollFeeds(cohorts CohortLister, feeds FeedUpdater, pub Publisher) Job {
	return ForEachCohort(cohorts, func(ctx context.Context, c models.Cohort) error {
		res, err := feeds.UpdateCohort(ctx, c.ID)
		if err != nil {
			return err
		}
		if res.Updated == 0 {
			return nil
		}
		_, err = pub.Publish(ctx, commands.Recompute(c.ID))
		return err
	})
}

// cronLogger routes cron's logging through zerolog.
type cronLogger struct {
	logger zerolog.Logger
}

func (l cronLogger) Info(msg string, keysAndValues ...interface{}) {
	l.logger.Debug().Fields(keysAndValues).Msg(msg)
}

func (l cronLogger) Error(err error, msg string, keysAndValues ...interface{}) {
	l.logger.Error().Err(err).Fields(keysAndValues).Msg(msg)
}
