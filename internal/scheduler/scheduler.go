// Package scheduler repeats pipeline runs on a cron schedule.
package scheduler

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/robfig/cron/v3"

	"weibo_feed/internal/model"
	"weibo_feed/internal/runner"
)

// Job is one pipeline pass.
type Job interface {
	Run(ctx context.Context) (*runner.Result, error)
}

// Scheduler runs a Job once at start and then on every schedule tick.
// A tick that fires while the previous run is still going is skipped.
type Scheduler struct {
	schedule cron.Schedule
	job      Job
	log      *slog.Logger
}

// New creates a Scheduler from a standard five-field cron expression,
// evaluated in UTC+8.
func New(spec string, job Job, log *slog.Logger) (*Scheduler, error) {
	schedule, err := cron.ParseStandard(spec)
	if err != nil {
		return nil, fmt.Errorf("parse schedule %q: %w", spec, err)
	}
	return NewWithSchedule(schedule, job, log), nil
}

// NewWithSchedule creates a Scheduler with a custom schedule (useful for testing).
func NewWithSchedule(schedule cron.Schedule, job Job, log *slog.Logger) *Scheduler {
	return &Scheduler{schedule: schedule, job: job, log: log}
}

// Run starts the scheduler loop, blocking until ctx is cancelled and the
// current run, if any, has returned.
func (s *Scheduler) Run(ctx context.Context) {
	s.runOnce(ctx)

	logger := cronLogger{log: s.log}
	c := cron.New(
		cron.WithLocation(model.CST),
		cron.WithLogger(logger),
		cron.WithChain(cron.Recover(logger), cron.SkipIfStillRunning(logger)),
	)
	c.Schedule(s.schedule, cron.FuncJob(func() { s.runOnce(ctx) }))
	c.Start()

	<-ctx.Done()
	<-c.Stop().Done()
}

func (s *Scheduler) runOnce(ctx context.Context) {
	if ctx.Err() != nil {
		return
	}
	res, err := s.job.Run(ctx)
	if err != nil {
		s.log.Error("run failed", "error", err)
		return
	}
	if res.Published {
		s.log.Info("published", "entries", len(res.Entries), "watermark", res.Watermark)
	}
}

// cronLogger routes cron's own messages through slog.
type cronLogger struct {
	log *slog.Logger
}

func (l cronLogger) Info(msg string, keysAndValues ...any) {
	l.log.Debug("cron: "+msg, keysAndValues...)
}

func (l cronLogger) Error(err error, msg string, keysAndValues ...any) {
	l.log.Error("cron: "+msg, append(keysAndValues, "error", err)...)
}
