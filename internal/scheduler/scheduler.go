// Package scheduler runs the data refresh on a cron schedule
package scheduler

import (
	"context"
	"time"

	"github.com/juju/errors"
	"github.com/robfig/cron/v3"
	"go.uber.org/zap"

	"github.com/nrega-mitra/backend/internal/logging"
)

// Job is the work run on every tick
type Job func(ctx context.Context) error

// Scheduler runs a Job on a standard five-field cron schedule
type Scheduler struct {
	expr       string
	schedule   cron.Schedule
	job        Job
	runOnStart bool
	logger     *zap.Logger
}

// New validates the schedule and returns a scheduler for the job.
// When runOnStart is set the job also runs once as soon as Run is called.
func New(expr string, job Job, runOnStart bool, logger *zap.Logger) (*Scheduler, error) {
	if job == nil {
		return nil, errors.NotValidf("nil job")
	}
	schedule, err := cron.ParseStandard(expr)
	if err != nil {
		return nil, errors.NewNotValid(err, "cron schedule "+expr)
	}
	return &Scheduler{
		expr:       expr,
		schedule:   schedule,
		job:        job,
		runOnStart: runOnStart,
		logger:     logging.OrNop(logger).Named("scheduler"),
	}, nil
}

// Next returns the first activation after t
func (s *Scheduler) Next(t time.Time) time.Time {
	return s.schedule.Next(t)
}

// Run blocks until ctx is cancelled, then waits for a running job to finish.
// Ticks that fire while the previous run is still busy are skipped.
func (s *Scheduler) Run(ctx context.Context) error {
	c := cron.New(cron.WithChain(
		cron.Recover(cronLogger{s.logger}),
		cron.SkipIfStillRunning(cronLogger{s.logger}),
	))
	c.Schedule(s.schedule, cron.FuncJob(func() {
		s.runJob(ctx, "scheduled")
	}))

	if s.runOnStart {
		s.runJob(ctx, "initial")
	}

	c.Start()
	s.logger.Info("refresh scheduled",
		zap.String("schedule", s.expr),
		zap.Time("next", s.Next(time.Now())))

	<-ctx.Done()
	s.logger.Info("stopping scheduler")
	<-c.Stop().Done()
	return nil
}

func (s *Scheduler) runJob(ctx context.Context, trigger string) {
	if ctx.Err() != nil {
		return
	}
	start := time.Now()
	if err := s.job(ctx); err != nil {
		s.logger.Error(trigger+" data refresh failed", zap.Error(err), zap.Duration("took", time.Since(start)))
		return
	}
	s.logger.Info(trigger+" data refresh finished", zap.Duration("took", time.Since(start)))
}

// cronLogger adapts zap to cron's logger interface
type cronLogger struct {
	logger *zap.Logger
}

func (l cronLogger) Info(msg string, keysAndValues ...interface{}) {
	l.logger.Sugar().Debugw(msg, keysAndValues...)
}

func (l cronLogger) Error(err error, msg string, keysAndValues ...interface{}) {
	l.logger.Sugar().Errorw(msg, append(keysAndValues, "error", err)...)
}
