// Package scheduler runs reconciliation cycles on a cron schedule.
package scheduler

import (
	"context"
	"fmt"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/sirupsen/logrus"

	"github.com/kadirbelkuyu/dbsync/pkg/logger"
)

type Job func(ctx context.Context) error

// Scheduler triggers jobs on standard five-field cron schedules. A job whose
// previous run is still going is skipped for that tick.
type Scheduler struct {
	cron   *cron.Cron
	logger *logger.Logger
	// ctx is set by Run before the first tick.
	ctx context.Context
}

func New(log *logger.Logger) *Scheduler {
	cl := cronLogger{log}
	return &Scheduler{
		cron:   cron.New(cron.WithLogger(cl), cron.WithChain(cron.Recover(cl), cron.SkipIfStillRunning(cl))),
		logger: log,
	}
}

// Add registers job under name. The job receives the context passed to Run.
func (s *Scheduler) Add(name, schedule string, job Job) error {
	parsed, err := cron.ParseStandard(schedule)
	if err != nil {
		return fmt.Errorf("invalid schedule %q for %s: %w", schedule, name, err)
	}

	s.cron.Schedule(parsed, cron.FuncJob(func() {
		started := time.Now()
		log := s.logger.WithField("job", name)
		log.Info("Scheduled run started")
		if err := job(s.ctx); err != nil {
			log.WithError(err).Error("Scheduled run failed")
			return
		}
		log.WithField("duration", time.Since(started).Round(time.Millisecond)).Info("Scheduled run finished")
	}))

	s.logger.WithFields(logrus.Fields{"job": name, "schedule": schedule, "next": parsed.Next(time.Now())}).
		Info("Job scheduled")
	return nil
}

// Run starts the scheduler and blocks until ctx is done, then waits for
// running jobs to return.
func (s *Scheduler) Run(ctx context.Context) error {
	s.ctx = ctx
	s.cron.Start()
	<-ctx.Done()
	<-s.cron.Stop().Done()
	return nil
}

// NextRuns returns the next n activation times of schedule after from.
func NextRuns(schedule string, from time.Time, n int) ([]time.Time, error) {
	parsed, err := cron.ParseStandard(schedule)
	if err != nil {
		return nil, err
	}
	runs := make([]time.Time, 0, n)
	for t := from; len(runs) < n; {
		t = parsed.Next(t)
		runs = append(runs, t)
	}
	return runs, nil
}

type cronLogger struct {
	log *logger.Logger
}

func (l cronLogger) Info(msg string, keysAndValues ...interface{}) {
	l.log.WithFields(fields(keysAndValues)).Debug(msg)
}

func (l cronLogger) Error(err error, msg string, keysAndValues ...interface{}) {
	l.log.WithFields(fields(keysAndValues)).WithError(err).Error(msg)
}

func fields(keysAndValues []interface{}) logrus.Fields {
	out := make(logrus.Fields, len(keysAndValues)/2)
	for i := 0; i+1 < len(keysAndValues); i += 2 {
		out[fmt.Sprint(keysAndValues[i])] = keysAndValues[i+1]
	}
	return out
}
