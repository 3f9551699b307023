// Package schedule enqueues the previous month's report on a cron schedule.
package schedule

import (
	"context"
	"fmt"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/sirupsen/logrus"

	"carbon-reports/internal/models"
)

type Enqueuer interface {
	Enqueue(ctx context.Context, year, month int) (models.ReportJob, bool, error)
}

type Scheduler struct {
	sched    cron.Schedule
	enqueuer Enqueuer
	tick     time.Duration
	log      logrus.FieldLogger
	clock    func() time.Time
	lastTick time.Time
}

// New parses a five-field cron expression evaluated in UTC.
func New(expr string, enq Enqueuer, tick time.Duration, log logrus.FieldLogger) (*Scheduler, error) {
	parser := cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow)
	sched, err := parser.Parse(expr)
	if err != nil {
		return nil, fmt.Errorf("parse report schedule %q: %w", expr, err)
	}
	if tick <= 0 {
		tick = time.Minute
	}
	if log == nil {
		log = logrus.StandardLogger()
	}
	return &Scheduler{sched: sched, enqueuer: enq, tick: tick, log: log, clock: time.Now}, nil
}

// WithClock replaces the time source.
func (s *Scheduler) WithClock(clock func() time.Time) *Scheduler {
	s.clock = clock
	return s
}

func (s *Scheduler) Run(ctx context.Context) error {
	ticker := time.NewTicker(s.tick)
	defer ticker.Stop()

	s.lastTick = s.clock().UTC()
	s.log.WithField("tick", s.tick.String()).Info("report scheduler started")
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			if err := s.Tick(ctx); err != nil {
				s.log.WithError(err).Warn("report scheduler tick failed")
			}
		}
	}
}

// Tick enqueues a report for every schedule firing in (lastTick, now].
// lastTick only advances once every firing has been enqueued.
func (s *Scheduler) Tick(ctx context.Context) error {
	now := s.clock().UTC()
	if s.lastTick.IsZero() {
		s.lastTick = now
		return nil
	}
	for fire := s.sched.Next(s.lastTick.UTC()); !fire.After(now); fire = s.sched.Next(fire) {
		year, month := PreviousMonth(fire)
		job, created, err := s.enqueuer.Enqueue(ctx, year, month)
		if err != nil {
			return fmt.Errorf("enqueue %04d-%02d: %w", year, month, err)
		}
		s.log.WithFields(logrus.Fields{"report_id": job.ID, "period": job.Period(), "created": created}).Info("scheduled report")
		s.lastTick = fire
	}
	s.lastTick = now
	return nil
}

// PreviousMonth returns the calendar month before t, in UTC.
func PreviousMonth(t time.Time) (int, int) {
	first := time.Date(t.UTC().Year(), t.UTC().Month(), 1, 0, 0, 0, 0, time.UTC)
	prev := first.AddDate(0, -1, 0)
	return prev.Year(), int(prev.Month())
}
