// Package jobs owns the report job lifecycle: enqueue, claim and the guarded
// transitions from INPROGRESS to a terminal status.
package jobs

import (
	"context"
	"fmt"
	"time"

	"github.com/sirupsen/logrus"

	"carbon-reports/internal/models"
	"carbon-reports/internal/report"
	"carbon-reports/internal/telemetry"
)

const (
	MinYear = 1900
	MaxYear = 9999
)

// Store is the persistence the manager drives.
type Store interface {
	InsertReport(ctx context.Context, year, month int) (models.ReportJob, bool, error)
	GetReport(ctx context.Context, id string) (models.ReportJob, error)
	ListReports(ctx context.Context) ([]models.ReportJob, error)
	ClaimOldestPending(ctx context.Context) (models.ReportJob, bool, error)
	CompleteReport(ctx context.Context, id, artifactKey string) (models.ReportJob, error)
	FailReport(ctx context.Context, id string) (models.ReportJob, error)
	RequeueReport(ctx context.Context, id string) (models.ReportJob, error)
	FailStale(ctx context.Context, olderThan time.Time, limit int) ([]string, error)
}

// ActivityCounter is needed only when empty periods are rejected.
type ActivityCounter interface {
	CountActivitiesBetween(ctx context.Context, start, end time.Time) (int64, error)
}

// Notifier wakes idle workers after new work is queued.
type Notifier interface {
	Notify(ctx context.Context) error
}

// Options tunes a Manager. The zero value accepts empty periods and never notifies.
type Options struct {
	RejectEmptyPeriods bool
	Counter            ActivityCounter
	Notifier           Notifier
	Logger             logrus.FieldLogger
	Now                func() time.Time
}

// Manager is safe for concurrent use; all coordination happens in the store.
type Manager struct {
	store       Store
	rejectEmpty bool
	counter     ActivityCounter
	notifier    Notifier
	log         logrus.FieldLogger
	now         func() time.Time
}

func NewManager(store Store, opts Options) *Manager {
	m := &Manager{
		store:       store,
		rejectEmpty: opts.RejectEmptyPeriods,
		counter:     opts.Counter,
		notifier:    opts.Notifier,
		log:         opts.Logger,
		now:         opts.Now,
	}
	if m.log == nil {
		m.log = logrus.StandardLogger()
	}
	if m.now == nil {
		m.now = time.Now
	}
	if m.rejectEmpty && m.counter == nil {
		if c, ok := store.(ActivityCounter); ok {
			m.counter = c
		}
	}
	return m
}

// ValidatePeriod checks the year and month range.
func ValidatePeriod(year, month int) error {
	if year < MinYear || year > MaxYear {
		return fmt.Errorf("%w: year %d outside %d-%d", ErrInvalidPeriod, year, MinYear, MaxYear)
	}
	if month < 1 || month > 12 {
		return fmt.Errorf("%w: month %d outside 1-12", ErrInvalidPeriod, month)
	}
	return nil
}

// Enqueue creates a PENDING job for the period. When a job already exists for
// it, that job is returned with created false and nothing changes.
func (m *Manager) Enqueue(ctx context.Context, year, month int) (models.ReportJob, bool, error) {
	const op = "enqueue"
	if err := ValidatePeriod(year, month); err != nil {
		return models.ReportJob{}, false, wrap(op, err)
	}
	if m.rejectEmpty && m.counter != nil {
		start, end := report.MonthBounds(year, month)
		n, err := m.counter.CountActivitiesBetween(ctx, start, end)
		if err != nil {
			return models.ReportJob{}, false, wrap(op, err)
		}
		if n == 0 {
			return models.ReportJob{}, false, wrap(op, fmt.Errorf("%w: %04d-%02d", ErrEmptyPeriod, year, month))
		}
	}

	job, created, err := m.store.InsertReport(ctx, year, month)
	if err != nil {
		return models.ReportJob{}, false, wrap(op, err)
	}
	fields := logrus.Fields{"report_id": job.ID, "period": job.Period(), "status": job.Status}
	if !created {
		m.log.WithFields(fields).Info("report already queued for period")
		return job, false, nil
	}
	telemetry.ReportsEnqueued.Inc()
	m.log.WithFields(fields).Info("report enqueued")
	m.notify(ctx)
	return job, true, nil
}

func (m *Manager) Get(ctx context.Context, id string) (models.ReportJob, error) {
	job, err := m.store.GetReport(ctx, id)
	return job, wrap("get", err)
}

func (m *Manager) List(ctx context.Context) ([]models.ReportJob, error) {
	jobs, err := m.store.ListReports(ctx)
	return jobs, wrap("list", err)
}

// Claim moves the oldest PENDING job to INPROGRESS. ok is false when the
// queue is empty; at most one caller ever receives a given job.
func (m *Manager) Claim(ctx context.Context) (models.ReportJob, bool, error) {
	job, ok, err := m.store.ClaimOldestPending(ctx)
	if err != nil {
		return models.ReportJob{}, false, wrap("claim", err)
	}
	if ok {
		m.log.WithFields(logrus.Fields{"report_id": job.ID, "period": job.Period()}).Debug("report claimed")
	}
	return job, ok, nil
}

// Complete records the artifact key and moves INPROGRESS to COMPLETE.
func (m *Manager) Complete(ctx context.Context, id, artifactKey string) (models.ReportJob, error) {
	job, err := m.store.CompleteReport(ctx, id, artifactKey)
	if err != nil {
		return job, wrap("complete", err)
	}
	telemetry.ReportsCompleted.Inc()
	m.log.WithFields(logrus.Fields{"report_id": id, "period": job.Period(), "artifact_key": artifactKey}).Info("report complete")
	return job, nil
}

// Fail moves INPROGRESS to ERROR.
func (m *Manager) Fail(ctx context.Context, id string) (models.ReportJob, error) {
	job, err := m.store.FailReport(ctx, id)
	if err != nil {
		return job, wrap("fail", err)
	}
	telemetry.ReportsFailed.Inc()
	m.log.WithFields(logrus.Fields{"report_id": id, "period": job.Period()}).Warn("report failed")
	return job, nil
}

// Requeue starts a new attempt for a COMPLETE or ERROR job.
func (m *Manager) Requeue(ctx context.Context, id string) (models.ReportJob, error) {
	job, err := m.store.RequeueReport(ctx, id)
	if err != nil {
		return job, wrap("requeue", err)
	}
	m.log.WithFields(logrus.Fields{"report_id": id, "period": job.Period()}).Info("report requeued")
	m.notify(ctx)
	return job, nil
}

// ReclaimStale fails jobs that have been INPROGRESS for longer than after.
// A non-positive after disables reclaiming.
func (m *Manager) ReclaimStale(ctx context.Context, after time.Duration, limit int) ([]string, error) {
	if after <= 0 {
		return nil, nil
	}
	if limit <= 0 {
		limit = 100
	}
	ids, err := m.store.FailStale(ctx, m.now().Add(-after), limit)
	if err != nil {
		return nil, wrap("reclaim", err)
	}
	if len(ids) > 0 {
		telemetry.ReportsReclaimed.Add(float64(len(ids)))
		telemetry.ReportsFailed.Add(float64(len(ids)))
		m.log.WithFields(logrus.Fields{"count": len(ids), "report_ids": ids}).Warn("reclaimed stale reports")
	}
	return ids, nil
}

func (m *Manager) notify(ctx context.Context) {
	if m.notifier == nil {
		return
	}
	if err := m.notifier.Notify(ctx); err != nil {
		// Workers still poll, so a lost wake-up only adds latency.
		m.log.WithError(err).Warn("wake-up notify failed")
	}
}
