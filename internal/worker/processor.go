package worker

import (
	"context"
	"errors"
	"time"

	"github.com/sirupsen/logrus"

	"carbon-reports/internal/artifact"
	"carbon-reports/internal/jobs"
	"carbon-reports/internal/models"
	"carbon-reports/internal/telemetry"
)

// Outcome summarises one RunOnce call.
type Outcome string

const (
	OutcomeIdle      Outcome = "idle"
	OutcomeCompleted Outcome = "completed"
	OutcomeFailed    Outcome = "failed"
	OutcomeError     Outcome = "error"
)

// Queue is the slice of the job manager the worker drives.
type Queue interface {
	Claim(ctx context.Context) (models.ReportJob, bool, error)
	Complete(ctx context.Context, id, artifactKey string) (models.ReportJob, error)
	Fail(ctx context.Context, id string) (models.ReportJob, error)
	ReclaimStale(ctx context.Context, after time.Duration, limit int) ([]string, error)
}

// Builder renders the report body for a period.
type Builder interface {
	Build(ctx context.Context, year, month int) ([]byte, error)
}

// Waiter blocks until new work may be available or timeout passes.
type Waiter interface {
	Wait(ctx context.Context, timeout time.Duration) (bool, error)
}

type Options struct {
	WorkerID         string
	PollInterval     time.Duration
	ReclaimAfter     time.Duration
	ReclaimBatchSize int
	// SettleTimeout bounds the Complete/Fail call made after a claim. It runs
	// on a context detached from shutdown.
	SettleTimeout time.Duration
	Waiter        Waiter
	Now           func() time.Time
}

// Processor drives the worker execution loop.
type Processor struct {
	queue     Queue
	builder   Builder
	publisher artifact.Publisher
	opts      Options
	log       logrus.FieldLogger
}

func NewProcessor(q Queue, b Builder, pub artifact.Publisher, log logrus.FieldLogger, opts Options) *Processor {
	if opts.PollInterval <= 0 {
		opts.PollInterval = 5 * time.Second
	}
	if opts.SettleTimeout <= 0 {
		opts.SettleTimeout = 30 * time.Second
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	if log == nil {
		log = logrus.StandardLogger()
	}
	if opts.WorkerID != "" {
		log = log.WithField("worker_id", opts.WorkerID)
	}
	return &Processor{queue: q, builder: b, publisher: pub, opts: opts, log: log}
}

// RunOnce claims at most one job and drives it to COMPLETE or ERROR. A job
// that fails to build or publish is OutcomeFailed with a nil error; the
// error return is reserved for the queue itself misbehaving.
func (p *Processor) RunOnce(ctx context.Context) (Outcome, error) {
	job, ok, err := p.queue.Claim(ctx)
	if err != nil {
		p.log.WithError(err).WithField("kind", jobs.KindOf(err)).Error("claim failed")
		return OutcomeError, err
	}
	if !ok {
		p.log.Debug("no pending reports")
		return OutcomeIdle, nil
	}

	telemetry.InFlightGauge.Inc()
	defer telemetry.InFlightGauge.Dec()
	start := time.Now()
	defer func() { telemetry.BuildDuration.Observe(time.Since(start).Seconds()) }()

	log := p.log.WithFields(logrus.Fields{"job_id": job.ID, "period": job.Period()})
	log.Info("processing report")

	settleCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), p.opts.SettleTimeout)
	defer cancel()

	key, stage, err := p.process(ctx, job)
	if err != nil {
		log.WithError(err).WithFields(logrus.Fields{"stage": stage, "kind": jobs.KindOf(err)}).Error("report build failed")
		if _, ferr := p.queue.Fail(settleCtx, job.ID); ferr != nil {
			log.WithError(ferr).WithField("kind", jobs.KindOf(ferr)).Error("could not mark report failed")
			return OutcomeError, ferr
		}
		return OutcomeFailed, nil
	}

	if _, err := p.queue.Complete(settleCtx, job.ID, key); err != nil {
		// Typically a reclaim sweep got here first; the artifact is still valid.
		log.WithError(err).WithFields(logrus.Fields{"stage": "complete", "kind": jobs.KindOf(err)}).Error("could not mark report complete")
		return OutcomeError, err
	}
	return OutcomeCompleted, nil
}

func (p *Processor) process(ctx context.Context, job models.ReportJob) (string, string, error) {
	body, err := p.builder.Build(ctx, job.PeriodYear, job.PeriodMonth)
	if err != nil {
		return "", "build", err
	}
	key, err := p.publisher.Publish(ctx, artifact.Key(job.PeriodYear, job.PeriodMonth, "csv"), body)
	if err != nil {
		return "", "publish", err
	}
	return key, "", nil
}

// Run repeats RunOnce until ctx is cancelled. After an idle poll or a queue
// error it waits for a wake-up signal or the poll interval.
func (p *Processor) Run(ctx context.Context) error {
	p.log.WithFields(logrus.Fields{
		"poll_interval": p.opts.PollInterval.String(),
		"reclaim_after": p.opts.ReclaimAfter.String(),
	}).Info("worker started")

	var lastSweep time.Time
	for {
		if err := ctx.Err(); err != nil {
			return err
		}

		if p.opts.ReclaimAfter > 0 && p.opts.Now().Sub(lastSweep) >= p.opts.PollInterval {
			if _, err := p.queue.ReclaimStale(ctx, p.opts.ReclaimAfter, p.opts.ReclaimBatchSize); err != nil && ctx.Err() == nil {
				p.log.WithError(err).Warn("reclaim sweep failed")
			}
			lastSweep = p.opts.Now()
		}

		outcome, _ := p.RunOnce(ctx)
		if outcome == OutcomeCompleted || outcome == OutcomeFailed {
			continue
		}
		p.wait(ctx)
	}
}

func (p *Processor) wait(ctx context.Context) {
	if p.opts.Waiter != nil {
		_, err := p.opts.Waiter.Wait(ctx, p.opts.PollInterval)
		if err == nil || ctx.Err() != nil {
			return
		}
		if !errors.Is(err, context.DeadlineExceeded) {
			p.log.WithError(err).Warn("wake-up wait failed, falling back to polling")
		}
	}

	timer := time.NewTimer(p.opts.PollInterval)
	defer timer.Stop()
	select {
	case <-ctx.Done():
	case <-timer.C:
	}
}
