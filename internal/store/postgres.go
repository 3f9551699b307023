package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgtype"
	"github.com/jackc/pgx/v5/pgxpool"

	"carbon-reports/internal/models"
)

var (
	// ErrNotFound is returned when no report row matches the given id.
	ErrNotFound = errors.New("report not found")
	// ErrInvalidTransition is returned when a guarded status update finds the
	// row in a state the transition does not start from.
	ErrInvalidTransition = errors.New("invalid report status transition")
)

// Store wraps pgxpool for Postgres persistence. It is created once per process
// and shared by every component that needs the database.
type Store struct {
	pool      *pgxpool.Pool
	opTimeout time.Duration
}

// New creates a pooled connection to Postgres and verifies it with a ping.
func New(ctx context.Context, dsn string, maxConns int, opTimeout time.Duration) (*Store, error) {
	cfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("parse postgres dsn: %w", err)
	}
	if maxConns > 0 {
		cfg.MaxConns = int32(maxConns)
	}
	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("connect postgres: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping postgres: %w", err)
	}
	return &Store{pool: pool, opTimeout: opTimeout}, nil
}

func (s *Store) Close() {
	if s.pool != nil {
		s.pool.Close()
	}
}

// Ping checks connectivity for health probes.
func (s *Store) Ping(ctx context.Context) error {
	ctx, cancel := s.opContext(ctx)
	defer cancel()
	return s.pool.Ping(ctx)
}

func (s *Store) opContext(ctx context.Context) (context.Context, context.CancelFunc) {
	if s.opTimeout <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, s.opTimeout)
}

// InsertReport creates a PENDING report for the period. If one already exists,
// it is returned unchanged and created is false.
func (s *Store) InsertReport(ctx context.Context, year, month int) (models.ReportJob, bool, error) {
	ctx, cancel := s.opContext(ctx)
	defer cancel()

	job, err := scanReport(s.pool.QueryRow(ctx, queryInsertReport, uuid.New().String(), year, month, time.Now().UTC()))
	if err == nil {
		return job, true, nil
	}
	if !errors.Is(err, pgx.ErrNoRows) {
		return models.ReportJob{}, false, fmt.Errorf("insert report: %w", err)
	}

	// Conflict on (period_year, period_month): someone else owns the period.
	existing, err := scanReport(s.pool.QueryRow(ctx, queryGetReportByPeriod, year, month))
	if err != nil {
		return models.ReportJob{}, false, fmt.Errorf("load existing report %04d-%02d: %w", year, month, err)
	}
	return existing, false, nil
}

// GetReport fetches a report by id.
func (s *Store) GetReport(ctx context.Context, id string) (models.ReportJob, error) {
	if _, err := uuid.Parse(id); err != nil {
		return models.ReportJob{}, ErrNotFound
	}
	ctx, cancel := s.opContext(ctx)
	defer cancel()

	job, err := scanReport(s.pool.QueryRow(ctx, queryGetReport, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return models.ReportJob{}, ErrNotFound
	}
	if err != nil {
		return models.ReportJob{}, fmt.Errorf("get report: %w", err)
	}
	return job, nil
}

// GetReportByPeriod fetches the report for a period, if any.
func (s *Store) GetReportByPeriod(ctx context.Context, year, month int) (models.ReportJob, bool, error) {
	ctx, cancel := s.opContext(ctx)
	defer cancel()

	job, err := scanReport(s.pool.QueryRow(ctx, queryGetReportByPeriod, year, month))
	if errors.Is(err, pgx.ErrNoRows) {
		return models.ReportJob{}, false, nil
	}
	if err != nil {
		return models.ReportJob{}, false, fmt.Errorf("get report by period: %w", err)
	}
	return job, true, nil
}

// ListReports returns every report, newest period first.
func (s *Store) ListReports(ctx context.Context) ([]models.ReportJob, error) {
	ctx, cancel := s.opContext(ctx)
	defer cancel()

	rows, err := s.pool.Query(ctx, queryListReports)
	if err != nil {
		return nil, fmt.Errorf("list reports: %w", err)
	}
	defer rows.Close()

	out := []models.ReportJob{}
	for rows.Next() {
		job, err := scanReport(rows)
		if err != nil {
			return nil, fmt.Errorf("scan report: %w", err)
		}
		out = append(out, job)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list reports: %w", err)
	}
	return out, nil
}

// ClaimOldestPending atomically moves the oldest PENDING report to INPROGRESS.
// found is false when nothing is pending.
func (s *Store) ClaimOldestPending(ctx context.Context) (models.ReportJob, bool, error) {
	ctx, cancel := s.opContext(ctx)
	defer cancel()

	job, err := scanReport(s.pool.QueryRow(ctx, queryClaimOldestPending))
	if errors.Is(err, pgx.ErrNoRows) {
		return models.ReportJob{}, false, nil
	}
	if err != nil {
		return models.ReportJob{}, false, fmt.Errorf("claim report: %w", err)
	}
	return job, true, nil
}

// CompleteReport transitions INPROGRESS -> COMPLETE and records the artifact key.
func (s *Store) CompleteReport(ctx context.Context, id, artifactKey string) (models.ReportJob, error) {
	return s.transition(ctx, id, "complete", queryCompleteReport, id, artifactKey)
}

// FailReport transitions INPROGRESS -> ERROR.
func (s *Store) FailReport(ctx context.Context, id string) (models.ReportJob, error) {
	return s.transition(ctx, id, "fail", queryFailReport, id)
}

// RequeueReport re-arms a terminal report as PENDING for a new attempt.
func (s *Store) RequeueReport(ctx context.Context, id string) (models.ReportJob, error) {
	return s.transition(ctx, id, "requeue", queryRequeueReport, id)
}

// transition runs a guarded UPDATE ... RETURNING. When no row is returned it
// re-reads the row to tell a missing id from a wrong starting state.
func (s *Store) transition(ctx context.Context, id, op, query string, args ...any) (models.ReportJob, error) {
	if _, err := uuid.Parse(id); err != nil {
		return models.ReportJob{}, ErrNotFound
	}
	ctx, cancel := s.opContext(ctx)
	defer cancel()

	job, err := scanReport(s.pool.QueryRow(ctx, query, args...))
	if err == nil {
		return job, nil
	}
	if !errors.Is(err, pgx.ErrNoRows) {
		return models.ReportJob{}, fmt.Errorf("%s report: %w", op, err)
	}

	current, err := scanReport(s.pool.QueryRow(ctx, queryGetReport, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return models.ReportJob{}, ErrNotFound
	}
	if err != nil {
		return models.ReportJob{}, fmt.Errorf("%s report: %w", op, err)
	}
	return current, fmt.Errorf("%w: cannot %s report %s in status %s", ErrInvalidTransition, op, id, current.Status)
}

// FailStale moves INPROGRESS reports claimed before olderThan to ERROR and
// returns their ids.
func (s *Store) FailStale(ctx context.Context, olderThan time.Time, limit int) ([]string, error) {
	ctx, cancel := s.opContext(ctx)
	defer cancel()

	rows, err := s.pool.Query(ctx, queryFailStale, olderThan, limit)
	if err != nil {
		return nil, fmt.Errorf("fail stale reports: %w", err)
	}
	ids, err := pgx.CollectRows(rows, pgx.RowTo[string])
	if err != nil {
		return nil, fmt.Errorf("fail stale reports: %w", err)
	}
	return ids, nil
}

// CountPending returns how many reports wait to be claimed.
func (s *Store) CountPending(ctx context.Context) (int64, error) {
	ctx, cancel := s.opContext(ctx)
	defer cancel()

	var n int64
	if err := s.pool.QueryRow(ctx, queryCountPending).Scan(&n); err != nil {
		return 0, fmt.Errorf("count pending reports: %w", err)
	}
	return n, nil
}

// ActivitiesBetween returns activities with start <= ts <= end, oldest first.
func (s *Store) ActivitiesBetween(ctx context.Context, start, end time.Time) ([]models.Activity, error) {
	ctx, cancel := s.opContext(ctx)
	defer cancel()

	rows, err := s.pool.Query(ctx, queryActivitiesBetween, start, end)
	if err != nil {
		return nil, fmt.Errorf("query activities: %w", err)
	}
	defer rows.Close()

	out := []models.Activity{}
	for rows.Next() {
		var a models.Activity
		var note pgtype.Text
		if err := rows.Scan(&a.Timestamp, &a.Category, &a.Amount, &a.Unit, &a.KgCO2e, &note); err != nil {
			return nil, fmt.Errorf("scan activity: %w", err)
		}
		a.Note = textPtr(note)
		out = append(out, a)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("query activities: %w", err)
	}
	return out, nil
}

func scanReport(row pgx.Row) (models.ReportJob, error) {
	var job models.ReportJob
	var status string
	var key pgtype.Text
	var claimed pgtype.Timestamptz

	if err := row.Scan(&job.ID, &job.Seq, &job.PeriodYear, &job.PeriodMonth, &status, &key, &claimed, &job.CreatedAt, &job.UpdatedAt); err != nil {
		return models.ReportJob{}, err
	}
	job.Status = models.ReportStatus(status)
	job.ArtifactKey = textPtr(key)
	if claimed.Valid {
		t := claimed.Time
		job.ClaimedAt = &t
	}
	return job, nil
}

func textPtr(t pgtype.Text) *string {
	if t.Valid {
		return &t.String
	}
	return nil
}

// CountActivitiesBetween counts activities with start <= ts <= end.
func (s *Store) CountActivitiesBetween(ctx context.Context, start, end time.Time) (int64, error) {
	ctx, cancel := s.opContext(ctx)
	defer cancel()

	var n int64
	if err := s.pool.QueryRow(ctx, queryCountActivitiesBetween, start, end).Scan(&n); err != nil {
		return 0, fmt.Errorf("count activities: %w", err)
	}
	return n, nil
}
