// Package testutil provides shared test helpers for the report pipeline.
package testutil

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"carbon-reports/internal/models"
	"carbon-reports/internal/store"
)

// Transition is one recorded status change.
type Transition struct {
	ID       string
	From, To models.ReportStatus
}

// MemStore is an in-memory stand-in for the Postgres store. A single mutex
// serialises every call, which gives the same claim exclusivity the database
// provides with row locks.
type MemStore struct {
	mu          sync.Mutex
	reports     map[string]*models.ReportJob
	activities  []models.Activity
	seq         int64
	clock       func() time.Time
	transitions []Transition

	// Err, when set, is returned by every call.
	Err error
	// ActivitiesErr, when set, is returned by activity reads only.
	ActivitiesErr error
}

// NewMemStore creates an empty store using clock for timestamps; nil means time.Now.
func NewMemStore(clock func() time.Time) *MemStore {
	if clock == nil {
		clock = time.Now
	}
	return &MemStore{reports: map[string]*models.ReportJob{}, clock: clock}
}

// AddActivity appends an activity row.
func (m *MemStore) AddActivity(a models.Activity) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.activities = append(m.activities, a)
}

// Transitions returns a copy of every status change so far.
func (m *MemStore) Transitions() []Transition {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]Transition(nil), m.transitions...)
}

// Snapshot returns the stored job for id.
func (m *MemStore) Snapshot(id string) (models.ReportJob, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	j, ok := m.reports[id]
	if !ok {
		return models.ReportJob{}, false
	}
	return *j, true
}

func (m *MemStore) InsertReport(_ context.Context, year, month int) (models.ReportJob, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.Err != nil {
		return models.ReportJob{}, false, m.Err
	}
	for _, j := range m.reports {
		if j.PeriodYear == year && j.PeriodMonth == month {
			return *j, false, nil
		}
	}
	m.seq++
	now := m.clock().UTC()
	j := &models.ReportJob{
		ID:          uuid.New().String(),
		Seq:         m.seq,
		PeriodYear:  year,
		PeriodMonth: month,
		Status:      models.StatusPending,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	m.reports[j.ID] = j
	return *j, true, nil
}

func (m *MemStore) GetReport(_ context.Context, id string) (models.ReportJob, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.Err != nil {
		return models.ReportJob{}, m.Err
	}
	j, ok := m.reports[id]
	if !ok {
		return models.ReportJob{}, store.ErrNotFound
	}
	return *j, nil
}

func (m *MemStore) ListReports(_ context.Context) ([]models.ReportJob, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.Err != nil {
		return nil, m.Err
	}
	out := make([]models.ReportJob, 0, len(m.reports))
	for _, j := range m.reports {
		out = append(out, *j)
	}
	sort.Slice(out, func(a, b int) bool {
		if out[a].PeriodYear != out[b].PeriodYear {
			return out[a].PeriodYear > out[b].PeriodYear
		}
		return out[a].PeriodMonth > out[b].PeriodMonth
	})
	return out, nil
}

func (m *MemStore) ClaimOldestPending(_ context.Context) (models.ReportJob, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.Err != nil {
		return models.ReportJob{}, false, m.Err
	}
	var oldest *models.ReportJob
	for _, j := range m.reports {
		if j.Status != models.StatusPending {
			continue
		}
		if oldest == nil || j.CreatedAt.Before(oldest.CreatedAt) ||
			(j.CreatedAt.Equal(oldest.CreatedAt) && j.Seq < oldest.Seq) {
			oldest = j
		}
	}
	if oldest == nil {
		return models.ReportJob{}, false, nil
	}
	now := m.clock().UTC()
	m.setStatus(oldest, models.StatusInProgress, now)
	oldest.ClaimedAt = &now
	return *oldest, true, nil
}

func (m *MemStore) CompleteReport(_ context.Context, id, artifactKey string) (models.ReportJob, error) {
	return m.guarded(id, "complete", []models.ReportStatus{models.StatusInProgress}, func(j *models.ReportJob) {
		m.setStatus(j, models.StatusComplete, m.clock().UTC())
		j.ArtifactKey = &artifactKey
	})
}

func (m *MemStore) FailReport(_ context.Context, id string) (models.ReportJob, error) {
	return m.guarded(id, "fail", []models.ReportStatus{models.StatusInProgress}, func(j *models.ReportJob) {
		m.setStatus(j, models.StatusError, m.clock().UTC())
	})
}

func (m *MemStore) RequeueReport(_ context.Context, id string) (models.ReportJob, error) {
	return m.guarded(id, "requeue", []models.ReportStatus{models.StatusComplete, models.StatusError}, func(j *models.ReportJob) {
		m.setStatus(j, models.StatusPending, m.clock().UTC())
		j.ArtifactKey = nil
		j.ClaimedAt = nil
	})
}

func (m *MemStore) FailStale(_ context.Context, olderThan time.Time, limit int) ([]string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.Err != nil {
		return nil, m.Err
	}
	var ids []string
	for _, j := range m.reports {
		if len(ids) >= limit {
			break
		}
		if j.Status == models.StatusInProgress && j.ClaimedAt != nil && j.ClaimedAt.Before(olderThan) {
			m.setStatus(j, models.StatusError, m.clock().UTC())
			ids = append(ids, j.ID)
		}
	}
	return ids, nil
}

func (m *MemStore) CountPending(_ context.Context) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.Err != nil {
		return 0, m.Err
	}
	var n int64
	for _, j := range m.reports {
		if j.Status == models.StatusPending {
			n++
		}
	}
	return n, nil
}

func (m *MemStore) ActivitiesBetween(_ context.Context, start, end time.Time) ([]models.Activity, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.Err != nil {
		return nil, m.Err
	}
	if m.ActivitiesErr != nil {
		return nil, m.ActivitiesErr
	}
	var out []models.Activity
	for _, a := range m.activities {
		if !a.Timestamp.Before(start) && !a.Timestamp.After(end) {
			out = append(out, a)
		}
	}
	sort.SliceStable(out, func(i, k int) bool { return out[i].Timestamp.Before(out[k].Timestamp) })
	return out, nil
}

func (m *MemStore) CountActivitiesBetween(ctx context.Context, start, end time.Time) (int64, error) {
	rows, err := m.ActivitiesBetween(ctx, start, end)
	return int64(len(rows)), err
}

func (m *MemStore) guarded(id, op string, from []models.ReportStatus, apply func(*models.ReportJob)) (models.ReportJob, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.Err != nil {
		return models.ReportJob{}, m.Err
	}
	j, ok := m.reports[id]
	if !ok {
		return models.ReportJob{}, store.ErrNotFound
	}
	for _, s := range from {
		if j.Status == s {
			apply(j)
			return *j, nil
		}
	}
	return *j, fmt.Errorf("%w: cannot %s report %s in status %s", store.ErrInvalidTransition, op, id, j.Status)
}

func (m *MemStore) setStatus(j *models.ReportJob, to models.ReportStatus, now time.Time) {
	m.transitions = append(m.transitions, Transition{ID: j.ID, From: j.Status, To: to})
	j.Status = to
	j.UpdatedAt = now
}
