package schedule

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"carbon-reports/internal/jobs"
	"carbon-reports/internal/testutil"
)

func TestPreviousMonth(t *testing.T) {
	y, m := PreviousMonth(time.Date(2024, 3, 1, 2, 0, 0, 0, time.UTC))
	assert.Equal(t, 2024, y)
	assert.Equal(t, 2, m)

	y, m = PreviousMonth(time.Date(2024, 1, 31, 23, 0, 0, 0, time.UTC))
	assert.Equal(t, 2023, y)
	assert.Equal(t, 12, m)
}

func TestNew_RejectsBadExpression(t *testing.T) {
	_, err := New("every month", nil, time.Minute, testutil.QuietLogger())
	assert.Error(t, err)
}

func TestTick_EnqueuesPreviousMonthOnce(t *testing.T) {
	clock := testutil.NewFakeClock(time.Date(2024, 2, 29, 23, 0, 0, 0, time.UTC))
	mem := testutil.NewMemStore(clock.Now)
	manager := jobs.NewManager(mem, jobs.Options{Logger: testutil.QuietLogger(), Now: clock.Now})

	s, err := New("0 2 1 * *", manager, time.Minute, testutil.QuietLogger())
	require.NoError(t, err)
	s.WithClock(clock.Now)
	ctx := context.Background()

	require.NoError(t, s.Tick(ctx))
	clock.Advance(2 * time.Hour) // 2024-03-01 01:00
	require.NoError(t, s.Tick(ctx))
	list, err := manager.List(ctx)
	require.NoError(t, err)
	assert.Empty(t, list)

	clock.Advance(90 * time.Minute) // 2024-03-01 02:30
	require.NoError(t, s.Tick(ctx))
	list, err = manager.List(ctx)
	require.NoError(t, err)
	require.Len(t, list, 1)
	assert.Equal(t, "2024-02", list[0].Period())

	clock.Advance(time.Hour)
	require.NoError(t, s.Tick(ctx))
	list, err = manager.List(ctx)
	require.NoError(t, err)
	assert.Len(t, list, 1)
}

func TestTick_RetriesAfterEnqueueFailure(t *testing.T) {
	clock := testutil.NewFakeClock(time.Date(2024, 3, 1, 1, 0, 0, 0, time.UTC))
	mem := testutil.NewMemStore(clock.Now)
	manager := jobs.NewManager(mem, jobs.Options{Logger: testutil.QuietLogger(), Now: clock.Now})

	s, err := New("0 2 1 * *", manager, time.Minute, testutil.QuietLogger())
	require.NoError(t, err)
	s.WithClock(clock.Now)
	ctx := context.Background()
	require.NoError(t, s.Tick(ctx))

	clock.Advance(2 * time.Hour)
	mem.Err = errors.New("connection refused")
	assert.Error(t, s.Tick(ctx))

	mem.Err = nil
	clock.Advance(time.Minute)
	require.NoError(t, s.Tick(ctx))
	list, err := manager.List(ctx)
	require.NoError(t, err)
	require.Len(t, list, 1)
	assert.Equal(t, "2024-02", list[0].Period())
}
