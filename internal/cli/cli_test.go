package cli

import (
	"bytes"
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"carbon-reports/internal/artifact"
	"carbon-reports/internal/config"
	"carbon-reports/internal/jobs"
	"carbon-reports/internal/models"
	"carbon-reports/internal/report"
	"carbon-reports/internal/testutil"
	"carbon-reports/internal/worker"
)

type env struct {
	mem      *testutil.MemStore
	manager  *jobs.Manager
	dir      string
	migrated bool
	closed   bool
	cfg      config.Config
}

func newEnv(t *testing.T) *env {
	t.Helper()
	mem := testutil.NewMemStore(nil)
	return &env{
		mem:     mem,
		manager: jobs.NewManager(mem, jobs.Options{Logger: testutil.QuietLogger()}),
		dir:     t.TempDir(),
	}
}

func (e *env) open(_ context.Context, cfg config.Config, log logrus.FieldLogger) (*Backend, error) {
	e.cfg = cfg
	proc := worker.NewProcessor(e.manager, report.NewBuilder(e.mem), artifact.NewLocalPublisher(e.dir), log, worker.Options{})
	return &Backend{
		Reports: e.manager,
		Runner:  proc,
		Migrate: func(context.Context) error { e.migrated = true; return nil },
		Close:   func() { e.closed = true },
	}, nil
}

func run(t *testing.T, e *env, args ...string) (string, error) {
	t.Helper()
	cmd := BuildCLI(e.open)
	var out, errOut bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetErr(&errOut)
	cmd.SetArgs(args)
	err := cmd.ExecuteContext(context.Background())
	return out.String(), err
}

func TestBuildCLI(t *testing.T) {
	cmd := BuildCLI(nil)
	assert.Equal(t, "reportctl", cmd.Use)

	names := map[string]bool{}
	for _, c := range cmd.Commands() {
		names[c.Name()] = true
	}
	for _, want := range []string{"migrate", "enqueue", "list", "retry", "run-once"} {
		assert.True(t, names[want], "missing %s command", want)
	}

	flag := cmd.PersistentFlags().Lookup("config")
	require.NotNil(t, flag)
	assert.Equal(t, "c", flag.Shorthand)
}

func TestMigrate(t *testing.T) {
	e := newEnv(t)
	out, err := run(t, e, "migrate")
	require.NoError(t, err)
	assert.Contains(t, out, "migrations applied")
	assert.True(t, e.migrated)
	assert.True(t, e.closed)
}

func TestEnqueueAndList(t *testing.T) {
	e := newEnv(t)

	out, err := run(t, e, "enqueue", "--year", "2024", "--month", "3")
	require.NoError(t, err)
	assert.Contains(t, out, "2024-03 queued")

	out, err = run(t, e, "enqueue", "--year", "2024", "--month", "3")
	require.NoError(t, err)
	assert.Contains(t, out, "2024-03 already exists")

	out, err = run(t, e, "list")
	require.NoError(t, err)
	lines := strings.Split(strings.TrimSpace(out), "\n")
	require.Len(t, lines, 2)
	assert.Contains(t, lines[0], "PERIOD")
	assert.Contains(t, lines[1], "2024-03")
	assert.Contains(t, lines[1], "PENDING")
}

func TestEnqueue_Invalid(t *testing.T) {
	e := newEnv(t)
	_, err := run(t, e, "enqueue", "--year", "2024", "--month", "0")
	require.Error(t, err)
	assert.True(t, errors.Is(err, jobs.ErrInvalidPeriod))

	_, err = run(t, e, "enqueue", "--year", "2024")
	assert.Error(t, err, "month is required")
}

func TestRunOnceAndRetry(t *testing.T) {
	e := newEnv(t)
	e.mem.AddActivity(models.Activity{Timestamp: time.Date(2024, 3, 5, 0, 0, 0, 0, time.UTC), Category: "car_gasoline", Amount: 10, Unit: "km", KgCO2e: 2.1})

	out, err := run(t, e, "run-once")
	require.NoError(t, err)
	assert.Equal(t, "idle\n", out)

	job, _, err := e.manager.Enqueue(context.Background(), 2024, 3)
	require.NoError(t, err)

	out, err = run(t, e, "run-once")
	require.NoError(t, err)
	assert.Equal(t, "completed\n", out)
	_, err = os.Stat(filepath.Join(e.dir, "reports", "2024-03.csv"))
	require.NoError(t, err)

	out, err = run(t, e, "retry", job.ID)
	require.NoError(t, err)
	assert.Contains(t, out, "requeued "+job.ID)

	got, err := e.manager.Get(context.Background(), job.ID)
	require.NoError(t, err)
	assert.Equal(t, models.StatusPending, got.Status)

	_, err = run(t, e, "retry")
	assert.Error(t, err, "retry needs an id")
}

func TestConfigFlag(t *testing.T) {
	path := filepath.Join(t.TempDir(), "reports.yaml")
	require.NoError(t, os.WriteFile(path, []byte("worker_poll_interval: 2s\nartifact_dir: /srv/reports\n"), 0o644))

	e := newEnv(t)
	_, err := run(t, e, "-c", path, "list")
	require.NoError(t, err)
	assert.Equal(t, 2*time.Second, e.cfg.WorkerPollInterval)
	assert.Equal(t, "/srv/reports", e.cfg.ArtifactDir)

	_, err = run(t, e, "--config", filepath.Join(t.TempDir(), "missing.yaml"), "list")
	assert.Error(t, err)
}
