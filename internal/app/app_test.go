package app

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestWorkerID(t *testing.T) {
	t.Setenv("WORKER_ID", "worker-a")
	assert.Equal(t, "worker-a", WorkerID())

	t.Setenv("WORKER_ID", "")
	assert.NotEmpty(t, WorkerID())
}
