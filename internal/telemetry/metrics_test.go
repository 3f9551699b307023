package telemetry

import (
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestHandler_ExposesReportMetrics(t *testing.T) {
	before := testutil.ToFloat64(ReportsEnqueued)
	ReportsEnqueued.Inc()
	assert.Equal(t, before+1, testutil.ToFloat64(ReportsEnqueued))

	srv := httptest.NewServer(Handler())
	defer srv.Close()
	// A second call must not panic on duplicate registration.
	_ = Handler()

	resp, err := http.Get(srv.URL)
	require.NoError(t, err)
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)

	assert.Contains(t, string(body), "reports_enqueued_total")
	assert.Contains(t, string(body), "report_build_seconds_bucket")
}
