package metrics

import (
	"io"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestObserveRefresh(t *testing.T) {
	m := New(false)
	finished := time.Unix(1700000000, 0)

	m.ObserveRefresh("succeeded", 34, finished)
	m.ObserveRefresh("skipped", 0, finished)
	m.ObserveRefresh("failed", 0, finished.Add(time.Hour))

	assert.Equal(t, 1.0, testutil.ToFloat64(m.refreshRuns.WithLabelValues("succeeded")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.refreshRuns.WithLabelValues("failed")))
	assert.Equal(t, 34.0, testutil.ToFloat64(m.storedRecords))
	assert.Equal(t, float64(finished.Unix()), testutil.ToFloat64(m.lastSuccess))
}

func TestNilMetricsAreSafe(t *testing.T) {
	var m *Metrics
	m.ObserveRefresh("succeeded", 1, time.Now())
	m.ObserveFetch(time.Second)
	m.ObserveRequest("/", 200, time.Millisecond)
}

func TestHandlerExposesCollectors(t *testing.T) {
	m := New(false)
	m.ObserveRequest("/api/nrega", 200, 10*time.Millisecond)

	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))
	body, err := io.ReadAll(rec.Body)
	require.NoError(t, err)
	assert.Contains(t, string(body), `nrega_http_requests_total{code="200",route="/api/nrega"} 1`)
}

func TestRuntimeCollectorsAreRegistered(t *testing.T) {
	m := New(true)
	m.ObserveFetch(time.Second)

	families, err := m.Registry.Gather()
	require.NoError(t, err)

	names := make(map[string]bool, len(families))
	for _, f := range families {
		names[f.GetName()] = true
	}
	assert.True(t, names["go_goroutines"])
	assert.True(t, names["nrega_upstream_fetch_duration_seconds"])
}
