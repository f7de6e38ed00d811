package metrics

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMetrics_Record(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := New(reg)

	m.RunStarted()
	assert.Equal(t, 1.0, testutil.ToFloat64(m.running))

	m.Published("0000000000000001", 5*time.Millisecond)
	m.Published("0000000000000001", 5*time.Millisecond)
	m.Published("0000000000000002", 5*time.Millisecond)
	m.PublishFailed(time.Millisecond)
	m.ProductionFailed()
	m.RunFinished(OutcomeFailed)

	assert.Equal(t, 2.0, testutil.ToFloat64(m.published.WithLabelValues("0000000000000001")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.published.WithLabelValues("0000000000000002")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.publishErrors))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.productionErrors))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.runs.WithLabelValues(OutcomeFailed)))
	assert.Equal(t, 0.0, testutil.ToFloat64(m.running))
	assert.Equal(t, 1, testutil.CollectAndCount(m.publishDuration))
}

func TestMetrics_NilIsNoop(t *testing.T) {
	var m *Metrics
	assert.NotPanics(t, func() {
		m.RunStarted()
		m.Published("0000000000000001", time.Millisecond)
		m.PublishFailed(time.Millisecond)
		m.ProductionFailed()
		m.RunFinished(OutcomeStopped)
	})
}

func TestHandler(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := New(reg)
	m.Published("0000000000000001", time.Millisecond)

	rec := httptest.NewRecorder()
	Handler(reg).ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))

	require.Equal(t, http.StatusOK, rec.Code)
	body := rec.Body.String()
	assert.True(t, strings.Contains(body, `lorasim_downlinks_published_total{device="0000000000000001"} 1`))
	assert.Contains(t, body, "lorasim_engine_running 0")
}
