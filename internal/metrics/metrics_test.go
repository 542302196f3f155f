package metrics

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
)

func TestNilMetricsIsSafe(t *testing.T) {
	t.Parallel()
	var m *Metrics
	m.ObserveCycle("changed", time.Second)
	m.SkippedTick()
	m.Delivery("direct", "ok", 2)
	m.Target("error")
	assert.Nil(t, m.Registry())

	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestCounters(t *testing.T) {
	t.Parallel()
	m := New()
	m.ObserveCycle("unchanged", 10*time.Millisecond)
	m.ObserveCycle("unchanged", 10*time.Millisecond)
	m.ObserveCycle("changed", time.Second)
	m.SkippedTick()
	m.Delivery("direct", "permanent", 1)
	m.Pruned(1)

	assert.Equal(t, 2.0, testutil.ToFloat64(m.cycles.WithLabelValues("unchanged")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.skippedTicks))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.deliveries.WithLabelValues("direct", "permanent")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.pruned))

	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "ipwatch_cycles_total")
}
