package metrics

import (
	"errors"
	"io"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMetrics_Observers(t *testing.T) {
	m, err := New("test")
	require.NoError(t, err)

	m.CacheHit()
	m.CacheHit()
	m.CacheMiss(false)
	m.CacheMiss(true)
	m.CacheEvict()
	m.CacheSize(7)
	m.QueueDepth(3)
	m.BusyWorkers(2)
	m.JobDone(time.Second, nil)
	m.JobDone(time.Second, errors.New("x"))
	m.ObserveRequest("POST", "/remove_background", 200, 10*time.Millisecond)
	m.ObserveRequest("GET", "", 404, time.Millisecond)

	assert.Equal(t, 2.0, testutil.ToFloat64(m.cacheLookups.WithLabelValues("hit")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.cacheLookups.WithLabelValues("miss")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.cacheLookups.WithLabelValues("expired")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.cacheEvictions))
	assert.Equal(t, 7.0, testutil.ToFloat64(m.cacheEntries))
	assert.Equal(t, 3.0, testutil.ToFloat64(m.queueDepth))
	assert.Equal(t, 2.0, testutil.ToFloat64(m.busyWorkers))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.httpRequests.WithLabelValues("GET", "unmatched", "404")))
	assert.Equal(t, 2, testutil.CollectAndCount(m.jobDuration))
}

func TestMetrics_Handler(t *testing.T) {
	m, err := New("")
	require.NoError(t, err)
	m.CacheHit()

	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))
	body, _ := io.ReadAll(rec.Body)
	assert.Equal(t, 200, rec.Code)
	assert.Contains(t, string(body), `bgswap_cache_lookups_total{result="hit"} 1`)
	assert.Contains(t, string(body), "go_goroutines")
}

func TestMetrics_ReusesRegisteredCollectors(t *testing.T) {
	reg := prometheus.NewRegistry()
	a, err := NewWithRegisterer("dup", reg)
	require.NoError(t, err)
	b, err := NewWithRegisterer("dup", reg)
	require.NoError(t, err)

	a.CacheEvict()
	assert.Equal(t, 1.0, testutil.ToFloat64(b.cacheEvictions))
}

func TestMetrics_NilSafe(t *testing.T) {
	var m *Metrics
	assert.NotPanics(t, func() {
		m.CacheHit()
		m.CacheMiss(true)
		m.CacheEvict()
		m.CacheSize(1)
		m.QueueDepth(1)
		m.BusyWorkers(1)
		m.JobDone(time.Second, nil)
		m.ObserveRequest("GET", "/", 200, time.Second)
	})
}
