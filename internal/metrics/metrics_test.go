package metrics

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewCollector(t *testing.T) {
	// Reset Prometheus registry to avoid duplicate registration
	prometheus.DefaultRegisterer = prometheus.NewRegistry()

	collector := NewCollector()

	assert.NotNil(t, collector, "NewCollector should return a non-nil collector")
	assert.NotNil(t, collector.apiRequests)
	assert.NotNil(t, collector.apiLatency)
	assert.NotNil(t, collector.actions)
	assert.NotNil(t, collector.actionsInFlight)
	assert.NotNil(t, collector.fetches)
	assert.NotNil(t, collector.staleResponses)
	assert.NotNil(t, collector.sessionTransitions)
}

func TestRecordRequest(t *testing.T) {
	prometheus.DefaultRegisterer = prometheus.NewRegistry()
	collector := NewCollector()

	collector.RecordRequest("list_logs", "ok", 20*time.Millisecond)
	collector.RecordRequest("list_logs", "ok", 30*time.Millisecond)
	collector.RecordRequest("list_logs", "error", time.Millisecond)

	assert.Equal(t, 2.0, testutil.ToFloat64(collector.apiRequests.WithLabelValues("list_logs", "ok")))
	assert.Equal(t, 1.0, testutil.ToFloat64(collector.apiRequests.WithLabelValues("list_logs", "error")))
}

func TestRecordAction(t *testing.T) {
	prometheus.DefaultRegisterer = prometheus.NewRegistry()
	collector := NewCollector()

	testCases := []struct {
		command string
		outcome string
	}{
		{"start", "ok"},
		{"pause", "error"},
		{"run", "rejected"},
		{"delete", "declined"},
	}

	for _, tc := range testCases {
		t.Run(tc.command+"/"+tc.outcome, func(t *testing.T) {
			collector.RecordAction(tc.command, tc.outcome)
			assert.Equal(t, 1.0, testutil.ToFloat64(collector.actions.WithLabelValues(tc.command, tc.outcome)))
		})
	}
}

func TestFetchLifecycleMetrics(t *testing.T) {
	prometheus.DefaultRegisterer = prometheus.NewRegistry()
	collector := NewCollector()

	collector.RecordFetch(false)
	collector.RecordFetch(false)
	collector.RecordFetch(true)
	collector.RecordStale()
	collector.SetActionsInFlight(3)

	assert.Equal(t, 2.0, testutil.ToFloat64(collector.fetches.WithLabelValues("issued")))
	assert.Equal(t, 1.0, testutil.ToFloat64(collector.fetches.WithLabelValues("corrective")))
	assert.Equal(t, 1.0, testutil.ToFloat64(collector.staleResponses))
	assert.Equal(t, 3.0, testutil.ToFloat64(collector.actionsInFlight))
}

func TestNilCollector(t *testing.T) {
	var collector *Collector

	assert.NotPanics(t, func() {
		collector.RecordRequest("me", "ok", time.Millisecond)
		collector.RecordAction("start", "ok")
		collector.SetActionsInFlight(1)
		collector.RecordFetch(true)
		collector.RecordStale()
		collector.RecordSession("LOGGED_IN")
	}, "nil collector should be a no-op")
}

func TestConcurrentMetricUpdates(t *testing.T) {
	prometheus.DefaultRegisterer = prometheus.NewRegistry()
	collector := NewCollector()

	done := make(chan bool, 50)
	for i := 0; i < 50; i++ {
		go func() {
			collector.RecordRequest("list_jobs", "ok", time.Millisecond)
			collector.RecordAction("run", "ok")
			collector.RecordFetch(false)
			done <- true
		}()
	}
	for i := 0; i < 50; i++ {
		<-done
	}

	assert.Equal(t, 50.0, testutil.ToFloat64(collector.actions.WithLabelValues("run", "ok")))
}

func TestCollectorIsolation(t *testing.T) {
	prometheus.DefaultRegisterer = prometheus.NewRegistry()

	collector1 := NewCollector()
	require.NotNil(t, collector1)

	// A process should have only one collector per registry
	assert.Panics(t, func() {
		NewCollector()
	}, "Creating a second collector should panic due to duplicate registration")
}
