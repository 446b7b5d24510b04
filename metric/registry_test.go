package metric

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewMetricsRegistry(t *testing.T) {
	r := NewMetricsRegistry()
	require.NotNil(t, r)
	require.NotNil(t, r.CoreMetrics())
	require.NotNil(t, r.PrometheusRegistry())
}

func TestCoreMetricRecording(t *testing.T) {
	r := NewMetricsRegistry()
	m := r.CoreMetrics()

	m.RecordWindowProcessed(50 * time.Millisecond)
	m.RecordDatapoints(3)
	m.RecordMessageEmitted("timeseries")
	m.RecordMessageEmitted("diagnostic")
	m.RecordParseError()
	m.RecordSubscriptions(2, 3)
	m.RecordNATSStatus(true)

	assert.Equal(t, 1.0, testutil.ToFloat64(m.WindowsProcessed))
	assert.Equal(t, 3.0, testutil.ToFloat64(m.DatapointsReceived))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.MessagesEmitted.WithLabelValues("timeseries")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.ParseErrors))
	assert.Equal(t, 2.0, testutil.ToFloat64(m.ActiveSubscriptions))
	assert.Equal(t, 3.0, testutil.ToFloat64(m.NeedSetSize))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.NATSConnected))
}

func TestRegisterComponentMetric(t *testing.T) {
	r := NewMetricsRegistry()

	counter := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "evaluator_test_counter",
		Help: "test counter",
	})

	require.NoError(t, r.RegisterCounter("evaluator", "test_counter", counter))

	// Same key twice is rejected
	err := r.RegisterCounter("evaluator", "test_counter", counter)
	assert.Error(t, err)

	// Unregister allows re-registration
	assert.True(t, r.Unregister("evaluator", "test_counter"))
	assert.False(t, r.Unregister("evaluator", "test_counter"))
	require.NoError(t, r.RegisterCounter("evaluator", "test_counter", counter))
}

func TestServerAddress(t *testing.T) {
	s := NewServer(0, "", NewMetricsRegistry())
	assert.Equal(t, "http://localhost:9090/metrics", s.Address())
}
