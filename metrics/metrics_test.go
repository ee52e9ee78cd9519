package metrics

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCounters(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := New(reg)

	m.FetchRetry("org.ofono.Modem", "Busy")
	m.FetchRetry("org.ofono.Modem", "Busy")
	m.FetchFailure("org.ofono.Modem")
	m.EnumerationRetry("GetModems")
	m.ToggleRetry()
	m.ActivationFailure()
	m.ObjectCreated("org.ofono.Modem")
	m.ObjectCreated("org.ofono.Modem")
	m.ObjectDisposed("org.ofono.Modem")
	m.ValidChanged("org.ofono.Modem", true)

	assert.Equal(t, 2.0, testutil.ToFloat64(m.fetchRetries.WithLabelValues("org.ofono.Modem", "Busy")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.fetchFailures.WithLabelValues("org.ofono.Modem")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.enumerationRetries.WithLabelValues("GetModems")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.toggleRetries))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.activationFailures))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.liveObjects.WithLabelValues("org.ofono.Modem")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.validObjects.WithLabelValues("org.ofono.Modem")))

	families, err := reg.Gather()
	require.NoError(t, err)
	assert.NotEmpty(t, families)
}

func TestNilMetrics(t *testing.T) {
	var m *Metrics
	assert.NotPanics(t, func() {
		m.FetchRetry("x", "Busy")
		m.FetchFailure("x")
		m.EnumerationRetry("x")
		m.ToggleRetry()
		m.ActivationFailure()
		m.ObjectCreated("x")
		m.ObjectDisposed("x")
		m.ValidChanged("x", false)
	})
}
