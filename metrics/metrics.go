// Package metrics exposes Prometheus instrumentation for the synchronization
// engine. A nil *Metrics is valid and records nothing.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "ofono"

// Metrics holds the collectors.
type Metrics struct {
	fetchRetries       *prometheus.CounterVec
	fetchFailures      *prometheus.CounterVec
	enumerationRetries *prometheus.CounterVec
	toggleRetries      prometheus.Counter
	activationFailures prometheus.Counter
	liveObjects        *prometheus.GaugeVec
	validObjects       *prometheus.GaugeVec
}

// New creates the collectors and registers them with reg. A nil reg creates
// unregistered collectors.
func New(reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)
	return &Metrics{
		fetchRetries: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "property_fetch_retries_total",
			Help:      "GetProperties retries by interface and error class",
		}, []string{"interface", "class"}),
		fetchFailures: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "property_fetch_failures_total",
			Help:      "GetProperties calls that failed terminally, by interface",
		}, []string{"interface"}),
		enumerationRetries: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "enumeration_retries_total",
			Help:      "Child enumeration retries by method",
		}, []string{"method"}),
		toggleRetries: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "toggle_retries_total",
			Help:      "Activation toggles retried after a busy error",
		}),
		activationFailures: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "activation_failures_total",
			Help:      "Activations given up on",
		}),
		liveObjects: f.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "live_objects",
			Help:      "Remote objects currently mirrored, by interface",
		}, []string{"interface"}),
		validObjects: f.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "valid_objects",
			Help:      "Remote objects currently valid, by interface",
		}, []string{"interface"}),
	}
}

// FetchRetry counts a property fetch retry.
func (m *Metrics) FetchRetry(iface, class string) {
	if m != nil {
		m.fetchRetries.WithLabelValues(iface, class).Inc()
	}
}

// FetchFailure counts a terminal property fetch failure.
func (m *Metrics) FetchFailure(iface string) {
	if m != nil {
		m.fetchFailures.WithLabelValues(iface).Inc()
	}
}

// EnumerationRetry counts an enumeration retry.
func (m *Metrics) EnumerationRetry(method string) {
	if m != nil {
		m.enumerationRetries.WithLabelValues(method).Inc()
	}
}

// ToggleRetry counts a busy toggle retry.
func (m *Metrics) ToggleRetry() {
	if m != nil {
		m.toggleRetries.Inc()
	}
}

// ActivationFailure counts an activation that was given up on.
func (m *Metrics) ActivationFailure() {
	if m != nil {
		m.activationFailures.Inc()
	}
}

// ObjectCreated and ObjectDisposed track live objects.
func (m *Metrics) ObjectCreated(iface string) {
	if m != nil {
		m.liveObjects.WithLabelValues(iface).Inc()
	}
}

func (m *Metrics) ObjectDisposed(iface string) {
	if m != nil {
		m.liveObjects.WithLabelValues(iface).Dec()
	}
}

// ValidChanged tracks valid objects.
func (m *Metrics) ValidChanged(iface string, valid bool) {
	if m == nil {
		return
	}
	if valid {
		m.validObjects.WithLabelValues(iface).Inc()
	} else {
		m.validObjects.WithLabelValues(iface).Dec()
	}
}
