package observability

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// MetricsConfig holds configuration for the reload metrics collector.
type MetricsConfig struct {
	Namespace   string `yaml:"namespace" json:"namespace"`
	Subsystem   string `yaml:"subsystem" json:"subsystem"`
	MetricsPath string `yaml:"path" json:"path"`
}

// DefaultMetricsConfig returns the default configuration.
func DefaultMetricsConfig() MetricsConfig {
	return MetricsConfig{
		Namespace:   "devreload",
		MetricsPath: "/metrics",
	}
}

// ReloadMetrics wraps the Prometheus metrics of the reload coordinator. A nil
// *ReloadMetrics is valid and records nothing.
type ReloadMetrics struct {
	config   MetricsConfig
	registry *prometheus.Registry

	Scans          *prometheus.CounterVec
	ScanDuration   prometheus.Histogram
	Compilations   *prometheus.CounterVec
	Reloads        *prometheus.CounterVec
	ChangedClasses prometheus.Counter
	Faulted        prometheus.Gauge
}

// NewReloadMetrics creates a collector with its own Prometheus registry.
func NewReloadMetrics(cfg MetricsConfig) *ReloadMetrics {
	reg := prometheus.NewRegistry()
	ns, sub := cfg.Namespace, cfg.Subsystem

	m := &ReloadMetrics{
		config:   cfg,
		registry: reg,
		Scans: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: ns,
			Subsystem: sub,
			Name:      "scans_total",
			Help:      "Total number of change scans by outcome",
		}, []string{"outcome"}),
		ScanDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: ns,
			Subsystem: sub,
			Name:      "scan_duration_seconds",
			Help:      "Duration of scan cycles in seconds, including compilation and reload",
			Buckets:   prometheus.DefBuckets,
		}),
		Compilations: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: ns,
			Subsystem: sub,
			Name:      "compilations_total",
			Help:      "Total number of incremental compilations by status",
		}, []string{"status"}),
		Reloads: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: ns,
			Subsystem: sub,
			Name:      "reloads_total",
			Help:      "Total number of application reloads by kind",
		}, []string{"kind"}),
		ChangedClasses: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: ns,
			Subsystem: sub,
			Name:      "changed_classes_total",
			Help:      "Total number of changed classes picked up by scans",
		}),
		Faulted: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: ns,
			Subsystem: sub,
			Name:      "faulted",
			Help:      "1 while a compilation problem blocks the application, 0 otherwise",
		}),
	}

	reg.MustRegister(m.Scans, m.ScanDuration, m.Compilations, m.Reloads, m.ChangedClasses, m.Faulted)
	return m
}

// MetricsPath returns the configured metrics endpoint path.
func (m *ReloadMetrics) MetricsPath() string { return m.config.MetricsPath }

// Registry returns the underlying Prometheus registry.
func (m *ReloadMetrics) Registry() *prometheus.Registry { return m.registry }

// Handler returns an HTTP handler that serves Prometheus metrics.
func (m *ReloadMetrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// RecordScan records the outcome and duration of a scan cycle.
func (m *ReloadMetrics) RecordScan(outcome string, duration time.Duration) {
	if m == nil {
		return
	}
	m.Scans.WithLabelValues(outcome).Inc()
	m.ScanDuration.Observe(duration.Seconds())
}

// RecordCompilation records an incremental compilation.
func (m *ReloadMetrics) RecordCompilation(status string) {
	if m == nil {
		return
	}
	m.Compilations.WithLabelValues(status).Inc()
}

// RecordReload records an application reload and the number of classes it
// carried.
func (m *ReloadMetrics) RecordReload(kind string, classes int) {
	if m == nil {
		return
	}
	m.Reloads.WithLabelValues(kind).Inc()
	m.ChangedClasses.Add(float64(classes))
}

// SetFaulted sets the faulted gauge.
func (m *ReloadMetrics) SetFaulted(faulted bool) {
	if m == nil {
		return
	}
	if faulted {
		m.Faulted.Set(1)
	} else {
		m.Faulted.Set(0)
	}
}
