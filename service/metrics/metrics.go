// Package metrics exposes the notification engine's counters to Prometheus.
package metrics

import (
	"net/http"

	"PPNotify/module/feed/model"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "ppnotify"

// Metrics observes sessions, fanout and delivery.
type Metrics struct {
	ActiveSessions prometheus.Gauge
	Sessions       *prometheus.CounterVec
	PublishedTotal prometheus.Counter
	LiveRouted     prometheus.Counter
	ReplayedTotal  prometheus.Counter
	DeliveredTotal prometheus.Counter
	BodyBytes      prometheus.Histogram

	reg *prometheus.Registry
}

func New() *Metrics {
	m := &Metrics{
		ActiveSessions: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "session",
			Name:      "active",
			Help:      "Number of live endpoints",
		}),
		Sessions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "session",
			Name:      "events_total",
			Help:      "Session lifecycle events by kind",
		}, []string{"event"}),
		PublishedTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "fanout",
			Name:      "published_total",
			Help:      "Notifications accepted for fanout",
		}),
		LiveRouted: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "fanout",
			Name:      "live_routed_total",
			Help:      "Follower copies pushed straight to a connected endpoint",
		}),
		ReplayedTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "fanout",
			Name:      "replayed_total",
			Help:      "Backlog entries moved into a queue on connect",
		}),
		DeliveredTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "delivery",
			Name:      "written_total",
			Help:      "Notifications written to clients",
		}),
		BodyBytes: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "fanout",
			Name:      "body_bytes",
			Help:      "Size of published bodies",
			Buckets:   prometheus.ExponentialBuckets(1, 2, 9),
		}),
		reg: prometheus.NewRegistry(),
	}
	m.reg.MustRegister(m.PrometheusCollectors()...)
	m.reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	return m
}

func (m *Metrics) PrometheusCollectors() []prometheus.Collector {
	return []prometheus.Collector{
		m.ActiveSessions,
		m.Sessions,
		m.PublishedTotal,
		m.LiveRouted,
		m.ReplayedTotal,
		m.DeliveredTotal,
		m.BodyBytes,
	}
}

func (m *Metrics) Registry() *prometheus.Registry { return m.reg }

func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.reg, promhttp.HandlerOpts{})
}

// ---- session.Observer ----

func (m *Metrics) SessionStarted(string, model.Endpoint) {
	m.ActiveSessions.Inc()
	m.Sessions.WithLabelValues("started").Inc()
}

func (m *Metrics) SessionClosed(string, model.Endpoint) {
	m.ActiveSessions.Dec()
	m.Sessions.WithLabelValues("closed").Inc()
}

func (m *Metrics) SessionRejected(string, model.Endpoint) {
	m.Sessions.WithLabelValues("rejected").Inc()
}

// ---- fanout.Recorder ----

func (m *Metrics) Published(n model.Notification, live int) {
	m.PublishedTotal.Inc()
	m.LiveRouted.Add(float64(live))
	m.BodyBytes.Observe(float64(n.Length))
}

func (m *Metrics) Replayed(_ string, count int) {
	m.ReplayedTotal.Add(float64(count))
}

// ---- delivery ----

func (m *Metrics) Delivered(string, model.Notification) {
	m.DeliveredTotal.Inc()
}
