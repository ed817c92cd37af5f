// Package metrics exposes relay counters on an isolated prometheus registry.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "pairing"

type Metrics struct {
	Registry *prometheus.Registry

	rooms        prometheus.Gauge
	participants prometheus.Gauge
	joins        *prometheus.CounterVec
	envelopes    *prometheus.CounterVec
	dropped      prometheus.Counter
	kicks        *prometheus.CounterVec
}

func New() *Metrics {
	m := &Metrics{
		Registry: prometheus.NewRegistry(),
		rooms: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace, Name: "sessions_active", Help: "Session rooms with at least one participant.",
		}),
		participants: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace, Name: "participants_active", Help: "Participants currently joined to a session.",
		}),
		joins: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Name: "joins_total", Help: "Accepted joins by role.",
		}, []string{"role"}),
		envelopes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Name: "envelopes_relayed_total", Help: "Envelopes accepted for relay by type.",
		}, []string{"type"}),
		dropped: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Name: "envelopes_dropped_total", Help: "Deliveries dropped on a full send queue.",
		}),
		kicks: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Name: "kicks_total", Help: "Participants removed by the relay by reason.",
		}, []string{"reason"}),
	}
	m.Registry.MustRegister(m.rooms, m.participants, m.joins, m.envelopes, m.dropped, m.kicks,
		prometheus.NewGoCollector())
	return m
}

func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.Registry, promhttp.HandlerOpts{Registry: m.Registry})
}

// The observers below accept a nil receiver so metrics stay optional.

func (m *Metrics) ObserveJoin(role string) {
	if m == nil {
		return
	}
	m.joins.WithLabelValues(role).Inc()
}

func (m *Metrics) ObserveEnvelope(typ string, dropped int) {
	if m == nil {
		return
	}
	m.envelopes.WithLabelValues(typ).Inc()
	m.dropped.Add(float64(dropped))
}

func (m *Metrics) ObserveKick(reason string) {
	if m == nil {
		return
	}
	m.kicks.WithLabelValues(reason).Inc()
}

func (m *Metrics) SetLoad(rooms, participants int) {
	if m == nil {
		return
	}
	m.rooms.Set(float64(rooms))
	m.participants.Set(float64(participants))
}
