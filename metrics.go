package rsp

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Metrics holds the Prometheus collectors of a client. A nil *Metrics records nothing.
type Metrics struct {
	operationsTotal   *prometheus.CounterVec
	operationDuration *prometheus.HistogramVec
	inflight          *prometheus.GaugeVec
	eventsTotal       *prometheus.CounterVec
}

// NewMetrics creates the collectors and registers them with reg. A nil reg registers
// with prometheus.DefaultRegisterer.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}

	m := &Metrics{
		operationsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "rsp",
				Subsystem: "client",
				Name:      "correlated_operations_total",
				Help:      "Total number of correlated operations by outcome",
			},
			[]string{"method", "outcome"},
		),
		operationDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: "rsp",
				Subsystem: "client",
				Name:      "correlated_operation_duration_seconds",
				Help:      "Duration of correlated operations in seconds",
				Buckets:   []float64{.01, .05, .1, .5, 1, 2.5, 5, 10, 30, 60, 120},
			},
			[]string{"method", "outcome"},
		),
		inflight: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: "rsp",
				Subsystem: "client",
				Name:      "inflight_operations",
				Help:      "Correlated operations waiting for their event",
			},
			[]string{"event"},
		),
		eventsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "rsp",
				Subsystem: "client",
				Name:      "events_total",
				Help:      "Total number of events received from the server",
			},
			[]string{"event"},
		),
	}
	reg.MustRegister(m.operationsTotal, m.operationDuration, m.inflight, m.eventsTotal)

	return m
}

func (m *Metrics) begin(event EventName) {
	if m == nil {
		return
	}
	m.inflight.WithLabelValues(string(event)).Inc()
}

func (m *Metrics) end(event EventName) {
	if m == nil {
		return
	}
	m.inflight.WithLabelValues(string(event)).Dec()
}

func (m *Metrics) observe(method, outcome string, d time.Duration) {
	if m == nil {
		return
	}
	m.operationsTotal.WithLabelValues(method, outcome).Inc()
	m.operationDuration.WithLabelValues(method, outcome).Observe(d.Seconds())
}

// countEvents subscribes a counter to every known event of bus and returns the
// subscriptions.
func (m *Metrics) countEvents(bus *EventBus) []*Subscription {
	if m == nil {
		return nil
	}
	subs := make([]*Subscription, 0, len(eventBindings))
	for _, b := range eventBindings {
		counter := m.eventsTotal.WithLabelValues(string(b.event))
		subs = append(subs, bus.Subscribe(b.event, func(any) {
			counter.Inc()
		}))
	}
	return subs
}
