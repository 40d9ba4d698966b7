package services

import (
	"chairlink/models"

	"github.com/prometheus/client_golang/prometheus"
)

const metricsNamespace = "chairlink"

// Metrics holds the bridge's Prometheus collectors. A nil *Metrics is valid and records nothing.
type Metrics struct {
	connectionState    prometheus.Gauge
	connectAttempts    prometheus.Counter
	connectionFailures prometheus.Counter
	messagesReceived   prometheus.Counter
	decodeErrors       prometheus.Counter
	calendarOps        *prometheus.CounterVec
	entitiesRegistered prometheus.Counter
	persistenceErrors  prometheus.Counter
}

// NewMetrics creates the collectors and registers them with reg
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		connectionState: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: metricsNamespace,
			Name:      "connection_state",
			Help:      "1 while the device socket is connected, 0 otherwise.",
		}),
		connectAttempts: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Name:      "connect_attempts_total",
			Help:      "Websocket dial attempts to the device.",
		}),
		connectionFailures: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Name:      "connection_failures_total",
			Help:      "Dial, handshake and read failures that led to a retry.",
		}),
		messagesReceived: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Name:      "messages_received_total",
			Help:      "Frames read from the device.",
		}),
		decodeErrors: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Name:      "decode_errors_total",
			Help:      "Dropped frames and skipped fields that could not be decoded.",
		}),
		calendarOps: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Name:      "calendar_operations_total",
			Help:      "Hygiene calendar mutations by operation.",
		}, []string{"op"}),
		entitiesRegistered: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Name:      "entities_registered_total",
			Help:      "Entities announced to downstream sinks.",
		}),
		persistenceErrors: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Name:      "persistence_errors_total",
			Help:      "Failed loads and saves of the calendar backing.",
		}),
	}

	reg.MustRegister(
		m.connectionState,
		m.connectAttempts,
		m.connectionFailures,
		m.messagesReceived,
		m.decodeErrors,
		m.calendarOps,
		m.entitiesRegistered,
		m.persistenceErrors,
	)

	return m
}

func (m *Metrics) setConnectionState(state models.ConnectionState) {
	if m == nil {
		return
	}
	if state == models.StateConnected {
		m.connectionState.Set(1)
	} else {
		m.connectionState.Set(0)
	}
}

func (m *Metrics) incConnectAttempts() {
	if m != nil {
		m.connectAttempts.Inc()
	}
}

func (m *Metrics) incConnectionFailures() {
	if m != nil {
		m.connectionFailures.Inc()
	}
}

func (m *Metrics) incMessagesReceived() {
	if m != nil {
		m.messagesReceived.Inc()
	}
}

func (m *Metrics) incDecodeErrors() {
	if m != nil {
		m.decodeErrors.Inc()
	}
}

func (m *Metrics) incCalendarOp(op string) {
	if m != nil {
		m.calendarOps.WithLabelValues(op).Inc()
	}
}

func (m *Metrics) addEntitiesRegistered(n int) {
	if m != nil {
		m.entitiesRegistered.Add(float64(n))
	}
}

func (m *Metrics) incPersistenceErrors() {
	if m != nil {
		m.persistenceErrors.Inc()
	}
}
