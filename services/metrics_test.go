package services

import (
	"strings"
	"testing"

	"chairlink/models"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMetricsNilIsNoop(t *testing.T) {
	var m *Metrics
	assert.NotPanics(t, func() {
		m.setConnectionState(models.StateConnected)
		m.incConnectAttempts()
		m.incConnectionFailures()
		m.incMessagesReceived()
		m.incDecodeErrors()
		m.incCalendarOp(CalendarCreate)
		m.addEntitiesRegistered(3)
		m.incPersistenceErrors()
	})
}

func TestMetricsExposition(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := NewMetrics(reg)

	m.setConnectionState(models.StateConnected)
	m.incCalendarOp(CalendarCreate)
	m.incCalendarOp(CalendarCreate)
	m.incCalendarOp(CalendarDelete)

	expected := `
# HELP chairlink_calendar_operations_total Hygiene calendar mutations by operation.
# TYPE chairlink_calendar_operations_total counter
chairlink_calendar_operations_total{op="create"} 2
chairlink_calendar_operations_total{op="delete"} 1
# HELP chairlink_connection_state 1 while the device socket is connected, 0 otherwise.
# TYPE chairlink_connection_state gauge
chairlink_connection_state 1
`
	require.NoError(t, testutil.GatherAndCompare(reg, strings.NewReader(expected),
		"chairlink_calendar_operations_total", "chairlink_connection_state"))

	m.setConnectionState(models.StateConnecting)
	assert.Equal(t, 0.0, testutil.ToFloat64(m.connectionState))
}
