package metrics

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	dto "github.com/prometheus/client_model/go"
	"github.com/stretchr/testify/require"
)

func counterValue(t *testing.T, c prometheus.Counter) float64 {
	t.Helper()
	var m dto.Metric
	require.NoError(t, c.Write(&m))
	return m.GetCounter().GetValue()
}

func gaugeValue(t *testing.T, g prometheus.Gauge) float64 {
	t.Helper()
	var m dto.Metric
	require.NoError(t, g.Write(&m))
	return m.GetGauge().GetValue()
}

func TestNewRegistersAllFourMetrics(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := New(reg)

	families, err := reg.Gather()
	require.NoError(t, err)
	require.Len(t, families, 4)

	m.MessagesSentInc()
	m.ReconnectsInc()
	m.UpdateGapsInc()
	m.PendingRequestsSet(3)

	require.Equal(t, 1.0, counterValue(t, m.MessagesSent))
	require.Equal(t, 1.0, counterValue(t, m.Reconnects))
	require.Equal(t, 1.0, counterValue(t, m.UpdateGaps))
	require.Equal(t, 3.0, gaugeValue(t, m.PendingRequests))
}

func TestNilMetricsMethodsAreNoOps(t *testing.T) {
	var m *Metrics
	require.NotPanics(t, func() {
		m.MessagesSentInc()
		m.ReconnectsInc()
		m.UpdateGapsInc()
		m.PendingRequestsSet(5)
	})
}
