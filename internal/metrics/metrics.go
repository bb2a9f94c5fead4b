// Package metrics wires prometheus/client_golang counters and gauges
// into the network driver, sender, and updates reconciler (§11). A nil
// *Metrics is always safe to call through: every method no-ops on a
// nil receiver, the same nil-safe-optional-hook shape the reference
// client uses for its OnConnFn-style callbacks.
package metrics

import "github.com/prometheus/client_golang/prometheus"

// Metrics holds the four counters/gauges named in §11. Construct one
// with New and register it with a prometheus.Registerer of your
// choosing (prometheus.DefaultRegisterer if nil).
type Metrics struct {
	MessagesSent    prometheus.Counter
	PendingRequests prometheus.Gauge
	Reconnects      prometheus.Counter
	UpdateGaps      prometheus.Counter
}

// New constructs and registers the metric set against reg (or the
// default global registerer when reg is nil).
func New(reg prometheus.Registerer) *Metrics {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	m := &Metrics{
		MessagesSent: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "mtproto_msgs_sent_total",
			Help: "Total number of MTProto frames written to the wire.",
		}),
		PendingRequests: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "mtproto_pending_requests",
			Help: "Number of RPC requests currently awaiting completion.",
		}),
		Reconnects: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "mtproto_reconnects_total",
			Help: "Total number of reconnection attempts after a dropped connection.",
		}),
		UpdateGaps: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "mtproto_update_gap_total",
			Help: "Total number of update-sequence gaps that triggered a difference fetch.",
		}),
	}
	reg.MustRegister(m.MessagesSent, m.PendingRequests, m.Reconnects, m.UpdateGaps)
	return m
}

// MessagesSentInc records one frame written to the wire.
func (m *Metrics) MessagesSentInc() {
	if m != nil {
		m.MessagesSent.Inc()
	}
}

// ReconnectsInc records one reconnection attempt.
func (m *Metrics) ReconnectsInc() {
	if m != nil {
		m.Reconnects.Inc()
	}
}

// UpdateGapsInc records one detected update-sequence gap.
func (m *Metrics) UpdateGapsInc() {
	if m != nil {
		m.UpdateGaps.Inc()
	}
}

// PendingRequestsSet reports the current number of pending requests.
func (m *Metrics) PendingRequestsSet(n int) {
	if m != nil {
		m.PendingRequests.Set(float64(n))
	}
}
