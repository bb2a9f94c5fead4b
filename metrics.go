package mtproto

import "github.com/LonamiWebs/gomtproto/internal/metrics"

// Metrics is the public alias of internal/metrics.Metrics (§11): the
// four prometheus/client_golang counters/gauges a Client wires into
// its driver, sender, and updates reconciler when Config.Metrics is
// set. A nil *Metrics is always safe.
type Metrics = metrics.Metrics

// NewMetrics constructs and registers the metric set against reg (or
// prometheus.DefaultRegisterer when reg is nil).
var NewMetrics = metrics.New
