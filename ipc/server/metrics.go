package server

import (
	"github.com/VictoriaMetrics/metrics"
)

// serverMetrics holds the counters of one server instance. Each server has its own
// metrics.Set, so several servers in one process (tests) do not collide.
type serverMetrics struct {
	set            *metrics.Set
	accepted       *metrics.Counter
	closed         *metrics.Counter
	packets        *metrics.Counter
	dispatched     *metrics.Counter
	protocolErrors *metrics.Counter
}

func newServerMetrics(table *ConnectionTable) *serverMetrics {
	set := metrics.NewSet()
	m := &serverMetrics{
		set:            set,
		accepted:       set.NewCounter("uio_connections_accepted_total"),
		closed:         set.NewCounter("uio_connections_closed_total"),
		packets:        set.NewCounter("uio_packets_received_total"),
		dispatched:     set.NewCounter("uio_requests_dispatched_total"),
		protocolErrors: set.NewCounter("uio_protocol_errors_total"),
	}
	set.NewGauge("uio_connections_active", func() float64 {
		return float64(table.Len())
	})
	return m
}
