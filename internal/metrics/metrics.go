// Package metrics exposes Prometheus instruments for the reactor, session
// and market (SPEC_FULL.md §3/§4.10), grounded on the direct
// prometheus/client_golang wiring seen in a real non-HTTP TCP server,
// github.com/kstaniek/go-ampio-server (other_examples/*kstaniek-go-ampio-server*).
package metrics

import "github.com/prometheus/client_golang/prometheus"

// Registry groups every counter/gauge this server exports.
type Registry struct {
	reg *prometheus.Registry

	OrdersTotal     prometheus.Counter
	ExecutionsTotal prometheus.Counter
	CancelsTotal    prometheus.Counter
	RejectsTotal    prometheus.Counter
	SessionsActive  prometheus.Gauge
}

// New creates a Registry with all instruments registered.
func New() *Registry {
	reg := prometheus.NewRegistry()

	r := &Registry{
		reg: reg,
		OrdersTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "exchange_orders_total",
			Help: "Total number of order messages accepted.",
		}),
		ExecutionsTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "exchange_executions_total",
			Help: "Total number of market executions confirmed to clients.",
		}),
		CancelsTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "exchange_cancels_total",
			Help: "Total number of successful order cancellations.",
		}),
		RejectsTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "exchange_rejects_total",
			Help: "Total number of rejected order/cancel/update requests.",
		}),
		SessionsActive: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "exchange_sessions_active",
			Help: "Number of currently connected client sessions.",
		}),
	}

	reg.MustRegister(r.OrdersTotal, r.ExecutionsTotal, r.CancelsTotal, r.RejectsTotal, r.SessionsActive)
	return r
}

// Gatherer exposes the underlying registry for wiring into promhttp.
func (r *Registry) Gatherer() *prometheus.Registry {
	return r.reg
}
