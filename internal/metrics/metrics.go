// Package metrics exports supervisor state transitions as Prometheus metrics.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/5gconnect/charmd/internal/supervisor"
)

const metricsNamespace = "charmd"

var states = []supervisor.State{
	supervisor.StateStopped,
	supervisor.StateStarting,
	supervisor.StateRunning,
	supervisor.StateFailed,
	supervisor.StateStopping,
}

// Collector is a prometheus.Collector fed by supervisor events.
type Collector struct {
	transitions     *prometheus.CounterVec
	launchFailures  *prometheus.CounterVec
	unexpectedExits *prometheus.CounterVec
	state           *prometheus.GaugeVec
	registry        *prometheus.Registry
}

var _ supervisor.Observer = (*Collector)(nil)

// NewCollector returns a Collector registered on its own registry together
// with the Go runtime and process collectors.
func NewCollector() *Collector {
	c := &Collector{
		transitions: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: metricsNamespace,
				Name:      "service_transitions_total",
				Help:      "The number of state transitions by service and target state.",
			}, []string{"service", "state"},
		),
		launchFailures: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: metricsNamespace,
				Name:      "service_launch_failures_total",
				Help:      "The number of launches that failed before the service was running.",
			}, []string{"service"},
		),
		unexpectedExits: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: metricsNamespace,
				Name:      "service_unexpected_exits_total",
				Help:      "The number of times a running service exited without being stopped.",
			}, []string{"service"},
		),
		state: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: metricsNamespace,
				Name:      "service_state",
				Help:      "1 for the current state of each service, 0 otherwise.",
			}, []string{"service", "state"},
		),
		registry: prometheus.NewRegistry(),
	}
	c.registry.MustRegister(
		c,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return c
}

// Describe is part of the prometheus.Collector interface.
func (c *Collector) Describe(ch chan<- *prometheus.Desc) {
	c.transitions.Describe(ch)
	c.launchFailures.Describe(ch)
	c.unexpectedExits.Describe(ch)
	c.state.Describe(ch)
}

// Collect is part of the prometheus.Collector interface.
func (c *Collector) Collect(ch chan<- prometheus.Metric) {
	c.transitions.Collect(ch)
	c.launchFailures.Collect(ch)
	c.unexpectedExits.Collect(ch)
	c.state.Collect(ch)
}

// Observe implements supervisor.Observer.
func (c *Collector) Observe(ev supervisor.Event) {
	c.transitions.WithLabelValues(ev.Service, string(ev.To)).Inc()
	for _, s := range states {
		v := 0.0
		if s == ev.To {
			v = 1
		}
		c.state.WithLabelValues(ev.Service, string(s)).Set(v)
	}

	if ev.To != supervisor.StateFailed {
		return
	}
	if ev.From == supervisor.StateRunning {
		c.unexpectedExits.WithLabelValues(ev.Service).Inc()
		return
	}
	c.launchFailures.WithLabelValues(ev.Service).Inc()
}

// Forget drops every series of a deregistered service.
func (c *Collector) Forget(service string) {
	labels := prometheus.Labels{"service": service}
	c.transitions.DeletePartialMatch(labels)
	c.launchFailures.DeletePartialMatch(labels)
	c.unexpectedExits.DeletePartialMatch(labels)
	c.state.DeletePartialMatch(labels)
}

// Handler serves the registry in the Prometheus exposition format.
func (c *Collector) Handler() http.Handler {
	return promhttp.HandlerFor(c.registry, promhttp.HandlerOpts{})
}
