// README: Prometheus collectors for ride dispatch, accept races and long-poll outcomes.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Poll outcomes. Timeout is a steady-state result of the poll loop and is kept
// apart from the failure-like outcomes.
const (
	OutcomeDelivered  = "delivered"
	OutcomeTimeout    = "timeout"
	OutcomeSuperseded = "superseded"
	OutcomeCancelled  = "cancelled"
	OutcomeRejected   = "rejected"
)

// Accept outcomes.
const (
	AcceptWon      = "won"
	AcceptTaken    = "taken"
	AcceptNotFound = "not_found"
	AcceptError    = "error"
)

type Collector struct {
	registry *prometheus.Registry

	ridesCreated    prometheus.Counter
	rideTransitions *prometheus.CounterVec
	accepts         *prometheus.CounterVec
	polls           *prometheus.CounterVec
	waiting         *prometheus.GaugeVec
	broadcastSize   prometheus.Histogram
}

// NewCollector registers every collector on its own registry so several
// collectors can coexist in one test binary.
func NewCollector() *Collector {
	c := &Collector{
		registry: prometheus.NewRegistry(),
		ridesCreated: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "ridehail_rides_created_total",
			Help: "Rides created in pending state.",
		}),
		rideTransitions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "ridehail_ride_transitions_total",
			Help: "Successful ride status transitions by target status.",
		}, []string{"to"}),
		accepts: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "ridehail_ride_accepts_total",
			Help: "Driver accept attempts by outcome.",
		}, []string{"outcome"}),
		polls: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "ridehail_long_polls_total",
			Help: "Finished long-polls by actor and outcome.",
		}, []string{"actor", "outcome"}),
		waiting: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "ridehail_waiting_actors",
			Help: "Actors currently parked in a long-poll.",
		}, []string{"actor"}),
		broadcastSize: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "ridehail_broadcast_recipients",
			Help:    "Drivers woken per ride broadcast.",
			Buckets: []float64{0, 1, 2, 5, 10, 25, 50, 100},
		}),
	}
	c.registry.MustRegister(
		c.ridesCreated,
		c.rideTransitions,
		c.accepts,
		c.polls,
		c.waiting,
		c.broadcastSize,
		prometheus.NewGoCollector(),
	)
	return c
}

func (c *Collector) RecordRideCreated() {
	c.ridesCreated.Inc()
}

func (c *Collector) RecordTransition(to string) {
	c.rideTransitions.WithLabelValues(to).Inc()
}

func (c *Collector) RecordAccept(outcome string) {
	c.accepts.WithLabelValues(outcome).Inc()
}

func (c *Collector) RecordPoll(actor, outcome string) {
	c.polls.WithLabelValues(actor, outcome).Inc()
}

func (c *Collector) PollStarted(actor string) {
	c.waiting.WithLabelValues(actor).Inc()
}

func (c *Collector) PollFinished(actor string) {
	c.waiting.WithLabelValues(actor).Dec()
}

func (c *Collector) RecordBroadcast(recipients int) {
	c.broadcastSize.Observe(float64(recipients))
}

func (c *Collector) Registry() *prometheus.Registry {
	return c.registry
}

// Handler serves the collector's registry in Prometheus text format.
func (c *Collector) Handler() http.Handler {
	return promhttp.HandlerFor(c.registry, promhttp.HandlerOpts{})
}
