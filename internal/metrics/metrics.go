// Package metrics exposes Prometheus counters for execution passes.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Recorder is what the engine reports to. Nop satisfies it when metrics are off.
type Recorder interface {
	RecordPass(trigger string, duration time.Duration)
	RecordRuleFailure(ruleID string)
	RecordMoves(moved, failed int)
	RecordCatchUp(missed int)
	SetNextWake(at time.Time)
}

// Collector is the Prometheus-backed Recorder.
type Collector struct {
	passes       *prometheus.CounterVec
	passLatency  prometheus.Histogram
	ruleFailures prometheus.Counter
	moves        prometheus.Counter
	failedMoves  prometheus.Counter
	catchUps     prometheus.Counter
	missed       prometheus.Counter
	nextWake     prometheus.Gauge
}

// NewCollector builds a Collector and registers it with reg.
func NewCollector(reg prometheus.Registerer) *Collector {
	c := &Collector{
		passes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "tabqueue_passes_total",
			Help: "Execution passes by trigger.",
		}, []string{"trigger"}),
		passLatency: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "tabqueue_pass_duration_seconds",
			Help:    "Wall time of one execution pass.",
			Buckets: prometheus.DefBuckets,
		}),
		ruleFailures: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "tabqueue_rule_failures_total",
			Help: "Rules whose execution failed inside a pass.",
		}),
		moves: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "tabqueue_items_moved_total",
			Help: "Items moved to their destination.",
		}),
		failedMoves: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "tabqueue_item_moves_failed_total",
			Help: "Item moves the host rejected.",
		}),
		catchUps: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "tabqueue_catchup_runs_total",
			Help: "Startup catch-up passes executed.",
		}),
		missed: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "tabqueue_missed_occurrences_total",
			Help: "Scheduled occurrences missed while the process was down.",
		}),
		nextWake: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "tabqueue_next_wake_timestamp_seconds",
			Help: "Unix time of the armed timer, 0 when unarmed.",
		}),
	}
	reg.MustRegister(c.passes, c.passLatency, c.ruleFailures, c.moves, c.failedMoves, c.catchUps, c.missed, c.nextWake)
	return c
}

func (c *Collector) RecordPass(trigger string, d time.Duration) {
	c.passes.WithLabelValues(trigger).Inc()
	c.passLatency.Observe(d.Seconds())
}

func (c *Collector) RecordRuleFailure(string) { c.ruleFailures.Inc() }

func (c *Collector) RecordMoves(moved, failed int) {
	c.moves.Add(float64(moved))
	c.failedMoves.Add(float64(failed))
}

func (c *Collector) RecordCatchUp(missed int) {
	if missed <= 0 {
		return
	}
	c.catchUps.Inc()
	c.missed.Add(float64(missed))
}

func (c *Collector) SetNextWake(at time.Time) {
	if at.IsZero() {
		c.nextWake.Set(0)
		return
	}
	c.nextWake.Set(float64(at.Unix()))
}

// Handler serves the Prometheus scrape endpoint.
func Handler(gatherer prometheus.Gatherer) http.Handler {
	return promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{})
}

type nop struct{}

// Nop discards everything.
func Nop() Recorder { return nop{} }

func (nop) RecordPass(string, time.Duration) {}
func (nop) RecordRuleFailure(string)         {}
func (nop) RecordMoves(int, int)             {}
func (nop) RecordCatchUp(int)                {}
func (nop) SetNextWake(time.Time)            {}
