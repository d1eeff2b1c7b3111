// Package metrics exposes pipeline counters to prometheus.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "exchangecore"

// Collector records pipeline activity on its own registry.
type Collector struct {
	registry *prometheus.Registry

	commands     *prometheus.CounterVec
	events       *prometheus.CounterVec
	stageLatency *prometheus.HistogramVec
	halted       prometheus.Gauge
	lastSeq      prometheus.Gauge
	snapshots    *prometheus.CounterVec
}

// New registers the exchange collectors plus the go and process
// collectors on a fresh registry.
func New() *Collector {
	c := &Collector{
		registry: prometheus.NewRegistry(),
		commands: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "commands_total",
			Help:      "Commands processed, by command type and result code.",
		}, []string{"command", "result"}),
		events: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "matcher_events_total",
			Help:      "Matcher events emitted, by event type.",
		}, []string{"type"}),
		stageLatency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "stage_duration_seconds",
			Help:      "Time spent in each pipeline stage per command.",
			Buckets:   prometheus.ExponentialBuckets(1e-6, 4, 10),
		}, []string{"stage"}),
		halted: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "pipeline_halted",
			Help:      "1 once the pipeline stopped on a state corruption.",
		}),
		lastSeq: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "last_sequence",
			Help:      "Sequence number of the last processed command.",
		}),
		snapshots: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "snapshots_total",
			Help:      "Checkpoints taken, by outcome.",
		}, []string{"outcome"}),
	}
	c.registry.MustRegister(
		c.commands, c.events, c.stageLatency, c.halted, c.lastSeq, c.snapshots,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return c
}

// Registry returns the underlying registry.
func (c *Collector) Registry() *prometheus.Registry {
	return c.registry
}

// Handler serves the registry in the prometheus exposition format.
func (c *Collector) Handler() http.Handler {
	return promhttp.HandlerFor(c.registry, promhttp.HandlerOpts{Registry: c.registry})
}

// Command counts one processed command.
func (c *Collector) Command(command, result string, seq int64) {
	c.commands.WithLabelValues(command, result).Inc()
	c.lastSeq.Set(float64(seq))
}

// Event counts one matcher event.
func (c *Collector) Event(eventType string) {
	c.events.WithLabelValues(eventType).Inc()
}

// Stage observes the time a stage took for one command.
func (c *Collector) Stage(stage string, d time.Duration) {
	c.stageLatency.WithLabelValues(stage).Observe(d.Seconds())
}

// Halted flags the pipeline as stopped.
func (c *Collector) Halted() {
	c.halted.Set(1)
}

// Snapshot counts one checkpoint attempt.
func (c *Collector) Snapshot(ok bool) {
	outcome := "ok"
	if !ok {
		outcome = "failed"
	}
	c.snapshots.WithLabelValues(outcome).Inc()
}
