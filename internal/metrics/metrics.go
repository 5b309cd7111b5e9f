// Package metrics exposes controller state and timings to Prometheus.
//
// Gauges and totals are read from the status snapshot at scrape time, so
// the engine never updates them directly. Timings and command outcomes are
// recorded as they happen.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/sweeney/filter-control/internal/logic"
	"github.com/sweeney/filter-control/internal/status"
)

// Namespace prefixes every metric name.
const Namespace = "filter_control"

// Collector owns a private registry with every controller metric.
type Collector struct {
	registry *prometheus.Registry

	cycleDuration prometheus.Histogram
	moveDuration  *prometheus.HistogramVec
	commands      *prometheus.CounterVec
}

// NewCollector registers the metrics. snapshot is called on every scrape.
func NewCollector(snapshot func() status.Snapshot) *Collector {
	reg := prometheus.NewRegistry()
	c := &Collector{
		registry: reg,
		cycleDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: Namespace,
			Name:      "decision_cycle_seconds",
			Help:      "Time from event drain to decision.",
			Buckets:   []float64{0.00001, 0.00005, 0.0001, 0.0005, 0.001, 0.005},
		}),
		moveDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: Namespace,
			Name:      "move_seconds",
			Help:      "Duration of filter moves, by result.",
			Buckets:   []float64{0.1, 0.25, 0.5, 1, 2, 5, 10},
		}, []string{"result"}),
		commands: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: Namespace,
			Name:      "commands_total",
			Help:      "Control commands handled, by command and reply status.",
		}, []string{"command", "status"}),
	}
	reg.MustRegister(c.cycleDuration, c.moveDuration, c.commands, newSnapshotCollector(snapshot))
	return c
}

// ObserveCycle records one decision cycle.
func (c *Collector) ObserveCycle(d time.Duration) {
	c.cycleDuration.Observe(d.Seconds())
}

// ObserveMove records one completed or failed move.
func (c *Collector) ObserveMove(d time.Duration, err error) {
	result := "ok"
	if err != nil {
		result = "failed"
	}
	c.moveDuration.WithLabelValues(result).Observe(d.Seconds())
}

// ObserveCommand records one control command reply.
func (c *Collector) ObserveCommand(command, replyStatus string) {
	c.commands.WithLabelValues(command, replyStatus).Inc()
}

// Registry returns the private registry.
func (c *Collector) Registry() *prometheus.Registry {
	return c.registry
}

// Handler serves the registry in the Prometheus exposition format.
func (c *Collector) Handler() http.Handler {
	return promhttp.HandlerFor(c.registry, promhttp.HandlerOpts{
		ErrorHandling: promhttp.ContinueOnError,
	})
}

var states = []logic.State{
	logic.StateStarting, logic.StateWaiting, logic.StateActive, logic.StateError,
	logic.StateSingleshotWaiting, logic.StateSingleshotComplete,
}

// snapshotCollector turns a status snapshot into const metrics.
type snapshotCollector struct {
	snapshot func() status.Snapshot

	attenuation    *prometheus.Desc
	maxAttenuation *prometheus.Desc
	state          *prometheus.Desc
	errorLatched   *prometheus.Desc
	heartbeat      *prometheus.Desc
	lastReceived   *prometheus.Desc
	lastProcessed  *prometheus.Desc
	sourceAlive    *prometheus.Desc
	sourceCount    *prometheus.Desc
	sourceEvents   *prometheus.Desc
	sourceRegress  *prometheus.Desc
	moves          *prometheus.Desc
	moveFailures   *prometheus.Desc
	emergencies    *prometheus.Desc
	dropped        *prometheus.Desc
}

func newSnapshotCollector(snapshot func() status.Snapshot) *snapshotCollector {
	desc := func(name, help string, labels ...string) *prometheus.Desc {
		return prometheus.NewDesc(prometheus.BuildFQName(Namespace, "", name), help, labels, nil)
	}
	return &snapshotCollector{
		snapshot:       snapshot,
		attenuation:    desc("attenuation_level", "Confirmed attenuation level."),
		maxAttenuation: desc("attenuation_max_level", "Highest reachable attenuation level."),
		state:          desc("state", "1 for the current supervisory state.", "state"),
		errorLatched:   desc("error", "1 for the latched error code.", "code"),
		heartbeat:      desc("heartbeat", "Current heartbeat output level."),
		lastReceived:   desc("last_received_frame", "Highest frame sequence received."),
		lastProcessed:  desc("last_processed_frame", "Frame sequence of the last committed change."),
		sourceAlive:    desc("source_alive", "1 if the detector source is live.", "source"),
		sourceCount:    desc("source_last_count", "Last pixel count reported by the source.", "source"),
		sourceEvents:   desc("source_events_total", "Events accepted from the source.", "source"),
		sourceRegress:  desc("source_regressions_total", "Out-of-order events dropped from the source.", "source"),
		moves:          desc("moves_total", "Filter moves completed."),
		moveFailures:   desc("move_failures_total", "Filter moves that failed."),
		emergencies:    desc("emergencies_total", "Emergency shutter closures issued."),
		dropped:        desc("events_dropped_total", "Events dropped before the decision, by reason.", "reason"),
	}
}

func (s *snapshotCollector) Describe(ch chan<- *prometheus.Desc) {
	for _, d := range []*prometheus.Desc{
		s.attenuation, s.maxAttenuation, s.state, s.errorLatched, s.heartbeat,
		s.lastReceived, s.lastProcessed, s.sourceAlive, s.sourceCount,
		s.sourceEvents, s.sourceRegress, s.moves, s.moveFailures, s.emergencies, s.dropped,
	} {
		ch <- d
	}
}

func (s *snapshotCollector) Collect(ch chan<- prometheus.Metric) {
	snap := s.snapshot()
	gauge := func(d *prometheus.Desc, v float64, labels ...string) {
		ch <- prometheus.MustNewConstMetric(d, prometheus.GaugeValue, v, labels...)
	}
	counter := func(d *prometheus.Desc, v uint64, labels ...string) {
		ch <- prometheus.MustNewConstMetric(d, prometheus.CounterValue, float64(v), labels...)
	}

	gauge(s.attenuation, float64(snap.Attenuation))
	gauge(s.maxAttenuation, float64(snap.MaxAttenuation))
	for _, st := range states {
		gauge(s.state, b2f(snap.State == st), string(st))
	}
	if snap.Error != "" && snap.Error != logic.NoError {
		gauge(s.errorLatched, 1, string(snap.Error))
	}
	gauge(s.heartbeat, b2f(snap.Heartbeat))
	gauge(s.lastReceived, float64(snap.LastReceivedFrame))
	gauge(s.lastProcessed, float64(snap.LastProcessedFrame))

	for _, src := range snap.Sources {
		gauge(s.sourceAlive, b2f(src.Alive), src.Source)
		gauge(s.sourceCount, float64(src.LastCount), src.Source)
		counter(s.sourceEvents, src.Events, src.Source)
		counter(s.sourceRegress, src.Regressions, src.Source)
	}

	c := snap.Counters
	counter(s.moves, c.Moves)
	counter(s.moveFailures, c.MoveFailures)
	counter(s.emergencies, c.Emergencies)
	counter(s.dropped, c.Unknown, "unknown_source")
	counter(s.dropped, c.Malformed, "malformed")
	counter(s.dropped, c.Overflow, "overflow")
	counter(s.dropped, c.Coalesced, "coalesced")
	counter(s.dropped, c.Stale, "stale")
}

func b2f(b bool) float64 {
	if b {
		return 1
	}
	return 0
}
