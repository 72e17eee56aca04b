// Package metrics exposes prometheus instrumentation for the controller.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds the controller's collectors. A nil *Metrics is valid and
// records nothing, so tests can pass nil.
type Metrics struct {
	jobsSubmitted *prometheus.CounterVec
	jobsFinished  *prometheus.CounterVec
	jobsDropped   prometheus.Counter
	queueDepth    *prometheus.GaugeVec
	stuckLocks    prometheus.Counter
	ticks         prometheus.Counter
}

// New registers the controller collectors on reg.
func New(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)
	return &Metrics{
		jobsSubmitted: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "drip_jobs_submitted_total",
			Help: "Jobs submitted to pump queues, by origin.",
		}, []string{"origin"}),
		jobsFinished: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "drip_jobs_finished_total",
			Help: "Jobs that left a pump queue, by result.",
		}, []string{"result"}),
		jobsDropped: factory.NewCounter(prometheus.CounterOpts{
			Name: "drip_jobs_dropped_total",
			Help: "Jobs dropped because a pump queue was full.",
		}),
		queueDepth: factory.NewGaugeVec(prometheus.GaugeOpts{
			Name: "drip_pump_queue_depth",
			Help: "Pending jobs per pump queue.",
		}, []string{"pump"}),
		stuckLocks: factory.NewCounter(prometheus.CounterOpts{
			Name: "drip_stuck_lock_recoveries_total",
			Help: "Force-resets of pump locks held beyond the timeout.",
		}),
		ticks: factory.NewCounter(prometheus.CounterOpts{
			Name: "drip_scheduler_ticks_total",
			Help: "Scheduler tick iterations.",
		}),
	}
}

// Handler returns the scrape handler for the given registry.
func Handler(reg *prometheus.Registry) http.Handler {
	return promhttp.HandlerFor(reg, promhttp.HandlerOpts{})
}

// JobSubmitted records a job submission.
func (m *Metrics) JobSubmitted(origin string) {
	if m != nil {
		m.jobsSubmitted.WithLabelValues(origin).Inc()
	}
}

// JobFinished records a job leaving the queue with the given result
// (completed, failed, cancelled, skipped).
func (m *Metrics) JobFinished(result string) {
	if m != nil {
		m.jobsFinished.WithLabelValues(result).Inc()
	}
}

// JobDropped records a submission rejected by a full queue.
func (m *Metrics) JobDropped() {
	if m != nil {
		m.jobsDropped.Inc()
	}
}

// QueueDepth records the pending job count for a pump.
func (m *Metrics) QueueDepth(pumpID string, depth int) {
	if m != nil {
		m.queueDepth.WithLabelValues(pumpID).Set(float64(depth))
	}
}

// StuckLockRecovered records a forced lock release.
func (m *Metrics) StuckLockRecovered() {
	if m != nil {
		m.stuckLocks.Inc()
	}
}

// Tick records one scheduler iteration.
func (m *Metrics) Tick() {
	if m != nil {
		m.ticks.Inc()
	}
}
