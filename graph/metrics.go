package graph

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics collects Prometheus metrics for workflow execution.
//
// Exposed series (namespace "bankflow"):
//
//	turns_total (counter): Completed turns by outcome.
//	Labels: status (completed, halted, error).
//
//	node_latency_ms (histogram): Node execution duration in milliseconds.
//	Labels: node_id, status (success, error).
//
//	checkpoints_total (counter): Checkpoint records written by phase.
//	Labels: phase (start, end, pause, approved, rejected).
//
//	halts_total (counter): Turns paused for human approval.
//
// Wire the collector with WithMetrics and expose the registry via
// promhttp.Handler.
type Metrics struct {
	turns       *prometheus.CounterVec
	nodeLatency *prometheus.HistogramVec
	checkpoints *prometheus.CounterVec
	halts       prometheus.Counter
}

// NewMetrics creates and registers the execution metrics with registry, or
// the default registerer when registry is nil.
func NewMetrics(registry prometheus.Registerer) *Metrics {
	if registry == nil {
		registry = prometheus.DefaultRegisterer
	}
	factory := promauto.With(registry)

	return &Metrics{
		turns: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "bankflow",
			Name:      "turns_total",
			Help:      "Completed workflow turns by outcome",
		}, []string{"status"}),
		nodeLatency: factory.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "bankflow",
			Name:      "node_latency_ms",
			Help:      "Node execution duration in milliseconds",
			Buckets:   []float64{1, 5, 10, 50, 100, 500, 1000, 5000, 10000},
		}, []string{"node_id", "status"}),
		checkpoints: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "bankflow",
			Name:      "checkpoints_total",
			Help:      "Checkpoint records written by phase",
		}, []string{"phase"}),
		halts: factory.NewCounter(prometheus.CounterOpts{
			Namespace: "bankflow",
			Name:      "halts_total",
			Help:      "Turns paused awaiting human approval",
		}),
	}
}

// IncTurns counts a finished turn. status is completed, halted, or error.
func (m *Metrics) IncTurns(status string) {
	m.turns.WithLabelValues(status).Inc()
}

// RecordNodeLatency observes one node execution duration.
func (m *Metrics) RecordNodeLatency(nodeID string, latency time.Duration, status string) {
	m.nodeLatency.WithLabelValues(nodeID, status).Observe(float64(latency.Milliseconds()))
}

// IncCheckpoints counts a checkpoint write for the given phase.
func (m *Metrics) IncCheckpoints(phase string) {
	m.checkpoints.WithLabelValues(phase).Inc()
}

// IncHalts counts a turn paused for approval.
func (m *Metrics) IncHalts() {
	m.halts.Inc()
}
