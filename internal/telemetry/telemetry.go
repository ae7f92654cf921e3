// Package telemetry is a thin Prometheus abstraction over training
// observability, adapted from the teacher's pkg/metrics.go: a Sink
// interface with a real Prometheus-backed implementation and a no-op
// fallback chosen by whether the caller supplies a registry, so the hot
// path never pays for metric updates when metrics are disabled.
//
// Unlike the cache's shard-labeled metrics, training metrics are global to
// one engine (there is one producer/consumer pipeline per epoch, not one
// per shard), so labels here are by phase (train/eval) rather than by
// shard index.
//
// © 2025 sketchtrain authors. MIT License.
package telemetry

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Phase labels a metric by which half of an epoch it was recorded in.
type Phase string

const (
	PhaseTrain Phase = "train"
	PhaseEval  Phase = "eval"
)

// Sink abstracts the concrete metrics backend so Engine only depends on
// these six operations regardless of whether metrics are enabled.
type Sink interface {
	IncRecords(phase Phase, n int)
	ObserveBatchLoss(phase Phase, avgNegLoss float64)
	SetQueueDepth(depth int)
	IncHeavyHitterEvictions(n int)
	ObserveBatchDuration(phase Phase, seconds float64)
	IncMalformedRecords()
}

/* ---------------- No-op implementation ---------------- */

type noop struct{}

func (noop) IncRecords(Phase, int)               {}
func (noop) ObserveBatchLoss(Phase, float64)      {}
func (noop) SetQueueDepth(int)                    {}
func (noop) IncHeavyHitterEvictions(int)          {}
func (noop) ObserveBatchDuration(Phase, float64)  {}
func (noop) IncMalformedRecords()                 {}

/* ---------------- Prometheus implementation ---------------- */

type promSink struct {
	records           *prometheus.CounterVec
	batchLoss         *prometheus.GaugeVec
	queueDepth        prometheus.Gauge
	hhEvictions       prometheus.Counter
	batchDuration     *prometheus.HistogramVec
	malformedRecords  prometheus.Counter
}

func newPromSink(reg *prometheus.Registry) *promSink {
	label := []string{"phase"}

	s := &promSink{
		records: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "sketchtrain",
			Name:      "records_total",
			Help:      "Number of records processed.",
		}, label),
		batchLoss: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: "sketchtrain",
			Name:      "batch_average_negative_loss",
			Help:      "Average negative log-loss of the most recent batch.",
		}, label),
		queueDepth: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "sketchtrain",
			Name:      "queue_depth",
			Help:      "Number of records currently buffered in the hand-off queue.",
		}),
		hhEvictions: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "sketchtrain",
			Name:      "heavy_hitter_evictions_total",
			Help:      "Number of features evicted from a Top-K heap.",
		}),
		batchDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "sketchtrain",
			Name:      "batch_duration_seconds",
			Help:      "Wall-clock duration of one consumer batch.",
		}, label),
		malformedRecords: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "sketchtrain",
			Name:      "malformed_records_total",
			Help:      "Number of records rejected as malformed (spec MalformedInput).",
		}),
	}

	reg.MustRegister(s.records, s.batchLoss, s.queueDepth, s.hhEvictions, s.batchDuration, s.malformedRecords)
	return s
}

func (s *promSink) IncRecords(phase Phase, n int) {
	s.records.WithLabelValues(string(phase)).Add(float64(n))
}

func (s *promSink) ObserveBatchLoss(phase Phase, avgNegLoss float64) {
	s.batchLoss.WithLabelValues(string(phase)).Set(avgNegLoss)
}

func (s *promSink) SetQueueDepth(depth int) {
	s.queueDepth.Set(float64(depth))
}

func (s *promSink) IncHeavyHitterEvictions(n int) {
	s.hhEvictions.Add(float64(n))
}

func (s *promSink) ObserveBatchDuration(phase Phase, seconds float64) {
	s.batchDuration.WithLabelValues(string(phase)).Observe(seconds)
}

func (s *promSink) IncMalformedRecords() {
	s.malformedRecords.Inc()
}

// New returns a Sink backed by reg, or a no-op Sink if reg is nil — mirroring
// the teacher's newMetricsSink factory.
func New(reg *prometheus.Registry) Sink {
	if reg == nil {
		return noop{}
	}
	return newPromSink(reg)
}
