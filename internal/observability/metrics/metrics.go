// Package metrics provides Prometheus metrics for observability.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "ai_speech_intelligence"

// Metrics holds all Prometheus metrics for the service.
type Metrics struct {
	// Session metrics
	SessionsTotal     prometheus.Counter
	SessionsActive    prometheus.Gauge
	SessionsFinalized *prometheus.CounterVec
	SessionDuration   prometheus.Histogram

	// Fragment metrics
	FragmentsReceived     *prometheus.CounterVec
	FragmentAppendErrors  prometheus.Counter
	FragmentBroadcastErrs prometheus.Counter

	// Stitch metrics
	StitchTotal   *prometheus.CounterVec
	StitchedChars prometheus.Histogram

	// Dispatch metrics
	DispatchLaneTotal   *prometheus.CounterVec
	DispatchLaneLatency *prometheus.HistogramVec

	// Audio metrics
	AudioBytesReceived  prometheus.Counter
	AudioFramesReceived prometheus.Counter

	// Bus publish metrics
	BusPublishTotal   *prometheus.CounterVec
	BusPublishErrors  *prometheus.CounterVec
	BusPublishLatency *prometheus.HistogramVec

	// STT metrics
	STTErrors *prometheus.CounterVec

	// Batch metrics
	BatchTotal    *prometheus.CounterVec
	BatchDuration prometheus.Histogram

	// gRPC metrics
	GRPCCalls        *prometheus.CounterVec
	GRPCCallDuration *prometheus.HistogramVec
}

// DefaultMetrics is the global metrics instance.
var DefaultMetrics = NewMetrics(prometheus.DefaultRegisterer)

// NewMetrics creates all Prometheus metrics and registers them with reg.
// A nil registerer creates unregistered metrics, which is what tests want.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)
	return &Metrics{
		SessionsTotal: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "sessions_total",
			Help:      "Total number of live sessions opened",
		}),
		SessionsActive: f.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "sessions_active",
			Help:      "Number of currently active live sessions",
		}),
		SessionsFinalized: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "sessions_finalized_total",
			Help:      "Total number of sessions finalized, by trigger",
		}, []string{"reason"}),
		SessionDuration: f.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "session_duration_seconds",
			Help:      "Duration of live sessions in seconds",
			Buckets:   []float64{1, 5, 10, 30, 60, 120, 300, 600, 1800, 3600},
		}),

		FragmentsReceived: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "fragments_received_total",
			Help:      "Total number of transcript hypotheses received",
		}, []string{"kind"}),
		FragmentAppendErrors: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "fragment_append_errors_total",
			Help:      "Total number of failed durable fragment appends",
		}),
		FragmentBroadcastErrs: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "fragment_broadcast_errors_total",
			Help:      "Total number of failed live fragment broadcasts",
		}),

		StitchTotal: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "stitch_total",
			Help:      "Total number of session reconstructions, by result",
		}, []string{"result"}),
		StitchedChars: f.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "stitched_transcript_chars",
			Help:      "Length of reconstructed transcripts in characters",
			Buckets:   prometheus.ExponentialBuckets(64, 4, 8),
		}),

		DispatchLaneTotal: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "dispatch_lane_total",
			Help:      "Total number of downstream lane executions, by lane and result",
		}, []string{"lane", "result"}),
		DispatchLaneLatency: f.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "dispatch_lane_latency_seconds",
			Help:      "Downstream lane latency in seconds",
			Buckets:   []float64{0.05, 0.1, 0.25, 0.5, 1, 2, 5, 10, 20},
		}, []string{"lane"}),

		AudioBytesReceived: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "audio_bytes_received_total",
			Help:      "Total audio bytes received",
		}),
		AudioFramesReceived: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "audio_frames_received_total",
			Help:      "Total audio frames received",
		}),

		BusPublishTotal: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "bus_publish_total",
			Help:      "Total number of event bus messages published",
		}, []string{"topic", "event_type"}),
		BusPublishErrors: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "bus_publish_errors_total",
			Help:      "Total number of event bus publish errors",
		}, []string{"topic", "event_type"}),
		BusPublishLatency: f.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "bus_publish_latency_seconds",
			Help:      "Event bus publish latency in seconds",
			Buckets:   []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1},
		}, []string{"topic"}),

		STTErrors: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "stt_errors_total",
			Help:      "Total number of STT errors",
		}, []string{"provider", "error_type"}),

		BatchTotal: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "batch_total",
			Help:      "Total number of processed uploads by mode and result",
		}, []string{"mode", "result"}),
		BatchDuration: f.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "batch_duration_seconds",
			Help:      "Time from upload to fan-out in seconds",
			Buckets:   prometheus.ExponentialBuckets(0.5, 2, 10),
		}),

		GRPCCalls: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "grpc_calls_total",
			Help:      "Total number of gRPC calls by method and status code",
		}, []string{"method", "code"}),
		GRPCCallDuration: f.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "grpc_call_duration_seconds",
			Help:      "Duration of gRPC calls in seconds",
			Buckets:   prometheus.ExponentialBuckets(0.001, 4, 10),
		}, []string{"method"}),
	}
}

// RecordSessionStart records a new live session opening.
func (m *Metrics) RecordSessionStart() {
	m.SessionsTotal.Inc()
	m.SessionsActive.Inc()
}

// RecordSessionEnd records a live session reaching Closed.
func (m *Metrics) RecordSessionEnd(reason string, durationSeconds float64) {
	m.SessionsActive.Dec()
	m.SessionsFinalized.WithLabelValues(reason).Inc()
	m.SessionDuration.Observe(durationSeconds)
}

// RecordFragment records a hypothesis from the upstream stream.
func (m *Metrics) RecordFragment(final bool) {
	kind := "interim"
	if final {
		kind = "final"
	}
	m.FragmentsReceived.WithLabelValues(kind).Inc()
}

// RecordAppendError records a failed durable append.
func (m *Metrics) RecordAppendError() {
	m.FragmentAppendErrors.Inc()
}

// RecordBroadcastError records a failed live broadcast.
func (m *Metrics) RecordBroadcastError() {
	m.FragmentBroadcastErrs.Inc()
}

// RecordStitch records a reconstruction result and its length.
func (m *Metrics) RecordStitch(result string, chars int) {
	m.StitchTotal.WithLabelValues(result).Inc()
	if chars > 0 {
		m.StitchedChars.Observe(float64(chars))
	}
}

// RecordLane records a downstream lane outcome.
func (m *Metrics) RecordLane(lane string, err error, latencySeconds float64) {
	result := "success"
	if err != nil {
		result = "failure"
	}
	m.DispatchLaneTotal.WithLabelValues(lane, result).Inc()
	m.DispatchLaneLatency.WithLabelValues(lane).Observe(latencySeconds)
}

// RecordAudioReceived records audio bytes and frames received.
func (m *Metrics) RecordAudioReceived(bytes int) {
	m.AudioBytesReceived.Add(float64(bytes))
	m.AudioFramesReceived.Inc()
}

// RecordBusPublish records an event bus publish attempt.
func (m *Metrics) RecordBusPublish(topic, eventType string, err error, latencySeconds float64) {
	m.BusPublishTotal.WithLabelValues(topic, eventType).Inc()
	m.BusPublishLatency.WithLabelValues(topic).Observe(latencySeconds)
	if err != nil {
		m.BusPublishErrors.WithLabelValues(topic, eventType).Inc()
	}
}

// RecordSTTError records an STT error.
func (m *Metrics) RecordSTTError(provider, errorType string) {
	m.STTErrors.WithLabelValues(provider, errorType).Inc()
}

// RecordBatch records a processed upload. mode is "sync" or "job"; result
// is "succeeded" or a failure code.
func (m *Metrics) RecordBatch(mode, result string, durationSeconds float64) {
	m.BatchTotal.WithLabelValues(mode, result).Inc()
	if result == "succeeded" {
		m.BatchDuration.Observe(durationSeconds)
	}
}

// RecordGRPCCall records a finished gRPC call. Watch streams end when the
// client goes away, so their duration is the watch lifetime.
func (m *Metrics) RecordGRPCCall(method, code string, durationSeconds float64) {
	m.GRPCCalls.WithLabelValues(method, code).Inc()
	m.GRPCCallDuration.WithLabelValues(method).Observe(durationSeconds)
}
