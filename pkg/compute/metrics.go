package compute

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// requestsTotal counts finished calls by kind and result.
	requestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "millwright_compute_requests_total",
		Help: "Compute requests and streams by kind and result",
	}, []string{"kind", "result"})

	// requestDuration tracks time from send to terminal reply.
	requestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "millwright_compute_request_duration_seconds",
		Help:    "Compute request latency in seconds",
		Buckets: prometheus.ExponentialBuckets(0.001, 2, 14), // 1ms to ~16s
	}, []string{"kind"})

	// streamFrames counts frames delivered to stream callbacks.
	streamFrames = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "millwright_compute_stream_frames_total",
		Help: "Stream frames delivered by frame type",
	}, []string{"type"})

	// droppedReplies counts replies that were discarded.
	droppedReplies = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "millwright_compute_dropped_replies_total",
		Help: "Replies dropped by reason",
	}, []string{"reason"})
)

// NoteStale records a reply dropped by a consumer because its session
// token no longer matched.
func NoteStale() {
	droppedReplies.WithLabelValues("stale_session").Inc()
}
