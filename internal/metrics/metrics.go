package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	RequestCount = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "carebot_http_requests_total",
			Help: "Total number of HTTP requests",
		},
		[]string{"method", "endpoint", "status"},
	)

	RequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name: "carebot_http_request_duration_seconds",
			Help: "HTTP request duration in seconds",
		},
		[]string{"method", "endpoint"},
	)

	// Turns is labelled by outcome: llm, fallback, redirected
	Turns = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "carebot_turns_total",
			Help: "Total number of conversation turns by outcome",
		},
		[]string{"outcome"},
	)

	LLMLatency = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "carebot_llm_latency_seconds",
			Help:    "Completion latency in seconds",
			Buckets: prometheus.ExponentialBuckets(0.25, 2, 8),
		},
	)

	TraumaFlags = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "carebot_trauma_flags_total",
			Help: "Trauma keyword matches by where they were found",
		},
		[]string{"source"},
	)

	Reports = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "carebot_reports_total",
			Help: "Generated session reports by CDR label and score source",
		},
		[]string{"cdr", "source"},
	)
)

const (
	OutcomeLLM        = "llm"
	OutcomeFallback   = "fallback"
	OutcomeRedirected = "redirected"

	TraumaSourceInput = "input"
	TraumaSourceReply = "reply"
)
