package middleware

import (
	"fmt"
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	promptsReceived = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "cohost_prompts_received_total",
		Help: "Total number of prompts received",
	}, []string{"source"})

	turnsProcessed = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "cohost_turns_processed_total",
		Help: "Total number of conversation turns processed",
	}, []string{"status"})

	moderationDecisions = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "cohost_moderation_decisions_total",
		Help: "Total number of moderation gate decisions",
	}, []string{"decision"})

	completionDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "cohost_completion_request_duration_seconds",
		Help:    "Duration of completion requests",
		Buckets: prometheus.DefBuckets,
	}, []string{"model", "status"})

	completionsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "cohost_completion_requests_total",
		Help: "Total number of completion requests",
	}, []string{"model", "status"})

	tokensUsed = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "cohost_tokens_used_total",
		Help: "Total tokens consumed by completion calls",
	}, []string{"model", "kind"})

	rateLimitExceeded = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "cohost_rate_limit_exceeded_total",
		Help: "Total number of rate limit exceeded events",
	}, []string{"user"})

	storageOperations = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "cohost_storage_operations_total",
		Help: "Total number of storage operations",
	}, []string{"operation", "status"})
)

// Metrics provides methods to record metrics
type Metrics struct{}

// NewMetrics creates a new metrics instance
func NewMetrics() *Metrics {
	return &Metrics{}
}

// RecordPromptReceived records an incoming prompt by source
func (m *Metrics) RecordPromptReceived(source string) {
	promptsReceived.WithLabelValues(source).Inc()
}

// RecordTurnProcessed records a completed turn with its outcome
func (m *Metrics) RecordTurnProcessed(status string) {
	turnsProcessed.WithLabelValues(status).Inc()
}

// RecordModerationDecision records a moderation gate decision
func (m *Metrics) RecordModerationDecision(decision string) {
	moderationDecisions.WithLabelValues(decision).Inc()
}

// RecordCompletion records a completion request
func (m *Metrics) RecordCompletion(model, status string, duration time.Duration) {
	completionDuration.WithLabelValues(model, status).Observe(duration.Seconds())
	completionsTotal.WithLabelValues(model, status).Inc()
}

// RecordTokens records token consumption for a completion call
func (m *Metrics) RecordTokens(model string, promptTokens, completionTokens int) {
	tokensUsed.WithLabelValues(model, "prompt").Add(float64(promptTokens))
	tokensUsed.WithLabelValues(model, "completion").Add(float64(completionTokens))
}

// RecordRateLimitExceeded records a rate limit exceeded event
func (m *Metrics) RecordRateLimitExceeded(user string) {
	rateLimitExceeded.WithLabelValues(user).Inc()
}

// RecordStorageOperation records a storage operation
func (m *Metrics) RecordStorageOperation(operation, status string) {
	storageOperations.WithLabelValues(operation, status).Inc()
}

// StartMetricsServer starts the metrics HTTP server
func StartMetricsServer(port int, path string) error {
	router := mux.NewRouter()
	router.Handle(path, promhttp.Handler())

	router.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("OK"))
	})

	addr := fmt.Sprintf(":%d", port)
	server := &http.Server{
		Addr:         addr,
		Handler:      router,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 10 * time.Second,
	}

	return server.ListenAndServe()
}
