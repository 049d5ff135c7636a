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
	messagesReceived = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "whatsapp_bot_messages_received_total",
		Help: "Total number of inbound messages",
	}, []string{"chat_type"})

	repliesSent = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "whatsapp_bot_replies_sent_total",
		Help: "Total number of replies sent, by source tag",
	}, []string{"source"})

	commandsExecuted = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "whatsapp_bot_commands_executed_total",
		Help: "Total number of commands executed",
	}, []string{"command"})

	aiRequestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "whatsapp_bot_ai_request_duration_seconds",
		Help:    "Duration of generative-backend requests",
		Buckets: prometheus.DefBuckets,
	}, []string{"kind", "status"})

	moderationCacheHits = promauto.NewCounter(prometheus.CounterOpts{
		Name: "whatsapp_bot_moderation_cache_hits_total",
		Help: "Total number of moderation cache hits",
	})

	rateLimitHits = promauto.NewCounter(prometheus.CounterOpts{
		Name: "whatsapp_bot_rate_limit_hits_total",
		Help: "Total number of cooldown rejections",
	})
)

// Metrics records pipeline observability counters
type Metrics struct{}

// NewMetrics creates a metrics recorder
func NewMetrics() *Metrics {
	return &Metrics{}
}

func (m *Metrics) RecordMessageReceived(chatType string) {
	messagesReceived.WithLabelValues(chatType).Inc()
}

func (m *Metrics) RecordReplySent(source string) {
	repliesSent.WithLabelValues(source).Inc()
}

func (m *Metrics) RecordCommandExecuted(command string) {
	commandsExecuted.WithLabelValues(command).Inc()
}

func (m *Metrics) RecordAIRequest(kind, status string, duration time.Duration) {
	aiRequestDuration.WithLabelValues(kind, status).Observe(duration.Seconds())
}

func (m *Metrics) RecordModerationCacheHit() {
	moderationCacheHits.Inc()
}

func (m *Metrics) RecordRateLimitHit() {
	rateLimitHits.Inc()
}

// StartMetricsServer serves prometheus metrics plus a health check
func StartMetricsServer(port int, path string) error {
	router := mux.NewRouter()
	router.Handle(path, promhttp.Handler())

	router.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("OK"))
	})

	server := &http.Server{
		Addr:         fmt.Sprintf(":%d", port),
		Handler:      router,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 10 * time.Second,
	}

	return server.ListenAndServe()
}
