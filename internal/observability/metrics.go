package observability

import (
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
)

var (
	httpRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "support_chat_http_requests_total",
			Help: "Total number of HTTP requests processed by the chat service.",
		},
		[]string{"method", "route", "status"},
	)
	httpRequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "support_chat_http_request_duration_seconds",
			Help:    "HTTP request latencies in seconds.",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"route"},
	)
	messagesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "support_chat_messages_total",
			Help: "Total number of chat messages stored.",
		},
		[]string{"sender", "type"},
	)
	sessionsCreatedTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "support_chat_sessions_created_total",
			Help: "Total number of chat sessions opened by visitors.",
		},
	)
	uploadsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "support_chat_uploads_total",
			Help: "Total number of upload attempts by outcome.",
		},
		[]string{"type", "outcome"},
	)
	uploadBytes = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "support_chat_upload_bytes",
			Help:    "Size of stored uploads in bytes.",
			Buckets: prometheus.ExponentialBuckets(1<<10, 4, 8),
		},
		[]string{"type"},
	)
	rateLimitedTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "support_chat_rate_limited_total",
			Help: "Total number of requests rejected by the rate limiter.",
		},
	)
	amqpPublishErrorsTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "support_chat_amqp_publish_errors_total",
			Help: "Total number of AMQP publish errors.",
		},
	)
)

func init() {
	prometheus.MustRegister(
		httpRequestsTotal,
		httpRequestDuration,
		messagesTotal,
		sessionsCreatedTotal,
		uploadsTotal,
		uploadBytes,
		rateLimitedTotal,
		amqpPublishErrorsTotal,
	)
}

func HTTPMetricsMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		route := c.FullPath()
		if route == "" {
			route = "unmatched"
		}
		status := c.Writer.Status()

		httpRequestsTotal.WithLabelValues(c.Request.Method, route, strconv.Itoa(status)).Inc()
		httpRequestDuration.WithLabelValues(route).Observe(time.Since(start).Seconds())
	}
}

func IncMessage(sender, messageType string) {
	messagesTotal.WithLabelValues(sender, messageType).Inc()
}

func IncSessionCreated() {
	sessionsCreatedTotal.Inc()
}

func IncUpload(uploadType, outcome string) {
	uploadsTotal.WithLabelValues(uploadType, outcome).Inc()
}

// ObserveUploadBytes records the size of a stored upload.
func ObserveUploadBytes(uploadType string, size int64) {
	uploadBytes.WithLabelValues(uploadType).Observe(float64(size))
}

func IncRateLimited() {
	rateLimitedTotal.Inc()
}

func IncAMQPPublishError() {
	amqpPublishErrorsTotal.Inc()
}
