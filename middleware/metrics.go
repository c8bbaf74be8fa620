package middleware

import (
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	httpRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "http_requests_total",
			Help: "Total number of HTTP requests",
		},
		[]string{"method", "endpoint", "status"},
	)

	httpRequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "http_request_duration_seconds",
			Help:    "HTTP request duration in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "endpoint"},
	)

	paymentsSettledTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "payments_settled_total",
			Help: "Total number of payment settlements processed",
		},
		[]string{"status"},
	)

	webhookEventsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "webhook_events_total",
			Help: "Total number of webhook events received",
		},
		[]string{"event_type", "outcome"},
	)

	walletCreditsTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "wallet_credits_total",
			Help: "Total number of wallet ledger credits",
		},
	)

	refundsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "refunds_total",
			Help: "Total number of refunds processed",
		},
		[]string{"outcome"},
	)

	notificationsSentTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "notifications_sent_total",
			Help: "Total number of notifications sent",
		},
		[]string{"event_type"},
	)
)

func init() {
	prometheus.MustRegister(httpRequestsTotal)
	prometheus.MustRegister(httpRequestDuration)
	prometheus.MustRegister(paymentsSettledTotal)
	prometheus.MustRegister(webhookEventsTotal)
	prometheus.MustRegister(walletCreditsTotal)
	prometheus.MustRegister(refundsTotal)
	prometheus.MustRegister(notificationsSentTotal)
}

func MetricsMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		path := c.FullPath()
		if path == "" {
			path = c.Request.URL.Path
		}

		c.Next()

		status := strconv.Itoa(c.Writer.Status())
		duration := time.Since(start).Seconds()

		httpRequestsTotal.WithLabelValues(c.Request.Method, path, status).Inc()
		httpRequestDuration.WithLabelValues(c.Request.Method, path).Observe(duration)
	}
}

func PrometheusHandler() gin.HandlerFunc {
	return gin.WrapH(promhttp.Handler())
}

func RecordSettlement(status string) {
	paymentsSettledTotal.WithLabelValues(status).Inc()
}

func RecordWebhookEvent(eventType, outcome string) {
	webhookEventsTotal.WithLabelValues(eventType, outcome).Inc()
}

func RecordWalletCredit() {
	walletCreditsTotal.Inc()
}

func RecordRefund(outcome string) {
	refundsTotal.WithLabelValues(outcome).Inc()
}

func RecordNotificationSent(eventType string) {
	notificationsSentTotal.WithLabelValues(eventType).Inc()
}
