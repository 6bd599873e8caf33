package metrics

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
			Name: "dispatch_http_requests_total",
			Help: "Total number of HTTP requests received by the API.",
		},
		[]string{"route", "method", "status"},
	)

	httpRequestDurationSeconds = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "dispatch_http_request_duration_seconds",
			Help:    "Duration of HTTP requests handled by the API.",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"route", "method", "status"},
	)

	IncidentsReported = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "dispatch_incidents_reported_total",
			Help: "Incidents reported, by type and severity.",
		},
		[]string{"type", "severity"},
	)

	StatusTransitions = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "dispatch_status_transitions_total",
			Help: "Committed incident status transitions.",
		},
		[]string{"from", "to"},
	)

	ResponderActions = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "dispatch_responder_actions_total",
			Help: "Accept/decline decisions recorded by responders.",
		},
		[]string{"action"},
	)

	CandidatesFound = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "dispatch_candidates_found",
			Help:    "Number of candidate responders found when an incident is reported.",
			Buckets: []float64{0, 1, 2, 3, 4, 5, 10},
		},
	)

	NotificationFailures = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "dispatch_notification_failures_total",
			Help: "Events that could not be published after the mutation committed.",
		},
		[]string{"event"},
	)

	WebhookDeliveries = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "dispatch_webhook_deliveries_total",
			Help: "Outbound webhook delivery outcomes.",
		},
		[]string{"result"},
	)

	UnacknowledgedAssignments = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "dispatch_unacknowledged_assignments",
			Help: "Assigned incidents with responders who have not answered within the acknowledgement timeout.",
		},
	)
)

func init() {
	prometheus.MustRegister(
		httpRequestsTotal,
		httpRequestDurationSeconds,
		IncidentsReported,
		StatusTransitions,
		ResponderActions,
		CandidatesFound,
		NotificationFailures,
		WebhookDeliveries,
		UnacknowledgedAssignments,
	)
}

// Middleware записывает число и длительность HTTP запросов
func Middleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		route := c.FullPath()
		if route == "" {
			route = "unmatched"
		}
		status := strconv.Itoa(c.Writer.Status())
		httpRequestsTotal.WithLabelValues(route, c.Request.Method, status).Inc()
		httpRequestDurationSeconds.WithLabelValues(route, c.Request.Method, status).Observe(time.Since(start).Seconds())
	}
}

// Handler отдает метрики в формате Prometheus
func Handler() gin.HandlerFunc {
	return gin.WrapH(promhttp.Handler())
}
