package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	HTTPRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "http_request_duration_seconds",
			Help:    "HTTP request duration in seconds",
			Buckets: prometheus.ExponentialBuckets(0.001, 2, 12),
		},
		[]string{"method", "path", "status"},
	)

	AuthLogins = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "auth_logins_total",
			Help: "Login attempts by result",
		},
		[]string{"result"}, // success, invalid, disabled
	)

	UsersProvisioned = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "users_provisioned_total",
			Help: "Accounts created by administrators",
		},
		[]string{"role"},
	)

	FilesUploaded = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "task_files_uploaded_total",
			Help: "Task files stored",
		},
		[]string{"type"},
	)

	EventsPublished = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "domain_events_published_total",
			Help: "Domain events handed to the broker",
		},
		[]string{"routing_key", "status"},
	)
)

func RecordHTTPRequestDuration(method, path, status string, duration time.Duration) {
	HTTPRequestDuration.WithLabelValues(method, path, status).Observe(duration.Seconds())
}

func IncrementLogin(result string) {
	AuthLogins.WithLabelValues(result).Inc()
}

func IncrementProvisioned(role string) {
	UsersProvisioned.WithLabelValues(role).Inc()
}

func IncrementFileUploaded(fileType string) {
	FilesUploaded.WithLabelValues(fileType).Inc()
}

func IncrementEventPublished(routingKey, status string) {
	EventsPublished.WithLabelValues(routingKey, status).Inc()
}
