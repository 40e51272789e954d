// Package metrics provides Prometheus instrumentation for the wardflow service.
package metrics

import (
	"context"
	"database/sql"
	"runtime"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// HTTPRequestsTotal counts HTTP requests by method, path, and status.
	HTTPRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "wardflow",
			Name:      "http_requests_total",
			Help:      "Total HTTP requests by method, path pattern, and status code.",
		},
		[]string{"method", "path", "status"},
	)

	// HTTPRequestDuration observes request latency by method and path.
	HTTPRequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "wardflow",
			Name:      "http_request_duration_seconds",
			Help:      "HTTP request duration in seconds.",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"method", "path"},
	)

	// SessionsStartedTotal counts analysis sessions started.
	SessionsStartedTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "wardflow",
		Name:      "sessions_started_total",
		Help:      "Total analysis sessions started.",
	})

	// SessionsCompletedTotal counts sessions that reached results.
	SessionsCompletedTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "wardflow",
		Name:      "sessions_completed_total",
		Help:      "Total sessions that produced results.",
	})

	// SessionsExpiredTotal counts sessions reaped by the idle sweep.
	SessionsExpiredTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "wardflow",
		Name:      "sessions_expired_total",
		Help:      "Total idle sessions expired.",
	})

	// StageTransitionsTotal counts workflow stage transitions.
	StageTransitionsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "wardflow",
			Name:      "stage_transitions_total",
			Help:      "Total stage transitions by origin and destination stage.",
		},
		[]string{"from", "to"},
	)

	// IntentsTotal counts classified intents by kind.
	IntentsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "wardflow",
			Name:      "intents_total",
			Help:      "Total intents handled by kind.",
		},
		[]string{"kind"},
	)

	// ClarificationsTotal counts responses that asked the user to retry.
	ClarificationsTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "wardflow",
		Name:      "clarifications_total",
		Help:      "Total clarification responses issued.",
	})

	// CalculationsTotal counts TPR calculation runs by outcome.
	CalculationsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "wardflow",
			Name:      "calculations_total",
			Help:      "Total TPR calculation runs by outcome.",
		},
		[]string{"status"},
	)

	// CalculationDuration observes end-to-end calculation latency.
	CalculationDuration = prometheus.NewHistogram(prometheus.HistogramOpts{
		Namespace: "wardflow",
		Name:      "calculation_duration_seconds",
		Help:      "TPR calculation duration in seconds.",
		Buckets:   []float64{0.01, 0.05, 0.1, 0.5, 1, 5, 15, 60},
	})

	// WardMatchRate observes the per-calculation share of ward names that
	// resolved against the canonical registry.
	WardMatchRate = prometheus.NewHistogram(prometheus.HistogramOpts{
		Namespace: "wardflow",
		Name:      "ward_match_rate",
		Help:      "Share of ward names matched per calculation (0-1).",
		Buckets:   []float64{0.5, 0.7, 0.8, 0.9, 0.95, 0.99, 1},
	})

	// ThresholdViolationsTotal counts threshold violations by severity.
	ThresholdViolationsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "wardflow",
			Name:      "threshold_violations_total",
			Help:      "Total ward threshold violations by severity.",
		},
		[]string{"severity"},
	)

	// DatasetsUploadedTotal counts dataset uploads.
	DatasetsUploadedTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "wardflow",
		Name:      "datasets_uploaded_total",
		Help:      "Total datasets uploaded.",
	})

	// ActiveWebSocketClients tracks connected WebSocket clients.
	ActiveWebSocketClients = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "wardflow",
			Name:      "active_websocket_clients",
			Help:      "Number of currently connected WebSocket clients.",
		},
	)

	// DBOpenConnections tracks open database connections.
	DBOpenConnections = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "wardflow", Name: "db_open_connections",
		Help: "Number of open database connections.",
	})
	// DBIdleConnections tracks idle database connections.
	DBIdleConnections = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "wardflow", Name: "db_idle_connections",
		Help: "Number of idle database connections.",
	})
	// DBInUseConnections tracks in-use database connections.
	DBInUseConnections = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "wardflow", Name: "db_in_use_connections",
		Help: "Number of in-use database connections.",
	})
	// DBWaitCount tracks the total number of connections waited for.
	DBWaitCount = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "wardflow", Name: "db_wait_count_total",
		Help: "Total number of connections waited for.",
	})
	// DBWaitDuration tracks total time waited for connections.
	DBWaitDuration = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "wardflow", Name: "db_wait_duration_seconds_total",
		Help: "Total time waited for connections in seconds.",
	})
	// GoroutineCount tracks the current number of goroutines.
	GoroutineCount = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "wardflow", Name: "goroutines",
		Help: "Current number of goroutines.",
	})
)

func init() {
	prometheus.MustRegister(
		HTTPRequestsTotal,
		HTTPRequestDuration,
		SessionsStartedTotal,
		SessionsCompletedTotal,
		SessionsExpiredTotal,
		StageTransitionsTotal,
		IntentsTotal,
		ClarificationsTotal,
		CalculationsTotal,
		CalculationDuration,
		WardMatchRate,
		ThresholdViolationsTotal,
		DatasetsUploadedTotal,
		ActiveWebSocketClients,
		DBOpenConnections,
		DBIdleConnections,
		DBInUseConnections,
		DBWaitCount,
		DBWaitDuration,
		GoroutineCount,
	)
}

// StartDBStatsCollector periodically samples sql.DBStats and runtime goroutine
// count into Prometheus gauges. Call in a goroutine; exits when ctx is done.
func StartDBStatsCollector(ctx context.Context, db *sql.DB, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			stats := db.Stats()
			DBOpenConnections.Set(float64(stats.OpenConnections))
			DBIdleConnections.Set(float64(stats.Idle))
			DBInUseConnections.Set(float64(stats.InUse))
			DBWaitCount.Set(float64(stats.WaitCount))
			DBWaitDuration.Set(stats.WaitDuration.Seconds())
			GoroutineCount.Set(float64(runtime.NumGoroutine()))
		}
	}
}

// Middleware returns a gin middleware that records request metrics.
func Middleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		timer := prometheus.NewTimer(HTTPRequestDuration.WithLabelValues(
			c.Request.Method,
			c.FullPath(), // Uses route pattern, not actual path (avoids cardinality explosion)
		))

		c.Next()

		timer.ObserveDuration()
		HTTPRequestsTotal.WithLabelValues(
			c.Request.Method,
			c.FullPath(),
			statusBucket(c.Writer.Status()),
		).Inc()
	}
}

// Handler returns the Prometheus metrics HTTP handler for /metrics endpoint.
func Handler() gin.HandlerFunc {
	h := promhttp.Handler()
	return func(c *gin.Context) {
		h.ServeHTTP(c.Writer, c.Request)
	}
}

// statusBucket groups HTTP status codes into buckets (2xx, 3xx, 4xx, 5xx).
func statusBucket(code int) string {
	switch {
	case code < 200:
		return "1xx"
	case code < 300:
		return "2xx"
	case code < 400:
		return "3xx"
	case code < 500:
		return "4xx"
	default:
		return "5xx"
	}
}
