// Package metrics provides Prometheus instrumentation for the guard service.
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

const namespace = "mevguard"

var (
	// HTTPRequestsTotal counts HTTP requests by method, path, and status.
	HTTPRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "http_requests_total",
			Help:      "Total HTTP requests by method, path pattern, and status class.",
		},
		[]string{"method", "path", "status"},
	)

	// HTTPRequestDuration observes request latency by method and path.
	HTTPRequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "http_request_duration_seconds",
			Help:      "HTTP request duration in seconds.",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"method", "path"},
	)

	// AssessmentsTotal counts threat assessments by resulting security level.
	AssessmentsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "assessments_total",
			Help:      "Threat assessments by security level.",
		},
		[]string{"level"},
	)

	// VulnerabilityScore observes the distribution of computed scores.
	VulnerabilityScore = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "vulnerability_score",
			Help:      "Distribution of vulnerability scores.",
			Buckets:   []float64{0.1, 0.2, 0.25, 0.3, 0.4, 0.5, 0.6, 0.7, 0.75, 0.8, 0.9, 1},
		},
	)

	// MeasuresAppliedTotal counts protection measures applied to intents.
	MeasuresAppliedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "measures_applied_total",
			Help:      "Protection measures applied, by measure.",
		},
		[]string{"measure"},
	)

	// JourneysTotal counts terminal journeys by outcome and failure kind.
	JourneysTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "journeys_total",
			Help:      "Terminal journeys by outcome (completed/failed) and failure kind.",
		},
		[]string{"outcome", "kind"},
	)

	// ActiveJourneys tracks journeys that have not reached a terminal state.
	ActiveJourneys = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace, Name: "active_journeys",
		Help: "Journeys currently in flight.",
	})

	// ExecutionDuration observes time spent waiting on the execution collaborator.
	ExecutionDuration = prometheus.NewHistogram(prometheus.HistogramOpts{
		Namespace: namespace,
		Name:      "execution_duration_seconds",
		Help:      "Time from handoff to execution result.",
		Buckets:   []float64{0.05, 0.1, 0.25, 0.5, 1, 2, 5, 10, 30},
	})

	// ReportFailuresTotal counts journeys a reporter could not accept.
	ReportFailuresTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "report_failures_total",
			Help:      "Journey reports that failed after retries, by reporter.",
		},
		[]string{"reporter"},
	)

	// PoolCongestion mirrors the latest observed pool congestion.
	PoolCongestion = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace, Name: "pool_congestion",
		Help: "Latest observed pool congestion in [0,1].",
	})

	// TuningReloadsTotal counts tuning file reloads by result.
	TuningReloadsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "tuning_reloads_total",
			Help:      "Tuning file reloads by result.",
		},
		[]string{"result"},
	)

	// ActiveWebSocketClients tracks connected journey stream clients.
	ActiveWebSocketClients = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace, Name: "active_websocket_clients",
		Help: "Number of connected journey stream clients.",
	})

	// DBOpenConnections tracks open archive database connections.
	DBOpenConnections = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace, Name: "db_open_connections",
		Help: "Number of open database connections.",
	})
	// DBInUseConnections tracks in-use archive database connections.
	DBInUseConnections = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace, Name: "db_in_use_connections",
		Help: "Number of in-use database connections.",
	})
	// GoroutineCount tracks the current number of goroutines.
	GoroutineCount = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace, Name: "goroutines",
		Help: "Current number of goroutines.",
	})
)

func init() {
	prometheus.MustRegister(
		HTTPRequestsTotal,
		HTTPRequestDuration,
		AssessmentsTotal,
		VulnerabilityScore,
		MeasuresAppliedTotal,
		JourneysTotal,
		ActiveJourneys,
		ExecutionDuration,
		ReportFailuresTotal,
		PoolCongestion,
		TuningReloadsTotal,
		ActiveWebSocketClients,
		DBOpenConnections,
		DBInUseConnections,
		GoroutineCount,
	)
}

// StartDBStatsCollector samples pool stats of the archive database until ctx ends.
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
			DBInUseConnections.Set(float64(stats.InUse))
			GoroutineCount.Set(float64(runtime.NumGoroutine()))
		}
	}
}

// Middleware records request count and latency per route pattern.
func Middleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		path := c.FullPath() // route pattern keeps label cardinality bounded
		HTTPRequestDuration.WithLabelValues(c.Request.Method, path).Observe(time.Since(start).Seconds())
		HTTPRequestsTotal.WithLabelValues(c.Request.Method, path, statusBucket(c.Writer.Status())).Inc()
	}
}

// Handler exposes the default registry.
func Handler() gin.HandlerFunc {
	h := promhttp.Handler()
	return func(c *gin.Context) {
		h.ServeHTTP(c.Writer, c.Request)
	}
}

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
