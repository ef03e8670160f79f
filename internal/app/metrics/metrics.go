package metrics

import (
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// Registry holds the engine-specific Prometheus collectors.
	Registry = prometheus.NewRegistry()

	httpInFlight = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "trustrewards",
			Subsystem: "http",
			Name:      "inflight_requests",
			Help:      "Current number of in-flight HTTP requests.",
		},
	)

	httpRequests = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "trustrewards",
			Subsystem: "http",
			Name:      "requests_total",
			Help:      "Total number of HTTP requests handled.",
		},
		[]string{"method", "path", "status"},
	)

	httpDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "trustrewards",
			Subsystem: "http",
			Name:      "request_duration_seconds",
			Help:      "Duration of HTTP requests.",
			Buckets:   prometheus.ExponentialBuckets(0.005, 2, 10), // 5ms to ~5s
		},
		[]string{"method", "path"},
	)

	ledgerMovements = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "trustrewards",
			Subsystem: "ledger",
			Name:      "points_moved_total",
			Help:      "Points credited and debited across all profiles.",
		},
		[]string{"direction"},
	)

	hiresCompleted = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: "trustrewards",
			Subsystem: "hires",
			Name:      "completed_total",
			Help:      "Total number of hires marked completed.",
		},
	)

	referralsRewarded = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: "trustrewards",
			Subsystem: "referrals",
			Name:      "rewarded_total",
			Help:      "Total number of referrals that reached rewarded.",
		},
	)

	versionConflicts = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "trustrewards",
			Subsystem: "storage",
			Name:      "version_conflicts_total",
			Help:      "Conditional updates that lost a race and were retried.",
		},
		[]string{"entity"},
	)

	integrityViolations = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "trustrewards",
			Subsystem: "audit",
			Name:      "integrity_violations_total",
			Help:      "Integrity violations detected (rank mismatch, code collision).",
		},
		[]string{"kind"},
	)
)

func init() {
	Registry.MustRegister(
		httpInFlight,
		httpRequests,
		httpDuration,
		ledgerMovements,
		hiresCompleted,
		referralsRewarded,
		versionConflicts,
		integrityViolations,
		prometheus.NewProcessCollector(prometheus.ProcessCollectorOpts{}),
		prometheus.NewGoCollector(),
	)
}

// Handler returns an HTTP handler exposing the registered Prometheus metrics.
func Handler() http.Handler {
	return promhttp.HandlerFor(Registry, promhttp.HandlerOpts{})
}

// InstrumentHandler wraps the provided handler with HTTP metrics collection.
func InstrumentHandler(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/metrics" {
			next.ServeHTTP(w, r)
			return
		}

		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		start := time.Now()

		httpInFlight.Inc()
		defer httpInFlight.Dec()

		next.ServeHTTP(rec, r)

		duration := time.Since(start)
		path := canonicalPath(r.URL.Path)
		method := strings.ToUpper(r.Method)

		httpRequests.WithLabelValues(method, path, strconv.Itoa(rec.status)).Inc()
		httpDuration.WithLabelValues(method, path).Observe(duration.Seconds())
	})
}

// RecordPointsCredited adds to the credited-points counter.
func RecordPointsCredited(amount int64) {
	if amount > 0 {
		ledgerMovements.WithLabelValues("credit").Add(float64(amount))
	}
}

// RecordPointsDebited adds to the debited-points counter.
func RecordPointsDebited(amount int64) {
	if amount > 0 {
		ledgerMovements.WithLabelValues("debit").Add(float64(amount))
	}
}

// RecordHireCompleted counts one completed hire.
func RecordHireCompleted() { hiresCompleted.Inc() }

// RecordReferralRewarded counts one rewarded referral.
func RecordReferralRewarded() { referralsRewarded.Inc() }

// RecordVersionConflict counts a lost conditional update for an entity type.
func RecordVersionConflict(entity string) {
	if entity == "" {
		entity = "unknown"
	}
	versionConflicts.WithLabelValues(entity).Inc()
}

// RecordIntegrityViolation counts a detected integrity violation.
func RecordIntegrityViolation(kind string) {
	if kind == "" {
		kind = "unknown"
	}
	integrityViolations.WithLabelValues(kind).Inc()
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(code int) {
	r.status = code
	r.ResponseWriter.WriteHeader(code)
}

func (r *statusRecorder) Write(b []byte) (int, error) {
	if r.status == 0 {
		r.status = http.StatusOK
	}
	return r.ResponseWriter.Write(b)
}

func canonicalPath(raw string) string {
	if raw == "" || raw == "/" {
		return "/"
	}
	trimmed := strings.Trim(raw, "/")
	if trimmed == "" {
		return "/"
	}
	parts := strings.Split(trimmed, "/")
	switch parts[0] {
	case "profiles", "businesses", "hires", "referrals":
		if len(parts) == 1 {
			return "/" + parts[0]
		}
		if len(parts) == 2 {
			return "/" + parts[0] + "/:id"
		}
		return "/" + parts[0] + "/:id/" + parts[2]
	default:
		return "/" + parts[0]
	}
}
