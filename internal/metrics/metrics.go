package metrics

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/ErlanBelekov/farm-market/internal/health"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// Auth metrics

	AuthEventsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "farmmarket",
		Name:      "auth_events_total",
		Help:      "Auth operations, by operation and outcome.",
	}, []string{"operation", "outcome"})

	OTPsIssuedTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "farmmarket",
		Name:      "otps_issued_total",
		Help:      "One-time codes issued, by purpose.",
	}, []string{"purpose"})

	TokensIssuedTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "farmmarket",
		Name:      "tokens_issued_total",
		Help:      "Encrypted bearer tokens issued.",
	})

	EmailFailuresTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "farmmarket",
		Name:      "email_failures_total",
		Help:      "Outbound emails that failed to send.",
	})

	// Security metrics

	GatewayRejectionsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "farmmarket",
		Name:      "gateway_rejections_total",
		Help:      "Requests rejected by the security gateway, by reason.",
	}, []string{"reason"})

	TokenRejectionsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "farmmarket",
		Name:      "token_rejections_total",
		Help:      "Bearer tokens rejected, by stage.",
	}, []string{"stage"})

	AuditDroppedTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "farmmarket",
		Name:      "audit_dropped_total",
		Help:      "Audit events dropped because the dispatch buffer was full.",
	})

	// Reaper metrics

	ReaperPurgedTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "farmmarket",
		Name:      "reaper_purged_total",
		Help:      "Rows deleted by the reaper, by kind.",
	}, []string{"kind"})

	ReaperCycleDuration = prometheus.NewHistogram(prometheus.HistogramOpts{
		Namespace: "farmmarket",
		Name:      "reaper_cycle_duration_seconds",
		Help:      "Time taken for one reaper cycle.",
		Buckets:   prometheus.DefBuckets,
	})

	// HTTP metrics

	HTTPRequestDuration = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "farmmarket",
		Name:      "http_request_duration_seconds",
		Help:      "HTTP request latency.",
		Buckets:   []float64{.005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5},
	}, []string{"method", "path", "status"})

	HTTPRequestsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "farmmarket",
		Name:      "http_requests_total",
		Help:      "Total HTTP requests.",
	}, []string{"method", "path", "status"})
)

func Register() {
	prometheus.MustRegister(
		AuthEventsTotal,
		OTPsIssuedTotal,
		TokensIssuedTotal,
		EmailFailuresTotal,
		GatewayRejectionsTotal,
		TokenRejectionsTotal,
		AuditDroppedTotal,
		ReaperPurgedTotal,
		ReaperCycleDuration,
		HTTPRequestDuration,
		HTTPRequestsTotal,
	)
}

// KeyValidator is satisfied by *security.APIKeys.
type KeyValidator interface {
	Enabled() bool
	Valid(key string) bool
}

// HealthReporter is satisfied by *health.Checker.
type HealthReporter interface {
	Liveness(ctx context.Context) health.HealthResult
	Readiness(ctx context.Context) health.HealthResult
}

// NewServer serves /metrics, /livez and /readyz. When keys is enabled,
// scrapes must present a matching X-API-Key header; probes stay open.
func NewServer(addr string, checker HealthReporter, keys KeyValidator) *http.Server {
	mux := http.NewServeMux()
	mux.Handle("/metrics", RequireAPIKey(keys, promhttp.Handler()))
	mux.HandleFunc("/livez", func(w http.ResponseWriter, r *http.Request) {
		writeHealth(w, checker.Liveness(r.Context()))
	})
	mux.HandleFunc("/readyz", func(w http.ResponseWriter, r *http.Request) {
		writeHealth(w, checker.Readiness(r.Context()))
	})
	return &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}
}

func writeHealth(w http.ResponseWriter, res health.HealthResult) {
	w.Header().Set("Content-Type", "application/json")
	if res.Status != "up" {
		w.WriteHeader(http.StatusServiceUnavailable)
	}
	_ = json.NewEncoder(w).Encode(res)
}

func RequireAPIKey(keys KeyValidator, next http.Handler) http.Handler {
	if keys == nil || !keys.Enabled() {
		return next
	}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !keys.Valid(r.Header.Get("X-API-Key")) {
			http.Error(w, "Unauthorized", http.StatusUnauthorized)
			return
		}
		next.ServeHTTP(w, r)
	})
}
