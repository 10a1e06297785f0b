package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

// RequestsTotal counts pipeline decisions by outcome (granted/denied)
var RequestsTotal = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Name: "adminguard_requests_total",
		Help: "Total number of requests evaluated by the super-admin pipeline",
	},
	[]string{"outcome"},
)

// DenialsTotal counts denials by reason and HTTP status
var DenialsTotal = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Name: "adminguard_denials_total",
		Help: "Total number of denied requests by reason",
	},
	[]string{"reason", "status"},
)

// RateLimitHits counts requests rejected by the sliding-window limiter
var RateLimitHits = prometheus.NewCounter(
	prometheus.CounterOpts{
		Name: "adminguard_rate_limit_hits_total",
		Help: "Total number of requests rejected with 429",
	},
)

// AuditFailures counts audit persistence degradations by stage (primary/emergency)
var AuditFailures = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Name: "adminguard_audit_failures_total",
		Help: "Total number of audit log persistence failures",
	},
	[]string{"stage"},
)

// RequestDuration records pipeline processing latency
var RequestDuration = prometheus.NewHistogram(
	prometheus.HistogramOpts{
		Name:    "adminguard_request_duration_seconds",
		Help:    "Latency in seconds for the security pipeline to reach a decision",
		Buckets: prometheus.DefBuckets,
	},
)

func init() {
	prometheus.MustRegister(RequestsTotal, DenialsTotal, RateLimitHits)
	prometheus.MustRegister(AuditFailures, RequestDuration)
}
