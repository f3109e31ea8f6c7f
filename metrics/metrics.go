// Package metrics defines the Prometheus collectors of the auth service.
// Collectors are registered with the default registry on import.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "tenant_auth"

// LoginAttemptsTotal counts login attempts.
// Label:
//   - result: "success", "invalid_credentials", "blocked" or "error"
var LoginAttemptsTotal = promauto.NewCounterVec(
	prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "login_attempts_total",
		Help:      "Total number of login attempts, by result.",
	},
	[]string{"result"},
)

// GuardBlockedTotal counts requests rejected by the failure guard
var GuardBlockedTotal = promauto.NewCounter(
	prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "guard_blocked_total",
		Help:      "Total number of authentication attempts rejected by the brute force guard.",
	},
)

// GuardTrackedIdentities is the number of client identities with a live failure counter
var GuardTrackedIdentities = promauto.NewGauge(
	prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "guard_tracked_identities",
		Help:      "Current number of client identities tracked by the brute force guard.",
	},
)

// GuardEvictionsTotal counts counters removed by the guard.
// Label:
//   - reason: "capacity" or "expired"
var GuardEvictionsTotal = promauto.NewCounterVec(
	prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "guard_evictions_total",
		Help:      "Total number of failure counters evicted, by reason.",
	},
	[]string{"reason"},
)

// TokenVerificationsTotal counts token verifications.
// Labels:
//   - kind: "access" or "refresh"
//   - result: "ok", "expired" or "invalid"
var TokenVerificationsTotal = promauto.NewCounterVec(
	prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "token_verifications_total",
		Help:      "Total number of token verifications, by token kind and result.",
	},
	[]string{"kind", "result"},
)

// LastAdminRejectionsTotal counts membership changes refused to keep a project admin
var LastAdminRejectionsTotal = promauto.NewCounter(
	prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "last_admin_rejections_total",
		Help:      "Total number of role changes or removals rejected by the last admin invariant.",
	},
)
