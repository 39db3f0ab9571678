// internal/service/issuance/application/metrics.go
package application

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	outcomeCounter = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "surge",
		Subsystem: "issuance",
		Name:      "outcomes_total",
		Help:      "Issuance outcomes by reason.",
	}, []string{"reason"})

	// 短路不发布新结果，单独计数，避免污染 outcomes_total 的口径
	precheckShortCircuitCounter = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "surge",
		Subsystem: "issuance",
		Name:      "precheck_short_circuits_total",
		Help:      "Redelivered requests short-circuited by the idempotency pre-check.",
	})

	lockTimeoutCounter = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "surge",
		Subsystem: "issuance",
		Name:      "lock_timeouts_total",
		Help:      "Lock acquisitions that timed out and were handed back to the queue.",
	})

	lockHoldSeconds = promauto.NewHistogram(prometheus.HistogramOpts{
		Namespace: "surge",
		Subsystem: "issuance",
		Name:      "lock_hold_seconds",
		Help:      "Time spent inside the per-coupon lock. Must stay well under the lease.",
		Buckets:   prometheus.DefBuckets,
	})
)
