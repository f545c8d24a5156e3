package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

var (
	RateLimitAllowed = prometheus.NewCounterVec(
		prometheus.CounterOpts{Namespace: "sessionguard", Name: "rate_limit_allowed_total", Help: "Number of allowed requests by limiter backend and category."},
		[]string{"limiter", "category"},
	)
	RateLimitRejected = prometheus.NewCounterVec(
		prometheus.CounterOpts{Namespace: "sessionguard", Name: "rate_limit_rejected_total", Help: "Number of rejected requests by limiter backend and category."},
		[]string{"limiter", "category"},
	)
	RateLimitErrors = prometheus.NewCounterVec(
		prometheus.CounterOpts{Namespace: "sessionguard", Name: "rate_limit_errors_total", Help: "Limiter backend failures (requests were let through)."},
		[]string{"limiter"},
	)
	SessionRotations = prometheus.NewCounterVec(
		prometheus.CounterOpts{Namespace: "sessionguard", Name: "session_rotations_total", Help: "Refresh rotations by outcome."},
		[]string{"result"},
	)
	TheftDetected = prometheus.NewCounter(
		prometheus.CounterOpts{Namespace: "sessionguard", Name: "theft_detected_total", Help: "Refresh token reuse events."},
	)
	SessionsEvicted = prometheus.NewCounter(
		prometheus.CounterOpts{Namespace: "sessionguard", Name: "sessions_evicted_total", Help: "Sessions revoked by the capacity manager."},
	)
	SweepDeleted = prometheus.NewCounter(
		prometheus.CounterOpts{Namespace: "sessionguard", Name: "sweep_deleted_total", Help: "Session records hard-deleted by the sweeper."},
	)
)

// Rotation outcomes used as the "result" label of SessionRotations.
const (
	RotationOK       = "ok"
	RotationInvalid  = "invalid"
	RotationExpired  = "expired"
	RotationReuse    = "reuse"
	RotationMismatch = "device_mismatch"
)

func RegisterCollectors(reg prometheus.Registerer) {
	reg.MustRegister(RateLimitAllowed)
	reg.MustRegister(RateLimitRejected)
	reg.MustRegister(RateLimitErrors)
	reg.MustRegister(SessionRotations)
	reg.MustRegister(TheftDetected)
	reg.MustRegister(SessionsEvicted)
	reg.MustRegister(SweepDeleted)
}
