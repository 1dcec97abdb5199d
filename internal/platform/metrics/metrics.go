package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "medshare"

var (
	SessionTransitions = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "session_transitions_total",
		Help:      "Sharing session status transitions applied, by target status.",
	}, []string{"to"})

	KeyConsumes = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "key_consumes_total",
		Help:      "Ephemeral key consume attempts, by result.",
	}, []string{"result"})

	AccessRequests = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "access_requests_total",
		Help:      "Professional access requests, by result.",
	}, []string{"result"})

	AutoRevocations = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "auto_revocations_total",
		Help:      "Sessions revoked by the anomaly policy, by activity type.",
	}, []string{"activity"})

	Notifications = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "notifications_total",
		Help:      "Notification fan-out outcomes, by stage and result.",
	}, []string{"stage", "result"})

	JobRuns = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "job_runs_total",
		Help:      "Scheduled job executions, by job and result.",
	}, []string{"job", "result"})

	JobItems = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "job_items_total",
		Help:      "Items affected by scheduled jobs.",
	}, []string{"job"})
)

// Result normaliza el label de resultado.
func Result(err error) string {
	if err != nil {
		return "error"
	}
	return "ok"
}
