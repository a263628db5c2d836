package supervisor

import "github.com/prometheus/client_golang/prometheus"

var (
	mtxWorkers = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "grid_workers_running",
			Help: "Workers currently held by the supervisor",
		},
	)

	// action: start|stop|delete|sweep|restart
	mtxTransitions = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "grid_worker_transitions_total",
			Help: "Worker lifecycle actions taken during reconciliation",
		},
		[]string{"action"},
	)

	// stage: registry|spawn|cancel_orders
	mtxReconcileErrors = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "grid_reconcile_errors_total",
			Help: "Reconciliation failures split by stage",
		},
		[]string{"stage"},
	)
)

func init() {
	prometheus.MustRegister(mtxWorkers, mtxTransitions, mtxReconcileErrors)
}
