package grid

import "github.com/prometheus/client_golang/prometheus"

var (
	mtxOrders = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "grid_orders_placed_total",
			Help: "Orders placed by grid workers",
		},
		[]string{"type", "side"},
	)

	mtxFills = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "grid_orders_filled_total",
			Help: "Ladder orders detected as filled",
		},
		[]string{"side"},
	)

	// Counts sell orders liquidated at market because price fell below the stop-loss.
	mtxStopLoss = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "grid_stop_loss_liquidations_total",
			Help: "Sell orders liquidated by stop-loss",
		},
	)

	mtxErrors = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "grid_iteration_errors_total",
			Help: "Failed worker iterations split by kind (transient|unexpected)",
		},
		[]string{"kind"},
	)

	mtxPrice = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "grid_last_price",
			Help: "Last price seen by each worker",
		},
		[]string{"account", "symbol"},
	)
)

func init() {
	prometheus.MustRegister(mtxOrders, mtxFills, mtxStopLoss, mtxErrors, mtxPrice)
}
