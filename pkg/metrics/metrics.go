// Package metrics holds the prometheus collectors shared by the trader.
//
// Served by the health module at /metrics.
package metrics

import "github.com/prometheus/client_golang/prometheus"

var (
	TicksReceived = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "kis_feed_frames_total",
			Help: "Feed frames received, by kind (data|pingpong|ack|unknown)",
		},
		[]string{"kind"},
	)

	TicksDropped = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "kis_feed_ticks_dropped_total",
			Help: "Data frames dropped before reaching a monitor",
		},
		[]string{"reason"}, // unsubscribed | no_monitor | inbox_full
	)

	FeedReconnects = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "kis_feed_reconnects_total",
			Help: "Successful feed reconnects",
		},
	)

	Orders = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "kis_orders_total",
			Help: "Order submissions by side and result",
		},
		[]string{"side", "result"},
	)

	OrderCancels = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "kis_order_cancels_total",
			Help: "Cancels issued for unfilled remainders",
		},
	)

	Exits = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "kis_exits_total",
			Help: "Exit attempts by reason and result",
		},
		[]string{"reason", "result"},
	)

	LockTimeouts = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "kis_exit_lock_timeouts_total",
			Help: "Exit triggers dropped because the instrument lock was busy",
		},
	)

	OpenSessions = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "kis_open_sessions",
			Help: "Sessions currently open",
		},
	)

	ActiveMonitors = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "kis_active_monitors",
			Help: "Per-position monitors currently running",
		},
	)
)

func init() {
	prometheus.MustRegister(
		TicksReceived,
		TicksDropped,
		FeedReconnects,
		Orders,
		OrderCancels,
		Exits,
		LockTimeouts,
		OpenSessions,
		ActiveMonitors,
	)
}
