package metrics

import "expvar"

// 订单同步
var (
	ReconcileRuns   = expvar.NewInt("reconcile_runs")
	ReconcileErrors = expvar.NewInt("reconcile_errors")
	OrdersCreated   = expvar.NewInt("orders_created")
	OrdersTaken     = expvar.NewInt("orders_taken")
	RemoteFailures  = expvar.NewInt("remote_failures")
)

// relay 连接
var (
	RelayConnects   = expvar.NewInt("relay_connects")
	RelayReconnects = expvar.NewInt("relay_reconnects")
	FramesReceived  = expvar.NewInt("relay_frames_received")
	FramesDropped   = expvar.NewInt("relay_frames_dropped")
)
