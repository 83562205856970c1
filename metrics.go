package pomelo

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	metricOps = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "pomelo_operations_total",
			Help: "Database operations by type and result.",
		},
		[]string{"op", "result"},
	)

	metricServerRequests = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "pomelo_server_requests_total",
			Help: "Remote relay requests by operation and result.",
		},
		[]string{"op", "result"},
	)

	metricServerConnections = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "pomelo_server_connections",
			Help: "Currently open relay connections.",
		},
	)
)

func observeOp(op string, err error) {
	result := "ok"
	if err != nil {
		result = "error"
	}
	metricOps.WithLabelValues(op, result).Inc()
}

func observeServerRequest(op string, err error) {
	result := "ok"
	if err != nil {
		result = "error"
	}
	metricServerRequests.WithLabelValues(op, result).Inc()
}
