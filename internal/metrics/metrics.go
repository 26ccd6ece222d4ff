package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

type Metrics struct {
	Requests       *prometheus.CounterVec
	LatencyMS      *prometheus.HistogramVec
	OrdersPlaced   prometheus.Counter
	OrdersRejected *prometheus.CounterVec
	LowStockEvents prometheus.Counter
}

func New() *Metrics {
	requests := prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "storefront",
		Name:      "http_requests_total",
		Help:      "Total number of HTTP requests.",
	}, []string{"handler", "status"})
	latency := prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "storefront",
		Name:      "http_request_duration_ms",
		Help:      "HTTP request latency in milliseconds.",
		Buckets:   []float64{5, 10, 25, 50, 100, 250, 500, 1000, 2500, 5000},
	}, []string{"handler"})
	ordersPlaced := prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "storefront",
		Name:      "orders_placed_total",
		Help:      "Total number of successfully placed orders.",
	})
	ordersRejected := prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "storefront",
		Name:      "orders_rejected_total",
		Help:      "Total number of rejected order placements.",
	}, []string{"reason"})
	lowStock := prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "storefront",
		Name:      "low_stock_events_total",
		Help:      "Total number of low-stock events published.",
	})

	prometheus.MustRegister(requests, latency, ordersPlaced, ordersRejected, lowStock)
	return &Metrics{
		Requests:       requests,
		LatencyMS:      latency,
		OrdersPlaced:   ordersPlaced,
		OrdersRejected: ordersRejected,
		LowStockEvents: lowStock,
	}
}

func Handler() http.Handler {
	return promhttp.Handler()
}
