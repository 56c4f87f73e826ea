package service

import "github.com/prometheus/client_golang/prometheus"

type Metrics struct {
	OrderSubmissions       *prometheus.CounterVec
	OrderSubmissionLatency *prometheus.HistogramVec
	OrderCancellations     *prometheus.CounterVec
}

func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		OrderSubmissions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "trading_order_submissions_total",
			Help: "Order placements by outcome.",
		}, []string{"status"}),
		OrderSubmissionLatency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "trading_order_submission_duration_seconds",
			Help:    "Latency of order placement by outcome.",
			Buckets: prometheus.DefBuckets,
		}, []string{"status"}),
		OrderCancellations: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "trading_order_cancellations_total",
			Help: "Order cancellations by outcome.",
		}, []string{"status"}),
	}
	if reg != nil {
		reg.MustRegister(m.OrderSubmissions, m.OrderSubmissionLatency, m.OrderCancellations)
	}
	return m
}
