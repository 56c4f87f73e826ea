package scanner

import "github.com/prometheus/client_golang/prometheus"

type Metrics struct {
	OrdersScanned   prometheus.Counter
	OrdersExecuted  prometheus.Counter
	ExecutionErrors prometheus.Counter
	QuoteFailures   prometheus.Counter
	ScanDuration    prometheus.Histogram
}

func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		OrdersScanned: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "scanner_orders_scanned_total",
			Help: "Pending limit orders examined across all scan passes.",
		}),
		OrdersExecuted: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "scanner_orders_executed_total",
			Help: "Limit orders filled by the scanner.",
		}),
		ExecutionErrors: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "scanner_execution_errors_total",
			Help: "Orders that triggered but failed to execute.",
		}),
		QuoteFailures: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "scanner_quote_failures_total",
			Help: "Quote lookups that errored or came back unavailable.",
		}),
		ScanDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "scanner_scan_duration_seconds",
			Help:    "Wall time of a full scan pass.",
			Buckets: prometheus.DefBuckets,
		}),
	}
	if reg != nil {
		reg.MustRegister(m.OrdersScanned, m.OrdersExecuted, m.ExecutionErrors, m.QuoteFailures, m.ScanDuration)
	}
	return m
}
