// Package scanner walks pending limit orders and fires the ones whose
// trigger condition is met against the current market price.
package scanner

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/shopspring/decimal"

	"github.com/phutaneomkar/Coin-sub000/internal/pricefeed"
	"github.com/phutaneomkar/Coin-sub000/internal/storage"
)

// OrderLister is the slice of the order store the scanner reads from.
type OrderLister interface {
	ListPendingLimitOrders(ctx context.Context) ([]storage.Order, error)
}

// Executor fills a triggered order at the given market price.
type Executor interface {
	Execute(ctx context.Context, order storage.Order, price decimal.Decimal) error
}

// Report summarizes one scan pass.
type Report struct {
	Checked     int      `json:"checked"`
	Executed    int      `json:"executed"`
	Unavailable int      `json:"unavailable,omitempty"`
	Errors      []string `json:"errors,omitempty"`
}

// Degraded reports whether the pass hit feed outages or failures without
// completing a single fill. The scheduler backs off on degraded passes.
func (r Report) Degraded() bool {
	return r.Executed == 0 && (r.Unavailable > 0 || len(r.Errors) > 0)
}

type Scanner struct {
	orders   OrderLister
	feed     pricefeed.Feed
	executor Executor
	logger   *slog.Logger
	metrics  *Metrics
}

func New(orders OrderLister, feed pricefeed.Feed, executor Executor, logger *slog.Logger, metrics *Metrics) *Scanner {
	if logger == nil {
		logger = slog.Default()
	}
	return &Scanner{orders: orders, feed: feed, executor: executor, logger: logger, metrics: metrics}
}

// Scan lists every pending limit order, checks its trigger against a fresh
// quote, and executes the ones that fire. A failure on one order is
// recorded in the report and never aborts the rest of the batch. The
// returned error is non-nil only when the order list itself cannot be
// fetched.
func (s *Scanner) Scan(ctx context.Context) (Report, error) {
	var report Report

	orders, err := s.orders.ListPendingLimitOrders(ctx)
	if err != nil {
		return report, fmt.Errorf("list pending limit orders: %w", err)
	}

	for _, order := range orders {
		if ctx.Err() != nil {
			return report, ctx.Err()
		}
		report.Checked++

		quote, err := s.feed.GetQuote(ctx, order.CoinSymbol)
		if err != nil {
			if s.metrics != nil {
				s.metrics.QuoteFailures.Inc()
			}
			if errors.Is(err, pricefeed.ErrUnavailable) {
				report.Unavailable++
				s.logger.Debug("quote unavailable, skipping order", "order_id", order.ID, "symbol", order.CoinSymbol)
				continue
			}
			report.Errors = append(report.Errors, fmt.Sprintf("order %s: quote: %v", order.ID, err))
			continue
		}

		if !ShouldTrigger(order, quote.Price) {
			continue
		}

		if err := s.executor.Execute(ctx, order, quote.Price); err != nil {
			if errors.Is(err, storage.ErrOrderClaimed) {
				// Another worker got there first; nothing to report.
				continue
			}
			report.Errors = append(report.Errors, fmt.Sprintf("order %s: %v", order.ID, err))
			if s.metrics != nil {
				s.metrics.ExecutionErrors.Inc()
			}
			continue
		}

		report.Executed++
		if s.metrics != nil {
			s.metrics.OrdersExecuted.Inc()
		}
		s.logger.Info("limit order executed",
			"order_id", order.ID,
			"user_id", order.UserID,
			"symbol", order.CoinSymbol,
			"side", order.Side,
			"price", quote.Price.String())
	}

	if s.metrics != nil {
		s.metrics.OrdersScanned.Add(float64(report.Checked))
	}
	return report, nil
}

// ShouldTrigger reports whether a pending limit order fires at the given
// market price. Buys fire when the market is at or below the limit, sells
// when it is at or above.
func ShouldTrigger(order storage.Order, price decimal.Decimal) bool {
	if order.LimitPrice == nil {
		return false
	}
	switch order.Side {
	case storage.SideBuy:
		return price.LessThanOrEqual(*order.LimitPrice)
	case storage.SideSell:
		return price.GreaterThanOrEqual(*order.LimitPrice)
	default:
		return false
	}
}
