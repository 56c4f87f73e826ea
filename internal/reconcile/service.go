// Package reconcile rebuilds holding snapshots from the completed order
// history and sweeps out positions that decayed to nothing.
package reconcile

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"golang.org/x/sync/singleflight"

	"github.com/phutaneomkar/Coin-sub000/internal/storage"
)

// Store is the slice of the ledger store reconciliation reads and writes.
type Store interface {
	CompletedBuyAggregates(ctx context.Context) ([]storage.BuyAggregate, error)
	HoldingQuantity(ctx context.Context, userID uuid.UUID, coinID string) (decimal.Decimal, error)
	UpsertHoldingSnapshot(ctx context.Context, holding storage.Holding) error
	ListNonPositiveHoldings(ctx context.Context) ([]storage.Holding, error)
	DeleteHolding(ctx context.Context, userID uuid.UUID, coinID string) error
}

// Report summarizes one reconciliation pass.
type Report struct {
	Synced      int      `json:"synced"`
	TotalOrders int      `json:"total_orders"`
	Errors      []string `json:"errors,omitempty"`
}

// CleanupReport summarizes one cleanup sweep.
type CleanupReport struct {
	Cleaned int      `json:"cleaned"`
	Total   int      `json:"total"`
	Errors  []string `json:"errors,omitempty"`
}

type Service struct {
	store  Store
	logger *slog.Logger
	group  singleflight.Group
}

func NewService(store Store, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{store: store, logger: logger}
}

// Reconcile recomputes each user's holdings from the completed buy
// history and writes the positions that drifted. Concurrent calls share a
// single underlying pass through singleflight, so an admin hammering the
// endpoint costs one database walk. Sells are intentionally excluded from
// the aggregation: the snapshot is the cumulative acquired position.
func (s *Service) Reconcile(ctx context.Context) (Report, error) {
	v, err, _ := s.group.Do("reconcile", func() (any, error) {
		return s.reconcile(ctx)
	})
	if err != nil {
		return Report{}, err
	}
	return v.(Report), nil
}

func (s *Service) reconcile(ctx context.Context) (Report, error) {
	start := time.Now()
	var report Report

	aggregates, err := s.store.CompletedBuyAggregates(ctx)
	if err != nil {
		return report, fmt.Errorf("aggregate completed buys: %w", err)
	}

	for _, agg := range aggregates {
		if ctx.Err() != nil {
			return report, ctx.Err()
		}
		report.TotalOrders += agg.OrderCount

		if agg.Quantity.LessThanOrEqual(decimal.Zero) {
			continue
		}

		current, err := s.store.HoldingQuantity(ctx, agg.UserID, agg.CoinID)
		if err != nil {
			report.Errors = append(report.Errors, fmt.Sprintf("%s/%s: read: %v", agg.UserID, agg.CoinID, err))
			continue
		}
		if current.Sub(agg.Quantity).Abs().LessThanOrEqual(storage.QuantityEpsilon) {
			continue
		}

		holding := storage.Holding{
			UserID:          agg.UserID,
			CoinID:          agg.CoinID,
			CoinSymbol:      agg.CoinSymbol,
			Quantity:        agg.Quantity,
			AverageBuyPrice: agg.TotalAmount.Div(agg.Quantity),
			LastUpdated:     time.Now().UTC(),
		}
		if err := s.store.UpsertHoldingSnapshot(ctx, holding); err != nil {
			report.Errors = append(report.Errors, fmt.Sprintf("%s/%s: write: %v", agg.UserID, agg.CoinID, err))
			continue
		}
		report.Synced++
	}

	s.logger.Info("reconciliation complete",
		"synced", report.Synced,
		"total_orders", report.TotalOrders,
		"errors", len(report.Errors),
		"duration", time.Since(start).String())
	return report, nil
}

// Cleanup deletes holdings whose stored quantity is zero or negative.
// A delete that fails on permissions is retried by the store through the
// elevated pool; a position that still cannot be removed is reported and
// left for the next sweep.
func (s *Service) Cleanup(ctx context.Context) (CleanupReport, error) {
	v, err, _ := s.group.Do("cleanup", func() (any, error) {
		return s.cleanup(ctx)
	})
	if err != nil {
		return CleanupReport{}, err
	}
	return v.(CleanupReport), nil
}

func (s *Service) cleanup(ctx context.Context) (CleanupReport, error) {
	var report CleanupReport

	holdings, err := s.store.ListNonPositiveHoldings(ctx)
	if err != nil {
		return report, fmt.Errorf("list stale holdings: %w", err)
	}
	report.Total = len(holdings)

	for _, h := range holdings {
		if ctx.Err() != nil {
			return report, ctx.Err()
		}
		if err := s.store.DeleteHolding(ctx, h.UserID, h.CoinID); err != nil {
			if errors.Is(err, storage.ErrPermissionDenied) {
				s.logger.Warn("holding delete denied", "user_id", h.UserID, "coin_id", h.CoinID)
			}
			report.Errors = append(report.Errors, fmt.Sprintf("%s/%s: %v", h.UserID, h.CoinID, err))
			continue
		}
		report.Cleaned++
	}

	if report.Total > 0 {
		s.logger.Info("holding cleanup complete", "cleaned", report.Cleaned, "total", report.Total)
	}
	return report, nil
}
