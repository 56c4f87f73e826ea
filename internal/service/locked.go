package service

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/phutaneomkar/Coin-sub000/internal/storage"
)

// LockedStore is the read surface the locked calculator needs.
type LockedStore interface {
	GetBalance(ctx context.Context, userID uuid.UUID) (storage.Balance, error)
	GetHolding(ctx context.Context, userID uuid.UUID, coinID string) (storage.Holding, error)
	ListOpenOrdersForUser(ctx context.Context, userID uuid.UUID) ([]storage.Order, error)
}

// Calculator derives spendable funds from open orders instead of reserved
// columns. Nothing is escrowed at placement; a pending order locks funds
// only in the sense that this calculator subtracts its worst-case cost
// from what later orders may spend.
type Calculator struct {
	store   LockedStore
	feeRate decimal.Decimal
}

func NewCalculator(store LockedStore, feeRate decimal.Decimal) *Calculator {
	return &Calculator{store: store, feeRate: feeRate}
}

// AvailableBalance is the stored balance minus the fee-inclusive cost of
// every open buy order, clamped at zero. referencePrice prices open buys
// that carry no limit (a market order mid-flight).
func (c *Calculator) AvailableBalance(ctx context.Context, userID uuid.UUID, referencePrice decimal.Decimal) (decimal.Decimal, error) {
	balance, err := c.store.GetBalance(ctx, userID)
	if err != nil {
		return decimal.Zero, fmt.Errorf("get balance: %w", err)
	}
	open, err := c.store.ListOpenOrdersForUser(ctx, userID)
	if err != nil {
		return decimal.Zero, fmt.Errorf("list open orders: %w", err)
	}

	locked := decimal.Zero
	feeMultiplier := decimal.NewFromInt(1).Add(c.feeRate)
	for _, order := range open {
		if order.Side != storage.SideBuy {
			continue
		}
		price := referencePrice
		if order.LimitPrice != nil {
			price = *order.LimitPrice
		}
		if price.LessThanOrEqual(decimal.Zero) {
			continue
		}
		locked = locked.Add(price.Mul(order.Quantity).Mul(feeMultiplier))
	}

	available := balance.Amount.Sub(locked)
	if available.IsNegative() {
		return decimal.Zero, nil
	}
	return available, nil
}

// AvailableHoldings is the stored position minus the quantity committed
// to open sell orders in the same coin, clamped at zero. A user with no
// position gets zero, not an error.
func (c *Calculator) AvailableHoldings(ctx context.Context, userID uuid.UUID, coinID string) (decimal.Decimal, error) {
	coinID = storage.NormalizeCoinID(coinID)

	holding, err := c.store.GetHolding(ctx, userID, coinID)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return decimal.Zero, nil
		}
		return decimal.Zero, fmt.Errorf("get holding: %w", err)
	}
	open, err := c.store.ListOpenOrdersForUser(ctx, userID)
	if err != nil {
		return decimal.Zero, fmt.Errorf("list open orders: %w", err)
	}

	committed := decimal.Zero
	for _, order := range open {
		if order.Side != storage.SideSell || order.CoinID != coinID {
			continue
		}
		committed = committed.Add(order.Quantity)
	}

	available := holding.Quantity.Sub(committed)
	if available.IsNegative() {
		return decimal.Zero, nil
	}
	return available, nil
}
