package storage

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// BuyAggregate is one (user, coin) slice of the completed buy history:
// total quantity bought and total amount spent.
type BuyAggregate struct {
	UserID      uuid.UUID
	CoinID      string
	CoinSymbol  string
	Quantity    decimal.Decimal
	TotalAmount decimal.Decimal
	OrderCount  int
}

// CompletedBuyAggregates groups every completed buy order by user and
// coin. Sells are excluded; they already settled against holdings and
// replaying them would double count.
func (s *Store) CompletedBuyAggregates(ctx context.Context) ([]BuyAggregate, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT user_id, coin_id, MAX(coin_symbol), SUM(quantity)::text, SUM(total_amount)::text, COUNT(*)
		FROM orders
		WHERE status = $1 AND side = $2
		GROUP BY user_id, coin_id
		ORDER BY user_id, coin_id
	`, OrderStatusCompleted, SideBuy)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var aggs []BuyAggregate
	for rows.Next() {
		var agg BuyAggregate
		var qtyStr, totalStr string
		if err := rows.Scan(&agg.UserID, &agg.CoinID, &agg.CoinSymbol, &qtyStr, &totalStr, &agg.OrderCount); err != nil {
			return nil, err
		}
		if agg.Quantity, err = decimal.NewFromString(qtyStr); err != nil {
			return nil, fmt.Errorf("parse aggregate quantity: %w", err)
		}
		if agg.TotalAmount, err = decimal.NewFromString(totalStr); err != nil {
			return nil, fmt.Errorf("parse aggregate total: %w", err)
		}
		aggs = append(aggs, agg)
	}
	if rows.Err() != nil {
		return nil, rows.Err()
	}
	return aggs, nil
}

// UpsertHoldingSnapshot overwrites a holding with reconciled values.
func (s *Store) UpsertHoldingSnapshot(ctx context.Context, holding Holding) error {
	coinID := NormalizeCoinID(holding.CoinID)
	symbol := NormalizeSymbol(holding.CoinSymbol)
	now := time.Now().UTC()
	_, err := s.pool.Exec(ctx, `
		INSERT INTO holdings (user_id, coin_id, coin_symbol, quantity, average_buy_price, last_updated)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (user_id, coin_id) DO UPDATE
		SET coin_symbol = EXCLUDED.coin_symbol,
		    quantity = EXCLUDED.quantity,
		    average_buy_price = EXCLUDED.average_buy_price,
		    last_updated = EXCLUDED.last_updated
	`, holding.UserID, coinID, symbol, holding.Quantity.String(), holding.AverageBuyPrice.String(), now)
	return err
}

// ListNonPositiveHoldings finds rows left behind by partial failures in
// the sell path. A healthy ledger returns nothing here.
func (s *Store) ListNonPositiveHoldings(ctx context.Context) ([]Holding, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT user_id, coin_id, coin_symbol, quantity::text, average_buy_price::text, last_updated
		FROM holdings
		WHERE quantity <= 0
		ORDER BY user_id, coin_id
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var holdings []Holding
	for rows.Next() {
		holding, err := scanHoldingRow(rows)
		if err != nil {
			return nil, err
		}
		holdings = append(holdings, *holding)
	}
	if rows.Err() != nil {
		return nil, rows.Err()
	}
	return holdings, nil
}

// DeleteHolding removes a holding by primary key. On a privilege error
// the delete is retried once through the elevated pool; if that pool is
// absent or also denied, ErrPermissionDenied surfaces to the caller.
func (s *Store) DeleteHolding(ctx context.Context, userID uuid.UUID, coinID string) error {
	coinID = NormalizeCoinID(coinID)
	query := `DELETE FROM holdings WHERE user_id = $1 AND coin_id = $2`

	tag, err := s.pool.Exec(ctx, query, userID, coinID)
	if err == nil {
		if tag.RowsAffected() == 0 {
			return ErrNotFound
		}
		return nil
	}
	if !isPrivilegeError(err) {
		return err
	}

	if s.adminPool == nil {
		return fmt.Errorf("%w: %v", ErrPermissionDenied, err)
	}
	s.logger.Warn("holding delete denied, retrying with elevated role", "user_id", userID.String(), "coin_id", coinID)
	tag, err = s.adminPool.Exec(ctx, query, userID, coinID)
	if err != nil {
		if isPrivilegeError(err) {
			return fmt.Errorf("%w: %v", ErrPermissionDenied, err)
		}
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// HoldingQuantity returns the raw stored quantity for one position,
// zero when absent.
func (s *Store) HoldingQuantity(ctx context.Context, userID uuid.UUID, coinID string) (decimal.Decimal, error) {
	holding, err := s.GetHolding(ctx, userID, coinID)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return decimal.Zero, nil
		}
		return decimal.Zero, err
	}
	return holding.Quantity, nil
}
