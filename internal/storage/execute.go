package storage

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/shopspring/decimal"
)

type ExecutionRequest struct {
	Order   Order
	Price   decimal.Decimal
	FeeRate decimal.Decimal
}

type ExecutionResult struct {
	Transaction Transaction
	Balance     Balance
	// Holding is the position after the execution, nil when the sell
	// drained it and the row was deleted.
	Holding *Holding
}

// ApplyExecution settles one order against the ledger: balance debit or
// credit, holding upsert or decrement, order completion, and the audit
// transaction, all in a single database transaction. Either every step
// commits or none are visible.
func (s *Store) ApplyExecution(ctx context.Context, req ExecutionRequest) (*ExecutionResult, error) {
	if req.Price.LessThanOrEqual(decimal.Zero) {
		return nil, fmt.Errorf("execution price must be positive")
	}
	if req.Order.Quantity.LessThanOrEqual(decimal.Zero) {
		return nil, fmt.Errorf("order quantity must be positive")
	}
	if req.FeeRate.IsNegative() {
		return nil, fmt.Errorf("fee rate must be non-negative")
	}

	coinID := NormalizeCoinID(req.Order.CoinID)
	symbol := NormalizeSymbol(req.Order.CoinSymbol)
	baseAmount := req.Price.Mul(req.Order.Quantity)

	tx, err := s.pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return nil, err
	}
	committed := false
	defer func() {
		if !committed {
			_ = tx.Rollback(ctx)
		}
	}()

	order, err := getOrderForUpdate(ctx, tx, req.Order.ID)
	if err != nil {
		return nil, err
	}
	if order.Status != OrderStatusPending && order.Status != OrderStatusProcessing {
		return nil, ErrOrderClaimed
	}

	now := time.Now().UTC()
	result := &ExecutionResult{}

	switch order.Side {
	case SideBuy:
		totalCost := baseAmount.Mul(decimal.NewFromInt(1).Add(req.FeeRate))

		bal, err := getOrCreateBalanceForUpdate(ctx, tx, order.UserID)
		if err != nil {
			return nil, err
		}
		if bal.Amount.LessThan(totalCost) {
			return nil, ErrInsufficientBalance
		}
		bal.Amount = bal.Amount.Sub(totalCost)
		if _, err := tx.Exec(ctx, `
			UPDATE balances SET amount = $1, updated_at = $2 WHERE user_id = $3
		`, bal.Amount.String(), now, order.UserID); err != nil {
			return nil, err
		}
		result.Balance = Balance{UserID: order.UserID, Amount: bal.Amount, UpdatedAt: now}

		holding, err := getHoldingForUpdate(ctx, tx, order.UserID, coinID)
		if err != nil && !errors.Is(err, pgx.ErrNoRows) {
			return nil, err
		}
		if holding == nil || errors.Is(err, pgx.ErrNoRows) {
			created := Holding{
				UserID:          order.UserID,
				CoinID:          coinID,
				CoinSymbol:      symbol,
				Quantity:        order.Quantity,
				AverageBuyPrice: req.Price,
				LastUpdated:     now,
			}
			if _, err := tx.Exec(ctx, `
				INSERT INTO holdings (user_id, coin_id, coin_symbol, quantity, average_buy_price, last_updated)
				VALUES ($1, $2, $3, $4, $5, $6)
			`, order.UserID, coinID, symbol, created.Quantity.String(), created.AverageBuyPrice.String(), now); err != nil {
				return nil, err
			}
			result.Holding = &created
		} else {
			newQty := holding.Quantity.Add(order.Quantity)
			newAvg := holding.Quantity.Mul(holding.AverageBuyPrice).
				Add(order.Quantity.Mul(req.Price)).
				Div(newQty)
			if _, err := tx.Exec(ctx, `
				UPDATE holdings
				SET quantity = $1, average_buy_price = $2, last_updated = $3
				WHERE user_id = $4 AND coin_id = $5
			`, newQty.String(), newAvg.String(), now, order.UserID, coinID); err != nil {
				return nil, err
			}
			holding.Quantity = newQty
			holding.AverageBuyPrice = newAvg
			holding.LastUpdated = now
			result.Holding = holding
		}

	case SideSell:
		holding, err := getHoldingForUpdate(ctx, tx, order.UserID, coinID)
		if err != nil {
			if errors.Is(err, pgx.ErrNoRows) {
				return nil, ErrInsufficientHoldings
			}
			return nil, err
		}
		if holding.Quantity.LessThan(order.Quantity) {
			return nil, ErrInsufficientHoldings
		}

		proceeds := baseAmount.Mul(decimal.NewFromInt(1).Sub(req.FeeRate))
		bal, err := getOrCreateBalanceForUpdate(ctx, tx, order.UserID)
		if err != nil {
			return nil, err
		}
		bal.Amount = bal.Amount.Add(proceeds)
		if _, err := tx.Exec(ctx, `
			UPDATE balances SET amount = $1, updated_at = $2 WHERE user_id = $3
		`, bal.Amount.String(), now, order.UserID); err != nil {
			return nil, err
		}
		result.Balance = Balance{UserID: order.UserID, Amount: bal.Amount, UpdatedAt: now}

		remainder := holding.Quantity.Sub(order.Quantity)
		if remainder.LessThanOrEqual(QuantityEpsilon) {
			if _, err := tx.Exec(ctx, `
				DELETE FROM holdings WHERE user_id = $1 AND coin_id = $2
			`, order.UserID, coinID); err != nil {
				return nil, err
			}
			result.Holding = nil
		} else {
			if _, err := tx.Exec(ctx, `
				UPDATE holdings
				SET quantity = $1, last_updated = $2
				WHERE user_id = $3 AND coin_id = $4
			`, remainder.String(), now, order.UserID, coinID); err != nil {
				return nil, err
			}
			holding.Quantity = remainder
			holding.LastUpdated = now
			result.Holding = holding
		}

	default:
		return nil, fmt.Errorf("invalid order side %q", order.Side)
	}

	if _, err := tx.Exec(ctx, `
		UPDATE orders
		SET status = $1, total_amount = $2, completed_at = $3
		WHERE id = $4
	`, OrderStatusCompleted, baseAmount.String(), now, order.ID); err != nil {
		return nil, err
	}

	txnID := uuid.New()
	if _, err := tx.Exec(ctx, `
		INSERT INTO transactions (id, order_id, type, coin_id, quantity, price_per_unit, total_amount, timestamp)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
	`, txnID, order.ID, order.Side, coinID, order.Quantity.String(), req.Price.String(), baseAmount.String(), now); err != nil {
		if isUniqueViolation(err) {
			return nil, ErrOrderClaimed
		}
		return nil, err
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, err
	}
	committed = true

	result.Transaction = Transaction{
		ID:           txnID,
		OrderID:      order.ID,
		Type:         order.Side,
		CoinID:       coinID,
		Quantity:     order.Quantity,
		PricePerUnit: req.Price,
		TotalAmount:  baseAmount,
		Timestamp:    now,
	}
	return result, nil
}

func getOrderForUpdate(ctx context.Context, tx pgx.Tx, orderID uuid.UUID) (*Order, error) {
	row := tx.QueryRow(ctx, `
		SELECT id, user_id, coin_id, coin_symbol, side, mode, status, client_order_id, quantity::text, limit_price::text, total_amount::text, created_at, completed_at
		FROM orders
		WHERE id = $1
		FOR UPDATE
	`, orderID)
	order, err := scanOrderRow(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return order, nil
}
