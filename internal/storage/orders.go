package storage

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/shopspring/decimal"
)

func (s *Store) CreateOrder(ctx context.Context, order Order) (*Order, error) {
	var limitPrice string
	limitNull := true
	if order.LimitPrice != nil {
		limitPrice = order.LimitPrice.String()
		limitNull = false
	}

	id := order.ID
	if id == uuid.Nil {
		id = uuid.New()
	}

	row := s.pool.QueryRow(ctx, `
		INSERT INTO orders (id, user_id, coin_id, coin_symbol, side, mode, status, client_order_id, quantity, limit_price, total_amount)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
		RETURNING id, user_id, coin_id, coin_symbol, side, mode, status, client_order_id, quantity::text, limit_price::text, total_amount::text, created_at, completed_at
	`, id, order.UserID, NormalizeCoinID(order.CoinID), NormalizeSymbol(order.CoinSymbol),
		order.Side, order.Mode, order.Status, order.ClientOrderID, order.Quantity.String(),
		nullableString(limitPrice, limitNull), order.TotalAmount.String())

	created, err := scanOrderRow(row)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23505" && order.ClientOrderID != nil {
			return s.GetOrderByClientOrderID(ctx, order.UserID, *order.ClientOrderID)
		}
		return nil, err
	}
	return created, nil
}

// GetOrderByClientOrderID resolves a caller-chosen idempotency key back
// to the order it created.
func (s *Store) GetOrderByClientOrderID(ctx context.Context, userID uuid.UUID, clientOrderID string) (*Order, error) {
	row := s.pool.QueryRow(ctx, `
		SELECT id, user_id, coin_id, coin_symbol, side, mode, status, client_order_id, quantity::text, limit_price::text, total_amount::text, created_at, completed_at
		FROM orders
		WHERE user_id = $1 AND client_order_id = $2
	`, userID, clientOrderID)
	order, err := scanOrderRow(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return order, nil
}

func (s *Store) GetOrderByID(ctx context.Context, orderID uuid.UUID) (*Order, error) {
	row := s.pool.QueryRow(ctx, `
		SELECT id, user_id, coin_id, coin_symbol, side, mode, status, client_order_id, quantity::text, limit_price::text, total_amount::text, created_at, completed_at
		FROM orders
		WHERE id = $1
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

func (s *Store) ListOrders(ctx context.Context, userID uuid.UUID, filter OrderFilter) ([]Order, string, error) {
	limit := clampLimit(filter.Limit)

	query := `
		SELECT id, user_id, coin_id, coin_symbol, side, mode, status, client_order_id, quantity::text, limit_price::text, total_amount::text, created_at, completed_at
		FROM orders
		WHERE user_id = $1
	`
	args := []any{userID}
	idx := 2

	if filter.CoinID != "" {
		query += fmt.Sprintf(" AND coin_id = $%d", idx)
		args = append(args, NormalizeCoinID(filter.CoinID))
		idx++
	}
	if filter.Status != "" {
		query += fmt.Sprintf(" AND status = $%d", idx)
		args = append(args, strings.ToLower(strings.TrimSpace(filter.Status)))
		idx++
	}
	if filter.Cursor != "" {
		ts, id, err := decodeCursor(filter.Cursor)
		if err != nil {
			return nil, "", ErrInvalidCursor
		}
		query += fmt.Sprintf(" AND (created_at, id) > ($%d, $%d)", idx, idx+1)
		args = append(args, ts, id)
		idx += 2
	}

	query += fmt.Sprintf(" ORDER BY created_at, id LIMIT $%d", idx)
	args = append(args, limit+1)

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, "", err
	}
	defer rows.Close()

	orders := make([]Order, 0, limit)
	for rows.Next() {
		order, err := scanOrderRow(rows)
		if err != nil {
			return nil, "", err
		}
		orders = append(orders, *order)
	}
	if rows.Err() != nil {
		return nil, "", rows.Err()
	}

	var nextCursor string
	if len(orders) > limit {
		orders = orders[:limit]
		last := orders[limit-1]
		nextCursor = encodeCursor(last.CreatedAt, last.ID)
	}

	return orders, nextCursor, nil
}

// ListPendingLimitOrders returns every limit order still waiting on its
// trigger price, oldest first. The scanner walks this set each cycle.
func (s *Store) ListPendingLimitOrders(ctx context.Context) ([]Order, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT id, user_id, coin_id, coin_symbol, side, mode, status, client_order_id, quantity::text, limit_price::text, total_amount::text, created_at, completed_at
		FROM orders
		WHERE status = $1 AND mode = $2
		ORDER BY created_at, id
	`, OrderStatusPending, ModeLimit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var orders []Order
	for rows.Next() {
		order, err := scanOrderRow(rows)
		if err != nil {
			return nil, err
		}
		orders = append(orders, *order)
	}
	if rows.Err() != nil {
		return nil, rows.Err()
	}
	return orders, nil
}

// ListOpenOrdersForUser returns the user's pending and processing
// orders. The locked-amount calculator aggregates over these.
func (s *Store) ListOpenOrdersForUser(ctx context.Context, userID uuid.UUID) ([]Order, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT id, user_id, coin_id, coin_symbol, side, mode, status, client_order_id, quantity::text, limit_price::text, total_amount::text, created_at, completed_at
		FROM orders
		WHERE user_id = $1 AND status IN ($2, $3)
		ORDER BY created_at, id
	`, userID, OrderStatusPending, OrderStatusProcessing)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var orders []Order
	for rows.Next() {
		order, err := scanOrderRow(rows)
		if err != nil {
			return nil, err
		}
		orders = append(orders, *order)
	}
	if rows.Err() != nil {
		return nil, rows.Err()
	}
	return orders, nil
}

// ClaimOrder transitions an order from pending to processing. The
// conditional update is the double-execution guard: only one claimer
// wins, and a lost race surfaces as ErrOrderClaimed.
func (s *Store) ClaimOrder(ctx context.Context, orderID uuid.UUID) (*Order, error) {
	row := s.pool.QueryRow(ctx, `
		UPDATE orders
		SET status = $1
		WHERE id = $2 AND status = $3
		RETURNING id, user_id, coin_id, coin_symbol, side, mode, status, client_order_id, quantity::text, limit_price::text, total_amount::text, created_at, completed_at
	`, OrderStatusProcessing, orderID, OrderStatusPending)

	order, err := scanOrderRow(row)
	if err != nil {
		if !errors.Is(err, pgx.ErrNoRows) {
			return nil, err
		}
		var status string
		check := s.pool.QueryRow(ctx, `SELECT status FROM orders WHERE id = $1`, orderID)
		if scanErr := check.Scan(&status); scanErr != nil {
			if errors.Is(scanErr, pgx.ErrNoRows) {
				return nil, ErrNotFound
			}
			return nil, scanErr
		}
		return nil, ErrOrderClaimed
	}
	return order, nil
}

// ReleaseClaim puts a processing order back to pending so the next
// scan cycle can retry it (used when execution fails re-validation).
func (s *Store) ReleaseClaim(ctx context.Context, orderID uuid.UUID) error {
	tag, err := s.pool.Exec(ctx, `
		UPDATE orders
		SET status = $1
		WHERE id = $2 AND status = $3
	`, OrderStatusPending, orderID, OrderStatusProcessing)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// CancelOrder flips a pending order to cancelled. Nothing is reserved
// at placement, so no ledger compensation is needed.
func (s *Store) CancelOrder(ctx context.Context, orderID, userID uuid.UUID) (*Order, error) {
	row := s.pool.QueryRow(ctx, `
		UPDATE orders
		SET status = $1
		WHERE id = $2 AND user_id = $3 AND status = $4
		RETURNING id, user_id, coin_id, coin_symbol, side, mode, status, client_order_id, quantity::text, limit_price::text, total_amount::text, created_at, completed_at
	`, OrderStatusCancelled, orderID, userID, OrderStatusPending)

	order, err := scanOrderRow(row)
	if err != nil {
		if !errors.Is(err, pgx.ErrNoRows) {
			return nil, err
		}
		var status string
		check := s.pool.QueryRow(ctx, `
			SELECT status FROM orders WHERE id = $1 AND user_id = $2
		`, orderID, userID)
		if scanErr := check.Scan(&status); scanErr != nil {
			if errors.Is(scanErr, pgx.ErrNoRows) {
				return nil, ErrNotFound
			}
			return nil, scanErr
		}
		return nil, ErrNotPending
	}
	return order, nil
}

func scanOrderRow(row pgx.Row) (*Order, error) {
	var order Order
	var limitStr *string
	var qtyStr, totalStr string
	if err := row.Scan(&order.ID, &order.UserID, &order.CoinID, &order.CoinSymbol, &order.Side, &order.Mode, &order.Status, &order.ClientOrderID, &qtyStr, &limitStr, &totalStr, &order.CreatedAt, &order.CompletedAt); err != nil {
		return nil, err
	}

	if limitStr != nil && *limitStr != "" {
		val, err := decimal.NewFromString(*limitStr)
		if err != nil {
			return nil, fmt.Errorf("parse limit price: %w", err)
		}
		order.LimitPrice = &val
	}

	qty, err := decimal.NewFromString(qtyStr)
	if err != nil {
		return nil, fmt.Errorf("parse quantity: %w", err)
	}
	total, err := decimal.NewFromString(totalStr)
	if err != nil {
		return nil, fmt.Errorf("parse total amount: %w", err)
	}
	order.Quantity = qty
	order.TotalAmount = total

	return &order, nil
}

func nullableString(value string, null bool) any {
	if null {
		return nil
	}
	return value
}

func clampLimit(limit int) int {
	if limit <= 0 {
		return 50
	}
	if limit > 100 {
		return 100
	}
	return limit
}

func encodeCursor(ts time.Time, id uuid.UUID) string {
	payload := fmt.Sprintf("%s|%s", ts.UTC().Format(time.RFC3339Nano), id.String())
	return base64.StdEncoding.EncodeToString([]byte(payload))
}

func decodeCursor(cursor string) (time.Time, uuid.UUID, error) {
	decoded, err := base64.StdEncoding.DecodeString(cursor)
	if err != nil {
		return time.Time{}, uuid.Nil, ErrInvalidCursor
	}
	parts := strings.SplitN(string(decoded), "|", 2)
	if len(parts) != 2 {
		return time.Time{}, uuid.Nil, ErrInvalidCursor
	}
	ts, err := time.Parse(time.RFC3339Nano, parts[0])
	if err != nil {
		return time.Time{}, uuid.Nil, ErrInvalidCursor
	}
	id, err := uuid.Parse(parts[1])
	if err != nil {
		return time.Time{}, uuid.Nil, ErrInvalidCursor
	}
	return ts, id, nil
}
