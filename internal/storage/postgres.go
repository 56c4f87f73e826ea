package storage

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"
)

var (
	ErrNotFound             = errors.New("not found")
	ErrNotPending           = errors.New("order not pending")
	ErrOrderClaimed         = errors.New("order claimed elsewhere")
	ErrInsufficientBalance  = errors.New("insufficient balance")
	ErrInsufficientHoldings = errors.New("insufficient holdings")
	ErrInvalidCursor        = errors.New("invalid cursor")
	ErrPermissionDenied     = errors.New("permission denied")
)

// QuantityEpsilon is the dust threshold: a holding whose remaining
// quantity falls at or below it is deleted rather than kept at zero.
var QuantityEpsilon = decimal.New(1, -8)

// Store wraps the ledger tables. adminPool, when configured, is a
// second pool connected under an elevated role; writes that fail with
// a privilege error are retried through it once (cleanup path).
type Store struct {
	pool      *pgxpool.Pool
	adminPool *pgxpool.Pool
	logger    *slog.Logger
}

func New(pool *pgxpool.Pool, logger *slog.Logger) *Store {
	if logger == nil {
		logger = slog.Default()
	}
	return &Store{pool: pool, logger: logger}
}

// WithAdminPool attaches the elevated-privilege pool.
func (s *Store) WithAdminPool(pool *pgxpool.Pool) *Store {
	s.adminPool = pool
	return s
}

func (s *Store) GetBalance(ctx context.Context, userID uuid.UUID) (Balance, error) {
	var bal Balance
	var amountStr string
	row := s.pool.QueryRow(ctx, `
		SELECT user_id, amount::text, updated_at
		FROM balances
		WHERE user_id = $1
	`, userID)

	if err := row.Scan(&bal.UserID, &amountStr, &bal.UpdatedAt); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Balance{UserID: userID, Amount: decimal.Zero}, nil
		}
		return Balance{}, err
	}

	amount, err := decimal.NewFromString(amountStr)
	if err != nil {
		return Balance{}, fmt.Errorf("parse balance amount: %w", err)
	}
	bal.Amount = amount
	return bal, nil
}

func (s *Store) CreditBalance(ctx context.Context, userID uuid.UUID, amount decimal.Decimal) error {
	if amount.LessThanOrEqual(decimal.Zero) {
		return fmt.Errorf("amount must be positive")
	}
	tx, err := s.pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return err
	}
	committed := false
	defer func() {
		if !committed {
			_ = tx.Rollback(ctx)
		}
	}()

	bal, err := getOrCreateBalanceForUpdate(ctx, tx, userID)
	if err != nil {
		return err
	}
	now := time.Now().UTC()
	if _, err := tx.Exec(ctx, `
		UPDATE balances SET amount = $1, updated_at = $2 WHERE user_id = $3
	`, bal.Amount.Add(amount).String(), now, userID); err != nil {
		return err
	}
	if err := tx.Commit(ctx); err != nil {
		return err
	}
	committed = true
	return nil
}

func (s *Store) GetHolding(ctx context.Context, userID uuid.UUID, coinID string) (Holding, error) {
	coinID = NormalizeCoinID(coinID)
	row := s.pool.QueryRow(ctx, `
		SELECT user_id, coin_id, coin_symbol, quantity::text, average_buy_price::text, last_updated
		FROM holdings
		WHERE user_id = $1 AND coin_id = $2
	`, userID, coinID)
	holding, err := scanHoldingRow(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Holding{}, ErrNotFound
		}
		return Holding{}, err
	}
	return *holding, nil
}

func (s *Store) ListHoldings(ctx context.Context, userID uuid.UUID) ([]Holding, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT user_id, coin_id, coin_symbol, quantity::text, average_buy_price::text, last_updated
		FROM holdings
		WHERE user_id = $1
		ORDER BY coin_id
	`, userID)
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

// ListTransactions returns the audit trail for a user, newest first.
func (s *Store) ListTransactions(ctx context.Context, userID uuid.UUID, limit int) ([]Transaction, error) {
	if limit <= 0 || limit > 200 {
		limit = 50
	}
	rows, err := s.pool.Query(ctx, `
		SELECT t.id, t.order_id, t.type, t.coin_id, t.quantity::text, t.price_per_unit::text, t.total_amount::text, t.timestamp
		FROM transactions t
		JOIN orders o ON o.id = t.order_id
		WHERE o.user_id = $1
		ORDER BY t.timestamp DESC
		LIMIT $2
	`, userID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var txs []Transaction
	for rows.Next() {
		var txn Transaction
		var qtyStr, priceStr, totalStr string
		if err := rows.Scan(&txn.ID, &txn.OrderID, &txn.Type, &txn.CoinID, &qtyStr, &priceStr, &totalStr, &txn.Timestamp); err != nil {
			return nil, err
		}
		if txn.Quantity, err = decimal.NewFromString(qtyStr); err != nil {
			return nil, fmt.Errorf("parse transaction quantity: %w", err)
		}
		if txn.PricePerUnit, err = decimal.NewFromString(priceStr); err != nil {
			return nil, fmt.Errorf("parse transaction price: %w", err)
		}
		if txn.TotalAmount, err = decimal.NewFromString(totalStr); err != nil {
			return nil, fmt.Errorf("parse transaction total: %w", err)
		}
		txs = append(txs, txn)
	}
	if rows.Err() != nil {
		return nil, rows.Err()
	}
	return txs, nil
}

// NormalizeCoinID lowercases and trims a coin identifier. Every write
// path goes through this so reads are always exact-match.
func NormalizeCoinID(coinID string) string {
	return strings.ToLower(strings.TrimSpace(coinID))
}

// NormalizeSymbol uppercases and trims a ticker symbol.
func NormalizeSymbol(symbol string) string {
	return strings.ToUpper(strings.TrimSpace(symbol))
}

func getOrCreateBalanceForUpdate(ctx context.Context, tx pgx.Tx, userID uuid.UUID) (*Balance, error) {
	bal, err := getBalanceForUpdate(ctx, tx, userID)
	if err == nil {
		return bal, nil
	}
	if !errors.Is(err, pgx.ErrNoRows) {
		return nil, err
	}

	_, err = tx.Exec(ctx, `
		INSERT INTO balances (user_id, amount)
		VALUES ($1, 0)
		ON CONFLICT (user_id) DO NOTHING
	`, userID)
	if err != nil {
		return nil, err
	}

	return getBalanceForUpdate(ctx, tx, userID)
}

func getBalanceForUpdate(ctx context.Context, tx pgx.Tx, userID uuid.UUID) (*Balance, error) {
	var bal Balance
	var amountStr string
	row := tx.QueryRow(ctx, `
		SELECT user_id, amount::text, updated_at
		FROM balances
		WHERE user_id = $1
		FOR UPDATE
	`, userID)
	if err := row.Scan(&bal.UserID, &amountStr, &bal.UpdatedAt); err != nil {
		return nil, err
	}
	amount, err := decimal.NewFromString(amountStr)
	if err != nil {
		return nil, fmt.Errorf("parse balance amount: %w", err)
	}
	bal.Amount = amount
	return &bal, nil
}

func getHoldingForUpdate(ctx context.Context, tx pgx.Tx, userID uuid.UUID, coinID string) (*Holding, error) {
	row := tx.QueryRow(ctx, `
		SELECT user_id, coin_id, coin_symbol, quantity::text, average_buy_price::text, last_updated
		FROM holdings
		WHERE user_id = $1 AND coin_id = $2
		FOR UPDATE
	`, userID, coinID)
	return scanHoldingRow(row)
}

func scanHoldingRow(row pgx.Row) (*Holding, error) {
	var holding Holding
	var qtyStr, avgStr string
	if err := row.Scan(&holding.UserID, &holding.CoinID, &holding.CoinSymbol, &qtyStr, &avgStr, &holding.LastUpdated); err != nil {
		return nil, err
	}
	qty, err := decimal.NewFromString(qtyStr)
	if err != nil {
		return nil, fmt.Errorf("parse holding quantity: %w", err)
	}
	avg, err := decimal.NewFromString(avgStr)
	if err != nil {
		return nil, fmt.Errorf("parse holding average price: %w", err)
	}
	holding.Quantity = qty
	holding.AverageBuyPrice = avg
	return &holding, nil
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == "23505"
	}
	return false
}

func isPrivilegeError(err error) bool {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == "42501"
	}
	return false
}
