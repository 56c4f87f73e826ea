package storage

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

const (
	SideBuy  = "buy"
	SideSell = "sell"

	ModeMarket = "market"
	ModeLimit  = "limit"

	// pending -> processing -> completed, or pending -> cancelled.
	// processing is the claim window while an execution is in flight;
	// completed and cancelled are terminal.
	OrderStatusPending    = "pending"
	OrderStatusProcessing = "processing"
	OrderStatusCompleted  = "completed"
	OrderStatusCancelled  = "cancelled"
)

// Balance is a user's cash balance. amount never goes negative after a
// committed mutation.
type Balance struct {
	UserID    uuid.UUID
	Amount    decimal.Decimal
	UpdatedAt time.Time
}

// Holding is a user's position in one coin. Rows only exist with
// quantity > 0; a position drained to zero is deleted.
type Holding struct {
	UserID          uuid.UUID
	CoinID          string
	CoinSymbol      string
	Quantity        decimal.Decimal
	AverageBuyPrice decimal.Decimal
	LastUpdated     time.Time
}

type Order struct {
	ID         uuid.UUID
	UserID     uuid.UUID
	CoinID     string
	CoinSymbol string
	Side       string
	Mode       string
	Status     string
	// ClientOrderID is the caller-chosen idempotency key, unique per
	// user when set.
	ClientOrderID *string
	Quantity      decimal.Decimal
	LimitPrice    *decimal.Decimal
	TotalAmount   decimal.Decimal
	CreatedAt     time.Time
	CompletedAt   *time.Time
}

// Transaction is the append-only audit record for one execution. Never
// updated or deleted.
type Transaction struct {
	ID           uuid.UUID
	OrderID      uuid.UUID
	Type         string
	CoinID       string
	Quantity     decimal.Decimal
	PricePerUnit decimal.Decimal
	TotalAmount  decimal.Decimal
	Timestamp    time.Time
}

type OrderFilter struct {
	CoinID string
	Status string
	Limit  int
	Cursor string
}
