// Package executor drives a single order through claim, settlement, and
// event publication.
package executor

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/phutaneomkar/Coin-sub000/internal/storage"
	"github.com/phutaneomkar/Coin-sub000/libs/kafka"
)

// Store is the slice of the ledger store the executor writes through.
type Store interface {
	ClaimOrder(ctx context.Context, orderID uuid.UUID) (*storage.Order, error)
	ReleaseClaim(ctx context.Context, orderID uuid.UUID) error
	ApplyExecution(ctx context.Context, req storage.ExecutionRequest) (*storage.ExecutionResult, error)
}

type Executor struct {
	store      Store
	publisher  kafka.Publisher
	tradeTopic string
	feeRate    decimal.Decimal
	logger     *slog.Logger
}

func New(store Store, publisher kafka.Publisher, tradeTopic string, feeRate decimal.Decimal, logger *slog.Logger) *Executor {
	if logger == nil {
		logger = slog.Default()
	}
	return &Executor{
		store:      store,
		publisher:  publisher,
		tradeTopic: tradeTopic,
		feeRate:    feeRate,
		logger:     logger,
	}
}

// Execute fills one pending order at the given market price. The claim
// moves the order to processing so a concurrent pass cannot fill it
// twice; if settlement then fails for a retryable reason the claim is
// released and the order goes back to pending. ErrOrderClaimed means
// another worker already owns the order and the caller should move on.
func (e *Executor) Execute(ctx context.Context, order storage.Order, price decimal.Decimal) error {
	claimed, err := e.store.ClaimOrder(ctx, order.ID)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return storage.ErrOrderClaimed
		}
		return err
	}

	result, err := e.store.ApplyExecution(ctx, storage.ExecutionRequest{
		Order:   *claimed,
		Price:   price,
		FeeRate: e.feeRate,
	})
	if err != nil {
		if releaseErr := e.releaseClaim(ctx, claimed.ID); releaseErr != nil {
			e.logger.Error("claim release failed, order stuck in processing",
				"order_id", claimed.ID, "error", releaseErr)
		}
		return fmt.Errorf("apply execution: %w", err)
	}

	e.publishTrade(ctx, claimed.UserID, result.Transaction)
	return nil
}

func (e *Executor) releaseClaim(ctx context.Context, orderID uuid.UUID) error {
	// The settlement context may already be cancelled; release with a
	// fresh one so the order does not stay claimed.
	if ctx.Err() != nil {
		ctx = context.WithoutCancel(ctx)
	}
	return e.store.ReleaseClaim(ctx, orderID)
}

func (e *Executor) publishTrade(ctx context.Context, userID uuid.UUID, tx storage.Transaction) {
	if e.publisher == nil {
		return
	}
	env, err := kafka.NewEnvelope(kafka.EventTradeExecuted, 1, tx.OrderID.String())
	if err != nil {
		e.logger.Error("trade event envelope failed", "transaction_id", tx.ID, "error", err)
		return
	}
	event := kafka.TradeEvent{
		Envelope:      env,
		TransactionID: tx.ID.String(),
		OrderID:       tx.OrderID.String(),
		UserID:        userID.String(),
		CoinID:        tx.CoinID,
		Type:          tx.Type,
		Quantity:      tx.Quantity.String(),
		PricePerUnit:  tx.PricePerUnit.String(),
		TotalAmount:   tx.TotalAmount.String(),
	}
	if _, _, err := e.publisher.PublishJSON(ctx, e.tradeTopic, tx.OrderID.String(), event); err != nil {
		// The ledger write already committed; the event is best effort.
		e.logger.Error("trade event publish failed", "transaction_id", tx.ID, "error", err)
	}
}
