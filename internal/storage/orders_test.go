package storage

import (
	"context"
	"errors"
	"testing"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

func TestListOrdersPagination(t *testing.T) {
	store, pool := setupStore(t)
	ctx := context.Background()
	userID := uuid.New()
	cleanupUserOrders(t, pool, userID)

	lp := decimal.NewFromInt(40000)
	for i := 0; i < 5; i++ {
		order := Order{
			ID:         uuid.New(),
			UserID:     userID,
			CoinID:     "bitcoin",
			CoinSymbol: "BTC",
			Side:       SideBuy,
			Mode:       ModeLimit,
			Status:     OrderStatusPending,
			Quantity:   decimal.NewFromInt(1),
			LimitPrice: &lp,
		}
		if _, err := store.CreateOrder(ctx, order); err != nil {
			t.Fatalf("CreateOrder %d: %v", i, err)
		}
	}

	first, cursor, err := store.ListOrders(ctx, userID, OrderFilter{Limit: 2})
	if err != nil {
		t.Fatalf("ListOrders page 1: %v", err)
	}
	if len(first) != 2 || cursor == "" {
		t.Fatalf("page 1 = %d orders, cursor %q; want 2 orders and a cursor", len(first), cursor)
	}

	seen := map[uuid.UUID]bool{}
	for _, o := range first {
		seen[o.ID] = true
	}
	for cursor != "" {
		var page []Order
		page, cursor, err = store.ListOrders(ctx, userID, OrderFilter{Limit: 2, Cursor: cursor})
		if err != nil {
			t.Fatalf("ListOrders next page: %v", err)
		}
		for _, o := range page {
			if seen[o.ID] {
				t.Fatalf("order %s returned twice across pages", o.ID)
			}
			seen[o.ID] = true
		}
	}
	if len(seen) != 5 {
		t.Fatalf("collected %d distinct orders, want 5", len(seen))
	}

	if _, _, err := store.ListOrders(ctx, userID, OrderFilter{Cursor: "garbage"}); !errors.Is(err, ErrInvalidCursor) {
		t.Fatalf("garbage cursor = %v, want ErrInvalidCursor", err)
	}
}

func TestListOrdersFilters(t *testing.T) {
	store, pool := setupStore(t)
	ctx := context.Background()
	userID := uuid.New()
	cleanupUserOrders(t, pool, userID)

	lp := decimal.NewFromInt(40000)
	pending := Order{
		ID: uuid.New(), UserID: userID, CoinID: "bitcoin", CoinSymbol: "BTC",
		Side: SideBuy, Mode: ModeLimit, Status: OrderStatusPending,
		Quantity: decimal.NewFromInt(1), LimitPrice: &lp,
	}
	if _, err := store.CreateOrder(ctx, pending); err != nil {
		t.Fatalf("CreateOrder pending: %v", err)
	}
	eth := Order{
		ID: uuid.New(), UserID: userID, CoinID: "ethereum", CoinSymbol: "ETH",
		Side: SideBuy, Mode: ModeLimit, Status: OrderStatusPending,
		Quantity: decimal.NewFromInt(2), LimitPrice: &lp,
	}
	if _, err := store.CreateOrder(ctx, eth); err != nil {
		t.Fatalf("CreateOrder eth: %v", err)
	}
	if _, err := store.CancelOrder(ctx, eth.ID, userID); err != nil {
		t.Fatalf("CancelOrder eth: %v", err)
	}

	byCoin, _, err := store.ListOrders(ctx, userID, OrderFilter{CoinID: "Ethereum "})
	if err != nil {
		t.Fatalf("ListOrders coin filter: %v", err)
	}
	if len(byCoin) != 1 || byCoin[0].ID != eth.ID {
		t.Fatalf("coin filter returned %d orders, want the ethereum one", len(byCoin))
	}

	byStatus, _, err := store.ListOrders(ctx, userID, OrderFilter{Status: "PENDING"})
	if err != nil {
		t.Fatalf("ListOrders status filter: %v", err)
	}
	if len(byStatus) != 1 || byStatus[0].ID != pending.ID {
		t.Fatalf("status filter returned %d orders, want the pending one", len(byStatus))
	}
}

func TestCreateOrderClientOrderIDConflict(t *testing.T) {
	store, pool := setupStore(t)
	ctx := context.Background()
	userID := uuid.New()
	cleanupUserOrders(t, pool, userID)

	key := "dup-key"
	lp := decimal.NewFromInt(40000)
	order := Order{
		ID: uuid.New(), UserID: userID, CoinID: "bitcoin", CoinSymbol: "BTC",
		Side: SideBuy, Mode: ModeLimit, Status: OrderStatusPending,
		ClientOrderID: &key,
		Quantity:      decimal.NewFromInt(1), LimitPrice: &lp,
	}
	first, err := store.CreateOrder(ctx, order)
	if err != nil {
		t.Fatalf("CreateOrder: %v", err)
	}

	dup := order
	dup.ID = uuid.New()
	second, err := store.CreateOrder(ctx, dup)
	if err != nil {
		t.Fatalf("CreateOrder duplicate key: %v", err)
	}
	if second.ID != first.ID {
		t.Fatalf("duplicate key created order %s, want original %s", second.ID, first.ID)
	}

	got, err := store.GetOrderByClientOrderID(ctx, userID, key)
	if err != nil || got.ID != first.ID {
		t.Fatalf("GetOrderByClientOrderID = %v, %v", got, err)
	}
	if _, err := store.GetOrderByClientOrderID(ctx, userID, "missing"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("missing key = %v, want ErrNotFound", err)
	}
}

func TestCompletedBuyAggregates(t *testing.T) {
	store, pool := setupStore(t)
	ctx := context.Background()
	userID := uuid.New()
	seedBalance(t, pool, userID, "1000000")
	cleanupUserOrders(t, pool, userID)

	fee := decimal.RequireFromString("0.001")
	for _, qty := range []int64{1, 2} {
		order := Order{
			ID: uuid.New(), UserID: userID, CoinID: "bitcoin", CoinSymbol: "BTC",
			Side: SideBuy, Mode: ModeMarket, Status: OrderStatusPending,
			Quantity: decimal.NewFromInt(qty),
		}
		created, err := store.CreateOrder(ctx, order)
		if err != nil {
			t.Fatalf("CreateOrder: %v", err)
		}
		claimed, err := store.ClaimOrder(ctx, created.ID)
		if err != nil {
			t.Fatalf("ClaimOrder: %v", err)
		}
		if _, err := store.ApplyExecution(ctx, ExecutionRequest{Order: *claimed, Price: decimal.NewFromInt(100), FeeRate: fee}); err != nil {
			t.Fatalf("ApplyExecution: %v", err)
		}
	}

	aggs, err := store.CompletedBuyAggregates(ctx)
	if err != nil {
		t.Fatalf("CompletedBuyAggregates: %v", err)
	}
	var found *BuyAggregate
	for i := range aggs {
		if aggs[i].UserID == userID && aggs[i].CoinID == "bitcoin" {
			found = &aggs[i]
			break
		}
	}
	if found == nil {
		t.Fatalf("no aggregate for seeded user")
	}
	if !found.Quantity.Equal(decimal.NewFromInt(3)) {
		t.Fatalf("aggregate quantity = %s, want 3", found.Quantity)
	}
	if !found.TotalAmount.Equal(decimal.NewFromInt(300)) {
		t.Fatalf("aggregate total = %s, want 300", found.TotalAmount)
	}
	if found.OrderCount != 2 {
		t.Fatalf("aggregate order count = %d, want 2", found.OrderCount)
	}
}

func TestUpsertAndDeleteHoldingSnapshot(t *testing.T) {
	store, pool := setupStore(t)
	ctx := context.Background()
	userID := uuid.New()
	cleanupUserOrders(t, pool, userID)

	snapshot := Holding{
		UserID:          userID,
		CoinID:          "Bitcoin",
		CoinSymbol:      "btc",
		Quantity:        decimal.RequireFromString("2.5"),
		AverageBuyPrice: decimal.NewFromInt(40000),
	}
	if err := store.UpsertHoldingSnapshot(ctx, snapshot); err != nil {
		t.Fatalf("UpsertHoldingSnapshot: %v", err)
	}

	got, err := store.GetHolding(ctx, userID, "bitcoin")
	if err != nil {
		t.Fatalf("GetHolding: %v", err)
	}
	if got.CoinSymbol != "BTC" || !got.Quantity.Equal(decimal.RequireFromString("2.5")) {
		t.Fatalf("holding = %s/%s, want BTC/2.5", got.CoinSymbol, got.Quantity)
	}

	qty, err := store.HoldingQuantity(ctx, userID, "bitcoin")
	if err != nil || !qty.Equal(decimal.RequireFromString("2.5")) {
		t.Fatalf("HoldingQuantity = %s, %v", qty, err)
	}

	if err := store.DeleteHolding(ctx, userID, "bitcoin"); err != nil {
		t.Fatalf("DeleteHolding: %v", err)
	}
	if err := store.DeleteHolding(ctx, userID, "bitcoin"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("second delete = %v, want ErrNotFound", err)
	}

	// Absent position reads back as zero.
	qty, err = store.HoldingQuantity(ctx, userID, "bitcoin")
	if err != nil || !qty.IsZero() {
		t.Fatalf("HoldingQuantity after delete = %s, %v", qty, err)
	}
}
