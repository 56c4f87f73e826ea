package service

import (
	"context"
	"errors"
	"testing"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/phutaneomkar/Coin-sub000/internal/pricefeed"
	"github.com/phutaneomkar/Coin-sub000/internal/storage"
	"github.com/phutaneomkar/Coin-sub000/libs/kafka"
)

type fakeStore struct {
	balance      storage.Balance
	holdings     map[string]storage.Holding
	openOrders   []storage.Order
	orders       map[uuid.UUID]*storage.Order
	cancelResult *storage.Order
	cancelErr    error
	createErr    error
}

func newFakeStore() *fakeStore {
	return &fakeStore{
		holdings: map[string]storage.Holding{},
		orders:   map[uuid.UUID]*storage.Order{},
	}
}

func (f *fakeStore) CreateOrder(ctx context.Context, order storage.Order) (*storage.Order, error) {
	if f.createErr != nil {
		return nil, f.createErr
	}
	stored := order
	f.orders[order.ID] = &stored
	return &stored, nil
}

func (f *fakeStore) GetOrderByID(ctx context.Context, orderID uuid.UUID) (*storage.Order, error) {
	order, ok := f.orders[orderID]
	if !ok {
		return nil, storage.ErrNotFound
	}
	return order, nil
}

func (f *fakeStore) GetOrderByClientOrderID(ctx context.Context, userID uuid.UUID, clientOrderID string) (*storage.Order, error) {
	for _, order := range f.orders {
		if order.UserID == userID && order.ClientOrderID != nil && *order.ClientOrderID == clientOrderID {
			return order, nil
		}
	}
	return nil, storage.ErrNotFound
}

func (f *fakeStore) ListOrders(ctx context.Context, userID uuid.UUID, filter storage.OrderFilter) ([]storage.Order, string, error) {
	return nil, "", nil
}

func (f *fakeStore) CancelOrder(ctx context.Context, orderID, userID uuid.UUID) (*storage.Order, error) {
	if f.cancelErr != nil {
		return nil, f.cancelErr
	}
	if f.cancelResult != nil {
		return f.cancelResult, nil
	}
	order, ok := f.orders[orderID]
	if !ok || order.UserID != userID {
		return nil, storage.ErrNotFound
	}
	if order.Status != storage.OrderStatusPending {
		return nil, storage.ErrNotPending
	}
	order.Status = storage.OrderStatusCancelled
	return order, nil
}

func (f *fakeStore) GetBalance(ctx context.Context, userID uuid.UUID) (storage.Balance, error) {
	return f.balance, nil
}

func (f *fakeStore) GetHolding(ctx context.Context, userID uuid.UUID, coinID string) (storage.Holding, error) {
	h, ok := f.holdings[coinID]
	if !ok {
		return storage.Holding{}, storage.ErrNotFound
	}
	return h, nil
}

func (f *fakeStore) ListHoldings(ctx context.Context, userID uuid.UUID) ([]storage.Holding, error) {
	out := make([]storage.Holding, 0, len(f.holdings))
	for _, h := range f.holdings {
		out = append(out, h)
	}
	return out, nil
}

func (f *fakeStore) ListTransactions(ctx context.Context, userID uuid.UUID, limit int) ([]storage.Transaction, error) {
	return nil, nil
}

func (f *fakeStore) ListOpenOrdersForUser(ctx context.Context, userID uuid.UUID) ([]storage.Order, error) {
	return f.openOrders, nil
}

type staticFeed struct {
	price decimal.Decimal
	err   error
}

func (f *staticFeed) GetQuote(ctx context.Context, symbol string) (pricefeed.Quote, error) {
	if f.err != nil {
		return pricefeed.Quote{}, f.err
	}
	return pricefeed.Quote{Symbol: symbol, Price: f.price}, nil
}

type recordExecutor struct {
	executed []uuid.UUID
	err      error
	complete func(orderID uuid.UUID)
}

func (r *recordExecutor) Execute(ctx context.Context, order storage.Order, price decimal.Decimal) error {
	if r.err != nil {
		return r.err
	}
	r.executed = append(r.executed, order.ID)
	if r.complete != nil {
		r.complete(order.ID)
	}
	return nil
}

type recordProducer struct {
	topics []string
}

func (r *recordProducer) PublishJSON(ctx context.Context, topic, key string, value any) (int32, int64, error) {
	r.topics = append(r.topics, topic)
	return 0, 1, nil
}

func (r *recordProducer) Close() error { return nil }

var testTopics = Topics{
	OrdersAccepted:  "orders.accepted",
	OrdersCancelled: "orders.cancelled",
	Trades:          "trades",
}

func newService(store *fakeStore, feed pricefeed.Feed, exec OrderExecutor, producer *recordProducer) *TradingService {
	fee := decimal.RequireFromString("0.001")
	locked := NewCalculator(store, fee)
	var pub kafka.Publisher
	if producer != nil {
		pub = producer
	}
	return NewTradingService(store, locked, feed, exec, pub, nil, nil, testTopics, fee)
}

func buyInput(userID uuid.UUID, mode string, qty, limit string) PlaceOrderInput {
	input := PlaceOrderInput{
		UserID:     userID,
		CoinID:     "bitcoin",
		CoinSymbol: "BTC",
		Side:       storage.SideBuy,
		Mode:       mode,
		Quantity:   decimal.RequireFromString(qty),
	}
	if limit != "" {
		lp := decimal.RequireFromString(limit)
		input.LimitPrice = &lp
	}
	return input
}

func TestPlaceLimitOrderStaysPending(t *testing.T) {
	userID := uuid.New()
	store := newFakeStore()
	store.balance = storage.Balance{UserID: userID, Amount: decimal.NewFromInt(100000)}
	producer := &recordProducer{}
	exec := &recordExecutor{}
	svc := newService(store, &staticFeed{price: decimal.NewFromInt(45000)}, exec, producer)

	order, err := svc.PlaceOrder(context.Background(), buyInput(userID, storage.ModeLimit, "1", "40000"))
	if err != nil {
		t.Fatalf("PlaceOrder: %v", err)
	}
	if order.Status != storage.OrderStatusPending {
		t.Fatalf("limit order status = %s, want pending", order.Status)
	}
	if len(exec.executed) != 0 {
		t.Fatal("limit order must not execute synchronously")
	}
	if !order.TotalAmount.Equal(decimal.NewFromInt(40000)) {
		t.Fatalf("total amount = %s, want limit price x quantity", order.TotalAmount)
	}
	if len(producer.topics) != 1 || producer.topics[0] != "orders.accepted" {
		t.Fatalf("expected accepted event, got %v", producer.topics)
	}
}

func TestPlaceMarketOrderExecutesImmediately(t *testing.T) {
	userID := uuid.New()
	store := newFakeStore()
	store.balance = storage.Balance{UserID: userID, Amount: decimal.NewFromInt(100000)}
	exec := &recordExecutor{}
	exec.complete = func(orderID uuid.UUID) {
		store.orders[orderID].Status = storage.OrderStatusCompleted
	}
	svc := newService(store, &staticFeed{price: decimal.NewFromInt(45000)}, exec, nil)

	order, err := svc.PlaceOrder(context.Background(), buyInput(userID, storage.ModeMarket, "1", ""))
	if err != nil {
		t.Fatalf("PlaceOrder: %v", err)
	}
	if len(exec.executed) != 1 {
		t.Fatalf("market order must execute synchronously, executed %v", exec.executed)
	}
	if order.Status != storage.OrderStatusCompleted {
		t.Fatalf("returned order status = %s, want completed", order.Status)
	}
}

func TestFailedMarketExecutionCancelsOrder(t *testing.T) {
	userID := uuid.New()
	store := newFakeStore()
	store.balance = storage.Balance{UserID: userID, Amount: decimal.NewFromInt(100000)}
	producer := &recordProducer{}
	exec := &recordExecutor{err: errors.New("settlement failed")}
	svc := newService(store, &staticFeed{price: decimal.NewFromInt(45000)}, exec, producer)

	_, err := svc.PlaceOrder(context.Background(), buyInput(userID, storage.ModeMarket, "1", ""))
	if err == nil {
		t.Fatal("expected the execution error to surface")
	}

	if len(store.orders) != 1 {
		t.Fatalf("stored %d orders, want 1", len(store.orders))
	}
	for _, order := range store.orders {
		if order.Status != storage.OrderStatusCancelled {
			t.Fatalf("order status = %s, want cancelled", order.Status)
		}
	}
	// Accepted then cancelled; nothing stays open against the balance.
	if len(producer.topics) != 2 || producer.topics[1] != "orders.cancelled" {
		t.Fatalf("published %v, want accepted then cancelled", producer.topics)
	}
}

func TestPlaceOrderIdempotentOnClientOrderID(t *testing.T) {
	userID := uuid.New()
	store := newFakeStore()
	store.balance = storage.Balance{UserID: userID, Amount: decimal.NewFromInt(100000)}
	producer := &recordProducer{}
	exec := &recordExecutor{}
	svc := newService(store, &staticFeed{price: decimal.NewFromInt(45000)}, exec, producer)

	key := "replay-me"
	input := buyInput(userID, storage.ModeLimit, "1", "40000")
	input.ClientOrderID = &key

	first, err := svc.PlaceOrder(context.Background(), input)
	if err != nil {
		t.Fatalf("PlaceOrder: %v", err)
	}
	second, err := svc.PlaceOrder(context.Background(), input)
	if err != nil {
		t.Fatalf("PlaceOrder replay: %v", err)
	}
	if second.ID != first.ID {
		t.Fatalf("replay created a new order: %s vs %s", second.ID, first.ID)
	}
	if len(store.orders) != 1 {
		t.Fatalf("stored %d orders, want 1", len(store.orders))
	}
	// Only the first placement announces itself.
	if len(producer.topics) != 1 {
		t.Fatalf("published %d events, want 1", len(producer.topics))
	}
}

func TestPlaceBuyRejectsInsufficientBalance(t *testing.T) {
	userID := uuid.New()
	store := newFakeStore()
	store.balance = storage.Balance{UserID: userID, Amount: decimal.NewFromInt(100)}
	svc := newService(store, &staticFeed{price: decimal.NewFromInt(45000)}, &recordExecutor{}, nil)

	_, err := svc.PlaceOrder(context.Background(), buyInput(userID, storage.ModeMarket, "1", ""))
	if !errors.Is(err, storage.ErrInsufficientBalance) {
		t.Fatalf("expected ErrInsufficientBalance, got %v", err)
	}
}

func TestPlaceBuyCountsOpenOrdersAgainstBalance(t *testing.T) {
	userID := uuid.New()
	store := newFakeStore()
	// 100 balance, an open limit buy locking 50 x 1 x 1.001 = 50.05.
	store.balance = storage.Balance{UserID: userID, Amount: decimal.NewFromInt(100)}
	lp := decimal.NewFromInt(50)
	store.openOrders = []storage.Order{{
		Side:       storage.SideBuy,
		Mode:       storage.ModeLimit,
		Quantity:   decimal.NewFromInt(1),
		LimitPrice: &lp,
	}}
	svc := newService(store, &staticFeed{price: decimal.NewFromInt(50)}, &recordExecutor{}, nil)

	// Costs 50.05, available is 49.95.
	_, err := svc.PlaceOrder(context.Background(), buyInput(userID, storage.ModeLimit, "1", "50"))
	if !errors.Is(err, storage.ErrInsufficientBalance) {
		t.Fatalf("expected ErrInsufficientBalance with locked funds, got %v", err)
	}
}

func TestPlaceSellExactAvailableSucceeds(t *testing.T) {
	userID := uuid.New()
	store := newFakeStore()
	store.holdings["bitcoin"] = storage.Holding{
		UserID:   userID,
		CoinID:   "bitcoin",
		Quantity: decimal.NewFromInt(2),
	}
	store.openOrders = []storage.Order{{
		CoinID:   "bitcoin",
		Side:     storage.SideSell,
		Quantity: decimal.NewFromInt(1),
	}}
	svc := newService(store, &staticFeed{price: decimal.NewFromInt(45000)}, &recordExecutor{}, nil)

	input := PlaceOrderInput{
		UserID:     userID,
		CoinID:     "bitcoin",
		CoinSymbol: "BTC",
		Side:       storage.SideSell,
		Mode:       storage.ModeLimit,
		Quantity:   decimal.NewFromInt(1),
	}
	lp := decimal.NewFromInt(50000)
	input.LimitPrice = &lp

	if _, err := svc.PlaceOrder(context.Background(), input); err != nil {
		t.Fatalf("selling exactly the available quantity must succeed: %v", err)
	}

	input.Quantity = decimal.RequireFromString("1.00000001")
	if _, err := svc.PlaceOrder(context.Background(), input); !errors.Is(err, storage.ErrInsufficientHoldings) {
		t.Fatalf("expected ErrInsufficientHoldings one notch over, got %v", err)
	}
}

func TestPlaceOrderValidation(t *testing.T) {
	userID := uuid.New()
	store := newFakeStore()
	store.balance = storage.Balance{UserID: userID, Amount: decimal.NewFromInt(100000)}
	svc := newService(store, &staticFeed{price: decimal.NewFromInt(100)}, &recordExecutor{}, nil)
	ctx := context.Background()

	cases := []struct {
		name  string
		input PlaceOrderInput
	}{
		{"bad side", PlaceOrderInput{UserID: userID, CoinID: "bitcoin", CoinSymbol: "BTC", Side: "hold", Mode: storage.ModeMarket, Quantity: decimal.NewFromInt(1)}},
		{"bad mode", PlaceOrderInput{UserID: userID, CoinID: "bitcoin", CoinSymbol: "BTC", Side: storage.SideBuy, Mode: "stop", Quantity: decimal.NewFromInt(1)}},
		{"zero quantity", PlaceOrderInput{UserID: userID, CoinID: "bitcoin", CoinSymbol: "BTC", Side: storage.SideBuy, Mode: storage.ModeMarket, Quantity: decimal.Zero}},
		{"limit without price", PlaceOrderInput{UserID: userID, CoinID: "bitcoin", CoinSymbol: "BTC", Side: storage.SideBuy, Mode: storage.ModeLimit, Quantity: decimal.NewFromInt(1)}},
		{"missing coin", PlaceOrderInput{UserID: userID, Side: storage.SideBuy, Mode: storage.ModeMarket, Quantity: decimal.NewFromInt(1)}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if _, err := svc.PlaceOrder(ctx, tc.input); !errors.Is(err, ErrValidation) {
				t.Fatalf("expected ErrValidation, got %v", err)
			}
		})
	}
}

func TestPlaceOrderFeedDown(t *testing.T) {
	userID := uuid.New()
	store := newFakeStore()
	svc := newService(store, &staticFeed{err: pricefeed.ErrUnavailable}, &recordExecutor{}, nil)

	_, err := svc.PlaceOrder(context.Background(), buyInput(userID, storage.ModeMarket, "1", ""))
	if !errors.Is(err, ErrPriceUnavailable) {
		t.Fatalf("expected ErrPriceUnavailable, got %v", err)
	}
}

func TestCancelOrderPublishesEvent(t *testing.T) {
	userID := uuid.New()
	store := newFakeStore()
	store.cancelResult = &storage.Order{
		ID:     uuid.New(),
		UserID: userID,
		Status: storage.OrderStatusCancelled,
	}
	producer := &recordProducer{}
	svc := newService(store, &staticFeed{price: decimal.NewFromInt(100)}, &recordExecutor{}, producer)

	order, err := svc.CancelOrder(context.Background(), store.cancelResult.ID, userID)
	if err != nil {
		t.Fatalf("CancelOrder: %v", err)
	}
	if order.Status != storage.OrderStatusCancelled {
		t.Fatalf("status = %s, want cancelled", order.Status)
	}
	if len(producer.topics) != 1 || producer.topics[0] != "orders.cancelled" {
		t.Fatalf("expected cancelled event, got %v", producer.topics)
	}
}

func TestCancelOrderNotPending(t *testing.T) {
	store := newFakeStore()
	store.cancelErr = storage.ErrNotPending
	svc := newService(store, &staticFeed{price: decimal.NewFromInt(100)}, &recordExecutor{}, nil)

	if _, err := svc.CancelOrder(context.Background(), uuid.New(), uuid.New()); !errors.Is(err, storage.ErrNotPending) {
		t.Fatalf("expected ErrNotPending, got %v", err)
	}
}

func TestGetOrderEnforcesOwnership(t *testing.T) {
	owner := uuid.New()
	store := newFakeStore()
	order := &storage.Order{ID: uuid.New(), UserID: owner, Status: storage.OrderStatusPending}
	store.orders[order.ID] = order
	svc := newService(store, &staticFeed{price: decimal.NewFromInt(100)}, &recordExecutor{}, nil)

	if _, err := svc.GetOrder(context.Background(), order.ID, owner); err != nil {
		t.Fatalf("owner lookup failed: %v", err)
	}
	if _, err := svc.GetOrder(context.Background(), order.ID, uuid.New()); !errors.Is(err, storage.ErrNotFound) {
		t.Fatalf("foreign order must look missing, got %v", err)
	}
}

func TestGetPortfolio(t *testing.T) {
	userID := uuid.New()
	store := newFakeStore()
	store.balance = storage.Balance{UserID: userID, Amount: decimal.NewFromInt(1000)}
	store.holdings["bitcoin"] = storage.Holding{
		UserID:     userID,
		CoinID:     "bitcoin",
		CoinSymbol: "BTC",
		Quantity:   decimal.NewFromInt(2),
	}
	store.openOrders = []storage.Order{{
		CoinID:   "bitcoin",
		Side:     storage.SideSell,
		Quantity: decimal.RequireFromString("0.5"),
	}}
	svc := newService(store, &staticFeed{price: decimal.NewFromInt(45000)}, &recordExecutor{}, nil)

	portfolio, err := svc.GetPortfolio(context.Background(), userID)
	if err != nil {
		t.Fatalf("GetPortfolio: %v", err)
	}
	if !portfolio.AvailableBalance.Equal(decimal.NewFromInt(1000)) {
		t.Fatalf("available balance = %s, want 1000", portfolio.AvailableBalance)
	}
	if len(portfolio.Holdings) != 1 {
		t.Fatalf("expected 1 holding, got %d", len(portfolio.Holdings))
	}
	h := portfolio.Holdings[0]
	if !h.AvailableQuantity.Equal(decimal.RequireFromString("1.5")) {
		t.Fatalf("available quantity = %s, want 1.5", h.AvailableQuantity)
	}
	if h.CurrentValue == nil || !h.CurrentValue.Equal(decimal.NewFromInt(90000)) {
		t.Fatalf("current value = %v, want 90000", h.CurrentValue)
	}
}
