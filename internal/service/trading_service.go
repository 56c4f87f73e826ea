package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"log/slog"

	"github.com/phutaneomkar/Coin-sub000/internal/pricefeed"
	"github.com/phutaneomkar/Coin-sub000/internal/storage"
	"github.com/phutaneomkar/Coin-sub000/libs/kafka"
)

var (
	ErrValidation       = errors.New("invalid order")
	ErrPriceUnavailable = errors.New("market price unavailable")
)

type Topics struct {
	OrdersAccepted  string
	OrdersCancelled string
	Trades          string
}

type TradingStore interface {
	CreateOrder(ctx context.Context, order storage.Order) (*storage.Order, error)
	GetOrderByID(ctx context.Context, orderID uuid.UUID) (*storage.Order, error)
	GetOrderByClientOrderID(ctx context.Context, userID uuid.UUID, clientOrderID string) (*storage.Order, error)
	ListOrders(ctx context.Context, userID uuid.UUID, filter storage.OrderFilter) ([]storage.Order, string, error)
	CancelOrder(ctx context.Context, orderID, userID uuid.UUID) (*storage.Order, error)
	GetBalance(ctx context.Context, userID uuid.UUID) (storage.Balance, error)
	ListHoldings(ctx context.Context, userID uuid.UUID) ([]storage.Holding, error)
	ListTransactions(ctx context.Context, userID uuid.UUID, limit int) ([]storage.Transaction, error)
	ListOpenOrdersForUser(ctx context.Context, userID uuid.UUID) ([]storage.Order, error)
}

// OrderExecutor fills a pending order at a market price.
type OrderExecutor interface {
	Execute(ctx context.Context, order storage.Order, price decimal.Decimal) error
}

type TradingService struct {
	store    TradingStore
	locked   *Calculator
	feed     pricefeed.Feed
	executor OrderExecutor
	producer kafka.Publisher
	logger   *slog.Logger
	metrics  *Metrics
	topics   Topics
	feeRate  decimal.Decimal
}

type PlaceOrderInput struct {
	UserID     uuid.UUID
	CoinID     string
	CoinSymbol string
	Side       string
	Mode       string
	Quantity   decimal.Decimal
	LimitPrice *decimal.Decimal
	// ClientOrderID, when set, makes the placement idempotent: a replay
	// with the same key returns the original order untouched.
	ClientOrderID *string
}

type PortfolioHolding struct {
	storage.Holding
	AvailableQuantity decimal.Decimal
	CurrentValue      *decimal.Decimal
}

type Portfolio struct {
	Balance          storage.Balance
	AvailableBalance decimal.Decimal
	Holdings         []PortfolioHolding
}

func NewTradingService(store TradingStore, locked *Calculator, feed pricefeed.Feed, executor OrderExecutor, producer kafka.Publisher, logger *slog.Logger, metrics *Metrics, topics Topics, feeRate decimal.Decimal) *TradingService {
	if logger == nil {
		logger = slog.Default()
	}
	return &TradingService{
		store:    store,
		locked:   locked,
		feed:     feed,
		executor: executor,
		producer: producer,
		logger:   logger,
		metrics:  metrics,
		topics:   topics,
		feeRate:  feeRate,
	}
}

// PlaceOrder validates funds against the locked calculator, persists the
// order, and for market mode fills it synchronously at the current quote.
// Limit orders stay pending for the scanner.
func (s *TradingService) PlaceOrder(ctx context.Context, input PlaceOrderInput) (*storage.Order, error) {
	start := time.Now()
	if err := validatePlaceOrder(&input); err != nil {
		s.observeSubmission("invalid", start)
		return nil, err
	}

	if input.ClientOrderID != nil {
		existing, err := s.store.GetOrderByClientOrderID(ctx, input.UserID, *input.ClientOrderID)
		if err == nil {
			s.observeSubmission("replayed", start)
			return existing, nil
		}
		if !errors.Is(err, storage.ErrNotFound) {
			s.observeSubmission("error", start)
			return nil, err
		}
	}

	quote, err := s.feed.GetQuote(ctx, input.CoinSymbol)
	if err != nil {
		if errors.Is(err, pricefeed.ErrUnavailable) {
			s.observeSubmission("error", start)
			return nil, ErrPriceUnavailable
		}
		s.observeSubmission("error", start)
		return nil, err
	}

	effectivePrice := quote.Price
	if input.Mode == storage.ModeLimit {
		effectivePrice = *input.LimitPrice
	}

	switch input.Side {
	case storage.SideBuy:
		cost := effectivePrice.Mul(input.Quantity).Mul(decimal.NewFromInt(1).Add(s.feeRate))
		available, err := s.locked.AvailableBalance(ctx, input.UserID, quote.Price)
		if err != nil {
			s.observeSubmission("error", start)
			return nil, err
		}
		if available.LessThan(cost) {
			s.observeSubmission("rejected", start)
			return nil, storage.ErrInsufficientBalance
		}
	case storage.SideSell:
		available, err := s.locked.AvailableHoldings(ctx, input.UserID, input.CoinID)
		if err != nil {
			s.observeSubmission("error", start)
			return nil, err
		}
		if available.LessThan(input.Quantity) {
			s.observeSubmission("rejected", start)
			return nil, storage.ErrInsufficientHoldings
		}
	}

	order := storage.Order{
		ID:            uuid.New(),
		UserID:        input.UserID,
		CoinID:        input.CoinID,
		CoinSymbol:    input.CoinSymbol,
		Side:          input.Side,
		Mode:          input.Mode,
		Status:        storage.OrderStatusPending,
		ClientOrderID: input.ClientOrderID,
		Quantity:      input.Quantity,
		LimitPrice:    input.LimitPrice,
		TotalAmount:   effectivePrice.Mul(input.Quantity),
	}
	stored, err := s.store.CreateOrder(ctx, order)
	if err != nil {
		s.observeSubmission("error", start)
		return nil, err
	}
	if stored.ID != order.ID {
		// Lost an idempotency-key race; the winner's order came back.
		s.observeSubmission("replayed", start)
		return stored, nil
	}
	s.publishOrderEvent(ctx, kafka.EventOrderAccepted, s.topics.OrdersAccepted, stored)

	if input.Mode == storage.ModeMarket {
		if err := s.executor.Execute(ctx, *stored, quote.Price); err != nil {
			// A market order never waits for the scanner; a failed fill
			// must not linger as pending and count against available funds.
			s.voidFailedMarketOrder(ctx, stored)
			s.observeSubmission("error", start)
			return nil, fmt.Errorf("market execution: %w", err)
		}
		stored, err = s.store.GetOrderByID(ctx, stored.ID)
		if err != nil {
			s.observeSubmission("error", start)
			return nil, err
		}
	}

	s.observeSubmission("accepted", start)
	s.logger.Info("order placed",
		"order_id", stored.ID,
		"user_id", stored.UserID,
		"symbol", stored.CoinSymbol,
		"side", stored.Side,
		"mode", stored.Mode,
		"status", stored.Status)
	return stored, nil
}

// CancelOrder cancels a pending order owned by the user. Processing,
// completed, and cancelled orders are past the point of no return.
func (s *TradingService) CancelOrder(ctx context.Context, orderID, userID uuid.UUID) (*storage.Order, error) {
	order, err := s.store.CancelOrder(ctx, orderID, userID)
	if err != nil {
		if s.metrics != nil {
			label := "error"
			if errors.Is(err, storage.ErrNotPending) || errors.Is(err, storage.ErrNotFound) {
				label = "rejected"
			}
			s.metrics.OrderCancellations.WithLabelValues(label).Inc()
		}
		return nil, err
	}
	s.publishOrderEvent(ctx, kafka.EventOrderCancelled, s.topics.OrdersCancelled, order)
	if s.metrics != nil {
		s.metrics.OrderCancellations.WithLabelValues("success").Inc()
	}
	return order, nil
}

// GetOrder fetches an order and enforces ownership. A foreign order is
// indistinguishable from a missing one.
func (s *TradingService) GetOrder(ctx context.Context, orderID, userID uuid.UUID) (*storage.Order, error) {
	order, err := s.store.GetOrderByID(ctx, orderID)
	if err != nil {
		return nil, err
	}
	if order.UserID != userID {
		return nil, storage.ErrNotFound
	}
	return order, nil
}

func (s *TradingService) ListOrders(ctx context.Context, userID uuid.UUID, filter storage.OrderFilter) ([]storage.Order, string, error) {
	return s.store.ListOrders(ctx, userID, filter)
}

func (s *TradingService) ListTransactions(ctx context.Context, userID uuid.UUID, limit int) ([]storage.Transaction, error) {
	return s.store.ListTransactions(ctx, userID, limit)
}

// GetPortfolio assembles the user's cash and positions, with available
// figures net of open orders and current values where a quote can be had.
func (s *TradingService) GetPortfolio(ctx context.Context, userID uuid.UUID) (*Portfolio, error) {
	balance, err := s.store.GetBalance(ctx, userID)
	if err != nil {
		return nil, err
	}
	availableBalance, err := s.locked.AvailableBalance(ctx, userID, decimal.Zero)
	if err != nil {
		return nil, err
	}
	holdings, err := s.store.ListHoldings(ctx, userID)
	if err != nil {
		return nil, err
	}

	portfolio := &Portfolio{
		Balance:          balance,
		AvailableBalance: availableBalance,
		Holdings:         make([]PortfolioHolding, 0, len(holdings)),
	}
	for _, h := range holdings {
		availableQty, err := s.locked.AvailableHoldings(ctx, userID, h.CoinID)
		if err != nil {
			return nil, err
		}
		entry := PortfolioHolding{Holding: h, AvailableQuantity: availableQty}
		if quote, err := s.feed.GetQuote(ctx, h.CoinSymbol); err == nil {
			value := quote.Price.Mul(h.Quantity)
			entry.CurrentValue = &value
		}
		portfolio.Holdings = append(portfolio.Holdings, entry)
	}
	return portfolio, nil
}

// voidFailedMarketOrder flips a market order whose synchronous fill
// failed back to cancelled. The conditional update only fires while the
// order is still pending, so a concurrent settlement is never undone.
func (s *TradingService) voidFailedMarketOrder(ctx context.Context, order *storage.Order) {
	if ctx.Err() != nil {
		ctx = context.WithoutCancel(ctx)
	}
	cancelled, err := s.store.CancelOrder(ctx, order.ID, order.UserID)
	if err != nil {
		s.logger.Error("void failed market order", "order_id", order.ID, "error", err)
		return
	}
	s.publishOrderEvent(ctx, kafka.EventOrderCancelled, s.topics.OrdersCancelled, cancelled)
}

func (s *TradingService) observeSubmission(label string, start time.Time) {
	if s.metrics == nil {
		return
	}
	s.metrics.OrderSubmissions.WithLabelValues(label).Inc()
	s.metrics.OrderSubmissionLatency.WithLabelValues(label).Observe(time.Since(start).Seconds())
}

func (s *TradingService) publishOrderEvent(ctx context.Context, eventType, topic string, order *storage.Order) {
	if s.producer == nil || order == nil {
		return
	}
	env, err := kafka.NewEnvelope(eventType, 1, order.ID.String())
	if err != nil {
		s.logger.Error("build order event envelope failed", "error", err)
		return
	}
	payload := kafka.OrderEvent{
		Envelope:   env,
		OrderID:    order.ID.String(),
		UserID:     order.UserID.String(),
		CoinID:     order.CoinID,
		CoinSymbol: order.CoinSymbol,
		Side:       order.Side,
		Mode:       order.Mode,
		Status:     order.Status,
		Quantity:   order.Quantity.String(),
	}
	if order.LimitPrice != nil {
		payload.LimitPrice = order.LimitPrice.String()
	}
	if _, _, err := s.producer.PublishJSON(ctx, topic, order.CoinSymbol, payload); err != nil {
		s.logger.Error("publish order event failed", "event_type", eventType, "error", err)
	}
}

func validatePlaceOrder(input *PlaceOrderInput) error {
	input.CoinID = storage.NormalizeCoinID(input.CoinID)
	input.CoinSymbol = storage.NormalizeSymbol(input.CoinSymbol)
	input.Side = strings.ToLower(strings.TrimSpace(input.Side))
	input.Mode = strings.ToLower(strings.TrimSpace(input.Mode))

	if input.UserID == uuid.Nil {
		return fmt.Errorf("%w: user_id is required", ErrValidation)
	}
	if input.CoinID == "" || input.CoinSymbol == "" {
		return fmt.Errorf("%w: coin_id and coin_symbol are required", ErrValidation)
	}
	if input.Side != storage.SideBuy && input.Side != storage.SideSell {
		return fmt.Errorf("%w: side must be buy or sell", ErrValidation)
	}
	if input.Mode != storage.ModeMarket && input.Mode != storage.ModeLimit {
		return fmt.Errorf("%w: mode must be market or limit", ErrValidation)
	}
	if input.Quantity.LessThanOrEqual(decimal.Zero) {
		return fmt.Errorf("%w: quantity must be positive", ErrValidation)
	}
	switch input.Mode {
	case storage.ModeLimit:
		if input.LimitPrice == nil || input.LimitPrice.LessThanOrEqual(decimal.Zero) {
			return fmt.Errorf("%w: limit orders require a positive limit_price", ErrValidation)
		}
	case storage.ModeMarket:
		if input.LimitPrice != nil {
			return fmt.Errorf("%w: market orders must not set limit_price", ErrValidation)
		}
	}
	return nil
}
