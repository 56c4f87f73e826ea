package handlers

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"log/slog"

	"github.com/phutaneomkar/Coin-sub000/internal/service"
	"github.com/phutaneomkar/Coin-sub000/internal/storage"
	"github.com/phutaneomkar/Coin-sub000/libs/auth"
)

type TradingService interface {
	PlaceOrder(ctx context.Context, input service.PlaceOrderInput) (*storage.Order, error)
	CancelOrder(ctx context.Context, orderID, userID uuid.UUID) (*storage.Order, error)
	GetOrder(ctx context.Context, orderID, userID uuid.UUID) (*storage.Order, error)
	ListOrders(ctx context.Context, userID uuid.UUID, filter storage.OrderFilter) ([]storage.Order, string, error)
	ListTransactions(ctx context.Context, userID uuid.UUID, limit int) ([]storage.Transaction, error)
	GetPortfolio(ctx context.Context, userID uuid.UUID) (*service.Portfolio, error)
}

type Handler struct {
	Service TradingService
	Logger  *slog.Logger
}

func New(svc TradingService, logger *slog.Logger) *Handler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Handler{Service: svc, Logger: logger}
}

func (h *Handler) Register(r *gin.Engine, jwtSecret []byte) {
	group := r.Group("/", auth.Middleware(jwtSecret))
	group.POST("/orders", h.PlaceOrder)
	group.GET("/orders", h.ListOrders)
	group.GET("/orders/:id", h.GetOrder)
	group.DELETE("/orders/:id", h.CancelOrder)
	group.GET("/portfolio", h.GetPortfolio)
	group.GET("/transactions", h.ListTransactions)
}

type placeOrderRequest struct {
	CoinID        string `json:"coin_id"`
	CoinSymbol    string `json:"coin_symbol"`
	Side          string `json:"side"`
	Mode          string `json:"mode"`
	Quantity      string `json:"quantity"`
	LimitPrice    string `json:"limit_price"`
	ClientOrderID string `json:"client_order_id"`
}

type orderItem struct {
	OrderID       string  `json:"order_id"`
	CoinID        string  `json:"coin_id"`
	CoinSymbol    string  `json:"coin_symbol"`
	Side          string  `json:"side"`
	Mode          string  `json:"mode"`
	Status        string  `json:"status"`
	ClientOrderID *string `json:"client_order_id,omitempty"`
	Quantity      string  `json:"quantity"`
	LimitPrice    *string `json:"limit_price,omitempty"`
	TotalAmount   string  `json:"total_amount"`
	CreatedAt     string  `json:"created_at"`
	CompletedAt   *string `json:"completed_at,omitempty"`
}

type listOrdersResponse struct {
	Orders     []orderItem `json:"orders"`
	NextCursor string      `json:"next_cursor,omitempty"`
}

type errorResponse struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

func (h *Handler) PlaceOrder(c *gin.Context) {
	userID, ok := userIDFromContext(c)
	if !ok {
		writeError(c, http.StatusUnauthorized, "UNAUTHORIZED", "missing user")
		return
	}

	var req placeOrderRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		writeError(c, http.StatusBadRequest, "INVALID_REQUEST", "invalid payload")
		return
	}

	qty, err := decimal.NewFromString(strings.TrimSpace(req.Quantity))
	if err != nil {
		writeError(c, http.StatusBadRequest, "INVALID_REQUEST", "invalid quantity")
		return
	}

	var limitPrice *decimal.Decimal
	if strings.TrimSpace(req.LimitPrice) != "" {
		price, err := decimal.NewFromString(strings.TrimSpace(req.LimitPrice))
		if err != nil {
			writeError(c, http.StatusBadRequest, "INVALID_REQUEST", "invalid limit_price")
			return
		}
		limitPrice = &price
	}

	var clientOrderID *string
	if key := strings.TrimSpace(req.ClientOrderID); key != "" {
		clientOrderID = &key
	}

	order, err := h.Service.PlaceOrder(c.Request.Context(), service.PlaceOrderInput{
		UserID:        userID,
		CoinID:        req.CoinID,
		CoinSymbol:    req.CoinSymbol,
		Side:          req.Side,
		Mode:          req.Mode,
		Quantity:      qty,
		LimitPrice:    limitPrice,
		ClientOrderID: clientOrderID,
	})
	if err != nil {
		switch {
		case errors.Is(err, service.ErrValidation):
			writeError(c, http.StatusBadRequest, "INVALID_REQUEST", err.Error())
		case errors.Is(err, storage.ErrInsufficientBalance):
			writeError(c, http.StatusBadRequest, "INSUFFICIENT_BALANCE", "insufficient balance")
		case errors.Is(err, storage.ErrInsufficientHoldings):
			writeError(c, http.StatusBadRequest, "INSUFFICIENT_HOLDINGS", "insufficient holdings")
		case errors.Is(err, service.ErrPriceUnavailable):
			writeError(c, http.StatusServiceUnavailable, "PRICE_UNAVAILABLE", "market price unavailable")
		default:
			h.Logger.Error("place order failed", "error", err)
			writeError(c, http.StatusInternalServerError, "INTERNAL_ERROR", "internal error")
		}
		return
	}

	c.JSON(http.StatusCreated, orderToItem(*order))
}

func (h *Handler) ListOrders(c *gin.Context) {
	userID, ok := userIDFromContext(c)
	if !ok {
		writeError(c, http.StatusUnauthorized, "UNAUTHORIZED", "missing user")
		return
	}

	filter := storage.OrderFilter{
		CoinID: storage.NormalizeCoinID(c.Query("coin_id")),
		Status: strings.ToLower(strings.TrimSpace(c.Query("status"))),
		Cursor: strings.TrimSpace(c.Query("cursor")),
	}
	if limitStr := strings.TrimSpace(c.Query("limit")); limitStr != "" {
		n, err := strconv.Atoi(limitStr)
		if err != nil {
			writeError(c, http.StatusBadRequest, "INVALID_REQUEST", "invalid limit")
			return
		}
		filter.Limit = n
	}

	orders, nextCursor, err := h.Service.ListOrders(c.Request.Context(), userID, filter)
	if err != nil {
		if errors.Is(err, storage.ErrInvalidCursor) {
			writeError(c, http.StatusBadRequest, "INVALID_REQUEST", "invalid cursor")
			return
		}
		h.Logger.Error("list orders failed", "error", err)
		writeError(c, http.StatusInternalServerError, "INTERNAL_ERROR", "internal error")
		return
	}

	items := make([]orderItem, 0, len(orders))
	for _, order := range orders {
		items = append(items, orderToItem(order))
	}
	c.JSON(http.StatusOK, listOrdersResponse{Orders: items, NextCursor: nextCursor})
}

func (h *Handler) GetOrder(c *gin.Context) {
	userID, ok := userIDFromContext(c)
	if !ok {
		writeError(c, http.StatusUnauthorized, "UNAUTHORIZED", "missing user")
		return
	}
	orderID, err := parseUUIDParam(c.Param("id"))
	if err != nil {
		writeError(c, http.StatusBadRequest, "INVALID_REQUEST", "invalid order id")
		return
	}

	order, err := h.Service.GetOrder(c.Request.Context(), orderID, userID)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			writeError(c, http.StatusNotFound, "ORDER_NOT_FOUND", "order not found")
			return
		}
		h.Logger.Error("get order failed", "error", err)
		writeError(c, http.StatusInternalServerError, "INTERNAL_ERROR", "internal error")
		return
	}
	c.JSON(http.StatusOK, orderToItem(*order))
}

func (h *Handler) CancelOrder(c *gin.Context) {
	userID, ok := userIDFromContext(c)
	if !ok {
		writeError(c, http.StatusUnauthorized, "UNAUTHORIZED", "missing user")
		return
	}
	orderID, err := parseUUIDParam(c.Param("id"))
	if err != nil {
		writeError(c, http.StatusBadRequest, "INVALID_REQUEST", "invalid order id")
		return
	}

	order, err := h.Service.CancelOrder(c.Request.Context(), orderID, userID)
	if err != nil {
		switch {
		case errors.Is(err, storage.ErrNotFound):
			writeError(c, http.StatusNotFound, "ORDER_NOT_FOUND", "order not found")
		case errors.Is(err, storage.ErrNotPending):
			writeError(c, http.StatusConflict, "NOT_PENDING", "order is no longer pending")
		default:
			h.Logger.Error("cancel order failed", "error", err)
			writeError(c, http.StatusInternalServerError, "INTERNAL_ERROR", "internal error")
		}
		return
	}
	c.JSON(http.StatusOK, orderToItem(*order))
}

type portfolioHoldingItem struct {
	CoinID            string  `json:"coin_id"`
	CoinSymbol        string  `json:"coin_symbol"`
	Quantity          string  `json:"quantity"`
	AvailableQuantity string  `json:"available_quantity"`
	AverageBuyPrice   string  `json:"average_buy_price"`
	CurrentValue      *string `json:"current_value,omitempty"`
}

type portfolioResponse struct {
	Balance          string                 `json:"balance"`
	AvailableBalance string                 `json:"available_balance"`
	Holdings         []portfolioHoldingItem `json:"holdings"`
}

func (h *Handler) GetPortfolio(c *gin.Context) {
	userID, ok := userIDFromContext(c)
	if !ok {
		writeError(c, http.StatusUnauthorized, "UNAUTHORIZED", "missing user")
		return
	}

	portfolio, err := h.Service.GetPortfolio(c.Request.Context(), userID)
	if err != nil {
		h.Logger.Error("get portfolio failed", "error", err)
		writeError(c, http.StatusInternalServerError, "INTERNAL_ERROR", "internal error")
		return
	}

	resp := portfolioResponse{
		Balance:          portfolio.Balance.Amount.String(),
		AvailableBalance: portfolio.AvailableBalance.String(),
		Holdings:         make([]portfolioHoldingItem, 0, len(portfolio.Holdings)),
	}
	for _, holding := range portfolio.Holdings {
		item := portfolioHoldingItem{
			CoinID:            holding.CoinID,
			CoinSymbol:        holding.CoinSymbol,
			Quantity:          holding.Quantity.String(),
			AvailableQuantity: holding.AvailableQuantity.String(),
			AverageBuyPrice:   holding.AverageBuyPrice.String(),
		}
		if holding.CurrentValue != nil {
			value := holding.CurrentValue.String()
			item.CurrentValue = &value
		}
		resp.Holdings = append(resp.Holdings, item)
	}
	c.JSON(http.StatusOK, resp)
}

type transactionItem struct {
	TransactionID string `json:"transaction_id"`
	OrderID       string `json:"order_id"`
	Type          string `json:"type"`
	CoinID        string `json:"coin_id"`
	Quantity      string `json:"quantity"`
	PricePerUnit  string `json:"price_per_unit"`
	TotalAmount   string `json:"total_amount"`
	Timestamp     string `json:"timestamp"`
}

func (h *Handler) ListTransactions(c *gin.Context) {
	userID, ok := userIDFromContext(c)
	if !ok {
		writeError(c, http.StatusUnauthorized, "UNAUTHORIZED", "missing user")
		return
	}

	limit := 0
	if limitStr := strings.TrimSpace(c.Query("limit")); limitStr != "" {
		n, err := strconv.Atoi(limitStr)
		if err != nil {
			writeError(c, http.StatusBadRequest, "INVALID_REQUEST", "invalid limit")
			return
		}
		limit = n
	}

	transactions, err := h.Service.ListTransactions(c.Request.Context(), userID, limit)
	if err != nil {
		h.Logger.Error("list transactions failed", "error", err)
		writeError(c, http.StatusInternalServerError, "INTERNAL_ERROR", "internal error")
		return
	}

	items := make([]transactionItem, 0, len(transactions))
	for _, tx := range transactions {
		items = append(items, transactionItem{
			TransactionID: tx.ID.String(),
			OrderID:       tx.OrderID.String(),
			Type:          tx.Type,
			CoinID:        tx.CoinID,
			Quantity:      tx.Quantity.String(),
			PricePerUnit:  tx.PricePerUnit.String(),
			TotalAmount:   tx.TotalAmount.String(),
			Timestamp:     tx.Timestamp.UTC().Format(time.RFC3339),
		})
	}
	c.JSON(http.StatusOK, gin.H{"transactions": items})
}

func orderToItem(order storage.Order) orderItem {
	item := orderItem{
		OrderID:     order.ID.String(),
		CoinID:      order.CoinID,
		CoinSymbol:  order.CoinSymbol,
		Side:        order.Side,
		Mode:        order.Mode,
		Status:      order.Status,
		Quantity:    order.Quantity.String(),
		TotalAmount: order.TotalAmount.String(),
		CreatedAt:   order.CreatedAt.UTC().Format(time.RFC3339),
	}
	if order.ClientOrderID != nil {
		key := *order.ClientOrderID
		item.ClientOrderID = &key
	}
	if order.LimitPrice != nil {
		price := order.LimitPrice.String()
		item.LimitPrice = &price
	}
	if order.CompletedAt != nil {
		completed := order.CompletedAt.UTC().Format(time.RFC3339)
		item.CompletedAt = &completed
	}
	return item
}

func userIDFromContext(c *gin.Context) (uuid.UUID, bool) {
	val, ok := c.Get(auth.ContextUserIDKey)
	if !ok {
		return uuid.Nil, false
	}
	raw, ok := val.(string)
	if !ok {
		return uuid.Nil, false
	}
	parsed, err := uuid.Parse(raw)
	if err != nil {
		return uuid.Nil, false
	}
	return parsed, true
}

func parseUUIDParam(value string) (uuid.UUID, error) {
	trimmed := strings.TrimSpace(value)
	if trimmed == "" {
		return uuid.Nil, errors.New("missing id")
	}
	return uuid.Parse(trimmed)
}

func writeError(c *gin.Context, status int, code, message string) {
	c.JSON(status, errorResponse{Code: code, Message: message})
}
