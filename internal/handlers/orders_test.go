package handlers

import (
	"context"
	"encoding/json"
	"net/http"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/phutaneomkar/Coin-sub000/internal/service"
	"github.com/phutaneomkar/Coin-sub000/internal/storage"
	"github.com/phutaneomkar/Coin-sub000/internal/testutil"
)

type fakeService struct {
	placeResult  *storage.Order
	placeErr     error
	lastPlace    *service.PlaceOrderInput
	cancelResult *storage.Order
	cancelErr    error
	getResult    *storage.Order
	getErr       error
	portfolio    *service.Portfolio
}

func (f *fakeService) PlaceOrder(ctx context.Context, input service.PlaceOrderInput) (*storage.Order, error) {
	f.lastPlace = &input
	return f.placeResult, f.placeErr
}

func (f *fakeService) CancelOrder(ctx context.Context, orderID, userID uuid.UUID) (*storage.Order, error) {
	return f.cancelResult, f.cancelErr
}

func (f *fakeService) GetOrder(ctx context.Context, orderID, userID uuid.UUID) (*storage.Order, error) {
	return f.getResult, f.getErr
}

func (f *fakeService) ListOrders(ctx context.Context, userID uuid.UUID, filter storage.OrderFilter) ([]storage.Order, string, error) {
	return nil, "", nil
}

func (f *fakeService) ListTransactions(ctx context.Context, userID uuid.UUID, limit int) ([]storage.Transaction, error) {
	return nil, nil
}

func (f *fakeService) GetPortfolio(ctx context.Context, userID uuid.UUID) (*service.Portfolio, error) {
	return f.portfolio, nil
}

var testSecret = []byte("secret")

func newRouter(svc *fakeService) *gin.Engine {
	gin.SetMode(gin.TestMode)
	router := gin.New()
	h := New(svc, nil)
	h.Register(router, testSecret)
	return router
}

func userToken(t *testing.T, userID uuid.UUID) string {
	t.Helper()
	token, err := testutil.GenerateJWT(userID, testSecret, []string{"trade"}, time.Hour, time.Now())
	if err != nil {
		t.Fatalf("jwt: %v", err)
	}
	return token
}

func pendingOrder(userID uuid.UUID) *storage.Order {
	lp := decimal.NewFromInt(40000)
	return &storage.Order{
		ID:          uuid.New(),
		UserID:      userID,
		CoinID:      "bitcoin",
		CoinSymbol:  "BTC",
		Side:        storage.SideBuy,
		Mode:        storage.ModeLimit,
		Status:      storage.OrderStatusPending,
		Quantity:    decimal.NewFromInt(1),
		LimitPrice:  &lp,
		TotalAmount: decimal.NewFromInt(40000),
		CreatedAt:   time.Now().UTC(),
	}
}

func TestPlaceOrderUnauthorized(t *testing.T) {
	router := newRouter(&fakeService{})
	resp := testutil.MakeAPIRequest(router, http.MethodPost, "/orders", map[string]string{"coin_id": "bitcoin"})
	testutil.AssertErrorCode(t, resp, testutil.ErrorCodeUnauthorized)
}

func TestPlaceOrderCreated(t *testing.T) {
	userID := testutil.DemoUserID
	svc := &fakeService{placeResult: pendingOrder(userID)}
	router := newRouter(svc)

	resp := testutil.MakeAuthRequest(router, http.MethodPost, "/orders", map[string]string{
		"coin_id":     "bitcoin",
		"coin_symbol": "BTC",
		"side":        "buy",
		"mode":        "limit",
		"quantity":    "1",
		"limit_price": "40000",
	}, userToken(t, userID))

	testutil.AssertHTTPStatus(t, resp, http.StatusCreated)
	if svc.lastPlace == nil {
		t.Fatal("expected PlaceOrder to be called")
	}
	if svc.lastPlace.LimitPrice == nil || !svc.lastPlace.LimitPrice.Equal(decimal.NewFromInt(40000)) {
		t.Fatalf("limit price not forwarded: %v", svc.lastPlace.LimitPrice)
	}

	var body orderItem
	if err := json.Unmarshal(resp.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if body.Status != storage.OrderStatusPending {
		t.Fatalf("status = %s, want pending", body.Status)
	}
}

func TestPlaceOrderBadQuantity(t *testing.T) {
	router := newRouter(&fakeService{})
	resp := testutil.MakeAuthRequest(router, http.MethodPost, "/orders", map[string]string{
		"coin_id":     "bitcoin",
		"coin_symbol": "BTC",
		"side":        "buy",
		"mode":        "market",
		"quantity":    "one",
	}, userToken(t, testutil.DemoUserID))
	testutil.AssertErrorCode(t, resp, testutil.ErrorCodeInvalidRequest)
}

func TestPlaceOrderInsufficientBalance(t *testing.T) {
	svc := &fakeService{placeErr: storage.ErrInsufficientBalance}
	router := newRouter(svc)
	resp := testutil.MakeAuthRequest(router, http.MethodPost, "/orders", map[string]string{
		"coin_id":     "bitcoin",
		"coin_symbol": "BTC",
		"side":        "buy",
		"mode":        "market",
		"quantity":    "100",
	}, userToken(t, testutil.DemoUserID))
	testutil.AssertErrorCode(t, resp, testutil.ErrorCodeInsufficientBalance)
}

func TestPlaceOrderPriceUnavailable(t *testing.T) {
	svc := &fakeService{placeErr: service.ErrPriceUnavailable}
	router := newRouter(svc)
	resp := testutil.MakeAuthRequest(router, http.MethodPost, "/orders", map[string]string{
		"coin_id":     "bitcoin",
		"coin_symbol": "BTC",
		"side":        "buy",
		"mode":        "market",
		"quantity":    "1",
	}, userToken(t, testutil.DemoUserID))
	testutil.AssertErrorCode(t, resp, testutil.ErrorCodePriceUnavailable)
}

func TestGetOrderNotFound(t *testing.T) {
	svc := &fakeService{getErr: storage.ErrNotFound}
	router := newRouter(svc)
	resp := testutil.MakeAuthRequest(router, http.MethodGet, "/orders/"+uuid.NewString(), nil, userToken(t, testutil.DemoUserID))
	testutil.AssertErrorCode(t, resp, testutil.ErrorCodeOrderNotFound)
}

func TestCancelOrderNotPending(t *testing.T) {
	svc := &fakeService{cancelErr: storage.ErrNotPending}
	router := newRouter(svc)
	resp := testutil.MakeAuthRequest(router, http.MethodDelete, "/orders/"+uuid.NewString(), nil, userToken(t, testutil.DemoUserID))
	testutil.AssertErrorCode(t, resp, testutil.ErrorCodeNotPending)
}

func TestCancelOrderSuccess(t *testing.T) {
	userID := testutil.DemoUserID
	order := pendingOrder(userID)
	order.Status = storage.OrderStatusCancelled
	svc := &fakeService{cancelResult: order}
	router := newRouter(svc)

	resp := testutil.MakeAuthRequest(router, http.MethodDelete, "/orders/"+order.ID.String(), nil, userToken(t, userID))
	testutil.AssertHTTPStatus(t, resp, http.StatusOK)

	var body orderItem
	if err := json.Unmarshal(resp.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if body.Status != storage.OrderStatusCancelled {
		t.Fatalf("status = %s, want cancelled", body.Status)
	}
}

func TestGetPortfolio(t *testing.T) {
	userID := testutil.DemoUserID
	value := decimal.NewFromInt(90000)
	svc := &fakeService{portfolio: &service.Portfolio{
		Balance:          storage.Balance{UserID: userID, Amount: decimal.NewFromInt(1000)},
		AvailableBalance: decimal.NewFromInt(900),
		Holdings: []service.PortfolioHolding{{
			Holding: storage.Holding{
				UserID:          userID,
				CoinID:          "bitcoin",
				CoinSymbol:      "BTC",
				Quantity:        decimal.NewFromInt(2),
				AverageBuyPrice: decimal.NewFromInt(40000),
			},
			AvailableQuantity: decimal.RequireFromString("1.5"),
			CurrentValue:      &value,
		}},
	}}
	router := newRouter(svc)

	resp := testutil.MakeAuthRequest(router, http.MethodGet, "/portfolio", nil, userToken(t, userID))
	testutil.AssertHTTPStatus(t, resp, http.StatusOK)

	var body portfolioResponse
	if err := json.Unmarshal(resp.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if body.AvailableBalance != "900" {
		t.Fatalf("available balance = %s, want 900", body.AvailableBalance)
	}
	if len(body.Holdings) != 1 || body.Holdings[0].AvailableQuantity != "1.5" {
		t.Fatalf("unexpected holdings %+v", body.Holdings)
	}
}
