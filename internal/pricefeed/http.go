package pricefeed

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

const defaultRequestTimeout = 3 * time.Second

// HTTPFeed pulls quotes from the market-data service over HTTP. Every
// request carries a bounded timeout; timeouts and non-200 responses are
// reported as ErrUnavailable so the scanner treats them as a skip.
type HTTPFeed struct {
	baseURL    string
	httpClient *http.Client
	logger     *slog.Logger
}

type HTTPFeedConfig struct {
	BaseURL string
	Timeout time.Duration
	Logger  *slog.Logger
}

func NewHTTPFeed(cfg HTTPFeedConfig) *HTTPFeed {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = defaultRequestTimeout
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &HTTPFeed{
		baseURL:    strings.TrimRight(cfg.BaseURL, "/"),
		httpClient: &http.Client{Timeout: timeout},
		logger:     logger,
	}
}

type tickerResponse struct {
	Symbol string `json:"symbol"`
	Price  string `json:"price"`
	Bid    string `json:"bid"`
	Ask    string `json:"ask"`
}

func (f *HTTPFeed) GetQuote(ctx context.Context, symbol string) (Quote, error) {
	symbol = strings.ToUpper(strings.TrimSpace(symbol))
	if symbol == "" {
		return Quote{}, fmt.Errorf("symbol is required")
	}

	endpoint := fmt.Sprintf("%s/api/v1/ticker?symbol=%s", f.baseURL, url.QueryEscape(symbol))
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return Quote{}, err
	}

	resp, err := f.httpClient.Do(req)
	if err != nil {
		f.logger.Warn("price feed request failed", "symbol", symbol, "error", err)
		return Quote{}, ErrUnavailable
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		f.logger.Warn("price feed bad status", "symbol", symbol, "status", resp.StatusCode, "body", string(body))
		return Quote{}, ErrUnavailable
	}

	var ticker tickerResponse
	if err := json.NewDecoder(resp.Body).Decode(&ticker); err != nil {
		f.logger.Warn("price feed decode failed", "symbol", symbol, "error", err)
		return Quote{}, ErrUnavailable
	}

	price, err := decimal.NewFromString(strings.TrimSpace(ticker.Price))
	if err != nil || price.LessThanOrEqual(decimal.Zero) {
		return Quote{}, ErrUnavailable
	}

	quote := Quote{Symbol: symbol, Price: price}
	if bid, err := decimal.NewFromString(strings.TrimSpace(ticker.Bid)); err == nil {
		quote.Bid = bid
	}
	if ask, err := decimal.NewFromString(strings.TrimSpace(ticker.Ask)); err == nil {
		quote.Ask = ask
	}
	return quote, nil
}
