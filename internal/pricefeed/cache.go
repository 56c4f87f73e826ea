package pricefeed

import (
	"context"
	"encoding/json"
	"log/slog"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/shopspring/decimal"
)

const defaultCacheTTL = 2 * time.Second

// CachedFeed wraps another Feed with a short-lived redis cache so a scan
// over many orders on the same symbol hits the upstream once per TTL.
// Cache errors fall through to the inner feed; a stale or missing entry
// is never fatal.
type CachedFeed struct {
	inner  Feed
	client *redis.Client
	ttl    time.Duration
	logger *slog.Logger
}

type cachedQuote struct {
	Symbol string `json:"symbol"`
	Price  string `json:"price"`
	Bid    string `json:"bid"`
	Ask    string `json:"ask"`
}

func NewCachedFeed(inner Feed, client *redis.Client, ttl time.Duration, logger *slog.Logger) *CachedFeed {
	if ttl <= 0 {
		ttl = defaultCacheTTL
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &CachedFeed{inner: inner, client: client, ttl: ttl, logger: logger}
}

func quoteKey(symbol string) string {
	return "price:" + strings.ToUpper(strings.TrimSpace(symbol))
}

func (c *CachedFeed) GetQuote(ctx context.Context, symbol string) (Quote, error) {
	key := quoteKey(symbol)

	raw, err := c.client.Get(ctx, key).Result()
	if err == nil {
		var cached cachedQuote
		if jsonErr := json.Unmarshal([]byte(raw), &cached); jsonErr == nil {
			if quote, ok := cached.toQuote(); ok {
				return quote, nil
			}
		}
	} else if err != redis.Nil {
		c.logger.Warn("price cache read failed", "symbol", symbol, "error", err)
	}

	quote, err := c.inner.GetQuote(ctx, symbol)
	if err != nil {
		return Quote{}, err
	}

	payload, err := json.Marshal(cachedQuote{
		Symbol: quote.Symbol,
		Price:  quote.Price.String(),
		Bid:    quote.Bid.String(),
		Ask:    quote.Ask.String(),
	})
	if err == nil {
		if setErr := c.client.Set(ctx, key, payload, c.ttl).Err(); setErr != nil {
			c.logger.Warn("price cache write failed", "symbol", symbol, "error", setErr)
		}
	}
	return quote, nil
}

func (q cachedQuote) toQuote() (Quote, bool) {
	price, err := decimal.NewFromString(q.Price)
	if err != nil || price.LessThanOrEqual(decimal.Zero) {
		return Quote{}, false
	}
	quote := Quote{Symbol: q.Symbol, Price: price}
	if bid, err := decimal.NewFromString(q.Bid); err == nil {
		quote.Bid = bid
	}
	if ask, err := decimal.NewFromString(q.Ask); err == nil {
		quote.Ask = ask
	}
	return quote, true
}
