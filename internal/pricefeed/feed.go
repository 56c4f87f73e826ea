// Package pricefeed adapts the external market-data service. The engine
// only ever asks for the current quote of one symbol; a feed that cannot
// answer reports ErrUnavailable and the caller skips that order for the
// cycle. Unavailable is never zero and never a trigger.
package pricefeed

import (
	"context"
	"errors"

	"github.com/shopspring/decimal"
)

var ErrUnavailable = errors.New("price unavailable")

type Quote struct {
	Symbol string          `json:"symbol"`
	Price  decimal.Decimal `json:"price"`
	Bid    decimal.Decimal `json:"bid"`
	Ask    decimal.Decimal `json:"ask"`
}

type Feed interface {
	GetQuote(ctx context.Context, symbol string) (Quote, error)
}
