// Package marketdata states the one external collaborator interface the
// valuation engine depends on: a close-price history query. Concrete
// provider clients live outside this repository.
package marketdata

import (
	"context"
	"time"

	"github.com/shopspring/decimal"
)

// ClosePrice is one day's closing price for a symbol.
type ClosePrice struct {
	Date  time.Time
	Close decimal.Decimal
}

// Provider is the external market-data collaborator: given a set of
// symbols and a date range, return each symbol's close-price series.
// cryptoSymbols lets the caller route a subset of the request to a
// crypto-specific backend.
type Provider interface {
	PriceHistory(ctx context.Context, symbols []string, cryptoSymbols map[string]bool, from, to time.Time) (map[string][]ClosePrice, error)
}
