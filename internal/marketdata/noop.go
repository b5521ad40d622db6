package marketdata

import (
	"context"
	"time"
)

// NoopProvider answers every PriceHistory call with no rows. It is the
// default Provider wired by cmd/main.go: concrete market-data clients are
// out of scope, so a deployment without one configured still
// runs the full sync/lot pipeline; the Portfolio Valuation Engine then
// values every holding at its snapshot price.
type NoopProvider struct{}

func (NoopProvider) PriceHistory(ctx context.Context, symbols []string, cryptoSymbols map[string]bool, from, to time.Time) (map[string][]ClosePrice, error) {
	return map[string][]ClosePrice{}, nil
}
