package valuation

import (
	"context"
	"fmt"
	"time"

	"github.com/shopspring/decimal"
)

// fetchDensePrices queries the market-data provider for symbols over
// [start, end] and builds a dense {symbol -> {date -> close}} map by
// carrying the most recent price forward across days with no trade
// (weekends, holidays).
func (e *Engine) fetchDensePrices(ctx context.Context, symbols []string, cryptoSymbols map[string]bool, start, end time.Time) (map[string]map[string]decimal.Decimal, error) {
	dense := map[string]map[string]decimal.Decimal{}
	if len(symbols) == 0 || e.market == nil {
		return dense, nil
	}

	raw, err := e.market.PriceHistory(ctx, symbols, cryptoSymbols, start, end)
	if err != nil {
		return dense, fmt.Errorf("price history: %w", err)
	}

	for symbol, series := range raw {
		byDate := make(map[string]decimal.Decimal, len(series))
		for _, p := range series {
			byDate[p.Date.Format("2006-01-02")] = p.Close
		}
		dense[symbol] = carryForward(byDate, start, end)
	}
	return dense, nil
}

// carryForward walks every calendar day in [start, end] and fills in the
// most recent price seen at or before that day. Days before the symbol's
// first known price have no entry.
func carryForward(byDate map[string]decimal.Decimal, start, end time.Time) map[string]decimal.Decimal {
	out := make(map[string]decimal.Decimal)
	var last decimal.Decimal
	haveLast := false
	for d := start; !d.After(end); d = d.AddDate(0, 0, 1) {
		key := d.Format("2006-01-02")
		if p, ok := byDate[key]; ok {
			last = p
			haveLast = true
		}
		if haveLast {
			out[key] = last
		}
	}
	return out
}
