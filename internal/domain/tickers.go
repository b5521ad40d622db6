package domain

import "strings"

// ZeroBalanceTicker is the sentinel ticker for a liquidated account-day.
const ZeroBalanceTicker = "_ZERO_BALANCE"

// cashEquivalentTickers never hit the market-data provider; they price at
// 1.00 in their own currency.
var cashEquivalentTickers = map[string]bool{
	"USD": true, "CASH": true, "CAD": true,
	"SPAXX": true, "FDRXX": true, "SWVXX": true, "VMFXX": true, "FZFXX": true,
}

// IsCashTicker reports whether ticker is a recognized cash-equivalent or a
// derived _CASH:{CCY} holding.
func IsCashTicker(ticker string) bool {
	if cashEquivalentTickers[strings.ToUpper(ticker)] {
		return true
	}
	return strings.HasPrefix(ticker, "_CASH:")
}

// IsManualTicker reports whether ticker is a manual-holdings synthetic
// symbol (_MAN:...). The manual-holdings bookkeeping path itself is out of
// scope, but its tickers must still be excluded from
// market-data fetches when they appear in snapshots from other sources.
func IsManualTicker(ticker string) bool {
	return strings.HasPrefix(ticker, "_MAN:")
}

// IsSimpleFINSyntheticTicker reports whether ticker is a SimpleFIN
// synthetic symbol (_SF:{hex8}) standing in for a holding with no public
// ticker (target-date funds, 529 plans).
func IsSimpleFINSyntheticTicker(ticker string) bool {
	return strings.HasPrefix(ticker, "_SF:")
}

// IsNonMarketTicker reports whether ticker should be excluded from
// market-data fetches entirely: the zero-balance sentinel, cash, manual,
// or SimpleFIN-synthetic tickers.
func IsNonMarketTicker(ticker string) bool {
	return ticker == ZeroBalanceTicker ||
		IsCashTicker(ticker) ||
		IsManualTicker(ticker) ||
		IsSimpleFINSyntheticTicker(ticker)
}
