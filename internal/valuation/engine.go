// Package valuation implements the Portfolio Valuation Engine: it
// reconciles snapshots taken at discrete sync instants with daily
// market-close prices to produce a dense, gap-free daily value table for
// every holding, including sentinel rows for zero-balance accounts.
package valuation

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"github.com/aristath/ledgerfolio/internal/domain"
	"github.com/aristath/ledgerfolio/internal/marketdata"
	"github.com/aristath/ledgerfolio/internal/repo"
)

// cryptoAssetClassName is the asset-class name the engine queries to route
// symbols to the crypto market-data backend.
const cryptoAssetClassName = "Crypto"

// Engine produces DailyHoldingValue rows from sparse snapshots and market
// prices.
type Engine struct {
	db         *sql.DB
	accounts   *repo.AccountRepository
	snapshots  *repo.SnapshotRepository
	holdings   *repo.HoldingRepository
	dhv        *repo.DHVRepository
	securities *repo.SecurityRepository
	market     marketdata.Provider
	loc        *time.Location
	log        zerolog.Logger
}

// New creates a valuation Engine. loc is the local time zone used to
// convert sync-session UTC instants to calendar dates; a nil loc defaults
// to time.Local.
func New(
	db *sql.DB,
	accounts *repo.AccountRepository,
	snapshots *repo.SnapshotRepository,
	holdings *repo.HoldingRepository,
	dhv *repo.DHVRepository,
	securities *repo.SecurityRepository,
	market marketdata.Provider,
	loc *time.Location,
	log zerolog.Logger,
) *Engine {
	if loc == nil {
		loc = time.Local
	}
	return &Engine{
		db: db, accounts: accounts, snapshots: snapshots, holdings: holdings,
		dhv: dhv, securities: securities, market: market, loc: loc,
		log: log.With().Str("component", "valuation").Logger(),
	}
}

// Result reports the outcome of a backfill run.
type Result struct {
	DatesCalculated int
	Errors          []string
}

// yesterday returns the backfill end date: yesterday as a local calendar
// date at midnight.
func (e *Engine) yesterday() time.Time {
	now := time.Now().In(e.loc)
	y := now.AddDate(0, 0, -1)
	return time.Date(y.Year(), y.Month(), y.Day(), 0, 0, 0, 0, e.loc)
}

// Backfill fills gaps from each account's own frontier through yesterday.
func (e *Engine) Backfill(ctx context.Context) (Result, error) {
	return e.run(ctx, false, false)
}

// FullBackfill forces the start date back to the earliest successful sync
// across all accounts; repair additionally overwrites quantity and ticker
// on existing rows (account_snapshot_id, close_price and market_value are
// overwritten either way).
func (e *Engine) FullBackfill(ctx context.Context, repair bool) (Result, error) {
	return e.run(ctx, true, repair)
}

func (e *Engine) run(ctx context.Context, full bool, repair bool) (Result, error) {
	var result Result

	start, ok, err := e.resolveStartDate(full)
	if err != nil {
		return result, fmt.Errorf("resolve start date: %w", err)
	}
	end := e.yesterday()
	if !ok || start.After(end) {
		// Nothing to do: either no account has a snapshot yet, or every
		// account is already current.
		return result, nil
	}

	accountIDs, err := e.snapshots.ListActiveAccountIDsWithSnapshots(e.db)
	if err != nil {
		return result, fmt.Errorf("list accounts with snapshots: %w", err)
	}

	timelines := make(map[int64][]window)
	allTickers := make(map[string]bool)
	for _, accountID := range accountIDs {
		tl, err := e.resolveTimeline(e.db, accountID, start, end)
		if err != nil {
			result.Errors = append(result.Errors, fmt.Sprintf("account %d: timeline: %v", accountID, err))
			continue
		}
		timelines[accountID] = tl
		for _, w := range tl {
			for _, h := range w.Holdings {
				allTickers[h.Ticker] = true
			}
		}
	}

	cryptoTickers, err := e.cryptoTickerSet()
	if err != nil {
		result.Errors = append(result.Errors, fmt.Sprintf("crypto ticker lookup: %v", err))
		cryptoTickers = map[string]bool{}
	}

	fetchList := marketFetchList(allTickers)
	prices, err := e.fetchDensePrices(ctx, fetchList, cryptoTickers, start, end)
	if err != nil {
		result.Errors = append(result.Errors, fmt.Sprintf("market data fetch: %v", err))
		prices = map[string]map[string]decimal.Decimal{}
	}

	sentinelSec, err := e.securities.GetOrCreateByTicker(e.db, domain.ZeroBalanceTicker)
	if err != nil {
		return result, fmt.Errorf("resolve sentinel security: %w", err)
	}

	// touched[accountID][date] tracks which (account, date) pairs this run
	// produced a sentinel for, vs. real rows for, so the transition-cleanup
	// pass can delete the stale kind.
	touchedSentinel := map[int64]map[string]bool{}
	touchedReal := map[int64]map[string]bool{}

	for d := start; !d.After(end); d = d.AddDate(0, 0, 1) {
		dateKey := d.Format("2006-01-02")
		for accountID, tl := range timelines {
			w := activeWindow(tl, d)
			if w == nil {
				continue
			}
			if len(w.Holdings) == 0 {
				if err := e.dhv.Upsert(e.db, domain.DailyHoldingValue{
					ValuationDate: d, AccountID: accountID, AccountSnapshotID: w.AccountSnapshotID,
					SecurityID: sentinelSec.ID, Ticker: domain.ZeroBalanceTicker,
					Quantity: decimal.Zero, ClosePrice: decimal.Zero, MarketValue: decimal.Zero,
				}, repair); err != nil {
					result.Errors = append(result.Errors, fmt.Sprintf("account %d %s: sentinel write: %v", accountID, dateKey, err))
					continue
				}
				markTouched(touchedSentinel, accountID, dateKey)
				result.DatesCalculated++
				continue
			}
			for _, h := range w.Holdings {
				price := resolveClosePrice(prices, h.Ticker, dateKey, h.SnapshotPrice)
				value := h.Quantity.Mul(price).Round(2)
				if err := e.dhv.Upsert(e.db, domain.DailyHoldingValue{
					ValuationDate: d, AccountID: accountID, AccountSnapshotID: w.AccountSnapshotID,
					SecurityID: h.SecurityID, Ticker: h.Ticker,
					Quantity: h.Quantity, ClosePrice: price, MarketValue: value,
				}, repair); err != nil {
					result.Errors = append(result.Errors, fmt.Sprintf("account %d %s %s: dhv write: %v", accountID, dateKey, h.Ticker, err))
					continue
				}
			}
			markTouched(touchedReal, accountID, dateKey)
			result.DatesCalculated++
		}
	}

	if err := e.cleanupTransitions(touchedSentinel, touchedReal); err != nil {
		result.Errors = append(result.Errors, fmt.Sprintf("transition cleanup: %v", err))
	}

	return result, nil
}

func markTouched(m map[int64]map[string]bool, accountID int64, dateKey string) {
	if m[accountID] == nil {
		m[accountID] = map[string]bool{}
	}
	m[accountID][dateKey] = true
}

// cleanupTransitions enforces the sentinel/real mutual-exclusion
// invariant: wherever this run wrote a sentinel, delete any pre-existing
// real rows for that (account, date), and vice versa.
func (e *Engine) cleanupTransitions(sentinel, real map[int64]map[string]bool) error {
	for accountID, dates := range sentinel {
		for dateKey := range dates {
			d, err := time.Parse("2006-01-02", dateKey)
			if err != nil {
				return fmt.Errorf("parse date %s: %w", dateKey, err)
			}
			if real[accountID] != nil && real[accountID][dateKey] {
				continue // both produced this run: not a transition, leave as-is
			}
			if err := e.dhv.DeleteRealForAccountDate(e.db, accountID, d); err != nil {
				return err
			}
		}
	}
	for accountID, dates := range real {
		for dateKey := range dates {
			d, err := time.Parse("2006-01-02", dateKey)
			if err != nil {
				return fmt.Errorf("parse date %s: %w", dateKey, err)
			}
			if sentinel[accountID] != nil && sentinel[accountID][dateKey] {
				continue
			}
			if err := e.dhv.DeleteSentinelForAccountDate(e.db, accountID, d); err != nil {
				return err
			}
		}
	}
	return nil
}

// resolveClosePrice applies the lookup-or-fallback rule: cash tickers are
// forced to 1.00; otherwise use the dense carry-forward price if one
// exists, else fall back to the holding's snapshot price.
func resolveClosePrice(prices map[string]map[string]decimal.Decimal, ticker, dateKey string, snapshotPrice decimal.Decimal) decimal.Decimal {
	if domain.IsCashTicker(ticker) {
		return decimal.NewFromInt(1)
	}
	if byDate, ok := prices[ticker]; ok {
		if p, ok := byDate[dateKey]; ok {
			return p
		}
	}
	return snapshotPrice
}

// marketFetchList excludes tickers that never hit the market-data provider.
func marketFetchList(tickers map[string]bool) []string {
	var out []string
	for t := range tickers {
		if domain.IsNonMarketTicker(t) {
			continue
		}
		out = append(out, t)
	}
	return out
}

func (e *Engine) cryptoTickerSet() (map[string]bool, error) {
	tickers, err := e.securities.TickersInAssetClass(e.db, cryptoAssetClassName)
	if err != nil {
		return nil, err
	}
	set := make(map[string]bool, len(tickers))
	for _, t := range tickers {
		set[t] = true
	}
	return set, nil
}
