package sync

import (
	"database/sql"
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"github.com/aristath/ledgerfolio/internal/database"
	"github.com/aristath/ledgerfolio/internal/domain"
	"github.com/aristath/ledgerfolio/internal/providers"
)

// accountSyncOutcome carries what activity merge and lot reconciliation
// need once a per-account write path has committed; both run after every
// account in a provider has been processed.
type accountSyncOutcome struct {
	AccountID       int64
	Activities      []providers.Activity
	PrevSnapshot    *domain.AccountSnapshot
	CurrSnapshot    *domain.AccountSnapshot
	PrevSessionTime time.Time
	CurrSessionTime time.Time
	CostBasis       map[string]decimal.Decimal // uppercase ticker -> provider-reported per-unit cost basis
}

// syncAccount processes one account: the staleness gate, duplicate-symbol
// consolidation, and the nested-savepoint write path.
// Returns the resulting status; on success also returns the info the
// caller needs for activity merge and lot reconciliation.
func (o *Orchestrator) syncAccount(
	tx *sql.Tx,
	acc domain.Account,
	prevSnapshot *domain.AccountSnapshot,
	holdings []providers.Holding,
	activities []providers.Activity,
	sessionID string,
	sessionTime time.Time,
	balanceDate *time.Time,
) (domain.SyncStatus, int64, error) {
	if balanceDate != nil && acc.BalanceDate != nil && !balanceDate.UTC().After(acc.BalanceDate.UTC()) {
		if err := o.accounts.MarkStale(tx, acc.ID, sessionTime); err != nil {
			return domain.SyncStatusStale, 0, fmt.Errorf("mark stale: %w", err)
		}
		return domain.SyncStatusStale, 0, nil
	}

	consolidated, err := consolidateHoldings(holdings)
	if err != nil {
		return domain.SyncStatusFailed, 0, fmt.Errorf("consolidate holdings: %w", err)
	}

	var newSnapshotID int64
	var failure error
	spErr := database.WithSavepoint(tx, func() error {
		totalValue := decimal.Zero
		type resolved struct {
			security *domain.Security
			ticker   string
			quantity decimal.Decimal
			price    decimal.Decimal
			value    decimal.Decimal
		}
		var rows []resolved
		for _, h := range consolidated {
			sec, err := o.securities.GetOrCreateByTicker(tx, h.Symbol)
			if err != nil {
				return fmt.Errorf("get or create security %s: %w", h.Symbol, err)
			}
			qty, err := decimal.NewFromString(h.Quantity)
			if err != nil {
				return fmt.Errorf("parse quantity for %s: %w", h.Symbol, err)
			}
			price, err := decimal.NewFromString(h.Price)
			if err != nil {
				return fmt.Errorf("parse price for %s: %w", h.Symbol, err)
			}
			value, err := decimal.NewFromString(h.MarketValue)
			if err != nil {
				return fmt.Errorf("parse market value for %s: %w", h.Symbol, err)
			}
			rows = append(rows, resolved{security: sec, ticker: h.Symbol, quantity: qty, price: price, value: value})
			totalValue = totalValue.Add(value)
		}

		snapshotID, err := o.snapshots.Create(tx, &domain.AccountSnapshot{
			AccountID: acc.ID, SyncSessionID: sessionID, Status: domain.SnapshotStatusSuccess,
			TotalValue: totalValue, BalanceDate: balanceDate,
		})
		if err != nil {
			return fmt.Errorf("create snapshot: %w", err)
		}
		newSnapshotID = snapshotID

		var domainHoldings []domain.Holding
		for _, r := range rows {
			h := domain.Holding{
				AccountSnapshotID: snapshotID, SecurityID: r.security.ID, Ticker: r.ticker,
				Quantity: r.quantity, SnapshotPrice: r.price, SnapshotValue: r.value,
			}
			if _, err := o.holdings.Create(tx, &h); err != nil {
				return fmt.Errorf("create holding %s: %w", r.ticker, err)
			}
			domainHoldings = append(domainHoldings, h)
		}

		today := toLocalDate(sessionTime, o.loc)
		if len(domainHoldings) > 0 {
			if err := o.valuation.WriteDailyValuesForHoldings(tx, acc.ID, snapshotID, today, domainHoldings); err != nil {
				return fmt.Errorf("write daily values: %w", err)
			}
		} else {
			if err := o.valuation.WriteZeroBalanceSentinel(tx, acc.ID, snapshotID, today); err != nil {
				return fmt.Errorf("write zero balance sentinel: %w", err)
			}
		}

		if err := o.accounts.SetSyncStatus(tx, acc.ID, domain.SyncStatusSuccess, nil, sessionTime, balanceDate); err != nil {
			return fmt.Errorf("set sync status: %w", err)
		}
		return nil
	})
	if spErr != nil {
		failure = spErr
	}

	if failure != nil {
		msg := failure.Error()
		if err := o.accounts.MarkFailed(tx, acc.ID, msg); err != nil {
			return domain.SyncStatusFailed, 0, fmt.Errorf("mark account failed after rollback: %w", err)
		}
		if _, err := o.snapshots.Create(tx, &domain.AccountSnapshot{
			AccountID: acc.ID, SyncSessionID: sessionID, Status: domain.SnapshotStatusFailed, TotalValue: decimal.Zero,
		}); err != nil {
			return domain.SyncStatusFailed, 0, fmt.Errorf("create failed snapshot: %w", err)
		}
		return domain.SyncStatusFailed, 0, nil
	}

	return domain.SyncStatusSuccess, newSnapshotID, nil
}

// consolidateHoldings merges multiple provider rows for the same symbol
// (Coinbase-style portfolio-breakdown splits): sums quantity and market
// value, recomputes price, keeps the first row's currency/name. The
// (account_snapshot, security) uniqueness constraint makes this mandatory,
// not cosmetic.
func consolidateHoldings(holdings []providers.Holding) ([]providers.Holding, error) {
	order := make([]string, 0, len(holdings))
	bySymbol := make(map[string]providers.Holding, len(holdings))
	qtySum := make(map[string]decimal.Decimal, len(holdings))
	valueSum := make(map[string]decimal.Decimal, len(holdings))

	for _, h := range holdings {
		qty, err := decimal.NewFromString(h.Quantity)
		if err != nil {
			return nil, fmt.Errorf("parse quantity for %s: %w", h.Symbol, err)
		}
		value, err := decimal.NewFromString(h.MarketValue)
		if err != nil {
			return nil, fmt.Errorf("parse market value for %s: %w", h.Symbol, err)
		}
		if _, seen := bySymbol[h.Symbol]; !seen {
			order = append(order, h.Symbol)
			bySymbol[h.Symbol] = h
			qtySum[h.Symbol] = decimal.Zero
			valueSum[h.Symbol] = decimal.Zero
		}
		qtySum[h.Symbol] = qtySum[h.Symbol].Add(qty)
		valueSum[h.Symbol] = valueSum[h.Symbol].Add(value)
	}

	out := make([]providers.Holding, 0, len(order))
	for _, sym := range order {
		first := bySymbol[sym]
		qty := qtySum[sym]
		value := valueSum[sym]
		price := decimal.Zero
		if !qty.IsZero() {
			price = value.Div(qty)
		}
		out = append(out, providers.Holding{
			AccountExternalID: first.AccountExternalID,
			Symbol:            sym,
			Quantity:          qty.String(),
			Price:             price.String(),
			MarketValue:       value.String(),
			Currency:          first.Currency,
			Name:              first.Name,
			CostBasis:         first.CostBasis,
		})
	}
	return out, nil
}

func toLocalDate(t time.Time, loc *time.Location) time.Time {
	lt := t.In(loc)
	return time.Date(lt.Year(), lt.Month(), lt.Day(), 0, 0, 0, 0, loc)
}
