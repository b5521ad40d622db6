package valuation

import (
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"github.com/aristath/ledgerfolio/internal/domain"
	"github.com/aristath/ledgerfolio/internal/repo"
)

// WriteDailyValuesForHoldings seeds today's DailyHoldingValue rows directly
// from a freshly written snapshot's holdings, using each holding's own
// snapshot price. It runs inside the per-account savepoint the sync
// orchestrator already holds, so q is that transaction, not e.db. A later
// backfill pass may refine today's close price once market data catches up;
// this call only guarantees today is never left with a gap.
func (e *Engine) WriteDailyValuesForHoldings(q repo.Querier, accountID, snapshotID int64, today time.Time, holdings []domain.Holding) error {
	for _, h := range holdings {
		price := h.SnapshotPrice
		if domain.IsCashTicker(h.Ticker) {
			price = decimal.NewFromInt(1)
		}
		value := h.Quantity.Mul(price).Round(2)
		if err := e.dhv.Upsert(q, domain.DailyHoldingValue{
			ValuationDate:     today,
			AccountID:         accountID,
			AccountSnapshotID: snapshotID,
			SecurityID:        h.SecurityID,
			Ticker:            h.Ticker,
			Quantity:          h.Quantity,
			ClosePrice:        price,
			MarketValue:       value,
		}, false); err != nil {
			return fmt.Errorf("write dhv for %s: %w", h.Ticker, err)
		}
	}
	if err := e.dhv.DeleteSentinelForAccountDate(q, accountID, today); err != nil {
		return fmt.Errorf("delete sentinel: %w", err)
	}
	return nil
}

// WriteZeroBalanceSentinel records that an account held nothing on today,
// replacing any real rows for that date with the single sentinel row
//. The _ZERO_BALANCE security is
// lazy-created like any other, so the sentinel row's
// security_id foreign key always resolves.
func (e *Engine) WriteZeroBalanceSentinel(q repo.Querier, accountID, snapshotID int64, today time.Time) error {
	sentinel, err := e.securities.GetOrCreateByTicker(q, domain.ZeroBalanceTicker)
	if err != nil {
		return fmt.Errorf("resolve sentinel security: %w", err)
	}
	if err := e.dhv.Upsert(q, domain.DailyHoldingValue{
		ValuationDate:     today,
		AccountID:         accountID,
		AccountSnapshotID: snapshotID,
		SecurityID:        sentinel.ID,
		Ticker:            domain.ZeroBalanceTicker,
		Quantity:          decimal.Zero,
		ClosePrice:        decimal.Zero,
		MarketValue:       decimal.Zero,
	}, false); err != nil {
		return fmt.Errorf("write sentinel: %w", err)
	}
	if err := e.dhv.DeleteRealForAccountDate(q, accountID, today); err != nil {
		return fmt.Errorf("delete real rows: %w", err)
	}
	return nil
}
