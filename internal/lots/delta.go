package lots

import (
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"github.com/aristath/ledgerfolio/internal/domain"
	"github.com/aristath/ledgerfolio/internal/repo"
)

// processBuy handles delta > 0: matches buy
// activities in the interval chronologically, creating one activity lot
// per match, then an inferred lot for any remainder. fallbackBasis is the
// inferred lot's cost basis (provider cost basis when reported, else the
// current snapshot price).
func (e *Engine) processBuy(q repo.Querier, accountID, securityID int64, ticker string, delta, currPrice, fallbackBasis decimal.Decimal, after, through time.Time) error {
	buys, err := e.activities.BuysInWindow(q, accountID, ticker, after, through)
	if err != nil {
		return fmt.Errorf("buys in window: %w", err)
	}

	remaining := delta
	for _, buy := range buys {
		if !remaining.IsPositive() {
			break
		}
		if buy.Units == nil {
			continue
		}
		consumed := decimal.Min(*buy.Units, remaining)
		if !consumed.IsPositive() {
			continue
		}
		costBasis := currPrice
		if buy.Price != nil {
			costBasis = *buy.Price
		}
		acqDate := toLocalDate(buy.ActivityDate, e.loc)
		buyID := buy.ID
		if _, err := e.lots.Create(q, &domain.HoldingLot{
			AccountID: accountID, SecurityID: securityID, Ticker: ticker,
			AcquisitionDate: &acqDate, CostBasisPerUnit: costBasis,
			OriginalQuantity: consumed, CurrentQuantity: consumed,
			IsClosed: false, Source: domain.LotSourceActivity, ActivityID: &buyID,
		}); err != nil {
			return fmt.Errorf("create activity lot: %w", err)
		}
		remaining = remaining.Sub(consumed)
	}

	if remaining.IsPositive() {
		if _, err := e.lots.Create(q, &domain.HoldingLot{
			AccountID: accountID, SecurityID: securityID, Ticker: ticker,
			AcquisitionDate: nil, CostBasisPerUnit: fallbackBasis,
			OriginalQuantity: remaining, CurrentQuantity: remaining,
			IsClosed: false, Source: domain.LotSourceInferred,
		}); err != nil {
			return fmt.Errorf("create inferred lot: %w", err)
		}
	}
	return nil
}

// processSell handles delta < 0: identifies the disposal source, tops up
// open-lot coverage if it's short, then disposes FIFO across open lots
// under one disposal_group_id.
func (e *Engine) processSell(q repo.Querier, accountID, securityID int64, ticker string, toDispose, prevQty, currPrice, fallbackBasis decimal.Decimal, after, through time.Time) error {
	source := domain.DisposalSourceInferred
	proceedsPerUnit := currPrice
	disposalDate := toLocalDate(through, e.loc)
	var activityID *int64

	if toDispose.Equal(prevQty) {
		sells, err := e.activities.SellsInWindow(q, accountID, ticker, after, through)
		if err != nil {
			return fmt.Errorf("sells in window: %w", err)
		}
		if len(sells) == 1 {
			sell := sells[0]
			source = domain.DisposalSourceActivity
			if sell.Price != nil {
				proceedsPerUnit = *sell.Price
			}
			disposalDate = toLocalDate(sell.ActivityDate, e.loc)
			id := sell.ID
			activityID = &id
		}
	}

	openSum, err := e.lots.SumOpenQuantity(q, accountID, securityID)
	if err != nil {
		return fmt.Errorf("sum open quantity: %w", err)
	}
	if openSum.LessThan(toDispose) {
		shortfall := toDispose.Sub(openSum)
		if _, err := e.lots.Create(q, &domain.HoldingLot{
			AccountID: accountID, SecurityID: securityID, Ticker: ticker,
			AcquisitionDate: nil, CostBasisPerUnit: fallbackBasis,
			OriginalQuantity: shortfall, CurrentQuantity: shortfall,
			IsClosed: false, Source: domain.LotSourceInitial,
		}); err != nil {
			return fmt.Errorf("seed shortfall lot: %w", err)
		}
	}

	openLots, err := e.lots.OpenLotsFIFO(q, accountID, securityID)
	if err != nil {
		return fmt.Errorf("open lots fifo: %w", err)
	}

	groupID := e.newID()
	remaining := toDispose
	for _, lot := range openLots {
		if !remaining.IsPositive() {
			break
		}
		consumed := decimal.Min(lot.CurrentQuantity, remaining)
		if !consumed.IsPositive() {
			continue
		}
		newQty := lot.CurrentQuantity.Sub(consumed)
		if err := e.lots.ConsumeQuantity(q, lot.ID, newQty, newQty.IsZero()); err != nil {
			return fmt.Errorf("consume lot %d: %w", lot.ID, err)
		}
		if _, err := e.disposals.Create(q, &domain.LotDisposal{
			HoldingLotID: lot.ID, AccountID: accountID, SecurityID: securityID,
			Quantity: consumed, ProceedsPerUnit: proceedsPerUnit, DisposalDate: disposalDate,
			Source: source, ActivityID: activityID, DisposalGroupID: groupID,
		}); err != nil {
			return fmt.Errorf("create disposal: %w", err)
		}
		remaining = remaining.Sub(consumed)
	}
	return nil
}

func toLocalDate(t time.Time, loc *time.Location) time.Time {
	lt := t.In(loc)
	return time.Date(lt.Year(), lt.Month(), lt.Day(), 0, 0, 0, 0, loc)
}
