// Package lots implements the Lot Reconciliation Engine: it reconstructs
// tax-lot history from the delta between an account's previous and current
// snapshot, honoring buy/sell activities observed in the interval, and
// disposes open lots FIFO.
package lots

import (
	"fmt"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"github.com/aristath/ledgerfolio/internal/domain"
	"github.com/aristath/ledgerfolio/internal/repo"
)

// IDGenerator produces opaque IDs for disposal groups. cmd/main.go wires
// this to uuid.NewString.
type IDGenerator func() string

type Engine struct {
	lots       *repo.LotRepository
	disposals  *repo.DisposalRepository
	activities *repo.ActivityRepository
	holdings   *repo.HoldingRepository
	newID      IDGenerator
	loc        *time.Location
	log        zerolog.Logger
}

func New(
	lotRepo *repo.LotRepository,
	disposalRepo *repo.DisposalRepository,
	activityRepo *repo.ActivityRepository,
	holdingRepo *repo.HoldingRepository,
	newID IDGenerator,
	loc *time.Location,
	log zerolog.Logger,
) *Engine {
	if loc == nil {
		loc = time.Local
	}
	return &Engine{
		lots: lotRepo, disposals: disposalRepo, activities: activityRepo, holdings: holdingRepo,
		newID: newID, loc: loc,
		log: log.With().Str("component", "lots").Logger(),
	}
}

// securityPosition is one security's quantity and reference price in a
// snapshot, keyed by security ID.
type securityPosition struct {
	SecurityID    int64
	Ticker        string
	Quantity      decimal.Decimal
	SnapshotPrice decimal.Decimal
}

// ReconcileAccount runs both phases against the delta between prevSnapshot
// (nil on an account's first sync) and currSnapshot. q is the per-account
// savepoint transaction the sync orchestrator already holds. prevSessionTime
// and currSessionTime bound the activity-matching window for Phase 2; both
// are the respective sync sessions' timestamps. prevSessionTime is ignored
// when prevSnapshot is nil. providerCostBasis carries the provider-reported
// per-unit cost basis keyed by uppercase ticker, when the provider supplied
// one; it takes precedence over the snapshot price for initial and inferred
// lots. A nil map means "not provided".
func (e *Engine) ReconcileAccount(q repo.Querier, accountID int64, prevSnapshot *domain.AccountSnapshot, currSnapshot *domain.AccountSnapshot, prevSessionTime, currSessionTime time.Time, providerCostBasis map[string]decimal.Decimal) error {
	currHoldings, err := e.holdings.ListBySnapshot(q, currSnapshot.ID)
	if err != nil {
		return fmt.Errorf("list current holdings: %w", err)
	}
	curr := positionsBySecurity(currHoldings)

	var prev map[int64]securityPosition
	if prevSnapshot != nil {
		prevHoldings, err := e.holdings.ListBySnapshot(q, prevSnapshot.ID)
		if err != nil {
			return fmt.Errorf("list previous holdings: %w", err)
		}
		prev = positionsBySecurity(prevHoldings)
	}

	securityIDs := unionSecurityIDs(prev, curr)
	for _, securityID := range securityIDs {
		p, hasPrev := prev[securityID]
		c, hasCurr := curr[securityID]

		var baselineQty decimal.Decimal
		var ticker string
		var snapshotPrice decimal.Decimal
		switch {
		case hasPrev:
			baselineQty = p.Quantity
			ticker = p.Ticker
			snapshotPrice = p.SnapshotPrice
		case hasCurr && prevSnapshot == nil:
			baselineQty = c.Quantity
			ticker = c.Ticker
			snapshotPrice = c.SnapshotPrice
		}

		if err := e.seedInitialLot(q, accountID, securityID, ticker, baselineQty, basisOrPrice(providerCostBasis, ticker, snapshotPrice)); err != nil {
			return fmt.Errorf("seed initial lot for security %d: %w", securityID, err)
		}

		if prevSnapshot == nil {
			continue // first sync: seeding only, no delta to process
		}

		var currQty, currPrice decimal.Decimal
		var currTicker string
		if hasCurr {
			currQty, currPrice, currTicker = c.Quantity, c.SnapshotPrice, c.Ticker
		} else {
			currTicker = ticker
		}
		var prevQty decimal.Decimal
		if hasPrev {
			prevQty = p.Quantity
		}

		delta := currQty.Sub(prevQty)
		if delta.IsZero() {
			continue
		}

		fallbackBasis := basisOrPrice(providerCostBasis, currTicker, currPrice)
		if delta.IsPositive() {
			if err := e.processBuy(q, accountID, securityID, currTicker, delta, currPrice, fallbackBasis, prevSessionTime, currSessionTime); err != nil {
				return fmt.Errorf("process buy for security %d: %w", securityID, err)
			}
			continue
		}

		toDispose := delta.Neg()
		if err := e.processSell(q, accountID, securityID, currTicker, toDispose, prevQty, currPrice, fallbackBasis, prevSessionTime, currSessionTime); err != nil {
			return fmt.Errorf("process sell for security %d: %w", securityID, err)
		}
	}

	return nil
}

func positionsBySecurity(holdings []domain.Holding) map[int64]securityPosition {
	out := make(map[int64]securityPosition, len(holdings))
	for _, h := range holdings {
		out[h.SecurityID] = securityPosition{
			SecurityID: h.SecurityID, Ticker: h.Ticker,
			Quantity: h.Quantity, SnapshotPrice: h.SnapshotPrice,
		}
	}
	return out
}

func unionSecurityIDs(prev, curr map[int64]securityPosition) []int64 {
	seen := map[int64]bool{}
	var out []int64
	for id := range prev {
		if !seen[id] {
			seen[id] = true
			out = append(out, id)
		}
	}
	for id := range curr {
		if !seen[id] {
			seen[id] = true
			out = append(out, id)
		}
	}
	return out
}

// seedInitialLot creates a single "initial" lot covering any baseline
// quantity not already represented by open lots.
func (e *Engine) seedInitialLot(q repo.Querier, accountID, securityID int64, ticker string, baselineQty decimal.Decimal, fallbackPrice decimal.Decimal) error {
	if ticker == "" || baselineQty.IsZero() {
		return nil
	}
	openSum, err := e.lots.SumOpenQuantity(q, accountID, securityID)
	if err != nil {
		return fmt.Errorf("sum open quantity: %w", err)
	}
	shortfall := baselineQty.Sub(openSum)
	if !shortfall.IsPositive() {
		return nil
	}
	_, err = e.lots.Create(q, &domain.HoldingLot{
		AccountID: accountID, SecurityID: securityID, Ticker: ticker,
		AcquisitionDate: nil, CostBasisPerUnit: fallbackPrice,
		OriginalQuantity: shortfall, CurrentQuantity: shortfall,
		IsClosed: false, Source: domain.LotSourceInitial,
	})
	return err
}

// basisOrPrice resolves the cost-basis fallback for non-activity lots: the
// provider-reported per-unit basis when one exists for the ticker, else the
// snapshot price.
func basisOrPrice(providerCostBasis map[string]decimal.Decimal, ticker string, snapshotPrice decimal.Decimal) decimal.Decimal {
	if b, ok := providerCostBasis[strings.ToUpper(ticker)]; ok {
		return b
	}
	return snapshotPrice
}
