// Package returns implements the Returns Engine: money-weighted,
// cumulative (never annualized) XIRR over named calendar windows, for the
// whole portfolio or a single account.
package returns

import (
	"fmt"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"github.com/aristath/ledgerfolio/internal/domain"
	"github.com/aristath/ledgerfolio/internal/repo"
)

type Engine struct {
	accounts   *repo.AccountRepository
	snapshots  *repo.SnapshotRepository
	dhv        *repo.DHVRepository
	activities *repo.ActivityRepository
	loc        *time.Location
	log        zerolog.Logger
}

func New(
	accountRepo *repo.AccountRepository,
	snapshotRepo *repo.SnapshotRepository,
	dhvRepo *repo.DHVRepository,
	activityRepo *repo.ActivityRepository,
	loc *time.Location,
	log zerolog.Logger,
) *Engine {
	if loc == nil {
		loc = time.Local
	}
	return &Engine{
		accounts: accountRepo, snapshots: snapshotRepo, dhv: dhvRepo, activities: activityRepo,
		loc: loc, log: log.With().Str("component", "returns").Logger(),
	}
}

// PeriodResult is one named window's computed return.
type PeriodResult struct {
	Period            Period
	StartDate         time.Time
	EndDate           time.Time
	StartValue        decimal.Decimal
	EndValue          decimal.Decimal
	IRR               *float64
	HasSufficientData bool
}

// ReturnSet is one scope's (portfolio or single account) results across
// every requested period.
type ReturnSet struct {
	ScopeID   *int64
	ScopeName string
	Periods   []PeriodResult
}

// Result is GetReturns' top-level response shape.
type Result struct {
	Portfolio *ReturnSet
	Accounts  []ReturnSet
}

const (
	ScopeAll       = "all"
	ScopePortfolio = "portfolio"
)

// GetReturns computes return sets for the requested scope. scope is "all"
// (portfolio plus every active account), "portfolio" (portfolio only), or
// a decimal account ID string (that account only). A nil periods slice
// uses DefaultPeriods.
func (e *Engine) GetReturns(q repo.Querier, scope string, periods []Period) (Result, error) {
	if periods == nil {
		periods = DefaultPeriods
	}
	var result Result

	switch scope {
	case ScopeAll:
		portfolio, err := e.portfolioReturnSet(q, periods)
		if err != nil {
			return result, fmt.Errorf("portfolio return set: %w", err)
		}
		result.Portfolio = &portfolio

		active, err := e.accounts.ListActive(q)
		if err != nil {
			return result, fmt.Errorf("list active accounts: %w", err)
		}
		for _, acc := range active {
			rs, err := e.accountReturnSet(q, acc, periods)
			if err != nil {
				return result, fmt.Errorf("account %d return set: %w", acc.ID, err)
			}
			result.Accounts = append(result.Accounts, rs)
		}
		return result, nil

	case ScopePortfolio:
		portfolio, err := e.portfolioReturnSet(q, periods)
		if err != nil {
			return result, fmt.Errorf("portfolio return set: %w", err)
		}
		result.Portfolio = &portfolio
		return result, nil

	default:
		var accountID int64
		if _, err := fmt.Sscanf(scope, "%d", &accountID); err != nil {
			return result, fmt.Errorf("unrecognized scope %q", scope)
		}
		acc, err := e.accounts.Get(q, accountID)
		if err != nil {
			return result, fmt.Errorf("get account %d: %w", accountID, err)
		}
		if acc == nil {
			return result, fmt.Errorf("account %d not found", accountID)
		}
		rs, err := e.accountReturnSet(q, *acc, periods)
		if err != nil {
			return result, fmt.Errorf("account %d return set: %w", accountID, err)
		}
		result.Accounts = []ReturnSet{rs}
		return result, nil
	}
}

func (e *Engine) portfolioReturnSet(q repo.Querier, periods []Period) (ReturnSet, error) {
	accounts, err := e.accounts.ListActiveIncludedInAllocation(q)
	if err != nil {
		return ReturnSet{}, fmt.Errorf("list allocation accounts: %w", err)
	}
	ids := make([]int64, len(accounts))
	for i, a := range accounts {
		ids[i] = a.ID
	}

	rs := ReturnSet{ScopeID: nil, ScopeName: "Portfolio"}
	yesterday := e.yesterday()
	for _, p := range periods {
		pr, err := e.computePeriod(q, p, yesterday, ids, nil)
		if err != nil {
			return rs, fmt.Errorf("period %s: %w", p, err)
		}
		rs.Periods = append(rs.Periods, pr)
	}
	return rs, nil
}

func (e *Engine) accountReturnSet(q repo.Querier, acc domain.Account, periods []Period) (ReturnSet, error) {
	id := acc.ID
	rs := ReturnSet{ScopeID: &id, ScopeName: acc.Name}
	yesterday := e.yesterday()
	for _, p := range periods {
		pr, err := e.computePeriod(q, p, yesterday, []int64{acc.ID}, &acc.ID)
		if err != nil {
			return rs, fmt.Errorf("period %s: %w", p, err)
		}
		rs.Periods = append(rs.Periods, pr)
	}
	return rs, nil
}

func (e *Engine) yesterday() time.Time {
	now := time.Now().In(e.loc)
	y := now.AddDate(0, 0, -1)
	return time.Date(y.Year(), y.Month(), y.Day(), 0, 0, 0, 0, e.loc)
}

// computePeriod resolves one period's dates, values, cash flows and IRR.
// singleAccountID is non-nil for an account-scoped computation (liquidation
// inference only applies there — a whole portfolio is never "liquidated").
func (e *Engine) computePeriod(q repo.Querier, p Period, yesterday time.Time, accountIDs []int64, singleAccountID *int64) (PeriodResult, error) {
	start, end, err := dateRange(p, yesterday)
	if err != nil {
		return PeriodResult{}, err
	}

	startValue, err := e.dhv.SumMarketValueForDate(q, accountIDs, start)
	if err != nil {
		return PeriodResult{}, fmt.Errorf("V(start): %w", err)
	}
	endValue, err := e.dhv.SumMarketValueForDate(q, accountIDs, end)
	if err != nil {
		return PeriodResult{}, fmt.Errorf("V(end): %w", err)
	}

	liquidationInferred := false
	if endValue.IsZero() && singleAccountID != nil {
		hasReal, hasSentinel, err := e.dhv.RowKindsForAccountDate(q, *singleAccountID, end)
		if err != nil {
			return PeriodResult{}, fmt.Errorf("row kinds at end: %w", err)
		}
		if !hasReal && !hasSentinel && startValue.IsPositive() {
			snap, err := e.snapshots.LatestSuccessfulAsOf(q, *singleAccountID, end)
			if err != nil {
				return PeriodResult{}, fmt.Errorf("latest successful snapshot: %w", err)
			}
			if snap != nil && snap.TotalValue.IsZero() {
				liquidationInferred = true
			}
		}
	}

	activityRows, err := e.activities.CashFlowsInWindow(q, accountIDs, start, end)
	if err != nil {
		return PeriodResult{}, fmt.Errorf("cash flows: %w", err)
	}
	flows, flowSum := classifyFlows(activityRows)

	hasSufficientData := startValue.IsPositive() || !flowSum.IsZero() || liquidationInferred

	var irr *float64
	if hasSufficientData && !liquidationInferred {
		startF, _ := startValue.Float64()
		endF, _ := endValue.Float64()
		r, ok := xirr(startF, endF, flows, start, end)
		if ok {
			irr = &r
		}
	}

	return PeriodResult{
		Period: p, StartDate: start, EndDate: end,
		StartValue: startValue, EndValue: endValue,
		IRR: irr, HasSufficientData: hasSufficientData,
	}, nil
}

// classifyFlows converts activity rows to signed cash-flow events
// and returns their sum alongside.
func classifyFlows(rows []domain.Activity) ([]cashFlow, decimal.Decimal) {
	var out []cashFlow
	sum := decimal.Zero
	for _, a := range rows {
		var amount decimal.Decimal
		switch a.Type {
		case domain.ActivityDeposit:
			amount = a.Amount.Abs()
		case domain.ActivityWithdrawal:
			amount = a.Amount.Abs().Neg()
		case domain.ActivityTransfer, domain.ActivityReceive:
			amount = a.Amount
		default:
			continue
		}
		f, _ := amount.Float64()
		out = append(out, cashFlow{When: a.ActivityDate, Amount: f})
		sum = sum.Add(amount)
	}
	return out, sum
}
