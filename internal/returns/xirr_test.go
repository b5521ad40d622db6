package returns

import (
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aristath/ledgerfolio/internal/domain"
)

func TestXIRR_NoFlowsOneYear(t *testing.T) {
	start := date(2024, time.January, 1)
	end := start.AddDate(0, 0, 365)

	// 10000 -> 11000 over exactly 365 days with no flows solves to r = 0.10.
	r, ok := xirr(10000, 11000, nil, start, end)
	require.True(t, ok)
	assert.InDelta(t, 0.10, r, 1e-6)
}

func TestXIRR_DepositMidPeriod(t *testing.T) {
	// V_start=10000 at D0, deposit 5000 at D0+10, V_end=16000 at D0+30.
	// The money-weighted return is positive even though nominal value grew
	// only $1000 beyond the deposit.
	start := date(2024, time.March, 1)
	end := start.AddDate(0, 0, 30)
	flows := []cashFlow{{When: start.AddDate(0, 0, 10), Amount: 5000}}

	r, ok := xirr(10000, 16000, flows, start, end)
	require.True(t, ok)
	assert.Greater(t, r, 0.0)
}

func TestXIRR_WithdrawalReducesReturn(t *testing.T) {
	start := date(2024, time.March, 1)
	end := start.AddDate(0, 0, 30)
	flows := []cashFlow{{When: start.AddDate(0, 0, 10), Amount: -5000}}

	// 10000 with 5000 withdrawn ends at 5500: the remaining money earned.
	r, ok := xirr(10000, 5500, flows, start, end)
	require.True(t, ok)
	assert.Greater(t, r, 0.0)

	// Ending at 4500 means the period lost money.
	r, ok = xirr(10000, 4500, flows, start, end)
	require.True(t, ok)
	assert.Less(t, r, 0.0)
}

func TestXIRR_TotalLossDoesNotConverge(t *testing.T) {
	start := date(2024, time.January, 1)
	end := start.AddDate(0, 0, 365)

	// A total loss drives the solver toward the r = -1 singularity.
	_, ok := xirr(10000, 0, nil, start, end)
	assert.False(t, ok)
}

func TestXIRR_ZeroStartZeroFlows(t *testing.T) {
	start := date(2024, time.January, 1)
	end := start.AddDate(0, 0, 30)

	// f(r) is constant -V_end; the derivative is zero and the solver bails.
	_, ok := xirr(0, 100, nil, start, end)
	assert.False(t, ok)
}

func TestClassifyFlows_SignConventions(t *testing.T) {
	when := time.Date(2024, time.May, 2, 14, 0, 0, 0, time.UTC)
	rows := []domain.Activity{
		{Type: domain.ActivityDeposit, Amount: decimal.NewFromInt(-500), ActivityDate: when},
		{Type: domain.ActivityWithdrawal, Amount: decimal.NewFromInt(200), ActivityDate: when},
		{Type: domain.ActivityTransfer, Amount: decimal.NewFromInt(-300), ActivityDate: when},
		{Type: domain.ActivityReceive, Amount: decimal.NewFromInt(150), ActivityDate: when},
		{Type: domain.ActivityBuy, Amount: decimal.NewFromInt(9999), ActivityDate: when},
		{Type: domain.ActivityDividend, Amount: decimal.NewFromInt(42), ActivityDate: when},
	}

	flows, sum := classifyFlows(rows)

	// buy and dividend are internal reallocations, never flows.
	require.Len(t, flows, 4)
	assert.Equal(t, 500.0, flows[0].Amount)  // deposit: abs
	assert.Equal(t, -200.0, flows[1].Amount) // withdrawal: -abs
	assert.Equal(t, -300.0, flows[2].Amount) // transfer: sign as-is
	assert.Equal(t, 150.0, flows[3].Amount)  // receive: sign as-is
	assert.True(t, sum.Equal(decimal.NewFromInt(150)))
}

func TestClassifyFlows_SameDateFlowsStayDistinct(t *testing.T) {
	when := time.Date(2024, time.May, 2, 0, 0, 0, 0, time.UTC)
	rows := []domain.Activity{
		{Type: domain.ActivityDeposit, Amount: decimal.NewFromInt(100), ActivityDate: when},
		{Type: domain.ActivityDeposit, Amount: decimal.NewFromInt(100), ActivityDate: when},
	}
	flows, sum := classifyFlows(rows)
	assert.Len(t, flows, 2)
	assert.True(t, sum.Equal(decimal.NewFromInt(200)))
}
