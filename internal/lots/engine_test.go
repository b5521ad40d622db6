package lots

import (
	"database/sql"
	"path/filepath"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aristath/ledgerfolio/internal/database"
	"github.com/aristath/ledgerfolio/internal/domain"
	"github.com/aristath/ledgerfolio/internal/repo"
)

type fixture struct {
	db         *sql.DB
	lots       *repo.LotRepository
	disposals  *repo.DisposalRepository
	activities *repo.ActivityRepository
	holdings   *repo.HoldingRepository
	securities *repo.SecurityRepository
	snapshots  *repo.SnapshotRepository
	sessions   *repo.SyncSessionRepository
	engine     *Engine
	accountID  int64
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	db, err := database.New(database.Config{Path: filepath.Join(t.TempDir(), "test.db")})
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	require.NoError(t, db.InitSchema())

	log := zerolog.Nop()
	f := &fixture{
		db:         db.Conn(),
		lots:       repo.NewLotRepository(log),
		disposals:  repo.NewDisposalRepository(log),
		activities: repo.NewActivityRepository(log),
		holdings:   repo.NewHoldingRepository(log),
		securities: repo.NewSecurityRepository(log),
		snapshots:  repo.NewSnapshotRepository(log),
		sessions:   repo.NewSyncSessionRepository(log),
	}
	f.engine = New(f.lots, f.disposals, f.activities, f.holdings, uuid.NewString, time.UTC, log)

	accounts := repo.NewAccountRepository(log)
	accountID, err := accounts.Create(f.db, &domain.Account{
		ProviderName: "TestProvider", ExternalID: "ext_001", Name: "Taxable", InstitutionName: "Test Bank",
	})
	require.NoError(t, err)
	f.accountID = accountID
	return f
}

type position struct {
	ticker string
	qty    string
	price  string
}

// snapshot writes a sync session at ts plus a successful snapshot carrying
// the given positions, returning the snapshot.
func (f *fixture) snapshot(t *testing.T, ts time.Time, positions ...position) *domain.AccountSnapshot {
	t.Helper()
	sessionID := uuid.NewString()
	require.NoError(t, f.sessions.Create(f.db, &domain.SyncSession{ID: sessionID, Timestamp: ts, IsComplete: true}))

	total := decimal.Zero
	for _, p := range positions {
		total = total.Add(decimal.RequireFromString(p.qty).Mul(decimal.RequireFromString(p.price)))
	}
	snapID, err := f.snapshots.Create(f.db, &domain.AccountSnapshot{
		AccountID: f.accountID, SyncSessionID: sessionID,
		Status: domain.SnapshotStatusSuccess, TotalValue: total,
	})
	require.NoError(t, err)

	for _, p := range positions {
		sec, err := f.securities.GetOrCreateByTicker(f.db, p.ticker)
		require.NoError(t, err)
		qty := decimal.RequireFromString(p.qty)
		price := decimal.RequireFromString(p.price)
		_, err = f.holdings.Create(f.db, &domain.Holding{
			AccountSnapshotID: snapID, SecurityID: sec.ID, Ticker: p.ticker,
			Quantity: qty, SnapshotPrice: price, SnapshotValue: qty.Mul(price),
		})
		require.NoError(t, err)
	}

	snap, err := f.snapshots.Get(f.db, snapID)
	require.NoError(t, err)
	return snap
}

func (f *fixture) securityID(t *testing.T, ticker string) int64 {
	t.Helper()
	sec, err := f.securities.GetOrCreateByTicker(f.db, ticker)
	require.NoError(t, err)
	return sec.ID
}

func (f *fixture) buyActivity(t *testing.T, ticker string, units, price string, when time.Time) int64 {
	t.Helper()
	return f.activity(t, domain.ActivityBuy, ticker, units, price, when)
}

func (f *fixture) activity(t *testing.T, typ domain.ActivityType, ticker string, units, price string, when time.Time) int64 {
	t.Helper()
	u := decimal.RequireFromString(units)
	p := decimal.RequireFromString(price)
	id, err := f.activities.Create(f.db, &domain.Activity{
		AccountID: f.accountID, ProviderName: "TestProvider", ExternalID: uuid.NewString(),
		ActivityDate: when, Type: typ, Amount: u.Mul(p),
		Ticker: ticker, Units: &u, Price: &p, Currency: "USD",
	})
	require.NoError(t, err)
	return id
}

func (f *fixture) accountLots(t *testing.T, ticker string) []domain.HoldingLot {
	t.Helper()
	lots, err := f.lots.ListForAccountSecurity(f.db, f.accountID, f.securityID(t, ticker))
	require.NoError(t, err)
	return lots
}

func sessionTime(daysAgo int) time.Time {
	return time.Now().UTC().Add(-time.Duration(daysAgo) * 24 * time.Hour)
}

func TestReconcile_FirstSyncSeedsInitialLot(t *testing.T) {
	f := newFixture(t)
	currTime := sessionTime(0)
	curr := f.snapshot(t, currTime, position{"AAPL", "100", "150"})

	require.NoError(t, f.engine.ReconcileAccount(f.db, f.accountID, nil, curr, time.Time{}, currTime, nil))

	lots := f.accountLots(t, "AAPL")
	require.Len(t, lots, 1)
	lot := lots[0]
	assert.Equal(t, domain.LotSourceInitial, lot.Source)
	assert.Nil(t, lot.AcquisitionDate)
	assert.Nil(t, lot.ActivityID)
	assert.True(t, lot.OriginalQuantity.Equal(decimal.NewFromInt(100)))
	assert.True(t, lot.CurrentQuantity.Equal(decimal.NewFromInt(100)))
	assert.True(t, lot.CostBasisPerUnit.Equal(decimal.NewFromInt(150)))
	assert.False(t, lot.IsClosed)

	disposals, err := f.disposals.ListForLot(f.db, lot.ID)
	require.NoError(t, err)
	assert.Empty(t, disposals)
}

func TestReconcile_BuyDeltaWithActivityAndInferredRemainder(t *testing.T) {
	f := newFixture(t)
	prevTime := sessionTime(2)
	currTime := sessionTime(0)
	prev := f.snapshot(t, prevTime, position{"AAPL", "100", "150"})
	curr := f.snapshot(t, currTime, position{"AAPL", "150", "155"})
	buyID := f.buyActivity(t, "AAPL", "30", "148", sessionTime(1))

	require.NoError(t, f.engine.ReconcileAccount(f.db, f.accountID, prev, curr, prevTime, currTime, nil))

	lots := f.accountLots(t, "AAPL")
	require.Len(t, lots, 3)

	bySource := map[domain.LotSource]domain.HoldingLot{}
	for _, l := range lots {
		bySource[l.Source] = l
	}

	initial := bySource[domain.LotSourceInitial]
	assert.True(t, initial.OriginalQuantity.Equal(decimal.NewFromInt(100)))
	assert.True(t, initial.CostBasisPerUnit.Equal(decimal.NewFromInt(150)))

	activity := bySource[domain.LotSourceActivity]
	assert.True(t, activity.OriginalQuantity.Equal(decimal.NewFromInt(30)))
	assert.True(t, activity.CostBasisPerUnit.Equal(decimal.NewFromInt(148)))
	require.NotNil(t, activity.ActivityID)
	assert.Equal(t, buyID, *activity.ActivityID)
	assert.NotNil(t, activity.AcquisitionDate)

	inferred := bySource[domain.LotSourceInferred]
	assert.True(t, inferred.OriginalQuantity.Equal(decimal.NewFromInt(20)))
	assert.True(t, inferred.CostBasisPerUnit.Equal(decimal.NewFromInt(155)))
	assert.Nil(t, inferred.AcquisitionDate)
}

func TestReconcile_FIFOSellAcrossTwoLots(t *testing.T) {
	f := newFixture(t)
	secID := f.securityID(t, "AAPL")

	acq1 := time.Date(2024, time.January, 1, 0, 0, 0, 0, time.UTC)
	acq2 := time.Date(2024, time.June, 1, 0, 0, 0, 0, time.UTC)
	l1ID, err := f.lots.Create(f.db, &domain.HoldingLot{
		AccountID: f.accountID, SecurityID: secID, Ticker: "AAPL",
		AcquisitionDate: &acq1, CostBasisPerUnit: decimal.NewFromInt(120),
		OriginalQuantity: decimal.NewFromInt(40), CurrentQuantity: decimal.NewFromInt(40),
		Source: domain.LotSourceActivity,
	})
	require.NoError(t, err)
	l2ID, err := f.lots.Create(f.db, &domain.HoldingLot{
		AccountID: f.accountID, SecurityID: secID, Ticker: "AAPL",
		AcquisitionDate: &acq2, CostBasisPerUnit: decimal.NewFromInt(140),
		OriginalQuantity: decimal.NewFromInt(60), CurrentQuantity: decimal.NewFromInt(60),
		Source: domain.LotSourceActivity,
	})
	require.NoError(t, err)

	prevTime := sessionTime(2)
	currTime := sessionTime(0)
	prev := f.snapshot(t, prevTime, position{"AAPL", "100", "150"})
	curr := f.snapshot(t, currTime, position{"AAPL", "50", "150"})

	require.NoError(t, f.engine.ReconcileAccount(f.db, f.accountID, prev, curr, prevTime, currTime, nil))

	lots := f.accountLots(t, "AAPL")
	byID := map[int64]domain.HoldingLot{}
	for _, l := range lots {
		byID[l.ID] = l
	}
	assert.True(t, byID[l1ID].CurrentQuantity.IsZero())
	assert.True(t, byID[l1ID].IsClosed)
	assert.True(t, byID[l2ID].CurrentQuantity.Equal(decimal.NewFromInt(50)))
	assert.False(t, byID[l2ID].IsClosed)

	d1, err := f.disposals.ListForLot(f.db, l1ID)
	require.NoError(t, err)
	require.Len(t, d1, 1)
	d2, err := f.disposals.ListForLot(f.db, l2ID)
	require.NoError(t, err)
	require.Len(t, d2, 1)

	assert.True(t, d1[0].Quantity.Equal(decimal.NewFromInt(40)))
	assert.True(t, d2[0].Quantity.Equal(decimal.NewFromInt(10)))
	assert.Equal(t, d1[0].DisposalGroupID, d2[0].DisposalGroupID)
	assert.Equal(t, domain.DisposalSourceInferred, d1[0].Source)
	assert.True(t, d1[0].ProceedsPerUnit.Equal(decimal.NewFromInt(150)))
}

func TestReconcile_FullSellMatchesSingleSellActivity(t *testing.T) {
	f := newFixture(t)
	prevTime := sessionTime(2)
	currTime := sessionTime(0)
	prev := f.snapshot(t, prevTime, position{"AAPL", "100", "150"})
	curr := f.snapshot(t, currTime) // liquidated
	sellID := f.activity(t, domain.ActivitySell, "AAPL", "100", "160", sessionTime(1))

	require.NoError(t, f.engine.ReconcileAccount(f.db, f.accountID, prev, curr, prevTime, currTime, nil))

	lots := f.accountLots(t, "AAPL")
	require.Len(t, lots, 1)
	assert.True(t, lots[0].IsClosed)
	assert.True(t, lots[0].CurrentQuantity.IsZero())

	disposals, err := f.disposals.ListForLot(f.db, lots[0].ID)
	require.NoError(t, err)
	require.Len(t, disposals, 1)
	d := disposals[0]
	assert.Equal(t, domain.DisposalSourceActivity, d.Source)
	require.NotNil(t, d.ActivityID)
	assert.Equal(t, sellID, *d.ActivityID)
	assert.True(t, d.ProceedsPerUnit.Equal(decimal.NewFromInt(160)))
	assert.True(t, d.Quantity.Equal(decimal.NewFromInt(100)))
}

func TestReconcile_ActivityQuantityCappedAtDelta(t *testing.T) {
	f := newFixture(t)
	prevTime := sessionTime(2)
	currTime := sessionTime(0)
	prev := f.snapshot(t, prevTime, position{"AAPL", "100", "150"})
	curr := f.snapshot(t, currTime, position{"AAPL", "150", "155"})
	f.buyActivity(t, "AAPL", "80", "148", sessionTime(1)) // exceeds the +50 delta

	require.NoError(t, f.engine.ReconcileAccount(f.db, f.accountID, prev, curr, prevTime, currTime, nil))

	lots := f.accountLots(t, "AAPL")
	require.Len(t, lots, 2) // initial + capped activity lot, no inferred
	for _, l := range lots {
		if l.Source == domain.LotSourceActivity {
			assert.True(t, l.OriginalQuantity.Equal(decimal.NewFromInt(50)))
		}
		assert.NotEqual(t, domain.LotSourceInferred, l.Source)
	}
}

func TestReconcile_MultipleBuysMatchedChronologically(t *testing.T) {
	f := newFixture(t)
	prevTime := sessionTime(3)
	currTime := sessionTime(0)
	prev := f.snapshot(t, prevTime, position{"AAPL", "100", "150"})
	curr := f.snapshot(t, currTime, position{"AAPL", "150", "155"})
	// Inserted out of order; matching must be chronological.
	f.buyActivity(t, "AAPL", "30", "152", sessionTime(1))
	f.buyActivity(t, "AAPL", "30", "148", sessionTime(2))

	require.NoError(t, f.engine.ReconcileAccount(f.db, f.accountID, prev, curr, prevTime, currTime, nil))

	lots := f.accountLots(t, "AAPL")
	var activityLots []domain.HoldingLot
	for _, l := range lots {
		if l.Source == domain.LotSourceActivity {
			activityLots = append(activityLots, l)
		}
	}
	require.Len(t, activityLots, 2)
	// The earlier buy (148) consumes first and keeps its full 30; the later
	// buy is capped at the remaining 20.
	assert.True(t, activityLots[0].CostBasisPerUnit.Equal(decimal.NewFromInt(148)))
	assert.True(t, activityLots[0].OriginalQuantity.Equal(decimal.NewFromInt(30)))
	assert.True(t, activityLots[1].CostBasisPerUnit.Equal(decimal.NewFromInt(152)))
	assert.True(t, activityLots[1].OriginalQuantity.Equal(decimal.NewFromInt(20)))
}

func TestReconcile_CaseInsensitiveTickerMatching(t *testing.T) {
	f := newFixture(t)
	prevTime := sessionTime(2)
	currTime := sessionTime(0)
	prev := f.snapshot(t, prevTime, position{"AAPL", "100", "150"})
	curr := f.snapshot(t, currTime, position{"AAPL", "130", "155"})
	f.buyActivity(t, "aapl", "30", "148", sessionTime(1))

	require.NoError(t, f.engine.ReconcileAccount(f.db, f.accountID, prev, curr, prevTime, currTime, nil))

	var found bool
	for _, l := range f.accountLots(t, "AAPL") {
		if l.Source == domain.LotSourceActivity {
			found = true
			assert.True(t, l.OriginalQuantity.Equal(decimal.NewFromInt(30)))
		}
	}
	assert.True(t, found, "lowercase buy activity should match uppercase holding ticker")
}

func TestReconcile_NullAcquisitionLotsDisposeFirst(t *testing.T) {
	f := newFixture(t)
	secID := f.securityID(t, "AAPL")

	acq := time.Date(2024, time.June, 1, 0, 0, 0, 0, time.UTC)
	datedID, err := f.lots.Create(f.db, &domain.HoldingLot{
		AccountID: f.accountID, SecurityID: secID, Ticker: "AAPL",
		AcquisitionDate: &acq, CostBasisPerUnit: decimal.NewFromInt(140),
		OriginalQuantity: decimal.NewFromInt(50), CurrentQuantity: decimal.NewFromInt(50),
		Source: domain.LotSourceActivity,
	})
	require.NoError(t, err)
	nullID, err := f.lots.Create(f.db, &domain.HoldingLot{
		AccountID: f.accountID, SecurityID: secID, Ticker: "AAPL",
		AcquisitionDate: nil, CostBasisPerUnit: decimal.NewFromInt(100),
		OriginalQuantity: decimal.NewFromInt(50), CurrentQuantity: decimal.NewFromInt(50),
		Source: domain.LotSourceInitial,
	})
	require.NoError(t, err)

	prevTime := sessionTime(2)
	currTime := sessionTime(0)
	prev := f.snapshot(t, prevTime, position{"AAPL", "100", "150"})
	curr := f.snapshot(t, currTime, position{"AAPL", "60", "150"})

	require.NoError(t, f.engine.ReconcileAccount(f.db, f.accountID, prev, curr, prevTime, currTime, nil))

	byID := map[int64]domain.HoldingLot{}
	for _, l := range f.accountLots(t, "AAPL") {
		byID[l.ID] = l
	}
	assert.True(t, byID[nullID].CurrentQuantity.Equal(decimal.NewFromInt(10)), "NULL acquisition date sorts first under FIFO")
	assert.True(t, byID[datedID].CurrentQuantity.Equal(decimal.NewFromInt(50)))
}

func TestReconcile_UnchangedQuantityIsNoOp(t *testing.T) {
	f := newFixture(t)
	prevTime := sessionTime(2)
	currTime := sessionTime(0)
	prev := f.snapshot(t, prevTime, position{"AAPL", "100", "150"})
	curr := f.snapshot(t, currTime, position{"AAPL", "100", "155"})

	require.NoError(t, f.engine.ReconcileAccount(f.db, f.accountID, prev, curr, prevTime, currTime, nil))
	require.Len(t, f.accountLots(t, "AAPL"), 1)

	// Re-running on the same inputs: Phase 1 finds lots already cover the
	// baseline and Phase 2 sees delta=0.
	require.NoError(t, f.engine.ReconcileAccount(f.db, f.accountID, prev, curr, prevTime, currTime, nil))
	assert.Len(t, f.accountLots(t, "AAPL"), 1)
}

func TestReconcile_ProviderCostBasisPreferred(t *testing.T) {
	f := newFixture(t)
	prevTime := sessionTime(2)
	currTime := sessionTime(0)
	prev := f.snapshot(t, prevTime, position{"AAPL", "100", "150"})
	curr := f.snapshot(t, currTime, position{"AAPL", "150", "155"})

	basis := map[string]decimal.Decimal{"AAPL": decimal.NewFromInt(120)}
	require.NoError(t, f.engine.ReconcileAccount(f.db, f.accountID, prev, curr, prevTime, currTime, basis))

	bySource := map[domain.LotSource]domain.HoldingLot{}
	for _, l := range f.accountLots(t, "AAPL") {
		bySource[l.Source] = l
	}
	assert.True(t, bySource[domain.LotSourceInitial].CostBasisPerUnit.Equal(decimal.NewFromInt(120)),
		"initial seed uses provider cost basis over snapshot price")
	assert.True(t, bySource[domain.LotSourceInferred].CostBasisPerUnit.Equal(decimal.NewFromInt(120)),
		"inferred lot uses provider cost basis over snapshot price")
}

func TestReconcile_MultipleSecuritiesIndependent(t *testing.T) {
	f := newFixture(t)
	prevTime := sessionTime(2)
	currTime := sessionTime(0)
	prev := f.snapshot(t, prevTime, position{"AAPL", "100", "150"}, position{"MSFT", "50", "400"})
	curr := f.snapshot(t, currTime, position{"AAPL", "120", "155"}, position{"MSFT", "30", "410"})

	require.NoError(t, f.engine.ReconcileAccount(f.db, f.accountID, prev, curr, prevTime, currTime, nil))

	aapl := f.accountLots(t, "AAPL")
	openAAPL := decimal.Zero
	for _, l := range aapl {
		if !l.IsClosed {
			openAAPL = openAAPL.Add(l.CurrentQuantity)
		}
	}
	assert.True(t, openAAPL.Equal(decimal.NewFromInt(120)))

	msft := f.accountLots(t, "MSFT")
	openMSFT := decimal.Zero
	for _, l := range msft {
		if !l.IsClosed {
			openMSFT = openMSFT.Add(l.CurrentQuantity)
		}
	}
	assert.True(t, openMSFT.Equal(decimal.NewFromInt(30)))

	var msftDisposed decimal.Decimal
	for _, l := range msft {
		ds, err := f.disposals.ListForLot(f.db, l.ID)
		require.NoError(t, err)
		for _, d := range ds {
			msftDisposed = msftDisposed.Add(d.Quantity)
		}
	}
	assert.True(t, msftDisposed.Equal(decimal.NewFromInt(20)))
}

func TestBasisOrPrice(t *testing.T) {
	snap := decimal.NewFromInt(155)
	basis := map[string]decimal.Decimal{"AAPL": decimal.NewFromInt(120)}

	assert.True(t, basisOrPrice(basis, "aapl", snap).Equal(decimal.NewFromInt(120)))
	assert.True(t, basisOrPrice(basis, "MSFT", snap).Equal(snap))
	assert.True(t, basisOrPrice(nil, "AAPL", snap).Equal(snap))
}
