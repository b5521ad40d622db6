package repo

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
)

func newTestDB(t *testing.T) *sql.DB {
	t.Helper()
	db, err := database.New(database.Config{Path: filepath.Join(t.TempDir(), "test.db")})
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	require.NoError(t, db.InitSchema())
	return db.Conn()
}

func seedAccountAndSecurity(t *testing.T, db *sql.DB) (int64, int64) {
	t.Helper()
	log := zerolog.Nop()
	accountID, err := NewAccountRepository(log).Create(db, &domain.Account{
		ProviderName: "TestProvider", ExternalID: "ext_001", Name: "Taxable",
	})
	require.NoError(t, err)
	sec, err := NewSecurityRepository(log).GetOrCreateByTicker(db, "AAPL")
	require.NoError(t, err)
	return accountID, sec.ID
}

func TestOpenLotsFIFO_NullAcquisitionDatesFirst(t *testing.T) {
	db := newTestDB(t)
	accountID, securityID := seedAccountAndSecurity(t, db)
	lots := NewLotRepository(zerolog.Nop())

	early := time.Date(2024, time.January, 1, 0, 0, 0, 0, time.UTC)
	late := time.Date(2024, time.June, 1, 0, 0, 0, 0, time.UTC)

	// Insert dated lots first so insertion order cannot mask the sort.
	lateID, err := lots.Create(db, &domain.HoldingLot{
		AccountID: accountID, SecurityID: securityID, Ticker: "AAPL",
		AcquisitionDate: &late, CostBasisPerUnit: decimal.NewFromInt(140),
		OriginalQuantity: decimal.NewFromInt(10), CurrentQuantity: decimal.NewFromInt(10),
		Source: domain.LotSourceActivity,
	})
	require.NoError(t, err)
	earlyID, err := lots.Create(db, &domain.HoldingLot{
		AccountID: accountID, SecurityID: securityID, Ticker: "AAPL",
		AcquisitionDate: &early, CostBasisPerUnit: decimal.NewFromInt(120),
		OriginalQuantity: decimal.NewFromInt(10), CurrentQuantity: decimal.NewFromInt(10),
		Source: domain.LotSourceActivity,
	})
	require.NoError(t, err)
	nullID, err := lots.Create(db, &domain.HoldingLot{
		AccountID: accountID, SecurityID: securityID, Ticker: "AAPL",
		AcquisitionDate: nil, CostBasisPerUnit: decimal.NewFromInt(100),
		OriginalQuantity: decimal.NewFromInt(10), CurrentQuantity: decimal.NewFromInt(10),
		Source: domain.LotSourceInitial,
	})
	require.NoError(t, err)

	ordered, err := lots.OpenLotsFIFO(db, accountID, securityID)
	require.NoError(t, err)
	require.Len(t, ordered, 3)
	assert.Equal(t, nullID, ordered[0].ID, "NULL acquisition date sorts first")
	assert.Equal(t, earlyID, ordered[1].ID)
	assert.Equal(t, lateID, ordered[2].ID)
}

func TestOpenLotsFIFO_ExcludesClosedLots(t *testing.T) {
	db := newTestDB(t)
	accountID, securityID := seedAccountAndSecurity(t, db)
	lots := NewLotRepository(zerolog.Nop())

	_, err := lots.Create(db, &domain.HoldingLot{
		AccountID: accountID, SecurityID: securityID, Ticker: "AAPL",
		CostBasisPerUnit: decimal.NewFromInt(100),
		OriginalQuantity: decimal.NewFromInt(10), CurrentQuantity: decimal.Zero,
		IsClosed: true, Source: domain.LotSourceInitial,
	})
	require.NoError(t, err)
	openID, err := lots.Create(db, &domain.HoldingLot{
		AccountID: accountID, SecurityID: securityID, Ticker: "AAPL",
		CostBasisPerUnit: decimal.NewFromInt(110),
		OriginalQuantity: decimal.NewFromInt(5), CurrentQuantity: decimal.NewFromInt(5),
		Source: domain.LotSourceInferred,
	})
	require.NoError(t, err)

	ordered, err := lots.OpenLotsFIFO(db, accountID, securityID)
	require.NoError(t, err)
	require.Len(t, ordered, 1)
	assert.Equal(t, openID, ordered[0].ID)

	sum, err := lots.SumOpenQuantity(db, accountID, securityID)
	require.NoError(t, err)
	assert.True(t, sum.Equal(decimal.NewFromInt(5)))
}

func TestConsumeQuantity_ClosesAtZero(t *testing.T) {
	db := newTestDB(t)
	accountID, securityID := seedAccountAndSecurity(t, db)
	lots := NewLotRepository(zerolog.Nop())

	id, err := lots.Create(db, &domain.HoldingLot{
		AccountID: accountID, SecurityID: securityID, Ticker: "AAPL",
		CostBasisPerUnit: decimal.NewFromInt(100),
		OriginalQuantity: decimal.NewFromInt(10), CurrentQuantity: decimal.NewFromInt(10),
		Source: domain.LotSourceInitial,
	})
	require.NoError(t, err)

	require.NoError(t, lots.ConsumeQuantity(db, id, decimal.Zero, true))

	all, err := lots.ListForAccountSecurity(db, accountID, securityID)
	require.NoError(t, err)
	require.Len(t, all, 1)
	assert.True(t, all[0].IsClosed)
	assert.True(t, all[0].CurrentQuantity.IsZero())
}

func TestBuysInWindow_BoundsAndCase(t *testing.T) {
	db := newTestDB(t)
	accountID, _ := seedAccountAndSecurity(t, db)
	activities := NewActivityRepository(zerolog.Nop())

	after := time.Date(2025, time.March, 1, 12, 0, 0, 0, time.UTC)
	through := time.Date(2025, time.March, 10, 12, 0, 0, 0, time.UTC)

	mk := func(externalID, ticker string, when time.Time, typ domain.ActivityType) {
		units := decimal.NewFromInt(1)
		price := decimal.NewFromInt(100)
		_, err := activities.Create(db, &domain.Activity{
			AccountID: accountID, ProviderName: "TestProvider", ExternalID: externalID,
			ActivityDate: when, Type: typ, Amount: decimal.NewFromInt(100),
			Ticker: ticker, Units: &units, Price: &price, Currency: "USD",
		})
		require.NoError(t, err)
	}

	mk("at_boundary_start", "AAPL", after, domain.ActivityBuy)                      // excluded: > after is strict
	mk("inside_lowercase", "aapl", after.Add(24*time.Hour), domain.ActivityBuy)     // included, case-insensitive
	mk("at_boundary_end", "AAPL", through, domain.ActivityBuy)                      // included: <= through
	mk("outside", "AAPL", through.Add(time.Second), domain.ActivityBuy)             // excluded
	mk("wrong_type", "AAPL", after.Add(48*time.Hour), domain.ActivitySell)          // excluded from buys
	mk("wrong_ticker", "MSFT", after.Add(48*time.Hour), domain.ActivityBuy)         // excluded

	buys, err := activities.BuysInWindow(db, accountID, "AAPL", after, through)
	require.NoError(t, err)
	require.Len(t, buys, 2)
	assert.Equal(t, "inside_lowercase", buys[0].ExternalID)
	assert.Equal(t, "at_boundary_end", buys[1].ExternalID)

	sells, err := activities.SellsInWindow(db, accountID, "AAPL", after, through)
	require.NoError(t, err)
	require.Len(t, sells, 1)
	assert.Equal(t, "wrong_type", sells[0].ExternalID)
}

func TestDHVUpsert_SameDaySecondWriteWins(t *testing.T) {
	db := newTestDB(t)
	log := zerolog.Nop()
	accountID, securityID := seedAccountAndSecurity(t, db)

	sessions := NewSyncSessionRepository(log)
	snapshots := NewSnapshotRepository(log)
	dhv := NewDHVRepository(log)

	mkSnap := func() int64 {
		sessionID := uuid.NewString()
		require.NoError(t, sessions.Create(db, &domain.SyncSession{ID: sessionID, Timestamp: time.Now().UTC(), IsComplete: true}))
		id, err := snapshots.Create(db, &domain.AccountSnapshot{
			AccountID: accountID, SyncSessionID: sessionID,
			Status: domain.SnapshotStatusSuccess, TotalValue: decimal.Zero,
		})
		require.NoError(t, err)
		return id
	}
	snap1 := mkSnap()
	snap2 := mkSnap()

	day := time.Date(2025, time.June, 10, 0, 0, 0, 0, time.UTC)
	row := domain.DailyHoldingValue{
		ValuationDate: day, AccountID: accountID, AccountSnapshotID: snap1,
		SecurityID: securityID, Ticker: "AAPL",
		Quantity: decimal.NewFromInt(10), ClosePrice: decimal.NewFromInt(150), MarketValue: decimal.NewFromInt(1500),
	}
	require.NoError(t, dhv.Upsert(db, row, false))

	row.AccountSnapshotID = snap2
	row.ClosePrice = decimal.NewFromInt(152)
	row.MarketValue = decimal.NewFromInt(1520)
	require.NoError(t, dhv.Upsert(db, row, false))

	var count int
	require.NoError(t, db.QueryRow(`SELECT COUNT(*) FROM daily_holding_values WHERE account_id = ?`, accountID).Scan(&count))
	assert.Equal(t, 1, count, "same-day double sync never duplicates rows")

	rows, err := dhv.LatestForAccount(db, accountID)
	require.NoError(t, err)
	require.Len(t, rows, 1)
	assert.Equal(t, snap2, rows[0].AccountSnapshotID, "later snapshot wins")
	assert.True(t, rows[0].ClosePrice.Equal(decimal.NewFromInt(152)))
}
