package assetclass

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

type allocationFixture struct {
	db         *sql.DB
	accounts   *repo.AccountRepository
	securities *repo.SecurityRepository
	classes    *repo.AssetClassRepository
	dhv        *repo.DHVRepository
	svc        *Service
}

func newAllocationFixture(t *testing.T) *allocationFixture {
	t.Helper()
	db, err := database.New(database.Config{Path: filepath.Join(t.TempDir(), "test.db")})
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	require.NoError(t, db.InitSchema())

	log := zerolog.Nop()
	f := &allocationFixture{
		db:         db.Conn(),
		accounts:   repo.NewAccountRepository(log),
		securities: repo.NewSecurityRepository(log),
		classes:    repo.NewAssetClassRepository(log),
		dhv:        repo.NewDHVRepository(log),
	}
	f.svc = New(f.classes, f.accounts, f.securities, f.dhv, f.db, log)
	return f
}

// seedHolding writes an account with one latest-day DHV row for ticker.
func (f *allocationFixture) seedHolding(t *testing.T, externalID, ticker, marketValue string) (accountID, securityID int64) {
	t.Helper()
	log := zerolog.Nop()
	accountID, err := f.accounts.Create(f.db, &domain.Account{
		ProviderName: "TestProvider", ExternalID: externalID, Name: externalID,
	})
	require.NoError(t, err)

	sessions := repo.NewSyncSessionRepository(log)
	snapshots := repo.NewSnapshotRepository(log)
	sessionID := uuid.NewString()
	require.NoError(t, sessions.Create(f.db, &domain.SyncSession{ID: sessionID, Timestamp: time.Now().UTC(), IsComplete: true}))
	snapID, err := snapshots.Create(f.db, &domain.AccountSnapshot{
		AccountID: accountID, SyncSessionID: sessionID,
		Status: domain.SnapshotStatusSuccess, TotalValue: decimal.RequireFromString(marketValue),
	})
	require.NoError(t, err)

	sec, err := f.securities.GetOrCreateByTicker(f.db, ticker)
	require.NoError(t, err)

	mv := decimal.RequireFromString(marketValue)
	day := time.Now().UTC().AddDate(0, 0, -1)
	require.NoError(t, f.dhv.Upsert(f.db, domain.DailyHoldingValue{
		ValuationDate: time.Date(day.Year(), day.Month(), day.Day(), 0, 0, 0, 0, time.UTC),
		AccountID:     accountID, AccountSnapshotID: snapID,
		SecurityID: sec.ID, Ticker: ticker,
		Quantity: decimal.NewFromInt(1), ClosePrice: mv, MarketValue: mv,
	}, false))
	return accountID, sec.ID
}

func TestAllocationSummary_BucketsSumToTotal(t *testing.T) {
	f := newAllocationFixture(t)

	growthID, err := f.classes.Create(f.db, &domain.AssetClass{Name: "Growth", Color: "#00aa00"})
	require.NoError(t, err)
	cashID, err := f.classes.Create(f.db, &domain.AssetClass{Name: "Cash", Color: "#888888"})
	require.NoError(t, err)

	_, aaplSec := f.seedHolding(t, "ext_1", "AAPL", "15000")
	cashAccount, _ := f.seedHolding(t, "ext_2", "_CASH:USD", "2500")
	f.seedHolding(t, "ext_3", "VTUX", "1000") // stays unassigned

	// AAPL carries its own security-level class; the cash account is
	// blanket-assigned at the account level.
	require.NoError(t, f.securities.SetManualAssetClass(f.db, aaplSec, &growthID))
	_, err = f.db.Exec(`UPDATE accounts SET assigned_asset_class_id = ? WHERE id = ?`, cashID, cashAccount)
	require.NoError(t, err)

	allocations, err := f.svc.AllocationSummary()
	require.NoError(t, err)

	byName := map[string]decimal.Decimal{}
	total := decimal.Zero
	for _, a := range allocations {
		byName[a.Name] = a.Value
		total = total.Add(a.Value)
	}
	assert.True(t, byName["Growth"].Equal(decimal.NewFromInt(15000)))
	assert.True(t, byName["Cash"].Equal(decimal.NewFromInt(2500)))
	assert.True(t, byName["Unassigned"].Equal(decimal.NewFromInt(1000)))
	assert.True(t, total.Equal(decimal.NewFromInt(18500)), "allocations plus unassigned cover every holding")
}

func TestHoldingsForClass_SecurityOverrideBeatsAccountAssignment(t *testing.T) {
	f := newAllocationFixture(t)

	growthID, err := f.classes.Create(f.db, &domain.AssetClass{Name: "Growth"})
	require.NoError(t, err)
	bondsID, err := f.classes.Create(f.db, &domain.AssetClass{Name: "Bonds"})
	require.NoError(t, err)

	accountID, aaplSec := f.seedHolding(t, "ext_1", "AAPL", "9000")
	require.NoError(t, f.securities.SetManualAssetClass(f.db, aaplSec, &growthID))
	_, err = f.db.Exec(`UPDATE accounts SET assigned_asset_class_id = ? WHERE id = ?`, bondsID, accountID)
	require.NoError(t, err)

	growth, err := f.svc.HoldingsForClass(&growthID)
	require.NoError(t, err)
	require.Len(t, growth, 1)
	assert.Equal(t, "AAPL", growth[0].Ticker)

	bonds, err := f.svc.HoldingsForClass(&bondsID)
	require.NoError(t, err)
	assert.Empty(t, bonds, "security-level class takes precedence over the account's")
}

func TestAllocationSummary_ExcludesAccountsNotIncludedInAllocation(t *testing.T) {
	f := newAllocationFixture(t)

	f.seedHolding(t, "ext_1", "AAPL", "1000")
	excludedID, _ := f.seedHolding(t, "ext_2", "MSFT", "2000")
	_, err := f.db.Exec(`UPDATE accounts SET include_in_allocation = 0 WHERE id = ?`, excludedID)
	require.NoError(t, err)

	allocations, err := f.svc.AllocationSummary()
	require.NoError(t, err)
	total := decimal.Zero
	for _, a := range allocations {
		total = total.Add(a.Value)
	}
	assert.True(t, total.Equal(decimal.NewFromInt(1000)), "allocation-excluded accounts don't count")
}
