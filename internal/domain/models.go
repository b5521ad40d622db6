// Package domain provides the core entities of the portfolio data model:
// accounts, sync sessions, snapshots, holdings, securities, daily holding
// values, activities, lots and disposals, and asset classes. These are
// plain data records — no attached database session, no lazy relationship
// loading — repositories in internal/repo do all I/O against explicit IDs.
package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

// SyncStatus is an account's last-sync outcome.
type SyncStatus string

const (
	SyncStatusSuccess SyncStatus = "success"
	SyncStatusStale   SyncStatus = "stale"
	SyncStatusFailed  SyncStatus = "failed"
	SyncStatusSkipped SyncStatus = "skipped"
	SyncStatusError   SyncStatus = "error"
	SyncStatusSyncing SyncStatus = "syncing"
)

// Account is a single brokerage or bank connection.
type Account struct {
	ID                    int64
	ProviderName          string
	ExternalID            string
	Name                  string
	NameUserEdited        bool
	InstitutionName       string
	IsActive              bool
	DeactivatedAt         *time.Time
	SupersededByAccountID *int64
	IncludeInAllocation   bool
	AssignedAssetClassID  *int64
	LastSyncTime          *time.Time
	LastSyncStatus        *SyncStatus
	LastSyncError         *string
	BalanceDate           *time.Time
}

// SyncSession is one invocation of the sync orchestrator.
type SyncSession struct {
	ID           string
	Timestamp    time.Time
	IsComplete   bool
	ErrorMessage *string
}

// SnapshotStatus is the outcome of a single account's sync attempt.
type SnapshotStatus string

const (
	SnapshotStatusSuccess SnapshotStatus = "success"
	SnapshotStatusFailed  SnapshotStatus = "failed"
)

// AccountSnapshot is the set of holdings observed for one account during
// one sync session. Immutable once written.
type AccountSnapshot struct {
	ID            int64
	AccountID     int64
	SyncSessionID string
	Status        SnapshotStatus
	TotalValue    decimal.Decimal
	BalanceDate   *time.Time
}

// Holding is one (security, quantity, price, value) row belonging to a
// snapshot. Immutable once written.
type Holding struct {
	ID                int64
	AccountSnapshotID int64
	SecurityID        int64
	Ticker            string
	Quantity          decimal.Decimal
	SnapshotPrice     decimal.Decimal
	SnapshotValue     decimal.Decimal
}

// Security is a ticker-identified instrument, lazily created on first
// reference. Special synthetic tickers (ZeroBalanceTicker, cash, SimpleFIN,
// manual) are flagged non-market by IsNonMarketTicker.
type Security struct {
	ID                 int64
	Ticker             string
	Name               string
	ManualAssetClassID *int64
}

// DailyHoldingValue is the dense per-day valuation row for (date, account,
// security), written by the valuation engine.
type DailyHoldingValue struct {
	ValuationDate     time.Time
	AccountID         int64
	AccountSnapshotID int64
	SecurityID        int64
	Ticker            string
	Quantity          decimal.Decimal
	ClosePrice        decimal.Decimal
	MarketValue       decimal.Decimal
}

// ActivityType classifies an Activity row for cash-flow and lot-matching
// purposes.
type ActivityType string

const (
	ActivityBuy        ActivityType = "buy"
	ActivitySell       ActivityType = "sell"
	ActivityDividend   ActivityType = "dividend"
	ActivityInterest   ActivityType = "interest"
	ActivityDeposit    ActivityType = "deposit"
	ActivityWithdrawal ActivityType = "withdrawal"
	ActivityTransfer   ActivityType = "transfer"
	ActivityReceive    ActivityType = "receive"
	ActivityFee        ActivityType = "fee"
	ActivityTax        ActivityType = "tax"
	ActivityTrade      ActivityType = "trade"
	ActivityOther      ActivityType = "other"
)

// Activity is a single brokerage transaction or user-created entry.
type Activity struct {
	ID           int64
	AccountID    int64
	ProviderName string
	ExternalID   string
	ActivityDate time.Time
	Type         ActivityType
	Amount       decimal.Decimal
	Ticker       string
	Units        *decimal.Decimal
	Price        *decimal.Decimal
	Currency     string
	Fee          decimal.Decimal
	Description  string
	IsReviewed   bool
	UserModified bool
}

// LotSource records how a HoldingLot was derived.
type LotSource string

const (
	LotSourceInitial  LotSource = "initial"
	LotSourceInferred LotSource = "inferred"
	LotSourceActivity LotSource = "activity"
	LotSourceManual   LotSource = "manual"
)

// HoldingLot is a tax-accounting unit with a cost basis and (possibly
// unknown) acquisition date. AcquisitionDate is nil for "initial" lots,
// which sort before every dated lot under FIFO (NULLS FIRST).
type HoldingLot struct {
	ID               int64
	AccountID        int64
	SecurityID       int64
	Ticker           string
	AcquisitionDate  *time.Time
	CostBasisPerUnit decimal.Decimal
	OriginalQuantity decimal.Decimal
	CurrentQuantity  decimal.Decimal
	IsClosed         bool
	Source           LotSource
	ActivityID       *int64
}

// DisposalSource records how a LotDisposal was derived.
type DisposalSource string

const (
	DisposalSourceInferred DisposalSource = "inferred"
	DisposalSourceActivity DisposalSource = "activity"
)

// LotDisposal is a partial or full sell from a lot. Several disposals from
// a single sell share DisposalGroupID.
type LotDisposal struct {
	ID              int64
	HoldingLotID    int64
	AccountID       int64
	SecurityID      int64
	Quantity        decimal.Decimal
	ProceedsPerUnit decimal.Decimal
	DisposalDate    time.Time
	Source          DisposalSource
	ActivityID      *int64
	DisposalGroupID string
}

// AssetClass groups accounts/securities for allocation reporting.
type AssetClass struct {
	ID            int64
	Name          string
	Color         string
	TargetPercent decimal.Decimal
}
