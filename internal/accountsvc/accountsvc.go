// Package accountsvc implements the account read/management surface behind
// the `/api/accounts*` endpoints: listing accounts with their latest value,
// holdings with lot summaries (cost basis, gain/loss), manual activities,
// and deactivation with an optional closing snapshot. None of the engine
// math lives here.
package accountsvc

import (
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"github.com/aristath/ledgerfolio/internal/domain"
	"github.com/aristath/ledgerfolio/internal/repo"
)

// Service composes the repositories needed to answer account-scoped reads
// and to perform the manual deactivate operation.
type Service struct {
	db         *sql.DB
	accounts   *repo.AccountRepository
	snapshots  *repo.SnapshotRepository
	holdings   *repo.HoldingRepository
	dhv        *repo.DHVRepository
	securities *repo.SecurityRepository
	lots       *repo.LotRepository
	disposals  *repo.DisposalRepository
	activities *repo.ActivityRepository
	sessions   *repo.SyncSessionRepository
	log        zerolog.Logger
}

// New creates a Service.
func New(
	db *sql.DB,
	accounts *repo.AccountRepository,
	snapshots *repo.SnapshotRepository,
	holdings *repo.HoldingRepository,
	dhv *repo.DHVRepository,
	securities *repo.SecurityRepository,
	lots *repo.LotRepository,
	disposals *repo.DisposalRepository,
	activities *repo.ActivityRepository,
	sessions *repo.SyncSessionRepository,
	log zerolog.Logger,
) *Service {
	return &Service{
		db: db, accounts: accounts, snapshots: snapshots, holdings: holdings, dhv: dhv,
		securities: securities, lots: lots, disposals: disposals, activities: activities,
		sessions: sessions, log: log.With().Str("component", "accountsvc").Logger(),
	}
}

// AccountView is one account plus its latest known value, for `GET /api/accounts`.
type AccountView struct {
	domain.Account
	Value decimal.Decimal
}

// ListAccounts returns every account — active and inactive, since an
// inactive account keeps its history — with its latest DHV-summed value.
func (s *Service) ListAccounts() ([]AccountView, error) {
	accounts, err := s.accounts.ListAll(s.db)
	if err != nil {
		return nil, fmt.Errorf("list accounts: %w", err)
	}
	out := make([]AccountView, 0, len(accounts))
	for _, acc := range accounts {
		rows, err := s.dhv.LatestForAccount(s.db, acc.ID)
		if err != nil {
			return nil, fmt.Errorf("latest DHV for account %d: %w", acc.ID, err)
		}
		total := decimal.Zero
		for _, r := range rows {
			total = total.Add(r.MarketValue)
		}
		out = append(out, AccountView{Account: acc, Value: total})
	}
	return out, nil
}

// LotSummary is one open-or-closed security position's accounting summary
// for `GET /api/accounts/{id}/holdings`.
type LotSummary struct {
	Ticker            string
	Quantity          decimal.Decimal
	ClosePrice        decimal.Decimal
	MarketValue       decimal.Decimal
	CostBasis         decimal.Decimal
	UnrealizedGain    decimal.Decimal
	UnrealizedGainPct decimal.Decimal
	RealizedGain      decimal.Decimal
	LotCount          int
}

// Holdings returns the account's latest DHV rows joined with a lot-derived
// cost basis, open lot count, and realized/unrealized gain, per security.
// The `_ZERO_BALANCE` sentinel is excluded, as it is from every lot and
// allocation query.
func (s *Service) Holdings(accountID int64) ([]LotSummary, error) {
	rows, err := s.dhv.LatestForAccount(s.db, accountID)
	if err != nil {
		return nil, fmt.Errorf("latest DHV for account %d: %w", accountID, err)
	}

	out := make([]LotSummary, 0, len(rows))
	for _, row := range rows {
		if row.Ticker == domain.ZeroBalanceTicker {
			continue
		}
		summary := LotSummary{
			Ticker: row.Ticker, Quantity: row.Quantity,
			ClosePrice: row.ClosePrice, MarketValue: row.MarketValue,
		}

		allLots, err := s.lots.ListForAccountSecurity(s.db, accountID, row.SecurityID)
		if err != nil {
			return nil, fmt.Errorf("list lots for account %d security %d: %w", accountID, row.SecurityID, err)
		}

		openQty := decimal.Zero
		costTotal := decimal.Zero
		for _, lot := range allLots {
			if !lot.IsClosed {
				summary.LotCount++
				openQty = openQty.Add(lot.CurrentQuantity)
				costTotal = costTotal.Add(lot.CurrentQuantity.Mul(lot.CostBasisPerUnit))
			}
			disposals, err := s.disposals.ListForLot(s.db, lot.ID)
			if err != nil {
				return nil, fmt.Errorf("list disposals for lot %d: %w", lot.ID, err)
			}
			for _, d := range disposals {
				gain := d.ProceedsPerUnit.Sub(lot.CostBasisPerUnit).Mul(d.Quantity)
				summary.RealizedGain = summary.RealizedGain.Add(gain)
			}
		}
		summary.CostBasis = costTotal
		summary.UnrealizedGain = summary.MarketValue.Sub(costTotal)
		if !costTotal.IsZero() {
			summary.UnrealizedGainPct = summary.UnrealizedGain.Div(costTotal).Mul(decimal.NewFromInt(100))
		}
		out = append(out, summary)
	}
	return out, nil
}

// ListActivities returns one account's activities, paginated and filtered.
func (s *Service) ListActivities(accountID int64, typeFilter *domain.ActivityType, reviewedFilter *bool, from, to *time.Time, limit, offset int) ([]domain.Activity, error) {
	return s.activities.ListByAccount(s.db, accountID, typeFilter, reviewedFilter, from, to, limit, offset)
}

// CreateManualActivity inserts a user-created activity. ProviderName is
// always "Manual" and UserModified is always true regardless of caller
// input, so a later sync never silently edits it.
func (s *Service) CreateManualActivity(a domain.Activity) (int64, error) {
	a.ProviderName = "Manual"
	a.UserModified = true
	if a.ExternalID == "" {
		a.ExternalID = uuid.NewString()
	}
	return s.activities.Create(s.db, &a)
}

// ErrImmutableActivityDate is returned when a caller attempts to edit the
// date of a synced (non-manual) activity.
var ErrImmutableActivityDate = fmt.Errorf("synced activities have an immutable activity_date")

// ErrNotManual is returned by DeleteActivity when the target activity was
// not user-created.
var ErrNotManual = fmt.Errorf("only manual activities can be deleted")

// DeleteActivity removes a manual activity. Synced activities cannot be
// deleted at all.
func (s *Service) DeleteActivity(activityID int64) error {
	a, err := s.activities.Get(s.db, activityID)
	if err != nil {
		return fmt.Errorf("get activity %d: %w", activityID, err)
	}
	if a == nil {
		return nil
	}
	if a.ProviderName != "Manual" {
		return ErrNotManual
	}
	return s.activities.Delete(s.db, activityID)
}

// DeactivateOptions configures Deactivate.
type DeactivateOptions struct {
	CreateClosingSnapshot bool
	SupersededByAccountID *int64
}

// Deactivate marks an account inactive and, optionally, writes a $0
// closing snapshot dated today for historical continuity: the valuation
// engine's next backfill sees a zero-holdings window and emits the
// `_ZERO_BALANCE` sentinel for every day after it.
func (s *Service) Deactivate(accountID int64, opts DeactivateOptions) error {
	now := time.Now().UTC()

	if opts.CreateClosingSnapshot {
		sessionID := uuid.NewString()
		if err := s.sessions.Create(s.db, &domain.SyncSession{ID: sessionID, Timestamp: now, IsComplete: true}); err != nil {
			return fmt.Errorf("create closing snapshot session: %w", err)
		}
		snapshot := &domain.AccountSnapshot{
			AccountID: accountID, SyncSessionID: sessionID,
			Status: domain.SnapshotStatusSuccess, TotalValue: decimal.Zero, BalanceDate: &now,
		}
		if _, err := s.snapshots.Create(s.db, snapshot); err != nil {
			return fmt.Errorf("create closing snapshot: %w", err)
		}
	}

	if err := s.accounts.Deactivate(s.db, accountID, now, opts.SupersededByAccountID); err != nil {
		return fmt.Errorf("deactivate account %d: %w", accountID, err)
	}
	return nil
}
