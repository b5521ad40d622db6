package sync

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/aristath/ledgerfolio/internal/database"
	"github.com/aristath/ledgerfolio/internal/domain"
	"github.com/aristath/ledgerfolio/internal/providers"
	"github.com/aristath/ledgerfolio/internal/repo"
)

// syncProvider runs one enabled provider's full step.
// SyncAll itself happens outside any savepoint (it does no writes); a typed
// failure there marks accounts failed directly so those writes survive. All
// subsequent writes (account upsert, per-account sync, activity merge, lot
// reconciliation) run inside one savepoint so a processing failure rolls
// back cleanly without contaminating the next provider.
func (o *Orchestrator) syncProvider(ctx context.Context, tx *sql.Tx, adapter providers.Adapter, sessionID string, sessionTime time.Time) (synced, stale bool, err error) {
	name := adapter.Name()
	var accountsSynced, accountsStale, accountsError int
	var logErrMsg *string

	result, callErr := adapter.SyncAll(ctx)
	if callErr != nil {
		if err := o.handleProviderFailure(tx, name, callErr); err != nil {
			return false, false, fmt.Errorf("handle provider failure: %w", err)
		}
		msg := callErr.Error()
		logErrMsg = &msg
		if logErr := o.writeLogEntry(tx, sessionID, name, "failed", 0, 0, 0, logErrMsg); logErr != nil {
			return false, false, fmt.Errorf("write log entry: %w", logErr)
		}
		return false, false, nil
	}

	spErr := database.WithSavepoint(tx, func() error {
		prevSnapshots, err := o.upsertAccounts(tx, name, result.Accounts)
		if err != nil {
			return fmt.Errorf("upsert accounts: %w", err)
		}

		if err := o.applyStructuredErrors(tx, name, result.Errors); err != nil {
			return fmt.Errorf("apply structured errors: %w", err)
		}

		responded := respondedExternalIDs(result)
		accountsByExternal, err := o.activeAccountsByExternalID(tx, name)
		if err != nil {
			return fmt.Errorf("load active accounts: %w", err)
		}

		holdingsByAccount := make(map[string][]providers.Holding)
		for _, h := range result.Holdings {
			holdingsByAccount[h.AccountExternalID] = append(holdingsByAccount[h.AccountExternalID], h)
		}
		activitiesByAccount := make(map[string][]providers.Activity)
		for _, a := range result.Activities {
			activitiesByAccount[a.AccountExternalID] = append(activitiesByAccount[a.AccountExternalID], a)
		}

		hasProviderErrors := len(result.Errors) > 0
		var outcomes []accountSyncOutcome

		for externalID, acc := range accountsByExternal {
			if !responded[externalID] {
				msg := "not returned by provider"
				if err := o.accounts.SetSyncStatus(tx, acc.ID, domain.SyncStatusSkipped, &msg, sessionTime, nil); err != nil {
					return fmt.Errorf("mark account %d skipped: %w", acc.ID, err)
				}
				continue
			}

			accHoldings := holdingsByAccount[externalID]
			accActivities := activitiesByAccount[externalID]
			balanceDate := result.BalanceDates[externalID]

			if hasProviderErrors && len(accHoldings) == 0 && balanceDate == nil {
				msg := joinErrorMessages(result.Errors)
				if err := o.accounts.SetError(tx, acc.ID, msg); err != nil {
					return fmt.Errorf("mark account %d error: %w", acc.ID, err)
				}
				accountsError++
				continue
			}

			prevSnap := prevSnapshots[acc.ID]
			status, newSnapshotID, err := o.syncAccount(tx, acc, prevSnap, accHoldings, accActivities, sessionID, sessionTime, balanceDate)
			if err != nil {
				return fmt.Errorf("sync account %d: %w", acc.ID, err)
			}
			switch status {
			case domain.SyncStatusSuccess:
				accountsSynced++
				currSnap, err := o.snapshots.Get(tx, newSnapshotID)
				if err != nil {
					return fmt.Errorf("load new snapshot %d: %w", newSnapshotID, err)
				}
				var prevTime time.Time
				if prevSnap != nil {
					ts, err := o.snapshots.SessionTimestamp(tx, prevSnap.ID)
					if err == nil && ts.Valid {
						prevTime = ts.Time
					}
				}
				outcomes = append(outcomes, accountSyncOutcome{
					AccountID: acc.ID, Activities: accActivities,
					PrevSnapshot: prevSnap, CurrSnapshot: currSnap,
					PrevSessionTime: prevTime, CurrSessionTime: sessionTime,
					CostBasis: providerCostBasisBySymbol(accHoldings),
				})
			case domain.SyncStatusStale:
				accountsStale++
			case domain.SyncStatusFailed:
				accountsError++
			}
		}

		// Activity merge and lot reconciliation run after every account has
		// written its snapshot, each in its own best-effort savepoint.
		for _, oc := range outcomes {
			if err := database.WithSavepoint(tx, func() error {
				return o.mergeActivities(tx, name, oc.AccountID, oc.Activities)
			}); err != nil {
				o.log.Warn().Err(err).Int64("account_id", oc.AccountID).Msg("activity merge failed")
			}
			if err := database.WithSavepoint(tx, func() error {
				return o.lots.ReconcileAccount(tx, oc.AccountID, oc.PrevSnapshot, oc.CurrSnapshot, oc.PrevSessionTime, oc.CurrSessionTime, oc.CostBasis)
			}); err != nil {
				o.log.Warn().Err(err).Int64("account_id", oc.AccountID).Msg("lot reconciliation failed")
			}
		}

		return nil
	})

	logStatus := "success"
	switch {
	case spErr != nil:
		logStatus = "failed"
		msg := spErr.Error()
		logErrMsg = &msg
		accountsSynced, accountsStale, accountsError = 0, 0, 0
	case accountsError > 0 && accountsSynced == 0:
		logStatus = "failed"
	case accountsError > 0:
		logStatus = "partial"
	}

	if logErr := o.writeLogEntry(tx, sessionID, name, logStatus, accountsSynced, accountsStale, accountsError, logErrMsg); logErr != nil {
		return false, false, fmt.Errorf("write log entry: %w", logErr)
	}

	return accountsSynced > 0, accountsStale > 0, nil
}

func (o *Orchestrator) writeLogEntry(tx *sql.Tx, sessionID, providerName, status string, synced, stale, errored int, errMsg *string) error {
	return o.sessions.WriteLogEntry(tx, repo.LogEntry{
		SyncSessionID: sessionID, ProviderName: providerName, Status: status,
		AccountsSynced: synced, AccountsStale: stale, AccountsError: errored, ErrorMessage: errMsg,
	})
}

// handleProviderFailure marks every active account of a provider failed
// after a typed SyncAll error. Runs directly on tx,
// not inside a savepoint: SyncAll itself made no writes, so there is
// nothing to roll back, and these marks must survive regardless of what
// happens to other providers in this sync.
func (o *Orchestrator) handleProviderFailure(tx *sql.Tx, providerName string, callErr error) error {
	accounts, err := o.accounts.ListActiveByProvider(tx, providerName)
	if err != nil {
		return fmt.Errorf("list active accounts for %s: %w", providerName, err)
	}
	msg := callErr.Error()
	for _, acc := range accounts {
		if err := o.accounts.MarkFailed(tx, acc.ID, msg); err != nil {
			return fmt.Errorf("mark account %d failed: %w", acc.ID, err)
		}
	}
	return nil
}

// upsertAccounts creates or refreshes each provider-reported account and
// returns, per internal account ID, the previous most-recent successful
// snapshot (nil if none) — input lot reconciliation's delta phase needs.
func (o *Orchestrator) upsertAccounts(tx *sql.Tx, providerName string, accs []providers.Account) (map[int64]*domain.AccountSnapshot, error) {
	prev := make(map[int64]*domain.AccountSnapshot, len(accs))
	for _, pa := range accs {
		existing, err := o.accounts.FindByProviderExternalID(tx, providerName, pa.ExternalID)
		if err != nil {
			return nil, fmt.Errorf("find account %s: %w", pa.ExternalID, err)
		}
		var accountID int64
		if existing != nil {
			accountID = existing.ID
			if err := o.accounts.UpdateFromProvider(tx, accountID, pa.Name, pa.Institution, existing.NameUserEdited); err != nil {
				return nil, fmt.Errorf("update account %s: %w", pa.ExternalID, err)
			}
		} else {
			id, err := o.accounts.Create(tx, &domain.Account{
				ProviderName: providerName, ExternalID: pa.ExternalID,
				Name: pa.Name, InstitutionName: pa.Institution,
			})
			if err != nil {
				return nil, fmt.Errorf("create account %s: %w", pa.ExternalID, err)
			}
			accountID = id
		}

		snap, err := o.snapshots.LatestSuccessful(tx, accountID)
		if err != nil {
			return nil, fmt.Errorf("latest successful snapshot for %d: %w", accountID, err)
		}
		prev[accountID] = snap
	}
	return prev, nil
}

// applyStructuredErrors marks the accounts a provider's structured errors
// target: by external account ID, or by case-insensitive institution
// match.
func (o *Orchestrator) applyStructuredErrors(tx *sql.Tx, providerName string, errs []providers.SyncError) error {
	for _, se := range errs {
		var acc *domain.Account
		var err error
		if se.AccountID != "" {
			acc, err = o.accounts.FindByProviderExternalID(tx, providerName, se.AccountID)
		} else if se.InstitutionName != "" {
			acc, err = o.findAccountByInstitution(tx, providerName, se.InstitutionName)
		}
		if err != nil {
			return fmt.Errorf("match structured error: %w", err)
		}
		if acc == nil {
			continue
		}
		if err := o.accounts.SetError(tx, acc.ID, se.Message); err != nil {
			return fmt.Errorf("set error for account %d: %w", acc.ID, err)
		}
	}
	return nil
}

func (o *Orchestrator) findAccountByInstitution(tx *sql.Tx, providerName, institution string) (*domain.Account, error) {
	accounts, err := o.accounts.ListActiveByProvider(tx, providerName)
	if err != nil {
		return nil, err
	}
	for i := range accounts {
		if strings.EqualFold(accounts[i].InstitutionName, institution) {
			return &accounts[i], nil
		}
	}
	return nil, nil
}

func (o *Orchestrator) activeAccountsByExternalID(tx *sql.Tx, providerName string) (map[string]domain.Account, error) {
	accounts, err := o.accounts.ListActiveByProvider(tx, providerName)
	if err != nil {
		return nil, err
	}
	out := make(map[string]domain.Account, len(accounts))
	for _, a := range accounts {
		out[a.ExternalID] = a
	}
	return out, nil
}

// respondedExternalIDs is the union of account IDs appearing in accounts,
// holdings, and balance_dates.
func respondedExternalIDs(result providers.SyncResult) map[string]bool {
	out := make(map[string]bool)
	for _, a := range result.Accounts {
		out[a.ExternalID] = true
	}
	for _, h := range result.Holdings {
		out[h.AccountExternalID] = true
	}
	for id := range result.BalanceDates {
		out[id] = true
	}
	return out
}

// providerCostBasisBySymbol extracts the per-unit cost basis the provider
// reported for each holding, keyed by uppercase symbol — lot
// reconciliation's preferred basis for initial and inferred lots
//. Unparseable or absent values are simply omitted.
func providerCostBasisBySymbol(holdings []providers.Holding) map[string]decimal.Decimal {
	var out map[string]decimal.Decimal
	for _, h := range holdings {
		if h.CostBasis == "" {
			continue
		}
		basis, err := decimal.NewFromString(h.CostBasis)
		if err != nil {
			continue
		}
		if out == nil {
			out = make(map[string]decimal.Decimal)
		}
		out[strings.ToUpper(h.Symbol)] = basis
	}
	return out
}

func joinErrorMessages(errs []providers.SyncError) string {
	msgs := make([]string, len(errs))
	for i, e := range errs {
		msgs[i] = e.Message
	}
	return strings.Join(msgs, "; ")
}
