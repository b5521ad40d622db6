package repo

import (
	"database/sql"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/aristath/ledgerfolio/internal/domain"
)

// AccountRepository handles the accounts table.
type AccountRepository struct {
	log zerolog.Logger
}

// NewAccountRepository creates an AccountRepository.
func NewAccountRepository(log zerolog.Logger) *AccountRepository {
	return &AccountRepository{log: log.With().Str("repo", "account").Logger()}
}

// FindByProviderExternalID looks up an account by its unique
// (provider_name, external_id) pair. Returns nil, nil if not found.
func (r *AccountRepository) FindByProviderExternalID(q Querier, providerName, externalID string) (*domain.Account, error) {
	row := q.QueryRow(accountSelectCols+` FROM accounts WHERE provider_name = ? AND external_id = ?`, providerName, externalID)
	acc, err := scanAccount(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("find account by provider/external_id: %w", err)
	}
	return acc, nil
}

// Get loads a single account by ID.
func (r *AccountRepository) Get(q Querier, id int64) (*domain.Account, error) {
	row := q.QueryRow(accountSelectCols+` FROM accounts WHERE id = ?`, id)
	acc, err := scanAccount(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get account %d: %w", id, err)
	}
	return acc, nil
}

// ListActiveByProvider returns every active account for a provider.
func (r *AccountRepository) ListActiveByProvider(q Querier, providerName string) ([]domain.Account, error) {
	rows, err := q.Query(accountSelectCols+` FROM accounts WHERE provider_name = ? AND is_active = 1`, providerName)
	if err != nil {
		return nil, fmt.Errorf("list active accounts for %s: %w", providerName, err)
	}
	defer rows.Close()
	return scanAccounts(rows)
}

// ListAll returns every account, for the HTTP read surface.
func (r *AccountRepository) ListAll(q Querier) ([]domain.Account, error) {
	rows, err := q.Query(accountSelectCols + ` FROM accounts ORDER BY id`)
	if err != nil {
		return nil, fmt.Errorf("list accounts: %w", err)
	}
	defer rows.Close()
	return scanAccounts(rows)
}

// ListActive returns every active account.
func (r *AccountRepository) ListActive(q Querier) ([]domain.Account, error) {
	rows, err := q.Query(accountSelectCols + ` FROM accounts WHERE is_active = 1 ORDER BY id`)
	if err != nil {
		return nil, fmt.Errorf("list active accounts: %w", err)
	}
	defer rows.Close()
	return scanAccounts(rows)
}

// ListActiveIncludedInAllocation returns active accounts with
// include_in_allocation = true — the portfolio-scope filter for V(date).
func (r *AccountRepository) ListActiveIncludedInAllocation(q Querier) ([]domain.Account, error) {
	rows, err := q.Query(accountSelectCols + ` FROM accounts WHERE is_active = 1 AND include_in_allocation = 1 ORDER BY id`)
	if err != nil {
		return nil, fmt.Errorf("list allocation accounts: %w", err)
	}
	defer rows.Close()
	return scanAccounts(rows)
}

// Create inserts a new, active account and returns its assigned ID.
func (r *AccountRepository) Create(q Querier, a *domain.Account) (int64, error) {
	res, err := q.Exec(`INSERT INTO accounts
		(provider_name, external_id, name, name_user_edited, institution_name, is_active, include_in_allocation)
		VALUES (?, ?, ?, ?, ?, 1, 1)`,
		a.ProviderName, a.ExternalID, a.Name, a.NameUserEdited, a.InstitutionName)
	if err != nil {
		return 0, fmt.Errorf("create account: %w", err)
	}
	return res.LastInsertId()
}

// UpdateFromProvider updates institution_name always, and name only when
// the account's name was never user-edited.
func (r *AccountRepository) UpdateFromProvider(q Querier, accountID int64, name, institutionName string, nameUserEdited bool) error {
	if nameUserEdited {
		_, err := q.Exec(`UPDATE accounts SET institution_name = ? WHERE id = ?`, institutionName, accountID)
		if err != nil {
			return fmt.Errorf("update account %d institution: %w", accountID, err)
		}
		return nil
	}
	_, err := q.Exec(`UPDATE accounts SET institution_name = ?, name = ? WHERE id = ?`, institutionName, name, accountID)
	if err != nil {
		return fmt.Errorf("update account %d: %w", accountID, err)
	}
	return nil
}

// SetSyncStatus updates the post-sync bookkeeping fields for one account.
func (r *AccountRepository) SetSyncStatus(q Querier, accountID int64, status domain.SyncStatus, syncErr *string, syncTime time.Time, balanceDate *time.Time) error {
	if balanceDate != nil {
		_, err := q.Exec(`UPDATE accounts SET last_sync_status = ?, last_sync_error = ?, last_sync_time = ?, balance_date = ? WHERE id = ?`,
			string(status), syncErr, syncTime, *balanceDate, accountID)
		if err != nil {
			return fmt.Errorf("set sync status for account %d: %w", accountID, err)
		}
		return nil
	}
	_, err := q.Exec(`UPDATE accounts SET last_sync_status = ?, last_sync_error = ?, last_sync_time = ? WHERE id = ?`,
		string(status), syncErr, syncTime, accountID)
	if err != nil {
		return fmt.Errorf("set sync status for account %d: %w", accountID, err)
	}
	return nil
}

// MarkStale records a staleness-gate skip: status
// becomes stale and last_sync_time advances, but last_sync_error is left
// as-is.
func (r *AccountRepository) MarkStale(q Querier, accountID int64, syncTime time.Time) error {
	_, err := q.Exec(`UPDATE accounts SET last_sync_status = ?, last_sync_time = ? WHERE id = ?`,
		string(domain.SyncStatusStale), syncTime, accountID)
	if err != nil {
		return fmt.Errorf("mark account %d stale: %w", accountID, err)
	}
	return nil
}

// MarkFailed records a sync failure for an account (typed provider error or
// per-account write-path failure).
func (r *AccountRepository) MarkFailed(q Querier, accountID int64, message string) error {
	_, err := q.Exec(`UPDATE accounts SET last_sync_status = ?, last_sync_error = ? WHERE id = ?`,
		string(domain.SyncStatusFailed), message, accountID)
	if err != nil {
		return fmt.Errorf("mark account %d failed: %w", accountID, err)
	}
	return nil
}

// SetError marks an account errored with a joined message, without
// advancing last_sync_time (structured-error and provider-error-guard
// paths never advance the clock since no
// snapshot was attempted).
func (r *AccountRepository) SetError(q Querier, accountID int64, message string) error {
	status := string(domain.SyncStatusError)
	_, err := q.Exec(`UPDATE accounts SET last_sync_status = ?, last_sync_error = ? WHERE id = ?`, status, message, accountID)
	if err != nil {
		return fmt.Errorf("set error for account %d: %w", accountID, err)
	}
	return nil
}

// Deactivate marks an account inactive, keeping its history intact.
func (r *AccountRepository) Deactivate(q Querier, accountID int64, when time.Time, supersededBy *int64) error {
	_, err := q.Exec(`UPDATE accounts SET is_active = 0, deactivated_at = ?, superseded_by_account_id = ? WHERE id = ?`,
		when, supersededBy, accountID)
	if err != nil {
		return fmt.Errorf("deactivate account %d: %w", accountID, err)
	}
	return nil
}

const accountSelectCols = `SELECT id, provider_name, external_id, name, name_user_edited, institution_name,
	is_active, deactivated_at, superseded_by_account_id, include_in_allocation, assigned_asset_class_id,
	last_sync_time, last_sync_status, last_sync_error, balance_date`

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanAccount(row rowScanner) (*domain.Account, error) {
	var a domain.Account
	var lastSyncStatus sql.NullString
	var lastSyncError sql.NullString
	var deactivatedAt, lastSyncTime, balanceDate sql.NullTime
	var supersededBy, assignedAssetClassID sql.NullInt64
	err := row.Scan(&a.ID, &a.ProviderName, &a.ExternalID, &a.Name, &a.NameUserEdited, &a.InstitutionName,
		&a.IsActive, &deactivatedAt, &supersededBy, &a.IncludeInAllocation, &assignedAssetClassID,
		&lastSyncTime, &lastSyncStatus, &lastSyncError, &balanceDate)
	if err != nil {
		return nil, err
	}
	if deactivatedAt.Valid {
		t := deactivatedAt.Time
		a.DeactivatedAt = &t
	}
	if supersededBy.Valid {
		v := supersededBy.Int64
		a.SupersededByAccountID = &v
	}
	if assignedAssetClassID.Valid {
		v := assignedAssetClassID.Int64
		a.AssignedAssetClassID = &v
	}
	if lastSyncTime.Valid {
		t := lastSyncTime.Time
		a.LastSyncTime = &t
	}
	if lastSyncStatus.Valid {
		s := domain.SyncStatus(lastSyncStatus.String)
		a.LastSyncStatus = &s
	}
	if lastSyncError.Valid {
		s := lastSyncError.String
		a.LastSyncError = &s
	}
	if balanceDate.Valid {
		t := balanceDate.Time
		a.BalanceDate = &t
	}
	return &a, nil
}

func scanAccounts(rows *sql.Rows) ([]domain.Account, error) {
	var out []domain.Account
	for rows.Next() {
		a, err := scanAccount(rows)
		if err != nil {
			return nil, fmt.Errorf("scan account: %w", err)
		}
		out = append(out, *a)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate accounts: %w", err)
	}
	return out, nil
}
