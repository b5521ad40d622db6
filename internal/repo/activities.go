package repo

import (
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"github.com/aristath/ledgerfolio/internal/domain"
)

// ActivityRepository handles the activities table.
type ActivityRepository struct {
	log zerolog.Logger
}

// NewActivityRepository creates an ActivityRepository.
func NewActivityRepository(log zerolog.Logger) *ActivityRepository {
	return &ActivityRepository{log: log.With().Str("repo", "activity").Logger()}
}

// FindByProviderExternalID looks up an activity by its unique
// (provider_name, external_id) pair.
func (r *ActivityRepository) FindByProviderExternalID(q Querier, providerName, externalID string) (*domain.Activity, error) {
	row := q.QueryRow(activitySelectCols+` FROM activities WHERE provider_name = ? AND external_id = ?`, providerName, externalID)
	a, err := scanActivity(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("find activity by provider/external_id: %w", err)
	}
	return a, nil
}

// Create inserts a new activity and returns its ID.
func (r *ActivityRepository) Create(q Querier, a *domain.Activity) (int64, error) {
	res, err := q.Exec(`INSERT INTO activities
		(account_id, provider_name, external_id, activity_date, type, amount, ticker, units, price, currency, fee, description, is_reviewed, user_modified)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		a.AccountID, a.ProviderName, a.ExternalID, a.ActivityDate, string(a.Type), a.Amount.String(), a.Ticker,
		decimalPtrString(a.Units), decimalPtrString(a.Price), a.Currency, a.Fee.String(), a.Description, a.IsReviewed, a.UserModified)
	if err != nil {
		return 0, fmt.Errorf("create activity for account %d: %w", a.AccountID, err)
	}
	return res.LastInsertId()
}

// UpdateNonUserModifiedFields updates every provider-sourced field on an
// existing activity EXCEPT is_reviewed and user notes, and never touches
// rows where user_modified is already true.
func (r *ActivityRepository) UpdateNonUserModifiedFields(q Querier, id int64, a *domain.Activity) error {
	_, err := q.Exec(`UPDATE activities SET
		activity_date = ?, type = ?, amount = ?, ticker = ?, units = ?, price = ?, currency = ?, fee = ?, description = ?
		WHERE id = ? AND user_modified = 0`,
		a.ActivityDate, string(a.Type), a.Amount.String(), a.Ticker,
		decimalPtrString(a.Units), decimalPtrString(a.Price), a.Currency, a.Fee.String(), a.Description, id)
	if err != nil {
		return fmt.Errorf("update activity %d: %w", id, err)
	}
	return nil
}

// BuysInWindow returns buy activities for (account, ticker) with
// activity_date in (after, through] ordered chronologically, ticker
// matched case-insensitively.
func (r *ActivityRepository) BuysInWindow(q Querier, accountID int64, ticker string, after, through time.Time) ([]domain.Activity, error) {
	return r.typeInWindow(q, accountID, ticker, domain.ActivityBuy, after, through)
}

// SellsInWindow returns sell activities for (account, ticker) with
// activity_date in (after, through] ordered chronologically.
func (r *ActivityRepository) SellsInWindow(q Querier, accountID int64, ticker string, after, through time.Time) ([]domain.Activity, error) {
	return r.typeInWindow(q, accountID, ticker, domain.ActivitySell, after, through)
}

func (r *ActivityRepository) typeInWindow(q Querier, accountID int64, ticker string, typ domain.ActivityType, after, through time.Time) ([]domain.Activity, error) {
	rows, err := q.Query(activitySelectCols+` FROM activities
		WHERE account_id = ? AND type = ? AND UPPER(ticker) = UPPER(?) AND activity_date > ? AND activity_date <= ?
		ORDER BY activity_date ASC, id ASC`,
		accountID, string(typ), ticker, after, through)
	if err != nil {
		return nil, fmt.Errorf("activities in window for account %d ticker %s: %w", accountID, ticker, err)
	}
	defer rows.Close()
	var out []domain.Activity
	for rows.Next() {
		a, err := scanActivity(rows)
		if err != nil {
			return nil, fmt.Errorf("scan activity: %w", err)
		}
		out = append(out, *a)
	}
	return out, rows.Err()
}

// CashFlowsInWindow returns deposit/withdrawal/transfer/receive activities
// for the given accounts within [start, end] — the Returns Engine's cash
// flow stream.
func (r *ActivityRepository) CashFlowsInWindow(q Querier, accountIDs []int64, start, end time.Time) ([]domain.Activity, error) {
	if len(accountIDs) == 0 {
		return nil, nil
	}
	flowTypes := []string{string(domain.ActivityDeposit), string(domain.ActivityWithdrawal), string(domain.ActivityTransfer), string(domain.ActivityReceive)}
	typePlaceholders := strings.TrimSuffix(strings.Repeat("?,", len(flowTypes)), ",")
	idPlaceholders := strings.TrimSuffix(strings.Repeat("?,", len(accountIDs)), ",")

	query := activitySelectCols + fmt.Sprintf(` FROM activities
		WHERE account_id IN (%s) AND type IN (%s) AND activity_date >= ? AND activity_date <= ?
		ORDER BY activity_date ASC, id ASC`, idPlaceholders, typePlaceholders)

	args := make([]interface{}, 0, len(accountIDs)+len(flowTypes)+2)
	for _, id := range accountIDs {
		args = append(args, id)
	}
	for _, t := range flowTypes {
		args = append(args, t)
	}
	args = append(args, start, end)

	rows, err := q.Query(query, args...)
	if err != nil {
		return nil, fmt.Errorf("cash flows in window: %w", err)
	}
	defer rows.Close()
	var out []domain.Activity
	for rows.Next() {
		a, err := scanActivity(rows)
		if err != nil {
			return nil, fmt.Errorf("scan activity: %w", err)
		}
		out = append(out, *a)
	}
	return out, rows.Err()
}

// ListByAccount returns paginated activities for an account, optionally
// filtered by type, reviewed state, and date range
// (GET /api/accounts/{id}/activities).
func (r *ActivityRepository) ListByAccount(q Querier, accountID int64, typeFilter *domain.ActivityType, reviewedFilter *bool, from, to *time.Time, limit, offset int) ([]domain.Activity, error) {
	query := activitySelectCols + ` FROM activities WHERE account_id = ?`
	args := []interface{}{accountID}
	if typeFilter != nil {
		query += ` AND type = ?`
		args = append(args, string(*typeFilter))
	}
	if reviewedFilter != nil {
		query += ` AND is_reviewed = ?`
		args = append(args, *reviewedFilter)
	}
	if from != nil {
		query += ` AND activity_date >= ?`
		args = append(args, *from)
	}
	if to != nil {
		query += ` AND activity_date <= ?`
		args = append(args, *to)
	}
	query += ` ORDER BY activity_date DESC, id DESC LIMIT ? OFFSET ?`
	args = append(args, limit, offset)

	rows, err := q.Query(query, args...)
	if err != nil {
		return nil, fmt.Errorf("list activities for account %d: %w", accountID, err)
	}
	defer rows.Close()
	var out []domain.Activity
	for rows.Next() {
		a, err := scanActivity(rows)
		if err != nil {
			return nil, fmt.Errorf("scan activity: %w", err)
		}
		out = append(out, *a)
	}
	return out, rows.Err()
}

// Get loads a single activity by ID.
func (r *ActivityRepository) Get(q Querier, id int64) (*domain.Activity, error) {
	row := q.QueryRow(activitySelectCols+` FROM activities WHERE id = ?`, id)
	a, err := scanActivity(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	return a, err
}

// Delete removes a manual activity. Callers must verify
// provider_name = "Manual" first; synced activities are immutable.
func (r *ActivityRepository) Delete(q Querier, id int64) error {
	_, err := q.Exec(`DELETE FROM activities WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("delete activity %d: %w", id, err)
	}
	return nil
}

const activitySelectCols = `SELECT id, account_id, provider_name, external_id, activity_date, type, amount, ticker, units, price, currency, fee, description, is_reviewed, user_modified`

func scanActivity(row rowScanner) (*domain.Activity, error) {
	var a domain.Activity
	var typ, amount, fee string
	var unitsNull, priceNull sql.NullString
	if err := row.Scan(&a.ID, &a.AccountID, &a.ProviderName, &a.ExternalID, &a.ActivityDate, &typ, &amount, &a.Ticker,
		&unitsNull, &priceNull, &a.Currency, &fee, &a.Description, &a.IsReviewed, &a.UserModified); err != nil {
		return nil, err
	}
	a.Type = domain.ActivityType(typ)
	var err error
	if a.Amount, err = decimalFromString(amount); err != nil {
		return nil, fmt.Errorf("parse amount: %w", err)
	}
	if a.Fee, err = decimalFromString(fee); err != nil {
		return nil, fmt.Errorf("parse fee: %w", err)
	}
	if a.Units, err = nullableDecimalFromString(unitsNull.Valid, unitsNull.String); err != nil {
		return nil, fmt.Errorf("parse units: %w", err)
	}
	if a.Price, err = nullableDecimalFromString(priceNull.Valid, priceNull.String); err != nil {
		return nil, fmt.Errorf("parse price: %w", err)
	}
	return &a, nil
}

// decimalPtrString renders an optional decimal as a nullable SQL value:
// nil stays NULL rather than becoming the string "0", so Activity.Units and
// Activity.Price round-trip through their nullable database columns.
func decimalPtrString(d *decimal.Decimal) interface{} {
	if d == nil {
		return nil
	}
	return d.String()
}
