package repo

import (
	"database/sql"
	"fmt"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"github.com/aristath/ledgerfolio/internal/domain"
)

// DHVRepository handles the daily_holding_values table.
type DHVRepository struct {
	log zerolog.Logger
}

// NewDHVRepository creates a DHVRepository.
func NewDHVRepository(log zerolog.Logger) *DHVRepository {
	return &DHVRepository{log: log.With().Str("repo", "dhv").Logger()}
}

const dateLayout = "2006-01-02"

// Upsert writes one DailyHoldingValue row. On a primary-key collision it
// updates account_snapshot_id, close_price and market_value; if repair is
// true it also updates ticker and quantity.
func (r *DHVRepository) Upsert(q Querier, v domain.DailyHoldingValue, repair bool) error {
	date := v.ValuationDate.Format(dateLayout)
	if repair {
		_, err := q.Exec(`INSERT INTO daily_holding_values
			(valuation_date, account_id, account_snapshot_id, security_id, ticker, quantity, close_price, market_value)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?)
			ON CONFLICT (valuation_date, account_id, security_id) DO UPDATE SET
				account_snapshot_id = excluded.account_snapshot_id,
				ticker = excluded.ticker,
				quantity = excluded.quantity,
				close_price = excluded.close_price,
				market_value = excluded.market_value`,
			date, v.AccountID, v.AccountSnapshotID, v.SecurityID, v.Ticker, v.Quantity.String(), v.ClosePrice.String(), v.MarketValue.String())
		if err != nil {
			return fmt.Errorf("upsert dhv (repair) %s/%d/%d: %w", date, v.AccountID, v.SecurityID, err)
		}
		return nil
	}
	_, err := q.Exec(`INSERT INTO daily_holding_values
		(valuation_date, account_id, account_snapshot_id, security_id, ticker, quantity, close_price, market_value)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (valuation_date, account_id, security_id) DO UPDATE SET
			account_snapshot_id = excluded.account_snapshot_id,
			close_price = excluded.close_price,
			market_value = excluded.market_value`,
		date, v.AccountID, v.AccountSnapshotID, v.SecurityID, v.Ticker, v.Quantity.String(), v.ClosePrice.String(), v.MarketValue.String())
	if err != nil {
		return fmt.Errorf("upsert dhv %s/%d/%d: %w", date, v.AccountID, v.SecurityID, err)
	}
	return nil
}

// DeleteForAccountDate deletes every DHV row for (account, date), used by
// the zero-balance write path and transition cleanup.
func (r *DHVRepository) DeleteForAccountDate(q Querier, accountID int64, date time.Time) error {
	_, err := q.Exec(`DELETE FROM daily_holding_values WHERE account_id = ? AND valuation_date = ?`,
		accountID, date.Format(dateLayout))
	if err != nil {
		return fmt.Errorf("delete dhv for account %d on %s: %w", accountID, date.Format(dateLayout), err)
	}
	return nil
}

// DeleteSentinelForAccountDate deletes only a zero-balance sentinel row for
// (account, date), leaving real rows untouched.
func (r *DHVRepository) DeleteSentinelForAccountDate(q Querier, accountID int64, date time.Time) error {
	_, err := q.Exec(`DELETE FROM daily_holding_values WHERE account_id = ? AND valuation_date = ? AND ticker = ?`,
		accountID, date.Format(dateLayout), domain.ZeroBalanceTicker)
	if err != nil {
		return fmt.Errorf("delete dhv sentinel for account %d on %s: %w", accountID, date.Format(dateLayout), err)
	}
	return nil
}

// DeleteRealForAccountDate deletes every non-sentinel row for (account,
// date) — the other half of transition cleanup.
func (r *DHVRepository) DeleteRealForAccountDate(q Querier, accountID int64, date time.Time) error {
	_, err := q.Exec(`DELETE FROM daily_holding_values WHERE account_id = ? AND valuation_date = ? AND ticker != ?`,
		accountID, date.Format(dateLayout), domain.ZeroBalanceTicker)
	if err != nil {
		return fmt.Errorf("delete real dhv for account %d on %s: %w", accountID, date.Format(dateLayout), err)
	}
	return nil
}

// RowKindsForAccountDate reports whether (account, date) has real rows, a
// sentinel, or both.
func (r *DHVRepository) RowKindsForAccountDate(q Querier, accountID int64, date time.Time) (hasReal, hasSentinel bool, err error) {
	rows, err := q.Query(`SELECT ticker FROM daily_holding_values WHERE account_id = ? AND valuation_date = ?`,
		accountID, date.Format(dateLayout))
	if err != nil {
		return false, false, fmt.Errorf("row kinds for account %d on %s: %w", accountID, date.Format(dateLayout), err)
	}
	defer rows.Close()
	for rows.Next() {
		var t string
		if err := rows.Scan(&t); err != nil {
			return false, false, fmt.Errorf("scan ticker: %w", err)
		}
		if t == domain.ZeroBalanceTicker {
			hasSentinel = true
		} else {
			hasReal = true
		}
	}
	return hasReal, hasSentinel, rows.Err()
}

// MaxDateForAccount returns the latest valuation_date with a DHV row for an
// account, or (zero, false) if none exists — the start-date selection
// input.
func (r *DHVRepository) MaxDateForAccount(q Querier, accountID int64) (time.Time, bool, error) {
	var s sql.NullString
	err := q.QueryRow(`SELECT MAX(valuation_date) FROM daily_holding_values WHERE account_id = ?`, accountID).Scan(&s)
	if err != nil {
		return time.Time{}, false, fmt.Errorf("max dhv date for account %d: %w", accountID, err)
	}
	if !s.Valid || s.String == "" {
		return time.Time{}, false, nil
	}
	t, err := time.Parse(dateLayout, s.String)
	if err != nil {
		return time.Time{}, false, fmt.Errorf("parse max dhv date: %w", err)
	}
	return t, true, nil
}

// SumMarketValueForDate returns the total market value across the given
// accounts on date — the Returns Engine's V(date) primitive.
// Summed in Go with decimal.Decimal rather than in SQL, since
// SQLite has no arbitrary-precision aggregate and monetary fields must
// never pass through a binary float.
func (r *DHVRepository) SumMarketValueForDate(q Querier, accountIDs []int64, date time.Time) (decimal.Decimal, error) {
	sum := decimal.Zero
	if len(accountIDs) == 0 {
		return sum, nil
	}
	query, args := inClauseQuery(
		`SELECT market_value FROM daily_holding_values WHERE valuation_date = ? AND account_id IN (%s)`,
		date.Format(dateLayout), accountIDs)
	rows, err := q.Query(query, args...)
	if err != nil {
		return sum, fmt.Errorf("sum market value on %s: %w", date.Format(dateLayout), err)
	}
	defer rows.Close()
	for rows.Next() {
		var v string
		if err := rows.Scan(&v); err != nil {
			return sum, fmt.Errorf("scan market value: %w", err)
		}
		d, err := decimalFromString(v)
		if err != nil {
			return sum, fmt.Errorf("parse market value: %w", err)
		}
		sum = sum.Add(d)
	}
	return sum, rows.Err()
}

// LatestForAccount returns the DHV rows for an account's most recent
// valuation date — the basis for the holdings read endpoint.
func (r *DHVRepository) LatestForAccount(q Querier, accountID int64) ([]domain.DailyHoldingValue, error) {
	maxDate, ok, err := r.MaxDateForAccount(q, accountID)
	if err != nil || !ok {
		return nil, err
	}
	rows, err := q.Query(`SELECT valuation_date, account_id, account_snapshot_id, security_id, ticker, quantity, close_price, market_value
		FROM daily_holding_values WHERE account_id = ? AND valuation_date = ?`, accountID, maxDate.Format(dateLayout))
	if err != nil {
		return nil, fmt.Errorf("latest dhv for account %d: %w", accountID, err)
	}
	defer rows.Close()
	var out []domain.DailyHoldingValue
	for rows.Next() {
		v, err := scanDHV(rows)
		if err != nil {
			return nil, fmt.Errorf("scan dhv: %w", err)
		}
		out = append(out, *v)
	}
	return out, rows.Err()
}

// DistinctDatesForAccount returns every valuation_date with at least one DHV
// row for an account, ascending — the actual-coverage input to gap
// diagnosis.
func (r *DHVRepository) DistinctDatesForAccount(q Querier, accountID int64) ([]time.Time, error) {
	rows, err := q.Query(`SELECT DISTINCT valuation_date FROM daily_holding_values WHERE account_id = ? ORDER BY valuation_date ASC`, accountID)
	if err != nil {
		return nil, fmt.Errorf("distinct dates for account %d: %w", accountID, err)
	}
	defer rows.Close()
	var out []time.Time
	for rows.Next() {
		var s string
		if err := rows.Scan(&s); err != nil {
			return nil, fmt.Errorf("scan date: %w", err)
		}
		t, err := time.Parse(dateLayout, s)
		if err != nil {
			return nil, fmt.Errorf("parse date: %w", err)
		}
		out = append(out, t)
	}
	return out, rows.Err()
}

func scanDHV(row rowScanner) (*domain.DailyHoldingValue, error) {
	var v domain.DailyHoldingValue
	var date, qty, price, value string
	if err := row.Scan(&date, &v.AccountID, &v.AccountSnapshotID, &v.SecurityID, &v.Ticker, &qty, &price, &value); err != nil {
		return nil, err
	}
	t, err := time.Parse(dateLayout, date)
	if err != nil {
		return nil, fmt.Errorf("parse valuation_date: %w", err)
	}
	v.ValuationDate = t
	if v.Quantity, err = decimalFromString(qty); err != nil {
		return nil, fmt.Errorf("parse quantity: %w", err)
	}
	if v.ClosePrice, err = decimalFromString(price); err != nil {
		return nil, fmt.Errorf("parse close_price: %w", err)
	}
	if v.MarketValue, err = decimalFromString(value); err != nil {
		return nil, fmt.Errorf("parse market_value: %w", err)
	}
	return &v, nil
}

// inClauseQuery builds a "col IN (?, ?, ...)" fragment and its argument
// list, with the fixed leading argument (e.g. a date) prepended.
func inClauseQuery(template string, leadingArg interface{}, ids []int64) (string, []interface{}) {
	placeholders := ""
	args := []interface{}{leadingArg}
	for i, id := range ids {
		if i > 0 {
			placeholders += ","
		}
		placeholders += "?"
		args = append(args, id)
	}
	return fmt.Sprintf(template, placeholders), args
}
