package repo

import (
	"database/sql"
	"fmt"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"github.com/aristath/ledgerfolio/internal/domain"
)

// LotRepository handles the holding_lots table.
type LotRepository struct {
	log zerolog.Logger
}

// NewLotRepository creates a LotRepository.
func NewLotRepository(log zerolog.Logger) *LotRepository {
	return &LotRepository{log: log.With().Str("repo", "lot").Logger()}
}

// Create inserts a new lot and returns its ID.
func (r *LotRepository) Create(q Querier, l *domain.HoldingLot) (int64, error) {
	res, err := q.Exec(`INSERT INTO holding_lots
		(account_id, security_id, ticker, acquisition_date, cost_basis_per_unit, original_quantity, current_quantity, is_closed, source, activity_id)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		l.AccountID, l.SecurityID, l.Ticker, acquisitionDateArg(l.AcquisitionDate), l.CostBasisPerUnit.String(),
		l.OriginalQuantity.String(), l.CurrentQuantity.String(), l.IsClosed, string(l.Source), l.ActivityID)
	if err != nil {
		return 0, fmt.Errorf("create lot for account %d security %d: %w", l.AccountID, l.SecurityID, err)
	}
	return res.LastInsertId()
}

// SumOpenQuantity returns the sum of current_quantity across open lots for
// (account, security) — Phase 1 seeding's open_sum. Summed
// in Go with decimal.Decimal, never through a SQL float cast.
func (r *LotRepository) SumOpenQuantity(q Querier, accountID, securityID int64) (decimal.Decimal, error) {
	rows, err := q.Query(`SELECT current_quantity FROM holding_lots
		WHERE account_id = ? AND security_id = ? AND is_closed = 0`, accountID, securityID)
	if err != nil {
		return decimal.Zero, fmt.Errorf("sum open quantity for account %d security %d: %w", accountID, securityID, err)
	}
	defer rows.Close()
	sum := decimal.Zero
	for rows.Next() {
		var v string
		if err := rows.Scan(&v); err != nil {
			return decimal.Zero, fmt.Errorf("scan current_quantity: %w", err)
		}
		d, err := decimalFromString(v)
		if err != nil {
			return decimal.Zero, fmt.Errorf("parse current_quantity: %w", err)
		}
		sum = sum.Add(d)
	}
	return sum, rows.Err()
}

// OpenLotsFIFO returns open lots for (account, security) ordered by
// acquisition_date ASC NULLS FIRST, id ASC — the FIFO disposal order.
func (r *LotRepository) OpenLotsFIFO(q Querier, accountID, securityID int64) ([]domain.HoldingLot, error) {
	rows, err := q.Query(lotSelectCols+` FROM holding_lots
		WHERE account_id = ? AND security_id = ? AND is_closed = 0
		ORDER BY (acquisition_date IS NOT NULL), acquisition_date ASC, id ASC`, accountID, securityID)
	if err != nil {
		return nil, fmt.Errorf("open lots fifo for account %d security %d: %w", accountID, securityID, err)
	}
	defer rows.Close()
	var out []domain.HoldingLot
	for rows.Next() {
		l, err := scanLot(rows)
		if err != nil {
			return nil, fmt.Errorf("scan lot: %w", err)
		}
		out = append(out, *l)
	}
	return out, rows.Err()
}

// ConsumeQuantity decrements a lot's current_quantity, closing it when it
// reaches zero.
func (r *LotRepository) ConsumeQuantity(q Querier, lotID int64, newQuantity decimal.Decimal, isClosed bool) error {
	_, err := q.Exec(`UPDATE holding_lots SET current_quantity = ?, is_closed = ? WHERE id = ?`,
		newQuantity.String(), isClosed, lotID)
	if err != nil {
		return fmt.Errorf("consume quantity on lot %d: %w", lotID, err)
	}
	return nil
}

// ListForAccountSecurity returns every lot (open and closed) for (account,
// security), for read endpoints and invariant checks.
func (r *LotRepository) ListForAccountSecurity(q Querier, accountID, securityID int64) ([]domain.HoldingLot, error) {
	rows, err := q.Query(lotSelectCols+` FROM holding_lots WHERE account_id = ? AND security_id = ?
		ORDER BY (acquisition_date IS NOT NULL), acquisition_date ASC, id ASC`, accountID, securityID)
	if err != nil {
		return nil, fmt.Errorf("list lots for account %d security %d: %w", accountID, securityID, err)
	}
	defer rows.Close()
	var out []domain.HoldingLot
	for rows.Next() {
		l, err := scanLot(rows)
		if err != nil {
			return nil, fmt.Errorf("scan lot: %w", err)
		}
		out = append(out, *l)
	}
	return out, rows.Err()
}

// ListOpenByAccount returns every open lot for an account, across all
// securities, for the holdings read endpoint's lot-summary aggregation.
func (r *LotRepository) ListOpenByAccount(q Querier, accountID int64) ([]domain.HoldingLot, error) {
	rows, err := q.Query(lotSelectCols+` FROM holding_lots WHERE account_id = ? AND is_closed = 0
		ORDER BY security_id, (acquisition_date IS NOT NULL), acquisition_date ASC, id ASC`, accountID)
	if err != nil {
		return nil, fmt.Errorf("list open lots for account %d: %w", accountID, err)
	}
	defer rows.Close()
	var out []domain.HoldingLot
	for rows.Next() {
		l, err := scanLot(rows)
		if err != nil {
			return nil, fmt.Errorf("scan lot: %w", err)
		}
		out = append(out, *l)
	}
	return out, rows.Err()
}

// acquisitionDateArg renders an optional acquisition date as a nullable SQL
// value: nil for "initial"/"inferred" lots, which sort NULLS FIRST under
// FIFO.
func acquisitionDateArg(t *time.Time) interface{} {
	if t == nil {
		return nil
	}
	return *t
}

const lotSelectCols = `SELECT id, account_id, security_id, ticker, acquisition_date, cost_basis_per_unit, original_quantity, current_quantity, is_closed, source, activity_id`

func scanLot(row rowScanner) (*domain.HoldingLot, error) {
	var l domain.HoldingLot
	var acquisitionDate sql.NullTime
	var costBasis, originalQty, currentQty string
	var source string
	var activityID sql.NullInt64
	if err := row.Scan(&l.ID, &l.AccountID, &l.SecurityID, &l.Ticker, &acquisitionDate, &costBasis, &originalQty, &currentQty, &l.IsClosed, &source, &activityID); err != nil {
		return nil, err
	}
	l.Source = domain.LotSource(source)
	var err error
	if l.CostBasisPerUnit, err = decimalFromString(costBasis); err != nil {
		return nil, fmt.Errorf("parse cost_basis_per_unit: %w", err)
	}
	if l.OriginalQuantity, err = decimalFromString(originalQty); err != nil {
		return nil, fmt.Errorf("parse original_quantity: %w", err)
	}
	if l.CurrentQuantity, err = decimalFromString(currentQty); err != nil {
		return nil, fmt.Errorf("parse current_quantity: %w", err)
	}
	if acquisitionDate.Valid {
		t := acquisitionDate.Time
		l.AcquisitionDate = &t
	}
	if activityID.Valid {
		v := activityID.Int64
		l.ActivityID = &v
	}
	return &l, nil
}
