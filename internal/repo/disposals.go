package repo

import (
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/aristath/ledgerfolio/internal/domain"
)

// DisposalRepository handles the lot_disposals table.
type DisposalRepository struct {
	log zerolog.Logger
}

// NewDisposalRepository creates a DisposalRepository.
func NewDisposalRepository(log zerolog.Logger) *DisposalRepository {
	return &DisposalRepository{log: log.With().Str("repo", "disposal").Logger()}
}

// Create inserts a LotDisposal row.
func (r *DisposalRepository) Create(q Querier, d *domain.LotDisposal) (int64, error) {
	res, err := q.Exec(`INSERT INTO lot_disposals
		(holding_lot_id, account_id, security_id, quantity, proceeds_per_unit, disposal_date, source, activity_id, disposal_group_id)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		d.HoldingLotID, d.AccountID, d.SecurityID, d.Quantity.String(), d.ProceedsPerUnit.String(),
		d.DisposalDate.Format(dateLayout), string(d.Source), d.ActivityID, d.DisposalGroupID)
	if err != nil {
		return 0, fmt.Errorf("create disposal for lot %d: %w", d.HoldingLotID, err)
	}
	return res.LastInsertId()
}

// ListForLot returns every disposal recorded against a lot, for invariant
// checks (sum of disposals never exceeds the lot's original quantity).
func (r *DisposalRepository) ListForLot(q Querier, lotID int64) ([]domain.LotDisposal, error) {
	rows, err := q.Query(disposalSelectCols+` FROM lot_disposals WHERE holding_lot_id = ? ORDER BY id`, lotID)
	if err != nil {
		return nil, fmt.Errorf("list disposals for lot %d: %w", lotID, err)
	}
	defer rows.Close()
	return scanDisposals(rows)
}

// ListByGroup returns every disposal sharing a disposal_group_id: all the
// lots consumed by a single sell.
func (r *DisposalRepository) ListByGroup(q Querier, groupID string) ([]domain.LotDisposal, error) {
	rows, err := q.Query(disposalSelectCols+` FROM lot_disposals WHERE disposal_group_id = ? ORDER BY id`, groupID)
	if err != nil {
		return nil, fmt.Errorf("list disposals for group %s: %w", groupID, err)
	}
	defer rows.Close()
	return scanDisposals(rows)
}

const disposalSelectCols = `SELECT id, holding_lot_id, account_id, security_id, quantity, proceeds_per_unit, disposal_date, source, activity_id, disposal_group_id`

func scanDisposals(rows interface {
	Next() bool
	Scan(dest ...interface{}) error
	Err() error
}) ([]domain.LotDisposal, error) {
	var out []domain.LotDisposal
	for rows.Next() {
		var d domain.LotDisposal
		var qty, proceeds, date, source string
		var activityID *int64
		if err := rows.Scan(&d.ID, &d.HoldingLotID, &d.AccountID, &d.SecurityID, &qty, &proceeds, &date, &source, &activityID, &d.DisposalGroupID); err != nil {
			return nil, fmt.Errorf("scan disposal: %w", err)
		}
		var err error
		if d.Quantity, err = decimalFromString(qty); err != nil {
			return nil, fmt.Errorf("parse quantity: %w", err)
		}
		if d.ProceedsPerUnit, err = decimalFromString(proceeds); err != nil {
			return nil, fmt.Errorf("parse proceeds_per_unit: %w", err)
		}
		t, err := time.Parse(dateLayout, date)
		if err != nil {
			return nil, fmt.Errorf("parse disposal_date: %w", err)
		}
		d.DisposalDate = t
		d.Source = domain.DisposalSource(source)
		d.ActivityID = activityID
		out = append(out, d)
	}
	return out, rows.Err()
}
