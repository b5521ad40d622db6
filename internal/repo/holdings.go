package repo

import (
	"fmt"

	"github.com/rs/zerolog"

	"github.com/aristath/ledgerfolio/internal/domain"
)

// HoldingRepository handles the holdings table.
type HoldingRepository struct {
	log zerolog.Logger
}

// NewHoldingRepository creates a HoldingRepository.
func NewHoldingRepository(log zerolog.Logger) *HoldingRepository {
	return &HoldingRepository{log: log.With().Str("repo", "holding").Logger()}
}

// Create writes an immutable Holding row, unique on
// (account_snapshot_id, security_id).
func (r *HoldingRepository) Create(q Querier, h *domain.Holding) (int64, error) {
	res, err := q.Exec(`INSERT INTO holdings (account_snapshot_id, security_id, ticker, quantity, snapshot_price, snapshot_value)
		VALUES (?, ?, ?, ?, ?, ?)`,
		h.AccountSnapshotID, h.SecurityID, h.Ticker, h.Quantity.String(), h.SnapshotPrice.String(), h.SnapshotValue.String())
	if err != nil {
		return 0, fmt.Errorf("create holding for snapshot %d: %w", h.AccountSnapshotID, err)
	}
	return res.LastInsertId()
}

// ListBySnapshot returns every holding row belonging to a snapshot.
func (r *HoldingRepository) ListBySnapshot(q Querier, snapshotID int64) ([]domain.Holding, error) {
	rows, err := q.Query(`SELECT id, account_snapshot_id, security_id, ticker, quantity, snapshot_price, snapshot_value
		FROM holdings WHERE account_snapshot_id = ?`, snapshotID)
	if err != nil {
		return nil, fmt.Errorf("list holdings for snapshot %d: %w", snapshotID, err)
	}
	defer rows.Close()
	var out []domain.Holding
	for rows.Next() {
		h, err := scanHolding(rows)
		if err != nil {
			return nil, fmt.Errorf("scan holding: %w", err)
		}
		out = append(out, *h)
	}
	return out, rows.Err()
}

func scanHolding(row rowScanner) (*domain.Holding, error) {
	var h domain.Holding
	var qty, price, value string
	if err := row.Scan(&h.ID, &h.AccountSnapshotID, &h.SecurityID, &h.Ticker, &qty, &price, &value); err != nil {
		return nil, err
	}
	var err error
	if h.Quantity, err = decimalFromString(qty); err != nil {
		return nil, fmt.Errorf("parse quantity: %w", err)
	}
	if h.SnapshotPrice, err = decimalFromString(price); err != nil {
		return nil, fmt.Errorf("parse snapshot_price: %w", err)
	}
	if h.SnapshotValue, err = decimalFromString(value); err != nil {
		return nil, fmt.Errorf("parse snapshot_value: %w", err)
	}
	return &h, nil
}
