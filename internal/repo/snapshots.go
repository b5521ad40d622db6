package repo

import (
	"database/sql"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/aristath/ledgerfolio/internal/domain"
)

// SnapshotRepository handles the account_snapshots table.
type SnapshotRepository struct {
	log zerolog.Logger
}

// NewSnapshotRepository creates a SnapshotRepository.
func NewSnapshotRepository(log zerolog.Logger) *SnapshotRepository {
	return &SnapshotRepository{log: log.With().Str("repo", "snapshot").Logger()}
}

// Create writes an immutable AccountSnapshot row and returns its ID.
func (r *SnapshotRepository) Create(q Querier, s *domain.AccountSnapshot) (int64, error) {
	res, err := q.Exec(`INSERT INTO account_snapshots (account_id, sync_session_id, status, total_value, balance_date)
		VALUES (?, ?, ?, ?, ?)`,
		s.AccountID, s.SyncSessionID, string(s.Status), s.TotalValue.String(), s.BalanceDate)
	if err != nil {
		return 0, fmt.Errorf("create snapshot for account %d: %w", s.AccountID, err)
	}
	return res.LastInsertId()
}

// LatestSuccessful returns the most recent status=success snapshot for an
// account, ordered by ID (ascending IDs reflect sync order under the
// single-writer lock). Returns nil, nil if none exist.
func (r *SnapshotRepository) LatestSuccessful(q Querier, accountID int64) (*domain.AccountSnapshot, error) {
	row := q.QueryRow(snapshotSelectCols+` FROM account_snapshots s
		WHERE account_id = ? AND status = 'success' ORDER BY id DESC LIMIT 1`, accountID)
	snap, err := scanSnapshot(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("latest successful snapshot for account %d: %w", accountID, err)
	}
	return snap, nil
}

// LatestSuccessfulAsOf returns the most recent status=success snapshot for
// an account whose sync session timestamp is on or before cutoff — the
// Returns Engine's liquidation-inference input, which
// needs the snapshot as it stood at a historical period end, not the
// account's current state.
func (r *SnapshotRepository) LatestSuccessfulAsOf(q Querier, accountID int64, cutoff time.Time) (*domain.AccountSnapshot, error) {
	row := q.QueryRow(snapshotSelectCols+` FROM account_snapshots s
		JOIN sync_sessions ss ON ss.id = s.sync_session_id
		WHERE s.account_id = ? AND s.status = 'success' AND ss.timestamp <= ?
		ORDER BY ss.timestamp DESC, s.id DESC LIMIT 1`, accountID, cutoff)
	snap, err := scanSnapshot(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("latest successful snapshot for account %d as of %s: %w", accountID, cutoff, err)
	}
	return snap, nil
}

// ListSuccessfulOrderedBySession returns every status=success snapshot for
// an account ordered by sync session timestamp ascending — the input to
// valuation timeline resolution.
func (r *SnapshotRepository) ListSuccessfulOrderedBySession(q Querier, accountID int64) ([]domain.AccountSnapshot, error) {
	rows, err := q.Query(snapshotSelectCols+` FROM account_snapshots s
		JOIN sync_sessions ss ON ss.id = s.sync_session_id
		WHERE s.account_id = ? AND s.status = 'success'
		ORDER BY ss.timestamp ASC, s.id ASC`, accountID)
	if err != nil {
		return nil, fmt.Errorf("list snapshots for account %d: %w", accountID, err)
	}
	defer rows.Close()
	var out []domain.AccountSnapshot
	for rows.Next() {
		s, err := scanSnapshot(rows)
		if err != nil {
			return nil, fmt.Errorf("scan snapshot: %w", err)
		}
		out = append(out, *s)
	}
	return out, rows.Err()
}

// SessionTimestamp returns the sync session timestamp a snapshot belongs
// to, needed by lot reconciliation's activity-window filter.
func (r *SnapshotRepository) SessionTimestamp(q Querier, snapshotID int64) (t sql.NullTime, err error) {
	err = q.QueryRow(`SELECT ss.timestamp FROM account_snapshots s
		JOIN sync_sessions ss ON ss.id = s.sync_session_id WHERE s.id = ?`, snapshotID).Scan(&t)
	return t, err
}

// Get loads a single snapshot by ID.
func (r *SnapshotRepository) Get(q Querier, id int64) (*domain.AccountSnapshot, error) {
	row := q.QueryRow(snapshotSelectCols+` FROM account_snapshots s WHERE id = ?`, id)
	snap, err := scanSnapshot(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	return snap, err
}

// ListActiveAccountIDsWithSnapshots returns the distinct account IDs that
// have at least one successful snapshot — valuation backfill's candidate
// set.
func (r *SnapshotRepository) ListActiveAccountIDsWithSnapshots(q Querier) ([]int64, error) {
	rows, err := q.Query(`SELECT DISTINCT account_id FROM account_snapshots WHERE status = 'success'`)
	if err != nil {
		return nil, fmt.Errorf("list account ids with snapshots: %w", err)
	}
	defer rows.Close()
	var out []int64
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("scan account id: %w", err)
		}
		out = append(out, id)
	}
	return out, rows.Err()
}

const snapshotSelectCols = `SELECT s.id, s.account_id, s.sync_session_id, s.status, s.total_value, s.balance_date`

func scanSnapshot(row rowScanner) (*domain.AccountSnapshot, error) {
	var s domain.AccountSnapshot
	var status string
	var totalValue string
	var balanceDate sql.NullTime
	if err := row.Scan(&s.ID, &s.AccountID, &s.SyncSessionID, &status, &totalValue, &balanceDate); err != nil {
		return nil, err
	}
	s.Status = domain.SnapshotStatus(status)
	v, err := decimalFromString(totalValue)
	if err != nil {
		return nil, fmt.Errorf("parse total_value: %w", err)
	}
	s.TotalValue = v
	if balanceDate.Valid {
		t := balanceDate.Time
		s.BalanceDate = &t
	}
	return &s, nil
}
