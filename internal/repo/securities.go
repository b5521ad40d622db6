package repo

import (
	"database/sql"
	"fmt"

	"github.com/rs/zerolog"

	"github.com/aristath/ledgerfolio/internal/domain"
)

// SecurityRepository handles the securities table.
type SecurityRepository struct {
	log zerolog.Logger
}

// NewSecurityRepository creates a SecurityRepository.
func NewSecurityRepository(log zerolog.Logger) *SecurityRepository {
	return &SecurityRepository{log: log.With().Str("repo", "security").Logger()}
}

// GetOrCreateByTicker returns the Security for ticker, lazily creating it
// on first reference.
func (r *SecurityRepository) GetOrCreateByTicker(q Querier, ticker string) (*domain.Security, error) {
	sec, err := r.FindByTicker(q, ticker)
	if err != nil {
		return nil, err
	}
	if sec != nil {
		return sec, nil
	}
	res, err := q.Exec(`INSERT INTO securities (ticker, name) VALUES (?, ?)`, ticker, ticker)
	if err != nil {
		// Races between concurrent lazy-creates are not expected under the
		// single-writer sync lock; surface any conflict.
		return nil, fmt.Errorf("create security %s: %w", ticker, err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return nil, fmt.Errorf("create security %s: %w", ticker, err)
	}
	return &domain.Security{ID: id, Ticker: ticker, Name: ticker}, nil
}

// FindByTicker returns the Security for ticker, or nil if none exists yet.
func (r *SecurityRepository) FindByTicker(q Querier, ticker string) (*domain.Security, error) {
	var s domain.Security
	var manualAssetClassID sql.NullInt64
	err := q.QueryRow(`SELECT id, ticker, name, manual_asset_class_id FROM securities WHERE ticker = ?`, ticker).
		Scan(&s.ID, &s.Ticker, &s.Name, &manualAssetClassID)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("find security %s: %w", ticker, err)
	}
	if manualAssetClassID.Valid {
		v := manualAssetClassID.Int64
		s.ManualAssetClassID = &v
	}
	return &s, nil
}

// Get loads a single security by ID.
func (r *SecurityRepository) Get(q Querier, id int64) (*domain.Security, error) {
	var s domain.Security
	var manualAssetClassID sql.NullInt64
	err := q.QueryRow(`SELECT id, ticker, name, manual_asset_class_id FROM securities WHERE id = ?`, id).
		Scan(&s.ID, &s.Ticker, &s.Name, &manualAssetClassID)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get security %d: %w", id, err)
	}
	if manualAssetClassID.Valid {
		v := manualAssetClassID.Int64
		s.ManualAssetClassID = &v
	}
	return &s, nil
}

// TickersInAssetClass returns every security's ticker assigned to the
// named asset class (the valuation engine uses this to detect crypto
// symbols).
func (r *SecurityRepository) TickersInAssetClass(q Querier, assetClassName string) ([]string, error) {
	rows, err := q.Query(`SELECT s.ticker FROM securities s
		JOIN asset_classes ac ON ac.id = s.manual_asset_class_id
		WHERE ac.name = ?`, assetClassName)
	if err != nil {
		return nil, fmt.Errorf("tickers in asset class %s: %w", assetClassName, err)
	}
	defer rows.Close()
	var out []string
	for rows.Next() {
		var t string
		if err := rows.Scan(&t); err != nil {
			return nil, fmt.Errorf("scan ticker: %w", err)
		}
		out = append(out, t)
	}
	return out, rows.Err()
}

// SetManualAssetClass assigns or clears a security's manual asset class
// (PATCH /api/securities/{id}).
func (r *SecurityRepository) SetManualAssetClass(q Querier, securityID int64, assetClassID *int64) error {
	_, err := q.Exec(`UPDATE securities SET manual_asset_class_id = ? WHERE id = ?`, assetClassID, securityID)
	if err != nil {
		return fmt.Errorf("set asset class for security %d: %w", securityID, err)
	}
	return nil
}
