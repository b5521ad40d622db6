package repo

import (
	"database/sql"
	"fmt"

	"github.com/rs/zerolog"

	"github.com/aristath/ledgerfolio/internal/domain"
)

// AssetClassRepository handles the asset_classes table — a small CRUD
// surface, not on the hot path.
type AssetClassRepository struct {
	log zerolog.Logger
}

// NewAssetClassRepository creates an AssetClassRepository.
func NewAssetClassRepository(log zerolog.Logger) *AssetClassRepository {
	return &AssetClassRepository{log: log.With().Str("repo", "asset_class").Logger()}
}

// List returns every asset class.
func (r *AssetClassRepository) List(q Querier) ([]domain.AssetClass, error) {
	rows, err := q.Query(`SELECT id, name, color, target_percent FROM asset_classes ORDER BY name`)
	if err != nil {
		return nil, fmt.Errorf("list asset classes: %w", err)
	}
	defer rows.Close()
	var out []domain.AssetClass
	for rows.Next() {
		ac, err := scanAssetClass(rows)
		if err != nil {
			return nil, fmt.Errorf("scan asset class: %w", err)
		}
		out = append(out, *ac)
	}
	return out, rows.Err()
}

// Get loads a single asset class by ID.
func (r *AssetClassRepository) Get(q Querier, id int64) (*domain.AssetClass, error) {
	row := q.QueryRow(`SELECT id, name, color, target_percent FROM asset_classes WHERE id = ?`, id)
	ac, err := scanAssetClass(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	return ac, err
}

// Create inserts a new asset class and returns its ID.
func (r *AssetClassRepository) Create(q Querier, ac *domain.AssetClass) (int64, error) {
	res, err := q.Exec(`INSERT INTO asset_classes (name, color, target_percent) VALUES (?, ?, ?)`,
		ac.Name, ac.Color, ac.TargetPercent.String())
	if err != nil {
		return 0, fmt.Errorf("create asset class %s: %w", ac.Name, err)
	}
	return res.LastInsertId()
}

// Update overwrites an existing asset class's mutable fields.
func (r *AssetClassRepository) Update(q Querier, ac *domain.AssetClass) error {
	_, err := q.Exec(`UPDATE asset_classes SET name = ?, color = ?, target_percent = ? WHERE id = ?`,
		ac.Name, ac.Color, ac.TargetPercent.String(), ac.ID)
	if err != nil {
		return fmt.Errorf("update asset class %d: %w", ac.ID, err)
	}
	return nil
}

// Delete removes an asset class.
func (r *AssetClassRepository) Delete(q Querier, id int64) error {
	_, err := q.Exec(`DELETE FROM asset_classes WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("delete asset class %d: %w", id, err)
	}
	return nil
}

func scanAssetClass(row rowScanner) (*domain.AssetClass, error) {
	var ac domain.AssetClass
	var target string
	if err := row.Scan(&ac.ID, &ac.Name, &ac.Color, &target); err != nil {
		return nil, err
	}
	d, err := decimalFromString(target)
	if err != nil {
		return nil, fmt.Errorf("parse target_percent: %w", err)
	}
	ac.TargetPercent = d
	return &ac, nil
}
