package repo

import (
	"database/sql"
	"fmt"

	"github.com/rs/zerolog"
)

// PreferenceRepository handles the preferences key-value table: an
// arbitrary-JSON store keyed by a dotted string.
type PreferenceRepository struct {
	log zerolog.Logger
}

// NewPreferenceRepository creates a PreferenceRepository.
func NewPreferenceRepository(log zerolog.Logger) *PreferenceRepository {
	return &PreferenceRepository{log: log.With().Str("repo", "preference").Logger()}
}

// Get returns the raw JSON value stored for key, or nil if unset.
func (r *PreferenceRepository) Get(q Querier, key string) (*string, error) {
	var v string
	err := q.QueryRow(`SELECT value FROM preferences WHERE key = ?`, key).Scan(&v)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get preference %s: %w", key, err)
	}
	return &v, nil
}

// Set upserts a preference value.
func (r *PreferenceRepository) Set(q Querier, key, value string) error {
	_, err := q.Exec(`INSERT INTO preferences (key, value) VALUES (?, ?)
		ON CONFLICT (key) DO UPDATE SET value = excluded.value`, key, value)
	if err != nil {
		return fmt.Errorf("set preference %s: %w", key, err)
	}
	return nil
}

// Delete removes a preference.
func (r *PreferenceRepository) Delete(q Querier, key string) error {
	_, err := q.Exec(`DELETE FROM preferences WHERE key = ?`, key)
	if err != nil {
		return fmt.Errorf("delete preference %s: %w", key, err)
	}
	return nil
}
