package repo

import (
	"fmt"

	"github.com/rs/zerolog"
)

// ProviderRepository handles the providers enable/disable table.
type ProviderRepository struct {
	log zerolog.Logger
}

// NewProviderRepository creates a ProviderRepository.
func NewProviderRepository(log zerolog.Logger) *ProviderRepository {
	return &ProviderRepository{log: log.With().Str("repo", "provider").Logger()}
}

// ProviderState is one row of the providers table.
type ProviderState struct {
	Name      string
	IsEnabled bool
}

// List returns every known provider's enabled state.
func (r *ProviderRepository) List(q Querier) ([]ProviderState, error) {
	rows, err := q.Query(`SELECT name, is_enabled FROM providers ORDER BY name`)
	if err != nil {
		return nil, fmt.Errorf("list providers: %w", err)
	}
	defer rows.Close()
	var out []ProviderState
	for rows.Next() {
		var p ProviderState
		if err := rows.Scan(&p.Name, &p.IsEnabled); err != nil {
			return nil, fmt.Errorf("scan provider: %w", err)
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

// IsEnabled reports whether a provider is enabled. Unknown providers
// default to enabled, mirroring the registration flow (a provider is
// enabled until explicitly turned off).
func (r *ProviderRepository) IsEnabled(q Querier, name string) (bool, error) {
	var enabled bool
	err := q.QueryRow(`SELECT is_enabled FROM providers WHERE name = ?`, name).Scan(&enabled)
	if err != nil {
		return true, nil
	}
	return enabled, nil
}

// SetEnabled upserts a provider's enabled flag.
func (r *ProviderRepository) SetEnabled(q Querier, name string, enabled bool) error {
	_, err := q.Exec(`INSERT INTO providers (name, is_enabled) VALUES (?, ?)
		ON CONFLICT (name) DO UPDATE SET is_enabled = excluded.is_enabled`, name, enabled)
	if err != nil {
		return fmt.Errorf("set provider %s enabled=%v: %w", name, enabled, err)
	}
	return nil
}

// Register ensures a provider row exists (defaulting to enabled) without
// overwriting an existing preference — called once per known adapter at
// startup.
func (r *ProviderRepository) Register(q Querier, name string) error {
	_, err := q.Exec(`INSERT INTO providers (name, is_enabled) VALUES (?, 1)
		ON CONFLICT (name) DO NOTHING`, name)
	if err != nil {
		return fmt.Errorf("register provider %s: %w", name, err)
	}
	return nil
}
