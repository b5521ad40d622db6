package providers

import (
	"database/sql"
	"fmt"
	"sort"

	"github.com/rs/zerolog"

	"github.com/aristath/ledgerfolio/internal/repo"
)

// Registry holds every registered provider adapter and tracks which are
// enabled, backing `GET /api/providers` / `PUT /api/providers/{name}`
// and the sync orchestrator's "for each enabled provider"
// loop.
type Registry struct {
	db       *sql.DB
	repo     *repo.ProviderRepository
	adapters map[string]Adapter
	order    []string
	log      zerolog.Logger
}

// NewRegistry creates an empty Registry.
func NewRegistry(db *sql.DB, providerRepo *repo.ProviderRepository, log zerolog.Logger) *Registry {
	return &Registry{
		db:       db,
		repo:     providerRepo,
		adapters: make(map[string]Adapter),
		log:      log.With().Str("component", "provider_registry").Logger(),
	}
}

// Register adds an adapter to the registry and ensures it has a providers
// row (defaulting to enabled). Registration order is preserved as the
// stable iteration order the orchestrator syncs providers in.
func (r *Registry) Register(a Adapter) error {
	name := a.Name()
	if _, exists := r.adapters[name]; exists {
		return fmt.Errorf("provider %s already registered", name)
	}
	r.adapters[name] = a
	r.order = append(r.order, name)
	if err := r.repo.Register(r.db, name); err != nil {
		return fmt.Errorf("register provider %s: %w", name, err)
	}
	return nil
}

// Enabled returns every registered adapter whose providers row is enabled,
// in stable registration order.
func (r *Registry) Enabled() ([]Adapter, error) {
	var out []Adapter
	for _, name := range r.order {
		enabled, err := r.repo.IsEnabled(r.db, name)
		if err != nil {
			return nil, fmt.Errorf("check enabled for %s: %w", name, err)
		}
		if enabled {
			out = append(out, r.adapters[name])
		}
	}
	return out, nil
}

// List returns every registered provider's enabled state, for the HTTP
// read surface.
func (r *Registry) List() ([]repo.ProviderState, error) {
	states, err := r.repo.List(r.db)
	if err != nil {
		return nil, err
	}
	sort.Slice(states, func(i, j int) bool { return states[i].Name < states[j].Name })
	return states, nil
}

// SetEnabled enables or disables a provider.
func (r *Registry) SetEnabled(name string, enabled bool) error {
	if _, ok := r.adapters[name]; !ok {
		return fmt.Errorf("unknown provider %s", name)
	}
	return r.repo.SetEnabled(r.db, name, enabled)
}
