// Package preferences implements the arbitrary-JSON key-value store behind
// `GET/PUT/DELETE /api/preferences/{key}`: internal/repo wraps the SQL, and
// this small service layer wraps the key-format rule.
package preferences

import (
	"encoding/json"
	"fmt"
	"regexp"

	"github.com/rs/zerolog"

	"github.com/aristath/ledgerfolio/internal/repo"
)

// keyPattern requires a dotted key: first segment lowercase alphanumeric,
// subsequent segments allowing mixed case and underscores.
var keyPattern = regexp.MustCompile(`^[a-z][a-z0-9]*(\.[a-zA-Z][a-zA-Z0-9_]*)+$`)

const maxKeyLength = 128

// ErrInvalidKey is returned when a key fails the dotted-path pattern or
// length rule.
var ErrInvalidKey = fmt.Errorf("preference key must match %s and be at most %d characters", keyPattern.String(), maxKeyLength)

// ErrNotFound is returned by Get when no value is stored for a valid key.
var ErrNotFound = fmt.Errorf("preference not found")

// ErrInvalidValue is returned when Set is given a value that is not valid JSON.
var ErrInvalidValue = fmt.Errorf("preference value must be valid JSON")

// Service validates preference keys and values around repo.PreferenceRepository.
type Service struct {
	repo *repo.PreferenceRepository
	q    repo.Querier
	log  zerolog.Logger
}

// New creates a Service. q is the *sql.DB the read/write HTTP surface
// queries directly (preferences never participate in the sync transaction).
func New(preferenceRepo *repo.PreferenceRepository, q repo.Querier, log zerolog.Logger) *Service {
	return &Service{repo: preferenceRepo, q: q, log: log.With().Str("component", "preferences").Logger()}
}

// ValidateKey reports whether key satisfies the pattern and length rule.
func ValidateKey(key string) error {
	if len(key) > maxKeyLength || !keyPattern.MatchString(key) {
		return ErrInvalidKey
	}
	return nil
}

// Get returns the raw JSON value for key, or ErrNotFound if unset.
func (s *Service) Get(key string) (json.RawMessage, error) {
	if err := ValidateKey(key); err != nil {
		return nil, err
	}
	v, err := s.repo.Get(s.q, key)
	if err != nil {
		return nil, fmt.Errorf("get preference: %w", err)
	}
	if v == nil {
		return nil, ErrNotFound
	}
	return json.RawMessage(*v), nil
}

// Set validates the key and that value is well-formed JSON, then upserts it.
func (s *Service) Set(key string, value json.RawMessage) error {
	if err := ValidateKey(key); err != nil {
		return err
	}
	if !json.Valid(value) {
		return ErrInvalidValue
	}
	if err := s.repo.Set(s.q, key, string(value)); err != nil {
		return fmt.Errorf("set preference: %w", err)
	}
	return nil
}

// Delete validates the key and removes its stored value, if any.
func (s *Service) Delete(key string) error {
	if err := ValidateKey(key); err != nil {
		return err
	}
	if err := s.repo.Delete(s.q, key); err != nil {
		return fmt.Errorf("delete preference: %w", err)
	}
	return nil
}
