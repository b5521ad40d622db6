package preferences

import (
	"encoding/json"
	"path/filepath"
	"strings"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aristath/ledgerfolio/internal/database"
	"github.com/aristath/ledgerfolio/internal/repo"
)

func newService(t *testing.T) *Service {
	t.Helper()
	db, err := database.New(database.Config{Path: filepath.Join(t.TempDir(), "test.db")})
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	require.NoError(t, db.InitSchema())
	return New(repo.NewPreferenceRepository(zerolog.Nop()), db.Conn(), zerolog.Nop())
}

func TestValidateKey(t *testing.T) {
	tests := []struct {
		key   string
		valid bool
	}{
		{"ui.theme", true},
		{"dashboard.widgets.order_v2", true},
		{"a.B", true},
		{"charts.showMA", true},
		{"theme", false},             // single segment
		{"Ui.theme", false},          // first segment must be lowercase
		{"ui.", false},               // empty segment
		{".theme", false},            // leading dot
		{"ui.theme.", false},         // trailing dot
		{"ui..theme", false},         // double dot
		{"9ui.theme", false},         // first char must be a letter
		{"ui.the me", false},         // whitespace
		{strings.Repeat("a", 123) + ".theme", false}, // over 128 chars
	}
	for _, tt := range tests {
		err := ValidateKey(tt.key)
		if tt.valid {
			assert.NoError(t, err, tt.key)
		} else {
			assert.Error(t, err, tt.key)
		}
	}
}

func TestService_RoundTrip(t *testing.T) {
	svc := newService(t)

	value := json.RawMessage(`{"mode":"dark","accent":"#aabbcc"}`)
	require.NoError(t, svc.Set("ui.theme", value))

	got, err := svc.Get("ui.theme")
	require.NoError(t, err)
	assert.JSONEq(t, string(value), string(got))

	// Overwrite in place.
	require.NoError(t, svc.Set("ui.theme", json.RawMessage(`"light"`)))
	got, err = svc.Get("ui.theme")
	require.NoError(t, err)
	assert.Equal(t, `"light"`, string(got))

	require.NoError(t, svc.Delete("ui.theme"))
	_, err = svc.Get("ui.theme")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestService_RejectsInvalidJSON(t *testing.T) {
	svc := newService(t)
	err := svc.Set("ui.theme", json.RawMessage(`{not json`))
	assert.ErrorIs(t, err, ErrInvalidValue)
}

func TestService_RejectsInvalidKey(t *testing.T) {
	svc := newService(t)
	assert.ErrorIs(t, svc.Set("bad key", json.RawMessage(`1`)), ErrInvalidKey)
	_, err := svc.Get("bad key")
	assert.ErrorIs(t, err, ErrInvalidKey)
	assert.ErrorIs(t, svc.Delete("bad key"), ErrInvalidKey)
}

func TestService_GetMissingKey(t *testing.T) {
	svc := newService(t)
	_, err := svc.Get("ui.unset")
	assert.ErrorIs(t, err, ErrNotFound)
}
