// Package providers defines the adapter contract every external brokerage
// or bank integration satisfies.
// Provider-specific clients (SnapTrade, SimpleFIN, IBKR Flex, Coinbase,
// Schwab, Plaid) are out of scope — this package only states
// the interface the sync orchestrator calls against, plus a registry of
// which providers are enabled.
package providers

import (
	"context"
	"time"
)

// Adapter is the single explicit interface every provider integration
// implements. Integrations with extra construction-time state (Plaid's
// access-token list, say) close over it in their own wrapper rather than
// widening this contract.
type Adapter interface {
	// Name is the provider's stable identifier, matching Account.ProviderName.
	Name() string
	// SyncAll fetches every account, holding, and activity the provider
	// currently reports. Returns a typed error (AuthError, ConnectionError,
	// ProviderError) on failure; the orchestrator never sees an
	// adapter-specific error type.
	SyncAll(ctx context.Context) (SyncResult, error)
}

// Account is one brokerage/bank account as reported by a provider.
type Account struct {
	ExternalID    string
	Name          string
	Institution   string
	AccountNumber string
}

// Holding is one position as reported by a provider.
type Holding struct {
	AccountExternalID string
	Symbol            string
	Quantity          string // decimal string; parsed with decimal.NewFromString at the boundary
	Price             string
	MarketValue       string
	Currency          string
	Name              string
	CostBasis         string // optional; empty means "not provided"
}

// Activity is one transaction as reported by a provider.
type Activity struct {
	AccountExternalID string
	ExternalID        string
	ActivityDate      time.Time
	Type              string
	Amount            string
	Ticker            string
	Units             string
	Price             string
	Currency          string
	Fee               string
	Description       string
	SettlementDate    *time.Time
}

// SyncError is a structured, non-fatal failure reported alongside
// otherwise-successful data.
type SyncError struct {
	Message         string
	Category        string
	InstitutionName string // optional: matches accounts by case-insensitive institution equality
	AccountID       string // optional: matches an account by its external_id
	Retriable       bool
}

// SyncResult is the uniform shape every provider adapter produces.
type SyncResult struct {
	Accounts     []Account
	Holdings     []Holding
	Activities   []Activity
	Errors       []SyncError
	BalanceDates map[string]*time.Time // external_account_id -> balance date, if reported
}
