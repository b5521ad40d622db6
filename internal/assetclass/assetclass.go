// Package assetclass implements the asset-class CRUD surface plus the
// allocation-by-class read that backs `GET /api/asset-types/{id}/holdings`.
// Allocation buckets are exhaustive: every class's value plus the
// unassigned bucket sums to the total allocation-eligible market value.
package assetclass

import (
	"fmt"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"github.com/aristath/ledgerfolio/internal/domain"
	"github.com/aristath/ledgerfolio/internal/repo"
)

// Service wraps repo.AssetClassRepository with the allocation read that
// joins the latest DHV rows against each security's and account's
// asset-class assignment.
type Service struct {
	assetClasses *repo.AssetClassRepository
	accounts     *repo.AccountRepository
	securities   *repo.SecurityRepository
	dhv          *repo.DHVRepository
	q            repo.Querier
	log          zerolog.Logger
}

// New creates a Service. q is the *sql.DB queried directly by the HTTP
// read surface.
func New(
	assetClassRepo *repo.AssetClassRepository,
	accountRepo *repo.AccountRepository,
	securityRepo *repo.SecurityRepository,
	dhvRepo *repo.DHVRepository,
	q repo.Querier,
	log zerolog.Logger,
) *Service {
	return &Service{
		assetClasses: assetClassRepo, accounts: accountRepo, securities: securityRepo, dhv: dhvRepo,
		q: q, log: log.With().Str("component", "assetclass").Logger(),
	}
}

// List returns every asset class.
func (s *Service) List() ([]domain.AssetClass, error) {
	return s.assetClasses.List(s.q)
}

// Get loads a single asset class, or nil if it does not exist.
func (s *Service) Get(id int64) (*domain.AssetClass, error) {
	return s.assetClasses.Get(s.q, id)
}

// Create validates and inserts a new asset class.
func (s *Service) Create(ac *domain.AssetClass) (int64, error) {
	if ac.Name == "" {
		return 0, fmt.Errorf("asset class name is required")
	}
	return s.assetClasses.Create(s.q, ac)
}

// Update overwrites an existing asset class.
func (s *Service) Update(ac *domain.AssetClass) error {
	if ac.Name == "" {
		return fmt.Errorf("asset class name is required")
	}
	return s.assetClasses.Update(s.q, ac)
}

// Delete removes an asset class. securities.manual_asset_class_id and
// accounts.assigned_asset_class_id are foreign keys to it and the connection
// enforces foreign keys, so deleting a class that a security or account still
// references fails with a constraint error and removes nothing.
func (s *Service) Delete(id int64) error {
	return s.assetClasses.Delete(s.q, id)
}

// HoldingValue is one holding's latest market value, attributed to an
// asset class (or unassigned) for the allocation read.
type HoldingValue struct {
	AccountID   int64
	Ticker      string
	Quantity    decimal.Decimal
	MarketValue decimal.Decimal
}

// HoldingsForClass returns every allocation-eligible account's latest
// holdings whose attributed asset class matches assetClassID (or, when
// assetClassID is nil, every holding with no attributed class).
//
// Attribution precedence (a security's own override wins over the
// account's blanket assignment — e.g. an entire cash-management account
// assigned to "Cash" even though its synthetic _CASH: securities carry no
// class of their own):
//  1. the holding's Security.ManualAssetClassID, if set;
//  2. else the holding's Account.AssignedAssetClassID, if set;
//  3. else unassigned.
func (s *Service) HoldingsForClass(assetClassID *int64) ([]HoldingValue, error) {
	accounts, err := s.accounts.ListActiveIncludedInAllocation(s.q)
	if err != nil {
		return nil, fmt.Errorf("list allocation-eligible accounts: %w", err)
	}

	var out []HoldingValue
	for _, acc := range accounts {
		rows, err := s.dhv.LatestForAccount(s.q, acc.ID)
		if err != nil {
			return nil, fmt.Errorf("latest DHV for account %d: %w", acc.ID, err)
		}
		for _, row := range rows {
			if row.Ticker == domain.ZeroBalanceTicker {
				continue
			}
			classID, err := s.attributedClass(row.SecurityID, acc)
			if err != nil {
				return nil, err
			}
			if !sameClass(classID, assetClassID) {
				continue
			}
			out = append(out, HoldingValue{
				AccountID: acc.ID, Ticker: row.Ticker, Quantity: row.Quantity, MarketValue: row.MarketValue,
			})
		}
	}
	return out, nil
}

func (s *Service) attributedClass(securityID int64, acc domain.Account) (*int64, error) {
	sec, err := s.securities.Get(s.q, securityID)
	if err != nil {
		return nil, fmt.Errorf("load security %d: %w", securityID, err)
	}
	if sec != nil && sec.ManualAssetClassID != nil {
		return sec.ManualAssetClassID, nil
	}
	return acc.AssignedAssetClassID, nil
}

func sameClass(a, b *int64) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	return *a == *b
}

// Allocation is one asset class's total allocation-eligible market value,
// for the testable property "sum(allocation[c].value) + unassigned.value
// == sum(holdings.market_value)".
type Allocation struct {
	AssetClassID *int64
	Name         string
	Value        decimal.Decimal
}

// AllocationSummary buckets every allocation-eligible holding's market
// value by attributed asset class, plus an "unassigned" bucket.
func (s *Service) AllocationSummary() ([]Allocation, error) {
	classes, err := s.assetClasses.List(s.q)
	if err != nil {
		return nil, fmt.Errorf("list asset classes: %w", err)
	}
	accounts, err := s.accounts.ListActiveIncludedInAllocation(s.q)
	if err != nil {
		return nil, fmt.Errorf("list allocation-eligible accounts: %w", err)
	}

	totals := make(map[int64]decimal.Decimal, len(classes))
	unassigned := decimal.Zero

	for _, acc := range accounts {
		rows, err := s.dhv.LatestForAccount(s.q, acc.ID)
		if err != nil {
			return nil, fmt.Errorf("latest DHV for account %d: %w", acc.ID, err)
		}
		for _, row := range rows {
			if row.Ticker == domain.ZeroBalanceTicker {
				continue
			}
			classID, err := s.attributedClass(row.SecurityID, acc)
			if err != nil {
				return nil, err
			}
			if classID == nil {
				unassigned = unassigned.Add(row.MarketValue)
				continue
			}
			totals[*classID] = totals[*classID].Add(row.MarketValue)
		}
	}

	out := make([]Allocation, 0, len(classes)+1)
	for _, c := range classes {
		id := c.ID
		out = append(out, Allocation{AssetClassID: &id, Name: c.Name, Value: totals[c.ID]})
	}
	out = append(out, Allocation{AssetClassID: nil, Name: "Unassigned", Value: unassigned})
	return out, nil
}
