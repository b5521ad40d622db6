package sync

import (
	"fmt"
	"strings"

	"github.com/shopspring/decimal"

	"github.com/aristath/ledgerfolio/internal/domain"
	"github.com/aristath/ledgerfolio/internal/providers"
	"github.com/aristath/ledgerfolio/internal/repo"
)

// mergeActivities upserts one account's provider-reported activities by
// (provider_name, external_id). New rows are recorded
// as-is; existing rows get their provider-sourced fields refreshed unless
// the user already modified the row (is_reviewed and user notes are never
// overwritten — UpdateNonUserModifiedFields leaves them alone and skips
// user_modified rows entirely).
func (o *Orchestrator) mergeActivities(q repo.Querier, providerName string, accountID int64, activities []providers.Activity) error {
	for _, pa := range activities {
		if pa.ExternalID == "" {
			continue
		}
		converted, err := convertActivity(accountID, providerName, pa)
		if err != nil {
			return fmt.Errorf("convert activity %s: %w", pa.ExternalID, err)
		}

		existing, err := o.activities.FindByProviderExternalID(q, providerName, pa.ExternalID)
		if err != nil {
			return fmt.Errorf("find activity %s: %w", pa.ExternalID, err)
		}
		if existing == nil {
			if _, err := o.activities.Create(q, converted); err != nil {
				return fmt.Errorf("create activity %s: %w", pa.ExternalID, err)
			}
			continue
		}
		if existing.UserModified {
			continue
		}
		if err := o.activities.UpdateNonUserModifiedFields(q, existing.ID, converted); err != nil {
			return fmt.Errorf("update activity %s: %w", pa.ExternalID, err)
		}
	}
	return nil
}

// knownActivityTypes is the closed set Activity.Type admits; anything a
// provider sends outside it is stored as "other".
var knownActivityTypes = map[domain.ActivityType]bool{
	domain.ActivityBuy: true, domain.ActivitySell: true,
	domain.ActivityDividend: true, domain.ActivityInterest: true,
	domain.ActivityDeposit: true, domain.ActivityWithdrawal: true,
	domain.ActivityTransfer: true, domain.ActivityReceive: true,
	domain.ActivityFee: true, domain.ActivityTax: true,
	domain.ActivityTrade: true, domain.ActivityOther: true,
}

func convertActivity(accountID int64, providerName string, pa providers.Activity) (*domain.Activity, error) {
	typ := domain.ActivityType(strings.ToLower(pa.Type))
	if !knownActivityTypes[typ] {
		typ = domain.ActivityOther
	}

	amount, err := decimalOrZero(pa.Amount)
	if err != nil {
		return nil, fmt.Errorf("parse amount: %w", err)
	}
	fee, err := decimalOrZero(pa.Fee)
	if err != nil {
		return nil, fmt.Errorf("parse fee: %w", err)
	}
	units, err := optionalDecimal(pa.Units)
	if err != nil {
		return nil, fmt.Errorf("parse units: %w", err)
	}
	price, err := optionalDecimal(pa.Price)
	if err != nil {
		return nil, fmt.Errorf("parse price: %w", err)
	}

	return &domain.Activity{
		AccountID:    accountID,
		ProviderName: providerName,
		ExternalID:   pa.ExternalID,
		ActivityDate: pa.ActivityDate.UTC(),
		Type:         typ,
		Amount:       amount,
		Ticker:       pa.Ticker,
		Units:        units,
		Price:        price,
		Currency:     pa.Currency,
		Fee:          fee,
		Description:  pa.Description,
	}, nil
}

func decimalOrZero(s string) (decimal.Decimal, error) {
	if s == "" {
		return decimal.Zero, nil
	}
	return decimal.NewFromString(s)
}

func optionalDecimal(s string) (*decimal.Decimal, error) {
	if s == "" {
		return nil, nil
	}
	d, err := decimal.NewFromString(s)
	if err != nil {
		return nil, err
	}
	return &d, nil
}
