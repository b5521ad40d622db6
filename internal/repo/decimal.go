package repo

import "github.com/shopspring/decimal"

// decimalFromString parses a stored decimal column. Monetary and quantity
// columns are TEXT so values never pass through a binary float; an empty
// string (legacy NULL-ish rows) parses as zero.
func decimalFromString(s string) (decimal.Decimal, error) {
	if s == "" {
		return decimal.Zero, nil
	}
	return decimal.NewFromString(s)
}

// nullableDecimalFromString parses an optional decimal column (e.g.
// activities.units, activities.price).
func nullableDecimalFromString(valid bool, s string) (*decimal.Decimal, error) {
	if !valid {
		return nil, nil
	}
	d, err := decimal.NewFromString(s)
	if err != nil {
		return nil, err
	}
	return &d, nil
}
