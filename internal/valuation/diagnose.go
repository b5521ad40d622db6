package valuation

import (
	"fmt"
	"time"
)

// GapReport summarizes one account's DHV coverage against what the engine
// expects to have produced.
type GapReport struct {
	AccountID     int64
	ExpectedFrom  time.Time
	ExpectedTo    time.Time
	ExpectedDays  int
	ActualDays    int
	MissingDates  []time.Time
	PartialDates  []time.Time // dates where both a sentinel and real rows exist
}

// DiagnoseGaps reports, per account with at least one successful snapshot,
// the dates within its expected coverage window that have no DHV row at
// all, and the dates where both a sentinel and real rows exist (a
// transition-cleanup failure).
func (e *Engine) DiagnoseGaps() ([]GapReport, error) {
	accountIDs, err := e.snapshots.ListActiveAccountIDsWithSnapshots(e.db)
	if err != nil {
		return nil, fmt.Errorf("list accounts with snapshots: %w", err)
	}
	end := e.yesterday()

	var reports []GapReport
	for _, accountID := range accountIDs {
		start, ok, err := e.firstSnapshotLocalDate(accountID)
		if err != nil {
			return nil, fmt.Errorf("account %d: first snapshot date: %w", accountID, err)
		}
		if !ok || start.After(end) {
			continue
		}

		actualDates, err := e.dhv.DistinctDatesForAccount(e.db, accountID)
		if err != nil {
			return nil, fmt.Errorf("account %d: distinct dates: %w", accountID, err)
		}
		present := make(map[string]bool, len(actualDates))
		for _, d := range actualDates {
			present[d.Format("2006-01-02")] = true
		}

		report := GapReport{AccountID: accountID, ExpectedFrom: start, ExpectedTo: end}
		for d := start; !d.After(end); d = d.AddDate(0, 0, 1) {
			report.ExpectedDays++
			key := d.Format("2006-01-02")
			if !present[key] {
				report.MissingDates = append(report.MissingDates, d)
				continue
			}
			report.ActualDays++
			hasReal, hasSentinel, err := e.dhv.RowKindsForAccountDate(e.db, accountID, d)
			if err != nil {
				return nil, fmt.Errorf("account %d %s: row kinds: %w", accountID, key, err)
			}
			if hasReal && hasSentinel {
				report.PartialDates = append(report.PartialDates, d)
			}
		}
		reports = append(reports, report)
	}
	return reports, nil
}
