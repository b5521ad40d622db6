package valuation

import (
	"fmt"
	"time"
)

// resolveStartDate picks the first day the backfill walk needs to touch.
// For each account (active or not) with at least one successful snapshot, the
// account's own frontier is max(DHV date)+1, or its first snapshot's local
// date if it has no DHV rows yet. The walk starts at the minimum across
// accounts: a straggler account must never be silently skipped just
// because other accounts are already current. full forces the frontier
// back to the earliest successful snapshot across every account,
// regardless of existing DHV rows.
func (e *Engine) resolveStartDate(full bool) (time.Time, bool, error) {
	accountIDs, err := e.snapshots.ListActiveAccountIDsWithSnapshots(e.db)
	if err != nil {
		return time.Time{}, false, fmt.Errorf("list accounts with snapshots: %w", err)
	}
	if len(accountIDs) == 0 {
		return time.Time{}, false, nil
	}

	var min time.Time
	found := false
	for _, accountID := range accountIDs {
		frontier, ok, err := e.accountFrontier(accountID, full)
		if err != nil {
			return time.Time{}, false, fmt.Errorf("account %d frontier: %w", accountID, err)
		}
		if !ok {
			continue
		}
		if !found || frontier.Before(min) {
			min = frontier
			found = true
		}
	}
	return min, found, nil
}

func (e *Engine) accountFrontier(accountID int64, full bool) (time.Time, bool, error) {
	firstDate, hasSnapshot, err := e.firstSnapshotLocalDate(accountID)
	if err != nil || !hasSnapshot {
		return time.Time{}, false, err
	}
	if full {
		return firstDate, true, nil
	}

	maxDHV, hasDHV, err := e.dhv.MaxDateForAccount(e.db, accountID)
	if err != nil {
		return time.Time{}, false, fmt.Errorf("max dhv date: %w", err)
	}
	if !hasDHV {
		return firstDate, true, nil
	}
	return maxDHV.AddDate(0, 0, 1), true, nil
}

func (e *Engine) firstSnapshotLocalDate(accountID int64) (time.Time, bool, error) {
	snaps, err := e.snapshots.ListSuccessfulOrderedBySession(e.db, accountID)
	if err != nil {
		return time.Time{}, false, err
	}
	if len(snaps) == 0 {
		return time.Time{}, false, nil
	}
	ts, err := e.snapshots.SessionTimestamp(e.db, snaps[0].ID)
	if err != nil || !ts.Valid {
		return time.Time{}, false, fmt.Errorf("session timestamp: %w", err)
	}
	return toLocalDate(ts.Time, e.loc), true, nil
}
