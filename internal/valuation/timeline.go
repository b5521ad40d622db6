package valuation

import (
	"fmt"
	"time"

	"github.com/aristath/ledgerfolio/internal/domain"
	"github.com/aristath/ledgerfolio/internal/repo"
)

// window is a snapshot's effective range start and the holdings it carries
// forward.
type window struct {
	EffectiveDate     time.Time
	AccountSnapshotID int64
	Holdings          []domain.Holding
}

// resolveTimeline loads every successful snapshot for an account, converts
// each to a local calendar date, and classifies them into a baseline
// window (the latest snapshot at or before start) plus one transition
// window per snapshot strictly after start.
func (e *Engine) resolveTimeline(q repo.Querier, accountID int64, start, end time.Time) ([]window, error) {
	snaps, err := e.snapshots.ListSuccessfulOrderedBySession(q, accountID)
	if err != nil {
		return nil, fmt.Errorf("list snapshots: %w", err)
	}

	var baseline *window
	var transitions []window
	for _, snap := range snaps {
		ts, err := e.snapshots.SessionTimestamp(q, snap.ID)
		if err != nil || !ts.Valid {
			return nil, fmt.Errorf("session timestamp for snapshot %d: %w", snap.ID, err)
		}
		localDate := toLocalDate(ts.Time, e.loc)

		holdings, err := e.holdings.ListBySnapshot(q, snap.ID)
		if err != nil {
			return nil, fmt.Errorf("holdings for snapshot %d: %w", snap.ID, err)
		}

		if !localDate.After(start) {
			w := window{EffectiveDate: start, AccountSnapshotID: snap.ID, Holdings: holdings}
			baseline = &w
			continue
		}
		if localDate.After(start) && !localDate.After(end) {
			transitions = append(transitions, window{EffectiveDate: localDate, AccountSnapshotID: snap.ID, Holdings: holdings})
		}
	}

	var out []window
	if baseline != nil {
		out = append(out, *baseline)
	}
	out = append(out, transitions...)
	return out, nil
}

// toLocalDate converts a UTC instant to a local calendar date at midnight.
// The conversion happens once at this boundary; everything downstream
// operates on plain dates.
func toLocalDate(t time.Time, loc *time.Location) time.Time {
	lt := t.In(loc)
	return time.Date(lt.Year(), lt.Month(), lt.Day(), 0, 0, 0, 0, loc)
}

// activeWindow selects the latest window whose effective date is on or
// before date.
func activeWindow(timeline []window, date time.Time) *window {
	var active *window
	for i := range timeline {
		w := &timeline[i]
		if !w.EffectiveDate.After(date) {
			active = w
		}
	}
	return active
}
