package returns

import (
	"fmt"
	"time"
)

// Period is one of the named windows GetReturns reports.
type Period string

const (
	Period1D  Period = "1D"
	Period1M  Period = "1M"
	Period3M  Period = "3M"
	PeriodQTD Period = "QTD"
	PeriodYTD Period = "YTD"
	Period1Y  Period = "1Y"
	Period3Y  Period = "3Y"
	PeriodLQ  Period = "LQ"
	PeriodLY  Period = "LY"
)

// DefaultPeriods is the period set GetReturns uses when the caller omits
// one.
var DefaultPeriods = []Period{Period1D, Period1M, Period3M, PeriodQTD, PeriodYTD, Period1Y, Period3Y, PeriodLQ, PeriodLY}

// dateRange resolves a period's [start, end] as local calendar dates,
// anchored on "yesterday". Unknown periods are rejected.
func dateRange(p Period, yesterday time.Time) (start, end time.Time, err error) {
	switch p {
	case Period1D:
		return yesterday.AddDate(0, 0, -1), yesterday, nil
	case Period1M:
		return clampMonthsBack(yesterday, 1), yesterday, nil
	case Period3M:
		return clampMonthsBack(yesterday, 3), yesterday, nil
	case PeriodQTD:
		return lastDayOfPreviousQuarter(yesterday), yesterday, nil
	case PeriodYTD:
		return dec31PreviousYear(yesterday), yesterday, nil
	case Period1Y:
		return yesterday.AddDate(-1, 0, 0), yesterday, nil
	case Period3Y:
		return yesterday.AddDate(-3, 0, 0), yesterday, nil
	case PeriodLQ:
		return firstDayOfPreviousQuarter(yesterday), lastDayOfPreviousQuarter(yesterday), nil
	case PeriodLY:
		y := yesterday.Year() - 1
		return time.Date(y, time.January, 1, 0, 0, 0, 0, yesterday.Location()),
			time.Date(y, time.December, 31, 0, 0, 0, 0, yesterday.Location()), nil
	default:
		return time.Time{}, time.Time{}, fmt.Errorf("unknown period %q", p)
	}
}

// clampMonthsBack subtracts n months from t and clamps to the last day of
// the resulting month when the day-of-month would otherwise overflow (e.g.
// Mar 31 minus 1 month lands on Feb 28/29, not a rolled-over Mar 2/3 — Go's
// time.AddDate rolls over, so the target month is computed explicitly).
func clampMonthsBack(t time.Time, n int) time.Time {
	year, month, _ := t.Date()
	totalMonths := int(month) - 1 - n
	targetYear := year + totalMonths/12
	targetMonthIdx := totalMonths % 12
	if targetMonthIdx < 0 {
		targetMonthIdx += 12
		targetYear--
	}
	targetMonth := time.Month(targetMonthIdx + 1)

	lastDay := lastDayOfMonth(targetYear, targetMonth)
	day := t.Day()
	if day > lastDay {
		day = lastDay
	}
	return time.Date(targetYear, targetMonth, day, 0, 0, 0, 0, t.Location())
}

func lastDayOfMonth(year int, month time.Month) int {
	firstOfNext := time.Date(year, month+1, 1, 0, 0, 0, 0, time.UTC)
	lastOfThis := firstOfNext.AddDate(0, 0, -1)
	return lastOfThis.Day()
}

func quarterOf(month time.Month) int {
	return (int(month)-1)/3 + 1
}

func firstDayOfPreviousQuarter(t time.Time) time.Time {
	year, month, _ := t.Date()
	q := quarterOf(month)
	prevQ := q - 1
	if prevQ < 1 {
		prevQ = 4
		year--
	}
	firstMonth := time.Month((prevQ-1)*3 + 1)
	return time.Date(year, firstMonth, 1, 0, 0, 0, 0, t.Location())
}

func lastDayOfPreviousQuarter(t time.Time) time.Time {
	firstOfPrev := firstDayOfPreviousQuarter(t)
	firstOfCurrentQuarter := firstOfPrev.AddDate(0, 3, 0)
	return firstOfCurrentQuarter.AddDate(0, 0, -1)
}

func dec31PreviousYear(t time.Time) time.Time {
	return time.Date(t.Year()-1, time.December, 31, 0, 0, 0, 0, t.Location())
}
