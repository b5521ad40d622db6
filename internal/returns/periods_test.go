package returns

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func date(y int, m time.Month, d int) time.Time {
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

func TestDateRange(t *testing.T) {
	yesterday := date(2025, time.June, 15)

	tests := []struct {
		period Period
		start  time.Time
		end    time.Time
	}{
		{Period1D, date(2025, time.June, 14), yesterday},
		{Period1M, date(2025, time.May, 15), yesterday},
		{Period3M, date(2025, time.March, 15), yesterday},
		{PeriodQTD, date(2025, time.March, 31), yesterday},
		{PeriodYTD, date(2024, time.December, 31), yesterday},
		{Period1Y, date(2024, time.June, 15), yesterday},
		{Period3Y, date(2022, time.June, 15), yesterday},
		{PeriodLQ, date(2025, time.January, 1), date(2025, time.March, 31)},
		{PeriodLY, date(2024, time.January, 1), date(2024, time.December, 31)},
	}
	for _, tt := range tests {
		start, end, err := dateRange(tt.period, yesterday)
		require.NoError(t, err, string(tt.period))
		assert.Equal(t, tt.start, start, string(tt.period))
		assert.Equal(t, tt.end, end, string(tt.period))
	}
}

func TestDateRange_MonthSubtractionClamps(t *testing.T) {
	// Mar 31 minus 1 month lands on Feb 28, not a rolled-over Mar 2/3.
	start, _, err := dateRange(Period1M, date(2025, time.March, 31))
	require.NoError(t, err)
	assert.Equal(t, date(2025, time.February, 28), start)

	// Leap year keeps Feb 29.
	start, _, err = dateRange(Period1M, date(2024, time.March, 31))
	require.NoError(t, err)
	assert.Equal(t, date(2024, time.February, 29), start)

	// May 31 minus 3 months: Feb 28.
	start, _, err = dateRange(Period3M, date(2025, time.May, 31))
	require.NoError(t, err)
	assert.Equal(t, date(2025, time.February, 28), start)

	// Jan 31 minus 1 month crosses the year boundary.
	start, _, err = dateRange(Period1M, date(2025, time.January, 31))
	require.NoError(t, err)
	assert.Equal(t, date(2024, time.December, 31), start)
}

func TestDateRange_QuarterBoundaries(t *testing.T) {
	// Yesterday in Q1: previous quarter is Q4 of the prior year.
	start, end, err := dateRange(PeriodLQ, date(2025, time.February, 10))
	require.NoError(t, err)
	assert.Equal(t, date(2024, time.October, 1), start)
	assert.Equal(t, date(2024, time.December, 31), end)

	qtdStart, _, err := dateRange(PeriodQTD, date(2025, time.February, 10))
	require.NoError(t, err)
	assert.Equal(t, date(2024, time.December, 31), qtdStart)
}

func TestDateRange_RejectsUnknownPeriod(t *testing.T) {
	_, _, err := dateRange(Period("7W"), date(2025, time.June, 15))
	assert.Error(t, err)
}
