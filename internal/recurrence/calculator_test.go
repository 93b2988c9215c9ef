package recurrence

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func mustTime(t *testing.T, s string) time.Time {
	t.Helper()
	ts, err := time.Parse(time.RFC3339, s)
	require.NoError(t, err)
	return ts.UTC()
}

func TestNextOccurrenceDaily(t *testing.T) {
	rule := Rule{Freq: Daily, Interval: 1}

	// Leap year: Feb 28 -> Feb 29.
	from := mustTime(t, "2024-02-28T00:00:00Z")
	next := NextOccurrence(rule, from, nil)
	require.NotNil(t, next)
	assert.Equal(t, mustTime(t, "2024-02-29T00:00:00Z"), *next)

	// Non-leap year: Feb 28 -> Mar 1.
	from = mustTime(t, "2025-02-28T00:00:00Z")
	next = NextOccurrence(rule, from, nil)
	require.NotNil(t, next)
	assert.Equal(t, mustTime(t, "2025-03-01T00:00:00Z"), *next)
}

func TestNextOccurrenceDailyInterval(t *testing.T) {
	rule := Rule{Freq: Daily, Interval: 3}
	from := mustTime(t, "2025-01-10T17:00:00Z")
	next := NextOccurrence(rule, from, nil)
	require.NotNil(t, next)
	assert.Equal(t, mustTime(t, "2025-01-13T17:00:00Z"), *next)
}

func TestNextOccurrenceWeekly(t *testing.T) {
	rule := Rule{Freq: Weekly, Interval: 1}
	from := mustTime(t, "2025-03-03T09:30:00Z")
	next := NextOccurrence(rule, from, nil)
	require.NotNil(t, next)
	assert.Equal(t, mustTime(t, "2025-03-10T09:30:00Z"), *next)

	rule = Rule{Freq: Weekly, Interval: 2}
	next = NextOccurrence(rule, from, nil)
	require.NotNil(t, next)
	assert.Equal(t, mustTime(t, "2025-03-17T09:30:00Z"), *next)
}

func TestNextOccurrenceMonthlyClamping(t *testing.T) {
	rule := Rule{Freq: Monthly, Interval: 1}

	// Anchored on the 31st: April has 30 days, so the occurrence clamps.
	from := mustTime(t, "2025-03-31T12:00:00Z")
	next := NextOccurrence(rule, from, nil)
	require.NotNil(t, next)
	assert.Equal(t, mustTime(t, "2025-04-30T12:00:00Z"), *next)

	// Jan 31 -> Feb 28 (non-leap).
	from = mustTime(t, "2025-01-31T08:00:00Z")
	next = NextOccurrence(rule, from, nil)
	require.NotNil(t, next)
	assert.Equal(t, mustTime(t, "2025-02-28T08:00:00Z"), *next)

	// Jan 31 -> Feb 29 (leap).
	from = mustTime(t, "2024-01-31T08:00:00Z")
	next = NextOccurrence(rule, from, nil)
	require.NotNil(t, next)
	assert.Equal(t, mustTime(t, "2024-02-29T08:00:00Z"), *next)
}

func TestNextOccurrenceMonthlyNoClampNeeded(t *testing.T) {
	rule := Rule{Freq: Monthly, Interval: 2}
	from := mustTime(t, "2025-05-15T06:00:00Z")
	next := NextOccurrence(rule, from, nil)
	require.NotNil(t, next)
	assert.Equal(t, mustTime(t, "2025-07-15T06:00:00Z"), *next)
}

func TestNextOccurrenceMonthlyYearRollover(t *testing.T) {
	rule := Rule{Freq: Monthly, Interval: 3}
	from := mustTime(t, "2025-11-30T10:00:00Z")
	next := NextOccurrence(rule, from, nil)
	require.NotNil(t, next)
	assert.Equal(t, mustTime(t, "2026-02-28T10:00:00Z"), *next)
}

func TestNextOccurrenceYearly(t *testing.T) {
	rule := Rule{Freq: Yearly, Interval: 1}

	from := mustTime(t, "2025-06-01T00:00:00Z")
	next := NextOccurrence(rule, from, nil)
	require.NotNil(t, next)
	assert.Equal(t, mustTime(t, "2026-06-01T00:00:00Z"), *next)

	// Feb 29 anchored yearly clamps to Feb 28 in non-leap years.
	from = mustTime(t, "2024-02-29T00:00:00Z")
	next = NextOccurrence(rule, from, nil)
	require.NotNil(t, next)
	assert.Equal(t, mustTime(t, "2025-02-28T00:00:00Z"), *next)
}

func TestNextOccurrenceEndBoundary(t *testing.T) {
	rule := Rule{Freq: Weekly, Interval: 1}
	from := mustTime(t, "2025-04-01T00:00:00Z")

	// End one day before the computed next occurrence: no further occurrence.
	end := mustTime(t, "2025-04-07T00:00:00Z")
	assert.Nil(t, NextOccurrence(rule, from, &end))

	// End exactly at the computed occurrence: still excluded (at or after).
	end = mustTime(t, "2025-04-08T00:00:00Z")
	assert.Nil(t, NextOccurrence(rule, from, &end))

	// End one second after: occurrence survives.
	end = mustTime(t, "2025-04-08T00:00:01Z")
	next := NextOccurrence(rule, from, &end)
	require.NotNil(t, next)
	assert.Equal(t, mustTime(t, "2025-04-08T00:00:00Z"), *next)
}

func TestNextOccurrenceNormalizesToUTC(t *testing.T) {
	loc, err := time.LoadLocation("America/New_York")
	require.NoError(t, err)

	rule := Rule{Freq: Daily, Interval: 1}
	from := time.Date(2025, 1, 10, 12, 0, 0, 0, loc)
	next := NextOccurrence(rule, from, nil)
	require.NotNil(t, next)
	assert.Equal(t, time.UTC, next.Location())
	assert.Equal(t, from.UTC().AddDate(0, 0, 1), *next)
}

func TestNextOccurrenceDeterministic(t *testing.T) {
	rule := Rule{Freq: Monthly, Interval: 1}
	from := mustTime(t, "2025-01-31T08:00:00Z")

	first := NextOccurrence(rule, from, nil)
	second := NextOccurrence(rule, from, nil)
	require.NotNil(t, first)
	require.NotNil(t, second)
	assert.Equal(t, *first, *second)
}
