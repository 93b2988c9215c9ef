package recurrence

import "time"

// NextOccurrence computes when the occurrence after `from` is due.
//
// All arithmetic happens in UTC; callers own any display-timezone conversion,
// which keeps DST ambiguity out of the calculator entirely. The function is
// pure and deterministic, so retrying a computation is always safe.
//
// Monthly and yearly steps that land on a nonexistent day-of-month clamp to
// the last valid day of the target month (Jan 31 + 1 month = Feb 28/29).
//
// If end is non-nil and the computed occurrence falls at or after it, there
// is no further occurrence and nil is returned.
func NextOccurrence(rule Rule, from time.Time, end *time.Time) *time.Time {
	from = from.UTC()

	var next time.Time
	switch rule.Freq {
	case Daily:
		next = from.AddDate(0, 0, rule.Interval)
	case Weekly:
		next = from.AddDate(0, 0, 7*rule.Interval)
	case Monthly:
		next = addMonthsClamped(from, rule.Interval)
	case Yearly:
		next = addMonthsClamped(from, 12*rule.Interval)
	default:
		// Unreachable for rules produced by Parse.
		return nil
	}

	if end != nil && !next.Before(end.UTC()) {
		return nil
	}
	return &next
}

// addMonthsClamped advances t by the given number of months, clamping the day
// of month instead of letting time.AddDate normalize an overflow into the
// following month (Jan 31 + 1 month would otherwise become Mar 2/3).
func addMonthsClamped(t time.Time, months int) time.Time {
	year, month, day := t.Date()

	m := int(month) + months
	year += (m - 1) / 12
	month = time.Month((m-1)%12 + 1)

	if last := lastDayOfMonth(year, month); day > last {
		day = last
	}

	return time.Date(year, month, day,
		t.Hour(), t.Minute(), t.Second(), t.Nanosecond(), time.UTC)
}

// lastDayOfMonth returns the number of days in the given month.
func lastDayOfMonth(year int, month time.Month) int {
	// Day 0 of the next month normalizes to the last day of this one.
	return time.Date(year, month+1, 0, 0, 0, 0, 0, time.UTC).Day()
}
