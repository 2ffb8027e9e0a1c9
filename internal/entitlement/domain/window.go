package domain

import (
	"time"

	plandomain "github.com/fastingvibe/api/internal/plan/domain"
)

// DefaultFallbackWindowDays is the window granted when a plan carries no
// recognized recurring interval (one-time purchases).
const DefaultFallbackWindowDays = 30

// UTCMidnight pins a timestamp to the start of its UTC day. All window
// arithmetic runs at UTC day granularity so interval math is unambiguous
// across client timezones.
func UTCMidnight(t time.Time) time.Time {
	t = t.UTC()
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
}

// WindowEnd computes the entitlement window end for a start already pinned to
// UTC midnight. Month and year additions are calendar-aware, not fixed-day:
// 2023-01-31 plus two months lands on 2023-03-31.
func WindowEnd(start time.Time, interval plandomain.Interval, count int, fallbackDays int) time.Time {
	if count <= 0 {
		count = 1
	}
	switch interval {
	case plandomain.IntervalDay:
		return start.AddDate(0, 0, count)
	case plandomain.IntervalWeek:
		return start.AddDate(0, 0, 7*count)
	case plandomain.IntervalMonth:
		return start.AddDate(0, count, 0)
	case plandomain.IntervalYear:
		return start.AddDate(count, 0, 0)
	}
	if fallbackDays <= 0 {
		fallbackDays = DefaultFallbackWindowDays
	}
	return start.AddDate(0, 0, fallbackDays)
}
