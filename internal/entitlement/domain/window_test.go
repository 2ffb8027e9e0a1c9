package domain

import (
	"testing"
	"time"

	plandomain "github.com/fastingvibe/api/internal/plan/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestUTCMidnight(t *testing.T) {
	loc := time.FixedZone("UTC+7", 7*3600)
	in := time.Date(2023, 6, 15, 3, 30, 0, 0, loc) // 2023-06-14T20:30:00Z
	got := UTCMidnight(in)
	require.True(t, got.Equal(time.Date(2023, 6, 14, 0, 0, 0, 0, time.UTC)))
}

func TestWindowEndCalendarAware(t *testing.T) {
	tests := []struct {
		name     string
		start    time.Time
		interval plandomain.Interval
		count    int
		want     time.Time
	}{{
		name:     "two calendar months from january 31st",
		start:    time.Date(2023, 1, 31, 0, 0, 0, 0, time.UTC),
		interval: plandomain.IntervalMonth,
		count:    2,
		want:     time.Date(2023, 3, 31, 0, 0, 0, 0, time.UTC),
	}, {
		name:     "thirty days",
		start:    time.Date(2023, 1, 1, 0, 0, 0, 0, time.UTC),
		interval: plandomain.IntervalDay,
		count:    30,
		want:     time.Date(2023, 1, 31, 0, 0, 0, 0, time.UTC),
	}, {
		name:     "one month",
		start:    time.Date(2023, 6, 15, 0, 0, 0, 0, time.UTC),
		interval: plandomain.IntervalMonth,
		count:    1,
		want:     time.Date(2023, 7, 15, 0, 0, 0, 0, time.UTC),
	}, {
		name:     "two weeks",
		start:    time.Date(2023, 6, 15, 0, 0, 0, 0, time.UTC),
		interval: plandomain.IntervalWeek,
		count:    2,
		want:     time.Date(2023, 6, 29, 0, 0, 0, 0, time.UTC),
	}, {
		name:     "one year over leap day",
		start:    time.Date(2024, 2, 29, 0, 0, 0, 0, time.UTC),
		interval: plandomain.IntervalYear,
		count:    1,
		want:     time.Date(2025, 3, 1, 0, 0, 0, 0, time.UTC),
	}, {
		name:     "zero count defaults to one",
		start:    time.Date(2023, 1, 1, 0, 0, 0, 0, time.UTC),
		interval: plandomain.IntervalMonth,
		count:    0,
		want:     time.Date(2023, 2, 1, 0, 0, 0, 0, time.UTC),
	}}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := WindowEnd(tt.start, tt.interval, tt.count, 30)
			assert.True(t, got.Equal(tt.want), "expected %s, got %s", tt.want, got)
		})
	}
}

func TestWindowEndFallback(t *testing.T) {
	start := time.Date(2023, 1, 1, 0, 0, 0, 0, time.UTC)
	want := time.Date(2023, 1, 31, 0, 0, 0, 0, time.UTC)

	assert.True(t, WindowEnd(start, "", 1, 30).Equal(want))
	// A zero fallback still produces the default thirty-day window.
	assert.True(t, WindowEnd(start, "lifetime", 1, 0).Equal(want))
}

func TestActiveAt(t *testing.T) {
	now := time.Date(2023, 6, 15, 12, 0, 0, 0, time.UTC)
	end := time.Date(2023, 7, 1, 0, 0, 0, 0, time.UTC)
	past := time.Date(2023, 6, 1, 0, 0, 0, 0, time.UTC)

	assert.True(t, (&Entitlement{State: StateSuccess, EndAt: &end}).ActiveAt(now))
	assert.False(t, (&Entitlement{State: StateSuccess, EndAt: &past}).ActiveAt(now))
	assert.False(t, (&Entitlement{State: StateCancelled, EndAt: &end}).ActiveAt(now))
	assert.False(t, (&Entitlement{State: StateSuccess}).ActiveAt(now))
}
