package clock

import "time"

// FakeClock is a manually advanced Clock for deterministic window tests.
type FakeClock struct {
	now time.Time
}

func NewFakeClock(t time.Time) *FakeClock {
	return &FakeClock{now: t.UTC()}
}

func (c *FakeClock) Now() time.Time {
	return c.now
}

// Advance moves the clock forward by d.
func (c *FakeClock) Advance(d time.Duration) {
	c.now = c.now.Add(d)
}

// SetTo pins the clock to an absolute instant.
func (c *FakeClock) SetTo(t time.Time) {
	c.now = t.UTC()
}
