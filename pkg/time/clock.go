package time

import (
	"time"

	"code.cloudfoundry.org/clock"
)

// clock provides wall time for lease creation and expiry
// leases are persisted and compared across processes, so unlike an
// in-memory elapsed counter we need absolute UTC instants
// the source is swappable so tests can drive time with fakeclock
type Clock struct {
	source clock.Clock
}

func NewClock() *Clock {
	return &Clock{
		source: clock.NewClock(),
	}
}

// wraps an existing clock, typically a *fakeclock.FakeClock
func NewClockFrom(source clock.Clock) *Clock {
	if source == nil {
		source = clock.NewClock()
	}
	return &Clock{source: source}
}

// current instant in UTC
func (c *Clock) Now() time.Time {
	return c.source.Now().UTC()
}
