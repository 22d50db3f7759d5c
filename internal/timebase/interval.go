package timebase

import "fmt"

// Interval is one cooperative task schedule: fire every Period ticks.
// Zero value with Period set is due on the first check after Period ticks from zero.
type Interval struct {
	Period Tick
	last   Tick
}

func NewInterval(period Tick, now Tick) Interval {
	return Interval{Period: period, last: now}
}

func (i *Interval) Due(now Tick) bool { return IsDue(i.last, i.Period, now) }

// Fire marks the task as run at now, regardless of its outcome.
func (i *Interval) Fire(now Tick) { i.last = now }

func (i Interval) Last() Tick { return i.last }

// Clamp resets last to now if the counter went backwards relative to last.
// "Backwards" is modular: now is behind last by less than half the counter
// range. A regular wrap (now small, last near 2^32) is forward and kept.
// Returns true if clamped.
func (i *Interval) Clamp(now Tick) bool {
	if int32(now-i.last) < 0 {
		i.last = now
		return true
	}
	return false
}

func (i Interval) String() string {
	return fmt.Sprintf("period=%s last=%d", i.Period.Duration(), i.last)
}
