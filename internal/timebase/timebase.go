// Package timebase is the cooperative scheduler's notion of time.
// Tick is a millisecond counter that wraps at 2^32, like a microcontroller millis().
// All interval arithmetic is unsigned modular subtraction, so the wrap boundary
// needs no special case.
package timebase

import (
	"sync/atomic"
	"time"
)

type Tick uint32

func Millis(d time.Duration) Tick { return Tick(uint32(d / time.Millisecond)) }

func (t Tick) Duration() time.Duration { return time.Duration(t) * time.Millisecond }

// IsDue reports whether at least period ticks passed since last, modulo 2^32.
func IsDue(last, period, now Tick) bool {
	return now-last >= period
}

type Clock interface {
	Now() Tick
}

type monoClock struct{ start time.Time }

// NewClock returns Clock counting milliseconds since its creation.
func NewClock() Clock { return &monoClock{start: time.Now()} }

func (c *monoClock) Now() Tick { return Tick(uint32(time.Since(c.start) / time.Millisecond)) }

// ManualClock is controlled by tests.
type ManualClock struct{ v uint32 }

func NewManualClock(start Tick) *ManualClock { return &ManualClock{v: uint32(start)} }

func (c *ManualClock) Now() Tick               { return Tick(atomic.LoadUint32(&c.v)) }
func (c *ManualClock) Set(t Tick)              { atomic.StoreUint32(&c.v, uint32(t)) }
func (c *ManualClock) Advance(d time.Duration) { atomic.AddUint32(&c.v, uint32(Millis(d))) }
