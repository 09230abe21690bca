package core

import "sync/atomic"

// ManualClock is a Clock and Delay whose time only moves when told to.
// Delays advance the clock, so a full scan pass can be timed in tests and
// in the simulator without sleeping.
type ManualClock struct {
	micros atomic.Uint64
}

// Millis returns the current time in milliseconds
func (c *ManualClock) Millis() uint32 {
	return uint32(c.micros.Load() / 1000)
}

// Micros advances the clock by us microseconds
func (c *ManualClock) Micros(us uint32) {
	c.micros.Add(uint64(us))
}

// Advance moves the clock forward by ms milliseconds
func (c *ManualClock) Advance(ms uint32) {
	c.micros.Add(uint64(ms) * 1000)
}

// Set sets the current time in milliseconds
func (c *ManualClock) Set(ms uint32) {
	c.micros.Store(uint64(ms) * 1000)
}

// Elapsed returns the wrap-safe difference now-since in ms
func Elapsed(now, since uint32) uint32 {
	return now - since
}
