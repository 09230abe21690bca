package sim

import "time"

// WallClock is a core.Clock and core.Delay backed by the host clock.
// Delays are skipped unless Realtime is set.
type WallClock struct {
	Realtime bool
	start    time.Time
}

// NewWallClock starts a clock at zero
func NewWallClock(realtime bool) *WallClock {
	return &WallClock{Realtime: realtime, start: time.Now()}
}

func (c *WallClock) Millis() uint32 {
	return uint32(time.Since(c.start).Milliseconds())
}

func (c *WallClock) Micros(us uint32) {
	if c.Realtime && us > 0 {
		time.Sleep(time.Duration(us) * time.Microsecond)
	}
}
