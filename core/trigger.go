package core

import "sync/atomic"

// Edge is a transition of the external trigger input
type Edge uint32

const (
	EdgeNone Edge = iota
	EdgeRising
	EdgeFalling
)

// edgeBits is the width of one queued edge
const edgeBits = 8

// Trigger queues up to two trigger edges between ticks. Fire may be called
// from interrupt context; the engine consumes one edge per tick, so a pulse
// shorter than a tick still starts and stops a session.
type Trigger struct {
	pending atomic.Uint32 // oldest edge in the low byte
}

// Fire queues edge. A repeat of the newest queued edge is ignored. With two
// edges queued the oldest is dropped, which keeps the net input level.
func (t *Trigger) Fire(edge Edge) {
	if edge == EdgeNone {
		return
	}
	for {
		old := t.pending.Load()
		first, second := Edge(old&0xFF), Edge(old>>edgeBits&0xFF)
		var next uint32
		switch {
		case first == EdgeNone:
			next = uint32(edge)
		case second == EdgeNone:
			if first == edge {
				return
			}
			next = old | uint32(edge)<<edgeBits
		default:
			if second == edge {
				return
			}
			next = uint32(second) | uint32(edge)<<edgeBits
		}
		if t.pending.CompareAndSwap(old, next) {
			return
		}
	}
}

// take removes and returns the oldest queued edge
func (t *Trigger) take() Edge {
	for {
		old := t.pending.Load()
		if old == 0 {
			return EdgeNone
		}
		if t.pending.CompareAndSwap(old, old>>edgeBits) {
			return Edge(old & 0xFF)
		}
	}
}

// clear drops every queued edge
func (t *Trigger) clear() {
	t.pending.Store(0)
}
