package publish

import "matrixscan/protocol"

// Frame is one full pass over the matrix
type Frame struct {
	Device       string     `json:"device"`
	FirstPackage uint32     `json:"first_package"`
	Timestamp    uint32     `json:"timestamp_ms"`
	UnixTime     uint32     `json:"unix_time"`
	Rows         [][]uint16 `json:"rows"`
	Faults       int        `json:"faults"`
}

// Assembler groups scanlines into frames. A frame is complete when Rows
// lines were collected, or when the row index wraps before that (rows lost
// in transit).
type Assembler struct {
	Rows int

	cur     *Frame
	lastRow int
}

// Add consumes one scanline and returns a frame when one completes
func (a *Assembler) Add(line protocol.Scanline) (*Frame, bool) {
	var done *Frame
	if a.cur != nil && int(line.Row) <= a.lastRow {
		done = a.cur
		a.cur = nil
	}
	if a.cur == nil {
		a.cur = &Frame{
			FirstPackage: line.PackageID,
			Timestamp:    line.Timestamp,
			UnixTime:     line.UnixTime,
		}
	}
	a.lastRow = int(line.Row)
	a.cur.Rows = append(a.cur.Rows, line.Samples)
	for _, v := range line.Samples {
		if v == protocol.SampleFault {
			a.cur.Faults++
		}
	}

	if done == nil && a.Rows > 0 && len(a.cur.Rows) >= a.Rows {
		done = a.cur
		a.cur = nil
	}
	return done, done != nil
}

// Reset drops a partially assembled frame
func (a *Assembler) Reset() {
	a.cur = nil
}
