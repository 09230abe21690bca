// Package sim runs the scanner firmware on the host against simulated
// peripherals.
package sim

import (
	"errors"
	"math/rand"
	"sync"
	"sync/atomic"

	"github.com/chewxy/math32"

	"matrixscan/core"
	"matrixscan/drivers/ads7049"
)

var errNoChannel = errors.New("sim: channel out of range")

// Press is a simulated contact centred on a node
type Press struct {
	Row, Column uint8
	Peak        uint16
	Radius      float32 // falloff in nodes
}

// Matrix simulates the row demultiplexer, the column multiplexers and the
// ADC of a sensing matrix. Readings are a baseline plus the contribution
// of every active press plus uniform noise.
type Matrix struct {
	mu       sync.Mutex
	baseline uint16
	noise    uint16
	rng      *rand.Rand
	presses  []Press
	faults   map[[2]uint8]bool

	row, col uint8
	reads    atomic.Uint64
}

// NewMatrix creates a matrix with the given resting level and noise
// amplitude. The noise sequence is deterministic for a given seed.
func NewMatrix(baseline, noise uint16, seed int64) *Matrix {
	return &Matrix{
		baseline: baseline,
		noise:    noise,
		rng:      rand.New(rand.NewSource(seed)),
		faults:   map[[2]uint8]bool{},
	}
}

func (m *Matrix) Init() error { return nil }

func (m *Matrix) SelectRow(row uint8) error {
	if row >= core.MaxMatrixSize {
		return errNoChannel
	}
	m.mu.Lock()
	m.row = row
	m.mu.Unlock()
	return nil
}

func (m *Matrix) SelectColumn(col uint8) error {
	if col >= core.MaxMatrixSize {
		return errNoChannel
	}
	m.mu.Lock()
	m.col = col
	m.mu.Unlock()
	return nil
}

// ReadSample returns the simulated 12-bit conversion of the selected node
func (m *Matrix) ReadSample() (uint16, error) {
	m.reads.Add(1)
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.faults[[2]uint8{m.row, m.col}] {
		return 0, errors.New("sim: ADC fault")
	}
	v := m.level(m.row, m.col)
	if m.noise > 0 {
		v += float32(m.rng.Intn(2*int(m.noise)+1) - int(m.noise))
	}
	return toSample(v), nil
}

// level is the noiseless reading at a node
func (m *Matrix) level(row, col uint8) float32 {
	v := float32(m.baseline)
	for _, p := range m.presses {
		dr := float32(row) - float32(p.Row)
		dc := float32(col) - float32(p.Column)
		r := p.Radius
		if r <= 0 {
			r = 1
		}
		v += float32(p.Peak) * math32.Exp(-(dr*dr+dc*dc)/(2*r*r))
	}
	return v
}

func toSample(v float32) uint16 {
	if v < 0 {
		return 0
	}
	if v > ads7049.MaxValue {
		return ads7049.MaxValue
	}
	return uint16(math32.Floor(v + 0.5))
}

// Press adds a contact
func (m *Matrix) Press(p Press) {
	m.mu.Lock()
	m.presses = append(m.presses, p)
	m.mu.Unlock()
}

// Release removes every contact
func (m *Matrix) Release() {
	m.mu.Lock()
	m.presses = nil
	m.mu.Unlock()
}

// SetFault makes reads of one node fail
func (m *Matrix) SetFault(row, col uint8, fail bool) {
	m.mu.Lock()
	m.faults[[2]uint8{row, col}] = fail
	m.mu.Unlock()
}

// Reads returns the number of ADC conversions performed
func (m *Matrix) Reads() uint64 {
	return m.reads.Load()
}

// Reference records the DAC selector
type Reference struct {
	level atomic.Uint32
	set   atomic.Uint32
}

func (r *Reference) Init() error { return nil }

func (r *Reference) SetReferenceVoltage(level uint8) error {
	r.level.Store(uint32(level))
	r.set.Add(1)
	return nil
}

// Level returns the last selector written
func (r *Reference) Level() uint8 {
	return uint8(r.level.Load())
}

// Indicator mirrors the session LED
type Indicator struct {
	on atomic.Bool
}

func (i *Indicator) SetIndicator(on bool) { i.on.Store(on) }

// On reports the LED state
func (i *Indicator) On() bool { return i.on.Load() }
