package core

import (
	"bytes"
	"errors"
	"testing"

	"github.com/stretchr/testify/require"

	"matrixscan/protocol"
)

var errFake = errors.New("fake failure")

// fakeMatrix implements the row, column and sample drivers over a
// function of the selected node.
type fakeMatrix struct {
	row, col uint8
	value    func(row, col uint8) uint16

	initErr    error
	failRow    map[uint8]bool
	failColumn map[uint8]bool
	reads      int
	rowsSeen   []uint8
}

func newFakeMatrix() *fakeMatrix {
	return &fakeMatrix{
		value:      func(row, col uint8) uint16 { return uint16(row)*100 + uint16(col) },
		failRow:    map[uint8]bool{},
		failColumn: map[uint8]bool{},
	}
}

func (m *fakeMatrix) Init() error { return m.initErr }

func (m *fakeMatrix) SelectRow(row uint8) error {
	if m.failRow[row] {
		return errFake
	}
	m.row = row
	m.rowsSeen = append(m.rowsSeen, row)
	return nil
}

func (m *fakeMatrix) SelectColumn(col uint8) error {
	m.col = col
	return nil
}

func (m *fakeMatrix) ReadSample() (uint16, error) {
	m.reads++
	if m.failColumn[m.col] {
		return 0, errFake
	}
	return m.value(m.row, m.col), nil
}

type fakeColumns struct{ *fakeMatrix }

type fakeSampler struct {
	*fakeMatrix
	initErr error
}

func (s fakeSampler) Init() error { return s.initErr }

type fakeReference struct {
	level   uint8
	sets    int
	initErr error
}

func (r *fakeReference) Init() error { return r.initErr }

func (r *fakeReference) SetReferenceVoltage(level uint8) error {
	r.level = level
	r.sets++
	return nil
}

type fakeIndicator struct{ on bool }

func (i *fakeIndicator) SetIndicator(on bool) { i.on = on }

type fakeSwitch struct{ on bool }

func (s *fakeSwitch) Set(on bool) { s.on = on }

// failingWriter rejects every write once armed
type failingWriter struct {
	buf  bytes.Buffer
	fail bool
}

func (w *failingWriter) Write(p []byte) (int, error) {
	if w.fail {
		return 0, errFake
	}
	return w.buf.Write(p)
}

type harness struct {
	app       *Application
	matrix    *fakeMatrix
	reference *fakeReference
	indicator *fakeIndicator
	clock     *ManualClock
	out       *failingWriter
	parser    *protocol.AnswerParser
	store     *FlashStore
}

func newHarness(t *testing.T, tweak func(*harness, *Config)) *harness {
	t.Helper()
	h, err := setupHarness(tweak)
	require.NoError(t, err)
	return h
}

// setupHarness builds fake hardware and initialises an Application on it
func setupHarness(tweak func(*harness, *Config)) (*harness, error) {
	ClearEvents()
	h := &harness{
		matrix:    newFakeMatrix(),
		reference: &fakeReference{},
		indicator: &fakeIndicator{},
		clock:     &ManualClock{},
		out:       &failingWriter{},
		parser:    protocol.NewAnswerParser(256),
		store:     NewFlashStore(NewMemoryFlash(256, 1), protocol.Version),
	}
	h.clock.Set(1000)
	cfg := Config{
		Hardware: Hardware{
			Rows:      h.matrix,
			Columns:   fakeColumns{h.matrix},
			Sampler:   fakeSampler{fakeMatrix: h.matrix},
			Reference: h.reference,
			Indicator: h.indicator,
			Clock:     h.clock,
			Delay:     h.clock,
		},
		Store:  h.store,
		Output: h.out,
	}
	if tweak != nil {
		tweak(h, &cfg)
	}
	h.app = &Application{}
	return h, h.app.Init(cfg)
}

// send feeds a command frame and dispatches everything pending
func (h *harness) send(code byte, payload []byte) {
	h.app.Receive(protocol.EncodeCommand(code, payload))
	var cmd Command
	for h.app.GetCommand(&cmd) {
		h.app.Dispatch(cmd)
	}
}

// answers returns the answers written since the last call
func (h *harness) answers() []*protocol.Answer {
	var out []*protocol.Answer
	h.parser.Feed(h.out.buf.Bytes(), func(a *protocol.Answer) { out = append(out, a) })
	h.out.buf.Reset()
	return out
}

func (h *harness) scanlines(t *testing.T) []protocol.Scanline {
	t.Helper()
	var lines []protocol.Scanline
	for _, a := range h.answers() {
		if a.Code != protocol.CommFrame {
			continue
		}
		line, err := protocol.DecodeScanline(a.Payload)
		require.NoError(t, err)
		lines = append(lines, line)
	}
	return lines
}

func (h *harness) writeSettings(t *testing.T, s ScanSettings) {
	t.Helper()
	b, err := s.MarshalBinary()
	require.NoError(t, err)
	h.send(protocol.CommWriteConfig, b)
}

func eventTypes() []uint8 {
	var types []uint8
	for _, e := range Events() {
		types = append(types, e.Type)
	}
	return types
}
