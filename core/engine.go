package core

import (
	"matrixscan/filter"
	"matrixscan/protocol"
)

// State is the scan session state
type State uint8

const (
	Idle State = iota
	Started
	StopRequested
)

func (s State) String() string {
	switch s {
	case Idle:
		return "idle"
	case Started:
		return "started"
	case StopRequested:
		return "stop-requested"
	}
	return "unknown"
}

// StopKind tells how the last session ended
type StopKind uint8

const (
	StopGraceful StopKind = iota // STOP or trigger falling edge
	StopHalt                     // STOP_CAN, trigger disarmed
)

// Session is the engine's view of the current acquisition
type Session struct {
	State        State
	Stop         StopKind
	TriggerArmed bool
	PackageID    uint32 // id of the next scanline
	Frames       uint32 // completed passes
	Skipped      uint32 // passes delayed by pacing
	UnixTime     uint32 // last host time received with FRAME
	Row          uint8  // next row to scan
	PassStart    uint32 // tick at which the current pass began

	passStarted bool
	waiting     bool
}

// Engine sequences the hardware one row per tick and emits one scanline per
// row.
type Engine struct {
	hw       *Hardware
	codec    *protocol.Codec
	settings *ScanSettings
	bank     *filter.Bank
	trigger  Trigger
	session  Session
	line     [MaxMatrixSize]uint16
}

func newEngine(hw *Hardware, codec *protocol.Codec, settings *ScanSettings, bank *filter.Bank) *Engine {
	return &Engine{
		hw:       hw,
		codec:    codec,
		settings: settings,
		bank:     bank,
	}
}

// Session returns a copy of the session state
func (e *Engine) Session() Session {
	return e.session
}

// Active reports whether a session is Started or draining
func (e *Engine) Active() bool {
	return e.session.State != Idle
}

// Start begins a session. A pending stop is cancelled.
func (e *Engine) Start() {
	switch e.session.State {
	case Started:
		return
	case StopRequested:
		e.session.State = Started
		return
	}
	e.begin()
}

func (e *Engine) begin() {
	e.bank.Reset()
	e.session.State = Started
	e.session.Row = 0
	e.session.passStarted = false
	e.session.waiting = false
	e.setIndicator(true)
	RecordEvent(EvtSessionStart, 0, e.now(), e.session.PackageID, 0)
}

// ArmTrigger lets the external trigger start and stop sessions
func (e *Engine) ArmTrigger() {
	e.session.TriggerArmed = true
	// Drop edges latched before arming
	e.trigger.clear()
}

// RequestStop asks a running session to stop at the next tick
func (e *Engine) RequestStop() {
	e.requestStop(StopGraceful)
}

// Halt disarms the trigger and asks a running session to stop at the next
// tick
func (e *Engine) Halt() {
	e.session.TriggerArmed = false
	e.requestStop(StopHalt)
}

func (e *Engine) requestStop(kind StopKind) {
	if e.session.State == Started {
		e.session.State = StopRequested
		e.session.Stop = kind
	}
}

func (e *Engine) finish() {
	e.session.State = Idle
	e.session.Row = 0
	e.setIndicator(false)
	RecordEvent(EvtSessionStop, uint8(e.session.Stop), e.now(), e.session.PackageID, e.session.Frames)
}

// SetUnixTime stores the host time stamped into subsequent scanlines
func (e *Engine) SetUnixTime(t uint32) {
	e.session.UnixTime = t
}

func (e *Engine) checkExtTriggerStart(edge Edge) bool {
	return e.session.TriggerArmed && edge == EdgeRising && e.session.State == Idle
}

func (e *Engine) checkExtTriggerStop(edge Edge) bool {
	return e.session.TriggerArmed && edge == EdgeFalling && e.session.State == Started
}

// Scan runs one tick of the state machine. It returns true when a scanline
// was sent.
func (e *Engine) Scan() bool {
	edge := e.trigger.take()
	if edge != EdgeNone {
		RecordEvent(EvtTriggerEdge, uint8(edge), e.now(), 0, 0)
	}

	switch e.session.State {
	case Idle:
		if e.checkExtTriggerStart(edge) {
			e.begin()
			e.sendStatus(protocol.CommStartCAN, protocol.SessionStarted)
		}
		return false
	case StopRequested:
		e.finish()
		return false
	}

	if e.checkExtTriggerStop(edge) {
		e.session.Stop = StopGraceful
		e.finish()
		e.sendStatus(protocol.CommStartCAN, protocol.SessionStopped)
		return false
	}

	if e.session.Row == 0 && !e.pace() {
		return false
	}

	row := e.session.Row
	sent := e.scanRow(row)
	e.session.Row++
	if e.session.Row >= e.settings.YSize {
		e.session.Row = 0
		e.session.Frames++
	}
	return sent
}

// pace reports whether a new pass may begin now
func (e *Engine) pace() bool {
	now := e.now()
	if e.session.passStarted && Elapsed(now, e.session.PassStart) < e.settings.FrameInterval() {
		if !e.session.waiting {
			e.session.waiting = true
			e.session.Skipped++
			RecordEvent(EvtFrameSkipped, 0, now, e.session.Frames, 0)
		}
		return false
	}
	e.session.PassStart = now
	e.session.passStarted = true
	e.session.waiting = false
	return true
}

func (e *Engine) scanRow(row uint8) bool {
	s := e.settings
	if err := e.hw.Rows.SelectRow(uint8(s.MatrixShiftY) + row); err != nil {
		RecordEvent(EvtRowFault, row, e.now(), 0, 0)
		return false
	}
	e.hw.Delay.Micros(uint32(s.ADCDelay))

	width := int(s.XSize)
	base := int(row) * width
	for col := 0; col < width; col++ {
		v, ok := e.sampleCell(uint8(s.MatrixShiftX) + uint8(col))
		if !ok {
			e.line[col] = protocol.SampleFault
			RecordEvent(EvtSampleFault, row, e.now(), uint32(col), 0)
			continue
		}
		e.line[col] = clampSample(e.bank.Apply(base+col, v))
	}
	return e.sendFrame(row, e.line[:width])
}

// sampleCell selects column and averages SamplesNumber conversions
func (e *Engine) sampleCell(column uint8) (uint16, bool) {
	if err := e.hw.Columns.SelectColumn(column); err != nil {
		return 0, false
	}
	n := uint32(e.settings.SamplesNumber)
	if n == 0 {
		n = 1
	}
	var sum uint32
	for i := uint32(0); i < n; i++ {
		v, err := e.hw.Sampler.ReadSample()
		if err != nil {
			return 0, false
		}
		sum += uint32(v)
	}
	return clampSample(uint16(sum / n)), true
}

// clampSample keeps real readings distinct from the fault sentinel
func clampSample(v uint16) uint16 {
	if v == protocol.SampleFault {
		return protocol.SampleFault - 1
	}
	return v
}

// sendFrame emits one scanline. The package id only advances when the frame
// was flushed.
func (e *Engine) sendFrame(row uint8, samples []uint16) bool {
	c := e.codec
	ok := c.ResetAnswer() &&
		c.PushHeaderToAnswer(protocol.CommFrame) &&
		c.PushUint32ToAnswer(e.session.PackageID) &&
		c.PushUint32ToAnswer(e.now()) &&
		c.PushUint32ToAnswer(e.session.UnixTime) &&
		c.PushToAnswer(row) &&
		c.PushToAnswer(uint8(len(samples)))
	for i := 0; ok && i < len(samples); i++ {
		ok = c.PushUint16ToAnswer(samples[i])
	}
	if !ok {
		RecordEvent(EvtFrameAborted, row, e.now(), e.session.PackageID, uint32(c.AnswerLen()))
		c.ResetAnswer()
		return false
	}
	if !c.SendAnswerCRC() {
		RecordEvent(EvtFrameAborted, row, e.now(), e.session.PackageID, 0)
		return false
	}
	e.session.PackageID++
	return true
}

func (e *Engine) sendStatus(code byte, status uint8) bool {
	c := e.codec
	return c.ResetAnswer() &&
		c.PushHeaderToAnswer(code) &&
		c.PushToAnswer(status) &&
		c.SendAnswer()
}

func (e *Engine) setIndicator(on bool) {
	if e.hw.Indicator != nil {
		e.hw.Indicator.SetIndicator(on)
	}
}

func (e *Engine) now() uint32 {
	return e.hw.Clock.Millis()
}
