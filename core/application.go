// Package core implements the matrix scanner: settings, session state
// machine, hardware sequencing and command dispatch.
package core

import (
	"encoding/binary"
	"errors"
	"io"

	"matrixscan/filter"
	"matrixscan/protocol"
)

// Command is one decoded host request
type Command = protocol.Command

// Buffer sizing
const (
	DefaultRxBufferSize = 64
	DefaultTxBufferSize = 128

	// MinRxBufferSize holds the largest inbound frame
	MinRxBufferSize = protocol.PreambleSize + 1 + protocol.MaxCommandPayload

	// MinTxBufferSize holds a full-width scanline
	MinTxBufferSize = protocol.HeaderSize + protocol.ScanlineHeaderSize + 2*MaxMatrixSize + protocol.TrailerSize
)

var (
	ErrMissingDriver = errors.New("driver not configured")
	ErrBufferSize    = errors.New("buffer too small")
	ErrNoOutput      = errors.New("no transport output")
)

// Config wires an Application to its platform
type Config struct {
	Hardware Hardware

	// Store persists settings. Without one settings start at defaults and
	// writes are kept in RAM only.
	Store SettingsStore

	// Output receives every answer frame
	Output io.Writer

	RxBufferSize int
	TxBufferSize int
}

// Application composes the codec, the scan engine and the settings and
// routes host commands to them.
type Application struct {
	hw       Hardware
	store    SettingsStore
	codec    *protocol.Codec
	engine   *Engine
	bank     *filter.Bank
	settings ScanSettings
	ready    bool
}

// Init brings up the drivers, loads settings and allocates the transport
// buffers. A driver failure is fatal.
func (a *Application) Init(cfg Config) error {
	a.ready = false
	rx, tx := cfg.RxBufferSize, cfg.TxBufferSize
	if rx == 0 {
		rx = DefaultRxBufferSize
	}
	if tx == 0 {
		tx = DefaultTxBufferSize
	}
	if rx < MinRxBufferSize || tx < MinTxBufferSize {
		return ErrBufferSize
	}
	if cfg.Output == nil {
		return ErrNoOutput
	}

	a.hw = cfg.Hardware
	if err := a.hw.Init(); err != nil {
		DebugPrintln("[MATRIX] " + err.Error())
		return err
	}

	a.store = cfg.Store
	a.settings.Reset()
	if a.store != nil {
		if err := a.store.LoadSettings(&a.settings); err != nil {
			DebugPrintln("[MATRIX] settings: " + err.Error() + ", using defaults")
			RecordEvent(EvtSettingsDefault, 0, a.hw.Clock.Millis(), 0, 0)
			a.settings.Reset()
		}
	}

	if err := a.hw.Reference.SetReferenceVoltage(a.settings.ReferenceVoltage); err != nil {
		return &InitError{Role: "reference", Err: err}
	}

	a.bank = filter.NewBank(MaxCells)
	if err := a.bank.Rebuild(a.settings.FilterKind(), a.settings.FilterParams(), a.settings.Cells()); err != nil {
		return err
	}

	a.codec = protocol.NewCodec(rx, tx, cfg.Output)
	a.engine = newEngine(&a.hw, a.codec, &a.settings, a.bank)
	a.ready = true
	DebugPrintln("[MATRIX] ready, version 0x" + hex16(uint16(protocol.Version>>16)) + hex16(uint16(protocol.Version&0xFFFF)))
	return nil
}

// Settings returns a copy of the active settings
func (a *Application) Settings() ScanSettings {
	return a.settings
}

// Session returns a copy of the session state
func (a *Application) Session() Session {
	if a.engine == nil {
		return Session{}
	}
	return a.engine.Session()
}

// Receive feeds transport bytes into the command parser
func (a *Application) Receive(p []byte) int {
	if !a.ready {
		return 0
	}
	return a.codec.Receive(p)
}

// CheckCommand reports whether a complete command is waiting
func (a *Application) CheckCommand() bool {
	return a.ready && a.codec.CheckCommand()
}

// GetCommand retrieves the waiting command into cmd
func (a *Application) GetCommand(cmd *Command) bool {
	return a.ready && a.codec.GetCommand(cmd)
}

// Scan runs one engine tick and reports whether a scanline was sent
func (a *Application) Scan() bool {
	return a.ready && a.engine.Scan()
}

// Trigger latches an external trigger edge. Safe to call from interrupt
// context.
func (a *Application) Trigger(edge Edge) {
	if a.engine != nil {
		a.engine.trigger.Fire(edge)
	}
}

// Tick drains pending commands and then runs one scan step. It is the body
// of the firmware main loop.
func (a *Application) Tick() bool {
	var cmd Command
	for a.GetCommand(&cmd) {
		a.Dispatch(cmd)
		cmd.Reset()
	}
	return a.Scan()
}

// Dispatch performs the effect of cmd and sends its answer. It returns
// false for commands outside the instruction set and when the answer could
// not be sent.
func (a *Application) Dispatch(cmd Command) bool {
	if !a.ready {
		return false
	}
	e := a.engine
	switch cmd.Code {
	case protocol.CommStart, protocol.CommStartNoParams:
		e.Start()
		return a.sendStatus(cmd.Code, protocol.SessionStarted)

	case protocol.CommStop:
		e.RequestStop()
		return a.sendStatus(cmd.Code, protocol.SessionStopped)

	case protocol.CommStartCAN:
		e.ArmTrigger()
		status := uint8(protocol.SessionStopped)
		if e.Active() {
			status = protocol.SessionStarted
		}
		return a.sendStatus(cmd.Code, status)

	case protocol.CommStopCAN:
		e.Halt()
		return a.sendStatus(cmd.Code, protocol.SessionStopped)

	case protocol.CommFrame:
		if len(cmd.Data) < protocol.TimeSyncSize {
			return false
		}
		e.SetUnixTime(binary.LittleEndian.Uint32(cmd.Data))
		return true

	case protocol.CommWriteConfig:
		a.writeConfig(cmd.Data)
		return a.sendConfig(cmd.Code)

	case protocol.CommReadConfig:
		return a.sendConfig(cmd.Code)

	case protocol.CommReadFirmwareVersion:
		c := a.codec
		return c.ResetAnswer() &&
			c.PushHeaderToAnswer(cmd.Code) &&
			c.PushUint32ToAnswer(protocol.Version) &&
			c.SendAnswerCRC()

	case protocol.CommWriteFilterConfig:
		a.writeFilterConfig(cmd.Data)
		return a.sendFilterConfig(cmd.Code)

	case protocol.CommReadFilterConfig:
		return a.sendFilterConfig(cmd.Code)
	}
	return false
}

// writeConfig validates and applies a full settings record. Nothing changes
// when the record is invalid or a session is running.
func (a *Application) writeConfig(data []byte) {
	if a.rejectWrite(protocol.CommWriteConfig) {
		return
	}
	var next ScanSettings
	if err := next.UnmarshalBinary(data); err != nil {
		a.reject(protocol.CommWriteConfig, err)
		return
	}
	if err := next.Validate(); err != nil {
		a.reject(protocol.CommWriteConfig, err)
		return
	}
	a.apply(next)
}

// writeFilterConfig replaces only the filter part of the settings
func (a *Application) writeFilterConfig(data []byte) {
	if a.rejectWrite(protocol.CommWriteFilterConfig) {
		return
	}
	next := a.settings
	if err := next.SetFilterConfig(data); err != nil {
		a.reject(protocol.CommWriteFilterConfig, err)
		return
	}
	if err := next.validateFilter(); err != nil {
		a.reject(protocol.CommWriteFilterConfig, err)
		return
	}
	a.apply(next)
}

func (a *Application) rejectWrite(code byte) bool {
	if !a.engine.Active() {
		return false
	}
	RecordEvent(EvtSettingsRejected, code, a.hw.Clock.Millis(), uint32(a.engine.session.State), 0)
	return true
}

func (a *Application) reject(code byte, err error) {
	DebugPrintln("[MATRIX] " + protocol.CodeName(code) + ": " + err.Error())
	RecordEvent(EvtSettingsRejected, code, a.hw.Clock.Millis(), 0, 0)
}

func (a *Application) apply(next ScanSettings) {
	if err := a.bank.Rebuild(next.FilterKind(), next.FilterParams(), next.Cells()); err != nil {
		a.reject(protocol.CommWriteConfig, err)
		return
	}
	if next.ReferenceVoltage != a.settings.ReferenceVoltage {
		if err := a.hw.Reference.SetReferenceVoltage(next.ReferenceVoltage); err != nil {
			DebugPrintln("[MATRIX] reference: " + err.Error())
		}
	}
	a.settings = next
	if a.store == nil {
		return
	}
	if err := a.store.SaveSettings(&a.settings); err != nil {
		DebugPrintln("[MATRIX] store: " + err.Error())
		RecordEvent(EvtStoreFailed, 0, a.hw.Clock.Millis(), 0, 0)
	}
}

func (a *Application) sendStatus(code byte, status uint8) bool {
	return a.engine.sendStatus(code, status)
}

func (a *Application) sendConfig(code byte) bool {
	var b [protocol.SettingsSize]byte
	a.settings.put(b[:])
	c := a.codec
	return c.ResetAnswer() &&
		c.PushHeaderToAnswer(code) &&
		c.PushBytesToAnswer(b[:]) &&
		c.SendAnswerCRC()
}

func (a *Application) sendFilterConfig(code byte) bool {
	var b [protocol.FilterConfigSize]byte
	a.settings.putFilter(b[:])
	c := a.codec
	return c.ResetAnswer() &&
		c.PushHeaderToAnswer(code) &&
		c.PushBytesToAnswer(b[:]) &&
		c.SendAnswerCRC()
}
