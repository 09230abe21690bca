package core

import (
	"encoding/binary"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"matrixscan/filter"
	"matrixscan/protocol"
)

func smallSettings() ScanSettings {
	s := DefaultSettings()
	s.XSize, s.YSize = 3, 2
	s.FrameRate = 10
	return s
}

func TestInitDefaults(t *testing.T) {
	h := newHarness(t, nil)
	assert.Equal(t, DefaultSettings(), h.app.Settings())
	assert.Equal(t, uint8(128), h.reference.level)
	assert.Contains(t, eventTypes(), uint8(EvtSettingsDefault))
	assert.Equal(t, Idle, h.app.Session().State)
}

func TestInitLoadsStoredSettings(t *testing.T) {
	want := smallSettings()
	want.ReferenceVoltage = 42
	flash := NewMemoryFlash(256, 1)
	require.NoError(t, NewFlashStore(flash, protocol.Version).SaveSettings(&want))

	h := newHarness(t, func(h *harness, cfg *Config) {
		cfg.Store = NewFlashStore(flash, protocol.Version)
	})
	assert.Equal(t, want, h.app.Settings())
	assert.Equal(t, uint8(42), h.reference.level)
}

func TestInitIgnoresOtherVersion(t *testing.T) {
	stored := smallSettings()
	flash := NewMemoryFlash(256, 1)
	require.NoError(t, NewFlashStore(flash, protocol.Version+1).SaveSettings(&stored))

	h := newHarness(t, func(h *harness, cfg *Config) {
		cfg.Store = NewFlashStore(flash, protocol.Version)
	})
	assert.Equal(t, DefaultSettings(), h.app.Settings())
}

func TestInitEnablesAnalogFrontEnd(t *testing.T) {
	enable := &fakeSwitch{}
	newHarness(t, func(h *harness, cfg *Config) {
		cfg.Hardware.AnalogEnable = enable
	})
	assert.True(t, enable.on)

	// Stays off when a driver fails
	enable = &fakeSwitch{}
	_, err := setupHarness(func(h *harness, cfg *Config) {
		cfg.Hardware.AnalogEnable = enable
		cfg.Hardware.Sampler = fakeSampler{fakeMatrix: h.matrix, initErr: errFake}
	})
	require.Error(t, err)
	assert.False(t, enable.on)
}

func TestInitFailures(t *testing.T) {
	tests := []struct {
		name  string
		tweak func(*harness, *Config)
		check func(t *testing.T, err error)
	}{
		{
			name: "sampler init",
			tweak: func(h *harness, cfg *Config) {
				cfg.Hardware.Sampler = fakeSampler{fakeMatrix: h.matrix, initErr: errFake}
			},
			check: func(t *testing.T, err error) {
				var ie *InitError
				require.ErrorAs(t, err, &ie)
				assert.Equal(t, "sampler", ie.Role)
				assert.ErrorIs(t, err, errFake)
			},
		},
		{
			name: "reference init",
			tweak: func(h *harness, cfg *Config) {
				h.reference.initErr = errFake
			},
			check: func(t *testing.T, err error) {
				assert.ErrorIs(t, err, errFake)
			},
		},
		{
			name:  "missing clock",
			tweak: func(h *harness, cfg *Config) { cfg.Hardware.Clock = nil },
			check: func(t *testing.T, err error) { assert.ErrorIs(t, err, ErrMissingDriver) },
		},
		{
			name:  "missing rows",
			tweak: func(h *harness, cfg *Config) { cfg.Hardware.Rows = nil },
			check: func(t *testing.T, err error) { assert.ErrorIs(t, err, ErrMissingDriver) },
		},
		{
			name:  "small tx buffer",
			tweak: func(h *harness, cfg *Config) { cfg.TxBufferSize = MinTxBufferSize - 1 },
			check: func(t *testing.T, err error) { assert.ErrorIs(t, err, ErrBufferSize) },
		},
		{
			name:  "no output",
			tweak: func(h *harness, cfg *Config) { cfg.Output = nil },
			check: func(t *testing.T, err error) { assert.ErrorIs(t, err, ErrNoOutput) },
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h, err := setupHarness(tt.tweak)
			require.Error(t, err)
			tt.check(t, err)

			// A failed application ignores everything
			assert.Zero(t, h.app.Receive(protocol.EncodeCommand(protocol.CommStart, nil)))
			assert.False(t, h.app.Scan())
			assert.False(t, h.app.Dispatch(Command{Code: protocol.CommStart}))
		})
	}
}

func TestReadFirmwareVersion(t *testing.T) {
	h := newHarness(t, nil)
	h.send(protocol.CommReadFirmwareVersion, nil)

	answers := h.answers()
	require.Len(t, answers, 1)
	assert.Equal(t, byte(protocol.CommReadFirmwareVersion), answers[0].Code)
	assert.True(t, answers[0].HasCRC)
	assert.Equal(t, uint32(0x00050100), binary.LittleEndian.Uint32(answers[0].Payload))
}

func TestDispatchUnknownCode(t *testing.T) {
	h := newHarness(t, nil)
	assert.False(t, h.app.Dispatch(Command{Code: 0x42}))
	assert.False(t, h.app.Dispatch(Command{Code: protocol.CommEmpty}))
	assert.Empty(t, h.answers())
}

func TestWriteConfig(t *testing.T) {
	h := newHarness(t, nil)
	want := smallSettings()
	want.ReferenceVoltage = 77
	h.writeSettings(t, want)

	answers := h.answers()
	require.Len(t, answers, 1)
	assert.Equal(t, byte(protocol.CommWriteConfig), answers[0].Code)

	var echoed ScanSettings
	require.NoError(t, echoed.UnmarshalBinary(answers[0].Payload))
	assert.Equal(t, want, echoed)
	assert.Equal(t, want, h.app.Settings())
	assert.Equal(t, uint8(77), h.reference.level)

	var stored ScanSettings
	require.NoError(t, h.store.LoadSettings(&stored))
	assert.Equal(t, want, stored)
}

func TestWriteConfigInvalidKeepsPrevious(t *testing.T) {
	h := newHarness(t, nil)
	bad := smallSettings()
	bad.XSize = 40
	h.writeSettings(t, bad)

	answers := h.answers()
	require.Len(t, answers, 1)
	var echoed ScanSettings
	require.NoError(t, echoed.UnmarshalBinary(answers[0].Payload))
	assert.Equal(t, DefaultSettings(), echoed)
	assert.Equal(t, DefaultSettings(), h.app.Settings())
	assert.Contains(t, eventTypes(), uint8(EvtSettingsRejected))
}

func TestWriteConfigRejectsFilterAboveMaximum(t *testing.T) {
	h := newHarness(t, nil)
	s := smallSettings()
	s.MedianWindowSize = filter.MaxMedianWindow + 1
	h.writeSettings(t, s)

	answers := h.answers()
	require.Len(t, answers, 1)
	var echoed ScanSettings
	require.NoError(t, echoed.UnmarshalBinary(answers[0].Payload))
	assert.Equal(t, DefaultSettings(), echoed)
	assert.Equal(t, DefaultSettings(), h.app.Settings())

	var stored ScanSettings
	assert.ErrorIs(t, h.store.LoadSettings(&stored), ErrNoSettings)
}

func TestWriteFilterConfigRejectsWindowAboveMaximum(t *testing.T) {
	h := newHarness(t, nil)
	next := DefaultSettings()
	next.FilterType = uint8(filter.MovingAverage)
	next.MovAvrWindowSize = 25
	h.send(protocol.CommWriteFilterConfig, next.FilterConfig())

	answers := h.answers()
	require.Len(t, answers, 1)
	assert.Equal(t, DefaultSettings().FilterConfig(), answers[0].Payload)
	got := h.app.Settings()
	assert.Equal(t, filter.None, got.FilterKind())
	assert.Equal(t, uint16(5), got.MovAvrWindowSize)
	assert.Contains(t, eventTypes(), uint8(EvtSettingsRejected))

	// The maximum itself is accepted
	next.MovAvrWindowSize = filter.MaxMovingWindow
	h.send(protocol.CommWriteFilterConfig, next.FilterConfig())
	assert.Equal(t, uint16(filter.MaxMovingWindow), h.app.Settings().MovAvrWindowSize)
}

func TestWriteRejectedWhileActive(t *testing.T) {
	h := newHarness(t, nil)
	h.send(protocol.CommStart, nil)
	h.answers()

	h.writeSettings(t, smallSettings())
	answers := h.answers()
	require.Len(t, answers, 1)
	var echoed ScanSettings
	require.NoError(t, echoed.UnmarshalBinary(answers[0].Payload))
	assert.Equal(t, DefaultSettings(), echoed)

	filterOnly := DefaultSettings()
	filterOnly.FilterType = uint8(filter.Median)
	h.send(protocol.CommWriteFilterConfig, filterOnly.FilterConfig())
	assert.Equal(t, filter.None, h.app.Settings().FilterKind())

	// Still rejected while draining
	h.send(protocol.CommStop, nil)
	h.writeSettings(t, smallSettings())
	assert.Equal(t, DefaultSettings(), h.app.Settings())
}

func TestFilterConfigCommands(t *testing.T) {
	h := newHarness(t, nil)
	next := DefaultSettings()
	next.FilterType = uint8(filter.MovingAverage)
	next.MovAvrWindowSize = 7
	h.send(protocol.CommWriteFilterConfig, next.FilterConfig())
	h.send(protocol.CommReadFilterConfig, nil)

	answers := h.answers()
	require.Len(t, answers, 2)
	for _, a := range answers {
		assert.Equal(t, next.FilterConfig(), a.Payload)
	}
	assert.Equal(t, filter.MovingAverage, h.app.Settings().FilterKind())

	// Zero parameter is refused
	bad := next
	bad.KalmanErrMeasure = 0
	h.send(protocol.CommWriteFilterConfig, bad.FilterConfig())
	assert.Equal(t, uint16(40), h.app.Settings().KalmanErrMeasure)
}

func TestSessionScanlines(t *testing.T) {
	h := newHarness(t, nil)
	s := smallSettings()
	s.MatrixShiftX, s.MatrixShiftY = 1, 2
	h.writeSettings(t, s)

	unix := make([]byte, 4)
	binary.LittleEndian.PutUint32(unix, 1700000000)
	h.send(protocol.CommFrame, unix)
	h.answers()

	h.send(protocol.CommStart, nil)
	status := h.answers()
	require.Len(t, status, 1)
	assert.False(t, status[0].HasCRC)
	assert.Equal(t, []byte{protocol.SessionStarted}, status[0].Payload)
	assert.True(t, h.indicator.on)

	assert.True(t, h.app.Scan())
	assert.True(t, h.app.Scan())

	lines := h.scanlines(t)
	require.Len(t, lines, 2)
	assert.Equal(t, uint32(0), lines[0].PackageID)
	assert.Equal(t, uint32(1), lines[1].PackageID)
	assert.Equal(t, uint8(0), lines[0].Row)
	assert.Equal(t, uint8(1), lines[1].Row)
	assert.Equal(t, []uint16{201, 202, 203}, lines[0].Samples)
	assert.Equal(t, []uint16{301, 302, 303}, lines[1].Samples)
	assert.Equal(t, uint32(1700000000), lines[0].UnixTime)
	assert.Equal(t, uint32(1000), lines[0].Timestamp)
	assert.Equal(t, []uint8{2, 3}, h.matrix.rowsSeen)
	assert.Equal(t, uint32(1), h.app.Session().Frames)
}

func TestFramePacing(t *testing.T) {
	h := newHarness(t, nil)
	h.writeSettings(t, smallSettings())
	h.send(protocol.CommStart, nil)
	h.answers()

	assert.True(t, h.app.Scan())
	assert.True(t, h.app.Scan())

	// Next pass is due 100 ms after the previous one started
	assert.False(t, h.app.Scan())
	h.clock.Advance(50)
	assert.False(t, h.app.Scan())
	assert.Equal(t, uint32(1), h.app.Session().Skipped)

	h.clock.Advance(50)
	assert.True(t, h.app.Scan())
	lines := h.scanlines(t)
	require.Len(t, lines, 3)
	assert.Equal(t, uint32(2), lines[2].PackageID)
	assert.Equal(t, uint8(0), lines[2].Row)

	// Late passes are not queued: after finishing the current pass only one
	// new pass runs before pacing holds again
	h.clock.Advance(1000)
	assert.True(t, h.app.Scan())
	assert.True(t, h.app.Scan())
	assert.True(t, h.app.Scan())
	assert.False(t, h.app.Scan())
}

func TestStopDrainsOnNextTick(t *testing.T) {
	h := newHarness(t, nil)
	h.writeSettings(t, smallSettings())
	h.send(protocol.CommStart, nil)
	assert.True(t, h.app.Scan())

	h.send(protocol.CommStop, nil)
	assert.Equal(t, StopRequested, h.app.Session().State)

	assert.False(t, h.app.Scan())
	assert.Equal(t, Idle, h.app.Session().State)
	assert.Equal(t, StopGraceful, h.app.Session().Stop)
	assert.False(t, h.indicator.on)
	assert.False(t, h.app.Scan())

	answers := h.answers()
	require.NotEmpty(t, answers)
	last := answers[len(answers)-1]
	assert.Equal(t, byte(protocol.CommStop), last.Code)
	assert.Equal(t, []byte{protocol.SessionStopped}, last.Payload)
}

func TestStartCancelsPendingStop(t *testing.T) {
	h := newHarness(t, nil)
	h.send(protocol.CommStart, nil)
	h.send(protocol.CommStop, nil)
	h.send(protocol.CommStartNoParams, nil)
	assert.Equal(t, Started, h.app.Session().State)
}

func TestExternalTrigger(t *testing.T) {
	h := newHarness(t, nil)
	h.writeSettings(t, smallSettings())
	h.answers()

	// Edges are ignored until armed
	h.app.Trigger(EdgeRising)
	assert.False(t, h.app.Scan())
	assert.Equal(t, Idle, h.app.Session().State)

	h.send(protocol.CommStartCAN, nil)
	answers := h.answers()
	require.Len(t, answers, 1)
	assert.Equal(t, []byte{protocol.SessionStopped}, answers[0].Payload)
	assert.True(t, h.app.Session().TriggerArmed)

	h.app.Trigger(EdgeRising)
	assert.False(t, h.app.Scan())
	assert.Equal(t, Started, h.app.Session().State)
	answers = h.answers()
	require.Len(t, answers, 1)
	assert.Equal(t, byte(protocol.CommStartCAN), answers[0].Code)
	assert.Equal(t, []byte{protocol.SessionStarted}, answers[0].Payload)

	assert.True(t, h.app.Scan())

	h.app.Trigger(EdgeFalling)
	assert.False(t, h.app.Scan())
	assert.Equal(t, Idle, h.app.Session().State)

	// Armed trigger restarts on the next rising edge
	h.app.Trigger(EdgeRising)
	h.app.Scan()
	assert.Equal(t, Started, h.app.Session().State)
}

func TestHaltDisarmsTrigger(t *testing.T) {
	h := newHarness(t, nil)
	h.send(protocol.CommStartCAN, nil)
	h.app.Trigger(EdgeRising)
	h.app.Scan()
	require.Equal(t, Started, h.app.Session().State)

	h.send(protocol.CommStopCAN, nil)
	assert.Equal(t, StopRequested, h.app.Session().State)
	assert.False(t, h.app.Session().TriggerArmed)
	assert.False(t, h.app.Scan())
	assert.Equal(t, Idle, h.app.Session().State)
	assert.Equal(t, StopHalt, h.app.Session().Stop)

	h.app.Trigger(EdgeRising)
	h.app.Scan()
	assert.Equal(t, Idle, h.app.Session().State)
}

func TestHaltDrainsCurrentPass(t *testing.T) {
	h := newHarness(t, nil)
	h.writeSettings(t, smallSettings())
	assert.Equal(t, Idle, h.app.Session().State)

	h.send(protocol.CommStart, nil)
	assert.Equal(t, Started, h.app.Session().State)
	require.True(t, h.app.Scan())
	h.answers()

	h.send(protocol.CommStopCAN, nil)
	assert.Equal(t, StopRequested, h.app.Session().State)
	assert.True(t, h.indicator.on)
	answers := h.answers()
	require.Len(t, answers, 1)
	assert.Equal(t, byte(protocol.CommStopCAN), answers[0].Code)
	assert.Equal(t, []byte{protocol.SessionStopped}, answers[0].Payload)

	// The drain emits no partial scanline
	assert.False(t, h.app.Scan())
	assert.Equal(t, Idle, h.app.Session().State)
	assert.False(t, h.indicator.on)
	assert.Empty(t, h.scanlines(t))

	// START during the drain cancels it but the trigger stays disarmed
	h.send(protocol.CommStartCAN, nil)
	h.send(protocol.CommStart, nil)
	h.send(protocol.CommStopCAN, nil)
	h.send(protocol.CommStart, nil)
	assert.Equal(t, Started, h.app.Session().State)
	assert.False(t, h.app.Session().TriggerArmed)
}

func TestEdgesWithinOneTick(t *testing.T) {
	h := newHarness(t, nil)
	h.writeSettings(t, smallSettings())
	h.send(protocol.CommStartCAN, nil)
	h.answers()

	// A pulse shorter than a tick still starts and then stops a session
	h.app.Trigger(EdgeRising)
	h.app.Trigger(EdgeFalling)
	assert.False(t, h.app.Scan())
	assert.Equal(t, Started, h.app.Session().State)
	assert.False(t, h.app.Scan())
	assert.Equal(t, Idle, h.app.Session().State)

	answers := h.answers()
	require.Len(t, answers, 2)
	assert.Equal(t, []byte{protocol.SessionStarted}, answers[0].Payload)
	assert.Equal(t, []byte{protocol.SessionStopped}, answers[1].Payload)
}

func TestInitReportsVersion(t *testing.T) {
	var lines []string
	SetDebugWriter(func(s string) { lines = append(lines, s) })
	SetDebugEnabled(true)
	defer func() {
		SetDebugEnabled(false)
		SetDebugWriter(func(string) {})
	}()

	newHarness(t, nil)
	require.NotEmpty(t, lines)
	assert.Equal(t, "[MATRIX] ready, version 0x00050100", lines[len(lines)-1])
}

func TestEdgeBeforeArmingIsDropped(t *testing.T) {
	h := newHarness(t, nil)
	h.app.Trigger(EdgeRising)
	h.send(protocol.CommStartCAN, nil)
	h.app.Scan()
	assert.Equal(t, Idle, h.app.Session().State)
}

func TestSampleFaultSentinel(t *testing.T) {
	h := newHarness(t, nil)
	h.writeSettings(t, smallSettings())
	h.matrix.failColumn[1] = true
	h.send(protocol.CommStart, nil)
	h.answers()

	require.True(t, h.app.Scan())
	lines := h.scanlines(t)
	require.Len(t, lines, 1)
	assert.Equal(t, []uint16{0, protocol.SampleFault, 2}, lines[0].Samples)
	assert.Contains(t, eventTypes(), uint8(EvtSampleFault))
}

func TestRealReadingNeverEqualsSentinel(t *testing.T) {
	h := newHarness(t, nil)
	h.writeSettings(t, smallSettings())
	h.matrix.value = func(row, col uint8) uint16 { return 0xFFFF }
	h.send(protocol.CommStart, nil)
	h.answers()

	require.True(t, h.app.Scan())
	lines := h.scanlines(t)
	require.Len(t, lines, 1)
	for _, v := range lines[0].Samples {
		assert.Equal(t, uint16(0xFFFE), v)
	}
}

func TestRowFaultDropsRow(t *testing.T) {
	h := newHarness(t, nil)
	h.writeSettings(t, smallSettings())
	h.matrix.failRow[0] = true
	h.send(protocol.CommStart, nil)
	h.answers()

	assert.False(t, h.app.Scan())
	assert.Equal(t, Started, h.app.Session().State)
	assert.True(t, h.app.Scan())

	lines := h.scanlines(t)
	require.Len(t, lines, 1)
	assert.Equal(t, uint8(1), lines[0].Row)
	assert.Equal(t, uint32(0), lines[0].PackageID)
}

func TestPackageIDOnlyAdvancesWhenSent(t *testing.T) {
	h := newHarness(t, nil)
	h.writeSettings(t, smallSettings())
	h.send(protocol.CommStart, nil)
	h.answers()

	h.out.fail = true
	assert.False(t, h.app.Scan())
	assert.Equal(t, uint32(0), h.app.Session().PackageID)
	assert.Contains(t, eventTypes(), uint8(EvtFrameAborted))

	h.out.fail = false
	assert.True(t, h.app.Scan())
	lines := h.scanlines(t)
	require.Len(t, lines, 1)
	assert.Equal(t, uint32(0), lines[0].PackageID)
	assert.Equal(t, uint32(1), h.app.Session().PackageID)
}

func TestSampleAveraging(t *testing.T) {
	h := newHarness(t, nil)
	s := smallSettings()
	s.XSize, s.YSize = 1, 1
	s.SamplesNumber = 4
	h.writeSettings(t, s)

	n := uint16(0)
	h.matrix.value = func(row, col uint8) uint16 {
		n++
		return n * 10 // 10, 20, 30, 40
	}
	h.send(protocol.CommStart, nil)
	h.answers()

	require.True(t, h.app.Scan())
	lines := h.scanlines(t)
	require.Len(t, lines, 1)
	assert.Equal(t, []uint16{25}, lines[0].Samples)
	assert.Equal(t, 4, h.matrix.reads)
}

func TestFilterAppliedPerCell(t *testing.T) {
	h := newHarness(t, nil)
	s := smallSettings()
	s.XSize, s.YSize = 2, 1
	s.FrameRate = 255
	s.FilterType = uint8(filter.MovingAverage)
	s.MovAvrWindowSize = 2
	h.writeSettings(t, s)

	pass := uint16(0)
	h.matrix.value = func(row, col uint8) uint16 {
		return pass*100 + uint16(col)
	}
	h.send(protocol.CommStart, nil)
	h.answers()

	pass = 1
	require.True(t, h.app.Scan())
	h.clock.Advance(10)
	pass = 3
	require.True(t, h.app.Scan())

	lines := h.scanlines(t)
	require.Len(t, lines, 2)
	assert.Equal(t, []uint16{100, 101}, lines[0].Samples)
	assert.Equal(t, []uint16{200, 201}, lines[1].Samples)
}

func TestTickProcessesCommands(t *testing.T) {
	h := newHarness(t, nil)
	b, _ := smallSettings().MarshalBinary()
	h.app.Receive(protocol.EncodeCommand(protocol.CommWriteConfig, b))
	h.app.Receive(protocol.EncodeCommand(protocol.CommStart, nil))

	assert.True(t, h.app.Tick())
	assert.Equal(t, Started, h.app.Session().State)
	assert.Len(t, h.scanlines(t), 1)
}

func TestDumpEvents(t *testing.T) {
	h := newHarness(t, nil)
	h.send(protocol.CommStart, nil)
	h.send(protocol.CommStopCAN, nil)

	var lines []string
	SetDebugWriter(func(s string) { lines = append(lines, s) })
	defer SetDebugWriter(func(string) {})
	DumpEvents()

	require.GreaterOrEqual(t, len(lines), 4)
	assert.Equal(t, "[EVENT] === Event Ring Dump ===", lines[0])
	assert.Contains(t, lines, "[EVENT] SESSION_START arg=0 clock=1000 v1=0 v2=0")
}

func TestItoa(t *testing.T) {
	assert.Equal(t, "0", itoa(0))
	assert.Equal(t, "-42", itoa(-42))
	assert.Equal(t, "4294967295", utoa(0xFFFFFFFF))
	assert.Equal(t, "0A1F", hex16(0x0A1F))
}

func TestInitErrorMessage(t *testing.T) {
	err := &InitError{Role: "rows", Err: errors.New("bus stuck")}
	assert.Equal(t, "init rows: bus stuck", err.Error())
}
