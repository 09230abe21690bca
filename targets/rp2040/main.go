//go:build rp2040 || rp2350

package main

import (
	"machine"
	"time"

	"matrixscan/core"
	"matrixscan/protocol"
)

var (
	app core.Application

	// Inbound bytes between USB and the codec
	rxInbox core.Inbox

	// Debug counters
	bytesReceived uint32
	linesSent     uint32
	msgerrors     uint32
)

func main() {
	// Disable watchdog on boot to clear any previous state
	err := machine.Watchdog.Configure(machine.WatchdogConfig{TimeoutMillis: 0})
	if err != nil {
		return
	}

	InitUSB()
	InitDebugUART()

	hw, err := initBuses()
	if err != nil {
		core.DebugPrintln("[MATRIX] bus: " + err.Error())
		halt()
	}

	err = app.Init(core.Config{
		Hardware: hw,
		Store:    core.NewFlashStore(machine.Flash, protocol.Version),
		Output:   usbWriter{},
	})
	if err != nil {
		core.DumpEvents()
		halt()
	}

	triggerPin.Configure(machine.PinConfig{Mode: machine.PinInputPulldown})
	err = triggerPin.SetInterrupt(machine.PinToggle, func(p machine.Pin) {
		if p.Get() {
			app.Trigger(core.EdgeRising)
		} else {
			app.Trigger(core.EdgeFalling)
		}
	})
	if err != nil {
		core.DebugPrintln("[MATRIX] trigger: " + err.Error())
	}

	// Main loop
	for {
		// Recover from panics in the main loop to prevent a firmware crash
		func() {
			defer func() {
				if r := recover(); r != nil {
					msgerrors++
					core.DumpEvents()
				}
			}()

			pumpUSB()
			if app.Tick() {
				linesSent++
			}
		}()
	}
}

// pumpUSB moves pending USB bytes into the codec receive buffer. Bytes the
// codec cannot take yet wait in the inbox until Tick dispatches.
func pumpUSB() {
	free := rxInbox.Free()
	n := 0
	for n < len(free) && USBAvailable() > 0 {
		b, err := USBRead()
		if err != nil {
			msgerrors++
			break
		}
		free[n] = b
		n++
	}
	rxInbox.Commit(n)
	bytesReceived += uint32(n)
	rxInbox.Deliver(&app)
}

// halt blinks the LED forever after a fatal init error
func halt() {
	led := ledIndicator{pin: configureOutput(ledPin)}
	for {
		led.SetIndicator(true)
		time.Sleep(100 * time.Millisecond)
		led.SetIndicator(false)
		time.Sleep(100 * time.Millisecond)
	}
}
