//go:build rp2040 || rp2350

package main

import (
	"machine"

	"matrixscan/core"
)

var debugUART *machine.UART

// InitDebugUART initializes UART1 on GPIO20 (TX) and GPIO21 (RX) and routes
// core debug output to it. Baud rate: 115200
func InitDebugUART() {
	debugUART = machine.UART1

	err := debugUART.Configure(machine.UARTConfig{
		BaudRate: 115200,
		TX:       machine.GPIO20,
		RX:       machine.GPIO21,
	})
	if err != nil {
		debugUART = nil
		return
	}

	core.SetDebugWriter(func(s string) {
		debugUART.Write([]byte(s))
		debugUART.Write([]byte("\r\n"))
	})
	core.SetDebugEnabled(true)
	core.InitAsyncDebug()
}
