// Package adg732 provides a driver for the ADG732 32:1 analog multiplexer
// used to select the excited matrix row. The part has a parallel interface:
// five address lines latched by WR while CS is low, and an active low EN.
//
// Datasheet: https://www.analog.com/media/en/technical-documentation/data-sheets/ADG726_732.pdf
package adg732

import (
	"errors"

	"matrixscan/drivers"
)

// Channels is the number of inputs
const Channels = 32

var ErrChannel = errors.New("adg732: channel out of range")

// Pins wires the control lines of one ADG732
type Pins struct {
	A  [5]drivers.OutputPin
	EN drivers.OutputPin // active low
	CS drivers.OutputPin // active low
	WR drivers.OutputPin // active low, latches on rising edge
}

// Device drives one ADG732
type Device struct {
	pins    Pins
	enabled bool
	channel uint8
}

// New creates a driver on the given pins
func New(pins Pins) *Device {
	return &Device{pins: pins}
}

var errMissingPin = errors.New("adg732: pin not configured")

// Init disables the switch and deselects the part
func (d *Device) Init() error {
	for _, p := range d.pins.A {
		if p == nil {
			return errMissingPin
		}
	}
	if d.pins.EN == nil || d.pins.CS == nil || d.pins.WR == nil {
		return errMissingPin
	}
	d.pins.CS.Set(true)
	d.pins.WR.Set(true)
	d.Disable()
	return nil
}

// SelectRow latches channel and enables the switch
func (d *Device) SelectRow(channel uint8) error {
	if channel >= Channels {
		return ErrChannel
	}
	for i, p := range d.pins.A {
		p.Set(channel&(1<<i) != 0)
	}
	d.pins.CS.Set(false)
	d.pins.WR.Set(false)
	d.pins.WR.Set(true)
	d.pins.CS.Set(true)
	d.channel = channel
	if !d.enabled {
		d.pins.EN.Set(false)
		d.enabled = true
	}
	return nil
}

// Disable opens every switch
func (d *Device) Disable() {
	d.pins.EN.Set(true)
	d.enabled = false
}

// Channel returns the last latched channel
func (d *Device) Channel() uint8 {
	return d.channel
}
