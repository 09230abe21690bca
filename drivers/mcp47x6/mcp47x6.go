// Package mcp47x6 provides a driver for the MCP4706/4716/4726 single channel
// I2C DAC used as the excitation reference.
//
// Datasheet: https://ww1.microchip.com/downloads/en/DeviceDoc/22272C.pdf
package mcp47x6

import (
	"errors"

	"tinygo.org/x/drivers"
)

// Address is the default I2C address (A0 variant)
const Address = 0x60

// Commands
const (
	cmdWriteConfig = 0x80 // 100 VREF1 VREF0 PD1 PD0 G
)

// Reference voltage sources
const (
	VrefVDD           = 0x00
	VrefPinUnbuffered = 0x10
	VrefPinBuffered   = 0x18
)

// Gain selection, only valid with a VREF pin reference
const (
	Gain1 = 0x00
	Gain2 = 0x01
)

var ErrReadback = errors.New("mcp47x6: readback mismatch")

// Device wraps an I2C connection to an MCP47x6 device.
type Device struct {
	bus     drivers.I2C
	Address uint16
	Vref    uint8
	Gain    uint8
	buf     [3]byte
	last    uint16
}

// New creates a new MCP47x6 connection. The I2C bus must already be
// configured.
func New(bus drivers.I2C) *Device {
	return &Device{
		bus:     bus,
		Address: Address,
		Vref:    VrefVDD,
		Gain:    Gain1,
	}
}

// Init writes the volatile configuration and zeroes the output
func (d *Device) Init() error {
	d.buf[0] = cmdWriteConfig | d.Vref | d.Gain
	if err := d.bus.Tx(d.Address, d.buf[:1], nil); err != nil {
		return err
	}
	return d.SetValue(0)
}

// SetValue writes a 12 bit left aligned code with the fast write command.
// The 10 and 8 bit parts ignore the low bits.
func (d *Device) SetValue(v uint16) error {
	v &= 0x0FFF
	d.buf[0] = uint8(v >> 8)
	d.buf[1] = uint8(v)
	if err := d.bus.Tx(d.Address, d.buf[:2], nil); err != nil {
		return err
	}
	d.last = v
	return nil
}

// Value returns the last code written
func (d *Device) Value() uint16 {
	return d.last
}

// SetReferenceVoltage maps an 8 bit level onto the DAC range
func (d *Device) SetReferenceVoltage(level uint8) error {
	return d.SetValue(uint16(level) << 4)
}

// ReadValue reads the DAC register back
func (d *Device) ReadValue() (uint16, error) {
	if err := d.bus.Tx(d.Address, nil, d.buf[:3]); err != nil {
		return 0, err
	}
	return uint16(d.buf[1])<<4 | uint16(d.buf[2])>>4, nil
}

// Verify compares the DAC register with the last written code
func (d *Device) Verify() error {
	v, err := d.ReadValue()
	if err != nil {
		return err
	}
	if v != d.last {
		return ErrReadback
	}
	return nil
}
