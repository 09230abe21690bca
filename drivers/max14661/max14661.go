// Package max14661 provides a driver for banks of MAX14661 16:2 analog
// multiplexers used to route matrix columns to the ADC.
//
// Each chip contributes 16 columns on its COM A output; COM B stays open.
//
// Datasheet: https://www.analog.com/media/en/technical-documentation/data-sheets/MAX14661.pdf
package max14661

import (
	"errors"

	"tinygo.org/x/drivers"
)

// Address is the I2C address with both address pins low
const Address = 0x4C

// Registers
const (
	regDir0 = 0x00 // COM A switches 1-8
	regDir1 = 0x01 // COM A switches 9-16
	regDir2 = 0x02 // COM B switches 1-8
	regDir3 = 0x03 // COM B switches 9-16
)

// ChannelsPerChip is the number of inputs one chip switches
const ChannelsPerChip = 16

var (
	ErrNoChips    = errors.New("max14661: no chips configured")
	ErrChannel    = errors.New("max14661: channel out of range")
	ErrNotPresent = errors.New("max14661: switch register readback mismatch")
)

// Device drives one or more chips sharing an I2C bus. Column c is channel
// c%16 of chip c/16.
type Device struct {
	bus       drivers.I2C
	addresses []uint16
	selected  int
	buf       [5]byte
	rbuf      [4]byte
}

// New creates a driver for chips at the given addresses, in column order
func New(bus drivers.I2C, addresses ...uint16) *Device {
	if len(addresses) == 0 {
		addresses = []uint16{Address}
	}
	return &Device{bus: bus, addresses: addresses, selected: -1}
}

// Channels returns the number of selectable columns
func (d *Device) Channels() int {
	return len(d.addresses) * ChannelsPerChip
}

// Init opens every switch and checks each chip reads back cleared
// registers.
func (d *Device) Init() error {
	if len(d.addresses) == 0 {
		return ErrNoChips
	}
	for _, addr := range d.addresses {
		if err := d.write(addr, 0); err != nil {
			return err
		}
		if err := d.bus.Tx(addr, []byte{regDir0}, d.rbuf[:]); err != nil {
			return err
		}
		for _, b := range d.rbuf {
			if b != 0 {
				return ErrNotPresent
			}
		}
	}
	d.selected = -1
	return nil
}

// SelectColumn closes the switch of column and opens all others. Only the
// chips whose state changes are written.
func (d *Device) SelectColumn(column uint8) error {
	c := int(column)
	if c >= d.Channels() {
		return ErrChannel
	}
	if c == d.selected {
		return nil
	}
	chip := c / ChannelsPerChip
	if d.selected >= 0 && d.selected/ChannelsPerChip != chip {
		if err := d.write(d.addresses[d.selected/ChannelsPerChip], 0); err != nil {
			d.selected = -1
			return err
		}
	}
	if err := d.write(d.addresses[chip], 1<<(c%ChannelsPerChip)); err != nil {
		d.selected = -1
		return err
	}
	d.selected = c
	return nil
}

// write sets the COM A switches of one chip to mask and clears COM B
func (d *Device) write(addr uint16, mask uint16) error {
	d.buf[0] = regDir0
	d.buf[1] = uint8(mask)
	d.buf[2] = uint8(mask >> 8)
	d.buf[3] = 0
	d.buf[4] = 0
	return d.bus.Tx(addr, d.buf[:], nil)
}
