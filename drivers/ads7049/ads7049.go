// Package ads7049 provides a driver for the ADS7049 12 bit SPI ADC.
//
// Datasheet: https://www.ti.com/lit/ds/symlink/ads7049-q1.pdf
package ads7049

import (
	"tinygo.org/x/drivers"

	mdrivers "matrixscan/drivers"
)

// Resolution of the converter
const (
	Bits     = 12
	MaxValue = 1<<Bits - 1
)

// Device wraps an SPI connection to an ADS7049. CS is driven by the driver.
type Device struct {
	bus drivers.SPI
	cs  mdrivers.OutputPin
	tx  [3]byte
	rx  [3]byte
}

// New creates a new ADS7049 connection. The SPI bus must already be
// configured for mode 0.
func New(bus drivers.SPI, cs mdrivers.OutputPin) *Device {
	return &Device{bus: bus, cs: cs}
}

// Init runs the offset calibration cycle, which needs at least 24 clocks
// in one CS frame after power up.
func (d *Device) Init() error {
	d.cs.Set(true)
	d.cs.Set(false)
	err := d.bus.Tx(d.tx[:3], d.rx[:3])
	d.cs.Set(true)
	return err
}

// ReadSample performs one conversion. The frame carries two leading zeros,
// twelve data bits MSB first and two trailing bits.
func (d *Device) ReadSample() (uint16, error) {
	d.cs.Set(false)
	err := d.bus.Tx(d.tx[:2], d.rx[:2])
	d.cs.Set(true)
	if err != nil {
		return 0, err
	}
	return (uint16(d.rx[0])<<8 | uint16(d.rx[1])) >> 2 & MaxValue, nil
}
