//go:build rp2040 || rp2350

package main

import (
	"machine"

	"matrixscan/core"
	"matrixscan/drivers"
	"matrixscan/drivers/adg732"
	"matrixscan/drivers/ads7049"
	"matrixscan/drivers/max14661"
	"matrixscan/drivers/mcp47x6"
)

// Board wiring
const (
	// SPI0 to the ADS7049
	adcSCK  = machine.GPIO18
	adcMOSI = machine.GPIO19
	adcMISO = machine.GPIO16
	adcCS   = machine.GPIO17
	adcBaud = 24000000

	// I2C0 shared by the DAC and the column multiplexers
	i2cSDA  = machine.GPIO4
	i2cSCL  = machine.GPIO5
	i2cFreq = 400000

	// ADG732 row demultiplexer
	rowA0 = machine.GPIO6
	rowA1 = machine.GPIO7
	rowA2 = machine.GPIO8
	rowA3 = machine.GPIO9
	rowA4 = machine.GPIO10
	rowEN = machine.GPIO11
	rowCS = machine.GPIO12
	rowWR = machine.GPIO13

	// Analog front end power
	analogEnPin = machine.GPIO14

	// Session indicator and external start/stop input
	ledPin     = machine.LED
	triggerPin = machine.GPIO15
)

// Column multiplexer addresses in column order, 16 columns each
var columnMuxAddresses = []uint16{max14661.Address, max14661.Address + 1}

// ledIndicator drives the session LED
type ledIndicator struct {
	pin machine.Pin
}

func (l ledIndicator) SetIndicator(on bool) {
	l.pin.Set(on)
}

func configureOutput(p machine.Pin) machine.Pin {
	p.Configure(machine.PinConfig{Mode: machine.PinOutput})
	return p
}

// initBuses configures SPI0 and I2C0 and returns the board hardware
func initBuses() (core.Hardware, error) {
	spi := machine.SPI0
	err := spi.Configure(machine.SPIConfig{
		Frequency: adcBaud,
		SCK:       adcSCK,
		SDO:       adcMOSI,
		SDI:       adcMISO,
		Mode:      0,
	})
	if err != nil {
		return core.Hardware{}, err
	}

	i2c := machine.I2C0
	err = i2c.Configure(machine.I2CConfig{
		Frequency: i2cFreq,
		SDA:       i2cSDA,
		SCL:       i2cSCL,
	})
	if err != nil {
		return core.Hardware{}, err
	}

	rows := adg732.New(adg732.Pins{
		A: [5]drivers.OutputPin{
			configureOutput(rowA0),
			configureOutput(rowA1),
			configureOutput(rowA2),
			configureOutput(rowA3),
			configureOutput(rowA4),
		},
		EN: configureOutput(rowEN),
		CS: configureOutput(rowCS),
		WR: configureOutput(rowWR),
	})

	clock := hwClock{}
	return core.Hardware{
		Rows:      rows,
		Columns:   max14661.New(i2c, columnMuxAddresses...),
		Sampler:   ads7049.New(spi, configureOutput(adcCS)),
		Reference: mcp47x6.New(i2c),
		Indicator: ledIndicator{pin: configureOutput(ledPin)},
		Clock:     clock,
		Delay:     clock,

		AnalogEnable: configureOutput(analogEnPin),
	}, nil
}
