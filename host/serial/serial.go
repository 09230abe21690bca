package serial

import (
	"errors"
	"io"
	"strings"
)

// ErrNoConfig is returned by Open when called without a configuration.
var ErrNoConfig = errors.New("serial: config cannot be nil")

// Port is an open link to the scanner.
// Native ports and simulated links both satisfy it.
type Port interface {
	io.ReadWriteCloser

	// Flush discards buffered data
	Flush() error
}

// Config holds serial port configuration
type Config struct {
	// Device path (e.g., "/dev/ttyACM0", "COM3")
	Device string `yaml:"device"`

	// Baud rate (USB CDC ignores it)
	Baud int `yaml:"baud"`

	// Read timeout in milliseconds (0 = blocking)
	ReadTimeout int `yaml:"read_timeout_ms"`
}

// DefaultConfig returns the configuration used by the scanner firmware
func DefaultConfig(device string) *Config {
	return &Config{
		Device:      device,
		Baud:        115200,
		ReadTimeout: 50,
	}
}

// PortInfo describes an enumerated serial port
type PortInfo struct {
	Name   string
	USB    bool
	Likely bool // name looks like a CDC ACM device
}

// likelyScanner reports whether name looks like a USB CDC port
func likelyScanner(name string) bool {
	for _, p := range []string{"ttyACM", "cu.usbmodem", "tty.usbmodem"} {
		if strings.Contains(name, p) {
			return true
		}
	}
	return false
}
