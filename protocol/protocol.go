// Package protocol implements the framed serial protocol spoken between the
// matrix scanner and its host.
package protocol

// Hardware and firmware revision packed into VERSION.
const (
	HardwareVer1 = 0
	FirmwareVer1 = 5
	FirmwareVer2 = 1
	FirmwareVer3 = 0
)

// Version is the packed hardware/firmware revision reported by
// READ_FIRMWARE_VERSION and stamped into persisted settings.
const Version uint32 = HardwareVer1<<24 | FirmwareVer1<<16 | FirmwareVer2<<8 | FirmwareVer3

// Command codes
const (
	CommEmpty               = 0x00
	CommStart               = 0x01
	CommStop                = 0x02
	CommStartCAN            = 0x03
	CommFrame               = 0x04
	CommStopCAN             = 0x05
	CommWriteConfig         = 0x08
	CommReadConfig          = 0x09
	CommReadFirmwareVersion = 0x0A
	CommStartNoParams       = 0x0B
	CommWriteFilterConfig   = 0x12
	CommReadFilterConfig    = 0x13
)

// Session status carried by start/stop answers
const (
	SessionStarted = 0x00
	SessionStopped = 0x01
)

// Frame layout constants
const (
	PreambleSize = 4
	HeaderSize   = PreambleSize + 3 // preamble + code + u16 length
	TrailerSize  = 2                // CRC16

	// SettingsSize is the encoded size of ScanSettings.
	SettingsSize = 23

	// FilterConfigSize is the encoded size of the filter type plus its parameters.
	FilterConfigSize = 13

	// TimeSyncSize is the payload of an inbound FRAME command (host Unix time).
	TimeSyncSize = 4

	// ScanlineHeaderSize precedes the samples of an outbound data frame.
	ScanlineHeaderSize = 14
)

// Preamble marks the start of every frame in both directions.
var Preamble = [PreambleSize]byte{0xAA, 0x55, 0xA5, 0x5A}

// PayloadSize returns the fixed inbound payload size for code and whether
// the code belongs to the instruction set.
func PayloadSize(code byte) (int, bool) {
	switch code {
	case CommStart, CommStop, CommStartCAN, CommStopCAN,
		CommReadFirmwareVersion, CommStartNoParams,
		CommReadConfig, CommReadFilterConfig:
		return 0, true
	case CommFrame:
		return TimeSyncSize, true
	case CommWriteConfig:
		return SettingsSize, true
	case CommWriteFilterConfig:
		return FilterConfigSize, true
	}
	return 0, false
}

// HasTrailer reports whether answers to code carry a CRC16 trailer.
// Session status answers are sent without one.
func HasTrailer(code byte) bool {
	switch code {
	case CommStart, CommStop, CommStartCAN, CommStopCAN, CommStartNoParams:
		return false
	}
	return true
}

// CodeName returns a printable name for a command code.
func CodeName(code byte) string {
	switch code {
	case CommEmpty:
		return "EMPTY"
	case CommStart:
		return "START"
	case CommStop:
		return "STOP"
	case CommStartCAN:
		return "START_CAN"
	case CommFrame:
		return "FRAME"
	case CommStopCAN:
		return "STOP_CAN"
	case CommWriteConfig:
		return "WRITE_CONFIG"
	case CommReadConfig:
		return "READ_CONFIG"
	case CommReadFirmwareVersion:
		return "READ_FIRMWARE_VERSION"
	case CommStartNoParams:
		return "START_NO_PARAMS"
	case CommWriteFilterConfig:
		return "WRITE_FLTR_CONF"
	case CommReadFilterConfig:
		return "READ_FLTR_CONF"
	}
	return "UNKNOWN"
}
