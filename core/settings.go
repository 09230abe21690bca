package core

import (
	"encoding/binary"
	"errors"

	"matrixscan/filter"
	"matrixscan/protocol"
)

// Matrix geometry limits
const (
	MaxMatrixSize = 32
	MaxCells      = MaxMatrixSize * MaxMatrixSize
)

// ErrInvalidSettings is matched by every settings validation error
var ErrInvalidSettings = errors.New("invalid settings")

// SettingsError names the field that failed validation
type SettingsError struct {
	Field string
}

func (e *SettingsError) Error() string {
	return "invalid settings: " + e.Field
}

func (e *SettingsError) Is(target error) bool {
	return target == ErrInvalidSettings
}

func invalid(field string) error {
	return &SettingsError{Field: field}
}

// ScanSettings is the persisted scan configuration. Field order matches the
// wire layout.
type ScanSettings struct {
	MatrixShiftX     uint16 `yaml:"matrix_shift_x"`
	MatrixShiftY     uint16 `yaml:"matrix_shift_y"`
	XSize            uint8  `yaml:"x_size"`
	YSize            uint8  `yaml:"y_size"`
	SamplesNumber    uint8  `yaml:"samples_number"`
	FrameRate        uint8  `yaml:"frame_rate"`        // frames per second
	ADCDelay         uint8  `yaml:"adc_delay"`         // row settle time in µs
	ReferenceVoltage uint8  `yaml:"reference_voltage"` // DAC selector
	FilterType       uint8  `yaml:"filter_type"`

	MovAvrWindowSize          uint16 `yaml:"mov_avr_window_size"`
	MovAverCumulativeCoef     uint16 `yaml:"mov_aver_cumulative_coef"`
	MovAverWeightedWindowSize uint16 `yaml:"mov_aver_weighted_window_size"`
	MedianWindowSize          uint16 `yaml:"median_window_size"`
	KalmanErrMeasure          uint16 `yaml:"kalman_err_measure"`
	KalmanMeasureSpeed        uint16 `yaml:"kalman_measure_speed"`
}

// DefaultSettings returns the factory configuration
func DefaultSettings() ScanSettings {
	var s ScanSettings
	s.Reset()
	return s
}

// Reset restores factory defaults
func (s *ScanSettings) Reset() {
	*s = ScanSettings{
		XSize:            MaxMatrixSize,
		YSize:            MaxMatrixSize,
		SamplesNumber:    1,
		FrameRate:        30,
		ADCDelay:         10,
		ReferenceVoltage: 128,
		FilterType:       uint8(filter.None),

		MovAvrWindowSize:          5,
		MovAverCumulativeCoef:     50,
		MovAverWeightedWindowSize: 5,
		MedianWindowSize:          5,
		KalmanErrMeasure:          40,
		KalmanMeasureSpeed:        10,
	}
}

// Validate checks the whole record. Nothing is applied from a record that
// fails.
func (s ScanSettings) Validate() error {
	if s.XSize == 0 || s.XSize > MaxMatrixSize {
		return invalid("XSize")
	}
	if s.YSize == 0 || s.YSize > MaxMatrixSize {
		return invalid("YSize")
	}
	if int(s.MatrixShiftX)+int(s.XSize) > MaxMatrixSize {
		return invalid("MatrixShiftX")
	}
	if int(s.MatrixShiftY)+int(s.YSize) > MaxMatrixSize {
		return invalid("MatrixShiftY")
	}
	if s.SamplesNumber == 0 {
		return invalid("SamplesNumber")
	}
	if s.FrameRate == 0 {
		return invalid("FrameRate")
	}
	return s.validateFilter()
}

// validateFilter checks every filter parameter, not only those of the
// selected kind, so a stored record stays valid when the kind changes.
func (s ScanSettings) validateFilter() error {
	if !filter.Kind(s.FilterType).Valid() {
		return invalid("FilterType")
	}
	limits := [...]struct {
		field string
		v     uint16
		max   uint16
	}{
		{"MovAvrWindowSize", s.MovAvrWindowSize, filter.MaxMovingWindow},
		{"MovAverCumulativeCoef", s.MovAverCumulativeCoef, filter.MaxCumulativeCoef},
		{"MovAverWeightedWindowSize", s.MovAverWeightedWindowSize, filter.MaxWeightedWindow},
		{"MedianWindowSize", s.MedianWindowSize, filter.MaxMedianWindow},
		{"KalmanErrMeasure", s.KalmanErrMeasure, filter.MaxKalmanError},
		{"KalmanMeasureSpeed", s.KalmanMeasureSpeed, filter.MaxKalmanSpeed},
	}
	for _, l := range limits {
		if l.v == 0 || l.v > l.max {
			return invalid(l.field)
		}
	}
	return nil
}

// Cells returns the number of active matrix nodes
func (s ScanSettings) Cells() int {
	return int(s.XSize) * int(s.YSize)
}

// FrameInterval returns the minimum time between frame starts in ms
func (s ScanSettings) FrameInterval() uint32 {
	if s.FrameRate == 0 {
		return 0
	}
	return 1000 / uint32(s.FrameRate)
}

// FilterKind returns the configured filter kind
func (s ScanSettings) FilterKind() filter.Kind {
	return filter.Kind(s.FilterType)
}

// FilterParams returns the parameters of all filter kinds
func (s ScanSettings) FilterParams() filter.Params {
	return filter.Params{
		MovingWindow:   s.MovAvrWindowSize,
		CumulativeCoef: s.MovAverCumulativeCoef,
		WeightedWindow: s.MovAverWeightedWindowSize,
		MedianWindow:   s.MedianWindowSize,
		KalmanErr:      s.KalmanErrMeasure,
		KalmanSpeed:    s.KalmanMeasureSpeed,
	}
}

// MarshalBinary encodes the settings in wire order
func (s ScanSettings) MarshalBinary() ([]byte, error) {
	b := make([]byte, protocol.SettingsSize)
	s.put(b)
	return b, nil
}

func (s ScanSettings) put(b []byte) {
	binary.LittleEndian.PutUint16(b[0:], s.MatrixShiftX)
	binary.LittleEndian.PutUint16(b[2:], s.MatrixShiftY)
	b[4] = s.XSize
	b[5] = s.YSize
	b[6] = s.SamplesNumber
	b[7] = s.FrameRate
	b[8] = s.ADCDelay
	b[9] = s.ReferenceVoltage
	s.putFilter(b[10:])
}

// UnmarshalBinary decodes settings without validating them
func (s *ScanSettings) UnmarshalBinary(b []byte) error {
	if len(b) < protocol.SettingsSize {
		return invalid("length")
	}
	s.MatrixShiftX = binary.LittleEndian.Uint16(b[0:])
	s.MatrixShiftY = binary.LittleEndian.Uint16(b[2:])
	s.XSize = b[4]
	s.YSize = b[5]
	s.SamplesNumber = b[6]
	s.FrameRate = b[7]
	s.ADCDelay = b[8]
	s.ReferenceVoltage = b[9]
	s.getFilter(b[10:])
	return nil
}

// FilterConfig encodes the filter type and parameters
func (s ScanSettings) FilterConfig() []byte {
	b := make([]byte, protocol.FilterConfigSize)
	s.putFilter(b)
	return b
}

// SetFilterConfig decodes a filter record into s. The result is not
// validated.
func (s *ScanSettings) SetFilterConfig(b []byte) error {
	if len(b) < protocol.FilterConfigSize {
		return invalid("length")
	}
	s.getFilter(b)
	return nil
}

func (s ScanSettings) putFilter(b []byte) {
	b[0] = s.FilterType
	binary.LittleEndian.PutUint16(b[1:], s.MovAvrWindowSize)
	binary.LittleEndian.PutUint16(b[3:], s.MovAverCumulativeCoef)
	binary.LittleEndian.PutUint16(b[5:], s.MovAverWeightedWindowSize)
	binary.LittleEndian.PutUint16(b[7:], s.MedianWindowSize)
	binary.LittleEndian.PutUint16(b[9:], s.KalmanErrMeasure)
	binary.LittleEndian.PutUint16(b[11:], s.KalmanMeasureSpeed)
}

func (s *ScanSettings) getFilter(b []byte) {
	s.FilterType = b[0]
	s.MovAvrWindowSize = binary.LittleEndian.Uint16(b[1:])
	s.MovAverCumulativeCoef = binary.LittleEndian.Uint16(b[3:])
	s.MovAverWeightedWindowSize = binary.LittleEndian.Uint16(b[5:])
	s.MedianWindowSize = binary.LittleEndian.Uint16(b[7:])
	s.KalmanErrMeasure = binary.LittleEndian.Uint16(b[9:])
	s.KalmanMeasureSpeed = binary.LittleEndian.Uint16(b[11:])
}
