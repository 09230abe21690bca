package core

// RowDriver routes the excitation to one matrix row (analog demultiplexer).
type RowDriver interface {
	// Init configures the driver and its bus
	Init() error

	// SelectRow connects row to the excitation source
	SelectRow(row uint8) error
}

// ColumnDriver routes one matrix column to the ADC (analog multiplexer).
type ColumnDriver interface {
	// Init configures the driver and its bus
	Init() error

	// SelectColumn connects column to the ADC input
	SelectColumn(column uint8) error
}

// SampleDriver digitises the currently selected node.
type SampleDriver interface {
	// Init configures the converter
	Init() error

	// ReadSample performs one conversion
	ReadSample() (uint16, error)
}

// ReferenceDriver sets the excitation/reference level (DAC).
type ReferenceDriver interface {
	Init() error
	SetReferenceVoltage(level uint8) error
}

// Indicator shows whether a session is running
type Indicator interface {
	SetIndicator(on bool)
}

// Switch is a digital control output. machine.Pin satisfies it.
type Switch interface {
	Set(on bool)
}

// Clock provides a free running millisecond tick
type Clock interface {
	Millis() uint32
}

// Delay blocks for short settle times
type Delay interface {
	Micros(us uint32)
}

// Hardware bundles the drivers the scan engine sequences. Indicator and
// AnalogEnable are optional.
type Hardware struct {
	Rows      RowDriver
	Columns   ColumnDriver
	Sampler   SampleDriver
	Reference ReferenceDriver
	Indicator Indicator
	Clock     Clock
	Delay     Delay

	// AnalogEnable powers the analog front end once every driver is up
	AnalogEnable Switch
}

// initializer is implemented by every driver with an Init step
type initializer interface {
	Init() error
}

// Init initialises every driver in order. The first failure is returned
// wrapped with the driver role.
func (h *Hardware) Init() error {
	drivers := []struct {
		role string
		d    initializer
	}{
		{"reference", h.Reference},
		{"rows", h.Rows},
		{"columns", h.Columns},
		{"sampler", h.Sampler},
	}
	for _, d := range drivers {
		if d.d == nil {
			return &InitError{Role: d.role, Err: ErrMissingDriver}
		}
		if err := d.d.Init(); err != nil {
			return &InitError{Role: d.role, Err: err}
		}
	}
	if h.Clock == nil {
		return &InitError{Role: "clock", Err: ErrMissingDriver}
	}
	if h.Delay == nil {
		return &InitError{Role: "delay", Err: ErrMissingDriver}
	}
	if h.AnalogEnable != nil {
		h.AnalogEnable.Set(true)
	}
	return nil
}

// InitError reports which driver failed to initialise
type InitError struct {
	Role string
	Err  error
}

func (e *InitError) Error() string {
	return "init " + e.Role + ": " + e.Err.Error()
}

func (e *InitError) Unwrap() error {
	return e.Err
}
