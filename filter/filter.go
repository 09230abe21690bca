// Package filter implements the per-cell smoothing filters applied to
// matrix samples.
package filter

import "errors"

// Kind selects a filter variant. Values match the FilterType setting.
type Kind uint8

const (
	None Kind = iota
	MovingAverage
	CumulativeAverage
	WeightedAverage
	Median
	Kalman

	numKinds
)

// Parameter limits
const (
	MaxMovingWindow   = 20
	MaxCumulativeCoef = 99
	MaxWeightedWindow = 20
	MaxMedianWindow   = 20
	MaxKalmanError    = 99
	MaxKalmanSpeed    = 100

	// MaxWindow is the widest history any kind keeps
	MaxWindow = 20
)

var (
	ErrUnknownKind = errors.New("filter: unknown kind")
	ErrZeroParam   = errors.New("filter: parameter must be non-zero")
	ErrParamRange  = errors.New("filter: parameter above maximum")
	ErrCapacity    = errors.New("filter: more cells than the bank holds")
)

// Params carries the parameters of every filter kind. Each kind reads only
// its own fields.
type Params struct {
	MovingWindow   uint16
	CumulativeCoef uint16
	WeightedWindow uint16
	MedianWindow   uint16
	KalmanErr      uint16
	KalmanSpeed    uint16
}

// Filter smooths a stream of samples. The per-cell history lives in the
// State passed to Apply, so one configured Filter serves every cell.
type Filter interface {
	Configure(Params) error
	Apply(s *State, v uint16) uint16
}

// State is the history of one cell. It is sized for the widest window so a
// cell can switch kinds without reallocating.
type State struct {
	hist   [MaxWindow]uint16
	pos    uint8
	count  uint8
	primed bool
	acc    uint32 // running sum or running average
	value  float32
	errEst float32
}

// Reset clears the history
func (s *State) Reset() {
	*s = State{}
}

// Valid reports whether k names a known filter kind
func (k Kind) Valid() bool {
	return k < numKinds
}

func (k Kind) String() string {
	switch k {
	case None:
		return "none"
	case MovingAverage:
		return "moving-average"
	case CumulativeAverage:
		return "cumulative-average"
	case WeightedAverage:
		return "weighted-average"
	case Median:
		return "median"
	case Kalman:
		return "kalman"
	}
	return "unknown"
}

// New creates and configures a filter of the given kind
func New(kind Kind, p Params) (Filter, error) {
	var f Filter
	switch kind {
	case None:
		f = passthrough{}
	case MovingAverage:
		f = &movingAverage{}
	case CumulativeAverage:
		f = &cumulativeAverage{}
	case WeightedAverage:
		f = &weightedAverage{}
	case Median:
		f = &median{}
	case Kalman:
		f = &kalman{}
	default:
		return nil, ErrUnknownKind
	}
	if err := f.Configure(p); err != nil {
		return nil, err
	}
	return f, nil
}

// Check validates the parameters kind reads
func Check(kind Kind, p Params) error {
	switch kind {
	case None:
		return nil
	case MovingAverage:
		return checkParam(p.MovingWindow, MaxMovingWindow)
	case CumulativeAverage:
		return checkParam(p.CumulativeCoef, MaxCumulativeCoef)
	case WeightedAverage:
		return checkParam(p.WeightedWindow, MaxWeightedWindow)
	case Median:
		return checkParam(p.MedianWindow, MaxMedianWindow)
	case Kalman:
		if err := checkParam(p.KalmanErr, MaxKalmanError); err != nil {
			return err
		}
		return checkParam(p.KalmanSpeed, MaxKalmanSpeed)
	}
	return ErrUnknownKind
}

// checkParam accepts 1..max
func checkParam(v, max uint16) error {
	if v == 0 {
		return ErrZeroParam
	}
	if v > max {
		return ErrParamRange
	}
	return nil
}

type passthrough struct{}

func (passthrough) Configure(Params) error          { return nil }
func (passthrough) Apply(_ *State, v uint16) uint16 { return v }
