package filter

import "github.com/chewxy/math32"

// kalman is a scalar Kalman estimator. errMeasure is the expected
// measurement noise and q, derived from the speed setting, scales how fast
// the estimate error grows when the signal moves.
type kalman struct {
	errMeasure float32
	q          float32
}

func (f *kalman) Configure(p Params) error {
	if err := checkParam(p.KalmanErr, MaxKalmanError); err != nil {
		return err
	}
	if err := checkParam(p.KalmanSpeed, MaxKalmanSpeed); err != nil {
		return err
	}
	f.errMeasure = float32(p.KalmanErr)
	f.q = float32(p.KalmanSpeed) / 100
	return nil
}

func (f *kalman) Apply(s *State, v uint16) uint16 {
	x := float32(v)
	if !s.primed {
		s.value, s.errEst, s.primed = x, f.errMeasure, true
		return v
	}
	gain := s.errEst / (s.errEst + f.errMeasure)
	prev := s.value
	s.value = prev + gain*(x-prev)
	s.errEst = (1-gain)*s.errEst + math32.Abs(prev-s.value)*f.q
	// Keep the estimate able to follow the signal
	if s.errEst < 1e-3 {
		s.errEst = 1e-3
	}
	out := math32.Floor(s.value + 0.5)
	if out < 0 {
		return 0
	}
	if out > 0xFFFF {
		return 0xFFFF
	}
	return uint16(out)
}
