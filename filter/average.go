package filter

// movingAverage is the arithmetic mean of the last window samples. Until the
// window fills the mean covers the samples seen so far.
type movingAverage struct {
	window uint8
}

func (f *movingAverage) Configure(p Params) error {
	if err := checkParam(p.MovingWindow, MaxMovingWindow); err != nil {
		return err
	}
	f.window = uint8(p.MovingWindow)
	return nil
}

func (f *movingAverage) Apply(s *State, v uint16) uint16 {
	if s.count == f.window {
		s.acc -= uint32(s.hist[s.pos])
	} else {
		s.count++
	}
	s.hist[s.pos] = v
	s.acc += uint32(v)
	s.pos++
	if s.pos == f.window {
		s.pos = 0
	}
	return uint16(s.acc / uint32(s.count))
}

// cumulativeAverage is an exponential running average; coef is the weight
// in percent given to each new sample.
type cumulativeAverage struct {
	coef uint32
}

func (f *cumulativeAverage) Configure(p Params) error {
	if err := checkParam(p.CumulativeCoef, MaxCumulativeCoef); err != nil {
		return err
	}
	f.coef = uint32(p.CumulativeCoef)
	return nil
}

func (f *cumulativeAverage) Apply(s *State, v uint16) uint16 {
	if !s.primed {
		s.acc, s.primed = uint32(v), true
		return v
	}
	s.acc = (uint32(v)*f.coef + s.acc*(100-f.coef) + 50) / 100
	return uint16(s.acc)
}

// weightedAverage weights the newest sample by the window size and the
// oldest by one.
type weightedAverage struct {
	window uint8
}

func (f *weightedAverage) Configure(p Params) error {
	if err := checkParam(p.WeightedWindow, MaxWeightedWindow); err != nil {
		return err
	}
	f.window = uint8(p.WeightedWindow)
	return nil
}

func (f *weightedAverage) Apply(s *State, v uint16) uint16 {
	s.hist[s.pos] = v
	if s.count < f.window {
		s.count++
	}

	var sum, weights uint32
	idx := int(s.pos)
	for w := uint32(s.count); w > 0; w-- {
		sum += uint32(s.hist[idx]) * w
		weights += w
		idx--
		if idx < 0 {
			idx = int(f.window) - 1
		}
	}

	s.pos++
	if s.pos == f.window {
		s.pos = 0
	}
	return uint16(sum / weights)
}
