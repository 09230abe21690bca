package filter

// median outputs the median of the last window samples. Cells are filtered
// one at a time, so a single scratch array serves the whole bank.
type median struct {
	window  uint8
	scratch [MaxMedianWindow]uint16
}

func (f *median) Configure(p Params) error {
	if err := checkParam(p.MedianWindow, MaxMedianWindow); err != nil {
		return err
	}
	f.window = uint8(p.MedianWindow)
	return nil
}

func (f *median) Apply(s *State, v uint16) uint16 {
	s.hist[s.pos] = v
	s.pos++
	if s.pos == f.window {
		s.pos = 0
	}
	if s.count < f.window {
		s.count++
	}

	// hist[:count] holds the window in ring order
	w := f.scratch[:s.count]
	copy(w, s.hist[:s.count])
	// Insertion sort, windows are at most 20 wide
	for i := 1; i < len(w); i++ {
		x := w[i]
		j := i - 1
		for j >= 0 && w[j] > x {
			w[j+1] = w[j]
			j--
		}
		w[j+1] = x
	}
	if len(w)%2 == 1 {
		return w[len(w)/2]
	}
	return uint16((uint32(w[len(w)/2-1]) + uint32(w[len(w)/2])) / 2)
}
