package filter

// Bank holds the filter state of every active matrix cell. All state is
// allocated once by NewBank; changing the kind, the parameters or the cell
// count reuses it and clears the history.
type Bank struct {
	kind    Kind
	params  Params
	filters [numKinds]Filter
	cells   []State
	n       int
}

// NewBank creates a bank able to hold capacity cells, with no filtering
func NewBank(capacity int) *Bank {
	return &Bank{
		filters: [numKinds]Filter{
			None:              passthrough{},
			MovingAverage:     &movingAverage{},
			CumulativeAverage: &cumulativeAverage{},
			WeightedAverage:   &weightedAverage{},
			Median:            &median{},
			Kalman:            &kalman{},
		},
		cells: make([]State, capacity),
	}
}

// Rebuild configures the bank for cells cells filtered by kind. Nothing
// changes when the parameters or the cell count are rejected.
func (b *Bank) Rebuild(kind Kind, p Params, cells int) error {
	if err := Check(kind, p); err != nil {
		return err
	}
	if cells < 0 || cells > len(b.cells) {
		return ErrCapacity
	}
	if err := b.filters[kind].Configure(p); err != nil {
		return err
	}
	if kind != b.kind || p != b.params || cells != b.n {
		b.n = cells
		b.Reset()
	}
	b.kind, b.params = kind, p
	return nil
}

// Apply filters v for cell. Cells outside the bank pass through.
func (b *Bank) Apply(cell int, v uint16) uint16 {
	if cell < 0 || cell >= b.n {
		return v
	}
	return b.filters[b.kind].Apply(&b.cells[cell], v)
}

// Reset clears the history of every active cell
func (b *Bank) Reset() {
	for i := range b.cells[:b.n] {
		b.cells[i].Reset()
	}
}

// Kind returns the active filter kind
func (b *Bank) Kind() Kind {
	return b.kind
}

// Len returns the number of cells covered
func (b *Bank) Len() int {
	return b.n
}

// Cap returns the number of cells the bank can hold
func (b *Bank) Cap() int {
	return len(b.cells)
}
