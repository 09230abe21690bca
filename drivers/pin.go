// Package drivers holds the peripheral drivers of the matrix scanner board.
// Bus based parts use the tinygo.org/x/drivers bus interfaces so they build
// for both firmware and host tests.
package drivers

// OutputPin is a digital output. machine.Pin satisfies it.
type OutputPin interface {
	Set(high bool)
}
