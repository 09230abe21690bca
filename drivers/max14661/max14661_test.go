package max14661

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeBus emulates the four switch registers of each chip
type fakeBus struct {
	regs   map[uint16]*[4]byte
	writes int
	err    error
}

func newFakeBus(addrs ...uint16) *fakeBus {
	b := &fakeBus{regs: map[uint16]*[4]byte{}}
	for _, a := range addrs {
		b.regs[a] = &[4]byte{0xFF, 0xFF, 0xFF, 0xFF}
	}
	return b
}

func (b *fakeBus) Tx(addr uint16, w, r []byte) error {
	if b.err != nil {
		return b.err
	}
	regs, ok := b.regs[addr]
	if !ok {
		return errors.New("nack")
	}
	if len(w) > 1 {
		b.writes++
		copy(regs[w[0]:], w[1:])
	}
	if len(r) > 0 {
		copy(r, regs[w[0]:])
	}
	return nil
}

func (b *fakeBus) comA(addr uint16) uint16 {
	regs := b.regs[addr]
	return uint16(regs[regDir0]) | uint16(regs[regDir1])<<8
}

func TestInitClearsSwitches(t *testing.T) {
	bus := newFakeBus(0x4C, 0x4D)
	d := New(bus, 0x4C, 0x4D)
	require.NoError(t, d.Init())
	assert.Equal(t, 32, d.Channels())
	assert.Equal(t, [4]byte{}, *bus.regs[0x4C])
	assert.Equal(t, [4]byte{}, *bus.regs[0x4D])
}

func TestInitMissingChip(t *testing.T) {
	bus := newFakeBus(0x4C)
	d := New(bus, 0x4C, 0x4D)
	assert.Error(t, d.Init())
}

func TestSelectColumnAcrossChips(t *testing.T) {
	bus := newFakeBus(0x4C, 0x4D)
	d := New(bus, 0x4C, 0x4D)
	require.NoError(t, d.Init())

	require.NoError(t, d.SelectColumn(3))
	assert.Equal(t, uint16(1<<3), bus.comA(0x4C))
	assert.Zero(t, bus.comA(0x4D))

	require.NoError(t, d.SelectColumn(16+9))
	assert.Zero(t, bus.comA(0x4C), "previous chip opened")
	assert.Equal(t, uint16(1<<9), bus.comA(0x4D))

	// Reselecting the same column does not touch the bus
	writes := bus.writes
	require.NoError(t, d.SelectColumn(25))
	assert.Equal(t, writes, bus.writes)

	assert.ErrorIs(t, d.SelectColumn(32), ErrChannel)
}

func TestSelectColumnBusError(t *testing.T) {
	bus := newFakeBus(0x4C)
	d := New(bus)
	require.NoError(t, d.Init())

	bus.err = errors.New("bus stuck")
	assert.Error(t, d.SelectColumn(1))

	// The failed column is not cached
	bus.err = nil
	require.NoError(t, d.SelectColumn(1))
	assert.Equal(t, uint16(1<<1), bus.comA(0x4C))
}
