package core

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"matrixscan/protocol"
)

func TestInboxKeepsRefusedBytes(t *testing.T) {
	h := newHarness(t, nil)
	h.answers()

	var stream []byte
	for _, rate := range []uint8{5, 6, 7} {
		s := smallSettings()
		s.FrameRate = rate
		b, err := s.MarshalBinary()
		require.NoError(t, err)
		stream = append(stream, protocol.EncodeCommand(protocol.CommWriteConfig, b)...)
	}
	require.Greater(t, len(stream), DefaultRxBufferSize)

	var in Inbox
	fill := func() {
		n := copy(in.Free(), stream)
		in.Commit(n)
		stream = stream[n:]
	}

	fill()
	assert.Equal(t, DefaultRxBufferSize, in.Deliver(h.app))
	fill()
	require.Empty(t, stream)

	// The receive buffer is full until the pending commands are dispatched
	assert.Equal(t, 0, in.Deliver(h.app))
	assert.Equal(t, 3*28-DefaultRxBufferSize, in.Len())

	h.app.Tick()
	assert.Equal(t, 3*28-DefaultRxBufferSize, in.Deliver(h.app))
	assert.Equal(t, 0, in.Len())
	h.app.Tick()

	var rates []uint8
	for _, a := range h.answers() {
		require.Equal(t, byte(protocol.CommWriteConfig), a.Code)
		var s ScanSettings
		require.NoError(t, s.UnmarshalBinary(a.Payload))
		rates = append(rates, s.FrameRate)
	}
	assert.Equal(t, []uint8{5, 6, 7}, rates)
	assert.Equal(t, uint8(7), h.app.Settings().FrameRate)
}
