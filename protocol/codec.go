package protocol

import (
	"bytes"
	"encoding/binary"
	"io"
)

// Codec is the device side of the protocol. Inbound bytes are appended to a
// fixed receive buffer by the transport pump and decoded into Commands;
// answers are assembled in a fixed transmit buffer and flushed to the
// transport writer as one unit.
type Codec struct {
	rx  *RxBuffer
	tx  *TxBuffer
	out io.Writer

	// Pending command at the front of rx
	ready   bool
	code    byte
	size    int
	payload [MaxCommandPayload]byte

	headerPushed bool
}

// NewCodec creates a codec with receive and transmit buffers of the given
// sizes. Answers are written to out.
func NewCodec(rxSize, txSize int, out io.Writer) *Codec {
	return &Codec{
		rx:  NewRxBuffer(rxSize),
		tx:  NewTxBuffer(txSize),
		out: out,
	}
}

// Receive appends transport bytes to the receive buffer and returns how many
// were accepted. When the buffer is full and holds no complete command the
// oldest bytes are dropped and the parser resynchronises on the next
// preamble. A complete command that has not been retrieved yet is never
// dropped; the remaining input is refused instead.
func (c *Codec) Receive(p []byte) int {
	if c.rx.Cap() == 0 {
		return 0
	}
	accepted := 0
	for len(p) > 0 {
		n := c.rx.Write(p)
		accepted += n
		p = p[n:]
		if len(p) == 0 || c.CheckCommand() {
			break
		}
		c.rx.Pop(1)
		c.checkPreamble()
	}
	return accepted
}

// Pending returns the number of bytes waiting in the receive buffer
func (c *Codec) Pending() int {
	return c.rx.Available()
}

// CheckCommand reports whether a complete, structurally valid command sits
// at the front of the receive buffer. Garbage before a preamble and frames
// carrying codes outside the instruction set are discarded on the way.
func (c *Codec) CheckCommand() bool {
	if c.ready {
		return true
	}
	for {
		if !c.checkPreamble() {
			return false
		}
		data := c.rx.Data()
		if len(data) <= PreambleSize {
			return false
		}
		code := data[PreambleSize]
		size, ok := PayloadSize(code)
		if !ok {
			// Drop the preamble only; the bad code byte may begin the next frame
			c.rx.Pop(PreambleSize)
			continue
		}
		if len(data) < PreambleSize+1+size {
			return false
		}
		c.code, c.size, c.ready = code, size, true
		return true
	}
}

// GetCommand copies the pending command into cmd and clears codec state for
// the next frame. It returns false when no valid command is pending.
func (c *Codec) GetCommand(cmd *Command) bool {
	if !c.CheckCommand() {
		return false
	}
	data := c.rx.Data()
	n := copy(c.payload[:c.size], data[PreambleSize+1:])
	cmd.Code = c.code
	cmd.Data = c.payload[:n]
	cmd.Size = uint16(n)
	if n == 0 {
		cmd.Data = nil
	}
	c.rx.Pop(PreambleSize + 1 + c.size)
	c.ready, c.code, c.size = false, CommEmpty, 0
	return true
}

// checkPreamble aligns the receive buffer on the first preamble, discarding
// anything before it. Without a complete preamble only a trailing partial
// match is kept.
func (c *Codec) checkPreamble() bool {
	return alignPreamble(c.rx)
}

func alignPreamble(rx *RxBuffer) bool {
	data := rx.Data()
	if i := bytes.Index(data, Preamble[:]); i >= 0 {
		rx.Pop(i)
		return true
	}
	rx.Pop(len(data) - partialPreamble(data))
	return false
}

// partialPreamble returns the length of the longest suffix of data that is
// a proper prefix of the preamble.
func partialPreamble(data []byte) int {
	for k := PreambleSize - 1; k > 0; k-- {
		if len(data) >= k && bytes.Equal(data[len(data)-k:], Preamble[:k]) {
			return k
		}
	}
	return 0
}

// ResetAnswer clears the transmit cursor. It must be called before building
// a new answer.
func (c *Codec) ResetAnswer() bool {
	c.tx.Reset()
	c.headerPushed = false
	return true
}

// PushHeaderToAnswer writes the preamble, the echoed command code and a
// length placeholder.
func (c *Codec) PushHeaderToAnswer(code byte) bool {
	if c.headerPushed || c.tx.Len() != 0 {
		return false
	}
	if c.tx.Cap() < HeaderSize+TrailerSize {
		return false
	}
	c.tx.PushBytes(Preamble[:])
	c.tx.Push(code)
	c.tx.Push(0)
	c.tx.Push(0)
	c.headerPushed = true
	return true
}

// PushToAnswer appends one payload byte. Room for the trailer is always kept,
// so a false return means the frame must be abandoned.
func (c *Codec) PushToAnswer(b byte) bool {
	if !c.headerPushed || c.tx.Len()+1 > c.tx.Cap()-TrailerSize {
		return false
	}
	return c.tx.Push(b)
}

// PushBytesToAnswer appends data only if all of it fits
func (c *Codec) PushBytesToAnswer(data []byte) bool {
	if !c.headerPushed || c.tx.Len()+len(data) > c.tx.Cap()-TrailerSize {
		return false
	}
	return c.tx.PushBytes(data)
}

// PushUint16ToAnswer appends v little endian
func (c *Codec) PushUint16ToAnswer(v uint16) bool {
	var b [2]byte
	binary.LittleEndian.PutUint16(b[:], v)
	return c.PushBytesToAnswer(b[:])
}

// PushUint32ToAnswer appends v little endian
func (c *Codec) PushUint32ToAnswer(v uint32) bool {
	var b [4]byte
	binary.LittleEndian.PutUint32(b[:], v)
	return c.PushBytesToAnswer(b[:])
}

// AnswerLen returns the number of bytes assembled so far
func (c *Codec) AnswerLen() int {
	return c.tx.Len()
}

// SendAnswer flushes the answer without an integrity trailer
func (c *Codec) SendAnswer() bool {
	if !c.headerPushed {
		return false
	}
	c.patchLength()
	return c.flush()
}

// SendAnswerCRC appends a CRC16 over header and payload and flushes the
// answer.
func (c *Codec) SendAnswerCRC() bool {
	if !c.headerPushed {
		return false
	}
	c.patchLength()
	var trailer [TrailerSize]byte
	PutTrailer(trailer[:], CRC16(c.tx.Bytes()))
	if !c.tx.PushBytes(trailer[:]) {
		c.ResetAnswer()
		return false
	}
	return c.flush()
}

func (c *Codec) patchLength() {
	n := c.tx.Len() - HeaderSize
	c.tx.Update(PreambleSize+1, uint8(n))
	c.tx.Update(PreambleSize+2, uint8(n>>8))
}

func (c *Codec) flush() bool {
	frame := c.tx.Bytes()
	ok := true
	if c.out != nil {
		written := 0
		for written < len(frame) {
			n, err := c.out.Write(frame[written:])
			if err != nil || n == 0 {
				ok = false
				break
			}
			written += n
		}
	}
	c.ResetAnswer()
	return ok
}
