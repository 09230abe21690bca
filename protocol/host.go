package protocol

import (
	"encoding/binary"
	"errors"
)

var (
	// ErrBadCRC is reported for answer frames whose trailer does not match.
	ErrBadCRC = errors.New("answer CRC mismatch")
	// ErrShortPayload is returned when a payload is smaller than its layout.
	ErrShortPayload = errors.New("payload too short")
)

// SampleFault is the sentinel reported for a cell whose ADC read failed.
const SampleFault uint16 = 0xFFFF

// EncodeCommand builds an inbound command frame for the device.
func EncodeCommand(code byte, payload []byte) []byte {
	frame := make([]byte, 0, PreambleSize+1+len(payload))
	frame = append(frame, Preamble[:]...)
	frame = append(frame, code)
	return append(frame, payload...)
}

// Answer is one parsed answer frame
type Answer struct {
	Code    byte
	Payload []byte
	CRC     uint16
	HasCRC  bool
}

// AnswerParser extracts answer frames from the byte stream sent by the
// device. It resynchronises on the preamble and drops frames failing the
// CRC check.
type AnswerParser struct {
	rx        *RxBuffer
	crcErrors uint32
}

// NewAnswerParser creates a parser able to hold frames up to capacity bytes
func NewAnswerParser(capacity int) *AnswerParser {
	return &AnswerParser{rx: NewRxBuffer(capacity)}
}

// Feed consumes data and calls fn for every complete answer found
func (p *AnswerParser) Feed(data []byte, fn func(*Answer)) {
	for len(data) > 0 {
		n := p.rx.Write(data)
		data = data[n:]
		for {
			a, ok := p.Next()
			if !ok {
				break
			}
			fn(a)
		}
		if len(data) > 0 && p.rx.Free() == 0 {
			// Full without a complete frame
			p.rx.Pop(1)
		}
	}
}

// Next returns the next complete answer in the buffer
func (p *AnswerParser) Next() (*Answer, bool) {
	for {
		if !alignPreamble(p.rx) {
			return nil, false
		}
		data := p.rx.Data()
		if len(data) < HeaderSize {
			return nil, false
		}
		code := data[PreambleSize]
		length := int(binary.LittleEndian.Uint16(data[PreambleSize+1:]))
		total := HeaderSize + length
		hasCRC := HasTrailer(code)
		if hasCRC {
			total += TrailerSize
		}
		if total > p.rx.Cap() {
			p.rx.Pop(PreambleSize)
			continue
		}
		if len(data) < total {
			return nil, false
		}

		a := &Answer{Code: code, HasCRC: hasCRC}
		if hasCRC {
			a.CRC = Trailer(data[total-TrailerSize:])
			if !CheckTrailer(data[:total]) {
				p.crcErrors++
				p.rx.Pop(PreambleSize)
				continue
			}
		}
		a.Payload = make([]byte, length)
		copy(a.Payload, data[HeaderSize:HeaderSize+length])
		p.rx.Pop(total)
		return a, true
	}
}

// CRCErrors returns the number of frames dropped for a bad trailer
func (p *AnswerParser) CRCErrors() uint32 {
	return p.crcErrors
}

// Reset discards buffered data
func (p *AnswerParser) Reset() {
	p.rx.Reset()
}

// Scanline is one decoded data frame
type Scanline struct {
	PackageID uint32
	Timestamp uint32
	UnixTime  uint32
	Row       uint8
	Samples   []uint16
}

// DecodeScanline decodes the payload of a FRAME answer
func DecodeScanline(payload []byte) (Scanline, error) {
	if len(payload) < ScanlineHeaderSize {
		return Scanline{}, ErrShortPayload
	}
	s := Scanline{
		PackageID: binary.LittleEndian.Uint32(payload[0:]),
		Timestamp: binary.LittleEndian.Uint32(payload[4:]),
		UnixTime:  binary.LittleEndian.Uint32(payload[8:]),
		Row:       payload[12],
	}
	count := int(payload[13])
	if len(payload) < ScanlineHeaderSize+2*count {
		return Scanline{}, ErrShortPayload
	}
	s.Samples = make([]uint16, count)
	for i := range s.Samples {
		s.Samples[i] = binary.LittleEndian.Uint16(payload[ScanlineHeaderSize+2*i:])
	}
	return s, nil
}
