package protocol

// RxBuffer is a fixed-capacity receive buffer. The transport pump appends
// to it and the codec consumes from the front; the fill index persists
// between pumps so partial frames survive across reads.
type RxBuffer struct {
	buf []byte
	n   int
}

// NewRxBuffer creates an RxBuffer with the given capacity
func NewRxBuffer(capacity int) *RxBuffer {
	return &RxBuffer{buf: make([]byte, capacity)}
}

// Write appends as much of data as fits and returns the number of bytes
// accepted.
func (r *RxBuffer) Write(data []byte) int {
	n := copy(r.buf[r.n:], data)
	r.n += n
	return n
}

// Data returns the buffered bytes. The slice aliases internal storage and
// is valid until the next Write or Pop.
func (r *RxBuffer) Data() []byte {
	return r.buf[:r.n]
}

// Available returns the number of buffered bytes
func (r *RxBuffer) Available() int {
	return r.n
}

// Free returns the number of bytes that can still be written
func (r *RxBuffer) Free() int {
	return len(r.buf) - r.n
}

// Cap returns the buffer capacity
func (r *RxBuffer) Cap() int {
	return len(r.buf)
}

// Pop removes n bytes from the front
func (r *RxBuffer) Pop(n int) {
	if n <= 0 {
		return
	}
	if n >= r.n {
		r.n = 0
		return
	}
	copy(r.buf, r.buf[n:r.n])
	r.n -= n
}

// Reset clears the buffer
func (r *RxBuffer) Reset() {
	r.n = 0
}

// TxBuffer is a fixed-capacity transmit buffer. Pushes that would overflow
// fail without touching previously pushed bytes.
type TxBuffer struct {
	buf []byte
	pos int
}

// NewTxBuffer creates a TxBuffer with the given capacity
func NewTxBuffer(capacity int) *TxBuffer {
	return &TxBuffer{buf: make([]byte, capacity)}
}

// Push appends one byte
func (t *TxBuffer) Push(b byte) bool {
	if t.pos >= len(t.buf) {
		return false
	}
	t.buf[t.pos] = b
	t.pos++
	return true
}

// PushBytes appends data only if all of it fits
func (t *TxBuffer) PushBytes(data []byte) bool {
	if len(data) > len(t.buf)-t.pos {
		return false
	}
	t.pos += copy(t.buf[t.pos:], data)
	return true
}

// Update modifies a byte at a position already written
func (t *TxBuffer) Update(pos int, val byte) {
	if pos < t.pos {
		t.buf[pos] = val
	}
}

// Len returns the number of bytes written
func (t *TxBuffer) Len() int {
	return t.pos
}

// Cap returns the buffer capacity
func (t *TxBuffer) Cap() int {
	return len(t.buf)
}

// Bytes returns the accumulated data
func (t *TxBuffer) Bytes() []byte {
	return t.buf[:t.pos]
}

// Reset clears the buffer
func (t *TxBuffer) Reset() {
	t.pos = 0
}
