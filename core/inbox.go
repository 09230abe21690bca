package core

// Inbox stages transport bytes between the driver and the codec. Bytes the
// codec refuses while a complete command waits for dispatch stay queued
// for the next Deliver.
type Inbox struct {
	buf [DefaultRxBufferSize]byte
	n   int
}

// Free returns the unused tail of the inbox for the driver to fill
func (in *Inbox) Free() []byte {
	return in.buf[in.n:]
}

// Commit marks n bytes of Free as filled
func (in *Inbox) Commit(n int) {
	in.n += n
}

// Len returns the number of queued bytes
func (in *Inbox) Len() int {
	return in.n
}

// Deliver hands the queued bytes to a and keeps those it refused. It
// returns the number accepted.
func (in *Inbox) Deliver(a *Application) int {
	if in.n == 0 {
		return 0
	}
	accepted := a.Receive(in.buf[:in.n])
	in.n = copy(in.buf[:], in.buf[accepted:in.n])
	return accepted
}
