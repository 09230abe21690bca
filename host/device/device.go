// Package device is the host side client of the matrix scanner protocol.
package device

import (
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/golang/glog"

	"matrixscan/core"
	"matrixscan/protocol"
)

// DefaultTimeout bounds every request waiting for its answer
const DefaultTimeout = time.Second

// parserCapacity holds the largest answer frame
const parserCapacity = 256

var (
	ErrClosed  = errors.New("device connection closed")
	ErrTimeout = errors.New("no answer from device")

	// ErrRejected reports that the device kept a configuration other than
	// the one written: invalid or out of range values, or an active
	// session.
	ErrRejected = errors.New("configuration not applied as written")
)

// Status is a session status answer. Solicited answers are returned by
// the request; status answers the device sends on its own (trigger
// edges) are delivered on Status().
type Status struct {
	Code    byte
	Started bool
}

func (s Status) String() string {
	state := "stopped"
	if s.Started {
		state = "started"
	}
	return protocol.CodeName(s.Code) + " " + state
}

// Stats counts traffic seen by the read loop
type Stats struct {
	Answers   uint64
	Scanlines uint64
	Dropped   uint64 // scanlines discarded because nobody was reading
	BadFrames uint64
	CRCErrors uint32
}

// Client speaks the scanner protocol over a byte stream
type Client struct {
	Timeout time.Duration

	rw     io.ReadWriteCloser
	parser *protocol.AnswerParser

	reqMu   sync.Mutex // one request in flight
	waitMu  sync.Mutex
	waiting byte
	answers chan *protocol.Answer

	scanlines chan protocol.Scanline
	status    chan Status

	statsMu sync.Mutex
	stats   Stats

	closeOnce sync.Once
	done      chan struct{}
	readErr   error
}

// New starts a client on rw. The read loop runs until Close or until rw
// reports an error.
func New(rw io.ReadWriteCloser) *Client {
	c := &Client{
		Timeout:   DefaultTimeout,
		rw:        rw,
		parser:    protocol.NewAnswerParser(parserCapacity),
		answers:   make(chan *protocol.Answer, 1),
		scanlines: make(chan protocol.Scanline, 4*core.MaxMatrixSize),
		status:    make(chan Status, 8),
		done:      make(chan struct{}),
	}
	go c.readLoop()
	return c
}

// Scanlines delivers every data frame received. The channel is closed when
// the read loop ends.
func (c *Client) Scanlines() <-chan protocol.Scanline {
	return c.scanlines
}

// Status delivers unsolicited session status answers
func (c *Client) Status() <-chan Status {
	return c.status
}

// Done is closed when the read loop ends
func (c *Client) Done() <-chan struct{} {
	return c.done
}

// Err returns the error that ended the read loop
func (c *Client) Err() error {
	select {
	case <-c.done:
		return c.readErr
	default:
		return nil
	}
}

// Stats returns a snapshot of the traffic counters
func (c *Client) Stats() Stats {
	c.statsMu.Lock()
	defer c.statsMu.Unlock()
	return c.stats
}

// Close closes the underlying stream and waits for the read loop
func (c *Client) Close() error {
	var err error
	c.closeOnce.Do(func() {
		err = c.rw.Close()
	})
	<-c.done
	return err
}

func (c *Client) readLoop() {
	defer close(c.done)
	defer close(c.scanlines)

	buf := make([]byte, 512)
	for {
		n, err := c.rw.Read(buf)
		if n > 0 {
			c.parser.Feed(buf[:n], c.route)
			c.statsMu.Lock()
			c.stats.CRCErrors = c.parser.CRCErrors()
			c.statsMu.Unlock()
		}
		if err != nil {
			if !errors.Is(err, io.EOF) && !errors.Is(err, io.ErrClosedPipe) {
				glog.Warningf("device read: %v", err)
			}
			c.readErr = err
			return
		}
	}
}

// route hands a parsed answer to whoever is waiting for it
func (c *Client) route(a *protocol.Answer) {
	c.count(func(s *Stats) { s.Answers++ })

	if a.Code == protocol.CommFrame {
		line, err := protocol.DecodeScanline(a.Payload)
		if err != nil {
			c.count(func(s *Stats) { s.BadFrames++ })
			glog.V(1).Infof("bad scanline: %v", err)
			return
		}
		c.count(func(s *Stats) { s.Scanlines++ })
		select {
		case c.scanlines <- line:
		default:
			c.count(func(s *Stats) { s.Dropped++ })
		}
		return
	}

	c.waitMu.Lock()
	want := c.waiting
	if want == a.Code {
		c.waiting = protocol.CommEmpty
	}
	c.waitMu.Unlock()

	if want == a.Code {
		select {
		case c.answers <- a:
		default:
		}
		return
	}

	if !a.HasCRC && len(a.Payload) > 0 {
		st := Status{Code: a.Code, Started: a.Payload[0] == protocol.SessionStarted}
		glog.V(1).Infof("device status: %s", st)
		select {
		case c.status <- st:
		default:
		}
		return
	}
	glog.V(2).Infof("unexpected answer %s (%d bytes)", protocol.CodeName(a.Code), len(a.Payload))
}

func (c *Client) count(fn func(*Stats)) {
	c.statsMu.Lock()
	fn(&c.stats)
	c.statsMu.Unlock()
}

func (c *Client) send(code byte, payload []byte) error {
	frame := protocol.EncodeCommand(code, payload)
	if glog.V(2) {
		glog.Infof("TX %s % X", protocol.CodeName(code), frame)
	}
	if _, err := c.rw.Write(frame); err != nil {
		return fmt.Errorf("failed to send %s: %w", protocol.CodeName(code), err)
	}
	return nil
}

// request sends a command and waits for the answer carrying the same code
func (c *Client) request(ctx context.Context, code byte, payload []byte) (*protocol.Answer, error) {
	c.reqMu.Lock()
	defer c.reqMu.Unlock()

	select {
	case <-c.done:
		return nil, ErrClosed
	default:
	}

	c.waitMu.Lock()
	c.waiting = code
	c.waitMu.Unlock()
	defer func() {
		c.waitMu.Lock()
		c.waiting = protocol.CommEmpty
		c.waitMu.Unlock()
		// drop an answer that raced with the timeout
		select {
		case <-c.answers:
		default:
		}
	}()

	if err := c.send(code, payload); err != nil {
		return nil, err
	}

	timeout := c.Timeout
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	timer := time.NewTimer(timeout)
	defer timer.Stop()

	for {
		select {
		case a := <-c.answers:
			if a.Code != code {
				continue // stale answer to an abandoned request
			}
			return a, nil
		case <-timer.C:
			return nil, fmt.Errorf("%s: %w", protocol.CodeName(code), ErrTimeout)
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-c.done:
			return nil, ErrClosed
		}
	}
}

func (c *Client) statusRequest(ctx context.Context, code byte) (Status, error) {
	a, err := c.request(ctx, code, nil)
	if err != nil {
		return Status{}, err
	}
	if len(a.Payload) < 1 {
		return Status{}, fmt.Errorf("%s: %w", protocol.CodeName(code), protocol.ErrShortPayload)
	}
	return Status{Code: code, Started: a.Payload[0] == protocol.SessionStarted}, nil
}

// Start begins a scan session
func (c *Client) Start(ctx context.Context) (Status, error) {
	return c.statusRequest(ctx, protocol.CommStart)
}

// StartNoParams begins a session with the stored settings
func (c *Client) StartNoParams(ctx context.Context) (Status, error) {
	return c.statusRequest(ctx, protocol.CommStartNoParams)
}

// Stop requests a graceful stop at the end of the current frame
func (c *Client) Stop(ctx context.Context) (Status, error) {
	return c.statusRequest(ctx, protocol.CommStop)
}

// ArmTrigger lets the external trigger input start and stop sessions
func (c *Client) ArmTrigger(ctx context.Context) (Status, error) {
	return c.statusRequest(ctx, protocol.CommStartCAN)
}

// Halt disarms the trigger and requests a stop like Stop
func (c *Client) Halt(ctx context.Context) (Status, error) {
	return c.statusRequest(ctx, protocol.CommStopCAN)
}

// SyncTime sends the host clock. The device answers nothing; the value
// appears in subsequent scanlines.
func (c *Client) SyncTime(t time.Time) error {
	var b [protocol.TimeSyncSize]byte
	binary.LittleEndian.PutUint32(b[:], uint32(t.Unix()))
	c.reqMu.Lock()
	defer c.reqMu.Unlock()
	return c.send(protocol.CommFrame, b[:])
}

// Version reads the packed hardware and firmware revision
func (c *Client) Version(ctx context.Context) (uint32, error) {
	a, err := c.request(ctx, protocol.CommReadFirmwareVersion, nil)
	if err != nil {
		return 0, err
	}
	if len(a.Payload) < 4 {
		return 0, fmt.Errorf("version: %w", protocol.ErrShortPayload)
	}
	return binary.LittleEndian.Uint32(a.Payload), nil
}

// ReadConfig reads the active settings
func (c *Client) ReadConfig(ctx context.Context) (core.ScanSettings, error) {
	return c.config(ctx, protocol.CommReadConfig, nil)
}

// WriteConfig sends s and returns the settings the device now uses. A
// rejected write comes back as the unchanged configuration.
func (c *Client) WriteConfig(ctx context.Context, s core.ScanSettings) (core.ScanSettings, error) {
	b, _ := s.MarshalBinary()
	got, err := c.config(ctx, protocol.CommWriteConfig, b)
	if err != nil {
		return got, err
	}
	if got != s {
		return got, ErrRejected
	}
	return got, nil
}

func (c *Client) config(ctx context.Context, code byte, payload []byte) (core.ScanSettings, error) {
	var s core.ScanSettings
	a, err := c.request(ctx, code, payload)
	if err != nil {
		return s, err
	}
	if err := s.UnmarshalBinary(a.Payload); err != nil {
		return s, fmt.Errorf("%s: %w", protocol.CodeName(code), err)
	}
	return s, nil
}

// ReadFilterConfig reads the active filter configuration. Only the filter
// fields of the result are set.
func (c *Client) ReadFilterConfig(ctx context.Context) (core.ScanSettings, error) {
	return c.filterConfig(ctx, protocol.CommReadFilterConfig, nil)
}

// WriteFilterConfig replaces only the filter part of the settings. The
// returned settings carry the filter the device now uses.
func (c *Client) WriteFilterConfig(ctx context.Context, s core.ScanSettings) (core.ScanSettings, error) {
	got, err := c.filterConfig(ctx, protocol.CommWriteFilterConfig, s.FilterConfig())
	if err != nil {
		return got, err
	}
	if string(got.FilterConfig()) != string(s.FilterConfig()) {
		return got, ErrRejected
	}
	return got, nil
}

func (c *Client) filterConfig(ctx context.Context, code byte, payload []byte) (core.ScanSettings, error) {
	var s core.ScanSettings
	a, err := c.request(ctx, code, payload)
	if err != nil {
		return s, err
	}
	if err := s.SetFilterConfig(a.Payload); err != nil {
		return s, fmt.Errorf("%s: %w", protocol.CodeName(code), err)
	}
	return s, nil
}
