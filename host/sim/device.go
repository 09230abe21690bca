package sim

import (
	"context"
	"net"
	"sync"
	"time"

	"github.com/golang/glog"

	"matrixscan/core"
	"matrixscan/protocol"
)

// Options configure a simulated device
type Options struct {
	Baseline uint16
	Noise    uint16
	Seed     int64
	Realtime bool // honour ADC settle delays

	// Store persists settings. Nil keeps them in a RAM flash.
	Store core.SettingsStore
}

// Device runs core.Application in a goroutine. The host talks to it over
// an in-memory link returned by Port.
type Device struct {
	Matrix    *Matrix
	Reference *Reference
	Indicator *Indicator

	app  core.Application
	mu   sync.Mutex // guards app
	link net.Conn
	host net.Conn

	cancel context.CancelFunc
	done   chan struct{}
}

// PipePort is the host end of the link. It satisfies serial.Port.
type PipePort struct {
	net.Conn
}

// Flush is a no-op on the in-memory link
func (PipePort) Flush() error { return nil }

// NewDevice initialises the firmware and starts its main loop
func NewDevice(opts Options) (*Device, error) {
	d := &Device{
		Matrix:    NewMatrix(opts.Baseline, opts.Noise, opts.Seed),
		Reference: &Reference{},
		Indicator: &Indicator{},
		done:      make(chan struct{}),
	}
	d.link, d.host = net.Pipe()

	store := opts.Store
	if store == nil {
		store = core.NewFlashStore(core.NewMemoryFlash(256, 1), protocol.Version)
	}
	clock := NewWallClock(opts.Realtime)
	err := d.app.Init(core.Config{
		Hardware: core.Hardware{
			Rows:      d.Matrix,
			Columns:   d.Matrix,
			Sampler:   d.Matrix,
			Reference: d.Reference,
			Indicator: d.Indicator,
			Clock:     clock,
			Delay:     clock,
		},
		Store:  store,
		Output: d.link,
	})
	if err != nil {
		d.link.Close()
		d.host.Close()
		return nil, err
	}

	ctx, cancel := context.WithCancel(context.Background())
	d.cancel = cancel
	go d.run(ctx)
	return d, nil
}

// Port returns the host end of the link
func (d *Device) Port() PipePort {
	return PipePort{Conn: d.host}
}

// Trigger injects an external trigger edge
func (d *Device) Trigger(edge core.Edge) {
	d.app.Trigger(edge)
}

// Session returns a snapshot of the session state
func (d *Device) Session() core.Session {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.app.Session()
}

// Settings returns the active settings
func (d *Device) Settings() core.ScanSettings {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.app.Settings()
}

// Close stops the main loop and closes both ends of the link
func (d *Device) Close() error {
	d.cancel()
	d.link.Close()
	d.host.Close()
	<-d.done
	return nil
}

func (d *Device) run(ctx context.Context) {
	defer close(d.done)

	rx := make(chan []byte, 16)
	go d.readLink(ctx, rx)

	idle := time.NewTicker(time.Millisecond)
	defer idle.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case b, ok := <-rx:
			if !ok {
				return
			}
			d.receive(b)
		default:
		}

		d.mu.Lock()
		busy := d.app.Tick()
		d.mu.Unlock()
		if busy {
			continue
		}

		select {
		case <-ctx.Done():
			return
		case b, ok := <-rx:
			if !ok {
				return
			}
			d.receive(b)
		case <-idle.C:
		}
	}
}

// receive feeds the codec, draining commands whenever its buffer fills
func (d *Device) receive(b []byte) {
	d.mu.Lock()
	defer d.mu.Unlock()
	for len(b) > 0 {
		n := d.app.Receive(b)
		b = b[n:]
		if n == 0 {
			d.app.Tick()
		}
	}
}

func (d *Device) readLink(ctx context.Context, rx chan<- []byte) {
	defer close(rx)
	buf := make([]byte, 256)
	for {
		n, err := d.link.Read(buf)
		if n > 0 {
			b := make([]byte, n)
			copy(b, buf[:n])
			select {
			case rx <- b:
			case <-ctx.Done():
				return
			}
		}
		if err != nil {
			glog.V(2).Infof("sim link closed: %v", err)
			return
		}
	}
}
