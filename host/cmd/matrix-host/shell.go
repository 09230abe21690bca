package main

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/abiosoft/ishell"
	"github.com/golang/glog"

	"matrixscan/core"
	"matrixscan/filter"
	"matrixscan/host/config"
	"matrixscan/host/device"
	"matrixscan/host/publish"
	"matrixscan/host/serial"
	"matrixscan/host/sim"
	"matrixscan/protocol"
)

const (
	shellKey          = "$shell"
	unconnectedPrompt = "[none] > "
)

var errNotConnected = errors.New("not connected")

// Shell is the interactive host session
type Shell struct {
	Shell      *ishell.Shell
	Config     *config.Config
	ConfigPath string

	client *device.Client
	sim    *sim.Device
	name   string

	pub       *publish.Publisher
	stopPub   context.CancelFunc
	lines     chan protocol.Scanline
	watchers  chan chan protocol.Scanline
	cancelFan context.CancelFunc
}

// NewShell creates the shell with every command registered
func NewShell(cfg *config.Config, path string) *Shell {
	s := &Shell{
		Shell:      ishell.New(),
		Config:     cfg,
		ConfigPath: path,
	}
	s.Shell.Set(shellKey, s)
	s.Shell.SetPrompt(unconnectedPrompt)
	for _, cmd := range commands {
		s.Shell.AddCmd(cmd)
	}
	return s
}

// ShellFrom gets Shell from ishell context
func ShellFrom(c *ishell.Context) *Shell {
	return c.Get(shellKey).(*Shell)
}

// MustBeConnected wraps a command that needs a device
func MustBeConnected(fn func(c *ishell.Context, s *Shell)) func(c *ishell.Context) {
	return func(c *ishell.Context) {
		s := ShellFrom(c)
		if s.client == nil {
			c.Err(errNotConnected)
			return
		}
		fn(c, s)
	}
}

func (s *Shell) ctx() (context.Context, context.CancelFunc) {
	return context.WithTimeout(context.Background(), s.Config.Scan.RequestTimeout+time.Second)
}

// Connect opens the configured device, real or simulated
func (s *Shell) Connect() error {
	s.Disconnect()

	var port serial.Port
	if s.Config.Sim.Enabled {
		dev, err := sim.NewDevice(sim.Options{
			Baseline: s.Config.Sim.Baseline,
			Noise:    s.Config.Sim.Noise,
			Seed:     s.Config.Sim.Seed,
			Realtime: s.Config.Sim.Realtime,
			Store:    sim.NewFileStore(s.Config.Sim.StateFile, protocol.Version),
		})
		if err != nil {
			return fmt.Errorf("failed to start simulator: %w", err)
		}
		s.sim = dev
		s.name = "sim"
		port = dev.Port()
	} else {
		name := s.Config.Serial.Port
		if s.Config.AutoPort() {
			detected, err := serial.Detect()
			if err != nil {
				return err
			}
			name = detected
		}
		p, err := serial.Open(&serial.Config{
			Device:      name,
			Baud:        s.Config.Serial.Baud,
			ReadTimeout: 0, // the client read loop blocks until Close
		})
		if err != nil {
			return err
		}
		if err := p.Flush(); err != nil {
			glog.Warningf("flush %s: %v", name, err)
		}
		s.name = name
		port = p
	}

	s.client = device.New(port)
	s.client.Timeout = s.Config.Scan.RequestTimeout
	s.startFanout()

	ctx, cancel := s.ctx()
	defer cancel()
	v, err := s.client.Version(ctx)
	if err != nil {
		s.Disconnect()
		return fmt.Errorf("no answer from %s: %w", s.name, err)
	}
	glog.Infof("connected to %s, firmware %s", s.name, formatVersion(v))

	if s.Config.Scan.SyncTime {
		if err := s.client.SyncTime(time.Now()); err != nil {
			glog.Warningf("time sync: %v", err)
		}
	}
	if s.Config.Scan.Apply {
		if _, err := s.client.WriteConfig(ctx, s.Config.Scan.Settings); err != nil {
			glog.Warningf("applying configured settings: %v", err)
		}
	}
	if s.Config.MQTT.Broker != "" {
		if err := s.StartPublishing(); err != nil {
			glog.Warningf("mqtt: %v", err)
		}
	}

	s.Shell.SetPrompt(fmt.Sprintf("[%s] > ", s.name))
	return nil
}

// Disconnect closes the device and stops publishing
func (s *Shell) Disconnect() {
	s.StopPublishing()
	if s.cancelFan != nil {
		s.cancelFan()
		s.cancelFan = nil
	}
	if s.client != nil {
		s.client.Close()
		s.client = nil
	}
	if s.sim != nil {
		s.sim.Close()
		s.sim = nil
	}
	s.Shell.SetPrompt(unconnectedPrompt)
}

// startFanout copies scanlines to the publisher and to watch commands
func (s *Shell) startFanout() {
	ctx, cancel := context.WithCancel(context.Background())
	s.cancelFan = cancel
	s.lines = make(chan protocol.Scanline, 64)
	s.watchers = make(chan chan protocol.Scanline, 1)
	src := s.client.Scanlines()
	out := s.lines

	go func() {
		var watch chan protocol.Scanline
		for {
			select {
			case <-ctx.Done():
				return
			case w := <-s.watchers:
				watch = w
			case line, ok := <-src:
				if !ok {
					return
				}
				select {
				case out <- line:
				default:
				}
				if watch != nil {
					select {
					case watch <- line:
					default:
					}
				}
			}
		}
	}()
}

// Watch returns a channel receiving scanlines until the returned function
// is called
func (s *Shell) Watch() (<-chan protocol.Scanline, func()) {
	ch := make(chan protocol.Scanline, 64)
	s.watchers <- ch
	return ch, func() {
		select {
		case s.watchers <- nil:
		default:
		}
	}
}

// StartPublishing connects to the broker and forwards scanlines
func (s *Shell) StartPublishing() error {
	if s.pub != nil {
		return nil
	}
	if s.client == nil {
		return errNotConnected
	}
	p, err := publish.New(s.Config.MQTT)
	if err != nil {
		return err
	}
	if err := p.Connect(); err != nil {
		return err
	}
	if s.Config.MQTT.Frames {
		ctx, cancel := s.ctx()
		settings, err := s.client.ReadConfig(ctx)
		cancel()
		if err == nil {
			p.SetFrames(true, int(settings.YSize))
		}
	}
	ctx, cancel := context.WithCancel(context.Background())
	s.pub, s.stopPub = p, cancel
	lines := s.lines
	go func() {
		if err := p.Run(ctx, lines); err != nil && !errors.Is(err, context.Canceled) {
			glog.Warningf("publisher stopped: %v", err)
		}
	}()
	return nil
}

// StopPublishing disconnects from the broker
func (s *Shell) StopPublishing() {
	if s.pub == nil {
		return
	}
	s.stopPub()
	s.pub.Close()
	s.pub, s.stopPub = nil, nil
}

func formatVersion(v uint32) string {
	return fmt.Sprintf("hw %d fw %d.%d.%d", v>>24, v>>16&0xFF, v>>8&0xFF, v&0xFF)
}

func formatSettings(st core.ScanSettings) string {
	return fmt.Sprintf(
		"matrix %dx%d shift (%d,%d) samples %d rate %d fps adc delay %d us vref %d\n"+
			"filter %s: moving %d cumulative %d weighted %d median %d kalman %d/%d",
		st.XSize, st.YSize, st.MatrixShiftX, st.MatrixShiftY, st.SamplesNumber,
		st.FrameRate, st.ADCDelay, st.ReferenceVoltage, filter.Kind(st.FilterType),
		st.MovAvrWindowSize, st.MovAverCumulativeCoef, st.MovAverWeightedWindowSize,
		st.MedianWindowSize, st.KalmanErrMeasure, st.KalmanMeasureSpeed)
}
