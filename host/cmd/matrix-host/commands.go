package main

import (
	"context"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/abiosoft/ishell"

	"matrixscan/core"
	"matrixscan/filter"
	"matrixscan/host/device"
	"matrixscan/host/serial"
	"matrixscan/host/sim"
	"matrixscan/protocol"
)

var commands = []*ishell.Cmd{
	&PortsCmd,
	&ConnectCmd,
	&DisconnectCmd,
	&VersionCmd,
	&ConfigCmd,
	&SetCmd,
	&FilterCmd,
	&StartCmd,
	&StopCmd,
	&ArmCmd,
	&HaltCmd,
	&SyncCmd,
	&WatchCmd,
	&StatsCmd,
	&PublishCmd,
	&SaveCmd,
	&TriggerCmd,
	&PressCmd,
	&ReleaseCmd,
}

var (
	// PortsCmd lists serial ports
	PortsCmd = ishell.Cmd{
		Name: "ports",
		Help: "list serial ports",
		Func: func(c *ishell.Context) {
			ports, err := serial.Ports()
			if err != nil {
				c.Err(err)
				return
			}
			for _, p := range ports {
				mark := " "
				if p.Likely {
					mark = "*"
				}
				c.Printf("%s %s usb=%v\n", mark, p.Name, p.USB)
			}
		},
	}

	// ConnectCmd opens a device
	ConnectCmd = ishell.Cmd{
		Name: "connect",
		Help: "[PORT|sim] connect to the scanner",
		Func: func(c *ishell.Context) {
			s := ShellFrom(c)
			if len(c.Args) > 0 {
				if c.Args[0] == "sim" {
					s.Config.Sim.Enabled = true
				} else {
					s.Config.Sim.Enabled = false
					s.Config.Serial.Port = c.Args[0]
				}
			}
			if err := s.Connect(); err != nil {
				c.Err(err)
				return
			}
			c.Println("connected to", s.name)
		},
	}

	// DisconnectCmd closes the device
	DisconnectCmd = ishell.Cmd{
		Name: "disconnect",
		Help: "close the connection",
		Func: func(c *ishell.Context) {
			ShellFrom(c).Disconnect()
		},
	}

	// VersionCmd reads the firmware version
	VersionCmd = ishell.Cmd{
		Name: "version",
		Help: "read the firmware version",
		Func: MustBeConnected(func(c *ishell.Context, s *Shell) {
			ctx, cancel := s.ctx()
			defer cancel()
			v, err := s.client.Version(ctx)
			if err != nil {
				c.Err(err)
				return
			}
			c.Printf("0x%08X %s\n", v, formatVersion(v))
		}),
	}

	// ConfigCmd reads the active settings
	ConfigCmd = ishell.Cmd{
		Name: "config",
		Help: "read the active settings",
		Func: MustBeConnected(func(c *ishell.Context, s *Shell) {
			ctx, cancel := s.ctx()
			defer cancel()
			st, err := s.client.ReadConfig(ctx)
			if err != nil {
				c.Err(err)
				return
			}
			c.Println(formatSettings(st))
		}),
	}

	// SetCmd changes settings fields and writes the result
	SetCmd = ishell.Cmd{
		Name: "set",
		Help: "FIELD VALUE [FIELD VALUE...] fields: " + strings.Join(settingFields(), " "),
		Func: MustBeConnected(func(c *ishell.Context, s *Shell) {
			if len(c.Args) == 0 || len(c.Args)%2 != 0 {
				c.Err(fmt.Errorf("FIELD VALUE pairs required"))
				return
			}
			ctx, cancel := s.ctx()
			defer cancel()
			st, err := s.client.ReadConfig(ctx)
			if err != nil {
				c.Err(err)
				return
			}
			for i := 0; i < len(c.Args); i += 2 {
				if err := setField(&st, c.Args[i], c.Args[i+1]); err != nil {
					c.Err(err)
					return
				}
			}
			got, err := s.client.WriteConfig(ctx, st)
			if err != nil {
				c.Err(err)
			}
			c.Println(formatSettings(got))
		}),
	}

	// FilterCmd selects the smoothing filter
	FilterCmd = ishell.Cmd{
		Name: "filter",
		Help: "KIND [PARAM] kinds: none moving-average cumulative-average weighted-average median kalman (kalman takes ERR SPEED)",
		Func: MustBeConnected(func(c *ishell.Context, s *Shell) {
			if len(c.Args) < 1 {
				c.Err(fmt.Errorf("KIND required"))
				return
			}
			ctx, cancel := s.ctx()
			defer cancel()
			st, err := s.client.ReadFilterConfig(ctx)
			if err != nil {
				c.Err(err)
				return
			}
			if err := applyFilterArgs(&st, c.Args); err != nil {
				c.Err(err)
				return
			}
			got, err := s.client.WriteFilterConfig(ctx, st)
			if err != nil {
				c.Err(err)
			}
			c.Printf("filter %s\n", filter.Kind(got.FilterType))
		}),
	}

	// StartCmd starts a session
	StartCmd = ishell.Cmd{
		Name:    "start",
		Aliases: []string{"s"},
		Help:    "start scanning",
		Func: MustBeConnected(func(c *ishell.Context, s *Shell) {
			ctx, cancel := s.ctx()
			defer cancel()
			printStatus(c, ctx, s.client.Start)
		}),
	}

	// StopCmd requests a graceful stop
	StopCmd = ishell.Cmd{
		Name: "stop",
		Help: "stop after the current frame",
		Func: MustBeConnected(func(c *ishell.Context, s *Shell) {
			ctx, cancel := s.ctx()
			defer cancel()
			printStatus(c, ctx, s.client.Stop)
		}),
	}

	// ArmCmd arms the external trigger
	ArmCmd = ishell.Cmd{
		Name: "arm",
		Help: "let the trigger input start and stop sessions",
		Func: MustBeConnected(func(c *ishell.Context, s *Shell) {
			ctx, cancel := s.ctx()
			defer cancel()
			printStatus(c, ctx, s.client.ArmTrigger)
		}),
	}

	// HaltCmd disarms the trigger and stops at the end of the current row
	HaltCmd = ishell.Cmd{
		Name: "halt",
		Help: "disarm the trigger and stop after the current row",
		Func: MustBeConnected(func(c *ishell.Context, s *Shell) {
			ctx, cancel := s.ctx()
			defer cancel()
			printStatus(c, ctx, s.client.Halt)
		}),
	}

	// SyncCmd sends the host clock
	SyncCmd = ishell.Cmd{
		Name: "sync",
		Help: "send the host Unix time",
		Func: MustBeConnected(func(c *ishell.Context, s *Shell) {
			if err := s.client.SyncTime(time.Now()); err != nil {
				c.Err(err)
				return
			}
			c.Println("OK")
		}),
	}

	// WatchCmd prints incoming scanlines
	WatchCmd = ishell.Cmd{
		Name:    "watch",
		Aliases: []string{"w"},
		Help:    "[N] print the next N scanlines",
		Func: MustBeConnected(func(c *ishell.Context, s *Shell) {
			n := 32
			if len(c.Args) > 0 {
				v, err := strconv.Atoi(c.Args[0])
				if err != nil || v <= 0 {
					c.Err(fmt.Errorf("invalid N: %q", c.Args[0]))
					return
				}
				n = v
			}
			lines, stop := s.Watch()
			defer stop()
			for i := 0; i < n; i++ {
				select {
				case line := <-lines:
					c.Println(formatScanline(line))
				case <-time.After(2 * time.Second):
					c.Err(fmt.Errorf("no scanline for 2s"))
					return
				}
			}
		}),
	}

	// StatsCmd prints traffic counters
	StatsCmd = ishell.Cmd{
		Name: "stats",
		Help: "print traffic counters",
		Func: MustBeConnected(func(c *ishell.Context, s *Shell) {
			st := s.client.Stats()
			c.Printf("answers %d scanlines %d dropped %d bad %d crc errors %d\n",
				st.Answers, st.Scanlines, st.Dropped, st.BadFrames, st.CRCErrors)
			if s.sim != nil {
				ses := s.sim.Session()
				c.Printf("sim: %s frames %d skipped %d package %d adc reads %d\n",
					ses.State, ses.Frames, ses.Skipped, ses.PackageID, s.sim.Matrix.Reads())
			}
		}),
	}

	// PublishCmd toggles MQTT publishing
	PublishCmd = ishell.Cmd{
		Name: "publish",
		Help: "on|off [BROKER_URL] forward scanlines to MQTT",
		Func: MustBeConnected(func(c *ishell.Context, s *Shell) {
			if len(c.Args) < 1 {
				c.Err(fmt.Errorf("on or off required"))
				return
			}
			switch c.Args[0] {
			case "on":
				if len(c.Args) > 1 {
					s.Config.MQTT.Broker = c.Args[1]
				}
				if s.Config.MQTT.Broker == "" {
					c.Err(fmt.Errorf("no broker configured"))
					return
				}
				if err := s.StartPublishing(); err != nil {
					c.Err(err)
					return
				}
			case "off":
				s.StopPublishing()
			default:
				c.Err(fmt.Errorf("on or off required"))
				return
			}
			c.Println("OK")
		}),
	}

	// SaveCmd writes the host configuration file
	SaveCmd = ishell.Cmd{
		Name: "save",
		Help: "[FILE] save the host configuration",
		Func: func(c *ishell.Context) {
			s := ShellFrom(c)
			path := s.ConfigPath
			if len(c.Args) > 0 {
				path = c.Args[0]
			}
			if err := s.Config.Save(path); err != nil {
				c.Err(err)
				return
			}
			c.Println("saved", path)
		},
	}

	// TriggerCmd injects a trigger edge into the simulator
	TriggerCmd = ishell.Cmd{
		Name: "trigger",
		Help: "rising|falling (simulator only)",
		Func: mustBeSimulated(func(c *ishell.Context, dev *sim.Device) {
			if len(c.Args) < 1 {
				c.Err(fmt.Errorf("rising or falling required"))
				return
			}
			switch c.Args[0] {
			case "rising":
				dev.Trigger(core.EdgeRising)
			case "falling":
				dev.Trigger(core.EdgeFalling)
			default:
				c.Err(fmt.Errorf("rising or falling required"))
			}
		}),
	}

	// PressCmd adds a simulated contact
	PressCmd = ishell.Cmd{
		Name: "press",
		Help: "ROW COL PEAK [RADIUS] (simulator only)",
		Func: mustBeSimulated(func(c *ishell.Context, dev *sim.Device) {
			if len(c.Args) < 3 {
				c.Err(fmt.Errorf("ROW COL PEAK required"))
				return
			}
			var v [3]uint64
			for i := range v {
				n, err := strconv.ParseUint(c.Args[i], 10, 16)
				if err != nil {
					c.Err(err)
					return
				}
				v[i] = n
			}
			p := sim.Press{Row: uint8(v[0]), Column: uint8(v[1]), Peak: uint16(v[2]), Radius: 1}
			if len(c.Args) > 3 {
				r, err := strconv.ParseFloat(c.Args[3], 32)
				if err != nil {
					c.Err(err)
					return
				}
				p.Radius = float32(r)
			}
			dev.Matrix.Press(p)
		}),
	}

	// ReleaseCmd removes every simulated contact
	ReleaseCmd = ishell.Cmd{
		Name: "release",
		Help: "remove simulated contacts (simulator only)",
		Func: mustBeSimulated(func(c *ishell.Context, dev *sim.Device) {
			dev.Matrix.Release()
		}),
	}
)

func mustBeSimulated(fn func(c *ishell.Context, dev *sim.Device)) func(c *ishell.Context) {
	return func(c *ishell.Context) {
		s := ShellFrom(c)
		if s.sim == nil {
			c.Err(fmt.Errorf("not connected to the simulator"))
			return
		}
		fn(c, s.sim)
	}
}

func printStatus(c *ishell.Context, ctx context.Context, fn func(context.Context) (device.Status, error)) {
	st, err := fn(ctx)
	if err != nil {
		c.Err(err)
		return
	}
	c.Println(st)
}

func formatScanline(line protocol.Scanline) string {
	var b strings.Builder
	fmt.Fprintf(&b, "#%-6d row %2d t=%d:", line.PackageID, line.Row, line.Timestamp)
	for _, v := range line.Samples {
		if v == protocol.SampleFault {
			b.WriteString("    --")
			continue
		}
		fmt.Fprintf(&b, " %5d", v)
	}
	return b.String()
}

// settingSetters maps the names accepted by "set" to ScanSettings fields
var settingSetters = map[string]func(*core.ScanSettings, uint16){
	"x_size":            func(s *core.ScanSettings, v uint16) { s.XSize = uint8(v) },
	"y_size":            func(s *core.ScanSettings, v uint16) { s.YSize = uint8(v) },
	"shift_x":           func(s *core.ScanSettings, v uint16) { s.MatrixShiftX = v },
	"shift_y":           func(s *core.ScanSettings, v uint16) { s.MatrixShiftY = v },
	"samples":           func(s *core.ScanSettings, v uint16) { s.SamplesNumber = uint8(v) },
	"frame_rate":        func(s *core.ScanSettings, v uint16) { s.FrameRate = uint8(v) },
	"adc_delay":         func(s *core.ScanSettings, v uint16) { s.ADCDelay = uint8(v) },
	"reference_voltage": func(s *core.ScanSettings, v uint16) { s.ReferenceVoltage = uint8(v) },
}

// byteFields are stored in one byte on the wire
var byteFields = map[string]bool{
	"x_size": true, "y_size": true, "samples": true,
	"frame_rate": true, "adc_delay": true, "reference_voltage": true,
}

func settingFields() []string {
	names := make([]string, 0, len(settingSetters))
	for name := range settingSetters {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

func setField(s *core.ScanSettings, name, value string) error {
	set, ok := settingSetters[name]
	if !ok {
		return fmt.Errorf("unknown field %q", name)
	}
	bits := 16
	if byteFields[name] {
		bits = 8
	}
	v, err := strconv.ParseUint(value, 0, bits)
	if err != nil {
		return fmt.Errorf("invalid %s: %w", name, err)
	}
	set(s, uint16(v))
	return nil
}

func parseKind(name string) (filter.Kind, error) {
	for k := filter.None; k.Valid(); k++ {
		if k.String() == name {
			return k, nil
		}
	}
	if n, err := strconv.ParseUint(name, 10, 8); err == nil && filter.Kind(n).Valid() {
		return filter.Kind(n), nil
	}
	return 0, fmt.Errorf("unknown filter %q", name)
}

// applyFilterArgs sets the filter type and the parameters it takes
func applyFilterArgs(s *core.ScanSettings, args []string) error {
	kind, err := parseKind(args[0])
	if err != nil {
		return err
	}
	s.FilterType = uint8(kind)

	params := make([]uint16, 0, 2)
	for _, a := range args[1:] {
		v, err := strconv.ParseUint(a, 10, 16)
		if err != nil {
			return fmt.Errorf("invalid parameter %q: %w", a, err)
		}
		params = append(params, uint16(v))
	}
	if len(params) == 0 {
		return nil
	}

	switch kind {
	case filter.MovingAverage:
		s.MovAvrWindowSize = params[0]
	case filter.CumulativeAverage:
		s.MovAverCumulativeCoef = params[0]
	case filter.WeightedAverage:
		s.MovAverWeightedWindowSize = params[0]
	case filter.Median:
		s.MedianWindowSize = params[0]
	case filter.Kalman:
		s.KalmanErrMeasure = params[0]
		if len(params) > 1 {
			s.KalmanMeasureSpeed = params[1]
		}
	default:
		return fmt.Errorf("filter %s takes no parameters", kind)
	}
	return nil
}
