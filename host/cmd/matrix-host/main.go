package main

import (
	"flag"
	"os"

	"github.com/golang/glog"

	"matrixscan/core"
	"matrixscan/host/config"
)

var (
	configPath = flag.String("config", "matrix-host.yaml", "Host configuration file")
	devicePath = flag.String("device", "", "Serial device path, overrides the config file")
	simulate   = flag.Bool("sim", false, "Use the simulated device")
	connect    = flag.Bool("connect", true, "Connect on start")
)

func main() {
	flag.Parse()
	defer glog.Flush()

	cfg, err := config.Load(*configPath)
	if err != nil {
		glog.Exitf("config: %v", err)
	}
	if *devicePath != "" {
		cfg.Serial.Port = *devicePath
	}
	if *simulate {
		cfg.Sim.Enabled = true
	}

	// firmware debug output of the simulator
	core.SetDebugWriter(func(msg string) { glog.V(1).Info(msg) })
	core.SetDebugEnabled(true)

	s := NewShell(cfg, *configPath)
	defer s.Disconnect()

	if *connect {
		if err := s.Connect(); err != nil {
			glog.Errorf("connect: %v", err)
		}
	}

	if args := flag.Args(); len(args) > 0 {
		if err := s.Shell.Process(args...); err != nil {
			glog.Errorf("%v", err)
			os.Exit(1)
		}
		return
	}
	s.Shell.Run()
}
