package serial

import (
	"fmt"
	"sort"

	bugst "go.bug.st/serial"
	"go.bug.st/serial/enumerator"
)

// Ports lists the serial ports present on this machine, likely scanner
// ports first.
func Ports() ([]PortInfo, error) {
	names, err := bugst.GetPortsList()
	if err != nil {
		return nil, fmt.Errorf("failed to list serial ports: %w", err)
	}

	usb := make(map[string]bool)
	if details, err := enumerator.GetDetailedPortsList(); err == nil {
		for _, d := range details {
			usb[d.Name] = d.IsUSB
		}
	}

	result := make([]PortInfo, 0, len(names))
	for _, name := range names {
		result = append(result, PortInfo{
			Name:   name,
			USB:    usb[name],
			Likely: likelyScanner(name),
		})
	}
	sortPorts(result)
	return result, nil
}

func sortPorts(ports []PortInfo) {
	sort.SliceStable(ports, func(i, j int) bool {
		if ports[i].Likely != ports[j].Likely {
			return ports[i].Likely
		}
		return ports[i].Name < ports[j].Name
	})
}

// Detect returns the first port that looks like the scanner.
func Detect() (string, error) {
	ports, err := Ports()
	if err != nil {
		return "", err
	}
	for _, p := range ports {
		if p.Likely || p.USB {
			return p.Name, nil
		}
	}
	return "", fmt.Errorf("no scanner port found among %d ports", len(ports))
}
