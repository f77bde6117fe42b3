// SPDX-License-Identifier: MIT
package capture

import (
	"fmt"
	"io"
	"time"
)

// DeviceInfo describes one audio device as reported by a Backend.
type DeviceInfo struct {
	Index             int
	Name              string
	HostAPI           int // Index into the backend's host API list, -1 if unknown
	HostAPIName       string
	MaxInputChannels  int
	MaxOutputChannels int

	DefaultLowInputLatency   time.Duration
	DefaultHighInputLatency  time.Duration
	DefaultLowOutputLatency  time.Duration
	DefaultHighOutputLatency time.Duration

	DefaultSampleRate float64 // Native rate
}

// IsInput reports whether the device can capture.
func (d DeviceInfo) IsInput() bool {
	return d.MaxInputChannels > 0
}

// Kind returns "Input", "Output" or "Input/Output".
func (d DeviceInfo) Kind() string {
	switch {
	case d.MaxInputChannels > 0 && d.MaxOutputChannels > 0:
		return "Input/Output"
	case d.MaxInputChannels > 0:
		return "Input"
	case d.MaxOutputChannels > 0:
		return "Output"
	default:
		return "None"
	}
}

// InputLatency returns the low or high default input latency.
func (d DeviceInfo) InputLatency(low bool) time.Duration {
	if low {
		return d.DefaultLowInputLatency
	}
	return d.DefaultHighInputLatency
}

// FilterInputDevices keeps only devices with at least one input channel,
// preserving order.
func FilterInputDevices(raw []DeviceInfo) []DeviceInfo {
	out := make([]DeviceInfo, 0, len(raw))
	for _, d := range raw {
		if d.IsInput() {
			out = append(out, d)
		}
	}
	return out
}

// DiscoverInputDevices queries the backend and returns its input devices.
// refresh forces the backend to re-enumerate hardware instead of returning
// a cached list.
func DiscoverInputDevices(b Backend, refresh bool) ([]DeviceInfo, error) {
	raw, err := b.Devices(refresh)
	if err != nil {
		return nil, fmt.Errorf("failed to enumerate devices: %w", err)
	}
	return FilterInputDevices(raw), nil
}

// PrintDevices writes a human-readable device listing to w.
func PrintDevices(w io.Writer, devices []DeviceInfo) {
	fmt.Fprintf(w, "\nAvailable Input Devices\n\n")
	if len(devices) == 0 {
		fmt.Fprintf(w, "  (none)\n")
		return
	}
	for _, d := range devices {
		fmt.Fprintf(w, "[%d] %s (%s)\n", d.Index, d.Name, d.Kind())
		fmt.Fprintf(w, "    Host API: %s (%d)\n", d.HostAPIName, d.HostAPI)
		fmt.Fprintf(w, "    Input channels: %d, Output channels: %d\n", d.MaxInputChannels, d.MaxOutputChannels)
		fmt.Fprintf(w, "    Native sample rate: %.0f Hz\n", d.DefaultSampleRate)
		fmt.Fprintf(w, "    Input latency: Low=%.2fms, High=%.2fms\n",
			d.DefaultLowInputLatency.Seconds()*1000,
			d.DefaultHighInputLatency.Seconds()*1000)
		fmt.Fprintf(w, "    Output latency: Low=%.2fms, High=%.2fms\n",
			d.DefaultLowOutputLatency.Seconds()*1000,
			d.DefaultHighOutputLatency.Seconds()*1000)
		fmt.Fprintln(w)
	}
}
