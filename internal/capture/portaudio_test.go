// SPDX-License-Identifier: MIT
package capture

import (
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/gordonklaus/portaudio"
)

// stubPortAudio replaces the PortAudio seams for the duration of a test.
func stubPortAudio(t *testing.T, devices []*portaudio.DeviceInfo, apis []*portaudio.HostApiInfo) (inits, terms *int) {
	t.Helper()
	origInit, origTerm := paInitializeFunc, paTerminateFunc
	origDevices, origApis, origDefault := paDevicesFunc, paHostApisFunc, paDefaultInputFunc
	t.Cleanup(func() {
		paInitializeFunc, paTerminateFunc = origInit, origTerm
		paDevicesFunc, paHostApisFunc, paDefaultInputFunc = origDevices, origApis, origDefault
	})

	inits, terms = new(int), new(int)
	paInitializeFunc = func() error { *inits++; return nil }
	paTerminateFunc = func() error { *terms++; return nil }
	paDevicesFunc = func() ([]*portaudio.DeviceInfo, error) { return devices, nil }
	paHostApisFunc = func() ([]*portaudio.HostApiInfo, error) { return apis, nil }
	paDefaultInputFunc = func() (*portaudio.DeviceInfo, error) {
		for _, d := range devices {
			if d.MaxInputChannels > 0 {
				return d, nil
			}
		}
		return nil, fmt.Errorf("no input")
	}
	return inits, terms
}

func testHostDevices() ([]*portaudio.DeviceInfo, []*portaudio.HostApiInfo) {
	coreAudio := &portaudio.HostApiInfo{Name: "Core Audio"}
	jack := &portaudio.HostApiInfo{Name: "JACK"}
	devices := []*portaudio.DeviceInfo{
		{Index: 0, Name: "Mic", MaxInputChannels: 1, DefaultSampleRate: 44100, HostApi: coreAudio,
			DefaultLowInputLatency: 3 * time.Millisecond, DefaultHighInputLatency: 12 * time.Millisecond},
		{Index: 1, Name: "Speakers", MaxOutputChannels: 2, DefaultSampleRate: 48000, HostApi: coreAudio},
		{Index: 2, Name: "system", MaxInputChannels: 2, MaxOutputChannels: 2, DefaultSampleRate: 48000, HostApi: jack},
	}
	return devices, []*portaudio.HostApiInfo{coreAudio, jack}
}

func TestPortAudioDevices(t *testing.T) {
	devices, apis := testHostDevices()
	stubPortAudio(t, devices, apis)

	b, err := NewPortAudioBackend()
	if err != nil {
		t.Fatal(err)
	}
	defer b.Close()

	got, err := DiscoverInputDevices(b, false)
	if err != nil {
		t.Fatalf("DiscoverInputDevices() error = %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("got %d input devices, want 2", len(got))
	}
	if got[0].HostAPI != 0 || got[0].HostAPIName != "Core Audio" {
		t.Errorf("Mic host API = %d %q", got[0].HostAPI, got[0].HostAPIName)
	}
	if got[1].HostAPI != 1 || got[1].HostAPIName != "JACK" {
		t.Errorf("system host API = %d %q", got[1].HostAPI, got[1].HostAPIName)
	}
	if got[0].InputLatency(true) != 3*time.Millisecond || got[0].InputLatency(false) != 12*time.Millisecond {
		t.Errorf("latencies not carried over: %+v", got[0])
	}
}

func TestPortAudioRefreshReinitializes(t *testing.T) {
	devices, apis := testHostDevices()
	inits, terms := stubPortAudio(t, devices, apis)

	b, err := NewPortAudioBackend()
	if err != nil {
		t.Fatal(err)
	}
	if _, err := b.Devices(false); err != nil {
		t.Fatal(err)
	}
	if *inits != 1 || *terms != 0 {
		t.Errorf("cached query: inits=%d terms=%d, want 1 and 0", *inits, *terms)
	}
	if _, err := b.Devices(true); err != nil {
		t.Fatal(err)
	}
	if *inits != 2 || *terms != 1 {
		t.Errorf("refresh: inits=%d terms=%d, want 2 and 1", *inits, *terms)
	}

	_ = b.Close()
	_ = b.Close()
	if *terms != 2 {
		t.Errorf("Close() twice terminated %d times in total, want 2", *terms)
	}
}

func TestPortAudioDevicesError(t *testing.T) {
	devices, apis := testHostDevices()
	stubPortAudio(t, devices, apis)
	paDevicesFunc = func() ([]*portaudio.DeviceInfo, error) {
		return nil, fmt.Errorf("mock error")
	}

	b, _ := NewPortAudioBackend()
	defer b.Close()
	_, err := DiscoverInputDevices(b, false)
	if err == nil || !strings.Contains(err.Error(), "mock error") {
		t.Errorf("expected mock error, got %v", err)
	}
}

func TestPortAudioDefaultInput(t *testing.T) {
	devices, apis := testHostDevices()
	stubPortAudio(t, devices, apis)

	b, _ := NewPortAudioBackend()
	defer b.Close()
	d, err := b.DefaultInputDevice()
	if err != nil {
		t.Fatal(err)
	}
	if d.Name != "Mic" || d.DefaultSampleRate != 44100 {
		t.Errorf("DefaultInputDevice() = %+v", d)
	}
}
