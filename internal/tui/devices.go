// SPDX-License-Identifier: MIT

// Package tui is the interactive input device picker behind
// `list --interactive`.
package tui

import (
	"fmt"
	"strings"

	"github.com/charmbracelet/bubbles/key"
	"github.com/charmbracelet/bubbles/viewport"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"audiopipe/internal/capture"
)

var (
	titleStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#FFFDF5")).
			Background(lipgloss.Color("#25A065")).
			Padding(0, 1).
			Bold(true)

	infoStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#FFFDF5"))

	highlightStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#25A065")).
			Bold(true)
)

var keys = struct {
	quit, up, down, enter, back key.Binding
}{
	quit:  key.NewBinding(key.WithKeys("q", "ctrl+c")),
	up:    key.NewBinding(key.WithKeys("up", "k")),
	down:  key.NewBinding(key.WithKeys("down", "j")),
	enter: key.NewBinding(key.WithKeys("enter")),
	back:  key.NewBinding(key.WithKeys("esc")),
}

// commonRates are offered as capture targets alongside the device's native rate.
var commonRates = []int{16000, 22050, 32000, 44100, 48000, 96000}

// ScreenType defines which screen is currently active
type ScreenType int

const (
	ListScreen ScreenType = iota
	ConfigScreen
)

// Selection is the device and target rate chosen by the user.
type Selection struct {
	Device     capture.DeviceInfo
	SampleRate int
}

// Flags renders the selection as command line flags.
func (s Selection) Flags() string {
	return fmt.Sprintf("--device %d --sample-rate %d", s.Device.Index, s.SampleRate)
}

// LoadFunc returns the input devices to show.
type LoadFunc func() ([]capture.DeviceInfo, error)

// DeviceListModel is the Bubble Tea model for picking an input device.
type DeviceListModel struct {
	load          LoadFunc
	devices       []capture.DeviceInfo
	selectedIndex int
	viewport      viewport.Model
	ready         bool
	err           error
	activeScreen  ScreenType

	availableRates []int
	rateIndex      int
	selection      *Selection
}

type devicesMsg struct {
	devices []capture.DeviceInfo
}

type errMsg struct {
	err error
}

// NewDeviceListModel creates a model that loads devices with load.
func NewDeviceListModel(load LoadFunc) DeviceListModel {
	return DeviceListModel{load: load, activeScreen: ListScreen}
}

func (m DeviceListModel) Init() tea.Cmd {
	return m.fetchDevices
}

func (m DeviceListModel) fetchDevices() tea.Msg {
	devices, err := m.load()
	if err != nil {
		return errMsg{err}
	}
	return devicesMsg{devices}
}

// Selection returns the confirmed choice, if any.
func (m DeviceListModel) Selection() (Selection, bool) {
	if m.selection == nil {
		return Selection{}, false
	}
	return *m.selection, true
}

func (m DeviceListModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	var cmd tea.Cmd

	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		if !m.ready {
			m.viewport = viewport.New(msg.Width, msg.Height-4)
			m.ready = true
		} else {
			m.viewport.Width = msg.Width
			m.viewport.Height = msg.Height - 4
		}
		m.refresh()

	case devicesMsg:
		m.devices = msg.devices
		m.refresh()

	case errMsg:
		m.err = msg.err

	case tea.KeyMsg:
		if key.Matches(msg, keys.quit) {
			return m, tea.Quit
		}
		switch m.activeScreen {
		case ListScreen:
			switch {
			case key.Matches(msg, keys.up):
				if m.selectedIndex > 0 {
					m.selectedIndex--
				}
			case key.Matches(msg, keys.down):
				if m.selectedIndex < len(m.devices)-1 {
					m.selectedIndex++
				}
			case key.Matches(msg, keys.enter):
				if len(m.devices) > 0 {
					m.openConfig()
				}
			}
		case ConfigScreen:
			switch {
			case key.Matches(msg, keys.back):
				m.activeScreen = ListScreen
			case key.Matches(msg, keys.up):
				if m.rateIndex > 0 {
					m.rateIndex--
				}
			case key.Matches(msg, keys.down):
				if m.rateIndex < len(m.availableRates)-1 {
					m.rateIndex++
				}
			case key.Matches(msg, keys.enter):
				m.selection = &Selection{
					Device:     m.devices[m.selectedIndex],
					SampleRate: m.availableRates[m.rateIndex],
				}
				return m, tea.Quit
			}
		}
		m.refresh()
		// Keys are handled here; the viewport only scrolls on resize.
		return m, nil
	}

	m.viewport, cmd = m.viewport.Update(msg)
	return m, cmd
}

// openConfig offers the device's native rate first, then the common rates.
func (m *DeviceListModel) openConfig() {
	native := int(m.devices[m.selectedIndex].DefaultSampleRate)
	m.availableRates = append(m.availableRates[:0], native)
	for _, r := range commonRates {
		if r != native {
			m.availableRates = append(m.availableRates, r)
		}
	}
	m.rateIndex = 0
	m.activeScreen = ConfigScreen
}

func (m *DeviceListModel) refresh() {
	if !m.ready {
		return
	}
	if m.activeScreen == ConfigScreen {
		m.viewport.SetContent(m.renderDeviceConfig())
	} else {
		m.viewport.SetContent(m.renderDevices())
	}
}

func (m DeviceListModel) View() string {
	if !m.ready {
		return "Initializing..."
	}
	if m.err != nil {
		return fmt.Sprintf("Error: %v\n\nPress q to exit.", m.err)
	}

	var title, help string
	if m.activeScreen == ListScreen {
		title = titleStyle.Render("Input Devices")
		help = infoStyle.Render("↑/↓: Navigate • Enter: Configure • q: Quit")
	} else {
		title = titleStyle.Render("Capture Configuration")
		help = infoStyle.Render("↑/↓: Change Rate • Enter: Select • Esc: Back • q: Quit")
	}
	return fmt.Sprintf("%s\n\n%s\n\n%s", title, m.viewport.View(), help)
}

func (m DeviceListModel) renderDevices() string {
	if len(m.devices) == 0 {
		return "No input devices found."
	}
	var sb strings.Builder
	for i, d := range m.devices {
		info := fmt.Sprintf("[%d] %s (%s, %s)\n", d.Index, d.Name, d.Kind(), d.HostAPIName)
		info += fmt.Sprintf("    Input channels: %d, Output channels: %d\n", d.MaxInputChannels, d.MaxOutputChannels)
		info += fmt.Sprintf("    Native sample rate: %.0f Hz, input latency: %s / %s\n",
			d.DefaultSampleRate, d.InputLatency(true), d.InputLatency(false))
		if i == m.selectedIndex {
			info = highlightStyle.Render(info)
		}
		sb.WriteString(info)
		sb.WriteString("\n")
	}
	return sb.String()
}

func (m DeviceListModel) renderDeviceConfig() string {
	var sb strings.Builder
	d := m.devices[m.selectedIndex]
	fmt.Fprintf(&sb, "Configure Device: %s\n\n", d.Name)
	sb.WriteString("Target sample rate:\n")
	for i, rate := range m.availableRates {
		marker, suffix := " ", ""
		if i == m.rateIndex {
			marker = "▶"
		}
		if i == 0 {
			suffix = " (native)"
		}
		line := fmt.Sprintf("  %s %d Hz%s\n", marker, rate, suffix)
		if i == m.rateIndex {
			line = highlightStyle.Render(line)
		}
		sb.WriteString(line)
	}
	return sb.String()
}

// Run shows the picker and returns the user's selection, if one was made.
func Run(load LoadFunc) (Selection, bool, error) {
	p := tea.NewProgram(NewDeviceListModel(load), tea.WithAltScreen())
	final, err := p.Run()
	if err != nil {
		return Selection{}, false, err
	}
	sel, ok := final.(DeviceListModel).Selection()
	return sel, ok, nil
}
