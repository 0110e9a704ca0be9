// Command fretcoach is a terminal demo of the practice/tuning core: run it
// in tuning mode for a live chromatic tuner, or practice mode to play a
// short canned exercise against the matcher.
package main

import (
	"flag"
	"fmt"
	"os"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"fretcoach"
	"fretcoach/audio"
	"fretcoach/practice"
	"fretcoach/tuner"
)

const (
	sampleRate = 44100
	frameSize  = 4096
)

var (
	inTuneStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("10"))
	closeStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("11"))
	sharpStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("9"))
	flatStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("12"))
	noteStyle   = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("14"))
	hitStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("10"))
	missStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("9"))
)

func main() {
	mode := flag.String("mode", "tuner", "demo mode: tuner or practice")
	preset := flag.String("preset", "Standard EADGBE", "tuning preset (tuner mode only)")
	device := flag.Int("device", audio.DefaultDeviceID, "input device id (-1 for system default)")
	flag.Parse()

	switch *mode {
	case "tuner":
		runTuner(*preset, *device)
	case "practice":
		runPractice(*device)
	default:
		fmt.Fprintf(os.Stderr, "unknown mode %q: want tuner or practice\n", *mode)
		os.Exit(1)
	}
}

func lookupPreset(name string) tuner.Preset {
	for _, p := range tuner.Presets {
		if p.Name == name {
			return p
		}
	}
	return tuner.StandardEADGBE
}

func runTuner(presetName string, deviceID int) {
	session, err := tuner.NewFromPreset(lookupPreset(presetName))
	if err != nil {
		fmt.Fprintln(os.Stderr, "tuner:", err)
		os.Exit(1)
	}

	updates := make(chan tuningMsg)
	var ts *fretcoach.TuningSession
	listener := func(current tuner.TuningString, hz, cents float64, inTune bool) {
		var level float32
		if ts != nil {
			level = ts.InputLevel()
		}
		updates <- tuningMsg{current: current, hz: hz, cents: cents, inTune: inTune, locked: session.Locked(), level: level}
	}

	onError := func(cause string, fatal bool) {
		if fatal {
			fmt.Fprintln(os.Stderr, "tuner: device error, session ended:", cause)
		}
	}
	ts, err = fretcoach.StartTuning(session, audio.DeviceInfo{ID: deviceID}, sampleRate, frameSize, listener, onError)
	if err != nil {
		fmt.Fprintln(os.Stderr, "tuner:", err)
		os.Exit(1)
	}
	defer ts.Stop()

	p := tea.NewProgram(newTunerModel(ts, updates))
	if _, err := p.Run(); err != nil {
		fmt.Fprintln(os.Stderr, "alas, there's been an error:", err)
		os.Exit(1)
	}
}

// practiceDemoNotes is a short canned exercise played against the matcher.
var practiceDemoNotes = []practice.ExpectedNote{
	{TimeMs: 0, MIDI: 64},
	{TimeMs: 1000, MIDI: 67},
	{TimeMs: 2000, MIDI: 71},
	{TimeMs: 3000, MIDI: 64},
}

const practiceDemoDurationMs = 4000

func runPractice(deviceID int) {
	cfg := practice.DefaultConfig()
	cfg.DeviceID = deviceID

	snapshots := make(chan practice.LiveScoreSnapshot, 1)
	events := make(chan practiceEventMsg, 8)

	onSnapshot := func(snap practice.LiveScoreSnapshot) {
		select {
		case snapshots <- snap:
		default:
		}
	}
	onResult := func(note practice.ExpectedNote, idx int, hit bool) {
		events <- practiceEventMsg{note: note, index: idx, hit: hit}
	}

	onError := func(cause string, fatal bool) {
		if fatal {
			fmt.Fprintln(os.Stderr, "practice: device error, session ended:", cause)
		}
	}

	session, err := fretcoach.StartPractice(cfg, onSnapshot, onResult, onError)
	if err != nil {
		fmt.Fprintln(os.Stderr, "practice:", err)
		os.Exit(1)
	}
	defer session.Stop()

	// StartPractice begins with an empty note list; load the demo
	// exercise and resume running with the same listeners.
	session.Reset(practiceDemoNotes, practiceDemoDurationMs)
	if err := session.Start(onSnapshot, onResult); err != nil {
		fmt.Fprintln(os.Stderr, "practice:", err)
		os.Exit(1)
	}

	p := tea.NewProgram(newPracticeModel(session, snapshots, events))
	if _, err := p.Run(); err != nil {
		fmt.Fprintln(os.Stderr, "alas, there's been an error:", err)
		os.Exit(1)
	}
}
