package main

import (
	"fmt"
	"strings"

	tea "github.com/charmbracelet/bubbletea"

	"fretcoach"
	"fretcoach/tuner"
)

// tuningMsg carries one tuning update from the session into the bubbletea
// event loop.
type tuningMsg struct {
	current tuner.TuningString
	hz      float64
	cents   float64
	inTune  bool
	locked  bool
	level   float32
}

type tunerModel struct {
	session *fretcoach.TuningSession
	updates chan tuningMsg
	last    tuningMsg
	has     bool
	done    bool
}

func newTunerModel(session *fretcoach.TuningSession, updates chan tuningMsg) tunerModel {
	return tunerModel{session: session, updates: updates}
}

func listenForTuning(updates chan tuningMsg) tea.Cmd {
	return func() tea.Msg {
		return <-updates
	}
}

func (m tunerModel) Init() tea.Cmd {
	return listenForTuning(m.updates)
}

func (m tunerModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		switch msg.String() {
		case "q", "ctrl+c":
			return m, tea.Quit
		case "n":
			m.session.Next()
		case "p":
			m.session.Previous()
		case "enter":
			m.session.ConfirmAndAdvance()
		}
		return m, nil
	case tuningMsg:
		m.last = msg
		m.has = true
		return m, listenForTuning(m.updates)
	}
	return m, nil
}

func (m tunerModel) View() string {
	if !m.has {
		return "Listening...\n"
	}
	meter := tuningMeter(m.last.cents)
	status := tuningStatus(m.last.cents, m.last.locked)
	styledNote := noteStyle.Render(m.last.current.NoteName)
	return fmt.Sprintf("%-4s %s %s | %7.2f Hz | lvl %s\n[n] next  [p] previous  [enter] confirm  [q] quit\n",
		styledNote, meter, status, m.last.hz, levelMeter(m.last.level))
}

func levelMeter(level float32) string {
	const bars = 10
	filled := int(level * bars)
	if filled > bars {
		filled = bars
	}
	if filled < 0 {
		filled = 0
	}
	return "[" + strings.Repeat("#", filled) + strings.Repeat(".", bars-filled) + "]"
}

func tuningMeter(cents float64) string {
	switch {
	case cents < -20:
		return "[<<<<|    ]"
	case cents < -10:
		return "[ <<<|    ]"
	case cents < -5:
		return "[  <<|    ]"
	case cents <= 5:
		return "[    |    ]"
	case cents <= 10:
		return "[    |>>  ]"
	case cents <= 20:
		return "[    |>>> ]"
	default:
		return "[    |>>>>]"
	}
}

func tuningStatus(cents float64, locked bool) string {
	abs := cents
	if abs < 0 {
		abs = -abs
	}
	switch {
	case locked:
		return inTuneStyle.Render("✓ LOCKED")
	case abs <= 5:
		return inTuneStyle.Render("in tune")
	case abs <= 15:
		return closeStyle.Render("close")
	case cents < 0:
		return flatStyle.Render("too low")
	default:
		return sharpStyle.Render("too high")
	}
}
