package main

import (
	"fmt"
	"time"

	tea "github.com/charmbracelet/bubbletea"

	"fretcoach"
	"fretcoach/practice"
)

const practiceTickInterval = 50 * time.Millisecond

type practiceEventMsg struct {
	note  practice.ExpectedNote
	index int
	hit   bool
}

type practiceModel struct {
	session   *fretcoach.PracticeSession
	snapshots chan practice.LiveScoreSnapshot
	events    chan practiceEventMsg
	positionMs int64
	snapshot  practice.LiveScoreSnapshot
	lastEvent string
}

func newPracticeModel(session *fretcoach.PracticeSession, snapshots chan practice.LiveScoreSnapshot, events chan practiceEventMsg) practiceModel {
	return practiceModel{session: session, snapshots: snapshots, events: events}
}

type tickMsg struct{}

func waitForSnapshot(ch chan practice.LiveScoreSnapshot) tea.Cmd {
	return func() tea.Msg { return <-ch }
}

func waitForEvent(ch chan practiceEventMsg) tea.Cmd {
	return func() tea.Msg { return <-ch }
}

func (m practiceModel) Init() tea.Cmd {
	return tea.Batch(waitForSnapshot(m.snapshots), waitForEvent(m.events), tickPlayback())
}

func tickPlayback() tea.Cmd {
	return tea.Tick(practiceTickInterval, func(time.Time) tea.Msg { return tickMsg{} })
}

func (m practiceModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		switch msg.String() {
		case "q", "ctrl+c":
			return m, tea.Quit
		case " ":
			m.session.Pause()
		case "r":
			m.session.Resume()
		}
		return m, nil
	case practice.LiveScoreSnapshot:
		m.snapshot = msg
		return m, waitForSnapshot(m.snapshots)
	case practiceEventMsg:
		if msg.hit {
			m.lastEvent = hitStyle.Render(fmt.Sprintf("hit %s", msg.note.NoteName()))
		} else {
			m.lastEvent = missStyle.Render(fmt.Sprintf("miss %s", msg.note.NoteName()))
		}
		return m, waitForEvent(m.events)
	case tickMsg:
		m.positionMs += practiceTickInterval.Milliseconds()
		m.session.UpdatePlaybackPosition(m.positionMs)
		return m, tickPlayback()
	}
	return m, nil
}

func (m practiceModel) View() string {
	return fmt.Sprintf(
		"position %dms  hits %d  misses %d  accuracy %.0f%%\nlast: %s\n[space] pause  [r] resume  [q] quit\n",
		m.positionMs, m.snapshot.HitsOverall, m.snapshot.MissesOverall, m.snapshot.PartialAccuracy()*100, m.lastEvent,
	)
}
