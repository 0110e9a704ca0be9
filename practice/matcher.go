// Package practice implements the practice-score matcher: given a
// time-sorted list of expected notes and a stream of detected pitches, it
// classifies each expected note as hit or missed exactly once and publishes
// a live score snapshot on a timer.
//
// Matcher state is owned by a single goroutine and mutated only in response
// to messages delivered over channels — the redesign the source material's
// ad-hoc mutex-guarded sets called for. There is no lock on the hot path.
package practice

import (
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"time"

	"fretcoach/detect"
	"fretcoach/internal/feedback"
	"fretcoach/pitch"
)

// Sentinel errors for the matcher's state machine.
var (
	ErrSessionAlreadyActive = errors.New("practice: session already active")
	ErrInvalidConfig        = errors.New("practice: invalid config")
)

// ExpectedNote is one note a practiced piece expects the player to produce.
type ExpectedNote struct {
	TimeMs       int64
	DurationMs   int64
	MIDI         int
	String       int
	Fret         int
	MeasureIndex int
	BeatIndex    int
}

// NoteName returns the expected note's pitch-class/octave name, e.g. "E4".
func (n ExpectedNote) NoteName() string {
	return pitch.NoteName(float64(n.MIDI))
}

// Config bounds the tolerances and audio parameters a practice session runs
// with. It is immutable once a session starts; reconfiguring requires a
// stop/start cycle.
type Config struct {
	DeviceID             int
	PitchToleranceCents  float64
	TimingToleranceMs    int64
	MinConfidence        float64
	SampleRateHz         float64
	FrameSize            int
	BinsPerOctave        int
	LatencyCompensationMs int64
}

// DefaultConfig returns the spec's documented defaults.
func DefaultConfig() Config {
	return Config{
		DeviceID:              -1,
		PitchToleranceCents:   50,
		TimingToleranceMs:     150,
		MinConfidence:         0.7,
		SampleRateHz:          44100,
		FrameSize:             4096,
		BinsPerOctave:         36,
		LatencyCompensationMs: 0,
	}
}

// Validate reports ErrInvalidConfig wrapping a description of the first
// out-of-range field found.
func (c Config) Validate() error {
	switch {
	case c.PitchToleranceCents < 0:
		return fmt.Errorf("%w: pitch_tolerance_cents must be >= 0", ErrInvalidConfig)
	case c.TimingToleranceMs < 0:
		return fmt.Errorf("%w: timing_tolerance_ms must be >= 0", ErrInvalidConfig)
	case c.MinConfidence < 0 || c.MinConfidence > 1:
		return fmt.Errorf("%w: min_confidence must be in [0,1]", ErrInvalidConfig)
	case c.SampleRateHz <= 0:
		return fmt.Errorf("%w: sample_rate_hz must be > 0", ErrInvalidConfig)
	case c.FrameSize <= 0:
		return fmt.Errorf("%w: frame_size must be > 0", ErrInvalidConfig)
	default:
		return nil
	}
}

// State is the matcher's run state.
type State int

const (
	Idle State = iota
	Running
	Paused
)

// LiveScoreSnapshot is an immutable summary of session progress.
type LiveScoreSnapshot struct {
	TotalNotesInSong  int
	NotesEncountered  int
	HitsOverall       int
	MissesOverall     int
	HitsSoFar         int
	MissesSoFar       int
	CurrentPositionMs int64
	TotalDurationMs   int64
	Feedback          []string
}

// OverallAccuracy is hits_overall / max(1, total_notes_in_song).
func (s LiveScoreSnapshot) OverallAccuracy() float64 {
	return float64(s.HitsOverall) / float64(max1(s.TotalNotesInSong))
}

// PartialAccuracy is hits_so_far / max(1, notes_encountered).
func (s LiveScoreSnapshot) PartialAccuracy() float64 {
	return float64(s.HitsSoFar) / float64(max1(s.NotesEncountered))
}

// Progress is min(1, current_position / total_duration).
func (s LiveScoreSnapshot) Progress() float64 {
	if s.TotalDurationMs <= 0 {
		return 0
	}
	p := float64(s.CurrentPositionMs) / float64(s.TotalDurationMs)
	if p > 1 {
		p = 1
	}
	return p
}

func max1(n int) int {
	if n < 1 {
		return 1
	}
	return n
}

// SnapshotListener receives periodic and on-demand snapshots.
type SnapshotListener func(LiveScoreSnapshot)

// ResultListener receives a hit/miss event for one expected note.
type ResultListener func(note ExpectedNote, index int, hit bool)

// Matcher owns the expected-note list, the per-note classification sets, and
// the session's run state. All public methods enqueue a message for the
// owning goroutine and block for its result; apart from the snapshot
// publisher's stop handle, which Start, Stop and Close manage on the
// caller's goroutine, no field is touched from any other goroutine.
type Matcher struct {
	cfg      Config
	cmds     chan func()
	done     chan struct{}
	snapshot SnapshotListener
	result   ResultListener

	expected   []ExpectedNote
	hit        []bool
	missed     []bool
	processed  []bool
	positionMs int64
	state      State
	feedback   feedback.Buffer
	totalMs    int64

	publisherCancel func()
}

// NewMatcher constructs an idle Matcher for cfg. The note list is loaded
// separately via LoadNotes.
func NewMatcher(cfg Config) (*Matcher, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	m := &Matcher{
		cfg:  cfg,
		cmds: make(chan func()),
		done: make(chan struct{}),
	}
	go m.loop()
	return m, nil
}

func (m *Matcher) loop() {
	for fn := range m.cmds {
		fn()
	}
	close(m.done)
}

// call runs fn on the owning goroutine and waits for it to complete.
func (m *Matcher) call(fn func()) {
	reply := make(chan struct{})
	m.cmds <- func() {
		fn()
		close(reply)
	}
	<-reply
}

// LoadNotes replaces the expected-note list, sorts it by TimeMs, and resets
// all classification sets and run state to idle. totalDurationMs is the
// song's total length, used for accuracy/progress denominators.
func (m *Matcher) LoadNotes(notes []ExpectedNote, totalDurationMs int64) {
	sorted := make([]ExpectedNote, len(notes))
	copy(sorted, notes)
	sort.SliceStable(sorted, func(i, j int) bool { return sorted[i].TimeMs < sorted[j].TimeMs })

	m.call(func() {
		m.expected = sorted
		m.hit = make([]bool, len(sorted))
		m.missed = make([]bool, len(sorted))
		m.processed = make([]bool, len(sorted))
		m.positionMs = 0
		m.state = Idle
		m.feedback.Reset()
		m.totalMs = totalDurationMs
	})
}

// Start transitions idle -> running. snapshot and result, if non-nil,
// replace any previously registered listeners; they are owned by this
// session and cleared on Stop.
func (m *Matcher) Start(snapshot SnapshotListener, result ResultListener) error {
	var err error
	m.call(func() {
		if m.state != Idle {
			err = ErrSessionAlreadyActive
			return
		}
		m.snapshot = snapshot
		m.result = result
		m.state = Running
	})
	if err != nil {
		return err
	}
	// A prior Start's publisher may still be running if the session went
	// through load_notes without an intervening Stop; make sure at most
	// one publisher goroutine is ever live for this matcher.
	m.stopPublisher()
	m.startPublisher()
	return nil
}

// Pause transitions running -> paused, retaining all state.
func (m *Matcher) Pause() {
	m.call(func() {
		if m.state == Running {
			m.state = Paused
		}
	})
}

// Resume transitions paused -> running.
func (m *Matcher) Resume() {
	m.call(func() {
		if m.state == Paused {
			m.state = Running
		}
	})
}

// Stop transitions running/paused -> idle, cancels the publisher, and
// returns the final snapshot.
func (m *Matcher) Stop() LiveScoreSnapshot {
	m.stopPublisher()
	var snap LiveScoreSnapshot
	m.call(func() {
		m.state = Idle
		snap = m.buildSnapshot()
		m.snapshot = nil
		m.result = nil
	})
	return snap
}

// PushFeedback appends msg to the feedback buffer without otherwise
// changing state. Used by the owning session to surface a device-level
// error (spec.md §7: "device-level errors display a feedback entry").
func (m *Matcher) PushFeedback(msg string) {
	m.call(func() {
		m.feedback.Push(msg)
	})
}

// Close permanently shuts down the matcher's owning goroutine. The matcher
// must not be used afterward.
func (m *Matcher) Close() {
	m.stopPublisher()
	close(m.cmds)
	<-m.done
}

// UpdatePosition sets the compensated playback position and runs the miss
// sweep. rawMs may be any value; the compensated position is clamped to 0.
func (m *Matcher) UpdatePosition(rawMs int64) {
	m.call(func() {
		m.positionMs = rawMs - m.cfg.LatencyCompensationMs
		if m.positionMs < 0 {
			m.positionMs = 0
		}
		m.sweepMisses()
	})
}

// HandleDetection applies the detection handler from the matching
// algorithm: scan expected notes in order, skipping processed ones, within
// the timing window, and classify the first pitch match as a hit.
func (m *Matcher) HandleDetection(d detect.DetectedNote) {
	m.call(func() {
		if m.state != Running {
			return
		}
		for i := range m.expected {
			if m.processed[i] {
				continue
			}
			dt := m.expected[i].TimeMs - m.positionMs
			if dt < -m.cfg.TimingToleranceMs {
				continue
			}
			if dt > m.cfg.TimingToleranceMs {
				break
			}
			centsDiff := absFloat(d.MIDI-float64(m.expected[i].MIDI)) * 100
			if centsDiff <= m.cfg.PitchToleranceCents {
				m.hit[i] = true
				m.processed[i] = true
				m.feedback.Push(fmt.Sprintf("✓ %s (+%.0f¢)", m.expected[i].NoteName(), centsDiff))
				if m.result != nil {
					m.result(m.expected[i], i, true)
				}
				return
			}
		}
	})
}

// sweepMisses classifies every unprocessed note whose hit window has closed
// as missed. Must run on the owning goroutine.
func (m *Matcher) sweepMisses() {
	for i := range m.expected {
		if m.processed[i] {
			continue
		}
		if m.positionMs > m.expected[i].TimeMs+m.cfg.TimingToleranceMs {
			m.missed[i] = true
			m.processed[i] = true
			m.feedback.Push(fmt.Sprintf("✗ Missed %s", m.expected[i].NoteName()))
			if m.result != nil {
				m.result(m.expected[i], i, false)
			}
		}
	}
}

// CurrentSnapshot fetches a snapshot synchronously.
func (m *Matcher) CurrentSnapshot() LiveScoreSnapshot {
	var snap LiveScoreSnapshot
	m.call(func() { snap = m.buildSnapshot() })
	return snap
}

// buildSnapshot must run on the owning goroutine.
func (m *Matcher) buildSnapshot() LiveScoreSnapshot {
	var hits, misses, encountered int
	for i := range m.expected {
		if m.processed[i] {
			encountered++
			if m.hit[i] {
				hits++
			} else if m.missed[i] {
				misses++
			}
		}
	}
	return LiveScoreSnapshot{
		TotalNotesInSong:  len(m.expected),
		NotesEncountered:  encountered,
		HitsOverall:       hits,
		MissesOverall:     misses,
		HitsSoFar:         hits,
		MissesSoFar:       misses,
		CurrentPositionMs: m.positionMs,
		TotalDurationMs:   m.totalMs,
		Feedback:          m.feedback.Entries(),
	}
}

const snapshotInterval = 100 * time.Millisecond

func (m *Matcher) startPublisher() {
	stop := make(chan struct{})
	stopped := make(chan struct{})
	m.publisherCancel = func() {
		close(stop)
		<-stopped
	}
	go func() {
		defer close(stopped)
		ticker := time.NewTicker(snapshotInterval)
		defer ticker.Stop()
		for {
			select {
			case <-stop:
				return
			case <-ticker.C:
				var running bool
				var snap LiveScoreSnapshot
				var listener SnapshotListener
				m.call(func() {
					running = m.state == Running
					if running {
						snap = m.buildSnapshot()
						listener = m.snapshot
					}
				})
				if running && listener != nil {
					publishSafely(listener, snap)
				}
			}
		}
	}()
}

func (m *Matcher) stopPublisher() {
	if m.publisherCancel != nil {
		m.publisherCancel()
		m.publisherCancel = nil
	}
}

// publishSafely invokes listener, recovering and logging any panic so one
// bad listener can't take down the publisher loop.
func publishSafely(listener SnapshotListener, snap LiveScoreSnapshot) {
	defer func() {
		if r := recover(); r != nil {
			slog.Error("practice: snapshot listener panicked", "recovered", r)
		}
	}()
	listener(snap)
}

func absFloat(f float64) float64 {
	if f < 0 {
		return -f
	}
	return f
}
