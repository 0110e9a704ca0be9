// Package fretcoach is the external entry point for the practice/tuning
// core: it wires AudioSource -> Detector -> {PracticeMatcher, TuningSession}
// behind two small facades, PracticeSession and TuningSession, so a host
// application never wires audio sources, detectors, matchers and tuners
// together itself; it only supplies their configuration and value types.
package fretcoach

import (
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"fretcoach/audio"
	"fretcoach/detect"
	"fretcoach/practice"
	"fretcoach/tuner"
)

// ListAudioDevices enumerates available input devices.
func ListAudioDevices() ([]audio.DeviceInfo, error) {
	return audio.ListDevices()
}

// audioSource is the subset of *audio.Source the facades depend on;
// overridden in tests so a session can be exercised without real hardware.
type audioSource interface {
	ReadFrame(buf []float32) error
	Close() error
	InputLevel() float32
}

var openAudioSource = func(deviceID int, sampleRate float64, frameSize int) (audioSource, error) {
	return audio.Open(deviceID, sampleRate, frameSize)
}

// LoadExpectedNotes builds an idle Matcher preloaded with notes, sorted and
// frozen. The caller is responsible for eventually calling Close on the
// returned matcher, or for discarding it in favor of StartPractice, which
// constructs and owns its own.
func LoadExpectedNotes(notes []practice.ExpectedNote, totalDurationMs int64) (*practice.Matcher, error) {
	m, err := practice.NewMatcher(practice.DefaultConfig())
	if err != nil {
		return nil, err
	}
	m.LoadNotes(notes, totalDurationMs)
	return m, nil
}

// PracticeSession ties an audio line, a detector, and a practice matcher
// into one lifetime: Stop releases all three, in order, regardless of which
// step failed.
type PracticeSession struct {
	mu       sync.Mutex
	source   audioSource
	detector *detect.Detector
	matcher  *practice.Matcher
	wg       sync.WaitGroup
	stopped  bool

	snapshot practice.SnapshotListener
	onError  ErrorListener
}

// StartPractice opens an audio line per cfg, starts a detector over it, and
// feeds detections into a fresh PracticeMatcher, which starts running with
// an empty note list. To practice a piece, call Reset with the notes and
// total duration, then Start to resume running.
// onError, if non-nil, receives every detector-level error; fatal is set
// when the line is gone for good (spec.md §7's DetectorFatal), in which
// case the matcher is stopped and snapshot, if non-nil, receives one final
// snapshot carrying a feedback entry describing the failure.
func StartPractice(cfg practice.Config, snapshot practice.SnapshotListener, result practice.ResultListener, onError ErrorListener) (*PracticeSession, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	source, err := openAudioSource(cfg.DeviceID, cfg.SampleRateHz, cfg.FrameSize)
	if err != nil {
		if errors.Is(err, audio.ErrNoDevice) {
			return nil, fmt.Errorf("%w: %v", ErrNoDevice, err)
		}
		return nil, fmt.Errorf("%w: %v", ErrDeviceUnavailable, err)
	}

	matcher, err := practice.NewMatcher(cfg)
	if err != nil {
		source.Close()
		return nil, err
	}

	s := &PracticeSession{source: source, matcher: matcher, snapshot: snapshot, onError: onError}

	onDetectError := func(cause string, fatal bool) {
		if !fatal {
			slog.Warn("fretcoach: detector error", "cause", cause)
			if listener := s.errorListener(); listener != nil {
				listener(cause, false)
			}
			return
		}
		slog.Error("fretcoach: detector fatal error, ending practice session", "cause", cause)
		s.matcher.PushFeedback(fmt.Sprintf("⚠ device error: %s", cause))
		final := s.matcher.Stop()
		if listener := s.snapshotListener(); listener != nil {
			listener(final)
		}
		if listener := s.errorListener(); listener != nil {
			listener(cause, true)
		}
	}
	s.detector = detect.New(source, cfg.SampleRateHz, cfg.FrameSize, cfg.MinConfidence, onDetectError)
	s.detector.Start()

	if startErr := matcher.Start(snapshot, result); startErr != nil {
		s.detector.Stop()
		source.Close()
		matcher.Close()
		if errors.Is(startErr, practice.ErrSessionAlreadyActive) {
			return nil, ErrSessionAlreadyActive
		}
		return nil, startErr
	}

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		for note := range s.detector.Notes() {
			s.matcher.HandleDetection(note)
		}
	}()

	return s, nil
}

func (s *PracticeSession) snapshotListener() practice.SnapshotListener {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.snapshot
}

func (s *PracticeSession) errorListener() ErrorListener {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.onError
}

// UpdatePlaybackPosition forwards the host's playback-position tick to the
// matcher, which runs its miss sweep.
func (s *PracticeSession) UpdatePlaybackPosition(ms int64) {
	s.matcher.UpdatePosition(ms)
}

// Start transitions the matcher from idle back to running, e.g. after
// Reset loads a new note list. The audio line and detector opened by
// StartPractice are reused unchanged; only the matcher's bookkeeping and
// its snapshot publisher restart.
func (s *PracticeSession) Start(snapshot practice.SnapshotListener, result practice.ResultListener) error {
	if err := s.matcher.Start(snapshot, result); err != nil {
		if errors.Is(err, practice.ErrSessionAlreadyActive) {
			return ErrSessionAlreadyActive
		}
		return err
	}
	s.mu.Lock()
	s.snapshot = snapshot
	s.mu.Unlock()
	return nil
}

// Pause moves the matcher to paused and retains its state. The detector and
// audio line keep running; detections that arrive while paused are ignored
// by the matcher.
func (s *PracticeSession) Pause() error {
	s.matcher.Pause()
	return nil
}

// Resume restarts the matcher's running state. The detector and audio line
// were never stopped by Pause, so resuming is always available here — the
// spec's "may fail with DeviceUnavailable" case applies to an implementer
// that tears the line down on pause, which this one does not.
func (s *PracticeSession) Resume() error {
	s.matcher.Resume()
	return nil
}

// Stop tears the session down: stop the detector, join its forwarding
// goroutine, close the audio line, and return the final snapshot. Safe to
// call more than once.
func (s *PracticeSession) Stop() practice.LiveScoreSnapshot {
	s.mu.Lock()
	if s.stopped {
		s.mu.Unlock()
		return s.matcher.CurrentSnapshot()
	}
	s.stopped = true
	s.mu.Unlock()

	snap := s.matcher.Stop()

	done := make(chan struct{})
	go func() {
		s.detector.Stop()
		s.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(500 * time.Millisecond):
		slog.Warn("fretcoach: detector worker did not exit within the shutdown cap")
	}

	if err := s.source.Close(); err != nil {
		slog.Warn("fretcoach: close audio source", "err", err)
	}
	s.matcher.Close()
	return snap
}

// Reset reloads the expected-note list, returning the matcher to idle.
func (s *PracticeSession) Reset(notes []practice.ExpectedNote, totalDurationMs int64) {
	s.matcher.LoadNotes(notes, totalDurationMs)
}

// TuningSession wires an audio line, a detector, and a tuner.Session. The
// detector's min-confidence floor is fixed low since tuning cares about
// pitch tracking continuity more than discarding uncertain frames.
const tuningMinConfidence = 0.3

type TuningSession struct {
	mu       sync.Mutex
	source   audioSource
	detector *detect.Detector
	session  *tuner.Session
	wg       sync.WaitGroup
	stopped  bool
}

// StartTuning opens device and drives session from live detections,
// invoking update after each one. onError, if non-nil, receives every
// detector-level error; fatal is set when the line is gone for good
// (spec.md §7's DetectorFatal), signalling the session has ended — the
// caller is still responsible for calling Stop to release the line.
func StartTuning(session *tuner.Session, device audio.DeviceInfo, sampleRate float64, frameSize int, update tuner.UpdateListener, onError ErrorListener) (*TuningSession, error) {
	source, err := openAudioSource(device.ID, sampleRate, frameSize)
	if err != nil {
		if errors.Is(err, audio.ErrNoDevice) {
			return nil, fmt.Errorf("%w: %v", ErrNoDevice, err)
		}
		return nil, fmt.Errorf("%w: %v", ErrDeviceUnavailable, err)
	}

	onDetectError := func(cause string, fatal bool) {
		if !fatal {
			slog.Warn("fretcoach: tuner detector error", "cause", cause)
			if onError != nil {
				onError(cause, false)
			}
			return
		}
		slog.Error("fretcoach: tuner detector fatal error, ending tuning session", "cause", cause)
		if onError != nil {
			onError(cause, true)
		}
	}
	detector := detect.New(source, sampleRate, frameSize, tuningMinConfidence, onDetectError)
	detector.Start()

	t := &TuningSession{source: source, detector: detector, session: session}
	t.wg.Add(1)
	go func() {
		defer t.wg.Done()
		for note := range detector.Notes() {
			cents, inTune := session.Update(note.FrequencyHz)
			if update != nil {
				update(session.Current(), note.FrequencyHz, cents, inTune)
			}
		}
	}()

	return t, nil
}

// Stop tears the tuning session's audio/detector pair down. Joins the
// detector worker with the same 500 ms cap as PracticeSession.Stop, then
// force-closes the line regardless of whether the join completed in time.
func (t *TuningSession) Stop() {
	t.mu.Lock()
	if t.stopped {
		t.mu.Unlock()
		return
	}
	t.stopped = true
	t.mu.Unlock()

	done := make(chan struct{})
	go func() {
		t.detector.Stop()
		t.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(500 * time.Millisecond):
		slog.Warn("fretcoach: tuner detector worker did not exit within the shutdown cap")
	}

	if err := t.source.Close(); err != nil {
		slog.Warn("fretcoach: close tuning audio source", "err", err)
	}
}

// Next moves the tuner's cursor forward without marking tuned.
func (t *TuningSession) Next() { t.session.Next() }

// Previous moves the tuner's cursor back without marking tuned.
func (t *TuningSession) Previous() { t.session.Previous() }

// ConfirmAndAdvance locks the current string if the hold window has
// elapsed and advances the cursor.
func (t *TuningSession) ConfirmAndAdvance() bool { return t.session.ConfirmAndAdvance() }

// InputLevel returns the most recent pre-detection RMS mic level
// (0.0-1.0), suitable for driving a real-time level meter in a host UI.
func (t *TuningSession) InputLevel() float32 { return t.source.InputLevel() }
