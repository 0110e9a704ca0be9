// Package tuner implements the string-by-string chromatic tuner: walk the
// instrument lowest-pitched string to highest, report live cents deviation,
// and confirm a lock once the detected pitch has sat within tolerance for a
// sustained hold window.
package tuner

import (
	"errors"
	"math"
	"strconv"
	"time"
)

// ErrEmptySession is returned by constructors given zero strings.
var ErrEmptySession = errors.New("tuner: session must contain at least one string")

// UpdateListener receives a tuning update after each detection: the current
// string, the detected pitch, its cents deviation, and whether it is
// currently within tolerance.
type UpdateListener func(current TuningString, detectedHz, detectedCents float64, inTune bool)

// DefaultCentsTolerance is the default in-tune window, +/- 5 cents.
const DefaultCentsTolerance = 5.0

// LockHoldDuration is how long a string must stay continuously in tune
// before the cursor advances.
const LockHoldDuration = 500 * time.Millisecond

// TuningString is one string of an instrument tuning: a target pitch and
// its name.
type TuningString struct {
	StringNumber int
	NoteName     string
	TargetHz     float64
	MIDI         int
}

// Preset is a named, ordered (lowest-to-highest) tuning.
type Preset struct {
	Name    string
	Strings []TuningString
}

func midiHz(midi int) float64 {
	return 440.0 * math.Pow(2, (float64(midi)-69)/12)
}

func mkString(n int, name string, midi int) TuningString {
	return TuningString{StringNumber: n, NoteName: name, TargetHz: midiHz(midi), MIDI: midi}
}

// StandardEADGBE is the standard 6-string guitar tuning, lowest to highest.
var StandardEADGBE = Preset{
	Name: "Standard EADGBE",
	Strings: []TuningString{
		mkString(1, "E2", 40),
		mkString(2, "A2", 45),
		mkString(3, "D3", 50),
		mkString(4, "G3", 55),
		mkString(5, "B3", 59),
		mkString(6, "E4", 64),
	},
}

// DropD lowers the lowest string a whole step to D2.
var DropD = Preset{
	Name: "Drop D",
	Strings: []TuningString{
		mkString(1, "D2", 38),
		mkString(2, "A2", 45),
		mkString(3, "D3", 50),
		mkString(4, "G3", 55),
		mkString(5, "B3", 59),
		mkString(6, "E4", 64),
	},
}

// EbStandard drops every string a half step below standard.
var EbStandard = Preset{
	Name: "Eb Standard",
	Strings: []TuningString{
		mkString(1, "Eb2", 39),
		mkString(2, "Ab2", 44),
		mkString(3, "Db3", 49),
		mkString(4, "Gb3", 54),
		mkString(5, "Bb3", 58),
		mkString(6, "Eb4", 63),
	},
}

// DADGAD is a common modal/open tuning.
var DADGAD = Preset{
	Name: "DADGAD",
	Strings: []TuningString{
		mkString(1, "D2", 38),
		mkString(2, "A2", 45),
		mkString(3, "D3", 50),
		mkString(4, "G3", 55),
		mkString(5, "A3", 57),
		mkString(6, "D4", 62),
	},
}

// Presets lists the built-in named tunings in catalog order.
var Presets = []Preset{StandardEADGBE, DropD, EbStandard, DADGAD}

// Session walks an ordered set of strings lowest-to-highest, tracking which
// have been confirmed in tune.
type Session struct {
	strings       []TuningString
	tuned         []bool
	currentIndex  int
	centsTolerance float64

	detectedHz    float64
	detectedCents float64

	inToleranceSince time.Time
	inToleranceSet   bool

	now func() time.Time
}

// NewFromPreset builds a Session from one of the named presets.
func NewFromPreset(p Preset) (*Session, error) {
	return newSession(p.Strings)
}

// NewFromMIDI builds a Session from an explicit list of MIDI numbers
// supplied in the view's native (highest-to-lowest, i.e. string-1-first)
// order; the session reverses it so iteration begins at the lowest pitch.
func NewFromMIDI(midiNumbers []int) (*Session, error) {
	n := len(midiNumbers)
	strings := make([]TuningString, n)
	for i, midi := range midiNumbers {
		reversed := n - 1 - i
		strings[reversed] = mkString(reversed+1, noteNameFor(midi), midi)
	}
	return newSession(strings)
}

// NewDefault builds a Session using standard EADGBE tuning.
func NewDefault() (*Session, error) {
	return NewFromPreset(StandardEADGBE)
}

func newSession(strings []TuningString) (*Session, error) {
	if len(strings) == 0 {
		return nil, ErrEmptySession
	}
	return &Session{
		strings:        strings,
		tuned:          make([]bool, len(strings)),
		centsTolerance: DefaultCentsTolerance,
		now:            time.Now,
	}, nil
}

// Strings returns the session's tuning, lowest to highest.
func (s *Session) Strings() []TuningString {
	return s.strings
}

// Current returns the string under the cursor.
func (s *Session) Current() TuningString {
	return s.strings[s.currentIndex]
}

// CurrentIndex returns the cursor position.
func (s *Session) CurrentIndex() int {
	return s.currentIndex
}

// IsTuned reports whether the string at index has been locked.
func (s *Session) IsTuned(index int) bool {
	return s.tuned[index]
}

// Update applies a detected frequency against the current string's target,
// returning whether the result is within tolerance. Call Locked after to
// check whether the hold window has been satisfied.
func (s *Session) Update(frequencyHz float64) (centsOff float64, inTune bool) {
	target := s.Current().TargetHz
	s.detectedHz = frequencyHz
	s.detectedCents = 1200 * math.Log2(frequencyHz/target)
	inTune = math.Abs(s.detectedCents) <= s.centsTolerance

	t := s.now()
	if inTune {
		if !s.inToleranceSet {
			s.inToleranceSince = t
			s.inToleranceSet = true
		}
	} else {
		s.inToleranceSet = false
	}

	return s.detectedCents, inTune
}

// DetectedHz and DetectedCents report the last values observed by Update.
func (s *Session) DetectedHz() float64    { return s.detectedHz }
func (s *Session) DetectedCents() float64 { return s.detectedCents }

// Locked reports whether the current string has been continuously in tune
// for at least LockHoldDuration since the last Update that crossed into
// tolerance.
func (s *Session) Locked() bool {
	return s.inToleranceSet && s.now().Sub(s.inToleranceSince) >= LockHoldDuration
}

// ConfirmAndAdvance marks the current string tuned and moves the cursor to
// the next string, if Locked. It reports whether the advance happened.
func (s *Session) ConfirmAndAdvance() bool {
	if !s.Locked() {
		return false
	}
	s.tuned[s.currentIndex] = true
	if s.currentIndex < len(s.strings)-1 {
		s.currentIndex++
	}
	s.inToleranceSet = false
	return true
}

// Next moves the cursor forward without marking the current string tuned.
func (s *Session) Next() {
	if s.currentIndex < len(s.strings)-1 {
		s.currentIndex++
	}
	s.inToleranceSet = false
}

// Previous moves the cursor back without marking the current string tuned.
func (s *Session) Previous() {
	if s.currentIndex > 0 {
		s.currentIndex--
	}
	s.inToleranceSet = false
}

// JumpTo moves the cursor directly to index.
func (s *Session) JumpTo(index int) {
	if index < 0 || index >= len(s.strings) {
		return
	}
	s.currentIndex = index
	s.inToleranceSet = false
}

// Reset clears all tuned flags and returns the cursor to the lowest string.
func (s *Session) Reset() {
	for i := range s.tuned {
		s.tuned[i] = false
	}
	s.currentIndex = 0
	s.inToleranceSet = false
}

var noteNames = [12]string{"C", "C#", "D", "D#", "E", "F", "F#", "G", "G#", "A", "A#", "B"}

func noteNameFor(midi int) string {
	octave := midi/12 - 1
	name := noteNames[((midi%12)+12)%12]
	return name + strconv.Itoa(octave)
}
