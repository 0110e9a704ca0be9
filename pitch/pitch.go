// Package pitch implements the pure arithmetic shared by the detector, the
// practice matcher and the tuner: converting between frequency, MIDI note
// number and cents, and naming notes on the chromatic scale.
//
// None of this package holds state or touches audio; it exists so the three
// consumers agree on a single definition of "how far off is this pitch".
package pitch

import (
	"math"
	"strconv"
)

// A4Hz is the reference pitch in Hz for MIDI note 69.
const A4Hz = 440.0

// A4MIDI is the MIDI note number of the reference pitch.
const A4MIDI = 69.0

var noteNames = [12]string{"C", "C#", "D", "D#", "E", "F", "F#", "G", "G#", "A", "A#", "B"}

// HzToMIDI converts a frequency in Hz to a fractional MIDI note number.
// hz must be > 0.
func HzToMIDI(hz float64) float64 {
	return A4MIDI + 12*math.Log2(hz/A4Hz)
}

// MIDIToHz converts a (possibly fractional) MIDI note number to Hz.
func MIDIToHz(midi float64) float64 {
	return A4Hz * math.Pow(2, (midi-A4MIDI)/12)
}

// Cents returns the deviation of f from ref in cents. 1200 cents = one
// octave, 100 cents = one semitone. ref and f must be > 0.
func Cents(f, ref float64) float64 {
	return 1200 * math.Log2(f/ref)
}

// CentsFromNearest returns the signed distance in cents from midi to the
// nearest integer semitone, in (-50, 50].
func CentsFromNearest(midi float64) float64 {
	nearest := math.Round(midi)
	c := (midi - nearest) * 100
	if c <= -50 {
		c += 100
	}
	return c
}

// NoteName returns the chromatic note name (e.g. "E4") for a MIDI note
// number, rounded to the nearest semitone. Octave numbering follows the
// scientific convention where MIDI 60 ("C4") is middle C.
func NoteName(midi float64) string {
	n := int(math.Round(midi))
	name := noteNames[((n%12)+12)%12]
	octave := n/12 - 1
	return name + octaveString(octave)
}

func octaveString(octave int) string {
	return strconv.Itoa(octave)
}
