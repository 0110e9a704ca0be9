// Package detect converts a stream of captured audio frames into a stream
// of DetectedNote events: it windows each frame, runs an FFT, finds the
// strongest peak within the guitar band, refines it to sub-bin precision,
// and scores a confidence before handing the result downstream.
package detect

import (
	"context"
	"errors"
	"log/slog"
	"math"

	"github.com/mjibson/go-dsp/fft"

	"fretcoach/audio"
	"fretcoach/pitch"
)

// MinFreqHz and MaxFreqHz bound the band the detector searches for a peak —
// C2 (below E2, the lowest standard guitar string, leaving room for lowered
// tunings) to E6, the practical fretted range.
const (
	MinFreqHz = 65.41
	MaxFreqHz = 1318.51
)

// noiseGateRMS is the frame RMS below which a frame is treated as silence
// and nothing is emitted.
const noiseGateRMS = 0.01

// outputQueueDepth bounds the detector's output channel; once full, the
// oldest queued note is dropped to make room for the newest (the consumer is
// assumed to want current information, not a backlog).
const outputQueueDepth = 100

// DetectedNote is a single non-silent pitch estimate.
type DetectedNote struct {
	TimestampMs      int64
	FrequencyHz      float64
	MIDI             float64
	CentsFromNearest float64
	Confidence       float64
	NoteName         string
}

// FrameSource is the interface the detector reads captured audio through. It
// matches audio.Source's ReadFrame method so a *audio.Source can be passed
// directly.
type FrameSource interface {
	ReadFrame(buf []float32) error
}

// Detector runs a single worker draining a FrameSource and emitting
// DetectedNote events on Notes(). Device/read errors are reported via
// OnError and do not stop the stream; a closed source is terminal.
type Detector struct {
	source      FrameSource
	sampleRate  float64
	frameSize   int
	minConf     float64
	window      []float64
	notes       chan DetectedNote
	onError     func(cause string, fatal bool)
	samplesSeen int64

	cancel context.CancelFunc
	done   chan struct{}
}

// New constructs a Detector reading frameSize-sample frames at sampleRate
// from source, emitting notes with confidence >= minConfidence. onError, if
// non-nil, is invoked (from the detector's own goroutine) for every read
// error, with fatal set for the one that ends the stream (spec.md's
// DetectorFatal: the line is gone for good) and clear for a transient
// glitch the worker keeps running past.
func New(source FrameSource, sampleRate float64, frameSize int, minConfidence float64, onError func(cause string, fatal bool)) *Detector {
	return &Detector{
		source:     source,
		sampleRate: sampleRate,
		frameSize:  frameSize,
		minConf:    minConfidence,
		window:     hannWindow(frameSize),
		notes:      make(chan DetectedNote, outputQueueDepth),
		onError:    onError,
		done:       make(chan struct{}),
	}
}

// Notes returns the channel DetectedNote events are published on.
func (d *Detector) Notes() <-chan DetectedNote {
	return d.notes
}

// Start launches the detector's single worker goroutine. Stop must be
// called to release it.
func (d *Detector) Start() {
	ctx, cancel := context.WithCancel(context.Background())
	d.cancel = cancel
	go d.run(ctx)
}

// Stop signals the worker to exit and waits for it to do so.
func (d *Detector) Stop() {
	if d.cancel != nil {
		d.cancel()
	}
	<-d.done
}

func (d *Detector) run(ctx context.Context) {
	defer close(d.done)
	defer close(d.notes)
	buf := make([]float32, d.frameSize)

	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		if err := d.source.ReadFrame(buf); err != nil {
			if errors.Is(err, context.Canceled) {
				return
			}
			if isFatalReadError(err) {
				slog.Error("detect: fatal read error", "err", err)
				if d.onError != nil {
					d.onError(err.Error(), true)
				}
				return
			}
			slog.Warn("detect: transient read error", "err", err)
			if d.onError != nil {
				d.onError(err.Error(), false)
			}
			continue
		}

		d.samplesSeen += int64(len(buf))
		if note, ok := d.analyze(buf); ok {
			d.enqueue(note)
		}
	}
}

// isFatalReadError reports whether err means the underlying line is gone
// for good (spec.md's DetectorFatal) rather than a transient read failure.
func isFatalReadError(err error) bool {
	return errors.Is(err, audio.ErrClosed)
}

func (d *Detector) enqueue(note DetectedNote) {
	select {
	case d.notes <- note:
		return
	default:
	}
	// Output queue full: drop the oldest entry to make room for this one.
	select {
	case <-d.notes:
	default:
	}
	select {
	case d.notes <- note:
	default:
	}
}

// analyze runs the full per-frame pipeline on frame and reports whether a
// note was detected.
func (d *Detector) analyze(frame []float32) (DetectedNote, bool) {
	rms := frameRMS(frame)
	if rms < noiseGateRMS {
		return DetectedNote{}, false
	}

	windowed := make([]float64, len(frame))
	for i, s := range frame {
		windowed[i] = float64(s) * d.window[i]
	}

	spectrum := fft.FFTReal(windowed)
	magnitudes := make([]float64, len(spectrum)/2)
	for k := range magnitudes {
		magnitudes[k] = cmplxAbs(spectrum[k])
	}

	binHz := d.sampleRate / float64(len(frame))
	minBin := int(math.Ceil(MinFreqHz / binHz))
	maxBin := int(math.Floor(MaxFreqHz / binHz))
	if minBin < 1 {
		minBin = 1
	}
	if maxBin >= len(magnitudes) {
		maxBin = len(magnitudes) - 1
	}
	if maxBin <= minBin {
		return DetectedNote{}, false
	}

	peakBin, avgMag := bandPeak(magnitudes, minBin, maxBin)
	if peakBin < 0 {
		return DetectedNote{}, false
	}

	p := parabolicOffset(magnitudes, peakBin)
	peakFreq := (float64(peakBin) + p) * binHz
	if peakFreq < MinFreqHz || peakFreq > MaxFreqHz {
		return DetectedNote{}, false
	}

	base := 1.0
	if avgMag > 0 {
		base = magnitudes[peakBin] / (10 * avgMag)
	}
	base = math.Min(1, base)
	loudness := math.Min(1, 20*float64(rms))
	confidence := base * loudness

	if confidence < d.minConf {
		return DetectedNote{}, false
	}

	midi := pitch.HzToMIDI(peakFreq)
	timestampMs := int64(float64(d.samplesSeen) / d.sampleRate * 1000)

	return DetectedNote{
		TimestampMs:      timestampMs,
		FrequencyHz:      peakFreq,
		MIDI:             midi,
		CentsFromNearest: pitch.CentsFromNearest(midi),
		Confidence:       confidence,
		NoteName:         pitch.NoteName(midi),
	}, true
}

// hannWindow returns the n-sample Hann window coefficients.
func hannWindow(n int) []float64 {
	w := make([]float64, n)
	for i := range w {
		w[i] = 0.5 * (1 - math.Cos(2*math.Pi*float64(i)/float64(n-1)))
	}
	return w
}

func frameRMS(frame []float32) float32 {
	if len(frame) == 0 {
		return 0
	}
	var sum float64
	for _, s := range frame {
		sum += float64(s) * float64(s)
	}
	return float32(math.Sqrt(sum / float64(len(frame))))
}

// bandPeak returns the index of the largest magnitude in [minBin, maxBin]
// and the mean magnitude over that same band.
func bandPeak(magnitudes []float64, minBin, maxBin int) (peak int, avg float64) {
	peak = -1
	peakVal := -1.0
	var sum float64
	n := 0
	for k := minBin; k <= maxBin; k++ {
		sum += magnitudes[k]
		n++
		if magnitudes[k] > peakVal {
			peakVal = magnitudes[k]
			peak = k
		}
	}
	if n == 0 {
		return -1, 0
	}
	return peak, sum / float64(n)
}

// parabolicOffset refines a discrete peak at bin k to sub-bin precision
// using quadratic interpolation of the magnitudes at k-1, k, k+1. If k is
// not a local maximum (e.g. a band-edge bin with a larger neighbour outside
// the band), no refinement is applied and 0 is returned.
func parabolicOffset(magnitudes []float64, k int) float64 {
	if k <= 0 || k >= len(magnitudes)-1 {
		return 0
	}
	alpha := magnitudes[k-1]
	beta := magnitudes[k]
	gamma := magnitudes[k+1]
	if alpha > beta || gamma > beta {
		return 0
	}
	denom := alpha - 2*beta + gamma
	if denom == 0 {
		return 0
	}
	return 0.5 * (alpha - gamma) / denom
}

func cmplxAbs(c complex128) float64 {
	return math.Hypot(real(c), imag(c))
}
