package detect

import (
	"errors"
	"math"
	"sync"
	"testing"
	"time"

	"fretcoach/audio"
)

const testSampleRate = 44100.0
const testFrameSize = 4096

// sineFrame fills buf with a pure tone at freqHz, amplitude amp, sampled at
// testSampleRate.
func sineFrame(buf []float32, freqHz float64, amp float32) {
	for i := range buf {
		buf[i] = amp * float32(math.Sin(2*math.Pi*freqHz*float64(i)/testSampleRate))
	}
}

// fakeSource feeds a fixed sequence of frames, then returns errAfter
// (defaulting to audio.ErrClosed) forever.
type fakeSource struct {
	mu      sync.Mutex
	frames  [][]float32
	idx     int
	errAfter error
}

func (f *fakeSource) ReadFrame(buf []float32) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.idx >= len(f.frames) {
		if f.errAfter != nil {
			return f.errAfter
		}
		return audio.ErrClosed
	}
	copy(buf, f.frames[f.idx])
	f.idx++
	return nil
}

func newSineSource(freqHz float64, amp float32, frames int) *fakeSource {
	fs := &fakeSource{}
	for i := 0; i < frames; i++ {
		buf := make([]float32, testFrameSize)
		sineFrame(buf, freqHz, amp)
		fs.frames = append(fs.frames, buf)
	}
	return fs
}

func TestDetectsE2String(t *testing.T) {
	src := newSineSource(82.41, 0.8, 3)
	d := New(src, testSampleRate, testFrameSize, 0.5, nil)
	d.Start()
	defer d.Stop()

	select {
	case note := <-d.Notes():
		if math.Abs(note.FrequencyHz-82.41) > 1.0 {
			t.Errorf("FrequencyHz = %v, want ~82.41", note.FrequencyHz)
		}
		if note.Confidence < 0.5 {
			t.Errorf("Confidence = %v, want >= 0.5", note.Confidence)
		}
		if note.NoteName != "E2" {
			t.Errorf("NoteName = %q, want E2", note.NoteName)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for a detected note")
	}
}

func TestSilenceEmitsNothing(t *testing.T) {
	src := newSineSource(0, 0, 1) // zero amplitude: below the noise gate
	d := New(src, testSampleRate, testFrameSize, 0.5, nil)
	d.Start()
	defer d.Stop()

	select {
	case note := <-d.Notes():
		t.Fatalf("expected no note from silence, got %+v", note)
	case <-time.After(200 * time.Millisecond):
	}
}

func TestOutOfBandFrequencyEmitsNothing(t *testing.T) {
	// 3000 Hz is well above MaxFreqHz. The band-limited peak search only
	// sees the tone's spectral leakage inside the band, whose confidence is
	// far below the usual 0.5 floor.
	src := newSineSource(3000, 0.8, 1)
	d := New(src, testSampleRate, testFrameSize, 0.5, nil)
	d.Start()
	defer d.Stop()

	select {
	case note := <-d.Notes():
		t.Fatalf("expected no note out of band, got %+v", note)
	case <-time.After(200 * time.Millisecond):
	}
}

func TestTransientErrorInvokesOnErrorAndContinues(t *testing.T) {
	fs := &fakeSource{errAfter: errors.New("transient glitch")}
	var gotErr string
	var gotFatal bool
	var mu sync.Mutex
	d := New(fs, testSampleRate, testFrameSize, 0.5, func(cause string, fatal bool) {
		mu.Lock()
		gotErr = cause
		gotFatal = fatal
		mu.Unlock()
	})
	d.Start()
	defer d.Stop()

	time.Sleep(50 * time.Millisecond)
	mu.Lock()
	defer mu.Unlock()
	if gotErr == "" {
		t.Fatal("expected OnError to be invoked for a transient error")
	}
	if gotFatal {
		t.Fatal("expected a transient read error to report fatal=false")
	}
}

func TestFatalErrorStopsWorker(t *testing.T) {
	fs := &fakeSource{} // immediately returns audio.ErrClosed
	stopped := make(chan struct{})
	var gotFatal bool
	var mu sync.Mutex
	d := New(fs, testSampleRate, testFrameSize, 0.5, func(cause string, fatal bool) {
		mu.Lock()
		gotFatal = fatal
		mu.Unlock()
	})
	go func() {
		d.Start()
		<-d.done
		close(stopped)
	}()

	select {
	case <-stopped:
	case <-time.After(time.Second):
		t.Fatal("detector worker did not exit after fatal error")
	}
	mu.Lock()
	defer mu.Unlock()
	if !gotFatal {
		t.Fatal("expected the terminal read error to report fatal=true")
	}
}

func TestParabolicOffsetRecoversSyntheticPeak(t *testing.T) {
	// Build a synthetic quadratic magnitude array with a known apex at
	// bin 10 + p for several values of p.
	for _, p := range []float64{-0.3, -0.1, 0, 0.2, 0.45} {
		mags := make([]float64, 21)
		apex := 10.0 + p
		for k := range mags {
			d := float64(k) - apex
			mags[k] = 100 - d*d // downward parabola peaking at apex
		}
		got := parabolicOffset(mags, 10)
		if math.Abs(got-p) > 1e-6 {
			t.Errorf("parabolicOffset recovered %v, want %v", got, p)
		}
	}
}

func TestConfidenceExactlyAtFloorEmits(t *testing.T) {
	src := newSineSource(220, 0.9, 1)
	// First pass with min=0 to discover the natural confidence.
	probe := New(src, testSampleRate, testFrameSize, 0, nil)
	frame := make([]float32, testFrameSize)
	sineFrame(frame, 220, 0.9)
	note, ok := probe.analyze(frame)
	if !ok {
		t.Fatal("expected a detection to compute a baseline confidence")
	}

	exact := New(&fakeSource{frames: [][]float32{frame}}, testSampleRate, testFrameSize, note.Confidence, nil)
	exact.Start()
	defer exact.Stop()

	select {
	case got := <-exact.Notes():
		if got.Confidence < note.Confidence {
			t.Errorf("Confidence = %v, want >= floor %v", got.Confidence, note.Confidence)
		}
	case <-time.After(time.Second):
		t.Fatal("expected detection when confidence exactly meets the floor")
	}
}
