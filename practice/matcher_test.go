package practice

import (
	"testing"
	"time"

	"fretcoach/detect"
)

func newTestMatcher(t *testing.T) *Matcher {
	t.Helper()
	m, err := NewMatcher(DefaultConfig())
	if err != nil {
		t.Fatalf("NewMatcher: %v", err)
	}
	t.Cleanup(m.Close)
	return m
}

func TestLoadNotesSortsAndResets(t *testing.T) {
	m := newTestMatcher(t)
	m.LoadNotes([]ExpectedNote{
		{TimeMs: 2000, MIDI: 64},
		{TimeMs: 1000, MIDI: 67},
	}, 3000)

	snap := m.CurrentSnapshot()
	if snap.TotalNotesInSong != 2 || snap.NotesEncountered != 0 {
		t.Fatalf("unexpected initial snapshot: %+v", snap)
	}
}

func TestScenarioPerfectSingleNoteHit(t *testing.T) {
	m := newTestMatcher(t)
	m.LoadNotes([]ExpectedNote{{TimeMs: 1000, MIDI: 64}}, 2000)

	type result struct {
		note ExpectedNote
		idx  int
		hit  bool
	}
	results := make(chan result, 8)
	if err := m.Start(nil, func(note ExpectedNote, idx int, hit bool) {
		results <- result{note, idx, hit}
	}); err != nil {
		t.Fatalf("Start: %v", err)
	}

	m.UpdatePosition(950)
	m.HandleDetection(detect.DetectedNote{MIDI: 64.00, Confidence: 0.9, TimestampMs: 950})
	m.UpdatePosition(1000)

	select {
	case r := <-results:
		if !r.hit || r.idx != 0 {
			t.Fatalf("expected a hit at index 0, got %+v", r)
		}
	case <-time.After(time.Second):
		t.Fatal("expected on_note_hit, got nothing")
	}

	snap := m.Stop()
	if snap.HitsOverall != 1 || snap.MissesOverall != 0 {
		t.Fatalf("final snapshot = %+v, want 1 hit 0 misses", snap)
	}
	if snap.PartialAccuracy() != 1.0 {
		t.Fatalf("PartialAccuracy = %v, want 1.0", snap.PartialAccuracy())
	}
}

func TestScenarioOutOfTolerancePitch(t *testing.T) {
	m := newTestMatcher(t)
	m.LoadNotes([]ExpectedNote{{TimeMs: 1000, MIDI: 64}}, 2000)

	type result struct {
		idx int
		hit bool
	}
	results := make(chan result, 8)
	if err := m.Start(nil, func(note ExpectedNote, idx int, hit bool) {
		results <- result{idx, hit}
	}); err != nil {
		t.Fatalf("Start: %v", err)
	}

	// 50 cents away exactly: still a match (inclusive boundary).
	m.UpdatePosition(1000)
	m.HandleDetection(detect.DetectedNote{MIDI: 64.5, Confidence: 0.9})
	select {
	case r := <-results:
		if !r.hit {
			t.Fatalf("expected a hit at exactly 50 cents, got %+v", r)
		}
	case <-time.After(time.Second):
		t.Fatal("expected a hit at exactly 50 cents")
	}

	m.Stop()

	// Fresh note, 60 cents away: no match, then a miss sweep.
	m2 := newTestMatcher(t)
	m2.LoadNotes([]ExpectedNote{{TimeMs: 1000, MIDI: 64}}, 2000)
	results2 := make(chan result, 8)
	if err := m2.Start(nil, func(note ExpectedNote, idx int, hit bool) {
		results2 <- result{idx, hit}
	}); err != nil {
		t.Fatalf("Start: %v", err)
	}
	m2.UpdatePosition(1000)
	m2.HandleDetection(detect.DetectedNote{MIDI: 64.6, Confidence: 0.9})
	select {
	case <-results2:
		t.Fatal("expected no match at 60 cents")
	case <-time.After(100 * time.Millisecond):
	}
	m2.UpdatePosition(1200)
	select {
	case r := <-results2:
		if r.hit {
			t.Fatalf("expected a miss, got a hit: %+v", r)
		}
	case <-time.After(time.Second):
		t.Fatal("expected on_note_missed")
	}
}

func TestScenarioOutOfToleranceTiming(t *testing.T) {
	m := newTestMatcher(t)
	m.LoadNotes([]ExpectedNote{{TimeMs: 1000, MIDI: 64}}, 2000)

	type result struct {
		hit bool
	}
	results := make(chan result, 8)
	if err := m.Start(nil, func(note ExpectedNote, idx int, hit bool) {
		results <- result{hit}
	}); err != nil {
		t.Fatalf("Start: %v", err)
	}

	m.UpdatePosition(1200) // 200ms late, tolerance 150: the sweep marks the note missed
	select {
	case r := <-results:
		if r.hit {
			t.Fatal("expected a miss")
		}
	case <-time.After(time.Second):
		t.Fatal("expected on_note_missed")
	}

	// A valid-pitch detection arriving after the window closed matches nothing.
	m.HandleDetection(detect.DetectedNote{MIDI: 64.0, Confidence: 0.9})
	select {
	case <-results:
		t.Fatal("expected no match: detection arrives after the window closed")
	case <-time.After(100 * time.Millisecond):
	}

	snap := m.Stop()
	want := "✗ Missed E4"
	if len(snap.Feedback) == 0 || snap.Feedback[0] != want {
		t.Fatalf("Feedback = %v, want first entry %q", snap.Feedback, want)
	}
}

func TestScenarioMultipleConcurrentExpectedNotes(t *testing.T) {
	m := newTestMatcher(t)
	m.LoadNotes([]ExpectedNote{
		{TimeMs: 1000, MIDI: 64},
		{TimeMs: 1000, MIDI: 67},
	}, 2000)

	type result struct {
		idx int
		hit bool
	}
	results := make(chan result, 8)
	if err := m.Start(nil, func(note ExpectedNote, idx int, hit bool) {
		results <- result{idx, hit}
	}); err != nil {
		t.Fatalf("Start: %v", err)
	}

	m.UpdatePosition(1000)
	m.HandleDetection(detect.DetectedNote{MIDI: 64, Confidence: 0.9})
	m.HandleDetection(detect.DetectedNote{MIDI: 67, Confidence: 0.9})

	r1 := <-results
	r2 := <-results
	if !r1.hit || !r2.hit {
		t.Fatalf("expected two hits, got %+v %+v", r1, r2)
	}
	if r1.idx != 0 || r2.idx != 1 {
		t.Fatalf("expected lower index first, got %d then %d", r1.idx, r2.idx)
	}
}

func TestScenarioPauseAcrossMissWindow(t *testing.T) {
	m := newTestMatcher(t)
	m.LoadNotes([]ExpectedNote{{TimeMs: 1000, MIDI: 64}}, 2000)

	type result struct {
		hit bool
	}
	results := make(chan result, 8)
	if err := m.Start(nil, func(note ExpectedNote, idx int, hit bool) {
		results <- result{hit}
	}); err != nil {
		t.Fatalf("Start: %v", err)
	}

	m.UpdatePosition(900)
	m.Pause()
	time.Sleep(50 * time.Millisecond)
	m.Resume()
	m.UpdatePosition(1200)

	select {
	case r := <-results:
		if r.hit {
			t.Fatal("expected a miss, not a hit")
		}
	case <-time.After(time.Second):
		t.Fatal("expected exactly one on_note_missed")
	}
	select {
	case r := <-results:
		t.Fatalf("expected the note to be classified exactly once, got extra result %+v", r)
	case <-time.After(100 * time.Millisecond):
	}
}

func TestStartRejectsWhileAlreadyActive(t *testing.T) {
	m := newTestMatcher(t)
	m.LoadNotes([]ExpectedNote{{TimeMs: 1000, MIDI: 64}}, 2000)
	if err := m.Start(nil, nil); err != nil {
		t.Fatalf("first Start: %v", err)
	}
	if err := m.Start(nil, nil); err != ErrSessionAlreadyActive {
		t.Fatalf("second Start error = %v, want ErrSessionAlreadyActive", err)
	}
}

func TestInvariantMutuallyExclusiveClassification(t *testing.T) {
	m := newTestMatcher(t)
	m.LoadNotes([]ExpectedNote{
		{TimeMs: 1000, MIDI: 64},
		{TimeMs: 2000, MIDI: 67},
	}, 3000)
	if err := m.Start(nil, nil); err != nil {
		t.Fatalf("Start: %v", err)
	}
	m.UpdatePosition(1000)
	m.HandleDetection(detect.DetectedNote{MIDI: 64, Confidence: 0.9})
	m.UpdatePosition(2200)

	snap := m.Stop()
	if snap.HitsOverall+snap.MissesOverall != snap.NotesEncountered {
		t.Fatalf("hits+misses = %d, want notes_encountered = %d", snap.HitsOverall+snap.MissesOverall, snap.NotesEncountered)
	}
	if snap.NotesEncountered > snap.TotalNotesInSong {
		t.Fatalf("notes_encountered %d > total %d", snap.NotesEncountered, snap.TotalNotesInSong)
	}
}

func TestBoundaryPositionExactlyAtTimingTolerance(t *testing.T) {
	m := newTestMatcher(t)
	m.LoadNotes([]ExpectedNote{{TimeMs: 1000, MIDI: 64}}, 2000)

	type result struct{ hit bool }
	results := make(chan result, 8)
	if err := m.Start(nil, func(note ExpectedNote, idx int, hit bool) {
		results <- result{hit}
	}); err != nil {
		t.Fatalf("Start: %v", err)
	}

	// position_ms = time_ms + timing_tolerance_ms exactly: still matchable.
	m.UpdatePosition(1150)
	m.HandleDetection(detect.DetectedNote{MIDI: 64, Confidence: 0.9})
	select {
	case r := <-results:
		if !r.hit {
			t.Fatal("expected a hit exactly at the tolerance boundary")
		}
	case <-time.After(time.Second):
		t.Fatal("expected a hit exactly at the tolerance boundary")
	}
}

func TestBoundaryPositionOneMillisecondPastTolerance(t *testing.T) {
	m := newTestMatcher(t)
	m.LoadNotes([]ExpectedNote{{TimeMs: 1000, MIDI: 64}}, 2000)

	type result struct{ hit bool }
	results := make(chan result, 8)
	if err := m.Start(nil, func(note ExpectedNote, idx int, hit bool) {
		results <- result{hit}
	}); err != nil {
		t.Fatalf("Start: %v", err)
	}

	m.UpdatePosition(1151) // one past the window: the sweep fires first
	select {
	case r := <-results:
		if r.hit {
			t.Fatal("expected a miss, not a hit")
		}
	case <-time.After(time.Second):
		t.Fatal("expected the sweep to mark this note missed")
	}

	// The note is already processed; a late detection matches nothing.
	m.HandleDetection(detect.DetectedNote{MIDI: 64, Confidence: 0.9})
	select {
	case r := <-results:
		t.Fatalf("expected no further result, got %+v", r)
	case <-time.After(100 * time.Millisecond):
	}
}

func TestConfigValidateRejectsOutOfRange(t *testing.T) {
	cfg := DefaultConfig()
	cfg.MinConfidence = 1.5
	if _, err := NewMatcher(cfg); err == nil {
		t.Fatal("expected NewMatcher to reject an out-of-range config")
	}
}
