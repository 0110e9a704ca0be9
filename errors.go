package fretcoach

import "errors"

// Sentinel errors returned directly to callers. Transient/fatal runtime
// conditions (FrameReadError, DetectorFatal) are never returned as errors —
// they are reported through the OnError callback supplied at session start.
var (
	ErrNoDevice             = errors.New("fretcoach: no matching audio device")
	ErrDeviceUnavailable    = errors.New("fretcoach: audio device format unavailable")
	ErrSessionAlreadyActive = errors.New("fretcoach: session already active")
	ErrInvalidConfig        = errors.New("fretcoach: invalid config")
)

// ErrorListener receives every detector-level error a session's audio line
// produces. fatal distinguishes spec.md §7's DetectorFatal (the line is
// gone for good; the session it belongs to has ended) from a transient
// FrameReadError the detector keeps running past.
type ErrorListener func(cause string, fatal bool)
