// Package audio provides device enumeration and a lazy, ordered stream of
// mono float32 PCM frames captured from an input device.
//
// Source wraps a single portaudio stream opened on a native 16-bit PCM
// buffer; it owns the native line exclusively for its lifetime — Open
// acquires it, Close releases it, and no other package reaches into the
// stream directly.
package audio

import (
	"errors"
	"fmt"
	"log/slog"
	"math"
	"sync"
	"time"

	"github.com/gordonklaus/portaudio"
)

// ErrNoDevice is returned by Open when the requested device id does not
// resolve to any enumerated device.
var ErrNoDevice = errors.New("audio: no matching device")

// ErrDeviceUnavailable is returned by Open when no supported sample format
// could be negotiated with the device after the retry budget is exhausted.
var ErrDeviceUnavailable = errors.New("audio: device format unavailable")

// ErrClosed is returned by ReadFrame once the source has been closed.
var ErrClosed = errors.New("audio: source closed")

const openRetries = 3

// openRetryDelay is a var (not const) so tests can shrink it.
var openRetryDelay = 500 * time.Millisecond

// DeviceInfo describes an available audio input device.
type DeviceInfo struct {
	ID        int
	Name      string
	IsDefault bool
}

// DefaultDeviceID is the synthetic id returned for the "use system default"
// entry that ListDevices always prepends.
const DefaultDeviceID = -1

// ListDevices enumerates input-capable audio devices, always including a
// synthetic default entry first. It never fails: devices that can't be
// queried are silently skipped.
func ListDevices() ([]DeviceInfo, error) {
	out := []DeviceInfo{{ID: DefaultDeviceID, Name: "Default", IsDefault: true}}

	devices, err := portaudio.Devices()
	if err != nil {
		slog.Warn("audio: list devices failed", "err", err)
		return out, nil
	}

	for i, d := range devices {
		if d == nil || d.MaxInputChannels <= 0 {
			continue
		}
		out = append(out, DeviceInfo{ID: i, Name: d.Name})
	}
	return out, nil
}

// paStream abstracts the portaudio stream surface Source needs, so tests can
// supply a fake without opening a real device.
type paStream interface {
	Start() error
	Stop() error
	Close() error
	Read() error
}

// sampleEndian selects how raw 16-bit samples delivered by the line are
// interpreted. PortAudio streams are always host-native, but some USB audio
// interfaces report a format PortAudio negotiates successfully yet delivers
// byte-swapped from what the driver advertised; toggling interpretation
// across open attempts is the same recovery the spec calls for.
type sampleEndian int

const (
	littleEndian sampleEndian = iota
	bigEndian
)

// Source captures mono 16-bit PCM frames from an input device and converts
// them to float32 samples in [-1, 1] on read.
type Source struct {
	mu sync.Mutex

	stream     paStream
	raw        []int16
	endian     sampleEndian
	sampleRate float64
	frameSize  int

	closed    bool
	inputRMS  float32
	readGuard sync.Mutex // serializes ReadFrame; portaudio streams are not concurrency-safe
}

// openStream is overridden in tests to avoid touching real hardware.
var openStream = func(device *portaudio.DeviceInfo, sampleRate float64, frameSize int, buf []int16) (paStream, error) {
	params := portaudio.StreamParameters{
		Input: portaudio.StreamDeviceParameters{
			Device:   device,
			Channels: 1,
			Latency:  device.DefaultLowInputLatency,
		},
		SampleRate:      sampleRate,
		FramesPerBuffer: frameSize,
	}
	return portaudio.OpenStream(params, buf)
}

var resolveInputDevice = func(id int) (*portaudio.DeviceInfo, error) {
	if id == DefaultDeviceID {
		return portaudio.DefaultInputDevice()
	}
	devices, err := portaudio.Devices()
	if err != nil {
		return nil, fmt.Errorf("audio: enumerate devices: %w", err)
	}
	if id < 0 || id >= len(devices) || devices[id] == nil {
		return nil, ErrNoDevice
	}
	return devices[id], nil
}

// Open acquires an input line for the given device at sampleRate, delivering
// frameSize-sample mono frames. It retries up to 3 times with a 500ms pause
// on transient failures, toggling the assumed sample byte order between
// attempts, and never falls back to the default device on its own — that
// decision belongs to the caller.
func Open(deviceID int, sampleRate float64, frameSize int) (*Source, error) {
	device, err := resolveInputDevice(deviceID)
	if err != nil {
		if errors.Is(err, ErrNoDevice) {
			return nil, err
		}
		return nil, fmt.Errorf("audio: resolve device %d: %w", deviceID, err)
	}

	raw := make([]int16, frameSize)

	var lastErr error
	endian := littleEndian
	for attempt := 0; attempt < openRetries; attempt++ {
		stream, err := openStream(device, sampleRate, frameSize, raw)
		if err == nil {
			if startErr := stream.Start(); startErr != nil {
				stream.Close()
				lastErr = startErr
			} else {
				slog.Info("audio: capture opened", "device", device.Name, "sample_rate", sampleRate, "frame_size", frameSize)
				return &Source{stream: stream, raw: raw, endian: endian, sampleRate: sampleRate, frameSize: frameSize}, nil
			}
		} else {
			lastErr = err
		}

		endian = toggleEndian(endian)
		if attempt < openRetries-1 {
			time.Sleep(openRetryDelay)
		}
	}

	slog.Error("audio: open failed after retries", "device", device.Name, "err", lastErr)
	return nil, fmt.Errorf("%w: %v", ErrDeviceUnavailable, lastErr)
}

func toggleEndian(e sampleEndian) sampleEndian {
	if e == littleEndian {
		return bigEndian
	}
	return littleEndian
}

// ReadFrame blocks until one frame is available, writing into buf (which
// must be at least the configured frame size) and converting native 16-bit
// samples to [-1,1] float32 via sample/32768. Returns ErrClosed once Close
// has been called.
func (s *Source) ReadFrame(buf []float32) error {
	s.readGuard.Lock()
	defer s.readGuard.Unlock()

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return ErrClosed
	}
	stream := s.stream
	endian := s.endian
	s.mu.Unlock()

	if err := stream.Read(); err != nil {
		s.mu.Lock()
		closed := s.closed
		s.mu.Unlock()
		if closed {
			return ErrClosed
		}
		return fmt.Errorf("audio: read frame: %w", err)
	}

	n := len(s.raw)
	if len(buf) < n {
		n = len(buf)
	}

	var sumSquares float64
	for i := 0; i < n; i++ {
		sample := s.raw[i]
		if endian == bigEndian {
			sample = swapInt16(sample)
		}
		v := float32(sample) / 32768.0
		buf[i] = v
		sumSquares += float64(v) * float64(v)
	}

	s.mu.Lock()
	if n > 0 {
		s.inputRMS = float32(math.Sqrt(sumSquares / float64(n)))
	}
	s.mu.Unlock()

	return nil
}

func swapInt16(v int16) int16 {
	u := uint16(v)
	return int16(u<<8 | u>>8)
}

// InputLevel returns the RMS level of the most recently read frame, for
// driving a level meter.
func (s *Source) InputLevel() float32 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.inputRMS
}

// Close stops and releases the input line. Idempotent.
func (s *Source) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	stream := s.stream
	s.mu.Unlock()

	if stream == nil {
		return nil
	}
	if err := stream.Stop(); err != nil {
		slog.Warn("audio: stop stream", "err", err)
	}
	if err := stream.Close(); err != nil {
		return fmt.Errorf("audio: close stream: %w", err)
	}
	slog.Info("audio: capture closed")
	return nil
}
