package audio

import (
	"context"
	"encoding/binary"
	"errors"
	"log/slog"
	"math"
	"time"

	"github.com/zaf/g711"
)

// PermissionState mirrors the platform permission model.
type PermissionState string

const (
	PermissionGranted PermissionState = "granted"
	PermissionDenied  PermissionState = "denied"
	PermissionPrompt  PermissionState = "prompt"
	PermissionUnknown PermissionState = "unknown"
)

// Encoding identifies the sample encoding of a capture frame.
type Encoding string

const (
	// EncodingPCM16 is 16-bit little-endian linear PCM.
	EncodingPCM16 Encoding = "pcm16"
	// EncodingULaw is 8-bit G.711 mu-law, the usual telephony capture
	// encoding; frames are decoded before analysis.
	EncodingULaw Encoding = "ulaw"
)

// Frame is one chunk of captured audio.
type Frame struct {
	Encoding Encoding
	Data     []byte
}

// CaptureDevice abstracts the platform microphone. Each probe opens its
// own stream; streams are never shared with call media, so a probe can
// never hold a device lock the live call needs.
type CaptureDevice interface {
	Permission(ctx context.Context) (PermissionState, error)
	OpenStream(ctx context.Context) (CaptureStream, error)
}

// CaptureStream is a live capture session. Close must be idempotent.
type CaptureStream interface {
	ReadFrame(ctx context.Context) (Frame, error)
	Close() error
}

var ErrNoDevice = errors.New("audio: no capture device configured")

// Monitor probes microphone permission and liveness. It never records:
// RequestAccess exists purely to trigger the permission prompt, and
// MonitorLevels only reports whether energy was seen.
type Monitor struct {
	device CaptureDevice
	log    *slog.Logger

	// SampleInterval is the cadence of level samples during MonitorLevels.
	SampleInterval time.Duration
	// EnergyThreshold is the normalized RMS ([0..1]) above which audio
	// counts as detected.
	EnergyThreshold float64
}

func NewMonitor(device CaptureDevice, log *slog.Logger) *Monitor {
	return &Monitor{
		device:          device,
		log:             log,
		SampleInterval:  50 * time.Millisecond,
		EnergyThreshold: 0.01,
	}
}

// RequestAccess opens a stream to trigger the permission prompt and
// releases it immediately.
func (m *Monitor) RequestAccess(ctx context.Context) error {
	if m.device == nil {
		return ErrNoDevice
	}
	stream, err := m.device.OpenStream(ctx)
	if err != nil {
		return err
	}
	return stream.Close()
}

// CheckPermission queries the current permission state without opening a
// stream (and therefore without prompting).
func (m *Monitor) CheckPermission(ctx context.Context) (PermissionState, error) {
	if m.device == nil {
		return PermissionUnknown, ErrNoDevice
	}
	return m.device.Permission(ctx)
}

// MonitorLevels samples capture energy for the given window and invokes
// onDetected at most once, on the first above-threshold sample. The
// stream is always closed when the window elapses (or the context ends),
// regardless of detection outcome. It reports whether audio was detected.
func (m *Monitor) MonitorLevels(ctx context.Context, window time.Duration, onDetected func()) (bool, error) {
	if m.device == nil {
		return false, ErrNoDevice
	}
	stream, err := m.device.OpenStream(ctx)
	if err != nil {
		return false, err
	}
	defer func() {
		if cerr := stream.Close(); cerr != nil {
			m.log.Warn("audio stream close failed", "err", cerr)
		}
	}()

	deadline := time.NewTimer(window)
	defer deadline.Stop()
	ticker := time.NewTicker(m.SampleInterval)
	defer ticker.Stop()

	detected := false
	for {
		select {
		case <-ctx.Done():
			return detected, ctx.Err()
		case <-deadline.C:
			return detected, nil
		case <-ticker.C:
			frame, err := stream.ReadFrame(ctx)
			if err != nil {
				// A failed read ends the probe early; teardown still runs.
				return detected, err
			}
			if !detected && FrameEnergy(frame) >= m.EnergyThreshold {
				detected = true
				if onDetected != nil {
					onDetected()
				}
			}
		}
	}
}

// FrameEnergy computes normalized RMS energy ([0..1]) for a frame.
// Mu-law frames are decoded to linear PCM first; unknown encodings score
// zero rather than failing the probe.
func FrameEnergy(f Frame) float64 {
	var pcm []byte
	switch f.Encoding {
	case EncodingPCM16:
		pcm = f.Data
	case EncodingULaw:
		pcm = g711.DecodeUlaw(f.Data)
	default:
		return 0
	}
	if len(pcm) < 2 {
		return 0
	}

	var sum float64
	n := len(pcm) / 2
	for i := 0; i < n; i++ {
		s := int16(binary.LittleEndian.Uint16(pcm[2*i:]))
		v := float64(s) / 32768.0
		sum += v * v
	}
	return math.Sqrt(sum / float64(n))
}
