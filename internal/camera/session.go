package camera

import (
	"context"
	"errors"
	"fmt"
	"image"
	"sync"
	"sync/atomic"
	"time"

	"github.com/frotaapp/capture/internal/extract"
)

// frameInterval is the fixed sample rate of the decode loop (10 fps,
// matching typical mobile viewfinder scanning).
const frameInterval = 100 * time.Millisecond

// Facing selects which camera to open.
type Facing string

const (
	// FacingAny accepts whatever device is available.
	FacingAny Facing = "any"
	// FacingEnvironment prefers the rear camera.
	FacingEnvironment Facing = "environment"
	// FacingUser prefers the front camera.
	FacingUser Facing = "user"
)

var (
	// ErrPermissionDenied means the user has not granted camera
	// access. Not retryable from here: the user must grant access in
	// their browser or system settings and try again.
	ErrPermissionDenied = errors.New("camera access denied: grant camera permission and try again")

	// ErrDeviceUnavailable means the device exists but cannot be
	// acquired right now, e.g. held by another process. Retryable.
	ErrDeviceUnavailable = errors.New("camera unavailable: it may be in use by another application")

	// ErrFacingUnavailable means no device satisfies the requested
	// facing constraint. The session retries unconstrained before
	// surfacing anything to the caller.
	ErrFacingUnavailable = errors.New("no camera with the requested facing")

	// ErrSessionActive means Start was called while another session
	// holds the device. This is a programming error in the caller.
	ErrSessionActive = errors.New("a camera session is already active")

	// ErrTorchUnsupported means the device has no torch control.
	ErrTorchUnsupported = errors.New("torch not supported on this device")
)

// Device is an exclusively-owned video capture device.
type Device interface {
	// ReadFrame returns the next video frame.
	ReadFrame(ctx context.Context) (image.Image, error)
	// TorchSupported reports whether the device exposes a torch.
	TorchSupported() bool
	// SetTorch switches the torch on or off.
	SetTorch(on bool) error
	// Close releases the device.
	Close() error
}

// DeviceOpener acquires video devices. Open returns
// ErrPermissionDenied, ErrDeviceUnavailable or ErrFacingUnavailable on
// failure.
type DeviceOpener interface {
	Open(ctx context.Context, facing Facing) (Device, error)
}

// FrameDecoder attempts a structured decode on a single frame,
// returning extract.ErrDecodeNotFound on a miss.
type FrameDecoder interface {
	DecodeFrame(frame image.Image) (string, error)
}

// Result is delivered on Session.Results exactly once per session:
// either a decoded code or the error that ended the loop.
type Result struct {
	Code string
	Err  error
}

// Manager enforces the one-active-session invariant over a device
// opener.
type Manager struct {
	opener  DeviceOpener
	decoder FrameDecoder
	active  atomic.Bool
}

// NewManager creates a Manager.
func NewManager(opener DeviceOpener, decoder FrameDecoder) *Manager {
	return &Manager{opener: opener, decoder: decoder}
}

// Active reports whether a session currently owns the device.
func (m *Manager) Active() bool {
	return m.active.Load()
}

// Start acquires the device and begins the decode loop. When the
// preferred facing cannot be satisfied it retries once with an
// unconstrained selection. Starting while another session is active
// returns ErrSessionActive.
func (m *Manager) Start(ctx context.Context, preferred Facing) (*Session, error) {
	if !m.active.CompareAndSwap(false, true) {
		return nil, ErrSessionActive
	}

	device, err := m.opener.Open(ctx, preferred)
	if errors.Is(err, ErrFacingUnavailable) && preferred != FacingAny {
		device, err = m.opener.Open(ctx, FacingAny)
	}
	if err != nil {
		m.active.Store(false)
		return nil, fmt.Errorf("opening camera: %w", err)
	}

	loopCtx, cancel := context.WithCancel(ctx)
	s := &Session{
		device:  device,
		decoder: m.decoder,
		cancel:  cancel,
		results: make(chan Result, 1),
		done:    make(chan struct{}),
		release: func() { m.active.Store(false) },
	}
	go s.loop(loopCtx)
	return s, nil
}

// Session owns the device for the duration of one scan. The device is
// released on every exit path: explicit Stop, successful decode,
// decode-loop error, or cancellation of the start context.
type Session struct {
	device  Device
	decoder FrameDecoder
	cancel  context.CancelFunc
	results chan Result
	done    chan struct{}
	release func()

	torchMu sync.Mutex
	torchOn bool
}

// Results delivers the single outcome of this session. The channel is
// never closed with a pending result unread; a stopped session simply
// delivers nothing.
func (s *Session) Results() <-chan Result {
	return s.results
}

// Stop cancels the decode loop and releases the device. Idempotent:
// calling it on an already-stopped session is a no-op.
func (s *Session) Stop() {
	s.cancel()
	<-s.done
}

// ToggleTorch flips the torch if the device has one. Devices without
// torch support report ErrTorchUnsupported; callers treat that as
// informational, not a failure of the scan.
func (s *Session) ToggleTorch() error {
	if !s.device.TorchSupported() {
		return ErrTorchUnsupported
	}
	s.torchMu.Lock()
	defer s.torchMu.Unlock()
	if err := s.device.SetTorch(!s.torchOn); err != nil {
		return fmt.Errorf("toggling torch: %w", err)
	}
	s.torchOn = !s.torchOn
	return nil
}

// loop samples frames at the fixed rate until a decode lands, an error
// ends the scan, or the session is cancelled. Per-frame decode misses
// are not errors.
func (s *Session) loop(ctx context.Context) {
	defer close(s.done)
	defer s.release()
	defer s.device.Close()

	ticker := time.NewTicker(frameInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}

		frame, err := s.device.ReadFrame(ctx)
		if err != nil {
			s.publish(ctx, Result{Err: fmt.Errorf("reading frame: %w", err)})
			return
		}

		code, err := s.decoder.DecodeFrame(frame)
		if err != nil {
			if errors.Is(err, extract.ErrDecodeNotFound) {
				continue
			}
			s.publish(ctx, Result{Err: fmt.Errorf("decoding frame: %w", err)})
			return
		}

		s.publish(ctx, Result{Code: code})
		return
	}
}

// publish commits a result only if the session is still live. A decode
// completing after Stop is dropped so stale completions can never
// drive a state transition.
func (s *Session) publish(ctx context.Context, r Result) {
	if ctx.Err() != nil {
		return
	}
	s.results <- r
}
