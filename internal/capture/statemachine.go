package capture

import (
	"errors"
	"fmt"
	"sync"

	"github.com/frotaapp/capture/internal/extract"
)

// State is the capture flow position. Home is both the initial state
// and the state every terminal or error path returns to.
type State int

const (
	StateHome State = iota
	StateScanning
	StateLoading
	StateManual
	StateSuccess
)

func (s State) String() string {
	switch s {
	case StateHome:
		return "home"
	case StateScanning:
		return "scanning"
	case StateLoading:
		return "loading"
	case StateManual:
		return "manual"
	case StateSuccess:
		return "success"
	}
	return fmt.Sprintf("State(%d)", int(s))
}

// ErrCaptureInFlight rejects starting a capture while another one is
// active.
var ErrCaptureInFlight = errors.New("another capture is already in progress")

// ErrInvalidTransition reports a transition the flow graph does not
// allow.
var ErrInvalidTransition = errors.New("invalid capture state transition")

// Machine is the tagged-union state machine orchestrating one capture
// at a time. Leaving Scanning always stops the camera session first.
type Machine struct {
	mu       sync.Mutex
	state    State
	stopScan func()
	message  string
}

// NewMachine creates a Machine in Home.
func NewMachine() *Machine {
	return &Machine{state: StateHome}
}

// State returns the current state.
func (m *Machine) State() State {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

// Message returns the human-readable failure message from the last
// capture attempt, if any.
func (m *Machine) Message() string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.message
}

// BeginScan enters Scanning. The stop callback is invoked whenever the
// machine leaves Scanning, so the camera session can never be left
// running.
func (m *Machine) BeginScan(stop func()) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	switch m.state {
	case StateHome:
		m.state = StateScanning
		m.stopScan = stop
		m.message = ""
		return nil
	case StateScanning, StateLoading, StateManual:
		return ErrCaptureInFlight
	case StateSuccess:
		return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, m.state, StateScanning)
	}
	return fmt.Errorf("%w: unknown state %s", ErrInvalidTransition, m.state)
}

// BeginLoad enters Loading for a gallery/file capture.
func (m *Machine) BeginLoad() error {
	return m.begin(StateLoading)
}

// BeginManual enters Manual entry.
func (m *Machine) BeginManual() error {
	return m.begin(StateManual)
}

func (m *Machine) begin(next State) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	switch m.state {
	case StateHome:
		m.state = next
		m.message = ""
		return nil
	case StateScanning, StateLoading, StateManual:
		return ErrCaptureInFlight
	case StateSuccess:
		return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, m.state, next)
	}
	return fmt.Errorf("%w: unknown state %s", ErrInvalidTransition, m.state)
}

// Complete moves an active capture to Success.
func (m *Machine) Complete() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	switch m.state {
	case StateScanning:
		m.leaveScanningLocked()
		m.state = StateSuccess
		return nil
	case StateLoading, StateManual:
		m.state = StateSuccess
		return nil
	case StateHome, StateSuccess:
		return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, m.state, StateSuccess)
	}
	return fmt.Errorf("%w: unknown state %s", ErrInvalidTransition, m.state)
}

// Fail returns the machine to Home with a human-readable message. Safe
// from every state; failing while already Home keeps the message for
// the user.
func (m *Machine) Fail(message string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	switch m.state {
	case StateScanning:
		m.leaveScanningLocked()
	case StateHome, StateLoading, StateManual, StateSuccess:
	}
	m.state = StateHome
	m.message = message
}

// Back handles back-navigation. From Scanning or Manual it returns to
// Home instead of leaving the capture screen; from Home it stays in
// Home.
func (m *Machine) Back() {
	m.mu.Lock()
	defer m.mu.Unlock()
	switch m.state {
	case StateScanning:
		m.leaveScanningLocked()
		m.state = StateHome
	case StateManual, StateSuccess:
		m.state = StateHome
	case StateHome, StateLoading:
	}
}

// Reset acknowledges a completed capture, returning to Home.
func (m *Machine) Reset() {
	m.mu.Lock()
	defer m.mu.Unlock()
	switch m.state {
	case StateSuccess:
		m.state = StateHome
		m.message = ""
	case StateHome, StateScanning, StateLoading, StateManual:
	}
}

func (m *Machine) leaveScanningLocked() {
	if m.stopScan != nil {
		m.stopScan()
		m.stopScan = nil
	}
}

// ValidateManualKey checks a hand-typed fiscal key locally: after
// stripping non-digits it must be exactly 44 digits. The rejection
// carries the actual digit count so the UI can report it.
func ValidateManualKey(raw string) (string, error) {
	digits := extract.Digits(raw)
	if len(digits) != extract.KeyLength() {
		return "", &ManualValidationError{Digits: len(digits)}
	}
	return digits, nil
}
