package qubx

import (
	"errors"
	"fmt"
	"strings"
)

var (
	// ErrNameConflict is returned when a stream or process name is
	// already registered.
	ErrNameConflict = errors.New("name already registered")
	// ErrUnknownTarget is returned when a dsp process is dispatched or
	// bound to a stream that does not exist or is already closed.
	ErrUnknownTarget = errors.New("unknown target")
	// ErrBackpressure is returned when a job queue is full. The job is
	// rejected, the caller decides whether to retry or drop.
	ErrBackpressure = errors.New("job queue full")
	// ErrShutdownTimeout is returned when a thread fails to join within
	// the close deadline. The thread is abandoned, not awaited.
	ErrShutdownTimeout = errors.New("shutdown timeout")
	// ErrClosed is returned on operations against a closed handle.
	ErrClosed = errors.New("closed")
	// ErrAlreadyStarted is returned when a stream is started twice.
	ErrAlreadyStarted = errors.New("already started")
)

// ConfigError is returned when stream parameters fail validation.
type ConfigError struct {
	Field string
	Value int
}

func (e *ConfigError) Error() string {
	return fmt.Sprintf("invalid stream parameters: %s must be positive, got %d", e.Field, e.Value)
}

// DeviceError wraps a failure of the device I/O binding.
type DeviceError struct {
	Op  string
	Err error
}

func (e *DeviceError) Error() string {
	return fmt.Sprintf("device %s: %v", e.Op, e.Err)
}

func (e *DeviceError) Unwrap() error { return e.Err }

// closeErrors aggregates errors from a best-effort teardown.
type closeErrors []error

func (e closeErrors) Error() string {
	s := make([]string, 0, len(e))
	for _, err := range e {
		s = append(s, err.Error())
	}
	return strings.Join(s, ",")
}

// Is reports whether any of the aggregated errors matches err.
func (e closeErrors) Is(err error) bool {
	for _, ce := range e {
		if errors.Is(ce, err) {
			return true
		}
	}
	return false
}

// ret returns untyped nil if the error list is empty.
func (e closeErrors) ret() error {
	if len(e) > 0 {
		return e
	}
	return nil
}
