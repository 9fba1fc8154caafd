package volcano

import (
	"encoding/hex"
	"errors"
	"fmt"
)

var (
	// ErrNotConnected matches any *NotConnectedError via errors.Is
	ErrNotConnected = errors.New("device not connected")

	// ErrQueueStopped resolves commands abandoned by a stopping serializer
	ErrQueueStopped = errors.New("command queue stopped")

	// ErrUnsupported is returned when the device does not expose a characteristic
	ErrUnsupported = errors.New("unsupported by device")
)

// ConnectError reports a failed connect sequence (scan, open or timeout)
type ConnectError struct {
	Address  string
	Attempts int
	Err      error
}

func (e *ConnectError) Error() string {
	if e.Attempts > 0 {
		return fmt.Sprintf("connect to %s failed after %d attempt(s): %v", e.Address, e.Attempts, e.Err)
	}
	return fmt.Sprintf("connect to %s failed: %v", e.Address, e.Err)
}

func (e *ConnectError) Unwrap() error {
	return e.Err
}

// CommandError reports a single command that failed or timed out.
// It never aborts the queue.
type CommandError struct {
	Characteristic string
	Err            error
}

func (e *CommandError) Error() string {
	return fmt.Sprintf("command %s failed: %v", CharacteristicName(e.Characteristic), e.Err)
}

func (e *CommandError) Unwrap() error {
	return e.Err
}

// DecodeError reports a malformed or out-of-range payload.
// Decode errors are logged and the previous value is kept; they are never surfaced by reads.
type DecodeError struct {
	Field  string
	Raw    []byte
	Reason string
}

func (e *DecodeError) Error() string {
	return fmt.Sprintf("decode %s from %q: %s", e.Field, hex.EncodeToString(e.Raw), e.Reason)
}

// NotConnectedError reports an operation attempted without a live link
type NotConnectedError struct {
	Op  string
	Err error
}

func (e *NotConnectedError) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("%s: %v", e.Op, ErrNotConnected)
	}
	return fmt.Sprintf("%s: %v: %v", e.Op, ErrNotConnected, e.Err)
}

func (e *NotConnectedError) Unwrap() error {
	return e.Err
}

// Is allows errors.Is(err, ErrNotConnected)
func (e *NotConnectedError) Is(target error) bool {
	return target == ErrNotConnected
}
