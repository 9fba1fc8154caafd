package main

import (
	"context"
	"errors"
	"fmt"

	"github.com/srg/volcano/internal/transport"
	"github.com/srg/volcano/internal/volcano"
)

// Command-level errors
var (
	ErrNoAddress = errors.New("no device address: pass --address or set \"address\" in the config file")
)

// FormatUserError turns engine errors into a one-line message for the terminal
func FormatUserError(err error) string {
	var (
		connErr *volcano.ConnectError
		cmdErr  *volcano.CommandError
	)

	switch {
	case errors.Is(err, transport.ErrBluetoothOff):
		return "Bluetooth is turned off"
	case errors.Is(err, volcano.ErrUnsupported):
		return fmt.Sprintf("this device does not support the requested setting (%v)", err)
	case errors.As(err, &connErr):
		if connErr.Attempts > 0 {
			return fmt.Sprintf("could not connect to %s after %d attempt(s): %v", connErr.Address, connErr.Attempts, connErr.Err)
		}
		return fmt.Sprintf("could not connect to %s: %v", connErr.Address, connErr.Err)
	case errors.Is(err, context.DeadlineExceeded):
		return fmt.Sprintf("operation timed out (%v)", err)
	case errors.As(err, &cmdErr):
		return fmt.Sprintf("device rejected %s: %v", volcano.CharacteristicName(cmdErr.Characteristic), cmdErr.Err)
	default:
		return err.Error()
	}
}
