package goble

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/srg/volcano/internal/transport"
)

// errorPatterns maps lowercase fragments of go-ble and HCI messages to transport sentinels.
// First match wins.
var errorPatterns = []struct {
	fragment string
	sentinel error
}{
	// darwin CoreBluetooth reports poweredOff as state 4
	{"central manager has invalid state: have=4", transport.ErrBluetoothOff},
	{"bluetooth is turned off", transport.ErrBluetoothOff},
	{"device already connected", transport.ErrAlreadyConnected},
	{"connection is not initialized", transport.ErrNotInitialized},
	{"le-connection-abort", transport.ErrNotConnected},
	{"remote user terminated connection", transport.ErrNotConnected},
	{"device not connected", transport.ErrNotConnected},
	{"disconnected", transport.ErrNotConnected},
	{"connection timed out", transport.ErrTimeout},
}

// NormalizeError wraps err with the transport sentinel its message or cause maps to.
// The original error stays in the chain; unknown errors are returned as is.
func NormalizeError(err error) error {
	if err == nil {
		return nil
	}

	if errors.Is(err, context.DeadlineExceeded) {
		return fmt.Errorf("%w: %w", transport.ErrTimeout, err)
	}

	msg := strings.ToLower(err.Error())
	for _, p := range errorPatterns {
		if strings.Contains(msg, p.fragment) {
			return fmt.Errorf("%w: %w", p.sentinel, err)
		}
	}
	return err
}
