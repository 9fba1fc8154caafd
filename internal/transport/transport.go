// Package transport defines the GATT link capability the device engine is written against.
//
// A Transport owns exactly one peripheral address. Implementations must be safe for
// concurrent use, but callers are expected to serialize link-touching operations
// themselves; the engine holds a single exclusive lock around every call except
// notification delivery.
package transport

import (
	"context"
)

// NotificationHandler receives raw characteristic payloads pushed by the peripheral.
// The slice is only valid for the duration of the call.
type NotificationHandler func(data []byte)

// Transport is a connect/read/write/subscribe capability for a single peripheral
type Transport interface {
	// Address returns the peripheral address this transport dials.
	Address() string

	// Discover scans for the peripheral and reports whether it was seen before ctx expired.
	Discover(ctx context.Context) (bool, error)

	// Connect opens the link and discovers the GATT profile.
	Connect(ctx context.Context) error

	// Disconnect closes the link. Disconnecting an idle transport is not an error.
	Disconnect() error

	IsConnected() bool

	// Disconnected returns a channel closed when the current link drops.
	// It returns nil while no link is open.
	Disconnected() <-chan struct{}

	// HasCharacteristic reports whether the discovered profile exposes the characteristic.
	HasCharacteristic(uuid string) bool

	Read(ctx context.Context, uuid string) ([]byte, error)
	Write(ctx context.Context, uuid string, data []byte) error
	Subscribe(ctx context.Context, uuid string, handler NotificationHandler) error
	Unsubscribe(uuid string) error
}
