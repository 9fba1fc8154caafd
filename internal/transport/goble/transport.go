// Package goble implements transport.Transport on top of github.com/go-ble/ble.
package goble

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/cornelk/hashmap"
	"github.com/go-ble/ble"
	"github.com/sirupsen/logrus"
	"github.com/srg/volcano/internal/transport"
)

// DeviceFactory creates ble.Device instances (can be overridden in tests)
//
//nolint:revive // DeviceFactory name is intentional for test mocking
var DeviceFactory = newPlatformDevice

// Transport is a go-ble backed GATT link to a single peripheral
type Transport struct {
	address string
	logger  *logrus.Logger

	connMutex sync.RWMutex
	dev       ble.Device
	client    ble.Client
	chars     *hashmap.Map[string, *ble.Characteristic]
}

var _ transport.Transport = (*Transport)(nil)

// NewTransport creates a transport for the peripheral at address.
// The HCI/CoreBluetooth device is opened lazily on first use.
func NewTransport(address string, logger *logrus.Logger) *Transport {
	if logger == nil {
		logger = logrus.New()
	}
	return &Transport{
		address: address,
		logger:  logger,
		chars:   hashmap.New[string, *ble.Characteristic](),
	}
}

func (t *Transport) Address() string {
	return t.address
}

// device returns the shared ble.Device, creating it on first call
func (t *Transport) device() (ble.Device, error) {
	t.connMutex.Lock()
	defer t.connMutex.Unlock()

	if t.dev != nil {
		return t.dev, nil
	}

	dev, err := DeviceFactory()
	if err != nil {
		t.logger.WithField("error", err).Error("Failed to create BLE device")
		return nil, err
	}
	t.dev = dev
	return dev, nil
}

// Discover scans until the configured address advertises or ctx expires
func (t *Transport) Discover(ctx context.Context) (bool, error) {
	dev, err := t.device()
	if err != nil {
		return false, err
	}

	scanCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	var found atomic.Bool
	err = dev.Scan(scanCtx, false, func(adv ble.Advertisement) {
		if strings.EqualFold(adv.Addr().String(), t.address) {
			t.logger.WithFields(logrus.Fields{
				"address": t.address,
				"rssi":    adv.RSSI(),
				"name":    adv.LocalName(),
			}).Debug("Peripheral found in scan")
			found.Store(true)
			cancel()
		}
	})

	if found.Load() {
		return true, nil
	}
	if err != nil && !errors.Is(err, context.Canceled) && !errors.Is(err, context.DeadlineExceeded) {
		return false, NormalizeError(err)
	}
	return false, nil
}

// Connect dials the peripheral and indexes every characteristic of its profile
func (t *Transport) Connect(ctx context.Context) error {
	if strings.TrimSpace(t.address) == "" {
		return fmt.Errorf("device address is empty")
	}

	dev, err := t.device()
	if err != nil {
		return err
	}

	t.connMutex.Lock()
	defer t.connMutex.Unlock()

	if t.client != nil {
		t.logger.WithField("address", t.address).Warn("Connection attempt while already connected")
		return transport.ErrAlreadyConnected
	}

	t.logger.WithField("address", t.address).Debug("Dialing BLE device...")
	client, err := dev.Dial(ctx, ble.NewAddr(t.address))
	if err != nil {
		return fmt.Errorf("failed to connect to device with address %q: %w", t.address, NormalizeError(err))
	}

	profile, err := client.DiscoverProfile(true)
	if err != nil {
		if cancelErr := client.CancelConnection(); cancelErr != nil {
			t.logger.WithField("cancel_error", cancelErr).Warn("Failed to cancel connection during profile discovery failure")
		}
		return fmt.Errorf("failed to discover profile: %w", NormalizeError(err))
	}

	chars := hashmap.New[string, *ble.Characteristic]()
	for _, svc := range profile.Services {
		for _, c := range svc.Characteristics {
			chars.Set(transport.NormalizeUUID(c.UUID.String()), c)
		}
	}

	t.client = client
	t.chars = chars

	t.logger.WithFields(logrus.Fields{
		"address":         t.address,
		"services":        len(profile.Services),
		"characteristics": chars.Len(),
	}).Info("BLE device connected")
	return nil
}

// Disconnect clears subscriptions and cancels the link
func (t *Transport) Disconnect() error {
	t.connMutex.Lock()
	client := t.client
	t.client = nil
	t.chars = hashmap.New[string, *ble.Characteristic]()
	t.connMutex.Unlock()

	if client == nil {
		t.logger.Debug("Disconnect called but already disconnected")
		return nil
	}

	if err := client.ClearSubscriptions(); err != nil {
		t.logger.WithField("error", err).Debug("Failed to clear subscriptions during disconnect")
	}

	if err := client.CancelConnection(); err != nil {
		t.logger.WithField("error", err).Warn("BLE device disconnected with errors")
		return NormalizeError(err)
	}

	t.logger.WithField("address", t.address).Info("BLE device disconnected")
	return nil
}

func (t *Transport) IsConnected() bool {
	t.connMutex.RLock()
	defer t.connMutex.RUnlock()
	return t.client != nil
}

// Disconnected exposes the go-ble client disconnect channel of the current link
func (t *Transport) Disconnected() <-chan struct{} {
	t.connMutex.RLock()
	defer t.connMutex.RUnlock()

	if t.client == nil {
		return nil
	}
	if c, ok := t.client.(interface{ Disconnected() <-chan struct{} }); ok {
		return c.Disconnected()
	}
	return nil
}

func (t *Transport) HasCharacteristic(uuid string) bool {
	t.connMutex.RLock()
	defer t.connMutex.RUnlock()
	_, ok := t.chars.Get(transport.NormalizeUUID(uuid))
	return ok
}

func (t *Transport) Read(ctx context.Context, uuid string) ([]byte, error) {
	client, char, err := t.lookup(uuid)
	if err != nil {
		return nil, err
	}

	var data []byte
	err = t.call(ctx, "read", uuid, func() error {
		var rerr error
		data, rerr = client.ReadCharacteristic(char)
		return rerr
	})
	if err != nil {
		return nil, err
	}
	return data, nil
}

func (t *Transport) Write(ctx context.Context, uuid string, data []byte) error {
	client, char, err := t.lookup(uuid)
	if err != nil {
		return err
	}

	payload := append([]byte(nil), data...)
	return t.call(ctx, "write", uuid, func() error {
		return client.WriteCharacteristic(char, payload, false)
	})
}

func (t *Transport) Subscribe(ctx context.Context, uuid string, handler transport.NotificationHandler) error {
	client, char, err := t.lookup(uuid)
	if err != nil {
		return err
	}
	if char.Property&ble.CharNotify == 0 && char.Property&ble.CharIndicate == 0 {
		return fmt.Errorf("characteristic %s does not support notifications", uuid)
	}

	indicate := char.Property&ble.CharNotify == 0
	return t.call(ctx, "subscribe", uuid, func() error {
		return client.Subscribe(char, indicate, func(data []byte) {
			handler(data)
		})
	})
}

func (t *Transport) Unsubscribe(uuid string) error {
	client, char, err := t.lookup(uuid)
	if err != nil {
		return err
	}

	err1 := NormalizeError(client.Unsubscribe(char, false)) // notify
	err2 := NormalizeError(client.Unsubscribe(char, true))  // indicate

	// Only report an error if both notify and indicate failed
	if err1 != nil && err2 != nil {
		return fmt.Errorf("%s: notify=%v, indicate=%v", uuid, err1, err2)
	}
	return nil
}

// lookup snapshots the client and characteristic handle under the read lock
func (t *Transport) lookup(uuid string) (ble.Client, *ble.Characteristic, error) {
	t.connMutex.RLock()
	defer t.connMutex.RUnlock()

	if t.client == nil {
		return nil, nil, transport.ErrNotConnected
	}
	char, ok := t.chars.Get(transport.NormalizeUUID(uuid))
	if !ok {
		return nil, nil, &transport.NotFoundError{Resource: "characteristic", UUID: uuid}
	}
	return t.client, char, nil
}

// call runs a blocking go-ble operation and abandons it when ctx expires.
// go-ble calls do not accept a context, so a stuck call keeps its goroutine until the link drops.
func (t *Transport) call(ctx context.Context, op, uuid string, fn func() error) error {
	resultCh := make(chan error, 1)
	go func() {
		resultCh <- fn()
	}()

	select {
	case err := <-resultCh:
		if err != nil {
			return fmt.Errorf("failed to %s characteristic %s: %w", op, uuid, NormalizeError(err))
		}
		return nil
	case <-ctx.Done():
		t.logger.WithFields(logrus.Fields{
			"op":   op,
			"uuid": uuid,
		}).Warn("BLE operation timed out")
		return fmt.Errorf("%s characteristic %s: %w", op, uuid, transport.ErrTimeout)
	}
}
