// Package volcano drives a Volcano Hybrid over a GATT transport.
//
// A Device owns one link. Writes go through a FIFO command serializer that
// spaces them by a minimum interval; reads and writes share a single
// connection lock so at most one operation touches the transport at a time.
// Status notifications update the state store, which publishes immutable
// snapshots to registered observers.
//
//	dev := volcano.New(goble.NewTransport(addr, logger), cfg, logger)
//	if err := dev.Connect(ctx); err != nil { ... }
//	defer dev.Disconnect(context.Background())
//	err := dev.SetTargetTemperature(ctx, 185)
package volcano

import (
	"context"
	"encoding/hex"
	"errors"
	"fmt"
	"sync"

	"github.com/sirupsen/logrus"
	"github.com/srg/volcano/internal/groutine"
	"github.com/srg/volcano/internal/transport"
	"github.com/srg/volcano/pkg/config"
)

// Device is the caller-facing handle for a single appliance
type Device struct {
	cfg    *config.Config
	logger *logrus.Logger

	transport  transport.Transport
	store      *Store
	decoder    *Decoder
	conn       *Connection
	serializer *Serializer

	// session activities started on every successful connect
	session groutine.Group

	// animStart orders start and stop so only one animation is ever installed
	animStart sync.Mutex
	animMu    sync.Mutex
	anim      *animation
}

// New wires the engine around t. A nil cfg uses defaults; a nil logger uses logrus.New().
func New(t transport.Transport, cfg *config.Config, logger *logrus.Logger) *Device {
	if cfg == nil {
		cfg = config.DefaultConfig()
	}
	if logger == nil {
		logger = logrus.New()
	}

	d := &Device{
		cfg:       cfg,
		logger:    logger,
		transport: t,
	}

	d.store = NewStore(cfg.OverrideWindow, logger)
	d.decoder = NewDecoder(d.store, logger)
	d.conn = NewConnection(t, cfg.Connection, d.store, d.decoder, logger)
	d.conn.onConnected = d.startSession
	d.serializer = NewSerializer(d.execute, cfg.Commands.MinInterval, cfg.Commands.Timeout, logger)
	return d
}

func (d *Device) Address() string {
	return d.transport.Address()
}

// Connect opens the link. Session activities start in the background.
func (d *Device) Connect(ctx context.Context) error {
	return d.conn.Connect(ctx)
}

// Disconnect stops the animation and the serializer, then closes the link
func (d *Device) Disconnect(ctx context.Context) error {
	d.StopAnimation()
	d.serializer.Stop(d.cfg.Commands.DrainTimeout)

	err := d.conn.Disconnect(ctx)

	if !d.session.Wait(d.cfg.Connection.ConnectTimeout) {
		d.logger.Warn("Session activities still running after disconnect")
	}
	if !d.conn.Wait(d.cfg.Commands.DrainTimeout) {
		d.logger.Warn("Connection monitor still running after disconnect")
	}
	return err
}

// State returns the current snapshot
func (d *Device) State() DeviceState {
	return d.store.Snapshot()
}

// ConnectionState returns the link state
func (d *Device) ConnectionState() ConnectionState {
	return d.conn.State()
}

// RegisterStateObserver adds an observer and returns a function that removes it
func (d *Device) RegisterStateObserver(obs StateObserver) func() {
	return d.store.Observe(obs)
}

// startSession is called under the connection lock right after a connect
func (d *Device) startSession(session context.Context) {
	d.serializer.Start()

	d.session.Go(session, "volcano-temperature", func(ctx context.Context) {
		if _, err := d.ReadCurrentTemperature(ctx); err != nil {
			d.logger.WithError(err).Debug("Initial current temperature read failed")
		}
		if _, err := d.ReadTargetTemperature(ctx); err != nil {
			d.logger.WithError(err).Debug("Initial target temperature read failed")
		}
	})

	d.session.Go(session, "volcano-readers", func(ctx context.Context) {
		d.readDeviceInfo(ctx)
		d.readSettings(ctx)
	})

	d.session.Go(session, "volcano-keepalive", d.keepalive)
}

// execute is the serializer's write path
func (d *Device) execute(ctx context.Context, uuid string, payload []byte) error {
	return d.conn.Do(ctx, "write "+CharacteristicName(uuid), func(ctx context.Context, t transport.Transport) error {
		ctx, cancel := context.WithTimeout(ctx, d.cfg.Connection.WriteTimeout)
		defer cancel()
		return t.Write(ctx, uuid, payload)
	})
}

// read performs a single fresh read under the lock, connecting first if needed
func (d *Device) read(ctx context.Context, uuid string) ([]byte, error) {
	var raw []byte
	err := d.conn.Do(ctx, "read "+CharacteristicName(uuid), func(ctx context.Context, t transport.Transport) error {
		ctx, cancel := context.WithTimeout(ctx, d.cfg.Connection.ReadTimeout)
		defer cancel()

		var err error
		raw, err = t.Read(ctx, uuid)
		return err
	})
	return raw, err
}

// hasCharacteristic probes the discovered profile
func (d *Device) hasCharacteristic(ctx context.Context, uuid string) (bool, error) {
	var ok bool
	err := d.conn.Do(ctx, "probe "+CharacteristicName(uuid), func(_ context.Context, t transport.Transport) error {
		ok = t.HasCharacteristic(uuid)
		return nil
	})
	return ok, err
}

func (d *Device) TurnHeaterOn(ctx context.Context) error {
	return d.setHeater(ctx, true)
}

func (d *Device) TurnHeaterOff(ctx context.Context) error {
	return d.setHeater(ctx, false)
}

func (d *Device) setHeater(ctx context.Context, on bool) error {
	uuid := HeaterOffUUID
	if on {
		uuid = HeaterOnUUID
	}
	if err := d.serializer.Do(ctx, uuid, switchPayload); err != nil {
		return err
	}
	d.store.SetHeater(on)
	return nil
}

func (d *Device) TurnFanOn(ctx context.Context) error {
	return d.setFan(ctx, true)
}

func (d *Device) TurnFanOff(ctx context.Context) error {
	return d.setFan(ctx, false)
}

func (d *Device) setFan(ctx context.Context, on bool) error {
	uuid := FanOffUUID
	if on {
		uuid = FanOnUUID
	}
	if err := d.serializer.Do(ctx, uuid, switchPayload); err != nil {
		return err
	}
	d.store.Update(func(st *DeviceState) {
		st.FanOn = on
	})
	return nil
}

// SetTargetTemperature clamps celsius to 40..230 and writes it
func (d *Device) SetTargetTemperature(ctx context.Context, celsius int) error {
	clamped, payload := EncodeTargetTemperature(celsius)
	if clamped != celsius {
		d.logger.WithFields(logrus.Fields{
			"requested": celsius,
			"clamped":   clamped,
		}).Warn("Target temperature clamped")
	}

	if err := d.serializer.Do(ctx, TargetTemperatureUUID, payload); err != nil {
		return err
	}
	d.store.SetTargetTemperature(clamped)
	return nil
}

// SetBrightness clamps percent to 0..100 and writes it
func (d *Device) SetBrightness(ctx context.Context, percent int) error {
	clamped, payload := EncodeBrightness(percent)
	if err := d.serializer.Do(ctx, ScreenBrightnessUUID, payload); err != nil {
		return err
	}
	d.store.Update(func(st *DeviceState) {
		st.Brightness = clamped
	})
	return nil
}

// ReadCurrentTemperature serves a reading younger than the cache TTL, otherwise
// reads the device. Failures fall back to the last known value.
func (d *Device) ReadCurrentTemperature(ctx context.Context) (int, error) {
	ttl := d.cfg.TemperatureCacheTTL
	if v, ok := d.store.FreshTemperature(ttl); ok {
		return v, nil
	}

	var (
		celsius int
		cached  bool
	)
	err := d.conn.Do(ctx, "read current temperature", func(ctx context.Context, t transport.Transport) error {
		// a concurrent caller may have refreshed the cache while we waited for the lock
		if v, ok := d.store.FreshTemperature(ttl); ok {
			celsius, cached = v, true
			return nil
		}

		ctx, cancel := context.WithTimeout(ctx, d.cfg.Connection.ReadTimeout)
		defer cancel()
		raw, err := t.Read(ctx, CurrentTemperatureUUID)
		if err != nil {
			return err
		}

		v, derr := DecodeTemperature("current temperature", raw)
		if derr != nil {
			d.logger.WithError(derr).Warn("Discarding current temperature reading")
			return nil
		}
		celsius, cached = v, true
		d.store.SetCurrentTemperature(v)
		return nil
	})
	if err == nil && cached {
		return celsius, nil
	}

	if last, ok := d.store.LastTemperature(); ok {
		if err != nil {
			d.logger.WithError(err).Debug("Current temperature read failed, using last known value")
		}
		return last, nil
	}
	if err == nil {
		err = errors.New("no valid reading")
	}
	return 0, fmt.Errorf("read current temperature: %w", err)
}

// ReadTargetTemperature always reads the device, falling back to the last known value
func (d *Device) ReadTargetTemperature(ctx context.Context) (int, error) {
	raw, err := d.read(ctx, TargetTemperatureUUID)
	if err == nil {
		v, derr := DecodeTemperature("target temperature", raw)
		if derr == nil {
			d.store.SetTargetTemperature(v)
			return v, nil
		}
		d.logger.WithError(derr).Warn("Discarding target temperature reading")
		err = derr
	}

	if last, ok := d.store.LastTargetTemperature(); ok {
		d.logger.WithError(err).Debug("Target temperature read failed, using last known value")
		return last, nil
	}
	return 0, fmt.Errorf("read target temperature: %w", err)
}

// SetAutoOffMinutes writes the auto-off time to the first characteristic that accepts it
func (d *Device) SetAutoOffMinutes(ctx context.Context, minutes int) error {
	clamped, payload := EncodeAutoOff(minutes)

	var errs []error
	tried := 0
	for _, uuid := range autoOffCandidates {
		ok, err := d.hasCharacteristic(ctx, uuid)
		if err != nil {
			return err
		}
		if !ok {
			continue
		}

		tried++
		if err := d.serializer.Do(ctx, uuid, payload); err != nil {
			d.logger.WithError(err).WithField("characteristic", CharacteristicName(uuid)).Debug("Auto-off write failed, trying next characteristic")
			errs = append(errs, err)
			continue
		}

		d.store.Update(func(st *DeviceState) {
			st.Info.AutoOffSeconds = clamped * 60
		})
		return nil
	}

	if tried == 0 {
		return fmt.Errorf("set auto-off: %w", ErrUnsupported)
	}
	return fmt.Errorf("set auto-off: %w", errors.Join(errs...))
}

// SetVibrationEnabled writes the vibration setting. The local value follows the
// request even when the write fails; the write error is still returned.
func (d *Device) SetVibrationEnabled(ctx context.Context, enabled bool) error {
	return d.setToggle(ctx, VibrationUUID, enabled, func(st *DeviceState) {
		st.VibrationEnabled = enabled
	})
}

// SetDisplayOnCooling writes the display-on-cooling setting with the same
// local-update policy as SetVibrationEnabled.
func (d *Device) SetDisplayOnCooling(ctx context.Context, enabled bool) error {
	return d.setToggle(ctx, DisplayOnCoolingUUID, enabled, func(st *DeviceState) {
		st.DisplayOnCooling = enabled
	})
}

func (d *Device) setToggle(ctx context.Context, uuid string, enabled bool, apply func(*DeviceState)) error {
	ok, err := d.hasCharacteristic(ctx, uuid)
	if err != nil {
		return err
	}
	if !ok {
		return fmt.Errorf("set %s: %w", CharacteristicName(uuid), ErrUnsupported)
	}

	werr := d.serializer.Do(ctx, uuid, EncodeBool(enabled))
	if werr != nil {
		d.logger.WithError(werr).WithField("characteristic", CharacteristicName(uuid)).Warn("Setting write failed, keeping requested value locally")
	}
	d.store.Update(apply)
	return werr
}

// RawStatus reads the primary status characteristic and returns its hex form
func (d *Device) RawStatus(ctx context.Context) (string, error) {
	raw, err := d.read(ctx, PrimaryStatusUUID)
	if err != nil {
		return "", fmt.Errorf("read raw status: %w", err)
	}
	d.store.SetRawStatus(raw)
	return hex.EncodeToString(raw), nil
}

// RefreshDeviceInfo re-reads descriptors and settings, connecting first if needed
func (d *Device) RefreshDeviceInfo(ctx context.Context) error {
	if err := d.conn.Do(ctx, "refresh device info", func(context.Context, transport.Transport) error {
		return nil
	}); err != nil {
		return err
	}
	d.readDeviceInfo(ctx)
	d.readSettings(ctx)
	return nil
}
