package volcano

import (
	"context"
	"errors"

	"github.com/sirupsen/logrus"
	"github.com/srg/volcano/internal/transport"
)

// readOptional reads uuid if the link is up and the profile exposes it.
// ok is false when the value is unavailable for any reason.
func (d *Device) readOptional(ctx context.Context, uuid string) (raw []byte, ok bool) {
	err := d.conn.DoIfConnected(ctx, "read "+CharacteristicName(uuid), func(ctx context.Context, t transport.Transport) error {
		if !t.HasCharacteristic(uuid) {
			return &transport.NotFoundError{Resource: "characteristic", UUID: uuid}
		}

		ctx, cancel := context.WithTimeout(ctx, d.cfg.Connection.ReadTimeout)
		defer cancel()

		var err error
		raw, err = t.Read(ctx, uuid)
		return err
	})

	if err != nil {
		log := d.logger.WithField("characteristic", CharacteristicName(uuid)).WithError(err)
		var notFound *transport.NotFoundError
		if errors.As(err, &notFound) || errors.Is(err, ErrNotConnected) {
			log.Debug("Background read skipped")
		} else {
			log.Warn("Background read failed")
		}
		return nil, false
	}
	return raw, true
}

func (d *Device) logDecode(err error) {
	d.logger.WithError(err).Warn("Ignoring undecodable device value")
}

// readDeviceInfo reads the static descriptors and publishes them in one update.
// Each read is independent; failures keep the previous values.
func (d *Device) readDeviceInfo(ctx context.Context) {
	var (
		serial, bleFW, mainFW *string
		hours, minutes        *int
	)

	if raw, ok := d.readOptional(ctx, SerialNumberUUID); ok {
		if v, err := DecodeString("serial number", raw); err == nil {
			serial = &v
		} else {
			d.logDecode(err)
		}
	}

	if raw, ok := d.readOptional(ctx, BLEFirmwareUUID); ok {
		if v, err := DecodeString("BLE firmware", raw); err == nil {
			bleFW = &v
		} else {
			d.logDecode(err)
		}
	}

	if raw, ok := d.readOptional(ctx, OperatingHoursUUID); ok {
		if v, err := DecodeU16("operating hours", raw); err == nil {
			hours = &v
		} else {
			d.logDecode(err)
		}
	}

	if raw, ok := d.readOptional(ctx, OperatingMinutesUUID); ok {
		if v, err := DecodeU16("operating minutes", raw); err == nil {
			minutes = &v
		} else {
			d.logDecode(err)
		}
	}

	if raw, ok := d.readOptional(ctx, MainFirmwareUUID); ok {
		if v, err := DecodeFirmwareVersion(raw); err == nil {
			mainFW = &v
		} else {
			d.logDecode(err)
		}
	}

	d.store.Update(func(st *DeviceState) {
		if serial != nil {
			st.Info.SerialNumber = serial
		}
		if bleFW != nil {
			st.Info.BLEFirmware = bleFW
		}
		if mainFW != nil {
			st.Info.MainFirmware = mainFW
		}
		if hours != nil {
			st.Info.OperatingHours.Hours = *hours
		}
		if minutes != nil {
			st.Info.OperatingHours.Minutes = *minutes
		}
	})

	d.logger.WithFields(logrus.Fields{
		"serial":        deref(serial),
		"ble_firmware":  deref(bleFW),
		"main_firmware": deref(mainFW),
	}).Debug("Device info read")
}

// readSettings reads auto-off and the two toggles and publishes them in one update.
// Absent toggles keep their current value.
func (d *Device) readSettings(ctx context.Context) {
	var (
		autoOff              *int
		vibration, onCooling *bool
	)

	for _, uuid := range autoOffCandidates {
		raw, ok := d.readOptional(ctx, uuid)
		if !ok {
			continue
		}
		minutes, err := DecodeAutoOffMinutes(raw)
		if err != nil {
			d.logger.WithError(err).WithField("minutes", minutes).Debug("Auto-off value out of range, using default")
		}
		seconds := minutes * 60
		autoOff = &seconds
		break
	}

	if raw, ok := d.readOptional(ctx, VibrationUUID); ok {
		if v, err := DecodeBool("vibration", raw); err == nil {
			vibration = &v
		} else {
			d.logDecode(err)
		}
	}

	if raw, ok := d.readOptional(ctx, DisplayOnCoolingUUID); ok {
		if v, err := DecodeBool("display on cooling", raw); err == nil {
			onCooling = &v
		} else {
			d.logDecode(err)
		}
	}

	d.store.Update(func(st *DeviceState) {
		if autoOff != nil {
			st.Info.AutoOffSeconds = *autoOff
		}
		if vibration != nil {
			st.VibrationEnabled = *vibration
		}
		if onCooling != nil {
			st.DisplayOnCooling = *onCooling
		}
	})
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}
