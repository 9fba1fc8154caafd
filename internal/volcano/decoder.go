package volcano

import (
	"encoding/binary"
	"encoding/hex"

	"github.com/sirupsen/logrus"
)

// Source tags where a primary-status payload came from
type Source int

const (
	SourceInitialRead Source = iota
	SourceNotification
	SourceUserCommand
)

func (s Source) String() string {
	switch s {
	case SourceInitialRead:
		return "initial-read"
	case SourceNotification:
		return "notification"
	case SourceUserCommand:
		return "user-command"
	default:
		return "unknown"
	}
}

// Primary status word bits
const (
	statusHeaterBit uint16 = 0x0020
	statusFanBit    uint16 = 0x2000
)

// StatusFlags is the semantic content of a primary-status payload
type StatusFlags struct {
	Word     uint16
	HeaterOn bool
	FanOn    bool

	// Temperature is a best-effort guess from the high byte, valid only when HasTemperature is set
	Temperature    int
	HasTemperature bool
}

// DecodeStatus interprets the first two bytes of a primary-status payload as a LE word
func DecodeStatus(payload []byte) (StatusFlags, error) {
	if len(payload) < 2 {
		return StatusFlags{}, &DecodeError{Field: "primary status", Raw: payload, Reason: "payload shorter than 2 bytes"}
	}

	v := binary.LittleEndian.Uint16(payload[:2])
	flags := StatusFlags{
		Word:     v,
		HeaterOn: v&statusHeaterBit != 0,
		FanOn:    v&statusFanBit != 0,
	}

	if t := int((v & 0xFF00) >> 8); t >= MinTargetTemperature && t <= MaxTargetTemperature {
		flags.Temperature = t
		flags.HasTemperature = true
	}
	return flags, nil
}

// Decoder feeds primary-status payloads into the store
type Decoder struct {
	store  *Store
	logger *logrus.Logger
}

func NewDecoder(store *Store, logger *logrus.Logger) *Decoder {
	if logger == nil {
		logger = logrus.New()
	}
	return &Decoder{store: store, logger: logger}
}

// Handle decodes payload and applies it. Malformed payloads leave the state untouched.
func (d *Decoder) Handle(payload []byte, source Source) error {
	flags, err := DecodeStatus(payload)
	if err != nil {
		d.logger.WithFields(logrus.Fields{
			"source": source,
			"raw":    hex.EncodeToString(payload),
		}).WithError(err).Warn("Dropping malformed status payload")
		return err
	}

	d.logger.WithFields(logrus.Fields{
		"source": source,
		"word":   flags.Word,
		"heater": flags.HeaterOn,
		"fan":    flags.FanOn,
	}).Debug("Status decoded")

	d.store.ApplyStatus(flags, source)
	return nil
}
