package volcano

import (
	"encoding/binary"
	"encoding/hex"
	"fmt"
	"math"
	"strings"
	"unicode/utf8"
)

// Protocol limits
const (
	MinTargetTemperature = 40
	MaxTargetTemperature = 230

	MinBrightness     = 0
	MaxBrightness     = 100
	DefaultBrightness = 70

	MinAutoOffMinutes     = 1
	MaxAutoOffMinutes     = 180
	DefaultAutoOffMinutes = 30

	// Readings outside [0, maxPlausibleTemperature] are treated as corrupt frames
	maxPlausibleTemperature = 1000
)

// switchPayload is written to the heater/fan on/off characteristics
var switchPayload = []byte{0}

func clamp(v, lo, hi int) int {
	return max(lo, min(hi, v))
}

// EncodeTargetTemperature clamps celsius to the protocol range and encodes tenths of a degree as LE u32.
// It returns the clamped value alongside the payload.
func EncodeTargetTemperature(celsius int) (int, []byte) {
	celsius = clamp(celsius, MinTargetTemperature, MaxTargetTemperature)
	buf := make([]byte, 4)
	binary.LittleEndian.PutUint32(buf, uint32(celsius*10))
	return celsius, buf
}

// EncodeBrightness clamps to 0..100 and encodes the raw percentage as LE u16
func EncodeBrightness(percent int) (int, []byte) {
	percent = clamp(percent, MinBrightness, MaxBrightness)
	buf := make([]byte, 2)
	binary.LittleEndian.PutUint16(buf, uint16(percent))
	return percent, buf
}

// EncodeAutoOff clamps minutes to 1..180 and encodes the equivalent seconds as LE u16
func EncodeAutoOff(minutes int) (int, []byte) {
	minutes = clamp(minutes, MinAutoOffMinutes, MaxAutoOffMinutes)
	buf := make([]byte, 2)
	binary.LittleEndian.PutUint16(buf, uint16(minutes*60))
	return minutes, buf
}

// EncodeBool encodes a single-byte flag
func EncodeBool(enabled bool) []byte {
	if enabled {
		return []byte{1}
	}
	return []byte{0}
}

// DecodeTemperature decodes LE u16 tenths of a degree, rounded half-to-even
func DecodeTemperature(field string, raw []byte) (int, error) {
	if len(raw) < 2 {
		return 0, &DecodeError{Field: field, Raw: raw, Reason: "payload shorter than 2 bytes"}
	}
	tenths := binary.LittleEndian.Uint16(raw[:2])
	celsius := int(math.RoundToEven(float64(tenths) / 10))
	if celsius < 0 || celsius > maxPlausibleTemperature {
		return 0, &DecodeError{Field: field, Raw: raw, Reason: fmt.Sprintf("%d°C out of range", celsius)}
	}
	return celsius, nil
}

// DecodeU16 decodes the first two bytes as LE u16
func DecodeU16(field string, raw []byte) (int, error) {
	if len(raw) < 2 {
		return 0, &DecodeError{Field: field, Raw: raw, Reason: "payload shorter than 2 bytes"}
	}
	return int(binary.LittleEndian.Uint16(raw[:2])), nil
}

// DecodeString decodes a UTF-8 descriptor string, dropping NUL padding
func DecodeString(field string, raw []byte) (string, error) {
	s := strings.TrimSpace(strings.TrimRight(string(raw), "\x00"))
	if s == "" {
		return "", &DecodeError{Field: field, Raw: raw, Reason: "empty string"}
	}
	return strings.ToValidUTF8(s, "�"), nil
}

// DecodeBool decodes a single-byte flag, non-zero meaning enabled
func DecodeBool(field string, raw []byte) (bool, error) {
	if len(raw) < 1 {
		return false, &DecodeError{Field: field, Raw: raw, Reason: "empty payload"}
	}
	return raw[0] != 0, nil
}

// DecodeFirmwareVersion tries, in order: a version-looking UTF-8 string,
// major/minor/patch bytes, and finally a hex dump.
func DecodeFirmwareVersion(raw []byte) (string, error) {
	if len(raw) == 0 {
		return "", &DecodeError{Field: "main firmware", Raw: raw, Reason: "empty payload"}
	}

	if utf8.Valid(raw) {
		s := strings.TrimSpace(strings.TrimRight(string(raw), "\x00"))
		if strings.HasPrefix(s, "V") || strings.Contains(s, ".") {
			return s, nil
		}
	}

	if len(raw) >= 3 {
		return fmt.Sprintf("V%02d.%02d.%d", raw[0], raw[1], raw[2]), nil
	}
	return "V" + hex.EncodeToString(raw), nil
}

// DecodeAutoOffMinutes accepts a single byte or LE u16. Values above 180 that are whole
// minutes are taken to be seconds. Anything outside 1..180 yields the 30 minute default
// together with a DecodeError.
func DecodeAutoOffMinutes(raw []byte) (int, error) {
	var minutes int
	switch len(raw) {
	case 0:
		return DefaultAutoOffMinutes, &DecodeError{Field: "auto-off", Raw: raw, Reason: "empty payload"}
	case 1:
		minutes = int(raw[0])
	default:
		minutes = int(binary.LittleEndian.Uint16(raw[:2]))
	}

	if minutes > MaxAutoOffMinutes && minutes%60 == 0 {
		minutes /= 60
	}

	if minutes < MinAutoOffMinutes || minutes > MaxAutoOffMinutes {
		return DefaultAutoOffMinutes, &DecodeError{
			Field:  "auto-off",
			Raw:    raw,
			Reason: fmt.Sprintf("%d minutes out of range", minutes),
		}
	}
	return minutes, nil
}
