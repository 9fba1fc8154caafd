package main

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"testing"

	"github.com/srg/volcano/internal/transport"
	"github.com/srg/volcano/internal/volcano"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gopkg.in/yaml.v3"
)

func sampleState() volcano.DeviceState {
	serial := "VH123456"
	return volcano.DeviceState{
		CurrentTemperature: 180,
		TargetTemperature:  185,
		HeaterOn:           true,
		Brightness:         70,
		Connected:          true,
		ConnectionState:    volcano.Connected,
		VibrationEnabled:   true,
		Info: volcano.DeviceInfo{
			SerialNumber:   &serial,
			OperatingHours: volcano.OperatingHours{Hours: 300, Minutes: 5},
			AutoOffSeconds: 1800,
		},
	}
}

func TestRenderState_JSONKeepsFieldOrder(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, renderState(&buf, sampleState(), "json"))
	out := buf.String()

	var decoded map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &decoded))
	assert.Equal(t, "connected", decoded["connection"])
	assert.Equal(t, "on", decoded["heater"])
	assert.Equal(t, float64(185), decoded["target_temperature"])

	info, ok := decoded["info"].(map[string]any)
	require.True(t, ok)
	assert.Equal(t, "VH123456", info["serial_number"])
	assert.Equal(t, "unknown", info["ble_firmware"])
	assert.Equal(t, "300h 05m", info["operating_hours"])
	assert.Equal(t, float64(30), info["auto_off_minutes"])

	keys := []string{`"connection"`, `"current_temperature"`, `"target_temperature"`, `"heater"`, `"fan"`, `"info"`}
	last := -1
	for _, k := range keys {
		idx := strings.Index(out, k)
		require.Greater(t, idx, last, "%s MUST follow the previous field", k)
		last = idx
	}
	assert.NotContains(t, out, "raw_status", "empty raw status MUST be omitted")
}

func TestRenderState_YAML(t *testing.T) {
	st := sampleState()
	st.RawStatus = "2000"

	var buf bytes.Buffer
	require.NoError(t, renderState(&buf, st, "yaml"))

	var decoded map[string]any
	require.NoError(t, yaml.Unmarshal(buf.Bytes(), &decoded))
	assert.Equal(t, "2000", decoded["raw_status"])
	assert.Equal(t, 180, decoded["current_temperature"])
	assert.True(t, strings.HasPrefix(buf.String(), "connection: connected\n"))
}

func TestRenderState_Table(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, renderState(&buf, sampleState(), "table"))

	out := buf.String()
	assert.Contains(t, out, "current temperature:")
	assert.Contains(t, out, "info:\n")
	assert.Contains(t, out, "  serial number:")
	assert.NotContains(t, out, "\x1b[36m", "labels MUST NOT be coloured for a non-terminal writer")
}

func TestParseOnOff(t *testing.T) {
	for _, arg := range []string{"on", "ON", "true", "1"} {
		v, err := parseOnOff(arg)
		require.NoError(t, err)
		assert.True(t, v, arg)
	}
	for _, arg := range []string{"off", "Off", "false", "0"} {
		v, err := parseOnOff(arg)
		require.NoError(t, err)
		assert.False(t, v, arg)
	}

	_, err := parseOnOff("maybe")
	assert.ErrorContains(t, err, "must be on or off")
}

func TestValidateFormat(t *testing.T) {
	assert.NoError(t, validateFormat("table"))
	assert.NoError(t, validateFormat("yaml"))
	assert.NoError(t, validateFormat("json"))
	assert.ErrorContains(t, validateFormat("xml"), "invalid format")
}

func TestFormatUserError(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want string
	}{
		{
			name: "bluetooth off",
			err:  fmt.Errorf("scan: %w", transport.ErrBluetoothOff),
			want: "Bluetooth is turned off",
		},
		{
			name: "connect failure",
			err:  &volcano.ConnectError{Address: "EC:1A", Attempts: 3, Err: errors.New("timeout")},
			want: "could not connect to EC:1A after 3 attempt(s): timeout",
		},
		{
			name: "timeout",
			err:  fmt.Errorf("read: %w", context.DeadlineExceeded),
			want: "operation timed out (read: context deadline exceeded)",
		},
		{
			name: "command rejected",
			err:  &volcano.CommandError{Characteristic: volcano.HeaterOnUUID, Err: errors.New("att error")},
			want: "device rejected heater-on: att error",
		},
		{
			name: "other",
			err:  errors.New("boom"),
			want: "boom",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, FormatUserError(tt.err))
		})
	}

	assert.Contains(t, FormatUserError(fmt.Errorf("set vibration: %w", volcano.ErrUnsupported)), "does not support")
}
