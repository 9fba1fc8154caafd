package main

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/fatih/color"
	"github.com/spf13/cobra"
	"github.com/srg/volcano/internal/volcano"
	orderedmap "github.com/wk8/go-ordered-map/v2"
	"gopkg.in/yaml.v3"
)

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show temperatures, switches, settings and device info",
	Long: `Connects, reads temperatures, device info and settings, and prints one snapshot.

Examples:
  volcano status --address EC:1A:2B:3C:4D:5E
  volcano status --format json`,
	Args: cobra.NoArgs,
	RunE: runStatus,
}

var watchCmd = &cobra.Command{
	Use:   "watch",
	Short: "Stay connected and print every state change",
	Long: `Stays connected, reconnecting after drops, and prints each state snapshot the device produces.
The "initial_temperature" and "fan_on_connect" config keys are applied once connected.
Stop with Ctrl+C.`,
	Args: cobra.NoArgs,
	RunE: runWatch,
}

var (
	statusFormat string
	watchFormat  string
)

func init() {
	statusCmd.Flags().StringVar(&statusFormat, "format", "table", "Output format: table, yaml or json")
	watchCmd.Flags().StringVar(&watchFormat, "format", "table", "Output format: table, yaml or json")
}

func validateFormat(format string) error {
	switch format {
	case "table", "yaml", "json":
		return nil
	default:
		return fmt.Errorf("invalid format: %s (must be table, yaml or json)", format)
	}
}

func runStatus(cmd *cobra.Command, _ []string) error {
	if err := validateFormat(statusFormat); err != nil {
		return err
	}

	return withDevice(cmd, true, func(ctx context.Context, s *session) error {
		if err := s.dev.RefreshDeviceInfo(ctx); err != nil {
			return err
		}
		if _, err := s.dev.ReadCurrentTemperature(ctx); err != nil {
			return err
		}
		if _, err := s.dev.ReadTargetTemperature(ctx); err != nil {
			return err
		}
		return renderState(cmd.OutOrStdout(), s.dev.State(), statusFormat)
	})
}

func runWatch(cmd *cobra.Command, _ []string) error {
	if err := validateFormat(watchFormat); err != nil {
		return err
	}

	return withDevice(cmd, false, func(ctx context.Context, s *session) error {
		if err := applyInitialSettings(ctx, s); err != nil {
			return err
		}

		updates := make(chan volcano.DeviceState, 16)
		remove := s.dev.RegisterStateObserver(func(st volcano.DeviceState) {
			select {
			case updates <- st:
			default:
				// printer is behind; the next snapshot supersedes this one
			}
		})
		defer remove()

		out := cmd.OutOrStdout()
		if err := renderState(out, s.dev.State(), watchFormat); err != nil {
			return err
		}

		var last string
		for {
			select {
			case <-ctx.Done():
				return nil
			case st := <-updates:
				var buf bytes.Buffer
				if watchFormat == "table" {
					buf.WriteString(summaryLine(st))
				} else if err := renderState(&buf, st, watchFormat); err != nil {
					return err
				}

				// observers fire on every store update; print only visible changes
				if buf.String() == last {
					continue
				}
				last = buf.String()

				if watchFormat == "table" {
					fmt.Fprintf(out, "%s  %s\n", time.Now().Format(time.TimeOnly), last)
				} else {
					fmt.Fprint(out, last)
				}
			}
		}
	})
}

// applyInitialSettings pushes the configured startup target and fan state
func applyInitialSettings(ctx context.Context, s *session) error {
	if t := s.cfg.InitialTemperature; t != 0 {
		s.logger.WithField("celsius", t).Info("Applying initial target temperature")
		if err := s.dev.SetTargetTemperature(ctx, t); err != nil {
			return err
		}
	}
	if s.cfg.FanOnConnect {
		s.logger.Info("Turning fan on after connect")
		if err := s.dev.TurnFanOn(ctx); err != nil {
			return err
		}
	}
	return nil
}

// stateFields orders the snapshot for display
func stateFields(st volcano.DeviceState) *orderedmap.OrderedMap[string, any] {
	info := orderedmap.New[string, any]()
	info.Set("serial_number", optional(st.Info.SerialNumber))
	info.Set("ble_firmware", optional(st.Info.BLEFirmware))
	info.Set("main_firmware", optional(st.Info.MainFirmware))
	info.Set("operating_hours", fmt.Sprintf("%dh %02dm", st.Info.OperatingHours.Hours, st.Info.OperatingHours.Minutes))
	info.Set("auto_off_minutes", st.Info.AutoOffSeconds/60)

	fields := orderedmap.New[string, any]()
	fields.Set("connection", st.ConnectionState.String())
	fields.Set("current_temperature", st.CurrentTemperature)
	fields.Set("target_temperature", st.TargetTemperature)
	fields.Set("heater", onOff(st.HeaterOn))
	fields.Set("fan", onOff(st.FanOn))
	fields.Set("brightness", st.Brightness)
	fields.Set("vibration", onOff(st.VibrationEnabled))
	fields.Set("display_on_cooling", onOff(st.DisplayOnCooling))
	if st.RawStatus != "" {
		fields.Set("raw_status", st.RawStatus)
	}
	fields.Set("info", info)
	return fields
}

func renderState(w io.Writer, st volcano.DeviceState, format string) error {
	fields := stateFields(st)

	switch format {
	case "json":
		data, err := json.MarshalIndent(fields, "", "  ")
		if err != nil {
			return fmt.Errorf("failed to encode state: %w", err)
		}
		_, err = fmt.Fprintln(w, string(data))
		return err
	case "yaml":
		enc := yaml.NewEncoder(w)
		enc.SetIndent(2)
		if err := enc.Encode(fields); err != nil {
			return fmt.Errorf("failed to encode state: %w", err)
		}
		return enc.Close()
	default:
		return renderTable(w, fields, "")
	}
}

func renderTable(w io.Writer, fields *orderedmap.OrderedMap[string, any], indent string) error {
	label := color.New(color.FgCyan)
	if !isTerminal(w) {
		label.DisableColor()
	}

	for pair := fields.Oldest(); pair != nil; pair = pair.Next() {
		name := strings.ReplaceAll(pair.Key, "_", " ")
		if nested, ok := pair.Value.(*orderedmap.OrderedMap[string, any]); ok {
			fmt.Fprintf(w, "%s%s\n", indent, label.Sprint(name+":"))
			if err := renderTable(w, nested, indent+"  "); err != nil {
				return err
			}
			continue
		}
		if _, err := fmt.Fprintf(w, "%s%s %s\n", indent, label.Sprintf("%-22s", name+":"), valueColor(pair.Value)); err != nil {
			return err
		}
	}
	return nil
}

// valueColor highlights switch states
func valueColor(v any) string {
	s := fmt.Sprint(v)
	switch s {
	case "on":
		return color.GreenString(s)
	case "off":
		return color.New(color.Faint).Sprint(s)
	default:
		return s
	}
}

func summaryLine(st volcano.DeviceState) string {
	return fmt.Sprintf("%-12s %3d°C -> %3d°C  heater %-3s  fan %-3s  brightness %3d",
		st.ConnectionState, st.CurrentTemperature, st.TargetTemperature, onOff(st.HeaterOn), onOff(st.FanOn), st.Brightness)
}

func onOff(b bool) string {
	if b {
		return "on"
	}
	return "off"
}

func optional(s *string) string {
	if s == nil {
		return "unknown"
	}
	return *s
}
