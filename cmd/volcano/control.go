package main

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/cobra"
	"github.com/srg/volcano/internal/volcano"
)

var heatCmd = &cobra.Command{
	Use:   "heat on|off",
	Short: "Switch the heater",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		on, err := parseOnOff(args[0])
		if err != nil {
			return err
		}
		return withDevice(cmd, true, func(ctx context.Context, s *session) error {
			if on {
				return s.dev.TurnHeaterOn(ctx)
			}
			return s.dev.TurnHeaterOff(ctx)
		})
	},
}

var fanCmd = &cobra.Command{
	Use:   "fan on|off",
	Short: "Switch the air pump",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		on, err := parseOnOff(args[0])
		if err != nil {
			return err
		}
		return withDevice(cmd, true, func(ctx context.Context, s *session) error {
			if on {
				return s.dev.TurnFanOn(ctx)
			}
			return s.dev.TurnFanOff(ctx)
		})
	},
}

var tempCmd = &cobra.Command{
	Use:   "temp <celsius>",
	Short: "Set the target temperature (40-230 °C)",
	Long: `Sets the target temperature. Values outside 40..230 are clamped.
Without an argument the current and target temperatures are printed.`,
	Args: cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		if len(args) == 0 {
			return withDevice(cmd, true, func(ctx context.Context, s *session) error {
				current, err := s.dev.ReadCurrentTemperature(ctx)
				if err != nil {
					return err
				}
				target, err := s.dev.ReadTargetTemperature(ctx)
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "current: %d°C\ntarget:  %d°C\n", current, target)
				return nil
			})
		}

		celsius, err := parseInt("temperature", args[0])
		if err != nil {
			return err
		}
		return withDevice(cmd, true, func(ctx context.Context, s *session) error {
			return s.dev.SetTargetTemperature(ctx, celsius)
		})
	},
}

var brightnessCmd = &cobra.Command{
	Use:   "brightness <0-100>",
	Short: "Set the screen brightness",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		percent, err := parseInt("brightness", args[0])
		if err != nil {
			return err
		}
		return withDevice(cmd, true, func(ctx context.Context, s *session) error {
			return s.dev.SetBrightness(ctx, percent)
		})
	},
}

var autoOffCmd = &cobra.Command{
	Use:   "auto-off <minutes>",
	Short: "Set the auto-off time (1-180 minutes)",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		minutes, err := parseInt("minutes", args[0])
		if err != nil {
			return err
		}
		return withDevice(cmd, true, func(ctx context.Context, s *session) error {
			return s.dev.SetAutoOffMinutes(ctx, minutes)
		})
	},
}

var vibrationCmd = &cobra.Command{
	Use:   "vibration on|off",
	Short: "Enable or disable vibration",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		on, err := parseOnOff(args[0])
		if err != nil {
			return err
		}
		return withDevice(cmd, true, func(ctx context.Context, s *session) error {
			return s.dev.SetVibrationEnabled(ctx, on)
		})
	},
}

var displayCmd = &cobra.Command{
	Use:   "display on|off",
	Short: "Keep the display on while cooling",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		on, err := parseOnOff(args[0])
		if err != nil {
			return err
		}
		return withDevice(cmd, true, func(ctx context.Context, s *session) error {
			return s.dev.SetDisplayOnCooling(ctx, on)
		})
	},
}

var animateCmd = &cobra.Command{
	Use:   "animate <pattern>",
	Short: "Animate the screen brightness",
	Long: fmt.Sprintf(`Runs a brightness animation until --duration elapses or Ctrl+C.
Brightness returns to %d%% afterwards.

Patterns: %s`, volcano.DefaultBrightness, patternList()),
	Args: cobra.ExactArgs(1),
	RunE: runAnimate,
}

var rawCmd = &cobra.Command{
	Use:   "raw",
	Short: "Print the raw primary status payload as hex",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, _ []string) error {
		return withDevice(cmd, true, func(ctx context.Context, s *session) error {
			raw, err := s.dev.RawStatus(ctx)
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), raw)
			return nil
		})
	},
}

var animateDuration time.Duration

func init() {
	animateCmd.Flags().DurationVar(&animateDuration, "duration", 10*time.Second, "How long to animate (0 runs until interrupted)")
}

func runAnimate(cmd *cobra.Command, args []string) error {
	pattern, err := volcano.ParsePattern(args[0])
	if err != nil {
		return err
	}

	return withDevice(cmd, false, func(ctx context.Context, s *session) error {
		if err := s.dev.StartAnimation(pattern); err != nil {
			return err
		}
		defer s.dev.StopAnimation()

		if pattern == volcano.PatternNone {
			return nil
		}
		if animateDuration > 0 {
			var cancel context.CancelFunc
			ctx, cancel = context.WithTimeout(ctx, animateDuration)
			defer cancel()
		}
		<-ctx.Done()
		return nil
	})
}

func patternList() string {
	names := make([]string, 0, len(volcano.Patterns))
	for _, p := range volcano.Patterns {
		names = append(names, string(p))
	}
	return strings.Join(names, ", ")
}

func parseOnOff(arg string) (bool, error) {
	switch strings.ToLower(arg) {
	case "on", "true", "1":
		return true, nil
	case "off", "false", "0":
		return false, nil
	default:
		return false, fmt.Errorf("invalid switch value %q (must be on or off)", arg)
	}
}

func parseInt(name, arg string) (int, error) {
	v, err := strconv.Atoi(arg)
	if err != nil {
		return 0, fmt.Errorf("invalid %s %q: must be a whole number", name, arg)
	}
	return v, nil
}
