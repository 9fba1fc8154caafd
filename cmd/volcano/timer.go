package main

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"
)

var fanTimerCmd = &cobra.Command{
	Use:   "fan-timer <duration>",
	Short: "Run the air pump for a fixed time",
	Long: `Turns the fan on, waits for the duration, then turns it off.

Examples:
  # Fill a balloon for 30 seconds
  volcano fan-timer 30s

  # Also switch the heater and screen off at the end
  volcano fan-timer 1m --heat-off --screen-off`,
	Args: cobra.ExactArgs(1),
	RunE: runFanTimer,
}

var (
	fanTimerHeatOff   bool
	fanTimerScreenOff bool
)

func init() {
	fanTimerCmd.Flags().BoolVar(&fanTimerHeatOff, "heat-off", false, "Turn the heater off when the timer ends")
	fanTimerCmd.Flags().BoolVar(&fanTimerScreenOff, "screen-off", false, "Set brightness to 0 when the timer ends")
}

func runFanTimer(cmd *cobra.Command, args []string) error {
	delay, err := time.ParseDuration(args[0])
	if err != nil {
		return fmt.Errorf("invalid duration: %w", err)
	}
	if delay <= 0 {
		return fmt.Errorf("duration must be positive, got %s", delay)
	}

	return withDevice(cmd, false, func(ctx context.Context, s *session) error {
		done, err := s.dev.FanTimer(ctx, delay, fanTimerHeatOff, fanTimerScreenOff)
		if err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "Fan on for %s\n", delay)

		select {
		case err := <-done:
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), "Fan off")
			return nil
		case <-ctx.Done():
			// interrupted: stop the fan now rather than leaving it to the detached timer
			stopCtx, cancel := context.WithTimeout(context.Background(), s.cfg.Commands.Timeout)
			defer cancel()
			return s.dev.TurnFanOff(stopCtx)
		}
	})
}
