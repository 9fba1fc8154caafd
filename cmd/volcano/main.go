package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"unicode"

	"github.com/spf13/cobra"
)

var (
	version = "dev"
	commit  = "none"
	date    = "unknown"
)

// formatVersion adds 'v' prefix if version starts with a digit
func formatVersion(ver string) string {
	if len(ver) > 0 && unicode.IsDigit(rune(ver[0])) {
		return "v" + ver
	}
	return ver
}

var rootCmd = &cobra.Command{
	Use:   "volcano",
	Short: "Control a Volcano Hybrid over Bluetooth Low Energy",
	Long: `Command-line control for a Volcano Hybrid vaporizer:

- Show device status, firmware and operating hours
- Switch heater and air pump, set target temperature
- Adjust screen brightness, auto-off time, vibration and display settings
- Run a fan timer or a brightness animation
- Watch live state changes as the device reports them

The device address comes from --address or the "address" key of the config file.`,
	Version: fmt.Sprintf("%s (commit %s, built %s)", formatVersion(version), commit, date),
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		// Ctrl+C is a normal exit
		if errors.Is(err, context.Canceled) {
			return
		}
		fmt.Fprintf(os.Stderr, "ERROR: %s\n", FormatUserError(err))
		os.Exit(1)
	}
}

func init() {
	rootCmd.SilenceErrors = true

	rootCmd.AddCommand(statusCmd)
	rootCmd.AddCommand(watchCmd)
	rootCmd.AddCommand(heatCmd)
	rootCmd.AddCommand(fanCmd)
	rootCmd.AddCommand(tempCmd)
	rootCmd.AddCommand(brightnessCmd)
	rootCmd.AddCommand(autoOffCmd)
	rootCmd.AddCommand(vibrationCmd)
	rootCmd.AddCommand(displayCmd)
	rootCmd.AddCommand(fanTimerCmd)
	rootCmd.AddCommand(animateCmd)
	rootCmd.AddCommand(rawCmd)

	flags := rootCmd.PersistentFlags()
	flags.String("config", "", "Path to a YAML config file")
	flags.String("address", "", "Device address (overrides the config file)")
	flags.String("log-level", "", "Log level (debug, info, warn, error)")
	flags.Duration("timeout", defaultCommandTimeout, "Overall timeout for one-shot commands")

	rootCmd.Flags().BoolP("version", "v", false, "Show version information")
}
