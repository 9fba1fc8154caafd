package main

import (
	"fmt"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"github.com/srg/volcano/pkg/config"
)

// configureLogger builds the logger for a command. Without --log-level the CLI stays silent
// so that command output is not interleaved with engine logs.
func configureLogger(cmd *cobra.Command, cfg *config.Config) (*logrus.Logger, error) {
	logLevelStr, _ := cmd.Flags().GetString("log-level")
	switch logLevelStr {
	case "":
		logger := cfg.NewLogger()
		logger.SetLevel(logrus.PanicLevel)
		return logger, nil
	case "debug", "info", "warn", "error":
		cfg.LogLevel = logLevelStr
		return cfg.NewLogger(), nil
	default:
		return nil, fmt.Errorf("invalid log level: %s (must be debug, info, warn, or error)", logLevelStr)
	}
}
