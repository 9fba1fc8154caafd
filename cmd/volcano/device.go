package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"github.com/srg/volcano/internal/transport"
	"github.com/srg/volcano/internal/transport/goble"
	"github.com/srg/volcano/internal/volcano"
	"github.com/srg/volcano/pkg/config"
)

const defaultCommandTimeout = 30 * time.Second

// TransportFactory creates the link for an address (can be overridden in tests)
//
//nolint:revive // TransportFactory name is intentional for test mocking
var TransportFactory = func(address string, logger *logrus.Logger) transport.Transport {
	return goble.NewTransport(address, logger)
}

// session is what a command body gets: a connected device plus its settings
type session struct {
	cmd    *cobra.Command
	cfg    *config.Config
	logger *logrus.Logger
	dev    *volcano.Device
}

// loadConfig reads --config and applies --address on top
func loadConfig(cmd *cobra.Command) (*config.Config, error) {
	path, _ := cmd.Flags().GetString("config")
	cfg, err := config.Load(path)
	if err != nil {
		return nil, err
	}
	if address, _ := cmd.Flags().GetString("address"); address != "" {
		cfg.Address = address
	}
	if cfg.Address == "" {
		return nil, ErrNoAddress
	}
	return cfg, nil
}

// withDevice connects, runs fn and disconnects. One-shot commands are bounded by --timeout;
// long-running ones pass bounded=false and run until interrupted.
func withDevice(cmd *cobra.Command, bounded bool, fn func(ctx context.Context, s *session) error) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	logger, err := configureLogger(cmd, cfg)
	if err != nil {
		return err
	}

	// All arguments validated - don't show usage on runtime errors
	cmd.SilenceUsage = true

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if bounded {
		timeout, _ := cmd.Flags().GetDuration("timeout")
		if timeout > 0 {
			var cancel context.CancelFunc
			ctx, cancel = context.WithTimeout(ctx, timeout)
			defer cancel()
		}
	}

	dev := volcano.New(TransportFactory(cfg.Address, logger), cfg, logger)

	progress := NewProgressPrinter(cmd.ErrOrStderr(), "Connecting to "+cfg.Address)
	progress.Start()
	err = dev.Connect(ctx)
	progress.Stop()
	if err != nil {
		return err
	}

	defer func() {
		dctx, cancel := context.WithTimeout(context.Background(), cfg.Connection.ConnectTimeout)
		defer cancel()
		if derr := dev.Disconnect(dctx); derr != nil {
			logger.WithError(derr).Warn("Disconnect failed")
		}
	}()

	return fn(ctx, &session{cmd: cmd, cfg: cfg, logger: logger, dev: dev})
}
