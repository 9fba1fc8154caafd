package testutils

import (
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/srg/volcano/pkg/config"
)

type TestHelper struct {
	T      *testing.T
	Logger *logrus.Logger
}

// NewTestHelper creates a test helper with a debug logger.
func NewTestHelper(t *testing.T) *TestHelper {
	logger := logrus.New()
	logger.SetLevel(logrus.DebugLevel) // enable debug logs to track execution flow
	return &TestHelper{
		T:      t,
		Logger: logger,
	}
}

// FastConfig returns defaults with every delay shrunk so lifecycle tests run in milliseconds.
func FastConfig() *config.Config {
	cfg := config.DefaultConfig()

	cfg.Connection.ScanAttempts = 1
	cfg.Connection.ScanTimeout = 50 * time.Millisecond
	cfg.Connection.ScanRetryDelay = 10 * time.Millisecond
	cfg.Connection.ConnectRetryDelay = 10 * time.Millisecond
	cfg.Connection.AttemptTimeout = 500 * time.Millisecond
	cfg.Connection.ConnectTimeout = 2 * time.Second
	cfg.Connection.SetupTimeout = 500 * time.Millisecond
	cfg.Connection.ReadTimeout = 500 * time.Millisecond
	cfg.Connection.WriteTimeout = 500 * time.Millisecond
	cfg.Connection.ReconnectDelay = 10 * time.Millisecond
	cfg.Connection.MaxReconnectBackoff = 50 * time.Millisecond

	cfg.Commands.MinInterval = 10 * time.Millisecond
	cfg.Commands.DrainTimeout = 500 * time.Millisecond
	cfg.Commands.Timeout = 2 * time.Second

	cfg.Keepalive.Interval = time.Hour
	cfg.InfoRefreshInterval = 0
	cfg.AnimationStopTimeout = time.Second
	return cfg
}
