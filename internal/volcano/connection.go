package volcano

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/srg/volcano/internal/groutine"
	"github.com/srg/volcano/internal/transport"
	"github.com/srg/volcano/pkg/config"
)

// LinkFunc runs against a live link while the connection lock is held
type LinkFunc func(ctx context.Context, t transport.Transport) error

// ReconnectBackoff returns the delay after failed reconnect attempt n (0-based): min(max, 2^n s)
func ReconnectBackoff(attempt int, maxDelay time.Duration) time.Duration {
	if attempt < 0 {
		attempt = 0
	}
	if attempt > 30 {
		return maxDelay
	}
	d := time.Duration(1<<uint(attempt)) * time.Second
	if maxDelay > 0 && d > maxDelay {
		return maxDelay
	}
	return d
}

// sleepCtx waits for d or until ctx is done
func sleepCtx(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Connection owns the link lifecycle and the single lock every transport call goes through
type Connection struct {
	transport transport.Transport
	cfg       config.ConnectionConfig
	store     *Store
	decoder   *Decoder
	logger    *logrus.Logger

	// lock is a single-slot semaphore so acquisition can honour ctx
	lock chan struct{}

	mu              sync.Mutex
	sessionCancel   context.CancelFunc
	reconnecting    bool
	reconnectCancel context.CancelFunc
	closing         bool

	lastActivity atomic.Int64

	// onConnected starts session activities. It must not block.
	onConnected func(session context.Context)

	sleep func(ctx context.Context, d time.Duration) error
	group groutine.Group
}

// NewConnection creates a connection manager in the Disconnected state
func NewConnection(t transport.Transport, cfg config.ConnectionConfig, store *Store, decoder *Decoder, logger *logrus.Logger) *Connection {
	if logger == nil {
		logger = logrus.New()
	}
	return &Connection{
		transport: t,
		cfg:       cfg,
		store:     store,
		decoder:   decoder,
		logger:    logger,
		lock:      make(chan struct{}, 1),
		sleep:     sleepCtx,
	}
}

// State returns the current link state
func (c *Connection) State() ConnectionState {
	return c.store.ConnectionState()
}

// IsConnected reports a Connected state backed by an open transport
func (c *Connection) IsConnected() bool {
	return c.State() == Connected && c.transport.IsConnected()
}

// IdleFor returns the time since the last transport activity
func (c *Connection) IdleFor() time.Duration {
	last := c.lastActivity.Load()
	if last == 0 {
		return 0
	}
	return time.Since(time.Unix(0, last))
}

func (c *Connection) touch() {
	c.lastActivity.Store(time.Now().UnixNano())
}

func (c *Connection) setState(s ConnectionState) {
	prev := c.store.ConnectionState()
	if prev == s {
		return
	}
	c.store.SetConnectionState(s)
	c.logger.WithFields(logrus.Fields{
		"address": c.transport.Address(),
		"from":    prev,
		"to":      s,
	}).Debug("Connection state changed")
}

func (c *Connection) acquire(ctx context.Context) error {
	select {
	case c.lock <- struct{}{}:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("waiting for connection lock: %w", ctx.Err())
	}
}

func (c *Connection) release() {
	<-c.lock
}

// Connect scans for the device and opens the link. It is a no-op when already connected.
func (c *Connection) Connect(ctx context.Context) error {
	if c.IsConnected() {
		return nil
	}

	// scans carry their own timeouts; the connect budget starts after them
	c.discover(ctx)

	if c.cfg.ConnectTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.cfg.ConnectTimeout)
		defer cancel()
	}

	if err := c.acquire(ctx); err != nil {
		return &ConnectError{Address: c.transport.Address(), Err: err}
	}
	defer c.release()

	return c.connectLocked(ctx)
}

// discover runs the scan attempts. Not finding the device is logged, never fatal.
func (c *Connection) discover(ctx context.Context) {
	log := c.logger.WithField("address", c.transport.Address())

	for attempt := 1; attempt <= c.cfg.ScanAttempts; attempt++ {
		scanCtx, cancel := context.WithTimeout(ctx, c.cfg.ScanTimeout)
		found, err := c.transport.Discover(scanCtx)
		cancel()

		if found {
			log.WithField("attempt", attempt).Debug("Device found during scan")
			return
		}
		if err != nil {
			log.WithError(err).WithField("attempt", attempt).Warn("Scan failed")
		}
		if attempt < c.cfg.ScanAttempts {
			if c.sleep(ctx, c.cfg.ScanRetryDelay) != nil {
				break
			}
		}
	}
	log.Info("Device not seen during scan, connecting anyway")
}

// connectLocked opens the transport and runs the post-connect setup. Caller holds the lock.
func (c *Connection) connectLocked(ctx context.Context) error {
	if c.IsConnected() {
		return nil
	}

	log := c.logger.WithField("address", c.transport.Address())
	reconnecting := c.State() == Reconnecting
	if !reconnecting {
		c.setState(Connecting)
	}

	if c.transport.IsConnected() {
		// stale link from a drop the monitor already reported
		if err := c.transport.Disconnect(); err != nil {
			log.WithError(err).Debug("Failed to close stale link")
		}
	}

	var lastErr error
	attempts := 0
	for attempt := 1; attempt <= c.cfg.ConnectAttempts; attempt++ {
		attempts = attempt

		attemptCtx, cancel := context.WithTimeout(ctx, c.cfg.AttemptTimeout)
		err := c.transport.Connect(attemptCtx)
		cancel()

		if err == nil || errors.Is(err, transport.ErrAlreadyConnected) {
			lastErr = nil
			break
		}

		lastErr = err
		log.WithError(err).WithField("attempt", attempt).Warn("Connect attempt failed")

		if attempt < c.cfg.ConnectAttempts {
			if serr := c.sleep(ctx, c.cfg.ConnectRetryDelay); serr != nil {
				lastErr = errors.Join(lastErr, serr)
				break
			}
		}
	}

	if lastErr != nil {
		if !reconnecting {
			c.setState(Disconnected)
		}
		return &ConnectError{Address: c.transport.Address(), Attempts: attempts, Err: lastErr}
	}

	c.setupLocked(ctx)
	log.WithField("attempts", attempts).Info("Connected to device")
	return nil
}

// setupLocked runs the best-effort status read and subscription, then starts the session
func (c *Connection) setupLocked(ctx context.Context) {
	log := c.logger.WithField("address", c.transport.Address())
	c.touch()

	readCtx, cancel := context.WithTimeout(ctx, c.cfg.SetupTimeout)
	raw, err := c.transport.Read(readCtx, PrimaryStatusUUID)
	cancel()
	if err != nil {
		log.WithError(err).Warn("Initial status read failed")
	} else {
		_ = c.decoder.Handle(raw, SourceInitialRead)
	}

	subCtx, cancel := context.WithTimeout(ctx, c.cfg.SetupTimeout)
	err = c.transport.Subscribe(subCtx, PrimaryStatusUUID, func(data []byte) {
		c.touch()
		_ = c.decoder.Handle(data, SourceNotification)
	})
	cancel()
	if err != nil {
		log.WithError(err).Warn("Status notifications unavailable")
	}

	session, sessionCancel := context.WithCancel(context.Background())
	c.mu.Lock()
	if c.sessionCancel != nil {
		c.sessionCancel()
	}
	c.sessionCancel = sessionCancel
	c.mu.Unlock()

	c.setState(Connected)

	if dropped := c.transport.Disconnected(); dropped != nil {
		c.group.Go(session, "volcano-link-monitor", func(ctx context.Context) {
			select {
			case <-dropped:
				c.handleDrop()
			case <-ctx.Done():
			}
		})
	}

	if c.onConnected != nil {
		c.onConnected(session)
	}
}

func (c *Connection) cancelSessionLocked() {
	if c.sessionCancel != nil {
		c.sessionCancel()
		c.sessionCancel = nil
	}
}

// handleDrop starts the reconnect loop after an unexpected disconnect
func (c *Connection) handleDrop() {
	c.mu.Lock()
	if c.closing || c.reconnecting || c.State() != Connected {
		c.mu.Unlock()
		return
	}
	c.cancelSessionLocked()
	c.reconnecting = true
	ctx, cancel := context.WithCancel(context.Background())
	c.reconnectCancel = cancel
	c.mu.Unlock()

	c.setState(Reconnecting)

	c.logger.WithField("address", c.transport.Address()).Warn("Link dropped unexpectedly, reconnecting")
	c.group.Go(ctx, "volcano-reconnect", c.reconnectLoop)
}

func (c *Connection) reconnectLoop(ctx context.Context) {
	log := c.logger.WithField("address", c.transport.Address())

	defer func() {
		c.mu.Lock()
		c.reconnecting = false
		if c.reconnectCancel != nil {
			c.reconnectCancel()
			c.reconnectCancel = nil
		}
		c.mu.Unlock()
	}()

	if c.sleep(ctx, c.cfg.ReconnectDelay) != nil {
		return
	}

	for attempt := 0; attempt < c.cfg.ReconnectAttempts; attempt++ {
		err := c.reconnectOnce(ctx)
		if err == nil {
			log.WithField("attempt", attempt+1).Info("Reconnected")
			return
		}
		if ctx.Err() != nil {
			return
		}

		delay := ReconnectBackoff(attempt, c.cfg.MaxReconnectBackoff)
		log.WithError(err).WithFields(logrus.Fields{
			"attempt": attempt + 1,
			"retry":   delay,
		}).Warn("Reconnect attempt failed")

		if c.sleep(ctx, delay) != nil {
			return
		}
	}

	c.setState(Disconnected)
	log.WithField("attempts", c.cfg.ReconnectAttempts).Error("Giving up reconnecting")
}

func (c *Connection) reconnectOnce(ctx context.Context) error {
	c.discover(ctx)
	if ctx.Err() != nil {
		return ctx.Err()
	}

	if c.cfg.ConnectTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.cfg.ConnectTimeout)
		defer cancel()
	}

	if err := c.acquire(ctx); err != nil {
		return err
	}
	defer c.release()

	if ctx.Err() != nil {
		return ctx.Err()
	}
	return c.connectLocked(ctx)
}

// Do ensures a live link and runs fn under the connection lock.
// Transport errors other than a missing characteristic mark the link down.
func (c *Connection) Do(ctx context.Context, op string, fn LinkFunc) error {
	return c.do(ctx, op, true, fn)
}

// DoIfConnected runs fn under the lock only if the link is already up
func (c *Connection) DoIfConnected(ctx context.Context, op string, fn LinkFunc) error {
	return c.do(ctx, op, false, fn)
}

func (c *Connection) do(ctx context.Context, op string, ensure bool, fn LinkFunc) error {
	if err := c.acquire(ctx); err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	defer c.release()

	if ensure {
		if err := c.ensureConnectedLocked(ctx, op); err != nil {
			return err
		}
	} else if !c.IsConnected() {
		return &NotConnectedError{Op: op}
	}

	err := fn(ctx, c.transport)
	c.touch()
	if err != nil && isLinkError(err) {
		c.markDownLocked(op, err)
	}
	return err
}

func (c *Connection) ensureConnectedLocked(ctx context.Context, op string) error {
	if c.IsConnected() {
		return nil
	}

	c.discover(ctx)

	if c.cfg.ConnectTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.cfg.ConnectTimeout)
		defer cancel()
	}

	if err := c.connectLocked(ctx); err != nil {
		return &NotConnectedError{Op: op, Err: err}
	}
	return nil
}

func isLinkError(err error) bool {
	var notFound *transport.NotFoundError
	return !errors.As(err, &notFound)
}

// markDownLocked downgrades the link after a failed operation. Caller holds the lock.
func (c *Connection) markDownLocked(op string, cause error) {
	c.mu.Lock()
	c.cancelSessionLocked()
	reconnecting := c.reconnecting
	c.mu.Unlock()

	c.logger.WithFields(logrus.Fields{
		"address": c.transport.Address(),
		"op":      op,
	}).WithError(cause).Warn("Transport error, marking link down")

	if !reconnecting {
		c.setState(Disconnected)
	}
	if err := c.transport.Disconnect(); err != nil {
		c.logger.WithError(err).Debug("Failed to close link after transport error")
	}
}

// Disconnect cancels any reconnect loop and closes the link
func (c *Connection) Disconnect(ctx context.Context) error {
	c.mu.Lock()
	c.closing = true
	if c.reconnectCancel != nil {
		c.reconnectCancel()
	}
	c.mu.Unlock()

	defer func() {
		c.mu.Lock()
		c.closing = false
		c.mu.Unlock()
	}()

	if err := c.acquire(ctx); err != nil {
		return fmt.Errorf("disconnect: %w", err)
	}
	defer c.release()

	c.mu.Lock()
	c.cancelSessionLocked()
	c.mu.Unlock()

	if c.transport.IsConnected() {
		if err := c.transport.Unsubscribe(PrimaryStatusUUID); err != nil {
			c.logger.WithError(err).Debug("Failed to unsubscribe from status notifications")
		}
	}

	err := c.transport.Disconnect()
	c.setState(Disconnected)
	if err != nil {
		return fmt.Errorf("disconnect from %s: %w", c.transport.Address(), err)
	}

	c.logger.WithField("address", c.transport.Address()).Info("Disconnected from device")
	return nil
}

// Wait blocks until monitor and reconnect goroutines exit or timeout elapses
func (c *Connection) Wait(timeout time.Duration) bool {
	return c.group.Wait(timeout)
}
