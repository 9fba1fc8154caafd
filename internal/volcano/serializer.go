package volcano

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/srg/volcano/internal/groutine"
	"golang.org/x/time/rate"
)

// Executor performs one write against the link
type Executor func(ctx context.Context, uuid string, payload []byte) error

type command struct {
	uuid     string
	payload  []byte
	result   chan error
	queuedAt time.Time
}

// worker is one run of the processing goroutine
type worker struct {
	stop     chan struct{}
	stopOnce sync.Once
	cancel   context.CancelFunc
	done     chan struct{}
}

func (w *worker) signalStop() {
	w.stopOnce.Do(func() { close(w.stop) })
}

// Serializer executes queued writes one at a time, in submission order,
// spaced by at least the configured minimum interval.
type Serializer struct {
	exec        Executor
	limiter     *rate.Limiter
	minInterval time.Duration
	timeout     time.Duration
	logger      *logrus.Logger

	// lastDone is when the previous write returned; only touched by the processing goroutine
	lastDone time.Time

	mu     sync.Mutex
	queue  []*command
	worker *worker
	wake   chan struct{}
}

// NewSerializer creates an idle serializer. The processing goroutine starts on
// the first Submit or Start.
func NewSerializer(exec Executor, minInterval, timeout time.Duration, logger *logrus.Logger) *Serializer {
	if logger == nil {
		logger = logrus.New()
	}

	limit := rate.Inf
	if minInterval > 0 {
		limit = rate.Every(minInterval)
	}

	return &Serializer{
		exec:        exec,
		limiter:     rate.NewLimiter(limit, 1),
		minInterval: minInterval,
		timeout:     timeout,
		logger:      logger,
		wake:        make(chan struct{}, 1),
	}
}

// Start launches the processing goroutine if it is not running
func (s *Serializer) Start() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.startLocked()
}

func (s *Serializer) startLocked() {
	if s.worker != nil {
		return
	}

	ctx, cancel := context.WithCancel(context.Background())
	w := &worker{
		stop:   make(chan struct{}),
		cancel: cancel,
		done:   make(chan struct{}),
	}
	s.worker = w

	groutine.Go(ctx, "volcano-serializer", func(ctx context.Context) {
		s.run(ctx, w)
	})
	s.logger.Debug("Command serializer started")
}

// Running reports whether a processing goroutine is active
func (s *Serializer) Running() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.worker != nil
}

// Pending returns the number of queued, not yet executed commands
func (s *Serializer) Pending() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.queue)
}

// Submit enqueues a write and returns a channel resolved with its result.
// A stopped serializer is restarted.
func (s *Serializer) Submit(uuid string, payload []byte) <-chan error {
	cmd := &command{
		uuid:     uuid,
		payload:  append([]byte(nil), payload...),
		result:   make(chan error, 1),
		queuedAt: time.Now(),
	}

	s.mu.Lock()
	s.queue = append(s.queue, cmd)
	s.startLocked()
	s.mu.Unlock()

	s.signal()
	return cmd.result
}

// Do submits a write and waits for its result, bounded by ctx and the command timeout
func (s *Serializer) Do(ctx context.Context, uuid string, payload []byte) error {
	if s.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.timeout)
		defer cancel()
	}

	if err := ctx.Err(); err != nil {
		return &CommandError{Characteristic: uuid, Err: err}
	}

	result := s.Submit(uuid, payload)
	select {
	case err := <-result:
		return err
	case <-ctx.Done():
		return &CommandError{
			Characteristic: uuid,
			Err:            fmt.Errorf("waiting for result: %w", ctx.Err()),
		}
	}
}

// Stop lets the worker drain the queue for up to grace, then abandons it.
// Commands still queued afterwards resolve with ErrQueueStopped.
func (s *Serializer) Stop(grace time.Duration) {
	s.mu.Lock()
	w := s.worker
	s.mu.Unlock()

	if w == nil {
		return
	}

	w.signalStop()
	s.signal()

	select {
	case <-w.done:
	case <-time.After(grace):
		s.logger.WithField("grace", grace).Warn("Command serializer did not drain in time, abandoning queue")
		w.cancel()
		<-w.done
	}
	w.cancel()

	s.mu.Lock()
	if s.worker == w {
		s.worker = nil
	}
	pending := s.queue
	s.queue = nil
	s.mu.Unlock()

	for _, cmd := range pending {
		cmd.result <- ErrQueueStopped
	}

	s.logger.WithField("abandoned", len(pending)).Debug("Command serializer stopped")
}

func (s *Serializer) signal() {
	select {
	case s.wake <- struct{}{}:
	default:
	}
}

func (s *Serializer) dequeue() *command {
	s.mu.Lock()
	defer s.mu.Unlock()

	if len(s.queue) == 0 {
		return nil
	}
	cmd := s.queue[0]
	s.queue[0] = nil
	s.queue = s.queue[1:]
	return cmd
}

func (s *Serializer) run(ctx context.Context, w *worker) {
	defer close(w.done)

	for {
		cmd := s.dequeue()
		if cmd == nil {
			select {
			case <-w.stop:
				return
			case <-ctx.Done():
				return
			case <-s.wake:
				continue
			}
		}

		s.execute(ctx, cmd)
		if ctx.Err() != nil {
			return
		}
	}
}

func (s *Serializer) execute(ctx context.Context, cmd *command) {
	if err := s.limiter.Wait(ctx); err != nil {
		cmd.result <- ErrQueueStopped
		return
	}
	// the executor may wait on the connection lock, so spacing is measured from the previous write's return
	if !s.lastDone.IsZero() {
		if err := sleepCtx(ctx, s.minInterval-time.Since(s.lastDone)); err != nil {
			cmd.result <- ErrQueueStopped
			return
		}
	}

	log := s.logger.WithFields(logrus.Fields{
		"characteristic": CharacteristicName(cmd.uuid),
		"queued":         time.Since(cmd.queuedAt),
	})
	log.Debug("Executing command")

	err := s.exec(ctx, cmd.uuid, cmd.payload)
	s.lastDone = time.Now()

	if err != nil {
		log.WithError(err).Warn("Command failed")
		cmd.result <- &CommandError{Characteristic: cmd.uuid, Err: err}
		return
	}
	cmd.result <- nil
}
