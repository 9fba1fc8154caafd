package volcano

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// recordingExecutor records the order and start time of every executed command
type recordingExecutor struct {
	mu       sync.Mutex
	uuids    []string
	started  []time.Time
	inFlight int
	overlap  bool
	delay    time.Duration
	fail     map[string]error
}

func (r *recordingExecutor) exec(ctx context.Context, uuid string, _ []byte) error {
	now := time.Now()

	r.mu.Lock()
	r.inFlight++
	if r.inFlight > 1 {
		r.overlap = true
	}
	r.uuids = append(r.uuids, uuid)
	r.started = append(r.started, now)
	err := r.fail[uuid]
	r.mu.Unlock()

	if r.delay > 0 {
		select {
		case <-time.After(r.delay):
		case <-ctx.Done():
		}
	}

	r.mu.Lock()
	r.inFlight--
	r.mu.Unlock()
	return err
}

func (r *recordingExecutor) snapshot() ([]string, []time.Time) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.uuids...), append([]time.Time(nil), r.started...)
}

func newTestSerializer(exec Executor, interval time.Duration) *Serializer {
	logger := logrus.New()
	logger.SetLevel(logrus.DebugLevel)
	return NewSerializer(exec, interval, 5*time.Second, logger)
}

func TestSerializer_SpacingAndOrderUnderConcurrency(t *testing.T) {
	// GOAL: commands run one at a time, in submission order, at least the minimum interval apart
	//
	// TEST SCENARIO: 8 goroutines submit 3 commands each → submission order recorded under a lock →
	// executed order matches, no overlap, start gaps >= interval

	const interval = 40 * time.Millisecond
	rec := &recordingExecutor{delay: 5 * time.Millisecond}
	s := newTestSerializer(rec.exec, interval)
	defer s.Stop(time.Second)

	var (
		submitMu  sync.Mutex
		submitted []string
		results   []<-chan error
		wg        sync.WaitGroup
	)

	for g := 0; g < 8; g++ {
		wg.Add(1)
		go func(g int) {
			defer wg.Done()
			for i := 0; i < 3; i++ {
				uuid := fmt.Sprintf("cmd-%d-%d", g, i)
				submitMu.Lock()
				submitted = append(submitted, uuid)
				results = append(results, s.Submit(uuid, []byte{byte(i)}))
				submitMu.Unlock()
			}
		}(g)
	}
	wg.Wait()

	for _, result := range results {
		select {
		case err := <-result:
			require.NoError(t, err)
		case <-time.After(5 * time.Second):
			t.Fatal("command MUST resolve")
		}
	}

	executed, started := rec.snapshot()
	assert.Equal(t, submitted, executed, "execution order MUST match submission order")
	assert.False(t, rec.overlap, "at most one command MUST execute at a time")

	for i := 1; i < len(started); i++ {
		gap := started[i].Sub(started[i-1])
		// sub-millisecond slack covers the executor's own timestamp lag
		assert.GreaterOrEqual(t, gap, interval-time.Millisecond, "gap between command %d and %d", i-1, i)
	}
}

func TestSerializer_FailureIsReportedToThatCommandOnly(t *testing.T) {
	rec := &recordingExecutor{fail: map[string]error{"bad": errors.New("write rejected")}}
	s := newTestSerializer(rec.exec, time.Millisecond)
	defer s.Stop(time.Second)

	first := s.Submit("good-1", nil)
	bad := s.Submit("bad", nil)
	last := s.Submit("good-2", nil)

	require.NoError(t, <-first)

	err := <-bad
	var cmdErr *CommandError
	require.ErrorAs(t, err, &cmdErr)
	assert.Equal(t, "bad", cmdErr.Characteristic)
	assert.ErrorContains(t, err, "write rejected")

	require.NoError(t, <-last, "later commands MUST still run after a failure")

	executed, _ := rec.snapshot()
	assert.Equal(t, []string{"good-1", "bad", "good-2"}, executed)
}

func TestSerializer_StopAbandonsQueueAfterGrace(t *testing.T) {
	// GOAL: commands still queued when the grace period ends resolve with ErrQueueStopped
	//
	// TEST SCENARIO: slow executor → queue 5 commands → Stop with a short grace →
	// the in-flight command is cancelled, the rest report ErrQueueStopped

	rec := &recordingExecutor{delay: 200 * time.Millisecond}
	s := newTestSerializer(rec.exec, time.Millisecond)

	var results []<-chan error
	for i := 0; i < 5; i++ {
		results = append(results, s.Submit(fmt.Sprintf("cmd-%d", i), nil))
	}

	start := time.Now()
	s.Stop(50 * time.Millisecond)
	assert.Less(t, time.Since(start), time.Second, "Stop MUST be bounded by the grace period")
	assert.False(t, s.Running())
	assert.Zero(t, s.Pending())

	stopped := 0
	for _, result := range results {
		select {
		case err := <-result:
			if errors.Is(err, ErrQueueStopped) {
				stopped++
			}
		case <-time.After(time.Second):
			t.Fatal("every command MUST resolve after Stop")
		}
	}
	assert.GreaterOrEqual(t, stopped, 4)
}

func TestSerializer_SubmitRestartsStoppedQueue(t *testing.T) {
	rec := &recordingExecutor{}
	s := newTestSerializer(rec.exec, time.Millisecond)

	require.NoError(t, <-s.Submit("first", nil))
	s.Stop(time.Second)
	assert.False(t, s.Running())

	require.NoError(t, <-s.Submit("second", nil))
	assert.True(t, s.Running())
	s.Stop(time.Second)

	executed, _ := rec.snapshot()
	assert.Equal(t, []string{"first", "second"}, executed)
}

func TestSerializer_DoHonoursContext(t *testing.T) {
	rec := &recordingExecutor{delay: 500 * time.Millisecond}
	s := newTestSerializer(rec.exec, time.Millisecond)
	defer s.Stop(time.Second)

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	err := s.Do(ctx, "slow", nil)
	var cmdErr *CommandError
	require.ErrorAs(t, err, &cmdErr)
	assert.ErrorIs(t, err, context.DeadlineExceeded)

	cancelled, cancelNow := context.WithCancel(context.Background())
	cancelNow()
	err = s.Do(cancelled, "never", nil)
	assert.ErrorIs(t, err, context.Canceled)
	assert.Eventually(t, func() bool {
		executed, _ := rec.snapshot()
		return len(executed) == 1
	}, time.Second, 10*time.Millisecond)

	executed, _ := rec.snapshot()
	assert.NotContains(t, executed, "never", "a command cancelled before submission MUST NOT be queued")
}

func TestSerializer_SpacingCountsFromWriteNotStart(t *testing.T) {
	// GOAL: two transport writes are never closer than the interval, even when the first
	// command spends most of the interval waiting for the connection lock
	//
	// TEST SCENARIO: first command blocks 190ms before writing → second command queued behind it →
	// gap between the two write timestamps >= interval

	const interval = 200 * time.Millisecond

	var (
		mu     sync.Mutex
		writes []time.Time
	)
	exec := func(ctx context.Context, uuid string, _ []byte) error {
		if uuid == "first" {
			// lock held by a background reader
			time.Sleep(190 * time.Millisecond)
		}
		mu.Lock()
		writes = append(writes, time.Now())
		mu.Unlock()
		return nil
	}

	s := newTestSerializer(exec, interval)
	defer s.Stop(time.Second)

	first := s.Submit("first", nil)
	second := s.Submit("second", nil)
	require.NoError(t, <-first)
	require.NoError(t, <-second)

	mu.Lock()
	defer mu.Unlock()
	require.Len(t, writes, 2)
	assert.GreaterOrEqual(t, writes[1].Sub(writes[0]), interval, "writes MUST be spaced by the interval")
}
