package volcano

import (
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeClock is a manually advanced time source for the store
type fakeClock struct {
	t time.Time
}

func (c *fakeClock) Now() time.Time { return c.t }

func (c *fakeClock) Advance(d time.Duration) { c.t = c.t.Add(d) }

func newTestStore(t *testing.T) (*Store, *fakeClock) {
	t.Helper()
	logger := logrus.New()
	logger.SetLevel(logrus.DebugLevel)

	clock := &fakeClock{t: time.Date(2024, 1, 1, 12, 0, 0, 0, time.UTC)}
	store := NewStore(5*time.Second, logger)
	store.now = clock.Now
	return store, clock
}

func TestDecodeStatus(t *testing.T) {
	tests := []struct {
		name       string
		payload    []byte
		wantHeater bool
		wantFan    bool
		wantTemp   int
		hasTemp    bool
	}{
		{name: "heater bit", payload: []byte{0x20, 0x00}, wantHeater: true},
		{name: "fan bit", payload: []byte{0x00, 0x20}, wantFan: true},
		{name: "both bits", payload: []byte{0x20, 0x20}, wantHeater: true, wantFan: true},
		{name: "idle", payload: []byte{0x00, 0x00}},
		{name: "high byte in range is a temperature hint", payload: []byte{0x20, 0x99}, wantHeater: true, wantTemp: 153, hasTemp: true},
		{name: "extra bytes ignored", payload: []byte{0x20, 0x00, 0xFF, 0xFF}, wantHeater: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			flags, err := DecodeStatus(tt.payload)
			require.NoError(t, err)
			assert.Equal(t, tt.wantHeater, flags.HeaterOn)
			assert.Equal(t, tt.wantFan, flags.FanOn)
			assert.Equal(t, tt.hasTemp, flags.HasTemperature)
			if tt.hasTemp {
				assert.Equal(t, tt.wantTemp, flags.Temperature)
			}
		})
	}
}

func TestDecoder_ShortPayloadLeavesStateUnchanged(t *testing.T) {
	store, _ := newTestStore(t)
	decoder := NewDecoder(store, nil)

	require.NoError(t, decoder.Handle([]byte{0x20, 0x20}, SourceNotification))
	before := store.Snapshot()

	published := 0
	store.Observe(func(DeviceState) { published++ })

	err := decoder.Handle([]byte{0x00}, SourceNotification)
	var decErr *DecodeError
	require.ErrorAs(t, err, &decErr)

	assert.Equal(t, before, store.Snapshot())
	assert.Zero(t, published, "malformed payload MUST NOT publish a snapshot")
}

func TestStore_OverrideWindow(t *testing.T) {
	t.Run("stale notification inside the window is ignored", func(t *testing.T) {
		store, clock := newTestStore(t)
		decoder := NewDecoder(store, nil)

		store.SetHeater(true)
		clock.Advance(3 * time.Second)

		require.NoError(t, decoder.Handle([]byte{0x00, 0x00}, SourceNotification))
		assert.True(t, store.Snapshot().HeaterOn, "user command MUST win inside the override window")
	})

	t.Run("notification after the window applies", func(t *testing.T) {
		store, clock := newTestStore(t)
		decoder := NewDecoder(store, nil)

		store.SetHeater(true)
		clock.Advance(5*time.Second + time.Millisecond)

		require.NoError(t, decoder.Handle([]byte{0x00, 0x00}, SourceNotification))
		assert.False(t, store.Snapshot().HeaterOn, "device report MUST apply once the window has passed")
	})

	t.Run("window only protects user changes", func(t *testing.T) {
		store, clock := newTestStore(t)
		decoder := NewDecoder(store, nil)

		require.NoError(t, decoder.Handle([]byte{0x20, 0x00}, SourceNotification))
		clock.Advance(time.Second)
		require.NoError(t, decoder.Handle([]byte{0x00, 0x00}, SourceNotification))

		assert.False(t, store.Snapshot().HeaterOn)
	})

	t.Run("fan flag is never shielded", func(t *testing.T) {
		store, clock := newTestStore(t)
		decoder := NewDecoder(store, nil)

		store.SetHeater(true)
		clock.Advance(time.Second)
		require.NoError(t, decoder.Handle([]byte{0x00, 0x20}, SourceNotification))

		state := store.Snapshot()
		assert.True(t, state.HeaterOn)
		assert.True(t, state.FanOn)
	})

	t.Run("initial read applies inside the window", func(t *testing.T) {
		store, clock := newTestStore(t)
		decoder := NewDecoder(store, nil)

		store.SetHeater(true)
		clock.Advance(time.Second)
		require.NoError(t, decoder.Handle([]byte{0x00, 0x00}, SourceInitialRead))

		assert.False(t, store.Snapshot().HeaterOn)
	})
}

func TestStore_TemperatureCache(t *testing.T) {
	store, clock := newTestStore(t)

	_, ok := store.FreshTemperature(time.Second)
	assert.False(t, ok, "empty cache MUST be stale")
	_, known := store.LastTemperature()
	assert.False(t, known)

	store.SetCurrentTemperature(180)
	v, ok := store.FreshTemperature(time.Second)
	assert.True(t, ok)
	assert.Equal(t, 180, v)

	clock.Advance(time.Second)
	_, ok = store.FreshTemperature(time.Second)
	assert.False(t, ok, "reading as old as the TTL MUST be stale")

	last, known := store.LastTemperature()
	assert.True(t, known)
	assert.Equal(t, 180, last)
}

func TestStore_StatusTemperatureHintRefreshesCache(t *testing.T) {
	store, clock := newTestStore(t)
	decoder := NewDecoder(store, nil)

	store.SetCurrentTemperature(100)
	clock.Advance(2 * time.Second)

	require.NoError(t, decoder.Handle([]byte{0x00, 0x99}, SourceNotification))
	v, ok := store.FreshTemperature(time.Second)
	assert.True(t, ok)
	assert.Equal(t, 153, v)
}

func TestStore_SnapshotsAreIsolated(t *testing.T) {
	store, _ := newTestStore(t)

	serial := "VH0001"
	store.Update(func(st *DeviceState) {
		st.Info.SerialNumber = &serial
	})

	snap := store.Snapshot()
	*snap.Info.SerialNumber = "mutated"

	assert.Equal(t, "VH0001", *store.Snapshot().Info.SerialNumber, "snapshots MUST NOT alias store memory")
}

func TestStore_Observers(t *testing.T) {
	store, _ := newTestStore(t)

	var got []DeviceState
	remove := store.Observe(func(s DeviceState) { got = append(got, s) })

	store.Update(func(st *DeviceState) {
		st.FanOn = true
		st.Brightness = 40
	})
	require.Len(t, got, 1)
	assert.True(t, got[0].FanOn)
	assert.Equal(t, 40, got[0].Brightness)

	remove()
	store.SetHeater(true)
	assert.Len(t, got, 1, "removed observer MUST NOT be called")
}

func TestStore_Defaults(t *testing.T) {
	store, _ := newTestStore(t)
	state := store.Snapshot()

	assert.Equal(t, DefaultBrightness, state.Brightness)
	assert.True(t, state.VibrationEnabled)
	assert.True(t, state.DisplayOnCooling)
	assert.Equal(t, Disconnected, state.ConnectionState)
	assert.False(t, state.Connected)
	assert.Nil(t, state.Info.SerialNumber)
}

func TestStore_PublishesSeriallyInCommitOrder(t *testing.T) {
	// GOAL: concurrent mutations never reach an observer out of order or in parallel
	//
	// TEST SCENARIO: 8 goroutines bump brightness 50 times each → observer tracks overlap and
	// the last value seen → values only grow, no overlap, final snapshot delivered

	store := NewStore(time.Second, logrus.New())

	var (
		inFlight atomic.Int32
		overlap  atomic.Bool
		mu       sync.Mutex
		seen     []int
	)
	store.Observe(func(st DeviceState) {
		if inFlight.Add(1) > 1 {
			overlap.Store(true)
		}
		defer inFlight.Add(-1)

		mu.Lock()
		seen = append(seen, st.Brightness)
		mu.Unlock()
	})

	var wg sync.WaitGroup
	for g := 0; g < 8; g++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := 0; i < 50; i++ {
				store.Update(func(st *DeviceState) { st.Brightness++ })
			}
		}()
	}
	wg.Wait()

	assert.False(t, overlap.Load(), "observers MUST NOT run concurrently")

	mu.Lock()
	defer mu.Unlock()
	require.NotEmpty(t, seen)
	for i := 1; i < len(seen); i++ {
		require.Greater(t, seen[i], seen[i-1], "snapshots MUST arrive in commit order")
	}
	assert.Equal(t, defaultState().Brightness+400, seen[len(seen)-1], "latest snapshot MUST be delivered")
}
