package volcano

import (
	"encoding/hex"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
)

// ConnectionState is the link lifecycle owned by the connection manager
type ConnectionState int

const (
	Disconnected ConnectionState = iota
	Connecting
	Connected
	Reconnecting
)

func (s ConnectionState) String() string {
	switch s {
	case Disconnected:
		return "disconnected"
	case Connecting:
		return "connecting"
	case Connected:
		return "connected"
	case Reconnecting:
		return "reconnecting"
	default:
		return "unknown"
	}
}

// Available reports whether callers should treat the device as usable
func (s ConnectionState) Available() bool {
	return s == Connected
}

// OperatingHours is the device's lifetime heater usage counter
type OperatingHours struct {
	Hours   int `json:"hours" yaml:"hours"`
	Minutes int `json:"minutes" yaml:"minutes"`
}

// DeviceInfo holds static descriptors and settings read in the background.
// Nil strings mean the value was never read successfully.
type DeviceInfo struct {
	SerialNumber   *string        `json:"serial_number,omitempty" yaml:"serial_number,omitempty"`
	BLEFirmware    *string        `json:"ble_firmware,omitempty" yaml:"ble_firmware,omitempty"`
	MainFirmware   *string        `json:"main_firmware,omitempty" yaml:"main_firmware,omitempty"`
	OperatingHours OperatingHours `json:"operating_hours" yaml:"operating_hours"`
	AutoOffSeconds int            `json:"auto_off_seconds" yaml:"auto_off_seconds"`
}

// DeviceState is an immutable snapshot handed to callers and observers
type DeviceState struct {
	CurrentTemperature int             `json:"current_temperature" yaml:"current_temperature"`
	TargetTemperature  int             `json:"target_temperature" yaml:"target_temperature"`
	HeaterOn           bool            `json:"heater_on" yaml:"heater_on"`
	FanOn              bool            `json:"fan_on" yaml:"fan_on"`
	Brightness         int             `json:"brightness" yaml:"brightness"`
	Connected          bool            `json:"connected" yaml:"connected"`
	ConnectionState    ConnectionState `json:"-" yaml:"-"`
	VibrationEnabled   bool            `json:"vibration_enabled" yaml:"vibration_enabled"`
	DisplayOnCooling   bool            `json:"display_on_cooling" yaml:"display_on_cooling"`
	Info               DeviceInfo      `json:"info" yaml:"info"`

	// RawStatus is the hex of the last primary-status payload read by keepalive or RawStatus
	RawStatus string `json:"raw_status,omitempty" yaml:"raw_status,omitempty"`
}

func cloneString(s *string) *string {
	if s == nil {
		return nil
	}
	v := *s
	return &v
}

func (s DeviceState) clone() DeviceState {
	s.Info.SerialNumber = cloneString(s.Info.SerialNumber)
	s.Info.BLEFirmware = cloneString(s.Info.BLEFirmware)
	s.Info.MainFirmware = cloneString(s.Info.MainFirmware)
	return s
}

// StateObserver receives a snapshot after every observable change.
// Observers are called one at a time in commit order; a snapshot already
// superseded when its turn comes is skipped. They must not block or mutate the store.
type StateObserver func(DeviceState)

func defaultState() DeviceState {
	return DeviceState{
		Brightness:       DefaultBrightness,
		VibrationEnabled: true,
		DisplayOnCooling: true,
		Info: DeviceInfo{
			AutoOffSeconds: DefaultAutoOffMinutes * 60,
		},
	}
}

// Store is the authoritative in-memory device state.
// Every mutation is applied under one lock and published as a whole snapshot.
type Store struct {
	logger *logrus.Logger
	now    func() time.Time

	mu    sync.RWMutex
	state DeviceState

	// current temperature cache
	tempAt    time.Time
	tempKnown bool

	targetKnown bool

	// override protection for heater changes
	overrideWindow  time.Duration
	heaterChangedAt time.Time
	heaterSource    Source
	heaterTouched   bool

	// seq numbers commits under mu; publish drops snapshots older than published
	seq       uint64
	pubMu     sync.Mutex
	published uint64

	obsMu     sync.Mutex
	nextObsID int
	observers map[int]StateObserver
}

// NewStore creates a store seeded with device defaults
func NewStore(overrideWindow time.Duration, logger *logrus.Logger) *Store {
	if logger == nil {
		logger = logrus.New()
	}
	return &Store{
		logger:         logger,
		now:            time.Now,
		state:          defaultState(),
		overrideWindow: overrideWindow,
		observers:      make(map[int]StateObserver),
	}
}

// Snapshot returns a deep copy of the current state
func (s *Store) Snapshot() DeviceState {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.state.clone()
}

// ConnectionState returns the current link state
func (s *Store) ConnectionState() ConnectionState {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.state.ConnectionState
}

// Observe registers an observer and returns a function removing it
func (s *Store) Observe(obs StateObserver) func() {
	s.obsMu.Lock()
	id := s.nextObsID
	s.nextObsID++
	s.observers[id] = obs
	s.obsMu.Unlock()

	return func() {
		s.obsMu.Lock()
		delete(s.observers, id)
		s.obsMu.Unlock()
	}
}

// Update applies fn atomically and publishes the resulting snapshot
func (s *Store) Update(fn func(*DeviceState)) {
	s.mu.Lock()
	fn(&s.state)
	snapshot, seq := s.commitLocked()
	s.mu.Unlock()

	s.publish(snapshot, seq)
}

func (s *Store) commitLocked() (DeviceState, uint64) {
	s.seq++
	return s.state.clone(), s.seq
}

// publish delivers snapshots one at a time in commit order
func (s *Store) publish(snapshot DeviceState, seq uint64) {
	s.pubMu.Lock()
	defer s.pubMu.Unlock()

	if seq <= s.published {
		return
	}
	s.published = seq

	s.obsMu.Lock()
	observers := make([]StateObserver, 0, len(s.observers))
	for _, obs := range s.observers {
		observers = append(observers, obs)
	}
	s.obsMu.Unlock()

	for _, obs := range observers {
		obs(snapshot.clone())
	}
}

// SetConnectionState records a link transition
func (s *Store) SetConnectionState(cs ConnectionState) {
	s.Update(func(st *DeviceState) {
		st.ConnectionState = cs
		st.Connected = cs == Connected
	})
}

// FreshTemperature returns the cached current temperature if it is younger than ttl
func (s *Store) FreshTemperature(ttl time.Duration) (int, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if !s.tempKnown || s.now().Sub(s.tempAt) >= ttl {
		return 0, false
	}
	return s.state.CurrentTemperature, true
}

// LastTemperature returns the last known current temperature regardless of age
func (s *Store) LastTemperature() (int, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.state.CurrentTemperature, s.tempKnown
}

// SetCurrentTemperature stores a reading and refreshes the cache timestamp
func (s *Store) SetCurrentTemperature(celsius int) {
	s.mu.Lock()
	s.setTemperatureLocked(celsius)
	snapshot, seq := s.commitLocked()
	s.mu.Unlock()

	s.publish(snapshot, seq)
}

func (s *Store) setTemperatureLocked(celsius int) {
	s.state.CurrentTemperature = celsius
	s.tempAt = s.now()
	s.tempKnown = true
}

// LastTargetTemperature returns the last known target temperature
func (s *Store) LastTargetTemperature() (int, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.state.TargetTemperature, s.targetKnown
}

func (s *Store) SetTargetTemperature(celsius int) {
	s.mu.Lock()
	s.state.TargetTemperature = celsius
	s.targetKnown = true
	snapshot, seq := s.commitLocked()
	s.mu.Unlock()

	s.publish(snapshot, seq)
}

// SetHeater records a heater change made by the user. It always applies and
// opens the override window.
func (s *Store) SetHeater(on bool) {
	s.mu.Lock()
	s.state.HeaterOn = on
	s.markHeaterLocked(SourceUserCommand)
	snapshot, seq := s.commitLocked()
	s.mu.Unlock()

	s.publish(snapshot, seq)
}

func (s *Store) markHeaterLocked(source Source) {
	s.heaterSource = source
	s.heaterChangedAt = s.now()
	s.heaterTouched = true
}

// heaterOverrideActiveLocked reports whether a recent user change shields the heater flag
func (s *Store) heaterOverrideActiveLocked() bool {
	if !s.heaterTouched || s.heaterSource != SourceUserCommand {
		return false
	}
	return s.now().Sub(s.heaterChangedAt) <= s.overrideWindow
}

// ApplyStatus merges decoded primary-status flags. Heater changes reported by
// notifications are dropped while a user change is inside the override window.
func (s *Store) ApplyStatus(flags StatusFlags, source Source) {
	s.mu.Lock()

	if flags.HeaterOn != s.state.HeaterOn || source == SourceUserCommand {
		switch {
		case source == SourceNotification && s.heaterOverrideActiveLocked():
			s.logger.WithFields(logrus.Fields{
				"reported": flags.HeaterOn,
				"local":    s.state.HeaterOn,
				"age":      s.now().Sub(s.heaterChangedAt),
			}).Debug("Ignoring heater notification inside override window")
		default:
			s.state.HeaterOn = flags.HeaterOn
			s.markHeaterLocked(source)
		}
	}

	s.state.FanOn = flags.FanOn

	if flags.HasTemperature {
		s.setTemperatureLocked(flags.Temperature)
	}

	snapshot, seq := s.commitLocked()
	s.mu.Unlock()

	s.publish(snapshot, seq)
}

// SetRawStatus stores a primary-status payload for diagnostics only
func (s *Store) SetRawStatus(raw []byte) {
	encoded := hex.EncodeToString(raw)
	s.Update(func(st *DeviceState) {
		st.RawStatus = encoded
	})
}
