//go:build test

package testutils

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/srg/volcano/internal/transport"
)

// CharacteristicConfig describes one characteristic of a fake peripheral
type CharacteristicConfig struct {
	UUID       string `json:"uuid"`
	Properties string `json:"properties,omitempty"` // e.g. "read,write,notify"
	Value      []byte `json:"value,omitempty"`
}

// ProfileConfig is the JSON form accepted by FakeTransportBuilder.FromJSON
type ProfileConfig struct {
	Address         string                 `json:"address,omitempty"`
	Characteristics []CharacteristicConfig `json:"characteristics"`
}

// WriteRecord is one write observed by the fake
type WriteRecord struct {
	UUID string
	Data []byte
	At   time.Time
}

type fakeCharacteristic struct {
	uuid       string
	properties string
	value      []byte
}

func (c *fakeCharacteristic) can(prop string) bool {
	if c.properties == "" {
		return true
	}
	for _, p := range strings.Split(c.properties, ",") {
		if strings.TrimSpace(p) == prop {
			return true
		}
	}
	return false
}

// FakeTransport is an in-memory transport.Transport with scriptable failures.
// Writes to a readable characteristic update its value, so read-after-write round trips.
type FakeTransport struct {
	mu sync.Mutex

	address      string
	discoverable bool
	latency      time.Duration

	connected bool
	dropped   chan struct{}
	chars     map[string]*fakeCharacteristic
	handlers  map[string]transport.NotificationHandler

	connectErrs []error
	readErrs    map[string]error
	writeErrs   map[string][]error

	connectCalls  int
	discoverCalls int
	disconnects   int
	reads         map[string]int
	writes        []WriteRecord
}

var _ transport.Transport = (*FakeTransport)(nil)

// FakeTransportBuilder configures a FakeTransport with a fluent API
type FakeTransportBuilder struct {
	profile      ProfileConfig
	discoverable bool
	latency      time.Duration
}

// NewFakeTransportBuilder starts an empty, discoverable peripheral
func NewFakeTransportBuilder() *FakeTransportBuilder {
	return &FakeTransportBuilder{
		profile:      ProfileConfig{Address: "AA:BB:CC:DD:EE:FF"},
		discoverable: true,
	}
}

func (b *FakeTransportBuilder) WithAddress(address string) *FakeTransportBuilder {
	b.profile.Address = address
	return b
}

// WithCharacteristic adds a characteristic with an initial value
func (b *FakeTransportBuilder) WithCharacteristic(uuid, properties string, value []byte) *FakeTransportBuilder {
	b.profile.Characteristics = append(b.profile.Characteristics, CharacteristicConfig{
		UUID:       uuid,
		Properties: properties,
		Value:      value,
	})
	return b
}

// WithDiscoverable controls whether Discover reports the peripheral
func (b *FakeTransportBuilder) WithDiscoverable(discoverable bool) *FakeTransportBuilder {
	b.discoverable = discoverable
	return b
}

// WithLatency delays every read and write
func (b *FakeTransportBuilder) WithLatency(d time.Duration) *FakeTransportBuilder {
	b.latency = d
	return b
}

// FromJSON fills the profile from JSON
func (b *FakeTransportBuilder) FromJSON(jsonStrFmt string, args ...interface{}) *FakeTransportBuilder {
	jsonStr := fmt.Sprintf(jsonStrFmt, args...)

	var profile ProfileConfig
	if err := json.Unmarshal([]byte(jsonStr), &profile); err != nil {
		panic(fmt.Sprintf("FromJSON: invalid profile: %v", err))
	}
	if profile.Address != "" {
		b.profile.Address = profile.Address
	}
	b.profile.Characteristics = append(b.profile.Characteristics, profile.Characteristics...)
	return b
}

// Build creates the fake transport
func (b *FakeTransportBuilder) Build() *FakeTransport {
	f := &FakeTransport{
		address:      b.profile.Address,
		discoverable: b.discoverable,
		latency:      b.latency,
		chars:        make(map[string]*fakeCharacteristic),
		handlers:     make(map[string]transport.NotificationHandler),
		readErrs:     make(map[string]error),
		writeErrs:    make(map[string][]error),
		reads:        make(map[string]int),
	}
	for _, c := range b.profile.Characteristics {
		key := transport.NormalizeUUID(c.UUID)
		f.chars[key] = &fakeCharacteristic{
			uuid:       c.UUID,
			properties: c.Properties,
			value:      append([]byte(nil), c.Value...),
		}
	}
	return f
}

func (f *FakeTransport) Address() string {
	return f.address
}

func (f *FakeTransport) Discover(ctx context.Context) (bool, error) {
	f.mu.Lock()
	f.discoverCalls++
	discoverable := f.discoverable
	f.mu.Unlock()

	if discoverable {
		return true, nil
	}
	<-ctx.Done()
	return false, nil
}

func (f *FakeTransport) Connect(ctx context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.connectCalls++
	if len(f.connectErrs) > 0 {
		err := f.connectErrs[0]
		f.connectErrs = f.connectErrs[1:]
		if err != nil {
			return err
		}
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	if f.connected {
		return transport.ErrAlreadyConnected
	}

	f.connected = true
	f.dropped = make(chan struct{})
	return nil
}

func (f *FakeTransport) Disconnect() error {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.disconnects++
	if !f.connected {
		return nil
	}
	f.connected = false
	f.handlers = make(map[string]transport.NotificationHandler)
	close(f.dropped)
	f.dropped = nil
	return nil
}

func (f *FakeTransport) IsConnected() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.connected
}

func (f *FakeTransport) Disconnected() <-chan struct{} {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.dropped == nil {
		return nil
	}
	return f.dropped
}

func (f *FakeTransport) HasCharacteristic(uuid string) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	_, ok := f.chars[transport.NormalizeUUID(uuid)]
	return ok
}

func (f *FakeTransport) lookupLocked(uuid string) (*fakeCharacteristic, error) {
	if !f.connected {
		return nil, transport.ErrNotConnected
	}
	c, ok := f.chars[transport.NormalizeUUID(uuid)]
	if !ok {
		return nil, &transport.NotFoundError{Resource: "characteristic", UUID: uuid}
	}
	return c, nil
}

func (f *FakeTransport) wait(ctx context.Context) error {
	if f.latency <= 0 {
		return nil
	}
	select {
	case <-time.After(f.latency):
		return nil
	case <-ctx.Done():
		return transport.ErrTimeout
	}
}

func (f *FakeTransport) Read(ctx context.Context, uuid string) ([]byte, error) {
	if err := f.wait(ctx); err != nil {
		return nil, err
	}

	f.mu.Lock()
	defer f.mu.Unlock()

	c, err := f.lookupLocked(uuid)
	if err != nil {
		return nil, err
	}
	key := transport.NormalizeUUID(uuid)
	f.reads[key]++
	if err := f.readErrs[key]; err != nil {
		return nil, err
	}
	return append([]byte(nil), c.value...), nil
}

func (f *FakeTransport) Write(ctx context.Context, uuid string, data []byte) error {
	if err := f.wait(ctx); err != nil {
		return err
	}

	f.mu.Lock()
	defer f.mu.Unlock()

	c, err := f.lookupLocked(uuid)
	if err != nil {
		return err
	}

	key := transport.NormalizeUUID(uuid)
	f.writes = append(f.writes, WriteRecord{UUID: uuid, Data: append([]byte(nil), data...), At: time.Now()})

	if errs := f.writeErrs[key]; len(errs) > 0 {
		werr := errs[0]
		f.writeErrs[key] = errs[1:]
		if werr != nil {
			return werr
		}
	}

	if c.can("read") {
		c.value = append([]byte(nil), data...)
	}
	return nil
}

func (f *FakeTransport) Subscribe(_ context.Context, uuid string, handler transport.NotificationHandler) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	c, err := f.lookupLocked(uuid)
	if err != nil {
		return err
	}
	if !c.can("notify") && !c.can("indicate") {
		return fmt.Errorf("characteristic %s does not support notifications", uuid)
	}
	f.handlers[transport.NormalizeUUID(uuid)] = handler
	return nil
}

func (f *FakeTransport) Unsubscribe(uuid string) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	if _, err := f.lookupLocked(uuid); err != nil {
		return err
	}
	delete(f.handlers, transport.NormalizeUUID(uuid))
	return nil
}

// Notify pushes data to the subscriber of uuid, if any. It reports whether a handler ran.
func (f *FakeTransport) Notify(uuid string, data []byte) bool {
	f.mu.Lock()
	handler := f.handlers[transport.NormalizeUUID(uuid)]
	f.mu.Unlock()

	if handler == nil {
		return false
	}
	handler(data)
	return true
}

// Drop simulates the peripheral going away without a local Disconnect
func (f *FakeTransport) Drop() {
	f.mu.Lock()
	defer f.mu.Unlock()

	if !f.connected {
		return
	}
	f.connected = false
	f.handlers = make(map[string]transport.NotificationHandler)
	close(f.dropped)
	f.dropped = nil
}

// FailConnects scripts the results of the next Connect calls; nil entries succeed
func (f *FakeTransport) FailConnects(errs ...error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.connectErrs = append(f.connectErrs, errs...)
}

// FailReads makes every read of uuid fail with err until cleared with a nil err
func (f *FakeTransport) FailReads(uuid string, err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.readErrs[transport.NormalizeUUID(uuid)] = err
}

// FailWrites scripts the results of the next writes to uuid; nil entries succeed
func (f *FakeTransport) FailWrites(uuid string, errs ...error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	key := transport.NormalizeUUID(uuid)
	f.writeErrs[key] = append(f.writeErrs[key], errs...)
}

// SetValue replaces the stored value of a characteristic
func (f *FakeTransport) SetValue(uuid string, value []byte) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if c, ok := f.chars[transport.NormalizeUUID(uuid)]; ok {
		c.value = append([]byte(nil), value...)
	}
}

// Value returns the stored value of a characteristic
func (f *FakeTransport) Value(uuid string) []byte {
	f.mu.Lock()
	defer f.mu.Unlock()
	if c, ok := f.chars[transport.NormalizeUUID(uuid)]; ok {
		return append([]byte(nil), c.value...)
	}
	return nil
}

// Writes returns every write observed so far
func (f *FakeTransport) Writes() []WriteRecord {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]WriteRecord(nil), f.writes...)
}

// WritesTo returns the writes observed for one characteristic
func (f *FakeTransport) WritesTo(uuid string) []WriteRecord {
	key := transport.NormalizeUUID(uuid)
	var out []WriteRecord
	for _, w := range f.Writes() {
		if transport.NormalizeUUID(w.UUID) == key {
			out = append(out, w)
		}
	}
	return out
}

// ReadCount returns how many reads of uuid reached the fake
func (f *FakeTransport) ReadCount(uuid string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.reads[transport.NormalizeUUID(uuid)]
}

func (f *FakeTransport) ConnectCalls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.connectCalls
}

func (f *FakeTransport) DiscoverCalls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.discoverCalls
}

func (f *FakeTransport) Subscribed(uuid string) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	_, ok := f.handlers[transport.NormalizeUUID(uuid)]
	return ok
}
