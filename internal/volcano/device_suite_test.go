//go:build test

package volcano

import (
	"context"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/srg/volcano/internal/testutils"
	"github.com/srg/volcano/pkg/config"
	"github.com/stretchr/testify/suite"
)

// DeviceSuite runs a Device against an in-memory Volcano peripheral
type DeviceSuite struct {
	suite.Suite

	Helper *testutils.TestHelper
	Logger *logrus.Logger

	Config    *config.Config
	Builder   *testutils.FakeTransportBuilder
	Transport *testutils.FakeTransport
	Device    *Device
}

// NewVolcanoPeripheral describes a Volcano exposing every known characteristic
func NewVolcanoPeripheral() *testutils.FakeTransportBuilder {
	return testutils.NewFakeTransportBuilder().
		WithAddress("EC:1A:2B:3C:4D:5E").
		WithCharacteristic(HeaterOnUUID, "write", nil).
		WithCharacteristic(HeaterOffUUID, "write", nil).
		WithCharacteristic(FanOnUUID, "write", nil).
		WithCharacteristic(FanOffUUID, "write", nil).
		WithCharacteristic(ScreenBrightnessUUID, "read,write", []byte{0x46, 0x00}).
		WithCharacteristic(TargetTemperatureUUID, "read,write", []byte{0x3A, 0x07, 0x00, 0x00}).
		WithCharacteristic(CurrentTemperatureUUID, "read,notify", []byte{0x08, 0x07}).
		WithCharacteristic(PrimaryStatusUUID, "read,notify", []byte{0x00, 0x00}).
		WithCharacteristic(SerialNumberUUID, "read", []byte("VH123456\x00")).
		WithCharacteristic(BLEFirmwareUUID, "read", []byte("V01.05.09")).
		WithCharacteristic(OperatingHoursUUID, "read", []byte{0x2C, 0x01}).
		WithCharacteristic(OperatingMinutesUUID, "read", []byte{0x0F, 0x00}).
		WithCharacteristic(MainFirmwareUUID, "read", []byte{0x01, 0x07, 0x3E}).
		WithCharacteristic(AutoShutoffUUID, "read,write", []byte{0x1E}).
		WithCharacteristic(AutoShutoffSettingUUID, "read,write", []byte{0x3C, 0x00}).
		WithCharacteristic(VibrationUUID, "read,write", []byte{0x00}).
		WithCharacteristic(DisplayOnCoolingUUID, "read,write", []byte{0x01})
}

func (s *DeviceSuite) SetupSuite() {
	s.Helper = testutils.NewTestHelper(s.T())
	s.Logger = s.Helper.Logger
}

// SetupTest prepares a default peripheral and config. Tests may replace
// Builder or tweak Config before calling Connect.
func (s *DeviceSuite) SetupTest() {
	s.Config = testutils.FastConfig()
	s.Builder = NewVolcanoPeripheral()
	s.Transport = nil
	s.Device = nil
}

func (s *DeviceSuite) TearDownTest() {
	if s.Device != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = s.Device.Disconnect(ctx)
	}
}

// NewDevice builds the transport and device from the current Builder and Config
func (s *DeviceSuite) NewDevice() *Device {
	s.Transport = s.Builder.Build()
	s.Device = New(s.Transport, s.Config, s.Logger)
	return s.Device
}

// Connect builds a device and connects it, waiting for background readers to finish
func (s *DeviceSuite) Connect() *Device {
	d := s.NewDevice()
	s.Require().NoError(d.Connect(context.Background()))
	s.Require().Equal(Connected, d.ConnectionState())
	s.WaitSettled()
	return d
}

// WaitSettled waits until the session's background reads have been applied.
// The default peripheral reports vibration off, which is the last batch the readers publish.
func (s *DeviceSuite) WaitSettled() {
	s.Require().Eventually(func() bool {
		state := s.Device.State()
		_, targetKnown := s.Device.store.LastTargetTemperature()
		_, currentKnown := s.Device.store.LastTemperature()
		return state.Info.SerialNumber != nil && !state.VibrationEnabled && targetKnown && currentKnown
	}, 2*time.Second, 10*time.Millisecond, "background readers MUST populate device info")
}

// sleepRecorder replaces real waits with a record of the requested delays
type sleepRecorder struct {
	mu     sync.Mutex
	delays []time.Duration
}

func (r *sleepRecorder) sleep(ctx context.Context, d time.Duration) error {
	r.mu.Lock()
	r.delays = append(r.delays, d)
	r.mu.Unlock()
	return ctx.Err()
}

func (r *sleepRecorder) Delays() []time.Duration {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]time.Duration(nil), r.delays...)
}
