package volcano

// Storz & Bickel GATT characteristics. All share the vendor base suffix.
const uuidBase = "-5354-4f52-5a26-4249434b454c"

// Control characteristics (write-only switches take a single zero byte)
const (
	HeaterOnUUID          = "1011000f" + uuidBase
	HeaterOffUUID         = "10110010" + uuidBase
	FanOnUUID             = "10110013" + uuidBase
	FanOffUUID            = "10110014" + uuidBase
	ScreenBrightnessUUID  = "10110005" + uuidBase
	TargetTemperatureUUID = "10110003" + uuidBase
)

// Status characteristics
const (
	// PrimaryStatusUUID carries the heater/fan flag word and supports notifications
	PrimaryStatusUUID      = "1010000c" + uuidBase
	CurrentTemperatureUUID = "10110001" + uuidBase
)

// Device information
const (
	SerialNumberUUID     = "10100008" + uuidBase
	BLEFirmwareUUID      = "10100004" + uuidBase
	OperatingHoursUUID   = "10110015" + uuidBase
	OperatingMinutesUUID = "10110016" + uuidBase
	MainFirmwareUUID     = "10100003" + uuidBase
)

// Settings
const (
	AutoShutoffUUID        = "1011000c" + uuidBase
	AutoShutoffSettingUUID = "1011000d" + uuidBase
	VibrationUUID          = "1010000e" + uuidBase
	DisplayOnCoolingUUID   = "1010000d" + uuidBase
)

// autoOffCandidates lists auto-off characteristics in probe order
var autoOffCandidates = []string{AutoShutoffSettingUUID, AutoShutoffUUID}

var characteristicNames = map[string]string{
	HeaterOnUUID:           "heater-on",
	HeaterOffUUID:          "heater-off",
	FanOnUUID:              "fan-on",
	FanOffUUID:             "fan-off",
	ScreenBrightnessUUID:   "screen-brightness",
	TargetTemperatureUUID:  "target-temperature",
	PrimaryStatusUUID:      "primary-status",
	CurrentTemperatureUUID: "current-temperature",
	SerialNumberUUID:       "serial-number",
	BLEFirmwareUUID:        "ble-firmware",
	OperatingHoursUUID:     "operating-hours",
	OperatingMinutesUUID:   "operating-minutes",
	MainFirmwareUUID:       "main-firmware",
	AutoShutoffUUID:        "auto-shutoff",
	AutoShutoffSettingUUID: "auto-shutoff-setting",
	VibrationUUID:          "vibration",
	DisplayOnCoolingUUID:   "display-on-cooling",
}

// CharacteristicName returns a readable name for a known characteristic, or the UUID itself
func CharacteristicName(uuid string) string {
	if name, ok := characteristicNames[uuid]; ok {
		return name
	}
	return uuid
}
