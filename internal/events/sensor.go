// Package events builds the Home Assistant-flavored sensor/switch
// descriptors (domain.GenericSensor/GenericSwitch/GenericInputNumber)
// that internal/mqtt turns into discovery payloads, one builder function
// per physical device the bank exposes.
package events

import (
	"crypto/md5"
	"encoding/hex"
	"fmt"

	"bms/internal/core/domain"

	"github.com/carlmjohnson/versioninfo"
)

const (
	SENSOR_ID_BRIDGE_STATE        = "bridge"
	SENSOR_ID_BATTERY_SOC         = "soc"
	SENSOR_ID_BATTERY_VOLTAGE     = "voltage"
	SENSOR_ID_BATTERY_CURRENT     = "current"
	SENSOR_ID_BATTERY_FILL_STATE  = "fill_state"
	SENSOR_ID_BATTERY_OP_STATE    = "op_state"
	SENSOR_ID_BATTERY_HEALTH      = "health_state"
	SENSOR_ID_BATTERY_PHASE       = "charging_phase"
	SENSOR_ID_BATTERY_ISOLATION   = "isolation_time"
	SENSOR_ID_LOAD_VOLTAGE        = "load_voltage"
	SENSOR_ID_LOAD_CURRENT        = "load_current"
	SENSOR_ID_PANEL_VOLTAGE       = "panel_voltage"
	SENSOR_ID_PANEL_CURRENT       = "panel_current"
	SENSOR_ID_TEMPERATURE         = "temperature"
	SENSOR_ID_BATTERY_UNDERCHARGE = "battery_under_charge"
	SENSOR_ID_BATTERY_UNDERLOAD   = "battery_under_load"
	SENSOR_ID_DECISION_STATUS     = "decision_status"
	SENSOR_ID_CALIBRATION_PROGRESS = "calibration_progress"
	SWITCH_ID_BATTERY_MISSING     = "missing"

	STATE_CLASS_MEASUREMENT  = "measurement"
	DEVICE_CLASS_BATTERY     = "battery"
	DEVICE_CLASS_CURRENT     = "current"
	DEVICE_CLASS_VOLTAGE     = "voltage"
	DEVICE_CLASS_TEMPERATURE = "temperature"
	DEVICE_CLASS_CONNECTIVITY = "connectivity"
	ENTITY_CLASS_DIAGNOSTIC  = "diagnostic"
	SENSOR_TYPE_SENSOR       = "sensor"
	SENSOR_TYPE_BINARY       = "binary_sensor"
)

func BridgeDevice(baseTopic string) domain.Device {
	return domain.Device{
		Id:           fmt.Sprintf("bms_bridge_%s", md5HashShort(baseTopic)),
		Manufacturer: "bms",
		Model:        "battery-bank-monitor",
		Version:      versioninfo.Short(),
		Name:         fmt.Sprintf("Battery bank %s", md5HashShort(baseTopic)),
	}
}

// BatteryDevice models one physical battery as its own HA device, since
// each is a separately swappable/missing unit, unlike the load/panel
// interfaces which belong to the shared gateway.
func BatteryDevice(baseTopic string, battery int) domain.Device {
	bridge := BridgeDevice(baseTopic)
	return domain.Device{
		Id:        fmt.Sprintf("bms_battery_%s_%d", md5HashShort(baseTopic), battery),
		Name:      fmt.Sprintf("Battery %d", battery),
		ViaDevice: bridge.Id,
	}
}

// BankDevice models the gateway itself: loads, panels, and temperature
// are gateway-wide readings rather than per-battery ones.
func BankDevice(baseTopic string) domain.Device {
	bridge := BridgeDevice(baseTopic)
	return domain.Device{
		Id:        fmt.Sprintf("bms_gateway_%s", md5HashShort(baseTopic)),
		Name:      "Battery bank gateway",
		ViaDevice: bridge.Id,
	}
}

func BridgeSensors(bridgeDevice domain.Device) []domain.GenericSensor {
	return []domain.GenericSensor{{
		Device:         bridgeDevice,
		Id:             SENSOR_ID_BRIDGE_STATE,
		SensorType:     SENSOR_TYPE_BINARY,
		Name:           "Connection state",
		DeviceClass:    DEVICE_CLASS_CONNECTIVITY,
		EntityCategory: ENTITY_CLASS_DIAGNOSTIC,
		UniqueId:       uniqueId(bridgeDevice.Id, SENSOR_ID_BRIDGE_STATE),
	}}
}

func BatterySensors(batteryDevice domain.Device) []domain.GenericSensor {
	var sensors []domain.GenericSensor

	sensors = append(sensors, domain.GenericSensor{
		Device:            batteryDevice,
		Id:                SENSOR_ID_BATTERY_SOC,
		SensorType:        SENSOR_TYPE_SENSOR,
		Name:              "State of charge",
		StateClass:        STATE_CLASS_MEASUREMENT,
		DeviceClass:       DEVICE_CLASS_BATTERY,
		UnitOfMeasurement: "%",
		UniqueId:          uniqueId(batteryDevice.Id, SENSOR_ID_BATTERY_SOC),
	})
	sensors = append(sensors, domain.GenericSensor{
		Device:            batteryDevice,
		Id:                SENSOR_ID_BATTERY_VOLTAGE,
		SensorType:        SENSOR_TYPE_SENSOR,
		Name:              "Voltage",
		StateClass:        STATE_CLASS_MEASUREMENT,
		DeviceClass:       DEVICE_CLASS_VOLTAGE,
		UnitOfMeasurement: "V",
		UniqueId:          uniqueId(batteryDevice.Id, SENSOR_ID_BATTERY_VOLTAGE),
	})
	sensors = append(sensors, domain.GenericSensor{
		Device:            batteryDevice,
		Id:                SENSOR_ID_BATTERY_CURRENT,
		SensorType:        SENSOR_TYPE_SENSOR,
		Name:              "Current",
		StateClass:        STATE_CLASS_MEASUREMENT,
		DeviceClass:       DEVICE_CLASS_CURRENT,
		UnitOfMeasurement: "A",
		UniqueId:          uniqueId(batteryDevice.Id, SENSOR_ID_BATTERY_CURRENT),
	})
	sensors = append(sensors, domain.GenericSensor{
		Device:     batteryDevice,
		Id:         SENSOR_ID_BATTERY_FILL_STATE,
		SensorType: SENSOR_TYPE_SENSOR,
		Name:       "Fill state",
		UniqueId:   uniqueId(batteryDevice.Id, SENSOR_ID_BATTERY_FILL_STATE),
	})
	sensors = append(sensors, domain.GenericSensor{
		Device:     batteryDevice,
		Id:         SENSOR_ID_BATTERY_OP_STATE,
		SensorType: SENSOR_TYPE_SENSOR,
		Name:       "Operating state",
		UniqueId:   uniqueId(batteryDevice.Id, SENSOR_ID_BATTERY_OP_STATE),
	})
	sensors = append(sensors, domain.GenericSensor{
		Device:         batteryDevice,
		Id:             SENSOR_ID_BATTERY_HEALTH,
		SensorType:     SENSOR_TYPE_SENSOR,
		Name:           "Health state",
		EntityCategory: ENTITY_CLASS_DIAGNOSTIC,
		UniqueId:       uniqueId(batteryDevice.Id, SENSOR_ID_BATTERY_HEALTH),
	})
	sensors = append(sensors, domain.GenericSensor{
		Device:     batteryDevice,
		Id:         SENSOR_ID_BATTERY_PHASE,
		SensorType: SENSOR_TYPE_SENSOR,
		Name:       "Charging phase",
		Icon:       "mdi:battery-charging-100",
		UniqueId:   uniqueId(batteryDevice.Id, SENSOR_ID_BATTERY_PHASE),
	})
	sensors = append(sensors, domain.GenericSensor{
		Device:            batteryDevice,
		Id:                SENSOR_ID_BATTERY_ISOLATION,
		SensorType:        SENSOR_TYPE_SENSOR,
		Name:              "Isolation ticks",
		StateClass:        STATE_CLASS_MEASUREMENT,
		UnitOfMeasurement: "ticks",
		EntityCategory:    ENTITY_CLASS_DIAGNOSTIC,
		EnabledByDefault:  optionalBool(false),
		UniqueId:          uniqueId(batteryDevice.Id, SENSOR_ID_BATTERY_ISOLATION),
	})

	return sensors
}

func BatteryMissingSwitch(batteryDevice domain.Device) domain.GenericSwitch {
	return domain.GenericSwitch{
		Device:   batteryDevice,
		Id:       SWITCH_ID_BATTERY_MISSING,
		Name:     "Marked missing",
		UniqueId: uniqueId(batteryDevice.Id, SWITCH_ID_BATTERY_MISSING),
		Icon:     "mdi:battery-off",
	}
}

func LoadSensors(bankDevice domain.Device, load int) []domain.GenericSensor {
	return []domain.GenericSensor{
		{
			Device:            bankDevice,
			Id:                fmt.Sprintf("%s_%d", SENSOR_ID_LOAD_VOLTAGE, load),
			SensorType:        SENSOR_TYPE_SENSOR,
			Name:              fmt.Sprintf("Load %d voltage", load),
			StateClass:        STATE_CLASS_MEASUREMENT,
			DeviceClass:       DEVICE_CLASS_VOLTAGE,
			UnitOfMeasurement: "V",
			UniqueId:          uniqueId(bankDevice.Id, fmt.Sprintf("%s_%d", SENSOR_ID_LOAD_VOLTAGE, load)),
		},
		{
			Device:            bankDevice,
			Id:                fmt.Sprintf("%s_%d", SENSOR_ID_LOAD_CURRENT, load),
			SensorType:        SENSOR_TYPE_SENSOR,
			Name:              fmt.Sprintf("Load %d current", load),
			StateClass:        STATE_CLASS_MEASUREMENT,
			DeviceClass:       DEVICE_CLASS_CURRENT,
			UnitOfMeasurement: "A",
			UniqueId:          uniqueId(bankDevice.Id, fmt.Sprintf("%s_%d", SENSOR_ID_LOAD_CURRENT, load)),
		},
	}
}

func PanelSensors(bankDevice domain.Device, panel int) []domain.GenericSensor {
	return []domain.GenericSensor{
		{
			Device:            bankDevice,
			Id:                fmt.Sprintf("%s_%d", SENSOR_ID_PANEL_VOLTAGE, panel),
			SensorType:        SENSOR_TYPE_SENSOR,
			Name:              fmt.Sprintf("Panel %d voltage", panel),
			StateClass:        STATE_CLASS_MEASUREMENT,
			DeviceClass:       DEVICE_CLASS_VOLTAGE,
			UnitOfMeasurement: "V",
			Icon:              "mdi:solar-panel",
			UniqueId:          uniqueId(bankDevice.Id, fmt.Sprintf("%s_%d", SENSOR_ID_PANEL_VOLTAGE, panel)),
		},
		{
			Device:            bankDevice,
			Id:                fmt.Sprintf("%s_%d", SENSOR_ID_PANEL_CURRENT, panel),
			SensorType:        SENSOR_TYPE_SENSOR,
			Name:              fmt.Sprintf("Panel %d current", panel),
			StateClass:        STATE_CLASS_MEASUREMENT,
			DeviceClass:       DEVICE_CLASS_CURRENT,
			UnitOfMeasurement: "A",
			Icon:              "mdi:solar-panel",
			UniqueId:          uniqueId(bankDevice.Id, fmt.Sprintf("%s_%d", SENSOR_ID_PANEL_CURRENT, panel)),
		},
	}
}

func BankSensors(bankDevice domain.Device) []domain.GenericSensor {
	return []domain.GenericSensor{
		{
			Device:            bankDevice,
			Id:                SENSOR_ID_TEMPERATURE,
			SensorType:        SENSOR_TYPE_SENSOR,
			Name:              "Temperature",
			StateClass:        STATE_CLASS_MEASUREMENT,
			DeviceClass:       DEVICE_CLASS_TEMPERATURE,
			UnitOfMeasurement: "°C",
			UniqueId:          uniqueId(bankDevice.Id, SENSOR_ID_TEMPERATURE),
		},
		{
			Device:     bankDevice,
			Id:         SENSOR_ID_BATTERY_UNDERCHARGE,
			SensorType: SENSOR_TYPE_SENSOR,
			Name:       "Battery under charge",
			UniqueId:   uniqueId(bankDevice.Id, SENSOR_ID_BATTERY_UNDERCHARGE),
		},
		{
			Device:     bankDevice,
			Id:         SENSOR_ID_BATTERY_UNDERLOAD,
			SensorType: SENSOR_TYPE_SENSOR,
			Name:       "Battery under load",
			UniqueId:   uniqueId(bankDevice.Id, SENSOR_ID_BATTERY_UNDERLOAD),
		},
		{
			Device:         bankDevice,
			Id:             SENSOR_ID_DECISION_STATUS,
			SensorType:     SENSOR_TYPE_SENSOR,
			Name:           "Decision status",
			EntityCategory: ENTITY_CLASS_DIAGNOSTIC,
			UniqueId:       uniqueId(bankDevice.Id, SENSOR_ID_DECISION_STATUS),
		},
		{
			Device:           bankDevice,
			Id:               SENSOR_ID_CALIBRATION_PROGRESS,
			SensorType:       SENSOR_TYPE_SENSOR,
			Name:             "Calibration progress",
			UnitOfMeasurement: "%",
			EntityCategory:   ENTITY_CLASS_DIAGNOSTIC,
			EnabledByDefault: optionalBool(false),
			UniqueId:         uniqueId(bankDevice.Id, SENSOR_ID_CALIBRATION_PROGRESS),
		},
	}
}

func uniqueId(baseId, id string) string {
	return fmt.Sprintf("uid_%s_%s", baseId, id)
}

func md5Hash(text string) string {
	hash := md5.Sum([]byte(text))
	return hex.EncodeToString(hash[:])
}

func md5HashShort(text string) string {
	hash := md5Hash(text)
	return hash[0:8]
}

func optionalBool(value bool) *bool {
	return &value
}
