package util

import (
	"bms/internal/config"
	"bms/internal/core/domain"
	"bms/internal/core/fixedpoint"

	"go.uber.org/zap"
)

// LoadTestConfig returns a small two-battery/one-load/one-panel bank,
// used by actor/service tests that need a config.Config without reading
// one off disk.
func LoadTestConfig() config.Config {
	return config.Config{
		LogLevel: zap.DebugLevel,
		Port:     8080,
		Bank: config.BankConfig{
			NumBatteries: 2,
			NumLoads:     1,
			NumPanels:    1,
			Batteries: []config.BatteryConfig{
				{Capacity: 100, Type: "wet"},
				{Capacity: 100, Type: "wet"},
			},
			Thresholds: domain.Thresholds{
				LowVoltage:       fixedpoint.FromInt(12),
				CriticalVoltage:  fixedpoint.FromInt(11),
				WeakVoltage:      fixedpoint.FromInt(12) + 128,
				LowSoC:           fixedpoint.FromInt(30),
				CriticalSoC:      fixedpoint.FromInt(10),
				FloatBulkSoC:     fixedpoint.FromInt(95),
				TemperatureLimit: fixedpoint.FromInt(45),
			},
			Strategy:  0,
			AutoTrack: true,
		},
		Gateway: config.GatewayConfig{
			Host:              "localhost",
			Port:              502,
			Simulated:         true,
			ReadTimeoutMillis: 1000,
		},
		MQTT: config.MQTTConfig{
			Host:      "localhost",
			Port:      1883,
			BaseTopic: "bms",
		},
		Monitor: config.MonitorConfig{
			StartupDelayMillis:     100,
			MonitorDelayMillis:     5000,
			CalibrationDelayMillis: 2000,
			WatchdogDelayMillis:    1000,
		},
		Charger: config.ChargerConfig{
			TickDelayMillis:   5000,
			AbsorptionVoltage: fixedpoint.FromInt(14) + 64,
			DebounceTicks:     3,
			CooldownTicks:     6,
		},
		Recorder: config.RecorderConfig{
			Enabled:  false,
			Cron:     "0 0 * * * *",
			RingSize: 720,
		},
	}
}
