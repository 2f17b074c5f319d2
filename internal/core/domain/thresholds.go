package domain

import "bms/internal/core/fixedpoint"

// Thresholds is the read-only-during-a-tick configuration from spec.md §3.
// WeakVoltage and TemperatureLimit are not named explicitly among the
// enumerated config options in spec.md §3 but are referenced by the P5 and
// O4 rules in §4.3; this repository carries them as ordinary threshold
// fields alongside the others rather than as separate magic constants.
type Thresholds struct {
	LowVoltage      fixedpoint.Q8 `mapstructure:"low_voltage"`
	CriticalVoltage fixedpoint.Q8 `mapstructure:"critical_voltage"`
	WeakVoltage     fixedpoint.Q8 `mapstructure:"weak_voltage"`

	LowSoC       fixedpoint.Q8 `mapstructure:"low_soc"`
	CriticalSoC  fixedpoint.Q8 `mapstructure:"critical_soc"`
	FloatBulkSoC fixedpoint.Q8 `mapstructure:"float_bulk_soc"`

	TemperatureLimit fixedpoint.Q8 `mapstructure:"temperature_limit"`
}
