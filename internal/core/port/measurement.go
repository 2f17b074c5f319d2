package port

import "bms/internal/core/fixedpoint"

// MeasurementPort is the read-only measurement collaborator from spec.md
// §6. GetBatteryAccumulatedCharge is destructive: each call returns the
// coulomb delta integrated since the previous call.
type MeasurementPort interface {
	GetBatteryCurrent(battery int) (fixedpoint.Q8, error)
	GetBatteryVoltage(battery int) (fixedpoint.Q8, error)
	GetLoadCurrent(load int) (fixedpoint.Q8, error)
	GetLoadVoltage(load int) (fixedpoint.Q8, error)
	GetPanelCurrent(panel int) (fixedpoint.Q8, error)
	GetPanelVoltage(panel int) (fixedpoint.Q8, error)
	GetTemperature() (fixedpoint.Q8, error)
	// GetIndicators returns a bitmap where bit 2i+1 set means battery i is present.
	GetIndicators() (uint32, error)
	GetBatteryAccumulatedCharge(battery int) (fixedpoint.Q8, error)
}
