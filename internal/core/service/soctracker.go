// Package service holds the allocation engine's pure decision logic: no
// port is called from here, every collaborator interaction happens in the
// caller (internal/core/actor) which reads inputs, invokes these functions,
// and applies the returned writes.
package service

import (
	"time"

	"bms/internal/core/domain"
	"bms/internal/core/fixedpoint"
)

// IdleCurrentThreshold is the ~80 mA idle-current cutoff from spec.md §4.3's
// idle SoC reset section.
const IdleCurrentThreshold = fixedpoint.Q8(30)

// IsolationSentinel is the low, non-zero isolationTime value held while a
// battery is concurrently charging and loaded or otherwise not isolated.
const IsolationSentinel = 10

// SoCHysteresis is the margin (5% x 256) used by the charger and load
// hysteresis refinements (C6, L7).
const SoCHysteresis = fixedpoint.Q8(5 * 256)

// UpdateBatteryState runs the SoC tracker pre-pass (P3-P6) for a single
// non-missing battery: it integrates the accumulated charge delta into the
// coulomb counter, recomputes SoC and fillState, and applies the
// weak-voltage and rest-phase hysteresis rules. Callers must not invoke
// this for a battery whose HealthState is domain.Missing.
func UpdateBatteryState(bat *domain.Battery, accumulatedCharge, voltage, current fixedpoint.Q8, th domain.Thresholds) {
	bat.Voltage = voltage
	bat.Current = current

	// P3
	maxCharge := fixedpoint.Q8(int64(bat.Capacity) * 3600 * 256)
	bat.Charge = fixedpoint.Clamp(bat.Charge+accumulatedCharge, 0, maxCharge)
	socDivisor := int64(bat.Capacity) * 36
	bat.SoC = fixedpoint.Clamp(fixedpoint.Q8(int64(bat.Charge)/socDivisor), 0, 25600)

	absV := voltage.Abs()

	// P4
	switch {
	case absV < th.CriticalVoltage || bat.SoC < th.CriticalSoC:
		bat.FillState = domain.FillCritical
	case absV < th.LowVoltage || bat.SoC < th.LowSoC:
		bat.FillState = domain.FillLow
	default:
		bat.FillState = domain.FillNormal
	}

	// P5
	if absV < th.WeakVoltage {
		bat.HealthState = domain.Weak
		bat.FillState = domain.FillCritical
		bat.SoC = 0
	}

	// P6
	if bat.Phase == domain.Rest {
		bat.HealthState = domain.Good
	}
}

// ReconcileIdleState runs the idle SoC reset section for a single
// non-missing battery. It is called once per tick, after the allocator's
// post-pass has applied this tick's opState, so that O3's isolationTime
// sentinel is visible before this unconditional increment.
func ReconcileIdleState(bat *domain.Battery, temperature fixedpoint.Q8, monitorDelay time.Duration) {
	if bat.Current.Abs() < IdleCurrentThreshold {
		bat.CurrentSteady++
	} else {
		bat.CurrentSteady = 0
	}
	if bat.CurrentSteady > ticksIn(time.Hour, monitorDelay) {
		bat.SoC = fixedpoint.ComputeSoC(bat.Voltage, temperature, bat.Type.IsWetChemistry())
		bat.CurrentSteady = 0
	}

	bat.IsolationTime++
	if bat.IsolationTime > ticksIn(8*time.Hour, monitorDelay) {
		bat.SoC = fixedpoint.ComputeSoC(bat.Voltage, temperature, bat.Type.IsWetChemistry())
		bat.IsolationTime = 0
	}
}

func ticksIn(d, monitorDelay time.Duration) int {
	if monitorDelay <= 0 {
		return 0
	}
	return int(d / monitorDelay)
}
