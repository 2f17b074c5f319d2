package service

import (
	"testing"

	"bms/internal/core/domain"
	"bms/internal/core/fixedpoint"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func volts(v float64) fixedpoint.Q8 {
	return fixedpoint.Q8(v * 256)
}

func pct(p float64) fixedpoint.Q8 {
	return fixedpoint.Q8(p * 256)
}

func newBattery(index int, soc float64, voltage float64, fill domain.FillState, health domain.HealthState, phase domain.ChargingPhase) *domain.Battery {
	return &domain.Battery{
		Index:       index,
		SoC:         pct(soc),
		Voltage:     volts(voltage),
		FillState:   fill,
		HealthState: health,
		Phase:       phase,
		OpState:     domain.Isolated,
		Capacity:    100,
		Type:        domain.Wet,
	}
}

func defaultThresholds() domain.Thresholds {
	return domain.Thresholds{
		LowVoltage:       volts(12.0),
		CriticalVoltage:  volts(11.5),
		WeakVoltage:      volts(11.5),
		LowSoC:           pct(30),
		CriticalSoC:      pct(15),
		FloatBulkSoC:     pct(95),
		TemperatureLimit: pct(45),
	}
}

// Scenario 1: all normal, panel strong (spec.md §8.1).
func TestAllocateAllNormalPanelStrong(t *testing.T) {
	r := require.New(t)

	batteries := []*domain.Battery{
		newBattery(0, 90, 12.8, domain.FillNormal, domain.Good, domain.Bulk),
		newBattery(1, 80, 12.8, domain.FillNormal, domain.Good, domain.Bulk),
		newBattery(2, 70, 12.8, domain.FillNormal, domain.Good, domain.Bulk),
	}
	batteries[1].IsolationTime = 500 // battery 2 has been idle the longest

	state := &domain.AllocatorState{}

	res := Allocate(state, batteries, AllocationInput{
		Policy:       domain.SeparateLoad | domain.PreserveIsolation,
		PanelVoltage: volts(14.0),
		Temperature:  pct(25),
		Thresholds:   defaultThresholds(),
	})

	r.Equal(3, state.BatteryUnderCharge, "charger must go to the lowest-SoC battery")
	r.Equal(1, state.BatteryUnderLoad, "load must go to the highest-SoC battery")
	r.Equal(domain.Isolated, batteries[1].OpState, "battery 2 must stay isolated")
	assert.NotZero(t, res.DecisionStatus&StatusChargerIsolatable, "expected C4 bit")
	assert.NotZero(t, res.DecisionStatus&StatusLoadIsolatable, "expected L4 bit")
}

// Scenario 2: weak battery present (spec.md §8.2).
func TestAllocateWeakBatteryPreempts(t *testing.T) {
	r := require.New(t)

	batteries := []*domain.Battery{
		newBattery(0, 90, 12.8, domain.FillNormal, domain.Good, domain.Bulk),
		newBattery(1, 0, 11.0, domain.FillCritical, domain.Weak, domain.Bulk),
		newBattery(2, 70, 12.8, domain.FillNormal, domain.Good, domain.Bulk),
	}
	state := &domain.AllocatorState{}

	res := Allocate(state, batteries, AllocationInput{
		Policy:       domain.SeparateLoad | domain.PreserveIsolation,
		PanelVoltage: volts(14.0),
		Temperature:  pct(25),
		Thresholds:   defaultThresholds(),
	})

	r.Equal(2, state.BatteryUnderCharge, "weak battery takes charger priority")
	r.NotEqual(2, state.BatteryUnderLoad, "weak battery must never take the load")
	assert.NotZero(t, res.DecisionStatus&StatusChargerWeak)
}

// Scenario 3: all in float (spec.md §8.3).
func TestAllocateAllFloatDisablesCharger(t *testing.T) {
	r := require.New(t)

	batteries := []*domain.Battery{
		newBattery(0, 98, 12.8, domain.FillNormal, domain.Good, domain.Float),
		newBattery(1, 97, 12.8, domain.FillNormal, domain.Good, domain.Float),
		newBattery(2, 96, 12.8, domain.FillNormal, domain.Good, domain.Float),
	}
	state := &domain.AllocatorState{}

	res := Allocate(state, batteries, AllocationInput{
		Policy:       domain.SeparateLoad | domain.PreserveIsolation,
		PanelVoltage: volts(14.0),
		Temperature:  pct(25),
		Thresholds:   defaultThresholds(),
	})

	r.True(state.ChargerOff)
	r.Equal(0, state.BatteryUnderCharge)
	assert.NotZero(t, res.DecisionStatus&StatusAllFloat)
	assert.NotZero(t, state.BatteryUnderLoad, "load assignment still runs while the charger is off")
}

// Scenario 4: night, panel below all batteries (spec.md §8.4).
func TestAllocateNightDisablesCharger(t *testing.T) {
	r := require.New(t)

	batteries := []*domain.Battery{
		newBattery(0, 90, 12.6, domain.FillNormal, domain.Good, domain.Bulk),
		newBattery(1, 80, 12.65, domain.FillNormal, domain.Good, domain.Bulk),
		newBattery(2, 70, 12.7, domain.FillNormal, domain.Good, domain.Bulk),
	}
	state := &domain.AllocatorState{}

	res := Allocate(state, batteries, AllocationInput{
		Policy:       domain.SeparateLoad | domain.PreserveIsolation,
		PanelVoltage: volts(12.0),
		Temperature:  pct(25),
		Thresholds:   defaultThresholds(),
	})

	r.True(state.ChargerOff)
	r.Equal(0, state.BatteryUnderCharge)
	assert.NotZero(t, res.DecisionStatus&StatusPanelUndervoltage)
}

func TestAllocateInvariantsHoldAcrossScenarios(t *testing.T) {
	batteries := []*domain.Battery{
		newBattery(0, 90, 12.8, domain.FillNormal, domain.Good, domain.Bulk),
		newBattery(1, 0, 11.0, domain.FillCritical, domain.Weak, domain.Bulk),
		newBattery(2, 70, 12.8, domain.FillNormal, domain.Good, domain.Bulk),
	}
	state := &domain.AllocatorState{}

	Allocate(state, batteries, AllocationInput{
		Policy:       domain.SeparateLoad | domain.PreserveIsolation,
		PanelVoltage: volts(14.0),
		Temperature:  pct(25),
		Thresholds:   defaultThresholds(),
	})

	for _, b := range batteries {
		if b.HealthState == domain.Missing {
			assert.Zero(t, b.SoC)
			assert.NotEqual(t, b.Index+1, state.BatteryUnderCharge)
			assert.NotEqual(t, b.Index+1, state.BatteryUnderLoad)
		}
	}
	if state.ChargerOff {
		assert.Zero(t, state.BatteryUnderCharge)
	}
}

// Single-battery branch: a weak sole battery keeps charging but loses its load.
func TestAllocateSingleBatteryWeakKeepsChargeDropsLoad(t *testing.T) {
	r := require.New(t)

	batteries := []*domain.Battery{
		newBattery(0, 40, 11.0, domain.FillCritical, domain.Weak, domain.Bulk),
	}
	state := &domain.AllocatorState{}

	Allocate(state, batteries, AllocationInput{
		Thresholds:   defaultThresholds(),
		PanelVoltage: volts(14.0),
		Temperature:  pct(25),
	})

	r.Equal(1, state.BatteryUnderCharge)
	r.Equal(0, state.BatteryUnderLoad)
}
