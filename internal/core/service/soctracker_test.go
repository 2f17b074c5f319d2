package service

import (
	"testing"
	"time"

	"bms/internal/core/domain"
	"bms/internal/core/fixedpoint"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestUpdateBatteryStateIntegratesChargeAndSoC(t *testing.T) {
	r := require.New(t)

	bat := &domain.Battery{Index: 0, Capacity: 100, Type: domain.Wet}
	th := defaultThresholds()

	// 100 Ah battery; capacity*3600*256 coulombs at full charge.
	UpdateBatteryState(bat, fixedpoint.Q8(100*3600*256), volts(13.0), fixedpoint.Q8(0), th)

	r.EqualValues(100*3600*256, bat.Charge)
	r.EqualValues(25600, bat.SoC)
	r.Equal(domain.FillNormal, bat.FillState)
}

func TestUpdateBatteryStateChargeClampedToCapacity(t *testing.T) {
	bat := &domain.Battery{Index: 0, Capacity: 100, Type: domain.Wet}
	th := defaultThresholds()

	UpdateBatteryState(bat, fixedpoint.Q8(1000*3600*256), volts(13.0), fixedpoint.Q8(0), th)

	assert.LessOrEqual(t, int32(bat.Charge), int32(100*3600*256))
	assert.EqualValues(t, 25600, bat.SoC)
}

func chargeForSoC(socPercent float64, capacity int32) fixedpoint.Q8 {
	return fixedpoint.Q8(int64(pct(socPercent)) * int64(capacity) * 36)
}

func TestUpdateBatteryStateFillStateFollowsVoltageAndSoC(t *testing.T) {
	th := defaultThresholds()

	low := &domain.Battery{Index: 0, Capacity: 100, Type: domain.Wet, Charge: chargeForSoC(20, 100)}
	UpdateBatteryState(low, 0, volts(12.8), 0, th)
	assert.Equal(t, domain.FillLow, low.FillState, "SoC below lowSoC must mark fillState low")

	critical := &domain.Battery{Index: 0, Capacity: 100, Type: domain.Wet, Charge: chargeForSoC(5, 100)}
	UpdateBatteryState(critical, 0, volts(12.8), 0, th)
	assert.Equal(t, domain.FillCritical, critical.FillState, "SoC below criticalSoC must mark fillState critical")
}

func TestUpdateBatteryStateWeakVoltageOverridesEverything(t *testing.T) {
	r := require.New(t)
	th := defaultThresholds()

	bat := &domain.Battery{Index: 0, Capacity: 100, Type: domain.Wet, Charge: fixedpoint.Q8(90 * 100 * 36), HealthState: domain.Good}
	UpdateBatteryState(bat, 0, volts(11.0), 0, th)

	r.Equal(domain.Weak, bat.HealthState)
	r.Equal(domain.FillCritical, bat.FillState)
	r.EqualValues(0, bat.SoC)
}

func TestUpdateBatteryStateRestPhaseRestoresHealth(t *testing.T) {
	th := defaultThresholds()

	bat := &domain.Battery{Index: 0, Capacity: 100, Type: domain.Wet, HealthState: domain.Weak, Phase: domain.Rest}
	UpdateBatteryState(bat, 0, volts(12.8), 0, th)

	assert.Equal(t, domain.Good, bat.HealthState)
}

// Scenario 6: idle SoC reset (spec.md §8.6).
func TestReconcileIdleStateRefreshesSoCAfterSteadyCurrent(t *testing.T) {
	r := require.New(t)

	monitorDelay := time.Second
	bat := &domain.Battery{
		Index:    0,
		Capacity: 100,
		Type:     domain.Wet,
		Voltage:  volts(13.0),
		Current:  fixedpoint.Q8(0),
		SoC:      pct(10), // stale value the OCV refresh should overwrite
	}

	ticks := ticksIn(time.Hour, monitorDelay)
	for i := 0; i <= ticks; i++ {
		ReconcileIdleState(bat, pct(25), monitorDelay)
	}

	expected := fixedpoint.ComputeSoC(volts(13.0), pct(25), true)
	r.EqualValues(expected, bat.SoC, "SoC must be refreshed from OCV once currentSteady crosses the threshold")
	r.Zero(bat.CurrentSteady)
}

func TestReconcileIdleStateResetsCurrentSteadyOnActivity(t *testing.T) {
	bat := &domain.Battery{Index: 0, Capacity: 100, Type: domain.Wet, Current: fixedpoint.Q8(30)}
	ReconcileIdleState(bat, pct(25), time.Second)
	assert.Zero(t, bat.CurrentSteady, "current at or above the idle threshold must not count as steady")
}

func TestReconcileIdleStateIncrementsIsolationTimeEveryTick(t *testing.T) {
	bat := &domain.Battery{Index: 0, Capacity: 100, Type: domain.Wet}
	ReconcileIdleState(bat, pct(25), time.Second)
	assert.Equal(t, 1, bat.IsolationTime)
}
