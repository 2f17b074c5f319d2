package service

import (
	"testing"

	"bms/internal/core/domain"
	"bms/internal/core/fixedpoint"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// Scenario 5: calibration run with N_bats=3, N_loads=2 (spec.md §8.5).
func TestNumCalibrationTestsMatchesScenario(t *testing.T) {
	assert.Equal(t, 5, NumCalibrationTests(3, 2))
}

func TestBuildCalibrationStepSweepsLoad2ThenLoad1ThenAllOff(t *testing.T) {
	r := require.New(t)

	step0 := BuildCalibrationStep(0, 3, 2)
	r.Contains(step0, SwitchWrite{Battery: 1, Destination: domain.Load2})

	step2 := BuildCalibrationStep(2, 3, 2)
	r.Contains(step2, SwitchWrite{Battery: 3, Destination: domain.Load2})

	step3 := BuildCalibrationStep(3, 3, 2)
	r.Contains(step3, SwitchWrite{Battery: 1, Destination: domain.Load1})

	last := BuildCalibrationStep(4, 3, 2)
	for _, w := range last {
		assert.Zero(t, w.Battery, "the final configuration must leave every switch open")
	}
}

func TestReduceCalibrationSamplesComputesPerInterfaceOffset(t *testing.T) {
	r := require.New(t)

	// 2 interfaces, 3 test configurations.
	samples := [][]fixedpoint.Q8{
		{10, 5},
		{8, -60}, // -60 is below CALIBRATION_THRESHOLD and must be rejected
		{12, 7},
	}
	present := []bool{true}

	offsets, corrected, quiescent := ReduceCalibrationSamples(samples, 2, 1, present)

	r.EqualValues(8, offsets[0], "offset is the minimum qualifying sample")
	r.EqualValues(5, offsets[1], "the rejected -60 sample must not affect the offset")

	r.EqualValues(corrected[0][0], samples[0][0]-offsets[0])
	assert.Greater(t, int32(quiescent), int32(QuiescentStartValue))
}

func TestReduceCalibrationSamplesLeavesUnqualifiedOffsetAtZero(t *testing.T) {
	samples := [][]fixedpoint.Q8{
		{-60},
		{-70},
	}
	offsets, _, _ := ReduceCalibrationSamples(samples, 1, 1, []bool{true})
	assert.EqualValues(t, 0, offsets[0], "an interface with no qualifying sample must default to zero")
}

func TestReduceCalibrationSamplesIsNearIdempotent(t *testing.T) {
	r := require.New(t)

	samples := [][]fixedpoint.Q8{
		{10, 5, -3},
		{8, 7, -2},
		{12, 9, -1},
	}
	present := []bool{true, true}

	offsets1, corrected1, _ := ReduceCalibrationSamples(samples, 3, 2, present)
	offsets2, _, _ := ReduceCalibrationSamples(corrected1, 3, 2, present)

	for i := range offsets1 {
		r.LessOrEqual(int32(offsets2[i].Abs()), int32(1), "re-running calibration on corrected samples must not drift by more than 1 ADC unit")
	}
}
