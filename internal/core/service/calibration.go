package service

import (
	"bms/internal/core/domain"
	"bms/internal/core/fixedpoint"
)

// OffsetStartValue is the calibration sentinel from spec.md §4.2: an
// interface whose offset is never updated keeps this value until the
// final pass converts it to zero.
const OffsetStartValue = fixedpoint.Q8(100)

// CalibrationThreshold rejects obviously-invalid samples (disconnected
// interface, ADC glitch) from both the offset and quiescent estimates.
const CalibrationThreshold = fixedpoint.Q8(-50)

// QuiescentStartValue is the sentinel the quiescent-current estimate
// starts from; it is returned unchanged if no sample ever qualifies.
const QuiescentStartValue = fixedpoint.Q8(-100)

// NumCalibrationTests returns the number of switch configurations the
// calibration protocol drives through for a bank of numBats batteries and
// numLoads loads: one load-2 connection per battery, numLoads-1 load-1
// connections (one in the two-load geometry), and a final all-off
// configuration.
func NumCalibrationTests(numBats, numLoads int) int {
	return numBats + numLoads
}

// BuildCalibrationStep returns the switch writes for calibration
// configuration test (spec.md §4.2 steps a-d): every load and panel
// switch opened, then at most one battery reconnected to load 1 or
// load 2. The final configuration (test == NumCalibrationTests-1) leaves
// everything open, measuring the panel interface under no load.
func BuildCalibrationStep(test, numBats, numLoads int) []SwitchWrite {
	writes := []SwitchWrite{
		{Battery: 0, Destination: domain.Load1},
		{Battery: 0, Destination: domain.Load2},
		{Battery: 0, Destination: domain.Panel},
	}
	numTests := NumCalibrationTests(numBats, numLoads)
	switch {
	case test < numBats:
		writes = append(writes, SwitchWrite{Battery: test + 1, Destination: domain.Load2})
	case test < numTests-1:
		writes = append(writes, SwitchWrite{Battery: test - numBats + 1, Destination: domain.Load1})
	}
	return writes
}

// ReduceCalibrationSamples implements the offset-estimation and
// quiescent-current rules from spec.md §4.2. samples[test][iface] is the
// raw current recorded for interface iface during configuration test.
// present marks which of the first numBats interfaces (the battery
// interfaces) were not found missing by the time sampling finished.
//
// It returns the per-interface offsets, the offset-corrected samples, and
// the quiescent current estimate.
func ReduceCalibrationSamples(samples [][]fixedpoint.Q8, numInterfaces, numBats int, present []bool) ([]fixedpoint.Q8, [][]fixedpoint.Q8, fixedpoint.Q8) {
	offsets := make([]fixedpoint.Q8, numInterfaces)
	for i := range offsets {
		offsets[i] = OffsetStartValue
	}
	for _, row := range samples {
		for i, v := range row {
			if v > CalibrationThreshold && v < offsets[i] {
				offsets[i] = v
			}
		}
	}
	for i := range offsets {
		if offsets[i] == OffsetStartValue {
			offsets[i] = 0
		}
	}

	corrected := make([][]fixedpoint.Q8, len(samples))
	quiescent := QuiescentStartValue
	for t, row := range samples {
		correctedRow := make([]fixedpoint.Q8, len(row))
		for i, v := range row {
			c := v - offsets[i]
			correctedRow[i] = c
			if i < numBats && i < len(present) && present[i] && c > CalibrationThreshold && c > quiescent {
				quiescent = c
			}
		}
		corrected[t] = correctedRow
	}
	return offsets, corrected, quiescent
}
