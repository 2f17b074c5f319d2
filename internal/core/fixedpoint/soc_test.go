package fixedpoint

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestComputeSoCSaturatesAtReferenceTemperature(t *testing.T) {
	require := require.New(t)

	require.EqualValues(25600, ComputeSoC(v100Wet, tempRef, true), "full voltage at reference temp must saturate to 100%%")
	require.EqualValues(0, ComputeSoC(0, tempRef, true), "zero voltage must saturate to 0%%")
}

func TestComputeSoCMonotoneInVoltage(t *testing.T) {
	assert := assert.New(t)

	var prev Q8 = -1
	for v := Q8(2800); v <= 3300; v += 10 {
		soc := ComputeSoC(v, tempRef, true)
		assert.GreaterOrEqual(int32(soc), int32(prev), "SoC must be non-decreasing in voltage")
		prev = soc
	}
}

func TestComputeSoCClampedToValidRange(t *testing.T) {
	assert := assert.New(t)

	for _, wet := range []bool{true, false} {
		for v := Q8(0); v <= 4000; v += 50 {
			soc := ComputeSoC(v, tempRef, wet)
			assert.GreaterOrEqual(int32(soc), int32(0))
			assert.LessOrEqual(int32(soc), int32(25600))
		}
	}
}

func TestComputeSoCGelAgmPiecewiseBelowV50(t *testing.T) {
	require := require.New(t)

	// Below v25 the gel/agm correction term saturates at its v25 value, so
	// SoC keeps falling only at the linear base slope: 50 Q8 volt units
	// below v25 cost 100*320*50>>8 = 6250 (6412 -> 162 at tempRef).
	atV25 := ComputeSoC(v25, tempRef, false)
	belowV25 := ComputeSoC(v25-50, tempRef, false)
	require.Equal(atV25-Q8(100*320*50>>8), belowV25, "gel/agm correction saturates below v25")
}

func TestComputeSoCGelAgmSaturatesAtReferenceTemperature(t *testing.T) {
	require := require.New(t)

	// At or above v50 the piecewise correction must not apply at all — a
	// fully charged gel/agm battery saturates to 100%% the same as wet
	// chemistry does, not ~75%% from an unguarded correction term.
	require.EqualValues(25600, ComputeSoC(v100GelAgm, tempRef, false), "full voltage gel/agm must saturate to 100%%")
}

func TestClamp(t *testing.T) {
	assert := assert.New(t)

	assert.EqualValues(10, Clamp(5, 10, 20))
	assert.EqualValues(20, Clamp(25, 10, 20))
	assert.EqualValues(15, Clamp(15, 10, 20))
}
