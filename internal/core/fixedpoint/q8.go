// Package fixedpoint implements the Q8 scaled-integer arithmetic used
// throughout the allocator: every voltage, current, temperature and SoC
// value is an integer representing the real quantity times 256, so the
// hot path never touches a float.
package fixedpoint

// Q8 is a value scaled by 256 (8 fractional bits).
type Q8 int32

// FromInt builds a Q8 from a whole-unit integer (e.g. FromInt(12) == 12.0 in Q8).
func FromInt(v int32) Q8 {
	return Q8(v) * 256
}

// Abs returns the absolute value of q.
func (q Q8) Abs() Q8 {
	if q < 0 {
		return -q
	}
	return q
}

// Float64 converts q back to a real-valued float, for presentation layers
// (MQTT payloads, HTTP responses) that have no reason to know about the
// ×256 scaling.
func (q Q8) Float64() float64 {
	return float64(q) / 256
}

// Clamp restricts q to the inclusive range [lo, hi].
func Clamp(q, lo, hi Q8) Q8 {
	if q < lo {
		return lo
	}
	if q > hi {
		return hi
	}
	return q
}
