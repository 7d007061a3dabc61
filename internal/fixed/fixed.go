// Package fixed converts physical quantities to 16-bit register values.
// Conversions round to nearest (ties to even) and saturate at the register
// limits, as the hardware truncates out-of-range values.
package fixed

import "math"

// Int16 rounds x and clamps it to [-32768, 32767]. NaN maps to 0.
func Int16(x float64) int16 {
	if math.IsNaN(x) {
		return 0
	}
	r := math.RoundToEven(x)
	if r > math.MaxInt16 {
		return math.MaxInt16
	}
	if r < math.MinInt16 {
		return math.MinInt16
	}
	return int16(r)
}

// Uint16 rounds x and clamps it to [0, 65535]. NaN maps to 0.
func Uint16(x float64) uint16 {
	if math.IsNaN(x) {
		return 0
	}
	r := math.RoundToEven(x)
	if r > math.MaxUint16 {
		return math.MaxUint16
	}
	if r < 0 {
		return 0
	}
	return uint16(r)
}

// Clamp limits v to [lo, hi].
func Clamp(v, lo, hi int) int {
	if v > hi {
		return hi
	}
	if v < lo {
		return lo
	}
	return v
}
