// Package gain converts between receiver gain in dB and the DAC codes of the
// probe's reception chain, and computes the per-cell gain applied during a
// profile.
//
// Two code ranges exist. The user range is what a caller may request in the
// slope and intercept registers. The applied range is what the DAC actually
// exposes after the firmware clamps the per-cell code.
package gain

import (
	"math"

	"github.com/ubertone/peacock-go/internal/fixed"
)

const (
	// ChainGainDB is the constant gain of the reception chain after DAC and LNA.
	ChainGainDB = 11.72
	// CodeRatio is the gain in dB per DAC code (12-bit DAC at 3.3 V, LNA 50 dB/V).
	CodeRatio = 4.029e-2

	CodeMinUser    = -4096
	CodeMaxUser    = 4095
	CodeMinApplied = 50
	CodeMaxApplied = 1241

	// slopeScale is the 4-bit shift the firmware applies to the slope code.
	slopeScale = 16.0
)

// roundCode rounds to one decimal then truncates toward zero, matching the
// firmware's fixed-point conversion.
func roundCode(x float64) int {
	return int(math.Trunc(math.RoundToEven(x*10) / 10))
}

// SlopeToCode converts a gain slope in dB/m to the slope code for cells of
// size cellSize metres. The result is clamped to the user range.
func SlopeToCode(dBPerM, cellSize float64) int {
	code := roundCode(slopeScale * dBPerM * cellSize / CodeRatio)
	return fixed.Clamp(code, CodeMinUser, CodeMaxUser)
}

// CodeToSlope converts a slope code back to dB/m. No clamping is applied.
func CodeToSlope(code int, cellSize float64) float64 {
	return CodeRatio / (slopeScale * cellSize) * float64(code)
}

// InterceptToCode converts a gain intercept in dB to a code. The upper bound
// is the applied ceiling, not the user one: the intercept feeds the DAC
// directly.
func InterceptToCode(dB float64) int {
	code := roundCode((dB - ChainGainDB) / CodeRatio)
	return fixed.Clamp(code, CodeMinUser, CodeMaxApplied)
}

// CodeToIntercept converts a code to its theoretical gain in dB. No clamping
// is applied.
func CodeToIntercept(code int) float64 {
	return float64(code)*CodeRatio + ChainGainDB
}

// AppliedDB returns the gain in dB the DAC really applies for code, after
// clamping to the applied range. code may be fractional (per-cell codes are).
func AppliedDB(code float64) float64 {
	code = math.Max(math.Min(code, CodeMaxApplied), CodeMinApplied)
	return code*CodeRatio + ChainGainDB
}

// Table returns the linear gain factor applied to each of the n cells of a
// profile. For every cell the configured gain law is capped by the blind-zone
// ceiling; the ceiling wins ties.
func Table(n, ca0, ca1, blindCA0, blindCA1 int) []float64 {
	if n <= 0 {
		return nil
	}
	t := make([]float64, n)
	for i := range t {
		g := AppliedDB(float64(ca0) + float64(i*ca1)/slopeScale)
		gMax := AppliedDB(float64(blindCA0) + float64(i*blindCA1)/slopeScale)
		if g >= gMax {
			g = gMax
		}
		t[i] = Linear(g)
	}
	return t
}

// Linear converts a gain in dB to a linear amplitude factor.
func Linear(dB float64) float64 {
	return math.Pow(10, dB/20)
}
