package profile

import (
	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/stat"
)

// Summary condenses a record for logs and the live API.
type Summary struct {
	Cells          int     `json:"cells"`
	MeanVelocity   float64 `json:"mean_velocity"`
	StdVelocity    float64 `json:"std_velocity"`
	MaxAmplitude   float64 `json:"max_amplitude"`
	MeanSNR        float64 `json:"mean_snr"`
	WrappedCells   int     `json:"wrapped_cells"`
	SaturatedCells int     `json:"saturated_cells"`
}

// Summary computes plausibility statistics over the cells of r. Cells with
// an ambiguity wrap are left out of the velocity statistics.
func (r *Record) Summary() Summary {
	s := Summary{Cells: len(r.Velocity)}
	if s.Cells == 0 {
		return s
	}

	valid := make([]float64, 0, len(r.Velocity))
	for i, v := range r.Velocity {
		if r.AmbiguityWrap[i] {
			s.WrappedCells++
			continue
		}
		valid = append(valid, v)
	}
	for _, sat := range r.Saturation {
		if sat {
			s.SaturatedCells++
		}
	}
	if len(valid) > 0 {
		s.MeanVelocity = stat.Mean(valid, nil)
	}
	if len(valid) > 1 {
		s.StdVelocity = stat.StdDev(valid, nil)
	}
	s.MaxAmplitude = floats.Max(r.Amplitude)
	s.MeanSNR = stat.Mean(r.SNR, nil)
	return s
}
