// Package acoustic converts between a user-facing acoustic configuration and
// the 17-word register layout the probe stores in each configuration slot.
//
// The forward conversion is lossy: every derived register is rounded and
// saturated, and each later quantity is computed from the effective value of
// the previous one, not the requested one. The register list conversion is
// exact in both directions.
package acoustic

import (
	"log/slog"
	"math"
	"time"

	"github.com/ubertone/peacock-go/internal/fault"
	"github.com/ubertone/peacock-go/internal/fixed"
	"github.com/ubertone/peacock-go/internal/gain"
)

// RegisterCount is the number of words in one configuration slot.
const RegisterCount = 17

// Bits of the packed method register.
const (
	MethodBurst            = 0x0001
	MethodBurstProcessing  = 0x0002 // always mirrors MethodBurst
	MethodPhaseCoding      = 0x0004
	MethodStaticEchoFilter = 0x0100
	MethodGainAuto         = 0x0200
)

// settleTime is the minimum time between two cells imposed by the receiver.
const settleTime = 0.75e-6

// Mode selects the emission/processing scheme.
type Mode string

const (
	ModeContinuous Mode = "continuous" // pulse pair, continuous emission
	ModeBurst      Mode = "burst"      // correlation/amplitude, burst emission
)

// Gain is the receiver gain law: Intercept dB at the transducer plus Slope
// dB per metre of depth.
type Gain struct {
	Intercept float64 `yaml:"a0" json:"a0"`
	Slope     float64 `yaml:"a1" json:"a1"`
	Auto      bool    `yaml:"auto" json:"auto"`
}

// AcousticConfig is a measurement setup in physical units: frequencies in
// Hz, ranges in metres, VelocityMin in m/s within [-Nyquist, 0]. Transducer
// is the 1-based output the probe drives.
type AcousticConfig struct {
	F0               float64 `yaml:"f0" json:"f0"`
	PRF              float64 `yaml:"prf" json:"prf"`
	SampleCount      int     `yaml:"n_ech" json:"n_ech"`
	EmissionRange    float64 `yaml:"r_em" json:"r_em"`
	FirstCellRange   float64 `yaml:"r_vol1" json:"r_vol1"`
	CellSpacing      float64 `yaml:"r_dvol" json:"r_dvol"`
	CellCount        int     `yaml:"n_vol" json:"n_vol"`
	Gain             Gain    `yaml:"gain_function" json:"gain_function"`
	Mode             Mode    `yaml:"method" json:"method"`
	PhaseCoding      bool    `yaml:"phase_coding" json:"phase_coding"`
	StaticEchoFilter bool    `yaml:"static_echo_filter" json:"static_echo_filter"`
	Averaging        int     `yaml:"n_profile" json:"n_profile"`
	VelocityMin      float64 `yaml:"v_min" json:"v_min"`
	Transducer       int     `yaml:"transducer" json:"transducer"`
}

// BlindZone is the gain ceiling applied near the transducer.
type BlindZone struct {
	InterceptMax float64 `yaml:"a0_max" json:"a0_max"`
	SlopeMax     float64 `yaml:"a1_max" json:"a1_max"`
}

// HardwareConfig mirrors the register layout of a configuration slot, in
// register order. FSys is the probe system clock; it is needed to derive
// physical values but is not stored on the device and takes no part in
// equality.
type HardwareConfig struct {
	FSys float64

	DivF0     int16
	NTir      int16
	CPRF      int16
	NEm       int16
	NVol      int16
	CVol1     uint16
	CDVol     int16
	GainCA0   int16
	GainCA1   int16
	Tr        int16
	PhiMin    int16
	Method    int16
	Reserved1 int16
	Reserved2 int16
	NAvg      int16
	BlindCA0  int16
	BlindCA1  int16
}

// FromUserConfig derives the registers for cfg on a probe clocked at fSys,
// assuming sound speed soundSpeed (m/s). blind may be nil, in which case the
// gain ceiling is the applied maximum over the whole profile.
func FromUserConfig(fSys float64, cfg AcousticConfig, soundSpeed float64, blind *BlindZone) (*HardwareConfig, error) {
	const op = "acoustic: from user config"
	if err := validate(fSys, cfg, soundSpeed); err != nil {
		return nil, err
	}

	h := &HardwareConfig{FSys: fSys}

	h.DivF0 = fixed.Int16(fSys/cfg.F0 - 1)
	if h.DivF0 < 0 {
		return nil, fault.Configuration(op, "f0 %.0f Hz above system clock %.0f Hz", cfg.F0, fSys)
	}
	f0 := fSys / float64(h.DivF0+1)

	h.CPRF = fixed.Int16(f0 / cfg.PRF)
	if h.CPRF < 1 {
		return nil, fault.Configuration(op, "prf %.1f Hz not reachable with f0 %.0f Hz", cfg.PRF, f0)
	}
	// The probe divides the requested f0, not the effective one.
	prf := cfg.F0 / float64(h.CPRF)

	h.NTir = fixed.Int16(float64(cfg.SampleCount))

	if cfg.EmissionRange != 0 {
		h.NEm = fixed.Int16(math.RoundToEven(2 / soundSpeed * f0 * cfg.EmissionRange))
		if h.NEm == 0 {
			h.NEm = 1
		}
	}
	rEm := soundSpeed / (2 * f0) * float64(h.NEm)

	h.NVol = fixed.Int16(float64(cfg.CellCount))

	h.CVol1 = fixed.Uint16(2 / soundSpeed * f0 * (cfg.FirstCellRange - rEm/2))
	rVol1 := soundSpeed/(2*f0)*float64(h.CVol1) + rEm/2

	h.CDVol = fixed.Int16(2 / soundSpeed * f0 * cfg.CellSpacing)
	if minDVol := int16(math.Ceil(settleTime*f0 + 1)); h.CDVol < minDVol {
		h.CDVol = minDVol
	}
	rDVol := soundSpeed / (2 * f0) * float64(h.CDVol)

	h.GainCA1 = int16(gain.SlopeToCode(cfg.Gain.Slope, rDVol))
	a1 := gain.CodeToSlope(int(h.GainCA1), rDVol)

	if blind != nil {
		h.BlindCA1 = int16(gain.SlopeToCode(blind.SlopeMax, rDVol))
	}
	a1Max := gain.CodeToSlope(int(h.BlindCA1), rDVol)

	nyquist := soundSpeed * prf / (2 * f0)
	if cfg.VelocityMin > 0 || cfg.VelocityMin < -nyquist*(1+1e-9) {
		return nil, fault.Configuration(op, "v_min %.3f m/s outside [-%.3f, 0]", cfg.VelocityMin, nyquist)
	}
	h.PhiMin = fixed.Int16(cfg.VelocityMin * 65535 / (2 * nyquist))

	h.GainCA0 = int16(gain.InterceptToCode(cfg.Gain.Intercept + rVol1*a1))
	if blind != nil {
		h.BlindCA0 = int16(gain.InterceptToCode(blind.InterceptMax + rVol1*a1Max))
	} else {
		h.BlindCA0 = gain.CodeMaxApplied
	}

	h.Tr = int16(cfg.Transducer - 1)
	h.Method = packMethod(cfg.Gain.Auto, cfg.StaticEchoFilter, cfg.PhaseCoding, cfg.Mode == ModeBurst)
	h.NAvg = fixed.Int16(float64(cfg.Averaging))

	return h, nil
}

func validate(fSys float64, cfg AcousticConfig, soundSpeed float64) error {
	const op = "acoustic: from user config"
	switch {
	case !(fSys > 0):
		return fault.Configuration(op, "system frequency must be positive, got %v", fSys)
	case !(cfg.F0 > 0):
		return fault.Configuration(op, "f0 must be positive, got %v", cfg.F0)
	case !(cfg.PRF > 0):
		return fault.Configuration(op, "prf must be positive, got %v", cfg.PRF)
	case !(soundSpeed > 0):
		return fault.Configuration(op, "sound speed must be positive, got %v", soundSpeed)
	case cfg.SampleCount < 1:
		return fault.Configuration(op, "n_ech must be at least 1, got %d", cfg.SampleCount)
	case cfg.CellCount < 1:
		return fault.Configuration(op, "n_vol must be at least 1, got %d", cfg.CellCount)
	case cfg.Averaging < 1:
		return fault.Configuration(op, "n_profile must be at least 1, got %d", cfg.Averaging)
	case cfg.Transducer < 1:
		return fault.Configuration(op, "transducer must be at least 1, got %d", cfg.Transducer)
	case cfg.EmissionRange < 0 || cfg.FirstCellRange < 0 || cfg.CellSpacing < 0:
		return fault.Configuration(op, "ranges must not be negative")
	case cfg.Mode != "" && cfg.Mode != ModeContinuous && cfg.Mode != ModeBurst:
		return fault.Configuration(op, "unknown method %q", cfg.Mode)
	}
	return nil
}

func packMethod(auto, staticEcho, phaseCoding, burst bool) int16 {
	var m int16
	if auto {
		m += 512
	}
	m += b2i(staticEcho) << 8
	m += b2i(phaseCoding) << 2
	m += b2i(burst) + b2i(burst)<<1
	return m
}

func b2i(b bool) int16 {
	if b {
		return 1
	}
	return 0
}

// FromRegisterList loads a configuration read back from a slot. words must
// hold exactly RegisterCount values.
func FromRegisterList(fSys float64, words []int16) (*HardwareConfig, error) {
	if len(words) != RegisterCount {
		return nil, fault.Format("acoustic: from register list", "expected %d words, got %d", RegisterCount, len(words))
	}
	h := &HardwareConfig{FSys: fSys}
	for i, p := range h.fields() {
		*p = words[i]
	}
	h.CVol1 = uint16(words[5])
	return h, nil
}

// fields returns pointers to the signed registers in register order. The
// CVol1 slot holds a scratch value; callers handle it separately.
func (h *HardwareConfig) fields() [RegisterCount]*int16 {
	var scratch int16
	return [RegisterCount]*int16{
		&h.DivF0, &h.NTir, &h.CPRF, &h.NEm, &h.NVol, &scratch, &h.CDVol,
		&h.GainCA0, &h.GainCA1, &h.Tr, &h.PhiMin, &h.Method,
		&h.Reserved1, &h.Reserved2, &h.NAvg, &h.BlindCA0, &h.BlindCA1,
	}
}

// RegisterList returns the slot content in register order.
func (h *HardwareConfig) RegisterList() []int16 {
	words := make([]int16, RegisterCount)
	for i, p := range h.fields() {
		words[i] = *p
	}
	words[5] = int16(h.CVol1)
	return words
}

// Equal reports whether both configurations hold the same 17 registers.
func (h *HardwareConfig) Equal(o *HardwareConfig) bool {
	if h == nil || o == nil {
		return h == o
	}
	a, b := h.RegisterList(), o.RegisterList()
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

func (h *HardwareConfig) BurstMode() bool        { return h.Method&MethodBurst != 0 }
func (h *HardwareConfig) PhaseCoding() bool      { return h.Method&MethodPhaseCoding != 0 }
func (h *HardwareConfig) StaticEchoFilter() bool { return h.Method&MethodStaticEchoFilter != 0 }
func (h *HardwareConfig) GainAuto() bool         { return h.Method&MethodGainAuto != 0 }

// F0 returns the effective emission frequency in Hz.
func (h *HardwareConfig) F0() float64 {
	return h.FSys / float64(int(h.DivF0)+1)
}

// UserConfig back-computes the physical setup the registers achieve. The
// sound speed must be the one used when the registers were derived.
func (h *HardwareConfig) UserConfig(soundSpeed float64) AcousticConfig {
	f0 := h.F0()
	prf := f0 / float64(h.CPRF)
	rDVol := soundSpeed * (float64(h.CDVol) / f0) / 2
	rVol1 := soundSpeed * ((float64(h.CVol1) + float64(h.NEm)/2) / f0) / 2
	a1 := gain.CodeToSlope(int(h.GainCA1), rDVol)

	cfg := AcousticConfig{
		F0:               f0,
		PRF:              prf,
		SampleCount:      int(h.NTir),
		EmissionRange:    soundSpeed * (float64(h.NEm) / f0) / 2,
		FirstCellRange:   rVol1,
		CellSpacing:      rDVol,
		CellCount:        int(h.NVol),
		Mode:             ModeContinuous,
		PhaseCoding:      h.PhaseCoding(),
		StaticEchoFilter: h.StaticEchoFilter(),
		Averaging:        int(h.NAvg),
		VelocityMin:      2 * soundSpeed * prf * float64(h.PhiMin) / (2 * 65535 * f0),
		Transducer:       int(h.Tr) + 1,
		Gain: Gain{
			Intercept: gain.CodeToIntercept(int(h.GainCA0)) - a1*rVol1,
			Slope:     a1,
			Auto:      h.GainAuto(),
		},
	}
	if h.BurstMode() {
		cfg.Mode = ModeBurst
	}
	return cfg
}

// BlockDuration estimates the acquisition time of one averaged profile.
// It under-estimates for profiles above roughly 100 cells; callers that need
// a hard bound must add a margin.
func (h *HardwareConfig) BlockDuration() time.Duration {
	if h.FSys <= 0 {
		return 0
	}
	sec := float64(h.NTir) * float64(h.NAvg) * float64(int(h.DivF0)+1) * float64(h.CPRF) / h.FSys
	return time.Duration(sec * float64(time.Second))
}

// LogValue implements slog.LogValuer.
func (h *HardwareConfig) LogValue() slog.Value {
	return slog.GroupValue(
		slog.Int("div_f0", int(h.DivF0)),
		slog.Int("n_tir", int(h.NTir)),
		slog.Int("c_prf", int(h.CPRF)),
		slog.Int("n_em", int(h.NEm)),
		slog.Int("n_vol", int(h.NVol)),
		slog.Int("c_vol1", int(h.CVol1)),
		slog.Int("c_dvol", int(h.CDVol)),
		slog.Int("ca0", int(h.GainCA0)),
		slog.Int("ca1", int(h.GainCA1)),
		slog.Int("blind_ca0", int(h.BlindCA0)),
		slog.Int("blind_ca1", int(h.BlindCA1)),
		slog.Int("tr", int(h.Tr)),
		slog.Int("phi_min", int(h.PhiMin)),
		slog.Int("method", int(h.Method)),
		slog.Int("n_avg", int(h.NAvg)),
	)
}
