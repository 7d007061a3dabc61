// Package profile decodes the raw profile blocks the probe produces after a
// measurement into calibrated physical values.
//
// A block is a 6-byte timestamp, 8 header words, then 4 words per cell
// (velocity, std, amplitude, snr), all big-endian signed 16-bit.
package profile

import (
	"encoding/binary"
	"math"
	"time"

	"github.com/ubertone/peacock-go/internal/acoustic"
	"github.com/ubertone/peacock-go/internal/fault"
	"github.com/ubertone/peacock-go/internal/gain"
	"github.com/ubertone/peacock-go/internal/timestamp"
)

const (
	// HeaderWords is the number of scalar words after the timestamp.
	HeaderWords = 8
	// CellWords is the number of words per cell.
	CellWords = 4

	vref = 1.25 // ADC reference, V

	// noise floors are sampled at the applied maximum and 10 dB below it
	noiseCodeMax = gain.CodeMaxApplied
	noiseCodeMid = 993
)

// Header holds the raw scalars that follow the timestamp. Pitch and roll are
// in degrees, temperature in °C, sound speed in m/s.
type Header struct {
	Pitch       int16 `json:"pitch"`
	Roll        int16 `json:"roll"`
	Temperature int16 `json:"temp"`
	SoundSpeed  int16 `json:"sound_speed"`
	GainCA0     int16 `json:"gain_ca0"`
	GainCA1     int16 `json:"gain_ca1"`
	NoiseGMax   int16 `json:"noise_g_max"`
	NoiseGMid   int16 `json:"noise_g_mid"`
}

func (h *Header) words() [HeaderWords]*int16 {
	return [HeaderWords]*int16{
		&h.Pitch, &h.Roll, &h.Temperature, &h.SoundSpeed,
		&h.GainCA0, &h.GainCA1, &h.NoiseGMax, &h.NoiseGMid,
	}
}

// RawCell is one cell as sent by the probe. A negative Std flags an
// ambiguity wrap; a negative Amplitude flags receiver saturation.
type RawCell struct {
	Velocity  int16
	Std       int16
	Amplitude int16
	SNR       int16
}

// Record is a decoded profile. Velocity and Std are in m/s, Amplitude in V
// at the transducer, SNR in dB.
type Record struct {
	Timestamp time.Time `json:"timestamp"`
	Header

	// Averaging is the number of profiles averaged in the block.
	Averaging int `json:"n_avg"`

	Velocity      []float64 `json:"velocity"`
	Std           []float64 `json:"std"`
	Amplitude     []float64 `json:"amplitude"`
	SNR           []float64 `json:"snr"`
	AmbiguityWrap []bool    `json:"ambiguity_wrap"`
	Saturation    []bool    `json:"saturation"`
}

// Size returns the byte length of a block holding nVol cells.
func Size(nVol int) int {
	return timestamp.Size + 2*(HeaderWords+CellWords*nVol)
}

// Decode converts raw, acquired with cfg, into a Record. The block length
// must match cfg.NVol exactly.
func Decode(raw []byte, cfg *acoustic.HardwareConfig) (*Record, error) {
	const op = "profile: decode"
	if cfg == nil || cfg.NVol < 1 || cfg.CPRF < 1 || cfg.NAvg < 1 {
		return nil, fault.Configuration(op, "configuration cannot describe a profile")
	}
	n := int(cfg.NVol)
	if want := Size(n); len(raw) != want {
		return nil, fault.Format(op, "expected %d bytes for %d cells, got %d", want, n, len(raw))
	}

	at, err := timestamp.Parse(raw)
	if err != nil {
		return nil, err
	}
	r := &Record{Timestamp: at, Averaging: int(cfg.NAvg)}

	words := raw[timestamp.Size:]
	next := func() int16 {
		v := int16(binary.BigEndian.Uint16(words))
		words = words[2:]
		return v
	}
	for _, p := range r.Header.words() {
		*p = next()
	}

	r.Velocity = make([]float64, n)
	r.Std = make([]float64, n)
	r.Amplitude = make([]float64, n)
	r.SNR = make([]float64, n)
	r.AmbiguityWrap = make([]bool, n)
	r.Saturation = make([]bool, n)

	velFactor := float64(r.SoundSpeed) / (float64(cfg.CPRF) * 65535)
	ampFactor := (2 * vref / 4096) / math.Sqrt(float64(cfg.NAvg))
	gains := gain.Table(n, int(r.GainCA0), int(r.GainCA1), int(cfg.BlindCA0), int(cfg.BlindCA1))

	for i := 0; i < n; i++ {
		c := RawCell{Velocity: next(), Std: next(), Amplitude: next(), SNR: next()}

		std := float64(c.Std)
		if std < 0 {
			r.AmbiguityWrap[i] = true
			std = -std
		}
		amp := float64(c.Amplitude)
		if amp < 0 {
			r.Saturation[i] = true
			amp = -amp
		}
		r.Velocity[i] = float64(c.Velocity) * velFactor
		r.Std[i] = std * velFactor
		r.SNR[i] = float64(c.SNR) / 10
		r.Amplitude[i] = amp * ampFactor / gains[i]
	}
	return r, nil
}

// NoiseVolts converts the two raw noise floors to volts at the transducer.
// high was sampled at the maximum gain, mid 10 dB below.
func (r *Record) NoiseVolts() (high, mid float64) {
	n := r.Averaging
	if n < 1 {
		n = 1
	}
	f := (2 * vref / 4096) / math.Sqrt(float64(n))
	high = math.Sqrt(math.Abs(float64(r.NoiseGMax))) * f / gain.Linear(gain.AppliedDB(noiseCodeMax))
	mid = math.Sqrt(math.Abs(float64(r.NoiseGMid))) * f / gain.Linear(gain.AppliedDB(noiseCodeMid))
	return high, mid
}

// GainLaw converts the gain codes the probe reported (which differ from the
// programmed ones when auto gain is on) back to dB and dB/m.
func (r *Record) GainLaw(cfg *acoustic.HardwareConfig) acoustic.Gain {
	f0 := cfg.F0()
	ss := float64(r.SoundSpeed)
	rDVol := ss * (float64(cfg.CDVol) / f0) / 2
	rVol1 := ss * ((float64(cfg.CVol1) + float64(cfg.NEm)/2) / f0) / 2
	a1 := gain.CodeToSlope(int(r.GainCA1), rDVol)
	return acoustic.Gain{
		Intercept: gain.CodeToIntercept(int(r.GainCA0)) - a1*rVol1,
		Slope:     a1,
		Auto:      cfg.GainAuto(),
	}
}

// AppendRaw appends a block in the probe's wire layout. It is the inverse of
// the unpacking step of Decode, used to build blocks for simulation.
func AppendRaw(b []byte, at time.Time, h Header, cells []RawCell) []byte {
	b = timestamp.AppendBytes(b, at)
	for _, p := range h.words() {
		b = binary.BigEndian.AppendUint16(b, uint16(*p))
	}
	for _, c := range cells {
		for _, v := range [CellWords]int16{c.Velocity, c.Std, c.Amplitude, c.SNR} {
			b = binary.BigEndian.AppendUint16(b, uint16(v))
		}
	}
	return b
}
