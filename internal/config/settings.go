package config

import (
	"encoding/json"

	"github.com/ubertone/peacock-go/internal/acoustic"
)

// MaxConfigs is the number of configuration slots on the probe.
const MaxConfigs = 3

const (
	DefaultBaud         = 230400
	DefaultFSys         = 36e6
	DefaultSoundSpeed   = 1480.0
	DefaultBoardVersion = "apf04"
	DefaultProductModel = "Peacock UVP"
)

// SoundSpeed is the speed of sound in the liquid, m/s. With Auto set the
// probe derives it from its own temperature sensor and Value is only used
// to program the configurations.
type SoundSpeed struct {
	Value float64 `yaml:"value" json:"value"`
	Auto  bool    `yaml:"auto" json:"auto"`
}

// Settings is everything needed to program a probe and run acquisitions.
type Settings struct {
	// Port is the serial device. Empty means look for one.
	Port string  `yaml:"port,omitempty" json:"port,omitempty"`
	Baud int     `yaml:"baud" json:"baud"`
	FSys float64 `yaml:"f_sys" json:"f_sys"`

	BoardVersion string `yaml:"board_version" json:"board_version"`
	ProductModel string `yaml:"product_model" json:"product_model"`

	SoundSpeed SoundSpeed          `yaml:"sound_speed" json:"sound_speed"`
	BlindZone  *acoustic.BlindZone `yaml:"blind_zone,omitempty" json:"blind_zone,omitempty"`

	// Configs holds one acoustic configuration per slot, slot 0 first.
	Configs []acoustic.AcousticConfig `yaml:"configs" json:"configs"`
	// Order lists the slots to measure, round robin.
	Order []int `yaml:"configuration_order" json:"configuration_order"`
}

// DefaultSettings returns a single 50-cell configuration at 1 MHz.
func DefaultSettings() Settings {
	return Settings{
		Baud:         DefaultBaud,
		FSys:         DefaultFSys,
		BoardVersion: DefaultBoardVersion,
		ProductModel: DefaultProductModel,
		SoundSpeed:   SoundSpeed{Value: DefaultSoundSpeed},
		Configs: []acoustic.AcousticConfig{{
			F0:             1.0e6,
			PRF:            4000,
			SampleCount:    64,
			FirstCellRange: 0.01,
			CellSpacing:    0.005,
			CellCount:      50,
			Gain:           acoustic.Gain{Intercept: 40},
			Mode:           acoustic.ModeContinuous,
			Averaging:      8,
			Transducer:     1,
		}},
		Order: []int{0},
	}
}

// DeepCopy returns a copy sharing no slices or pointers with s.
func (s *Settings) DeepCopy() Settings {
	cp := *s
	if s.BlindZone != nil {
		b := *s.BlindZone
		cp.BlindZone = &b
	}
	cp.Configs = append([]acoustic.AcousticConfig(nil), s.Configs...)
	cp.Order = append([]int(nil), s.Order...)
	return cp
}

// JSON returns the settings as recorded alongside the profiles.
func (s *Settings) JSON() ([]byte, error) {
	return json.Marshal(s)
}
