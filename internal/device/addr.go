package device

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/ubertone/peacock-go/internal/acoustic"
	"github.com/ubertone/peacock-go/internal/profile"
)

// Fixed registers, identical on every firmware.
const (
	AddrAction      uint16 = 0xFFFD // command register
	AddrVersionC    uint16 = 0x0000
	AddrVersionVHDL uint16 = 0xFFFE
	AddrModelYear   uint16 = 0x0001 // model in high byte, year-2000 in low byte
	AddrSerialNum   uint16 = 0x0002
)

// Command is a value written to AddrAction.
type Command int16

const (
	CmdNull               Command = 0
	CmdStop               Command = 1
	CmdStartAuto          Command = 2
	CmdProfileBlocking    Command = 3
	CmdProfileNonBlocking Command = 4
	CmdCheckConfig        Command = 5
	CmdProfileIQ          Command = 6
	CmdInitSettings       Command = 7
	CmdMeasLevel          Command = 20
	CmdTestLED            Command = 190
	CmdTestI2C            Command = 195 // refresh pitch, roll and temperature
)

func (c Command) String() string {
	switch c {
	case CmdNull:
		return "null"
	case CmdStop:
		return "stop"
	case CmdStartAuto:
		return "start auto"
	case CmdProfileBlocking:
		return "profile (blocking)"
	case CmdProfileNonBlocking:
		return "profile (non-blocking)"
	case CmdCheckConfig:
		return "check config"
	case CmdProfileIQ:
		return "profile IQ"
	case CmdInitSettings:
		return "init settings"
	case CmdMeasLevel:
		return "measure level"
	case CmdTestLED:
		return "test LED"
	case CmdTestI2C:
		return "measure sensors"
	default:
		return fmt.Sprintf("command %d", int16(c))
	}
}

// AddressMap locates the firmware-dependent registers. The defaults match
// firmware 45 and later; older layouts are loaded from a YAML file.
type AddressMap struct {
	SoundSpeedAuto    uint16 `yaml:"sound_speed_auto"`
	SoundSpeedSet     uint16 `yaml:"sound_speed_set"`
	ConfigID          uint16 `yaml:"config_id"`
	Config            uint16 `yaml:"config"`
	ConfigStride      int    `yaml:"config_stride"`
	ConfigSize        int    `yaml:"config_size"`
	Slots             int    `yaml:"slots"`
	Pitch             uint16 `yaml:"pitch"`
	Roll              uint16 `yaml:"roll"`
	Temperature       uint16 `yaml:"temperature"`
	ProfileHeader     uint16 `yaml:"profile_header"`
	ProfileHeaderSize int    `yaml:"profile_header_size"`
}

// DefaultAddressMap returns the register layout of current firmware.
func DefaultAddressMap() AddressMap {
	return AddressMap{
		SoundSpeedAuto:    0x0004,
		SoundSpeedSet:     0x0005,
		ConfigID:          0x0010,
		Config:            0x0011,
		ConfigStride:      20,
		ConfigSize:        acoustic.RegisterCount,
		Slots:             3,
		Pitch:             0x0058,
		Roll:              0x0059,
		Temperature:       0x005A,
		ProfileHeader:     0x0058,
		ProfileHeaderSize: 8,
	}
}

// LoadAddressMap reads overrides from a YAML file on top of the defaults.
func LoadAddressMap(path string) (AddressMap, error) {
	m := DefaultAddressMap()
	data, err := os.ReadFile(path)
	if err != nil {
		return m, fmt.Errorf("device: read address map: %w", err)
	}
	if err := yaml.Unmarshal(data, &m); err != nil {
		return m, fmt.Errorf("device: parse address map %s: %w", path, err)
	}
	if err := m.Validate(); err != nil {
		return m, err
	}
	return m, nil
}

// Validate checks the map can describe the configuration codec's layout.
func (m AddressMap) Validate() error {
	switch {
	case m.ConfigSize != acoustic.RegisterCount:
		return fmt.Errorf("device: address map config_size %d, codec needs %d", m.ConfigSize, acoustic.RegisterCount)
	case m.Slots < 1:
		return fmt.Errorf("device: address map needs at least one slot")
	case m.ConfigStride < m.ConfigSize:
		return fmt.Errorf("device: config_stride %d overlaps %d-word slots", m.ConfigStride, m.ConfigSize)
	case m.ProfileHeaderSize != profile.HeaderWords:
		return fmt.Errorf("device: profile_header_size %d, decoder needs %d", m.ProfileHeaderSize, profile.HeaderWords)
	}
	return nil
}

// SlotAddr returns the first register of configuration slot (0-based).
func (m AddressMap) SlotAddr(slot int) (uint16, error) {
	if slot < 0 || slot >= m.Slots {
		return 0, fmt.Errorf("slot %d outside [0, %d)", slot, m.Slots)
	}
	return m.Config + uint16(slot*m.ConfigStride), nil
}
