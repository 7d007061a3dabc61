// Package identity describes the probe on the other end of the link and the
// host running this software.
package identity

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
)

// DefaultVersion is the fallback version string when metadata.json is not found.
const DefaultVersion = "0.3.0-go"

// MinFirmware is the oldest C firmware this software drives correctly.
const MinFirmware = 45

// Model is the product code held in the high byte of the model/year word.
type Model uint8

const (
	ModelPeacockUVP Model = 0x01
	ModelUBFlowAV   Model = 0x20
)

func (m Model) String() string {
	switch m {
	case ModelPeacockUVP:
		return "Peacock UVP"
	case ModelUBFlowAV:
		return "UB-Flow AV"
	default:
		return fmt.Sprintf("unknown model %#02x", uint8(m))
	}
}

// Known reports whether m is a product this software knows.
func (m Model) Known() bool {
	return m == ModelPeacockUVP || m == ModelUBFlowAV
}

// Probe holds the identifier registers of a probe.
type Probe struct {
	FirmwareC    int16 `json:"firmware_c"`
	FirmwareVHDL int16 `json:"firmware_vhdl"`
	Model        Model `json:"model"`
	Year         int   `json:"year"`
	Serial       int16 `json:"serial"`
}

// DecodeModelYear splits the model/year word: model in the high byte, year
// of production minus 2000 in the low byte.
func DecodeModelYear(w int16) (Model, int) {
	u := uint16(w)
	return Model(u >> 8), 2000 + int(u&0x00FF)
}

// EncodeModelYear is the inverse of DecodeModelYear.
func EncodeModelYear(m Model, year int) int16 {
	return int16(uint16(m)<<8 | uint16(year-2000)&0x00FF)
}

// Supported reports whether the probe firmware is recent enough.
func (p Probe) Supported() bool {
	return p.FirmwareC >= MinFirmware
}

func (p Probe) String() string {
	return fmt.Sprintf("%s #%d (%d), firmware C%d/VHDL%d", p.Model, p.Serial, p.Year, p.FirmwareC, p.FirmwareVHDL)
}

// Info holds identity information served by the API.
type Info struct {
	Hostname string `json:"hostname"`
	Version  string `json:"version"`
	Probe    Probe  `json:"probe"`
}

// GetHostname returns the system hostname.
func GetHostname() string {
	h, err := os.Hostname()
	if err != nil {
		return "peacock"
	}
	return h
}

// GetVersion reads the version from ~/.config/peacock/metadata.json.
// Falls back to DefaultVersion if the file is missing or unreadable.
func GetVersion() string {
	return GetVersionFromDir("")
}

// GetVersionFromDir reads the version from a specific config directory.
// If dir is empty, uses the default ~/.config/peacock path.
func GetVersionFromDir(dir string) string {
	if dir == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			return DefaultVersion
		}
		dir = filepath.Join(home, ".config", "peacock")
	}

	data, err := os.ReadFile(filepath.Join(dir, "metadata.json"))
	if err != nil {
		return DefaultVersion
	}

	var meta map[string]interface{}
	if err := json.Unmarshal(data, &meta); err != nil {
		return DefaultVersion
	}

	if v, ok := meta["version"].(string); ok && v != "" {
		return v
	}
	return DefaultVersion
}
