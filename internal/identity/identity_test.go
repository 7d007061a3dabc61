package identity_test

import (
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/ubertone/peacock-go/internal/identity"
)

func TestGetVersion_Fallback(t *testing.T) {
	// Use a temp dir that contains no metadata.json
	dir := t.TempDir()
	got := identity.GetVersionFromDir(dir)
	if got != identity.DefaultVersion {
		t.Errorf("GetVersionFromDir(%q) = %q; want %q", dir, got, identity.DefaultVersion)
	}
}

func TestGetVersion_FromFile(t *testing.T) {
	dir := t.TempDir()
	want := "0.4.10"
	meta := map[string]interface{}{"version": want}
	data, _ := json.Marshal(meta)
	if err := os.WriteFile(filepath.Join(dir, "metadata.json"), data, 0644); err != nil {
		t.Fatal(err)
	}

	got := identity.GetVersionFromDir(dir)
	if got != want {
		t.Errorf("GetVersionFromDir(%q) = %q; want %q", dir, got, want)
	}
}

func TestGetVersion_InvalidJSON(t *testing.T) {
	dir := t.TempDir()
	if err := os.WriteFile(filepath.Join(dir, "metadata.json"), []byte("not json"), 0644); err != nil {
		t.Fatal(err)
	}
	got := identity.GetVersionFromDir(dir)
	if got != identity.DefaultVersion {
		t.Errorf("GetVersionFromDir with invalid JSON = %q; want %q", got, identity.DefaultVersion)
	}
}

func TestGetHostname(t *testing.T) {
	// Should not panic and should return a non-empty string
	h := identity.GetHostname()
	if h == "" {
		t.Error("GetHostname() returned empty string")
	}
}

func TestDecodeModelYear(t *testing.T) {
	tests := []struct {
		word  int16
		model identity.Model
		year  int
	}{
		{0x0114, identity.ModelPeacockUVP, 2020},
		{0x2017, identity.ModelUBFlowAV, 2023},
		{0x0100, identity.ModelPeacockUVP, 2000},
		{-1, identity.Model(0xFF), 2255},
	}
	for _, tc := range tests {
		m, y := identity.DecodeModelYear(tc.word)
		if m != tc.model || y != tc.year {
			t.Errorf("DecodeModelYear(%#04x) = %v, %d; want %v, %d", tc.word, m, y, tc.model, tc.year)
		}
		if w := identity.EncodeModelYear(m, y); w != tc.word {
			t.Errorf("EncodeModelYear(%v, %d) = %#04x; want %#04x", m, y, w, tc.word)
		}
	}
}

func TestModelString(t *testing.T) {
	if got := identity.ModelPeacockUVP.String(); got != "Peacock UVP" {
		t.Errorf("String() = %q", got)
	}
	if identity.Model(0x42).Known() {
		t.Error("Model(0x42).Known() = true")
	}
	if !identity.ModelUBFlowAV.Known() {
		t.Error("ModelUBFlowAV.Known() = false")
	}
}

func TestSupported(t *testing.T) {
	for fw, want := range map[int16]bool{44: false, 45: true, 61: true, 0: false} {
		p := identity.Probe{FirmwareC: fw}
		if got := p.Supported(); got != want {
			t.Errorf("Probe{FirmwareC: %d}.Supported() = %v; want %v", fw, got, want)
		}
	}
}
