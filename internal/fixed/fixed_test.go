package fixed_test

import (
	"math"
	"testing"

	"github.com/ubertone/peacock-go/internal/fixed"
)

func TestInt16ClampsAndIsIdempotent(t *testing.T) {
	for x := -40000; x <= 40000; x++ {
		got := fixed.Int16(float64(x))
		want := x
		if want > 32767 {
			want = 32767
		}
		if want < -32768 {
			want = -32768
		}
		if int(got) != want {
			t.Fatalf("Int16(%d) = %d, want %d", x, got, want)
		}
		if again := fixed.Int16(float64(got)); again != got {
			t.Fatalf("Int16 not idempotent at %d: %d -> %d", x, got, again)
		}
	}
}

func TestInt16Rounding(t *testing.T) {
	tests := []struct {
		in   float64
		want int16
	}{
		{0.4, 0},
		{0.6, 1},
		{-0.6, -1},
		{2.5, 2}, // ties to even
		{3.5, 4},
		{32767.4, 32767},
		{32767.6, 32767},
		{-32768.7, -32768},
		{1e9, 32767},
		{math.Inf(-1), -32768},
		{math.NaN(), 0},
	}
	for _, tc := range tests {
		if got := fixed.Int16(tc.in); got != tc.want {
			t.Errorf("Int16(%v) = %d, want %d", tc.in, got, tc.want)
		}
	}
}

func TestUint16(t *testing.T) {
	tests := []struct {
		in   float64
		want uint16
	}{
		{-1, 0},
		{-0.4, 0},
		{0.5, 0},
		{1.5, 2},
		{65535.2, 65535},
		{70000, 65535},
		{math.NaN(), 0},
	}
	for _, tc := range tests {
		if got := fixed.Uint16(tc.in); got != tc.want {
			t.Errorf("Uint16(%v) = %d, want %d", tc.in, got, tc.want)
		}
	}
}

func TestClamp(t *testing.T) {
	if got := fixed.Clamp(5000, -4096, 4095); got != 4095 {
		t.Errorf("Clamp high = %d", got)
	}
	if got := fixed.Clamp(-5000, -4096, 4095); got != -4096 {
		t.Errorf("Clamp low = %d", got)
	}
	if got := fixed.Clamp(12, -4096, 4095); got != 12 {
		t.Errorf("Clamp inside = %d", got)
	}
}
