package units

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestDegRadRoundTrip(t *testing.T) {
	for _, deg := range []float64{0, 1, 45, 90, 180, -30.5} {
		assert.InDelta(t, deg, RadToDeg(DegToRad(deg)), 1e-12)
	}
	assert.InDelta(t, math.Pi, DegToRad(180), 1e-15)
}

func TestArcsecToRad(t *testing.T) {
	assert.InDelta(t, DegToRad(1.0/3600.0), ArcsecToRad(1), 1e-18)
}

func TestWrapPi(t *testing.T) {
	tests := []struct {
		in, want float64
	}{
		{0, 0},
		{math.Pi, math.Pi},
		{-math.Pi, math.Pi},
		{3 * math.Pi / 2, -math.Pi / 2},
		{-3 * math.Pi / 2, math.Pi / 2},
		{4 * math.Pi, 0},
	}
	for _, tt := range tests {
		assert.InDelta(t, tt.want, WrapPi(tt.in), 1e-12, "WrapPi(%v)", tt.in)
	}
}

func TestAngularDifference(t *testing.T) {
	assert.InDelta(t, DegToRad(2), AngularDifference(DegToRad(1), DegToRad(359)), 1e-12)
	assert.InDelta(t, DegToRad(-2), AngularDifference(DegToRad(359), DegToRad(1)), 1e-12)
}

func TestWavelengths(t *testing.T) {
	// 1 metre at c Hz is exactly one wavelength.
	assert.InDelta(t, 1.0, Wavelengths(1, SpeedOfLight), 1e-12)
	assert.InDelta(t, 466.99, Wavelengths(100, 1.4e9), 1e-2)
}
