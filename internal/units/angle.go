// Package units provides shared constants and conversions for angular units.
package units

import "math"

// Angle conversion constants
const (
	DegreesPerRadian = 180.0 / math.Pi
	RadiansPerDegree = math.Pi / 180.0
	ArcsecPerRadian  = DegreesPerRadian * 3600.0
)

// SpeedOfLight in metres per second, used to convert uvw metres to wavelengths.
const SpeedOfLight = 299792458.0

// DegToRad converts degrees to radians.
func DegToRad(deg float64) float64 { return deg * RadiansPerDegree }

// RadToDeg converts radians to degrees.
func RadToDeg(rad float64) float64 { return rad * DegreesPerRadian }

// ArcsecToRad converts arc seconds to radians.
func ArcsecToRad(arcsec float64) float64 { return arcsec / ArcsecPerRadian }

// WrapPi folds an angle in radians into (-pi, pi].
func WrapPi(rad float64) float64 {
	r := math.Mod(rad, 2*math.Pi)
	if r <= -math.Pi {
		r += 2 * math.Pi
	} else if r > math.Pi {
		r -= 2 * math.Pi
	}
	return r
}

// AngularDifference returns the signed difference a-b folded into (-pi, pi].
func AngularDifference(a, b float64) float64 {
	return WrapPi(a - b)
}

// Wavelengths converts a baseline length in metres to wavelengths at freqHz.
func Wavelengths(metres, freqHz float64) float64 {
	return metres * freqHz / SpeedOfLight
}
