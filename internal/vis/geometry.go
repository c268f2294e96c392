package vis

import (
	"math"

	"github.com/banshee-data/awimager/internal/lattice"
)

const (
	secondsPerDay = 86400.0
	mjdJ2000      = 51544.5
)

// GreenwichMeanSiderealTime returns GMST in radians for a time in MJD seconds.
func GreenwichMeanSiderealTime(mjdSeconds float64) float64 {
	d := mjdSeconds/secondsPerDay - mjdJ2000
	gmstDeg := 280.46061837 + 360.98564736629*d
	return math.Mod(gmstDeg, 360.0) * math.Pi / 180.0
}

// HourAngle returns the hour angle (radians) of dir seen from obs.
func HourAngle(mjdSeconds float64, obs Observatory, dir lattice.Direction) float64 {
	lst := GreenwichMeanSiderealTime(mjdSeconds) + obs.Longitude
	return math.Remainder(lst-dir.RA, 2*math.Pi)
}

// ParallacticAngle returns the parallactic angle (radians) of dir for an
// alt-az antenna at obs.
func ParallacticAngle(mjdSeconds float64, obs Observatory, dir lattice.Direction) float64 {
	h := HourAngle(mjdSeconds, obs, dir)
	return math.Atan2(
		math.Sin(h)*math.Cos(obs.Latitude),
		math.Sin(obs.Latitude)*math.Cos(dir.Dec)-math.Cos(obs.Latitude)*math.Sin(dir.Dec)*math.Cos(h),
	)
}
