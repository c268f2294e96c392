// Package parangle tracks parallactic angle across visibility buffers and
// decides when cached convolution functions and the weight image need
// attention.
package parangle

import (
	"math"

	"github.com/banshee-data/awimager/internal/units"
	"github.com/banshee-data/awimager/internal/vis"
)

// UnsetPA marks a PA that has never been recorded.
const UnsetPA = -999.0

// GetVBPA returns the parallactic angle (radians) of a buffer: the mean
// feed PA over the antennas present, or the geometric angle at the mean
// buffer time when the buffer carries no feed angles.
func GetVBPA(vb *vis.Buffer) float64 {
	ants := vb.Antennas()
	if len(vb.FeedPA) > 0 && len(ants) > 0 {
		// Average unit vectors so angles either side of +-pi do not cancel.
		var s, c float64
		n := 0
		for _, a := range ants {
			if a < len(vb.FeedPA) {
				s += math.Sin(vb.FeedPA[a])
				c += math.Cos(vb.FeedPA[a])
				n++
			}
		}
		if n > 0 {
			return math.Atan2(s, c)
		}
	}
	return vis.ParallacticAngle(vb.MeanTime(), vb.Observatory, vb.PhaseCenter)
}

// ComputeAvgPB reports whether the weight accumulation branch must run for
// the current buffer. It fires only while the sensitivity image is still
// pending, and only when the PA has moved by at least deltaPADeg since the
// last accumulation or no accumulation has happened yet. Angles are in
// radians.
func ComputeAvgPB(avgPBReady bool, currentPA, lastPAUsedForWtImg, deltaPADeg float64) bool {
	if avgPBReady {
		return false
	}
	if lastPAUsedForWtImg == UnsetPA {
		return true
	}
	return math.Abs(lastPAUsedForWtImg-currentPA)*units.DegreesPerRadian >= deltaPADeg
}

// WeightPATracker owns lastPAUsedForWtImg and applies ComputeAvgPB to each
// buffer in delivery order.
type WeightPATracker struct {
	deltaPADeg float64
	lastPA     float64
	fired      int
}

// NewWeightPATracker returns a tracker with no recorded PA.
func NewWeightPATracker(deltaPADeg float64) *WeightPATracker {
	return &WeightPATracker{deltaPADeg: deltaPADeg, lastPA: UnsetPA}
}

// Check evaluates the gate for currentPA and, when it fires, records
// currentPA as the last PA used for the weight image.
func (t *WeightPATracker) Check(avgPBReady bool, currentPA float64) bool {
	if !ComputeAvgPB(avgPBReady, currentPA, t.lastPA, t.deltaPADeg) {
		return false
	}
	t.lastPA = currentPA
	t.fired++
	return true
}

// LastPA returns the PA recorded at the most recent accumulation, or UnsetPA.
func (t *WeightPATracker) LastPA() float64 { return t.lastPA }

// Fired returns how many times the gate has opened since the last Reset.
func (t *WeightPATracker) Fired() int { return t.fired }

// Reset forgets the recorded PA.
func (t *WeightPATracker) Reset() {
	t.lastPA = UnsetPA
	t.fired = 0
}
