package parangle

import (
	"math"
	"slices"

	"github.com/banshee-data/awimager/internal/units"
	"github.com/banshee-data/awimager/internal/vis"
)

// ChangeDetector reports when a buffer's PA or antenna set differs enough
// from the last accepted buffer that the rotated convolution functions are
// stale.
type ChangeDetector struct {
	toleranceRad float64
	lastPA       float64
	lastAnts     []int
}

// NewChangeDetector returns a detector with the given tolerance in degrees.
func NewChangeDetector(toleranceDeg float64) *ChangeDetector {
	return &ChangeDetector{toleranceRad: units.DegToRad(toleranceDeg), lastPA: UnsetPA}
}

// Changed compares vb with the last accepted buffer. A change is accepted
// as the new reference. The first buffer after Reset always reports a change.
func (d *ChangeDetector) Changed(vb *vis.Buffer) bool {
	pa := GetVBPA(vb)
	ants := vb.Antennas()
	changed := d.lastPA == UnsetPA ||
		math.Abs(units.AngularDifference(pa, d.lastPA)) > d.toleranceRad ||
		!slices.Equal(ants, d.lastAnts)
	if changed {
		d.lastPA = pa
		d.lastAnts = ants
	}
	return changed
}

// CurrentPA returns the PA of the last accepted buffer, or UnsetPA.
func (d *ChangeDetector) CurrentPA() float64 { return d.lastPA }

// Reset forgets the reference buffer.
func (d *ChangeDetector) Reset() {
	d.lastPA = UnsetPA
	d.lastAnts = nil
}
