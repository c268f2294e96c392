package awproject

import (
	"errors"
	"fmt"
)

// ErrNoImage is returned when an operation needs the image set by
// InitializeToSky or InitializeToVis and none has been set.
var ErrNoImage = errors.New("no image set")

// ErrInvalidTransition is returned when an operation is called in a cycle
// state that does not allow it.
var ErrInvalidTransition = errors.New("invalid state transition")

// ErrNoWeightKernel is returned when the sensitivity image is pending and
// the cache has no weight kernel to accumulate.
var ErrNoWeightKernel = errors.New("no weight kernel cached")

// ErrEmptySensitivity is returned when the accumulated weights transform to
// an all-zero sensitivity image.
var ErrEmptySensitivity = errors.New("accumulated weights are empty")

// CycleState is the position of the machine in an imaging cycle.
type CycleState int

// Cycle states
const (
	Uninitialized CycleState = iota
	ToSkyActive
	Finalized
	ToVisActive
)

func (s CycleState) String() string {
	switch s {
	case Uninitialized:
		return "UNINITIALIZED"
	case ToSkyActive:
		return "TO_SKY_ACTIVE"
	case Finalized:
		return "FINALIZED"
	case ToVisActive:
		return "TO_VIS_ACTIVE"
	default:
		return fmt.Sprintf("CycleState(%d)", int(s))
	}
}

// PBState tracks the sensitivity image. Once SensitivityComputed it only
// goes back when InitializeToSky is given an image of a different shape.
type PBState int

// Sensitivity states
const (
	NeedsWeightAccumulation PBState = iota
	SensitivityComputed
)

func (s PBState) String() string {
	if s == SensitivityComputed {
		return "SENSITIVITY_COMPUTED"
	}
	return "NEEDS_WEIGHT_ACCUMULATION"
}

// LatticeState tracks the one-time allocation of the weight lattice.
type LatticeState int

// Weight lattice states
const (
	LatticeUninitialized LatticeState = iota
	LatticeAllocated
)

func (s LatticeState) String() string {
	if s == LatticeAllocated {
		return "ALLOCATED"
	}
	return "UNINITIALIZED"
}

func (m *Machine) requireCycle(op string, want ...CycleState) error {
	for _, s := range want {
		if m.cycle == s {
			return nil
		}
	}
	return fmt.Errorf("%w: %s called in state %s", ErrInvalidTransition, op, m.cycle)
}
