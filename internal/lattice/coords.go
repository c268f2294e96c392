package lattice

import (
	"errors"
	"fmt"
	"math"
)

// ErrNoDirectionCoordinate is returned when a coordinate system has no sky
// direction axis. Gridding cannot proceed without one.
var ErrNoDirectionCoordinate = errors.New("coordinate system has no direction axis")

// Direction is a sky position in radians.
type Direction struct {
	RA  float64
	Dec float64
}

// Separation returns the (dRA*cos(dec), dDec) offsets of d relative to ref,
// in radians, using the ref declination for the cosine term.
func (d Direction) Separation(ref Direction) (dl, dm float64) {
	dra := math.Remainder(d.RA-ref.RA, 2*math.Pi)
	return dra * math.Cos(ref.Dec), d.Dec - ref.Dec
}

// DirectionCoordinate maps the first two lattice axes onto the sky.
type DirectionCoordinate struct {
	RefValue  Direction  // sky position of RefPixel
	RefPixel  [2]float64 // zero-based pixel
	Increment [2]float64 // radians per pixel along x and y
}

// SpectralCoordinate lists the frequency of each channel plane in Hz.
type SpectralCoordinate struct {
	Frequencies []float64
}

// CoordinateSystem is the pixel-to-world mapping attached to an image.
type CoordinateSystem struct {
	Direction *DirectionCoordinate
	Spectral  SpectralCoordinate
	Stokes    []Stokes
}

// RequireDirection returns the direction coordinate or ErrNoDirectionCoordinate.
func (cs CoordinateSystem) RequireDirection() (*DirectionCoordinate, error) {
	if cs.Direction == nil {
		return nil, ErrNoDirectionCoordinate
	}
	return cs.Direction, nil
}

// Clone returns a deep copy.
func (cs CoordinateSystem) Clone() CoordinateSystem {
	out := CoordinateSystem{}
	if cs.Direction != nil {
		d := *cs.Direction
		out.Direction = &d
	}
	out.Spectral.Frequencies = append([]float64(nil), cs.Spectral.Frequencies...)
	out.Stokes = append([]Stokes(nil), cs.Stokes...)
	return out
}

// SamePixelScale reports whether both systems have direction axes with
// equal increments, so their kernels can share a uv-grid.
func (cs CoordinateSystem) SamePixelScale(other CoordinateSystem) bool {
	if cs.Direction == nil || other.Direction == nil {
		return false
	}
	const tol = 1e-12
	for i := 0; i < 2; i++ {
		a, b := cs.Direction.Increment[i], other.Direction.Increment[i]
		if math.Abs(a-b) > tol*math.Max(math.Abs(a), math.Abs(b)) {
			return false
		}
	}
	return true
}

// StokesIndex returns the plane index of s, or -1.
func (cs CoordinateSystem) StokesIndex(s Stokes) int {
	for i, v := range cs.Stokes {
		if v == s {
			return i
		}
	}
	return -1
}

// NearestChannel returns the spectral plane closest to freq, or 0 when no
// spectral axis is defined.
func (cs CoordinateSystem) NearestChannel(freq float64) int {
	best := 0
	bestDiff := math.Inf(1)
	for i, f := range cs.Spectral.Frequencies {
		if d := math.Abs(f - freq); d < bestDiff {
			best, bestDiff = i, d
		}
	}
	return best
}

// NewSkyCoordinates builds a standard image coordinate system centred on
// ref with square pixels of cell radians. RA increases to the left, so the
// x increment is negative.
func NewSkyCoordinates(ref Direction, nx, ny int, cell float64, freqs []float64, stokes []Stokes) CoordinateSystem {
	return CoordinateSystem{
		Direction: &DirectionCoordinate{
			RefValue:  ref,
			RefPixel:  [2]float64{float64(nx / 2), float64(ny / 2)},
			Increment: [2]float64{-cell, cell},
		},
		Spectral: SpectralCoordinate{Frequencies: append([]float64(nil), freqs...)},
		Stokes:   append([]Stokes(nil), stokes...),
	}
}

// Image pairs a lattice with its coordinate system.
type Image[T Element] struct {
	Lattice *Lattice[T]
	Coords  CoordinateSystem
}

// NewImage allocates a zeroed image.
func NewImage[T Element](shape Shape, coords CoordinateSystem) *Image[T] {
	return &Image[T]{Lattice: New[T](shape), Coords: coords}
}

// Shape returns the image lattice shape.
func (im *Image[T]) Shape() Shape { return im.Lattice.Shape() }

// ResizeLike reshapes im to the template's shape and coordinates, zeroing it.
func ResizeLike[T, U Element](im *Image[T], template *Image[U]) {
	im.Lattice = New[T](template.Shape())
	im.Coords = template.Coords.Clone()
}

// Validate checks the image has a shape consistent with its coordinates.
func (im *Image[T]) Validate() error {
	if im == nil || im.Lattice == nil {
		return errors.New("image has no lattice")
	}
	s := im.Shape()
	if n := len(im.Coords.Stokes); n != 0 && n != s.NPol {
		return fmt.Errorf("image has %d polarisation planes but %d stokes labels", s.NPol, n)
	}
	if n := len(im.Coords.Spectral.Frequencies); n != 0 && n != s.NChan {
		return fmt.Errorf("image has %d channels but %d frequencies", s.NChan, n)
	}
	return nil
}
