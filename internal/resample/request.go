// Package resample moves visibilities between a buffer and the uv-grid by
// convolution with an oversampled kernel.
//
// Everything a call needs is carried in a Request built once per buffer:
// grid geometry, the kernel and its metadata, the channel and polarisation
// index maps, and pointing state. Implementations keep no state between
// calls beyond counters.
package resample

import (
	"errors"
	"fmt"

	"gonum.org/v1/gonum/mat"

	"github.com/banshee-data/awimager/internal/lattice"
	"github.com/banshee-data/awimager/internal/vis"
)

// Geometry describes the uv-grid.
type Geometry struct {
	NX, NY, NPol, NChan int
	UVScale             [2]float64 // grid pixels per wavelength along u and v
	UVOffset            [2]float64 // grid pixel of the uv origin
}

// NewGeometry derives the uv-grid geometry of an image: the grid spans the
// inverse of the image field of view and the uv origin sits at (nx/2, ny/2).
func NewGeometry(shape lattice.Shape, coords lattice.CoordinateSystem) (Geometry, error) {
	dir, err := coords.RequireDirection()
	if err != nil {
		return Geometry{}, err
	}
	return Geometry{
		NX: shape.NX, NY: shape.NY, NPol: shape.NPol, NChan: shape.NChan,
		UVScale:  [2]float64{float64(shape.NX) * dir.Increment[0], float64(shape.NY) * dir.Increment[1]},
		UVOffset: [2]float64{float64(shape.NX / 2), float64(shape.NY / 2)},
	}, nil
}

// Shape returns the grid lattice shape.
func (g Geometry) Shape() lattice.Shape {
	return lattice.Shape{NX: g.NX, NY: g.NY, NPol: g.NPol, NChan: g.NChan}
}

// Kernel is an oversampled convolution function [size, size, pol, chan]
// whose origin is pixel size/2.
type Kernel struct {
	Data     *lattice.Lattice[complex128]
	Support  []int // half-width per kernel channel, grid pixels
	Sampling int
}

// Size returns the kernel edge length in oversampled pixels.
func (k Kernel) Size() int { return k.Data.Shape().NX }

// Pointing holds per-antenna pointing offsets in radians.
type Pointing struct {
	L, M    []float64
	Correct bool
}

// Request is the full description of one resampling call.
type Request struct {
	Geometry Geometry
	Kernel   Kernel

	ChanMap    []int // buffer channel -> grid channel, -1 to skip
	CFChanMap  []int // buffer channel -> kernel channel; nil maps every channel to the nearest kernel plane
	PolMap     []int // buffer correlation -> grid polarisation, -1 to skip
	CFPolMap   []int // buffer correlation -> kernel plane for ant1 <= ant2
	ConjPolMap []int // buffer correlation -> kernel plane for ant1 > ant2

	DPhase   []float64 // per-row phase rotation, radians; nil for none
	Pointing Pointing

	CurrentCFPA float64 // PA the kernel was rotated to, radians
	ActualPA    float64 // PA of the buffer, radians

	DoPSF   bool // grid the weight in place of the visibility
	ZeroUVW bool // grid every sample at the uv origin
}

// Validate checks the request is self-consistent.
func (r *Request) Validate() error {
	g := r.Geometry
	if !g.Shape().Valid() {
		return fmt.Errorf("invalid grid geometry %s", g.Shape())
	}
	if r.Kernel.Data == nil {
		return errors.New("resampling request has no kernel")
	}
	if r.Kernel.Sampling < 1 {
		return fmt.Errorf("kernel sampling must be at least 1, got %d", r.Kernel.Sampling)
	}
	ks := r.Kernel.Data.Shape()
	if ks.NX != ks.NY {
		return fmt.Errorf("kernel must be square, got %dx%d", ks.NX, ks.NY)
	}
	if len(r.Kernel.Support) != ks.NChan {
		return fmt.Errorf("kernel has %d channels but %d support values", ks.NChan, len(r.Kernel.Support))
	}
	for c, s := range r.Kernel.Support {
		if s < 0 || 2*s*r.Kernel.Sampling+1 > ks.NX {
			return fmt.Errorf("kernel channel %d support %d does not fit a %d-pixel kernel", c, s, ks.NX)
		}
	}
	if len(r.CFPolMap) != len(r.PolMap) || len(r.ConjPolMap) != len(r.PolMap) {
		return fmt.Errorf("polarisation maps disagree in length: pol=%d cf=%d conj=%d",
			len(r.PolMap), len(r.CFPolMap), len(r.ConjPolMap))
	}
	for i := range r.PolMap {
		if r.PolMap[i] >= g.NPol {
			return fmt.Errorf("correlation %d maps to grid polarisation %d of %d", i, r.PolMap[i], g.NPol)
		}
		if r.CFPolMap[i] >= ks.NPol || r.ConjPolMap[i] >= ks.NPol {
			return fmt.Errorf("correlation %d maps outside the %d kernel planes", i, ks.NPol)
		}
	}
	for i, c := range r.ChanMap {
		if c >= g.NChan {
			return fmt.Errorf("channel %d maps to grid channel %d of %d", i, c, g.NChan)
		}
	}
	for i, c := range r.CFChanMap {
		if c < 0 || c >= ks.NChan {
			return fmt.Errorf("channel %d maps to kernel channel %d of %d", i, c, ks.NChan)
		}
	}
	return nil
}

// validateFor checks the request against a buffer.
func (r *Request) validateFor(vb *vis.Buffer) error {
	if err := r.Validate(); err != nil {
		return err
	}
	if err := vb.Validate(); err != nil {
		return err
	}
	if len(r.PolMap) != vb.NumCorr() {
		return fmt.Errorf("polarisation map has %d entries for %d correlations", len(r.PolMap), vb.NumCorr())
	}
	if len(r.ChanMap) != vb.NumChan() {
		return fmt.Errorf("channel map has %d entries for %d channels", len(r.ChanMap), vb.NumChan())
	}
	if r.CFChanMap != nil && len(r.CFChanMap) != vb.NumChan() {
		return fmt.Errorf("kernel channel map has %d entries for %d channels", len(r.CFChanMap), vb.NumChan())
	}
	if r.DPhase != nil && len(r.DPhase) != vb.NumRows() {
		return fmt.Errorf("phase rotation has %d entries for %d rows", len(r.DPhase), vb.NumRows())
	}
	if r.Pointing.Correct {
		n := vb.MaxAntenna()
		if len(r.Pointing.L) < n || len(r.Pointing.M) < n {
			return fmt.Errorf("pointing offsets cover %d/%d antennas, need %d", len(r.Pointing.L), len(r.Pointing.M), n)
		}
	}
	return nil
}

func (r *Request) checkGrid(grid *lattice.Lattice[complex128]) error {
	if grid == nil {
		return errors.New("nil grid")
	}
	if grid.Shape() != r.Geometry.Shape() {
		return fmt.Errorf("grid shape %s does not match geometry %s", grid.Shape(), r.Geometry.Shape())
	}
	return nil
}

func (r *Request) checkSumWeight(sumWeight *mat.Dense) error {
	if sumWeight == nil {
		return errors.New("nil sum of weights")
	}
	rows, cols := sumWeight.Dims()
	if rows != r.Geometry.NPol || cols != r.Geometry.NChan {
		return fmt.Errorf("sum of weights is %dx%d, want %dx%d", rows, cols, r.Geometry.NPol, r.Geometry.NChan)
	}
	return nil
}

// kernelChan resolves the kernel plane for a buffer channel.
func (r *Request) kernelChan(ch int) int {
	if r.CFChanMap != nil {
		return r.CFChanMap[ch]
	}
	return min(ch, r.Kernel.Data.Shape().NChan-1)
}
