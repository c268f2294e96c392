// Package sensitivity turns the gridded weight kernels into the average
// primary beam (sensitivity) image used to normalise the dirty image.
package sensitivity

import (
	"errors"
	"fmt"
	"math/cmplx"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/mat"

	"github.com/banshee-data/awimager/internal/fft"
	"github.com/banshee-data/awimager/internal/lattice"
	"github.com/banshee-data/awimager/internal/monitoring"
)

// ErrSumWeightShape is returned when the sum of weights does not have one
// entry per (polarisation, channel) of the weight lattice.
var ErrSumWeightShape = errors.New("sum of weights per poln and chan is required")

var logf = monitoring.Component("GriddedWeightAccumulator")

// Accumulator transforms the weight lattice once and derives sensitivity
// images from it. It is not safe for concurrent use.
type Accumulator struct {
	ftDone  bool
	pbPeaks []float64
}

// NewAccumulator returns an accumulator ready for a new weight lattice.
func NewAccumulator() *Accumulator {
	return &Accumulator{}
}

// Done reports whether the weight lattice has been transformed.
func (a *Accumulator) Done() bool { return a.ftDone }

// PBPeaks returns, per polarisation, the largest plane peak seen before
// normalisation.
func (a *Accumulator) PBPeaks() []float64 {
	return append([]float64(nil), a.pbPeaks...)
}

// Reset forgets the transform so a fresh weight lattice can be processed.
func (a *Accumulator) Reset() {
	a.ftDone = false
	a.pbPeaks = nil
}

// FTWeightImage transforms wt in place to the image domain and scales each
// (pol, chan) plane so its peak magnitude is 1. Planes are normalised by
// their own peak, not by sumWeight: weight kernels are gridded once per PA
// step while data is gridded every buffer. A second call is a no-op.
func (a *Accumulator) FTWeightImage(wt *lattice.Lattice[complex128], sumWeight *mat.Dense, doFFTNorm bool) error {
	if a.ftDone {
		return nil
	}
	s := wt.Shape()
	if sumWeight == nil {
		return ErrSumWeightShape
	}
	if r, c := sumWeight.Dims(); r != s.NPol || c != s.NChan {
		return fmt.Errorf("%w: got %dx%d for %d pols and %d chans", ErrSumWeightShape, r, c, s.NPol, s.NChan)
	}

	plan := fft.NewPlan(s.NX, s.NY)
	unnorm := complex(float64(s.NX*s.NY), 0)
	a.pbPeaks = make([]float64, s.NPol)
	amp := make([]float64, s.PlaneLen())
	for ch := 0; ch < s.NChan; ch++ {
		for pol := 0; pol < s.NPol; pol++ {
			wt.BorrowPlane(pol, ch, func(plane []complex128) {
				plan.CenteredInverse(plane)
				if !doFFTNorm {
					for i := range plane {
						plane[i] *= unnorm
					}
				}
				amplitude(amp, plane)
				peak := floats.Max(amp)
				a.pbPeaks[pol] = max(a.pbPeaks[pol], peak)
				if peak == 0 {
					logf("weight plane pol=%d chan=%d is empty; left unnormalised", pol, ch)
					return
				}
				scale := complex(1/peak, 0)
				for i := range plane {
					plane[i] *= scale
				}
			})
		}
	}
	a.ftDone = true
	logf("weight image transformed %s, peaks %v", s, a.pbPeaks)
	return nil
}

// MakeSensitivityImage transforms wt if needed and writes the
// Stokes-I-like sensitivity pattern into out, resized to wt's shape with
// coords. The pattern is the mean amplitude of the first and last
// polarisation planes, copied to every polarisation.
func (a *Accumulator) MakeSensitivityImage(wt *lattice.Lattice[complex128], out *lattice.Image[float32], coords lattice.CoordinateSystem, sumWeight *mat.Dense, doFFTNorm bool) error {
	if err := a.FTWeightImage(wt, sumWeight, doFFTNorm); err != nil {
		return err
	}
	s := wt.Shape()
	out.Lattice = lattice.New[float32](s)
	out.Coords = coords.Clone()

	n := s.PlaneLen()
	first, last, mean := make([]float64, n), make([]float64, n), make([]float64, n)
	pattern := make([]float32, n)
	for ch := 0; ch < s.NChan; ch++ {
		amplitude(first, wt.Plane(0, ch))
		amplitude(last, wt.Plane(s.NPol-1, ch))
		floats.AddTo(mean, first, last)
		floats.Scale(0.5, mean)
		for i, v := range mean {
			pattern[i] = float32(v)
		}
		for pol := 0; pol < s.NPol; pol++ {
			if err := out.Lattice.PutPlane(pol, ch, pattern); err != nil {
				return err
			}
		}
	}
	return nil
}

// MakeSensitivitySqImage writes the complex product of the first and last
// polarisation planes of the transformed weights into out, for every
// polarisation. It shares the transform with MakeSensitivityImage.
func (a *Accumulator) MakeSensitivitySqImage(wt *lattice.Lattice[complex128], out *lattice.Image[complex64], coords lattice.CoordinateSystem, sumWeight *mat.Dense, doFFTNorm bool) error {
	if err := a.FTWeightImage(wt, sumWeight, doFFTNorm); err != nil {
		return err
	}
	s := wt.Shape()
	out.Lattice = lattice.New[complex64](s)
	out.Coords = coords.Clone()

	product := make([]complex64, s.PlaneLen())
	for ch := 0; ch < s.NChan; ch++ {
		first := wt.Plane(0, ch)
		last := wt.Plane(s.NPol-1, ch)
		for i := range product {
			product[i] = complex64(first[i] * last[i])
		}
		for pol := 0; pol < s.NPol; pol++ {
			if err := out.Lattice.PutPlane(pol, ch, product); err != nil {
				return err
			}
		}
	}
	return nil
}

func amplitude(dst []float64, plane []complex128) {
	for i, v := range plane {
		dst[i] = cmplx.Abs(v)
	}
}
