package sensitivity

import (
	"math"
	"math/cmplx"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gonum.org/v1/gonum/mat"

	"github.com/banshee-data/awimager/internal/lattice"
)

// gaussianWeights fills every plane with a centred Gaussian whose
// amplitude differs per plane.
func gaussianWeights(shape lattice.Shape) *lattice.Lattice[complex128] {
	wt := lattice.New[complex128](shape)
	cx, cy := shape.NX/2, shape.NY/2
	for ch := 0; ch < shape.NChan; ch++ {
		for pol := 0; pol < shape.NPol; pol++ {
			amp := float64(1 + pol + 2*ch)
			for y := 0; y < shape.NY; y++ {
				for x := 0; x < shape.NX; x++ {
					dx, dy := float64(x-cx), float64(y-cy)
					wt.SetAt(x, y, pol, ch, complex(amp*math.Exp(-0.5*(dx*dx+dy*dy)/4), 0))
				}
			}
		}
	}
	return wt
}

func planePeak(plane []complex128) (float64, int) {
	peak, at := 0.0, -1
	for i, v := range plane {
		if a := cmplx.Abs(v); a > peak {
			peak, at = a, i
		}
	}
	return peak, at
}

func testCoords(shape lattice.Shape) lattice.CoordinateSystem {
	stokes := []lattice.Stokes{lattice.StokesRR, lattice.StokesLL}[:shape.NPol]
	freqs := []float64{1.4e9, 1.5e9}[:shape.NChan]
	return lattice.NewSkyCoordinates(lattice.Direction{}, shape.NX, shape.NY, 1e-5, freqs, stokes)
}

// ---------------------------------------------------------------------------
// FTWeightImage
// ---------------------------------------------------------------------------

func TestFTWeightImageNormalisesEachPlaneToUnitPeak(t *testing.T) {
	t.Parallel()
	shape := lattice.Shape{NX: 16, NY: 16, NPol: 2, NChan: 2}
	wt := gaussianWeights(shape)
	a := NewAccumulator()

	require.NoError(t, a.FTWeightImage(wt, mat.NewDense(2, 2, nil), true))
	assert.True(t, a.Done())

	for ch := 0; ch < 2; ch++ {
		for pol := 0; pol < 2; pol++ {
			peak, at := planePeak(wt.Plane(pol, ch))
			assert.InDelta(t, 1.0, peak, 1e-12, "pol=%d chan=%d", pol, ch)
			assert.Equal(t, wt.Index(8, 8, 0, 0), at, "peak should sit at the centre")
		}
	}
	peaks := a.PBPeaks()
	require.Len(t, peaks, 2)
	assert.Greater(t, peaks[1], peaks[0])
}

func TestFTWeightImageRejectsBadSumWeight(t *testing.T) {
	t.Parallel()
	shape := lattice.Shape{NX: 8, NY: 8, NPol: 2, NChan: 2}

	tests := []struct {
		name string
		sw   *mat.Dense
	}{
		{"nil", nil},
		{"too few pols", mat.NewDense(1, 2, nil)},
		{"too few chans", mat.NewDense(2, 1, nil)},
	}
	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			a := NewAccumulator()
			err := a.FTWeightImage(gaussianWeights(shape), tt.sw, true)
			assert.ErrorIs(t, err, ErrSumWeightShape)
			assert.False(t, a.Done())
		})
	}
}

func TestFTWeightImageIsIdempotent(t *testing.T) {
	t.Parallel()
	shape := lattice.Shape{NX: 8, NY: 8, NPol: 1, NChan: 1}
	wt := gaussianWeights(shape)
	a := NewAccumulator()
	sw := mat.NewDense(1, 1, nil)

	require.NoError(t, a.FTWeightImage(wt, sw, true))
	first := wt.Values()
	require.NoError(t, a.FTWeightImage(wt, sw, true))
	assert.Equal(t, first, wt.Values())

	a.Reset()
	assert.False(t, a.Done())
	assert.Empty(t, a.PBPeaks())
}

func TestFTWeightImageFFTNormalisation(t *testing.T) {
	t.Parallel()
	shape := lattice.Shape{NX: 16, NY: 16, NPol: 1, NChan: 1}

	for _, norm := range []bool{true, false} {
		wt := lattice.New[complex128](shape)
		wt.SetAt(8, 8, 0, 0, 1)
		a := NewAccumulator()
		require.NoError(t, a.FTWeightImage(wt, mat.NewDense(1, 1, nil), norm))

		want := 1.0
		if norm {
			want = 1.0 / 256
		}
		assert.InDelta(t, want, a.PBPeaks()[0], 1e-12)
		// A centred delta transforms to a flat plane.
		for _, v := range wt.Values() {
			assert.InDelta(t, 1.0, cmplx.Abs(v), 1e-12)
		}
	}
}

func TestFTWeightImageLeavesEmptyPlane(t *testing.T) {
	t.Parallel()
	shape := lattice.Shape{NX: 8, NY: 8, NPol: 2, NChan: 1}
	wt := lattice.New[complex128](shape)
	wt.SetAt(4, 4, 0, 0, 1)
	a := NewAccumulator()

	require.NoError(t, a.FTWeightImage(wt, mat.NewDense(2, 1, nil), true))
	for _, v := range wt.Plane(1, 0) {
		assert.Equal(t, complex128(0), v)
	}
	assert.Zero(t, a.PBPeaks()[1])
}

// ---------------------------------------------------------------------------
// Sensitivity images
// ---------------------------------------------------------------------------

func TestMakeSensitivityImage(t *testing.T) {
	t.Parallel()
	shape := lattice.Shape{NX: 16, NY: 16, NPol: 2, NChan: 2}
	coords := testCoords(shape)
	wt := gaussianWeights(shape)
	a := NewAccumulator()
	out := &lattice.Image[float32]{}

	require.NoError(t, a.MakeSensitivityImage(wt, out, coords, mat.NewDense(2, 2, nil), true))
	assert.Equal(t, shape, out.Shape())
	require.NoError(t, out.Validate())
	assert.Equal(t, coords.Stokes, out.Coords.Stokes)

	for ch := 0; ch < 2; ch++ {
		assert.Equal(t, out.Lattice.Plane(0, ch), out.Lattice.Plane(1, ch), "every pol carries the same pattern")
		assert.InDelta(t, 1.0, out.Lattice.At(8, 8, 0, ch), 1e-6)
		for _, v := range out.Lattice.Plane(0, ch) {
			assert.LessOrEqual(t, v, float32(1+1e-6))
			assert.GreaterOrEqual(t, v, float32(0))
		}
	}
}

func TestMakeSensitivitySqImage(t *testing.T) {
	t.Parallel()
	shape := lattice.Shape{NX: 8, NY: 8, NPol: 2, NChan: 1}
	coords := testCoords(shape)
	wt := lattice.New[complex128](shape)
	wt.SetAt(4, 4, 0, 0, 2)
	wt.SetAt(4, 4, 1, 0, 5)
	a := NewAccumulator()
	sw := mat.NewDense(2, 1, nil)

	amp := &lattice.Image[float32]{}
	sq := &lattice.Image[complex64]{}
	require.NoError(t, a.MakeSensitivityImage(wt, amp, coords, sw, true))
	require.NoError(t, a.MakeSensitivitySqImage(wt, sq, coords, sw, true))

	assert.Equal(t, shape, sq.Shape())
	for pol := 0; pol < 2; pol++ {
		for _, v := range sq.Lattice.Plane(pol, 0) {
			assert.InDelta(t, 1.0, real(v), 1e-6)
			assert.InDelta(t, 0.0, imag(v), 1e-6)
		}
	}
}
