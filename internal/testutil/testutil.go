// Package testutil provides shared test utilities and fixtures.
//
// This package centralises the kernels and images that the gridder tests
// build over and over.
package testutil

import (
	"testing"

	"github.com/banshee-data/awimager/internal/cfstore"
	"github.com/banshee-data/awimager/internal/lattice"
	"github.com/banshee-data/awimager/internal/units"
)

// DeltaCF returns a 3x3 single-channel Stokes I kernel with a unit origin,
// computed at PA 0 for freq.
func DeltaCF(freq float64) *cfstore.CFStore {
	data := lattice.New[complex128](lattice.Shape{NX: 3, NY: 3, NPol: 1, NChan: 1})
	data.SetAt(1, 1, 0, 0, 1)
	return &cfstore.CFStore{
		Data:     data,
		Coords:   lattice.NewSkyCoordinates(lattice.Direction{}, 3, 3, 1e-5, []float64{freq}, []lattice.Stokes{lattice.StokesI}),
		XSupport: []int{1},
		YSupport: []int{1},
		Sampling: 1,
	}
}

// SkyImage returns a zeroed n x n Stokes I image with one channel at freq
// and square cells of cellArcsec, centred on ref.
func SkyImage(ref lattice.Direction, n int, cellArcsec, freq float64) *lattice.Image[float32] {
	shape := lattice.Shape{NX: n, NY: n, NPol: 1, NChan: 1}
	coords := lattice.NewSkyCoordinates(ref, n, n, units.ArcsecToRad(cellArcsec), []float64{freq}, []lattice.Stokes{lattice.StokesI})
	return lattice.NewImage[float32](shape, coords)
}

// AssertFlat fails the test if any pixel of img differs from want by more
// than delta.
func AssertFlat(t testing.TB, img *lattice.Image[float32], want, delta float64) {
	t.Helper()
	if img == nil || img.Lattice == nil {
		t.Fatal("image is nil")
		return
	}
	s := img.Shape()
	for ch := 0; ch < s.NChan; ch++ {
		for pol := 0; pol < s.NPol; pol++ {
			for i, v := range img.Lattice.Plane(pol, ch) {
				if d := float64(v) - want; d > delta || d < -delta {
					t.Errorf("pixel (%d, %d) pol %d chan %d = %g, want %g", i%s.NX, i/s.NX, pol, ch, v, want)
					return
				}
			}
		}
	}
}
