package testutil

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/banshee-data/awimager/internal/lattice"
)

func TestDeltaCFIsValid(t *testing.T) {
	t.Parallel()
	cf := DeltaCF(1.4e9)
	require.NoError(t, cf.Validate())
	assert.Equal(t, complex128(1), cf.Data.At(1, 1, 0, 0))
	assert.Equal(t, 1, cf.MaxSupport())
	assert.True(t, cf.CompatibleWith(DeltaCF(1e9)))
}

func TestSkyImage(t *testing.T) {
	t.Parallel()
	img := SkyImage(lattice.Direction{RA: 1}, 16, 10, 1.4e9)
	require.NoError(t, img.Validate())
	assert.Equal(t, lattice.Shape{NX: 16, NY: 16, NPol: 1, NChan: 1}, img.Shape())
	assert.True(t, img.Lattice.IsZero())
	dir, err := img.Coords.RequireDirection()
	require.NoError(t, err)
	assert.Equal(t, [2]float64{8, 8}, dir.RefPixel)
}

func TestAssertFlat(t *testing.T) {
	t.Parallel()
	img := SkyImage(lattice.Direction{}, 4, 1, 1e9)
	img.Lattice.Set(2)
	AssertFlat(t, img, 2, 1e-6)

	img.Lattice.SetAt(3, 1, 0, 0, 2.5)
	mock := &recordingTB{TB: t}
	AssertFlat(mock, img, 2, 1e-6)
	assert.Equal(t, 1, mock.errors)
}

// recordingTB counts failures instead of reporting them.
type recordingTB struct {
	testing.TB
	errors int
}

func (r *recordingTB) Helper() {}
func (r *recordingTB) Errorf(string, ...any) { r.errors++ }
func (r *recordingTB) Fatal(...any) { r.errors++ }
