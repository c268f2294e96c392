package skyequation

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/banshee-data/awimager/internal/awproject"
	"github.com/banshee-data/awimager/internal/cfrotate"
	"github.com/banshee-data/awimager/internal/cfstore"
	"github.com/banshee-data/awimager/internal/lattice"
	"github.com/banshee-data/awimager/internal/resample"
	"github.com/banshee-data/awimager/internal/testutil"
	"github.com/banshee-data/awimager/internal/vis"
)

const testFreq = 1.4e9

var phaseCentre = lattice.Direction{RA: 2.0, Dec: -0.3}

// setup wires a machine to an on-disk cache holding a delta kernel and
// returns a sky equation over buffers.
func setup(t *testing.T, buffers ...*vis.Buffer) (*SkyEquation, *awproject.Machine, *cfstore.Cache) {
	t.Helper()
	dir := t.TempDir()
	cache, err := cfstore.Open(filepath.Join(dir, "cf"), cfstore.Options{})
	require.NoError(t, err)
	t.Cleanup(func() { cache.Close() })
	_, err = cache.Store(0, 0, testutil.DeltaCF(testFreq), testutil.DeltaCF(testFreq))
	require.NoError(t, err)

	m := awproject.New(awproject.Options{
		DeltaPADeg:             1,
		RotationPAToleranceDeg: 0.1,
		Interpolation:          cfrotate.Linear,
		PBLimit:                0.05,
	}, cache, resample.NewConvolutional())
	return New(m, vis.NewSliceIterator(buffers...), true), m, cache
}

func buffer(amp complex128) *vis.Buffer {
	vb := &vis.Buffer{
		Rows: []vis.Row{
			{Antenna1: 0, Antenna2: 1, Weight: 1, Time: 10},
			{Antenna1: 0, Antenna2: 2, Weight: 1, Time: 10},
		},
		Frequencies:  []float64{testFreq},
		Correlations: []lattice.Stokes{lattice.StokesRR, lattice.StokesLL},
		PhaseCenter:  phaseCentre,
		FeedPA:       []float64{0, 0, 0},
	}
	vb.Vis = []complex128{amp, amp, amp, amp}
	return vb
}

func template() *lattice.Image[float32] {
	return testutil.SkyImage(phaseCentre, 8, 20, testFreq)
}

// ---------------------------------------------------------------------------
// MakeImage
// ---------------------------------------------------------------------------

func TestMakeImageColumns(t *testing.T) {
	t.Parallel()
	vb := buffer(2)
	vb.ModelVis = []complex128{3, 3, 3, 3}
	se, m, _ := setup(t, vb, buffer(2))

	psf, sumWt, err := se.MakeImage(PSF, template())
	require.NoError(t, err)
	testutil.AssertFlat(t, psf, 1, 1e-5)
	assert.Equal(t, 8.0, sumWt.At(0, 0))
	assert.Equal(t, awproject.SensitivityComputed, m.PB())

	dirty, _, err := se.MakeImage(Observed, template())
	require.NoError(t, err)
	testutil.AssertFlat(t, dirty, 2, 1e-5)

	// The second buffer has no model, so it contributes zeros.
	model, _, err := se.MakeImage(Model, template())
	require.NoError(t, err)
	testutil.AssertFlat(t, model, 1.5, 1e-5)

	// Uncalibrated buffers fall back to the observed data.
	corrected, _, err := se.MakeImage(Corrected, template())
	require.NoError(t, err)
	testutil.AssertFlat(t, corrected, 2, 1e-5)

	assert.Equal(t, 4, se.Cycles())
	assert.Equal(t, 1, m.Stats().SensitivityComputes)
}

func TestMakeImageUsesCorrectedData(t *testing.T) {
	t.Parallel()
	vb := buffer(2)
	vb.CorrectedVis = []complex128{5, 5, 5, 5}
	se, _, _ := setup(t, vb)

	img, _, err := se.MakeImage(Corrected, template())
	require.NoError(t, err)
	testutil.AssertFlat(t, img, 5, 1e-5)
}

func TestMakeImageDoesNotTouchTemplate(t *testing.T) {
	t.Parallel()
	se, _, _ := setup(t, buffer(2))
	tmpl := template()
	_, _, err := se.MakeImage(Observed, tmpl)
	require.NoError(t, err)
	assert.True(t, tmpl.Lattice.IsZero())
}

func TestMakeImageErrors(t *testing.T) {
	t.Parallel()
	se, _, _ := setup(t)
	_, _, err := se.MakeImage(Observed, template())
	assert.Error(t, err, "no buffers")

	_, _, err = se.MakeImage(Observed, nil)
	assert.ErrorIs(t, err, awproject.ErrNoImage)
}

func TestMakeImageUnsupportedColumnPanics(t *testing.T) {
	t.Parallel()
	se, _, _ := setup(t, buffer(1))
	assert.Panics(t, func() {
		_, _, _ = se.MakeImage(PredefinedColumn(42), template())
	})
}

func TestSensitivityPersistsAcrossRuns(t *testing.T) {
	t.Parallel()
	se, _, cache := setup(t, buffer(2))
	_, _, err := se.MakeImage(PSF, template())
	require.NoError(t, err)

	img, status, err := cache.LoadAvgPB("")
	require.NoError(t, err)
	assert.Equal(t, cfstore.Found, status)
	assert.Equal(t, template().Shape(), img.Shape())
}

// ---------------------------------------------------------------------------
// Predict
// ---------------------------------------------------------------------------

func TestPredictSumsModelsAndSkipsEmpty(t *testing.T) {
	t.Parallel()
	a, b := buffer(0), buffer(0)
	a.ModelVis = []complex128{9, 9, 9, 9}
	se, _, _ := setup(t, a, b)

	m1 := template()
	m1.Lattice.SetAt(4, 4, 0, 0, 1)
	m2 := template()
	m2.Lattice.SetAt(4, 4, 0, 0, 2)

	require.NoError(t, se.Predict([]*lattice.Image[float32]{m1, template(), nil, m2}))
	for _, vb := range []*vis.Buffer{a, b} {
		for i := range vb.Vis {
			assert.InDelta(t, 3.0, real(vb.ModelVis[i]), 1e-9)
		}
	}
}

func TestPredictOnlyEmptyModelsClearsModel(t *testing.T) {
	t.Parallel()
	a := buffer(0)
	a.ModelVis = []complex128{9, 9, 9, 9}
	se, _, _ := setup(t, a)

	require.NoError(t, se.Predict([]*lattice.Image[float32]{template()}))
	for _, v := range a.ModelVis {
		assert.Equal(t, complex128(0), v)
	}
}

// ---------------------------------------------------------------------------
// ApproximatePSF
// ---------------------------------------------------------------------------

func TestApproximatePSF(t *testing.T) {
	t.Parallel()
	psf := template()
	psf.Lattice.SetAt(4, 4, 0, 0, 4)
	psf.Lattice.SetAt(3, 4, 0, 0, 2)
	psf.Lattice.SetAt(0, 0, 0, 0, -1)

	peak, err := ApproximatePSF(psf)
	require.NoError(t, err)
	assert.Equal(t, float32(4), peak)
	assert.Equal(t, float32(1), psf.Lattice.At(4, 4, 0, 0))
	assert.Equal(t, float32(0.5), psf.Lattice.At(3, 4, 0, 0))
	assert.Equal(t, float32(-0.25), psf.Lattice.At(0, 0, 0, 0))
}

func TestApproximatePSFDegenerate(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name string
		fill float32
	}{
		{"zero", 0},
		{"negative", -2},
	}
	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			psf := template()
			psf.Lattice.Set(tt.fill)
			_, err := ApproximatePSF(psf)
			assert.ErrorIs(t, err, ErrDegeneratePSF)
		})
	}
	_, err := ApproximatePSF(nil)
	assert.ErrorIs(t, err, awproject.ErrNoImage)
}

func TestColumnString(t *testing.T) {
	t.Parallel()
	assert.Equal(t, "PSF", PSF.String())
	assert.Equal(t, "PredefinedColumn(7)", PredefinedColumn(7).String())
}
