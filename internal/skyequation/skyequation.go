// Package skyequation drives a gridder over a visibility iterator: it
// makes dirty and PSF images and predicts model visibilities.
package skyequation

import (
	"errors"
	"fmt"

	"gonum.org/v1/gonum/mat"

	"github.com/banshee-data/awimager/internal/awproject"
	"github.com/banshee-data/awimager/internal/lattice"
	"github.com/banshee-data/awimager/internal/monitoring"
	"github.com/banshee-data/awimager/internal/vis"
)

var logf = monitoring.Component("SkyEquation")

// ErrDegeneratePSF is returned when a PSF has no positive peak to
// normalise by.
var ErrDegeneratePSF = errors.New("PSF peak is not positive")

// PredefinedColumn selects the visibilities that are gridded.
type PredefinedColumn int

// Visibility columns
const (
	Observed PredefinedColumn = iota
	Model
	Corrected
	PSF
)

func (c PredefinedColumn) String() string {
	switch c {
	case Observed:
		return "OBSERVED"
	case Model:
		return "MODEL"
	case Corrected:
		return "CORRECTED"
	case PSF:
		return "PSF"
	default:
		return fmt.Sprintf("PredefinedColumn(%d)", int(c))
	}
}

// Gridder is the FT machine driven by the sky equation. *awproject.Machine
// implements it.
type Gridder interface {
	InitializeToSky(image *lattice.Image[float32], sumWeight *mat.Dense, vb *vis.Buffer) error
	Put(vb *vis.Buffer, doPSF bool) error
	FinalizeToSky() error
	GetImage(doFFTNorm bool) (*lattice.Image[float32], *mat.Dense, error)
	InitializeToVis(model *lattice.Image[float32]) error
	Get(vb *vis.Buffer) error
	FinalizeToVis() error
	PB() awproject.PBState
}

// SkyEquation pairs a gridder with the buffers it consumes.
type SkyEquation struct {
	ft        Gridder
	it        vis.Iterator
	doFFTNorm bool
	cycles    int
}

// New returns a sky equation over it.
func New(ft Gridder, it vis.Iterator, doFFTNorm bool) *SkyEquation {
	return &SkyEquation{ft: ft, it: it, doFFTNorm: doFFTNorm}
}

// Cycles returns the number of completed gridding cycles.
func (se *SkyEquation) Cycles() int { return se.cycles }

// MakeImage grids column from every buffer onto a fresh image shaped like
// template and returns the normalised image with its sum of weights.
// Passing a column outside the defined set is a programming error.
func (se *SkyEquation) MakeImage(column PredefinedColumn, template *lattice.Image[float32]) (*lattice.Image[float32], *mat.Dense, error) {
	if template == nil || template.Lattice == nil {
		return nil, nil, awproject.ErrNoImage
	}
	img := lattice.NewImage[float32](template.Shape(), template.Coords.Clone())

	se.it.Reset()
	first, ok := se.it.Next()
	if !ok {
		return nil, nil, errors.New("no visibility buffers to image")
	}
	if err := se.ft.InitializeToSky(img, nil, first); err != nil {
		return nil, nil, err
	}
	if se.cycles == 0 && se.ft.PB() == awproject.NeedsWeightAccumulation {
		logf("first imaging cycle: computing the sensitivity image from scratch, expect it to take longer")
	}

	var putErr error
	for vb := first; ok; vb, ok = se.it.Next() {
		if putErr = se.put(column, vb); putErr != nil {
			break
		}
	}
	if err := se.ft.FinalizeToSky(); err != nil || putErr != nil {
		return nil, nil, errors.Join(putErr, err)
	}
	out, sumWt, err := se.ft.GetImage(se.doFFTNorm)
	if err != nil {
		return nil, nil, err
	}
	se.cycles++
	logf("made %s image %s", column, out.Shape())
	return out, sumWt, nil
}

func (se *SkyEquation) put(column PredefinedColumn, vb *vis.Buffer) error {
	switch column {
	case Observed:
		return se.ft.Put(vb, false)
	case Model:
		if vb.ModelVis == nil {
			return se.ft.Put(vb.WithVis(make([]complex128, len(vb.Vis))), false)
		}
		return se.ft.Put(vb.WithVis(vb.ModelVis), false)
	case Corrected:
		if vb.CorrectedVis == nil {
			return se.ft.Put(vb, false)
		}
		return se.ft.Put(vb.WithVis(vb.CorrectedVis), false)
	case PSF:
		return se.ft.Put(vb, true)
	default:
		panic(fmt.Sprintf("skyequation: unreachable column %s", column))
	}
}

// Predict replaces every buffer's model visibilities with the sum of the
// predictions of models. Nil or all-zero models are skipped with a
// warning.
func (se *SkyEquation) Predict(models []*lattice.Image[float32]) error {
	se.it.Reset()
	for vb, ok := se.it.Next(); ok; vb, ok = se.it.Next() {
		vb.ClearModelVis()
	}

	for i, model := range models {
		if model == nil || model.Lattice == nil || model.Lattice.IsZero() {
			logf("model %d is empty; skipped", i)
			continue
		}
		if err := se.ft.InitializeToVis(model); err != nil {
			return fmt.Errorf("model %d: %w", i, err)
		}
		se.it.Reset()
		for vb, ok := se.it.Next(); ok; vb, ok = se.it.Next() {
			prev := append([]complex128(nil), vb.ModelVis...)
			vb.ClearModelVis()
			if err := se.ft.Get(vb); err != nil {
				return fmt.Errorf("model %d: %w", i, errors.Join(err, se.ft.FinalizeToVis()))
			}
			for j := range prev {
				vb.ModelVis[j] += prev[j]
			}
		}
		if err := se.ft.FinalizeToVis(); err != nil {
			return err
		}
	}
	return nil
}

// ApproximatePSF scales psf in place so its peak is 1 and returns the
// original peak.
func ApproximatePSF(psf *lattice.Image[float32]) (float32, error) {
	if psf == nil || psf.Lattice == nil {
		return 0, awproject.ErrNoImage
	}
	var peak float32
	psf.Lattice.Borrow(func(data []float32) {
		for i, v := range data {
			if i == 0 || v > peak {
				peak = v
			}
		}
	})
	if peak <= 0 {
		return peak, fmt.Errorf("%w: %g", ErrDegeneratePSF, peak)
	}
	psf.Lattice.Borrow(func(data []float32) {
		for i := range data {
			data[i] /= peak
		}
	})
	return peak, nil
}
