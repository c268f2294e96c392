package awproject

import (
	"fmt"

	"github.com/banshee-data/awimager/internal/fft"
	"github.com/banshee-data/awimager/internal/lattice"
	"github.com/banshee-data/awimager/internal/parangle"
	"github.com/banshee-data/awimager/internal/resample"
	"github.com/banshee-data/awimager/internal/vis"
)

// InitializeToVis prepares to predict visibilities from model. The model
// is divided by the sensitivity image where it exceeds PBLimit (zero
// elsewhere) and transformed to the uv-grid. Without a sensitivity image
// the model is used as is.
func (m *Machine) InitializeToVis(model *lattice.Image[float32]) error {
	if model == nil || model.Lattice == nil {
		return ErrNoImage
	}
	if err := model.Validate(); err != nil {
		return err
	}
	geom, err := resample.NewGeometry(model.Shape(), model.Coords)
	if err != nil {
		return fmt.Errorf("cannot degrid from model: %w", err)
	}
	s := model.Shape()
	if m.pb == NeedsWeightAccumulation {
		if err := m.loadCachedSensitivity(s); err != nil {
			return err
		}
	}
	var sens *lattice.Image[float32]
	if m.pb == SensitivityComputed && m.sensitivity.Shape() == s {
		sens = m.sensitivity
	} else {
		logf("no sensitivity image for %s; predicting from the uncorrected model", s)
	}

	grid := lattice.Convert[complex128](model.Lattice)
	plan := fft.NewPlan(s.NX, s.NY)
	for ch := 0; ch < s.NChan; ch++ {
		for pol := 0; pol < s.NPol; pol++ {
			var pb []float32
			if sens != nil {
				pb = sens.Lattice.Plane(pol, ch)
			}
			grid.BorrowPlane(pol, ch, func(plane []complex128) {
				if pb != nil {
					for i := range plane {
						if float64(pb[i]) > m.opts.PBLimit {
							plane[i] /= complex(float64(pb[i]), 0)
						} else {
							plane[i] = 0
						}
					}
				}
				plan.CenteredForward(plane)
			})
		}
	}

	m.image = model
	m.gridded = false
	m.geometry = geom
	m.griddedData = grid
	m.current = kernels{}
	m.detector.Reset()
	m.index = 0
	m.cycle = ToVisActive
	return nil
}

// Get predicts vb's model visibilities from the model grid.
func (m *Machine) Get(vb *vis.Buffer) error {
	req, rotated, err := m.degridRequest("Get", vb)
	if err != nil {
		return err
	}
	if err := m.resampler.DegridVisibilities(req, vb, m.griddedData); err != nil {
		return fmt.Errorf("failed to degrid buffer %d: %w", m.index, err)
	}
	m.emit(vb, req.ActualPA, rotated, false)
	return nil
}

// GetWithGradient predicts vb's model visibilities and returns their
// azimuth and elevation pointing derivatives, laid out like vb.Vis.
func (m *Machine) GetWithGradient(vb *vis.Buffer) (gazVis, gelVis []complex128, err error) {
	req, rotated, err := m.degridRequest("GetWithGradient", vb)
	if err != nil {
		return nil, nil, err
	}
	gazVis, gelVis, err = m.resampler.DegridVisibilitiesWithGradient(req, vb, m.griddedData, false)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to degrid buffer %d: %w", m.index, err)
	}
	m.emit(vb, req.ActualPA, rotated, false)
	return gazVis, gelVis, nil
}

func (m *Machine) degridRequest(op string, vb *vis.Buffer) (*resample.Request, bool, error) {
	if err := m.requireCycle(op, ToVisActive); err != nil {
		return nil, false, err
	}
	if err := vb.Validate(); err != nil {
		return nil, false, err
	}
	pa := parangle.GetVBPA(vb)
	rotated, err := m.refreshKernels(vb, pa, false)
	if err != nil {
		return nil, false, err
	}
	req, err := m.request(vb, m.current.cf, pa)
	return req, rotated, err
}

// FinalizeToVis ends the prediction cycle.
func (m *Machine) FinalizeToVis() error {
	if err := m.requireCycle("FinalizeToVis", ToVisActive); err != nil {
		return err
	}
	logf("predicted %d buffers", m.index)
	m.detector.Reset()
	m.current = kernels{}
	m.cycle = Finalized
	return nil
}
