package main

import (
	"fmt"
	"math"

	"github.com/banshee-data/awimager/internal/lattice"
	"github.com/banshee-data/awimager/internal/units"
	"github.com/banshee-data/awimager/internal/vis"
)

const defaultFreq = 1.4e9

var defaultPhaseCentre = lattice.Direction{RA: 3.0, Dec: 0.6}

// simulation describes a synthetic observation of a point source at the
// phase centre by an array laid out on a golden-angle spiral.
type simulation struct {
	Antennas  int
	Buffers   int
	PAStepDeg float64
	Flux      float64
	Freq      float64
	Phase     lattice.Direction
}

// antennaXY returns the east and north position of antenna i, metres.
func antennaXY(i int) (x, y float64) {
	const goldenAngle = 2.399963229728653
	r := 40 * math.Sqrt(float64(i+1))
	theta := float64(i) * goldenAngle
	return r * math.Cos(theta), r * math.Sin(theta)
}

func (s simulation) buffers() ([]*vis.Buffer, error) {
	if s.Antennas < 2 {
		return nil, fmt.Errorf("at least two antennas are required, got %d", s.Antennas)
	}
	if s.Buffers < 1 {
		return nil, fmt.Errorf("at least one buffer is required, got %d", s.Buffers)
	}
	if s.Freq <= 0 {
		return nil, fmt.Errorf("frequency must be positive, got %g", s.Freq)
	}

	sinDec := math.Sin(s.Phase.Dec)
	out := make([]*vis.Buffer, s.Buffers)
	for k := range out {
		// One buffer per minute, starting at transit minus half the run.
		ha := units.DegToRad(0.25 * float64(k-s.Buffers/2))
		pa := units.DegToRad(float64(k) * s.PAStepDeg)
		cosH, sinH := math.Cos(ha), math.Sin(ha)

		vb := &vis.Buffer{
			Frequencies:  []float64{s.Freq},
			Correlations: []lattice.Stokes{lattice.StokesRR, lattice.StokesLL},
			PhaseCenter:  s.Phase,
			FeedPA:       make([]float64, s.Antennas),
		}
		for a := range vb.FeedPA {
			vb.FeedPA[a] = pa
		}
		for a1 := 0; a1 < s.Antennas; a1++ {
			x1, y1 := antennaXY(a1)
			for a2 := a1 + 1; a2 < s.Antennas; a2++ {
				x2, y2 := antennaXY(a2)
				bx, by := x2-x1, y2-y1
				vb.Rows = append(vb.Rows, vis.Row{
					Antenna1: a1,
					Antenna2: a2,
					UVW:      [3]float64{bx*cosH - by*sinH, (bx*sinH + by*cosH) * sinDec, 0},
					Time:     60 * float64(k),
					Weight:   1,
					Sigma:    1,
				})
			}
		}
		vb.Vis = make([]complex128, len(vb.Rows)*vb.NumCorr())
		for i := range vb.Vis {
			vb.Vis[i] = complex(s.Flux, 0)
		}
		if err := vb.Validate(); err != nil {
			return nil, fmt.Errorf("buffer %d: %w", k, err)
		}
		out[k] = vb
	}
	return out, nil
}
