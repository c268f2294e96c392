package resample

import (
	"math"
	"math/cmplx"

	"gonum.org/v1/gonum/mat"

	"github.com/banshee-data/awimager/internal/lattice"
	"github.com/banshee-data/awimager/internal/monitoring"
	"github.com/banshee-data/awimager/internal/units"
	"github.com/banshee-data/awimager/internal/vis"
)

// Resampler is the numeric kernel behind the gridder. Calls are
// synchronous and the caller owns grid and sumWeight exclusively for the
// duration of a call.
type Resampler interface {
	// GridVisibilities accumulates the buffer into grid and adds the
	// kernel-weighted weight of every gridded sample to sumWeight[pol, chan].
	GridVisibilities(req *Request, vb *vis.Buffer, grid *lattice.Lattice[complex128], sumWeight *mat.Dense) error

	// DegridVisibilities predicts the buffer's model visibilities from grid.
	DegridVisibilities(req *Request, vb *vis.Buffer, grid *lattice.Lattice[complex128]) error

	// DegridVisibilitiesWithGradient also returns the derivatives of the
	// model visibilities with respect to azimuth and elevation pointing
	// offsets, laid out like vb.Vis.
	DegridVisibilitiesWithGradient(req *Request, vb *vis.Buffer, grid *lattice.Lattice[complex128], doConjugate bool) (gazVis, gelVis []complex128, err error)

	// FinalizeToSky ends a gridding cycle.
	FinalizeToSky() error
}

// Stats counts samples handled since the last FinalizeToSky.
type Stats struct {
	Gridded   int
	Degridded int
	Flagged   int
	OffGrid   int
	Unmapped  int
}

// Convolutional is a pure-Go Resampler using nearest oversampled lookup.
type Convolutional struct {
	stats Stats
	logf  func(format string, v ...interface{})
}

// NewConvolutional returns a resampler.
func NewConvolutional() *Convolutional {
	return &Convolutional{logf: monitoring.Component("Resampler")}
}

// Stats returns the current counters.
func (c *Convolutional) Stats() Stats { return c.stats }

// FinalizeToSky logs and resets the counters.
func (c *Convolutional) FinalizeToSky() error {
	s := c.stats
	c.logf("gridded=%d degridded=%d flagged=%d offgrid=%d unmapped=%d",
		s.Gridded, s.Degridded, s.Flagged, s.OffGrid, s.Unmapped)
	c.stats = Stats{}
	return nil
}

// footprint locates a sample on the grid: the nearest grid pixel and the
// oversampled offset of the kernel relative to it.
type footprint struct {
	locX, locY int
	offX, offY int
}

func (r *Request) footprint(u, v float64, support int) (footprint, bool) {
	g := r.Geometry
	s := float64(r.Kernel.Sampling)
	posX := u*g.UVScale[0] + g.UVOffset[0]
	posY := v*g.UVScale[1] + g.UVOffset[1]
	fp := footprint{locX: int(math.Round(posX)), locY: int(math.Round(posY))}
	fp.offX = int(math.Round((float64(fp.locX) - posX) * s))
	fp.offY = int(math.Round((float64(fp.locY) - posY) * s))
	ok := fp.locX-support >= 0 && fp.locX+support < g.NX &&
		fp.locY-support >= 0 && fp.locY+support < g.NY
	return fp, ok
}

// kernelAt returns the kernel value at grid offset (ix, iy) from the
// footprint centre, zero outside the stored kernel.
func (r *Request) kernelAt(fp footprint, ix, iy, pol, ch int) complex128 {
	size := r.Kernel.Size()
	centre := size / 2
	kx := centre + ix*r.Kernel.Sampling + fp.offX
	ky := centre + iy*r.Kernel.Sampling + fp.offY
	if kx < 0 || ky < 0 || kx >= size || ky >= size {
		return 0
	}
	return r.Kernel.Data.At(kx, ky, pol, ch)
}

// uv returns the sample's (u, v) in wavelengths.
func (r *Request) uv(row vis.Row, freq float64) (float64, float64) {
	if r.ZeroUVW {
		return 0, 0
	}
	return units.Wavelengths(row.UVW[0], freq), units.Wavelengths(row.UVW[1], freq)
}

// phasor is the phase applied to a visibility before gridding; degridding
// applies its conjugate.
func (r *Request) phasor(rowIdx int, row vis.Row, u, v float64) complex128 {
	phase := 0.0
	if r.DPhase != nil {
		phase += r.DPhase[rowIdx]
	}
	if r.Pointing.Correct {
		l := 0.5 * (r.Pointing.L[row.Antenna1] + r.Pointing.L[row.Antenna2])
		m := 0.5 * (r.Pointing.M[row.Antenna1] + r.Pointing.M[row.Antenna2])
		phase += 2 * math.Pi * (u*l + v*m)
	}
	if phase == 0 {
		return 1
	}
	return cmplx.Rect(1, phase)
}

// sample describes one (row, corr, chan) visibility resolved against the
// request maps.
type sample struct {
	row, corr, ch   int
	gridPol, gridCh int
	kPol, kCh       int
	conj            bool
	u, v            float64
	fp              footprint
	support         int
}

// eachSample walks the unflagged, mapped, on-grid samples of vb.
func (c *Convolutional) eachSample(req *Request, vb *vis.Buffer, fn func(s sample)) {
	for ri, row := range vb.Rows {
		conj := row.Antenna1 > row.Antenna2
		for ch := 0; ch < vb.NumChan(); ch++ {
			gch := req.ChanMap[ch]
			kch := req.kernelChan(ch)
			u, v := req.uv(row, vb.Frequencies[ch])
			support := req.Kernel.Support[kch]
			fp, onGrid := req.footprint(u, v, support)
			for corr := 0; corr < vb.NumCorr(); corr++ {
				if vb.Flagged(ri, corr, ch) {
					c.stats.Flagged++
					continue
				}
				kpol := req.CFPolMap[corr]
				if conj {
					kpol = req.ConjPolMap[corr]
				}
				gpol := req.PolMap[corr]
				if gch < 0 || gpol < 0 || kpol < 0 {
					c.stats.Unmapped++
					continue
				}
				if !onGrid {
					c.stats.OffGrid++
					continue
				}
				fn(sample{
					row: ri, corr: corr, ch: ch,
					gridPol: gpol, gridCh: gch,
					kPol: kpol, kCh: kch,
					conj: conj, u: u, v: v,
					fp: fp, support: support,
				})
			}
		}
	}
}

// GridVisibilities implements Resampler.
func (c *Convolutional) GridVisibilities(req *Request, vb *vis.Buffer, grid *lattice.Lattice[complex128], sumWeight *mat.Dense) error {
	if err := req.validateFor(vb); err != nil {
		return err
	}
	if err := req.checkGrid(grid); err != nil {
		return err
	}
	if err := req.checkSumWeight(sumWeight); err != nil {
		return err
	}
	c.eachSample(req, vb, func(s sample) {
		row := vb.Rows[s.row]
		w := row.Weight
		var val complex128
		if req.DoPSF {
			val = complex(w, 0)
		} else {
			val = vb.VisAt(s.row, s.corr, s.ch) * complex(w, 0)
		}
		val *= req.phasor(s.row, row, s.u, s.v)

		var norm complex128
		for iy := -s.support; iy <= s.support; iy++ {
			for ix := -s.support; ix <= s.support; ix++ {
				k := req.kernelAt(s.fp, ix, iy, s.kPol, s.kCh)
				if s.conj {
					k = cmplx.Conj(k)
				}
				norm += k
				grid.AddAt(s.fp.locX+ix, s.fp.locY+iy, s.gridPol, s.gridCh, k*val)
			}
		}
		sumWeight.Set(s.gridPol, s.gridCh, sumWeight.At(s.gridPol, s.gridCh)+w*real(norm))
		c.stats.Gridded++
	})
	return nil
}

// degridSample interpolates grid at a sample's footprint, normalised by the
// kernel sum and with the gridding phase removed.
func (r *Request) degridSample(s sample, vb *vis.Buffer, grid *lattice.Lattice[complex128]) complex128 {
	var acc, norm complex128
	for iy := -s.support; iy <= s.support; iy++ {
		for ix := -s.support; ix <= s.support; ix++ {
			k := r.kernelAt(s.fp, ix, iy, s.kPol, s.kCh)
			if s.conj {
				k = cmplx.Conj(k)
			}
			norm += k
			acc += k * grid.At(s.fp.locX+ix, s.fp.locY+iy, s.gridPol, s.gridCh)
		}
	}
	if norm == 0 {
		return 0
	}
	return acc / norm * cmplx.Conj(r.phasor(s.row, vb.Rows[s.row], s.u, s.v))
}

// DegridVisibilities implements Resampler.
func (c *Convolutional) DegridVisibilities(req *Request, vb *vis.Buffer, grid *lattice.Lattice[complex128]) error {
	if err := req.validateFor(vb); err != nil {
		return err
	}
	if err := req.checkGrid(grid); err != nil {
		return err
	}
	c.eachSample(req, vb, func(s sample) {
		vb.SetModelVis(s.row, s.corr, s.ch, req.degridSample(s, vb, grid))
		c.stats.Degridded++
	})
	return nil
}

// DegridVisibilitiesWithGradient implements Resampler. The pointing phase
// exp(-2πi(ul+vm)) gives dV/dl = -2πiuV and dV/dm = -2πivV; these are
// rotated from the sky frame into azimuth/elevation by the buffer PA.
func (c *Convolutional) DegridVisibilitiesWithGradient(req *Request, vb *vis.Buffer, grid *lattice.Lattice[complex128], doConjugate bool) ([]complex128, []complex128, error) {
	if err := req.validateFor(vb); err != nil {
		return nil, nil, err
	}
	if err := req.checkGrid(grid); err != nil {
		return nil, nil, err
	}
	n := vb.NumRows() * vb.NumCorr() * vb.NumChan()
	gaz := make([]complex128, n)
	gel := make([]complex128, n)
	cos, sin := math.Cos(req.ActualPA), math.Sin(req.ActualPA)
	c.eachSample(req, vb, func(s sample) {
		v := req.degridSample(s, vb, grid)
		vb.SetModelVis(s.row, s.corr, s.ch, v)
		dl := complex(0, -2*math.Pi*s.u) * v
		dm := complex(0, -2*math.Pi*s.v) * v
		az := complex(cos, 0)*dl - complex(sin, 0)*dm
		el := complex(sin, 0)*dl + complex(cos, 0)*dm
		if doConjugate {
			az, el = cmplx.Conj(az), cmplx.Conj(el)
		}
		i := (s.row*vb.NumCorr()+s.corr)*vb.NumChan() + s.ch
		gaz[i], gel[i] = az, el
		c.stats.Degridded++
	})
	return gaz, gel, nil
}
