package cfstore

import (
	"fmt"
	"math"

	"github.com/banshee-data/awimager/internal/lattice"
)

// GaussianSpec describes a synthetic elliptical Gaussian aperture kernel.
type GaussianSpec struct {
	Support  int     // half-width in uv-grid pixels
	Sampling int     // oversampling factor
	SigmaX   float64 // aperture width along the rotated x axis, uv-grid pixels
	SigmaY   float64
	PA       float64 // radians; the ellipse is rotated by this angle
	Cell     float64 // image cell size, radians
	Freqs    []float64
	Stokes   []lattice.Stokes
}

// NewGaussianCF builds an aperture kernel and its weight kernel from an
// elliptical Gaussian. The weight kernel is the aperture autocorrelation,
// a Gaussian √2 wider. Both peak at 1 at the kernel centre.
func NewGaussianCF(spec GaussianSpec) (cf, wt *CFStore, err error) {
	if spec.Support < 1 || spec.Sampling < 1 {
		return nil, nil, fmt.Errorf("support (%d) and sampling (%d) must be positive", spec.Support, spec.Sampling)
	}
	if spec.SigmaX <= 0 || spec.SigmaY <= 0 {
		return nil, nil, fmt.Errorf("gaussian widths must be positive, got %g x %g", spec.SigmaX, spec.SigmaY)
	}
	if len(spec.Stokes) == 0 {
		spec.Stokes = []lattice.Stokes{lattice.StokesI}
	}
	if len(spec.Freqs) == 0 {
		return nil, nil, fmt.Errorf("at least one frequency is required")
	}
	wtSupport := int(math.Ceil(float64(spec.Support) * math.Sqrt2))
	cf = gaussianKernel(spec, spec.Support, spec.SigmaX, spec.SigmaY)
	wt = gaussianKernel(spec, wtSupport, spec.SigmaX*math.Sqrt2, spec.SigmaY*math.Sqrt2)
	return cf, wt, nil
}

func gaussianKernel(spec GaussianSpec, support int, sx, sy float64) *CFStore {
	size := 2*(support+1)*spec.Sampling + 1
	nchan := len(spec.Freqs)
	shape := lattice.Shape{NX: size, NY: size, NPol: len(spec.Stokes), NChan: nchan}
	data := lattice.New[complex128](shape)
	centre := size / 2
	cos, sin := math.Cos(spec.PA), math.Sin(spec.PA)
	for y := 0; y < size; y++ {
		dy := float64(y-centre) / float64(spec.Sampling)
		for x := 0; x < size; x++ {
			dx := float64(x-centre) / float64(spec.Sampling)
			if math.Abs(dx) > float64(support) || math.Abs(dy) > float64(support) {
				continue
			}
			rx := cos*dx + sin*dy
			ry := -sin*dx + cos*dy
			v := complex(math.Exp(-0.5*(rx*rx/(sx*sx)+ry*ry/(sy*sy))), 0)
			for p := 0; p < shape.NPol; p++ {
				for c := 0; c < nchan; c++ {
					data.SetAt(x, y, p, c, v)
				}
			}
		}
	}
	coords := lattice.NewSkyCoordinates(lattice.Direction{}, size, size, spec.Cell/float64(spec.Sampling), spec.Freqs, spec.Stokes)
	xs := make([]int, nchan)
	ys := make([]int, nchan)
	for c := range xs {
		xs[c], ys[c] = support, support
	}
	return &CFStore{
		Data:     data,
		Coords:   coords,
		PA:       spec.PA,
		XSupport: xs,
		YSupport: ys,
		Sampling: spec.Sampling,
	}
}
