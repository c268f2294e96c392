// Package cfrotate rotates cached convolution functions to the parallactic
// angle currently required, so kernels need not be regenerated per angle.
package cfrotate

import (
	"fmt"
	"math"
	"strings"

	"github.com/banshee-data/awimager/internal/lattice"
)

// Interpolation selects how rotated pixels are resampled.
type Interpolation int

// Interpolation schemes
const (
	Linear Interpolation = iota
	Nearest
)

func (i Interpolation) String() string {
	switch i {
	case Linear:
		return "LINEAR"
	case Nearest:
		return "NEAREST"
	}
	return fmt.Sprintf("Interpolation(%d)", int(i))
}

// ParseInterpolation accepts "LINEAR" or "NEAREST" in any case.
func ParseInterpolation(s string) (Interpolation, error) {
	switch strings.ToUpper(s) {
	case "LINEAR", "":
		return Linear, nil
	case "NEAREST":
		return Nearest, nil
	}
	return Linear, fmt.Errorf("unsupported interpolation %q", s)
}

// identityTolerance is the angle (radians) below which Rotate copies.
const identityTolerance = 1e-12

// Rotate returns a copy of src with every (pol, chan) plane rotated by dPA
// radians about the direction reference pixel. Shape is preserved; pixels
// that map from outside the source are zero.
func Rotate(src *lattice.Lattice[complex128], coords lattice.CoordinateSystem, dPA float64, interp Interpolation) (*lattice.Lattice[complex128], error) {
	dir, err := coords.RequireDirection()
	if err != nil {
		return nil, fmt.Errorf("rotate convolution function: %w", err)
	}
	if math.Abs(dPA) < identityTolerance {
		return src.Clone(), nil
	}

	s := src.Shape()
	out := lattice.New[complex128](s)
	cx, cy := dir.RefPixel[0], dir.RefPixel[1]
	cosA, sinA := math.Cos(dPA), math.Sin(dPA)

	for c := 0; c < s.NChan; c++ {
		for p := 0; p < s.NPol; p++ {
			src.BorrowPlane(p, c, func(in []complex128) {
				out.BorrowPlane(p, c, func(dst []complex128) {
					for y := 0; y < s.NY; y++ {
						dy := float64(y) - cy
						for x := 0; x < s.NX; x++ {
							dx := float64(x) - cx
							// inverse rotation: where did this output pixel come from
							sx := cx + cosA*dx + sinA*dy
							sy := cy - sinA*dx + cosA*dy
							dst[y*s.NX+x] = sample(in, s.NX, s.NY, sx, sy, interp)
						}
					}
				})
			})
		}
	}
	return out, nil
}

func sample(plane []complex128, nx, ny int, x, y float64, interp Interpolation) complex128 {
	if interp == Nearest {
		ix, iy := int(math.Round(x)), int(math.Round(y))
		if ix < 0 || iy < 0 || ix >= nx || iy >= ny {
			return 0
		}
		return plane[iy*nx+ix]
	}

	x0, y0 := int(math.Floor(x)), int(math.Floor(y))
	fx, fy := x-float64(x0), y-float64(y0)
	at := func(ix, iy int) complex128 {
		if ix < 0 || iy < 0 || ix >= nx || iy >= ny {
			return 0
		}
		return plane[iy*nx+ix]
	}
	w00 := complex((1-fx)*(1-fy), 0)
	w10 := complex(fx*(1-fy), 0)
	w01 := complex((1-fx)*fy, 0)
	w11 := complex(fx*fy, 0)
	return w00*at(x0, y0) + w10*at(x0+1, y0) + w01*at(x0, y0+1) + w11*at(x0+1, y0+1)
}
