// Package fft provides 2-D Fourier transforms over lattice planes.
//
// Planes are stored x-fastest with nx*ny elements. Transforms run in place
// using gonum's complex FFT along rows then columns.
package fft

import (
	"fmt"

	"gonum.org/v1/gonum/dsp/fourier"
)

// Plan caches the row and column transforms for one plane size.
type Plan struct {
	nx, ny int
	rowFFT *fourier.CmplxFFT
	colFFT *fourier.CmplxFFT
	row    []complex128
	col    []complex128
}

// NewPlan prepares transforms for nx by ny planes.
func NewPlan(nx, ny int) *Plan {
	return &Plan{
		nx:     nx,
		ny:     ny,
		rowFFT: fourier.NewCmplxFFT(nx),
		colFFT: fourier.NewCmplxFFT(ny),
		row:    make([]complex128, nx),
		col:    make([]complex128, ny),
	}
}

func (p *Plan) check(plane []complex128) {
	if len(plane) != p.nx*p.ny {
		panic(fmt.Sprintf("fft: plane length %d does not match %dx%d", len(plane), p.nx, p.ny))
	}
}

// Forward computes the unnormalised forward transform in place.
func (p *Plan) Forward(plane []complex128) {
	p.check(plane)
	p.transform(plane, true)
}

// Inverse computes the inverse transform in place and divides by nx*ny so
// that Inverse(Forward(x)) == x.
func (p *Plan) Inverse(plane []complex128) {
	p.check(plane)
	p.transform(plane, false)
	scale := complex(1/float64(p.nx*p.ny), 0)
	for i := range plane {
		plane[i] *= scale
	}
}

func (p *Plan) transform(plane []complex128, forward bool) {
	nx, ny := p.nx, p.ny

	// rows
	for y := 0; y < ny; y++ {
		copy(p.row, plane[y*nx:(y+1)*nx])
		if forward {
			p.rowFFT.Coefficients(p.row, p.row)
		} else {
			p.rowFFT.Sequence(p.row, p.row)
		}
		copy(plane[y*nx:(y+1)*nx], p.row)
	}

	// cols
	for x := 0; x < nx; x++ {
		for y := 0; y < ny; y++ {
			p.col[y] = plane[y*nx+x]
		}
		if forward {
			p.colFFT.Coefficients(p.col, p.col)
		} else {
			p.colFFT.Sequence(p.col, p.col)
		}
		for y := 0; y < ny; y++ {
			plane[y*nx+x] = p.col[y]
		}
	}
}

// Shift moves the origin pixel (0,0) to the centre pixel (nx/2, ny/2).
func Shift(plane []complex128, nx, ny int) {
	roll(plane, nx, ny, nx/2, ny/2)
}

// Unshift moves the centre pixel (nx/2, ny/2) to the origin.
func Unshift(plane []complex128, nx, ny int) {
	roll(plane, nx, ny, -(nx / 2), -(ny / 2))
}

func roll(plane []complex128, nx, ny, sx, sy int) {
	tmp := make([]complex128, len(plane))
	for y := 0; y < ny; y++ {
		yy := ((y+sy)%ny + ny) % ny
		for x := 0; x < nx; x++ {
			xx := ((x+sx)%nx + nx) % nx
			tmp[yy*nx+xx] = plane[y*nx+x]
		}
	}
	copy(plane, tmp)
}

// CenteredForward transforms a plane whose origin sits at the centre pixel,
// leaving the result centred as well.
func (p *Plan) CenteredForward(plane []complex128) {
	Unshift(plane, p.nx, p.ny)
	p.Forward(plane)
	Shift(plane, p.nx, p.ny)
}

// CenteredInverse is the inverse of CenteredForward.
func (p *Plan) CenteredInverse(plane []complex128) {
	Unshift(plane, p.nx, p.ny)
	p.Inverse(plane)
	Shift(plane, p.nx, p.ny)
}
