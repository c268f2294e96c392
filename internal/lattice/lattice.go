package lattice

import (
	"fmt"
)

// Element is the set of numeric types a Lattice can hold.
type Element interface {
	~float32 | ~float64 | ~complex64 | ~complex128
}

// Shape is the [nx, ny, npol, nchan] extent of a lattice.
type Shape struct {
	NX, NY, NPol, NChan int
}

// Len returns the number of elements a lattice of this shape holds.
func (s Shape) Len() int { return s.NX * s.NY * s.NPol * s.NChan }

// PlaneLen returns the number of pixels in one (pol, chan) plane.
func (s Shape) PlaneLen() int { return s.NX * s.NY }

// Valid reports whether every axis is at least one pixel long.
func (s Shape) Valid() bool {
	return s.NX > 0 && s.NY > 0 && s.NPol > 0 && s.NChan > 0
}

func (s Shape) String() string {
	return fmt.Sprintf("[%d,%d,%d,%d]", s.NX, s.NY, s.NPol, s.NChan)
}

// Lattice is an owned, resizable dense 4-D array.
type Lattice[T Element] struct {
	shape Shape
	data  []T
}

// New allocates a zeroed lattice of the given shape.
func New[T Element](shape Shape) *Lattice[T] {
	if !shape.Valid() {
		panic(fmt.Sprintf("lattice: invalid shape %s", shape))
	}
	return &Lattice[T]{shape: shape, data: make([]T, shape.Len())}
}

// FromSlice wraps a copy of data as a lattice; len(data) must equal shape.Len().
func FromSlice[T Element](shape Shape, data []T) (*Lattice[T], error) {
	if !shape.Valid() {
		return nil, fmt.Errorf("invalid shape %s", shape)
	}
	if len(data) != shape.Len() {
		return nil, fmt.Errorf("data length %d does not match shape %s", len(data), shape)
	}
	buf := make([]T, len(data))
	copy(buf, data)
	return &Lattice[T]{shape: shape, data: buf}, nil
}

// Shape returns the lattice extent.
func (l *Lattice[T]) Shape() Shape { return l.shape }

// Index returns the flat storage offset of (x, y, pol, chan).
func (l *Lattice[T]) Index(x, y, pol, ch int) int {
	s := l.shape
	return x + s.NX*(y+s.NY*(pol+s.NPol*ch))
}

// InBounds reports whether (x, y) lies on the spatial grid.
func (l *Lattice[T]) InBounds(x, y int) bool {
	return x >= 0 && y >= 0 && x < l.shape.NX && y < l.shape.NY
}

// At returns the value at (x, y, pol, chan).
func (l *Lattice[T]) At(x, y, pol, ch int) T { return l.data[l.Index(x, y, pol, ch)] }

// SetAt stores v at (x, y, pol, chan).
func (l *Lattice[T]) SetAt(x, y, pol, ch int, v T) { l.data[l.Index(x, y, pol, ch)] = v }

// AddAt accumulates v into (x, y, pol, chan).
func (l *Lattice[T]) AddAt(x, y, pol, ch int, v T) { l.data[l.Index(x, y, pol, ch)] += v }

// Set assigns v to every element.
func (l *Lattice[T]) Set(v T) {
	for i := range l.data {
		l.data[i] = v
	}
}

// Resize reallocates the lattice to shape, copying the overlapping region
// of the old contents. The previous storage is never reused, so views
// borrowed before the resize keep referring to the old data.
func (l *Lattice[T]) Resize(shape Shape) {
	if !shape.Valid() {
		panic(fmt.Sprintf("lattice: invalid shape %s", shape))
	}
	old := l.shape
	oldData := l.data
	l.shape = shape
	l.data = make([]T, shape.Len())

	nx := min(old.NX, shape.NX)
	ny := min(old.NY, shape.NY)
	np := min(old.NPol, shape.NPol)
	nc := min(old.NChan, shape.NChan)
	for c := 0; c < nc; c++ {
		for p := 0; p < np; p++ {
			for y := 0; y < ny; y++ {
				src := old.NX * (y + old.NY*(p+old.NPol*c))
				copy(l.data[l.Index(0, y, p, c):l.Index(0, y, p, c)+nx], oldData[src:src+nx])
			}
		}
	}
}

// CopyData copies src into l. Shapes must match.
func (l *Lattice[T]) CopyData(src *Lattice[T]) error {
	if src.shape != l.shape {
		return fmt.Errorf("copy shape mismatch: have %s, source %s", l.shape, src.shape)
	}
	copy(l.data, src.data)
	return nil
}

// AddLattice accumulates src into l element-wise. Shapes must match.
func (l *Lattice[T]) AddLattice(src *Lattice[T]) error {
	if src.shape != l.shape {
		return fmt.Errorf("add shape mismatch: have %s, source %s", l.shape, src.shape)
	}
	for i, v := range src.data {
		l.data[i] += v
	}
	return nil
}

// Clone returns a deep copy.
func (l *Lattice[T]) Clone() *Lattice[T] {
	out := &Lattice[T]{shape: l.shape, data: make([]T, len(l.data))}
	copy(out.data, l.data)
	return out
}

// Plane returns a copy of the (pol, chan) plane.
func (l *Lattice[T]) Plane(pol, ch int) []T {
	start := l.Index(0, 0, pol, ch)
	out := make([]T, l.shape.PlaneLen())
	copy(out, l.data[start:start+l.shape.PlaneLen()])
	return out
}

// PutPlane overwrites the (pol, chan) plane with plane.
func (l *Lattice[T]) PutPlane(pol, ch int, plane []T) error {
	if len(plane) != l.shape.PlaneLen() {
		return fmt.Errorf("plane length %d does not match %dx%d", len(plane), l.shape.NX, l.shape.NY)
	}
	start := l.Index(0, 0, pol, ch)
	copy(l.data[start:], plane)
	return nil
}

// Borrow lends the whole backing array to fn. The slice must not be
// retained after fn returns.
func (l *Lattice[T]) Borrow(fn func(data []T)) {
	fn(l.data)
}

// BorrowPlane lends the (pol, chan) plane, x varying fastest, to fn without
// copying. The slice must not be retained after fn returns.
func (l *Lattice[T]) BorrowPlane(pol, ch int, fn func(plane []T)) {
	start := l.Index(0, 0, pol, ch)
	fn(l.data[start : start+l.shape.PlaneLen() : start+l.shape.PlaneLen()])
}

// Values returns a copy of the backing array.
func (l *Lattice[T]) Values() []T {
	out := make([]T, len(l.data))
	copy(out, l.data)
	return out
}

// IsZero reports whether every element is zero.
func (l *Lattice[T]) IsZero() bool {
	var zero T
	for _, v := range l.data {
		if v != zero {
			return false
		}
	}
	return true
}

// Convert returns a lattice of another element type holding the same
// values. Complex to real conversions keep the real part.
func Convert[D, S Element](src *Lattice[S]) *Lattice[D] {
	out := New[D](src.shape)
	for i, v := range src.data {
		out.data[i] = convertElement[D](v)
	}
	return out
}

func convertElement[D, S Element](v S) D {
	var d D
	switch dst := any(&d).(type) {
	case *float32:
		*dst = float32(realPart(v))
	case *float64:
		*dst = realPart(v)
	case *complex64:
		*dst = complex64(toComplex(v))
	case *complex128:
		*dst = toComplex(v)
	}
	return d
}

func realPart[S Element](v S) float64 {
	switch x := any(v).(type) {
	case float32:
		return float64(x)
	case float64:
		return x
	case complex64:
		return float64(real(x))
	case complex128:
		return real(x)
	}
	return 0
}

func toComplex[S Element](v S) complex128 {
	switch x := any(v).(type) {
	case float32:
		return complex(float64(x), 0)
	case float64:
		return complex(x, 0)
	case complex64:
		return complex128(x)
	case complex128:
		return x
	}
	return 0
}
