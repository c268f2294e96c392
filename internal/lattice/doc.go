// Package lattice owns the dense image arrays shared by the gridding layers.
//
// A Lattice is a 4-D array shaped [nx, ny, npol, nchan] stored with x
// varying fastest. Gridded data, gridded weights, convolution functions and
// sensitivity images are all lattices; an Image pairs a lattice with the
// CoordinateSystem that maps its pixels onto the sky.
//
// Mutable access is scoped: Borrow and BorrowPlane hand out a view that is
// only valid for the duration of the callback. Resize always reallocates.
package lattice
