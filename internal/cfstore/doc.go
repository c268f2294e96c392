// Package cfstore owns the convolution-function store and its cache.
//
// A CFStore is one oversampled aperture kernel (or its weight kernel) for an
// antenna-pair class at a cached parallactic angle. The Cache loads entries
// lazily from disk, keeps them in memory for the imaging run, and persists
// the sensitivity image computed from the gridded weights so later runs can
// skip the weight accumulation pass.
//
// Entries are immutable once cached. The cache does no locking: callers
// sharing one across goroutines must serialise access.
package cfstore
