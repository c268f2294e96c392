package cfstore

import (
	"errors"
	"fmt"
	"math"

	"github.com/banshee-data/awimager/internal/lattice"
	"github.com/banshee-data/awimager/internal/units"
)

// ErrNotCached is returned when no entry matches a lookup.
var ErrNotCached = errors.New("convolution function not cached")

// CFStore is a cached convolution function: an oversampled complex kernel
// [size, size, pol, chan] plus the metadata the resampler needs.
type CFStore struct {
	Data     *lattice.Lattice[complex128]
	Coords   lattice.CoordinateSystem
	PA       float64 // radians, angle the kernel was computed for
	XSupport []int   // half-width per channel, in image pixels
	YSupport []int
	Sampling int // oversampling factor relative to the uv-grid
}

// Validate checks the invariants of a cached kernel.
func (cf *CFStore) Validate() error {
	if cf == nil || cf.Data == nil {
		return errors.New("convolution function has no data")
	}
	s := cf.Data.Shape()
	if s.NX != s.NY {
		return fmt.Errorf("convolution function must be square, got %dx%d", s.NX, s.NY)
	}
	if cf.Sampling < 1 {
		return fmt.Errorf("sampling must be at least 1, got %d", cf.Sampling)
	}
	if len(cf.XSupport) != s.NChan || len(cf.YSupport) != s.NChan {
		return fmt.Errorf("support lists (%d, %d) must have one entry per channel (%d)", len(cf.XSupport), len(cf.YSupport), s.NChan)
	}
	for c := 0; c < s.NChan; c++ {
		need := 2*max(cf.XSupport[c], cf.YSupport[c])*cf.Sampling + 1
		if cf.XSupport[c] < 0 || cf.YSupport[c] < 0 || need > s.NX {
			return fmt.Errorf("channel %d support (%d, %d) does not fit a %d-pixel kernel at sampling %d",
				c, cf.XSupport[c], cf.YSupport[c], s.NX, cf.Sampling)
		}
	}
	if _, err := cf.Coords.RequireDirection(); err != nil {
		return err
	}
	if n := len(cf.Coords.Stokes); n != s.NPol {
		return fmt.Errorf("convolution function has %d planes but %d polarisation labels", s.NPol, n)
	}
	return nil
}

// MaxSupport returns the largest half-width over channels and axes.
func (cf *CFStore) MaxSupport() int {
	m := 0
	for c := range cf.XSupport {
		m = max(m, cf.XSupport[c], cf.YSupport[c])
	}
	return m
}

// WithData returns a shallow copy carrying a different kernel, e.g. the
// result of rotating this one to a new PA.
func (cf *CFStore) WithData(data *lattice.Lattice[complex128], pa float64) *CFStore {
	out := *cf
	out.Data = data
	out.PA = pa
	return &out
}

// CompatibleWith reports whether two kernels can be gridded onto the same
// uv-grid: equal pixel scale and sampling.
func (cf *CFStore) CompatibleWith(other *CFStore) bool {
	return cf.Sampling == other.Sampling && cf.Coords.SamePixelScale(other.Coords)
}

// Key identifies a cached kernel.
type Key struct {
	BaselineClass int
	PABucket      int
	FreqIndex     int
}

func (k Key) String() string {
	return fmt.Sprintf("class=%d pa_bucket=%d freq=%d", k.BaselineClass, k.PABucket, k.FreqIndex)
}

// BucketFor quantises a PA (radians) into buckets bucketDeg wide.
func BucketFor(pa, bucketDeg float64) int {
	return int(math.Round(units.RadToDeg(pa) / bucketDeg))
}

// LoadStatus reports the outcome of LoadAvgPB.
type LoadStatus int

// Sensitivity image lookup results
const (
	NotCached LoadStatus = iota
	Found
)

func (s LoadStatus) String() string {
	if s == Found {
		return "FOUND"
	}
	return "NOT_CACHED"
}

// Stats counts cache activity since the last Flush.
type Stats struct {
	Hits         int // served from memory
	DiskLoads    int // loaded from disk
	Misses       int // nothing cached
	Stored       int // entries written
	AvgPBLoads   int
	AvgPBFlushes int
}
