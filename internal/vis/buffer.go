// Package vis defines the visibility buffers consumed by the gridder and
// the iterator that delivers them in order.
package vis

import (
	"errors"
	"fmt"
	"math"
	"sort"

	"github.com/banshee-data/awimager/internal/lattice"
)

// Row is one baseline sample within a buffer.
type Row struct {
	Antenna1 int
	Antenna2 int
	UVW      [3]float64 // metres
	Time     float64    // MJD seconds
	Flag     bool       // row flag; excludes every (pol, chan) sample
	Weight   float64
	Sigma    float64
}

// Observatory is the array reference position.
type Observatory struct {
	Longitude float64 // radians, east positive
	Latitude  float64 // radians
}

// Buffer is a batch of visibility rows delivered by an Iterator. Vis,
// ModelVis and Flags are indexed [row][corr][chan] with chan fastest.
type Buffer struct {
	Rows         []Row
	Frequencies  []float64 // Hz, one per channel
	Correlations []lattice.Stokes
	Vis          []complex128
	ModelVis     []complex128
	CorrectedVis []complex128 // calibrated data; nil when not calibrated
	Flags        []bool

	PhaseCenter lattice.Direction
	Observatory Observatory

	// FeedPA holds the per-antenna feed parallactic angle (radians) at the
	// buffer time, indexed by antenna ID. When empty the angle is derived
	// from the observatory and phase centre.
	FeedPA []float64

	FieldID int
	SpwID   int
}

// NumRows returns the number of rows.
func (b *Buffer) NumRows() int { return len(b.Rows) }

// NumCorr returns the number of correlation products.
func (b *Buffer) NumCorr() int { return len(b.Correlations) }

// NumChan returns the number of channels.
func (b *Buffer) NumChan() int { return len(b.Frequencies) }

func (b *Buffer) index(row, corr, ch int) int {
	return (row*b.NumCorr()+corr)*b.NumChan() + ch
}

// VisAt returns the observed visibility for (row, corr, chan).
func (b *Buffer) VisAt(row, corr, ch int) complex128 { return b.Vis[b.index(row, corr, ch)] }

// ModelVisAt returns the model visibility for (row, corr, chan).
func (b *Buffer) ModelVisAt(row, corr, ch int) complex128 {
	if b.ModelVis == nil {
		return 0
	}
	return b.ModelVis[b.index(row, corr, ch)]
}

// SetModelVis stores a predicted visibility, allocating the model cube on
// first use.
func (b *Buffer) SetModelVis(row, corr, ch int, v complex128) {
	if len(b.ModelVis) != len(b.Vis) {
		b.ModelVis = make([]complex128, b.NumRows()*b.NumCorr()*b.NumChan())
	}
	b.ModelVis[b.index(row, corr, ch)] = v
}

// WithVis returns a shallow copy of b whose Vis is replaced by data. Rows,
// flags and the model cube are shared with b.
func (b *Buffer) WithVis(data []complex128) *Buffer {
	out := *b
	out.Vis = data
	return &out
}

// ClearModelVis zeroes the model cube.
func (b *Buffer) ClearModelVis() {
	for i := range b.ModelVis {
		b.ModelVis[i] = 0
	}
}

// Flagged reports whether the (row, corr, chan) sample must be excluded.
func (b *Buffer) Flagged(row, corr, ch int) bool {
	if b.Rows[row].Flag {
		return true
	}
	if b.Flags == nil {
		return false
	}
	return b.Flags[b.index(row, corr, ch)]
}

// Antennas returns the sorted set of antenna IDs referenced by the rows.
func (b *Buffer) Antennas() []int {
	seen := make(map[int]bool)
	for _, r := range b.Rows {
		seen[r.Antenna1] = true
		seen[r.Antenna2] = true
	}
	ids := make([]int, 0, len(seen))
	for id := range seen {
		ids = append(ids, id)
	}
	sort.Ints(ids)
	return ids
}

// MaxAntenna returns the highest antenna ID plus one, i.e. the length an
// antenna-indexed slice must have.
func (b *Buffer) MaxAntenna() int {
	n := 0
	for _, r := range b.Rows {
		n = max(n, r.Antenna1+1, r.Antenna2+1)
	}
	return n
}

// MeanTime returns the mean row time.
func (b *Buffer) MeanTime() float64 {
	if len(b.Rows) == 0 {
		return 0
	}
	sum := 0.0
	for _, r := range b.Rows {
		sum += r.Time
	}
	return sum / float64(len(b.Rows))
}

// Validate checks the cube sizes agree with the row, correlation and
// channel counts.
func (b *Buffer) Validate() error {
	if b == nil {
		return errors.New("nil visibility buffer")
	}
	n := b.NumRows() * b.NumCorr() * b.NumChan()
	if len(b.Vis) != n {
		return fmt.Errorf("visibility cube has %d samples, want %d", len(b.Vis), n)
	}
	if b.Flags != nil && len(b.Flags) != n {
		return fmt.Errorf("flag cube has %d samples, want %d", len(b.Flags), n)
	}
	if b.ModelVis != nil && len(b.ModelVis) != n {
		return fmt.Errorf("model cube has %d samples, want %d", len(b.ModelVis), n)
	}
	if b.CorrectedVis != nil && len(b.CorrectedVis) != n {
		return fmt.Errorf("corrected cube has %d samples, want %d", len(b.CorrectedVis), n)
	}
	for i, f := range b.Frequencies {
		if f <= 0 || math.IsNaN(f) {
			return fmt.Errorf("channel %d has invalid frequency %g", i, f)
		}
	}
	return nil
}
