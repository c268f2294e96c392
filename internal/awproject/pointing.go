package awproject

import (
	"fmt"

	"github.com/banshee-data/awimager/internal/vis"
)

// PointingTable supplies per-antenna pointing offsets. Release drops any
// open handle; the next Offsets call must reacquire it.
type PointingTable interface {
	// Offsets returns l and m offsets in radians for antennas 0..nAnt-1 at
	// time (MJD seconds).
	Offsets(time float64, nAnt int) (l, m []float64, err error)
	Release() error
}

// FindPointingOffsets returns per-antenna pointing offsets for vb, sized to
// the highest antenna ID in the buffer, and that size. Offsets come from
// the pointing table when one is set and evaluate is true, and are zero
// otherwise. The separation between the image reference direction and the
// buffer phase centre is subtracted from every offset so corrections stay
// relative to the image.
func (m *Machine) FindPointingOffsets(vb *vis.Buffer, evaluate bool) (l, mOff []float64, n int, err error) {
	if m.image == nil {
		return nil, nil, 0, ErrNoImage
	}
	dir, err := m.image.Coords.RequireDirection()
	if err != nil {
		return nil, nil, 0, err
	}
	n = vb.MaxAntenna()
	if m.pointing != nil && evaluate {
		l, mOff, err = m.pointing.Offsets(vb.MeanTime(), n)
		if err != nil {
			return nil, nil, 0, fmt.Errorf("failed to read pointing offsets: %w", err)
		}
		if len(l) < n || len(mOff) < n {
			return nil, nil, 0, fmt.Errorf("pointing table returned %d/%d offsets for %d antennas", len(l), len(mOff), n)
		}
		l, mOff = append([]float64(nil), l[:n]...), append([]float64(nil), mOff[:n]...)
	} else {
		l, mOff = make([]float64, n), make([]float64, n)
	}
	dl, dm := dir.RefValue.Separation(vb.PhaseCenter)
	for i := 0; i < n; i++ {
		l[i] -= dl
		mOff[i] -= dm
	}
	return l, mOff, n, nil
}
