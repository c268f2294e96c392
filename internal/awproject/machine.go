// Package awproject implements the wide-band A-projection gridder: it
// grids visibility buffers with parallactic-angle-rotated aperture kernels,
// accumulates the weight kernels into a sensitivity image while the PA
// sweeps, and normalises the dirty image by that sensitivity.
//
// A Machine is driven through InitializeToSky, Put per buffer,
// FinalizeToSky and GetImage, or through InitializeToVis, Get and
// FinalizeToVis for prediction. Buffers must arrive in iterator order. A
// Machine owns its grids exclusively and does no locking.
package awproject

import (
	"errors"
	"fmt"

	"gonum.org/v1/gonum/mat"

	"github.com/banshee-data/awimager/internal/cfrotate"
	"github.com/banshee-data/awimager/internal/cfstore"
	"github.com/banshee-data/awimager/internal/fft"
	"github.com/banshee-data/awimager/internal/lattice"
	"github.com/banshee-data/awimager/internal/monitoring"
	"github.com/banshee-data/awimager/internal/parangle"
	"github.com/banshee-data/awimager/internal/resample"
	"github.com/banshee-data/awimager/internal/sensitivity"
	"github.com/banshee-data/awimager/internal/units"
	"github.com/banshee-data/awimager/internal/vis"
)

var logf = monitoring.Component("AWProjectWBFT")

// CFCache is the kernel and sensitivity-image store the machine reads from.
// *cfstore.Cache implements it.
type CFCache interface {
	Lookup(baselineClass, freqIndex int, pa float64) (cf, wt *cfstore.CFStore, err error)
	LoadAvgPB(qualifier string) (*lattice.Image[float32], cfstore.LoadStatus, error)
	FlushAvgPB(img *lattice.Image[float32], qualifier string) error
	Flush() error
}

// BufferEvent describes one processed buffer.
type BufferEvent struct {
	Cycle             CycleState
	Index             int // position within the cycle
	Time              float64
	PA                float64 // radians
	Rotated           bool    // kernels were re-rotated for this buffer
	WeightAccumulated bool
}

// Observer receives an event after every buffer.
type Observer interface {
	ObserveBuffer(ev BufferEvent)
}

// Stats counts machine activity over its lifetime.
type Stats struct {
	Buffers             int
	Rotations           int
	WeightRotations     int
	WeightAccumulations int
	SensitivityComputes int
}

// kernels are the cached kernels rotated to the PA currently in use.
type kernels struct {
	cf, wt *cfstore.CFStore
}

// Machine is the A-projection FT machine.
type Machine struct {
	opts      Options
	cache     CFCache
	resampler resample.Resampler
	pointing  PointingTable
	observer  Observer
	acc       *sensitivity.Accumulator

	cycle   CycleState
	pb      PBState
	weights LatticeState

	image          *lattice.Image[float32]
	geometry       resample.Geometry
	griddedData    *lattice.Lattice[complex128]
	griddedWeights *lattice.Lattice[complex128]
	sumWeight      *mat.Dense
	sensitivity    *lattice.Image[float32]
	sensitivitySq  *lattice.Image[complex64]

	tracker  *parangle.WeightPATracker
	detector *parangle.ChangeDetector
	current  kernels
	index    int
	gridded  bool // a gridding cycle has been finalised onto image
	stats    Stats
}

// New returns a machine in the Uninitialized state.
func New(opts Options, cache CFCache, resampler resample.Resampler) *Machine {
	return &Machine{
		opts:      opts,
		cache:     cache,
		resampler: resampler,
		acc:       sensitivity.NewAccumulator(),
		tracker:   parangle.NewWeightPATracker(opts.DeltaPADeg),
		detector:  parangle.NewChangeDetector(opts.RotationPAToleranceDeg),
	}
}

// SetObserver installs o; nil removes it.
func (m *Machine) SetObserver(o Observer) { m.observer = o }

// SetPointingTable installs the pointing-offset source used by
// FindPointingOffsets.
func (m *Machine) SetPointingTable(pt PointingTable) { m.pointing = pt }

// Cycle returns the cycle state.
func (m *Machine) Cycle() CycleState { return m.cycle }

// PB returns the sensitivity state.
func (m *Machine) PB() PBState { return m.pb }

// WeightLattice returns the weight lattice state.
func (m *Machine) WeightLattice() LatticeState { return m.weights }

// Stats returns activity counters.
func (m *Machine) Stats() Stats { return m.stats }

// InitializeToSky starts a gridding cycle onto image. The data grid is
// reallocated and zeroed; the weight grid is allocated on the first call
// only, or again when the image shape changes, which also drops any
// sensitivity image computed for the old shape. A cached sensitivity image for the configured qualifier is loaded
// when available. sumWeight, when non-nil, must be [npol x nchan] and
// receives the gridded weights; otherwise one is allocated. vb, when
// non-nil, is the first buffer of the cycle and is only used for logging.
//
// Calling InitializeToSky while a cycle is active discards its data.
func (m *Machine) InitializeToSky(image *lattice.Image[float32], sumWeight *mat.Dense, vb *vis.Buffer) error {
	if image == nil || image.Lattice == nil {
		return ErrNoImage
	}
	if err := image.Validate(); err != nil {
		return err
	}
	geom, err := resample.NewGeometry(image.Shape(), image.Coords)
	if err != nil {
		return fmt.Errorf("cannot grid onto image: %w", err)
	}
	s := image.Shape()
	if sumWeight == nil {
		sumWeight = mat.NewDense(s.NPol, s.NChan, nil)
	} else if r, c := sumWeight.Dims(); r != s.NPol || c != s.NChan {
		return fmt.Errorf("sum of weights is %dx%d, image has %d pols and %d chans", r, c, s.NPol, s.NChan)
	} else {
		sumWeight.Zero()
	}

	if m.cycle == ToSkyActive || m.cycle == ToVisActive {
		logf("re-initialising while %s; %d buffers of unflushed data discarded", m.cycle, m.index)
	}
	m.image = image
	m.gridded = false
	m.geometry = geom
	m.sumWeight = sumWeight
	m.griddedData = lattice.New[complex128](s)
	m.current = kernels{}
	m.detector.Reset()
	m.index = 0

	if m.weights == LatticeUninitialized || m.griddedWeights.Shape() != s {
		if m.weights == LatticeAllocated {
			logf("image shape changed from %s to %s; starting a new sensitivity image", m.griddedWeights.Shape(), s)
		}
		m.griddedWeights = lattice.New[complex128](s)
		m.acc.Reset()
		m.tracker.Reset()
		m.sensitivity = nil
		m.sensitivitySq = nil
		m.pb = NeedsWeightAccumulation
		m.weights = LatticeAllocated
	}

	if m.pb == NeedsWeightAccumulation {
		if err := m.loadCachedSensitivity(s); err != nil {
			return err
		}
	}
	if vb != nil {
		logf("gridding cycle starts at PA %.3f deg onto %s", units.RadToDeg(parangle.GetVBPA(vb)), s)
	}
	m.cycle = ToSkyActive
	return nil
}

func (m *Machine) loadCachedSensitivity(s lattice.Shape) error {
	img, status, err := m.cache.LoadAvgPB(m.opts.SensitivityQualifier)
	if err != nil {
		return fmt.Errorf("failed to load sensitivity image: %w", err)
	}
	if status == cfstore.Found && img.Shape() == s {
		m.sensitivity = img
		m.pb = SensitivityComputed
		logf("using cached sensitivity image %q", m.opts.SensitivityQualifier)
		return nil
	}
	if status == cfstore.Found {
		logf("cached sensitivity image is %s, image is %s; recomputing", img.Shape(), s)
	}
	logf("sensitivity image not cached: this gridding cycle also accumulates weights and will be slower")
	return nil
}

// Put grids one buffer. While the sensitivity image is pending it also
// grids the weight kernel at the uv origin into the weight lattice, once
// per PA step of at least DeltaPADeg.
func (m *Machine) Put(vb *vis.Buffer, doPSF bool) error {
	if err := m.requireCycle("Put", ToSkyActive); err != nil {
		return err
	}
	if err := vb.Validate(); err != nil {
		return err
	}
	pa := parangle.GetVBPA(vb)
	rotated, err := m.refreshKernels(vb, pa, m.pb == NeedsWeightAccumulation)
	if err != nil {
		return err
	}
	if m.pb == NeedsWeightAccumulation && m.current.wt == nil {
		return fmt.Errorf("%w for PA %.3f deg while the sensitivity image is pending", ErrNoWeightKernel, units.RadToDeg(pa))
	}
	req, err := m.request(vb, m.current.cf, pa)
	if err != nil {
		return err
	}
	req.DoPSF = doPSF
	if err := m.resampler.GridVisibilities(req, vb, m.griddedData, m.sumWeight); err != nil {
		return fmt.Errorf("failed to grid buffer %d: %w", m.index, err)
	}

	accumulated := false
	if m.tracker.Check(m.pb == SensitivityComputed, pa) {
		if err := m.accumulateWeights(vb, req); err != nil {
			return err
		}
		accumulated = true
	}
	m.emit(vb, pa, rotated, accumulated)
	return nil
}

// accumulateWeights grids the rotated weight kernel with the uvw forced to
// zero so its footprint lands on the grid origin, then adds the scratch
// grid into the weight lattice.
func (m *Machine) accumulateWeights(vb *vis.Buffer, dataReq *resample.Request) error {
	req, err := m.request(vb, m.current.wt, dataReq.ActualPA)
	if err != nil {
		return err
	}
	req.ZeroUVW = true
	req.DoPSF = true
	req.Pointing = resample.Pointing{}
	scratch := lattice.New[complex128](m.griddedWeights.Shape())
	s := scratch.Shape()
	if err := m.resampler.GridVisibilities(req, vb, scratch, mat.NewDense(s.NPol, s.NChan, nil)); err != nil {
		return fmt.Errorf("failed to grid weight kernel: %w", err)
	}
	if err := m.griddedWeights.AddLattice(scratch); err != nil {
		return err
	}
	m.stats.WeightAccumulations++
	return nil
}

// refreshKernels re-rotates the cached kernels when the PA or antenna set
// has moved past the rotation tolerance. The weight kernel is rotated only
// when withWeights is set.
func (m *Machine) refreshKernels(vb *vis.Buffer, pa float64, withWeights bool) (bool, error) {
	changed := m.detector.Changed(vb)
	if !changed && m.current.cf != nil {
		return false, nil
	}
	cf, wt, err := m.cache.Lookup(m.opts.BaselineClass, 0, pa)
	if err != nil {
		return false, fmt.Errorf("no convolution function for PA %.3f deg: %w", units.RadToDeg(pa), err)
	}
	rot, err := cfrotate.Rotate(cf.Data, cf.Coords, units.AngularDifference(pa, cf.PA), m.opts.Interpolation)
	if err != nil {
		return false, err
	}
	m.current = kernels{cf: cf.WithData(rot, pa)}
	m.stats.Rotations++
	if withWeights && wt != nil {
		rot, err := cfrotate.Rotate(wt.Data, wt.Coords, units.AngularDifference(pa, wt.PA), m.opts.Interpolation)
		if err != nil {
			return false, err
		}
		m.current.wt = wt.WithData(rot, pa)
		m.stats.WeightRotations++
	}
	return true, nil
}

// request builds the resampling request for vb against kernel k.
func (m *Machine) request(vb *vis.Buffer, k *cfstore.CFStore, pa float64) (*resample.Request, error) {
	if k == nil {
		return nil, errors.New("no convolution function selected")
	}
	nchan := vb.NumChan()
	chanMap := make([]int, nchan)
	cfChanMap := make([]int, nchan)
	for c, f := range vb.Frequencies {
		chanMap[c] = min(m.image.Coords.NearestChannel(f), m.geometry.NChan-1)
		cfChanMap[c] = k.Coords.NearestChannel(f)
	}
	polMap := make([]int, vb.NumCorr())
	if len(m.image.Coords.Stokes) > 0 {
		polMap = parangle.MakeCFPolMap(vb.Correlations, m.image.Coords.Stokes)
	}
	cfPolMap := parangle.MakeCFPolMap(vb.Correlations, k.Coords.Stokes)
	req := &resample.Request{
		Geometry: m.geometry,
		Kernel: resample.Kernel{
			Data:     k.Data,
			Support:  k.XSupport,
			Sampling: k.Sampling,
		},
		ChanMap:     chanMap,
		CFChanMap:   cfChanMap,
		PolMap:      polMap,
		CFPolMap:    cfPolMap,
		ConjPolMap:  parangle.MakeConjPolMap(vb.Correlations, cfPolMap, k.Coords.Stokes),
		CurrentCFPA: k.PA,
		ActualPA:    pa,
	}
	if m.opts.DoPointingCorrection {
		l, mm, _, err := m.FindPointingOffsets(vb, true)
		if err != nil {
			return nil, err
		}
		req.Pointing = resample.Pointing{L: l, M: mm, Correct: true}
	}
	return req, nil
}

func (m *Machine) emit(vb *vis.Buffer, pa float64, rotated, accumulated bool) {
	m.stats.Buffers++
	if m.observer != nil {
		m.observer.ObserveBuffer(BufferEvent{
			Cycle:             m.cycle,
			Index:             m.index,
			Time:              vb.MeanTime(),
			PA:                pa,
			Rotated:           rotated,
			WeightAccumulated: accumulated,
		})
	}
	m.index++
}

// FinalizeToSky ends the gridding cycle. The pointing table handle, the PA
// change detector, the kernel cache and the resampler are released on
// every path, and their errors are joined with any earlier one.
func (m *Machine) FinalizeToSky() (err error) {
	if err := m.requireCycle("FinalizeToSky", ToSkyActive); err != nil {
		return err
	}
	defer func() {
		errs := []error{err}
		if m.pointing != nil {
			errs = append(errs, m.pointing.Release())
		}
		m.detector.Reset()
		m.current = kernels{}
		errs = append(errs, m.cache.Flush(), m.resampler.FinalizeToSky())
		err = errors.Join(errs...)
		m.cycle = Finalized
		m.gridded = true
	}()

	total := 0.0
	r, c := m.sumWeight.Dims()
	for p := 0; p < r; p++ {
		for ch := 0; ch < c; ch++ {
			total += m.sumWeight.At(p, ch)
		}
	}
	logf("gridded %d buffers, sum of weights %.6g, weight accumulations %d (sensitivity %s)",
		m.index, total, m.stats.WeightAccumulations, m.pb)
	return nil
}

// GetImage computes the sensitivity image if it is still pending, then
// transforms the data grid to the image domain, divides by the sum of
// weights when doFFTNorm is set, and divides by the sensitivity where it
// exceeds PBLimit. Pixels below the limit are zeroed. The result is
// written into the image passed to InitializeToSky and returned with a
// copy of the sum of weights.
func (m *Machine) GetImage(doFFTNorm bool) (*lattice.Image[float32], *mat.Dense, error) {
	if m.image == nil {
		return nil, nil, ErrNoImage
	}
	if err := m.requireCycle("GetImage", Finalized); err != nil {
		return nil, nil, err
	}
	if !m.gridded {
		return nil, nil, fmt.Errorf("%w: GetImage needs a finalised gridding cycle", ErrInvalidTransition)
	}
	if err := m.makeSensitivity(doFFTNorm); err != nil {
		return nil, nil, err
	}

	s := m.griddedData.Shape()
	plan := fft.NewPlan(s.NX, s.NY)
	scale := float64(s.NX * s.NY)
	for ch := 0; ch < s.NChan; ch++ {
		for pol := 0; pol < s.NPol; pol++ {
			plane := m.griddedData.Plane(pol, ch)
			plan.CenteredInverse(plane)
			norm := scale
			if doFFTNorm {
				if sw := m.sumWeight.At(pol, ch); sw > 0 {
					norm /= sw
				}
			}
			sens := m.sensitivity.Lattice.Plane(pol, ch)
			out := make([]float32, len(plane))
			for i, v := range plane {
				if float64(sens[i]) > m.opts.PBLimit {
					out[i] = float32(real(v) * norm / float64(sens[i]))
				}
			}
			if err := m.image.Lattice.PutPlane(pol, ch, out); err != nil {
				return nil, nil, err
			}
		}
	}
	return m.image, mat.DenseCopyOf(m.sumWeight), nil
}

// makeSensitivity turns the weight lattice into the sensitivity image and
// persists it. It runs at most once per machine.
func (m *Machine) makeSensitivity(doFFTNorm bool) error {
	if m.pb == SensitivityComputed {
		return nil
	}
	sens := &lattice.Image[float32]{}
	if err := m.acc.MakeSensitivityImage(m.griddedWeights, sens, m.image.Coords, m.sumWeight, doFFTNorm); err != nil {
		return err
	}
	if sens.Lattice.IsZero() {
		return fmt.Errorf("%w after %d weight accumulations; sensitivity image not persisted", ErrEmptySensitivity, m.tracker.Fired())
	}
	sq := &lattice.Image[complex64]{}
	if err := m.acc.MakeSensitivitySqImage(m.griddedWeights, sq, m.image.Coords, m.sumWeight, doFFTNorm); err != nil {
		return err
	}
	if err := m.cache.FlushAvgPB(sens, m.opts.SensitivityQualifier); err != nil {
		return fmt.Errorf("failed to persist sensitivity image: %w", err)
	}
	m.sensitivity = sens
	m.sensitivitySq = sq
	m.pb = SensitivityComputed
	m.stats.SensitivityComputes++
	logf("sensitivity image computed, PB peaks %v", m.acc.PBPeaks())
	return nil
}

// SensitivityImage returns the sensitivity image, or nil before it exists.
func (m *Machine) SensitivityImage() *lattice.Image[float32] { return m.sensitivity }

// SensitivitySqImage returns the squared sensitivity image computed in
// this run, or nil when it was loaded from the cache or is pending.
func (m *Machine) SensitivitySqImage() *lattice.Image[complex64] { return m.sensitivitySq }

// WeightImage returns the weight lattice: gridded weight kernels before
// the sensitivity image is computed, their normalised transform after.
func (m *Machine) WeightImage() *lattice.Lattice[complex128] { return m.griddedWeights }

// SumWeight returns the live sum of weights of the current cycle.
func (m *Machine) SumWeight() *mat.Dense { return m.sumWeight }
