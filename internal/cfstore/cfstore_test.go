package cfstore

import (
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/banshee-data/awimager/internal/db"
	"github.com/banshee-data/awimager/internal/fsutil"
	"github.com/banshee-data/awimager/internal/lattice"
	"github.com/banshee-data/awimager/internal/timeutil"
	"github.com/banshee-data/awimager/internal/units"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testKernels(t *testing.T, paDeg float64) (*CFStore, *CFStore) {
	t.Helper()
	cf, wt, err := NewGaussianCF(GaussianSpec{
		Support:  2,
		Sampling: 4,
		SigmaX:   1.0,
		SigmaY:   0.6,
		PA:       units.DegToRad(paDeg),
		Cell:     units.ArcsecToRad(10),
		Freqs:    []float64{1.4e9},
		Stokes:   []lattice.Stokes{lattice.StokesI},
	})
	require.NoError(t, err)
	return cf, wt
}

func openMemoryCache(t *testing.T) (*Cache, *fsutil.MemoryFileSystem) {
	t.Helper()
	mfs := fsutil.NewMemoryFileSystem()
	c, err := Open("/cache", Options{
		FS:        mfs,
		Clock:     timeutil.NewMockClock(time.Unix(1700000000, 0)),
		IndexPath: filepath.Join(t.TempDir(), "cfcache.db"),
	})
	require.NoError(t, err)
	t.Cleanup(func() { c.Close() })
	return c, mfs
}

// ---------------------------------------------------------------------------
// CFStore
// ---------------------------------------------------------------------------

func TestNewGaussianCF(t *testing.T) {
	t.Parallel()
	cf, wt := testKernels(t, 0)

	require.NoError(t, cf.Validate())
	require.NoError(t, wt.Validate())
	assert.Equal(t, 2, cf.MaxSupport())
	assert.Equal(t, 3, wt.MaxSupport())
	assert.True(t, cf.CompatibleWith(wt))

	c := cf.Data.Shape().NX / 2
	assert.Equal(t, complex(1, 0), cf.Data.At(c, c, 0, 0))
	// Wider along x than y.
	assert.Greater(t, real(cf.Data.At(c+4, c, 0, 0)), real(cf.Data.At(c, c+4, 0, 0)))
	// Zero outside the support.
	assert.Equal(t, complex(0, 0), cf.Data.At(0, 0, 0, 0))
}

func TestNewGaussianCFRejectsBadSpec(t *testing.T) {
	t.Parallel()
	_, _, err := NewGaussianCF(GaussianSpec{Support: 0, Sampling: 4, SigmaX: 1, SigmaY: 1, Freqs: []float64{1e9}})
	assert.Error(t, err)
	_, _, err = NewGaussianCF(GaussianSpec{Support: 2, Sampling: 4, SigmaX: 0, SigmaY: 1, Freqs: []float64{1e9}})
	assert.Error(t, err)
	_, _, err = NewGaussianCF(GaussianSpec{Support: 2, Sampling: 4, SigmaX: 1, SigmaY: 1})
	assert.Error(t, err)
}

func TestCFStoreValidate(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name   string
		mutate func(cf *CFStore)
		target error
	}{
		{"no direction", func(cf *CFStore) { cf.Coords.Direction = nil }, lattice.ErrNoDirectionCoordinate},
		{"zero sampling", func(cf *CFStore) { cf.Sampling = 0 }, nil},
		{"support too large", func(cf *CFStore) { cf.XSupport[0] = 50 }, nil},
		{"missing channel support", func(cf *CFStore) { cf.YSupport = nil }, nil},
		{"non-square", func(cf *CFStore) {
			cf.Data = lattice.New[complex128](lattice.Shape{NX: 8, NY: 9, NPol: 1, NChan: 1})
		}, nil},
	}
	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			cf, _ := testKernels(t, 0)
			tt.mutate(cf)
			err := cf.Validate()
			require.Error(t, err)
			if tt.target != nil {
				assert.ErrorIs(t, err, tt.target)
			}
		})
	}
}

func TestBucketFor(t *testing.T) {
	t.Parallel()
	assert.Equal(t, 0, BucketFor(units.DegToRad(2.4), 5))
	assert.Equal(t, 1, BucketFor(units.DegToRad(2.6), 5))
	assert.Equal(t, -2, BucketFor(units.DegToRad(-10), 5))
	assert.Equal(t, 36, BucketFor(units.DegToRad(36), 1))
}

// ---------------------------------------------------------------------------
// FITS codec
// ---------------------------------------------------------------------------

func TestCFSurvivesFITS(t *testing.T) {
	t.Parallel()
	cf, _ := testKernels(t, 30)
	cf.Data.SetAt(3, 4, 0, 0, complex(0.25, -0.5))

	raw, err := EncodeCF(cf)
	require.NoError(t, err)
	got, err := DecodeCF(raw)
	require.NoError(t, err)

	assert.Equal(t, cf.Data.Shape(), got.Data.Shape())
	assert.Equal(t, cf.Data.Values(), got.Data.Values())
	assert.InDelta(t, cf.PA, got.PA, 1e-12)
	assert.Equal(t, cf.Sampling, got.Sampling)
	assert.Equal(t, cf.XSupport, got.XSupport)
	assert.Equal(t, cf.Coords.Stokes, got.Coords.Stokes)
	assert.True(t, cf.Coords.SamePixelScale(got.Coords))
	assert.InDelta(t, cf.Coords.Direction.RefPixel[0], got.Coords.Direction.RefPixel[0], 1e-9)
}

func TestImageSurvivesFITS(t *testing.T) {
	t.Parallel()
	coords := lattice.NewSkyCoordinates(lattice.Direction{RA: 1, Dec: 0.5}, 4, 4, 1e-5,
		[]float64{1.4e9, 1.5e9}, []lattice.Stokes{lattice.StokesRR, lattice.StokesLL})
	img := lattice.NewImage[float32](lattice.Shape{NX: 4, NY: 4, NPol: 2, NChan: 2}, coords)
	img.Lattice.SetAt(1, 2, 1, 1, 0.75)

	raw, err := EncodeImage(img)
	require.NoError(t, err)
	got, err := DecodeImage(raw)
	require.NoError(t, err)

	assert.Equal(t, img.Lattice.Values(), got.Lattice.Values())
	assert.Equal(t, coords.Spectral.Frequencies, got.Coords.Spectral.Frequencies)
	assert.Equal(t, coords.Stokes, got.Coords.Stokes)
	assert.InDelta(t, 0.5, got.Coords.Direction.RefValue.Dec, 1e-12)
}

func TestDecodeRejectsGarbage(t *testing.T) {
	t.Parallel()
	_, err := DecodeCF([]byte("not a fits file"))
	assert.Error(t, err)
	_, err = DecodeImage(nil)
	assert.Error(t, err)
}

// ---------------------------------------------------------------------------
// Cache
// ---------------------------------------------------------------------------

func TestCacheStoreAndLookup(t *testing.T) {
	t.Parallel()
	c, mfs := openMemoryCache(t)
	cf, wt := testKernels(t, 10)

	key, err := c.Store(0, 0, cf, wt)
	require.NoError(t, err)
	assert.Equal(t, Key{BaselineClass: 0, PABucket: 2, FreqIndex: 0}, key)
	assert.True(t, mfs.Exists("/cache/cf_c0_pa2_f0.fits"))
	assert.True(t, mfs.Exists("/cache/cf_c0_pa2_f0_wt.fits"))
	files, err := c.Files()
	require.NoError(t, err)
	assert.Equal(t, []string{"cf_c0_pa2_f0.fits", "cf_c0_pa2_f0_wt.fits"}, files)

	gotCF, gotWt, err := c.Lookup(0, 0, units.DegToRad(11))
	require.NoError(t, err)
	assert.Same(t, cf, gotCF)
	assert.Same(t, wt, gotWt)
	assert.Equal(t, 1, c.Stats().Hits)
}

func TestCacheLookupNearestFromDisk(t *testing.T) {
	t.Parallel()
	c, _ := openMemoryCache(t)
	cf0, _ := testKernels(t, 0)
	cf30, wt30 := testKernels(t, 30)
	_, err := c.Store(0, 0, cf0, nil)
	require.NoError(t, err)
	_, err = c.Store(0, 0, cf30, wt30)
	require.NoError(t, err)
	require.NoError(t, c.Flush())

	// 24 deg is bucket 5, nearest cached is bucket 6 (30 deg).
	got, gotWt, err := c.Lookup(0, 0, units.DegToRad(24))
	require.NoError(t, err)
	assert.InDelta(t, units.DegToRad(30), got.PA, 1e-9)
	require.NotNil(t, gotWt)
	assert.Equal(t, 1, c.Stats().DiskLoads)

	// Second lookup is served from memory.
	_, _, err = c.Lookup(0, 0, units.DegToRad(24))
	require.NoError(t, err)
	assert.Equal(t, 1, c.Stats().Hits)

	// No weight kernel was stored at 0 deg.
	_, gotWt, err = c.Lookup(0, 0, units.DegToRad(1))
	require.NoError(t, err)
	assert.Nil(t, gotWt)
}

func TestCacheLookupNearestAcrossWrap(t *testing.T) {
	t.Parallel()
	c, _ := openMemoryCache(t)
	cfNeg, _ := testKernels(t, -179)
	cf90, _ := testKernels(t, 90)
	_, err := c.Store(0, 0, cfNeg, nil)
	require.NoError(t, err)
	_, err = c.Store(0, 0, cf90, nil)
	require.NoError(t, err)
	require.NoError(t, c.Flush())

	// 179 deg is 2 deg from -179 deg and 89 deg from 90 deg.
	got, _, err := c.Lookup(0, 0, units.DegToRad(179))
	require.NoError(t, err)
	assert.InDelta(t, units.DegToRad(-179), got.PA, 1e-9)

	got, _, err = c.Lookup(0, 0, units.DegToRad(-100))
	require.NoError(t, err)
	assert.InDelta(t, units.DegToRad(-179), got.PA, 1e-9)
}

func TestPADistance(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name string
		a, b float64
		want float64
	}{
		{"same", 10, 10, 0},
		{"plain", 10, 40, 30},
		{"across wrap", 179, -179, 2},
		{"opposite", 90, -90, 180},
	}
	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			got := paDistance(units.DegToRad(tt.a), units.DegToRad(tt.b))
			assert.InDelta(t, units.DegToRad(tt.want), got, 1e-9)
		})
	}
}

func TestCacheCompressedKernels(t *testing.T) {
	t.Parallel()
	mfs := fsutil.NewMemoryFileSystem()
	c, err := Open("/cache", Options{FS: mfs, IndexPath: filepath.Join(t.TempDir(), "cfcache.db"), Compress: true})
	require.NoError(t, err)
	t.Cleanup(func() { c.Close() })

	cf, wt := testKernels(t, 0)
	_, err = c.Store(0, 0, cf, wt)
	require.NoError(t, err)
	require.True(t, mfs.Exists("/cache/cf_c0_pa0_f0.fits.zst"))
	assert.False(t, mfs.Exists("/cache/cf_c0_pa0_f0.fits"))

	plain, err := EncodeCF(cf)
	require.NoError(t, err)
	packed, err := mfs.ReadFile("/cache/cf_c0_pa0_f0.fits.zst")
	require.NoError(t, err)
	assert.Less(t, len(packed), len(plain))

	require.NoError(t, c.Flush())
	got, gotWt, err := c.Lookup(0, 0, 0)
	require.NoError(t, err)
	assert.Equal(t, cf.Data.Values(), got.Data.Values())
	assert.Equal(t, wt.YSupport, gotWt.YSupport)
	assert.Equal(t, 1, c.Stats().DiskLoads)
}

func TestDecompressRejectsGarbage(t *testing.T) {
	t.Parallel()
	_, err := decompress([]byte("not zstd"))
	assert.Error(t, err)
}

func TestCacheLookupMiss(t *testing.T) {
	t.Parallel()
	c, _ := openMemoryCache(t)
	_, _, err := c.Lookup(3, 0, 0)
	assert.True(t, errors.Is(err, ErrNotCached))
	assert.Equal(t, 1, c.Stats().Misses)
}

func TestCacheStoreRejectsIncompatibleWeight(t *testing.T) {
	t.Parallel()
	c, _ := openMemoryCache(t)
	cf, wt := testKernels(t, 0)
	wt.Sampling = 8
	_, err := c.Store(0, 0, cf, wt)
	assert.Error(t, err)
}

func TestAvgPBLifecycle(t *testing.T) {
	t.Parallel()
	dir := t.TempDir()
	opts := Options{Clock: timeutil.NewMockClock(time.Unix(1700000000, 0))}

	c, err := Open(dir, opts)
	require.NoError(t, err)

	img, status, err := c.LoadAvgPB("spw0")
	require.NoError(t, err)
	assert.Equal(t, NotCached, status)
	assert.Nil(t, img)

	coords := lattice.NewSkyCoordinates(lattice.Direction{}, 8, 8, 1e-5, []float64{1.4e9}, []lattice.Stokes{lattice.StokesI})
	pb := lattice.NewImage[float32](lattice.Shape{NX: 8, NY: 8, NPol: 1, NChan: 1}, coords)
	pb.Lattice.SetAt(4, 4, 0, 0, 1)
	require.NoError(t, c.FlushAvgPB(pb, "spw0"))
	require.NoError(t, c.Flush())

	flushes, err := c.Index().ListFlushes(c.RunID())
	require.NoError(t, err)
	require.Len(t, flushes, 1)
	assert.Equal(t, 1, flushes[0].AvgPBImages)
	require.NoError(t, c.Close())

	// A later run finds it on disk.
	c2, err := Open(dir, opts)
	require.NoError(t, err)
	defer c2.Close()
	assert.NotEqual(t, c.RunID(), c2.RunID())

	got, status, err := c2.LoadAvgPB("spw0")
	require.NoError(t, err)
	assert.Equal(t, Found, status)
	assert.Equal(t, float32(1), got.Lattice.At(4, 4, 0, 0))
	assert.Equal(t, 1, c2.Stats().AvgPBLoads)

	_, status, err = c2.LoadAvgPB("other")
	require.NoError(t, err)
	assert.Equal(t, NotCached, status)
}

func TestLoadAvgPBMissingFileIsNotCached(t *testing.T) {
	t.Parallel()
	c, mfs := openMemoryCache(t)
	coords := lattice.NewSkyCoordinates(lattice.Direction{}, 4, 4, 1e-5, nil, nil)
	pb := lattice.NewImage[float32](lattice.Shape{NX: 4, NY: 4, NPol: 1, NChan: 1}, coords)
	require.NoError(t, c.FlushAvgPB(pb, "a/b c"))
	require.NoError(t, c.Flush())

	require.NoError(t, mfs.Remove(c.avgPBPath("a/b c")))
	_, status, err := c.LoadAvgPB("a/b c")
	require.NoError(t, err)
	assert.Equal(t, NotCached, status)
}

func TestAvgPBQualifiersDoNotCollide(t *testing.T) {
	t.Parallel()
	c, mfs := openMemoryCache(t)
	coords := lattice.NewSkyCoordinates(lattice.Direction{}, 4, 4, 1e-5, nil, nil)
	shape := lattice.Shape{NX: 4, NY: 4, NPol: 1, NChan: 1}
	slash := lattice.NewImage[float32](shape, coords)
	slash.Lattice.Set(1)
	under := lattice.NewImage[float32](shape, coords)
	under.Lattice.Set(2)

	require.NoError(t, c.FlushAvgPB(slash, "a/b"))
	require.NoError(t, c.FlushAvgPB(under, "a_b"))
	require.NotEqual(t, c.avgPBPath("a/b"), c.avgPBPath("a_b"))
	assert.True(t, mfs.Exists(c.avgPBPath("a/b")))
	assert.True(t, mfs.Exists(c.avgPBPath("a_b")))
	assert.Equal(t, "/cache/avgpb.fits", c.avgPBPath(""))
	require.NoError(t, c.Flush())

	got, status, err := c.LoadAvgPB("a/b")
	require.NoError(t, err)
	require.Equal(t, Found, status)
	assert.Equal(t, float32(1), got.Lattice.At(0, 0, 0, 0))

	got, status, err = c.LoadAvgPB("a_b")
	require.NoError(t, err)
	require.Equal(t, Found, status)
	assert.Equal(t, float32(2), got.Lattice.At(0, 0, 0, 0))
}

func TestCheckWithinDir(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name    string
		path    string
		wantErr bool
	}{
		{"direct child", "/cache/cf.fits", false},
		{"nested", "/cache/sub/cf.fits", false},
		{"dot segments inside", "/cache/sub/../cf.fits", false},
		{"parent", "/cache/../etc/passwd", true},
		{"sibling prefix", "/cachex/cf.fits", true},
		{"the directory itself", "/cache", false},
	}
	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			err := checkWithinDir(tt.path, "/cache")
			if tt.wantErr {
				assert.ErrorIs(t, err, ErrOutsideCache)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestLookupRejectsEscapingIndexEntry(t *testing.T) {
	t.Parallel()
	c, mfs := openMemoryCache(t)
	cf, _ := testKernels(t, 0)
	raw, err := EncodeCF(cf)
	require.NoError(t, err)
	require.NoError(t, mfs.MkdirAll("/elsewhere", 0o755))
	require.NoError(t, mfs.WriteFile("/elsewhere/cf.fits", raw, 0o644))
	require.NoError(t, c.Index().UpsertCFEntry(db.CFEntry{PABucket: 0, CFPath: "/elsewhere/cf.fits", Sampling: 4}))

	_, _, err = c.Lookup(0, 0, 0)
	assert.ErrorIs(t, err, ErrOutsideCache)
}

func TestLoadStatusString(t *testing.T) {
	t.Parallel()
	assert.Equal(t, "FOUND", Found.String())
	assert.Equal(t, "NOT_CACHED", NotCached.String())
}
