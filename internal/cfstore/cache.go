package cfstore

import (
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"math"
	"path/filepath"
	"regexp"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/banshee-data/awimager/internal/db"
	"github.com/banshee-data/awimager/internal/fsutil"
	"github.com/banshee-data/awimager/internal/lattice"
	"github.com/banshee-data/awimager/internal/monitoring"
	"github.com/banshee-data/awimager/internal/timeutil"
	"github.com/banshee-data/awimager/internal/units"
)

var logf = monitoring.Component("CFCache")

// Options configures a Cache. Zero values select defaults.
type Options struct {
	FS          fsutil.FileSystem // default OSFileSystem
	Clock       timeutil.Clock    // default RealClock
	IndexPath   string            // default <dir>/cfcache.db
	PABucketDeg float64           // default 5
	Compress    bool              // zstd-compress kernel files
}

type entry struct {
	cf, wt *CFStore
}

// Cache holds convolution functions and sensitivity images for one imaging
// run, backed by FITS files under a directory and a sqlite index.
type Cache struct {
	dir         string
	fs          fsutil.FileSystem
	clock       timeutil.Clock
	index       *db.DB
	paBucketDeg float64
	compress    bool
	runID       string
	opened      time.Time

	cfs   map[Key]entry
	avgPB map[string]*lattice.Image[float32]
	stats Stats
}

// Open creates dir if needed and opens the cache index.
func Open(dir string, opts Options) (*Cache, error) {
	if opts.FS == nil {
		opts.FS = fsutil.OSFileSystem{}
	}
	if opts.Clock == nil {
		opts.Clock = timeutil.RealClock{}
	}
	if opts.IndexPath == "" {
		opts.IndexPath = filepath.Join(dir, "cfcache.db")
	}
	if opts.PABucketDeg <= 0 {
		opts.PABucketDeg = 5
	}
	if err := opts.FS.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create cache directory %s: %w", dir, err)
	}
	index, err := db.Open(opts.IndexPath)
	if err != nil {
		return nil, err
	}
	c := &Cache{
		dir:         dir,
		fs:          opts.FS,
		clock:       opts.Clock,
		index:       index,
		paBucketDeg: opts.PABucketDeg,
		compress:    opts.Compress,
		runID:       uuid.NewString(),
		opened:      opts.Clock.Now(),
		cfs:         make(map[Key]entry),
		avgPB:       make(map[string]*lattice.Image[float32]),
	}
	logf("opened %s (run %s)", dir, c.runID)
	return c, nil
}

// RunID identifies this imaging run in flush records.
func (c *Cache) RunID() string { return c.runID }

// Dir returns the cache directory.
func (c *Cache) Dir() string { return c.dir }

// Index exposes the sqlite index for reporting.
func (c *Cache) Index() *db.DB { return c.index }

// KeyFor builds the cache key for a kernel computed at pa.
func (c *Cache) KeyFor(baselineClass, freqIndex int, pa float64) Key {
	return Key{BaselineClass: baselineClass, PABucket: BucketFor(pa, c.paBucketDeg), FreqIndex: freqIndex}
}

// Store writes a kernel (and optional weight kernel) to disk, indexes it
// and keeps it in memory.
func (c *Cache) Store(baselineClass, freqIndex int, cf, wt *CFStore) (Key, error) {
	key := c.KeyFor(baselineClass, freqIndex, cf.PA)
	if wt != nil && !cf.CompatibleWith(wt) {
		return key, fmt.Errorf("weight kernel for %s has a different pixel scale or sampling", key)
	}
	base := fmt.Sprintf("cf_c%d_pa%d_f%d", key.BaselineClass, key.PABucket, key.FreqIndex)
	cfPath, err := c.writeCF(filepath.Join(c.dir, base+".fits"), cf)
	if err != nil {
		return key, err
	}
	var wtPath string
	if wt != nil {
		if wtPath, err = c.writeCF(filepath.Join(c.dir, base+"_wt.fits"), wt); err != nil {
			return key, err
		}
	}
	err = c.index.UpsertCFEntry(db.CFEntry{
		BaselineClass:    key.BaselineClass,
		PABucket:         key.PABucket,
		FreqIndex:        key.FreqIndex,
		PARad:            cf.PA,
		Sampling:         cf.Sampling,
		CFPath:           cfPath,
		WtPath:           wtPath,
		CreatedUnixNanos: c.clock.Now().UnixNano(),
	})
	if err != nil {
		return key, err
	}
	c.cfs[key] = entry{cf: cf, wt: wt}
	c.stats.Stored++
	return key, nil
}

// Lookup returns the kernel pair cached nearest in PA to pa for the given
// class and frequency. Memory is consulted first, then the index. The
// weight kernel is nil when none was stored.
func (c *Cache) Lookup(baselineClass, freqIndex int, pa float64) (cf, wt *CFStore, err error) {
	key := c.KeyFor(baselineClass, freqIndex, pa)
	if e, ok := c.cfs[key]; ok {
		c.stats.Hits++
		return e.cf, e.wt, nil
	}
	rows, err := c.index.ListCFEntries(baselineClass, freqIndex)
	if err != nil {
		return nil, nil, err
	}
	if len(rows) == 0 {
		c.stats.Misses++
		return nil, nil, fmt.Errorf("%w: %s", ErrNotCached, key)
	}
	best := rows[0]
	for _, r := range rows[1:] {
		if paDistance(r.PARad, pa) < paDistance(best.PARad, pa) {
			best = r
		}
	}
	nearest := Key{BaselineClass: best.BaselineClass, PABucket: best.PABucket, FreqIndex: best.FreqIndex}
	if e, ok := c.cfs[nearest]; ok {
		c.stats.Hits++
		return e.cf, e.wt, nil
	}
	cf, err = c.readCF(best.CFPath)
	if err != nil {
		return nil, nil, err
	}
	if best.WtPath != "" {
		if wt, err = c.readCF(best.WtPath); err != nil {
			return nil, nil, err
		}
	}
	c.cfs[nearest] = entry{cf: cf, wt: wt}
	c.stats.DiskLoads++
	logf("loaded %s from disk (PA %.2f deg)", nearest, units.RadToDeg(best.PARad))
	return cf, wt, nil
}

// LoadAvgPB returns the sensitivity image stored under qualifier.
// A missing image is reported as NotCached with a nil error.
func (c *Cache) LoadAvgPB(qualifier string) (*lattice.Image[float32], LoadStatus, error) {
	if img, ok := c.avgPB[qualifier]; ok {
		return img, Found, nil
	}
	rec, err := c.index.GetAvgPB(qualifier)
	if errors.Is(err, db.ErrNotFound) {
		return nil, NotCached, nil
	}
	if err != nil {
		return nil, NotCached, err
	}
	if err := checkWithinDir(rec.Path, c.dir); err != nil {
		return nil, NotCached, err
	}
	raw, err := c.fs.ReadFile(rec.Path)
	if err != nil {
		// The index outlived its file; treat as a cache miss.
		logf("sensitivity image %s indexed but unreadable: %v", rec.Path, err)
		return nil, NotCached, nil
	}
	img, err := DecodeImage(raw)
	if err != nil {
		return nil, NotCached, fmt.Errorf("failed to decode sensitivity image %s: %w", rec.Path, err)
	}
	c.avgPB[qualifier] = img
	c.stats.AvgPBLoads++
	logf("loaded sensitivity image %q (%s) from run %s", qualifier, img.Shape(), rec.RunID)
	return img, Found, nil
}

// FlushAvgPB persists a sensitivity image under qualifier.
func (c *Cache) FlushAvgPB(img *lattice.Image[float32], qualifier string) error {
	if err := img.Validate(); err != nil {
		return err
	}
	path := c.avgPBPath(qualifier)
	raw, err := EncodeImage(img)
	if err != nil {
		return err
	}
	if err := c.fs.WriteFile(path, raw, 0o644); err != nil {
		return fmt.Errorf("failed to write sensitivity image %s: %w", path, err)
	}
	s := img.Shape()
	err = c.index.UpsertAvgPB(db.AvgPBRecord{
		Qualifier:        qualifier,
		Path:             path,
		RunID:            c.runID,
		NX:               s.NX,
		NY:               s.NY,
		NPol:             s.NPol,
		NChan:            s.NChan,
		CreatedUnixNanos: c.clock.Now().UnixNano(),
	})
	if err != nil {
		return err
	}
	c.avgPB[qualifier] = img
	c.stats.AvgPBFlushes++
	return nil
}

// Flush records this run's cache activity in the index and drops the
// in-memory entries. Persisted files are left in place.
func (c *Cache) Flush() error {
	_, err := c.index.RecordFlush(db.FlushRecord{
		RunID:            c.runID,
		FlushedUnixNanos: c.clock.Now().UnixNano(),
		CFEntries:        len(c.cfs),
		AvgPBImages:      len(c.avgPB),
		Hits:             c.stats.Hits,
		Misses:           c.stats.Misses,
	})
	if err != nil {
		return err
	}
	logf("flushed %d kernels, %d sensitivity images after %s (hits=%d loads=%d misses=%d)",
		len(c.cfs), len(c.avgPB), c.clock.Since(c.opened).Round(time.Millisecond), c.stats.Hits, c.stats.DiskLoads, c.stats.Misses)
	c.cfs = make(map[Key]entry)
	c.avgPB = make(map[string]*lattice.Image[float32])
	c.stats = Stats{}
	return nil
}

// Stats returns counters accumulated since the last Flush.
func (c *Cache) Stats() Stats { return c.stats }

// Files lists the kernel and sensitivity files in the cache directory.
func (c *Cache) Files() ([]string, error) {
	names, err := c.fs.List(c.dir)
	if err != nil {
		return nil, fmt.Errorf("failed to list cache directory %s: %w", c.dir, err)
	}
	out := names[:0]
	for _, n := range names {
		if strings.HasSuffix(n, ".fits") || strings.HasSuffix(n, ".fits"+zstdSuffix) {
			out = append(out, n)
		}
	}
	return out, nil
}

// Close releases the index.
func (c *Cache) Close() error {
	return c.index.Close()
}

// writeCF encodes cf to path, or to path with a .zst suffix when
// compression is enabled, and returns the path written.
func (c *Cache) writeCF(path string, cf *CFStore) (string, error) {
	raw, err := EncodeCF(cf)
	if err != nil {
		return "", err
	}
	if c.compress {
		raw = compress(raw)
		path += zstdSuffix
	}
	if err := c.fs.WriteFile(path, raw, 0o644); err != nil {
		return "", fmt.Errorf("failed to write kernel %s: %w", path, err)
	}
	return path, nil
}

func (c *Cache) readCF(path string) (*CFStore, error) {
	if err := checkWithinDir(path, c.dir); err != nil {
		return nil, err
	}
	raw, err := c.fs.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read kernel %s: %w", path, err)
	}
	if strings.HasSuffix(path, zstdSuffix) {
		if raw, err = decompress(raw); err != nil {
			return nil, fmt.Errorf("failed to decompress kernel %s: %w", path, err)
		}
	}
	cf, err := DecodeCF(raw)
	if err != nil {
		return nil, fmt.Errorf("failed to decode kernel %s: %w", path, err)
	}
	return cf, nil
}

var unsafeChars = regexp.MustCompile(`[^A-Za-z0-9_.-]+`)

// avgPBPath names the sensitivity image file for qualifier. The sanitised
// qualifier is followed by a short hash of the raw one so that qualifiers
// differing only in replaced characters get distinct files.
func (c *Cache) avgPBPath(qualifier string) string {
	if qualifier == "" {
		return filepath.Join(c.dir, "avgpb.fits")
	}
	sum := sha256.Sum256([]byte(qualifier))
	name := fmt.Sprintf("avgpb_%s_%s.fits", unsafeChars.ReplaceAllString(qualifier, "_"), hex.EncodeToString(sum[:4]))
	return filepath.Join(c.dir, name)
}

// paDistance is the unsigned angle between two PAs, wrapped at +-pi.
func paDistance(a, b float64) float64 {
	return math.Abs(units.AngularDifference(a, b))
}
