package main

import (
	"bytes"
	"flag"
	"fmt"
	"log"
	"os"
	"path/filepath"

	"github.com/astrogo/fitsio"

	"github.com/banshee-data/awimager/internal/awproject"
	"github.com/banshee-data/awimager/internal/cfstore"
	"github.com/banshee-data/awimager/internal/config"
	"github.com/banshee-data/awimager/internal/lattice"
	"github.com/banshee-data/awimager/internal/monitor"
	"github.com/banshee-data/awimager/internal/resample"
	"github.com/banshee-data/awimager/internal/skyequation"
	"github.com/banshee-data/awimager/internal/units"
	"github.com/banshee-data/awimager/internal/version"
	"github.com/banshee-data/awimager/internal/vis"
)

var (
	configPath  = flag.String("config", "", "Path to gridder JSON config (defaults apply when empty)")
	cacheDir    = flag.String("cache", "", "Convolution function cache directory (overrides config)")
	outDir      = flag.String("out", "awimager-out", "Output directory for FITS, PNG and HTML products")
	imageSize   = flag.Int("nx", 128, "Image size in pixels (square)")
	cellArcsec  = flag.Float64("cell-arcsec", 10, "Image cell size in arcseconds")
	nAntennas   = flag.Int("antennas", 12, "Number of simulated antennas")
	nBuffers    = flag.Int("buffers", 24, "Number of simulated visibility buffers")
	paStepDeg   = flag.Float64("pa-step-deg", 0.5, "Parallactic angle change between buffers, degrees")
	fluxJy      = flag.Float64("flux", 1, "Flux of the simulated point source at the phase centre")
	showVersion = flag.Bool("version", false, "Print version information and exit")
)

func main() {
	flag.Parse()

	if *showVersion {
		fmt.Println(version.String())
		return
	}

	cfg := config.EmptyGridderConfig()
	if *configPath != "" {
		var err error
		if cfg, err = config.LoadGridderConfig(*configPath); err != nil {
			log.Fatalf("failed to load config: %v", err)
		}
	}
	if *cacheDir != "" {
		cfg.CacheDir = cacheDir
	}

	products, err := run(runOptions{
		Config:     cfg,
		OutDir:     *outDir,
		NX:         *imageSize,
		CellArcsec: *cellArcsec,
		Sim: simulation{
			Antennas:  *nAntennas,
			Buffers:   *nBuffers,
			PAStepDeg: *paStepDeg,
			Flux:      *fluxJy,
			Freq:      defaultFreq,
			Phase:     defaultPhaseCentre,
		},
	})
	if err != nil {
		log.Fatalf("imaging failed: %v", err)
	}
	log.Printf("PSF peak %.4g; dirty image peak %.4g Jy/beam", products.PSFPeak, products.DirtyPeak)
	for _, p := range products.Files {
		log.Printf("wrote %s", p)
	}
}

type runOptions struct {
	Config     *config.GridderConfig
	OutDir     string
	NX         int
	CellArcsec float64
	Sim        simulation
}

type products struct {
	PSFPeak   float32
	DirtyPeak float32
	Files     []string
	Rotated   int
	Weighted  int
}

// run simulates buffers, seeds the kernel cache, makes the PSF and the
// dirty image and writes the products to opts.OutDir.
func run(opts runOptions) (*products, error) {
	if opts.NX < 8 || opts.CellArcsec <= 0 {
		return nil, fmt.Errorf("image must be at least 8 pixels with a positive cell, got %d and %g", opts.NX, opts.CellArcsec)
	}
	awOpts, err := awproject.NewOptions(opts.Config)
	if err != nil {
		return nil, err
	}
	buffers, err := opts.Sim.buffers()
	if err != nil {
		return nil, err
	}
	if err := os.MkdirAll(opts.OutDir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create output dir: %w", err)
	}

	cache, err := cfstore.Open(opts.Config.GetCacheDir(), cfstore.Options{
		PABucketDeg: opts.Config.GetPABucketDeg(),
		Compress:    opts.Config.GetCompressCache(),
	})
	if err != nil {
		return nil, err
	}
	defer cache.Close()

	cell := units.ArcsecToRad(opts.CellArcsec)
	cf, wt, err := cfstore.NewGaussianCF(cfstore.GaussianSpec{
		Support:  3,
		Sampling: opts.Config.GetOversampling(),
		SigmaX:   1.2,
		SigmaY:   0.8,
		Cell:     cell,
		Freqs:    []float64{opts.Sim.Freq},
	})
	if err != nil {
		return nil, err
	}
	if _, err := cache.Store(awOpts.BaselineClass, 0, cf, wt); err != nil {
		return nil, err
	}

	timeline := monitor.NewPATimeline("Parallactic angle per buffer")
	machine := awproject.New(awOpts, cache, resample.NewConvolutional())
	machine.SetObserver(timeline)
	se := skyequation.New(machine, vis.NewSliceIterator(buffers...), opts.Config.GetFFTNormalize())

	shape := lattice.Shape{NX: opts.NX, NY: opts.NX, NPol: 1, NChan: 1}
	coords := lattice.NewSkyCoordinates(opts.Sim.Phase, opts.NX, opts.NX, cell, []float64{opts.Sim.Freq}, []lattice.Stokes{lattice.StokesI})
	template := lattice.NewImage[float32](shape, coords)

	psf, _, err := se.MakeImage(skyequation.PSF, template)
	if err != nil {
		return nil, fmt.Errorf("PSF: %w", err)
	}
	psfPeak, err := skyequation.ApproximatePSF(psf)
	if err != nil {
		return nil, err
	}
	dirty, sumWt, err := se.MakeImage(skyequation.Observed, template)
	if err != nil {
		return nil, fmt.Errorf("dirty image: %w", err)
	}

	out := &products{PSFPeak: psfPeak, DirtyPeak: peak(dirty)}
	out.Rotated, out.Weighted = timeline.Counts()
	write := func(name string, data []byte) error {
		path := filepath.Join(opts.OutDir, name)
		if err := os.WriteFile(path, data, 0644); err != nil {
			return fmt.Errorf("failed to write %s: %w", path, err)
		}
		out.Files = append(out.Files, path)
		return nil
	}

	for _, img := range []struct {
		name string
		img  *lattice.Image[float32]
	}{
		{"psf.fits", psf},
		{"dirty.fits", dirty},
		{"sensitivity.fits", machine.SensitivityImage()},
	} {
		raw, err := cfstore.EncodeImage(img.img,
			fitsio.Card{Name: "BUNIT", Value: "JY/BEAM"},
			fitsio.Card{Name: "SUMWT", Value: sumWt.At(0, 0)},
			fitsio.Card{Name: "ORIGIN", Value: "awimager " + version.Version},
		)
		if err != nil {
			return nil, err
		}
		if err := write(img.name, raw); err != nil {
			return nil, err
		}
	}

	pngPath := filepath.Join(opts.OutDir, "sensitivity.png")
	if err := monitor.SaveSensitivityPNG(machine.SensitivityImage(), 0, 0, pngPath); err != nil {
		return nil, err
	}
	out.Files = append(out.Files, pngPath)

	var html bytes.Buffer
	if err := timeline.RenderHTML(&html); err != nil {
		return nil, err
	}
	if err := write("pa_timeline.html", html.Bytes()); err != nil {
		return nil, err
	}

	cached, err := cache.Files()
	if err != nil {
		return nil, err
	}
	stats := machine.Stats()
	log.Printf("buffers=%d rotations=%d weight-accumulations=%d cached-files=%d cache=%+v",
		stats.Buffers, stats.Rotations, stats.WeightAccumulations, len(cached), cache.Stats())
	return out, nil
}

func peak(img *lattice.Image[float32]) float32 {
	var p float32
	for i, v := range img.Lattice.Values() {
		if i == 0 || v > p {
			p = v
		}
	}
	return p
}
