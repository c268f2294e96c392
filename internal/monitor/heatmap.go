// Package monitor renders diagnostic plots of imaging runs: PNG heatmaps
// of image planes and an HTML timeline of the parallactic angle seen by
// the gridder.
package monitor

import (
	"fmt"
	"os"
	"path/filepath"

	"gonum.org/v1/plot"
	"gonum.org/v1/plot/palette"
	"gonum.org/v1/plot/plotter"
	"gonum.org/v1/plot/vg"

	"github.com/banshee-data/awimager/internal/lattice"
	"github.com/banshee-data/awimager/internal/units"
)

// planeGrid adapts one (pol, chan) plane to plotter.GridXYZ. X and Y are
// offsets from the reference pixel in arcseconds.
type planeGrid struct {
	shape  lattice.Shape
	plane  []float32
	refPix [2]float64
	inc    [2]float64
}

func (g planeGrid) Dims() (c, r int) { return g.shape.NX, g.shape.NY }
func (g planeGrid) Z(c, r int) float64 { return float64(g.plane[r*g.shape.NX+c]) }
func (g planeGrid) X(c int) float64 {
	return (float64(c) - g.refPix[0]) * g.inc[0] * units.ArcsecPerRadian
}
func (g planeGrid) Y(r int) float64 {
	return (float64(r) - g.refPix[1]) * g.inc[1] * units.ArcsecPerRadian
}

func newPlaneGrid(img *lattice.Image[float32], pol, ch int) (planeGrid, error) {
	if img == nil || img.Lattice == nil {
		return planeGrid{}, fmt.Errorf("no image to plot")
	}
	s := img.Shape()
	if pol < 0 || pol >= s.NPol || ch < 0 || ch >= s.NChan {
		return planeGrid{}, fmt.Errorf("plane (pol %d, chan %d) outside %s", pol, ch, s)
	}
	dir, err := img.Coords.RequireDirection()
	if err != nil {
		return planeGrid{}, err
	}
	return planeGrid{
		shape:  s,
		plane:  img.Lattice.Plane(pol, ch),
		refPix: dir.RefPixel,
		inc:    dir.Increment,
	}, nil
}

// SavePlanePNG writes a heatmap of plane (pol, ch) of img to path.
func SavePlanePNG(img *lattice.Image[float32], pol, ch int, title, path string) error {
	grid, err := newPlaneGrid(img, pol, ch)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("failed to create output dir: %w", err)
	}

	p := plot.New()
	p.Title.Text = title
	p.X.Label.Text = "l offset (arcsec)"
	p.Y.Label.Text = "m offset (arcsec)"

	hm := plotter.NewHeatMap(grid, palette.Heat(32, 1))
	if flatPlane(grid.plane) {
		// A constant plane has no range for the palette to span.
		hm.Min, hm.Max = hm.Min-0.5, hm.Max+0.5
	}
	p.Add(hm)

	if err := p.Save(8*vg.Inch, 8*vg.Inch, path); err != nil {
		return fmt.Errorf("save heatmap: %w", err)
	}
	logf("wrote %s (pol %d, chan %d) to %s", title, pol, ch, path)
	return nil
}

// SaveSensitivityPNG writes plane (pol, ch) of a sensitivity image.
func SaveSensitivityPNG(img *lattice.Image[float32], pol, ch int, path string) error {
	return SavePlanePNG(img, pol, ch, "Average primary beam", path)
}

func flatPlane(plane []float32) bool {
	for _, v := range plane[1:] {
		if v != plane[0] {
			return false
		}
	}
	return true
}
