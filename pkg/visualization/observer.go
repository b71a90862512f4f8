// Package visualization renders displacement fields as vector plots. The
// PlotObserver plugs into the pipeline's observer slot and writes one PNG per
// completed pass, so the numerical core never touches the filesystem.
package visualization

import (
	"fmt"
	"image/color"
	"os"
	"path/filepath"
	"sync"

	"gonum.org/v1/plot"
	"gonum.org/v1/plot/plotter"
	"gonum.org/v1/plot/vg"
	"gonum.org/v1/plot/vg/draw"

	"pivflow/internal/models"
)

// PlotObserver writes a vector-field plot for every pass the pipeline
// completes. Valid vectors are drawn as scaled line segments from their grid
// points; invalid points are marked with red crosses. Plot rendering must not
// interrupt a run, so failures are collected and reported through Err.
type PlotObserver struct {
	// OutputDir is where pass_NN.png files are written
	OutputDir string

	// Scale stretches the drawn vectors for visibility; zero means 1
	Scale float64

	mu   sync.Mutex
	errs []error
}

// PassCompleted renders the pass's field to OutputDir/pass_NN.png.
func (po *PlotObserver) PassCompleted(pass int, g *models.Grid, fld *models.Field, quality []float64) {
	if err := po.render(pass, g, fld); err != nil {
		po.mu.Lock()
		po.errs = append(po.errs, fmt.Errorf("pass %d: %w", pass, err))
		po.mu.Unlock()
	}
}

// Err returns the first rendering failure, or nil if every plot was written.
func (po *PlotObserver) Err() error {
	po.mu.Lock()
	defer po.mu.Unlock()
	if len(po.errs) == 0 {
		return nil
	}
	return po.errs[0]
}

func (po *PlotObserver) render(pass int, g *models.Grid, fld *models.Field) error {
	if err := os.MkdirAll(po.OutputDir, 0755); err != nil {
		return fmt.Errorf("error creating plot directory: %w", err)
	}

	scale := po.Scale
	if scale == 0 {
		scale = 1
	}

	p := plot.New()
	p.Title.Text = fmt.Sprintf("Displacement field, pass %d (%dx%d)", pass, g.Rows, g.Cols)
	p.X.Label.Text = "x (px)"
	p.Y.Label.Text = "y (px)"

	var invalidPts plotter.XYs
	for i := 0; i < g.Rows; i++ {
		for j := 0; j < g.Cols; j++ {
			idx := i*g.Cols + j
			x, y := g.X[j], g.Y[i]

			if fld.Valid != nil && !fld.Valid[idx] {
				invalidPts = append(invalidPts, plotter.XY{X: x, Y: y})
				continue
			}

			seg, err := plotter.NewLine(plotter.XYs{
				{X: x, Y: y},
				{X: x + scale*fld.U[idx], Y: y + scale*fld.V[idx]},
			})
			if err != nil {
				return fmt.Errorf("error building vector segment: %w", err)
			}
			seg.Width = vg.Points(1)
			seg.Color = color.RGBA{B: 200, A: 255}
			p.Add(seg)
		}
	}

	if len(invalidPts) > 0 {
		scatter, err := plotter.NewScatter(invalidPts)
		if err != nil {
			return fmt.Errorf("error building invalid markers: %w", err)
		}
		scatter.GlyphStyle.Shape = draw.CrossGlyph{}
		scatter.GlyphStyle.Color = color.RGBA{R: 200, A: 255}
		scatter.GlyphStyle.Radius = vg.Points(3)
		p.Add(scatter)
	}

	out := filepath.Join(po.OutputDir, fmt.Sprintf("pass_%02d.png", pass))
	if err := p.Save(8*vg.Inch, 8*vg.Inch, out); err != nil {
		return fmt.Errorf("error saving plot: %w", err)
	}
	return nil
}
