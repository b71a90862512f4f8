// Package interpolation turns a sparse per-window displacement field into a
// dense per-pixel deformation field covering the whole frame. The
// interpolation is separable: each grid row is interpolated along x, then the
// row results are interpolated along y for every pixel column.
package interpolation

import (
	"fmt"

	"gonum.org/v1/gonum/interp"

	"pivflow/internal/models"
)

// Densify interpolates the sparse (u, v) samples over grid onto every pixel
// of a width x height frame. Order 0 selects piecewise-constant, order 1
// piecewise-linear and order >= 2 Akima spline interpolation; an axis with
// fewer than four nodes falls back to linear. Pixel coordinates outside the
// grid hull are clamped to it, so boundary values extrapolate as constants
// and the result is free of NaNs for any valid configuration.
func Densify(width, height int, g *models.Grid, fld *models.Field, order int) (*models.Deformation, error) {
	if order < 0 {
		return nil, &models.ConfigError{Reason: fmt.Sprintf("interpolation order must be non-negative, got %d", order)}
	}
	if fld.Rows != g.Rows || fld.Cols != g.Cols {
		return nil, fmt.Errorf("field shape (%d,%d) does not match grid shape (%d,%d)",
			fld.Rows, fld.Cols, g.Rows, g.Cols)
	}

	def := &models.Deformation{
		Ut:     make([]float64, width*height),
		Vt:     make([]float64, width*height),
		Width:  width,
		Height: height,
	}

	if err := densifyComponent(def.Ut, width, height, g, fld, componentU, order); err != nil {
		return nil, err
	}
	if err := densifyComponent(def.Vt, width, height, g, fld, componentV, order); err != nil {
		return nil, err
	}
	return def, nil
}

type component int

const (
	componentU component = iota
	componentV
)

// sampleValue returns the numeric value of entry i, treating entries flagged
// invalid as zero so excluded regions carry no motion into the deformation.
func sampleValue(fld *models.Field, c component, i int) float64 {
	if fld.Valid != nil && !fld.Valid[i] {
		return 0
	}
	if c == componentU {
		return fld.U[i]
	}
	return fld.V[i]
}

func densifyComponent(dst []float64, width, height int, g *models.Grid, fld *models.Field, c component, order int) error {
	rows, cols := g.Rows, g.Cols

	// Stage 1: interpolate each grid row along x at every pixel column.
	rowVals := make([][]float64, rows)
	rowData := make([]float64, cols)
	for i := 0; i < rows; i++ {
		for j := 0; j < cols; j++ {
			rowData[j] = sampleValue(fld, c, i*cols+j)
		}
		vals, err := interpolateLine(g.X, rowData, width, order)
		if err != nil {
			return fmt.Errorf("row %d: %w", i, err)
		}
		rowVals[i] = vals
	}

	// Stage 2: interpolate along y for each pixel column.
	colData := make([]float64, rows)
	for x := 0; x < width; x++ {
		for i := 0; i < rows; i++ {
			colData[i] = rowVals[i][x]
		}
		vals, err := interpolateLine(g.Y, colData, height, order)
		if err != nil {
			return fmt.Errorf("column %d: %w", x, err)
		}
		for y := 0; y < height; y++ {
			dst[y*width+x] = vals[y]
		}
	}
	return nil
}

// interpolateLine evaluates a 1D interpolant fitted to (xs, ys) at integer
// coordinates 0..n-1, clamping the query into [xs[0], xs[len-1]].
func interpolateLine(xs, ys []float64, n, order int) ([]float64, error) {
	out := make([]float64, n)

	if len(xs) == 1 {
		for i := range out {
			out[i] = ys[0]
		}
		return out, nil
	}

	predictor, err := newPredictor(xs, ys, order)
	if err != nil {
		return nil, err
	}

	lo, hi := xs[0], xs[len(xs)-1]
	for i := 0; i < n; i++ {
		x := float64(i)
		if x < lo {
			x = lo
		} else if x > hi {
			x = hi
		}
		out[i] = predictor.Predict(x)
	}
	return out, nil
}

// newPredictor builds the gonum interpolant matching the requested order.
func newPredictor(xs, ys []float64, order int) (interp.Predictor, error) {
	switch {
	case order == 0:
		var p interp.PiecewiseConstant
		if err := p.Fit(xs, ys); err != nil {
			return nil, fmt.Errorf("fit piecewise constant: %w", err)
		}
		return &p, nil
	case order == 1 || len(xs) < 4:
		var p interp.PiecewiseLinear
		if err := p.Fit(xs, ys); err != nil {
			return nil, fmt.Errorf("fit piecewise linear: %w", err)
		}
		return &p, nil
	default:
		var p interp.AkimaSpline
		if err := p.Fit(xs, ys); err != nil {
			return nil, fmt.Errorf("fit akima spline: %w", err)
		}
		return &p, nil
	}
}
