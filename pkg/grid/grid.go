// Package grid computes interrogation grids: the window-center coordinates
// that tile a frame for a given window size and overlap.
package grid

import (
	"fmt"

	"pivflow/internal/models"
)

// Shape returns the grid shape produced by Partition for the given frame
// dimensions, without allocating coordinates. It is the closed-form
// floor((dim - window) / (window - overlap)) + 1 per axis.
func Shape(width, height, windowSize, overlap int) (rows, cols int) {
	step := windowSize - overlap
	rows = (height-windowSize)/step + 1
	cols = (width-windowSize)/step + 1
	return rows, cols
}

// Partition computes the window-center coordinate grid for a frame of the
// given dimensions. Window centers are spaced windowSize-overlap pixels apart
// starting at windowSize/2, so windows tile the frame respecting the overlap.
// It requires 0 <= overlap < windowSize and windowSize <= min(width, height).
func Partition(width, height, windowSize, overlap int) (*models.Grid, error) {
	if windowSize <= 0 {
		return nil, &models.ConfigError{Reason: fmt.Sprintf("window size must be positive, got %d", windowSize)}
	}
	if overlap < 0 || overlap >= windowSize {
		return nil, &models.ConfigError{
			Reason: fmt.Sprintf("overlap %d must satisfy 0 <= overlap < window size %d", overlap, windowSize),
		}
	}
	if windowSize > width || windowSize > height {
		return nil, &models.ConfigError{
			Reason: fmt.Sprintf("window size %d exceeds frame dimensions %dx%d", windowSize, width, height),
		}
	}

	rows, cols := Shape(width, height, windowSize, overlap)
	step := float64(windowSize - overlap)
	half := float64(windowSize) / 2

	g := &models.Grid{
		X:    make([]float64, cols),
		Y:    make([]float64, rows),
		Rows: rows,
		Cols: cols,
	}
	for j := 0; j < cols; j++ {
		g.X[j] = half + float64(j)*step
	}
	for i := 0; i < rows; i++ {
		g.Y[i] = half + float64(i)*step
	}
	return g, nil
}
