// Package correlate estimates per-window displacement by FFT cross
// correlation with sub-pixel Gaussian peak fitting. It provides the default
// Correlator used by the multipass pipeline; any other estimator satisfying
// the same contract can be substituted.
package correlate

import (
	"fmt"
	"math"
	"runtime"
	"sync"

	"pivflow/internal/models"
)

// Stack is a batch of equally sized square interrogation windows extracted
// from one frame, stored back to back in row-major order.
type Stack struct {
	// Data holds Count windows of Size*Size pixels each
	Data []float64

	// Size is the window side length in pixels
	Size int

	// Count is the number of windows in the stack
	Count int
}

// Window returns the k-th window of the stack.
func (s *Stack) Window(k int) []float64 {
	n := s.Size * s.Size
	return s.Data[k*n : (k+1)*n]
}

// ExtractWindows cuts the interrogation windows centered on the grid points
// out of a frame. Windows near the frame border are clamped pixel-wise, which
// only matters for grids produced with mismatched parameters.
func ExtractWindows(frame *models.Frame, g *models.Grid, windowSize int) *Stack {
	half := windowSize / 2
	stack := &Stack{
		Data:  make([]float64, g.NumPoints()*windowSize*windowSize),
		Size:  windowSize,
		Count: g.NumPoints(),
	}

	k := 0
	for i := 0; i < g.Rows; i++ {
		y0 := int(g.Y[i]) - half
		for j := 0; j < g.Cols; j++ {
			x0 := int(g.X[j]) - half
			win := stack.Window(k)
			for wy := 0; wy < windowSize; wy++ {
				sy := y0 + wy
				if sy < 0 {
					sy = 0
				} else if sy >= frame.Height {
					sy = frame.Height - 1
				}
				for wx := 0; wx < windowSize; wx++ {
					sx := x0 + wx
					if sx < 0 {
						sx = 0
					} else if sx >= frame.Width {
						sx = frame.Width - 1
					}
					win[wy*windowSize+wx] = frame.Data[sy*frame.Width+sx]
				}
			}
			k++
		}
	}
	return stack
}

// FFTCorrelator estimates window displacements via circular FFT cross
// correlation. Windows containing only masked (zeroed) pixels produce a zero
// displacement with zero quality instead of an error.
type FFTCorrelator struct {
	// Workers bounds the number of goroutines used per batch; zero or
	// negative selects runtime.NumCPU()
	Workers int
}

// Correlate processes two window stacks pairwise and returns the displacement
// components and a signal-to-noise quality score per window. Windows are
// partitioned into disjoint index ranges across workers, so the result does
// not depend on scheduling.
func (c *FFTCorrelator) Correlate(stackA, stackB *Stack) ([]float64, []float64, []float64, error) {
	if stackA.Size != stackB.Size || stackA.Count != stackB.Count {
		return nil, nil, nil, fmt.Errorf("window stacks differ: %dx%d vs %dx%d windows",
			stackA.Count, stackA.Size, stackB.Count, stackB.Size)
	}

	count := stackA.Count
	du := make([]float64, count)
	dv := make([]float64, count)
	quality := make([]float64, count)

	workers := c.Workers
	if workers <= 0 {
		workers = runtime.NumCPU()
	}
	if workers > count {
		workers = count
	}
	if workers < 1 {
		workers = 1
	}

	perWorker := (count + workers - 1) / workers
	var wg sync.WaitGroup
	for w := 0; w < workers; w++ {
		start := w * perWorker
		end := start + perWorker
		if end > count {
			end = count
		}
		if start >= end {
			continue
		}

		wg.Add(1)
		go func(start, end int) {
			defer wg.Done()
			for k := start; k < end; k++ {
				du[k], dv[k], quality[k] = correlateWindow(stackA.Window(k), stackB.Window(k), stackA.Size)
			}
		}(start, end)
	}
	wg.Wait()

	return du, dv, quality, nil
}

// correlateWindow estimates the displacement of window b relative to window a.
func correlateWindow(a, b []float64, size int) (du, dv, quality float64) {
	an, aFlat := normalize(a)
	bn, bFlat := normalize(b)
	if aFlat || bFlat {
		// A fully masked or featureless window carries no signal.
		return 0, 0, 0
	}

	corr := crossCorrelate(an, bn, size)

	peakIdx := 0
	peakVal := corr[0]
	for i, v := range corr {
		if v > peakVal {
			peakVal = v
			peakIdx = i
		}
	}
	if peakVal <= 0 {
		return 0, 0, 0
	}

	peakRow := peakIdx / size
	peakCol := peakIdx % size

	// Sub-pixel refinement on the circular neighborhood of the peak.
	subCol := subpixelOffset(
		corr[peakRow*size+mod(peakCol-1, size)],
		peakVal,
		corr[peakRow*size+mod(peakCol+1, size)],
	)
	subRow := subpixelOffset(
		corr[mod(peakRow-1, size)*size+peakCol],
		peakVal,
		corr[mod(peakRow+1, size)*size+peakCol],
	)

	du = unwrap(peakCol, size) + subCol
	dv = unwrap(peakRow, size) + subRow
	quality = signalToNoise(corr, peakIdx, size)
	return du, dv, quality
}

// normalize returns a mean-subtracted copy of the window and whether the
// window carried any variation at all.
func normalize(win []float64) ([]float64, bool) {
	mean := 0.0
	for _, v := range win {
		mean += v
	}
	mean /= float64(len(win))

	out := make([]float64, len(win))
	flat := true
	for i, v := range win {
		out[i] = v - mean
		if out[i] != 0 {
			flat = false
		}
	}
	return out, flat
}

// unwrap converts a circular correlation index into a signed displacement.
func unwrap(idx, size int) float64 {
	if idx > size/2 {
		return float64(idx - size)
	}
	return float64(idx)
}

func mod(i, n int) int {
	i %= n
	if i < 0 {
		i += n
	}
	return i
}

// subpixelOffset refines the peak location from the three samples across it.
// A three-point Gaussian fit is used when all samples are positive, falling
// back to a parabolic fit otherwise.
func subpixelOffset(left, center, right float64) float64 {
	if left > 0 && center > 0 && right > 0 {
		num := math.Log(left) - math.Log(right)
		den := 2*math.Log(left) - 4*math.Log(center) + 2*math.Log(right)
		if den != 0 {
			off := num / den
			if math.Abs(off) < 1 {
				return off
			}
		}
	}

	den := 2 * (left - 2*center + right)
	if den != 0 {
		off := (left - right) / den
		if math.Abs(off) < 1 {
			return off
		}
	}
	return 0
}

// signalToNoise is the peak-to-mean ratio: the correlation peak divided by
// the mean magnitude of the plane outside the immediate peak neighborhood.
func signalToNoise(corr []float64, peakIdx, size int) float64 {
	peakRow := peakIdx / size
	peakCol := peakIdx % size

	sum := 0.0
	count := 0
	for i, v := range corr {
		row := i / size
		col := i % size
		dr := mod(row-peakRow+size/2, size) - size/2
		dc := mod(col-peakCol+size/2, size) - size/2
		if dr >= -1 && dr <= 1 && dc >= -1 && dc <= 1 {
			continue
		}
		sum += math.Abs(v)
		count++
	}
	if count == 0 {
		return 0
	}
	mean := sum / float64(count)
	if mean == 0 {
		return 0
	}
	return corr[peakIdx] / mean
}
