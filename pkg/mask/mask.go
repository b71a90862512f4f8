// Package mask builds pixel exclusion masks for an image pair and projects
// them onto interrogation grids. A static mask is supplied by the caller and
// constant for all passes of one pair; a dynamic mask is derived once per pair
// from frame intensity.
package mask

import (
	"fmt"

	"pivflow/internal/models"
)

// DynamicConfig controls per-pair intensity masking. The frame is smoothed
// with a box filter of FilterSize, and pixels whose smoothed intensity
// exceeds Threshold are masked.
type DynamicConfig struct {
	Threshold  float64
	FilterSize int
}

// Build applies static and dynamic masking to a frame pair. Masked pixels
// are zeroed in copies of both frames; the originals are untouched. The
// returned pixel mask is nil when neither kind of masking was requested.
func Build(frameA, frameB *models.Frame, static []bool, dyn *DynamicConfig) (*models.Frame, *models.Frame, []bool, error) {
	if frameA.Width != frameB.Width || frameA.Height != frameB.Height {
		return nil, nil, nil, fmt.Errorf("frame shapes differ: %dx%d vs %dx%d",
			frameA.Width, frameA.Height, frameB.Width, frameB.Height)
	}
	n := frameA.Width * frameA.Height
	if static != nil && len(static) != n {
		return nil, nil, nil, fmt.Errorf("static mask length %d does not match frame size %d", len(static), n)
	}

	a := frameA.Clone()
	b := frameB.Clone()

	if static == nil && dyn == nil {
		return a, b, nil, nil
	}

	pixelMask := make([]bool, n)
	if static != nil {
		copy(pixelMask, static)
	}

	if dyn != nil {
		dynMask := intensityMask(frameA, dyn)
		for i, m := range dynMask {
			pixelMask[i] = pixelMask[i] || m
		}
	}

	for i, m := range pixelMask {
		if m {
			a.Data[i] = 0
			b.Data[i] = 0
		}
	}
	return a, b, pixelMask, nil
}

// intensityMask thresholds a box-smoothed copy of the frame. Bright regions
// such as reflecting surfaces or wall intersections exceed the threshold and
// are excluded from correlation.
func intensityMask(frame *models.Frame, dyn *DynamicConfig) []bool {
	size := dyn.FilterSize
	if size < 1 {
		size = 1
	}
	smoothed := boxFilter(frame.Data, frame.Width, frame.Height, size)

	out := make([]bool, len(smoothed))
	for i, v := range smoothed {
		out[i] = v > dyn.Threshold
	}
	return out
}

// boxFilter smooths data with a (2*radius+1) square mean kernel, clamping at
// the frame borders.
func boxFilter(data []float64, width, height, radius int) []float64 {
	out := make([]float64, len(data))
	for y := 0; y < height; y++ {
		for x := 0; x < width; x++ {
			sum := 0.0
			count := 0
			for dy := -radius; dy <= radius; dy++ {
				ny := y + dy
				if ny < 0 || ny >= height {
					continue
				}
				for dx := -radius; dx <= radius; dx++ {
					nx := x + dx
					if nx < 0 || nx >= width {
						continue
					}
					sum += data[ny*width+nx]
					count++
				}
			}
			out[y*width+x] = sum / float64(count)
		}
	}
	return out
}

// ProjectToGrid derives a grid-level mask from a pixel mask: a grid point is
// masked when the center region of its window contains masked pixels. A nil
// pixel mask yields an all-clear grid mask.
func ProjectToGrid(pixelMask []bool, g *models.Grid, windowSize int, frameWidth, frameHeight int) []bool {
	gridMask := make([]bool, g.NumPoints())
	if pixelMask == nil {
		return gridMask
	}

	// Inspect the quarter-window neighborhood around each center so thin
	// mask boundaries do not flip every adjacent window.
	radius := windowSize / 4
	if radius < 1 {
		radius = 1
	}

	for i := 0; i < g.Rows; i++ {
		cy := int(g.Y[i])
		for j := 0; j < g.Cols; j++ {
			cx := int(g.X[j])
			if regionMasked(pixelMask, frameWidth, frameHeight, cx, cy, radius) {
				gridMask[i*g.Cols+j] = true
			}
		}
	}
	return gridMask
}

// regionMasked reports whether the center pixel of the region is masked, or
// the region is dominated by masked pixels.
func regionMasked(pixelMask []bool, width, height, cx, cy, radius int) bool {
	if cy >= 0 && cy < height && cx >= 0 && cx < width && pixelMask[cy*width+cx] {
		return true
	}

	masked := 0
	total := 0
	for y := cy - radius; y <= cy+radius; y++ {
		if y < 0 || y >= height {
			continue
		}
		for x := cx - radius; x <= cx+radius; x++ {
			if x < 0 || x >= width {
				continue
			}
			total++
			if pixelMask[y*width+x] {
				masked++
			}
		}
	}
	return total > 0 && masked*2 > total
}

// ApplyToField flags field entries whose grid point is masked and zeroes
// their displacement, so masked regions carry no spurious motion into the
// next pass's deformation.
func ApplyToField(fld *models.Field, gridMask []bool) {
	if gridMask == nil || fld.Valid == nil {
		return
	}
	for i, m := range gridMask {
		if m {
			fld.U[i] = 0
			fld.V[i] = 0
			fld.Valid[i] = false
		}
	}
}
