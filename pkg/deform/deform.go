// Package deform resamples (warps) a frame pair using a dense deformation
// field, producing the deformed pair correlated in the next pass.
package deform

import (
	"fmt"
	"math"

	"pivflow/internal/models"
)

// Deform warps the frame pair according to the dense field and the selected
// method. With DeformSecondImage only frameB is resampled by the full field;
// with DeformSymmetric each frame is resampled by half the field in opposite
// directions so the next correlation measures residual motion around the
// midpoint. Sampling undoes the displacement: content that moved by +u is
// brought back by reading the source at +u, shifting it by -u in the output.
// An unrecognized method fails before any resampling happens.
func Deform(frameA, frameB *models.Frame, def *models.Deformation, method models.DeformMethod, order int) (*models.Frame, *models.Frame, error) {
	if def.Width != frameA.Width || def.Height != frameA.Height {
		return nil, nil, fmt.Errorf("deformation shape %dx%d does not match frame %dx%d",
			def.Width, def.Height, frameA.Width, frameA.Height)
	}

	switch method {
	case DeformSecondImage:
		outB := resample(frameB, def.Ut, def.Vt, 1.0, order)
		return frameA.Clone(), outB, nil
	case DeformSymmetric:
		outA := resample(frameA, def.Ut, def.Vt, -0.5, order)
		outB := resample(frameB, def.Ut, def.Vt, 0.5, order)
		return outA, outB, nil
	default:
		return nil, nil, &models.ConfigError{
			Reason: fmt.Sprintf("deformation method is not valid: %v", method),
		}
	}
}

// Local aliases keep the switch above readable.
const (
	DeformSymmetric   = models.DeformSymmetric
	DeformSecondImage = models.DeformSecondImage
)

// resample builds a new frame whose pixel (x, y) is the source frame sampled
// at (x + scale*ut, y + scale*vt).
func resample(frame *models.Frame, ut, vt []float64, scale float64, order int) *models.Frame {
	out := models.NewFrame(frame.Width, frame.Height)
	for y := 0; y < frame.Height; y++ {
		for x := 0; x < frame.Width; x++ {
			idx := y*frame.Width + x
			sx := float64(x) + scale*ut[idx]
			sy := float64(y) + scale*vt[idx]
			out.Data[idx] = Sample(frame, sx, sy, order)
		}
	}
	return out
}

// Sample reads the frame at a fractional coordinate with the requested
// interpolation order: 0 nearest neighbor, 1 bilinear, >= 2 Catmull-Rom
// bicubic. Coordinates are clamped to the frame.
func Sample(frame *models.Frame, x, y float64, order int) float64 {
	switch {
	case order <= 0:
		return sampleNearest(frame, x, y)
	case order == 1:
		return sampleBilinear(frame, x, y)
	default:
		return sampleBicubic(frame, x, y)
	}
}

func clampInt(v, lo, hi int) int {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

func sampleNearest(frame *models.Frame, x, y float64) float64 {
	xi := clampInt(int(math.Round(x)), 0, frame.Width-1)
	yi := clampInt(int(math.Round(y)), 0, frame.Height-1)
	return frame.Data[yi*frame.Width+xi]
}

func sampleBilinear(frame *models.Frame, x, y float64) float64 {
	x0 := int(math.Floor(x))
	y0 := int(math.Floor(y))
	fx := x - float64(x0)
	fy := y - float64(y0)

	x0c := clampInt(x0, 0, frame.Width-1)
	x1c := clampInt(x0+1, 0, frame.Width-1)
	y0c := clampInt(y0, 0, frame.Height-1)
	y1c := clampInt(y0+1, 0, frame.Height-1)

	top := (1-fx)*frame.Data[y0c*frame.Width+x0c] + fx*frame.Data[y0c*frame.Width+x1c]
	bottom := (1-fx)*frame.Data[y1c*frame.Width+x0c] + fx*frame.Data[y1c*frame.Width+x1c]
	return (1-fy)*top + fy*bottom
}

// catmullRom evaluates the Catmull-Rom cubic through p0..p3 at t in [0,1].
func catmullRom(p0, p1, p2, p3, t float64) float64 {
	return p1 + 0.5*t*(p2-p0+t*(2*p0-5*p1+4*p2-p3+t*(3*(p1-p2)+p3-p0)))
}

func sampleBicubic(frame *models.Frame, x, y float64) float64 {
	x1 := int(math.Floor(x))
	y1 := int(math.Floor(y))
	fx := x - float64(x1)
	fy := y - float64(y1)

	var rows [4]float64
	for i := 0; i < 4; i++ {
		yi := clampInt(y1-1+i, 0, frame.Height-1)
		var p [4]float64
		for j := 0; j < 4; j++ {
			xi := clampInt(x1-1+j, 0, frame.Width-1)
			p[j] = frame.Data[yi*frame.Width+xi]
		}
		rows[i] = catmullRom(p[0], p[1], p[2], p[3], fx)
	}
	return catmullRom(rows[0], rows[1], rows[2], rows[3], fy)
}
