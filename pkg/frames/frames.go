// Package frames loads camera frames from image files and applies the
// pre-processing steps that happen before the displacement pipeline sees
// them: intensity inversion and region-of-interest cropping.
package frames

import (
	"fmt"
	"image"
	_ "image/jpeg"
	_ "image/png"
	"os"

	"pivflow/internal/models"
)

// Load reads a PNG or JPEG image and converts it to a grayscale frame with
// intensities in the 0-1 range. Color images are reduced with the standard
// luminance weights.
func Load(path string) (*models.Frame, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("error opening frame file: %w", err)
	}
	defer f.Close()

	img, _, err := image.Decode(f)
	if err != nil {
		return nil, fmt.Errorf("error decoding frame %s: %w", path, err)
	}

	bounds := img.Bounds()
	frame := models.NewFrame(bounds.Dx(), bounds.Dy())
	for y := bounds.Min.Y; y < bounds.Max.Y; y++ {
		for x := bounds.Min.X; x < bounds.Max.X; x++ {
			r, g, b, _ := img.At(x, y).RGBA()
			// 16-bit channels; luminance normalized to 0-1.
			lum := (0.299*float64(r) + 0.587*float64(g) + 0.114*float64(b)) / 65535.0
			frame.Set(x-bounds.Min.X, y-bounds.Min.Y, lum)
		}
	}
	return frame, nil
}

// Invert flips the intensities of a frame in place: v -> max - v, so dark
// particles on a bright background become bright particles on dark.
func Invert(frame *models.Frame) {
	max := 0.0
	for _, v := range frame.Data {
		if v > max {
			max = v
		}
	}
	for i, v := range frame.Data {
		frame.Data[i] = max - v
	}
}

// CropROI returns the frame restricted to the given pixel margins. Zero
// margins on every side return an untouched copy. Margins that leave no
// pixels are rejected.
func CropROI(frame *models.Frame, top, bottom, left, right int) (*models.Frame, error) {
	if top < 0 || bottom < 0 || left < 0 || right < 0 {
		return nil, &models.ConfigError{Reason: "crop margins must not be negative"}
	}
	width := frame.Width - left - right
	height := frame.Height - top - bottom
	if width <= 0 || height <= 0 {
		return nil, &models.ConfigError{
			Reason: fmt.Sprintf("crop margins leave a %dx%d frame", width, height),
		}
	}

	out := models.NewFrame(width, height)
	for y := 0; y < height; y++ {
		for x := 0; x < width; x++ {
			out.Set(x, y, frame.At(x+left, y+top))
		}
	}
	return out, nil
}
