package mask

import (
	"testing"

	"pivflow/internal/models"
	"pivflow/pkg/grid"
)

func makeFrame(width, height int, fill float64) *models.Frame {
	f := models.NewFrame(width, height)
	for i := range f.Data {
		f.Data[i] = fill
	}
	return f
}

// TestBuildNoMasking verifies that Build returns a nil pixel mask and
// untouched copies when no masking is requested.
func TestBuildNoMasking(t *testing.T) {
	a := makeFrame(16, 16, 0.5)
	b := makeFrame(16, 16, 0.25)

	ma, mb, pixelMask, err := Build(a, b, nil, nil)
	if err != nil {
		t.Fatalf("Build failed: %v", err)
	}
	if pixelMask != nil {
		t.Error("expected nil pixel mask when no masking requested")
	}
	for i := range ma.Data {
		if ma.Data[i] != 0.5 || mb.Data[i] != 0.25 {
			t.Fatalf("frames modified without masking at %d", i)
		}
	}

	// The returned frames must be copies.
	ma.Data[0] = 9
	if a.Data[0] == 9 {
		t.Error("Build returned the original frame instead of a copy")
	}
}

// TestBuildStaticMask verifies that statically masked pixels are zeroed in
// both frames.
func TestBuildStaticMask(t *testing.T) {
	a := makeFrame(16, 16, 1.0)
	b := makeFrame(16, 16, 1.0)

	static := make([]bool, 16*16)
	for y := 4; y < 8; y++ {
		for x := 4; x < 8; x++ {
			static[y*16+x] = true
		}
	}

	ma, mb, pixelMask, err := Build(a, b, static, nil)
	if err != nil {
		t.Fatalf("Build failed: %v", err)
	}
	if pixelMask == nil {
		t.Fatal("expected a pixel mask")
	}

	for y := 0; y < 16; y++ {
		for x := 0; x < 16; x++ {
			idx := y*16 + x
			inSquare := x >= 4 && x < 8 && y >= 4 && y < 8
			if inSquare {
				if ma.Data[idx] != 0 || mb.Data[idx] != 0 {
					t.Fatalf("masked pixel (%d,%d) not zeroed", x, y)
				}
				if !pixelMask[idx] {
					t.Fatalf("pixel mask missing at (%d,%d)", x, y)
				}
			} else if ma.Data[idx] != 1.0 {
				t.Fatalf("unmasked pixel (%d,%d) modified", x, y)
			}
		}
	}
}

// TestBuildDynamicMask verifies that bright regions are excluded by the
// intensity threshold and combined with the static mask by logical OR.
func TestBuildDynamicMask(t *testing.T) {
	a := makeFrame(32, 32, 0.1)
	b := makeFrame(32, 32, 0.1)

	// Bright block that should exceed the threshold after smoothing.
	for y := 20; y < 28; y++ {
		for x := 20; x < 28; x++ {
			a.Set(x, y, 1.0)
		}
	}

	static := make([]bool, 32*32)
	static[0] = true

	_, _, pixelMask, err := Build(a, b, static, &DynamicConfig{Threshold: 0.5, FilterSize: 1})
	if err != nil {
		t.Fatalf("Build failed: %v", err)
	}

	if !pixelMask[0] {
		t.Error("static mask entry lost in combination")
	}
	if !pixelMask[24*32+24] {
		t.Error("bright region center not masked dynamically")
	}
	if pixelMask[5*32+5] {
		t.Error("dim region masked unexpectedly")
	}
}

// TestProjectToGrid verifies that grid points inside a masked block are
// flagged and points far away are not.
func TestProjectToGrid(t *testing.T) {
	width, height := 128, 128
	g, err := grid.Partition(width, height, 32, 16)
	if err != nil {
		t.Fatalf("Partition failed: %v", err)
	}

	pixelMask := make([]bool, width*height)
	for y := 40; y < 90; y++ {
		for x := 40; x < 90; x++ {
			pixelMask[y*width+x] = true
		}
	}

	gridMask := ProjectToGrid(pixelMask, g, 32, width, height)

	flagged := 0
	for i := 0; i < g.Rows; i++ {
		for j := 0; j < g.Cols; j++ {
			cx, cy := int(g.X[j]), int(g.Y[i])
			inside := cx >= 40 && cx < 90 && cy >= 40 && cy < 90
			idx := i*g.Cols + j
			if inside && !gridMask[idx] {
				t.Errorf("grid point (%d,%d) inside mask not flagged", cx, cy)
			}
			if gridMask[idx] {
				flagged++
			}
		}
	}
	if flagged == 0 {
		t.Fatal("no grid points flagged")
	}
	if flagged == g.NumPoints() {
		t.Fatal("entire grid flagged; projection too aggressive")
	}
}

// TestProjectToGridNilMask verifies the all-clear result for a nil mask.
func TestProjectToGridNilMask(t *testing.T) {
	g, err := grid.Partition(64, 64, 16, 8)
	if err != nil {
		t.Fatalf("Partition failed: %v", err)
	}
	gridMask := ProjectToGrid(nil, g, 16, 64, 64)
	for i, m := range gridMask {
		if m {
			t.Fatalf("nil pixel mask produced flagged grid point %d", i)
		}
	}
}

// TestApplyToField verifies that masked grid points are invalidated and
// zeroed in the field.
func TestApplyToField(t *testing.T) {
	fld := models.NewField(2, 2)
	fld.U[0], fld.V[0] = 3, 4
	fld.U[3], fld.V[3] = 1, 1

	ApplyToField(fld, []bool{true, false, false, false})

	if fld.Valid[0] {
		t.Error("masked entry still valid")
	}
	if fld.U[0] != 0 || fld.V[0] != 0 {
		t.Error("masked entry displacement not zeroed")
	}
	if !fld.Valid[3] || fld.U[3] != 1 {
		t.Error("unmasked entry modified")
	}
}
