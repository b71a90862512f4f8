package pipeline

import (
	"errors"
	"math"
	"math/rand"
	"testing"

	"pivflow/internal/models"
	"pivflow/pkg/grid"
)

// particlePair renders synthetic Gaussian particle frames where the second
// frame is the first shifted by (du, dv).
func particlePair(size int, rng *rand.Rand, du, dv float64) (*models.Frame, *models.Frame) {
	a := models.NewFrame(size, size)
	b := models.NewFrame(size, size)

	numParticles := size * size / 64
	for p := 0; p < numParticles; p++ {
		px := rng.Float64() * float64(size)
		py := rng.Float64() * float64(size)
		addParticle(a, px, py)
		addParticle(b, px+du, py+dv)
	}
	return a, b
}

func addParticle(f *models.Frame, px, py float64) {
	const sigma = 1.2
	for y := int(py) - 4; y <= int(py)+4; y++ {
		if y < 0 || y >= f.Height {
			continue
		}
		for x := int(px) - 4; x <= int(px)+4; x++ {
			if x < 0 || x >= f.Width {
				continue
			}
			dx := float64(x) - px
			dy := float64(y) - py
			f.Data[y*f.Width+x] += math.Exp(-(dx*dx + dy*dy) / (2 * sigma * sigma))
		}
	}
}

func twoPassConfig(method models.DeformMethod) []models.PassConfig {
	return []models.PassConfig{
		{
			WindowSize: 64, Overlap: 32, Method: method,
			FieldOrder: 1, ResampleOrder: 1,
			Validation: models.ValidationLocalMedian, Threshold: 2,
			ReplaceKernel: 1, ReplaceIterations: 2,
		},
		{
			WindowSize: 32, Overlap: 16, Method: method,
			FieldOrder: 1, ResampleOrder: 1,
			Validation: models.ValidationLocalMedian, Threshold: 2,
			ReplaceKernel: 1, ReplaceIterations: 2,
		},
	}
}

// TestRunUniformShift drives the full two-pass pipeline over a synthetic
// uniform shift with both deformation methods and checks the recovered field
// at the final grid resolution.
func TestRunUniformShift(t *testing.T) {
	for _, tc := range []struct {
		name   string
		method models.DeformMethod
	}{
		{"symmetric", models.DeformSymmetric},
		{"second image", models.DeformSecondImage},
	} {
		t.Run(tc.name, func(t *testing.T) {
			rng := rand.New(rand.NewSource(11))
			frameA, frameB := particlePair(256, rng, 4, 2)

			p, err := New(twoPassConfig(tc.method))
			if err != nil {
				t.Fatalf("New failed: %v", err)
			}
			res, err := p.Run(frameA, frameB)
			if err != nil {
				t.Fatalf("Run failed: %v", err)
			}

			if res.Grid.Rows != 15 || res.Grid.Cols != 15 {
				t.Fatalf("final grid %dx%d, want 15x15", res.Grid.Rows, res.Grid.Cols)
			}

			good := 0
			for i := range res.U {
				if !res.Valid[i] {
					continue
				}
				if math.Abs(res.U[i]-4) < 0.5 && math.Abs(res.V[i]-2) < 0.5 {
					good++
				}
			}
			if float64(good) < 0.8*float64(len(res.U)) {
				t.Errorf("only %d/%d grid points recovered the shift", good, len(res.U))
			}
		})
	}
}

// TestRunFinalResolutionFromLastPass verifies that the result grid depends
// only on the last pass's window parameters.
func TestRunFinalResolutionFromLastPass(t *testing.T) {
	rng := rand.New(rand.NewSource(3))
	frameA, frameB := particlePair(128, rng, 2, 0)

	passes := []models.PassConfig{
		{WindowSize: 64, Overlap: 32, Method: models.DeformSymmetric, FieldOrder: 1, ResampleOrder: 1},
		{WindowSize: 32, Overlap: 8, Method: models.DeformSymmetric, FieldOrder: 1, ResampleOrder: 1},
	}
	p, err := New(passes, WithValidationTiming(ValidateNever))
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}
	res, err := p.Run(frameA, frameB)
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}

	wantRows, wantCols := grid.Shape(128, 128, 32, 8)
	if res.Grid.Rows != wantRows || res.Grid.Cols != wantCols {
		t.Errorf("final grid %dx%d, want %dx%d", res.Grid.Rows, res.Grid.Cols, wantRows, wantCols)
	}
}

// TestNewRejectsBadConfig verifies fail-fast configuration checking.
func TestNewRejectsBadConfig(t *testing.T) {
	cases := []struct {
		name   string
		passes []models.PassConfig
	}{
		{"empty", nil},
		{"overlap too large", []models.PassConfig{{WindowSize: 32, Overlap: 32}}},
		{"unknown method", []models.PassConfig{{WindowSize: 32, Overlap: 16, Method: models.DeformMethod(9)}}},
		{"unknown validation", []models.PassConfig{{WindowSize: 32, Overlap: 16, Validation: models.ValidationMethod(9)}}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := New(tc.passes)
			if err == nil {
				t.Fatal("expected configuration error")
			}
			var cfgErr *models.ConfigError
			if !errors.As(err, &cfgErr) {
				t.Errorf("expected ConfigError, got %T: %v", err, err)
			}
		})
	}
}

// TestRunMaskedRegionInvalid verifies that grid points inside a statically
// masked region come out flagged with zero displacement, whatever the
// correlator reported for them.
func TestRunMaskedRegionInvalid(t *testing.T) {
	rng := rand.New(rand.NewSource(5))
	frameA, frameB := particlePair(128, rng, 3, 0)

	staticMask := make([]bool, 128*128)
	for y := 0; y < 48; y++ {
		for x := 0; x < 48; x++ {
			staticMask[y*128+x] = true
		}
	}

	passes := []models.PassConfig{
		{WindowSize: 32, Overlap: 16, Method: models.DeformSymmetric, FieldOrder: 1, ResampleOrder: 1},
	}
	p, err := New(passes, WithStaticMask(staticMask), WithValidationTiming(ValidateNever))
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}
	res, err := p.Run(frameA, frameB)
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}

	if res.GridMask == nil {
		t.Fatal("masked run returned no grid mask")
	}
	// Grid point (0,0) sits at pixel (16,16), inside the masked block.
	if !res.GridMask[0] {
		t.Fatal("grid point inside the masked region not flagged")
	}
	if res.Valid[0] || res.U[0] != 0 || res.V[0] != 0 {
		t.Errorf("masked grid point carries a value: valid=%v u=%v v=%v", res.Valid[0], res.U[0], res.V[0])
	}

	// A point far from the mask still recovers the shift.
	far := (res.Grid.Rows-1)*res.Grid.Cols + res.Grid.Cols - 1
	if !res.Valid[far] || math.Abs(res.U[far]-3) > 0.5 {
		t.Errorf("unmasked grid point degraded: valid=%v u=%v", res.Valid[far], res.U[far])
	}
}

// TestRunRejectsMismatchedFrames verifies the frame shape contract.
func TestRunRejectsMismatchedFrames(t *testing.T) {
	p, err := New([]models.PassConfig{{WindowSize: 16, Overlap: 8}})
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}
	_, err = p.Run(models.NewFrame(64, 64), models.NewFrame(32, 64))
	if err == nil {
		t.Fatal("expected error for mismatched frames")
	}
	var contractErr *models.ContractError
	if !errors.As(err, &contractErr) {
		t.Errorf("expected ContractError, got %T: %v", err, err)
	}
}

// TestResampleFieldRequiresValidity verifies that a carried field without a
// validity channel is rejected.
func TestResampleFieldRequiresValidity(t *testing.T) {
	src, err := grid.Partition(128, 128, 64, 32)
	if err != nil {
		t.Fatalf("Partition failed: %v", err)
	}
	dst, err := grid.Partition(128, 128, 32, 16)
	if err != nil {
		t.Fatalf("Partition failed: %v", err)
	}

	n := src.NumPoints()
	bare := models.FieldFromArrays(make([]float64, n), make([]float64, n), src.Rows, src.Cols)
	if _, err := ResampleField(src, bare, dst); err == nil {
		t.Fatal("expected error for field without validity channel")
	} else {
		var contractErr *models.ContractError
		if !errors.As(err, &contractErr) {
			t.Errorf("expected ContractError, got %T: %v", err, err)
		}
	}
}

// TestResampleFieldConstant verifies that resampling a constant field onto a
// finer grid reproduces the constant and keeps everything valid.
func TestResampleFieldConstant(t *testing.T) {
	src, _ := grid.Partition(128, 128, 64, 32)
	dst, _ := grid.Partition(128, 128, 32, 16)

	fld := models.NewField(src.Rows, src.Cols)
	for i := range fld.U {
		fld.U[i] = 2.5
		fld.V[i] = -1.5
	}

	out, err := ResampleField(src, fld, dst)
	if err != nil {
		t.Fatalf("ResampleField failed: %v", err)
	}
	for i := range out.U {
		if !out.Valid[i] {
			t.Fatalf("entry %d invalid after resampling a fully valid field", i)
		}
		if math.Abs(out.U[i]-2.5) > 1e-9 || math.Abs(out.V[i]+1.5) > 1e-9 {
			t.Fatalf("entry %d: got (%v,%v), want (2.5,-1.5)", i, out.U[i], out.V[i])
		}
	}
}

// TestResampleFieldSkipsInvalid verifies that an invalid source entry carries
// no weight into the destination.
func TestResampleFieldSkipsInvalid(t *testing.T) {
	src, _ := grid.Partition(128, 128, 64, 32)

	fld := models.NewField(src.Rows, src.Cols)
	for i := range fld.U {
		fld.U[i] = 1
	}
	fld.U[0] = 500
	fld.MarkInvalid(0)

	// Resample onto the same grid: the invalid corner must not leak 500
	// into its surroundings, and the coincident point itself has no valid
	// weight at all.
	out, err := ResampleField(src, fld, src)
	if err != nil {
		t.Fatalf("ResampleField failed: %v", err)
	}
	if out.Valid[0] {
		t.Error("destination point over an invalid source entry came out valid")
	}
	for i := 1; i < len(out.U); i++ {
		if out.Valid[i] && math.Abs(out.U[i]-1) > 1e-9 {
			t.Fatalf("invalid source entry leaked into destination %d: %v", i, out.U[i])
		}
	}
}

type recordingObserver struct {
	passes []int
	shapes [][2]int
}

func (r *recordingObserver) PassCompleted(pass int, g *models.Grid, fld *models.Field, quality []float64) {
	r.passes = append(r.passes, pass)
	r.shapes = append(r.shapes, [2]int{g.Rows, g.Cols})
}

// TestObserverSeesEveryPass verifies observer notification order and shapes.
func TestObserverSeesEveryPass(t *testing.T) {
	rng := rand.New(rand.NewSource(9))
	frameA, frameB := particlePair(128, rng, 1, 1)

	obs := &recordingObserver{}
	passes := []models.PassConfig{
		{WindowSize: 64, Overlap: 32, Method: models.DeformSymmetric, FieldOrder: 1, ResampleOrder: 1},
		{WindowSize: 32, Overlap: 16, Method: models.DeformSymmetric, FieldOrder: 1, ResampleOrder: 1},
	}
	p, err := New(passes, WithObserver(obs), WithValidationTiming(ValidateNever))
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}
	if _, err := p.Run(frameA, frameB); err != nil {
		t.Fatalf("Run failed: %v", err)
	}

	if len(obs.passes) != 2 || obs.passes[0] != 0 || obs.passes[1] != 1 {
		t.Fatalf("observer saw passes %v, want [0 1]", obs.passes)
	}
	if obs.shapes[0] != [2]int{3, 3} || obs.shapes[1] != [2]int{7, 7} {
		t.Errorf("observer saw shapes %v, want [[3 3] [7 7]]", obs.shapes)
	}
}
